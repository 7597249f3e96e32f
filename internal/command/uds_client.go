package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/GeoAziz/netverse-engine/internal/capture"
)

// UDSClient is a JSON-RPC client over a unix domain socket. The CLI uses
// it to drive a running daemon.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a client for the given socket.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &UDSClient{socketPath: socketPath, timeout: timeout}
}

// Call sends one command and waits for its response.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to %s (is the daemon running?): %w", c.socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		paramsJSON = data
	}

	reqID := fmt.Sprintf("req-%d", time.Now().UnixNano())
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
		ID:      reqID,
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(scanner.Bytes(), &rpcResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	respID := fmt.Sprintf("%v", rpcResp.ID)
	if respID != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, respID)
	}

	return &Response{ID: respID, Result: rpcResp.Result, Error: rpcResp.Error}, nil
}

// CaptureStart asks the daemon to start capturing.
func (c *UDSClient) CaptureStart(ctx context.Context, cfg capture.SourceConfig) (*Response, error) {
	return c.Call(ctx, "capture_start", CaptureStartParams{SourceConfig: cfg})
}

// CaptureStop asks the daemon to stop capturing.
func (c *UDSClient) CaptureStop(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "capture_stop", nil)
}

// CaptureStatus fetches the capture session state.
func (c *UDSClient) CaptureStatus(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "capture_status", nil)
}

// QueryLogs fetches stored records matching the filter.
func (c *UDSClient) QueryLogs(ctx context.Context, params QueryLogsParams) (*Response, error) {
	return c.Call(ctx, "query_logs", params)
}

// Summarize fetches the traffic summary for the lookback window.
func (c *UDSClient) Summarize(ctx context.Context, hours int) (*Response, error) {
	return c.Call(ctx, "summarize", SummarizeParams{Hours: hours})
}

// DaemonStatus fetches the daemon-wide status snapshot.
func (c *UDSClient) DaemonStatus(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "daemon_status", nil)
}

// DaemonShutdown asks the daemon to stop.
func (c *UDSClient) DaemonShutdown(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "daemon_shutdown", nil)
}
