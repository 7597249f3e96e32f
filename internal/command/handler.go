// Package command implements the local control plane: a JSON-RPC channel
// over a unix domain socket through which the CLI drives the running
// daemon.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/GeoAziz/netverse-engine/internal/capture"
	"github.com/GeoAziz/netverse-engine/internal/log"
	"github.com/GeoAziz/netverse-engine/internal/packet"
	"github.com/GeoAziz/netverse-engine/internal/sink"
)

// Pipeline is the slice of the engine the control plane needs.
type Pipeline interface {
	CaptureStart(cfg capture.SourceConfig) error
	CaptureStop() error
	CaptureStatus() capture.Status
	QueryLogs(ctx context.Context, filter sink.QueryFilter) ([]*packet.Record, error)
	Summarize(ctx context.Context, hours int) (*sink.Summary, error)
	StatusSnapshot() map[string]interface{}
}

// Handler routes control plane commands to the pipeline.
type Handler struct {
	pipeline     Pipeline
	shutdownFunc func()
	startTime    time.Time
}

// NewHandler creates a command handler over the pipeline.
func NewHandler(p Pipeline) *Handler {
	return &Handler{pipeline: p, startTime: time.Now()}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *Handler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command is one control plane request.
type Command struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"`
}

// Response is the reply to one Command.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo carries a failed command's error.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC error codes, plus domain codes in the application range.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Handle processes a command and returns a response.
func (h *Handler) Handle(ctx context.Context, cmd Command) Response {
	log.GetLogger().Debugf("handling command %s (id=%s)", cmd.Method, cmd.ID)

	switch cmd.Method {
	case "capture_start":
		return h.handleCaptureStart(cmd)
	case "capture_stop":
		return h.handleCaptureStop(cmd)
	case "capture_status":
		return h.handleCaptureStatus(cmd)
	case "query_logs":
		return h.handleQueryLogs(ctx, cmd)
	case "summarize":
		return h.handleSummarize(ctx, cmd)
	case "daemon_status":
		return h.handleDaemonStatus(cmd)
	case "daemon_shutdown":
		return h.handleDaemonShutdown(cmd)
	default:
		return errResponse(cmd.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}
}

// CaptureStartParams parameterizes capture_start.
type CaptureStartParams struct {
	capture.SourceConfig
}

func (h *Handler) handleCaptureStart(cmd Command) Response {
	var params CaptureStartParams
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &params); err != nil {
			return errResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		}
	}

	// Starting while a session is active is a no-op, not a failure.
	if err := h.pipeline.CaptureStart(params.SourceConfig); err != nil {
		if errors.Is(err, capture.ErrAlreadyRunning) {
			return Response{ID: cmd.ID, Result: map[string]interface{}{
				"status": "already_running",
				"device": h.pipeline.CaptureStatus().Device,
			}}
		}
		return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("start capture: %v", err))
	}

	return Response{ID: cmd.ID, Result: map[string]interface{}{
		"status": "starting",
		"device": h.pipeline.CaptureStatus().Device,
	}}
}

func (h *Handler) handleCaptureStop(cmd Command) Response {
	if err := h.pipeline.CaptureStop(); err != nil {
		if errors.Is(err, capture.ErrNotRunning) {
			return Response{ID: cmd.ID, Result: map[string]interface{}{"status": "not_running"}}
		}
		return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("stop capture: %v", err))
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{"status": "stopped"}}
}

func (h *Handler) handleCaptureStatus(cmd Command) Response {
	return Response{ID: cmd.ID, Result: h.pipeline.CaptureStatus()}
}

// QueryLogsParams parameterizes query_logs. Times are RFC 3339.
type QueryLogsParams struct {
	Limit     int    `json:"limit,omitempty"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	Protocol  string `json:"protocol,omitempty"`
	SourceIP  string `json:"source_ip,omitempty"`
	DestIP    string `json:"dest_ip,omitempty"`
}

func (h *Handler) handleQueryLogs(ctx context.Context, cmd Command) Response {
	var params QueryLogsParams
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &params); err != nil {
			return errResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		}
	}

	filter := sink.QueryFilter{
		Limit:         params.Limit,
		Protocol:      packet.Protocol(params.Protocol),
		SourceAddress: params.SourceIP,
		DestAddress:   params.DestIP,
	}
	var err error
	if filter.Start, err = parseTimeParam(params.StartTime); err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid start_time: %v", err))
	}
	if filter.End, err = parseTimeParam(params.EndTime); err != nil {
		return errResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid end_time: %v", err))
	}

	recs, err := h.pipeline.QueryLogs(ctx, filter)
	if err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("query logs: %v", err))
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{
		"count":   len(recs),
		"records": recs,
	}}
}

// SummarizeParams parameterizes summarize.
type SummarizeParams struct {
	Hours int `json:"hours,omitempty"`
}

func (h *Handler) handleSummarize(ctx context.Context, cmd Command) Response {
	var params SummarizeParams
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &params); err != nil {
			return errResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		}
	}

	summary, err := h.pipeline.Summarize(ctx, params.Hours)
	if err != nil {
		return errResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("summarize: %v", err))
	}
	return Response{ID: cmd.ID, Result: summary}
}

func (h *Handler) handleDaemonStatus(cmd Command) Response {
	snapshot := h.pipeline.StatusSnapshot()
	snapshot["uptime_seconds"] = int(time.Since(h.startTime).Seconds())
	return Response{ID: cmd.ID, Result: snapshot}
}

func (h *Handler) handleDaemonShutdown(cmd Command) Response {
	if h.shutdownFunc == nil {
		return errResponse(cmd.ID, ErrCodeInternalError, "shutdown not wired")
	}
	// Reply first, then stop; the caller's socket survives long enough to
	// read the response.
	go h.shutdownFunc()
	return Response{ID: cmd.ID, Result: map[string]interface{}{"status": "shutting_down"}}
}

func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func errResponse(id string, code int, msg string) Response {
	return Response{ID: id, Error: &ErrorInfo{Code: code, Message: msg}}
}
