// Package capture owns the capture session lifecycle. A Controller opens a
// frame source on demand, drains it on a dedicated goroutine and hands raw
// frames to the pipeline over a bounded channel.
package capture

import (
	"errors"
	"fmt"

	"github.com/google/gopacket"
)

// Engine selects the capture backend.
type Engine string

const (
	EnginePcap     Engine = "pcap"
	EngineAFPacket Engine = "afpacket"
)

// ErrReadTimeout is returned by FrameSource.ReadPacket when the poll
// interval elapsed without traffic. The read loop uses it to poll the stop
// flag between reads.
var ErrReadTimeout = errors.New("read timed out")

// FrameSource is an open capture handle.
type FrameSource interface {
	// ReadPacket returns the next raw frame. It returns ErrReadTimeout
	// periodically when the link is quiet so callers can check for shutdown.
	ReadPacket() ([]byte, gopacket.CaptureInfo, error)
	Close() error
}

// SourceConfig parameterizes a capture session. It is decoded from the
// configuration file and also travels over the control socket.
type SourceConfig struct {
	Engine       Engine `json:"engine,omitempty" mapstructure:"engine" yaml:"engine"`
	Device       string `json:"device" mapstructure:"device" yaml:"device"`
	SnapLen      int    `json:"snap_len,omitempty" mapstructure:"snap_len" yaml:"snap_len"`
	Promiscuous  bool   `json:"promiscuous,omitempty" mapstructure:"promiscuous" yaml:"promiscuous"`
	TimeoutMs    int    `json:"timeout_ms,omitempty" mapstructure:"timeout_ms" yaml:"timeout_ms"`
	BufferSizeMB int    `json:"buffer_size_mb,omitempty" mapstructure:"buffer_size_mb" yaml:"buffer_size_mb"`
	FanoutID     uint16 `json:"fanout_id,omitempty" mapstructure:"fanout_id" yaml:"fanout_id"`
	BPFFilter    string `json:"bpf_filter,omitempty" mapstructure:"bpf_filter" yaml:"bpf_filter"`
}

// Overlay fills the zero-valued fields of req from c, so a start request
// can name just a device and inherit the rest from configuration.
func (c SourceConfig) Overlay(req SourceConfig) SourceConfig {
	if req.Engine == "" {
		req.Engine = c.Engine
	}
	if req.Device == "" {
		req.Device = c.Device
	}
	if req.SnapLen == 0 {
		req.SnapLen = c.SnapLen
	}
	if req.TimeoutMs == 0 {
		req.TimeoutMs = c.TimeoutMs
	}
	if req.BufferSizeMB == 0 {
		req.BufferSizeMB = c.BufferSizeMB
	}
	if req.FanoutID == 0 {
		req.FanoutID = c.FanoutID
	}
	if req.BPFFilter == "" {
		req.BPFFilter = c.BPFFilter
	}
	req.Promiscuous = req.Promiscuous || c.Promiscuous
	return req
}

func (c *SourceConfig) applyDefaults() {
	if c.Engine == "" {
		c.Engine = EnginePcap
	}
	if c.SnapLen <= 0 {
		c.SnapLen = 65535
	}
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = 500
	}
	if c.BufferSizeMB <= 0 {
		c.BufferSizeMB = 8
	}
}

// OpenSource opens the configured backend. Opening fails when the device
// does not exist or the process lacks capture privileges, and that error is
// surfaced to the caller instead of starting a session.
func OpenSource(cfg SourceConfig) (FrameSource, error) {
	cfg.applyDefaults()
	if cfg.Device == "" {
		return nil, fmt.Errorf("capture device is required")
	}
	switch cfg.Engine {
	case EnginePcap:
		return openPcap(cfg)
	case EngineAFPacket:
		return openAFPacket(cfg)
	default:
		return nil, fmt.Errorf("unknown capture engine %q", cfg.Engine)
	}
}
