package capture

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GeoAziz/netverse-engine/internal/log"
	"github.com/GeoAziz/netverse-engine/internal/metrics"
)

// State is one phase of the capture session lifecycle.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

var (
	// ErrAlreadyRunning is returned by Start when a session is active.
	ErrAlreadyRunning = errors.New("capture already running")
	// ErrNotRunning is returned by Stop when no session is active.
	ErrNotRunning = errors.New("capture not running")
)

// DefaultFrameBuffer is the capacity of the frame channel feeding the
// pipeline.
const DefaultFrameBuffer = 1024

// Frame is one raw frame with its capture timestamp.
type Frame struct {
	Data       []byte
	CapturedAt time.Time
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	State     State     `json:"state"`
	Device    string    `json:"device,omitempty"`
	Engine    Engine    `json:"engine,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Packets   uint64    `json:"packets_captured"`
	LastError string    `json:"last_error,omitempty"`
}

// Controller runs at most one capture session at a time. Start and Stop are
// idempotent in the sense that calling them in the wrong state fails with a
// sentinel error and changes nothing. The frame channel survives across
// sessions so the pipeline keeps one receive loop for the process lifetime.
type Controller struct {
	mu        sync.Mutex
	state     State
	cfg       SourceConfig
	source    FrameSource
	stop      chan struct{}
	done      chan struct{}
	startedAt time.Time
	packets   atomic.Uint64
	lastErr   error

	frames chan Frame

	openSource func(SourceConfig) (FrameSource, error)
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithSourceOpener replaces how the controller opens frame sources, for
// alternative backends and for tests that must not touch real devices.
func WithSourceOpener(open func(SourceConfig) (FrameSource, error)) ControllerOption {
	return func(c *Controller) { c.openSource = open }
}

// NewController creates an idle controller.
func NewController(frameBuffer int, opts ...ControllerOption) *Controller {
	if frameBuffer <= 0 {
		frameBuffer = DefaultFrameBuffer
	}
	c := &Controller{
		state:      StateIdle,
		frames:     make(chan Frame, frameBuffer),
		openSource: OpenSource,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Frames is the channel raw frames are delivered on.
func (c *Controller) Frames() <-chan Frame { return c.frames }

// Start opens the source and launches the read loop.
func (c *Controller) Start(cfg SourceConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return ErrAlreadyRunning
	}
	c.state = StateStarting

	source, err := c.openSource(cfg)
	if err != nil {
		c.state = StateIdle
		c.lastErr = err
		return err
	}

	cfg.applyDefaults()
	c.cfg = cfg
	c.source = source
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.startedAt = time.Now()
	c.packets.Store(0)
	c.lastErr = nil
	c.state = StateRunning

	log.GetLogger().Infof("capture started on %s (engine=%s, filter=%q)", cfg.Device, cfg.Engine, cfg.BPFFilter)
	go c.readLoop(source, c.stop, c.done, cfg.Device)
	return nil
}

// Stop signals the read loop and waits for it to drain out.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.state = StateStopping
	close(c.stop)
	done := c.done
	c.mu.Unlock()

	<-done

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeSourceLocked()
	c.state = StateIdle
	log.GetLogger().Infof("capture stopped on %s", c.cfg.Device)
	return nil
}

// Status reports the current session state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{State: c.state, Packets: c.packets.Load()}
	if c.state == StateRunning || c.state == StateStopping {
		st.Device = c.cfg.Device
		st.Engine = c.cfg.Engine
		st.StartedAt = c.startedAt
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

func (c *Controller) readLoop(source FrameSource, stop, done chan struct{}, device string) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		default:
		}

		data, ci, err := source.ReadPacket()
		if errors.Is(err, ErrReadTimeout) {
			continue
		}
		if err != nil {
			// Fatal read error, tear the session down.
			c.failSession(err)
			return
		}

		// The source may reuse its buffer on the next read.
		frame := Frame{Data: append([]byte(nil), data...), CapturedAt: ci.Timestamp}
		if frame.CapturedAt.IsZero() {
			frame.CapturedAt = time.Now()
		}

		select {
		case c.frames <- frame:
			metrics.CapturePacketsTotal.WithLabelValues(device).Inc()
			c.packets.Add(1)
		case <-stop:
			return
		}
	}
}

// failSession is called from the read loop when the source dies underneath
// an active session, for example when the interface goes away.
func (c *Controller) failSession(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log.GetLogger().Errorf("capture on %s failed: %v", c.cfg.Device, err)
	c.lastErr = err
	if c.state == StateRunning {
		c.closeSourceLocked()
		c.state = StateIdle
	}
}

func (c *Controller) closeSourceLocked() {
	if c.source != nil {
		if err := c.source.Close(); err != nil {
			log.GetLogger().Warnf("close capture source: %v", err)
		}
		c.source = nil
	}
}
