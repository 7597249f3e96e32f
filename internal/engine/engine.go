// Package engine wires the capture controller, parser, enricher, bus and
// stores into one running pipeline and exposes the control operations the
// command surface calls.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/GeoAziz/netverse-engine/internal/bus"
	"github.com/GeoAziz/netverse-engine/internal/capture"
	"github.com/GeoAziz/netverse-engine/internal/enrich"
	"github.com/GeoAziz/netverse-engine/internal/log"
	"github.com/GeoAziz/netverse-engine/internal/metrics"
	"github.com/GeoAziz/netverse-engine/internal/packet"
	"github.com/GeoAziz/netverse-engine/internal/sink"
)

// DefaultEnrichWorkers is how many records are enriched concurrently.
const DefaultEnrichWorkers = 4

// Options collects the engine's collaborators. QueryStore answers the
// historical query surface; Stores receive every record, and QueryStore is
// typically one of them.
type Options struct {
	Bus        *bus.Bus
	Controller *capture.Controller
	Enricher   *enrich.Enricher
	QueryStore sink.Store
	Stores     []sink.Store
	Workers    int

	// SourceDefaults backfills fields a capture_start request leaves empty.
	SourceDefaults capture.SourceConfig
}

// Engine is the pipeline. One goroutine drains the frame channel and
// parses; a small worker pool enriches and publishes so a slow lookup
// never stalls capture.
type Engine struct {
	bus        *bus.Bus
	controller *capture.Controller
	parser     *packet.Parser
	enricher   *enrich.Enricher
	queryStore sink.Store
	consumer   *sink.Consumer
	workers    int
	defaults   capture.SourceConfig

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	runOnce sync.Once
	startMu sync.Mutex
	stopped chan struct{}
}

// New assembles an engine from its collaborators.
func New(opts Options) *Engine {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultEnrichWorkers
	}
	return &Engine{
		bus:        opts.Bus,
		controller: opts.Controller,
		parser:     packet.NewParser(),
		enricher:   opts.Enricher,
		queryStore: opts.QueryStore,
		consumer:   sink.NewConsumer(opts.Bus, opts.Stores...),
		workers:    workers,
		defaults:   opts.SourceDefaults,
		stopped:    make(chan struct{}),
	}
}

// Run starts the persistence consumer and the pipeline goroutines. It
// returns once they are up; Shutdown tears them down.
func (e *Engine) Run(ctx context.Context) error {
	var err error
	e.runOnce.Do(func() {
		if err = e.consumer.Start(); err != nil {
			return
		}

		ctx, e.cancel = context.WithCancel(ctx)
		parsed := make(chan *packet.Record, e.workers*2)

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer close(parsed)
			e.parseLoop(ctx, parsed)
		}()

		for i := 0; i < e.workers; i++ {
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.enrichLoop(ctx, parsed)
			}()
		}
		log.GetLogger().Infof("engine running with %d enrichment workers", e.workers)
	})
	return err
}

// Shutdown stops capture if active and drains the pipeline. In-flight
// enrichment completes or times out naturally so admitted records are not
// lost.
func (e *Engine) Shutdown() {
	if err := e.controller.Stop(); err != nil && !errors.Is(err, capture.ErrNotRunning) {
		log.GetLogger().Warnf("stop capture during shutdown: %v", err)
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.consumer.Stop()
	close(e.stopped)
}

// Stopped is closed once Shutdown has drained the pipeline.
func (e *Engine) Stopped() <-chan struct{} { return e.stopped }

func (e *Engine) parseLoop(ctx context.Context, parsed chan<- *packet.Record) {
	frames := e.controller.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-frames:
			rec, err := e.parser.Parse(frame.Data, frame.CapturedAt)
			if err != nil {
				metrics.ParseErrorsTotal.Inc()
				log.GetLogger().Debugf("drop malformed frame: %v", err)
				continue
			}
			select {
			case parsed <- rec:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (e *Engine) enrichLoop(ctx context.Context, parsed <-chan *packet.Record) {
	for rec := range parsed {
		if e.enricher != nil {
			e.enricher.Enrich(ctx, rec)
		}
		e.bus.Publish(bus.TopicPackets, rec)
	}
}

// CaptureStart begins a capture session. The record sequence restarts with
// each session. startMu keeps the idle check, the sequence reset and the
// controller start as one step, so a losing racer cannot reset a session
// the winner just opened.
func (e *Engine) CaptureStart(cfg capture.SourceConfig) error {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if e.controller.Status().State != capture.StateIdle {
		return capture.ErrAlreadyRunning
	}
	e.parser.Reset()
	return e.controller.Start(e.defaults.Overlay(cfg))
}

// CaptureStop ends the active capture session.
func (e *Engine) CaptureStop() error {
	return e.controller.Stop()
}

// CaptureStatus reports the capture session state.
func (e *Engine) CaptureStatus() capture.Status {
	return e.controller.Status()
}

// QueryLogs answers the historical query surface from the query store.
func (e *Engine) QueryLogs(ctx context.Context, filter sink.QueryFilter) ([]*packet.Record, error) {
	return e.queryStore.Query(ctx, filter)
}

// Summarize aggregates traffic over the given lookback, expressed in hours
// and clamped to at most seven days.
func (e *Engine) Summarize(ctx context.Context, hours int) (*sink.Summary, error) {
	return e.queryStore.Summarize(ctx, sink.ClampWindow(hours))
}

// StatusSnapshot is the payload pushed to live clients and returned by the
// status operation.
func (e *Engine) StatusSnapshot() map[string]interface{} {
	return map[string]interface{}{
		"capture":           e.CaptureStatus(),
		"records_published": e.bus.Published(),
		"timestamp":         time.Now().UTC(),
	}
}
