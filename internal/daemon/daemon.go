// Package daemon assembles the engine, control socket, live stream and
// metrics endpoint into one process and manages its lifecycle.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/GeoAziz/netverse-engine/internal/bus"
	"github.com/GeoAziz/netverse-engine/internal/capture"
	"github.com/GeoAziz/netverse-engine/internal/command"
	"github.com/GeoAziz/netverse-engine/internal/config"
	"github.com/GeoAziz/netverse-engine/internal/engine"
	"github.com/GeoAziz/netverse-engine/internal/enrich"
	"github.com/GeoAziz/netverse-engine/internal/log"
	"github.com/GeoAziz/netverse-engine/internal/metrics"
	"github.com/GeoAziz/netverse-engine/internal/sink"
	"github.com/GeoAziz/netverse-engine/internal/stream"
)

// Daemon owns every long-lived component of the process.
type Daemon struct {
	config     *config.Config
	configPath string

	bus           *bus.Bus
	engine        *engine.Engine
	stores        []sink.Store
	streamManager *stream.Manager
	streamServer  *http.Server
	udsServer     *command.UDSServer
	metricsServer *metrics.Server

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
}

// New loads the configuration and creates a stopped daemon.
func New(configPath string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		shutdownChan: make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start brings every component up. On success the daemon is serving the
// control socket and the live stream; capture starts on demand.
func (d *Daemon) Start() error {
	if err := log.Init(d.config.Log); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	logger := log.GetLogger()
	logger.Infof("starting netverse daemon (config=%s, socket=%s)", d.configPath, d.config.Control.Socket)

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	if d.config.Metrics.Enabled {
		d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
		go func() {
			if err := d.metricsServer.Start(d.ctx); err != nil {
				logger.Errorf("metrics server: %v", err)
			}
		}()
	}

	d.bus = bus.New(d.config.Pipeline.QueueSize)
	controller := capture.NewController(d.config.Pipeline.FrameBuffer)

	enricher, err := d.buildEnricher()
	if err != nil {
		return err
	}

	memory := sink.NewMemoryStore(d.config.Pipeline.MemoryCapacity)
	d.stores = []sink.Store{memory}
	if d.config.Influx.Enabled {
		influx, err := sink.NewInfluxStore(d.config.Influx.InfluxConfig)
		if err != nil {
			return fmt.Errorf("connect influxdb: %w", err)
		}
		d.stores = append(d.stores, influx)
		logger.Infof("influxdb store enabled (%s)", d.config.Influx.URL)
	}

	d.engine = engine.New(engine.Options{
		Bus:            d.bus,
		Controller:     controller,
		Enricher:       enricher,
		QueryStore:     memory,
		Stores:         d.stores,
		Workers:        d.config.Pipeline.EnrichWorkers,
		SourceDefaults: d.config.Capture,
	})
	if err := d.engine.Run(d.ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	d.startStream()

	handler := command.NewHandler(d.engine)
	handler.SetShutdownFunc(func() {
		logger.Info("shutdown requested via control socket")
		close(d.shutdownChan)
	})
	d.udsServer = command.NewUDSServer(d.config.Control.Socket, handler)
	go func() {
		if err := d.udsServer.Start(d.ctx); err != nil && err != context.Canceled {
			logger.Errorf("control socket: %v", err)
		}
	}()

	logger.Info("daemon started")
	return nil
}

func (d *Daemon) buildEnricher() (*enrich.Enricher, error) {
	if !d.config.Enrichment.Enabled {
		return nil, nil
	}
	lookup, budget, err := d.config.Enrichment.Timeouts()
	if err != nil {
		return nil, err
	}
	resolvers := enrich.BuildResolvers(d.config.Enrichment.ProviderConfig)
	return enrich.New(resolvers, enrich.WithLookupTimeout(lookup), enrich.WithBudget(budget)), nil
}

func (d *Daemon) startStream() {
	d.streamManager = stream.NewManager(
		d.bus,
		stream.NewTokenValidator(d.config.Stream.Token),
		d.engine.StatusSnapshot,
	)
	go d.streamManager.Run(d.ctx)

	mux := http.NewServeMux()
	mux.Handle(d.config.Stream.Path, d.streamManager)
	d.streamServer = &http.Server{
		Addr:              d.config.Stream.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := d.streamServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.GetLogger().Errorf("stream server: %v", err)
		}
	}()
	log.GetLogger().Infof("live stream listening on %s%s", d.config.Stream.Listen, d.config.Stream.Path)
}

// Stop shuts every component down in dependency order.
func (d *Daemon) Stop() {
	logger := log.GetLogger()
	logger.Info("shutting down")

	// No new control commands.
	if d.udsServer != nil {
		d.udsServer.Stop()
	}

	// Drain the pipeline, then disconnect clients and stores.
	if d.engine != nil {
		d.engine.Shutdown()
	}
	if d.streamManager != nil {
		d.streamManager.CloseAll()
	}
	if d.streamServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		d.streamServer.Shutdown(shutdownCtx)
		cancel()
	}
	for _, store := range d.stores {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := store.Close(closeCtx); err != nil {
			logger.Errorf("close store: %v", err)
		}
		cancel()
	}
	if d.bus != nil {
		d.bus.Close()
	}
	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			logger.Errorf("stop metrics server: %v", err)
		}
		cancel()
	}

	d.cancel()
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}
	d.removePIDFile()
	logger.Info("daemon stopped")
}

// Run blocks until a shutdown signal or a daemon_shutdown command arrives.
// SIGHUP reloads the reloadable configuration sections.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				log.GetLogger().Infof("received %s", sig)
				d.Stop()
				return nil
			case syscall.SIGHUP:
				if err := d.Reload(); err != nil {
					log.GetLogger().Errorf("reload: %v", err)
				}
			}
		case <-d.shutdownChan:
			d.Stop()
			return nil
		case <-d.ctx.Done():
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads the configuration file and applies the hot-reloadable
// sections. Only logging reloads in place; everything else needs a restart.
func (d *Daemon) Reload() error {
	cfg, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	if err := log.Init(cfg.Log); err != nil {
		return fmt.Errorf("reload logging: %w", err)
	}
	d.config.Log = cfg.Log
	log.GetLogger().Info("configuration reloaded (logging only)")
	return nil
}

func (d *Daemon) writePIDFile() error {
	return os.WriteFile(d.config.Control.PIDFile, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func (d *Daemon) removePIDFile() {
	if err := os.Remove(d.config.Control.PIDFile); err != nil && !os.IsNotExist(err) {
		log.GetLogger().Warnf("remove pid file: %v", err)
	}
}
