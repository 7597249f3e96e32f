package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GeoAziz/netverse-engine/internal/capture"
	"github.com/GeoAziz/netverse-engine/internal/enrich"
	"github.com/GeoAziz/netverse-engine/internal/log"
	"github.com/GeoAziz/netverse-engine/internal/sink"
)

// Default returns the configuration `netverse config init` renders. The
// stream token is deliberately left empty so operators must choose one.
func Default() *Config {
	return &Config{
		Control: ControlConfig{
			Socket:  "/var/run/netverse.sock",
			PIDFile: "/var/run/netverse.pid",
		},
		Capture: capture.SourceConfig{
			Engine:    capture.EnginePcap,
			Device:    "eth0",
			SnapLen:   65535,
			TimeoutMs: 500,
		},
		Pipeline: PipelineConfig{
			EnrichWorkers:  4,
			FrameBuffer:    1024,
			QueueSize:      256,
			MemoryCapacity: 10000,
		},
		Enrichment: EnrichmentConfig{
			Enabled:       true,
			LookupTimeout: "2s",
			Budget:        "3s",
			ProviderConfig: enrich.ProviderConfig{
				GeoURL: "https://ipinfo.io",
			},
		},
		Stream: StreamConfig{
			Listen: ":8765",
			Path:   "/ws",
		},
		Influx: InfluxConfig{
			InfluxConfig: sink.InfluxConfig{
				URL:    "http://localhost:8086",
				Org:    "netverse",
				Bucket: "network_traffic",
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9091",
			Path:    "/metrics",
		},
		Log: log.DefaultConfig(),
	}
}

// Render serializes a configuration to YAML under the `netverse:` root key.
func Render(cfg *Config) ([]byte, error) {
	root := struct {
		Netverse *Config `yaml:"netverse"`
	}{Netverse: cfg}
	return yaml.Marshal(root)
}

// WriteDefault renders the default configuration to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	data, err := Render(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Timeouts parses the enrichment latency bounds.
func (c EnrichmentConfig) Timeouts() (lookup, budget time.Duration, err error) {
	if lookup, err = time.ParseDuration(c.LookupTimeout); err != nil {
		return 0, 0, fmt.Errorf("invalid enrichment.lookup_timeout: %w", err)
	}
	if budget, err = time.ParseDuration(c.Budget); err != nil {
		return 0, 0, fmt.Errorf("invalid enrichment.budget: %w", err)
	}
	return lookup, budget, nil
}
