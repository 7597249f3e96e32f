// Package config loads the engine configuration with viper. The YAML file
// uses `netverse:` as its root key; environment variables override file
// values through the NETVERSE_ prefix (e.g. NETVERSE_STREAM_TOKEN).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/GeoAziz/netverse-engine/internal/capture"
	"github.com/GeoAziz/netverse-engine/internal/enrich"
	"github.com/GeoAziz/netverse-engine/internal/log"
	"github.com/GeoAziz/netverse-engine/internal/sink"
)

// Config is the top-level engine configuration.
type Config struct {
	Control    ControlConfig         `mapstructure:"control" yaml:"control"`
	Capture    capture.SourceConfig  `mapstructure:"capture" yaml:"capture"`
	Pipeline   PipelineConfig        `mapstructure:"pipeline" yaml:"pipeline"`
	Enrichment EnrichmentConfig      `mapstructure:"enrichment" yaml:"enrichment"`
	Stream     StreamConfig          `mapstructure:"stream" yaml:"stream"`
	Influx     InfluxConfig          `mapstructure:"influxdb" yaml:"influxdb"`
	Metrics    MetricsConfig         `mapstructure:"metrics" yaml:"metrics"`
	Log        *log.LoggerConfig     `mapstructure:"log" yaml:"log"`
}

// ControlConfig locates the local control plane.
type ControlConfig struct {
	Socket  string `mapstructure:"socket" yaml:"socket"`
	PIDFile string `mapstructure:"pid_file" yaml:"pid_file"`
}

// PipelineConfig sizes the pipeline's queues and worker pool.
type PipelineConfig struct {
	EnrichWorkers  int `mapstructure:"enrich_workers" yaml:"enrich_workers"`
	FrameBuffer    int `mapstructure:"frame_buffer" yaml:"frame_buffer"`
	QueueSize      int `mapstructure:"queue_size" yaml:"queue_size"`
	MemoryCapacity int `mapstructure:"memory_capacity" yaml:"memory_capacity"`
}

// EnrichmentConfig selects providers and bounds their latency.
type EnrichmentConfig struct {
	enrich.ProviderConfig `mapstructure:",squash" yaml:",inline"`

	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	LookupTimeout string `mapstructure:"lookup_timeout" yaml:"lookup_timeout"`
	Budget        string `mapstructure:"budget" yaml:"budget"`
}

// StreamConfig configures the live WebSocket endpoint.
type StreamConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
	Path   string `mapstructure:"path" yaml:"path"`
	Token  string `mapstructure:"token" yaml:"token"`
}

// InfluxConfig enables the durable time-series store.
type InfluxConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled"`
	sink.InfluxConfig `mapstructure:",squash" yaml:",inline"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

type configRoot struct {
	Netverse Config `mapstructure:"netverse"`
}

// Load reads the configuration file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// The `netverse.` key prefix maps to the NETVERSE_ env prefix through
	// the key replacer, so no explicit prefix is set.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg := root.Netverse
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("netverse.control.socket", "/var/run/netverse.sock")
	v.SetDefault("netverse.control.pid_file", "/var/run/netverse.pid")

	v.SetDefault("netverse.capture.engine", "pcap")
	v.SetDefault("netverse.capture.snap_len", 65535)
	v.SetDefault("netverse.capture.timeout_ms", 500)
	v.SetDefault("netverse.capture.buffer_size_mb", 8)

	v.SetDefault("netverse.pipeline.enrich_workers", 4)
	v.SetDefault("netverse.pipeline.frame_buffer", 1024)
	v.SetDefault("netverse.pipeline.queue_size", 256)
	v.SetDefault("netverse.pipeline.memory_capacity", 10000)

	v.SetDefault("netverse.enrichment.enabled", true)
	v.SetDefault("netverse.enrichment.lookup_timeout", "2s")
	v.SetDefault("netverse.enrichment.budget", "3s")

	v.SetDefault("netverse.stream.listen", ":8765")
	v.SetDefault("netverse.stream.path", "/ws")
	// Registered so the NETVERSE_STREAM_TOKEN override reaches Unmarshal.
	v.SetDefault("netverse.stream.token", "")

	v.SetDefault("netverse.capture.device", "")
	v.SetDefault("netverse.enrichment.virustotal_key", "")
	v.SetDefault("netverse.enrichment.abuseipdb_key", "")
	v.SetDefault("netverse.influxdb.token", "")

	v.SetDefault("netverse.influxdb.enabled", false)
	v.SetDefault("netverse.influxdb.org", "netverse")
	v.SetDefault("netverse.influxdb.bucket", "network_traffic")

	v.SetDefault("netverse.metrics.enabled", true)
	v.SetDefault("netverse.metrics.listen", ":9091")
	v.SetDefault("netverse.metrics.path", "/metrics")
}

func (c *Config) applyDefaults() {
	if c.Log == nil {
		c.Log = log.DefaultConfig()
	}
}

func (c *Config) validate() error {
	if c.Stream.Token == "" {
		return fmt.Errorf("stream.token is required (set NETVERSE_STREAM_TOKEN or the config file)")
	}
	if c.Influx.Enabled && c.Influx.URL == "" {
		return fmt.Errorf("influxdb.url is required when influxdb is enabled")
	}
	return nil
}
