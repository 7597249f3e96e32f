package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeoAziz/netverse-engine/internal/capture"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netverse.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
netverse:
  control:
    socket: /tmp/nv-test.sock
  capture:
    device: ens3
    engine: afpacket
    bpf_filter: "tcp or udp"
  enrichment:
    enabled: true
    virustotal_key: vt-secret
    lookup_timeout: 1s
    budget: 2500ms
  stream:
    listen: ":9000"
    token: hunter2
  influxdb:
    enabled: true
    url: http://influx:8086
    token: influx-secret
  log:
    level: debug
    appenders:
      - type: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/nv-test.sock", cfg.Control.Socket)
	assert.Equal(t, "ens3", cfg.Capture.Device)
	assert.Equal(t, capture.EngineAFPacket, cfg.Capture.Engine)
	assert.Equal(t, "tcp or udp", cfg.Capture.BPFFilter)
	assert.Equal(t, "vt-secret", cfg.Enrichment.VirusTotalKey)
	assert.Equal(t, ":9000", cfg.Stream.Listen)
	assert.Equal(t, "hunter2", cfg.Stream.Token)
	assert.True(t, cfg.Influx.Enabled)
	assert.Equal(t, "http://influx:8086", cfg.Influx.URL)
	assert.Equal(t, "debug", cfg.Log.Level)

	lookup, budget, err := cfg.Enrichment.Timeouts()
	require.NoError(t, err)
	assert.Equal(t, time.Second, lookup)
	assert.Equal(t, 2500*time.Millisecond, budget)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
netverse:
  stream:
    token: hunter2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/run/netverse.sock", cfg.Control.Socket)
	assert.Equal(t, capture.EnginePcap, cfg.Capture.Engine)
	assert.Equal(t, 65535, cfg.Capture.SnapLen)
	assert.Equal(t, 4, cfg.Pipeline.EnrichWorkers)
	assert.Equal(t, 10000, cfg.Pipeline.MemoryCapacity)
	assert.Equal(t, ":8765", cfg.Stream.Listen)
	assert.Equal(t, "/ws", cfg.Stream.Path)
	assert.True(t, cfg.Metrics.Enabled)
	require.NotNil(t, cfg.Log)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadRequiresStreamToken(t *testing.T) {
	path := writeConfig(t, `
netverse:
  capture:
    device: eth0
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream.token")
}

func TestLoadRejectsInfluxWithoutURL(t *testing.T) {
	path := writeConfig(t, `
netverse:
  stream:
    token: hunter2
  influxdb:
    enabled: true
    url: ""
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "influxdb.url")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestRenderedDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netverse.yml")
	require.NoError(t, WriteDefault(path))

	// The rendered file must load once a token is added via env override.
	t.Setenv("NETVERSE_STREAM_TOKEN", "hunter2")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "eth0", cfg.Capture.Device)
	assert.Equal(t, "hunter2", cfg.Stream.Token)

	// A second init must not clobber the file.
	assert.Error(t, WriteDefault(path))
}

func TestEnvOverride(t *testing.T) {
	path := writeConfig(t, `
netverse:
  stream:
    token: from-file
`)

	t.Setenv("NETVERSE_STREAM_TOKEN", "from-env")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Stream.Token)
}
