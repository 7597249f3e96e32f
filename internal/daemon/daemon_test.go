package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeoAziz/netverse-engine/internal/command"
)

func writeTestConfig(t *testing.T) (configPath, socketPath string) {
	t.Helper()
	dir := t.TempDir()
	socketPath = filepath.Join(dir, "netverse.sock")
	content := fmt.Sprintf(`
netverse:
  control:
    socket: %s
    pid_file: %s
  stream:
    listen: "127.0.0.1:0"
    token: test-token
  metrics:
    enabled: false
  enrichment:
    enabled: false
`, socketPath, filepath.Join(dir, "netverse.pid"))

	configPath = filepath.Join(dir, "netverse.yml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	return configPath, socketPath
}

func TestDaemonStartAndControl(t *testing.T) {
	configPath, socketPath := writeTestConfig(t)

	d, err := New(configPath)
	require.NoError(t, err)
	require.NoError(t, d.Start())
	t.Cleanup(d.Stop)

	client := command.NewUDSClient(socketPath, 2*time.Second)
	require.Eventually(t, func() bool {
		_, err := client.DaemonStatus(context.Background())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := client.CaptureStatus(context.Background())
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})
	assert.Equal(t, "idle", result["state"])

	// Queries work before any capture has run.
	resp, err = client.QueryLogs(context.Background(), command.QueryLogsParams{})
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	// PID file exists while running.
	_, statErr := os.Stat(d.config.Control.PIDFile)
	assert.NoError(t, statErr)
}

func TestDaemonRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "netverse.yml")
	require.NoError(t, os.WriteFile(configPath, []byte("netverse: {}\n"), 0644))

	_, err := New(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream.token")
}
