package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithNilConfigUsesDefaults(t *testing.T) {
	err := Init(nil)
	require.NoError(t, err)
	assert.NotNil(t, GetLogger())
}

func TestInitRejectsUnknownAppender(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Appenders = []AppenderConfig{{Type: "carrier-pigeon"}}

	err := Init(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown appender type")
}

func TestFileAppenderWritesPatternOutput(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "engine.log")

	cfg := &LoggerConfig{
		Level:   "debug",
		Pattern: "%time [%level] %caller: %msg\n",
		Time:    "2006-01-02 15:04:05",
		Appenders: []AppenderConfig{
			{Type: "file", Options: map[string]interface{}{"filename": logPath}},
		},
	}
	require.NoError(t, Init(cfg))

	GetLogger().Info("capture loop started")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "[info]")
	assert.Contains(t, content, "capture loop started")
}

func TestWithFieldsRendered(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "engine.log")

	cfg := &LoggerConfig{
		Level:   "info",
		Pattern: "%level %field %msg\n",
		Time:    "15:04:05",
		Appenders: []AppenderConfig{
			{Type: "file", Options: map[string]interface{}{"filename": logPath}},
		},
	}
	require.NoError(t, Init(cfg))

	GetLogger().WithField("interface", "eth0").Info("starting")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "interface=eth0"))
}
