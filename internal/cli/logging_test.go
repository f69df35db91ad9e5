package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_LevelAndVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := newLogger(LogConfig{Level: "warn", Format: "console"}, false, buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	logger, err = newLogger(LogConfig{Level: "warn", Format: "json"}, true, buf)
	require.NoError(t, err)
	logger.Debug("debug line")
	assert.Contains(t, buf.String(), `"msg":"debug line"`)
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := newLogger(LogConfig{Level: "loud", Format: "console"}, false, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestNewLogger_RotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "nexora.log")
	logger, err := newLogger(LogConfig{Level: "info", Format: "json", File: path, MaxSizeMB: 1}, false, nil)
	require.NoError(t, err)
	logger.Info("to file")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}
