package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelfsepulveda/customchatfree/internal/config"
)

func TestNewWritesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.log")
	log, err := New(config.LogConfig{Mode: "prod", Level: "info", File: path})
	require.NoError(t, err)

	log.With("component", "test").Info("store operation", "op", "add_message")
	log.Debug("dropped below level")
	log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"op":"add_message"`)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.NotContains(t, string(data), "dropped below level")
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud"})
	require.Error(t, err)
}

func TestNilLoggerIsSafe(t *testing.T) {
	var log *Logger
	log.Info("ignored")
	log.With("k", "v").Error("ignored")
	log.Sync()
}
