package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.Server.Address)
	assert.Equal(t, filepath.Join(dir, "chat_history.db"), cfg.Database.Path)
	assert.Equal(t, 30*time.Second, cfg.Database.LockTimeout)
	assert.Equal(t, 3, cfg.Database.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Database.InitialBackoff)
	assert.Equal(t, "default_user", cfg.User.DefaultUsername)
	assert.Equal(t, "deepseek_v3", cfg.AI.DefaultModel)
	assert.True(t, cfg.AI.Models["gemini_flash"].Vision)
	assert.Equal(t, 2*time.Minute, cfg.Worker.RequestTimeout)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  address: ":9999"
database:
  path: data/history.db
  lock_timeout: 5s
ai:
  default_model: local
  models:
    local:
      id: llama3
      label: Local Llama
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("CUSTOMCHAT_USER_DEFAULT_USERNAME", "alice")
	t.Setenv("CUSTOMCHAT_DATABASE_MAX_ATTEMPTS", "5")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Address)
	assert.Equal(t, filepath.Join(dir, "data", "history.db"), cfg.Database.Path)
	assert.Equal(t, 5*time.Second, cfg.Database.LockTimeout)
	assert.Equal(t, 5, cfg.Database.MaxAttempts)
	assert.Equal(t, "alice", cfg.User.DefaultUsername)
	assert.Equal(t, "llama3", cfg.AI.Models["local"].ID)
}

func TestLoadRejectsUnknownDefaultModel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("ai:\n  default_model: missing\n"), 0o600))

	_, err := Load(dir)
	require.Error(t, err)
}

func TestLoadUsesConfigDirEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(ConfigDirEnv, dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "chat_history.db"), cfg.Database.Path)
}
