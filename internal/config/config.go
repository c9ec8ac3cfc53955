package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "CUSTOMCHAT"
	// ConfigDirEnv names the directory searched for config.yaml.
	ConfigDirEnv = "CUSTOMCHAT_CONFIG_DIR"
)

// Config represents runtime configuration for the service.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	User     UserConfig     `mapstructure:"user"`
	AI       AIConfig       `mapstructure:"ai"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
	Mode    string `mapstructure:"mode"` // gin mode: debug / release / test
}

type DatabaseConfig struct {
	Path           string        `mapstructure:"path"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
}

type LogConfig struct {
	Mode  string `mapstructure:"mode"` // dev / prod
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// UserConfig names the implicit single user of the chat front-end.
type UserConfig struct {
	DefaultUsername string `mapstructure:"default_username"`
}

type AIConfig struct {
	Provider     string                 `mapstructure:"provider"` // openai / claude / gemini
	BaseURL      string                 `mapstructure:"base_url"`
	APIKey       string                 `mapstructure:"api_key"`
	Referer      string                 `mapstructure:"referer"`
	Title        string                 `mapstructure:"title"`
	DefaultModel string                 `mapstructure:"default_model"`
	MaxTokens    int                    `mapstructure:"max_tokens"`
	Timeout      time.Duration          `mapstructure:"timeout"`
	Models       map[string]ModelConfig `mapstructure:"models"`
}

// ModelConfig is one entry of the model catalog, keyed by its short name.
type ModelConfig struct {
	ID     string `mapstructure:"id"`
	Label  string `mapstructure:"label"`
	Vision bool   `mapstructure:"vision"`
}

type WorkerConfig struct {
	MinWorkers     int           `mapstructure:"min_workers"`
	MaxWorkers     int           `mapstructure:"max_workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Load reads config.yaml from dir (or CUSTOMCHAT_CONFIG_DIR, or the working
// directory). A missing file falls back to defaults and environment values.
func Load(dir string) (*Config, error) {
	v := viper.New()
	if dir == "" {
		v.SetDefault("config_dir", ".")
		_ = v.BindEnv("config_dir", ConfigDirEnv)
		dir = v.GetString("config_dir")
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(absDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Database.Path = strings.TrimSpace(cfg.Database.Path)
	if cfg.Database.Path == "" {
		return nil, errors.New("database.path must be configured")
	}
	if !filepath.IsAbs(cfg.Database.Path) {
		cfg.Database.Path = filepath.Join(absDir, cfg.Database.Path)
	}
	if strings.TrimSpace(cfg.User.DefaultUsername) == "" {
		return nil, errors.New("user.default_username must be configured")
	}
	if _, ok := cfg.AI.Models[cfg.AI.DefaultModel]; !ok {
		return nil, fmt.Errorf("ai.default_model %q is not in ai.models", cfg.AI.DefaultModel)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8090")
	v.SetDefault("server.mode", "debug")

	v.SetDefault("database.path", "chat_history.db")
	v.SetDefault("database.lock_timeout", "30s")
	v.SetDefault("database.max_attempts", 3)
	v.SetDefault("database.initial_backoff", "100ms")

	v.SetDefault("log.mode", "dev")
	v.SetDefault("log.level", "debug")
	v.SetDefault("log.file", "")

	v.SetDefault("user.default_username", "default_user")

	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.referer", "")
	v.SetDefault("ai.title", "")
	v.SetDefault("ai.default_model", "deepseek_v3")
	v.SetDefault("ai.max_tokens", 3000)
	v.SetDefault("ai.timeout", "90s")
	v.SetDefault("ai.models", DefaultModels())

	v.SetDefault("worker.min_workers", 1)
	v.SetDefault("worker.max_workers", 4)
	v.SetDefault("worker.queue_size", 16)
	v.SetDefault("worker.idle_timeout", "30s")
	v.SetDefault("worker.request_timeout", "2m")
}

// DefaultModels is the catalog used when the config file does not define one.
func DefaultModels() map[string]ModelConfig {
	return map[string]ModelConfig{
		"deepseek_v3":  {ID: "deepseek/deepseek-chat-v3-0324:free", Label: "DeepSeek v3"},
		"kimi":         {ID: "moonshotai/kimi-k2:free", Label: "Kimi"},
		"gemini_flash": {ID: "google/gemini-2.0-flash-exp:free", Label: "Gemini 2.0 Flash", Vision: true},
		"qwq_32b":      {ID: "qwen/qwq-32b:free", Label: "Qwen QWQ-32B"},
		"mistral_nemo": {ID: "mistralai/mistral-nemo:free", Label: "Mistral Nemo"},
	}
}
