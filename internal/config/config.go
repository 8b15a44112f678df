// Package config loads agent configuration from a YAML file and FIELDSYNC_*
// environment variables. Priority: ENV > YAML > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Remote   RemoteConfig   `yaml:"remote"`
	Sync     SyncConfig     `yaml:"sync"`
	Location LocationConfig `yaml:"location"`
	Log      LogConfig      `yaml:"log"`
}

// AgentConfig identifies the interviewer this device is assigned to.
type AgentConfig struct {
	InterviewerID string `yaml:"interviewer_id" env:"FIELDSYNC_INTERVIEWER_ID"`
}

// ServerConfig configures the loopback API the device UI talks to. An empty
// token disables bearer auth (loopback only).
type ServerConfig struct {
	Port  int    `yaml:"port"  env:"FIELDSYNC_SERVER_PORT" env-default:"4600"`
	Token string `yaml:"token" env:"FIELDSYNC_API_TOKEN"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir" env:"FIELDSYNC_DATA_DIR"`
}

// RemoteConfig points at the hosted data sink.
type RemoteConfig struct {
	BaseURL string `yaml:"base_url" env:"FIELDSYNC_REMOTE_URL"`
	APIKey  string `yaml:"api_key"  env:"FIELDSYNC_REMOTE_API_KEY"`
}

type SyncConfig struct {
	Interval      time.Duration `yaml:"interval"       env:"FIELDSYNC_SYNC_INTERVAL"       env-default:"5m"`
	ProbeInterval time.Duration `yaml:"probe_interval" env:"FIELDSYNC_SYNC_PROBE_INTERVAL" env-default:"30s"`
	UploadTimeout time.Duration `yaml:"upload_timeout" env:"FIELDSYNC_SYNC_UPLOAD_TIMEOUT" env-default:"30s"`
	RetainSynced  bool          `yaml:"retain_synced"  env:"FIELDSYNC_SYNC_RETAIN_SYNCED"  env-default:"false"`
}

type LocationConfig struct {
	Timeout      time.Duration `yaml:"timeout"       env:"FIELDSYNC_LOCATION_TIMEOUT" env-default:"10s"`
	MaxAge       time.Duration `yaml:"max_age"       env:"FIELDSYNC_LOCATION_MAX_AGE" env-default:"60s"`
	HighAccuracy bool          `yaml:"high_accuracy" env:"FIELDSYNC_LOCATION_HIGH_ACCURACY" env-default:"true"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"FIELDSYNC_LOG_LEVEL" env-default:"info"`
}

// Load reads configuration from an optional .env file, then the YAML file
// named by FIELDSYNC_CONFIG (fallback "./fieldsync.yaml"), then FIELDSYNC_*
// environment variables. If the YAML file does not exist and FIELDSYNC_CONFIG
// was not set explicitly, configuration comes from ENV + defaults only.
func Load() (Config, error) {
	// A .env next to the binary is a convenience for field provisioning;
	// absence is not an error.
	_ = godotenv.Load()

	var cfg Config

	path := os.Getenv("FIELDSYNC_CONFIG")
	explicitPath := path != ""
	if !explicitPath {
		path = "./fieldsync.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if explicitPath {
		return Config{}, fmt.Errorf("config: file %s: %w", path, err)
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return Config{}, fmt.Errorf("config: read env: %w", err)
		}
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = defaultDataDir()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields the agent cannot run without.
func (c Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote base URL is required (FIELDSYNC_REMOTE_URL)")
	}
	if c.Remote.APIKey == "" {
		return fmt.Errorf("remote API key is required (FIELDSYNC_REMOTE_API_KEY)")
	}
	if c.Agent.InterviewerID == "" {
		return fmt.Errorf("interviewer id is required (FIELDSYNC_INTERVIEWER_ID)")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync interval must be positive")
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fieldsync"
	}
	return filepath.Join(home, ".fieldsync")
}
