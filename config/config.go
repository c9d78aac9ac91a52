// Package config provides YAML-based configuration loading for swup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Client ClientConfig `mapstructure:"client"`

	// Loss configures the simulated lossy link for both sides
	Loss LossConfig `mapstructure:"loss"`

	Log LogConfig `mapstructure:"log"`
}

type ServerConfig struct {
	// Listen is the IP to bind to, empty for all interfaces
	Listen string `mapstructure:"listen"`
	Port   int    `mapstructure:"port"`

	// Credential expected as the prefix of every HELLO payload
	Credential string `mapstructure:"credential"`

	// RootDir receives the uploaded files
	RootDir string `mapstructure:"root_dir"`

	MaxSessions int `mapstructure:"max_sessions"`

	// SessionIdleTimeout releases sessions that have been silent for longer.
	// Zero keeps sessions until FIN.
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout"`
}

type ClientConfig struct {
	Port    int           `mapstructure:"port"`
	Retries int           `mapstructure:"retries"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LossConfig holds the Gilbert-Elliott drop probabilities.
type LossConfig struct {
	P float64 `mapstructure:"p"`
	Q float64 `mapstructure:"q"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// Default returns a Config populated with the protocol defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:      "",
			Port:        20252,
			Credential:  "g21-0e29",
			RootDir:     "./",
			MaxSessions: 10,
		},
		Client: ClientConfig{
			Port:    20252,
			Retries: 5,
			Timeout: 2 * time.Second,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
		},
	}
}

// Load reads configuration from path (if non-empty), otherwise from
// $SWUP_CONFIG or swup.yaml in the working directory or ~/.swup. Missing
// files are fine. Environment variables use the prefix SWUP with `.`
// replaced by `_`, e.g. SWUP_SERVER_CREDENTIAL.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SWUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("server.listen", cfg.Server.Listen)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.credential", cfg.Server.Credential)
	v.SetDefault("server.root_dir", cfg.Server.RootDir)
	v.SetDefault("server.max_sessions", cfg.Server.MaxSessions)
	v.SetDefault("server.session_idle_timeout", cfg.Server.SessionIdleTimeout)
	v.SetDefault("client.port", cfg.Client.Port)
	v.SetDefault("client.retries", cfg.Client.Retries)
	v.SetDefault("client.timeout", cfg.Client.Timeout)
	v.SetDefault("loss.p", cfg.Loss.P)
	v.SetDefault("loss.q", cfg.Loss.Q)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		path = os.Getenv("SWUP_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("swup")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".swup"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and fills in empty optional fields. It is
// called by Load and should be called again after command line overrides.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	if c.Loss.P > 1 || c.Loss.P < 0 || c.Loss.Q > 1 || c.Loss.Q < 0 {
		return fmt.Errorf("loss.p and/or loss.q are outside [0,1]")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Client.Port <= 0 || c.Client.Port > 65535 {
		return fmt.Errorf("invalid client.port: %d", c.Client.Port)
	}
	if c.Server.Credential == "" {
		return fmt.Errorf("server.credential must not be empty")
	}
	if c.Server.MaxSessions <= 0 {
		return fmt.Errorf("server.max_sessions must be positive")
	}
	if c.Server.SessionIdleTimeout < 0 {
		return fmt.Errorf("server.session_idle_timeout must not be negative")
	}
	if c.Client.Retries <= 0 {
		return fmt.Errorf("client.retries must be positive")
	}
	if c.Client.Timeout <= 0 {
		return fmt.Errorf("client.timeout must be positive")
	}
	return nil
}
