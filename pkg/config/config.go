// Package config provides YAML-based configuration loading for simlink.
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

// Config is the root application configuration, shared by the daemon and the
// probe client.
type Config struct {
    // AppName optional logical name of the process
    AppName string `mapstructure:"app_name"`

    // Log holds logging configuration
    Log LogConfig `mapstructure:"log"`

    // Server configures the simulation daemon's listening side
    Server ServerConfig `mapstructure:"server"`

    // Client configures outbound sessions
    Client ClientConfig `mapstructure:"client"`
}

// LogConfig defines logger settings.
type LogConfig struct {
    // Level: debug, info, warn, error
    Level string `mapstructure:"level"`
    // Format: console or json
    Format string `mapstructure:"format"`
    // Outputs: list of outputs: stdout, stderr, or file paths
    Outputs []string `mapstructure:"outputs"`

    // Rotation controls file rotation when writing to files
    Rotation RotationConfig `mapstructure:"rotation"`
    // Development toggles development-friendly logging options
    Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
    Enable     bool   `mapstructure:"enable"`
    Filename   string `mapstructure:"filename"`
    MaxSizeMB  int    `mapstructure:"max_size_mb"`
    MaxBackups int    `mapstructure:"max_backups"`
    MaxAgeDays int    `mapstructure:"max_age_days"`
    Compress   bool   `mapstructure:"compress"`
}

// ServerConfig configures the listening side of the daemon.
type ServerConfig struct {
    // Transport: tcp, quic, mem or winpipe
    Transport string `mapstructure:"transport"`
    // Listen address in the transport's notation
    Listen string `mapstructure:"listen"`
}

// ClientConfig configures outbound sessions.
type ClientConfig struct {
    // Transport: tcp, quic, mem or winpipe
    Transport string `mapstructure:"transport"`
    // Address of the simulation server
    Address string `mapstructure:"address"`

    DialTimeout  time.Duration `mapstructure:"dial_timeout"`
    CallTimeout  time.Duration `mapstructure:"call_timeout"`
    PollInterval time.Duration `mapstructure:"poll_interval"`

    // StrictVersion closes the session on version mismatch instead of
    // logging an advisory
    StrictVersion bool `mapstructure:"strict_version"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
    return &Config{
        AppName: "simlink",
        Log: LogConfig{
            Level:       "info",
            Format:      "console",
            Outputs:     []string{"stdout"},
            Development: true,
            Rotation: RotationConfig{
                Enable:     false,
                Filename:   "logs/simlink.log",
                MaxSizeMB:  50,
                MaxBackups: 3,
                MaxAgeDays: 28,
                Compress:   true,
            },
        },
        Server: ServerConfig{
            Transport: "tcp",
            Listen:    ":41451",
        },
        Client: ClientConfig{
            Transport:    "tcp",
            Address:      "127.0.0.1:41451",
            DialTimeout:  20 * time.Second,
            CallTimeout:  60 * time.Second,
            PollInterval: time.Second,
        },
    }
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix SIMLINK and `.`/`-` are replaced with `_`.
// Example: SIMLINK_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
    cfg := Default()

    v := viper.New()
    v.SetConfigType("yaml")
    v.SetEnvPrefix("SIMLINK")
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
    v.AutomaticEnv()

    // seed defaults for viper so env-only configs work
    v.SetDefault("app_name", cfg.AppName)
    v.SetDefault("log.level", cfg.Log.Level)
    v.SetDefault("log.format", cfg.Log.Format)
    v.SetDefault("log.outputs", cfg.Log.Outputs)
    v.SetDefault("log.development", cfg.Log.Development)
    v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
    v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
    v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
    v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
    v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
    v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
    v.SetDefault("server.transport", cfg.Server.Transport)
    v.SetDefault("server.listen", cfg.Server.Listen)
    v.SetDefault("client.transport", cfg.Client.Transport)
    v.SetDefault("client.address", cfg.Client.Address)
    v.SetDefault("client.dial_timeout", cfg.Client.DialTimeout)
    v.SetDefault("client.call_timeout", cfg.Client.CallTimeout)
    v.SetDefault("client.poll_interval", cfg.Client.PollInterval)
    v.SetDefault("client.strict_version", cfg.Client.StrictVersion)

    // Choose config file
    if path == "" {
        // Allow override via env var
        if envPath := os.Getenv("SIMLINK_CONFIG"); envPath != "" {
            path = envPath
        }
    }

    if path != "" {
        v.SetConfigFile(path)
    } else {
        // Search common locations with base name `simlink`
        v.SetConfigName("simlink")
        v.AddConfigPath(".")
        v.AddConfigPath("./configs")
        if home, err := os.UserHomeDir(); err == nil {
            v.AddConfigPath(filepath.Join(home, ".simlink"))
        }
    }

    // Read config file if present; if not found, continue with defaults/env
    if err := v.ReadInConfig(); err != nil {
        var viperConfigFileNotFound viper.ConfigFileNotFoundError
        if !errors.As(err, &viperConfigFileNotFound) {
            return nil, fmt.Errorf("read config: %w", err)
        }
    }

    if err := v.Unmarshal(&cfg); err != nil {
        return nil, fmt.Errorf("decode config: %w", err)
    }

    if err := cfg.validate(); err != nil {
        return nil, err
    }
    return cfg, nil
}

func (c *Config) validate() error {
    lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
    switch lvl {
    case "debug", "info", "warn", "warning", "error":
        // ok
    default:
        return fmt.Errorf("invalid log.level: %q", c.Log.Level)
    }

    if c.Log.Format == "" {
        c.Log.Format = "console"
    }
    if len(c.Log.Outputs) == 0 {
        c.Log.Outputs = []string{"stdout"}
    }

    c.Server.Transport = strings.ToLower(strings.TrimSpace(c.Server.Transport))
    c.Client.Transport = strings.ToLower(strings.TrimSpace(c.Client.Transport))
    for _, kind := range []string{c.Server.Transport, c.Client.Transport} {
        switch kind {
        case "tcp", "quic", "mem", "winpipe":
            // ok
        default:
            return fmt.Errorf("invalid transport: %q", kind)
        }
    }
    if strings.TrimSpace(c.Server.Listen) == "" {
        return errors.New("server.listen must not be empty")
    }
    if strings.TrimSpace(c.Client.Address) == "" {
        return errors.New("client.address must not be empty")
    }
    if c.Client.DialTimeout <= 0 || c.Client.CallTimeout <= 0 || c.Client.PollInterval <= 0 {
        return errors.New("client timeouts must be positive")
    }
    return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
    cfg, err := Load(path)
    if err != nil {
        panic(err)
    }
    return cfg
}
