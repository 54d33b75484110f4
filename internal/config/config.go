package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

const (
	configFileName = "cpool"
	configFileType = "yaml"
	configDir      = "."
	envPrefix      = "CPOOL"
)

const (
	keyLogLevel      = "log.level"
	keyLogFormat     = "log.format"
	keyJournalPath   = "journal.path"
	keyPassthrough   = "worker.passthrough"
	keyRuntimeParams = "worker.runtime_params"
)

// Log output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config is the resolved CLI configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Journal JournalConfig `mapstructure:"journal"`
	Worker  WorkerConfig  `mapstructure:"worker"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// JournalConfig locates the optional SQLite call journal. An empty path
// disables journaling.
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// WorkerConfig holds worker options.
type WorkerConfig struct {
	// Passthrough replaces the default passthrough allowlist when non-empty.
	Passthrough []string `mapstructure:"passthrough"`
	// RuntimeParams is the path of a CUE file with backend runtime
	// parameters.
	RuntimeParams string `mapstructure:"runtime_params"`
}

// Default returns the configuration Load resolves when no file or
// environment overrides are present.
func Default() *Config {
	return &Config{
		Log:    LogConfig{Level: "info", Format: FormatText},
		Worker: WorkerConfig{Passthrough: []string{}},
	}
}

// Load reads configuration.
//
// With an empty path, cpool.yaml is looked up in the working directory and
// a missing file is not an error. An explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyLogFormat, FormatText)
	v.SetDefault(keyJournalPath, "")
	v.SetDefault(keyPassthrough, []string{})
	v.SetDefault(keyRuntimeParams, "")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(configDir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if _, err := c.Log.level(); err != nil {
		return err
	}
	switch c.Log.Format {
	case FormatText, FormatJSON:
	default:
		return fmt.Errorf("config: %s must be %q or %q, got %q", keyLogFormat, FormatText, FormatJSON, c.Log.Format)
	}
	for _, name := range c.Worker.Passthrough {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("config: %s contains an empty operation name", keyPassthrough)
		}
	}
	return nil
}

func (l LogConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("config: %s: %w", keyLogLevel, err)
	}
	return lvl, nil
}

// NewLogger builds a logger writing to w. verbose forces debug level.
func (l LogConfig) NewLogger(w io.Writer, verbose bool) (*slog.Logger, error) {
	lvl, err := l.level()
	if err != nil {
		return nil, err
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if l.Format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
