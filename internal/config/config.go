// Package config layers analyzer settings from defaults, an optional
// analyzer.yaml, ANALYZER_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"static-probe-analyzer/internal/probing"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	ConfigFile string `mapstructure:"config"`
	Topology   string `mapstructure:"topology"`
	TTL        int    `mapstructure:"ttl"`
	MaxProbes  int    `mapstructure:"max_probes"`
	Workers    int    `mapstructure:"workers"`
	LogLevel   string `mapstructure:"log_level"`
	LogFile    string `mapstructure:"log_file"`
	DB         string `mapstructure:"db"`
}

func DefaultConfig() *Config {
	return &Config{
		TTL:       probing.DefaultTTL,
		MaxProbes: probing.DefaultMaxProbes,
		Workers:   runtime.NumCPU(),
		LogLevel:  "INFO",
	}
}

// Load reads the configuration. Flag names use dashes and map to the
// underscored keys; only flags the user set override the file and the
// environment.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	def := DefaultConfig()
	v.SetDefault("ttl", def.TTL)
	v.SetDefault("max_probes", def.MaxProbes)
	v.SetDefault("workers", def.Workers)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("topology", "")
	v.SetDefault("log_file", "")
	v.SetDefault("db", "")

	v.SetEnvPrefix("ANALYZER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("analyzer")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/static-probe-analyzer/")
		v.AddConfigPath("$HOME/.static-probe-analyzer")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	cfg.ConfigFile = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.TTL < 1 || c.TTL > 255 {
		return fmt.Errorf("%w: ttl %d out of range 1-255", ErrInvalidConfig, c.TTL)
	}
	if c.MaxProbes < 1 {
		return fmt.Errorf("%w: max_probes must be positive", ErrInvalidConfig)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	return nil
}
