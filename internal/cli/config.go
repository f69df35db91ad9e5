package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the resolved configuration of one CLI invocation. Values come
// from, in increasing priority: defaults, the config file, NEXORA_*
// environment variables, and command-line flags.
type Config struct {
	DB           string             `mapstructure:"db"`
	Offline      bool               `mapstructure:"offline"`
	Tenant       string             `mapstructure:"tenant"`
	User         UserConfig         `mapstructure:"user"`
	Remote       RemoteConfig       `mapstructure:"remote"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Log          LogConfig          `mapstructure:"log"`
}

// UserConfig identifies the local operator for CRUD commands.
type UserConfig struct {
	ID   string `mapstructure:"id"`
	Role string `mapstructure:"role"`
}

// RemoteConfig locates the server.
type RemoteConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Token   string        `mapstructure:"token"`
}

// ConnectivityConfig selects the connectivity source. With a marker path
// the device is online while the file exists.
type ConnectivityConfig struct {
	Marker string `mapstructure:"marker"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" | "json"
	File   string `mapstructure:"file"`
	// Rotation, applied when File is set.
	MaxSizeMB  int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
	MaxAgeDays int `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db", "nexora.db")
	v.SetDefault("tenant", "")
	v.SetDefault("user.id", "local")
	v.SetDefault("user.role", "owner")
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.timeout", 15*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// loadConfig reads configuration into a fresh viper instance. flags are
// bound by name: "db" and "offline".
func loadConfig(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("NEXORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	for _, name := range []string{"db", "offline"} {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(name, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var errs []error
	if c.DB == "" {
		errs = append(errs, errors.New("db: path is required"))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: %q must be console or json", c.Log.Format))
	}
	if c.Remote.Timeout < 0 {
		errs = append(errs, errors.New("remote.timeout: must not be negative"))
	}
	return errors.Join(errs...)
}
