package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"

	"github.com/peregrein/peregrein/internal/backend"
	"github.com/peregrein/peregrein/internal/httpserver"
	"github.com/peregrein/peregrein/internal/proxyerr"
	"github.com/peregrein/peregrein/internal/strategy"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	ProtocolTCP   = "tcp"
	ProtocolHTTP  = "http"
	ProtocolHTTPS = "https"
)

// EnvPrefix namespaces environment overrides, e.g. PEREGREIN_ENVIRONMENT.
const EnvPrefix = "PEREGREIN"

// LogConfig selects the log sink. An empty LogPath logs to stdout.
type LogConfig struct {
	LogPath string `mapstructure:"log_path"`
	Level   string `mapstructure:"level"`
}

type AdminConfig struct {
	Address string `mapstructure:"address"`
}

type HealthCheckConfig struct {
	Interval string `mapstructure:"interval"`
}

// Duration returns the parsed interval, or zero when checks are disabled.
func (h HealthCheckConfig) Duration() time.Duration {
	d, err := time.ParseDuration(h.Interval)
	if err != nil {
		return 0
	}
	return d
}

type BackendConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	EnableH2C bool   `mapstructure:"enable_h2c"`
}

func (b BackendConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Host, validation.Required, is.Host),
		validation.Field(&b.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// ServerConfig describes one virtual server: a listening port and the named
// backends it balances across.
type ServerConfig struct {
	Name      string                   `mapstructure:"name"`
	Port      int                      `mapstructure:"port"`
	Protocol  string                   `mapstructure:"protocol"`
	Strategy  string                   `mapstructure:"strategy"`
	RateLimit int                      `mapstructure:"rate_limit"`
	Backends  map[string]BackendConfig `mapstructure:"backends"`
}

func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Name, validation.Required),
		validation.Field(&s.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&s.Protocol,
			validation.Required,
			validation.In(ProtocolTCP, ProtocolHTTP, ProtocolHTTPS),
		),
		validation.Field(&s.Strategy, validation.In(strategyNames()...)),
		validation.Field(&s.RateLimit, validation.Min(0)),
		validation.Field(&s.Backends, validation.Required),
	)
}

// BackendDefinitions returns the backends as endpoint definitions, ordered by
// name.
func (s ServerConfig) BackendDefinitions() []backend.Definition {
	defs := make([]backend.Definition, 0, len(s.Backends))
	for name, b := range s.Backends {
		defs = append(defs, backend.Definition{
			Name:      name,
			Host:      b.Host,
			Port:      b.Port,
			EnableH2C: b.EnableH2C,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

type Config struct {
	Environment string            `mapstructure:"environment"`
	LogConfig   LogConfig         `mapstructure:"log_config"`
	Admin       AdminConfig       `mapstructure:"admin"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	Servers     []ServerConfig    `mapstructure:"servers"`
}

// Load reads the configuration file at path. The format follows the file
// extension (.toml, .yaml, .yml, .json) and falls back to YAML, so the
// extensionless default ~/.peregrein.config is YAML. Every failure is a
// *proxyerr.ConfigError.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("environment", EnvDev)
	v.SetDefault("log_config.log_path", "")
	v.SetDefault("log_config.level", LogLevelInfo)
	v.SetDefault("admin.address", "")
	v.SetDefault("health_check.interval", "")

	v.SetConfigFile(path)
	v.SetConfigType(configType(path))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		slog.Error("failed to read config file", slog.String("file", path), slog.String("error", err.Error()))
		return nil, proxyerr.NewConfigError("config", fmt.Sprintf("read %s", path), err)
	}
	slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, proxyerr.NewConfigError("config", "decode", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, proxyerr.NewConfigError("config", "invalid configuration", err)
	}

	return &cfg, nil
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml"
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

// normalize lowercases protocol tags and keeps only the first server of each
// name.
func (c *Config) normalize() {
	seen := make(map[string]struct{}, len(c.Servers))
	servers := c.Servers[:0]

	for _, s := range c.Servers {
		s.Protocol = strings.ToLower(strings.TrimSpace(s.Protocol))
		s.Strategy = strings.ToLower(strings.TrimSpace(s.Strategy))

		if _, dup := seen[s.Name]; dup {
			slog.Warn("duplicate server name, keeping the first definition",
				slog.String("server", s.Name),
				slog.Int("port", s.Port))
			continue
		}
		seen[s.Name] = struct{}{}
		servers = append(servers, s)
	}

	c.Servers = servers
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Environment,
			validation.Required,
			validation.In(EnvDev, EnvStaging, EnvProd),
		),
		validation.Field(&c.LogConfig,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LogConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LogConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Admin,
			validation.By(func(value interface{}) error {
				ac, ok := value.(AdminConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an AdminConfig")
				}
				return validation.ValidateStruct(&ac,
					validation.Field(&ac.Address,
						validation.When(ac.Address != "", validation.By(httpserver.ValidateAddress)),
					),
				)
			}),
		),
		validation.Field(&c.HealthCheck,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Servers,
			validation.Required,
			validation.Length(1, 0),
		),
	)
}

// LogLevel returns the configured level, defaulting to info.
func (c *Config) LogLevel() string {
	if c.LogConfig.Level == "" {
		return LogLevelInfo
	}
	return c.LogConfig.Level
}

func strategyNames() []interface{} {
	names := make([]interface{}, len(strategy.Names))
	for i, n := range strategy.Names {
		names[i] = n
	}
	return names
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if durationStr == "" {
		return nil
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}
	if d <= 0 {
		return validation.NewError("validation_invalid_duration", "must be positive")
	}

	return nil
}
