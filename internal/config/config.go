package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sendwatch/go-backend/internal/domains/sendresult"
)

const (
	DefaultRPCAddr         = "127.0.0.1:8787"
	DefaultStoreDriver     = "memory"
	DefaultMaxActive       = 256
	DefaultRetainCompleted = 5 * time.Minute
)

type Config struct {
	RPC       RPCConfig
	Store     StoreConfig
	Watch     WatchConfig
	RateLimit RateLimitConfig
	Metrics   MetricsConfig
	Log       LogConfig
	// RequireToken is false only in test/dev environments.
	RequireToken bool
	// Source is the file the config was read from, empty for defaults.
	Source string
}

type RPCConfig struct {
	Addr           string
	Token          string
	AllowedOrigins []string
}

type StoreConfig struct {
	Driver     string
	Path       string
	Passphrase string
}

type WatchConfig struct {
	DefaultTimeout      time.Duration
	DefaultSuccessTypes []string
	MaxActive           int
	RetainCompleted     time.Duration
}

type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

type MetricsConfig struct {
	Enabled bool
}

type LogConfig struct {
	Level  string
	Format string
}

func Default() Config {
	return Config{
		RPC:   RPCConfig{Addr: DefaultRPCAddr},
		Store: StoreConfig{Driver: DefaultStoreDriver},
		Watch: WatchConfig{
			DefaultSuccessTypes: []string{sendresult.CategorySent.String()},
			MaxActive:           DefaultMaxActive,
			RetainCompleted:     DefaultRetainCompleted,
		},
		RateLimit:    RateLimitConfig{Enabled: true, RPS: 20, Burst: 40},
		Metrics:      MetricsConfig{Enabled: true},
		Log:          LogConfig{Level: "info", Format: "json"},
		RequireToken: true,
	}
}

type FileConfig struct {
	RPC       fileRPC       `yaml:"rpc"`
	Store     fileStore     `yaml:"store"`
	Watch     fileWatch     `yaml:"watch"`
	RateLimit fileRateLimit `yaml:"rateLimit"`
	Metrics   fileMetrics   `yaml:"metrics"`
	Log       fileLog       `yaml:"log"`
}

type fileRPC struct {
	Addr           string   `yaml:"addr"`
	Token          string   `yaml:"token"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type fileStore struct {
	Driver     string `yaml:"driver"`
	Path       string `yaml:"path"`
	Passphrase string `yaml:"passphrase"`
}

type fileWatch struct {
	DefaultTimeout      time.Duration `yaml:"defaultTimeout"`
	DefaultSuccessTypes []string      `yaml:"defaultSuccessTypes"`
	MaxActive           int           `yaml:"maxActive"`
	RetainCompleted     time.Duration `yaml:"retainCompleted"`
}

type fileRateLimit struct {
	Enabled *bool   `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

type fileMetrics struct {
	Enabled *bool `yaml:"enabled"`
}

type fileLog struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadFromPath reads the first readable candidate. An explicit path that cannot
// be read or parsed is an error; the default candidates are optional.
func LoadFromPath(configPath string) (Config, error) {
	cfg := Default()

	candidates := make([]string, 0, 2)
	explicit := strings.TrimSpace(configPath) != ""
	if explicit {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"go-backend/configs/config.yaml",
			"configs/config.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if explicit {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
			continue
		}
		parsed, err := Parse(data)
		if err != nil {
			if explicit {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
			continue
		}
		Merge(&cfg, parsed)
		cfg.Source = path
		break
	}

	ApplyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Parse(data []byte) (FileConfig, error) {
	var parsed FileConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return FileConfig{}, err
	}
	return parsed, nil
}

// Merge copies every field set in src over dst.
func Merge(dst *Config, src FileConfig) {
	if src.RPC.Addr != "" {
		dst.RPC.Addr = src.RPC.Addr
	}
	if src.RPC.Token != "" {
		dst.RPC.Token = src.RPC.Token
	}
	if src.RPC.AllowedOrigins != nil {
		dst.RPC.AllowedOrigins = src.RPC.AllowedOrigins
	}
	if src.Store.Driver != "" {
		dst.Store.Driver = src.Store.Driver
	}
	if src.Store.Path != "" {
		dst.Store.Path = src.Store.Path
	}
	if src.Store.Passphrase != "" {
		dst.Store.Passphrase = src.Store.Passphrase
	}
	if src.Watch.DefaultTimeout != 0 {
		dst.Watch.DefaultTimeout = src.Watch.DefaultTimeout
	}
	if src.Watch.DefaultSuccessTypes != nil {
		dst.Watch.DefaultSuccessTypes = src.Watch.DefaultSuccessTypes
	}
	if src.Watch.MaxActive != 0 {
		dst.Watch.MaxActive = src.Watch.MaxActive
	}
	if src.Watch.RetainCompleted != 0 {
		dst.Watch.RetainCompleted = src.Watch.RetainCompleted
	}
	if src.RateLimit.Enabled != nil {
		dst.RateLimit.Enabled = *src.RateLimit.Enabled
	}
	if src.RateLimit.RPS != 0 {
		dst.RateLimit.RPS = src.RateLimit.RPS
	}
	if src.RateLimit.Burst != 0 {
		dst.RateLimit.Burst = src.RateLimit.Burst
	}
	if src.Metrics.Enabled != nil {
		dst.Metrics.Enabled = *src.Metrics.Enabled
	}
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
	if src.Log.Format != "" {
		dst.Log.Format = src.Log.Format
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if token := strings.TrimSpace(os.Getenv("SENDWATCH_RPC_TOKEN")); token != "" {
		cfg.RPC.Token = token
	}
	if pass := os.Getenv("SENDWATCH_STORE_PASSPHRASE"); pass != "" {
		cfg.Store.Passphrase = pass
	}
	if driver := strings.TrimSpace(os.Getenv("SENDWATCH_STORE_DRIVER")); driver != "" {
		cfg.Store.Driver = driver
	}
	if raw := strings.TrimSpace(os.Getenv("SENDWATCH_METRICS_ENABLED")); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Metrics.Enabled = v
		}
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv("SENDWATCH_ENV"))) {
	case "test", "dev", "development":
		cfg.RequireToken = false
	}
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.RPC.Addr) == "" {
		errs = append(errs, errors.New("rpc.addr is required"))
	}
	if c.RequireToken && strings.TrimSpace(c.RPC.Token) == "" {
		errs = append(errs, errors.New("rpc.token is required outside test/dev environments"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case "memory", "":
	case "sqlite":
		if strings.TrimSpace(c.Store.Path) == "" {
			errs = append(errs, errors.New("store.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported store.driver %q", c.Store.Driver))
	}
	if c.Watch.DefaultTimeout < 0 {
		errs = append(errs, errors.New("watch.defaultTimeout must not be negative"))
	}
	if _, err := sendresult.NewSuccessSet(c.Watch.DefaultSuccessTypes); err != nil {
		errs = append(errs, fmt.Errorf("watch.defaultSuccessTypes: %w", err))
	}
	if c.Watch.MaxActive < 0 {
		errs = append(errs, errors.New("watch.maxActive must not be negative"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rateLimit.rps and rateLimit.burst must be positive when enabled"))
	}
	return errors.Join(errs...)
}
