package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Reference ReferenceConfig `yaml:"reference" mapstructure:"reference"`
	Resolver  ResolverConfig  `yaml:"resolver" mapstructure:"resolver"`
	Matching  MatchingConfig  `yaml:"matching" mapstructure:"matching"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the reference data backend. An empty DatabaseURL
// means reference data comes from files only.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ReferenceConfig locates file-based reference data.
type ReferenceConfig struct {
	Path         string   `yaml:"path" mapstructure:"path"`
	RegionsPath  string   `yaml:"regions_path" mapstructure:"regions_path"`
	RegionsSheet string   `yaml:"regions_sheet" mapstructure:"regions_sheet"`
	Prefixes     []string `yaml:"prefixes" mapstructure:"prefixes"`
}

// ResolverConfig configures map-link resolution.
type ResolverConfig struct {
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxHops         int     `yaml:"max_hops" mapstructure:"max_hops"`
	UserAgent       string  `yaml:"user_agent" mapstructure:"user_agent"`
	RateLimit       float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	CacheSize       int     `yaml:"cache_size" mapstructure:"cache_size"`
	CacheTTLMinutes int     `yaml:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
}

// Timeout returns the per-link resolution budget.
func (r ResolverConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSecs) * time.Second
}

// CacheTTL returns how long resolved links stay cached.
func (r ResolverConfig) CacheTTL() time.Duration {
	return time.Duration(r.CacheTTLMinutes) * time.Minute
}

// MatchingConfig configures buyer qualification and output formatting.
type MatchingConfig struct {
	InquiryThresholdKM    float64  `yaml:"inquiry_threshold_km" mapstructure:"inquiry_threshold_km"`
	DisqualifyingStatuses []string `yaml:"disqualifying_statuses" mapstructure:"disqualifying_statuses"`
	FormatSeparator       string   `yaml:"format_separator" mapstructure:"format_separator"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentProperties int `yaml:"max_concurrent_properties" mapstructure:"max_concurrent_properties"`
}

// MetricsConfig configures metrics export.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path" mapstructure:"textfile_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("AREAMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("reference.path", "")
	v.SetDefault("reference.regions_path", "")
	v.SetDefault("reference.regions_sheet", "")
	v.SetDefault("reference.prefixes", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("resolver.timeout_secs", 5)
	v.SetDefault("resolver.max_hops", 5)
	v.SetDefault("resolver.user_agent", "areamatch/1.0")
	v.SetDefault("resolver.rate_limit", 0)
	v.SetDefault("resolver.cache_size", 1024)
	v.SetDefault("resolver.cache_ttl_minutes", 60)
	v.SetDefault("matching.inquiry_threshold_km", 3.0)
	v.SetDefault("matching.disqualifying_statuses", []string{"contract_pending_elsewhere"})
	v.SetDefault("matching.format_separator", ",")
	v.SetDefault("batch.max_concurrent_properties", 8)
	v.SetDefault("metrics.textfile_path", "")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes are
// "areas", "qualify" and "refdata".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "areas", "qualify":
		if c.Reference.Path == "" && c.Store.DatabaseURL == "" {
			errs = append(errs, "reference.path or store.database_url is required")
		}
		if c.Resolver.TimeoutSecs <= 0 {
			errs = append(errs, "resolver.timeout_secs must be > 0")
		}
		if c.Resolver.MaxHops < 0 {
			errs = append(errs, "resolver.max_hops must be >= 0")
		}
		if c.Resolver.RateLimit < 0 {
			errs = append(errs, "resolver.rate_limit must be >= 0")
		}
		if c.Batch.MaxConcurrentProperties < 1 || c.Batch.MaxConcurrentProperties > 64 {
			errs = append(errs, "batch.max_concurrent_properties must be between 1 and 64")
		}
		if mode == "qualify" && c.Matching.InquiryThresholdKM <= 0 {
			errs = append(errs, "matching.inquiry_threshold_km must be > 0")
		}
	case "refdata":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch strings.ToLower(c.Store.Driver) {
	case "", "sqlite", "postgres", "postgresql":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
