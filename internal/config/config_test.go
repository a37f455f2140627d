package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Empty(t, cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 5, cfg.Resolver.TimeoutSecs)
	assert.Equal(t, 5*time.Second, cfg.Resolver.Timeout())
	assert.Equal(t, 5, cfg.Resolver.MaxHops)
	assert.Equal(t, "areamatch/1.0", cfg.Resolver.UserAgent)
	assert.Equal(t, 1024, cfg.Resolver.CacheSize)
	assert.Equal(t, time.Hour, cfg.Resolver.CacheTTL())
	assert.InDelta(t, 3.0, cfg.Matching.InquiryThresholdKM, 0.001)
	assert.Equal(t, []string{"contract_pending_elsewhere"}, cfg.Matching.DisqualifyingStatuses)
	assert.Equal(t, ",", cfg.Matching.FormatSeparator)
	assert.Equal(t, 8, cfg.Batch.MaxConcurrentProperties)
	assert.Empty(t, cfg.Metrics.TextfilePath)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/areamatch
reference:
  path: ref.yaml
  prefixes: [東京都, 神奈川県]
log:
  level: debug
  format: console
matching:
  inquiry_threshold_km: 1.5
  disqualifying_statuses: [contract_pending_elsewhere, do_not_contact]
  format_separator: " "
batch:
  max_concurrent_properties: 16
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/areamatch", cfg.Store.DatabaseURL)
	assert.Equal(t, "ref.yaml", cfg.Reference.Path)
	assert.Equal(t, []string{"東京都", "神奈川県"}, cfg.Reference.Prefixes)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.InDelta(t, 1.5, cfg.Matching.InquiryThresholdKM, 0.001)
	assert.Equal(t, []string{"contract_pending_elsewhere", "do_not_contact"}, cfg.Matching.DisqualifyingStatuses)
	assert.Equal(t, " ", cfg.Matching.FormatSeparator)
	assert.Equal(t, 16, cfg.Batch.MaxConcurrentProperties)
	// Defaults still apply for unset values
	assert.Equal(t, 5, cfg.Resolver.MaxHops)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("AREAMATCH_STORE_DRIVER", "postgres")
	t.Setenv("AREAMATCH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("AREAMATCH_RESOLVER_TIMEOUT_SECS", "2")
	t.Setenv("AREAMATCH_REFERENCE_PATH", "/etc/areamatch/ref.yaml")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Resolver.Timeout())
	assert.Equal(t, "/etc/areamatch/ref.yaml", cfg.Reference.Path)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unterminated"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Reference.Path = "ref.yaml"
	cfg.Resolver.TimeoutSecs = 5
	cfg.Resolver.MaxHops = 5
	cfg.Matching.InquiryThresholdKM = 3
	cfg.Batch.MaxConcurrentProperties = 8
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mode   string
		modify func(*Config)
		want   string
	}{
		{"areas ok", "areas", func(*Config) {}, ""},
		{"qualify ok", "qualify", func(*Config) {}, ""},
		{"store instead of file", "areas", func(c *Config) {
			c.Reference.Path = ""
			c.Store.DatabaseURL = "file:ref.db"
		}, ""},
		{"no reference source", "areas", func(c *Config) { c.Reference.Path = "" }, "reference.path or store.database_url is required"},
		{"zero timeout", "areas", func(c *Config) { c.Resolver.TimeoutSecs = 0 }, "resolver.timeout_secs must be > 0"},
		{"negative hops", "areas", func(c *Config) { c.Resolver.MaxHops = -1 }, "resolver.max_hops must be >= 0"},
		{"negative rate", "qualify", func(c *Config) { c.Resolver.RateLimit = -1 }, "resolver.rate_limit must be >= 0"},
		{"concurrency low", "qualify", func(c *Config) { c.Batch.MaxConcurrentProperties = 0 }, "between 1 and 64"},
		{"concurrency high", "qualify", func(c *Config) { c.Batch.MaxConcurrentProperties = 65 }, "between 1 and 64"},
		{"threshold", "qualify", func(c *Config) { c.Matching.InquiryThresholdKM = 0 }, "inquiry_threshold_km must be > 0"},
		{"threshold ignored for areas", "areas", func(c *Config) { c.Matching.InquiryThresholdKM = 0 }, ""},
		{"refdata needs store", "refdata", func(*Config) {}, "store.database_url is required"},
		{"refdata ok", "refdata", func(c *Config) { c.Store.DatabaseURL = "ref.db" }, ""},
		{"bad driver", "areas", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver must be sqlite or postgres"},
		{"unknown mode", "serve", func(*Config) {}, "unknown mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.modify(cfg)
			err := cfg.Validate(tt.mode)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := validDefaults()
	cfg.Reference.Path = ""
	cfg.Resolver.TimeoutSecs = 0

	err := cfg.Validate("areas")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reference.path or store.database_url is required")
	assert.Contains(t, err.Error(), "resolver.timeout_secs must be > 0")
}
