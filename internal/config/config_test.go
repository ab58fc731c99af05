package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrentCities)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.Model)
	assert.Equal(t, int64(8192), cfg.Anthropic.MaxTokens)
	assert.Equal(t, 60000, cfg.Bundle.TokenBudget)
	assert.Equal(t, 50, cfg.Synthesis.BatchSize)
	assert.InDelta(t, 0.9, cfg.Validation.HighConfidence, 0.001)
	assert.InDelta(t, 0.7, cfg.Resolve.TrigramThreshold, 0.001)
	assert.InDelta(t, 25.0, cfg.Governor.DailySpendCapUSD, 0.001)
	assert.Equal(t, 20, cfg.Governor.CooldownHours)
	assert.Equal(t, 3, cfg.Governor.BreakerThreshold)
	assert.Equal(t, 25, cfg.WriteBack.BatchSize)
	assert.InDelta(t, 0.35, cfg.WriteBack.DeltaThreshold, 0.001)
	assert.Equal(t, "venue-fusion", cfg.Temporal.TaskQueue)

	sonnet, ok := cfg.Pricing.Anthropic["claude-sonnet-4-5-20250929"]
	require.True(t, ok)
	assert.InDelta(t, 3.0, sonnet.Input, 0.001)
	assert.InDelta(t, 15.0, sonnet.Output, 0.001)
	assert.InDelta(t, 0.1, sonnet.CacheReadMul, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
  format: console
governor:
  known_cities: [lisbon, porto]
  daily_spend_cap_usd: 5
batch:
  max_concurrent_cities: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, []string{"lisbon", "porto"}, cfg.Governor.KnownCities)
	assert.InDelta(t, 5.0, cfg.Governor.DailySpendCapUSD, 0.001)
	assert.Equal(t, 2, cfg.Batch.MaxConcurrentCities)
	// Defaults still apply for unset values
	assert.Equal(t, 20, cfg.Governor.CooldownHours)
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

	t.Setenv("FUSION_STORE_DRIVER", "postgres")
	t.Setenv("FUSION_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("FUSION_SERVER_PORT", "3000")
	t.Setenv("FUSION_GOVERNOR_COOLDOWN_HOURS", "6")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 6, cfg.Governor.CooldownHours)
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

func TestValidateResearch_AllPresent(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/test"
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Anthropic.Model = "claude-sonnet-4-5-20250929"
	cfg.Vocab.FixturePath = "testdata/vocabulary.yaml"

	assert.NoError(t, cfg.Validate("research"))
}

func TestValidateResearch_MissingKeys(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("research")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url")
	assert.Contains(t, err.Error(), "anthropic.key")
	assert.Contains(t, err.Error(), "vocab.notion_db or vocab.fixture_path")
}

func TestValidateResearch_NotionVocabNeedsToken(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Anthropic.Key = "k"
	cfg.Anthropic.Model = "m"
	cfg.Vocab.NotionDB = "vocab-db"

	err := cfg.Validate("research")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion.token")
}

func TestValidateWorker_NeedsTemporal(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Anthropic.Key = "k"
	cfg.Anthropic.Model = "m"
	cfg.Vocab.FixturePath = "vocab.yaml"

	err := cfg.Validate("worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temporal.host_port")

	cfg.Temporal.HostPort = "localhost:7233"
	assert.NoError(t, cfg.Validate("worker"))
}

func TestValidateStore_SQLiteNeedsNothing(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	assert.NoError(t, cfg.Validate("store"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown validation mode")
}
