package am

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ProjectConfigName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "tally.db", cfg.Database.Path)
	assert.Equal(t, DefaultServerPort, cfg.GetServerPort())
	assert.Equal(t, int64(50<<20), cfg.MaxUploadBytes())
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, 30, cfg.OCR.TimeoutSeconds)
	assert.Equal(t, 120, cfg.AI.TimeoutSeconds)
	assert.Equal(t, "ollama", cfg.AI.Provider)
	assert.Equal(t, "mistral", cfg.AI.Model)
	assert.Equal(t, "http://localhost:11434", cfg.AI.Ollama.Host)
	assert.InDelta(t, 0.1, cfg.AI.Temperature, 1e-9)
	assert.Zero(t, cfg.Pipeline.MaxConcurrent, "documents are not throttled by default")
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9100

[ocr]
url = "http://ocr:8001"
low_confidence_threshold = 45.5

[ai]
model = "llama3.2:3b"
requests_per_minute = 6

[pipeline]
max_concurrent = 2
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.GetServerPort())
	assert.Equal(t, "http://ocr:8001", cfg.OCR.URL)
	assert.InDelta(t, 45.5, cfg.OCR.LowConfidenceThreshold, 1e-9)
	assert.Equal(t, "llama3.2:3b", cfg.AI.Model)
	assert.InDelta(t, 6.0, cfg.AI.RequestsPerMinute, 1e-9)
	assert.Equal(t, 2, cfg.Pipeline.MaxConcurrent)
	// untouched sections keep defaults
	assert.Equal(t, 120, cfg.AI.TimeoutSeconds)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[ai]
model = "mistral"
`)
	t.Setenv("TALLY_AI_MODEL", "qwen2.5")
	t.Setenv("OCR_SERVICE_URL", "http://paddle:9000")

	SetConfigFile(path)
	t.Cleanup(func() { SetConfigFile(""); Reset() })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5", cfg.AI.Model)
	assert.Equal(t, "http://paddle:9000", cfg.OCR.URL)
	assert.Equal(t, []string{path}, FilesUsed())

	again, err := Load()
	require.NoError(t, err)
	assert.Same(t, cfg, again, "Load caches until Reset")
}

func TestValidateRejects(t *testing.T) {
	base := func() *Config {
		v := viper.New()
		SetDefaults(v)
		cfg, err := LoadWithViper(v)
		require.NoError(t, err)
		return cfg
	}
	zero := 0

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port zero", func(c *Config) { c.Server.Port = &zero }, "server.port"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "ftp" }, "storage.backend"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = "gcs" }, "storage.gcs_bucket"},
		{"ocr timeout", func(c *Config) { c.OCR.TimeoutSeconds = 0 }, "ocr.timeout_seconds"},
		{"threshold range", func(c *Config) { c.OCR.LowConfidenceThreshold = 101 }, "low_confidence_threshold"},
		{"openrouter without key", func(c *Config) { c.AI.Provider = "openrouter" }, "api_key"},
		{"unknown provider", func(c *Config) { c.AI.Provider = "oracle" }, "ai.provider"},
		{"negative rate", func(c *Config) { c.AI.RequestsPerMinute = -1 }, "requests_per_minute"},
		{"stale too short", func(c *Config) { c.Pipeline.StaleAfterSeconds = 60 }, "stale_after_seconds"},
		{"bad timezone", func(c *Config) { c.Pipeline.Timezone = "Mars/Olympus" }, "pipeline.timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "[log]\nlevel = \"info\"\n")
	SetConfigFile(path)
	t.Cleanup(func() { SetConfigFile(""); Reset() })

	_, err := Load()
	require.NoError(t, err)

	cw, err := NewConfigWatcher(path, zap.NewNop().Sugar())
	require.NoError(t, err)
	cw.debouncePeriod = 10 * time.Millisecond

	levels := make(chan string, 4)
	cw.OnReload(func(c *Config) error {
		levels <- c.Log.Level
		return nil
	})
	cw.Start()
	t.Cleanup(func() { _ = cw.Stop() })

	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\n"), 0o644))

	select {
	case level := <-levels:
		assert.Equal(t, "debug", level)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never reloaded")
	}
}
