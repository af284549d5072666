package am

import (
	"os"

	"github.com/spf13/viper"
)

// DefaultDirPermissions is used for the user config directory
const DefaultDirPermissions os.FileMode = 0o755

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "tally.db")

	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("server.max_upload_mb", 50)
	v.SetDefault("server.default_owner", "")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("storage.gcs_prefix", "uploads/")

	v.SetDefault("ocr.url", "http://localhost:8001")
	v.SetDefault("ocr.timeout_seconds", 30)
	v.SetDefault("ocr.low_confidence_threshold", 60.0)

	v.SetDefault("ai.provider", "ollama")
	v.SetDefault("ai.model", "mistral")
	v.SetDefault("ai.timeout_seconds", 120)
	v.SetDefault("ai.temperature", 0.1)
	v.SetDefault("ai.max_tokens", 2000)
	v.SetDefault("ai.requests_per_minute", 0)
	v.SetDefault("ai.ollama.host", "http://localhost:11434")
	v.SetDefault("ai.openrouter.base_url", "https://openrouter.ai/api/v1")

	// Unbounded: a slow adapter call on one document never holds up another.
	// Cap it when the model runs on this host.
	v.SetDefault("pipeline.max_concurrent", 0)
	v.SetDefault("pipeline.queue_size", 100)
	v.SetDefault("pipeline.poll_interval_seconds", 5)
	v.SetDefault("pipeline.sweep_batch", 50)
	// Must exceed ocr + ai timeouts so live executions are never reaped
	v.SetDefault("pipeline.stale_after_seconds", 900)
	v.SetDefault("pipeline.shutdown_seconds", 30)
	v.SetDefault("pipeline.timezone", "Local")

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}

// BindSensitiveEnvVars explicitly binds secrets and deployment paths to
// environment variables so they never need to live in a checked-in file.
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("ai.openrouter.api_key", "TALLY_AI_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
	_ = v.BindEnv("database.path", "TALLY_DATABASE_PATH")
	_ = v.BindEnv("ocr.url", "TALLY_OCR_URL", "OCR_SERVICE_URL")
	_ = v.BindEnv("ai.ollama.host", "TALLY_AI_OLLAMA_HOST", "OLLAMA_HOST")
	_ = v.BindEnv("storage.gcs_bucket", "TALLY_STORAGE_GCS_BUCKET")
}
