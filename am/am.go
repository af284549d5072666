// Package am loads tally configuration from TOML files and TALLY_ environment
// variables.
package am

// Config represents the tally configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	OCR      OCRConfig      `mapstructure:"ocr"`
	AI       AIConfig       `mapstructure:"ai"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port           *int     `mapstructure:"port"` // nil = DefaultServerPort, 0 is invalid
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MaxUploadMB    int      `mapstructure:"max_upload_mb"`
	DefaultOwner   string   `mapstructure:"default_owner"` // used when X-Owner-ID is absent
}

// DefaultServerPort is used when server.port is omitted
const DefaultServerPort = 8000

// StorageConfig selects where uploaded files live
type StorageConfig struct {
	Backend   string `mapstructure:"backend"` // "local" or "gcs"
	UploadDir string `mapstructure:"upload_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// OCRConfig configures the OCR service client
type OCRConfig struct {
	URL                    string  `mapstructure:"url"`
	TimeoutSeconds         int     `mapstructure:"timeout_seconds"`
	LowConfidenceThreshold float64 `mapstructure:"low_confidence_threshold"` // 0..100, below = low confidence signal
}

// AIConfig configures the structured extraction provider
type AIConfig struct {
	Provider          string           `mapstructure:"provider"` // "ollama" or "openrouter"
	Model             string           `mapstructure:"model"`
	TimeoutSeconds    int              `mapstructure:"timeout_seconds"`
	Temperature       float64          `mapstructure:"temperature"`
	MaxTokens         int              `mapstructure:"max_tokens"`
	RequestsPerMinute float64          `mapstructure:"requests_per_minute"` // 0 = unlimited
	Ollama            OllamaConfig     `mapstructure:"ollama"`
	OpenRouter        OpenRouterConfig `mapstructure:"openrouter"`
}

// OllamaConfig configures a local Ollama server
type OllamaConfig struct {
	Host string `mapstructure:"host"`
}

// OpenRouterConfig configures the OpenRouter API
type OpenRouterConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// PipelineConfig configures background dispatch
type PipelineConfig struct {
	MaxConcurrent       int    `mapstructure:"max_concurrent"`        // 0 = unbounded
	QueueSize           int    `mapstructure:"queue_size"`            // buffered enqueue signals
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"` // 0 = no periodic sweep
	SweepBatch          int    `mapstructure:"sweep_batch"`
	StaleAfterSeconds   int    `mapstructure:"stale_after_seconds"`
	ShutdownSeconds     int    `mapstructure:"shutdown_seconds"`
	Timezone            string `mapstructure:"timezone"` // for the creation-date fallback
}

// LogConfig configures logging
type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
}

// GetServerPort returns the configured port or DefaultServerPort
func (c *Config) GetServerPort() int {
	if c.Server.Port == nil {
		return DefaultServerPort
	}
	return *c.Server.Port
}

// MaxUploadBytes returns the upload limit in bytes
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}
