package am

import (
	"time"

	"github.com/teranos/tally/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path cannot be empty")
	}

	// Server port: 0 is invalid (omit for default), negative is invalid
	if c.Server.Port != nil && *c.Server.Port <= 0 {
		return errors.Newf("server.port must be positive, got %d (omit for default %d)", *c.Server.Port, DefaultServerPort)
	}
	if c.Server.MaxUploadMB <= 0 {
		return errors.Newf("server.max_upload_mb must be > 0, got %d", c.Server.MaxUploadMB)
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.UploadDir == "" {
			return errors.New("storage.upload_dir cannot be empty for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return errors.New("storage.gcs_bucket cannot be empty for the gcs backend")
		}
	default:
		return errors.Newf("storage.backend must be \"local\" or \"gcs\", got %q", c.Storage.Backend)
	}

	if c.OCR.URL == "" {
		return errors.New("ocr.url cannot be empty")
	}
	if c.OCR.TimeoutSeconds <= 0 {
		return errors.Newf("ocr.timeout_seconds must be > 0, got %d", c.OCR.TimeoutSeconds)
	}
	if c.OCR.LowConfidenceThreshold < 0 || c.OCR.LowConfidenceThreshold > 100 {
		return errors.Newf("ocr.low_confidence_threshold must be within 0..100, got %g", c.OCR.LowConfidenceThreshold)
	}

	switch c.AI.Provider {
	case "ollama":
		if c.AI.Ollama.Host == "" {
			return errors.New("ai.ollama.host cannot be empty when provider is ollama")
		}
	case "openrouter":
		if c.AI.OpenRouter.APIKey == "" {
			return errors.WithHint(
				errors.New("ai.openrouter.api_key cannot be empty when provider is openrouter"),
				"set TALLY_AI_OPENROUTER_API_KEY")
		}
	default:
		return errors.Newf("ai.provider must be \"ollama\" or \"openrouter\", got %q", c.AI.Provider)
	}
	if c.AI.Model == "" {
		return errors.New("ai.model cannot be empty")
	}
	if c.AI.TimeoutSeconds <= 0 {
		return errors.Newf("ai.timeout_seconds must be > 0, got %d", c.AI.TimeoutSeconds)
	}
	if c.AI.RequestsPerMinute < 0 {
		return errors.Newf("ai.requests_per_minute must be >= 0, got %g", c.AI.RequestsPerMinute)
	}

	// Pipeline: 0 = unbounded / disabled where noted, negative = invalid
	if c.Pipeline.MaxConcurrent < 0 {
		return errors.Newf("pipeline.max_concurrent must be >= 0, got %d", c.Pipeline.MaxConcurrent)
	}
	if c.Pipeline.QueueSize <= 0 {
		return errors.Newf("pipeline.queue_size must be > 0, got %d", c.Pipeline.QueueSize)
	}
	if c.Pipeline.PollIntervalSeconds < 0 {
		return errors.Newf("pipeline.poll_interval_seconds must be >= 0, got %d", c.Pipeline.PollIntervalSeconds)
	}
	if c.Pipeline.SweepBatch <= 0 {
		return errors.Newf("pipeline.sweep_batch must be > 0, got %d", c.Pipeline.SweepBatch)
	}
	if c.Pipeline.StaleAfterSeconds <= c.OCR.TimeoutSeconds+c.AI.TimeoutSeconds {
		return errors.Newf("pipeline.stale_after_seconds (%d) must exceed ocr + ai timeouts (%d)",
			c.Pipeline.StaleAfterSeconds, c.OCR.TimeoutSeconds+c.AI.TimeoutSeconds)
	}
	if _, err := time.LoadLocation(c.Pipeline.Timezone); err != nil {
		return errors.Wrapf(err, "pipeline.timezone %q is not a known location", c.Pipeline.Timezone)
	}

	return nil
}

// Location returns the configured timezone, falling back to time.Local
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Pipeline.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
