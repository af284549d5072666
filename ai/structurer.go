package ai

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/internal/httpclient"
	"github.com/teranos/tally/logger"
)

// Client is the Structurer backed by a Generator
type Client struct {
	gen     Generator
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewClient wraps gen. timeout <= 0 means DefaultTimeout.
func NewClient(gen Generator, timeout time.Duration, log *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{gen: gen, timeout: timeout, logger: log}
}

// Provider names the backend, for tracking
func (c *Client) Provider() string { return c.gen.Provider() }

// Model names the model, for tracking
func (c *Client) Model() string { return c.gen.Model() }

// ExtractStructured prompts the model with text and parses its answer.
// The whole call, including any rate limiter wait, is bounded by the
// client timeout.
func (c *Client) ExtractStructured(ctx context.Context, text string, tags []string) Result {
	if strings.TrimSpace(text) == "" {
		return Failed{Reason: ReasonMalformed, Err: errors.New("empty input text")}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	response, err := c.gen.Generate(ctx, BuildPrompt(text, tags))
	if err != nil {
		reason := Classify(ctx, err)
		c.logger.Warnw("Structuring call failed",
			logger.FieldProvider, c.gen.Provider(),
			logger.FieldModel, c.gen.Model(),
			logger.FieldReason, string(reason),
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
			logger.FieldError, err)
		return Failed{Reason: reason, Err: err}
	}

	if strings.TrimSpace(response) == "" {
		return Failed{Reason: ReasonMalformed, Err: errors.New("empty model response")}
	}

	ext, err := Parse(response)
	if err != nil {
		c.logger.Debugw("Unparseable model response",
			logger.FieldModel, c.gen.Model(),
			"response", response,
			logger.FieldError, err)
		return Failed{Reason: ReasonMalformed, Err: err}
	}

	c.logger.Debugw("Structured extraction",
		logger.FieldModel, c.gen.Model(),
		logger.FieldItems, len(ext.Items),
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return Extracted{Extraction: ext}
}

// Classify maps a generator error to a failure reason
func Classify(ctx context.Context, err error) Reason {
	switch {
	case httpclient.IsTimeout(err), errors.Is(err, ErrRateLimited):
		return ReasonTimeout
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, ErrMalformedResponse):
		return ReasonMalformed
	default:
		return ReasonUnavailable
	}
}

// ErrMalformedResponse is returned by generators whose HTTP response
// could not be decoded at all
var ErrMalformedResponse = errors.New("malformed model response")

// MatchTags keeps the suggestions that name one of available,
// case-insensitively, returning the available spelling. With no available
// tags the suggestions are only deduplicated.
func MatchTags(suggested, available []string) []string {
	out := []string{}
	seen := make(map[string]bool)

	if len(available) == 0 {
		for _, s := range suggested {
			key := strings.ToLower(s)
			if !seen[key] {
				seen[key] = true
				out = append(out, s)
			}
		}
		return out
	}

	byName := make(map[string]string, len(available))
	for _, a := range available {
		byName[strings.ToLower(strings.TrimSpace(a))] = a
	}
	for _, s := range suggested {
		key := strings.ToLower(strings.TrimSpace(s))
		name, ok := byName[key]
		if ok && !seen[key] {
			seen[key] = true
			out = append(out, name)
		}
	}
	return out
}
