// Package openrouter generates text through the OpenRouter chat completions API.
package openrouter

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/tally/ai"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/internal/httpclient"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = "openai/gpt-4o-mini"
	maxRetries     = 3
)

// Config holds OpenRouter client settings
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64 // nil = 0.1
	MaxTokens   *int     // nil = 2000
	Timeout     time.Duration
	Logger      *zap.SugaredLogger
	HTTPClient  *httpclient.Client
}

// Client is an ai.Generator for OpenRouter
type Client struct {
	baseURL    string
	httpClient *httpclient.Client
	config     Config
	logger     *zap.SugaredLogger
	// retryDelay is the base backoff between attempts
	retryDelay time.Duration
}

var _ ai.Generator = (*Client)(nil)

// NewClient creates a new OpenRouter client with defaults applied
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Temperature == nil {
		t := 0.1
		config.Temperature = &t
	}
	if config.MaxTokens == nil {
		n := 2000
		config.MaxTokens = &n
	}
	if config.Timeout <= 0 {
		config.Timeout = ai.DefaultTimeout
	}

	log := config.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	hc := config.HTTPClient
	if hc == nil {
		// Hosted API: refuse private destinations, including via redirects
		hc = httpclient.New(config.Timeout, httpclient.Options{BlockPrivateIP: true, UserAgent: "tally"})
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: hc,
		config:     config,
		logger:     log,
		retryDelay: time.Second,
	}
}

// ChatCompletionRequest is the body of POST /chat/completions
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Message is one chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse is the reply of POST /chat/completions
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// Choice is one completion choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage is token accounting
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (c *Client) Provider() string { return "openrouter" }
func (c *Client) Model() string    { return c.config.Model }

// IsConfigured reports whether an API key is set
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// statusError is a non-2xx reply. Only 429, 502 and 503 are retried.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	return "openrouter returned status " + strconv.Itoa(e.code) + ": " + e.msg
}

// CreateChatCompletion sends one request without retries
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + c.config.APIKey,
		"X-Title":       "tally",
	}
	resp, err := c.httpClient.PostJSON(ctx, c.baseURL+"/chat/completions", req, headers)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}

	var out ChatCompletionResponse
	decodeErr := json.Unmarshal(resp.Body, &out)
	if !resp.OK() {
		msg := strings.TrimSpace(string(resp.Body))
		if decodeErr == nil && out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return nil, &statusError{code: resp.StatusCode, msg: msg}
	}
	if decodeErr != nil {
		return nil, errors.Mark(errors.Wrap(decodeErr, "failed to decode response"), ai.ErrMalformedResponse)
	}
	return &out, nil
}

// Generate sends prompt as a single user message, retrying network
// failures with linear backoff while ctx allows.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if !c.IsConfigured() {
		return "", errors.New("OpenRouter API key not configured")
	}

	req := ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: *c.config.Temperature,
		MaxTokens:   *c.config.MaxTokens,
	}

	var resp *ChatCompletionResponse
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * c.retryDelay
			c.logger.Debugw("Retrying OpenRouter request", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", errors.Wrap(ctx.Err(), "OpenRouter retry abandoned")
			}
		}

		resp, err = c.CreateChatCompletion(ctx, req)
		if err == nil {
			break
		}

		c.logger.Warnw("OpenRouter API error",
			"attempt", attempt+1, "max_retries", maxRetries, "error", err, "model", req.Model)

		if ctx.Err() != nil || !isRetryableError(err) {
			return "", errors.Wrap(err, "OpenRouter API error")
		}
	}
	if err != nil {
		return "", errors.Wrapf(err, "OpenRouter API error after %d attempts", maxRetries)
	}

	if len(resp.Choices) == 0 {
		return "", errors.Mark(errors.New("no response choices from OpenRouter"), ai.ErrMalformedResponse)
	}

	c.logger.Debugw("OpenRouter response",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// isRetryableError reports network-level failures worth another attempt
func isRetryableError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == 429 || se.code == 502 || se.code == 503
	}
	if errors.Is(err, ai.ErrMalformedResponse) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection reset by peer",
		"connection refused",
		"temporary failure",
		"network is unreachable",
		"i/o timeout",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}
