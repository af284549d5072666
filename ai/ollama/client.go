// Package ollama generates text with a local Ollama server.
package ollama

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/tally/ai"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/internal/httpclient"
)

const (
	DefaultHost        = "http://localhost:11434"
	DefaultModel       = "mistral"
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 2000
)

// Config holds Ollama client settings. Zero values pick the defaults.
type Config struct {
	Host        string
	Model       string
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
	Logger      *zap.SugaredLogger
	HTTPClient  *httpclient.Client
}

// Client calls POST {host}/api/generate
type Client struct {
	host   string
	config Config
	http   *httpclient.Client
	logger *zap.SugaredLogger
}

var _ ai.Generator = (*Client)(nil)

// NewClient creates an Ollama client
func NewClient(config Config) *Client {
	if config.Host == "" {
		config.Host = DefaultHost
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Temperature == nil {
		t := DefaultTemperature
		config.Temperature = &t
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultMaxTokens
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
		// Ollama listens on localhost or the compose network
		hc = httpclient.New(config.Timeout, httpclient.Options{UserAgent: "tally"})
	}
	return &Client{
		host:   strings.TrimRight(config.Host, "/"),
		config: config,
		http:   hc,
		logger: log,
	}
}

type generateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options options `json:"options"`
}

type options struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

func (c *Client) Provider() string { return "ollama" }
func (c *Client) Model() string    { return c.config.Model }

// Generate runs a single non-streaming completion
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	req := generateRequest{
		Model:  c.config.Model,
		Prompt: prompt,
		Stream: false,
		Options: options{
			Temperature: *c.config.Temperature,
			NumPredict:  c.config.MaxTokens,
		},
	}

	c.logger.Debugw("Ollama generate", "model", req.Model, "prompt_length", len(prompt))

	resp, err := c.http.PostJSON(ctx, c.host+"/api/generate", req, nil)
	if err != nil {
		return "", errors.Wrap(err, "ollama request failed")
	}

	var body generateResponse
	decodeErr := json.Unmarshal(resp.Body, &body)
	if !resp.OK() {
		msg := body.Error
		if msg == "" {
			msg = strings.TrimSpace(string(resp.Body))
		}
		return "", errors.Newf("ollama returned status %d: %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return "", errors.Mark(errors.Wrap(decodeErr, "failed to decode ollama response"), ai.ErrMalformedResponse)
	}

	c.logger.Debugw("Ollama response", "model", body.Model, "response_length", len(body.Response))
	return body.Response, nil
}

// Ping checks that the server answers GET /api/tags
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := c.http.Get(ctx, c.host+"/api/tags")
	if err != nil {
		return errors.Wrap(err, "ollama unreachable")
	}
	if !resp.OK() {
		return errors.Newf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}
