// Package ocr is the client for the OCR microservice.
package ocr

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/internal/httpclient"
)

// DefaultTimeout bounds a single OCR call
const DefaultTimeout = 30 * time.Second

// Result is the text recognised in one file
type Result struct {
	Text string
	// Confidence is on a 0..100 scale
	Confidence float64
}

// Extractor turns a stored file reference into text
type Extractor interface {
	Extract(ctx context.Context, fileRef string) (Result, error)
}

// Failure classes. Every one of them means OCR is unavailable for this run.
var (
	ErrUnreachable = errors.New("ocr service unreachable")
	ErrTimeout     = errors.New("ocr service timed out")
	ErrRejected    = errors.New("ocr service rejected the request")
	ErrEmpty       = errors.New("ocr produced no text")
	ErrMalformed   = errors.New("ocr response malformed")
)

// Class names the failure class of err for tracking
func Class(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrEmpty):
		return "empty"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "unknown"
	}
}

// Config configures a Client
type Config struct {
	URL     string
	Timeout time.Duration
	Logger  *zap.SugaredLogger
	// HTTPClient overrides the default client (tests)
	HTTPClient *httpclient.Client
}

// Client calls POST {url}/ocr
type Client struct {
	url     string
	timeout time.Duration
	http    *httpclient.Client
	logger  *zap.SugaredLogger
}

// NewClient creates an OCR client
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		// The OCR service normally runs next to us on a private network
		hc = httpclient.New(cfg.Timeout+5*time.Second, httpclient.Options{UserAgent: "tally-ocr"})
	}
	return &Client{
		url:     strings.TrimRight(cfg.URL, "/"),
		timeout: cfg.Timeout,
		http:    hc,
		logger:  cfg.Logger,
	}
}

type request struct {
	FilePath string `json:"file_path"`
}

type line struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
}

// response covers both shapes the service has shipped: the flat
// {success, text, confidence} form and the per-line extracted_text form.
type response struct {
	Success       *bool    `json:"success"`
	Text          *string  `json:"text"`
	Confidence    *float64 `json:"confidence"`
	Error         string   `json:"error"`
	ExtractedText []line   `json:"extracted_text"`
}

// Extract sends fileRef to the service and returns the recognised text.
// Errors are marked with one of the failure classes above.
func (c *Client) Extract(ctx context.Context, fileRef string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.http.PostJSON(ctx, c.url+"/ocr", request{FilePath: fileRef}, nil)
	if err != nil {
		if httpclient.IsTimeout(err) {
			return Result{}, errors.Mark(errors.Wrapf(err, "ocr call exceeded %s", c.timeout), ErrTimeout)
		}
		return Result{}, errors.Mark(errors.Wrap(err, "ocr call failed"), ErrUnreachable)
	}

	var body response
	decodeErr := json.Unmarshal(resp.Body, &body)

	if !resp.OK() {
		msg := body.Error
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(resp.Body))
		}
		err := errors.Newf("ocr service returned status %d: %s", resp.StatusCode, msg)
		return Result{}, errors.Mark(err, ErrRejected)
	}
	if decodeErr != nil {
		return Result{}, errors.Mark(errors.Wrap(decodeErr, "failed to decode ocr response"), ErrMalformed)
	}

	return decode(body)
}

func decode(body response) (Result, error) {
	if body.Success != nil && !*body.Success {
		msg := body.Error
		if msg == "" {
			msg = "unspecified failure"
		}
		return Result{}, errors.Mark(errors.Newf("ocr reported failure: %s", msg), ErrRejected)
	}

	var res Result
	switch {
	case body.Text != nil:
		// The flat form already reports a percentage
		res.Text = *body.Text
		if body.Confidence != nil {
			res.Confidence = *body.Confidence
		}
	case body.ExtractedText != nil:
		texts := make([]string, 0, len(body.ExtractedText))
		var sum float64
		var n int
		fractional := true
		for _, l := range body.ExtractedText {
			texts = append(texts, l.Text)
			if l.Confidence != nil {
				sum += *l.Confidence
				n++
				fractional = fractional && *l.Confidence <= 1
			}
		}
		res.Text = strings.Join(texts, "\n")
		if n > 0 {
			res.Confidence = sum / float64(n)
			// Per-line scores are 0..1 unless any line says otherwise
			if fractional {
				res.Confidence *= 100
			}
		}
	default:
		return Result{}, errors.Mark(errors.New("ocr response has neither text nor extracted_text"), ErrMalformed)
	}

	if strings.TrimSpace(res.Text) == "" {
		return Result{}, errors.Mark(errors.New("ocr returned empty text"), ErrEmpty)
	}
	res.Confidence = normaliseConfidence(res.Confidence)
	return res, nil
}

// normaliseConfidence clamps a percentage to 0..100 and rounds to 2 places
func normaliseConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 100 {
		c = 100
	}
	return math.Round(c*100) / 100
}

// Health probes the service root. Any HTTP answer except 503 counts as up;
// the service has no dedicated health route and 503 means the engine is
// still loading.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := c.http.Get(ctx, c.url+"/")
	if err != nil {
		return errors.Mark(errors.Wrap(err, "ocr health check failed"), ErrUnreachable)
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		return errors.Mark(errors.New("ocr engine not ready"), ErrRejected)
	}
	return nil
}
