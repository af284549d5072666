// Package httpclient is the outbound HTTP client shared by the OCR and AI
// adapters. It validates destinations, caps response bodies and speaks JSON.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/tally/errors"
)

// DefaultMaxBodyBytes caps how much of a response body is read
const DefaultMaxBodyBytes = 8 << 20

// Options customise a Client. Zero values pick the defaults noted per field.
type Options struct {
	// BlockPrivateIP refuses loopback, RFC 1918, link-local and similar
	// destinations, including ones reached through DNS. Local OCR and Ollama
	// deployments must leave this off; hosted APIs should turn it on.
	BlockPrivateIP bool
	MaxRedirects   int   // default 5
	MaxBodyBytes   int64 // default DefaultMaxBodyBytes
	UserAgent      string
}

// Client wraps http.Client with destination checks
type Client struct {
	*http.Client
	opts Options
}

// New creates a client. The per-call deadline comes from the request
// context; timeout is a backstop for callers that pass none.
func New(timeout time.Duration, opts Options) *Client {
	if opts.MaxRedirects == 0 {
		opts.MaxRedirects = 5
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	c := &Client{
		Client: &http.Client{Timeout: timeout},
		opts:   opts,
	}

	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= c.opts.MaxRedirects {
			return errors.Newf("stopped after %d redirects", c.opts.MaxRedirects)
		}
		if err := c.validateURL(req.URL); err != nil {
			return errors.Wrap(err, "redirect blocked")
		}
		return nil
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if opts.BlockPrivateIP {
		// Check resolved addresses too, so DNS cannot point us at the LAN
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, errors.Wrap(err, "invalid address")
			}
			ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to resolve host %q", host)
			}
			for _, ip := range ips {
				if isPrivateIP(ip) {
					return nil, errors.Newf("private IP address blocked: %s", ip)
				}
			}
			return dialer.DialContext(ctx, network, addr)
		}
	}
	c.Transport = transport

	return c
}

// Wrap adapts an existing http.Client without destination checks.
// Only for tests that talk to httptest servers.
func Wrap(client *http.Client) *Client {
	return &Client{
		Client: client,
		opts:   Options{MaxRedirects: 5, MaxBodyBytes: DefaultMaxBodyBytes},
	}
}

func (c *Client) validateURL(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return errors.Newf("scheme %q not allowed", u.Scheme)
	}
	if u.User != nil {
		return errors.New("URL must not carry credentials")
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("URL missing hostname")
	}
	if c.opts.BlockPrivateIP {
		if isLocalhost(host) {
			return errors.New("localhost access blocked")
		}
		if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
			return errors.Newf("private IP address blocked: %s", host)
		}
	}
	return nil
}

// Do executes a request after validating its destination
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.validateURL(req.URL); err != nil {
		return nil, errors.Wrap(err, "request blocked")
	}
	return c.Client.Do(req)
}

// Response is a fully read, size-capped HTTP response
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// PostJSON marshals payload, posts it and reads the response body.
// Transport failures are returned as errors; HTTP error statuses are not.
func (c *Client) PostJSON(ctx context.Context, rawURL string, payload interface{}, headers map[string]string) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.read(req)
}

// Get issues a GET and reads the response body
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	return c.read(req)
}

func (c *Client) read(req *http.Request) (*Response, error) {
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}
	if int64(len(data)) > c.opts.MaxBodyBytes {
		return nil, errors.Newf("response body exceeds %d bytes", c.opts.MaxBodyBytes)
	}
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// IsTimeout reports whether err is a deadline or network timeout
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		// 0.0.0.0/8 and 240.0.0.0/4 are not routable
		return ip4[0] == 0 || ip4[0] >= 240
	}
	return false
}

func isLocalhost(host string) bool {
	host = strings.ToLower(host)
	return host == "localhost" || host == "localhost.localdomain" || strings.HasSuffix(host, ".localhost")
}
