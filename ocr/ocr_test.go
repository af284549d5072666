package ocr

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tally/errors"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{URL: srv.URL + "/", Timeout: 2 * time.Second})
}

func TestExtractFlatResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ocr", r.URL.Path)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "abc.jpg", req["file_path"])
		_, _ = w.Write([]byte(`{"success":true,"text":"CARREFOUR\nTOTAL 7.99","confidence":92}`))
	})

	res, err := c.Extract(context.Background(), "abc.jpg")
	require.NoError(t, err)
	assert.Equal(t, "CARREFOUR\nTOTAL 7.99", res.Text)
	assert.Equal(t, 92.0, res.Confidence)
}

func TestExtractLineResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"extracted_text":[{"text":"CARREFOUR","confidence":0.9},{"text":"TOTAL 7.99","confidence":0.8}]}`))
	})

	res, err := c.Extract(context.Background(), "abc.jpg")
	require.NoError(t, err)
	assert.Equal(t, "CARREFOUR\nTOTAL 7.99", res.Text)
	assert.Equal(t, 85.0, res.Confidence)
}

func TestExtractFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"engine not ready", http.StatusServiceUnavailable, `{"error":"OCR service not ready"}`, ErrRejected},
		{"file missing", http.StatusNotFound, `{"error":"File not found: x.jpg"}`, ErrRejected},
		{"reported failure", http.StatusOK, `{"success":false,"error":"unreadable"}`, ErrRejected},
		{"empty text", http.StatusOK, `{"success":true,"text":"  ","confidence":10}`, ErrEmpty},
		{"no lines", http.StatusOK, `{"extracted_text":[]}`, ErrEmpty},
		{"not json", http.StatusOK, `<html>`, ErrMalformed},
		{"unknown shape", http.StatusOK, `{"foo":1}`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Extract(context.Background(), "x.jpg")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestExtractConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := NewClient(Config{URL: "http://" + addr, Timeout: time.Second})
	_, err = c.Extract(context.Background(), "x.jpg")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnreachable))
	assert.Equal(t, "unreachable", Class(err))
}

func TestExtractTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(Config{URL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Extract(context.Background(), "x.jpg")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, "timeout", Class(err))
}

func TestNormaliseConfidence(t *testing.T) {
	assert.Equal(t, 92.0, normaliseConfidence(92))
	assert.Equal(t, 92.34, normaliseConfidence(92.3449))
	assert.Equal(t, 1.0, normaliseConfidence(1))
	assert.Equal(t, 0.0, normaliseConfidence(-3))
	assert.Equal(t, 100.0, normaliseConfidence(140))
}

func TestDecodeConfidenceScale(t *testing.T) {
	tests := []struct {
		name string
		body string
		want float64
	}{
		{"flat percentage", `{"success":true,"text":"TOTAL","confidence":92}`, 92},
		{"flat low percentage stays", `{"success":true,"text":"TOTAL","confidence":1}`, 1},
		{"flat half percent stays", `{"success":true,"text":"TOTAL","confidence":0.5}`, 0.5},
		{"lines as fractions", `{"extracted_text":[{"text":"A","confidence":0.96},{"text":"B","confidence":0.5}]}`, 73},
		{"lines as percentages", `{"extracted_text":[{"text":"A","confidence":1},{"text":"B","confidence":80}]}`, 40.5},
		{"lines without scores", `{"extracted_text":[{"text":"A"}]}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body response
			require.NoError(t, json.Unmarshal([]byte(tt.body), &body))
			res, err := decode(body)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Confidence)
		})
	}
}

func TestHealth(t *testing.T) {
	up := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	assert.NoError(t, up.Health(context.Background()))

	loading := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	assert.True(t, errors.Is(loading.Health(context.Background()), ErrRejected))
}
