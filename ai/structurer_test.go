package ai

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tally/errors"
)

type fakeGenerator struct {
	response string
	err      error
	delay    time.Duration
	calls    atomic.Int32
	prompt   atomic.Value
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls.Add(1)
	f.prompt.Store(prompt)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", errors.Wrap(ctx.Err(), "generate")
		}
	}
	return f.response, f.err
}

func (f *fakeGenerator) Provider() string { return "fake" }
func (f *fakeGenerator) Model() string    { return "fake-1" }

func TestExtractStructuredSuccess(t *testing.T) {
	gen := &fakeGenerator{response: `{"merchant":"Carrefour","date":"2024-01-15","total_amount":7.99,"currency":"EUR"}`}
	res := NewClient(gen, time.Second, nil).ExtractStructured(context.Background(), "CARREFOUR 15/01/2024 TOTAL 7.99", []string{"Courses"})

	got, ok := res.(Extracted)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, "Carrefour", got.Extraction.Merchant)
	assert.Contains(t, gen.prompt.Load().(string), "Courses")
}

func TestExtractStructuredFailures(t *testing.T) {
	tests := []struct {
		name    string
		gen     *fakeGenerator
		timeout time.Duration
		want    Reason
	}{
		{"unavailable", &fakeGenerator{err: errors.New("connection refused")}, time.Second, ReasonUnavailable},
		{"timeout", &fakeGenerator{delay: time.Second}, 20 * time.Millisecond, ReasonTimeout},
		{"not json", &fakeGenerator{response: "I cannot help with that"}, time.Second, ReasonMalformed},
		{"empty", &fakeGenerator{response: "   "}, time.Second, ReasonMalformed},
		{"undecodable", &fakeGenerator{err: errors.Mark(errors.New("bad body"), ErrMalformedResponse)}, time.Second, ReasonMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewClient(tt.gen, tt.timeout, nil).ExtractStructured(context.Background(), "text", nil)
			failed, ok := res.(Failed)
			require.True(t, ok, "got %T", res)
			assert.Equal(t, tt.want, failed.Reason)
			assert.Error(t, failed.Err)
		})
	}
}

func TestExtractStructuredEmptyInput(t *testing.T) {
	gen := &fakeGenerator{response: `{}`}
	res := NewClient(gen, time.Second, nil).ExtractStructured(context.Background(), " \n ", nil)
	_, ok := res.(Failed)
	assert.True(t, ok)
	assert.Zero(t, gen.calls.Load())
}

func TestMatchTags(t *testing.T) {
	assert.Equal(t, []string{"Courses"},
		MatchTags([]string{"courses", "COURSES", "Unknown"}, []string{"Courses", "Restaurant"}))
	assert.Equal(t, []string{"a", "B"}, MatchTags([]string{"a", "B", "A"}, nil))
	assert.Equal(t, []string{}, MatchTags(nil, []string{"Courses"}))
}

func TestRateLimitedWaitCountsAgainstTimeout(t *testing.T) {
	gen := &fakeGenerator{response: `{"merchant":"x"}`}
	limited := NewRateLimited(gen, 1)
	s := NewClient(limited, 50*time.Millisecond, nil)

	_, ok := s.ExtractStructured(context.Background(), "text", nil).(Extracted)
	require.True(t, ok, "first call uses the initial burst")

	res := s.ExtractStructured(context.Background(), "text", nil)
	failed, ok := res.(Failed)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, ReasonTimeout, failed.Reason)
	assert.True(t, errors.Is(failed.Err, ErrRateLimited))
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestRateLimitedSetRate(t *testing.T) {
	gen := &fakeGenerator{response: `{}`}
	limited := NewRateLimited(gen, 0)
	assert.Equal(t, 0.0, limited.Limit())

	for i := 0; i < 5; i++ {
		_, err := limited.Generate(context.Background(), "p")
		require.NoError(t, err)
	}

	limited.SetRate(30)
	assert.InDelta(t, 30.0, limited.Limit(), 0.001)
	assert.Equal(t, "fake", limited.Provider())
	assert.Equal(t, "fake-1", limited.Model())
}
