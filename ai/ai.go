// Package ai turns OCR text into structured document fields using a
// language model.
//
// A Structurer never returns an error: every outcome is a Result, either
// Extracted or Failed. Callers switch on the concrete type.
package ai

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTimeout bounds a single structuring call
const DefaultTimeout = 120 * time.Second

// Extraction is what the model returned, read type-safely. Empty strings and
// null decimals mean the field was absent or had the wrong type.
type Extraction struct {
	DocType     string
	Date        string
	Time        string
	Merchant    string
	Location    string
	TotalAmount decimal.NullDecimal
	Currency    string
	IsIncome    bool
	// Confidence is nil when the model did not report one
	Confidence    *float64
	Items         []Item
	SuggestedTags []string
}

// Item is one extracted line
type Item struct {
	Name       string
	Quantity   decimal.Decimal
	Unit       string
	UnitPrice  decimal.NullDecimal
	TotalPrice decimal.NullDecimal
	Category   string
}

// Reason classifies a failed structuring call
type Reason string

const (
	ReasonUnavailable Reason = "unavailable"
	ReasonTimeout     Reason = "timeout"
	ReasonMalformed   Reason = "malformed"
)

// Result is either Extracted or Failed
type Result interface {
	result()
}

// Extracted carries a successfully parsed extraction
type Extracted struct {
	Extraction Extraction
}

// Failed carries the failure class and the underlying cause for logs
type Failed struct {
	Reason Reason
	Err    error
}

func (Extracted) result() {}
func (Failed) result()    {}

// Structurer extracts structured fields from OCR text. tags are the names
// the model may pick suggested_tags from; nil means none are known.
type Structurer interface {
	ExtractStructured(ctx context.Context, text string, tags []string) Result
}

// Generator is a raw text completion backend (ollama, openrouter)
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Provider() string
	Model() string
}
