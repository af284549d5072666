// Package document holds the persisted document record, its items, and the
// status state machine the pipeline drives it through.
package document

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the durable pipeline state of a document
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// IsValidStatus returns true if the string is a known Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether only a reprocess request can leave s
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// transitions lists every allowed edge. Terminal → pending is the reprocess
// edge; nothing else moves backwards.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusError},
	StatusCompleted:  {StatusPending},
	StatusError:      {StatusPending},
}

// CanTransition reports whether from → to is an allowed edge
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DocType classifies the financial document
type DocType string

const (
	DocTypeReceipt DocType = "receipt"
	DocTypeInvoice DocType = "invoice"
	DocTypePayslip DocType = "payslip"
	DocTypeOther   DocType = "other"
)

// ParseDocType maps free text onto a known DocType, defaulting to other
func ParseDocType(s string) DocType {
	switch t := DocType(strings.ToLower(strings.TrimSpace(s))); t {
	case DocTypeReceipt, DocTypeInvoice, DocTypePayslip, DocTypeOther:
		return t
	default:
		return DocTypeOther
	}
}

// Source records whether the extraction came from the model or the fallback
type Source string

const (
	SourceAI       Source = "ai"
	SourceFallback Source = "fallback"
)

// DefaultCurrency is used whenever no valid currency was extracted
const DefaultCurrency = "EUR"

// Document is one uploaded file and everything derived from it
type Document struct {
	ID           string `json:"id"`
	OwnerID      string `json:"owner_id"`
	FileRef      string `json:"file_ref"`
	OriginalName string `json:"original_name"`
	FileType     string `json:"file_type"`
	FileSize     int64  `json:"file_size"`
	Status       Status `json:"status"`

	// Extraction is non-nil only when Status is completed
	Extraction *Extraction `json:"extraction,omitempty"`
	Items      []Item      `json:"items"`

	OCRRawText       *string  `json:"ocr_raw_text,omitempty"`
	OCRConfidence    *float64 `json:"ocr_confidence,omitempty"`
	OCRLowConfidence bool     `json:"ocr_low_confidence"`

	// ErrorMessage is non-nil iff Status is error
	ErrorMessage *string `json:"error_message,omitempty"`
	Attempts     int     `json:"attempts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Extraction holds the structured fields of a completed document
type Extraction struct {
	DocType        DocType             `json:"doc_type"`
	Date           string              `json:"date,omitempty"` // YYYY-MM-DD
	Time           string              `json:"time,omitempty"` // HH:MM
	Merchant       string              `json:"merchant,omitempty"`
	Location       string              `json:"location,omitempty"`
	TotalAmount    decimal.NullDecimal `json:"total_amount"`
	Currency       string              `json:"currency"`
	IsIncome       bool                `json:"is_income"`
	Confidence     float64             `json:"confidence"`
	Source         Source              `json:"source"`
	FallbackReason string              `json:"fallback_reason,omitempty"`
	SuggestedTags  []string            `json:"suggested_tags"`
}

// Item is one line of a document
type Item struct {
	Position   int                 `json:"position"`
	Name       string              `json:"name"`
	Quantity   decimal.Decimal     `json:"quantity"`
	Unit       string              `json:"unit,omitempty"`
	UnitPrice  decimal.NullDecimal `json:"unit_price"`
	TotalPrice decimal.NullDecimal `json:"total_price"`
	Category   string              `json:"category,omitempty"`
}

// Completion is everything the pipeline writes when a document completes
type Completion struct {
	OCRText          string
	OCRConfidence    float64
	OCRLowConfidence bool
	Extraction       Extraction
	Items            []Item
}

// StatusView is the polling contract: document only when completed, error
// only when error.
type StatusView struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Error     *string   `json:"error,omitempty"`
	Document  *Document `json:"document,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// View projects a document onto the polling contract
func (d *Document) View() *StatusView {
	v := &StatusView{
		ID:        d.ID,
		Status:    d.Status,
		UpdatedAt: d.UpdatedAt,
	}
	switch d.Status {
	case StatusCompleted:
		v.Document = d
	case StatusError:
		v.Error = d.ErrorMessage
	}
	return v
}
