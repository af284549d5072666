package pipeline

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/teranos/tally/ai"
	"github.com/teranos/tally/document"
	"github.com/teranos/tally/internal/util"
)

// Column limits
const (
	maxTextLen     = 255
	maxUnitLen     = 50
	maxCategoryLen = 100
)

// Accepted date layouts, tried in order. Day-first before month-first: the
// documents are European.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2006/01/02",
}

var timeLayouts = []string{
	"15:04",
	"15:04:05",
	"15h04",
}

// parseDate normalises s to YYYY-MM-DD
func parseDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// parseTime normalises s to HH:MM
func parseTime(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("15:04"), true
		}
	}
	return "", false
}

func normaliseCurrency(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return document.DefaultCurrency
	}
	return util.Truncate(s, 3)
}

func clampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 100:
		return 100
	default:
		return math.Round(c*100) / 100
	}
}

func roundNull(d decimal.NullDecimal, places int32) decimal.NullDecimal {
	if !d.Valid {
		return d
	}
	return decimal.NewNullDecimal(d.Decimal.Round(places))
}

// mergeExtraction validates and normalises what the model returned. When the
// model reported no confidence the OCR confidence stands in for it.
func mergeExtraction(in ai.Extraction, ocrConfidence float64, availableTags []string) (document.Extraction, []document.Item) {
	confidence := ocrConfidence
	if in.Confidence != nil {
		confidence = *in.Confidence
	}

	out := document.Extraction{
		DocType:       document.ParseDocType(in.DocType),
		Merchant:      util.Truncate(in.Merchant, maxTextLen),
		Location:      util.Truncate(in.Location, maxTextLen),
		TotalAmount:   roundNull(in.TotalAmount, 2),
		Currency:      normaliseCurrency(in.Currency),
		IsIncome:      in.IsIncome,
		Confidence:    clampConfidence(confidence),
		Source:        document.SourceAI,
		SuggestedTags: ai.MatchTags(in.SuggestedTags, availableTags),
	}
	if d, ok := parseDate(in.Date); ok {
		out.Date = d
	}
	if t, ok := parseTime(in.Time); ok {
		out.Time = t
	}

	items := make([]document.Item, 0, len(in.Items))
	for _, it := range in.Items {
		name := util.Truncate(it.Name, maxTextLen)
		if name == "" {
			name = ai.UnknownItemName
		}
		qty := it.Quantity.Round(3)
		if qty.IsZero() {
			qty = decimal.NewFromInt(1)
		}
		items = append(items, document.Item{
			Position:   len(items),
			Name:       name,
			Quantity:   qty,
			Unit:       util.Truncate(it.Unit, maxUnitLen),
			UnitPrice:  roundNull(it.UnitPrice, 2),
			TotalPrice: roundNull(it.TotalPrice, 2),
			Category:   util.Truncate(it.Category, maxCategoryLen),
		})
	}
	return out, items
}

// fallbackExtraction is the degraded result stored when the model failed
func fallbackExtraction(reason string) document.Extraction {
	return document.Extraction{
		DocType:        document.DocTypeOther,
		Currency:       document.DefaultCurrency,
		IsIncome:       false,
		Confidence:     0,
		Source:         document.SourceFallback,
		FallbackReason: reason,
		SuggestedTags:  []string{},
	}
}

// withCreationDate fills a missing date from when the document was uploaded,
// as seen in loc.
func withCreationDate(ext *document.Extraction, createdAt time.Time, loc *time.Location) {
	if ext.Date != "" || createdAt.IsZero() {
		return
	}
	if loc == nil {
		loc = time.Local
	}
	ext.Date = createdAt.In(loc).Format("2006-01-02")
}
