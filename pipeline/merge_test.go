package pipeline

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tally/ai"
	"github.com/teranos/tally/document"
	"github.com/teranos/tally/internal/util"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2024-01-15", "2024-01-15", true},
		{"15/01/2024", "2024-01-15", true},
		{"15-01-2024", "2024-01-15", true},
		{"15.01.2024", "2024-01-15", true},
		{"2024/01/15", "2024-01-15", true},
		{" 2024-01-15 ", "2024-01-15", true},
		{"01/15/2024", "", false},
		{"15 janvier 2024", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := parseDate(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"14:32", "14:32", true},
		{"14:32:59", "14:32", true},
		{"14h32", "14:32", true},
		{"25:00", "", false},
		{"afternoon", "", false},
	}
	for _, tt := range tests {
		got, ok := parseTime(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNormaliseCurrency(t *testing.T) {
	assert.Equal(t, "EUR", normaliseCurrency(""))
	assert.Equal(t, "USD", normaliseCurrency(" usd "))
	assert.Equal(t, "EUR", normaliseCurrency("euros"))
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, clampConfidence(-5))
	assert.Equal(t, 0.0, clampConfidence(math.NaN()))
	assert.Equal(t, 100.0, clampConfidence(140))
	assert.Equal(t, 87.46, clampConfidence(87.456))
}

func TestMergeExtraction(t *testing.T) {
	in := ai.Extraction{
		DocType:     "Receipt",
		Date:        "15/01/2024",
		Time:        "18h05",
		Merchant:    "  " + strings.Repeat("C", 300),
		Location:    "Paris",
		TotalAmount: decimal.NewNullDecimal(decimal.RequireFromString("7.989")),
		Currency:    "eur",
		Confidence:  util.Ptr(88.0),
		Items: []ai.Item{
			{Name: "Lait", Quantity: decimal.RequireFromString("2.0004"), UnitPrice: decimal.NewNullDecimal(decimal.RequireFromString("0.6")), Unit: "L"},
			{Name: " ", Quantity: decimal.Zero, Category: strings.Repeat("x", 120)},
		},
		SuggestedTags: []string{"groceries", "travel", "Groceries"},
	}

	ext, items := mergeExtraction(in, 92, []string{"Groceries"})

	assert.Equal(t, document.DocTypeReceipt, ext.DocType)
	assert.Equal(t, "2024-01-15", ext.Date)
	assert.Equal(t, "18:05", ext.Time)
	assert.Len(t, []rune(ext.Merchant), maxTextLen)
	assert.Equal(t, "Paris", ext.Location)
	assert.Equal(t, "7.99", ext.TotalAmount.Decimal.String())
	assert.Equal(t, "EUR", ext.Currency)
	assert.Equal(t, 88.0, ext.Confidence)
	assert.Equal(t, document.SourceAI, ext.Source)
	assert.Empty(t, ext.FallbackReason)
	assert.Equal(t, []string{"Groceries"}, ext.SuggestedTags)

	require.Len(t, items, 2)
	assert.Equal(t, 0, items[0].Position)
	assert.Equal(t, "Lait", items[0].Name)
	assert.Equal(t, "2", items[0].Quantity.String())
	assert.Equal(t, "0.6", items[0].UnitPrice.Decimal.String())
	assert.False(t, items[0].TotalPrice.Valid)

	assert.Equal(t, 1, items[1].Position)
	assert.Equal(t, ai.UnknownItemName, items[1].Name)
	assert.Equal(t, "1", items[1].Quantity.String())
	assert.Len(t, items[1].Category, maxCategoryLen)
}

func TestMergeExtractionDefaults(t *testing.T) {
	ext, items := mergeExtraction(ai.Extraction{DocType: "bank statement", Date: "someday"}, 73.5, nil)

	assert.Equal(t, document.DocTypeOther, ext.DocType)
	assert.Empty(t, ext.Date)
	assert.Equal(t, "EUR", ext.Currency)
	assert.False(t, ext.TotalAmount.Valid)
	assert.Equal(t, 73.5, ext.Confidence, "OCR confidence stands in when the model reports none")
	assert.NotNil(t, ext.SuggestedTags)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestFallbackExtraction(t *testing.T) {
	ext := fallbackExtraction(FallbackAITimeout)

	assert.Equal(t, document.DocTypeOther, ext.DocType)
	assert.Equal(t, "EUR", ext.Currency)
	assert.False(t, ext.IsIncome)
	assert.Zero(t, ext.Confidence)
	assert.Equal(t, document.SourceFallback, ext.Source)
	assert.Equal(t, FallbackAITimeout, ext.FallbackReason)
	assert.Equal(t, []string{}, ext.SuggestedTags)
}

func TestWithCreationDate(t *testing.T) {
	created := time.Date(2024, 1, 15, 23, 30, 0, 0, time.UTC)
	paris := time.FixedZone("CET", 3600)

	ext := document.Extraction{}
	withCreationDate(&ext, created, paris)
	assert.Equal(t, "2024-01-16", ext.Date)

	ext = document.Extraction{Date: "2023-12-31"}
	withCreationDate(&ext, created, paris)
	assert.Equal(t, "2023-12-31", ext.Date, "an extracted date is kept")
}
