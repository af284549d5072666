package document

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	all := []Status{StatusPending, StatusProcessing, StatusCompleted, StatusError}
	allowed := map[[2]Status]bool{
		{StatusPending, StatusProcessing}:   true,
		{StatusProcessing, StatusCompleted}: true,
		{StatusProcessing, StatusError}:     true,
		{StatusCompleted, StatusPending}:    true,
		{StatusError, StatusPending}:        true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, IsValidStatus("processing"))
	assert.False(t, IsValidStatus("queued"))
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
}

func TestParseDocType(t *testing.T) {
	assert.Equal(t, DocTypeReceipt, ParseDocType("receipt"))
	assert.Equal(t, DocTypeInvoice, ParseDocType(" Invoice "))
	assert.Equal(t, DocTypePayslip, ParseDocType("PAYSLIP"))
	assert.Equal(t, DocTypeOther, ParseDocType("bank statement"))
	assert.Equal(t, DocTypeOther, ParseDocType(""))
}

func TestViewShowsOnlyWhatTheStatusAllows(t *testing.T) {
	msg := "OCR service unavailable"

	failed := &Document{ID: "d1", Status: StatusError, ErrorMessage: &msg}
	v := failed.View()
	assert.Nil(t, v.Document)
	require.NotNil(t, v.Error)
	assert.Equal(t, msg, *v.Error)

	done := &Document{ID: "d2", Status: StatusCompleted, Extraction: &Extraction{DocType: DocTypeReceipt}}
	v = done.View()
	assert.Nil(t, v.Error)
	assert.Same(t, done, v.Document)

	pending := &Document{ID: "d3", Status: StatusPending}
	v = pending.View()
	assert.Nil(t, v.Error)
	assert.Nil(t, v.Document)

	raw, err := json.Marshal(pending.View())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"document"`)
	assert.NotContains(t, string(raw), `"error"`)
}
