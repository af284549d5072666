package pipeline

import (
	"github.com/teranos/tally/ai"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/ocr"
)

// Failure taxonomy. Adapter errors are marked with one of these so callers
// classify with errors.Is while the wrapped cause stays available for logs.
var (
	// ErrIngestion is a storage failure before any document exists
	ErrIngestion = errors.New("ingestion failed")

	// ErrOCRUnavailable ends a run in error; the user may reprocess
	ErrOCRUnavailable = errors.New("OCR unavailable")

	// ErrOCRLowConfidence is a signal only, recorded as ocr_low_confidence
	ErrOCRLowConfidence = errors.New("OCR confidence below threshold")

	// The AI failures route to the fallback extraction and still complete
	ErrAIUnavailable       = errors.New("AI unavailable")
	ErrAITimeout           = errors.New("AI timed out")
	ErrAIMalformedResponse = errors.New("AI response malformed")

	// ErrPersistence is a failure writing the merged result
	ErrPersistence = errors.New("failed to save extraction results")
)

// Fallback reasons persisted on the document
const (
	FallbackAIUnavailable = "ai_unavailable"
	FallbackAITimeout     = "ai_timeout"
	FallbackAIMalformed   = "ai_malformed_response"
)

// Messages written to error_message. They never include adapter detail.
const (
	msgOCRUnavailable = "OCR service unavailable"
	msgOCRTimeout     = "OCR service timed out"
	msgOCRRejected    = "OCR could not read the file"
	msgOCRNoText      = "no text found in document"
	msgOCRInvalid     = "OCR service returned an invalid response"
)

// classifyOCR picks the user message and marks err as ErrOCRUnavailable
func classifyOCR(err error) (string, error) {
	marked := errors.Mark(err, ErrOCRUnavailable)
	switch {
	case errors.Is(err, ocr.ErrTimeout):
		return msgOCRTimeout, marked
	case errors.Is(err, ocr.ErrRejected):
		return msgOCRRejected, marked
	case errors.Is(err, ocr.ErrEmpty):
		return msgOCRNoText, marked
	case errors.Is(err, ocr.ErrMalformed):
		return msgOCRInvalid, marked
	default:
		return msgOCRUnavailable, marked
	}
}

// classifyAI maps a failed structuring call onto the fallback reason stored
// with the document and the taxonomy.
func classifyAI(f ai.Failed) (string, error) {
	cause := f.Err
	if cause == nil {
		cause = errors.Newf("structuring failed: %s", f.Reason)
	}
	switch f.Reason {
	case ai.ReasonTimeout:
		return FallbackAITimeout, errors.Mark(cause, ErrAITimeout)
	case ai.ReasonMalformed:
		return FallbackAIMalformed, errors.Mark(cause, ErrAIMalformedResponse)
	default:
		return FallbackAIUnavailable, errors.Mark(cause, ErrAIUnavailable)
	}
}
