// Package pipeline runs a claimed document through OCR and structured
// extraction and persists the merged result.
//
//	pending ──claim──▶ processing ──OCR fails────────────▶ error
//	                       │
//	                       ├──OCR ok, AI ok or fallback──▶ completed
//	                       └──write fails────────────────▶ error
//
// AI failures never fail a document: the fallback extraction is stored and
// the run completes with the OCR text intact.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/tally/ai"
	"github.com/teranos/tally/document"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/logger"
	"github.com/teranos/tally/ocr"
	"github.com/teranos/tally/pulse/async"
	"github.com/teranos/tally/tracker"
)

// HandlerName routes dispatch jobs to the orchestrator
const HandlerName = "document.process"

// DefaultLowConfidenceThreshold flags OCR results below 60%
const DefaultLowConfidenceThreshold = 60.0

// OCRProvider is recorded as the provider of OCR calls
const OCRProvider = "paddleocr"

// Store is the slice of document.Store the orchestrator drives
type Store interface {
	Claim(ctx context.Context, id string) (*document.Document, error)
	Fail(ctx context.Context, id string, message string) error
	Complete(ctx context.Context, id string, c document.Completion) error
}

// CallTracker records adapter calls; tracker.Tracker satisfies it
type CallTracker interface {
	Track(ctx context.Context, call tracker.Call)
}

// TagSource lists the tag names an owner has defined
type TagSource interface {
	TagNames(ctx context.Context, ownerID string) ([]string, error)
}

// describer is implemented by structurers that know their backend
type describer interface {
	Provider() string
	Model() string
}

// Config tunes the orchestrator
type Config struct {
	// LowConfidenceThreshold is on the 0..100 scale
	LowConfidenceThreshold float64
	// Location is used to date documents the model could not date
	Location *time.Location
	// Tags is optional
	Tags TagSource
	// Tracker is optional
	Tracker CallTracker
}

// Orchestrator executes one document run per claim
type Orchestrator struct {
	store  Store
	ocr    ocr.Extractor
	ai     ai.Structurer
	cfg    Config
	logger *zap.SugaredLogger
	now    func() time.Time
}

var _ async.JobHandler = (*Orchestrator)(nil)

// New creates an orchestrator. Adapters are built once by the caller and
// shared by every run.
func New(store Store, extractor ocr.Extractor, structurer ai.Structurer, cfg Config, log *zap.SugaredLogger) *Orchestrator {
	if cfg.LowConfidenceThreshold <= 0 {
		cfg.LowConfidenceThreshold = DefaultLowConfidenceThreshold
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Orchestrator{
		store:  store,
		ocr:    extractor,
		ai:     structurer,
		cfg:    cfg,
		logger: log,
		now:    time.Now,
	}
}

// Name implements async.JobHandler
func (o *Orchestrator) Name() string {
	return HandlerName
}

// Execute implements async.JobHandler
func (o *Orchestrator) Execute(ctx context.Context, job *async.Job) error {
	return o.Process(ctx, job.DocumentID)
}

// Process claims id and runs it to completed or error.
//
// A rejected claim returns nil: the document is already running or no longer
// pending, and the signal was a duplicate. If ctx is cancelled mid-run the
// document is left processing for orphan recovery instead of being failed
// with a misleading message.
func (o *Orchestrator) Process(ctx context.Context, id string) error {
	log := o.logger.With(logger.FieldDocumentID, id)

	doc, err := o.store.Claim(ctx, id)
	if err != nil {
		if errors.Is(err, document.ErrClaimRejected) {
			log.Debugw("Claim rejected, skipping", logger.FieldError, err)
			return nil
		}
		return errors.Wrapf(err, "failed to claim document %s", id)
	}
	log.Infow("Processing document", logger.FieldStage, "claimed", "attempt", doc.Attempts)

	// 1. OCR
	ocrResult, err := o.extractText(ctx, doc)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrapf(ctx.Err(), "document %s interrupted during OCR", id)
		}
		message, marked := classifyOCR(err)
		log.Warnw("OCR failed",
			logger.FieldStage, "ocr",
			logger.FieldReason, ocr.Class(err),
			logger.FieldError, err,
		)
		return o.fail(ctx, id, message, marked)
	}

	lowConfidence := ocrResult.Confidence < o.cfg.LowConfidenceThreshold
	if lowConfidence {
		log.Infow("OCR confidence is low, continuing",
			logger.FieldConfidence, ocrResult.Confidence,
			"threshold", o.cfg.LowConfidenceThreshold,
			logger.FieldReason, ErrOCRLowConfidence.Error(),
		)
	}

	// 2. Structured extraction, unconditional on confidence
	tags := o.availableTags(ctx, doc.OwnerID)
	result := o.structure(ctx, doc.ID, ocrResult.Text, tags)
	if ctx.Err() != nil {
		return errors.Wrapf(ctx.Err(), "document %s interrupted during extraction", id)
	}

	var ext document.Extraction
	var items []document.Item
	switch r := result.(type) {
	case ai.Extracted:
		ext, items = mergeExtraction(r.Extraction, ocrResult.Confidence, tags)
	case ai.Failed:
		reason, marked := classifyAI(r)
		log.Warnw("AI extraction failed, storing fallback",
			logger.FieldStage, "ai",
			logger.FieldFallback, reason,
			logger.FieldError, marked,
		)
		ext = fallbackExtraction(reason)
		items = []document.Item{}
	default:
		return errors.AssertionFailedf("unexpected structurer result %T", result)
	}
	withCreationDate(&ext, doc.CreatedAt, o.cfg.Location)

	// 3. Persist in one write
	completion := document.Completion{
		OCRText:          ocrResult.Text,
		OCRConfidence:    ocrResult.Confidence,
		OCRLowConfidence: lowConfidence,
		Extraction:       ext,
		Items:            items,
	}
	if err := o.store.Complete(ctx, id, completion); err != nil {
		marked := errors.Mark(err, ErrPersistence)
		log.Errorw("Failed to save extraction results",
			logger.FieldStage, "persist",
			logger.FieldError, err,
		)
		return o.fail(ctx, id, ErrPersistence.Error(), marked)
	}

	log.Infow("Document completed",
		logger.FieldStatus, document.StatusCompleted,
		"doc_type", ext.DocType,
		"source", ext.Source,
		logger.FieldItems, len(items),
		logger.FieldConfidence, ext.Confidence,
	)
	return nil
}

func (o *Orchestrator) extractText(ctx context.Context, doc *document.Document) (ocr.Result, error) {
	start := o.now()
	res, err := o.ocr.Extract(ctx, doc.FileRef)

	call := tracker.Call{
		DocumentID: doc.ID,
		Adapter:    tracker.AdapterOCR,
		Provider:   OCRProvider,
		Success:    err == nil,
		Failure:    ocr.Class(err),
		Duration:   o.now().Sub(start),
		RequestAt:  start,
	}
	if err == nil {
		confidence := res.Confidence
		call.Confidence = &confidence
	}
	o.track(ctx, call)
	return res, err
}

func (o *Orchestrator) structure(ctx context.Context, id, text string, tags []string) ai.Result {
	start := o.now()
	result := o.ai.ExtractStructured(ctx, text, tags)

	call := tracker.Call{
		DocumentID: id,
		Adapter:    tracker.AdapterAI,
		Duration:   o.now().Sub(start),
		RequestAt:  start,
	}
	if d, ok := o.ai.(describer); ok {
		call.Provider = d.Provider()
		call.Model = d.Model()
	}
	switch r := result.(type) {
	case ai.Extracted:
		call.Success = true
		call.Confidence = r.Extraction.Confidence
	case ai.Failed:
		call.Failure = string(r.Reason)
	}
	o.track(ctx, call)
	return result
}

func (o *Orchestrator) track(ctx context.Context, call tracker.Call) {
	if o.cfg.Tracker == nil {
		return
	}
	o.cfg.Tracker.Track(context.WithoutCancel(ctx), call)
}

// availableTags returns nil when there is no source or it fails; the model
// then suggests freely.
func (o *Orchestrator) availableTags(ctx context.Context, ownerID string) []string {
	if o.cfg.Tags == nil {
		return nil
	}
	tags, err := o.cfg.Tags.TagNames(ctx, ownerID)
	if err != nil {
		o.logger.Warnw("Failed to load tags, suggesting without them",
			logger.FieldOwnerID, ownerID,
			logger.FieldError, err,
		)
		return nil
	}
	return tags
}

// fail records message on the document and returns cause so the dispatcher
// counts the run as failed.
func (o *Orchestrator) fail(ctx context.Context, id, message string, cause error) error {
	if err := o.store.Fail(ctx, id, message); err != nil {
		o.logger.Errorw("Failed to mark document as error",
			logger.FieldDocumentID, id,
			logger.FieldError, err,
		)
		return errors.Wrapf(cause, "document %s left processing: %v", id, err)
	}
	return cause
}
