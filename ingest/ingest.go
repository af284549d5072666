// Package ingest accepts uploads and reprocess requests and hands documents
// to the dispatcher. It never waits for OCR or extraction.
package ingest

import (
	"context"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/tally/document"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/logger"
	"github.com/teranos/tally/pipeline"
	"github.com/teranos/tally/pulse/async"
	"github.com/teranos/tally/storage"
)

// DefaultMaxBytes is the upload limit when none is configured
const DefaultMaxBytes = 50 << 20

// Upload and reprocess errors. Each keeps its own identity; the generic
// class (invalid request, too large) is marked where it is returned.
var (
	// ErrUnsupportedType rejects files outside the extension allowlist
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrTooLarge rejects uploads over the configured limit
	ErrTooLarge = errors.New("file too large")
	// ErrEmptyFile rejects zero-byte uploads
	ErrEmptyFile = errors.New("file is empty")
	// ErrFileMissing means a reprocess found no stored file to read
	ErrFileMissing = errors.New("stored file is missing")
)

// contentTypes is the extension allowlist
var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
}

// AllowedExtensions returns the accepted extensions, sorted
func AllowedExtensions() []string {
	exts := make([]string, 0, len(contentTypes))
	for ext := range contentTypes {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Documents is the slice of document.Store used here
type Documents interface {
	Create(ctx context.Context, doc *document.Document) error
	Get(ctx context.Context, id string) (*document.Document, error)
	ResetForReprocess(ctx context.Context, id string) (*document.Document, error)
}

// Dispatcher takes a document id for background processing without
// blocking. async.WorkerPool satisfies it.
type Dispatcher interface {
	Submit(documentID, source string) bool
}

// Upload is one incoming file
type Upload struct {
	OwnerID  string
	Filename string
	Body     io.Reader
}

// Service ingests uploads
type Service struct {
	files    storage.Store
	docs     Documents
	dispatch Dispatcher
	maxBytes int64
	logger   *zap.SugaredLogger
}

// New creates the ingestion service. maxBytes <= 0 uses DefaultMaxBytes.
func New(files storage.Store, docs Documents, dispatch Dispatcher, maxBytes int64, log *zap.SugaredLogger) *Service {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{files: files, docs: docs, dispatch: dispatch, maxBytes: maxBytes, logger: log}
}

// MaxBytes returns the upload limit
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// Upload stores the file, creates a pending document and enqueues it.
// No document exists unless the file was stored; a stored file is removed
// again if the document cannot be created.
func (s *Service) Upload(ctx context.Context, u Upload) (*document.Document, error) {
	ext := strings.ToLower(filepath.Ext(u.Filename))
	contentType, ok := contentTypes[ext]
	if !ok {
		err := errors.WithHintf(errors.Wrapf(ErrUnsupportedType, "%q", ext),
			"accepted: %s", strings.Join(AllowedExtensions(), " "))
		return nil, errors.Mark(err, errors.ErrInvalidRequest)
	}

	name := uuid.NewString() + ext
	ref, size, err := s.files.Save(ctx, name, &capReader{r: u.Body, remaining: s.maxBytes})
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return nil, errors.Mark(errors.Wrapf(err, "upload exceeds %d bytes", s.maxBytes), errors.ErrTooLarge)
		}
		s.logger.Errorw("Failed to store upload", logger.FieldFile, name, logger.FieldError, err)
		return nil, errors.Mark(errors.Wrap(err, "failed to store file"), pipeline.ErrIngestion)
	}
	if size == 0 {
		s.removeStored(ctx, ref)
		return nil, errors.Mark(ErrEmptyFile, errors.ErrInvalidRequest)
	}

	doc := &document.Document{
		OwnerID:      u.OwnerID,
		FileRef:      ref,
		OriginalName: filepath.Base(u.Filename),
		FileType:     contentType,
		FileSize:     size,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		s.removeStored(ctx, ref)
		s.logger.Errorw("Failed to create document", logger.FieldFile, ref, logger.FieldError, err)
		return nil, errors.Mark(errors.Wrap(err, "failed to create document"), pipeline.ErrIngestion)
	}

	s.logger.Infow("Document uploaded",
		logger.FieldDocumentID, doc.ID,
		logger.FieldOwnerID, doc.OwnerID,
		logger.FieldSize, size,
		"file_type", contentType,
	)
	s.submit(doc.ID, async.SourceUpload)
	return doc, nil
}

// Reprocess resets a completed or failed document to pending and enqueues it.
// A document that is pending or processing yields a conflict.
func (s *Service) Reprocess(ctx context.Context, id string) (*document.Document, error) {
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	exists, err := s.files.Exists(ctx, doc.FileRef)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to check stored file for document %s", id)
	}
	if !exists {
		return nil, errors.Mark(errors.Wrapf(ErrFileMissing, "document %s", id), errors.ErrInvalidRequest)
	}

	doc, err = s.docs.ResetForReprocess(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Infow("Document reset for reprocessing", logger.FieldDocumentID, id, "attempts", doc.Attempts)
	s.submit(id, async.SourceReprocess)
	return doc, nil
}

// submit enqueues id. A dropped signal is not an error: the document is
// durable as pending and the dispatcher's sweep finds it.
func (s *Service) submit(id, source string) {
	if s.dispatch == nil {
		return
	}
	if !s.dispatch.Submit(id, source) {
		s.logger.Warnw("Dispatch signal dropped, waiting for sweep", logger.FieldDocumentID, id)
	}
}

func (s *Service) removeStored(ctx context.Context, ref string) {
	if err := s.files.Delete(context.WithoutCancel(ctx), ref); err != nil {
		s.logger.Warnw("Failed to remove stored file", logger.FieldFile, ref, logger.FieldError, err)
	}
}

// capReader fails once more than remaining bytes have been read
type capReader struct {
	r         io.Reader
	remaining int64
}

func (c *capReader) Read(p []byte) (int, error) {
	if c.remaining < 0 {
		return 0, ErrTooLarge
	}
	// Read one byte past the limit to tell "exactly max" from "over"
	if int64(len(p)) > c.remaining+1 {
		p = p[:c.remaining+1]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, ErrTooLarge
	}
	return n, err
}
