package document

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/tally/errors"
)

// Store errors. Returned errors are also marked with the generic
// errors.ErrNotFound or errors.ErrConflict the server maps to status codes.
var (
	ErrNotFound       = errors.New("document not found")
	ErrClaimRejected  = errors.New("document claim rejected")
	ErrNotProcessing  = errors.New("document is not processing")
	ErrReprocessState = errors.New("document cannot be reprocessed in its current state")
)

// Store persists documents and their items
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new document store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithClock returns a store that stamps rows using now
func (s *Store) WithClock(now func() time.Time) *Store {
	return &Store{db: s.db, now: now}
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// Create inserts a new pending document. ID and timestamps are assigned
// when empty. Any extracted state on doc is ignored.
func (s *Store) Create(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := s.timestamp()
	doc.Status = StatusPending
	doc.CreatedAt = now
	doc.UpdatedAt = now
	doc.Extraction = nil
	doc.Items = []Item{}
	doc.ErrorMessage = nil
	doc.OCRRawText = nil
	doc.OCRConfidence = nil
	doc.OCRLowConfidence = false
	doc.Attempts = 0

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, owner_id, file_ref, original_name, file_type, file_size, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.OwnerID, doc.FileRef, doc.OriginalName, doc.FileType, doc.FileSize,
		doc.Status, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create document")
	}
	return nil
}

// Get returns a document with its items in position order
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin read")
	}
	defer tx.Rollback()

	doc, err := getDocument(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Status reads the last committed snapshot for polling
func (s *Store) Status(ctx context.Context, id string) (*StatusView, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return doc.View(), nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func getDocument(ctx context.Context, q querier, id string) (*Document, error) {
	doc, err := scanDocument(q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get document %s", id)
	}

	rows, err := q.QueryContext(ctx, `SELECT `+itemColumns+` FROM document_items WHERE document_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query items for document %s", id)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to scan item for document %s", id)
		}
		doc.Items = append(doc.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read items for document %s", id)
	}
	return doc, nil
}

// ListFilter narrows List. Zero values mean no filter.
type ListFilter struct {
	OwnerID string
	Status  Status
	Limit   int
}

// List returns documents newest first, without items
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Document, error) {
	var where []string
	var args []interface{}
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + documentColumns + ` FROM documents`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list documents")
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan document")
		}
		docs = append(docs, doc)
	}
	return docs, errors.Wrap(rows.Err(), "failed to list documents")
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// compareAndSet moves id from one of from to to in a single conditional
// UPDATE. It reports whether the row moved; a false result with a nil error
// means the persisted status was not in from.
func compareAndSet(ctx context.Context, ex execer, id string, to Status, from []Status, set string, args ...interface{}) (bool, error) {
	placeholders := make([]string, len(from))
	for i, f := range from {
		if !CanTransition(f, to) {
			return false, errors.AssertionFailedf("transition %s -> %s is not allowed", f, to)
		}
		placeholders[i] = "?"
	}

	query := `UPDATE documents SET status = ?`
	if set != "" {
		query += `, ` + set
	}
	query += ` WHERE id = ? AND status IN (` + strings.Join(placeholders, ", ") + `)`

	params := append([]interface{}{to}, args...)
	params = append(params, id)
	for _, f := range from {
		params = append(params, f)
	}

	res, err := ex.ExecContext(ctx, query, params...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// currentStatus distinguishes a lost compare-and-set from a missing row
func currentStatus(ctx context.Context, ex execer, id string) (Status, error) {
	var status Status
	err := ex.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound(id)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to read status of document %s", id)
	}
	return status, nil
}

// Claim atomically moves a pending document to processing and returns it.
// Only one caller can win; every other concurrent or later attempt gets
// ErrClaimRejected until the document is pending again.
func (s *Store) Claim(ctx context.Context, id string) (*Document, error) {
	ok, err := compareAndSet(ctx, s.db, id, StatusProcessing, []Status{StatusPending},
		`attempts = attempts + 1, updated_at = ?`, s.timestamp())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to claim document %s", id)
	}
	if !ok {
		status, err := currentStatus(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		return nil, conflict(ErrClaimRejected, id, status)
	}
	return s.Get(ctx, id)
}

// Fail moves a processing document to error. message must be short and
// safe to show a user.
func (s *Store) Fail(ctx context.Context, id string, message string) error {
	if strings.TrimSpace(message) == "" {
		message = "processing failed"
	}
	ok, err := compareAndSet(ctx, s.db, id, StatusError, []Status{StatusProcessing},
		`error_message = ?, updated_at = ?`, message, s.timestamp())
	if err != nil {
		return errors.Wrapf(err, "failed to mark document %s as error", id)
	}
	if !ok {
		status, err := currentStatus(ctx, s.db, id)
		if err != nil {
			return err
		}
		return conflict(ErrNotProcessing, id, status)
	}
	return nil
}

// Complete writes the merged result and moves processing → completed in one
// transaction: prior items are deleted, fields written, new items inserted.
// Nothing is visible to readers until commit.
func (s *Store) Complete(ctx context.Context, id string, c Completion) error {
	tags, err := json.Marshal(nonNilTags(c.Extraction.SuggestedTags))
	if err != nil {
		return errors.Wrap(err, "failed to encode suggested tags")
	}
	now := s.timestamp()
	ext := c.Extraction

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to begin completion of document %s", id)
	}
	defer tx.Rollback()

	ok, err := compareAndSet(ctx, tx, id, StatusCompleted, []Status{StatusProcessing}, `
		doc_type = ?, date = ?, time = ?, merchant = ?, location = ?,
		total_amount = ?, currency = ?, is_income = ?,
		extraction_confidence = ?, extraction_source = ?, fallback_reason = ?, suggested_tags = ?,
		ocr_raw_text = ?, ocr_confidence = ?, ocr_low_confidence = ?,
		error_message = NULL, updated_at = ?`,
		ext.DocType, nullString(ext.Date), nullString(ext.Time), nullString(ext.Merchant), nullString(ext.Location),
		ext.TotalAmount, ext.Currency, ext.IsIncome,
		ext.Confidence, ext.Source, nullString(ext.FallbackReason), string(tags),
		c.OCRText, c.OCRConfidence, c.OCRLowConfidence,
		now,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to write fields for document %s", id)
	}
	if !ok {
		status, err := currentStatus(ctx, tx, id)
		if err != nil {
			return err
		}
		return conflict(ErrNotProcessing, id, status)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_items WHERE document_id = ?`, id); err != nil {
		return errors.Wrapf(err, "failed to clear items for document %s", id)
	}

	for i, item := range c.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO document_items (document_id, position, name, quantity, unit, unit_price, total_price, category, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i, item.Name, item.Quantity, nullString(item.Unit), item.UnitPrice, item.TotalPrice, nullString(item.Category), now,
		)
		if err != nil {
			return errors.Wrapf(err, "failed to insert item %d for document %s", i, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "failed to commit completion of document %s", id)
	}
	return nil
}

// ResetForReprocess moves a terminal document back to pending, clearing
// extracted fields, OCR output, the error and all items in one transaction.
// A processing document yields ErrReprocessState; so does a pending one,
// which is already waiting for a run.
func (s *Store) ResetForReprocess(ctx context.Context, id string) (*Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to begin reprocess of document %s", id)
	}
	defer tx.Rollback()

	ok, err := compareAndSet(ctx, tx, id, StatusPending, []Status{StatusCompleted, StatusError}, `
		doc_type = NULL, date = NULL, time = NULL, merchant = NULL, location = NULL,
		total_amount = NULL, currency = NULL, is_income = NULL,
		extraction_confidence = NULL, extraction_source = NULL, fallback_reason = NULL, suggested_tags = NULL,
		ocr_raw_text = NULL, ocr_confidence = NULL, ocr_low_confidence = 0,
		error_message = NULL, updated_at = ?`,
		s.timestamp(),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to reset document %s", id)
	}
	if !ok {
		status, err := currentStatus(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		return nil, conflict(ErrReprocessState, id, status)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_items WHERE document_id = ?`, id); err != nil {
		return nil, errors.Wrapf(err, "failed to clear items for document %s", id)
	}

	doc, err := getDocument(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrapf(err, "failed to commit reprocess of document %s", id)
	}
	return doc, nil
}

// PendingIDs returns up to limit pending document IDs, oldest first
func (s *Store) PendingIDs(ctx context.Context, limit int) ([]string, error) {
	return s.ids(ctx, `SELECT id FROM documents WHERE status = ? ORDER BY updated_at, id LIMIT ?`, StatusPending, limit)
}

// StaleProcessingIDs returns processing documents not updated since cutoff
func (s *Store) StaleProcessingIDs(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.ids(ctx, `SELECT id FROM documents WHERE status = ? AND updated_at < ? ORDER BY updated_at, id`,
		StatusProcessing, cutoff.UTC())
}

// FailStale moves a processing document to error only if it has not been
// touched since cutoff, so a run that finished in the meantime is left alone.
func (s *Store) FailStale(ctx context.Context, id string, cutoff time.Time, message string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ? AND updated_at < ?`,
		StatusError, message, s.timestamp(), id, StatusProcessing, cutoff.UTC(),
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to fail stale document %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrapf(err, "failed to fail stale document %s", id)
	}
	return n == 1, nil
}

// Counts returns the number of documents per status
func (s *Store) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count documents")
	}
	defer rows.Close()

	counts := map[Status]int{
		StatusPending: 0, StatusProcessing: 0, StatusCompleted: 0, StatusError: 0,
	}
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan document count")
		}
		counts[status] = n
	}
	return counts, errors.Wrap(rows.Err(), "failed to count documents")
}

func (s *Store) ids(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query document ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan document id")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "failed to query document ids")
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func notFound(id string) error {
	return errors.Mark(errors.Wrapf(ErrNotFound, "document %s", id), errors.ErrNotFound)
}

func conflict(sentinel error, id string, status Status) error {
	return errors.Mark(errors.Wrapf(sentinel, "document %s is %s", id, status), errors.ErrConflict)
}
