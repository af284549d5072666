// Package tracker records every OCR and AI call in adapter_calls.
//
// Tracking is best effort: Track logs write failures and never returns
// them, so a broken tracker cannot fail a document.
package tracker

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/logger"
)

// Adapter names the external service called
type Adapter string

const (
	AdapterOCR Adapter = "ocr"
	AdapterAI  Adapter = "ai"
)

// Call is one adapter invocation
type Call struct {
	DocumentID string
	Adapter    Adapter
	Provider   string
	Model      string
	Success    bool
	// Failure is the failure class, empty on success
	Failure    string
	Confidence *float64
	Duration   time.Duration
	RequestAt  time.Time
}

// Tracker writes Calls to the database
type Tracker struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// New creates a tracker. log may be nil.
func New(db *sql.DB, log *zap.SugaredLogger) *Tracker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Tracker{db: db, logger: log}
}

// Record inserts call
func (t *Tracker) Record(ctx context.Context, call Call) error {
	var failure sql.NullString
	if call.Failure != "" {
		failure = sql.NullString{String: call.Failure, Valid: true}
	}
	var model sql.NullString
	if call.Model != "" {
		model = sql.NullString{String: call.Model, Valid: true}
	}

	_, err := t.db.ExecContext(ctx, `
		INSERT INTO adapter_calls (
			document_id, adapter, provider, model, success, failure,
			confidence, duration_ms, request_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.DocumentID, string(call.Adapter), call.Provider, model, call.Success, failure,
		call.Confidence, call.Duration.Milliseconds(), call.RequestAt.UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record %s call for document %s", call.Adapter, call.DocumentID)
	}
	return nil
}

// Track records call and logs instead of failing
func (t *Tracker) Track(ctx context.Context, call Call) {
	if err := t.Record(ctx, call); err != nil {
		t.logger.Warnw("Failed to track adapter call",
			logger.FieldDocumentID, call.DocumentID,
			logger.FieldAdapter, string(call.Adapter),
			logger.FieldError, err)
	}
}

// Stats aggregates one adapter's calls
type Stats struct {
	Adapter       Adapter        `json:"adapter"`
	Calls         int            `json:"calls"`
	Successes     int            `json:"successes"`
	SuccessRate   float64        `json:"success_rate"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
	Failures      map[string]int `json:"failures"`
}

// Summary returns per-adapter stats for calls made since the given time
func (t *Tracker) Summary(ctx context.Context, since time.Time) ([]Stats, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT adapter,
			COUNT(*),
			COUNT(CASE WHEN success = 1 THEN 1 END),
			COALESCE(AVG(duration_ms), 0)
		FROM adapter_calls
		WHERE request_timestamp >= ?
		GROUP BY adapter
		ORDER BY adapter`, since.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "failed to summarise adapter calls")
	}
	defer rows.Close()

	var out []Stats
	byAdapter := map[Adapter]int{}
	for rows.Next() {
		var s Stats
		var adapter string
		if err := rows.Scan(&adapter, &s.Calls, &s.Successes, &s.AvgDurationMS); err != nil {
			return nil, errors.Wrap(err, "failed to scan adapter summary")
		}
		s.Adapter = Adapter(adapter)
		if s.Calls > 0 {
			s.SuccessRate = float64(s.Successes) / float64(s.Calls)
		}
		s.Failures = map[string]int{}
		byAdapter[s.Adapter] = len(out)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read adapter summary")
	}

	failRows, err := t.db.QueryContext(ctx, `
		SELECT adapter, failure, COUNT(*)
		FROM adapter_calls
		WHERE request_timestamp >= ? AND success = 0 AND failure IS NOT NULL
		GROUP BY adapter, failure`, since.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "failed to summarise adapter failures")
	}
	defer failRows.Close()

	for failRows.Next() {
		var adapter, failure string
		var n int
		if err := failRows.Scan(&adapter, &failure, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan adapter failures")
		}
		if i, ok := byAdapter[Adapter(adapter)]; ok {
			out[i].Failures[failure] = n
		}
	}
	return out, failRows.Err()
}

// ForDocument lists the calls made for one document, oldest first
func (t *Tracker) ForDocument(ctx context.Context, documentID string) ([]Call, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT adapter, provider, model, success, failure, confidence, duration_ms, request_timestamp
		FROM adapter_calls
		WHERE document_id = ?
		ORDER BY request_timestamp, id`, documentID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list calls for document %s", documentID)
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		var (
			c        Call
			adapter  string
			model    sql.NullString
			failure  sql.NullString
			conf     sql.NullFloat64
			duration int64
		)
		if err := rows.Scan(&adapter, &c.Provider, &model, &c.Success, &failure, &conf, &duration, &c.RequestAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan adapter call")
		}
		c.DocumentID = documentID
		c.Adapter = Adapter(adapter)
		c.Model = model.String
		c.Failure = failure.String
		if conf.Valid {
			v := conf.Float64
			c.Confidence = &v
		}
		c.Duration = time.Duration(duration) * time.Millisecond
		calls = append(calls, c)
	}
	return calls, rows.Err()
}
