// Package async runs document executions in the background with a bounded
// number of concurrent handlers.
package async

import (
	"strings"
	"time"

	"github.com/teranos/tally/errors"
)

// Job sources, recorded for logging only
const (
	SourceUpload    = "upload"
	SourceReprocess = "reprocess"
	SourceSweep     = "sweep"
)

// Job is a signal that a document may be ready to run.
//
// A Job carries no state of its own. The document row is the durable record;
// a job that arrives for a document that is no longer pending is rejected by
// the handler's claim and costs one UPDATE.
type Job struct {
	DocumentID  string    `json:"document_id"`
	HandlerName string    `json:"handler_name"`
	Source      string    `json:"source"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// NewJob creates a job routed to handlerName
func NewJob(handlerName, documentID, source string) (*Job, error) {
	if strings.TrimSpace(handlerName) == "" {
		return nil, errors.New("handlerName cannot be empty")
	}
	if strings.TrimSpace(documentID) == "" {
		return nil, errors.New("documentID cannot be empty")
	}
	if source == "" {
		source = SourceUpload
	}
	return &Job{
		DocumentID:  documentID,
		HandlerName: handlerName,
		Source:      source,
		EnqueuedAt:  time.Now(),
	}, nil
}

// Age returns how long the job waited before now
func (j *Job) Age(now time.Time) time.Duration {
	return now.Sub(j.EnqueuedAt)
}
