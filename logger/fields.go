package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging across tally.
const (
	// Identity
	FieldDocumentID = "document_id"
	FieldOwnerID    = "owner_id"
	FieldRequestID  = "request_id"

	// Components
	FieldComponent = "component"
	FieldAdapter   = "adapter"
	FieldProvider  = "provider"
	FieldModel     = "model"

	// Pipeline
	FieldStage      = "stage"
	FieldStatus     = "status"
	FieldReason     = "reason"
	FieldConfidence = "confidence"
	FieldItems      = "items"
	FieldFallback   = "fallback_reason"

	// Operations
	FieldMethod = "method"
	FieldPath   = "path"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorCode = "error_code"

	// Counts and sizes
	FieldCount = "count"
	FieldSize  = "size"

	// Files
	FieldFile = "file"

	// Network
	FieldAddress = "address"
	FieldPort    = "port"
	FieldURL     = "url"
)

type contextKey string

const (
	documentIDKey contextKey = "logger_document_id"
	requestIDKey  contextKey = "logger_request_id"
)

// WithDocumentID adds a document ID to the context for logging
func WithDocumentID(ctx context.Context, documentID string) context.Context {
	return context.WithValue(ctx, documentIDKey, documentID)
}

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FieldsFromContext extracts logging fields from context as key-value pairs.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if id, ok := ctx.Value(documentIDKey).(string); ok && id != "" {
		fields = append(fields, FieldDocumentID, id)
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		fields = append(fields, FieldRequestID, id)
	}

	return fields
}

// FromContext returns base with the context's fields attached.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection:
//
//	intake := ingest.New(files, docs, pool, maxBytes, logger.ComponentLogger("ingest"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
