package server

import (
	"net/http"

	"github.com/teranos/tally/document"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/ingest"
	"github.com/teranos/tally/logger"
	"github.com/teranos/tally/pipeline"
)

// userErrors are the sentinels whose text is safe to show a client, checked
// in order. The first match wins so the most specific message is used.
var userErrors = []struct {
	err    error
	status int
}{
	{ingest.ErrUnsupportedType, http.StatusBadRequest},
	{ingest.ErrEmptyFile, http.StatusBadRequest},
	{ingest.ErrFileMissing, http.StatusBadRequest},
	{ingest.ErrTooLarge, http.StatusRequestEntityTooLarge},
	{document.ErrNotFound, http.StatusNotFound},
	{document.ErrReprocessState, http.StatusConflict},
}

// errorResponse maps err to a status code and a short client message. The
// wrapped chain never leaves the server: it may carry paths and hostnames.
func errorResponse(err error) (int, string) {
	for _, u := range userErrors {
		if errors.Is(err, u.err) {
			return u.status, u.err.Error()
		}
	}
	switch {
	case errors.IsNotFoundError(err):
		return http.StatusNotFound, "not found"
	case errors.Is(err, errors.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "file too large"
	case errors.IsConflictError(err):
		return http.StatusConflict, "resource conflict"
	case errors.IsInvalidRequestError(err):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, pipeline.ErrIngestion):
		return http.StatusInternalServerError, "failed to store file"
	case errors.IsServiceUnavailableError(err):
		return http.StatusServiceUnavailable, "service unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeServiceError logs err with its cause chain and writes the mapped
// response
func (s *TallyServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status, message := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.Errorw(msg, logger.FieldPath, r.URL.Path, "http_status", status, logger.FieldError, err)
	} else {
		s.logger.Debugw(msg, logger.FieldPath, r.URL.Path, "http_status", status, logger.FieldError, err)
	}
	writeError(w, status, message)
}
