package server

// HTTP handlers for the document API:
// - Uploads (HandleUpload)
// - Status polling (HandleStatus)
// - Full document reads (HandleDocument)
// - Reprocessing (HandleReprocess)
// - Health checks (HandleHealth)

import (
	"net/http"
	"strings"
	"time"

	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/ingest"
	"github.com/teranos/tally/logger"
	"github.com/teranos/tally/version"
)

// multipartOverhead is allowed on top of the file limit for boundaries and
// part headers
const multipartOverhead = 1 << 20

// HandleUpload stores a multipart upload and returns the pending document.
// Processing continues in the background; clients poll the status route.
func (s *TallyServer) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.ingest.MaxBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, ingest.ErrTooLarge.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form with a file field")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(UploadField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
	if owner == "" {
		owner = s.cfg.Server.DefaultOwner
	}

	doc, err := s.ingest.Upload(r.Context(), ingest.Upload{
		OwnerID:  owner,
		Filename: header.Filename,
		Body:     file,
	})
	if err != nil {
		s.writeServiceError(w, r, err, "Upload failed")
		return
	}

	_ = writeJSON(w, http.StatusCreated, doc)
}

// HandleStatus serves the polling view of a document. It reads the last
// committed row and never waits on a running execution.
func (s *TallyServer) HandleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.docs.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err, "Status lookup failed")
		return
	}
	_ = writeJSON(w, http.StatusOK, view)
}

// HandleDocument serves the full document in any status
func (s *TallyServer) HandleDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.docs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err, "Document lookup failed")
		return
	}
	_ = writeJSON(w, http.StatusOK, doc)
}

// HandleReprocess resets a finished document to pending and re-enqueues it
func (s *TallyServer) HandleReprocess(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := s.ingest.Reprocess(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err, "Reprocess failed")
		return
	}

	s.logger.Infow("Document queued for reprocessing", logger.FieldDocumentID, shortID(id))
	_ = writeJSON(w, http.StatusAccepted, doc)
}

// HandleHealth serves liveness with version and pipeline statistics.
// Dependencies that fail their probe degrade the status without failing the
// request; only a draining server answers 503.
func (s *TallyServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	versionInfo := version.Get()
	state := s.getState()

	health := HealthResponse{
		Status:      "ok",
		ServerState: stateString(state),
		Version:     versionInfo.Version,
		Commit:      versionInfo.CommitHash,
		BuildTime:   versionInfo.BuildTime,
		Pipeline:    s.pool.Stats(),
	}

	counts, err := s.docs.Counts(r.Context())
	if err != nil {
		s.logger.Warnw("Health: failed to count documents", logger.FieldError, err)
		health.Status = "degraded"
	} else {
		health.Documents = counts
	}

	if s.ocr != nil {
		if err := s.ocr.Health(r.Context()); err != nil {
			s.logger.Warnw("Health: OCR service is down", logger.FieldError, err)
			health.OCR = "down"
			health.Status = "degraded"
		} else {
			health.OCR = "up"
		}
	}

	if s.usage != nil {
		stats, err := s.usage.Summary(r.Context(), time.Now().Add(-trackerWindow))
		if err != nil {
			s.logger.Warnw("Health: failed to summarise adapter calls", logger.FieldError, err)
		} else {
			health.Adapters = stats
		}
	}

	status := http.StatusOK
	if state != ServerStateRunning {
		health.Status = stateString(state)
		status = http.StatusServiceUnavailable
	}
	_ = writeJSON(w, status, health)
}
