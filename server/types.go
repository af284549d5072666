package server

import (
	"time"

	"github.com/teranos/tally/document"
	"github.com/teranos/tally/pulse/async"
	"github.com/teranos/tally/tracker"
)

const (
	// ShutdownTimeout bounds http.Server.Shutdown after the pool has drained
	ShutdownTimeout = 10 * time.Second
	// ReadHeaderTimeout guards against slow-loris clients
	ReadHeaderTimeout = 10 * time.Second
	// OwnerHeader carries the uploading user
	OwnerHeader = "X-Owner-ID"
	// UploadField is the multipart field holding the file
	UploadField = "file"
	// multipartMemory is held in memory before spilling to temp files
	multipartMemory = 8 << 20
	// trackerWindow is how far back /health summarises adapter calls
	trackerWindow = 24 * time.Hour
)

// ServerState represents the server lifecycle state
type ServerState int

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Graceful shutdown in progress
	ServerStateStopped                     // Shutdown complete
)

// HealthResponse is served on GET /health
type HealthResponse struct {
	Status      string                  `json:"status"`
	ServerState string                  `json:"server_state"`
	Version     string                  `json:"version"`
	Commit      string                  `json:"commit"`
	BuildTime   string                  `json:"build_time"`
	Pipeline    async.Stats             `json:"pipeline"`
	Documents   map[document.Status]int `json:"documents,omitempty"`
	OCR         string                  `json:"ocr,omitempty"`
	Adapters    []tracker.Stats         `json:"adapters,omitempty"`
}
