// Package server exposes the tally HTTP API: uploads, status polling,
// reprocessing and health.
package server

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/tally/am"
	"github.com/teranos/tally/document"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/ingest"
	"github.com/teranos/tally/pulse/async"
	"github.com/teranos/tally/tracker"
)

// Ingester accepts uploads and reprocess requests; ingest.Service
// satisfies it
type Ingester interface {
	Upload(ctx context.Context, u ingest.Upload) (*document.Document, error)
	Reprocess(ctx context.Context, id string) (*document.Document, error)
	MaxBytes() int64
}

// Documents is the read side of document.Store
type Documents interface {
	Get(ctx context.Context, id string) (*document.Document, error)
	Status(ctx context.Context, id string) (*document.StatusView, error)
	Counts(ctx context.Context) (map[document.Status]int, error)
}

// Pool is the background dispatcher; async.WorkerPool satisfies it
type Pool interface {
	Start()
	Stop()
	Stats() async.Stats
}

// HealthChecker probes a dependency; ocr.Client satisfies it
type HealthChecker interface {
	Health(ctx context.Context) error
}

// UsageSummary reports adapter call statistics; tracker.Tracker satisfies it
type UsageSummary interface {
	Summary(ctx context.Context, since time.Time) ([]tracker.Stats, error)
}

// RateSetter changes the AI request rate on config reload;
// ai.RateLimited satisfies it
type RateSetter interface {
	SetRate(requestsPerMinute float64)
}

// Deps are the components the server routes to. Ingest, Documents and Pool
// are required.
type Deps struct {
	Ingest    Ingester
	Documents Documents
	Pool      Pool
	OCR       HealthChecker
	Usage     UsageSummary
	AIRate    RateSetter
	// Watcher reloads the config file; nil disables hot reload
	Watcher *am.ConfigWatcher
}

// TallyServer serves the document API
type TallyServer struct {
	cfg           *am.Config
	ingest        Ingester
	docs          Documents
	pool          Pool
	ocr           HealthChecker
	usage         UsageSummary
	aiRate        RateSetter
	configWatcher *am.ConfigWatcher
	logger        *zap.SugaredLogger

	mux        *http.ServeMux
	httpServer *http.Server

	// Lifecycle management
	cancel context.CancelFunc
	state  atomic.Int32
}

// New creates a server. Routes are registered immediately so Handler can be
// used without Start.
func New(cfg *am.Config, deps Deps, log *zap.SugaredLogger) (*TallyServer, error) {
	if cfg == nil {
		return nil, errors.New("server config is required")
	}
	if deps.Ingest == nil || deps.Documents == nil || deps.Pool == nil {
		return nil, errors.New("server requires ingest, documents and pool")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &TallyServer{
		cfg:           cfg,
		ingest:        deps.Ingest,
		docs:          deps.Documents,
		pool:          deps.Pool,
		ocr:           deps.OCR,
		usage:         deps.Usage,
		aiRate:        deps.AIRate,
		configWatcher: deps.Watcher,
		logger:        log,
		mux:           http.NewServeMux(),
		cancel:        cancel,
	}
	s.setupHTTPRoutes()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	return s, nil
}

// Handler returns the routed API with CORS applied
func (s *TallyServer) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}
