package server

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/teranos/tally/am"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/logger"
)

// getState returns the current server state
func (s *TallyServer) getState() ServerState {
	return ServerState(s.state.Load())
}

// setState atomically updates the server state
func (s *TallyServer) setState(newState ServerState) {
	s.state.Store(int32(newState))
	s.logger.Infow("Server state changed", "new_state", stateString(newState))
}

// stateString returns human-readable state name
func stateString(state ServerState) string {
	switch state {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// startBackgroundServices starts the dispatcher and the config watcher
func (s *TallyServer) startBackgroundServices() {
	s.pool.Start()
	s.logger.Infow("Pipeline dispatcher started")

	if s.configWatcher != nil {
		s.configWatcher.OnReload(s.applyConfig)
		s.configWatcher.Start()
		s.logger.Infow("Config watcher started")
	}
}

// applyConfig applies the settings that can change without a restart
func (s *TallyServer) applyConfig(newCfg *am.Config) error {
	if newCfg.Log.Level != "" {
		if err := logger.SetLevel(newCfg.Log.Level); err != nil {
			return err
		}
	}
	if s.aiRate != nil {
		s.aiRate.SetRate(newCfg.AI.RequestsPerMinute)
	}
	s.logger.Infow("Config reloaded",
		"log_level", newCfg.Log.Level,
		"ai_requests_per_minute", newCfg.AI.RequestsPerMinute,
	)
	return nil
}

// Start listens on port and serves until Stop. It returns nil after a clean
// shutdown.
func (s *TallyServer) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return errors.Wrapf(err, "failed to listen on port %d", port)
	}
	return s.Serve(ln)
}

// Serve runs the server on an existing listener
func (s *TallyServer) Serve(ln net.Listener) error {
	s.startBackgroundServices()

	s.logger.Infow(fmt.Sprintf("HTTP server listening on %s", ln.Addr()),
		logger.FieldAddress, ln.Addr().String(),
	)
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Stop drains the server. The dispatcher is stopped first so in-flight
// documents finish before the database is closed by the caller.
func (s *TallyServer) Stop() error {
	s.logger.Infow("Initiating server shutdown")
	s.setState(ServerStateDraining)

	s.logger.Infow("Stopping pipeline dispatcher")
	s.pool.Stop()
	s.logger.Infow("Pipeline dispatcher stopped")

	var shutdownErr error
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warnw("HTTP shutdown timed out, forcing close",
			"timeout", ShutdownTimeout,
			logger.FieldError, err,
		)
		_ = s.httpServer.Close()
		shutdownErr = errors.Wrap(err, "http shutdown")
	}

	// Cancel request contexts still held by handlers
	s.cancel()

	if s.configWatcher != nil {
		if err := s.configWatcher.Stop(); err != nil {
			s.logger.Warnw("Failed to stop config watcher", logger.FieldError, err)
		} else {
			s.logger.Infow("Config watcher stopped")
		}
	}

	s.setState(ServerStateStopped)
	s.logger.Infow("Server shutdown complete")
	return shutdownErr
}
