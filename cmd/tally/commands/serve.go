package commands

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tally/ai/provider"
	"github.com/teranos/tally/am"
	"github.com/teranos/tally/document"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/ingest"
	"github.com/teranos/tally/logger"
	"github.com/teranos/tally/ocr"
	"github.com/teranos/tally/pipeline"
	"github.com/teranos/tally/pulse/async"
	"github.com/teranos/tally/server"
	"github.com/teranos/tally/storage"
	"github.com/teranos/tally/tracker"
)

// ServeCmd starts the HTTP API and the background pipeline
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the tally HTTP API and document pipeline",
	Long: `Start the HTTP API for uploads and status polling, together with the
background dispatcher that runs OCR and structured extraction.

Documents left processing by a previous run are marked as interrupted on
startup; reprocess them to try again.`,
	RunE: runServe,
}

var (
	serveNoWatch bool
	servePort    int
)

func init() {
	ServeCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Do not reload the config file on change")
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	database, err := openDatabase(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	files, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return errors.Wrap(err, "failed to open file storage")
	}
	if closer, ok := files.(io.Closer); ok {
		defer closer.Close()
	}

	docs := document.NewStore(database)
	calls := tracker.New(database, logger.ComponentLogger("tracker"))

	ocrClient := ocr.NewClient(ocr.Config{
		URL:     cfg.OCR.URL,
		Timeout: time.Duration(cfg.OCR.TimeoutSeconds) * time.Second,
		Logger:  logger.ComponentLogger("ocr"),
	})
	structurer, err := provider.New(cfg, logger.ComponentLogger("ai"))
	if err != nil {
		return errors.Wrap(err, "failed to configure AI provider")
	}

	orchestrator := pipeline.New(docs, ocrClient, structurer, pipeline.Config{
		LowConfidenceThreshold: cfg.OCR.LowConfidenceThreshold,
		Location:               cfg.Location(),
		Tracker:                calls,
	}, logger.ComponentLogger("pipeline"))

	pool := async.NewWorkerPool(ctx, docs, async.PoolConfigFromAM(cfg.Pipeline, pipeline.HandlerName), logger.Logger)
	pool.Registry().Register(orchestrator)

	intake := ingest.New(files, docs, pool, cfg.MaxUploadBytes(), logger.ComponentLogger("ingest"))

	var watcher *am.ConfigWatcher
	if used := am.FilesUsed(); !serveNoWatch && len(used) > 0 {
		// The last merged file has the highest precedence
		watcher, err = am.NewConfigWatcher(used[len(used)-1], logger.ComponentLogger("config"))
		if err != nil {
			logger.Warnw("Failed to create config watcher, restart to apply config changes", logger.FieldError, err)
			watcher = nil
		}
	}

	srv, err := server.New(cfg, server.Deps{
		Ingest:    intake,
		Documents: docs,
		Pool:      pool,
		OCR:       ocrClient,
		Usage:     calls,
		AIRate:    structurer.Limiter,
		Watcher:   watcher,
	}, logger.ComponentLogger("server"))
	if err != nil {
		return errors.Wrap(err, "failed to create server")
	}

	port := cfg.GetServerPort()
	if servePort > 0 {
		port = servePort
	}
	printStartupBanner(cfg, port, structurer.Provider(), structurer.Model())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(port)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil {
			return errors.Wrap(err, "server failed")
		}
		return nil
	case <-sigChan:
		pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			shutdownDone <- srv.Stop()
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("Force shutdown, exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}
