package commands

import (
	"io"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tally/document"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/ingest"
	"github.com/teranos/tally/logger"
	"github.com/teranos/tally/storage"
)

// ReprocessCmd resets a document without going through the API
var ReprocessCmd = &cobra.Command{
	Use:   "reprocess <document-id>",
	Short: "Reset a completed or failed document to pending",
	Long: `Reset a completed or failed document to pending and clear its extracted
data. No signal reaches a running server from here: its periodic sweep picks
the document up.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		files, err := storage.New(ctx, cfg.Storage)
		if err != nil {
			return errors.Wrap(err, "failed to open file storage")
		}
		if closer, ok := files.(io.Closer); ok {
			defer closer.Close()
		}

		intake := ingest.New(files, document.NewStore(database), nil, cfg.MaxUploadBytes(), logger.ComponentLogger("ingest"))
		doc, err := intake.Reprocess(ctx, args[0])
		if err != nil {
			switch {
			case errors.IsNotFoundError(err):
				pterm.Error.Printfln("No document with id %s", args[0])
			case errors.IsConflictError(err):
				pterm.Warning.Printfln("Document %s is still pending or processing", args[0])
			case errors.Is(err, ingest.ErrFileMissing):
				pterm.Error.Printfln("The stored file for %s is gone; upload it again", args[0])
			}
			return err
		}

		pterm.Success.Printfln("%s is pending (attempt %d)", doc.ID, doc.Attempts+1)
		if cfg.Pipeline.PollIntervalSeconds > 0 {
			pterm.Info.Printfln("A running server picks it up within %ds", cfg.Pipeline.PollIntervalSeconds)
		}
		return nil
	},
}
