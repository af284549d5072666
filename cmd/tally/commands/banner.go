package commands

import (
	"fmt"

	"github.com/pterm/pterm"

	"github.com/teranos/tally/am"
	"github.com/teranos/tally/logger"
	"github.com/teranos/tally/version"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(cfg *am.Config, port int, aiProvider, aiModel string) {
	versionInfo := version.Get()

	pterm.DefaultHeader.WithFullWidth().Println("tally")

	concurrency := "unbounded"
	if cfg.Pipeline.MaxConcurrent > 0 {
		concurrency = fmt.Sprintf("%d", cfg.Pipeline.MaxConcurrent)
	}

	rows := pterm.TableData{
		{"Version", fmt.Sprintf("%s (commit %s)", versionInfo.Version, versionInfo.Short())},
		{"Built", versionInfo.BuildTime},
		{"Listening", fmt.Sprintf("http://localhost:%d", port)},
		{"Database", cfg.Database.Path},
		{"Storage", storageLabel(cfg.Storage)},
		{"OCR", cfg.OCR.URL},
		{"AI", fmt.Sprintf("%s / %s", aiProvider, aiModel)},
		{"Concurrency", concurrency},
		{"Log level", logger.Level().String()},
	}
	_ = pterm.DefaultTable.WithData(rows).Render()

	pterm.Println()
	pterm.Info.Println("Press Ctrl+C to stop")
}

func storageLabel(s am.StorageConfig) string {
	if s.Backend == "gcs" {
		return fmt.Sprintf("gs://%s/%s", s.GCSBucket, s.GCSPrefix)
	}
	return s.UploadDir
}
