package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tally/db"
	"github.com/teranos/tally/errors"
)

// MigrateCmd applies pending database migrations
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  "Create the database if needed and apply any embedded migrations that have not run yet.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		applied, err := db.AppliedVersions(database)
		if err != nil {
			return errors.Wrap(err, "failed to list applied migrations")
		}

		pterm.Success.Printfln("Database %s is up to date", cfg.Database.Path)
		items := make([]pterm.BulletListItem, 0, len(applied))
		for _, v := range applied {
			items = append(items, pterm.BulletListItem{Level: 0, Text: v})
		}
		return pterm.DefaultBulletList.WithItems(items).Render()
	},
}
