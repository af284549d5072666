package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/tally/am"
)

// ConfigCmd shows the effective configuration
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Display the configuration tally runs with after merging all sources.

Configuration sources (later overrides earlier):
1. Default values
2. System config (/etc/tally/tally.toml)
3. User config (~/.tally/tally.toml)
4. Project config (./tally.toml, searched up from the working directory)
5. Environment variables (TALLY_* prefix)

Examples:
  tally config                    # Show configuration as TOML
  tally config --format json      # Show configuration as JSON
  tally config validate           # Check the configuration
  tally config where              # List the files that were merged`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(cmd); err != nil {
			return err
		}
		pterm.Success.Println("Configuration is valid")
		return nil
	},
}

var configWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show which config files were merged",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(cmd); err != nil {
			return err
		}
		used := am.FilesUsed()
		if len(used) == 0 {
			pterm.Info.Println("No config files found, running on defaults and TALLY_* variables")
			return nil
		}
		items := make([]pterm.BulletListItem, 0, len(used))
		for i, path := range used {
			items = append(items, pterm.BulletListItem{Text: fmt.Sprintf("%d. %s", i+1, path)})
		}
		return pterm.DefaultBulletList.WithItems(items).Render()
	},
}

var configFormat string

func init() {
	ConfigCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	ConfigCmd.AddCommand(configValidateCmd)
	ConfigCmd.AddCommand(configWhereCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out, err := renderConfig(redacted(cfg), configFormat)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

// redacted returns a copy safe to print
func redacted(cfg *am.Config) *am.Config {
	c := *cfg
	if c.AI.OpenRouter.APIKey != "" {
		c.AI.OpenRouter.APIKey = "********"
	}
	return &c
}

func renderConfig(cfg *am.Config, format string) (string, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		return string(data) + "\n", nil

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		return "# tally configuration\n" + string(data), nil

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		return "# tally configuration\n" + string(data), nil

	default:
		return "", fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", format)
	}
}
