package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tally/document"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/logger"
	"github.com/teranos/tally/tracker"
)

// StatusCmd shows a document's status as the API would report it
var StatusCmd = &cobra.Command{
	Use:   "status <document-id>",
	Short: "Show a document's processing status",
	Long: `Show the status of a document and, once completed, its extracted fields
and items. Adapter calls made for the document are listed with --calls.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

var (
	statusJSON  bool
	statusCalls bool
)

func init() {
	StatusCmd.Flags().BoolVarP(&statusJSON, "json", "j", false, "Print the status view as JSON")
	StatusCmd.Flags().BoolVar(&statusCalls, "calls", false, "List OCR and AI calls for the document")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	view, err := document.NewStore(database).Status(ctx, args[0])
	if err != nil {
		if errors.IsNotFoundError(err) {
			return fmt.Errorf("no document with id %s", args[0])
		}
		return err
	}

	if statusJSON {
		data, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to encode status")
		}
		fmt.Println(string(data))
		return nil
	}

	printStatus(view)

	if statusCalls {
		calls, err := tracker.New(database, logger.Logger).ForDocument(ctx, args[0])
		if err != nil {
			return err
		}
		printCalls(calls)
	}
	return nil
}

func printStatus(view *document.StatusView) {
	switch view.Status {
	case document.StatusCompleted:
		pterm.Success.Printfln("%s is completed", view.ID)
	case document.StatusError:
		msg := ""
		if view.Error != nil {
			msg = *view.Error
		}
		pterm.Error.Printfln("%s failed: %s", view.ID, msg)
	default:
		pterm.Info.Printfln("%s is %s", view.ID, view.Status)
	}
	pterm.Printfln("Updated: %s", view.UpdatedAt.Local().Format(time.RFC3339))

	doc := view.Document
	if doc == nil || doc.Extraction == nil {
		return
	}
	ext := doc.Extraction

	total := "-"
	if ext.TotalAmount.Valid {
		total = ext.TotalAmount.Decimal.StringFixed(2) + " " + ext.Currency
	}
	rows := pterm.TableData{
		{"Type", string(ext.DocType)},
		{"Merchant", ext.Merchant},
		{"Date", ext.Date + " " + ext.Time},
		{"Total", total},
		{"Confidence", fmt.Sprintf("%.0f%%", ext.Confidence)},
		{"Source", string(ext.Source)},
	}
	if ext.FallbackReason != "" {
		rows = append(rows, []string{"Fallback", ext.FallbackReason})
	}
	if doc.OCRLowConfidence {
		rows = append(rows, []string{"OCR", "low confidence"})
	}
	_ = pterm.DefaultTable.WithData(rows).Render()

	if len(doc.Items) == 0 {
		return
	}
	items := pterm.TableData{{"#", "Item", "Qty", "Total"}}
	for _, it := range doc.Items {
		price := ""
		if it.TotalPrice.Valid {
			price = it.TotalPrice.Decimal.StringFixed(2)
		}
		items = append(items, []string{fmt.Sprintf("%d", it.Position+1), it.Name, it.Quantity.String(), price})
	}
	pterm.Println()
	_ = pterm.DefaultTable.WithHasHeader().WithData(items).Render()
}

func printCalls(calls []tracker.Call) {
	if len(calls) == 0 {
		pterm.Info.Println("No adapter calls recorded")
		return
	}
	rows := pterm.TableData{{"Adapter", "Provider", "Model", "Result", "Duration"}}
	for _, c := range calls {
		result := "ok"
		if !c.Success {
			result = c.Failure
		}
		rows = append(rows, []string{string(c.Adapter), c.Provider, c.Model, result, c.Duration.String()})
	}
	pterm.Println()
	_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
