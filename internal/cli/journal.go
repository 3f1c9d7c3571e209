package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/jefrnc/das-bridge/internal/models"
	"github.com/jefrnc/das-bridge/internal/store"
)

// addJournalCommands adds journal query commands. These read the local
// database directly; no terminal connection is needed.
func addJournalCommands(rootCmd *cobra.Command, app *App) {
	journalCmd := &cobra.Command{
		Use:   "journal",
		Short: "Query the local trading journal",
	}
	journalCmd.AddCommand(newJournalOrdersCmd(app))
	journalCmd.AddCommand(newJournalFillsCmd(app))
	rootCmd.AddCommand(journalCmd)
}

func (app *App) openJournal() (store.Journal, error) {
	return store.NewSQLiteJournal(app.Settings.Store.Path)
}

func newJournalOrdersCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List journaled orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol, _ := cmd.Flags().GetString("symbol")
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			journal, err := app.openJournal()
			if err != nil {
				return err
			}
			defer journal.Close()

			list, err := journal.Orders(cmd.Context(), store.OrderFilter{
				Symbol: symbol,
				Status: models.OrderStatus(status),
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(list)
			}
			if len(list) == 0 {
				output.Dim("no journaled orders")
				return nil
			}
			table := NewTable(output, "PLACED", "ID", "SYMBOL", "SIDE", "QTY", "FILLED", "AVG", "STATUS")
			for _, o := range list {
				table.AddRow(
					FormatDateTime(o.PlacedAt), TruncateString(o.ID, 14), o.Symbol,
					string(o.Side), FormatQuantity(o.Quantity), FormatQuantity(o.FilledQty),
					FormatPrice(o.AvgPrice), output.StatusColor(string(o.Status)))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().String("symbol", "", "filter by symbol")
	cmd.Flags().String("status", "", "filter by status")
	cmd.Flags().Int("limit", 50, "maximum rows")
	return cmd
}

func newJournalFillsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fills [SYMBOL]",
		Short: "List journaled executions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			days, _ := cmd.Flags().GetInt("days")
			symbol := ""
			if len(args) == 1 {
				symbol = args[0]
			}

			journal, err := app.openJournal()
			if err != nil {
				return err
			}
			defer journal.Close()

			since := time.Now().AddDate(0, 0, -days)
			fills, err := journal.Fills(cmd.Context(), symbol, since)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(fills)
			}
			if len(fills) == 0 {
				output.Dim("no journaled fills")
				return nil
			}
			table := NewTable(output, "TIME", "ORDER", "SYMBOL", "SIDE", "QTY", "PRICE")
			for _, f := range fills {
				table.AddRow(
					FormatDateTime(f.Timestamp), TruncateString(f.OrderID, 14),
					f.Symbol, string(f.Side), FormatQuantity(f.Quantity), FormatPrice(f.Price))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Int("days", 7, "how many days back to query")
	return cmd
}
