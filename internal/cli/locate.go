package cli

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jefrnc/das-bridge/internal/client"
	"github.com/jefrnc/das-bridge/internal/models"
)

// addLocateCommands adds short-locate commands.
func addLocateCommands(rootCmd *cobra.Command, app *App) {
	locateCmd := &cobra.Command{
		Use:   "locate",
		Short: "Short locate analysis and purchase",
		Long: `Analyze and buy short locates. Every locate is checked against the
volume and cost guards before money moves; easy-to-borrow symbols are free
and skip the guards.`,
	}
	locateCmd.AddCommand(newLocateAnalyzeCmd(app))
	locateCmd.AddCommand(newLocateEnsureCmd(app))
	locateCmd.AddCommand(newLocateAvailCmd(app))
	locateCmd.AddCommand(newLocateHoldingsCmd(app))
	rootCmd.AddCommand(locateCmd)
}

func printAnalysis(output *Output, analysis models.LocateAnalysis) {
	if analysis.Approved {
		output.Success("%s: APPROVE %s shares", analysis.Symbol, FormatQuantity(analysis.LocateShares))
	} else {
		output.Error("%s: REJECT", analysis.Symbol)
	}
	if analysis.EasyToBorrow {
		output.Info("easy to borrow, no locate fee")
	} else {
		output.Printf("rate %s/share, total %s (%.3f%% of position)\n",
			FormatRate(analysis.Rate), FormatCurrency(analysis.TotalCost), analysis.CostPercent)
	}
	for _, reason := range analysis.Reasons {
		output.Dim("  - %s", reason)
	}
}

func newLocateAnalyzeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze SYMBOL SHARES",
		Short: "Evaluate a locate without buying it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			shares, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return err
			}
			return app.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				analysis, err := c.AnalyzeLocate(ctx, args[0], shares)
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(analysis)
				}
				printAnalysis(output, analysis)
				return nil
			})
		},
	}
}

func newLocateEnsureCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "buy SYMBOL SHARES",
		Short: "Analyze and, when approved, buy a locate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			shares, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return err
			}
			return app.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				analysis, err := c.EnsureLocate(ctx, args[0], shares)
				if output.IsJSON() {
					output.JSON(analysis)
				} else {
					printAnalysis(output, analysis)
				}
				return err
			})
		},
	}
}

func newLocateAvailCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "avail SYMBOL",
		Short: "Show located shares held for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return app.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				shares, err := c.LocateAvailability(ctx, args[0])
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(map[string]interface{}{"symbol": args[0], "shares": shares})
				}
				output.Printf("%s: %s located shares available\n", args[0], FormatQuantity(shares))
				return nil
			})
		},
	}
}

func newLocateHoldingsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "holdings",
		Short: "List known locate holdings",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return app.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				holdings := c.LocateHoldings()
				if output.IsJSON() {
					return output.JSON(holdings)
				}
				if len(holdings) == 0 {
					output.Dim("no locate holdings")
					return nil
				}
				table := NewTable(output, "SYMBOL", "STATUS", "LOCATED", "UPDATED")
				for _, h := range holdings {
					located := "no"
					if h.Located {
						located = "yes"
					}
					table.AddRow(h.Symbol, h.Status, located, FormatTime(h.UpdatedAt))
				}
				table.Render()
				return nil
			})
		},
	}
}
