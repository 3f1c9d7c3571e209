package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jefrnc/das-bridge/internal/client"
)

// addAccountCommands adds positions and account commands.
func addAccountCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newPositionsCmd(app))
	rootCmd.AddCommand(newBuyingPowerCmd(app))
	rootCmd.AddCommand(newShortInfoCmd(app))
}

func newPositionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "positions",
		Aliases: []string{"pos"},
		Short:   "Show open positions with P&L",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return app.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.RefreshPositions(ctx); err != nil {
					return err
				}
				positions := c.Positions()
				if output.IsJSON() {
					return output.JSON(positions)
				}
				if len(positions) == 0 {
					output.Dim("no open positions")
					return nil
				}
				table := NewTable(output, "SYMBOL", "QTY", "AVG COST", "LAST", "UNREALIZED", "REALIZED")
				for _, p := range positions {
					table.AddRow(
						p.Symbol,
						FormatQuantity(p.Quantity),
						FormatPrice(p.AverageCost),
						FormatPrice(p.LastPrice),
						output.FormatPnL(p.UnrealizedPnL),
						output.FormatPnL(p.RealizedPnL))
				}
				table.Render()
				return nil
			})
		},
	}
}

func newBuyingPowerCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "bp",
		Aliases: []string{"buying-power"},
		Short:   "Show account buying power",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return app.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				bp, err := c.BuyingPower(ctx)
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(bp)
				}
				output.Printf("Buying power:    %s\n", FormatCurrency(bp.BuyingPower))
				output.Printf("Day trading BP:  %s\n", FormatCurrency(bp.DayTradingBP))
				output.Printf("Overnight BP:    %s\n", FormatCurrency(bp.OvernightBP))
				output.Printf("Cash:            %s\n", FormatCurrency(bp.Cash))
				return nil
			})
		},
	}
}

func newShortInfoCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "shortinfo SYMBOL",
		Short: "Show shortability for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return app.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				info, err := c.ShortInfo(ctx, args[0])
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(info)
				}
				if info.Shortable {
					output.Success("%s is shortable", info.Symbol)
				} else {
					output.Warning("%s is not shortable", info.Symbol)
				}
				output.Printf("Rate:             %s\n", FormatRate(info.Rate))
				output.Printf("Available shares: %s\n", FormatQuantity(info.AvailableShares))
				return nil
			})
		},
	}
}
