package cli

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jefrnc/das-bridge/internal/client"
	"github.com/jefrnc/das-bridge/internal/models"
	"github.com/jefrnc/das-bridge/internal/stream"
)

// addMarketDataCommands adds quote, depth, time-and-sales, chart and watch
// commands.
func addMarketDataCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newQuoteCmd(app))
	rootCmd.AddCommand(newDepthCmd(app))
	rootCmd.AddCommand(newTimeSalesCmd(app))
	rootCmd.AddCommand(newChartCmd(app))
	rootCmd.AddCommand(newWatchCmd(app))
}

func newQuoteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "quote SYMBOL",
		Short: "Fetch a one-shot quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return app.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				quote, err := c.GetQuote(ctx, args[0])
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(quote)
				}
				output.Printf("%s  %s  bid/ask %s  vol %s\n",
					quote.Symbol, FormatPrice(quote.Last),
					FormatBidAsk(quote.Bid, quote.Ask), FormatVolume(quote.Volume))
				return nil
			})
		},
	}
}

func newDepthCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "depth SYMBOL",
		Short: "Show the level-2 book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := args[0]
			return app.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.Subscribe(ctx, symbol, models.LevelDepth); err != nil {
					return err
				}
				defer c.Unsubscribe(ctx, symbol, models.LevelDepth)

				// Let the book build up.
				waitForData(ctx)

				book := c.Depth(symbol)
				if output.IsJSON() {
					return output.JSON(book)
				}
				table := NewTable(output, "MMID", "BID", "SIZE", "", "ASK", "SIZE", "MMID")
				rows := len(book.Bids)
				if len(book.Asks) > rows {
					rows = len(book.Asks)
				}
				for i := 0; i < rows; i++ {
					cells := []string{"", "", "", "", "", "", ""}
					if i < len(book.Bids) {
						cells[0] = book.Bids[i].MMID
						cells[1] = output.Green(FormatPrice(book.Bids[i].Price))
						cells[2] = FormatQuantity(book.Bids[i].Size)
					}
					if i < len(book.Asks) {
						cells[4] = output.Red(FormatPrice(book.Asks[i].Price))
						cells[5] = FormatQuantity(book.Asks[i].Size)
						cells[6] = book.Asks[i].MMID
					}
					table.AddRow(cells...)
				}
				table.Render()
				return nil
			})
		},
	}
}

// waitForData gives a fresh subscription a moment to populate.
func waitForData(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
	}
}

func newTimeSalesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "ts SYMBOL",
		Aliases: []string{"timesales"},
		Short:   "Stream time-and-sales prints",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := args[0]
			return app.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.Subscribe(ctx, symbol, models.LevelTimeSales); err != nil {
					return err
				}
				defer c.Unsubscribe(ctx, symbol, models.LevelTimeSales)

				ch := c.Hub().SubscribeSymbol(stream.TopicTimeSales, symbol)
				for {
					select {
					case <-ctx.Done():
						return nil
					case msg, ok := <-ch:
						if !ok {
							return nil
						}
						sale, isSale := msg.Payload.(models.TimeSale)
						if !isSale {
							continue
						}
						output.Printf("%s  %s  %s x %s  %s\n",
							FormatTime(sale.Timestamp), sale.Symbol,
							FormatPrice(sale.Price), FormatQuantity(sale.Size), sale.Condition)
					}
				}
			})
		},
	}
}

func newChartCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chart SYMBOL [BARS]",
		Short: "Fetch historical bars",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := args[0]
			count := 50
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return err
				}
				count = n
			}
			chartType := models.ChartMinute
			if day, _ := cmd.Flags().GetBool("daily"); day {
				chartType = models.ChartDay
			}

			return app.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				bars, err := c.GetChart(ctx, symbol, chartType, count)
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(bars)
				}
				if len(bars) == 0 {
					output.Dim("no bars returned")
					return nil
				}
				table := NewTable(output, "TIME", "OPEN", "HIGH", "LOW", "CLOSE", "VOLUME")
				for _, bar := range bars {
					table.AddRow(
						FormatDateTime(bar.Timestamp),
						FormatPrice(bar.Open), FormatPrice(bar.High),
						FormatPrice(bar.Low), FormatPrice(bar.Close),
						FormatVolume(bar.Volume))
				}
				table.Render()
				return nil
			})
		},
	}
	cmd.Flags().Bool("daily", false, "daily bars instead of minute bars")
	return cmd
}

func newWatchCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "watch SYMBOL...",
		Short: "Stream live quotes for one or more symbols",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return app.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				for _, symbol := range args {
					if err := c.Subscribe(ctx, symbol, models.LevelQuote); err != nil {
						return err
					}
					defer c.Unsubscribe(ctx, symbol, models.LevelQuote)
				}

				ch := c.Hub().Subscribe(stream.TopicQuotes)
				for {
					select {
					case <-ctx.Done():
						return nil
					case msg, ok := <-ch:
						if !ok {
							return nil
						}
						quote, isQuote := msg.Payload.(models.Quote)
						if !isQuote {
							continue
						}
						output.Printf("%s  %-8s %s  bid/ask %s  vol %s\n",
							FormatTime(quote.Timestamp), quote.Symbol, FormatPrice(quote.Last),
							FormatBidAsk(quote.Bid, quote.Ask), FormatVolume(quote.Volume))
					}
				}
			})
		},
	}
}
