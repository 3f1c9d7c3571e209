package cli

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jefrnc/das-bridge/internal/client"
	"github.com/jefrnc/das-bridge/internal/models"
)

// addOrderCommands adds order entry and management commands.
func addOrderCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newBuyCmd(app))
	rootCmd.AddCommand(newSellCmd(app))
	rootCmd.AddCommand(newShortCmd(app))
	rootCmd.AddCommand(newCancelCmd(app))
	rootCmd.AddCommand(newReplaceCmd(app))
	rootCmd.AddCommand(newOrdersCmd(app))
}

func addOrderFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("limit", 0, "limit price (market order when omitted)")
	cmd.Flags().Float64("stop", 0, "stop price")
	cmd.Flags().String("tif", "DAY", "time in force (DAY, GTC, IOC, FOK)")
	cmd.Flags().String("route", "AUTO", "execution route")
}

func orderRequestFromFlags(cmd *cobra.Command, side models.OrderSide, symbol string, qty int64) models.OrderRequest {
	limit, _ := cmd.Flags().GetFloat64("limit")
	stop, _ := cmd.Flags().GetFloat64("stop")
	tif, _ := cmd.Flags().GetString("tif")
	route, _ := cmd.Flags().GetString("route")

	orderType := models.TypeMarket
	switch {
	case limit > 0 && stop > 0:
		orderType = models.TypeStopLimit
	case stop > 0:
		orderType = models.TypeStopMarket
	case limit > 0:
		orderType = models.TypeLimit
	}

	return models.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		Type:       orderType,
		LimitPrice: limit,
		StopPrice:  stop,
		TIF:        models.TimeInForce(tif),
		Route:      models.Route(route),
	}
}

func runOrder(app *App, cmd *cobra.Command, side models.OrderSide, args []string) error {
	output := NewOutput(cmd)
	symbol := args[0]
	qty, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return err
	}

	return app.withClient(cmd, func(ctx context.Context, c *client.Client) error {
		req := orderRequestFromFlags(cmd, side, symbol, qty)
		order, err := c.PlaceOrder(ctx, req)
		if err != nil {
			return err
		}
		if output.IsJSON() {
			return output.JSON(order)
		}
		output.Success("Order %s: %s %s %s @ %s [%s]",
			order.ID, order.Side, FormatQuantity(order.Quantity), order.Symbol,
			priceLabel(order), output.StatusColor(string(order.Status)))
		return nil
	})
}

func priceLabel(order models.Order) string {
	if order.Type == models.TypeMarket {
		return "MKT"
	}
	return FormatPrice(order.LimitPrice)
}

func newBuyCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buy SYMBOL QTY",
		Short: "Place a buy order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrder(app, cmd, models.SideBuy, args)
		},
	}
	addOrderFlags(cmd)
	return cmd
}

func newSellCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sell SYMBOL QTY",
		Short: "Place a sell order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrder(app, cmd, models.SideSell, args)
		},
	}
	addOrderFlags(cmd)
	return cmd
}

func newShortCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "short SYMBOL QTY",
		Short: "Place a short sell order",
		Long:  "Place a short sell order. Use 'locate' first if the symbol is hard to borrow.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrder(app, cmd, models.SideShort, args)
		},
	}
	addOrderFlags(cmd)
	return cmd
}

func newCancelCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel [ORDER_ID]",
		Short: "Cancel an order, or all open orders with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			all, _ := cmd.Flags().GetBool("all")
			if !all && len(args) == 0 {
				return cmd.Help()
			}
			return app.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if all {
					if err := c.CancelAll(ctx); err != nil {
						return err
					}
					output.Success("Cancel-all submitted")
					return nil
				}
				if err := c.CancelOrder(ctx, args[0]); err != nil {
					return err
				}
				output.Success("Order %s cancelled", args[0])
				return nil
			})
		},
	}
	cmd.Flags().Bool("all", false, "cancel every open order")
	return cmd
}

func newReplaceCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replace ORDER_ID",
		Short: "Modify a live order's price or size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			qty, _ := cmd.Flags().GetInt64("qty")
			limit, _ := cmd.Flags().GetFloat64("limit")
			stop, _ := cmd.Flags().GetFloat64("stop")

			return app.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				order, err := c.ReplaceOrder(ctx, models.ModifyRequest{
					OrderID:    args[0],
					Quantity:   qty,
					LimitPrice: limit,
					StopPrice:  stop,
				})
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(order)
				}
				output.Success("Order %s replaced: %s %s @ %s",
					order.ID, FormatQuantity(order.Quantity), order.Symbol, priceLabel(order))
				return nil
			})
		},
	}
	cmd.Flags().Int64("qty", 0, "new quantity")
	cmd.Flags().Float64("limit", 0, "new limit price")
	cmd.Flags().Float64("stop", 0, "new stop price")
	return cmd
}

func newOrdersCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List tracked orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			openOnly, _ := cmd.Flags().GetBool("open")

			return app.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				// Give the terminal a moment to replay order state.
				if err := c.RefreshPositions(ctx); err != nil {
					return err
				}
				var list []models.Order
				if openOnly {
					list = c.OpenOrders()
				} else {
					list = c.Orders()
				}
				if output.IsJSON() {
					return output.JSON(list)
				}
				if len(list) == 0 {
					output.Dim("no orders")
					return nil
				}
				table := NewTable(output, "ID", "SYMBOL", "SIDE", "QTY", "FILLED", "TYPE", "PRICE", "STATUS")
				for _, o := range list {
					table.AddRow(
						TruncateString(o.ID, 14), o.Symbol, string(o.Side),
						FormatQuantity(o.Quantity), FormatQuantity(o.FilledQty),
						string(o.Type), priceLabel(o), output.StatusColor(string(o.Status)))
				}
				table.Render()
				return nil
			})
		},
	}
	cmd.Flags().Bool("open", false, "show only open orders")
	return cmd
}
