package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jefrnc/das-bridge/internal/client"
	"github.com/jefrnc/das-bridge/internal/models"
	"github.com/jefrnc/das-bridge/internal/stream"
)

// addSessionCommands adds connection diagnostics and the monitor loop.
func addSessionCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newPingCmd(app))
	rootCmd.AddCommand(newMonitorCmd(app))
}

func newPingCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check connectivity and authentication",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return app.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.Ping(ctx); err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(map[string]string{"state": c.State().String()})
				}
				output.Success("terminal reachable, session %s", c.State())
				return nil
			})
		},
	}
}

func newMonitorCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Stream order, fill and position updates until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return app.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				orders := c.Hub().Subscribe(stream.TopicOrders)
				positions := c.Hub().Subscribe(stream.TopicPositions)
				session := c.Hub().Subscribe(stream.TopicSession)

				output.Info("monitoring, ctrl-c to stop")
				for {
					select {
					case <-ctx.Done():
						return nil
					case msg := <-orders:
						if order, ok := msg.Payload.(models.Order); ok {
							output.Printf("%s  ORDER %s %s %s %s/%s %s\n",
								FormatTime(msg.Time), TruncateString(order.ID, 14), order.Side,
								order.Symbol, FormatQuantity(order.FilledQty),
								FormatQuantity(order.Quantity), output.StatusColor(string(order.Status)))
						}
					case msg := <-positions:
						if pos, ok := msg.Payload.(models.Position); ok {
							output.Printf("%s  POS %s %s @ %s  unrealized %s\n",
								FormatTime(msg.Time), pos.Symbol, FormatQuantity(pos.Quantity),
								FormatPrice(pos.AverageCost), output.FormatPnL(pos.UnrealizedPnL))
						}
					case msg := <-session:
						if state, ok := msg.Payload.(string); ok {
							output.Warning("%s  SESSION %s", FormatTime(msg.Time), state)
						}
					}
				}
			})
		},
	}
}
