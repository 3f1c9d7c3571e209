package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jefrnc/das-bridge/internal/client"
	"github.com/jefrnc/das-bridge/internal/config"
	"github.com/jefrnc/das-bridge/internal/logging"
)

// Version information
const (
	Version = "0.1.0"
)

// App holds the application dependencies.
type App struct {
	Settings *config.Settings
	Logger   zerolog.Logger
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(settings *config.Settings, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Settings: settings,
		Logger:   logger,
	}

	rootCmd := &cobra.Command{
		Use:   "das-bridge",
		Short: "das-bridge - CMD API client for the DAS terminal",
		Long: `das-bridge speaks the CMD protocol of a DAS trading terminal over TCP.

It places and manages orders, streams quotes, level-2 depth and
time-and-sales, tracks positions and P&L, and analyzes short locates
against cost and volume guards.

Use 'das-bridge help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/das-bridge)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addOrderCommands(rootCmd, app)
	addAccountCommands(rootCmd, app)
	addMarketDataCommands(rootCmd, app)
	addLocateCommands(rootCmd, app)
	addJournalCommands(rootCmd, app)
	addSessionCommands(rootCmd, app)

	return rootCmd
}

// withClient builds an engine, connects it, runs fn, and tears down. A
// SIGINT cancels the context so long-running commands exit cleanly.
func (app *App) withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := client.New(*app.Settings, app.Logger)
	if err != nil {
		return err
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Close()

	return fn(ctx, c)
}

// addCoreCommands adds version and config commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"version": Version})
			} else {
				output.Printf("das-bridge v%s\n", Version)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			conn := app.Settings.Connection
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"host":               conn.Host,
					"port":               conn.Port,
					"use_tls":            conn.UseTLS,
					"watch_mode":         conn.WatchMode,
					"command_timeout":    conn.CommandTimeout.String(),
					"heartbeat_interval": conn.HeartbeatInterval.String(),
					"account":            app.Settings.Credentials.Account,
				})
			}
			output.Info("Connection")
			output.Printf("  host:      %s:%d\n", conn.Host, conn.Port)
			output.Printf("  tls:       %v\n", conn.UseTLS)
			output.Printf("  watch:     %v\n", conn.WatchMode)
			output.Printf("  timeout:   %s\n", conn.CommandTimeout)
			output.Printf("  heartbeat: %s\n", conn.HeartbeatInterval)
			output.Info("Locates")
			output.Printf("  max volume:  %.2f%%\n", app.Settings.Locates.MaxVolumePercent)
			output.Printf("  max cost:    %.2f%% / %s\n", app.Settings.Locates.MaxCostPercent, FormatCurrency(app.Settings.Locates.MaxTotalCost))
			output.Printf("  block size:  %d\n", app.Settings.Locates.BlockSize)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration directory",
		Run: func(cmd *cobra.Command, args []string) {
			NewOutput(cmd).Println(config.DefaultConfigDir())
		},
	})

	return cmd
}
