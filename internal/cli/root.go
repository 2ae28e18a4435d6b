// Package cli provides the command-line interface for the broker bridge.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"shoonya-bridge/internal/broker"
	"shoonya-bridge/internal/config"
	"shoonya-bridge/internal/feed"
	"shoonya-bridge/internal/gateway"
	"shoonya-bridge/internal/ledger"
	"shoonya-bridge/internal/logging"
	"shoonya-bridge/internal/models"
	"shoonya-bridge/internal/risk"
	"shoonya-bridge/internal/session"
	"shoonya-bridge/internal/store"
	"shoonya-bridge/internal/tools"
)

// Version information
const (
	Version = "0.1.0"
)

// App holds the application dependencies.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Broker  broker.Broker
	Session *session.Manager
	Gateway *gateway.Gateway
	Feed    *feed.Multiplexer
	Service *tools.Service
	Journal *store.Journal
}

// NewApp wires the core components for the configured mode.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	app := &App{Config: cfg, Logger: logger}

	if cfg.IsSimMode() {
		app.Broker = broker.NewSimBroker()
		logger.Debug().Msg("Simulated broker selected")
	} else {
		app.Broker = broker.NewShoonyaBroker(broker.ShoonyaConfig{
			Timeout: cfg.Bridge.UpstreamTimeout,
		})
		logger.Debug().Msg("Shoonya broker selected")
	}

	app.Session = session.NewManager(app.Broker, logger)
	orders := ledger.New()
	policy := risk.NewPolicy(cfg.Risk.MaxOrderQuantity, cfg.Risk.MaxOrderValue)
	app.Gateway = gateway.New(app.Broker, app.Session, policy, orders, logger, cfg.Bridge.UpstreamTimeout)

	if cfg.Bridge.JournalPath != "" {
		journal, err := store.NewJournal(cfg.Bridge.JournalPath)
		if err != nil {
			logger.Warn().Err(err).Msg("Order journal unavailable")
		} else {
			app.Journal = journal
			orders.OnTransition(func(o models.Order, from, to models.OrderState) {
				if err := journal.Record(o, from, to); err != nil {
					logger.Warn().Err(err).Str("local_id", o.LocalID).Msg("Journal write failed")
				}
			})
		}
	}

	app.Feed = feed.NewMultiplexer(feed.Config{
		BufferSize:           cfg.Feed.BufferSize,
		SubscriberBufferSize: cfg.Feed.SubscriberBufferSize,
		ReconnectMaxRetries:  cfg.Feed.ReconnectMaxRetries,
		ReconnectBaseDelay:   cfg.Feed.ReconnectBaseDelay,
	}, app.Broker.OpenStream, logger)

	app.Service = tools.NewService(app.Session, app.Gateway, app.Feed,
		cfg.Credentials.ToModel(), logger)

	return app
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := NewApp(cfg, logger)

	rootCmd := &cobra.Command{
		Use:   "bridge",
		Short: "Shoonya Bridge - broker session, orders and market data",
		Long: `Shoonya Bridge maintains an authenticated Shoonya session and exposes
order placement with pre-trade risk checks, account queries and multiplexed
market-data subscriptions.

Use 'bridge serve' for the long-running request/response surface, or the
one-shot commands below for direct use.`,
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

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/shoonya-bridge)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	addServeCommand(rootCmd, app)
	addSessionCommands(rootCmd, app)
	addOrderCommands(rootCmd, app)
	addAccountCommands(rootCmd, app)
	addMarketCommands(rootCmd, app)

	return rootCmd
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
				output.Printf("Shoonya Bridge v%s\n", Version)
			}
		},
	}
}
