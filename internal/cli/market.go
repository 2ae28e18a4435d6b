package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"shoonya-bridge/internal/models"
	"shoonya-bridge/internal/tools"
)

// addMarketCommands adds quote, search and live watch commands.
func addMarketCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newQuoteCmd(app))
	rootCmd.AddCommand(newSearchCmd(app))
	rootCmd.AddCommand(newWatchCmd(app))
}

func newQuoteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "quote EXCHANGE|TOKEN",
		Short: "Fetch a quote by instrument key",
		Long:  "Fetches a point-in-time quote, e.g. 'bridge quote \"NSE|22\"'.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return withSession(app, func(ctx context.Context, token string) error {
				resp := app.Service.Dispatch(ctx, tools.QuoteRequest{
					SessionToken: token,
					Instrument:   args[0],
				})
				if output.IsJSON() || resp.Status != "success" {
					return render(output, resp, true)
				}

				quote, _ := resp.Data.(*models.Quote)
				if quote == nil {
					output.Dim("No quote data")
					return nil
				}
				output.Header("%s (%s)", quote.Symbol, quote.Instrument)
				output.Printf("  LTP:    %s (%s)\n",
					FormatIndianCurrency(quote.LTP), FormatPercent(quote.ChangePercent))
				output.Printf("  OHLC:   %.2f / %.2f / %.2f / %.2f\n",
					quote.Open, quote.High, quote.Low, quote.Close)
				output.Printf("  Volume: %s\n", FormatQuantity(int(quote.Volume)))
				return nil
			})
		},
	}
}

func newSearchCmd(app *App) *cobra.Command {
	var exchange string

	cmd := &cobra.Command{
		Use:   "search TEXT",
		Short: "Search instruments on an exchange",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return withSession(app, func(ctx context.Context, token string) error {
				resp := app.Service.Dispatch(ctx, tools.SearchScripRequest{
					SessionToken: token,
					Exchange:     exchange,
					Text:         args[0],
				})
				if output.IsJSON() || resp.Status != "success" {
					return render(output, resp, true)
				}

				scrips, _ := resp.Data.([]models.Scrip)
				if len(scrips) == 0 {
					output.Dim("No matches")
					return nil
				}
				output.Header("%-16s %-8s %-5s %8s %8s", "SYMBOL", "TOKEN", "EXCH", "LOT", "TICK")
				for _, s := range scrips {
					output.Printf("%-16s %-8s %-5s %8d %8.2f\n",
						s.Symbol, s.Token, s.Exchange, s.LotSize, s.TickSize)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&exchange, "exchange", "NSE", "exchange to search")
	return cmd
}

func newWatchCmd(app *App) *cobra.Command {
	var feedType string

	cmd := &cobra.Command{
		Use:   "watch KEY [KEY...]",
		Short: "Stream live ticks for instrument keys",
		Long: `Subscribes to the given instrument keys and prints ticks until
interrupted, e.g. 'bridge watch "NSE|22" "BSE|500325"'.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return withSession(app, func(ctx context.Context, token string) error {
				resp := app.Service.Dispatch(ctx, tools.SubscribeRequest{
					SessionToken: token,
					Instruments:  args,
					FeedType:     feedType,
				})
				if resp.Status != "success" {
					return render(output, resp, false)
				}

				ticks := app.Feed.Channel(token)
				defer app.Feed.Detach(token)

				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
				defer signal.Stop(sigCh)

				output.Dim("Watching %d instruments (Ctrl-C to stop)", len(args))
				for {
					select {
					case <-sigCh:
						return nil
					case <-ctx.Done():
						return nil
					case tick, ok := <-ticks:
						if !ok {
							return nil
						}
						if output.IsJSON() {
							output.JSON(tick)
							continue
						}
						output.Printf("%s  %-10s LTP %10.2f  %s  vol %s\n",
							tick.ReceivedAt.Format("15:04:05"),
							tick.Instrument, tick.LTP,
							FormatPercent(tick.ChangePercent),
							FormatQuantity(int(tick.Volume)))
					}
				}
			})
		},
	}

	cmd.Flags().StringVar(&feedType, "feed", "touchline", "feed type (touchline, depth)")
	return cmd
}
