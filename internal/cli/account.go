package cli

import (
	"context"

	"github.com/spf13/cobra"

	"shoonya-bridge/internal/models"
	"shoonya-bridge/internal/tools"
)

// addAccountCommands adds position, holding and limit queries.
func addAccountCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newPositionsCmd(app))
	rootCmd.AddCommand(newHoldingsCmd(app))
	rootCmd.AddCommand(newLimitsCmd(app))
}

func newPositionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "Show the current position book",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return withSession(app, func(ctx context.Context, token string) error {
				resp := app.Service.Dispatch(ctx, tools.PositionsRequest{SessionToken: token})
				if output.IsJSON() || resp.Status != "success" {
					return render(output, resp, true)
				}

				positions, _ := resp.Data.([]models.Position)
				if len(positions) == 0 {
					output.Dim("No open positions")
					return nil
				}
				output.Header("%-12s %-9s %8s %12s %12s %14s",
					"SYMBOL", "PRODUCT", "QTY", "AVG", "LTP", "P&L")
				var total float64
				for _, p := range positions {
					total += p.PnL
					output.Printf("%-12s %-9s %8s %12.2f %12.2f %14s\n",
						p.Symbol, p.Product, FormatQuantity(p.Quantity),
						p.AveragePrice, p.LTP, FormatPnL(p.PnL))
				}
				output.Printf("%58s %14s\n", "Total:", FormatPnL(total))
				return nil
			})
		},
	}
}

func newHoldingsCmd(app *App) *cobra.Command {
	var product string

	cmd := &cobra.Command{
		Use:   "holdings",
		Short: "Show delivery holdings",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return withSession(app, func(ctx context.Context, token string) error {
				resp := app.Service.Dispatch(ctx, tools.HoldingsRequest{
					SessionToken: token,
					Product:      product,
				})
				if output.IsJSON() || resp.Status != "success" {
					return render(output, resp, true)
				}

				holdings, _ := resp.Data.([]models.Holding)
				if len(holdings) == 0 {
					output.Dim("No holdings")
					return nil
				}
				output.Header("%-12s %-5s %8s %12s", "SYMBOL", "EXCH", "QTY", "AVG")
				for _, h := range holdings {
					output.Printf("%-12s %-5s %8s %12.2f\n",
						h.Symbol, h.Exchange, FormatQuantity(h.Quantity), h.AveragePrice)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&product, "product", "", "product filter (CNC, MTF)")
	return cmd
}

func newLimitsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "limits",
		Short: "Show account balance and margins",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return withSession(app, func(ctx context.Context, token string) error {
				resp := app.Service.Dispatch(ctx, tools.LimitsRequest{SessionToken: token})
				if output.IsJSON() || resp.Status != "success" {
					return render(output, resp, true)
				}

				limits, _ := resp.Data.(*models.Limits)
				if limits == nil {
					output.Dim("No limits data")
					return nil
				}
				output.Header("Account Limits")
				output.Printf("  Cash:        %s\n", FormatIndianCurrency(limits.Cash))
				output.Printf("  Margin used: %s\n", FormatIndianCurrency(limits.MarginUsed))
				output.Printf("  Collateral:  %s\n", FormatIndianCurrency(limits.CollateralValue))
				output.Printf("  Pay-in:      %s\n", FormatIndianCurrency(limits.PayIn))
				output.Printf("  Unrealized:  %s\n", FormatPnL(limits.UnrealizedMTM))
				output.Printf("  Realized:    %s\n", FormatPnL(limits.RealizedMTM))
				return nil
			})
		},
	}
}
