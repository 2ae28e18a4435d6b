package cli

import (
	"context"

	"github.com/spf13/cobra"

	"shoonya-bridge/internal/models"
	"shoonya-bridge/internal/tools"
)

// addOrderCommands adds order placement and book commands.
func addOrderCommands(rootCmd *cobra.Command, app *App) {
	orderCmd := &cobra.Command{
		Use:   "order",
		Short: "Place, modify and cancel orders",
	}
	orderCmd.AddCommand(newOrderPlaceCmd(app))
	orderCmd.AddCommand(newOrderModifyCmd(app))
	orderCmd.AddCommand(newOrderCancelCmd(app))
	orderCmd.AddCommand(newOrderBookCmd(app))
	rootCmd.AddCommand(orderCmd)
	rootCmd.AddCommand(newTradeBookCmd(app))
}

func newOrderPlaceCmd(app *App) *cobra.Command {
	var (
		exchange     string
		quantity     int
		price        float64
		orderType    string
		transaction  string
		product      string
		retention    string
		triggerPrice float64
		remarks      string
	)

	cmd := &cobra.Command{
		Use:   "place SYMBOL",
		Short: "Place a new order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return withSession(app, func(ctx context.Context, token string) error {
				resp := app.Service.Dispatch(ctx, tools.PlaceOrderRequest{
					SessionToken: token,
					Exchange:     exchange,
					Symbol:       args[0],
					Quantity:     quantity,
					Price:        price,
					OrderType:    orderType,
					Transaction:  transaction,
					Product:      product,
					Retention:    retention,
					TriggerPrice: triggerPrice,
					Remarks:      remarks,
				})
				return render(output, resp, true)
			})
		},
	}

	cmd.Flags().StringVar(&exchange, "exchange", "NSE", "exchange (NSE, BSE, NFO, CDS, MCX)")
	cmd.Flags().IntVar(&quantity, "qty", 0, "order quantity")
	cmd.Flags().Float64Var(&price, "price", 0, "limit price (LIMIT and SL orders)")
	cmd.Flags().StringVar(&orderType, "type", "MARKET", "order type (MARKET, LIMIT, SL, SL-M)")
	cmd.Flags().StringVar(&transaction, "side", "BUY", "transaction side (BUY, SELL)")
	cmd.Flags().StringVar(&product, "product", "INTRADAY", "product type (INTRADAY, CNC, NORMAL, MTF)")
	cmd.Flags().StringVar(&retention, "retention", "DAY", "retention (DAY, IOC)")
	cmd.Flags().Float64Var(&triggerPrice, "trigger", 0, "trigger price (SL and SL-M orders)")
	cmd.Flags().StringVar(&remarks, "remarks", "", "free-form order tag")
	cmd.MarkFlagRequired("qty")

	return cmd
}

func newOrderModifyCmd(app *App) *cobra.Command {
	var (
		quantity     int
		price        float64
		orderType    string
		triggerPrice float64
		retention    string
	)

	cmd := &cobra.Command{
		Use:   "modify ORDER_ID",
		Short: "Modify an open order",
		Long:  "Modifies an open order. Only the flags you set are changed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			req := tools.ModifyOrderRequest{OrderID: args[0]}
			if cmd.Flags().Changed("qty") {
				req.Quantity = &quantity
			}
			if cmd.Flags().Changed("price") {
				req.Price = &price
			}
			if cmd.Flags().Changed("type") {
				req.OrderType = &orderType
			}
			if cmd.Flags().Changed("trigger") {
				req.TriggerPrice = &triggerPrice
			}
			if cmd.Flags().Changed("retention") {
				req.Retention = &retention
			}

			return withSession(app, func(ctx context.Context, token string) error {
				req.SessionToken = token
				return render(output, app.Service.Dispatch(ctx, req), false)
			})
		},
	}

	cmd.Flags().IntVar(&quantity, "qty", 0, "new quantity")
	cmd.Flags().Float64Var(&price, "price", 0, "new limit price")
	cmd.Flags().StringVar(&orderType, "type", "", "new order type")
	cmd.Flags().Float64Var(&triggerPrice, "trigger", 0, "new trigger price")
	cmd.Flags().StringVar(&retention, "retention", "", "new retention")

	return cmd
}

func newOrderCancelCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ORDER_ID",
		Short: "Cancel an open order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return withSession(app, func(ctx context.Context, token string) error {
				resp := app.Service.Dispatch(ctx, tools.CancelOrderRequest{
					SessionToken: token,
					OrderID:      args[0],
				})
				return render(output, resp, false)
			})
		},
	}
}

func newOrderBookCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "book",
		Short: "Show the day's order book",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return withSession(app, func(ctx context.Context, token string) error {
				resp := app.Service.Dispatch(ctx, tools.OrderBookRequest{SessionToken: token})
				if output.IsJSON() || resp.Status != "success" {
					return render(output, resp, true)
				}

				entries, _ := resp.Data.([]models.OrderBookEntry)
				if len(entries) == 0 {
					output.Dim("No orders today")
					return nil
				}
				output.Header("%-14s %-12s %-4s %-6s %8s %10s %8s %s",
					"ORDER ID", "SYMBOL", "SIDE", "TYPE", "QTY", "PRICE", "FILLED", "STATUS")
				for _, e := range entries {
					output.Printf("%-14s %-12s %-4s %-6s %8s %10.2f %8s %s\n",
						e.BrokerOrderID, e.Symbol, e.Transaction, e.OrderType,
						FormatQuantity(e.Quantity), e.Price, FormatQuantity(e.FilledQty), e.Status)
				}
				return nil
			})
		},
	}
}

func newTradeBookCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "trades",
		Short: "Show the day's executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return withSession(app, func(ctx context.Context, token string) error {
				resp := app.Service.Dispatch(ctx, tools.TradeBookRequest{SessionToken: token})
				if output.IsJSON() || resp.Status != "success" {
					return render(output, resp, true)
				}

				trades, _ := resp.Data.([]models.Trade)
				if len(trades) == 0 {
					output.Dim("No trades today")
					return nil
				}
				output.Header("%-14s %-12s %-4s %8s %10s %s",
					"ORDER ID", "SYMBOL", "SIDE", "QTY", "PRICE", "TIME")
				for _, t := range trades {
					output.Printf("%-14s %-12s %-4s %8s %10.2f %s\n",
						t.BrokerOrderID, t.Symbol, t.Transaction,
						FormatQuantity(t.Quantity), t.Price,
						t.ExecutedAt.Format("15:04:05"))
				}
				return nil
			})
		},
	}
}
