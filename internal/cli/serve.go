package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	apierrors "shoonya-bridge/internal/errors"
	"shoonya-bridge/internal/tools"
)

// requestEnvelope is one line of the serve protocol: a kind plus the
// request body for that kind.
type requestEnvelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// addServeCommand adds the long-running request/response surface.
func addServeCommand(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve newline-delimited JSON requests on stdin",
		Long: `Reads one JSON request per line from stdin and writes one JSON
response per line to stdout. Each request is {"kind": ..., "payload": ...};
the session established by a connect request stays live until disconnect
or EOF.

Example:
  {"kind":"connect"}
  {"kind":"place_order","payload":{"session_token":"...","exchange":"NSE",...}}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, app)
		},
	})
}

func serve(cmd *cobra.Command, app *App) error {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	encoder := json.NewEncoder(cmd.OutOrStdout())

	defer func() {
		// Tear down whatever the caller left behind.
		if err := app.Feed.Close(); err != nil {
			app.Logger.Warn().Err(err).Msg("Feed close failed")
		}
		if err := app.Session.Disconnect(cmd.Context()); err != nil {
			app.Logger.Warn().Err(err).Msg("Disconnect on shutdown failed")
		}
	}()

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		req, err := decodeRequest(line)
		var resp tools.Response
		if err != nil {
			resp = tools.Response{Status: "error", Message: err.Error()}
		} else {
			resp = app.Service.Dispatch(cmd.Context(), req)
		}
		if err := encoder.Encode(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "reading requests:", err)
		return err
	}
	return nil
}

// decodeRequest maps an envelope to its concrete request variant.
func decodeRequest(line []byte) (tools.Request, error) {
	var env requestEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, apierrors.Wrap(err, "malformed request")
	}

	var req tools.Request
	switch env.Kind {
	case "connect":
		req = &tools.ConnectRequest{}
	case "disconnect":
		req = &tools.DisconnectRequest{}
	case "health":
		req = &tools.HealthRequest{}
	case "place_order":
		req = &tools.PlaceOrderRequest{}
	case "modify_order":
		req = &tools.ModifyOrderRequest{}
	case "cancel_order":
		req = &tools.CancelOrderRequest{}
	case "order_book":
		req = &tools.OrderBookRequest{}
	case "trade_book":
		req = &tools.TradeBookRequest{}
	case "positions":
		req = &tools.PositionsRequest{}
	case "holdings":
		req = &tools.HoldingsRequest{}
	case "limits":
		req = &tools.LimitsRequest{}
	case "quote":
		req = &tools.QuoteRequest{}
	case "search_scrip":
		req = &tools.SearchScripRequest{}
	case "subscribe":
		req = &tools.SubscribeRequest{}
	case "unsubscribe":
		req = &tools.UnsubscribeRequest{}
	case "snapshot":
		req = &tools.SnapshotRequest{}
	default:
		return nil, fmt.Errorf("unknown request kind %q", env.Kind)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, req); err != nil {
			return nil, apierrors.Wrapf(err, "malformed %s payload", env.Kind)
		}
	}
	return deref(req), nil
}

// deref converts the pointer used for unmarshalling back to the value
// variant the dispatcher switches on.
func deref(req tools.Request) tools.Request {
	switch r := req.(type) {
	case *tools.ConnectRequest:
		return *r
	case *tools.DisconnectRequest:
		return *r
	case *tools.HealthRequest:
		return *r
	case *tools.PlaceOrderRequest:
		return *r
	case *tools.ModifyOrderRequest:
		return *r
	case *tools.CancelOrderRequest:
		return *r
	case *tools.OrderBookRequest:
		return *r
	case *tools.TradeBookRequest:
		return *r
	case *tools.PositionsRequest:
		return *r
	case *tools.HoldingsRequest:
		return *r
	case *tools.LimitsRequest:
		return *r
	case *tools.QuoteRequest:
		return *r
	case *tools.SearchScripRequest:
		return *r
	case *tools.SubscribeRequest:
		return *r
	case *tools.UnsubscribeRequest:
		return *r
	case *tools.SnapshotRequest:
		return *r
	default:
		return req
	}
}
