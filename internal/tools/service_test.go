package tools

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"shoonya-bridge/internal/broker"
	"shoonya-bridge/internal/feed"
	"shoonya-bridge/internal/gateway"
	"shoonya-bridge/internal/ledger"
	"shoonya-bridge/internal/models"
	"shoonya-bridge/internal/risk"
	"shoonya-bridge/internal/session"
)

func testService(t *testing.T) (*Service, *broker.SimBroker) {
	t.Helper()
	sim := broker.NewSimBroker()
	sess := session.NewManager(sim, zerolog.Nop())
	policy := risk.NewPolicy(100000, 5000000)
	gw := gateway.New(sim, sess, policy, ledger.New(), zerolog.Nop(), 5*time.Second)
	mux := feed.NewMultiplexer(feed.DefaultConfig(), sim.OpenStream, zerolog.Nop())
	t.Cleanup(func() { mux.Close() })

	defaults := models.Credentials{UserID: "FA0001", Password: "secret"}
	return NewService(sess, gw, mux, defaults, zerolog.Nop()), sim
}

func connectToken(t *testing.T, svc *Service) string {
	t.Helper()
	resp := svc.Dispatch(context.Background(), ConnectRequest{})
	if resp.Status != "success" {
		t.Fatalf("connect failed: %s", resp.Message)
	}
	data := resp.Data.(map[string]interface{})
	token, _ := data["session_token"].(string)
	if token == "" {
		t.Fatal("connect returned no session token")
	}
	return token
}

func TestResponseShapeIsUniform(t *testing.T) {
	svc, _ := testService(t)

	// Error path: auth-requiring request without a session.
	resp := svc.Dispatch(context.Background(), PositionsRequest{})
	if resp.Status != "error" || resp.Message == "" {
		t.Errorf("error response = %+v", resp)
	}

	// Success path.
	resp = svc.Dispatch(context.Background(), HealthRequest{})
	if resp.Status != "success" {
		t.Errorf("health response = %+v", resp)
	}
}

func TestAuthBoundary(t *testing.T) {
	svc, _ := testService(t)
	token := connectToken(t, svc)

	authed := []Request{
		PlaceOrderRequest{SessionToken: "wrong"},
		ModifyOrderRequest{SessionToken: "wrong"},
		CancelOrderRequest{SessionToken: "wrong"},
		OrderBookRequest{SessionToken: "wrong"},
		TradeBookRequest{SessionToken: "wrong"},
		PositionsRequest{SessionToken: "wrong"},
		HoldingsRequest{SessionToken: "wrong"},
		LimitsRequest{SessionToken: "wrong"},
		QuoteRequest{SessionToken: "wrong"},
		SearchScripRequest{SessionToken: "wrong"},
		SubscribeRequest{SessionToken: "wrong"},
		UnsubscribeRequest{SessionToken: "wrong"},
		SnapshotRequest{SessionToken: "wrong"},
		DisconnectRequest{SessionToken: "wrong"},
	}
	for _, req := range authed {
		resp := svc.Dispatch(context.Background(), req)
		if resp.Status != "error" {
			t.Errorf("%s with wrong token: status = %s", req.kind(), resp.Status)
		}
	}

	// The real token still works after the rejected attempts.
	resp := svc.Dispatch(context.Background(), LimitsRequest{SessionToken: token})
	if resp.Status != "success" {
		t.Errorf("limits with valid token: %+v", resp)
	}
}

func TestPlaceOrderFlow(t *testing.T) {
	svc, _ := testService(t)
	token := connectToken(t, svc)

	resp := svc.Dispatch(context.Background(), PlaceOrderRequest{
		SessionToken: token,
		Exchange:     "NSE",
		Symbol:       "SBIN-EQ",
		Quantity:     10,
		Price:        550,
		OrderType:    "LIMIT",
		Transaction:  "BUY",
		Product:      "INTRADAY",
	})
	if resp.Status != "success" {
		t.Fatalf("place order: %s", resp.Message)
	}

	data := resp.Data.(map[string]interface{})
	if data["local_id"] == "" || data["broker_order_id"] == "" {
		t.Errorf("order ids missing: %+v", data)
	}
	if data["state"] != string(models.StateOpen) {
		t.Errorf("state = %v, want OPEN", data["state"])
	}
}

func TestPlaceOrderRiskRejectionShape(t *testing.T) {
	svc, _ := testService(t)
	token := connectToken(t, svc)

	resp := svc.Dispatch(context.Background(), PlaceOrderRequest{
		SessionToken: token,
		Exchange:     "NSE",
		Symbol:       "SBIN-EQ",
		Quantity:     500000, // over the ceiling
		OrderType:    "MARKET",
		Transaction:  "BUY",
		Product:      "INTRADAY",
	})
	if resp.Status != "error" {
		t.Fatalf("expected error, got %+v", resp)
	}
	if resp.Message == "" {
		t.Error("risk rejection must carry a message")
	}
}

func TestSubscribeSnapshotRoundTrip(t *testing.T) {
	svc, sim := testService(t)
	token := connectToken(t, svc)

	resp := svc.Dispatch(context.Background(), SubscribeRequest{
		SessionToken: token,
		Instruments:  []string{"NSE|22"},
	})
	if resp.Status != "success" {
		t.Fatalf("subscribe: %s", resp.Message)
	}

	sim.TickStream().Emit(models.Tick{
		Instrument: models.InstrumentKey{Exchange: models.NSE, Token: "22"},
		LTP:        101.5,
		ReceivedAt: time.Now(),
	})

	// The snapshot is served from the cache the fan-out loop maintains.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp = svc.Dispatch(context.Background(), SnapshotRequest{SessionToken: token})
		if resp.Status != "success" {
			t.Fatalf("snapshot: %s", resp.Message)
		}
		ticks, _ := resp.Data.([]models.Tick)
		if len(ticks) == 1 && ticks[0].LTP == 101.5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot never observed the tick: %+v", resp.Data)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSubscribeRejectsBadInput(t *testing.T) {
	svc, _ := testService(t)
	token := connectToken(t, svc)

	resp := svc.Dispatch(context.Background(), SubscribeRequest{
		SessionToken: token,
		Instruments:  []string{"NSE22"}, // missing separator
	})
	if resp.Status != "error" {
		t.Errorf("malformed key: %+v", resp)
	}

	resp = svc.Dispatch(context.Background(), SubscribeRequest{
		SessionToken: token,
		Instruments:  []string{"NSE|22"},
		FeedType:     "candles",
	})
	if resp.Status != "error" {
		t.Errorf("unknown feed type: %+v", resp)
	}

	resp = svc.Dispatch(context.Background(), SubscribeRequest{SessionToken: token})
	if resp.Status != "error" {
		t.Errorf("empty instruments: %+v", resp)
	}
}

func TestDisconnectDetachesSubscriptions(t *testing.T) {
	svc, sim := testService(t)
	token := connectToken(t, svc)

	svc.Dispatch(context.Background(), SubscribeRequest{
		SessionToken: token,
		Instruments:  []string{"NSE|22"},
	})
	inst := models.InstrumentKey{Exchange: models.NSE, Token: "22"}
	if !sim.TickStream().Subscribed(inst) {
		t.Fatal("expected upstream subscription")
	}

	resp := svc.Dispatch(context.Background(), DisconnectRequest{SessionToken: token})
	if resp.Status != "success" {
		t.Fatalf("disconnect: %s", resp.Message)
	}
	if sim.TickStream().Subscribed(inst) {
		t.Error("upstream subscription must be released on disconnect")
	}

	resp = svc.Dispatch(context.Background(), LimitsRequest{SessionToken: token})
	if resp.Status != "error" {
		t.Error("token must stop working after disconnect")
	}
}
