package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"shoonya-bridge/internal/broker"
	apierrors "shoonya-bridge/internal/errors"
	"shoonya-bridge/internal/ledger"
	"shoonya-bridge/internal/models"
	"shoonya-bridge/internal/risk"
	"shoonya-bridge/internal/session"
)

func testGateway(t *testing.T) (*Gateway, *broker.SimBroker, *session.Manager) {
	t.Helper()
	sim := broker.NewSimBroker()
	sess := session.NewManager(sim, zerolog.Nop())
	policy := risk.NewPolicy(100000, 5000000)
	gw := New(sim, sess, policy, ledger.New(), zerolog.Nop(), 5*time.Second)

	_, _, err := sess.Connect(context.Background(), models.Credentials{
		UserID:   "FA0001",
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return gw, sim, sess
}

func limitOrder(qty int, price float64) models.OrderRequest {
	return models.OrderRequest{
		Exchange:    models.NSE,
		Symbol:      "SBIN-EQ",
		Quantity:    qty,
		Price:       price,
		OrderType:   models.OrderTypeLimit,
		Transaction: models.TransactionBuy,
		Product:     models.ProductIntraday,
		Retention:   models.RetentionDay,
	}
}

func TestPlaceOrderAcknowledged(t *testing.T) {
	gw, _, _ := testGateway(t)

	localID, err := gw.PlaceOrder(context.Background(), limitOrder(10, 550))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	order, err := gw.Order(localID)
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if order.State != models.StateOpen {
		t.Errorf("state = %s, want OPEN", order.State)
	}
	if order.BrokerOrderID == "" {
		t.Error("broker order id must be set after acknowledgment")
	}
}

func TestPlaceOrderRiskRejectedBeforeUpstream(t *testing.T) {
	gw, sim, _ := testGateway(t)
	sim.RejectOrders("must never be reached")

	_, err := gw.PlaceOrder(context.Background(), limitOrder(200000, 550))
	var violation *apierrors.RiskViolation
	if !errors.As(err, &violation) {
		t.Fatalf("expected RiskViolation, got %v", err)
	}
	if len(gw.Orders()) != 0 {
		t.Error("risk-rejected orders must not be tracked")
	}
}

func TestPlaceOrderBrokerRejection(t *testing.T) {
	gw, sim, _ := testGateway(t)
	sim.RejectOrders("margin shortfall")

	localID, err := gw.PlaceOrder(context.Background(), limitOrder(10, 550))
	if err == nil {
		t.Fatal("expected error from broker rejection")
	}

	// The rejected order stays in the ledger with its reason.
	order, getErr := gw.Order(localID)
	if getErr != nil {
		t.Fatalf("Order: %v", getErr)
	}
	if order.State != models.StateRejected {
		t.Errorf("state = %s, want REJECTED", order.State)
	}
	if order.RejectReason == "" {
		t.Error("reject reason must be recorded")
	}
}

func TestModifyRejectionRestoresOrder(t *testing.T) {
	gw, sim, _ := testGateway(t)

	localID, err := gw.PlaceOrder(context.Background(), limitOrder(10, 550))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	sim.RejectOrders("exchange closed")
	newPrice := 560.0
	err = gw.ModifyOrder(context.Background(), localID, models.OrderPatch{Price: &newPrice})
	if err == nil {
		t.Fatal("expected modify rejection")
	}

	order, _ := gw.Order(localID)
	if order.State != models.StateOpen {
		t.Errorf("state after rejected modify = %s, want OPEN", order.State)
	}
	if order.Request.Price != 550 {
		t.Errorf("price after rejected modify = %.2f, want 550", order.Request.Price)
	}
}

func TestModifyCommits(t *testing.T) {
	gw, _, _ := testGateway(t)

	localID, _ := gw.PlaceOrder(context.Background(), limitOrder(10, 550))
	newPrice := 560.0
	newQty := 20
	err := gw.ModifyOrder(context.Background(), localID, models.OrderPatch{
		Price:    &newPrice,
		Quantity: &newQty,
	})
	if err != nil {
		t.Fatalf("ModifyOrder: %v", err)
	}

	order, _ := gw.Order(localID)
	if order.Request.Price != 560 || order.Request.Quantity != 20 {
		t.Errorf("request after modify = %+v", order.Request)
	}
}

func TestModifyValidatesPatchedRequest(t *testing.T) {
	gw, _, _ := testGateway(t)

	localID, _ := gw.PlaceOrder(context.Background(), limitOrder(10, 550))
	hugeQty := 500000
	err := gw.ModifyOrder(context.Background(), localID, models.OrderPatch{Quantity: &hugeQty})

	var violation *apierrors.RiskViolation
	if !errors.As(err, &violation) {
		t.Fatalf("expected RiskViolation, got %v", err)
	}

	// The order must be untouched, not stuck in PENDING_MODIFY.
	order, _ := gw.Order(localID)
	if order.State != models.StateOpen {
		t.Errorf("state = %s, want OPEN", order.State)
	}
}

func TestModifyTerminalOrderFails(t *testing.T) {
	gw, _, _ := testGateway(t)

	localID, _ := gw.PlaceOrder(context.Background(), limitOrder(10, 550))
	if err := gw.CancelOrder(context.Background(), localID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}

	// A terminal order reports final before the patched request is risk
	// checked, so even an invalid patch surfaces ErrOrderFinal.
	hugeQty := 500000
	err := gw.ModifyOrder(context.Background(), localID, models.OrderPatch{Quantity: &hugeQty})
	if !errors.Is(err, apierrors.ErrOrderFinal) {
		t.Fatalf("expected ErrOrderFinal, got %v", err)
	}
}

func TestCancelByBrokerOrderID(t *testing.T) {
	gw, _, _ := testGateway(t)

	localID, _ := gw.PlaceOrder(context.Background(), limitOrder(10, 550))
	order, _ := gw.Order(localID)

	if err := gw.CancelOrder(context.Background(), order.BrokerOrderID); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	order, _ = gw.Order(localID)
	if order.State != models.StateCancelled {
		t.Errorf("state = %s, want CANCELLED", order.State)
	}
}

func TestOrderBookReconcilesFills(t *testing.T) {
	gw, sim, _ := testGateway(t)

	localID, _ := gw.PlaceOrder(context.Background(), limitOrder(100, 550))
	order, _ := gw.Order(localID)
	sim.Fill(order.BrokerOrderID, 40, 549.5)

	if _, err := gw.GetOrderBook(context.Background()); err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}

	order, _ = gw.Order(localID)
	if order.State != models.StatePartiallyFilled {
		t.Errorf("state = %s, want PARTIALLY_FILLED", order.State)
	}
	if order.FilledQty != 40 {
		t.Errorf("FilledQty = %d, want 40", order.FilledQty)
	}

	sim.Fill(order.BrokerOrderID, 60, 549.8)
	gw.GetOrderBook(context.Background())
	order, _ = gw.Order(localID)
	if order.State != models.StateFilled {
		t.Errorf("state = %s, want FILLED", order.State)
	}
}

func TestAuthRejectionExpiresSession(t *testing.T) {
	gw, sim, sess := testGateway(t)

	// Simulate the upstream dropping the session.
	sim.Logout(context.Background())

	_, err := gw.GetPositions(context.Background())
	if err == nil {
		t.Fatal("expected error after upstream logout")
	}

	// The sim reports ErrNotAuthenticated, which is an auth rejection;
	// the local session must flip to EXPIRED and refuse further calls.
	status, _ := sess.Status()
	if status != models.SessionExpired {
		t.Errorf("session status = %s, want EXPIRED", status)
	}
	if _, err := gw.PlaceOrder(context.Background(), limitOrder(1, 100)); !errors.Is(err, apierrors.ErrSessionExpired) {
		t.Errorf("PlaceOrder after expiry = %v, want ErrSessionExpired", err)
	}
}

func TestQueriesRequireSession(t *testing.T) {
	sim := broker.NewSimBroker()
	sess := session.NewManager(sim, zerolog.Nop())
	gw := New(sim, sess, risk.NewPolicy(100000, 5000000), ledger.New(), zerolog.Nop(), time.Second)

	if _, err := gw.GetLimits(context.Background()); !errors.Is(err, apierrors.ErrNotAuthenticated) {
		t.Errorf("GetLimits without session = %v, want ErrNotAuthenticated", err)
	}
	if _, err := gw.PlaceOrder(context.Background(), limitOrder(1, 100)); !errors.Is(err, apierrors.ErrNotAuthenticated) {
		t.Errorf("PlaceOrder without session = %v, want ErrNotAuthenticated", err)
	}
}
