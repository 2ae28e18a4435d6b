package broker

import (
	"context"
	"errors"
	"testing"

	apierrors "shoonya-bridge/internal/errors"
	"shoonya-bridge/internal/models"
)

func loggedInSim(t *testing.T) *SimBroker {
	t.Helper()
	sim := NewSimBroker()
	_, err := sim.Login(context.Background(), models.Credentials{UserID: "FA0001", Password: "x"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return sim
}

func TestSimRequiresLogin(t *testing.T) {
	sim := NewSimBroker()
	if _, err := sim.GetLimits(context.Background()); !errors.Is(err, apierrors.ErrNotAuthenticated) {
		t.Errorf("GetLimits = %v, want ErrNotAuthenticated", err)
	}
	if _, err := sim.OpenStream(); !errors.Is(err, apierrors.ErrNotAuthenticated) {
		t.Errorf("OpenStream = %v, want ErrNotAuthenticated", err)
	}
}

func TestSimOrderLifecycle(t *testing.T) {
	sim := loggedInSim(t)
	ctx := context.Background()

	result, err := sim.PlaceOrder(ctx, models.OrderRequest{
		Exchange:    models.NSE,
		Symbol:      "SBIN-EQ",
		Quantity:    100,
		Price:       550,
		OrderType:   models.OrderTypeLimit,
		Transaction: models.TransactionBuy,
		Product:     models.ProductIntraday,
		Retention:   models.RetentionDay,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	if err := sim.Fill(result.BrokerOrderID, 40, 549.5); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	book, _ := sim.GetOrderBook(ctx)
	if len(book) != 1 || book[0].FilledQty != 40 || book[0].Status != "OPEN" {
		t.Errorf("book = %+v", book)
	}

	sim.Fill(result.BrokerOrderID, 60, 550)
	book, _ = sim.GetOrderBook(ctx)
	if book[0].Status != "COMPLETE" || book[0].FilledQty != 100 {
		t.Errorf("book after full fill = %+v", book)
	}

	// A complete order can no longer be cancelled.
	if _, err := sim.CancelOrder(ctx, result.BrokerOrderID); err == nil {
		t.Error("cancel of complete order must fail")
	}

	trades, _ := sim.GetTradeBook(ctx)
	if len(trades) != 1 || trades[0].Quantity != 100 {
		t.Errorf("trades = %+v", trades)
	}
}

func TestSimRejectOrders(t *testing.T) {
	sim := loggedInSim(t)
	sim.RejectOrders("risk desk says no")

	_, err := sim.PlaceOrder(context.Background(), models.OrderRequest{
		Exchange: models.NSE, Symbol: "X", Quantity: 1,
	})
	if err == nil {
		t.Fatal("expected rejection")
	}

	sim.RejectOrders("")
	if _, err := sim.PlaceOrder(context.Background(), models.OrderRequest{
		Exchange: models.NSE, Symbol: "X", Quantity: 1,
	}); err != nil {
		t.Errorf("after clearing rejection: %v", err)
	}
}

func TestSimQuoteIsStablePerToken(t *testing.T) {
	sim := loggedInSim(t)
	inst := models.InstrumentKey{Exchange: models.NSE, Token: "22"}

	q1, err := sim.GetQuote(context.Background(), inst)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	q2, _ := sim.GetQuote(context.Background(), inst)

	// LTP jitters but the base price is a function of the token.
	if q1.Open != q2.Open {
		t.Errorf("base price moved: %.2f vs %.2f", q1.Open, q2.Open)
	}
	if q1.LTP <= 0 {
		t.Errorf("LTP = %.2f", q1.LTP)
	}
}
