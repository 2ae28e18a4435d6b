package models

import "testing"

func TestParseInstrumentKey(t *testing.T) {
	key, err := ParseInstrumentKey("NSE|22")
	if err != nil {
		t.Fatalf("ParseInstrumentKey: %v", err)
	}
	if key.Exchange != NSE || key.Token != "22" {
		t.Errorf("key = %+v", key)
	}
	if key.String() != "NSE|22" {
		t.Errorf("String() = %s", key.String())
	}

	for _, bad := range []string{"", "NSE", "NSE|", "|22"} {
		if _, err := ParseInstrumentKey(bad); err == nil {
			t.Errorf("ParseInstrumentKey(%q) should fail", bad)
		}
	}

	// Tokens may themselves contain a separator (option symbols).
	key, err = ParseInstrumentKey("NFO|A|B")
	if err != nil {
		t.Fatalf("ParseInstrumentKey: %v", err)
	}
	if key.Token != "A|B" {
		t.Errorf("Token = %s", key.Token)
	}
}

func TestOrderPatchApply(t *testing.T) {
	base := OrderRequest{
		Exchange:  NSE,
		Symbol:    "SBIN-EQ",
		Quantity:  100,
		Price:     550,
		OrderType: OrderTypeLimit,
		Retention: RetentionDay,
	}

	if got := (OrderPatch{}).Apply(base); got != base {
		t.Errorf("empty patch changed request: %+v", got)
	}

	qty := 50
	price := 560.0
	ret := RetentionIOC
	got := OrderPatch{Quantity: &qty, Price: &price, Retention: &ret}.Apply(base)
	if got.Quantity != 50 || got.Price != 560 || got.Retention != RetentionIOC {
		t.Errorf("patched = %+v", got)
	}
	if got.Symbol != base.Symbol || got.OrderType != base.OrderType {
		t.Errorf("untouched fields changed: %+v", got)
	}
	if base.Quantity != 100 {
		t.Error("Apply must not mutate the original")
	}
}

func TestOrderStateTerminal(t *testing.T) {
	terminal := []OrderState{StateFilled, StateCancelled, StateRejected}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	open := []OrderState{StatePendingSubmit, StateOpen, StatePartiallyFilled, StatePendingModify, StatePendingCancel}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestRequiresTrigger(t *testing.T) {
	if OrderTypeMarket.RequiresTrigger() || OrderTypeLimit.RequiresTrigger() {
		t.Error("MARKET and LIMIT carry no trigger")
	}
	if !OrderTypeStopLoss.RequiresTrigger() || !OrderTypeStopLossM.RequiresTrigger() {
		t.Error("SL and SL-M require a trigger")
	}
}

func TestNotional(t *testing.T) {
	req := OrderRequest{Quantity: 100, Price: 550.5}
	if req.Notional() != 55050 {
		t.Errorf("Notional = %.2f", req.Notional())
	}
}
