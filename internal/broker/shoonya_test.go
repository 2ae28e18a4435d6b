package broker

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"shoonya-bridge/internal/models"
)

func TestPriceTypeMapping(t *testing.T) {
	tests := []struct {
		in   models.OrderType
		want string
	}{
		{models.OrderTypeMarket, "MKT"},
		{models.OrderTypeLimit, "LMT"},
		{models.OrderTypeStopLoss, "SL-LMT"},
		{models.OrderTypeStopLossM, "SL-MKT"},
	}
	for _, tt := range tests {
		if got := priceType(tt.in); got != tt.want {
			t.Errorf("priceType(%s) = %s, want %s", tt.in, got, tt.want)
		}
		if got := orderTypeFromNoren(tt.want); got != tt.in {
			t.Errorf("orderTypeFromNoren(%s) = %s, want %s", tt.want, got, tt.in)
		}
	}
}

func TestProductMapping(t *testing.T) {
	tests := []struct {
		in   models.ProductType
		want string
	}{
		{models.ProductIntraday, "I"},
		{models.ProductCNC, "C"},
		{models.ProductNormal, "M"},
		{models.ProductMTF, "F"},
	}
	for _, tt := range tests {
		if got := productToNoren(tt.in); got != tt.want {
			t.Errorf("productToNoren(%s) = %s, want %s", tt.in, got, tt.want)
		}
		if got := productFromNoren(tt.want); got != tt.in {
			t.Errorf("productFromNoren(%s) = %s, want %s", tt.want, got, tt.in)
		}
	}
}

func TestTransactionMapping(t *testing.T) {
	if transactionToNoren(models.TransactionBuy) != "B" {
		t.Error("BUY must map to B")
	}
	if transactionToNoren(models.TransactionSell) != "S" {
		t.Error("SELL must map to S")
	}
	if transactionFromNoren("B") != models.TransactionBuy {
		t.Error("B must map to BUY")
	}
	if transactionFromNoren("S") != models.TransactionSell {
		t.Error("S must map to SELL")
	}
}

func TestOrderPayloadStopOrder(t *testing.T) {
	req := models.OrderRequest{
		Exchange:     models.NSE,
		Symbol:       "SBIN-EQ",
		Quantity:     50,
		Price:        549.5,
		OrderType:    models.OrderTypeStopLoss,
		Transaction:  models.TransactionSell,
		Product:      models.ProductIntraday,
		Retention:    models.RetentionDay,
		TriggerPrice: 550,
	}
	payload := orderPayload("FA0001", "FA0001", req)

	want := map[string]string{
		"exch":     "NSE",
		"tsym":     "SBIN-EQ",
		"qty":      "50",
		"prd":      "I",
		"trantype": "S",
		"prctyp":   "SL-LMT",
		"prc":      "549.50",
		"trgprc":   "550.00",
		"ret":      "DAY",
	}
	for k, v := range want {
		if payload[k] != v {
			t.Errorf("payload[%s] = %s, want %s", k, payload[k], v)
		}
	}
}

func TestOrderPayloadMarketOmitsTrigger(t *testing.T) {
	req := models.OrderRequest{
		Exchange:    models.NSE,
		Symbol:      "SBIN-EQ",
		Quantity:    10,
		OrderType:   models.OrderTypeMarket,
		Transaction: models.TransactionBuy,
		Product:     models.ProductCNC,
		Retention:   models.RetentionDay,
	}
	payload := orderPayload("FA0001", "FA0001", req)
	if _, ok := payload["trgprc"]; ok {
		t.Error("market order must not carry trgprc")
	}
	if payload["prctyp"] != "MKT" {
		t.Errorf("prctyp = %s", payload["prctyp"])
	}
}

func TestResolveTwoFA(t *testing.T) {
	// A short value is a ready-made code and passes through.
	code, err := resolveTwoFA("123456")
	if err != nil || code != "123456" {
		t.Errorf("resolveTwoFA(code) = %s, %v", code, err)
	}

	// A long value is treated as a base32 TOTP secret.
	code, err = resolveTwoFA("JBSWY3DPEHPK3PXP")
	if err != nil {
		t.Fatalf("resolveTwoFA(secret): %v", err)
	}
	if len(code) != 6 {
		t.Errorf("generated code %q is not 6 digits", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Errorf("generated code %q contains non-digit", code)
		}
	}

	if _, err := resolveTwoFA("  "); err == nil {
		t.Error("empty second factor must fail")
	}
}

func TestSHA256Hex(t *testing.T) {
	// Known digest of the empty string.
	if got := sha256Hex(""); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("sha256Hex(\"\") = %s", got)
	}
}

func TestEncodeForm(t *testing.T) {
	body, err := encodeForm(map[string]string{"uid": "FA0001"}, "tok123")
	if err != nil {
		t.Fatalf("encodeForm: %v", err)
	}
	if !strings.HasPrefix(body, "jData={") {
		t.Errorf("body = %s", body)
	}
	if !strings.HasSuffix(body, "&jKey=tok123") {
		t.Errorf("body = %s", body)
	}

	// Login-style requests carry no session key.
	body, _ = encodeForm(map[string]string{"uid": "FA0001"}, "")
	if strings.Contains(body, "jKey") {
		t.Errorf("body without key = %s", body)
	}
}

func TestParseNorenTime(t *testing.T) {
	got := parseNorenTime("14:35:02 27-08-2026")
	if got.IsZero() {
		t.Fatal("expected parsed time")
	}
	if got.Hour() != 14 || got.Minute() != 35 || got.Day() != 27 {
		t.Errorf("parsed = %v", got)
	}
	if !parseNorenTime("garbage").IsZero() {
		t.Error("garbage must parse to zero time")
	}
}

func TestNorenTickConversion(t *testing.T) {
	ft := time.Now().Add(-time.Minute).Unix()
	raw := norenTick{
		T:  "tf",
		E:  "NSE",
		Tk: "22",
		LP: "101.55",
		V:  "12345",
		O:  "100",
		H:  "102",
		L:  "99.5",
		C:  "1.55",
		Cl: "100.00",
		OI: "0",
		FT: strconv.FormatInt(ft, 10),
	}
	tick := raw.toTick()

	if tick.Instrument.String() != "NSE|22" {
		t.Errorf("instrument = %s", tick.Instrument)
	}
	if tick.LTP != 101.55 || tick.Volume != 12345 {
		t.Errorf("tick = %+v", tick)
	}
	if tick.ChangePercent != 1.55 {
		t.Errorf("ChangePercent = %.2f", tick.ChangePercent)
	}
	if tick.Close != 100 {
		t.Errorf("Close = %.2f", tick.Close)
	}
	if tick.ReceivedAt.Unix() != ft {
		t.Errorf("ReceivedAt = %v", tick.ReceivedAt)
	}
}
