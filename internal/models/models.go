// Package models provides domain models for the broker bridge.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
	NFO Exchange = "NFO" // F&O
	CDS Exchange = "CDS" // Currency
	MCX Exchange = "MCX" // Commodity
)

// Exchanges lists all supported exchanges.
var Exchanges = []Exchange{NSE, BSE, NFO, CDS, MCX}

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStopLoss  OrderType = "SL"
	OrderTypeStopLossM OrderType = "SL-M"
)

// OrderTypes lists all supported order types.
var OrderTypes = []OrderType{OrderTypeMarket, OrderTypeLimit, OrderTypeStopLoss, OrderTypeStopLossM}

// RequiresTrigger reports whether the order type needs a trigger price.
func (t OrderType) RequiresTrigger() bool {
	return t == OrderTypeStopLoss || t == OrderTypeStopLossM
}

// TransactionType represents the side of an order.
type TransactionType string

const (
	TransactionBuy  TransactionType = "BUY"
	TransactionSell TransactionType = "SELL"
)

// TransactionTypes lists all supported transaction types.
var TransactionTypes = []TransactionType{TransactionBuy, TransactionSell}

// ProductType represents the product type of an order.
type ProductType string

const (
	ProductIntraday ProductType = "INTRADAY"
	ProductCNC      ProductType = "CNC"    // Delivery
	ProductNormal   ProductType = "NORMAL" // F&O
	ProductMTF      ProductType = "MTF"    // Margin funding
)

// ProductTypes lists all supported product types.
var ProductTypes = []ProductType{ProductIntraday, ProductCNC, ProductNormal, ProductMTF}

// Retention represents order validity.
type Retention string

const (
	RetentionDay Retention = "DAY"
	RetentionIOC Retention = "IOC"
)

// Retentions lists all supported retention types.
var Retentions = []Retention{RetentionDay, RetentionIOC}

// FeedType represents the market-data feed depth for a subscription.
type FeedType string

const (
	FeedTouchline FeedType = "touchline"
	FeedDepth     FeedType = "depth"
)

// Credentials holds the Shoonya connection secrets. Supplied once at
// session start and never logged.
type Credentials struct {
	UserID     string
	Password   string
	TwoFA      string // 6-digit TOTP code or a base32 TOTP secret
	VendorCode string
	APISecret  string
	IMEI       string
}

// InstrumentKey uniquely identifies a tradable instrument as
// exchange plus token, e.g. NSE|22.
type InstrumentKey struct {
	Exchange Exchange
	Token    string
}

// String renders the key in the upstream "EXCHANGE|TOKEN" form.
func (k InstrumentKey) String() string {
	return fmt.Sprintf("%s|%s", k.Exchange, k.Token)
}

// ParseInstrumentKey parses an "EXCHANGE|TOKEN" string.
func ParseInstrumentKey(s string) (InstrumentKey, error) {
	parts := strings.SplitN(s, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return InstrumentKey{}, fmt.Errorf("invalid instrument key %q (want EXCHANGE|TOKEN)", s)
	}
	return InstrumentKey{Exchange: Exchange(parts[0]), Token: parts[1]}, nil
}

// Tick represents one snapshot of an instrument's market data. Only the
// multiplexer writes Ticks; everyone else reads copies.
type Tick struct {
	Instrument    InstrumentKey
	LTP           float64
	Volume        int64
	Open          float64
	High          float64
	Low           float64
	Close         float64
	ChangePercent float64
	OpenInterest  int64
	ReceivedAt    time.Time
}

// Quote represents a point-in-time market quote fetched over REST.
type Quote struct {
	Instrument    InstrumentKey
	Symbol        string
	LTP           float64
	Open          float64
	High          float64
	Low           float64
	Close         float64
	Volume        int64
	ChangePercent float64
	Timestamp     time.Time
}

// Scrip is a single instrument search result.
type Scrip struct {
	Exchange Exchange
	Token    string
	Symbol   string
	Name     string
	LotSize  int
	TickSize float64
}

// Position represents an open trading position.
type Position struct {
	Symbol       string
	Exchange     Exchange
	Product      ProductType
	Quantity     int
	AveragePrice float64
	LTP          float64
	PnL          float64
}

// Holding represents a delivery holding.
type Holding struct {
	Symbol       string
	Exchange     Exchange
	Quantity     int
	AveragePrice float64
	LTP          float64
	PnL          float64
}

// Limits represents account balance and margin limits.
type Limits struct {
	Cash            float64
	MarginUsed      float64
	PayIn           float64
	PayOut          float64
	CollateralValue float64
	UnrealizedMTM   float64
	RealizedMTM     float64
}

// Trade represents a single execution from the trade book.
type Trade struct {
	BrokerOrderID string
	TradeID       string
	Symbol        string
	Exchange      Exchange
	Transaction   TransactionType
	Quantity      int
	Price         float64
	ExecutedAt    time.Time
}

// SessionStatus represents the state of the broker session.
type SessionStatus string

const (
	SessionDisconnected SessionStatus = "DISCONNECTED"
	SessionConnecting   SessionStatus = "CONNECTING"
	SessionActive       SessionStatus = "ACTIVE"
	SessionExpired      SessionStatus = "EXPIRED"
	SessionFailed       SessionStatus = "FAILED"
)

// SessionInfo is returned to the caller after a successful connect.
type SessionInfo struct {
	UserID        string
	Username      string
	EstablishedAt time.Time
}
