// Package tools is the inbound surface of the bridge. Requests form a
// closed set of variants; each one validates its input, checks the
// session token where required, and maps to exactly one core operation.
package tools

import (
	"context"
	"strings"

	"shoonya-bridge/internal/models"
)

// Request is the closed union of inbound operations. Only types in this
// package implement it.
type Request interface {
	kind() string
}

// ConnectRequest establishes the broker session using the configured
// credentials. Individual fields can be overridden per call.
type ConnectRequest struct {
	UserID     string `json:"user_id,omitempty"`
	Password   string `json:"password,omitempty"`
	TwoFA      string `json:"two_fa,omitempty"`
	VendorCode string `json:"vendor_code,omitempty"`
	APISecret  string `json:"api_secret,omitempty"`
	IMEI       string `json:"imei,omitempty"`
}

// DisconnectRequest tears the session down.
type DisconnectRequest struct {
	SessionToken string `json:"session_token"`
}

// HealthRequest reports bridge and session health. No token required;
// an unauthenticated caller still learns whether the bridge is up.
type HealthRequest struct{}

// PlaceOrderRequest submits a new order.
type PlaceOrderRequest struct {
	SessionToken string  `json:"session_token"`
	Exchange     string  `json:"exchange"`
	Symbol       string  `json:"symbol"`
	Quantity     int     `json:"quantity"`
	Price        float64 `json:"price,omitempty"`
	OrderType    string  `json:"order_type"`
	Transaction  string  `json:"transaction"`
	Product      string  `json:"product"`
	Retention    string  `json:"retention,omitempty"`
	TriggerPrice float64 `json:"trigger_price,omitempty"`
	Remarks      string  `json:"remarks,omitempty"`
}

// ModifyOrderRequest patches an open order. Omitted fields keep their
// current values.
type ModifyOrderRequest struct {
	SessionToken string   `json:"session_token"`
	OrderID      string   `json:"order_id"`
	Quantity     *int     `json:"quantity,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	OrderType    *string  `json:"order_type,omitempty"`
	TriggerPrice *float64 `json:"trigger_price,omitempty"`
	Retention    *string  `json:"retention,omitempty"`
}

// CancelOrderRequest cancels an open order.
type CancelOrderRequest struct {
	SessionToken string `json:"session_token"`
	OrderID      string `json:"order_id"`
}

// OrderBookRequest fetches the day's orders.
type OrderBookRequest struct {
	SessionToken string `json:"session_token"`
}

// TradeBookRequest fetches the day's executions.
type TradeBookRequest struct {
	SessionToken string `json:"session_token"`
}

// PositionsRequest fetches the position book.
type PositionsRequest struct {
	SessionToken string `json:"session_token"`
}

// HoldingsRequest fetches delivery holdings.
type HoldingsRequest struct {
	SessionToken string `json:"session_token"`
	Product      string `json:"product,omitempty"`
}

// LimitsRequest fetches balance and margin limits.
type LimitsRequest struct {
	SessionToken string `json:"session_token"`
}

// QuoteRequest fetches one quote by instrument key ("NSE|22").
type QuoteRequest struct {
	SessionToken string `json:"session_token"`
	Instrument   string `json:"instrument"`
}

// SearchScripRequest searches instruments on an exchange.
type SearchScripRequest struct {
	SessionToken string `json:"session_token"`
	Exchange     string `json:"exchange"`
	Text         string `json:"text"`
}

// SubscribeRequest subscribes the caller to market data for a set of
// instrument keys.
type SubscribeRequest struct {
	SessionToken string   `json:"session_token"`
	Instruments  []string `json:"instruments"`
	FeedType     string   `json:"feed_type,omitempty"`
}

// UnsubscribeRequest drops the caller's market-data interest.
type UnsubscribeRequest struct {
	SessionToken string   `json:"session_token"`
	Instruments  []string `json:"instruments"`
	FeedType     string   `json:"feed_type,omitempty"`
}

// SnapshotRequest returns the cached last tick for every instrument the
// caller is subscribed to.
type SnapshotRequest struct {
	SessionToken string `json:"session_token"`
}

func (ConnectRequest) kind() string     { return "connect" }
func (DisconnectRequest) kind() string  { return "disconnect" }
func (HealthRequest) kind() string      { return "health" }
func (PlaceOrderRequest) kind() string  { return "place_order" }
func (ModifyOrderRequest) kind() string { return "modify_order" }
func (CancelOrderRequest) kind() string { return "cancel_order" }
func (OrderBookRequest) kind() string   { return "order_book" }
func (TradeBookRequest) kind() string   { return "trade_book" }
func (PositionsRequest) kind() string   { return "positions" }
func (HoldingsRequest) kind() string    { return "holdings" }
func (LimitsRequest) kind() string      { return "limits" }
func (QuoteRequest) kind() string       { return "quote" }
func (SearchScripRequest) kind() string { return "search_scrip" }
func (SubscribeRequest) kind() string   { return "subscribe" }
func (UnsubscribeRequest) kind() string { return "unsubscribe" }
func (SnapshotRequest) kind() string    { return "snapshot" }

// Response is the uniform reply shape for every request.
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func success(message string, data interface{}) Response {
	return Response{Status: "success", Message: message, Data: data}
}

func failure(message string) Response {
	return Response{Status: "error", Message: message}
}

func errorResponse(err error) Response {
	return failure(err.Error())
}

// parseFeedType defaults to touchline; only the two known depths pass.
func parseFeedType(s string) (models.FeedType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(models.FeedTouchline):
		return models.FeedTouchline, true
	case string(models.FeedDepth):
		return models.FeedDepth, true
	default:
		return "", false
	}
}

func parseInstruments(keys []string) ([]models.InstrumentKey, error) {
	instruments := make([]models.InstrumentKey, 0, len(keys))
	for _, raw := range keys {
		key, err := models.ParseInstrumentKey(raw)
		if err != nil {
			return nil, err
		}
		instruments = append(instruments, key)
	}
	return instruments, nil
}

// Handler dispatches requests. Implemented by Service; declared as an
// interface so transports depend only on the surface.
type Handler interface {
	Dispatch(ctx context.Context, req Request) Response
}
