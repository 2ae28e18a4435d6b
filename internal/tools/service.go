package tools

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"shoonya-bridge/internal/feed"
	"shoonya-bridge/internal/gateway"
	"shoonya-bridge/internal/models"
	"shoonya-bridge/internal/session"
)

// Service implements the request surface over the core components. The
// session token doubles as the market-data subscriber identity, so one
// caller's subscriptions detach together on disconnect.
type Service struct {
	session  *session.Manager
	gateway  *gateway.Gateway
	feed     *feed.Multiplexer
	defaults models.Credentials
	logger   zerolog.Logger
}

// NewService creates the tool service. defaults supplies the configured
// credentials used when a connect request omits fields.
func NewService(sess *session.Manager, gw *gateway.Gateway, mux *feed.Multiplexer, defaults models.Credentials, logger zerolog.Logger) *Service {
	return &Service{
		session:  sess,
		gateway:  gw,
		feed:     mux,
		defaults: defaults,
		logger:   logger.With().Str("component", "tools").Logger(),
	}
}

// Dispatch routes one request to its operation. Every path returns the
// uniform response shape; no error escapes as a panic or a bare error.
func (s *Service) Dispatch(ctx context.Context, req Request) Response {
	switch r := req.(type) {
	case ConnectRequest:
		return s.connect(ctx, r)
	case DisconnectRequest:
		return s.disconnect(ctx, r)
	case HealthRequest:
		return s.health()
	case PlaceOrderRequest:
		return s.placeOrder(ctx, r)
	case ModifyOrderRequest:
		return s.modifyOrder(ctx, r)
	case CancelOrderRequest:
		return s.cancelOrder(ctx, r)
	case OrderBookRequest:
		return s.orderBook(ctx, r)
	case TradeBookRequest:
		return s.tradeBook(ctx, r)
	case PositionsRequest:
		return s.positions(ctx, r)
	case HoldingsRequest:
		return s.holdings(ctx, r)
	case LimitsRequest:
		return s.limits(ctx, r)
	case QuoteRequest:
		return s.quote(ctx, r)
	case SearchScripRequest:
		return s.searchScrip(ctx, r)
	case SubscribeRequest:
		return s.subscribe(ctx, r)
	case UnsubscribeRequest:
		return s.unsubscribe(ctx, r)
	case SnapshotRequest:
		return s.snapshot(r)
	default:
		return failure(fmt.Sprintf("unknown request kind %q", req.kind()))
	}
}

func (s *Service) connect(ctx context.Context, r ConnectRequest) Response {
	creds := s.defaults
	if r.UserID != "" {
		creds.UserID = r.UserID
	}
	if r.Password != "" {
		creds.Password = r.Password
	}
	if r.TwoFA != "" {
		creds.TwoFA = r.TwoFA
	}
	if r.VendorCode != "" {
		creds.VendorCode = r.VendorCode
	}
	if r.APISecret != "" {
		creds.APISecret = r.APISecret
	}
	if r.IMEI != "" {
		creds.IMEI = r.IMEI
	}

	token, info, err := s.session.Connect(ctx, creds)
	if err != nil {
		return errorResponse(err)
	}
	return success("connected", map[string]interface{}{
		"session_token": token,
		"user_id":       info.UserID,
		"username":      info.Username,
	})
}

func (s *Service) disconnect(ctx context.Context, r DisconnectRequest) Response {
	if err := s.session.Require(r.SessionToken); err != nil {
		return errorResponse(err)
	}
	if err := s.feed.Detach(r.SessionToken); err != nil {
		s.logger.Warn().Err(err).Msg("Feed detach on disconnect failed")
	}
	if err := s.session.Disconnect(ctx); err != nil {
		return errorResponse(err)
	}
	return success("disconnected", nil)
}

func (s *Service) health() Response {
	status, info := s.session.Status()
	data := map[string]interface{}{
		"session_status":   string(status),
		"stream_connected": s.feed.Connected(),
		"subscriptions":    s.feed.ActiveSubscriptions(),
	}
	if status == models.SessionActive {
		data["user_id"] = info.UserID
		data["established_at"] = info.EstablishedAt
	}
	return success("bridge is up", data)
}

func (s *Service) placeOrder(ctx context.Context, r PlaceOrderRequest) Response {
	if err := s.session.Require(r.SessionToken); err != nil {
		return errorResponse(err)
	}

	retention := r.Retention
	if retention == "" {
		retention = string(models.RetentionDay)
	}
	req := models.OrderRequest{
		Exchange:     models.Exchange(r.Exchange),
		Symbol:       r.Symbol,
		Quantity:     r.Quantity,
		Price:        r.Price,
		OrderType:    models.OrderType(r.OrderType),
		Transaction:  models.TransactionType(r.Transaction),
		Product:      models.ProductType(r.Product),
		Retention:    models.Retention(retention),
		TriggerPrice: r.TriggerPrice,
		Remarks:      r.Remarks,
	}

	localID, err := s.gateway.PlaceOrder(ctx, req)
	if err != nil {
		return errorResponse(err)
	}
	order, err := s.gateway.Order(localID)
	if err != nil {
		return errorResponse(err)
	}
	return success("order placed", map[string]interface{}{
		"local_id":        order.LocalID,
		"broker_order_id": order.BrokerOrderID,
		"state":           string(order.State),
	})
}

func (s *Service) modifyOrder(ctx context.Context, r ModifyOrderRequest) Response {
	if err := s.session.Require(r.SessionToken); err != nil {
		return errorResponse(err)
	}
	if r.OrderID == "" {
		return failure("order_id is required")
	}

	patch := models.OrderPatch{
		Quantity:     r.Quantity,
		Price:        r.Price,
		TriggerPrice: r.TriggerPrice,
	}
	if r.OrderType != nil {
		t := models.OrderType(*r.OrderType)
		patch.OrderType = &t
	}
	if r.Retention != nil {
		ret := models.Retention(*r.Retention)
		patch.Retention = &ret
	}

	if err := s.gateway.ModifyOrder(ctx, r.OrderID, patch); err != nil {
		return errorResponse(err)
	}
	return success("order modified", nil)
}

func (s *Service) cancelOrder(ctx context.Context, r CancelOrderRequest) Response {
	if err := s.session.Require(r.SessionToken); err != nil {
		return errorResponse(err)
	}
	if r.OrderID == "" {
		return failure("order_id is required")
	}
	if err := s.gateway.CancelOrder(ctx, r.OrderID); err != nil {
		return errorResponse(err)
	}
	return success("order cancelled", nil)
}

func (s *Service) orderBook(ctx context.Context, r OrderBookRequest) Response {
	if err := s.session.Require(r.SessionToken); err != nil {
		return errorResponse(err)
	}
	entries, err := s.gateway.GetOrderBook(ctx)
	if err != nil {
		return errorResponse(err)
	}
	return success(fmt.Sprintf("%d orders", len(entries)), entries)
}

func (s *Service) tradeBook(ctx context.Context, r TradeBookRequest) Response {
	if err := s.session.Require(r.SessionToken); err != nil {
		return errorResponse(err)
	}
	trades, err := s.gateway.GetTradeBook(ctx)
	if err != nil {
		return errorResponse(err)
	}
	return success(fmt.Sprintf("%d trades", len(trades)), trades)
}

func (s *Service) positions(ctx context.Context, r PositionsRequest) Response {
	if err := s.session.Require(r.SessionToken); err != nil {
		return errorResponse(err)
	}
	positions, err := s.gateway.GetPositions(ctx)
	if err != nil {
		return errorResponse(err)
	}
	return success(fmt.Sprintf("%d positions", len(positions)), positions)
}

func (s *Service) holdings(ctx context.Context, r HoldingsRequest) Response {
	if err := s.session.Require(r.SessionToken); err != nil {
		return errorResponse(err)
	}
	holdings, err := s.gateway.GetHoldings(ctx, models.ProductType(r.Product))
	if err != nil {
		return errorResponse(err)
	}
	return success(fmt.Sprintf("%d holdings", len(holdings)), holdings)
}

func (s *Service) limits(ctx context.Context, r LimitsRequest) Response {
	if err := s.session.Require(r.SessionToken); err != nil {
		return errorResponse(err)
	}
	limits, err := s.gateway.GetLimits(ctx)
	if err != nil {
		return errorResponse(err)
	}
	return success("limits fetched", limits)
}

func (s *Service) quote(ctx context.Context, r QuoteRequest) Response {
	if err := s.session.Require(r.SessionToken); err != nil {
		return errorResponse(err)
	}
	key, err := models.ParseInstrumentKey(r.Instrument)
	if err != nil {
		return errorResponse(err)
	}
	quote, err := s.gateway.GetQuote(ctx, key)
	if err != nil {
		return errorResponse(err)
	}
	return success("quote fetched", quote)
}

func (s *Service) searchScrip(ctx context.Context, r SearchScripRequest) Response {
	if err := s.session.Require(r.SessionToken); err != nil {
		return errorResponse(err)
	}
	if r.Text == "" {
		return failure("search text is required")
	}
	scrips, err := s.gateway.SearchScrip(ctx, models.Exchange(r.Exchange), r.Text)
	if err != nil {
		return errorResponse(err)
	}
	return success(fmt.Sprintf("%d matches", len(scrips)), scrips)
}

func (s *Service) subscribe(ctx context.Context, r SubscribeRequest) Response {
	if err := s.session.Require(r.SessionToken); err != nil {
		return errorResponse(err)
	}
	if len(r.Instruments) == 0 {
		return failure("instruments are required")
	}
	feedType, ok := parseFeedType(r.FeedType)
	if !ok {
		return failure(fmt.Sprintf("unknown feed type %q", r.FeedType))
	}
	instruments, err := parseInstruments(r.Instruments)
	if err != nil {
		return errorResponse(err)
	}

	if err := s.feed.Subscribe(ctx, r.SessionToken, instruments, feedType); err != nil {
		return errorResponse(err)
	}
	return success(fmt.Sprintf("subscribed to %d instruments", len(instruments)), nil)
}

func (s *Service) unsubscribe(ctx context.Context, r UnsubscribeRequest) Response {
	if err := s.session.Require(r.SessionToken); err != nil {
		return errorResponse(err)
	}
	if len(r.Instruments) == 0 {
		return failure("instruments are required")
	}
	feedType, ok := parseFeedType(r.FeedType)
	if !ok {
		return failure(fmt.Sprintf("unknown feed type %q", r.FeedType))
	}
	instruments, err := parseInstruments(r.Instruments)
	if err != nil {
		return errorResponse(err)
	}

	if err := s.feed.Unsubscribe(ctx, r.SessionToken, instruments, feedType); err != nil {
		return errorResponse(err)
	}
	return success(fmt.Sprintf("unsubscribed from %d instruments", len(instruments)), nil)
}

func (s *Service) snapshot(r SnapshotRequest) Response {
	if err := s.session.Require(r.SessionToken); err != nil {
		return errorResponse(err)
	}
	ticks := s.feed.Snapshot(r.SessionToken)
	return success(fmt.Sprintf("%d instruments", len(ticks)), ticks)
}

var _ Handler = (*Service)(nil)
