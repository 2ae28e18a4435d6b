package broker

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	apierrors "shoonya-bridge/internal/errors"
	"shoonya-bridge/internal/models"
)

// SimBroker implements the Broker interface with simulated state. It is
// used in sim mode and in tests; no network calls are made.
type SimBroker struct {
	mu sync.RWMutex

	loggedIn bool
	userID   string

	orders       map[string]*simOrder
	orderCounter int

	positions []models.Position
	holdings  []models.Holding
	limits    models.Limits

	stream *SimStream

	// RejectOrders, when set, makes order calls fail with the given
	// reason. Tests use this to exercise rejection paths.
	rejectReason string
}

type simOrder struct {
	id       string
	req      models.OrderRequest
	status   string
	filled   int
	avgPrice float64
	placedAt time.Time
}

// NewSimBroker creates a simulated broker with a default cash balance.
func NewSimBroker() *SimBroker {
	return &SimBroker{
		orders: make(map[string]*simOrder),
		limits: models.Limits{Cash: 1000000},
		stream: NewSimStream(),
	}
}

// RejectOrders makes subsequent order calls fail with reason. Pass an
// empty string to accept orders again.
func (b *SimBroker) RejectOrders(reason string) {
	b.mu.Lock()
	b.rejectReason = reason
	b.mu.Unlock()
}

// SetPositions seeds the simulated position book.
func (b *SimBroker) SetPositions(positions []models.Position) {
	b.mu.Lock()
	b.positions = positions
	b.mu.Unlock()
}

// SetHoldings seeds the simulated holdings.
func (b *SimBroker) SetHoldings(holdings []models.Holding) {
	b.mu.Lock()
	b.holdings = holdings
	b.mu.Unlock()
}

// Login accepts any non-empty credentials.
func (b *SimBroker) Login(ctx context.Context, creds models.Credentials) (*LoginResult, error) {
	if creds.UserID == "" || creds.Password == "" {
		return nil, apierrors.NewAuthError("invalid credentials", nil)
	}
	b.mu.Lock()
	b.loggedIn = true
	b.userID = creds.UserID
	b.mu.Unlock()
	return &LoginResult{
		UserID:       creds.UserID,
		Username:     "Sim User",
		SessionToken: fmt.Sprintf("sim-token-%d", time.Now().UnixNano()),
	}, nil
}

// Logout clears the simulated session.
func (b *SimBroker) Logout(ctx context.Context) error {
	b.mu.Lock()
	b.loggedIn = false
	b.mu.Unlock()
	return nil
}

// PlaceOrder accepts the order and marks it open.
func (b *SimBroker) PlaceOrder(ctx context.Context, req models.OrderRequest) (*OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loggedIn {
		return nil, apierrors.ErrNotAuthenticated
	}
	if b.rejectReason != "" {
		return nil, apierrors.NewUpstreamError("place order", b.rejectReason, nil)
	}

	b.orderCounter++
	id := fmt.Sprintf("SIM%06d", b.orderCounter)
	b.orders[id] = &simOrder{
		id:       id,
		req:      req,
		status:   "OPEN",
		placedAt: time.Now(),
	}
	return &OrderResult{BrokerOrderID: id, Message: "order placed"}, nil
}

// ModifyOrder replaces the request of an open order.
func (b *SimBroker) ModifyOrder(ctx context.Context, brokerOrderID string, req models.OrderRequest) (*OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loggedIn {
		return nil, apierrors.ErrNotAuthenticated
	}
	if b.rejectReason != "" {
		return nil, apierrors.NewUpstreamError("modify order", b.rejectReason, nil)
	}

	order, ok := b.orders[brokerOrderID]
	if !ok {
		return nil, apierrors.NewUpstreamError("modify order", "order not found", nil)
	}
	if order.status != "OPEN" {
		return nil, apierrors.NewUpstreamError("modify order", "order not open", nil)
	}
	order.req = req
	return &OrderResult{BrokerOrderID: brokerOrderID, Message: "order modified"}, nil
}

// CancelOrder cancels an open order.
func (b *SimBroker) CancelOrder(ctx context.Context, brokerOrderID string) (*OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loggedIn {
		return nil, apierrors.ErrNotAuthenticated
	}
	if b.rejectReason != "" {
		return nil, apierrors.NewUpstreamError("cancel order", b.rejectReason, nil)
	}

	order, ok := b.orders[brokerOrderID]
	if !ok {
		return nil, apierrors.NewUpstreamError("cancel order", "order not found", nil)
	}
	if order.status != "OPEN" {
		return nil, apierrors.NewUpstreamError("cancel order", "order not open", nil)
	}
	order.status = "CANCELED"
	return &OrderResult{BrokerOrderID: brokerOrderID, Message: "order cancelled"}, nil
}

// Fill marks the order fully or partially executed at price. Tests drive
// fills through this method.
func (b *SimBroker) Fill(brokerOrderID string, qty int, price float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[brokerOrderID]
	if !ok {
		return fmt.Errorf("unknown order %s", brokerOrderID)
	}
	order.filled += qty
	order.avgPrice = price
	if order.filled >= order.req.Quantity {
		order.filled = order.req.Quantity
		order.status = "COMPLETE"
	}
	return nil
}

// GetOrderBook returns all simulated orders.
func (b *SimBroker) GetOrderBook(ctx context.Context) ([]models.OrderBookEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.loggedIn {
		return nil, apierrors.ErrNotAuthenticated
	}

	entries := make([]models.OrderBookEntry, 0, len(b.orders))
	for _, o := range b.orders {
		entries = append(entries, models.OrderBookEntry{
			BrokerOrderID: o.id,
			Symbol:        o.req.Symbol,
			Exchange:      o.req.Exchange,
			Transaction:   o.req.Transaction,
			OrderType:     o.req.OrderType,
			Product:       o.req.Product,
			Quantity:      o.req.Quantity,
			Price:         o.req.Price,
			TriggerPrice:  o.req.TriggerPrice,
			FilledQty:     o.filled,
			AveragePrice:  o.avgPrice,
			Status:        o.status,
			PlacedAt:      o.placedAt,
		})
	}
	return entries, nil
}

// GetTradeBook returns one trade per filled order.
func (b *SimBroker) GetTradeBook(ctx context.Context) ([]models.Trade, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.loggedIn {
		return nil, apierrors.ErrNotAuthenticated
	}

	var trades []models.Trade
	for _, o := range b.orders {
		if o.filled == 0 {
			continue
		}
		trades = append(trades, models.Trade{
			BrokerOrderID: o.id,
			TradeID:       o.id + "-1",
			Symbol:        o.req.Symbol,
			Exchange:      o.req.Exchange,
			Transaction:   o.req.Transaction,
			Quantity:      o.filled,
			Price:         o.avgPrice,
			ExecutedAt:    o.placedAt,
		})
	}
	return trades, nil
}

// GetPositions returns the seeded position book.
func (b *SimBroker) GetPositions(ctx context.Context) ([]models.Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.loggedIn {
		return nil, apierrors.ErrNotAuthenticated
	}
	return append([]models.Position(nil), b.positions...), nil
}

// GetHoldings returns the seeded holdings.
func (b *SimBroker) GetHoldings(ctx context.Context, product models.ProductType) ([]models.Holding, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.loggedIn {
		return nil, apierrors.ErrNotAuthenticated
	}
	return append([]models.Holding(nil), b.holdings...), nil
}

// GetLimits returns the simulated balance.
func (b *SimBroker) GetLimits(ctx context.Context) (*models.Limits, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.loggedIn {
		return nil, apierrors.ErrNotAuthenticated
	}
	limits := b.limits
	return &limits, nil
}

// GetQuote synthesizes a quote around a stable per-token base price.
func (b *SimBroker) GetQuote(ctx context.Context, instrument models.InstrumentKey) (*models.Quote, error) {
	b.mu.RLock()
	loggedIn := b.loggedIn
	b.mu.RUnlock()
	if !loggedIn {
		return nil, apierrors.ErrNotAuthenticated
	}

	base := basePrice(instrument)
	ltp := base * (1 + (rand.Float64()-0.5)*0.01)
	return &models.Quote{
		Instrument:    instrument,
		Symbol:        "SIM-" + instrument.Token,
		LTP:           ltp,
		Open:          base,
		High:          base * 1.01,
		Low:           base * 0.99,
		Close:         base,
		Volume:        rand.Int63n(1000000),
		ChangePercent: (ltp - base) / base * 100,
		Timestamp:     time.Now(),
	}, nil
}

// SearchScrip returns a single fabricated match for the search text.
func (b *SimBroker) SearchScrip(ctx context.Context, exchange models.Exchange, text string) ([]models.Scrip, error) {
	b.mu.RLock()
	loggedIn := b.loggedIn
	b.mu.RUnlock()
	if !loggedIn {
		return nil, apierrors.ErrNotAuthenticated
	}

	symbol := strings.ToUpper(strings.TrimSpace(text))
	if symbol == "" {
		return nil, nil
	}
	return []models.Scrip{{
		Exchange: exchange,
		Token:    fmt.Sprintf("%d", hashToken(symbol)),
		Symbol:   symbol + "-EQ",
		Name:     symbol,
		LotSize:  1,
		TickSize: 0.05,
	}}, nil
}

// OpenStream returns the simulated tick stream.
func (b *SimBroker) OpenStream() (Stream, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.loggedIn {
		return nil, apierrors.ErrNotAuthenticated
	}
	return b.stream, nil
}

// TickStream exposes the simulated stream so tests can inject ticks.
func (b *SimBroker) TickStream() *SimStream {
	return b.stream
}

func basePrice(instrument models.InstrumentKey) float64 {
	return 100 + float64(hashToken(instrument.Token)%9000)/10
}

func hashToken(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// SimStream is an in-process market-data stream. Ticks are delivered
// with Emit; subscriptions are recorded for assertions.
type SimStream struct {
	mu        sync.Mutex
	connected bool
	subs      map[string]models.FeedType

	onTick       func(models.Tick)
	onConnect    func()
	onDisconnect func(error)
}

// NewSimStream creates a simulated stream.
func NewSimStream() *SimStream {
	return &SimStream{subs: make(map[string]models.FeedType)}
}

func (s *SimStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.connected = true
	handler := s.onConnect
	s.mu.Unlock()
	if handler != nil {
		handler()
	}
	return nil
}

func (s *SimStream) Close() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

func (s *SimStream) Subscribe(instruments []models.InstrumentKey, feed models.FeedType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return apierrors.ErrStreamClosed
	}
	for _, inst := range instruments {
		s.subs[inst.String()] = feed
	}
	return nil
}

func (s *SimStream) Unsubscribe(instruments []models.InstrumentKey, feed models.FeedType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return apierrors.ErrStreamClosed
	}
	for _, inst := range instruments {
		delete(s.subs, inst.String())
	}
	return nil
}

func (s *SimStream) OnTick(handler func(models.Tick)) { s.onTick = handler }
func (s *SimStream) OnConnect(handler func())         { s.onConnect = handler }
func (s *SimStream) OnDisconnect(handler func(error)) { s.onDisconnect = handler }

// Subscribed reports whether the instrument currently has an upstream
// subscription.
func (s *SimStream) Subscribed(instrument models.InstrumentKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[instrument.String()]
	return ok
}

// Emit delivers a tick to the registered handler.
func (s *SimStream) Emit(tick models.Tick) {
	s.mu.Lock()
	handler := s.onTick
	s.mu.Unlock()
	if handler != nil {
		handler(tick)
	}
}

// Drop simulates a connection loss.
func (s *SimStream) Drop(err error) {
	s.mu.Lock()
	s.connected = false
	handler := s.onDisconnect
	s.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

var _ Broker = (*SimBroker)(nil)
var _ Stream = (*SimStream)(nil)
