// Package broker provides the upstream trading API interface and implementations.
package broker

import (
	"context"

	"shoonya-bridge/internal/models"
)

// Broker defines the interface for upstream broker operations. Every call
// is bounded by its context deadline; a call that times out returns an
// UpstreamError wrapping ErrTimeout, and the caller must assume the broker
// may still have acted on it.
type Broker interface {
	// Authentication
	Login(ctx context.Context, creds models.Credentials) (*LoginResult, error)
	Logout(ctx context.Context) error

	// Orders
	PlaceOrder(ctx context.Context, req models.OrderRequest) (*OrderResult, error)
	ModifyOrder(ctx context.Context, brokerOrderID string, req models.OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, brokerOrderID string) (*OrderResult, error)

	// Books & account
	GetOrderBook(ctx context.Context) ([]models.OrderBookEntry, error)
	GetTradeBook(ctx context.Context) ([]models.Trade, error)
	GetPositions(ctx context.Context) ([]models.Position, error)
	GetHoldings(ctx context.Context, product models.ProductType) ([]models.Holding, error)
	GetLimits(ctx context.Context) (*models.Limits, error)

	// Market data (REST)
	GetQuote(ctx context.Context, instrument models.InstrumentKey) (*models.Quote, error)
	SearchScrip(ctx context.Context, exchange models.Exchange, text string) ([]models.Scrip, error)

	// OpenStream returns a market-data stream bound to the current session.
	OpenStream() (Stream, error)
}

// Stream defines the interface for the real-time market-data connection.
type Stream interface {
	Connect(ctx context.Context) error
	Close() error
	Subscribe(instruments []models.InstrumentKey, feed models.FeedType) error
	Unsubscribe(instruments []models.InstrumentKey, feed models.FeedType) error
	OnTick(handler func(models.Tick))
	OnConnect(handler func())
	OnDisconnect(handler func(error))
}

// LoginResult represents a successful upstream login.
type LoginResult struct {
	UserID       string
	Username     string
	SessionToken string // broker susertoken, held by the client
}

// OrderResult represents the broker acknowledgment of an order operation.
type OrderResult struct {
	BrokerOrderID string
	Message       string
}
