// Package gateway coordinates order flow between the risk policy, the
// session manager, the order ledger and the upstream broker.
package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"shoonya-bridge/internal/broker"
	apierrors "shoonya-bridge/internal/errors"
	"shoonya-bridge/internal/ledger"
	"shoonya-bridge/internal/logging"
	"shoonya-bridge/internal/models"
	"shoonya-bridge/internal/risk"
	"shoonya-bridge/internal/session"
)

// Gateway is the single entry point for order operations and account
// queries. Every upstream call is bounded by the configured timeout, and
// an upstream auth rejection expires the local session.
type Gateway struct {
	broker  broker.Broker
	session *session.Manager
	policy  *risk.Policy
	orders  *ledger.Ledger
	logger  zerolog.Logger
	timeout time.Duration
}

// New creates a gateway. Committed order transitions are logged; further
// listeners (such as the journal) attach via Ledger().OnTransition.
func New(b broker.Broker, sess *session.Manager, policy *risk.Policy, orders *ledger.Ledger, logger zerolog.Logger, timeout time.Duration) *Gateway {
	g := &Gateway{
		broker:  b,
		session: sess,
		policy:  policy,
		orders:  orders,
		logger:  logger.With().Str("component", "gateway").Logger(),
		timeout: timeout,
	}
	orders.OnTransition(func(o models.Order, from, to models.OrderState) {
		logging.LogOrderTransition(g.logger, o.LocalID, o.BrokerOrderID, string(from), string(to), o.RejectReason)
	})
	return g
}

// Ledger exposes the order ledger for listener registration and reads.
func (g *Gateway) Ledger() *ledger.Ledger {
	return g.orders
}

// PlaceOrder validates, tracks and submits a new order, returning its
// local ID. The local ID is valid even when the order is rejected; the
// ledger keeps the rejected order with its reason.
func (g *Gateway) PlaceOrder(ctx context.Context, req models.OrderRequest) (string, error) {
	if err := g.policy.Validate(req); err != nil {
		return "", err
	}
	if err := g.session.RequireActive(); err != nil {
		return "", err
	}

	localID := g.orders.Track(req)

	ctx, cancel := g.bound(ctx)
	defer cancel()
	result, err := g.broker.PlaceOrder(ctx, req)
	if err != nil {
		g.noteUpstreamFailure(err)
		if rejectErr := g.orders.RejectSubmit(localID, err.Error()); rejectErr != nil {
			g.logger.Error().Err(rejectErr).Str("local_id", localID).Msg("Failed to record rejection")
		}
		return localID, apierrors.NewOrderError(localID, "place", "broker rejected order", err)
	}

	if err := g.orders.Acknowledge(localID, result.BrokerOrderID); err != nil {
		return localID, err
	}
	return localID, nil
}

// ModifyOrder applies a patch to a tracked order. The patched request is
// re-validated against the risk policy before it goes upstream; a broker
// rejection restores the order's previous state.
func (g *Gateway) ModifyOrder(ctx context.Context, id string, patch models.OrderPatch) error {
	localID, err := g.orders.Resolve(id)
	if err != nil {
		return err
	}
	order, err := g.orders.Get(localID)
	if err != nil {
		return err
	}
	if order.State.Terminal() {
		return apierrors.ErrOrderFinal
	}

	newReq := patch.Apply(order.Request)
	if err := g.policy.Validate(newReq); err != nil {
		return err
	}
	if err := g.session.RequireActive(); err != nil {
		return err
	}
	if err := g.orders.BeginModify(localID); err != nil {
		return err
	}

	ctx, cancel := g.bound(ctx)
	defer cancel()
	if _, err := g.broker.ModifyOrder(ctx, order.BrokerOrderID, newReq); err != nil {
		g.noteUpstreamFailure(err)
		if failErr := g.orders.FailModify(localID); failErr != nil {
			g.logger.Error().Err(failErr).Str("local_id", localID).Msg("Failed to restore state after modify rejection")
		}
		return apierrors.NewOrderError(localID, "modify", "broker rejected modify", err)
	}
	return g.orders.CompleteModify(localID, newReq)
}

// CancelOrder cancels a tracked order. A broker rejection restores the
// order's previous state.
func (g *Gateway) CancelOrder(ctx context.Context, id string) error {
	localID, err := g.orders.Resolve(id)
	if err != nil {
		return err
	}
	order, err := g.orders.Get(localID)
	if err != nil {
		return err
	}

	if err := g.session.RequireActive(); err != nil {
		return err
	}
	if err := g.orders.BeginCancel(localID); err != nil {
		return err
	}

	ctx, cancel := g.bound(ctx)
	defer cancel()
	if _, err := g.broker.CancelOrder(ctx, order.BrokerOrderID); err != nil {
		g.noteUpstreamFailure(err)
		if failErr := g.orders.FailCancel(localID); failErr != nil {
			g.logger.Error().Err(failErr).Str("local_id", localID).Msg("Failed to restore state after cancel rejection")
		}
		return apierrors.NewOrderError(localID, "cancel", "broker rejected cancel", err)
	}
	return g.orders.CompleteCancel(localID)
}

// Order returns the ledger snapshot for a local or broker order ID.
func (g *Gateway) Order(id string) (models.Order, error) {
	localID, err := g.orders.Resolve(id)
	if err != nil {
		return models.Order{}, err
	}
	return g.orders.Get(localID)
}

// Orders returns snapshots of all orders tracked this session.
func (g *Gateway) Orders() []models.Order {
	return g.orders.List()
}

// GetOrderBook fetches the upstream order book and reconciles fills and
// terminal statuses into the ledger for orders this process placed.
func (g *Gateway) GetOrderBook(ctx context.Context) ([]models.OrderBookEntry, error) {
	if err := g.session.RequireActive(); err != nil {
		return nil, err
	}

	ctx, cancel := g.bound(ctx)
	defer cancel()
	entries, err := g.broker.GetOrderBook(ctx)
	if err != nil {
		g.noteUpstreamFailure(err)
		return nil, err
	}

	g.reconcile(entries)
	return entries, nil
}

// GetTradeBook fetches the day's executions.
func (g *Gateway) GetTradeBook(ctx context.Context) ([]models.Trade, error) {
	return upstream(g, ctx, g.broker.GetTradeBook)
}

// GetPositions fetches the current position book.
func (g *Gateway) GetPositions(ctx context.Context) ([]models.Position, error) {
	return upstream(g, ctx, g.broker.GetPositions)
}

// GetHoldings fetches delivery holdings.
func (g *Gateway) GetHoldings(ctx context.Context, product models.ProductType) ([]models.Holding, error) {
	return upstream(g, ctx, func(ctx context.Context) ([]models.Holding, error) {
		return g.broker.GetHoldings(ctx, product)
	})
}

// GetLimits fetches account balance and margins.
func (g *Gateway) GetLimits(ctx context.Context) (*models.Limits, error) {
	return upstream(g, ctx, g.broker.GetLimits)
}

// GetQuote fetches a point-in-time quote.
func (g *Gateway) GetQuote(ctx context.Context, instrument models.InstrumentKey) (*models.Quote, error) {
	return upstream(g, ctx, func(ctx context.Context) (*models.Quote, error) {
		return g.broker.GetQuote(ctx, instrument)
	})
}

// SearchScrip searches instruments on an exchange.
func (g *Gateway) SearchScrip(ctx context.Context, exchange models.Exchange, text string) ([]models.Scrip, error) {
	return upstream(g, ctx, func(ctx context.Context) ([]models.Scrip, error) {
		return g.broker.SearchScrip(ctx, exchange, text)
	})
}

// reconcile folds upstream book rows into the ledger. Only orders this
// process placed are touched; reconciliation errors are logged, not
// surfaced, since the book fetch itself succeeded.
func (g *Gateway) reconcile(entries []models.OrderBookEntry) {
	for _, e := range entries {
		order, err := g.orders.GetByBrokerID(e.BrokerOrderID)
		if err != nil {
			continue
		}
		if order.State.Terminal() {
			continue
		}

		logger := logging.WithOrder(g.logger, order.LocalID)

		if e.FilledQty > order.FilledQty {
			delta := e.FilledQty - order.FilledQty
			if err := g.orders.ApplyFill(order.LocalID, delta, e.AveragePrice); err != nil {
				logger.Warn().Err(err).Msg("Fill reconciliation failed")
			}
		}

		switch strings.ToUpper(e.Status) {
		case "REJECTED":
			if err := g.orders.MarkRejected(order.LocalID, "rejected by broker"); err != nil && err != apierrors.ErrOrderFinal {
				logger.Warn().Err(err).Msg("Rejection reconciliation failed")
			}
		}
	}
}

// upstream wraps a session check, the call timeout and expiry handling
// around a broker query.
func upstream[T any](g *Gateway, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := g.session.RequireActive(); err != nil {
		return zero, err
	}

	ctx, cancel := g.bound(ctx)
	defer cancel()
	out, err := fn(ctx)
	if err != nil {
		g.noteUpstreamFailure(err)
		return zero, err
	}
	return out, nil
}

func (g *Gateway) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *Gateway) noteUpstreamFailure(err error) {
	if apierrors.IsAuthRejection(err) {
		g.session.MarkExpired()
	}
}
