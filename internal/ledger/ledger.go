// Package ledger tracks the lifecycle of orders submitted through the
// bridge. Orders are keyed by a locally generated ID assigned before
// submission and additionally by the broker order ID once acknowledged.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"

	apierrors "shoonya-bridge/internal/errors"
	"shoonya-bridge/internal/models"
)

// TransitionListener observes committed state transitions. Listeners run
// synchronously under the ledger lock and must not call back in.
type TransitionListener func(order models.Order, from, to models.OrderState)

// Ledger is the in-memory order book of this process. All transitions
// are validated against the lifecycle; terminal orders reject every
// further change with ErrOrderFinal.
type Ledger struct {
	mu        sync.RWMutex
	orders    map[string]*models.Order // by local ID
	byBroker  map[string]string        // broker order ID -> local ID
	revert    map[string]models.OrderState
	listeners []TransitionListener
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		orders:   make(map[string]*models.Order),
		byBroker: make(map[string]string),
		revert:   make(map[string]models.OrderState),
	}
}

// OnTransition registers a listener for committed transitions.
func (l *Ledger) OnTransition(fn TransitionListener) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Track records a new order about to be submitted and returns its local
// ID. The order starts in PENDING_SUBMIT.
func (l *Ledger) Track(req models.OrderRequest) string {
	localID := uuid.New().String()
	order := &models.Order{
		LocalID:    localID,
		Request:    req,
		State:      models.StatePendingSubmit,
		LastUpdate: time.Now(),
	}

	l.mu.Lock()
	l.orders[localID] = order
	l.mu.Unlock()
	return localID
}

// Acknowledge binds the broker order ID to a pending order and opens it.
// The broker ID is set exactly once.
func (l *Ledger) Acknowledge(localID, brokerOrderID string) error {
	return l.transition(localID, func(o *models.Order) (models.OrderState, error) {
		if o.State != models.StatePendingSubmit {
			return "", apierrors.NewOrderError(localID, "acknowledge", "order not pending submit", nil)
		}
		o.BrokerOrderID = brokerOrderID
		l.byBroker[brokerOrderID] = localID
		return models.StateOpen, nil
	})
}

// RejectSubmit marks a pending order rejected before it reached the book.
func (l *Ledger) RejectSubmit(localID, reason string) error {
	return l.transition(localID, func(o *models.Order) (models.OrderState, error) {
		if o.State != models.StatePendingSubmit {
			return "", apierrors.NewOrderError(localID, "reject", "order not pending submit", nil)
		}
		o.RejectReason = reason
		return models.StateRejected, nil
	})
}

// ApplyFill records an execution. Cumulative fills below the requested
// quantity leave the order partially filled; reaching it fills the order.
// Fills also land while a modify or cancel is in flight, in which case
// the recorded fill updates the revert target.
func (l *Ledger) ApplyFill(localID string, qty int, avgPrice float64) error {
	return l.transition(localID, func(o *models.Order) (models.OrderState, error) {
		switch o.State {
		case models.StateOpen, models.StatePartiallyFilled,
			models.StatePendingModify, models.StatePendingCancel:
		default:
			return "", apierrors.NewOrderError(localID, "fill", "order not fillable in state "+string(o.State), nil)
		}

		o.FilledQty += qty
		if o.FilledQty > o.Request.Quantity {
			o.FilledQty = o.Request.Quantity
		}
		o.AvgFillPrice = avgPrice

		filledState := models.StatePartiallyFilled
		if o.FilledQty >= o.Request.Quantity {
			filledState = models.StateFilled
		}

		// A fill during an in-flight modify or cancel updates where the
		// order lands if that request is rejected.
		if o.State == models.StatePendingModify || o.State == models.StatePendingCancel {
			if filledState == models.StateFilled {
				return models.StateFilled, nil
			}
			l.revert[localID] = filledState
			return o.State, nil
		}
		return filledState, nil
	})
}

// BeginModify moves an open order into PENDING_MODIFY, remembering the
// state to restore if the modify is rejected.
func (l *Ledger) BeginModify(localID string) error {
	return l.beginPending(localID, "modify", models.StatePendingModify)
}

// CompleteModify commits a broker-accepted modify: the patched request
// replaces the original and the order returns to its fill state.
func (l *Ledger) CompleteModify(localID string, newReq models.OrderRequest) error {
	return l.transition(localID, func(o *models.Order) (models.OrderState, error) {
		if o.State != models.StatePendingModify {
			return "", apierrors.NewOrderError(localID, "modify", "no modify in flight", nil)
		}
		o.Request = newReq
		return l.takeRevert(localID, o), nil
	})
}

// FailModify restores the pre-modify state after a broker rejection.
func (l *Ledger) FailModify(localID string) error {
	return l.failPending(localID, "modify", models.StatePendingModify)
}

// BeginCancel moves an open order into PENDING_CANCEL.
func (l *Ledger) BeginCancel(localID string) error {
	return l.beginPending(localID, "cancel", models.StatePendingCancel)
}

// CompleteCancel commits a broker-accepted cancel.
func (l *Ledger) CompleteCancel(localID string) error {
	return l.transition(localID, func(o *models.Order) (models.OrderState, error) {
		if o.State != models.StatePendingCancel {
			return "", apierrors.NewOrderError(localID, "cancel", "no cancel in flight", nil)
		}
		delete(l.revert, localID)
		return models.StateCancelled, nil
	})
}

// FailCancel restores the pre-cancel state after a broker rejection.
func (l *Ledger) FailCancel(localID string) error {
	return l.failPending(localID, "cancel", models.StatePendingCancel)
}

// MarkRejected moves an acknowledged order to REJECTED, as reported by
// the broker's book.
func (l *Ledger) MarkRejected(localID, reason string) error {
	return l.transition(localID, func(o *models.Order) (models.OrderState, error) {
		o.RejectReason = reason
		delete(l.revert, localID)
		return models.StateRejected, nil
	})
}

// Get returns a snapshot of the order with the given local ID.
func (l *Ledger) Get(localID string) (models.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.orders[localID]
	if !ok {
		return models.Order{}, apierrors.ErrOrderNotFound
	}
	return o.Snapshot(), nil
}

// GetByBrokerID returns a snapshot of the order with the given broker
// order ID.
func (l *Ledger) GetByBrokerID(brokerOrderID string) (models.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	localID, ok := l.byBroker[brokerOrderID]
	if !ok {
		return models.Order{}, apierrors.ErrOrderNotFound
	}
	return l.orders[localID].Snapshot(), nil
}

// Resolve maps either a local ID or a broker order ID to the local ID.
func (l *Ledger) Resolve(id string) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.orders[id]; ok {
		return id, nil
	}
	if localID, ok := l.byBroker[id]; ok {
		return localID, nil
	}
	return "", apierrors.ErrOrderNotFound
}

// List returns snapshots of all tracked orders.
func (l *Ledger) List() []models.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Order, 0, len(l.orders))
	for _, o := range l.orders {
		out = append(out, o.Snapshot())
	}
	return out
}

func (l *Ledger) beginPending(localID, action string, pending models.OrderState) error {
	return l.transition(localID, func(o *models.Order) (models.OrderState, error) {
		if o.State != models.StateOpen && o.State != models.StatePartiallyFilled {
			return "", apierrors.NewOrderError(localID, action, "order not open", nil)
		}
		l.revert[localID] = o.State
		return pending, nil
	})
}

func (l *Ledger) failPending(localID, action string, pending models.OrderState) error {
	return l.transition(localID, func(o *models.Order) (models.OrderState, error) {
		if o.State != pending {
			return "", apierrors.NewOrderError(localID, action, "no "+action+" in flight", nil)
		}
		return l.takeRevert(localID, o), nil
	})
}

// takeRevert pops the remembered pre-request state, recomputing it from
// fills when absent.
func (l *Ledger) takeRevert(localID string, o *models.Order) models.OrderState {
	state, ok := l.revert[localID]
	delete(l.revert, localID)
	if !ok {
		state = models.StateOpen
		if o.FilledQty > 0 {
			state = models.StatePartiallyFilled
		}
	}
	return state
}

// transition runs fn under the lock and commits the state it returns.
// Terminal orders are immutable.
func (l *Ledger) transition(localID string, fn func(*models.Order) (models.OrderState, error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[localID]
	if !ok {
		return apierrors.ErrOrderNotFound
	}
	if o.State.Terminal() {
		return apierrors.ErrOrderFinal
	}

	from := o.State
	to, err := fn(o)
	if err != nil {
		return err
	}

	o.State = to
	o.LastUpdate = time.Now()
	if to.Terminal() {
		delete(l.revert, localID)
	}

	if from != to {
		snapshot := o.Snapshot()
		for _, listener := range l.listeners {
			listener(snapshot, from, to)
		}
	}
	return nil
}
