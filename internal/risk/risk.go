// Package risk applies stateless pre-trade checks to order requests.
package risk

import (
	"strings"

	apierrors "shoonya-bridge/internal/errors"
	"shoonya-bridge/internal/models"
)

// Policy validates order requests against configured ceilings. A Policy
// holds no mutable state and is safe for concurrent use.
type Policy struct {
	maxQuantity int
	maxNotional float64
}

// NewPolicy creates a risk policy with the given per-order ceilings.
func NewPolicy(maxQuantity int, maxNotional float64) *Policy {
	return &Policy{
		maxQuantity: maxQuantity,
		maxNotional: maxNotional,
	}
}

// Validate checks an order request. Checks run in a fixed sequence and
// the first violation is returned: field validity, then the quantity
// ceiling, then the notional ceiling. The notional check only applies to
// priced orders; market orders carry no price to value.
func (p *Policy) Validate(req models.OrderRequest) error {
	if err := p.validateFields(req); err != nil {
		return err
	}

	if req.Quantity > p.maxQuantity {
		return apierrors.NewRiskViolation(
			apierrors.RuleQuantityExceeded, "quantity", req.Quantity,
			"order quantity exceeds the per-order ceiling")
	}

	if priced(req.OrderType) {
		if notional := req.Notional(); notional > p.maxNotional {
			return apierrors.NewRiskViolation(
				apierrors.RuleNotionalExceeded, "notional", notional,
				"order value exceeds the per-order ceiling")
		}
	}

	return nil
}

func (p *Policy) validateFields(req models.OrderRequest) error {
	if strings.TrimSpace(req.Symbol) == "" {
		return invalid("symbol", req.Symbol, "symbol is required")
	}
	if !contains(models.Exchanges, req.Exchange) {
		return invalid("exchange", req.Exchange, "unknown exchange")
	}
	if !contains(models.OrderTypes, req.OrderType) {
		return invalid("order_type", req.OrderType, "unknown order type")
	}
	if !contains(models.TransactionTypes, req.Transaction) {
		return invalid("transaction", req.Transaction, "unknown transaction type")
	}
	if !contains(models.ProductTypes, req.Product) {
		return invalid("product", req.Product, "unknown product type")
	}
	if !contains(models.Retentions, req.Retention) {
		return invalid("retention", req.Retention, "unknown retention")
	}
	if req.Quantity <= 0 {
		return invalid("quantity", req.Quantity, "quantity must be positive")
	}
	if req.Price < 0 {
		return invalid("price", req.Price, "price must not be negative")
	}
	if priced(req.OrderType) && req.Price <= 0 {
		return invalid("price", req.Price, "price must be positive for priced orders")
	}
	if req.OrderType.RequiresTrigger() && req.TriggerPrice <= 0 {
		return invalid("trigger_price", req.TriggerPrice, "trigger price required for stop orders")
	}
	if !req.OrderType.RequiresTrigger() && req.TriggerPrice != 0 {
		return invalid("trigger_price", req.TriggerPrice, "trigger price not allowed for this order type")
	}
	return nil
}

// priced reports whether the order type carries a limit price. SL-M and
// MARKET execute at market and have no notional to bound.
func priced(t models.OrderType) bool {
	return t == models.OrderTypeLimit || t == models.OrderTypeStopLoss
}

func invalid(field string, value interface{}, message string) error {
	return apierrors.NewRiskViolation(apierrors.RuleInvalidField, field, value, message)
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
