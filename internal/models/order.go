package models

import (
	"github.com/shopspring/decimal"
)

// OrderRequest is the canonical order submission. Immutable once submitted;
// adapters translate it into their broker's wire format.
type OrderRequest struct {
	// ClientOrderID is an optional client-provided idempotency id.
	ClientOrderID string
	// Symbol is the instrument identifier: a trading symbol or the
	// broker-specific security id, depending on the adapter.
	Symbol      string
	Side        OrderSide
	Quantity    decimal.Decimal
	// Price is required for LIMIT orders; nil for MARKET.
	Price       *decimal.Decimal
	Type        OrderType
	TimeInForce TimeInForce
	// Meta carries broker-specific extras such as exchange segment,
	// product type, or instrument token.
	Meta map[string]string
}

// MetaOr returns the meta value for key, or fallback when absent.
func (r OrderRequest) MetaOr(key, fallback string) string {
	if v, ok := r.Meta[key]; ok && v != "" {
		return v
	}
	return fallback
}

// OrderResponse is the canonical result of one order submission. Produced
// once; the adapter layer never retries automatically.
type OrderResponse struct {
	// OrderID is the broker-assigned id, empty when rejected.
	OrderID string
	// Status is a canonical free-text status, e.g. PLACED or REJECTED.
	Status  string
	Message string
	// Meta holds raw broker-specific response fields.
	Meta map[string]string
}

// Canonical order statuses used by adapters.
const (
	OrderStatusPlaced   = "PLACED"
	OrderStatusRejected = "REJECTED"
)

// OrderStatus is a point-in-time view of a working order.
type OrderStatus struct {
	OrderID      string
	Status       string
	FilledQty    decimal.Decimal
	AvgFillPrice decimal.Decimal
}

// Position is a snapshot of one open position, recomputed fully on each
// fetch. No incremental update contract exists.
type Position struct {
	Symbol          string
	SecurityID      string
	Exchange        string
	ProductType     string
	NetQuantity     decimal.Decimal // signed
	AvgPrice        decimal.Decimal
	LastTradedPrice decimal.Decimal
	PnL             decimal.Decimal
	BuyQty          decimal.Decimal
	SellQty         decimal.Decimal
}
