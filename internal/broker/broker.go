// Package broker provides the canonical broker-client contract, the
// per-account session store, the broker registry, and one protocol adapter
// per supported broker.
package broker

import (
	"context"
	"time"

	"tradegate/internal/errors"
	"tradegate/internal/marketdata"
	"tradegate/internal/models"
)

// Client is the canonical broker-client contract. One instance exists per
// broker; all operations are parameterized by an account identifier and
// adapters are stateless apart from the session store they delegate to.
type Client interface {
	// BrokerID returns the stable identifier the registry keys on.
	BrokerID() string

	// Capabilities returns the static set of optional operations this
	// adapter supports.
	Capabilities() models.CapabilitySet

	// Authenticate returns a cached, non-expired token for the account
	// or performs a fresh login.
	Authenticate(ctx context.Context, accountID string) (models.AuthToken, error)

	// PlaceOrder submits a canonical order. On a broker-side rejection
	// the returned error is a *errors.ValidationError carrying the
	// broker's own message, and the response still describes the
	// rejection (status REJECTED, broker metadata).
	PlaceOrder(ctx context.Context, accountID string, req models.OrderRequest) (models.OrderResponse, error)

	// CancelOrder cancels a working order. Capability-gated
	// (CANCEL_ORDER).
	CancelOrder(ctx context.Context, accountID, brokerOrderID string) error

	// GetOrderStatus fetches a point-in-time view of a working order.
	GetOrderStatus(ctx context.Context, accountID, brokerOrderID string) (models.OrderStatus, error)

	// GetPositions returns a full snapshot of open positions. An
	// account with no open positions yields an empty slice, not an
	// error.
	GetPositions(ctx context.Context, accountID string) ([]models.Position, error)

	// GetHistoricalCandles fetches candles ordered ascending by
	// timestamp. When the upstream has none the adapter may substitute
	// synthetic data, in which case the series is tagged Synthetic.
	GetHistoricalCandles(ctx context.Context, accountID, symbol string, interval models.Interval, from, to time.Time) (models.CandleSeries, error)

	// ValidateCredentials performs a stateless, side-effect-free probe
	// of raw (decrypted) credential JSON without persisting any
	// session. A nil return means the credentials are usable.
	ValidateCredentials(ctx context.Context, rawCredentials []byte) error

	// StreamTicks establishes or reuses the broker's streaming
	// connection and returns a hub subscription for the instrument.
	// Delivery is best effort with no ordering guarantee stronger than
	// upstream's.
	StreamTicks(ctx context.Context, accountID, instrumentToken string) (*marketdata.Subscription, error)
}

// CredentialReader resolves the decrypted, broker-specific credential JSON
// for an account from the external credential repository.
type CredentialReader func(ctx context.Context, accountID string) ([]byte, error)

// ValidateOrder checks the canonical invariants of an order request. It is
// called by every adapter before any network traffic.
func ValidateOrder(req models.OrderRequest) error {
	if req.Symbol == "" {
		return errors.NewValidationError("", "symbol", "symbol is required")
	}
	switch req.Side {
	case models.OrderSideBuy, models.OrderSideSell:
	default:
		return errors.NewValidationError("", "side", "side must be BUY or SELL")
	}
	switch req.Type {
	case models.OrderTypeMarket, models.OrderTypeLimit:
	default:
		return errors.NewValidationError("", "orderType", "order type must be MARKET or LIMIT")
	}
	if !req.Quantity.IsPositive() {
		return errors.NewValidationError("", "quantity", "quantity must be positive")
	}
	if req.Type == models.OrderTypeLimit {
		if req.Price == nil || !req.Price.IsPositive() {
			return errors.NewValidationError("", "price", "LIMIT orders require a positive price")
		}
	}
	switch req.TimeInForce {
	case "", models.TimeInForceGTC, models.TimeInForceIOC, models.TimeInForceFOK:
	default:
		return errors.NewValidationError("", "timeInForce", "time in force must be GTC, IOC or FOK")
	}
	return nil
}
