// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/internal/models"
)

// BrokerAccount is a linked broker account. Credentials are stored
// encrypted; decryption happens only in the credential source.
type BrokerAccount struct {
	ID            string
	BrokerID      string
	Label         string
	EncryptedCred string
	Verified      bool
	LinkedAt      time.Time
}

// StrategyRecord is a persisted strategy configuration. Active marks
// strategies to resume on startup; the scheduler itself keeps no state
// across restarts.
type StrategyRecord struct {
	ID         string
	Name       string
	TemplateID string
	AccountID  string
	Interval   models.Interval
	ParamsJSON string
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderRecord is the audit log entry for one order submission.
type OrderRecord struct {
	ID         string
	AccountID  string
	BrokerID   string
	StrategyID string
	Symbol     string
	Side       string
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Status     string
	Message    string
	PlacedAt   time.Time
}

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Broker accounts
	SaveAccount(ctx context.Context, account *BrokerAccount) error
	GetAccount(ctx context.Context, id string) (*BrokerAccount, error)
	ListAccounts(ctx context.Context, brokerID string) ([]BrokerAccount, error)
	DeleteAccount(ctx context.Context, id string) error

	// Strategies
	SaveStrategy(ctx context.Context, record *StrategyRecord) error
	GetStrategy(ctx context.Context, id string) (*StrategyRecord, error)
	ListStrategies(ctx context.Context, activeOnly bool) ([]StrategyRecord, error)
	SetStrategyActive(ctx context.Context, id string, active bool) error
	DeleteStrategy(ctx context.Context, id string) error

	// Order audit log
	LogOrder(ctx context.Context, record *OrderRecord) error
	GetOrders(ctx context.Context, accountID string, limit int) ([]OrderRecord, error)

	// Candle cache
	SaveCandles(ctx context.Context, symbol string, interval models.Interval, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol string, interval models.Interval, from, to time.Time) ([]models.Candle, error)

	Close() error
}
