// Package models provides the canonical, broker-agnostic domain model shared
// by all protocol adapters.
package models

import (
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
	NFO Exchange = "NFO" // F&O
	MCX Exchange = "MCX" // Commodity
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce represents how long an order remains working.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// Interval is the canonical candle interval vocabulary. Each adapter maps
// these to its own wire vocabulary.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval1d  Interval = "1d"
)

// Duration returns the wall-clock span of one candle at this interval.
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval1m:
		return time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval1d:
		return 24 * time.Hour
	default:
		return 5 * time.Minute
	}
}

// Valid reports whether i is one of the canonical intervals.
func (i Interval) Valid() bool {
	switch i {
	case Interval1m, Interval5m, Interval15m, Interval1h, Interval1d:
		return true
	}
	return false
}

// Candle represents OHLCV data for one interval, ordered ascending by
// timestamp when in a series.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// CandleSeries is a batch of candles returned by a historical fetch.
// Synthetic is set when the adapter substituted generated data because the
// upstream returned nothing (e.g. outside market hours); callers must treat
// such batches as chart-only and never feed them into order decisions.
type CandleSeries struct {
	Candles   []Candle
	Synthetic bool
}

// Tick represents one real-time market data event. Ticks are append-only;
// the hub forwards them without storing.
type Tick struct {
	InstrumentToken string
	LastPrice       float64
	Bid             float64
	Ask             float64
	Volume          int64
	Timestamp       time.Time
}
