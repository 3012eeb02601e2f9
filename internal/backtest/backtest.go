// Package backtest provides an offline simulator that replays historical
// candles through an SMA-crossover strategy and reports trade statistics.
// The walk is deterministic: same candles, same parameters, same result.
package backtest

import (
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradegate/internal/errors"
	"tradegate/internal/indicators"
	"tradegate/internal/models"
)

// Request describes one backtest run.
type Request struct {
	Symbol         string
	Interval       models.Interval
	InitialCapital decimal.Decimal
	FastPeriod     int
	SlowPeriod     int
}

// Trade is one closed round trip from the simulation.
type Trade struct {
	Side       string
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Quantity   decimal.Decimal
	PnL        decimal.Decimal
}

// Result aggregates the statistics of one run.
type Result struct {
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	WinRate        float64 // percent
	InitialCapital decimal.Decimal
	FinalCapital   decimal.Decimal
	TotalReturn    decimal.Decimal
	ReturnPercent  decimal.Decimal
	ProfitFactor   decimal.Decimal
	Trades         []Trade
}

// Engine runs SMA-crossover backtests over candle series.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a backtest engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "backtest").Logger()}
}

// Run walks the candle series once: a bullish crossover (fast SMA crossing
// above slow) opens a long position sized to the full running capital; the
// next bearish crossover closes it. Realized P&L compounds into capital.
// An open position at the end of the series is discarded, not marked to
// market.
func (e *Engine) Run(req Request, candles []models.Candle) (Result, error) {
	if req.FastPeriod <= 0 || req.SlowPeriod <= 0 || req.FastPeriod >= req.SlowPeriod {
		return Result{}, errors.ErrInvalidPeriod
	}
	if len(candles) <= req.SlowPeriod {
		return Result{}, errors.ErrInsufficientData
	}
	if req.InitialCapital.Sign() <= 0 {
		return Result{}, errors.NewValidationError("", "initialCapital", "initial capital must be positive")
	}

	fastSMA, err := indicators.NewSMA(req.FastPeriod).Calculate(candles)
	if err != nil {
		return Result{}, err
	}
	slowSMA, err := indicators.NewSMA(req.SlowPeriod).Calculate(candles)
	if err != nil {
		return Result{}, err
	}

	var trades []Trade
	capital := req.InitialCapital
	var open *Trade

	for i := req.SlowPeriod; i < len(candles)-1; i++ {
		if indicators.IsWarmup(fastSMA[i]) || indicators.IsWarmup(slowSMA[i]) ||
			indicators.IsWarmup(fastSMA[i-1]) || indicators.IsWarmup(slowSMA[i-1]) {
			continue
		}

		bullishCross := fastSMA[i-1] < slowSMA[i-1] && fastSMA[i] > slowSMA[i]
		bearishCross := fastSMA[i-1] > slowSMA[i-1] && fastSMA[i] < slowSMA[i]

		closePrice := decimal.NewFromFloat(candles[i].Close)

		if open == nil && bullishCross {
			// Whole-unit sizing on the full running capital.
			qty := capital.Div(closePrice).Floor()
			if qty.Sign() <= 0 {
				continue
			}
			open = &Trade{
				Side:       string(models.OrderSideBuy),
				EntryTime:  candles[i].Timestamp,
				EntryPrice: closePrice,
				Quantity:   qty,
			}
			continue
		}

		if open != nil && bearishCross {
			open.ExitTime = candles[i].Timestamp
			open.ExitPrice = closePrice
			open.PnL = open.ExitPrice.Sub(open.EntryPrice).Mul(open.Quantity)
			capital = capital.Add(open.PnL)
			trades = append(trades, *open)
			open = nil
		}
	}

	result := e.statistics(trades, req.InitialCapital, capital)
	e.log.Info().
		Str("symbol", req.Symbol).
		Int("trades", result.TotalTrades).
		Float64("win_rate", result.WinRate).
		Str("return_pct", result.ReturnPercent.StringFixed(2)).
		Msg("Backtest complete")
	return result, nil
}

func (e *Engine) statistics(trades []Trade, initial, final decimal.Decimal) Result {
	result := Result{
		TotalTrades:    len(trades),
		InitialCapital: initial,
		FinalCapital:   final,
		TotalReturn:    final.Sub(initial),
		Trades:         trades,
	}
	result.ReturnPercent = result.TotalReturn.
		Div(initial).
		Mul(decimal.NewFromInt(100)).
		Round(2)

	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	for _, t := range trades {
		switch {
		case t.PnL.Sign() > 0:
			result.WinningTrades++
			grossProfit = grossProfit.Add(t.PnL)
		case t.PnL.Sign() < 0:
			grossLoss = grossLoss.Add(t.PnL)
		}
	}
	result.LosingTrades = len(trades) - result.WinningTrades

	if len(trades) > 0 {
		result.WinRate = math.Round(float64(result.WinningTrades)/float64(len(trades))*10000) / 100
	}

	// Profit factor is zero, not infinity, when no trade lost.
	if grossLoss.Sign() == 0 {
		result.ProfitFactor = decimal.Zero
	} else {
		result.ProfitFactor = grossProfit.Div(grossLoss.Abs()).Round(2)
	}

	return result
}
