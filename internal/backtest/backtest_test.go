package backtest

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradegate/internal/errors"
	"tradegate/internal/models"
)

func candlesFromCloses(closes ...float64) []models.Candle {
	base := time.Date(2026, 8, 28, 9, 15, 0, 0, time.UTC)
	candles := make([]models.Candle, len(closes))
	for i, c := range closes {
		candles[i] = models.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1000,
		}
	}
	return candles
}

func testRequest() Request {
	return Request{
		Symbol:         "SBIN",
		Interval:       models.Interval5m,
		InitialCapital: decimal.NewFromInt(10000),
		FastPeriod:     2,
		SlowPeriod:     3,
	}
}

func TestRunSingleRoundTrip(t *testing.T) {
	// One bullish cross at the 110 candle, one bearish cross at the
	// first 120 after the peak.
	candles := candlesFromCloses(100, 90, 80, 95, 110, 120, 130, 140, 150, 160, 120, 90, 90, 90)

	engine := NewEngine(zerolog.Nop())
	result, err := engine.Run(testRequest(), candles)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.TotalTrades != 1 {
		t.Fatalf("TotalTrades = %d, want 1", result.TotalTrades)
	}
	trade := result.Trades[0]
	if !trade.EntryPrice.Equal(decimal.NewFromInt(110)) {
		t.Errorf("EntryPrice = %s, want 110", trade.EntryPrice)
	}
	if !trade.Quantity.Equal(decimal.NewFromInt(90)) {
		t.Errorf("Quantity = %s, want floor(10000/110) = 90", trade.Quantity)
	}
	if !trade.ExitPrice.Equal(decimal.NewFromInt(120)) {
		t.Errorf("ExitPrice = %s, want 120", trade.ExitPrice)
	}
	if !trade.PnL.Equal(decimal.NewFromInt(900)) {
		t.Errorf("PnL = %s, want (120-110)*90 = 900", trade.PnL)
	}

	if !result.FinalCapital.Equal(decimal.NewFromInt(10900)) {
		t.Errorf("FinalCapital = %s, want 10900", result.FinalCapital)
	}
	if !result.ReturnPercent.Equal(decimal.NewFromFloat(9)) {
		t.Errorf("ReturnPercent = %s, want 9", result.ReturnPercent)
	}
	if result.WinningTrades != 1 || result.LosingTrades != 0 {
		t.Errorf("W/L = %d/%d, want 1/0", result.WinningTrades, result.LosingTrades)
	}
	if result.WinRate != 100 {
		t.Errorf("WinRate = %v, want 100", result.WinRate)
	}
	// No losing trade means profit factor is reported as zero, never
	// infinity.
	if !result.ProfitFactor.IsZero() {
		t.Errorf("ProfitFactor = %s, want 0 when no trade lost", result.ProfitFactor)
	}
}

func TestRunOpenPositionDiscarded(t *testing.T) {
	// A bullish cross with no later bearish cross: the position never
	// closes and is dropped from the statistics.
	candles := candlesFromCloses(100, 90, 80, 95, 110, 120, 130, 140, 150, 160)

	engine := NewEngine(zerolog.Nop())
	result, err := engine.Run(testRequest(), candles)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.TotalTrades != 0 {
		t.Errorf("TotalTrades = %d, want 0", result.TotalTrades)
	}
	if !result.FinalCapital.Equal(result.InitialCapital) {
		t.Errorf("FinalCapital = %s, want unchanged %s", result.FinalCapital, result.InitialCapital)
	}
}

func TestRunNoCrossovers(t *testing.T) {
	candles := candlesFromCloses(100, 100, 100, 100, 100, 100, 100, 100)

	engine := NewEngine(zerolog.Nop())
	result, err := engine.Run(testRequest(), candles)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.TotalTrades != 0 {
		t.Errorf("TotalTrades = %d, want 0 on a flat series", result.TotalTrades)
	}
	if !result.ProfitFactor.IsZero() {
		t.Errorf("ProfitFactor = %s, want 0", result.ProfitFactor)
	}
}

func TestRunLosingTradeProfitFactor(t *testing.T) {
	// Bullish cross into a fall: the round trip loses, so profit factor
	// is gross profit over absolute gross loss, here zero over a loss.
	candles := candlesFromCloses(100, 90, 80, 95, 110, 120, 130, 90, 70, 70, 70, 70)

	engine := NewEngine(zerolog.Nop())
	result, err := engine.Run(testRequest(), candles)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.TotalTrades != 1 {
		t.Fatalf("TotalTrades = %d, want 1", result.TotalTrades)
	}
	if result.Trades[0].PnL.Sign() >= 0 {
		t.Errorf("PnL = %s, want a loss", result.Trades[0].PnL)
	}
	if result.LosingTrades != 1 || result.WinRate != 0 {
		t.Errorf("L = %d, WinRate = %v, want 1 and 0", result.LosingTrades, result.WinRate)
	}
	if !result.ProfitFactor.IsZero() {
		t.Errorf("ProfitFactor = %s, want 0 with no winners", result.ProfitFactor)
	}
	if result.FinalCapital.GreaterThanOrEqual(result.InitialCapital) {
		t.Errorf("FinalCapital = %s, want below initial", result.FinalCapital)
	}
}

func TestRunValidation(t *testing.T) {
	engine := NewEngine(zerolog.Nop())
	candles := candlesFromCloses(1, 2, 3, 4, 5, 6, 7, 8)

	tests := []struct {
		name   string
		mutate func(*Request)
		want   error
	}{
		{"fast >= slow", func(r *Request) { r.FastPeriod = 3 }, errors.ErrInvalidPeriod},
		{"zero fast", func(r *Request) { r.FastPeriod = 0 }, errors.ErrInvalidPeriod},
		{"too few candles", func(r *Request) { r.SlowPeriod = len(candles) }, errors.ErrInsufficientData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest()
			tt.mutate(&req)
			if _, err := engine.Run(req, candles); !errors.Is(err, tt.want) {
				t.Errorf("Run() error = %v, want %v", err, tt.want)
			}
		})
	}

	req := testRequest()
	req.InitialCapital = decimal.Zero
	var vErr *errors.ValidationError
	if _, err := engine.Run(req, candles); !errors.As(err, &vErr) {
		t.Errorf("Run() with zero capital = %v, want *ValidationError", err)
	}
}
