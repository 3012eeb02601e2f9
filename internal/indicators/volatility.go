package indicators

import (
	"fmt"

	"tradegate/internal/errors"
	"tradegate/internal/models"
)

// BollingerBands calculates Bollinger Bands: an SMA middle band with upper
// and lower bands a configurable number of standard deviations away.
type BollingerBands struct {
	period int
	stdDev float64
}

// NewBollingerBands creates a new Bollinger Bands indicator; the
// conventional parameters are (20, 2.0).
func NewBollingerBands(period int, stdDevMult float64) *BollingerBands {
	return &BollingerBands{period: period, stdDev: stdDevMult}
}

func (b *BollingerBands) Name() string {
	return fmt.Sprintf("BB_%d_%.1f", b.period, b.stdDev)
}

func (b *BollingerBands) Period() int {
	return b.period
}

func (b *BollingerBands) Calculate(candles []models.Candle) (map[string][]float64, error) {
	if b.period <= 0 || b.stdDev <= 0 {
		return nil, errors.ErrInvalidPeriod
	}
	if len(candles) < b.period {
		return nil, errors.ErrInsufficientData
	}

	n := len(candles)
	closes := closePrices(candles)

	middle := warmupSlice(n)
	upper := warmupSlice(n)
	lower := warmupSlice(n)

	for i := b.period - 1; i < n; i++ {
		window := closes[i-b.period+1 : i+1]
		m := mean(window)
		sd := stdDev(window)
		middle[i] = m
		upper[i] = m + b.stdDev*sd
		lower[i] = m - b.stdDev*sd
	}

	return map[string][]float64{
		"upper":  upper,
		"middle": middle,
		"lower":  lower,
	}, nil
}
