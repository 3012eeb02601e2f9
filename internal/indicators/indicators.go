// Package indicators provides technical indicator calculations over candle
// series. Every indicator returns a slice aligned index-for-index with its
// input; positions before the warm-up period hold NaN, so output length
// always equals input length.
package indicators

import (
	"math"

	"tradegate/internal/models"
)

// Indicator is a single-valued technical indicator.
type Indicator interface {
	Name() string
	Calculate(candles []models.Candle) ([]float64, error)
	Period() int
}

// MultiValueIndicator is an indicator that produces several named series,
// such as MACD or Bollinger Bands.
type MultiValueIndicator interface {
	Name() string
	Calculate(candles []models.Candle) (map[string][]float64, error)
	Period() int
}

// IsWarmup reports whether a value is a warm-up placeholder.
func IsWarmup(v float64) bool {
	return math.IsNaN(v)
}

// warmupSlice returns a slice of the given length filled with NaN.
func warmupSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// sum calculates the sum of a slice of float64.
func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

// mean calculates the arithmetic mean of a slice of float64.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sum(values) / float64(len(values))
}

// stdDev calculates the population standard deviation of a slice.
func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var variance float64
	for _, v := range values {
		diff := v - m
		variance += diff * diff
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

// closePrices extracts close prices from candles.
func closePrices(candles []models.Candle) []float64 {
	prices := make([]float64, len(candles))
	for i, c := range candles {
		prices[i] = c.Close
	}
	return prices
}
