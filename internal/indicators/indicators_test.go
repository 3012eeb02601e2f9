package indicators

import (
	"math"
	"testing"
	"time"

	"tradegate/internal/errors"
	"tradegate/internal/models"
)

// candlesFromCloses builds an ascending candle series where only the close
// matters.
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

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.0001
}

func TestSMAWarmupAndValues(t *testing.T) {
	sma := NewSMA(3)
	values, err := sma.Calculate(candlesFromCloses(10, 20, 30, 40))
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}
	if len(values) != 4 {
		t.Fatalf("len(values) = %d, want 4", len(values))
	}
	if !math.IsNaN(values[0]) || !math.IsNaN(values[1]) {
		t.Errorf("warm-up values = %v, want NaN for first period-1 entries", values[:2])
	}
	if !approxEqual(values[2], 20) || !approxEqual(values[3], 30) {
		t.Errorf("values[2:] = %v, want [20 30]", values[2:])
	}
}

func TestSMAErrors(t *testing.T) {
	if _, err := NewSMA(0).Calculate(candlesFromCloses(1, 2, 3)); !errors.Is(err, errors.ErrInvalidPeriod) {
		t.Errorf("period 0: err = %v, want ErrInvalidPeriod", err)
	}
	if _, err := NewSMA(5).Calculate(candlesFromCloses(1, 2, 3)); !errors.Is(err, errors.ErrInsufficientData) {
		t.Errorf("short input: err = %v, want ErrInsufficientData", err)
	}
}

func TestEMASeedIsSMA(t *testing.T) {
	ema := NewEMA(3)
	values, err := ema.Calculate(candlesFromCloses(10, 20, 30, 40, 50))
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}
	if !math.IsNaN(values[0]) || !math.IsNaN(values[1]) {
		t.Errorf("warm-up values = %v, want NaN", values[:2])
	}
	// Seed at index 2 is the SMA of the first three closes.
	if !approxEqual(values[2], 20) {
		t.Errorf("seed = %v, want 20", values[2])
	}
	// Next value: (40-20)*0.5 + 20 = 30, multiplier 2/(3+1).
	if !approxEqual(values[3], 30) {
		t.Errorf("values[3] = %v, want 30", values[3])
	}
	if !approxEqual(values[4], 40) {
		t.Errorf("values[4] = %v, want 40", values[4])
	}
}

func TestRSIAllGainsPinsAt100(t *testing.T) {
	rsi := NewRSI(3)
	values, err := rsi.Calculate(candlesFromCloses(10, 11, 12, 13, 14, 15))
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}
	for i := 0; i < rsi.Period(); i++ {
		if !math.IsNaN(values[i]) {
			t.Errorf("values[%d] = %v, want NaN during warm-up", i, values[i])
		}
	}
	for i := rsi.Period(); i < len(values); i++ {
		if values[i] != 100 {
			t.Errorf("values[%d] = %v, want 100 with no losses", i, values[i])
		}
	}
}

func TestRSIWilderSmoothing(t *testing.T) {
	// Changes: +1, -2, +3. Seed over period 2: avgGain=(1+0)/2, avgLoss=(0+2)/2.
	rsi := NewRSI(2)
	values, err := rsi.Calculate(candlesFromCloses(10, 11, 9, 12))
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}
	// Index 2: rs = 0.5/1 -> 100 - 100/1.5.
	if !approxEqual(values[2], 100-100/1.5) {
		t.Errorf("values[2] = %v, want %v", values[2], 100-100/1.5)
	}
	// Index 3: avgGain=(0.5*1+3)/2=1.75, avgLoss=(1*1+0)/2=0.5, rs=3.5.
	if !approxEqual(values[3], 100-100/4.5) {
		t.Errorf("values[3] = %v, want %v", values[3], 100-100/4.5)
	}
}

func TestRSINeedsPeriodPlusOne(t *testing.T) {
	if _, err := NewRSI(3).Calculate(candlesFromCloses(1, 2, 3)); !errors.Is(err, errors.ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}

func TestMACDShape(t *testing.T) {
	closes := make([]float64, 0, 40)
	for i := 0; i < 40; i++ {
		closes = append(closes, 100+float64(i))
	}

	macd := NewMACD(12, 26, 9)
	values, err := macd.Calculate(candlesFromCloses(closes...))
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}

	for _, key := range []string{"macd", "signal", "histogram"} {
		line, ok := values[key]
		if !ok {
			t.Fatalf("missing %q line", key)
		}
		if len(line) != 40 {
			t.Errorf("len(%s) = %d, want 40", key, len(line))
		}
	}
	// Monotonic uptrend keeps the fast EMA above the slow one.
	macdLine := values["macd"]
	for i := macd.Period() - 1; i < len(macdLine); i++ {
		if macdLine[i] <= 0 {
			t.Errorf("macd[%d] = %v, want > 0 in an uptrend", i, macdLine[i])
		}
	}
}

func TestMACDFastMustBeBelowSlow(t *testing.T) {
	if _, err := NewMACD(26, 12, 9).Calculate(candlesFromCloses(1, 2, 3)); !errors.Is(err, errors.ErrInvalidPeriod) {
		t.Errorf("err = %v, want ErrInvalidPeriod", err)
	}
}

func TestBollingerConstantSeriesCollapses(t *testing.T) {
	bb := NewBollingerBands(3, 2.0)
	values, err := bb.Calculate(candlesFromCloses(50, 50, 50, 50))
	if err != nil {
		t.Fatalf("Calculate() error = %v", err)
	}
	for i := bb.Period() - 1; i < 4; i++ {
		if !approxEqual(values["upper"][i], 50) || !approxEqual(values["lower"][i], 50) {
			t.Errorf("bands at %d = [%v %v], want both 50 for a flat series",
				i, values["lower"][i], values["upper"][i])
		}
	}
}

func TestIsWarmup(t *testing.T) {
	if !IsWarmup(math.NaN()) {
		t.Error("IsWarmup(NaN) = false")
	}
	if IsWarmup(0) {
		t.Error("IsWarmup(0) = true; zero is a real value")
	}
}
