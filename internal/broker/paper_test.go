package broker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradegate/internal/errors"
	"tradegate/internal/marketdata"
	"tradegate/internal/models"
)

func newTestPaper(t *testing.T) *Paper {
	t.Helper()
	p := NewPaper(marketdata.NewHub(zerolog.Nop()), zerolog.Nop())
	t.Cleanup(p.Close)
	return p
}

func TestPaperPlaceOrderFillsAndBooks(t *testing.T) {
	p := newTestPaper(t)

	price := decimal.NewFromInt(500)
	resp, err := p.PlaceOrder(context.Background(), "acct-1", models.OrderRequest{
		Symbol:   "SBIN",
		Side:     models.OrderSideBuy,
		Quantity: decimal.NewFromInt(10),
		Price:    &price,
		Type:     models.OrderTypeLimit,
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if resp.Status != models.OrderStatusPlaced {
		t.Errorf("Status = %q, want PLACED", resp.Status)
	}

	st, err := p.GetOrderStatus(context.Background(), "acct-1", resp.OrderID)
	if err != nil {
		t.Fatalf("GetOrderStatus() error = %v", err)
	}
	if st.Status != "FILLED" || !st.AvgFillPrice.Equal(price) {
		t.Errorf("order status = %+v", st)
	}

	positions, err := p.GetPositions(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("GetPositions() error = %v", err)
	}
	if len(positions) != 1 || !positions[0].NetQuantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("positions = %+v", positions)
	}
}

func TestPaperPositionsNetOut(t *testing.T) {
	p := newTestPaper(t)
	price := decimal.NewFromInt(500)

	for _, side := range []models.OrderSide{models.OrderSideBuy, models.OrderSideSell} {
		if _, err := p.PlaceOrder(context.Background(), "acct-1", models.OrderRequest{
			Symbol:   "SBIN",
			Side:     side,
			Quantity: decimal.NewFromInt(10),
			Price:    &price,
			Type:     models.OrderTypeLimit,
		}); err != nil {
			t.Fatalf("PlaceOrder(%s) error = %v", side, err)
		}
	}

	positions, err := p.GetPositions(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("GetPositions() error = %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("flat symbol still reported: %+v", positions)
	}
}

func TestPaperCancelFilledOrder(t *testing.T) {
	p := newTestPaper(t)
	price := decimal.NewFromInt(500)

	resp, err := p.PlaceOrder(context.Background(), "acct-1", models.OrderRequest{
		Symbol:   "SBIN",
		Side:     models.OrderSideBuy,
		Quantity: decimal.NewFromInt(1),
		Price:    &price,
		Type:     models.OrderTypeLimit,
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}

	var vErr *errors.ValidationError
	if err := p.CancelOrder(context.Background(), "acct-1", resp.OrderID); !errors.As(err, &vErr) {
		t.Errorf("CancelOrder(filled) = %v, want *ValidationError", err)
	}
	if err := p.CancelOrder(context.Background(), "acct-1", "P999999"); !errors.As(err, &vErr) {
		t.Errorf("CancelOrder(unknown) = %v, want *ValidationError", err)
	}
}

func TestPaperHistoricalCandlesAlwaysSynthetic(t *testing.T) {
	p := newTestPaper(t)

	from := time.Now().Add(-time.Hour)
	series, err := p.GetHistoricalCandles(context.Background(), "acct-1", "SBIN", models.Interval5m, from, time.Now())
	if err != nil {
		t.Fatalf("GetHistoricalCandles() error = %v", err)
	}
	if !series.Synthetic {
		t.Error("paper series not tagged synthetic")
	}
	if len(series.Candles) == 0 {
		t.Error("no candles generated")
	}
	for i := 1; i < len(series.Candles); i++ {
		if !series.Candles[i].Timestamp.After(series.Candles[i-1].Timestamp) {
			t.Fatalf("timestamps not ascending at index %d", i)
		}
	}
}
