package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/internal/errors"
	"tradegate/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAccountRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	account := &BrokerAccount{
		ID:            "acct-1",
		BrokerID:      "angelone",
		Label:         "primary",
		EncryptedCred: "sealed-blob",
		Verified:      true,
	}
	if err := s.SaveAccount(ctx, account); err != nil {
		t.Fatalf("SaveAccount() error = %v", err)
	}

	got, err := s.GetAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if got.BrokerID != "angelone" || got.EncryptedCred != "sealed-blob" || !got.Verified {
		t.Errorf("account = %+v", got)
	}
	if got.LinkedAt.IsZero() {
		t.Error("LinkedAt not set on save")
	}

	// Upsert keeps the same row.
	account.Label = "renamed"
	if err := s.SaveAccount(ctx, account); err != nil {
		t.Fatalf("SaveAccount() upsert error = %v", err)
	}
	got, err = s.GetAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("GetAccount() after upsert error = %v", err)
	}
	if got.Label != "renamed" {
		t.Errorf("Label = %q, want renamed", got.Label)
	}

	if err := s.DeleteAccount(ctx, "acct-1"); err != nil {
		t.Fatalf("DeleteAccount() error = %v", err)
	}
	if _, err := s.GetAccount(ctx, "acct-1"); !errors.Is(err, errors.ErrAccountNotFound) {
		t.Errorf("GetAccount() after delete = %v, want ErrAccountNotFound", err)
	}
}

func TestListAccountsFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, brokerID := range []string{"angelone", "dhan", "angelone"} {
		if err := s.SaveAccount(ctx, &BrokerAccount{
			ID:            string(rune('a' + i)),
			BrokerID:      brokerID,
			EncryptedCred: "x",
			LinkedAt:      time.Now().Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("SaveAccount() error = %v", err)
		}
	}

	all, err := s.ListAccounts(ctx, "")
	if err != nil {
		t.Fatalf("ListAccounts() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}

	angel, err := s.ListAccounts(ctx, "angelone")
	if err != nil {
		t.Fatalf("ListAccounts(angelone) error = %v", err)
	}
	if len(angel) != 2 {
		t.Errorf("len(angelone accounts) = %d, want 2", len(angel))
	}
}

func TestStrategyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record := &StrategyRecord{
		ID:         "strat-1",
		Name:       "morning crossover",
		TemplateID: "sma_crossover",
		AccountID:  "acct-1",
		Interval:   models.Interval5m,
		ParamsJSON: `{"symbol":"SBIN","fastSMA":9,"slowSMA":21}`,
	}
	if err := s.SaveStrategy(ctx, record); err != nil {
		t.Fatalf("SaveStrategy() error = %v", err)
	}

	got, err := s.GetStrategy(ctx, "strat-1")
	if err != nil {
		t.Fatalf("GetStrategy() error = %v", err)
	}
	if got.TemplateID != "sma_crossover" || got.Interval != models.Interval5m || got.Active {
		t.Errorf("strategy = %+v", got)
	}

	if err := s.SetStrategyActive(ctx, "strat-1", true); err != nil {
		t.Fatalf("SetStrategyActive() error = %v", err)
	}
	active, err := s.ListStrategies(ctx, true)
	if err != nil {
		t.Fatalf("ListStrategies(active) error = %v", err)
	}
	if len(active) != 1 || !active[0].Active {
		t.Errorf("active strategies = %+v", active)
	}

	if err := s.SetStrategyActive(ctx, "missing", true); !errors.Is(err, errors.ErrStrategyNotFound) {
		t.Errorf("SetStrategyActive(missing) = %v, want ErrStrategyNotFound", err)
	}

	if err := s.DeleteStrategy(ctx, "strat-1"); err != nil {
		t.Fatalf("DeleteStrategy() error = %v", err)
	}
	if _, err := s.GetStrategy(ctx, "strat-1"); !errors.Is(err, errors.ErrStrategyNotFound) {
		t.Errorf("GetStrategy() after delete = %v, want ErrStrategyNotFound", err)
	}
}

func TestOrderAuditLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.LogOrder(ctx, &OrderRecord{
			ID:        string(rune('a' + i)),
			AccountID: "acct-1",
			BrokerID:  "dhan",
			Symbol:    "TCS",
			Side:      "BUY",
			Quantity:  decimal.NewFromInt(int64(i + 1)),
			Price:     decimal.NewFromFloat(3500.5),
			Status:    "PLACED",
			PlacedAt:  time.Now().Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("LogOrder() error = %v", err)
		}
	}

	orders, err := s.GetOrders(ctx, "acct-1", 2)
	if err != nil {
		t.Fatalf("GetOrders() error = %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("len(orders) = %d, want limit 2", len(orders))
	}
	// Most recent first.
	if !orders[0].Quantity.Equal(decimal.NewFromInt(3)) {
		t.Errorf("first order quantity = %s, want most recent (3)", orders[0].Quantity)
	}
	if !orders[0].Price.Equal(decimal.NewFromFloat(3500.5)) {
		t.Errorf("price = %s, want 3500.5", orders[0].Price)
	}

	none, err := s.GetOrders(ctx, "other-acct", 10)
	if err != nil {
		t.Fatalf("GetOrders(other) error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("foreign account orders = %d, want 0", len(none))
	}
}

func TestCandleCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 28, 9, 15, 0, 0, time.UTC)
	candles := []models.Candle{
		{Timestamp: base, Open: 100, High: 102, Low: 99, Close: 101, Volume: 5000},
		{Timestamp: base.Add(5 * time.Minute), Open: 101, High: 103, Low: 100, Close: 102, Volume: 6000},
	}
	if err := s.SaveCandles(ctx, "SBIN", models.Interval5m, candles); err != nil {
		t.Fatalf("SaveCandles() error = %v", err)
	}
	// Re-saving the same window replaces, never duplicates.
	if err := s.SaveCandles(ctx, "SBIN", models.Interval5m, candles); err != nil {
		t.Fatalf("SaveCandles() replay error = %v", err)
	}

	got, err := s.GetCandles(ctx, "SBIN", models.Interval5m, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetCandles() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(candles) = %d, want 2", len(got))
	}
	if got[0].Close != 101 || got[1].Volume != 6000 {
		t.Errorf("candles = %+v", got)
	}

	// Interval and symbol are part of the cache key.
	other, err := s.GetCandles(ctx, "SBIN", models.Interval15m, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetCandles(other interval) error = %v", err)
	}
	if len(other) != 0 {
		t.Errorf("foreign interval candles = %d, want 0", len(other))
	}
}
