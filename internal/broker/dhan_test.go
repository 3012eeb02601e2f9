package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradegate/internal/errors"
	"tradegate/internal/models"
)

func dhanCredReader() CredentialReader {
	raw, _ := json.Marshal(dhanCredentials{ClientID: "1000001", AccessToken: "token-1"})
	return func(ctx context.Context, accountID string) ([]byte, error) {
		return raw, nil
	}
}

func newTestDhan(t *testing.T, handler http.Handler) *Dhan {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DhanConfig{
		BaseURL:       srv.URL,
		OrderPath:     "/v2/orders",
		PositionsPath: "/v2/positions",
		CandlesPath:   "/v2/charts/intraday",
	}
	return NewDhan(cfg, dhanCredReader(), zerolog.Nop())
}

func TestDhanPlaceOrder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/orders", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("access-token"); got != "token-1" {
			t.Errorf("access-token = %q, want token-1", got)
		}
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decoding payload: %v", err)
		}
		if payload["dhanClientId"] != "1000001" {
			t.Errorf("dhanClientId = %v", payload["dhanClientId"])
		}
		if payload["securityId"] != "11536" {
			t.Errorf("securityId = %v, want 11536", payload["securityId"])
		}
		if payload["exchangeSegment"] != "NSE_EQ" {
			t.Errorf("exchangeSegment = %v, want NSE_EQ", payload["exchangeSegment"])
		}
		if payload["price"] != 512.5 {
			t.Errorf("price = %v, want 512.5", payload["price"])
		}
		json.NewEncoder(w).Encode(map[string]string{
			"orderId": "D123", "orderStatus": "TRANSIT",
		})
	})
	d := newTestDhan(t, mux)

	price := decimal.NewFromFloat(512.5)
	resp, err := d.PlaceOrder(context.Background(), "acct-1", models.OrderRequest{
		Symbol:   "TCS",
		Side:     models.OrderSideBuy,
		Quantity: decimal.NewFromInt(5),
		Price:    &price,
		Type:     models.OrderTypeLimit,
		Meta:     map[string]string{"securityId": "11536"},
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if resp.OrderID != "D123" || resp.Status != models.OrderStatusPlaced {
		t.Errorf("response = %+v", resp)
	}
}

func TestDhanPlaceOrderRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/orders", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"errorType": "Order_Error", "errorMessage": "Market is closed",
		})
	})
	d := newTestDhan(t, mux)

	resp, err := d.PlaceOrder(context.Background(), "acct-1", models.OrderRequest{
		Symbol:   "TCS",
		Side:     models.OrderSideSell,
		Quantity: decimal.NewFromInt(5),
		Type:     models.OrderTypeMarket,
	})
	var vErr *errors.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("PlaceOrder() error = %v, want *ValidationError", err)
	}
	if vErr.Message != "Market is closed" {
		t.Errorf("broker message = %q", vErr.Message)
	}
	if resp.Status != models.OrderStatusRejected {
		t.Errorf("Status = %q, want REJECTED", resp.Status)
	}
}

func TestDhanGetPositionsDropsFlat(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/positions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{
				"tradingSymbol": "TCS", "securityId": "11536",
				"netQty": 10, "buyAvg": 3500.5, "sellAvg": 0,
				"realizedProfit": 100, "unrealizedProfit": 50, "ltp": 3520,
			},
			{
				// Flat: squared off during the day, dropped.
				"tradingSymbol": "INFY", "netQty": 0, "buyAvg": 1500, "sellAvg": 1510,
			},
			{
				"tradingSymbol": "SBIN", "securityId": "3045",
				"netQty": -20, "buyAvg": 0, "sellAvg": 512.5,
			},
		})
	})
	d := newTestDhan(t, mux)

	positions, err := d.GetPositions(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("GetPositions() error = %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("len(positions) = %d, want 2 (flat dropped)", len(positions))
	}
	if !positions[0].AvgPrice.Equal(decimal.NewFromFloat(3500.5)) {
		t.Errorf("long avg = %s, want buyAvg 3500.5", positions[0].AvgPrice)
	}
	if !positions[0].PnL.Equal(decimal.NewFromInt(150)) {
		t.Errorf("pnl = %s, want realized+unrealized 150", positions[0].PnL)
	}
	if !positions[1].AvgPrice.Equal(decimal.NewFromFloat(512.5)) {
		t.Errorf("short avg = %s, want sellAvg 512.5", positions[1].AvgPrice)
	}
}

func TestDhanGetHistoricalCandlesParallelArrays(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/charts/intraday", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decoding payload: %v", err)
		}
		if payload["interval"] != "5" {
			t.Errorf("interval = %v, want 5", payload["interval"])
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"open":      []float64{100, 101},
			"high":      []float64{102, 103},
			"low":       []float64{99, 100},
			"close":     []float64{101, 102},
			"volume":    []float64{5000, 6000},
			"timestamp": []int64{1756350900, 1756351200},
		})
	})
	d := newTestDhan(t, mux)

	from := time.Unix(1756350900, 0)
	series, err := d.GetHistoricalCandles(context.Background(), "acct-1", "11536", models.Interval5m, from, from.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetHistoricalCandles() error = %v", err)
	}
	if series.Synthetic {
		t.Error("series tagged synthetic despite upstream data")
	}
	if len(series.Candles) != 2 {
		t.Fatalf("len(candles) = %d, want 2", len(series.Candles))
	}
	if series.Candles[1].Close != 102 || series.Candles[1].Volume != 6000 {
		t.Errorf("unexpected candle: %+v", series.Candles[1])
	}
}

func TestDhanValidateCredentialsRejectedToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/positions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	d := newTestDhan(t, mux)

	raw, _ := json.Marshal(dhanCredentials{ClientID: "1000001", AccessToken: "expired"})
	err := d.ValidateCredentials(context.Background(), raw)
	var aErr *errors.AuthError
	if !errors.As(err, &aErr) {
		t.Fatalf("ValidateCredentials() = %v, want *AuthError", err)
	}
	if !errors.Is(err, errors.ErrTokenExpired) {
		t.Errorf("ValidateCredentials() = %v, want wrapping ErrTokenExpired", err)
	}
}

func TestDhanPlaceOrderDefaultsValidity(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/orders", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decoding payload: %v", err)
		}
		if payload["validity"] != "DAY" {
			t.Errorf("validity = %v, want DAY for unspecified time in force", payload["validity"])
		}
		json.NewEncoder(w).Encode(map[string]string{
			"orderId": "D124", "orderStatus": "TRANSIT",
		})
	})
	d := newTestDhan(t, mux)

	_, err := d.PlaceOrder(context.Background(), "acct-1", models.OrderRequest{
		Symbol:   "TCS",
		Side:     models.OrderSideBuy,
		Quantity: decimal.NewFromInt(1),
		Type:     models.OrderTypeMarket,
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
}

func TestDhanValidateCredentialsMissingToken(t *testing.T) {
	d := newTestDhan(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected network call")
	}))

	err := d.ValidateCredentials(context.Background(), []byte(`{"clientId":"1"}`))
	var vErr *errors.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("ValidateCredentials() = %v, want *ValidationError", err)
	}
}
