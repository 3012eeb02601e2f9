package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradegate/internal/errors"
	"tradegate/internal/marketdata"
	"tradegate/internal/models"
)

const testTOTPKey = "JBSWY3DPEHPK3PXP"

func angelCredReader() CredentialReader {
	raw, _ := json.Marshal(angelCredentials{
		APIKey:     "api-key",
		ClientCode: "C123",
		Password:   "pin",
		TOTPKey:    testTOTPKey,
	})
	return func(ctx context.Context, accountID string) ([]byte, error) {
		return raw, nil
	}
}

func newTestAngelOne(t *testing.T, handler http.Handler) (*AngelOne, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := AngelOneConfig{
		BaseURL:       srv.URL,
		AuthPath:      "/auth/login",
		OrderPath:     "/orders",
		PositionsPath: "/positions",
		CandlesPath:   "/candles",
	}
	return NewAngelOne(cfg, angelCredReader(), marketdata.NewHub(zerolog.Nop()), zerolog.Nop()), srv
}

func angelLoginHandler(logins *atomic.Int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logins.Add(1)
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if body["clientcode"] != "C123" || body["password"] != "pin" || len(body["totp"]) != 6 {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": false, "message": "Invalid totp", "errorcode": "AB1050",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": true,
			"data": map[string]string{
				"jwtToken":     "jwt-1",
				"refreshToken": "ref-1",
				"feedToken":    "feed-1",
			},
		})
	}
}

func TestAngelOneAuthenticateCachesSession(t *testing.T) {
	var logins atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", angelLoginHandler(&logins))
	a, _ := newTestAngelOne(t, mux)

	tok, err := a.Authenticate(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if tok.AccessToken != "jwt-1" {
		t.Errorf("AccessToken = %q, want jwt-1", tok.AccessToken)
	}

	if _, err := a.Authenticate(context.Background(), "acct-1"); err != nil {
		t.Fatalf("second Authenticate() error = %v", err)
	}
	if got := logins.Load(); got != 1 {
		t.Errorf("upstream login count = %d, want 1", got)
	}
}

func TestAngelOnePlaceOrderRejected(t *testing.T) {
	var logins atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", angelLoginHandler(&logins))
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer jwt-1" {
			t.Errorf("Authorization = %q, want Bearer jwt-1", got)
		}
		if got := r.Header.Get("X-PrivateKey"); got != "api-key" {
			t.Errorf("X-PrivateKey = %q, want api-key", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": false, "message": "Insufficient funds", "errorcode": "AB2001",
		})
	})
	a, _ := newTestAngelOne(t, mux)

	price := decimal.NewFromFloat(512.50)
	resp, err := a.PlaceOrder(context.Background(), "acct-1", models.OrderRequest{
		Symbol:   "SBIN-EQ",
		Side:     models.OrderSideBuy,
		Quantity: decimal.NewFromInt(10),
		Price:    &price,
		Type:     models.OrderTypeLimit,
		Meta:     map[string]string{"token": "3045"},
	})

	var vErr *errors.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("PlaceOrder() error = %v, want *ValidationError", err)
	}
	if vErr.Message != "Insufficient funds" {
		t.Errorf("broker message = %q, want Insufficient funds", vErr.Message)
	}
	if resp.Status != models.OrderStatusRejected {
		t.Errorf("Status = %q, want REJECTED", resp.Status)
	}
	if resp.Meta["errorcode"] != "AB2001" {
		t.Errorf("errorcode = %q, want AB2001", resp.Meta["errorcode"])
	}
}

func TestAngelOnePlaceOrderInvalidSkipsNetwork(t *testing.T) {
	a, _ := newTestAngelOne(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	}))

	_, err := a.PlaceOrder(context.Background(), "acct-1", models.OrderRequest{
		Symbol:   "SBIN-EQ",
		Side:     models.OrderSideBuy,
		Quantity: decimal.NewFromInt(10),
		Type:     models.OrderTypeLimit, // no price
	})
	var vErr *errors.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("PlaceOrder() error = %v, want *ValidationError", err)
	}
	if vErr.Field != "price" {
		t.Errorf("field = %q, want price", vErr.Field)
	}
}

func TestAngelOneGetPositions(t *testing.T) {
	var logins atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", angelLoginHandler(&logins))
	mux.HandleFunc("/positions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": true,
			"data": []map[string]string{
				{
					"tradingsymbol": "SBIN-EQ",
					"exchange":      "NSE",
					"producttype":   "INTRADAY",
					"netqty":        "10",
					"avgnetprice":   "512.50",
					"ltp":           "515.00",
					"pnl":           "25.00",
				},
				{
					// Unparseable quantity: skipped, not fatal.
					"tradingsymbol": "BROKEN",
					"netqty":        "not-a-number",
				},
				{
					// Absent numerics count as zero.
					"tradingsymbol": "INFY-EQ",
					"netqty":        "-5",
				},
			},
		})
	})
	a, _ := newTestAngelOne(t, mux)

	positions, err := a.GetPositions(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("GetPositions() error = %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("len(positions) = %d, want 2", len(positions))
	}
	if positions[0].Symbol != "SBIN-EQ" || !positions[0].NetQuantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("unexpected first position: %+v", positions[0])
	}
	if !positions[1].AvgPrice.IsZero() {
		t.Errorf("absent avg price = %s, want 0", positions[1].AvgPrice)
	}
}

func TestAngelOneHistoricalCandles(t *testing.T) {
	var logins atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", angelLoginHandler(&logins))
	mux.HandleFunc("/candles", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": true,
			"data": [][]interface{}{
				{"2026-08-28T09:15:00+05:30", 100.0, 101.5, 99.5, 101.0, 12000},
				{"2026-08-28T09:20:00+05:30", 101.0, 102.0, nil, 101.5, 8000},
			},
		})
	})
	a, _ := newTestAngelOne(t, mux)

	from := time.Date(2026, 8, 28, 9, 15, 0, 0, time.UTC)
	series, err := a.GetHistoricalCandles(context.Background(), "acct-1", "3045", models.Interval5m, from, from.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetHistoricalCandles() error = %v", err)
	}
	if series.Synthetic {
		t.Error("series tagged synthetic despite upstream data")
	}
	if len(series.Candles) != 2 {
		t.Fatalf("len(candles) = %d, want 2", len(series.Candles))
	}
	if series.Candles[0].Close != 101.0 {
		t.Errorf("close = %v, want 101.0", series.Candles[0].Close)
	}
	if series.Candles[1].Low != 0 {
		t.Errorf("null low = %v, want 0", series.Candles[1].Low)
	}
}

func TestAngelOneHistoricalCandlesSyntheticFallback(t *testing.T) {
	var logins atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", angelLoginHandler(&logins))
	mux.HandleFunc("/candles", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"status": true, "data": nil})
	})
	a, _ := newTestAngelOne(t, mux)

	from := time.Date(2026, 8, 28, 9, 15, 0, 0, time.UTC)
	series, err := a.GetHistoricalCandles(context.Background(), "acct-1", "3045", models.Interval5m, from, from.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetHistoricalCandles() error = %v", err)
	}
	if !series.Synthetic {
		t.Fatal("empty upstream series not tagged synthetic")
	}
	if len(series.Candles) == 0 {
		t.Error("synthetic fallback produced no candles")
	}
}

func TestAngelOneValidateCredentialsRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": false, "message": "Invalid clientcode",
		})
	})
	a, _ := newTestAngelOne(t, mux)

	raw, _ := json.Marshal(angelCredentials{
		APIKey: "k", ClientCode: "BAD", Password: "p", TOTPKey: testTOTPKey,
	})
	err := a.ValidateCredentials(context.Background(), raw)
	var aErr *errors.AuthError
	if !errors.As(err, &aErr) {
		t.Fatalf("ValidateCredentials() = %v, want *AuthError", err)
	}
	if a.sessions.Len() != 0 {
		t.Error("credential probe persisted a session")
	}
}
