package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"tradegate/internal/errors"
	"tradegate/internal/logging"
	"tradegate/internal/models"
	"tradegate/pkg/utils"
)

// rest is the shared slim HTTP layer for the REST adapters. Each adapter
// owns one, bound to its base endpoint. A circuit breaker guards the
// endpoint so a dead upstream fails fast instead of stacking timeouts.
type rest struct {
	brokerID string
	baseURL  string
	hc       *http.Client
	breaker  *utils.Breaker
	limiter  *utils.RateLimiter
	log      zerolog.Logger
}

func newRest(brokerID, baseURL string, hc *http.Client, log zerolog.Logger) *rest {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &rest{
		brokerID: brokerID,
		baseURL:  baseURL,
		hc:       hc,
		breaker:  utils.NewBreaker(utils.DefaultBreakerConfig()),
		// Brokers throttle around 10 req/s per app key.
		limiter: utils.NewRateLimiter(10, 20),
		log:     log,
	}
}

// do issues one request and returns the status code and raw body.
// Transport failures surface as *errors.ProtocolError; non-2xx statuses do
// not, since several brokers return meaningful JSON error bodies that the
// caller must inspect.
func (r *rest) do(ctx context.Context, op, method, path string, header http.Header, body interface{}) (int, []byte, error) {
	if err := r.breaker.Allow(); err != nil {
		return 0, nil, errors.NewProtocolError(r.brokerID, op, 0, err)
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return 0, nil, errors.NewProtocolError(r.brokerID, op, 0, err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, errors.NewProtocolError(r.brokerID, op, 0, fmt.Errorf("encoding request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return 0, nil, errors.NewProtocolError(r.brokerID, op, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	start := time.Now()
	resp, err := r.hc.Do(req)
	logging.LogAPICall(r.log, method, path, time.Since(start), err)
	if err != nil {
		r.breaker.Failure()
		return 0, nil, errors.NewProtocolError(r.brokerID, op, 0, err)
	}
	defer resp.Body.Close()
	// Non-2xx responses still count as upstream being alive; the breaker
	// only tracks transport-level failures.
	r.breaker.Success()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, nil, errors.NewProtocolError(r.brokerID, op, resp.StatusCode, fmt.Errorf("reading response: %w", err))
	}
	return resp.StatusCode, data, nil
}

// decode unmarshals a response body, wrapping failures as ProtocolError.
func (r *rest) decode(op string, data []byte, out interface{}) error {
	if err := json.Unmarshal(data, out); err != nil {
		return errors.NewProtocolError(r.brokerID, op, 0, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// syntheticCandles generates a deterministic random-walk candle series for
// the chart/backtest path when the upstream returns nothing (e.g. outside
// market hours). Callers must tag the resulting series Synthetic and log
// the substitution; it must never feed an order or position decision.
func syntheticCandles(symbol string, interval models.Interval, from, to time.Time) []models.Candle {
	step := interval.Duration()
	if step <= 0 || !to.After(from) {
		return nil
	}

	n := int(to.Sub(from) / step)
	if n > 500 {
		n = 500
	}
	if n == 0 {
		return nil
	}

	h := fnv.New64a()
	h.Write([]byte(symbol))
	seed := h.Sum64()

	price := 100 + float64(seed%9000)/10
	candles := make([]models.Candle, 0, n)
	ts := from
	for i := 0; i < n; i++ {
		// Cheap deterministic oscillation; stands in for real data in
		// charts only.
		drift := math.Sin(float64(seed%97)+float64(i)/7) * price * 0.004
		open := price
		close := price + drift
		high := math.Max(open, close) * 1.002
		low := math.Min(open, close) * 0.998
		candles = append(candles, models.Candle{
			Timestamp: ts,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    int64(1000 + seed%5000 + uint64(i*13)),
		})
		price = close
		ts = ts.Add(step)
	}
	return candles
}
