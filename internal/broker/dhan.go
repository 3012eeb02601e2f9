package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradegate/internal/errors"
	"tradegate/internal/logging"
	"tradegate/internal/marketdata"
	"tradegate/internal/models"
)

const (
	dhanBrokerID = "dhan"
	// Dhan access tokens are issued out-of-band and are long-lived; the
	// session entry only caches the credential lookup.
	dhanTokenTTL = 24 * time.Hour
)

// DhanConfig holds the wire endpoints for the Dhan adapter.
type DhanConfig struct {
	BaseURL       string
	OrderPath     string
	PositionsPath string
	CandlesPath   string
	HTTPClient    *http.Client
}

// Dhan implements the broker contract for the Dhan v2 REST API. There is
// no interactive login; the stored access token is presented as-is on
// every call.
type Dhan struct {
	cfg      DhanConfig
	rest     *rest
	sessions *SessionStore
	creds    CredentialReader
	log      zerolog.Logger
}

type dhanCredentials struct {
	ClientID    string `json:"clientId"`
	AccessToken string `json:"accessToken"`
}

// NewDhan creates the Dhan adapter.
func NewDhan(cfg DhanConfig, creds CredentialReader, log zerolog.Logger) *Dhan {
	log = logging.WithBroker(log, dhanBrokerID)
	return &Dhan{
		cfg:      cfg,
		rest:     newRest(dhanBrokerID, cfg.BaseURL, cfg.HTTPClient, log),
		sessions: NewSessionStore(),
		creds:    creds,
		log:      log,
	}
}

func (d *Dhan) BrokerID() string { return dhanBrokerID }

func (d *Dhan) Capabilities() models.CapabilitySet {
	return models.NewCapabilitySet(
		models.CapabilityPlaceOrder,
		models.CapabilityCancelOrder,
		models.CapabilityGetPositions,
		models.CapabilityHistoricalData,
	)
}

func (d *Dhan) readCredentials(ctx context.Context, accountID string) (dhanCredentials, error) {
	raw, err := d.creds(ctx, accountID)
	if err != nil {
		return dhanCredentials{}, errors.NewAuthError(dhanBrokerID, accountID, "reading credentials", err)
	}
	var c dhanCredentials
	if err := json.Unmarshal(raw, &c); err != nil {
		return dhanCredentials{}, errors.NewAuthError(dhanBrokerID, accountID, "parsing credentials", err)
	}
	if c.AccessToken == "" {
		return dhanCredentials{}, errors.NewAuthError(dhanBrokerID, accountID, "access token missing", errors.ErrNoCredentials)
	}
	return c, nil
}

// Authenticate wraps the stored access token in a session entry. Dhan has
// no login exchange, so "renewal" is just a fresh credential read.
func (d *Dhan) Authenticate(ctx context.Context, accountID string) (models.AuthToken, error) {
	return d.sessions.Ensure(ctx, accountID, func(ctx context.Context) (models.AuthToken, error) {
		c, err := d.readCredentials(ctx, accountID)
		if err != nil {
			return models.AuthToken{}, err
		}
		return models.AuthToken{
			AccessToken: c.AccessToken,
			TokenType:   "access-token",
			ObtainedAt:  time.Now(),
			ExpiresIn:   dhanTokenTTL,
		}, nil
	})
}

// dhanValidity maps time in force onto Dhan's validity field. Dhan rejects
// an empty validity, so unspecified requests fall back to DAY.
func dhanValidity(tif models.TimeInForce) string {
	if tif == "" {
		return "DAY"
	}
	return string(tif)
}

func dhanHeaders(c dhanCredentials) http.Header {
	h := http.Header{}
	h.Set("access-token", c.AccessToken)
	h.Set("client-id", c.ClientID)
	return h
}

// PlaceOrder maps the canonical request onto POST /v2/orders. Price is
// included only for LIMIT orders.
func (d *Dhan) PlaceOrder(ctx context.Context, accountID string, req models.OrderRequest) (models.OrderResponse, error) {
	if err := ValidateOrder(req); err != nil {
		return models.OrderResponse{}, err
	}
	c, err := d.readCredentials(ctx, accountID)
	if err != nil {
		return models.OrderResponse{}, err
	}

	payload := map[string]interface{}{
		"dhanClientId":    c.ClientID,
		"correlationId":   req.ClientOrderID,
		"transactionType": string(req.Side),
		"exchangeSegment": req.MetaOr("exchangeSegment", "NSE_EQ"),
		"productType":     req.MetaOr("productType", "INTRADAY"),
		"orderType":       string(req.Type),
		"validity":        dhanValidity(req.TimeInForce),
		"securityId":      req.MetaOr("securityId", req.Symbol),
		"quantity":        req.Quantity.IntPart(),
	}
	if req.Type == models.OrderTypeLimit && req.Price != nil {
		payload["price"], _ = req.Price.Float64()
	}

	status, data, err := d.rest.do(ctx, "placeOrder", http.MethodPost, d.cfg.OrderPath, dhanHeaders(c), payload)
	if err != nil {
		return models.OrderResponse{}, err
	}

	var result struct {
		OrderID     string `json:"orderId"`
		OrderStatus string `json:"orderStatus"`
		ErrorType   string `json:"errorType"`
		ErrorMsg    string `json:"errorMessage"`
	}
	if err := d.rest.decode("placeOrder", data, &result); err != nil {
		return models.OrderResponse{}, err
	}

	if status != http.StatusOK || result.ErrorType != "" {
		msg := result.ErrorMsg
		if msg == "" {
			msg = fmt.Sprintf("order rejected with status %d", status)
		}
		resp := models.OrderResponse{
			Status:  models.OrderStatusRejected,
			Message: msg,
			Meta:    map[string]string{"errorType": result.ErrorType},
		}
		return resp, errors.NewValidationError(dhanBrokerID, "", msg)
	}

	return models.OrderResponse{
		OrderID: result.OrderID,
		Status:  models.OrderStatusPlaced,
		Message: result.OrderStatus,
	}, nil
}

// CancelOrder issues DELETE /v2/orders/{id}.
func (d *Dhan) CancelOrder(ctx context.Context, accountID, brokerOrderID string) error {
	c, err := d.readCredentials(ctx, accountID)
	if err != nil {
		return err
	}
	path := d.cfg.OrderPath + "/" + brokerOrderID
	status, _, err := d.rest.do(ctx, "cancelOrder", http.MethodDelete, path, dhanHeaders(c), nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return errors.NewProtocolError(dhanBrokerID, "cancelOrder", status, fmt.Errorf("cancel rejected"))
	}
	return nil
}

// GetOrderStatus fetches GET /v2/orders/{id}.
func (d *Dhan) GetOrderStatus(ctx context.Context, accountID, brokerOrderID string) (models.OrderStatus, error) {
	c, err := d.readCredentials(ctx, accountID)
	if err != nil {
		return models.OrderStatus{}, err
	}
	path := d.cfg.OrderPath + "/" + brokerOrderID
	status, data, err := d.rest.do(ctx, "getOrderStatus", http.MethodGet, path, dhanHeaders(c), nil)
	if err != nil {
		return models.OrderStatus{}, err
	}
	if status != http.StatusOK {
		return models.OrderStatus{}, errors.NewProtocolError(dhanBrokerID, "getOrderStatus", status, fmt.Errorf("unexpected status"))
	}

	var row struct {
		OrderID      string          `json:"orderId"`
		OrderStatus  string          `json:"orderStatus"`
		FilledQty    decimal.Decimal `json:"filledQty"`
		AvgTradedPrc decimal.Decimal `json:"averageTradedPrice"`
	}
	if err := d.rest.decode("getOrderStatus", data, &row); err != nil {
		return models.OrderStatus{}, err
	}
	return models.OrderStatus{
		OrderID:      row.OrderID,
		Status:       row.OrderStatus,
		FilledQty:    row.FilledQty,
		AvgFillPrice: row.AvgTradedPrc,
	}, nil
}

type dhanPosition struct {
	TradingSymbol string          `json:"tradingSymbol"`
	SecurityID    string          `json:"securityId"`
	ExchSegment   string          `json:"exchangeSegment"`
	ProductType   string          `json:"productType"`
	NetQty        decimal.Decimal `json:"netQty"`
	BuyAvg        decimal.Decimal `json:"buyAvg"`
	SellAvg       decimal.Decimal `json:"sellAvg"`
	BuyQty        decimal.Decimal `json:"buyQty"`
	SellQty       decimal.Decimal `json:"sellQty"`
	RealizedPnL   decimal.Decimal `json:"realizedProfit"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedProfit"`
	LTP           decimal.Decimal `json:"ltp"`
}

// GetPositions fetches GET /v2/positions. Flat records (netQty == 0) are
// dropped so only open exposure is reported.
func (d *Dhan) GetPositions(ctx context.Context, accountID string) ([]models.Position, error) {
	c, err := d.readCredentials(ctx, accountID)
	if err != nil {
		return nil, err
	}

	status, data, err := d.rest.do(ctx, "getPositions", http.MethodGet, d.cfg.PositionsPath, dhanHeaders(c), nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errors.NewProtocolError(dhanBrokerID, "getPositions", status, fmt.Errorf("unexpected status"))
	}

	var rows []dhanPosition
	if err := d.rest.decode("getPositions", data, &rows); err != nil {
		return nil, err
	}

	positions := make([]models.Position, 0, len(rows))
	for _, row := range rows {
		if row.NetQty.IsZero() {
			continue
		}
		avg := row.BuyAvg
		if row.NetQty.IsNegative() {
			avg = row.SellAvg
		}
		positions = append(positions, models.Position{
			Symbol:          row.TradingSymbol,
			SecurityID:      row.SecurityID,
			Exchange:        row.ExchSegment,
			ProductType:     row.ProductType,
			NetQuantity:     row.NetQty,
			AvgPrice:        avg,
			LastTradedPrice: row.LTP,
			PnL:             row.RealizedPnL.Add(row.UnrealizedPnL),
			BuyQty:          row.BuyQty,
			SellQty:         row.SellQty,
		})
	}
	return positions, nil
}

func dhanInterval(iv models.Interval) string {
	switch iv {
	case models.Interval1m:
		return "1"
	case models.Interval5m:
		return "5"
	case models.Interval15m:
		return "15"
	case models.Interval1h:
		return "60"
	default:
		return "D"
	}
}

// GetHistoricalCandles fetches intraday chart data. Dhan returns parallel
// arrays per field rather than row tuples.
func (d *Dhan) GetHistoricalCandles(ctx context.Context, accountID, symbol string, interval models.Interval, from, to time.Time) (models.CandleSeries, error) {
	if !interval.Valid() {
		return models.CandleSeries{}, errors.NewValidationError(dhanBrokerID, "interval", fmt.Sprintf("unsupported interval: %s", interval))
	}
	c, err := d.readCredentials(ctx, accountID)
	if err != nil {
		return models.CandleSeries{}, err
	}

	payload := map[string]interface{}{
		"securityId":      symbol,
		"exchangeSegment": "NSE_EQ",
		"instrument":      "EQUITY",
		"interval":        dhanInterval(interval),
		"fromDate":        from.Format("2006-01-02 15:04:05"),
		"toDate":          to.Format("2006-01-02 15:04:05"),
	}

	status, data, err := d.rest.do(ctx, "getCandles", http.MethodPost, d.cfg.CandlesPath, dhanHeaders(c), payload)
	if err != nil {
		return models.CandleSeries{}, err
	}
	if status != http.StatusOK {
		return models.CandleSeries{}, errors.NewProtocolError(dhanBrokerID, "getCandles", status, fmt.Errorf("unexpected status"))
	}

	var cols struct {
		Open      []float64 `json:"open"`
		High      []float64 `json:"high"`
		Low       []float64 `json:"low"`
		Close     []float64 `json:"close"`
		Volume    []float64 `json:"volume"`
		Timestamp []int64   `json:"timestamp"` // epoch seconds
	}
	if err := d.rest.decode("getCandles", data, &cols); err != nil {
		return models.CandleSeries{}, err
	}

	n := len(cols.Timestamp)
	if n > len(cols.Open) {
		n = len(cols.Open)
	}
	if n > len(cols.Close) {
		n = len(cols.Close)
	}
	if n == 0 {
		d.log.Warn().
			Bool("synthetic", true).
			Str("symbol", symbol).
			Str("interval", string(interval)).
			Msg("Upstream returned no candles; substituting synthetic series")
		return models.CandleSeries{
			Candles:   syntheticCandles(symbol, interval, from, to),
			Synthetic: true,
		}, nil
	}

	candles := make([]models.Candle, 0, n)
	for i := 0; i < n; i++ {
		candle := models.Candle{
			Timestamp: time.Unix(cols.Timestamp[i], 0),
			Open:      cols.Open[i],
			Close:     cols.Close[i],
		}
		if i < len(cols.High) {
			candle.High = cols.High[i]
		}
		if i < len(cols.Low) {
			candle.Low = cols.Low[i]
		}
		if i < len(cols.Volume) {
			candle.Volume = int64(cols.Volume[i])
		}
		candles = append(candles, candle)
	}
	return models.CandleSeries{Candles: candles}, nil
}

// ValidateCredentials probes the positions endpoint with the supplied
// token; Dhan has no dedicated validation call.
func (d *Dhan) ValidateCredentials(ctx context.Context, rawCredentials []byte) error {
	var c dhanCredentials
	if err := json.Unmarshal(rawCredentials, &c); err != nil {
		return errors.NewValidationError(dhanBrokerID, "credentials", "malformed credential JSON")
	}
	if c.AccessToken == "" {
		return errors.NewValidationError(dhanBrokerID, "accessToken", "access token is required")
	}

	status, _, err := d.rest.do(ctx, "validateCredentials", http.MethodGet, d.cfg.PositionsPath, dhanHeaders(c), nil)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return errors.NewAuthError(dhanBrokerID, "", "access token rejected", errors.ErrTokenExpired)
	}
	if status != http.StatusOK {
		return errors.NewProtocolError(dhanBrokerID, "validateCredentials", status, fmt.Errorf("unexpected status"))
	}
	return nil
}

// StreamTicks is not offered on this adapter.
func (d *Dhan) StreamTicks(ctx context.Context, accountID, instrumentToken string) (*marketdata.Subscription, error) {
	return nil, errors.ErrNotSupported
}

var _ Client = (*Dhan)(nil)
