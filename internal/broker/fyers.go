package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradegate/internal/errors"
	"tradegate/internal/logging"
	"tradegate/internal/marketdata"
	"tradegate/internal/models"
)

const (
	fyersBrokerID = "fyers"
	// Fyers tokens expire at end of day; 12h keeps a session through one
	// trading day with renewal happening overnight.
	fyersSessionTTL = 12 * time.Hour
)

// FyersConfig holds the wire endpoints for the Fyers adapter.
type FyersConfig struct {
	BaseURL       string
	AuthPath      string
	OrderPath     string
	PositionsPath string
	CandlesPath   string
	HTTPClient    *http.Client
}

// Fyers implements the broker contract for the Fyers API v3. Token
// exchange uses the app hash, SHA-256 over "appId:appSecret".
type Fyers struct {
	cfg      FyersConfig
	rest     *rest
	sessions *SessionStore
	creds    CredentialReader
	log      zerolog.Logger
}

type fyersCredentials struct {
	AppID     string `json:"appId"`
	AppSecret string `json:"appSecret"`
	AuthCode  string `json:"authCode"`
}

// NewFyers creates the Fyers adapter.
func NewFyers(cfg FyersConfig, creds CredentialReader, log zerolog.Logger) *Fyers {
	log = logging.WithBroker(log, fyersBrokerID)
	return &Fyers{
		cfg:      cfg,
		rest:     newRest(fyersBrokerID, cfg.BaseURL, cfg.HTTPClient, log),
		sessions: NewSessionStore(),
		creds:    creds,
		log:      log,
	}
}

func (f *Fyers) BrokerID() string { return fyersBrokerID }

func (f *Fyers) Capabilities() models.CapabilitySet {
	return models.NewCapabilitySet(
		models.CapabilityPlaceOrder,
		models.CapabilityCancelOrder,
		models.CapabilityGetPositions,
		models.CapabilityHistoricalData,
		models.CapabilityOCO,
	)
}

func (f *Fyers) readCredentials(ctx context.Context, accountID string) (fyersCredentials, error) {
	raw, err := f.creds(ctx, accountID)
	if err != nil {
		return fyersCredentials{}, errors.NewAuthError(fyersBrokerID, accountID, "reading credentials", err)
	}
	var c fyersCredentials
	if err := json.Unmarshal(raw, &c); err != nil {
		return fyersCredentials{}, errors.NewAuthError(fyersBrokerID, accountID, "parsing credentials", err)
	}
	return c, nil
}

// appHash computes the SHA-256 digest over "appId:appSecret", hex-encoded,
// as the token exchange requires.
func appHash(appID, appSecret string) string {
	sum := sha256.Sum256([]byte(appID + ":" + appSecret))
	return hex.EncodeToString(sum[:])
}

// fyersSymbol renders the exchange-qualified symbol, e.g. "NSE:SBIN-EQ".
// Already-qualified symbols pass through untouched.
func fyersSymbol(symbol string) string {
	if strings.Contains(symbol, ":") {
		return symbol
	}
	return "NSE:" + symbol + "-EQ"
}

// Authenticate exchanges the stored auth code for an access token, cached
// until expiry.
func (f *Fyers) Authenticate(ctx context.Context, accountID string) (models.AuthToken, error) {
	return f.sessions.Ensure(ctx, accountID, func(ctx context.Context) (models.AuthToken, error) {
		c, err := f.readCredentials(ctx, accountID)
		if err != nil {
			return models.AuthToken{}, err
		}
		tok, err := f.exchangeToken(ctx, c)
		if err != nil {
			return models.AuthToken{}, errors.NewAuthError(fyersBrokerID, accountID, "token exchange", err)
		}
		f.log.Info().Str("account", accountID).Msg("Token exchange successful")
		return tok, nil
	})
}

func (f *Fyers) exchangeToken(ctx context.Context, c fyersCredentials) (models.AuthToken, error) {
	body := map[string]string{
		"grant_type": "authorization_code",
		"appIdHash":  appHash(c.AppID, c.AppSecret),
		"code":       c.AuthCode,
	}

	status, data, err := f.rest.do(ctx, "validateAuthCode", http.MethodPost, f.cfg.AuthPath, nil, body)
	if err != nil {
		return models.AuthToken{}, err
	}
	if status != http.StatusOK {
		return models.AuthToken{}, errors.NewProtocolError(fyersBrokerID, "validateAuthCode", status, fmt.Errorf("unexpected status"))
	}

	var result struct {
		S            string `json:"s"`
		Message      string `json:"message"`
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := f.rest.decode("validateAuthCode", data, &result); err != nil {
		return models.AuthToken{}, err
	}
	if result.S != "ok" || result.AccessToken == "" {
		return models.AuthToken{}, fmt.Errorf("token exchange rejected: %s", result.Message)
	}

	return models.AuthToken{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    "Bearer",
		ObtainedAt:   time.Now(),
		ExpiresIn:    fyersSessionTTL,
	}, nil
}

func (f *Fyers) authHeader(ctx context.Context, accountID string) (http.Header, error) {
	tok, err := f.Authenticate(ctx, accountID)
	if err != nil {
		return nil, err
	}
	c, err := f.readCredentials(ctx, accountID)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	// Fyers wants "appId:accessToken" in the Authorization header.
	h.Set("Authorization", c.AppID+":"+tok.AccessToken)
	return h, nil
}

// fyersValidity maps time in force onto Fyers' validity field, defaulting
// unspecified requests to DAY.
func fyersValidity(tif models.TimeInForce) string {
	if tif == "" {
		return "DAY"
	}
	return string(tif)
}

func fyersSide(side models.OrderSide) int {
	if side == models.OrderSideSell {
		return -1
	}
	return 1
}

func fyersOrderType(t models.OrderType) int {
	if t == models.OrderTypeLimit {
		return 1
	}
	return 2 // market
}

// PlaceOrder maps the canonical request onto the Fyers order payload with
// its numeric side/type encoding.
func (f *Fyers) PlaceOrder(ctx context.Context, accountID string, req models.OrderRequest) (models.OrderResponse, error) {
	if err := ValidateOrder(req); err != nil {
		return models.OrderResponse{}, err
	}
	header, err := f.authHeader(ctx, accountID)
	if err != nil {
		return models.OrderResponse{}, err
	}

	payload := map[string]interface{}{
		"symbol":       fyersSymbol(req.Symbol),
		"qty":          req.Quantity.IntPart(),
		"type":         fyersOrderType(req.Type),
		"side":         fyersSide(req.Side),
		"productType":  req.MetaOr("productType", "INTRADAY"),
		"validity":     fyersValidity(req.TimeInForce),
		"offlineOrder": false,
	}
	if req.Type == models.OrderTypeLimit && req.Price != nil {
		payload["limitPrice"], _ = req.Price.Float64()
	} else {
		payload["limitPrice"] = 0
	}
	payload["stopPrice"] = 0

	status, data, err := f.rest.do(ctx, "placeOrder", http.MethodPost, f.cfg.OrderPath, header, payload)
	if err != nil {
		return models.OrderResponse{}, err
	}

	var result struct {
		S       string `json:"s"`
		Code    int    `json:"code"`
		Message string `json:"message"`
		ID      string `json:"id"`
	}
	if err := f.rest.decode("placeOrder", data, &result); err != nil {
		return models.OrderResponse{}, err
	}

	if status != http.StatusOK || result.S != "ok" {
		resp := models.OrderResponse{
			Status:  models.OrderStatusRejected,
			Message: result.Message,
			Meta:    map[string]string{"code": fmt.Sprintf("%d", result.Code)},
		}
		return resp, errors.NewValidationError(fyersBrokerID, "", result.Message)
	}

	return models.OrderResponse{
		OrderID: result.ID,
		Status:  models.OrderStatusPlaced,
		Message: result.Message,
	}, nil
}

// CancelOrder issues DELETE on the orders endpoint with the order id in the
// body, per the v3 API.
func (f *Fyers) CancelOrder(ctx context.Context, accountID, brokerOrderID string) error {
	header, err := f.authHeader(ctx, accountID)
	if err != nil {
		return err
	}
	status, data, err := f.rest.do(ctx, "cancelOrder", http.MethodDelete, f.cfg.OrderPath, header, map[string]string{"id": brokerOrderID})
	if err != nil {
		return err
	}
	var result struct {
		S       string `json:"s"`
		Message string `json:"message"`
	}
	if err := f.rest.decode("cancelOrder", data, &result); err != nil {
		return err
	}
	if status != http.StatusOK || result.S != "ok" {
		return errors.NewProtocolError(fyersBrokerID, "cancelOrder", status, fmt.Errorf("cancel rejected: %s", result.Message))
	}
	return nil
}

// GetOrderStatus is not offered on this adapter.
func (f *Fyers) GetOrderStatus(ctx context.Context, accountID, brokerOrderID string) (models.OrderStatus, error) {
	return models.OrderStatus{}, errors.ErrNotSupported
}

type fyersPosition struct {
	Symbol      string          `json:"symbol"`
	ID          string          `json:"id"`
	ProductType string          `json:"productType"`
	NetQty      decimal.Decimal `json:"netQty"`
	NetAvg      decimal.Decimal `json:"netAvg"`
	LTP         decimal.Decimal `json:"ltp"`
	PnL         decimal.Decimal `json:"pl"`
	BuyQty      decimal.Decimal `json:"buyQty"`
	SellQty     decimal.Decimal `json:"sellQty"`
}

// GetPositions fetches the net positions book.
func (f *Fyers) GetPositions(ctx context.Context, accountID string) ([]models.Position, error) {
	header, err := f.authHeader(ctx, accountID)
	if err != nil {
		return nil, err
	}

	status, data, err := f.rest.do(ctx, "getPositions", http.MethodGet, f.cfg.PositionsPath, header, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errors.NewProtocolError(fyersBrokerID, "getPositions", status, fmt.Errorf("unexpected status"))
	}

	var result struct {
		S            string          `json:"s"`
		NetPositions []fyersPosition `json:"netPositions"`
	}
	if err := f.rest.decode("getPositions", data, &result); err != nil {
		return nil, err
	}
	if result.S != "ok" {
		return nil, errors.NewProtocolError(fyersBrokerID, "getPositions", status, fmt.Errorf("positions request rejected"))
	}

	positions := make([]models.Position, 0, len(result.NetPositions))
	for _, row := range result.NetPositions {
		positions = append(positions, models.Position{
			Symbol:          row.Symbol,
			SecurityID:      row.ID,
			Exchange:        string(models.NSE),
			ProductType:     row.ProductType,
			NetQuantity:     row.NetQty,
			AvgPrice:        row.NetAvg,
			LastTradedPrice: row.LTP,
			PnL:             row.PnL,
			BuyQty:          row.BuyQty,
			SellQty:         row.SellQty,
		})
	}
	return positions, nil
}

func fyersInterval(iv models.Interval) string {
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

// GetHistoricalCandles fetches history rows, each a [ts, o, h, l, c, v]
// tuple of numbers.
func (f *Fyers) GetHistoricalCandles(ctx context.Context, accountID, symbol string, interval models.Interval, from, to time.Time) (models.CandleSeries, error) {
	if !interval.Valid() {
		return models.CandleSeries{}, errors.NewValidationError(fyersBrokerID, "interval", fmt.Sprintf("unsupported interval: %s", interval))
	}
	header, err := f.authHeader(ctx, accountID)
	if err != nil {
		return models.CandleSeries{}, err
	}

	path := fmt.Sprintf("%s?symbol=%s&resolution=%s&date_format=0&range_from=%d&range_to=%d&cont_flag=1",
		f.cfg.CandlesPath, fyersSymbol(symbol), fyersInterval(interval), from.Unix(), to.Unix())

	status, data, err := f.rest.do(ctx, "getCandles", http.MethodGet, path, header, nil)
	if err != nil {
		return models.CandleSeries{}, err
	}
	if status != http.StatusOK {
		return models.CandleSeries{}, errors.NewProtocolError(fyersBrokerID, "getCandles", status, fmt.Errorf("unexpected status"))
	}

	var result struct {
		S       string      `json:"s"`
		Candles [][]float64 `json:"candles"`
	}
	if err := f.rest.decode("getCandles", data, &result); err != nil {
		return models.CandleSeries{}, err
	}

	candles := make([]models.Candle, 0, len(result.Candles))
	skipped := 0
	for _, row := range result.Candles {
		if len(row) < 6 {
			skipped++
			continue
		}
		candles = append(candles, models.Candle{
			Timestamp: time.Unix(int64(row[0]), 0),
			Open:      row[1],
			High:      row[2],
			Low:       row[3],
			Close:     row[4],
			Volume:    int64(row[5]),
		})
	}
	if skipped > 0 {
		f.log.Warn().Int("skipped", skipped).Str("symbol", symbol).Msg("Skipped unparseable candle rows")
	}

	if len(candles) == 0 {
		f.log.Warn().
			Bool("synthetic", true).
			Str("symbol", symbol).
			Str("interval", string(interval)).
			Msg("Upstream returned no candles; substituting synthetic series")
		return models.CandleSeries{
			Candles:   syntheticCandles(symbol, interval, from, to),
			Synthetic: true,
		}, nil
	}
	return models.CandleSeries{Candles: candles}, nil
}

// ValidateCredentials performs a stateless token exchange probe.
func (f *Fyers) ValidateCredentials(ctx context.Context, rawCredentials []byte) error {
	var c fyersCredentials
	if err := json.Unmarshal(rawCredentials, &c); err != nil {
		return errors.NewValidationError(fyersBrokerID, "credentials", "malformed credential JSON")
	}
	if c.AppID == "" || c.AppSecret == "" {
		return errors.NewValidationError(fyersBrokerID, "appId", "appId and appSecret are required")
	}
	if _, err := f.exchangeToken(ctx, c); err != nil {
		return errors.NewAuthError(fyersBrokerID, "", "credential validation failed", err)
	}
	return nil
}

// StreamTicks is not offered on this adapter.
func (f *Fyers) StreamTicks(ctx context.Context, accountID, instrumentToken string) (*marketdata.Subscription, error) {
	return nil, errors.ErrNotSupported
}

var _ Client = (*Fyers)(nil)
