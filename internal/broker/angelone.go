package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradegate/internal/errors"
	"tradegate/internal/logging"
	"tradegate/internal/marketdata"
	"tradegate/internal/models"
	"tradegate/internal/security"
)

const (
	angelBrokerID = "angelone"
	// Angel One sessions last the trading day; renew well before that.
	angelSessionTTL = 8 * time.Hour

	angelTimeFormat = "2006-01-02 15:04"
)

// AngelOneConfig holds the wire endpoints for the Angel One adapter.
type AngelOneConfig struct {
	BaseURL       string
	AuthPath      string
	OrderPath     string
	PositionsPath string
	CandlesPath   string
	WSURL         string
	HTTPClient    *http.Client
}

// AngelOne implements the broker contract for Angel One SmartAPI. Login
// requires a TOTP generated from the account's shared secret on every
// attempt; the code is never cached and never logged.
type AngelOne struct {
	cfg      AngelOneConfig
	rest     *rest
	sessions *SessionStore
	creds    CredentialReader
	hub      *marketdata.Hub
	log      zerolog.Logger

	streamMu sync.Mutex
	streams  map[string]*angelStream // accountID -> live ws connection
}

// angelCredentials maps the decrypted credential JSON for Angel One.
type angelCredentials struct {
	APIKey     string `json:"apiKey"`
	ClientCode string `json:"clientCode"`
	Password   string `json:"password"`
	TOTPKey    string `json:"totpKey"` // Base32 shared secret
}

// NewAngelOne creates the Angel One adapter.
func NewAngelOne(cfg AngelOneConfig, creds CredentialReader, hub *marketdata.Hub, log zerolog.Logger) *AngelOne {
	log = logging.WithBroker(log, angelBrokerID)
	return &AngelOne{
		cfg:      cfg,
		rest:     newRest(angelBrokerID, cfg.BaseURL, cfg.HTTPClient, log),
		sessions: NewSessionStore(),
		creds:    creds,
		hub:      hub,
		log:      log,
		streams:  make(map[string]*angelStream),
	}
}

func (a *AngelOne) BrokerID() string { return angelBrokerID }

func (a *AngelOne) Capabilities() models.CapabilitySet {
	return models.NewCapabilitySet(
		models.CapabilityPlaceOrder,
		models.CapabilityGetPositions,
		models.CapabilityHistoricalData,
		models.CapabilityMarketDataStream,
	)
}

func (a *AngelOne) readCredentials(ctx context.Context, accountID string) (angelCredentials, error) {
	raw, err := a.creds(ctx, accountID)
	if err != nil {
		return angelCredentials{}, errors.NewAuthError(angelBrokerID, accountID, "reading credentials", err)
	}
	var c angelCredentials
	if err := json.Unmarshal(raw, &c); err != nil {
		return angelCredentials{}, errors.NewAuthError(angelBrokerID, accountID, "parsing credentials", err)
	}
	return c, nil
}

func angelHeaders(apiKey string) http.Header {
	h := http.Header{}
	h.Set("X-PrivateKey", apiKey)
	h.Set("X-UserType", "USER")
	h.Set("X-SourceID", "WEB")
	h.Set("X-ClientLocalIP", "127.0.0.1")
	h.Set("X-ClientPublicIP", "127.0.0.1")
	h.Set("X-MACAddress", "00:00:00:00:00:00")
	return h
}

type angelEnvelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

type angelSession struct {
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
	FeedToken    string `json:"feedToken"`
}

// Authenticate returns a cached token or performs the TOTP login flow.
func (a *AngelOne) Authenticate(ctx context.Context, accountID string) (models.AuthToken, error) {
	return a.sessions.Ensure(ctx, accountID, func(ctx context.Context) (models.AuthToken, error) {
		creds, err := a.readCredentials(ctx, accountID)
		if err != nil {
			return models.AuthToken{}, err
		}
		tok, _, err := a.login(ctx, creds)
		if err != nil {
			return models.AuthToken{}, errors.NewAuthError(angelBrokerID, accountID, "login", err)
		}
		logging.WithAccount(a.log, accountID).Info().
			Str("client_code", creds.ClientCode).
			Msg("Login successful")
		return tok, nil
	})
}

// login performs one stateless login attempt. The TOTP is generated fresh
// here; only the masked secret is ever logged.
func (a *AngelOne) login(ctx context.Context, creds angelCredentials) (models.AuthToken, angelSession, error) {
	code, err := security.GenerateTOTP(creds.TOTPKey)
	if err != nil {
		return models.AuthToken{}, angelSession{}, fmt.Errorf("generating TOTP: %w", err)
	}

	body := map[string]string{
		"clientcode": creds.ClientCode,
		"password":   creds.Password,
		"totp":       code,
	}

	status, data, err := a.rest.do(ctx, "login", http.MethodPost, a.cfg.AuthPath, angelHeaders(creds.APIKey), body)
	if err != nil {
		return models.AuthToken{}, angelSession{}, err
	}
	if status != http.StatusOK {
		return models.AuthToken{}, angelSession{}, errors.NewProtocolError(angelBrokerID, "login", status, fmt.Errorf("unexpected status"))
	}

	var env angelEnvelope
	if err := a.rest.decode("login", data, &env); err != nil {
		return models.AuthToken{}, angelSession{}, err
	}

	var sess angelSession
	if len(env.Data) > 0 {
		if err := a.rest.decode("login", env.Data, &sess); err != nil {
			return models.AuthToken{}, angelSession{}, err
		}
	}
	if !env.Status || sess.JWTToken == "" {
		return models.AuthToken{}, angelSession{}, fmt.Errorf("login rejected: %s", env.Message)
	}

	tok := models.AuthToken{
		AccessToken:  sess.JWTToken,
		RefreshToken: sess.RefreshToken,
		TokenType:    "Bearer",
		ObtainedAt:   time.Now(),
		ExpiresIn:    angelSessionTTL,
	}
	return tok, sess, nil
}

// PlaceOrder maps the canonical request onto the SmartAPI payload. A
// broker-reported failure comes back as a ValidationError carrying the
// broker's message alongside a REJECTED response.
func (a *AngelOne) PlaceOrder(ctx context.Context, accountID string, req models.OrderRequest) (models.OrderResponse, error) {
	if err := ValidateOrder(req); err != nil {
		return models.OrderResponse{}, err
	}

	tok, err := a.Authenticate(ctx, accountID)
	if err != nil {
		return models.OrderResponse{}, err
	}
	creds, err := a.readCredentials(ctx, accountID)
	if err != nil {
		return models.OrderResponse{}, err
	}

	payload := map[string]interface{}{
		"variety":         "NORMAL",
		"tradingsymbol":   req.Symbol,
		"symboltoken":     req.MetaOr("token", ""),
		"transactiontype": string(req.Side),
		"exchange":        req.MetaOr("exchange", string(models.NSE)),
		"ordertype":       string(req.Type),
		"producttype":     req.MetaOr("productType", "INTRADAY"),
		"duration":        "DAY",
		"squareoff":       "0",
		"stoploss":        "0",
		"quantity":        req.Quantity.String(),
	}
	if req.Price != nil {
		payload["price"] = req.Price.String()
	} else {
		payload["price"] = "0"
	}

	header := angelHeaders(creds.APIKey)
	header.Set("Authorization", "Bearer "+tok.AccessToken)

	status, data, err := a.rest.do(ctx, "placeOrder", http.MethodPost, a.cfg.OrderPath, header, payload)
	if err != nil {
		return models.OrderResponse{}, err
	}

	var env angelEnvelope
	if err := a.rest.decode("placeOrder", data, &env); err != nil {
		return models.OrderResponse{}, err
	}

	if status != http.StatusOK || !env.Status {
		resp := models.OrderResponse{
			Status:  models.OrderStatusRejected,
			Message: env.Message,
			Meta:    map[string]string{"errorcode": env.ErrorCode},
		}
		return resp, errors.NewValidationError(angelBrokerID, "", env.Message)
	}

	var result struct {
		Script  string `json:"script"`
		OrderID string `json:"orderid"`
	}
	if len(env.Data) > 0 {
		if err := a.rest.decode("placeOrder", env.Data, &result); err != nil {
			return models.OrderResponse{}, err
		}
	}

	return models.OrderResponse{
		OrderID: result.OrderID,
		Status:  models.OrderStatusPlaced,
		Message: env.Message,
		Meta:    map[string]string{"script": result.Script},
	}, nil
}

// CancelOrder is not part of the Angel One capability set.
func (a *AngelOne) CancelOrder(ctx context.Context, accountID, brokerOrderID string) error {
	return errors.ErrNotSupported
}

// GetOrderStatus is not part of the Angel One capability set.
func (a *AngelOne) GetOrderStatus(ctx context.Context, accountID, brokerOrderID string) (models.OrderStatus, error) {
	return models.OrderStatus{}, errors.ErrNotSupported
}

type angelPosition struct {
	TradingSymbol string `json:"tradingsymbol"`
	Exchange      string `json:"exchange"`
	ProductType   string `json:"producttype"`
	NetQty        string `json:"netqty"`
	AvgNetPrice   string `json:"avgnetprice"`
	LTP           string `json:"ltp"`
	PnL           string `json:"pnl"`
	BuyQty        string `json:"buyqty"`
	SellQty       string `json:"sellqty"`
}

// GetPositions fetches the netwise position snapshot. Absent numeric
// fields are treated as zero; records that fail to parse are skipped and
// counted, never fatal to the batch.
func (a *AngelOne) GetPositions(ctx context.Context, accountID string) ([]models.Position, error) {
	tok, err := a.Authenticate(ctx, accountID)
	if err != nil {
		return nil, err
	}
	creds, err := a.readCredentials(ctx, accountID)
	if err != nil {
		return nil, err
	}

	header := angelHeaders(creds.APIKey)
	header.Set("Authorization", "Bearer "+tok.AccessToken)

	status, data, err := a.rest.do(ctx, "getPositions", http.MethodGet, a.cfg.PositionsPath, header, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errors.NewProtocolError(angelBrokerID, "getPositions", status, fmt.Errorf("unexpected status"))
	}

	var env angelEnvelope
	if err := a.rest.decode("getPositions", data, &env); err != nil {
		return nil, err
	}

	var rows []angelPosition
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := a.rest.decode("getPositions", env.Data, &rows); err != nil {
			return nil, err
		}
	}

	positions := make([]models.Position, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		netQty, err := decimalOrZero(row.NetQty)
		if err != nil {
			skipped++
			continue
		}
		pos := models.Position{
			Symbol:      row.TradingSymbol,
			Exchange:    row.Exchange,
			ProductType: row.ProductType,
			NetQuantity: netQty,
		}
		pos.AvgPrice, _ = decimalOrZero(row.AvgNetPrice)
		pos.LastTradedPrice, _ = decimalOrZero(row.LTP)
		pos.PnL, _ = decimalOrZero(row.PnL)
		pos.BuyQty, _ = decimalOrZero(row.BuyQty)
		pos.SellQty, _ = decimalOrZero(row.SellQty)
		positions = append(positions, pos)
	}
	if skipped > 0 {
		a.log.Warn().Int("skipped", skipped).Str("account", accountID).Msg("Skipped unparseable position records")
	}

	return positions, nil
}

// decimalOrZero parses a broker-supplied numeric string, treating absence
// as zero.
func decimalOrZero(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func angelInterval(iv models.Interval) string {
	switch iv {
	case models.Interval1m:
		return "ONE_MINUTE"
	case models.Interval5m:
		return "FIVE_MINUTE"
	case models.Interval15m:
		return "FIFTEEN_MINUTE"
	case models.Interval1h:
		return "ONE_HOUR"
	case models.Interval1d:
		return "ONE_DAY"
	default:
		return "FIVE_MINUTE"
	}
}

// GetHistoricalCandles fetches SmartAPI candle data. When the upstream
// returns nothing the series is backfilled with synthetic data, tagged and
// logged; never silently indistinguishable from real data.
func (a *AngelOne) GetHistoricalCandles(ctx context.Context, accountID, symbol string, interval models.Interval, from, to time.Time) (models.CandleSeries, error) {
	if !interval.Valid() {
		return models.CandleSeries{}, errors.NewValidationError(angelBrokerID, "interval", fmt.Sprintf("unsupported interval: %s", interval))
	}

	tok, err := a.Authenticate(ctx, accountID)
	if err != nil {
		return models.CandleSeries{}, err
	}
	creds, err := a.readCredentials(ctx, accountID)
	if err != nil {
		return models.CandleSeries{}, err
	}

	payload := map[string]string{
		"exchange":    string(models.NSE),
		"symboltoken": symbol,
		"interval":    angelInterval(interval),
		"fromdate":    from.Format(angelTimeFormat),
		"todate":      to.Format(angelTimeFormat),
	}

	header := angelHeaders(creds.APIKey)
	header.Set("Authorization", "Bearer "+tok.AccessToken)

	status, data, err := a.rest.do(ctx, "getCandles", http.MethodPost, a.cfg.CandlesPath, header, payload)
	if err != nil {
		return models.CandleSeries{}, err
	}
	if status != http.StatusOK {
		return models.CandleSeries{}, errors.NewProtocolError(angelBrokerID, "getCandles", status, fmt.Errorf("unexpected status"))
	}

	var env angelEnvelope
	if err := a.rest.decode("getCandles", data, &env); err != nil {
		return models.CandleSeries{}, err
	}

	var rows [][]json.RawMessage
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := a.rest.decode("getCandles", env.Data, &rows); err != nil {
			return models.CandleSeries{}, err
		}
	}

	candles := make([]models.Candle, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		c, ok := parseAngelCandle(row)
		if !ok {
			skipped++
			continue
		}
		candles = append(candles, c)
	}
	if skipped > 0 {
		a.log.Warn().Int("skipped", skipped).Str("symbol", symbol).Msg("Skipped unparseable candle rows")
	}

	if len(candles) == 0 {
		a.log.Warn().
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

// parseAngelCandle decodes one [timestamp, o, h, l, c, v] row.
func parseAngelCandle(row []json.RawMessage) (models.Candle, bool) {
	if len(row) < 6 {
		return models.Candle{}, false
	}

	var tsStr string
	if err := json.Unmarshal(row[0], &tsStr); err != nil {
		return models.Candle{}, false
	}
	ts, err := time.Parse(time.RFC3339, tsStr)
	if err != nil {
		return models.Candle{}, false
	}

	nums := make([]float64, 5)
	for i := 0; i < 5; i++ {
		// Absent or null numeric fields count as zero.
		if string(row[i+1]) == "null" {
			continue
		}
		if err := json.Unmarshal(row[i+1], &nums[i]); err != nil {
			return models.Candle{}, false
		}
	}

	return models.Candle{
		Timestamp: ts,
		Open:      nums[0],
		High:      nums[1],
		Low:       nums[2],
		Close:     nums[3],
		Volume:    int64(nums[4]),
	}, true
}

// ValidateCredentials performs one stateless login probe without touching
// the session store.
func (a *AngelOne) ValidateCredentials(ctx context.Context, rawCredentials []byte) error {
	var creds angelCredentials
	if err := json.Unmarshal(rawCredentials, &creds); err != nil {
		return errors.NewValidationError(angelBrokerID, "credentials", "malformed credential JSON")
	}
	if _, _, err := a.login(ctx, creds); err != nil {
		return errors.NewAuthError(angelBrokerID, "", "credential validation failed", err)
	}
	return nil
}

// StreamTicks connects (or reuses) the account's SmartAPI WebSocket feed,
// subscribes the instrument upstream, and returns a hub subscription.
func (a *AngelOne) StreamTicks(ctx context.Context, accountID, instrumentToken string) (*marketdata.Subscription, error) {
	tok, err := a.Authenticate(ctx, accountID)
	if err != nil {
		return nil, err
	}
	creds, err := a.readCredentials(ctx, accountID)
	if err != nil {
		return nil, err
	}

	a.streamMu.Lock()
	stream, ok := a.streams[accountID]
	if !ok || !stream.alive() {
		stream = newAngelStream(a.cfg.WSURL, tok.AccessToken, creds.APIKey, creds.ClientCode, a.hub, a.log)
		if err := stream.connect(ctx); err != nil {
			a.streamMu.Unlock()
			return nil, err
		}
		a.streams[accountID] = stream
	}
	a.streamMu.Unlock()

	if err := stream.subscribe(instrumentToken); err != nil {
		return nil, err
	}
	return a.hub.Subscribe(instrumentToken), nil
}

// Ensure AngelOne implements the broker contract.
var _ Client = (*AngelOne)(nil)
