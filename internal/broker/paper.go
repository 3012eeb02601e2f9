package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradegate/internal/errors"
	"tradegate/internal/logging"
	"tradegate/internal/marketdata"
	"tradegate/internal/models"
)

const paperBrokerID = "paper"

// Paper is an in-memory simulated broker. Orders fill immediately at the
// limit price (or the synthetic last price for market orders) and update a
// netwise position book. It exists for offline strategy runs and tests;
// no network calls are made.
type Paper struct {
	hub *marketdata.Hub
	log zerolog.Logger

	mu        sync.Mutex
	orderSeq  atomic.Int64
	orders    map[string]models.OrderStatus          // orderID -> status
	positions map[string]map[string]*models.Position // accountID -> symbol -> position
	streams   map[string]context.CancelFunc          // instrument token -> tick generator stop
}

// NewPaper creates the simulated broker.
func NewPaper(hub *marketdata.Hub, log zerolog.Logger) *Paper {
	return &Paper{
		hub:       hub,
		log:       logging.WithBroker(log, paperBrokerID),
		orders:    make(map[string]models.OrderStatus),
		positions: make(map[string]map[string]*models.Position),
		streams:   make(map[string]context.CancelFunc),
	}
}

func (p *Paper) BrokerID() string { return paperBrokerID }

func (p *Paper) Capabilities() models.CapabilitySet {
	return models.NewCapabilitySet(
		models.CapabilityPlaceOrder,
		models.CapabilityCancelOrder,
		models.CapabilityGetPositions,
		models.CapabilityHistoricalData,
		models.CapabilityMarketDataStream,
	)
}

// Authenticate always succeeds with a synthetic session token.
func (p *Paper) Authenticate(ctx context.Context, accountID string) (models.AuthToken, error) {
	return models.AuthToken{
		AccessToken: fmt.Sprintf("paper-%s-%d", accountID, time.Now().Unix()),
		TokenType:   "Bearer",
		ObtainedAt:  time.Now(),
		ExpiresIn:   24 * time.Hour,
	}, nil
}

// fillPrice is the simulated execution price: the limit price when given,
// otherwise the last synthetic close for the symbol.
func (p *Paper) fillPrice(req models.OrderRequest) decimal.Decimal {
	if req.Price != nil {
		return *req.Price
	}
	now := time.Now()
	candles := syntheticCandles(req.Symbol, models.Interval1m, now.Add(-time.Minute), now)
	if len(candles) == 0 {
		return decimal.NewFromInt(100)
	}
	return decimal.NewFromFloat(candles[len(candles)-1].Close)
}

// PlaceOrder fills immediately and updates the account's position book.
func (p *Paper) PlaceOrder(ctx context.Context, accountID string, req models.OrderRequest) (models.OrderResponse, error) {
	if err := ValidateOrder(req); err != nil {
		return models.OrderResponse{}, err
	}

	price := p.fillPrice(req)
	orderID := fmt.Sprintf("P%06d", p.orderSeq.Add(1))

	p.mu.Lock()
	defer p.mu.Unlock()

	p.orders[orderID] = models.OrderStatus{
		OrderID:      orderID,
		Status:       "FILLED",
		FilledQty:    req.Quantity,
		AvgFillPrice: price,
	}

	book, ok := p.positions[accountID]
	if !ok {
		book = make(map[string]*models.Position)
		p.positions[accountID] = book
	}
	pos, ok := book[req.Symbol]
	if !ok {
		pos = &models.Position{
			Symbol:      req.Symbol,
			Exchange:    string(models.NSE),
			ProductType: req.MetaOr("productType", "INTRADAY"),
		}
		book[req.Symbol] = pos
	}
	if req.Side == models.OrderSideBuy {
		pos.NetQuantity = pos.NetQuantity.Add(req.Quantity)
		pos.BuyQty = pos.BuyQty.Add(req.Quantity)
	} else {
		pos.NetQuantity = pos.NetQuantity.Sub(req.Quantity)
		pos.SellQty = pos.SellQty.Add(req.Quantity)
	}
	pos.AvgPrice = price
	pos.LastTradedPrice = price

	p.log.Info().
		Str("account", accountID).
		Str("symbol", req.Symbol).
		Str("order_id", orderID).
		Str("price", price.String()).
		Msg("Simulated fill")

	return models.OrderResponse{
		OrderID: orderID,
		Status:  models.OrderStatusPlaced,
		Message: "simulated fill",
	}, nil
}

// CancelOrder succeeds only for known, unfilled orders; simulated fills are
// immediate, so in practice this reports the order as already filled.
func (p *Paper) CancelOrder(ctx context.Context, accountID, brokerOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.orders[brokerOrderID]
	if !ok {
		return errors.NewValidationError(paperBrokerID, "orderId", "unknown order: "+brokerOrderID)
	}
	if st.Status == "FILLED" {
		return errors.NewValidationError(paperBrokerID, "orderId", "order already filled")
	}
	st.Status = "CANCELLED"
	p.orders[brokerOrderID] = st
	return nil
}

func (p *Paper) GetOrderStatus(ctx context.Context, accountID, brokerOrderID string) (models.OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.orders[brokerOrderID]
	if !ok {
		return models.OrderStatus{}, errors.NewValidationError(paperBrokerID, "orderId", "unknown order: "+brokerOrderID)
	}
	return st, nil
}

// GetPositions returns the account's open positions; flat symbols are
// dropped.
func (p *Paper) GetPositions(ctx context.Context, accountID string) ([]models.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	book := p.positions[accountID]
	positions := make([]models.Position, 0, len(book))
	for _, pos := range book {
		if pos.NetQuantity.IsZero() {
			continue
		}
		positions = append(positions, *pos)
	}
	return positions, nil
}

// GetHistoricalCandles always serves a synthetic series; there is no
// upstream.
func (p *Paper) GetHistoricalCandles(ctx context.Context, accountID, symbol string, interval models.Interval, from, to time.Time) (models.CandleSeries, error) {
	if !interval.Valid() {
		return models.CandleSeries{}, errors.NewValidationError(paperBrokerID, "interval", fmt.Sprintf("unsupported interval: %s", interval))
	}
	return models.CandleSeries{
		Candles:   syntheticCandles(symbol, interval, from, to),
		Synthetic: true,
	}, nil
}

// ValidateCredentials accepts any well-formed JSON object.
func (p *Paper) ValidateCredentials(ctx context.Context, rawCredentials []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(rawCredentials, &m); err != nil {
		return errors.NewValidationError(paperBrokerID, "credentials", "malformed credential JSON")
	}
	return nil
}

// StreamTicks starts a synthetic tick generator for the instrument and
// returns a hub subscription. One generator per instrument, shared across
// subscribers.
func (p *Paper) StreamTicks(ctx context.Context, accountID, instrumentToken string) (*marketdata.Subscription, error) {
	p.mu.Lock()
	if _, ok := p.streams[instrumentToken]; !ok {
		genCtx, cancel := context.WithCancel(context.Background())
		p.streams[instrumentToken] = cancel
		go p.generateTicks(genCtx, instrumentToken)
	}
	p.mu.Unlock()

	return p.hub.Subscribe(instrumentToken), nil
}

func (p *Paper) generateTicks(ctx context.Context, instrumentToken string) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			candles := syntheticCandles(instrumentToken, models.Interval1m, now.Add(-time.Minute), now)
			if len(candles) == 0 {
				continue
			}
			last := candles[len(candles)-1].Close
			p.hub.Publish(instrumentToken, models.Tick{
				InstrumentToken: instrumentToken,
				LastPrice:       last,
				Bid:             last - 0.05,
				Ask:             last + 0.05,
				Volume:          candles[len(candles)-1].Volume,
				Timestamp:       now,
			})
		}
	}
}

// Close stops all synthetic tick generators.
func (p *Paper) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for token, cancel := range p.streams {
		cancel()
		delete(p.streams, token)
	}
}

var _ Client = (*Paper)(nil)
