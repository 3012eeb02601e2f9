package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tradegate/internal/errors"
	"tradegate/internal/marketdata"
	"tradegate/internal/models"
	"tradegate/pkg/utils"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 30 * time.Second
	wsPingInterval = 10 * time.Second
)

// angelStream is one account's SmartAPI WebSocket feed. It owns the read
// loop, re-subscribes after reconnect, and publishes every parsed tick to
// the shared hub.
type angelStream struct {
	url          string
	authToken    string
	apiKey       string
	clientCode   string
	hub          *marketdata.Hub
	log          zerolog.Logger
	pingInterval time.Duration
	retry        utils.RetryConfig

	mu      sync.Mutex
	writeMu sync.Mutex // serializes websocket writes
	conn    *websocket.Conn
	subs    map[string]struct{} // subscribed instrument tokens
	closed  bool
}

func newAngelStream(url, authToken, apiKey, clientCode string, hub *marketdata.Hub, log zerolog.Logger) *angelStream {
	return &angelStream{
		url:          url,
		authToken:    authToken,
		apiKey:       apiKey,
		clientCode:   clientCode,
		hub:          hub,
		log:          log.With().Str("component", "angel_ws").Logger(),
		pingInterval: wsPingInterval,
		retry: utils.RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 2 * time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
		subs: make(map[string]struct{}),
	}
}

func (s *angelStream) alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && !s.closed
}

// connect dials the feed and starts the read and keepalive loops. Both
// loops are bound to the connection they were started for and exit once it
// is replaced.
func (s *angelStream) connect(ctx context.Context) error {
	header := map[string][]string{
		"Authorization": {"Bearer " + s.authToken},
		"x-api-key":     {s.apiKey},
		"x-client-code": {s.clientCode},
		"x-feed-token":  {s.authToken},
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, header)
	if err != nil {
		return err
	}
	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	s.mu.Lock()
	s.conn = conn
	s.closed = false
	s.mu.Unlock()

	go s.readLoop(conn)
	go s.pingLoop(conn)

	s.log.Info().Str("url", s.url).Msg("Market data feed connected")
	return nil
}

// stale reports whether conn has been replaced or the stream closed.
func (s *angelStream) stale(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != conn || s.closed
}

// subscribe registers the instrument upstream. Duplicate subscriptions are
// collapsed; the token set is replayed on reconnect.
func (s *angelStream) subscribe(instrumentToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.conn == nil {
		return errors.ErrStreamClosed
	}
	if _, ok := s.subs[instrumentToken]; ok {
		return nil
	}
	if err := s.writeSubscribeLocked([]string{instrumentToken}); err != nil {
		return err
	}
	s.subs[instrumentToken] = struct{}{}
	return nil
}

func (s *angelStream) writeSubscribeLocked(tokens []string) error {
	msg := map[string]interface{}{
		"correlationID": "tradegate",
		"action":        1, // subscribe
		"params": map[string]interface{}{
			"mode": 2, // quote
			"tokenList": []map[string]interface{}{
				{"exchangeType": 1, "tokens": tokens},
			},
		},
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(msg)
}

// writePing sends one keepalive frame under the write mutex.
func (s *angelStream) writePing(conn *websocket.Conn) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.PingMessage, []byte("ping"))
}

// angelTick is the quote frame the feed pushes per instrument.
type angelTick struct {
	Token     string  `json:"token"`
	LTP       float64 `json:"last_traded_price"`
	BestBid   float64 `json:"best_bid_price"`
	BestAsk   float64 `json:"best_ask_price"`
	Volume    int64   `json:"volume_traded"`
	Timestamp int64   `json:"exchange_timestamp"` // epoch millis
}

func (s *angelStream) readLoop(conn *websocket.Conn) {
	for {
		if s.stale(conn) {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.stale(conn) {
				return
			}
			s.log.Warn().Err(err).Msg("Feed read failed; reconnecting")
			s.reconnect()
			return
		}

		var tick angelTick
		if err := json.Unmarshal(data, &tick); err != nil || tick.Token == "" {
			// Heartbeats and control frames are not quote payloads.
			continue
		}

		s.hub.Publish(tick.Token, models.Tick{
			InstrumentToken: tick.Token,
			LastPrice:       tick.LTP,
			Bid:             tick.BestBid,
			Ask:             tick.BestAsk,
			Volume:          tick.Volume,
			Timestamp:       time.UnixMilli(tick.Timestamp),
		})
	}
}

func (s *angelStream) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		if s.stale(conn) {
			return
		}
		if err := s.writePing(conn); err != nil {
			return
		}
	}
}

// reconnect redials with backoff and replays the subscription set.
func (s *angelStream) reconnect() {
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.closed {
		s.mu.Unlock()
		return
	}
	tokens := make([]string, 0, len(s.subs))
	for t := range s.subs {
		tokens = append(tokens, t)
	}
	s.mu.Unlock()

	err := utils.Retry(context.Background(), s.retry, func() error {
		return s.connect(context.Background())
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Feed reconnect exhausted; marking stream dead")
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(tokens) > 0 && s.conn != nil {
		if err := s.writeSubscribeLocked(tokens); err != nil {
			s.log.Warn().Err(err).Msg("Re-subscribe after reconnect failed")
		}
	}
}

func (s *angelStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
