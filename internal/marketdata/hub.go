// Package marketdata provides the in-process tick hub: adapters publish
// ticks by instrument token and any number of consumers subscribe to a
// lazily created, multicast, bounded-buffer stream per token.
package marketdata

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tradegate/internal/models"
)

// HubConfig holds configuration for the hub.
type HubConfig struct {
	// SubscriberBuffer is the size of each subscriber's channel buffer.
	SubscriberBuffer int
	// MaxDrops is how many consecutive ticks a slow subscriber may miss
	// before it is disconnected.
	MaxDrops int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SubscriberBuffer: 100,
		MaxDrops:         10,
	}
}

// Hub fans ticks out to subscribers keyed by instrument token. Publishing
// is non-blocking: with no subscribers a tick is dropped; a slow subscriber
// is eventually disconnected rather than blocking the producer. The hub
// never stores ticks.
type Hub struct {
	config HubConfig
	log    zerolog.Logger

	mu     sync.RWMutex
	topics map[string]*topic

	ticksPublished uint64
	ticksDelivered uint64
	ticksDropped   uint64
}

type topic struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscription is one subscriber's view of a token stream. C delivers
// ticks until Cancel is called or the hub disconnects the subscriber for
// falling behind; either way C is closed.
type Subscription struct {
	Token string
	C     <-chan models.Tick

	hub       *Hub
	ch        chan models.Tick
	drops     int
	createdAt time.Time
	closed    bool
}

// NewHub creates a hub with default configuration.
func NewHub(log zerolog.Logger) *Hub {
	return NewHubWithConfig(DefaultHubConfig(), log)
}

// NewHubWithConfig creates a hub with custom configuration.
func NewHubWithConfig(config HubConfig, log zerolog.Logger) *Hub {
	if config.SubscriberBuffer <= 0 {
		config.SubscriberBuffer = DefaultHubConfig().SubscriberBuffer
	}
	if config.MaxDrops <= 0 {
		config.MaxDrops = DefaultHubConfig().MaxDrops
	}
	return &Hub{
		config: config,
		log:    log,
		topics: make(map[string]*topic),
	}
}

// getTopic returns the channel registry entry for a token, creating it
// exactly once even under a race between first publisher and first
// subscriber.
func (h *Hub) getTopic(token string) *topic {
	h.mu.RLock()
	t, ok := h.topics[token]
	h.mu.RUnlock()
	if ok {
		return t
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok = h.topics[token]; ok {
		return t
	}
	t = &topic{subs: make(map[*Subscription]struct{})}
	h.topics[token] = t
	return t
}

// Subscribe registers a subscriber for an instrument token. There is no
// replay of history; a re-subscribe starts a fresh stream.
func (h *Hub) Subscribe(token string) *Subscription {
	ch := make(chan models.Tick, h.config.SubscriberBuffer)
	sub := &Subscription{
		Token:     token,
		C:         ch,
		hub:       h,
		ch:        ch,
		createdAt: time.Now(),
	}

	// The insert re-validates the topic entry under h.mu: a concurrent
	// last-subscriber removal may have dropped the topic between lookup
	// and insert, in which case a fresh entry is created.
	for {
		t := h.getTopic(token)
		h.mu.RLock()
		if h.topics[token] != t {
			h.mu.RUnlock()
			continue
		}
		t.mu.Lock()
		t.subs[sub] = struct{}{}
		t.mu.Unlock()
		h.mu.RUnlock()
		return sub
	}
}

// dropIfEmpty removes the topic entry once its subscriber set is empty, so
// the token map does not grow without bound. The pointer check guards
// against deleting a newer entry for the same token.
func (h *Hub) dropIfEmpty(token string, t *topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.topics[token]; !ok || cur != t {
		return
	}
	t.mu.Lock()
	empty := len(t.subs) == 0
	t.mu.Unlock()
	if empty {
		delete(h.topics, token)
	}
}

// Cancel unregisters the subscriber and closes its channel. It does not
// affect the producer or other subscribers. Safe to call more than once.
// The last subscriber leaving drops the topic entry.
func (s *Subscription) Cancel() {
	h := s.hub
	h.mu.RLock()
	t, ok := h.topics[s.Token]
	h.mu.RUnlock()
	if !ok {
		return
	}

	t.mu.Lock()
	s.removeLocked(t)
	t.mu.Unlock()

	h.dropIfEmpty(s.Token, t)
}

// removeLocked detaches the subscription; t.mu must be held.
func (s *Subscription) removeLocked(t *topic) {
	if s.closed {
		return
	}
	s.closed = true
	delete(t.subs, s)
	close(s.ch)
}

// Publish delivers a tick to all current subscribers of its token.
// Non-blocking: full subscriber buffers count as drops, and with no
// subscribers at all the tick is discarded without error.
func (h *Hub) Publish(token string, tick models.Tick) {
	atomic.AddUint64(&h.ticksPublished, 1)

	h.mu.RLock()
	t, ok := h.topics[token]
	h.mu.RUnlock()
	if !ok {
		atomic.AddUint64(&h.ticksDropped, 1)
		return
	}

	t.mu.Lock()

	if len(t.subs) == 0 {
		t.mu.Unlock()
		atomic.AddUint64(&h.ticksDropped, 1)
		return
	}

	var slow []*Subscription
	for sub := range t.subs {
		select {
		case sub.ch <- tick:
			sub.drops = 0
			atomic.AddUint64(&h.ticksDelivered, 1)
		default:
			sub.drops++
			atomic.AddUint64(&h.ticksDropped, 1)
			if sub.drops >= h.config.MaxDrops {
				slow = append(slow, sub)
			}
		}
	}

	for _, sub := range slow {
		h.log.Warn().
			Str("token", token).
			Int("drops", sub.drops).
			Msg("Disconnecting slow subscriber")
		sub.removeLocked(t)
	}
	evictedAll := len(slow) > 0 && len(t.subs) == 0
	t.mu.Unlock()

	if evictedAll {
		h.dropIfEmpty(token, t)
	}
}

// SubscriberCount returns the number of subscribers for a token.
func (h *Hub) SubscriberCount(token string) int {
	h.mu.RLock()
	t, ok := h.topics[token]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Tokens returns all tokens with a channel entry.
func (h *Hub) Tokens() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.topics))
	for token := range h.topics {
		out = append(out, token)
	}
	return out
}

// HubMetrics contains hub counters.
type HubMetrics struct {
	TicksPublished uint64
	TicksDelivered uint64
	TicksDropped   uint64
}

// Metrics returns a snapshot of the hub counters.
func (h *Hub) Metrics() HubMetrics {
	return HubMetrics{
		TicksPublished: atomic.LoadUint64(&h.ticksPublished),
		TicksDelivered: atomic.LoadUint64(&h.ticksDelivered),
		TicksDropped:   atomic.LoadUint64(&h.ticksDropped),
	}
}
