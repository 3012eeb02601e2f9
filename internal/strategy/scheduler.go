// Package strategy provides the closed set of trading strategy templates
// and the scheduler that runs them periodically against live accounts.
package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tradegate/internal/broker"
	"tradegate/internal/logging"
	"tradegate/internal/models"
)

// Definition describes one schedulable strategy instance.
type Definition struct {
	ID         string
	Name       string
	TemplateID string
	BrokerID   string
	AccountID  string
	Interval   models.Interval
	Params     json.RawMessage
}

// SchedulerConfig controls the shared execution cadence. The period is
// fixed across strategies, not per-strategy.
type SchedulerConfig struct {
	Period    time.Duration
	StopGrace time.Duration
}

// DefaultSchedulerConfig runs every strategy once per minute and allows
// five seconds for an in-flight execution to drain on stop.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Period:    time.Minute,
		StopGrace: 5 * time.Second,
	}
}

// Scheduler runs one independent periodic task per active strategy. Each
// execution resolves the adapter, fetches a candle window, evaluates the
// template, and places an order when the signal is actionable. Execution
// failures are logged and never stop the periodic task.
type Scheduler struct {
	registry *broker.Registry
	cfg      SchedulerConfig
	log      zerolog.Logger

	mu      sync.Mutex
	running map[string]*runner
}

type runner struct {
	def    Definition
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler over the given adapter registry.
func NewScheduler(registry *broker.Registry, cfg SchedulerConfig, log zerolog.Logger) *Scheduler {
	if cfg.Period <= 0 {
		cfg.Period = time.Minute
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 5 * time.Second
	}
	return &Scheduler{
		registry: registry,
		cfg:      cfg,
		log:      log.With().Str("component", "scheduler").Logger(),
		running:  make(map[string]*runner),
	}
}

// Start activates the strategy's periodic task. Starting an already-active
// strategy is a no-op.
func (s *Scheduler) Start(def Definition) error {
	if def.ID == "" {
		return fmt.Errorf("strategy id is required")
	}
	if !def.Interval.Valid() {
		def.Interval = models.Interval5m
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.running[def.ID]; ok {
		s.log.Warn().Str("strategy", def.ID).Msg("Strategy already running")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &runner{def: def, cancel: cancel, done: make(chan struct{})}
	s.running[def.ID] = r

	s.log.Info().
		Str("strategy", def.ID).
		Str("template", def.TemplateID).
		Str("broker", def.BrokerID).
		Msg("Starting strategy")

	go s.loop(ctx, r)
	return nil
}

// Stop cancels the strategy's periodic task and waits up to the grace
// period for an in-flight execution to finish. Stopping an inactive
// strategy is a no-op.
func (s *Scheduler) Stop(strategyID string) {
	s.mu.Lock()
	r, ok := s.running[strategyID]
	if ok {
		delete(s.running, strategyID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.log.Info().Str("strategy", strategyID).Msg("Stopping strategy")
	r.cancel()

	select {
	case <-r.done:
	case <-time.After(s.cfg.StopGrace):
		s.log.Warn().Str("strategy", strategyID).Msg("Strategy did not stop within grace period")
	}
}

// StopAll stops every active strategy.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Stop(id)
	}
}

// Active reports whether the strategy's task is running.
func (s *Scheduler) Active(strategyID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[strategyID]
	return ok
}

// ActiveCount returns the number of running strategy tasks.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

func (s *Scheduler) loop(ctx context.Context, r *runner) {
	defer close(r.done)

	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()

	s.executeOnce(ctx, r.def)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.executeOnce(ctx, r.def)
		}
	}
}

// executeOnce runs one evaluation cycle. Errors degrade this cycle only.
func (s *Scheduler) executeOnce(ctx context.Context, def Definition) {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Period)
	defer cancel()

	if err := s.evaluate(runCtx, def); err != nil {
		logging.WithStrategy(s.log, def.ID).Error().
			Err(err).
			Str("template", def.TemplateID).
			Msg("Strategy execution failed")
	}
}

func (s *Scheduler) evaluate(ctx context.Context, def Definition) error {
	client, err := s.registry.Get(def.BrokerID)
	if err != nil {
		return err
	}

	params, err := ParseParams(def.Params)
	if err != nil {
		return err
	}
	if params.Symbol == "" {
		return fmt.Errorf("strategy %s has no symbol configured", def.ID)
	}

	log := logging.WithSymbol(logging.WithStrategy(s.log, def.ID), params.Symbol)

	// A window of 100 candles covers every template's longest warm-up
	// with headroom.
	now := time.Now()
	from := now.Add(-100 * def.Interval.Duration())
	series, err := client.GetHistoricalCandles(ctx, def.AccountID, params.Symbol, def.Interval, from, now)
	if err != nil {
		return err
	}
	if series.Synthetic {
		// Synthetic data is chart-only; never trade on it.
		log.Warn().Msg("Skipping evaluation on synthetic candle data")
		return nil
	}

	signal, err := Evaluate(def.TemplateID, series.Candles, params)
	if err != nil {
		return err
	}
	if !signal.Actionable() {
		return nil
	}

	log.Info().
		Str("action", string(signal.Action)).
		Str("price", signal.Price.String()).
		Msg("Signal generated")

	price := signal.Price
	req := models.OrderRequest{
		ClientOrderID: fmt.Sprintf("%s-%d", def.ID, now.Unix()),
		Symbol:        params.Symbol,
		Side:          models.OrderSide(signal.Action),
		Quantity:      signal.Quantity,
		Price:         &price,
		Type:          models.OrderTypeLimit,
		TimeInForce:   models.TimeInForceIOC,
		Meta: map[string]string{
			"stopLoss": signal.StopLoss.String(),
			"target":   signal.Target.String(),
		},
	}

	resp, err := client.PlaceOrder(ctx, def.AccountID, req)
	if err != nil {
		return err
	}

	logging.LogOrder(log, resp.OrderID, params.Symbol, string(signal.Action), resp.Status)
	return nil
}
