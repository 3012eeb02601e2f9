package strategy

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"tradegate/internal/errors"
	"tradegate/internal/indicators"
	"tradegate/internal/models"
)

// Action is the outcome of one template evaluation.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Signal is the result of evaluating a template over a candle window. A
// HOLD signal carries no prices.
type Signal struct {
	Action   Action
	Price    decimal.Decimal
	Quantity decimal.Decimal
	StopLoss decimal.Decimal
	Target   decimal.Decimal
}

// Hold is the no-trade signal.
var Hold = Signal{Action: ActionHold}

// Actionable reports whether the signal should produce an order.
func (s Signal) Actionable() bool {
	return s.Action != ActionHold
}

// Template IDs form a closed set; unknown IDs fail evaluation.
const (
	TemplateSMACrossover = "sma_crossover"
	TemplateRSIReversal  = "rsi_reversal"
	TemplateBreakout     = "breakout"
	TemplateOpeningRange = "opening_range"
)

// TemplateIDs lists the supported template identifiers.
func TemplateIDs() []string {
	return []string{TemplateSMACrossover, TemplateRSIReversal, TemplateBreakout, TemplateOpeningRange}
}

// Params carries the union of template parameters, decoded from a
// strategy's stored JSON. Zero values fall back to per-template defaults.
type Params struct {
	Symbol      string  `json:"symbol"`
	Quantity    int64   `json:"quantity"`
	FastSMA     int     `json:"fastSMA"`
	SlowSMA     int     `json:"slowSMA"`
	RSIPeriod   int     `json:"rsiPeriod"`
	Oversold    float64 `json:"oversold"`
	Overbought  float64 `json:"overbought"`
	Lookback    int     `json:"lookback"`
	RangeBars   int     `json:"rangeBars"`
	StopLossPct float64 `json:"stopLoss"`
	TargetPct   float64 `json:"target"`
}

// ParseParams decodes the stored parameter JSON.
func ParseParams(raw json.RawMessage) (Params, error) {
	var p Params
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return Params{}, errors.Wrap(err, "parsing strategy params")
	}
	return p, nil
}

func (p Params) quantity() decimal.Decimal {
	if p.Quantity <= 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(p.Quantity)
}

func (p Params) stopLossPct() float64 {
	if p.StopLossPct <= 0 {
		return 2.0
	}
	return p.StopLossPct
}

func (p Params) targetPct() float64 {
	if p.TargetPct <= 0 {
		return 4.0
	}
	return p.TargetPct
}

// Evaluate dispatches to the template's pure evaluation function. The
// candle window must be ascending by timestamp.
func Evaluate(templateID string, candles []models.Candle, p Params) (Signal, error) {
	switch templateID {
	case TemplateSMACrossover:
		return EvaluateSMACrossover(candles, p), nil
	case TemplateRSIReversal:
		return EvaluateRSIReversal(candles, p), nil
	case TemplateBreakout:
		return EvaluateBreakout(candles, p), nil
	case TemplateOpeningRange:
		return EvaluateOpeningRange(candles, p), nil
	default:
		return Hold, fmt.Errorf("unknown strategy template: %s", templateID)
	}
}

// entrySignal builds an actionable signal with percentage stop/target
// bracketing the entry price.
func entrySignal(action Action, price float64, p Params) Signal {
	entry := decimal.NewFromFloat(price)
	slFactor := 1 - p.stopLossPct()/100
	tgtFactor := 1 + p.targetPct()/100
	if action == ActionSell {
		slFactor = 1 + p.stopLossPct()/100
		tgtFactor = 1 - p.targetPct()/100
	}
	return Signal{
		Action:   action,
		Price:    entry,
		Quantity: p.quantity(),
		StopLoss: entry.Mul(decimal.NewFromFloat(slFactor)).Round(2),
		Target:   entry.Mul(decimal.NewFromFloat(tgtFactor)).Round(2),
	}
}

// EvaluateSMACrossover signals BUY on a bullish fast/slow SMA crossover at
// the latest candle and SELL on a bearish one.
func EvaluateSMACrossover(candles []models.Candle, p Params) Signal {
	fast, slow := p.FastSMA, p.SlowSMA
	if fast <= 0 {
		fast = 9
	}
	if slow <= 0 {
		slow = 21
	}
	if fast >= slow || len(candles) < slow+1 {
		return Hold
	}

	fastSMA, err := indicators.NewSMA(fast).Calculate(candles)
	if err != nil {
		return Hold
	}
	slowSMA, err := indicators.NewSMA(slow).Calculate(candles)
	if err != nil {
		return Hold
	}

	last := len(candles) - 1
	prev := last - 1
	if indicators.IsWarmup(fastSMA[last]) || indicators.IsWarmup(slowSMA[last]) ||
		indicators.IsWarmup(fastSMA[prev]) || indicators.IsWarmup(slowSMA[prev]) {
		return Hold
	}

	bullish := fastSMA[prev] < slowSMA[prev] && fastSMA[last] > slowSMA[last]
	bearish := fastSMA[prev] > slowSMA[prev] && fastSMA[last] < slowSMA[last]

	switch {
	case bullish:
		return entrySignal(ActionBuy, candles[last].Close, p)
	case bearish:
		return entrySignal(ActionSell, candles[last].Close, p)
	}
	return Hold
}

// EvaluateRSIReversal signals BUY when RSI crosses up out of oversold
// territory and SELL when it crosses down out of overbought.
func EvaluateRSIReversal(candles []models.Candle, p Params) Signal {
	period := p.RSIPeriod
	if period <= 0 {
		period = 14
	}
	oversold := p.Oversold
	if oversold <= 0 {
		oversold = 30
	}
	overbought := p.Overbought
	if overbought <= 0 {
		overbought = 70
	}
	if len(candles) < period+2 {
		return Hold
	}

	rsi, err := indicators.NewRSI(period).Calculate(candles)
	if err != nil {
		return Hold
	}

	last := len(candles) - 1
	prev := last - 1
	if indicators.IsWarmup(rsi[last]) || indicators.IsWarmup(rsi[prev]) {
		return Hold
	}

	switch {
	case rsi[prev] < oversold && rsi[last] >= oversold:
		return entrySignal(ActionBuy, candles[last].Close, p)
	case rsi[prev] > overbought && rsi[last] <= overbought:
		return entrySignal(ActionSell, candles[last].Close, p)
	}
	return Hold
}

// EvaluateBreakout signals BUY when the latest close breaks above the
// highest high of the lookback window on above-average volume, SELL on a
// break below the lowest low.
func EvaluateBreakout(candles []models.Candle, p Params) Signal {
	lookback := p.Lookback
	if lookback <= 0 {
		lookback = 20
	}
	if len(candles) < lookback+1 {
		return Hold
	}

	last := len(candles) - 1
	window := candles[last-lookback : last]

	highestHigh := window[0].High
	lowestLow := window[0].Low
	var totalVolume int64
	for _, c := range window {
		if c.High > highestHigh {
			highestHigh = c.High
		}
		if c.Low < lowestLow {
			lowestLow = c.Low
		}
		totalVolume += c.Volume
	}
	avgVolume := float64(totalVolume) / float64(lookback)
	volumeConfirm := float64(candles[last].Volume) > avgVolume

	switch {
	case candles[last].Close > highestHigh && volumeConfirm:
		return entrySignal(ActionBuy, candles[last].Close, p)
	case candles[last].Close < lowestLow && volumeConfirm:
		return entrySignal(ActionSell, candles[last].Close, p)
	}
	return Hold
}

// EvaluateOpeningRange signals on a break of the range set by the first
// rangeBars candles of the window: BUY above the range high, SELL below
// the range low. No signal while price stays inside the range.
func EvaluateOpeningRange(candles []models.Candle, p Params) Signal {
	rangeBars := p.RangeBars
	if rangeBars <= 0 {
		rangeBars = 3
	}
	if len(candles) <= rangeBars {
		return Hold
	}

	rangeHigh := candles[0].High
	rangeLow := candles[0].Low
	for _, c := range candles[1:rangeBars] {
		if c.High > rangeHigh {
			rangeHigh = c.High
		}
		if c.Low < rangeLow {
			rangeLow = c.Low
		}
	}

	last := len(candles) - 1
	switch {
	case candles[last].Close > rangeHigh:
		return entrySignal(ActionBuy, candles[last].Close, p)
	case candles[last].Close < rangeLow:
		return entrySignal(ActionSell, candles[last].Close, p)
	}
	return Hold
}
