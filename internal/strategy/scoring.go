package strategy

import (
	"fmt"
	"time"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
	"github.com/bleakplain/etf-arb-tracker/internal/market"
)

// Confidence scoring defaults. The four factor weights sum to 1; each
// factor saturates at its base value.
const (
	defaultWeightOrder     = 0.30 // Seal strength: buy queue pinned at the ceiling
	defaultWeightWeight    = 0.30 // Holding weight of the stock inside the ETF
	defaultWeightLiquidity = 0.20 // ETF daily cash turnover
	defaultWeightTime      = 0.20 // Remaining session time

	defaultWeightBase    = 0.10     // 10% holding weight scores a full factor
	defaultOrderBase     = 1e9      // 1B CNY seal
	defaultLiquidityBase = 5e8      // 500M CNY turnover
	defaultTimeBase      = 2 * 3600 // Two hours to the close

	defaultCutoffHigh   = 0.70
	defaultCutoffMedium = 0.40

	defaultRiskHighTime    = 600  // Seconds to close under this is high risk
	defaultRiskLowTime     = 3600 // Seconds to close over this may be low risk
	defaultRiskTop10Ratio  = 0.70 // Holdings concentration over this is high risk
	defaultRiskMorningHour = 10   // First seal before this hour marks a strong board
)

// EvalParams tunes the signal evaluator. Start from DefaultEvalParams
// or a preset; the zero value is unusable.
type EvalParams struct {
	Preset string `json:"preset"`

	WeightOrder     float64 `json:"weight_order"`
	WeightWeight    float64 `json:"weight_weight"`
	WeightLiquidity float64 `json:"weight_liquidity"`
	WeightTime      float64 `json:"weight_time"`

	WeightBase    float64 `json:"weight_base"`
	OrderBase     float64 `json:"order_base"`
	LiquidityBase float64 `json:"liquidity_base"`
	TimeBase      float64 `json:"time_base"`

	CutoffHigh   float64 `json:"cutoff_high"`
	CutoffMedium float64 `json:"cutoff_medium"`

	RiskHighTime    float64 `json:"risk_high_time_seconds"`
	RiskLowTime     float64 `json:"risk_low_time_seconds"`
	RiskTop10Ratio  float64 `json:"risk_top10_ratio_high"`
	RiskMorningHour int     `json:"risk_morning_hour"`
}

// DefaultEvalParams returns the canonical tuning
func DefaultEvalParams() EvalParams {
	return EvalParams{
		Preset:          "default",
		WeightOrder:     defaultWeightOrder,
		WeightWeight:    defaultWeightWeight,
		WeightLiquidity: defaultWeightLiquidity,
		WeightTime:      defaultWeightTime,
		WeightBase:      defaultWeightBase,
		OrderBase:       defaultOrderBase,
		LiquidityBase:   defaultLiquidityBase,
		TimeBase:        defaultTimeBase,
		CutoffHigh:      defaultCutoffHigh,
		CutoffMedium:    defaultCutoffMedium,
		RiskHighTime:    defaultRiskHighTime,
		RiskLowTime:     defaultRiskLowTime,
		RiskTop10Ratio:  defaultRiskTop10Ratio,
		RiskMorningHour: defaultRiskMorningHour,
	}
}

// EvalPreset resolves a named tuning. Conservative tightens the risk
// windows and the concentration cap; aggressive loosens them.
func EvalPreset(name string) (EvalParams, error) {
	p := DefaultEvalParams()
	switch name {
	case "", "default":
		return p, nil
	case "conservative":
		p.Preset = "conservative"
		p.WeightBase = 0.15
		p.RiskHighTime = 1800
		p.RiskLowTime = 7200
		p.RiskTop10Ratio = 0.60
		return p, nil
	case "aggressive":
		p.Preset = "aggressive"
		p.WeightBase = 0.08
		p.RiskHighTime = 300
		p.RiskLowTime = 1800
		p.RiskTop10Ratio = 0.80
		return p, nil
	default:
		return EvalParams{}, fmt.Errorf("%w: evaluator %q", ErrNotFound, name)
	}
}

// EvalPresetList enumerates the built-in evaluator tunings for the
// plugin inventory endpoint
func EvalPresetList() []Entry {
	return []Entry{
		{Name: "default", Metadata: Metadata{Priority: 100, Description: "Weighted multi-factor confidence scoring", Version: "1.0.0"}},
		{Name: "conservative", Metadata: Metadata{Priority: 90, Description: "Tight risk windows, lower concentration cap", Version: "1.0.0"}},
		{Name: "aggressive", Metadata: Metadata{Priority: 80, Description: "Loose risk windows for faster entries", Version: "1.0.0"}},
	}
}

// Evaluator drafts signals: it computes the confidence score and level,
// the risk level, and the per-factor breakdown. Time factors derive
// from the event timestamp, never the wall clock, so backtests replay
// identically.
type Evaluator struct {
	params   EvalParams
	calendar *market.Calendar
}

// NewEvaluator creates an evaluator with the given tuning
func NewEvaluator(params EvalParams, calendar *market.Calendar) *Evaluator {
	return &Evaluator{params: params, calendar: calendar}
}

// Params returns the evaluator's tuning
func (ev *Evaluator) Params() EvalParams {
	return ev.params
}

// Draft builds the unsaved signal for a detected event and the selected
// fund. The repository assigns the id on insert.
func (ev *Evaluator) Draft(event domain.MarketEvent, fund *domain.CandidateETF, reason string) *domain.TradingSignal {
	p := ev.params
	ts := event.Time()
	code, name := event.Stock()
	price, seal, openCount, firstLimit := eventFacts(event)

	secondsToClose := ev.calendar.SecondsToClose(ts)

	sOrder := clamp01(seal / p.OrderBase)
	sWeight := clamp01(fund.Weight / p.WeightBase)
	sLiquidity := clamp01(fund.DailyAmount / p.LiquidityBase)
	sTime := clamp01(secondsToClose / p.TimeBase)

	score := p.WeightOrder*sOrder +
		p.WeightWeight*sWeight +
		p.WeightLiquidity*sLiquidity +
		p.WeightTime*sTime

	return &domain.TradingSignal{
		UID:             signalUID(ts, code),
		Timestamp:       ts,
		StockCode:       code,
		StockName:       name,
		StockPrice:      price,
		ETFCode:         fund.ETFCode,
		ETFName:         fund.ETFName,
		Weight:          fund.Weight,
		EventType:       event.Type(),
		ConfidenceLevel: ev.level(score),
		ConfidenceScore: score,
		RiskLevel:       ev.risk(secondsToClose, fund.Top10Ratio, openCount, firstLimit),
		Reason:          reason,
		Breakdown: map[string]float64{
			"order":     sOrder,
			"weight":    sWeight,
			"liquidity": sLiquidity,
			"time":      sTime,
		},
	}
}

func (ev *Evaluator) level(score float64) domain.ConfidenceLevel {
	switch {
	case score >= ev.params.CutoffHigh:
		return domain.ConfidenceHigh
	case score >= ev.params.CutoffMedium:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

// risk classifies execution risk. High trumps low; a morning first seal
// only upgrades to low when the remaining session is long enough.
func (ev *Evaluator) risk(secondsToClose, top10Ratio float64, openCount int, firstLimit time.Time) domain.RiskLevel {
	p := ev.params
	if secondsToClose < p.RiskHighTime || top10Ratio > p.RiskTop10Ratio || openCount > 2 {
		return domain.RiskHigh
	}
	if secondsToClose > p.RiskLowTime && !firstLimit.IsZero() &&
		firstLimit.In(ev.calendar.Location()).Hour() < p.RiskMorningHour {
		return domain.RiskLow
	}
	return domain.RiskMedium
}

// eventFacts extracts the per-variant fields the evaluator scores on.
// Events without a seal concept score zero on the order factor.
func eventFacts(event domain.MarketEvent) (price, seal float64, openCount int, firstLimit time.Time) {
	switch e := event.(type) {
	case domain.LimitUpEvent:
		return e.Price, e.SealAmount, e.OpenCount, e.LimitTime
	case domain.MomentumEvent:
		return e.Price, 0, 0, time.Time{}
	case domain.BreakoutEvent:
		return e.Price, 0, 0, time.Time{}
	default:
		return 0, 0, 0, time.Time{}
	}
}

// signalUID builds a deterministic signal identifier from the event
// timestamp, so backtest reruns reproduce byte-identical output
func signalUID(ts time.Time, stockCode string) string {
	return "SIG_" + ts.Format("20060102150405") + "_" + stockCode
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
