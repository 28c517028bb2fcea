package strategy

import (
	"fmt"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
	"github.com/bleakplain/etf-arb-tracker/internal/market"
)

// TimeFilter rejects signals drafted too close to the 15:00 close.
// A position opened minutes before the close cannot be exited the same
// day. Outside trading hours the filter passes, so historical replays
// are judged by the bar clock alone.
type TimeFilter struct {
	minTimeToClose float64
	calendar       *market.Calendar
}

// NewTimeFilter creates the session-time filter. minTimeToClose is in
// seconds.
func NewTimeFilter(calendar *market.Calendar, minTimeToClose float64) *TimeFilter {
	return &TimeFilter{minTimeToClose: minTimeToClose, calendar: calendar}
}

func (f *TimeFilter) Name() string { return "time_filter_cn" }

func (f *TimeFilter) Filter(event domain.MarketEvent, _ *domain.CandidateETF, _ *domain.TradingSignal) (bool, string) {
	ts := event.Time()
	if !f.calendar.IsTradingTime(ts) {
		return true, ""
	}
	secondsToClose := f.calendar.SecondsToClose(ts)
	if secondsToClose < f.minTimeToClose {
		return false, fmt.Sprintf("time to close %.0fs < %.0fs", secondsToClose, f.minTimeToClose)
	}
	return true, ""
}

func (f *TimeFilter) Required() bool { return true }

// LiquidityFilter rejects signals whose ETF turns over too little cash
// per day to absorb an entry
type LiquidityFilter struct {
	minDailyAmount float64
}

// NewLiquidityFilter creates the turnover filter. minDailyAmount is in
// CNY.
func NewLiquidityFilter(minDailyAmount float64) *LiquidityFilter {
	return &LiquidityFilter{minDailyAmount: minDailyAmount}
}

func (f *LiquidityFilter) Name() string { return "liquidity_filter" }

func (f *LiquidityFilter) Filter(_ domain.MarketEvent, fund *domain.CandidateETF, _ *domain.TradingSignal) (bool, string) {
	if fund.DailyAmount < f.minDailyAmount {
		return false, fmt.Sprintf("daily amount %.0f < %.0f", fund.DailyAmount, f.minDailyAmount)
	}
	return true, ""
}

func (f *LiquidityFilter) Required() bool { return true }

// ConfidenceFilter rejects signals scoring under a confidence floor
type ConfidenceFilter struct {
	minConfidence float64
}

// NewConfidenceFilter creates the confidence floor filter
func NewConfidenceFilter(minConfidence float64) *ConfidenceFilter {
	return &ConfidenceFilter{minConfidence: minConfidence}
}

func (f *ConfidenceFilter) Name() string { return "confidence_filter" }

func (f *ConfidenceFilter) Filter(_ domain.MarketEvent, _ *domain.CandidateETF, draft *domain.TradingSignal) (bool, string) {
	if draft.ConfidenceScore < f.minConfidence {
		return false, fmt.Sprintf("confidence %.2f < %.2f", draft.ConfidenceScore, f.minConfidence)
	}
	return true, ""
}

func (f *ConfidenceFilter) Required() bool { return false }

// RiskFilter rejects signals the evaluator classified as high risk
type RiskFilter struct{}

// NewRiskFilter creates the risk level filter
func NewRiskFilter() *RiskFilter { return &RiskFilter{} }

func (f *RiskFilter) Name() string { return "risk_filter" }

func (f *RiskFilter) Filter(_ domain.MarketEvent, _ *domain.CandidateETF, draft *domain.TradingSignal) (bool, string) {
	if draft.RiskLevel == domain.RiskHigh {
		return false, "risk level high"
	}
	return true, ""
}

func (f *RiskFilter) Required() bool { return false }
