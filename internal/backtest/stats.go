package backtest

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
)

// topCount is how many leading stocks/ETFs the statistics report.
const topCount = 5

// CodeCount pairs a security code with an occurrence count.
type CodeCount struct {
	Code  string `json:"code"`
	Count int    `json:"count"`
}

// Statistics summarizes the signals of one run.
type Statistics struct {
	TotalSignals          int            `json:"total_signals"`
	HighConfidenceCount   int            `json:"high_confidence_count"`
	MediumConfidenceCount int            `json:"medium_confidence_count"`
	LowConfidenceCount    int            `json:"low_confidence_count"`
	HighRiskCount         int            `json:"high_risk_count"`
	MediumRiskCount       int            `json:"medium_risk_count"`
	LowRiskCount          int            `json:"low_risk_count"`
	ScoreMean             float64        `json:"score_mean"`
	ScoreStd              float64        `json:"score_std"`
	ScoreMin              float64        `json:"score_min"`
	ScoreMax              float64        `json:"score_max"`
	AverageSignalsPerDay  float64        `json:"average_signals_per_day"`
	SignalsByDate         map[string]int `json:"signals_by_date"`
	MostTriggeredStocks   []CodeCount    `json:"most_triggered_stocks"`
	MostUsedETFs          []CodeCount    `json:"most_used_etfs"`
	MaxSignalsDate        string         `json:"max_signals_date,omitempty"`
	MaxSignalsCount       int            `json:"max_signals_count"`
	TradingDates          int            `json:"trading_dates"`
}

// ComputeStatistics aggregates the signal set. datesTotal is the number
// of trading dates the run covered; the per-day average follows the
// days that actually produced signals.
func ComputeStatistics(signals []domain.TradingSignal, datesTotal int) Statistics {
	stats := Statistics{
		TotalSignals:  len(signals),
		SignalsByDate: make(map[string]int),
		TradingDates:  datesTotal,
	}

	byStock := make(map[string]int)
	byETF := make(map[string]int)
	scores := make([]float64, 0, len(signals))

	for _, s := range signals {
		switch s.ConfidenceLevel {
		case domain.ConfidenceHigh:
			stats.HighConfidenceCount++
		case domain.ConfidenceMedium:
			stats.MediumConfidenceCount++
		case domain.ConfidenceLow:
			stats.LowConfidenceCount++
		}
		switch s.RiskLevel {
		case domain.RiskHigh:
			stats.HighRiskCount++
		case domain.RiskMedium:
			stats.MediumRiskCount++
		case domain.RiskLow:
			stats.LowRiskCount++
		}

		stats.SignalsByDate[s.Timestamp.Format("2006-01-02")]++
		byStock[s.StockCode]++
		byETF[s.ETFCode]++
		scores = append(scores, s.ConfidenceScore)
	}

	if len(scores) > 0 {
		stats.ScoreMean = stat.Mean(scores, nil)
		stats.ScoreMin = floats.Min(scores)
		stats.ScoreMax = floats.Max(scores)
	}
	if len(scores) > 1 {
		stats.ScoreStd = stat.StdDev(scores, nil)
	}

	if days := len(stats.SignalsByDate); days > 0 {
		stats.AverageSignalsPerDay = float64(stats.TotalSignals) / float64(days)
	}

	for date, count := range stats.SignalsByDate {
		if count > stats.MaxSignalsCount || (count == stats.MaxSignalsCount && date < stats.MaxSignalsDate) {
			stats.MaxSignalsDate = date
			stats.MaxSignalsCount = count
		}
	}

	stats.MostTriggeredStocks = topCounts(byStock, topCount)
	stats.MostUsedETFs = topCounts(byETF, topCount)
	return stats
}

// topCounts returns the n highest counts, ties broken by code so the
// output is stable.
func topCounts(counts map[string]int, n int) []CodeCount {
	out := make([]CodeCount, 0, len(counts))
	for code, count := range counts {
		out = append(out, CodeCount{Code: code, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Code < out[j].Code
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
