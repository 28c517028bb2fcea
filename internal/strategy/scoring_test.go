package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
	"github.com/bleakplain/etf-arb-tracker/internal/market"
)

func at(t *testing.T, cal *market.Calendar, date string, hour, minute int) time.Time {
	t.Helper()
	day, err := time.ParseInLocation("2006-01-02", date, cal.Location())
	require.NoError(t, err)
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, cal.Location())
}

func TestDraftLimitUpSignal(t *testing.T) {
	cal := market.NewCalendar()
	ev := NewEvaluator(DefaultEvalParams(), cal)

	ts := at(t, cal, "2025-08-22", 14, 5) // 3300s to the close
	event := domain.LimitUpEvent{
		StockCode:    "600036",
		StockName:    "招商银行",
		Price:        39.16,
		ChangePct:    0.1001,
		LimitTime:    at(t, cal, "2025-08-22", 13, 42),
		SealAmount:   1.98e9,
		OpenCount:    0,
		IsFirstLimit: true,
		Timestamp:    ts,
	}
	fund := &domain.CandidateETF{
		ETFCode:     "512800",
		ETFName:     "银行ETF",
		Weight:      0.085,
		Rank:        1,
		DailyAmount: 6.2e8,
		Top10Ratio:  0.55,
	}

	sig := ev.Draft(event, fund, "highest weight 8.50%")

	assert.InDelta(t, 0.8466667, sig.ConfidenceScore, 1e-6)
	assert.Equal(t, domain.ConfidenceHigh, sig.ConfidenceLevel)
	assert.Equal(t, domain.RiskMedium, sig.RiskLevel)

	assert.Equal(t, "SIG_20250822140500_600036", sig.UID)
	assert.Equal(t, domain.EventLimitUp, sig.EventType)
	assert.Equal(t, "600036", sig.StockCode)
	assert.Equal(t, 39.16, sig.StockPrice)
	assert.Equal(t, "512800", sig.ETFCode)
	assert.Contains(t, sig.Reason, "weight 8.50%")

	require.Len(t, sig.Breakdown, 4)
	assert.InDelta(t, 1.0, sig.Breakdown["order"], 1e-9)
	assert.InDelta(t, 0.85, sig.Breakdown["weight"], 1e-9)
	assert.InDelta(t, 1.0, sig.Breakdown["liquidity"], 1e-9)
	assert.InDelta(t, 3300.0/7200, sig.Breakdown["time"], 1e-9)
}

func TestDraftMomentumScoresZeroOrderFactor(t *testing.T) {
	cal := market.NewCalendar()
	ev := NewEvaluator(DefaultEvalParams(), cal)

	ts := at(t, cal, "2025-08-22", 10, 0) // 18000s to the close, time factor saturates
	event := domain.MomentumEvent{
		StockCode: "000858",
		StockName: "五粮液",
		Price:     152.3,
		ChangePct: 0.06,
		ROC:       0.08,
		RSI:       75,
		Timestamp: ts,
	}
	fund := &domain.CandidateETF{ETFCode: "512690", Weight: 0.12, DailyAmount: 2.5e8, Top10Ratio: 0.5}

	sig := ev.Draft(event, fund, "highest weight 12.00%")

	assert.Zero(t, sig.Breakdown["order"])
	assert.InDelta(t, 0.30*0+0.30*1+0.20*0.5+0.20*1, sig.ConfidenceScore, 1e-9)
	assert.Equal(t, domain.ConfidenceMedium, sig.ConfidenceLevel)
	assert.Equal(t, domain.RiskMedium, sig.RiskLevel, "no seal time means no low-risk upgrade")
}

func TestConfidenceLevelCutoffs(t *testing.T) {
	ev := NewEvaluator(DefaultEvalParams(), market.NewCalendar())

	tests := []struct {
		score float64
		want  domain.ConfidenceLevel
	}{
		{0.70, domain.ConfidenceHigh},
		{0.699, domain.ConfidenceMedium},
		{0.40, domain.ConfidenceMedium},
		{0.399, domain.ConfidenceLow},
		{0, domain.ConfidenceLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ev.level(tt.score), "score %v", tt.score)
	}
}

func TestRiskClassification(t *testing.T) {
	cal := market.NewCalendar()
	ev := NewEvaluator(DefaultEvalParams(), cal)

	morningSeal := at(t, cal, "2025-08-22", 9, 40)
	afternoonSeal := at(t, cal, "2025-08-22", 13, 30)

	tests := []struct {
		name           string
		secondsToClose float64
		top10          float64
		openCount      int
		firstLimit     time.Time
		want           domain.RiskLevel
	}{
		{"close too near", 599, 0.5, 0, morningSeal, domain.RiskHigh},
		{"close boundary stays medium", 600, 0.5, 0, afternoonSeal, domain.RiskMedium},
		{"concentrated holdings", 3000, 0.71, 0, morningSeal, domain.RiskHigh},
		{"seal keeps breaking", 3000, 0.5, 3, morningSeal, domain.RiskHigh},
		{"high trumps low", 18000, 0.71, 0, morningSeal, domain.RiskHigh},
		{"morning seal with long runway", 3601, 0.5, 0, morningSeal, domain.RiskLow},
		{"runway boundary stays medium", 3600, 0.5, 0, morningSeal, domain.RiskMedium},
		{"afternoon seal stays medium", 3601, 0.5, 0, afternoonSeal, domain.RiskMedium},
		{"no seal time stays medium", 3601, 0.5, 0, time.Time{}, domain.RiskMedium},
		{"two reopens still medium", 2000, 0.5, 2, afternoonSeal, domain.RiskMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ev.risk(tt.secondsToClose, tt.top10, tt.openCount, tt.firstLimit)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalPresets(t *testing.T) {
	def, err := EvalPreset("")
	require.NoError(t, err)
	assert.Equal(t, DefaultEvalParams(), def)

	cons, err := EvalPreset("conservative")
	require.NoError(t, err)
	assert.Equal(t, 0.15, cons.WeightBase)
	assert.Equal(t, float64(1800), cons.RiskHighTime)
	assert.Equal(t, float64(7200), cons.RiskLowTime)
	assert.Equal(t, 0.60, cons.RiskTop10Ratio)

	agg, err := EvalPreset("aggressive")
	require.NoError(t, err)
	assert.Equal(t, 0.08, agg.WeightBase)
	assert.Equal(t, float64(300), agg.RiskHighTime)
	assert.Equal(t, float64(1800), agg.RiskLowTime)
	assert.Equal(t, 0.80, agg.RiskTop10Ratio)

	_, err = EvalPreset("ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEvalPresetChangesScore(t *testing.T) {
	cal := market.NewCalendar()
	event := domain.LimitUpEvent{
		StockCode: "600036", Price: 39.16, ChangePct: 0.1001,
		SealAmount: 1.98e9, Timestamp: at(t, cal, "2025-08-22", 14, 5),
	}
	fund := &domain.CandidateETF{ETFCode: "512800", Weight: 0.085, DailyAmount: 6.2e8, Top10Ratio: 0.55}

	params, err := EvalPreset("conservative")
	require.NoError(t, err)
	sig := NewEvaluator(params, cal).Draft(event, fund, "r")

	// 8.5% weight against the 15% base scores lower than the default tuning
	assert.InDelta(t, 0.085/0.15, sig.Breakdown["weight"], 1e-9)
	assert.Less(t, sig.ConfidenceScore, 0.8466667)
}
