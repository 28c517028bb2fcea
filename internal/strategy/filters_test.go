package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
	"github.com/bleakplain/etf-arb-tracker/internal/market"
)

func TestTimeFilterRejectsNearClose(t *testing.T) {
	cal := market.NewCalendar()
	f := NewTimeFilter(cal, 1800)

	event := domain.LimitUpEvent{Timestamp: at(t, cal, "2025-08-22", 14, 45)}
	pass, note := f.Filter(event, nil, nil)
	assert.False(t, pass)
	assert.Equal(t, "time to close 900s < 1800s", note)
}

func TestTimeFilterBoundaryPasses(t *testing.T) {
	cal := market.NewCalendar()
	f := NewTimeFilter(cal, 1800)

	// 14:30 leaves exactly the floor
	pass, note := f.Filter(domain.LimitUpEvent{Timestamp: at(t, cal, "2025-08-22", 14, 30)}, nil, nil)
	assert.True(t, pass)
	assert.Empty(t, note)
}

func TestTimeFilterMorningPasses(t *testing.T) {
	cal := market.NewCalendar()
	f := NewTimeFilter(cal, 1800)

	pass, note := f.Filter(domain.LimitUpEvent{Timestamp: at(t, cal, "2025-08-22", 10, 0)}, nil, nil)
	assert.True(t, pass)
	assert.Empty(t, note)
}

func TestTimeFilterPassesOutsideTradingHours(t *testing.T) {
	cal := market.NewCalendar()
	f := NewTimeFilter(cal, 1800)

	tests := []struct {
		name string
		ts   string
		hour int
	}{
		{"weekend", "2025-08-23", 10},
		{"lunch break", "2025-08-22", 12},
		{"after close", "2025-08-22", 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pass, note := f.Filter(domain.LimitUpEvent{Timestamp: at(t, cal, tt.ts, tt.hour, 0)}, nil, nil)
			assert.True(t, pass)
			assert.Empty(t, note)
		})
	}
}

func TestLiquidityFilter(t *testing.T) {
	f := NewLiquidityFilter(5e7)

	pass, note := f.Filter(domain.LimitUpEvent{}, &domain.CandidateETF{DailyAmount: 4.9e7}, nil)
	assert.False(t, pass)
	assert.Equal(t, "daily amount 49000000 < 50000000", note)

	// the floor itself passes
	pass, note = f.Filter(domain.LimitUpEvent{}, &domain.CandidateETF{DailyAmount: 5e7}, nil)
	assert.True(t, pass)
	assert.Empty(t, note)
}

func TestConfidenceFilter(t *testing.T) {
	f := NewConfidenceFilter(0.40)

	pass, note := f.Filter(domain.LimitUpEvent{}, nil, &domain.TradingSignal{ConfidenceScore: 0.39})
	assert.False(t, pass)
	assert.Equal(t, "confidence 0.39 < 0.40", note)

	pass, note = f.Filter(domain.LimitUpEvent{}, nil, &domain.TradingSignal{ConfidenceScore: 0.40})
	assert.True(t, pass)
	assert.Empty(t, note)
}

func TestRiskFilter(t *testing.T) {
	f := NewRiskFilter()

	pass, note := f.Filter(domain.LimitUpEvent{}, nil, &domain.TradingSignal{RiskLevel: domain.RiskHigh})
	assert.False(t, pass)
	assert.Equal(t, "risk level high", note)

	for _, lvl := range []domain.RiskLevel{domain.RiskMedium, domain.RiskLow} {
		pass, note = f.Filter(domain.LimitUpEvent{}, nil, &domain.TradingSignal{RiskLevel: lvl})
		assert.True(t, pass, "risk %s", lvl)
		assert.Empty(t, note)
	}
}

func TestFilterRequiredFlags(t *testing.T) {
	cal := market.NewCalendar()
	assert.True(t, NewTimeFilter(cal, 1800).Required())
	assert.True(t, NewLiquidityFilter(5e7).Required())
	assert.False(t, NewConfidenceFilter(0.40).Required())
	assert.False(t, NewRiskFilter().Required())
}
