package strategy

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
	"github.com/bleakplain/etf-arb-tracker/internal/market"
)

func testRegistries(t *testing.T) *Registries {
	t.Helper()
	regs := NewRegistries(zerolog.Nop())
	require.NoError(t, RegisterBuiltins(regs))
	return regs
}

func testDeps() Deps {
	return Deps{Calendar: market.NewCalendar(), Log: zerolog.Nop()}
}

func TestRegisterBuiltinsInventory(t *testing.T) {
	regs := testRegistries(t)

	names := func(entries []Entry) []string {
		out := make([]string, len(entries))
		for i, e := range entries {
			out[i] = e.Name
		}
		return out
	}

	assert.Equal(t, []string{"limit_up_cn", "momentum", "breakout"}, names(regs.Detectors.List()))
	assert.Equal(t, []string{"highest_weight", "best_liquidity"}, names(regs.Selectors.List()))
	assert.Equal(t, []string{"time_filter_cn", "liquidity_filter", "confidence_filter", "risk_filter"},
		names(regs.Filters.List()))
}

func TestValidateDefaultConfig(t *testing.T) {
	assert.Empty(t, Validate(DefaultEngineConfig(), testRegistries(t)))
}

func TestValidateCatalogue(t *testing.T) {
	regs := testRegistries(t)

	tests := []struct {
		name   string
		mutate func(*EngineConfig)
		want   string
	}{
		{"unknown detector", func(c *EngineConfig) { c.EventDetector = "ghost" }, `event_detector "ghost"`},
		{"unknown selector", func(c *EngineConfig) { c.FundSelector = "ghost" }, `fund_selector "ghost"`},
		{"unknown filter", func(c *EngineConfig) { c.SignalFilters = append(c.SignalFilters, "ghost") }, `signal_filter "ghost"`},
		{"duplicate filter", func(c *EngineConfig) { c.SignalFilters = append(c.SignalFilters, "time_filter_cn") }, "listed twice"},
		{"empty filter chain", func(c *EngineConfig) { c.SignalFilters = nil }, "signal_filters is empty"},
		{"negative time floor", func(c *EngineConfig) {
			c.FilterConfigs = map[string]Params{"time_filter_cn": {"min_time_to_close": -1}}
		}, "min_time_to_close"},
		{"negative liquidity floor", func(c *EngineConfig) {
			c.FilterConfigs = map[string]Params{"liquidity_filter": {"min_daily_amount": -1}}
		}, "min_daily_amount"},
		{"weight above one", func(c *EngineConfig) { c.MinWeight = 1.5 }, "min_weight"},
		{"negative weight", func(c *EngineConfig) { c.MinWeight = -0.1 }, "min_weight"},
		{"negative etf volume", func(c *EngineConfig) { c.MinETFVolume = -1 }, "min_etf_volume"},
		{"unknown evaluator", func(c *EngineConfig) { c.Evaluator = "ghost" }, `evaluator "ghost"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultEngineConfig()
			tt.mutate(&cfg)
			errs := Validate(cfg, regs)
			require.NotEmpty(t, errs)
			assert.Contains(t, errors.Join(errs...).Error(), tt.want)
		})
	}
}

func TestValidateCollectsEveryError(t *testing.T) {
	regs := testRegistries(t)

	cfg := DefaultEngineConfig()
	cfg.EventDetector = "ghost"
	cfg.FundSelector = "ghost"
	cfg.MinWeight = 2

	assert.Len(t, Validate(cfg, regs), 3)
}

func TestBuildDefaultPipeline(t *testing.T) {
	p, err := Build(DefaultEngineConfig(), testRegistries(t), testDeps())
	require.NoError(t, err)

	assert.Equal(t, "limit_up_cn", p.Detector.Name())
	assert.Equal(t, "highest_weight", p.Selector.Name())
	require.Len(t, p.Filters, 2)
	assert.Equal(t, "time_filter_cn", p.Filters[0].Name())
	assert.Equal(t, "liquidity_filter", p.Filters[1].Name())
	assert.Equal(t, "default", p.Evaluator.Params().Preset)
	assert.Equal(t, 1e9, p.Evaluator.Params().OrderBase)
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.EventDetector = "ghost"

	_, err := Build(cfg, testRegistries(t), testDeps())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBuildMomentumNeedsHistory(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.EventDetector = "momentum"

	_, err := Build(cfg, testRegistries(t), testDeps())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history provider")
}

func TestBuildSkipOptionalFilters(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.SignalFilters = []string{"time_filter_cn", "liquidity_filter", "confidence_filter", "risk_filter"}
	cfg.SkipOptionalFilters = true

	p, err := Build(cfg, testRegistries(t), testDeps())
	require.NoError(t, err)

	require.Len(t, p.Filters, 2)
	assert.Equal(t, "time_filter_cn", p.Filters[0].Name())
	assert.Equal(t, "liquidity_filter", p.Filters[1].Name())
}

func TestBuildFlowsVolumeFloorIntoLiquidityFilter(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.MinETFVolume = 8e7

	p, err := Build(cfg, testRegistries(t), testDeps())
	require.NoError(t, err)

	pass, _ := p.Filters[1].Filter(domain.LimitUpEvent{}, &domain.CandidateETF{DailyAmount: 7e7}, nil)
	assert.False(t, pass, "the top-level floor must reach the filter")

	// an explicit filter subtree wins over the top-level knob
	cfg.FilterConfigs = map[string]Params{"liquidity_filter": {"min_daily_amount": 3e7}}
	p, err = Build(cfg, testRegistries(t), testDeps())
	require.NoError(t, err)

	pass, _ = p.Filters[1].Filter(domain.LimitUpEvent{}, &domain.CandidateETF{DailyAmount: 7e7}, nil)
	assert.True(t, pass)
}

func TestBuildAppliesTemplate(t *testing.T) {
	tpl, err := TemplateByID("conservative")
	require.NoError(t, err)

	p, err := Build(tpl.Resolve(), testRegistries(t), testDeps())
	require.NoError(t, err)

	assert.Equal(t, "conservative", p.Evaluator.Params().Preset)
	assert.Equal(t, 1.5e9, p.Evaluator.Params().OrderBase)
	assert.Equal(t, 0.15, p.Evaluator.Params().WeightBase)
}

func TestTemplates(t *testing.T) {
	all := Templates()
	require.Len(t, all, 3)

	byID := make(map[string]Template, len(all))
	for _, tpl := range all {
		byID[tpl.ID] = tpl
	}

	assert.Equal(t, 0.08, byID["conservative"].MinWeight)
	assert.Equal(t, 8e7, byID["conservative"].MinETFVolume)
	assert.Equal(t, 0.05, byID["balanced"].MinWeight)
	assert.Equal(t, "default", byID["balanced"].Evaluator)
	assert.Equal(t, 0.03, byID["aggressive"].MinWeight)
	assert.Equal(t, 5e8, byID["aggressive"].MinOrderAmount)

	regs := testRegistries(t)
	for _, tpl := range all {
		assert.Empty(t, Validate(tpl.Resolve(), regs), "template %s must resolve to a valid config", tpl.ID)
	}

	_, err := TemplateByID("ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}
