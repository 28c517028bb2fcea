package strategy

import "errors"

// RegisterBuiltins installs the stock detectors, selectors, and filters
// every deployment starts from. Call once at startup, before Build.
func RegisterBuiltins(regs *Registries) error {
	detectors := []struct {
		name    string
		meta    Metadata
		factory DetectorFactory
	}{
		{
			name: "limit_up_cn",
			meta: Metadata{Priority: 100, Description: "A-share limit-up seal detector", Version: "1.0.0"},
			factory: func(deps Deps, params Params) (EventDetector, error) {
				if deps.Calendar == nil {
					return nil, errors.New("limit_up_cn requires a market calendar")
				}
				return NewLimitUpDetector(deps.Calendar, params.Float("min_change_pct", 0)), nil
			},
		},
		{
			name: "momentum",
			meta: Metadata{Priority: 50, Description: "ROC and RSI momentum breakout detector", Version: "1.0.0"},
			factory: func(deps Deps, params Params) (EventDetector, error) {
				if deps.History == nil {
					return nil, errors.New("momentum requires a history provider")
				}
				return NewMomentumDetector(
					deps.History,
					params.Int("roc_period", 10),
					params.Int("rsi_period", 14),
					params.Float("min_roc", 0.05),
					params.Float("min_rsi", 70),
					deps.Log,
				), nil
			},
		},
		{
			name: "breakout",
			meta: Metadata{Priority: 40, Description: "Rolling-high price breakout detector", Version: "1.0.0"},
			factory: func(deps Deps, params Params) (EventDetector, error) {
				if deps.History == nil {
					return nil, errors.New("breakout requires a history provider")
				}
				return NewBreakoutDetector(deps.History, params.Int("lookback", 20), deps.Log), nil
			},
		},
	}
	for _, d := range detectors {
		if err := regs.Detectors.Register(d.name, d.factory, d.meta); err != nil {
			return err
		}
	}

	selectors := []struct {
		name    string
		meta    Metadata
		factory SelectorFactory
	}{
		{
			name: "highest_weight",
			meta: Metadata{Priority: 100, Description: "Picks the ETF holding the stock at the highest weight", Version: "1.0.0"},
			factory: func(Deps, Params) (FundSelector, error) {
				return &HighestWeightSelector{}, nil
			},
		},
		{
			name: "best_liquidity",
			meta: Metadata{Priority: 80, Description: "Picks the ETF with the highest daily turnover", Version: "1.0.0"},
			factory: func(Deps, Params) (FundSelector, error) {
				return &BestLiquiditySelector{}, nil
			},
		},
	}
	for _, s := range selectors {
		if err := regs.Selectors.Register(s.name, s.factory, s.meta); err != nil {
			return err
		}
	}

	filters := []struct {
		name    string
		meta    Metadata
		factory FilterFactory
	}{
		{
			name: "time_filter_cn",
			meta: Metadata{Priority: 100, Description: "Rejects signals too close to the A-share close", Version: "1.0.0"},
			factory: func(deps Deps, params Params) (SignalFilter, error) {
				if deps.Calendar == nil {
					return nil, errors.New("time_filter_cn requires a market calendar")
				}
				return NewTimeFilter(deps.Calendar, params.Float("min_time_to_close", 1800)), nil
			},
		},
		{
			name: "liquidity_filter",
			meta: Metadata{Priority: 90, Description: "Rejects ETFs below the daily turnover floor", Version: "1.0.0"},
			factory: func(deps Deps, params Params) (SignalFilter, error) {
				return NewLiquidityFilter(params.Float("min_daily_amount", 5e7)), nil
			},
		},
		{
			name: "confidence_filter",
			meta: Metadata{Priority: 80, Description: "Rejects signals scoring below the confidence floor", Version: "1.0.0"},
			factory: func(deps Deps, params Params) (SignalFilter, error) {
				return NewConfidenceFilter(params.Float("min_confidence", 0.40)), nil
			},
		},
		{
			name: "risk_filter",
			meta: Metadata{Priority: 70, Description: "Rejects signals the evaluator marked high risk", Version: "1.0.0"},
			factory: func(deps Deps, params Params) (SignalFilter, error) {
				return NewRiskFilter(), nil
			},
		},
	}
	for _, f := range filters {
		if err := regs.Filters.Register(f.name, f.factory, f.meta); err != nil {
			return err
		}
	}

	return nil
}
