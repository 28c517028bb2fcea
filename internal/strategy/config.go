package strategy

import (
	"errors"
	"fmt"
)

// EngineConfig names the strategy chain and carries each plugin's
// config subtree. Validate before use; the engine refuses to build on
// a failing config.
type EngineConfig struct {
	EventDetector string            `json:"event_detector"`
	FundSelector  string            `json:"fund_selector"`
	SignalFilters []string          `json:"signal_filters"`
	EventConfig   Params            `json:"event_config,omitempty"`
	FundConfig    Params            `json:"fund_config,omitempty"`
	FilterConfigs map[string]Params `json:"filter_configs,omitempty"`

	MinWeight      float64 `json:"min_weight"`
	MinETFVolume   float64 `json:"min_etf_volume"`
	MinOrderAmount float64 `json:"min_order_amount,omitempty"`
	Evaluator      string  `json:"evaluator,omitempty"`

	SkipOptionalFilters bool `json:"skip_optional_filters,omitempty"`
}

// DefaultEngineConfig returns the canonical A-share limit-up chain
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		EventDetector:  "limit_up_cn",
		FundSelector:   "highest_weight",
		SignalFilters:  []string{"time_filter_cn", "liquidity_filter"},
		MinWeight:      0.05,
		MinETFVolume:   5e7,
		MinOrderAmount: 1e9,
		Evaluator:      "default",
	}
}

// ValidateChain reports every plugin name in cfg that does not resolve
// against the registries
func (r *Registries) ValidateChain(cfg EngineConfig) []error {
	var errs []error
	if !r.Detectors.Has(cfg.EventDetector) {
		errs = append(errs, fmt.Errorf("%w: event_detector %q", ErrNotFound, cfg.EventDetector))
	}
	if !r.Selectors.Has(cfg.FundSelector) {
		errs = append(errs, fmt.Errorf("%w: fund_selector %q", ErrNotFound, cfg.FundSelector))
	}
	for _, name := range cfg.SignalFilters {
		if !r.Filters.Has(name) {
			errs = append(errs, fmt.Errorf("%w: signal_filter %q", ErrNotFound, name))
		}
	}
	return errs
}

// Validate checks cfg against the registries and its own numeric
// ranges. A non-empty return means the engine must not start.
func Validate(cfg EngineConfig, regs *Registries) []error {
	errs := regs.ValidateChain(cfg)

	if len(cfg.SignalFilters) == 0 {
		errs = append(errs, errors.New("signal_filters is empty; the scan would accept every event"))
	}
	seen := make(map[string]struct{}, len(cfg.SignalFilters))
	for _, name := range cfg.SignalFilters {
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("signal_filter %q listed twice", name))
		}
		seen[name] = struct{}{}
	}

	if cfg.MinWeight < 0 || cfg.MinWeight > 1 {
		errs = append(errs, fmt.Errorf("min_weight %v outside [0,1]", cfg.MinWeight))
	}
	if cfg.MinETFVolume < 0 {
		errs = append(errs, fmt.Errorf("min_etf_volume %v is negative", cfg.MinETFVolume))
	}
	if v := cfg.FilterConfigs["time_filter_cn"].Float("min_time_to_close", 0); v < 0 {
		errs = append(errs, fmt.Errorf("min_time_to_close %v is negative", v))
	}
	if v := cfg.FilterConfigs["liquidity_filter"].Float("min_daily_amount", 0); v < 0 {
		errs = append(errs, fmt.Errorf("min_daily_amount %v is negative", v))
	}
	if _, err := EvalPreset(cfg.Evaluator); err != nil {
		errs = append(errs, err)
	}
	return errs
}

// Build validates cfg, resolves every named plugin, and constructs the
// pipeline instances
func Build(cfg EngineConfig, regs *Registries, deps Deps) (*Pipeline, error) {
	if errs := Validate(cfg, regs); len(errs) > 0 {
		return nil, fmt.Errorf("engine config invalid: %w", errors.Join(errs...))
	}

	detectorFactory, err := regs.Detectors.Lookup(cfg.EventDetector)
	if err != nil {
		return nil, err
	}
	detector, err := detectorFactory(deps, cfg.EventConfig)
	if err != nil {
		return nil, fmt.Errorf("build event_detector %q: %w", cfg.EventDetector, err)
	}

	selectorFactory, err := regs.Selectors.Lookup(cfg.FundSelector)
	if err != nil {
		return nil, err
	}
	selector, err := selectorFactory(deps, cfg.FundConfig)
	if err != nil {
		return nil, fmt.Errorf("build fund_selector %q: %w", cfg.FundSelector, err)
	}

	filters := make([]SignalFilter, 0, len(cfg.SignalFilters))
	for _, name := range cfg.SignalFilters {
		factory, err := regs.Filters.Lookup(name)
		if err != nil {
			return nil, err
		}
		f, err := factory(deps, cfg.filterParams(name))
		if err != nil {
			return nil, fmt.Errorf("build signal_filter %q: %w", name, err)
		}
		if cfg.SkipOptionalFilters && !f.Required() {
			continue
		}
		filters = append(filters, f)
	}

	params, err := EvalPreset(cfg.Evaluator)
	if err != nil {
		return nil, err
	}
	if cfg.MinOrderAmount > 0 {
		params.OrderBase = cfg.MinOrderAmount
	}

	return &Pipeline{
		Detector:  detector,
		Selector:  selector,
		Filters:   filters,
		Evaluator: NewEvaluator(params, deps.Calendar),
	}, nil
}

// filterParams returns the config subtree for a filter. The top-level
// min_etf_volume knob feeds the liquidity filter unless its subtree
// sets min_daily_amount explicitly.
func (c EngineConfig) filterParams(name string) Params {
	p := c.FilterConfigs[name]
	if name != "liquidity_filter" || c.MinETFVolume <= 0 {
		return p
	}
	if _, explicit := p["min_daily_amount"]; explicit {
		return p
	}
	merged := Params{"min_daily_amount": c.MinETFVolume}
	for k, v := range p {
		merged[k] = v
	}
	return merged
}

// Template is a presentational preset resolved to a full engine config
type Template struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	MinWeight      float64 `json:"min_weight"`
	MinETFVolume   float64 `json:"min_etf_volume"`
	MinOrderAmount float64 `json:"min_order_amount"`
	Evaluator      string  `json:"evaluator"`
}

// Templates returns the built-in strategy presets
func Templates() []Template {
	return []Template{
		{
			ID:             "conservative",
			Name:           "Conservative",
			Description:    "Stricter screening, fewer but higher-quality signals",
			MinWeight:      0.08,
			MinETFVolume:   8e7,
			MinOrderAmount: 1.5e9,
			Evaluator:      "conservative",
		},
		{
			ID:             "balanced",
			Name:           "Balanced",
			Description:    "Recommended; balances signal count and quality",
			MinWeight:      0.05,
			MinETFVolume:   5e7,
			MinOrderAmount: 1e9,
			Evaluator:      "default",
		},
		{
			ID:             "aggressive",
			Name:           "Aggressive",
			Description:    "More signals, may include lower-quality opportunities",
			MinWeight:      0.03,
			MinETFVolume:   3e7,
			MinOrderAmount: 5e8,
			Evaluator:      "aggressive",
		},
	}
}

// TemplateByID resolves a template name
func TemplateByID(id string) (Template, error) {
	for _, t := range Templates() {
		if t.ID == id {
			return t, nil
		}
	}
	return Template{}, fmt.Errorf("%w: template %q", ErrNotFound, id)
}

// Resolve expands the template into a full engine config
func (t Template) Resolve() EngineConfig {
	cfg := DefaultEngineConfig()
	cfg.MinWeight = t.MinWeight
	cfg.MinETFVolume = t.MinETFVolume
	cfg.MinOrderAmount = t.MinOrderAmount
	cfg.Evaluator = t.Evaluator
	return cfg
}
