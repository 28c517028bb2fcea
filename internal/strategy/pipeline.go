// Package strategy implements the pluggable signal pipeline: event
// detectors fire on quotes, fund selectors pick the ETF vehicle, and
// signal filters accept or reject the drafted signal. Implementations
// register by name; the engine resolves them through the registries.
package strategy

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
	"github.com/bleakplain/etf-arb-tracker/internal/market"
)

// EventDetector inspects a quote and reports a market event worth
// routing through the pipeline. A nil event with a nil error means
// nothing fired.
type EventDetector interface {
	Name() string
	Detect(ctx context.Context, quote *domain.Quote) (domain.MarketEvent, error)
	IsValid(event domain.MarketEvent) bool
}

// FundSelector picks the trading vehicle among eligible candidates.
// Candidates arrive already filtered by the weight floor; an empty
// slice yields nil, never an error.
type FundSelector interface {
	Name() string
	Select(eligible []domain.CandidateETF, event domain.MarketEvent) *domain.CandidateETF
	SelectionReason(fund *domain.CandidateETF) string
}

// SignalFilter accepts or rejects a drafted signal. The note explains a
// rejection; filters leave it empty on pass.
type SignalFilter interface {
	Name() string
	Filter(event domain.MarketEvent, fund *domain.CandidateETF, draft *domain.TradingSignal) (pass bool, note string)
	Required() bool
}

// Factory signatures. Each receives the shared infrastructure and its
// own config subtree; factories ignore deps they do not need.
type (
	DetectorFactory func(deps Deps, params Params) (EventDetector, error)
	SelectorFactory func(deps Deps, params Params) (FundSelector, error)
	FilterFactory   func(deps Deps, params Params) (SignalFilter, error)
)

// Deps carries the infrastructure handles available to plugin factories
type Deps struct {
	Calendar *market.Calendar
	History  market.HistoryProvider
	Log      zerolog.Logger
}

// Params is the free-form numeric config subtree handed to a factory
type Params map[string]float64

// Float returns the named param, or def when absent
func (p Params) Float(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Int returns the named param truncated to int, or def when absent
func (p Params) Int(key string, def int) int {
	if v, ok := p[key]; ok {
		return int(v)
	}
	return def
}

// Registries bundles one registry per strategy kind
type Registries struct {
	Detectors *Registry[DetectorFactory]
	Selectors *Registry[SelectorFactory]
	Filters   *Registry[FilterFactory]
}

// NewRegistries creates an empty registry bundle. Tests use this to
// avoid touching the process-wide built-ins.
func NewRegistries(log zerolog.Logger) *Registries {
	return &Registries{
		Detectors: NewRegistry[DetectorFactory]("event_detector", log),
		Selectors: NewRegistry[SelectorFactory]("fund_selector", log),
		Filters:   NewRegistry[FilterFactory]("signal_filter", log),
	}
}

// Pipeline is a fully constructed strategy chain ready for scanning
type Pipeline struct {
	Detector  EventDetector
	Selector  FundSelector
	Filters   []SignalFilter
	Evaluator *Evaluator
}
