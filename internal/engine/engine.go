// Package engine runs the signal pipeline over watched securities: one
// Scan sweeps the watchlist, the Monitor repeats scans on a schedule
// during trading sessions.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
	"github.com/bleakplain/etf-arb-tracker/internal/market"
	"github.com/bleakplain/etf-arb-tracker/internal/signal"
	"github.com/bleakplain/etf-arb-tracker/internal/strategy"
)

const defaultScanConcurrency = 8

// ETFSource resolves a stock to its candidate ETFs. The live mapping
// store satisfies this; backtests swap in a per-date holdings view.
type ETFSource interface {
	ETFsFor(stockCode string) []domain.ETFRef
	TopHoldingsRatio(etfCode string) float64
}

// SignalStore persists accepted signals
type SignalStore interface {
	Insert(ctx context.Context, s *domain.TradingSignal) error
}

// Deps wires the engine to its collaborators. Fanout and Hub are
// optional; a nil value disables that delivery path.
type Deps struct {
	Pipeline *strategy.Pipeline
	Quotes   market.QuoteProvider
	ETFs     ETFSource
	Store    SignalStore
	Fanout   *signal.Fanout
	Hub      *signal.Hub
	Log      zerolog.Logger
}

// Options tunes a scan
type Options struct {
	MinWeight       float64 // Eligibility floor on holding weight
	ScanConcurrency int     // Max securities scanned in parallel
}

// Engine executes scans. Safe for concurrent use; per-security state
// lives in the detector.
type Engine struct {
	pipeline *strategy.Pipeline
	quotes   market.QuoteProvider
	etfs     ETFSource
	store    SignalStore
	fanout   *signal.Fanout
	hub      *signal.Hub
	opts     Options
	log      zerolog.Logger
}

// New creates an engine
func New(deps Deps, opts Options) *Engine {
	if opts.ScanConcurrency <= 0 {
		opts.ScanConcurrency = defaultScanConcurrency
	}
	return &Engine{
		pipeline: deps.Pipeline,
		quotes:   deps.Quotes,
		etfs:     deps.ETFs,
		store:    deps.Store,
		fanout:   deps.Fanout,
		hub:      deps.Hub,
		opts:     opts,
		log:      deps.Log.With().Str("component", "engine").Logger(),
	}
}

// Scan sweeps the watched securities once. Per-security failures are
// counted and logged, never abort the sweep; an error return means the
// batch quote fetch itself failed.
func (e *Engine) Scan(ctx context.Context, watched []string) (*domain.ScanResult, error) {
	start := time.Now()
	result := &domain.ScanResult{}

	if len(watched) == 0 {
		result.ElapsedMs = time.Since(start).Milliseconds()
		return result, nil
	}

	quotes, err := e.quotes.Quotes(ctx, watched)
	if err != nil {
		return nil, fmt.Errorf("batch quotes: %w", err)
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(min(e.opts.ScanConcurrency, len(watched)))

	for _, code := range watched {
		g.Go(func() error {
			e.scanOne(ctx, code, quotes[code], result, &mu)
			return nil
		})
	}
	_ = g.Wait()

	result.ElapsedMs = time.Since(start).Milliseconds()
	e.log.Debug().
		Int("candidates", result.CandidatesSeen).
		Int("events", result.Events).
		Int("signals", len(result.SignalsEmitted)).
		Int("rejected", len(result.Rejected)).
		Int("errors", result.Errors).
		Int64("elapsed_ms", result.ElapsedMs).
		Msg("Scan complete")
	return result, nil
}

func (e *Engine) scanOne(ctx context.Context, code string, quote *domain.Quote, res *domain.ScanResult, mu *sync.Mutex) {
	mu.Lock()
	res.CandidatesSeen++
	mu.Unlock()

	if quote == nil {
		e.log.Warn().Str("code", code).Msg("No quote for watched security")
		e.countError(res, mu)
		return
	}

	event, err := e.pipeline.Detector.Detect(ctx, quote)
	if err != nil {
		e.log.Warn().Str("code", code).Err(err).Msg("Detector failed")
		e.countError(res, mu)
		return
	}
	if event == nil {
		return
	}

	mu.Lock()
	res.Events++
	mu.Unlock()

	if !e.pipeline.Detector.IsValid(event) {
		e.reject(res, mu, code, "event invalid")
		return
	}

	refs := e.etfs.ETFsFor(code)
	eligible := make([]domain.ETFRef, 0, len(refs))
	for _, ref := range refs {
		if ref.Weight >= e.opts.MinWeight {
			eligible = append(eligible, ref)
		}
	}
	if len(eligible) == 0 {
		e.reject(res, mu, code, fmt.Sprintf("no eligible ETF (weights below %g)", e.opts.MinWeight))
		return
	}

	candidates, err := e.enrich(ctx, eligible)
	if err != nil {
		e.log.Warn().Str("code", code).Err(err).Msg("ETF quote enrichment failed")
		e.countError(res, mu)
		return
	}

	fund := e.pipeline.Selector.Select(candidates, event)
	if fund == nil {
		e.reject(res, mu, code, "selector returned none")
		return
	}

	draft := e.pipeline.Evaluator.Draft(event, fund, e.pipeline.Selector.SelectionReason(fund))

	for _, f := range e.pipeline.Filters {
		pass, note := f.Filter(event, fund, draft)
		if !pass {
			e.reject(res, mu, code, note)
			return
		}
	}

	if err := e.insert(ctx, draft); err != nil {
		e.log.Error().Str("code", code).Str("uid", draft.UID).Err(err).Msg("Signal insert failed")
		e.countError(res, mu)
		return
	}

	if e.fanout != nil {
		e.fanout.Send(ctx, draft)
	}
	if e.hub != nil {
		e.hub.Publish(draft)
	}

	mu.Lock()
	res.SignalsEmitted = append(res.SignalsEmitted, *draft)
	mu.Unlock()
}

// enrich attaches live ETF quotes and concentration to the eligible
// refs. ETF quotes are fetched in one batch; a missing quote leaves
// daily amount zero and lets the liquidity filter do the rejecting.
func (e *Engine) enrich(ctx context.Context, eligible []domain.ETFRef) ([]domain.CandidateETF, error) {
	codes := make([]string, len(eligible))
	for i, ref := range eligible {
		codes[i] = ref.ETFCode
	}

	quotes, err := e.quotes.Quotes(ctx, codes)
	if err != nil {
		return nil, fmt.Errorf("etf quotes: %w", err)
	}

	candidates := make([]domain.CandidateETF, len(eligible))
	for i, ref := range eligible {
		c := domain.CandidateETF{
			ETFCode:    ref.ETFCode,
			ETFName:    ref.ETFName,
			Weight:     ref.Weight,
			Rank:       ref.Rank,
			Top10Ratio: e.etfs.TopHoldingsRatio(ref.ETFCode),
		}
		if q := quotes[ref.ETFCode]; q != nil {
			c.Quote = q
			c.DailyAmount = q.Amount
		}
		candidates[i] = c
	}
	return candidates, nil
}

// Candidates returns the enriched eligible ETFs for one stock, the
// same view scanOne works from. An empty slice means the stock is
// mapped but no holding clears the weight floor.
func (e *Engine) Candidates(ctx context.Context, stockCode string) ([]domain.CandidateETF, error) {
	refs := e.etfs.ETFsFor(stockCode)
	eligible := make([]domain.ETFRef, 0, len(refs))
	for _, ref := range refs {
		if ref.Weight >= e.opts.MinWeight {
			eligible = append(eligible, ref)
		}
	}
	if len(eligible) == 0 {
		return []domain.CandidateETF{}, nil
	}
	return e.enrich(ctx, eligible)
}

// insert writes the signal, retrying once on failure
func (e *Engine) insert(ctx context.Context, s *domain.TradingSignal) error {
	err := e.store.Insert(ctx, s)
	if err == nil {
		return nil
	}
	e.log.Warn().Str("uid", s.UID).Err(err).Msg("Signal insert failed, retrying once")
	return e.store.Insert(ctx, s)
}

func (e *Engine) reject(res *domain.ScanResult, mu *sync.Mutex, code, reason string) {
	e.log.Debug().Str("code", code).Str("reason", reason).Msg("Rejected")
	mu.Lock()
	res.Rejected = append(res.Rejected, domain.Rejection{StockCode: code, Reason: reason})
	mu.Unlock()
}

func (e *Engine) countError(res *domain.ScanResult, mu *sync.Mutex) {
	mu.Lock()
	res.Errors++
	mu.Unlock()
}
