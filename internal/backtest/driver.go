package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
	"github.com/bleakplain/etf-arb-tracker/internal/engine"
	"github.com/bleakplain/etf-arb-tracker/internal/market"
	"github.com/bleakplain/etf-arb-tracker/internal/strategy"
)

// klineFetchBuffer pads the history request so the bar before the
// range start still has a previous close to compute change from.
const klineFetchBuffer = 30

// Progress reports completed trading dates out of the total.
type Progress func(done, total int)

// Result is the outcome of a completed run.
type Result struct {
	Config     Config                 `json:"config"`
	Statistics Statistics             `json:"statistics"`
	Signals    []domain.TradingSignal `json:"signals"`
}

// Driver replays historical data through the live scan engine.
type Driver struct {
	cal     *market.Calendar
	history market.HistoryProvider
	regs    *strategy.Registries
	deps    strategy.Deps
	log     zerolog.Logger
}

// NewDriver creates a driver. deps supplies what pipeline factories
// need (calendar, history for the technical detectors).
func NewDriver(cal *market.Calendar, history market.HistoryProvider, regs *strategy.Registries, deps strategy.Deps, log zerolog.Logger) *Driver {
	return &Driver{
		cal:     cal,
		history: history,
		regs:    regs,
		deps:    deps,
		log:     log.With().Str("component", "backtest").Logger(),
	}
}

// Run executes one backtest. Cancellation is honored at date
// boundaries; a cancelled run returns ctx.Err() and no partial result.
// Given the same config, snapshots and klines, the output is identical
// across runs: signals are ordered by (date, bar, stock) and re-numbered
// after the sweep, and nothing in the loop reads the wall clock.
func (d *Driver) Run(ctx context.Context, cfg Config, snaps *SnapshotSet, progress Progress) (*Result, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if len(cfg.Securities) == 0 {
		return nil, fmt.Errorf("no securities to replay")
	}

	dates, err := d.cal.TradingDates(cfg.StartDate, cfg.EndDate)
	if err != nil {
		return nil, err
	}
	if len(dates) == 0 {
		return nil, fmt.Errorf("no trading days between %s and %s", cfg.StartDate, cfg.EndDate)
	}

	pipe, err := strategy.Build(cfg.Engine, d.regs, d.deps)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	allCodes := unionCodes(cfg.Securities, snaps.ETFCodes())
	series, err := d.loadSeries(ctx, allCodes, cfg.StartDate)
	if err != nil {
		return nil, err
	}

	quotes := &barQuotes{}
	holdings := &holdingsHolder{}
	sink := newCollector()

	eng := engine.New(engine.Deps{
		Pipeline: pipe,
		Quotes:   quotes,
		ETFs:     holdings,
		Store:    sink,
		Log:      d.log,
	}, engine.Options{MinWeight: cfg.Engine.MinWeight})

	started := time.Now()
	for i, date := range dates {
		if err := ctx.Err(); err != nil {
			d.log.Info().Str("date", date).Msg("Backtest cancelled")
			return nil, err
		}

		view, err := snaps.At(date, cfg.Interpolation)
		if err != nil {
			return nil, err
		}
		holdings.set(view)

		bars, err := BarTimes(d.cal, date, cfg.Granularity)
		if err != nil {
			return nil, err
		}
		for bi, barTime := range bars {
			quotes.set(synthesizeAll(allCodes, series, date, barTime, dayFraction(bi, len(bars))))
			if _, err := eng.Scan(ctx, cfg.Securities); err != nil {
				return nil, fmt.Errorf("scan at %s: %w", barTime.Format("2006-01-02 15:04"), err)
			}
		}

		if progress != nil {
			progress(i+1, len(dates))
		}
	}

	signals := sink.take()
	sort.Slice(signals, func(i, j int) bool {
		if !signals[i].Timestamp.Equal(signals[j].Timestamp) {
			return signals[i].Timestamp.Before(signals[j].Timestamp)
		}
		return signals[i].StockCode < signals[j].StockCode
	})
	for i := range signals {
		signals[i].ID = int64(i + 1)
	}

	d.log.Info().
		Int("dates", len(dates)).
		Int("signals", len(signals)).
		Dur("elapsed", time.Since(started)).
		Msg("Backtest complete")

	return &Result{
		Config:     cfg,
		Statistics: ComputeStatistics(signals, len(dates)),
		Signals:    signals,
	}, nil
}

// loadSeries pulls daily klines for every code. The fetch window is
// sized from today back to the range start; the wall clock only sizes
// this request and never reaches the pipeline. A code with no history
// is skipped with a warning and simply yields no quotes.
func (d *Driver) loadSeries(ctx context.Context, codes []string, startDate string) (map[string]*klineSeries, error) {
	today := d.cal.Date(time.Now())
	span, err := d.cal.TradingDates(startDate, today)
	if err != nil {
		// Range entirely in the future of the local clock
		span = nil
	}
	days := len(span) + klineFetchBuffer

	out := make(map[string]*klineSeries, len(codes))
	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		klines, err := d.history.DailyKlines(ctx, code, days)
		if err != nil {
			d.log.Warn().Str("code", code).Err(err).Msg("No history for code, skipping")
			continue
		}
		out[code] = newKlineSeries(klines)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no historical data for any requested code")
	}
	return out, nil
}

func unionCodes(stocks, etfs []string) []string {
	set := make(map[string]bool, len(stocks)+len(etfs))
	for _, c := range stocks {
		set[c] = true
	}
	for _, c := range etfs {
		set[c] = true
	}
	codes := make([]string, 0, len(set))
	for c := range set {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// klineSeries indexes one security's daily candles by date.
type klineSeries struct {
	byDate map[string]domain.Kline
	dates  []string // ascending
}

func newKlineSeries(klines []domain.Kline) *klineSeries {
	s := &klineSeries{byDate: make(map[string]domain.Kline, len(klines))}
	for _, k := range klines {
		if _, dup := s.byDate[k.Date]; !dup {
			s.dates = append(s.dates, k.Date)
		}
		s.byDate[k.Date] = k
	}
	sort.Strings(s.dates)
	return s
}

func (s *klineSeries) at(date string) (domain.Kline, bool) {
	k, ok := s.byDate[date]
	return k, ok
}

// prevClose returns the close of the last candle before date, 0 when
// there is none.
func (s *klineSeries) prevClose(date string) float64 {
	idx := sort.SearchStrings(s.dates, date)
	if idx == 0 {
		return 0
	}
	return s.byDate[s.dates[idx-1]].Close
}

// synthesizeAll builds the quote map for one bar. Codes without a
// candle that date (suspension, late listing) are simply absent.
func synthesizeAll(codes []string, series map[string]*klineSeries, date string, barTime time.Time, f float64) map[string]*domain.Quote {
	out := make(map[string]*domain.Quote, len(codes))
	for _, code := range codes {
		sr, ok := series[code]
		if !ok {
			continue
		}
		k, ok := sr.at(date)
		if !ok {
			continue
		}
		out[code] = synthesizeQuote(code, k, sr.prevClose(date), barTime, f)
	}
	return out
}

// synthesizeQuote derives a bar quote from a daily candle. BidVolume
// stays zero, so seal amounts fall back to turnover, the same
// degradation the live path applies when the bid queue is unknown.
func synthesizeQuote(code string, k domain.Kline, prevClose float64, ts time.Time, f float64) *domain.Quote {
	price := priceAt(k, f)
	q := &domain.Quote{
		Code:      code,
		Price:     price,
		PrevClose: prevClose,
		Open:      k.Open,
		High:      k.High,
		Low:       k.Low,
		Volume:    k.Volume,
		Amount:    k.Amount,
		Timestamp: ts,
	}
	if prevClose > 0 {
		q.ChangePct = price/prevClose - 1
		q.IsLimitUp = domain.AtLimitUp(code, price, prevClose)
		q.IsLimitDown = domain.AtLimitDown(code, price, prevClose)
	}
	return q
}

// priceAt samples the day's deterministic price path: open to high
// across the morning, high to close across the afternoon. A security
// that finishes at its ceiling is therefore sealed from mid-day on
// instead of only at the final bar, and a day whose high touched the
// ceiling but closed below it shows a seal that breaks.
func priceAt(k domain.Kline, f float64) float64 {
	var p float64
	switch {
	case f >= 1:
		p = k.Close
	case f <= 0.5:
		p = k.Open + (k.High-k.Open)*(f/0.5)
	default:
		p = k.High + (k.Close-k.High)*((f-0.5)/0.5)
	}
	return math.Round(p*100) / 100
}

// barQuotes serves the quotes synthesized for the current bar.
type barQuotes struct {
	mu     sync.RWMutex
	quotes map[string]*domain.Quote
}

func (b *barQuotes) set(qs map[string]*domain.Quote) {
	b.mu.Lock()
	b.quotes = qs
	b.mu.Unlock()
}

func (b *barQuotes) Quotes(_ context.Context, codes []string) (map[string]*domain.Quote, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]*domain.Quote, len(codes))
	for _, code := range codes {
		if q, ok := b.quotes[code]; ok {
			out[code] = q
		}
	}
	return out, nil
}

// holdingsHolder pins the holdings view of the current simulated date.
type holdingsHolder struct {
	mu   sync.RWMutex
	view *HoldingsView
}

func (h *holdingsHolder) set(v *HoldingsView) {
	h.mu.Lock()
	h.view = v
	h.mu.Unlock()
}

func (h *holdingsHolder) ETFsFor(stockCode string) []domain.ETFRef {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.view == nil {
		return nil
	}
	return h.view.ETFsFor(stockCode)
}

func (h *holdingsHolder) TopHoldingsRatio(etfCode string) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.view == nil {
		return 0
	}
	return h.view.TopHoldingsRatio(etfCode)
}

// collector records accepted signals, at most one per stock per day: a
// stock that stays sealed fires on every subsequent bar, and replaying
// the same opportunity dozens of times would drown the statistics.
type collector struct {
	mu      sync.Mutex
	seen    map[string]bool
	signals []domain.TradingSignal
}

func newCollector() *collector {
	return &collector{seen: make(map[string]bool)}
}

func (c *collector) Insert(_ context.Context, s *domain.TradingSignal) error {
	key := s.StockCode + "_" + s.Timestamp.Format("2006-01-02")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[key] {
		return nil
	}
	c.seen[key] = true
	c.signals = append(c.signals, *s)
	return nil
}

func (c *collector) take() []domain.TradingSignal {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.signals
	c.signals = nil
	return out
}
