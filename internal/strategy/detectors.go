package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
	"github.com/bleakplain/etf-arb-tracker/internal/market"
)

// LimitUpDetector fires a LimitUpEvent whenever a quote sits at its
// board's daily ceiling. It tracks per-stock seal state across the day:
// the first seal time, and how often the seal broke and re-formed.
// State resets on day rollover.
type LimitUpDetector struct {
	minChangePct float64
	calendar     *market.Calendar

	mu   sync.Mutex
	day  string
	seen map[string]*sealState
}

type sealState struct {
	firstSeal time.Time
	openCount int
	atLimit   bool
}

// NewLimitUpDetector creates the A-share limit-up detector.
// minChangePct is an optional extra floor on top of the board minimum;
// zero disables it.
func NewLimitUpDetector(calendar *market.Calendar, minChangePct float64) *LimitUpDetector {
	return &LimitUpDetector{
		minChangePct: minChangePct,
		calendar:     calendar,
		seen:         make(map[string]*sealState),
	}
}

func (d *LimitUpDetector) Name() string { return "limit_up_cn" }

func (d *LimitUpDetector) Detect(_ context.Context, q *domain.Quote) (domain.MarketEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	day := d.calendar.Date(q.Timestamp)
	if day != d.day {
		d.day = day
		d.seen = make(map[string]*sealState)
	}

	st := d.seen[q.Code]
	if st == nil {
		st = &sealState{}
		d.seen[q.Code] = st
	}

	if !q.IsLimitUp {
		if st.atLimit {
			st.openCount++
			st.atLimit = false
		}
		return nil, nil
	}

	if st.firstSeal.IsZero() {
		st.firstSeal = q.Timestamp
	}
	st.atLimit = true

	seal := q.BidVolume
	if seal <= 0 {
		seal = q.Amount
	}

	return domain.LimitUpEvent{
		StockCode:    q.Code,
		StockName:    q.Name,
		Price:        q.Price,
		ChangePct:    q.ChangePct,
		LimitTime:    st.firstSeal,
		SealAmount:   seal,
		OpenCount:    st.openCount,
		IsFirstLimit: st.openCount == 0,
		Timestamp:    q.Timestamp,
	}, nil
}

// IsValid rejects events whose change_pct is implausible for the
// stock's board.
func (d *LimitUpDetector) IsValid(event domain.MarketEvent) bool {
	e, ok := event.(domain.LimitUpEvent)
	if !ok {
		return false
	}
	if e.Price <= 0 {
		return false
	}
	if e.ChangePct < d.minChangePct {
		return false
	}
	boardMin := domain.BoardOf(e.StockCode).LimitPct() - domain.ChangePctEpsilon
	return e.ChangePct >= boardMin
}

// MomentumDetector fires when the rate of change over the lookback
// window clears a threshold and RSI confirms the move. Needs the kline
// history provider.
type MomentumDetector struct {
	history   market.HistoryProvider
	rocPeriod int
	rsiPeriod int
	minROC    float64 // Fractional, 0.05 = +5% over the lookback
	minRSI    float64
	log       zerolog.Logger
}

// NewMomentumDetector creates a momentum detector with the given
// thresholds
func NewMomentumDetector(history market.HistoryProvider, rocPeriod, rsiPeriod int, minROC, minRSI float64, log zerolog.Logger) *MomentumDetector {
	return &MomentumDetector{
		history:   history,
		rocPeriod: rocPeriod,
		rsiPeriod: rsiPeriod,
		minROC:    minROC,
		minRSI:    minRSI,
		log:       log.With().Str("detector", "momentum").Logger(),
	}
}

func (d *MomentumDetector) Name() string { return "momentum" }

func (d *MomentumDetector) Detect(ctx context.Context, q *domain.Quote) (domain.MarketEvent, error) {
	if q.ChangePct <= 0 {
		return nil, nil
	}

	need := d.rocPeriod + d.rsiPeriod + 1
	klines, err := d.history.DailyKlines(ctx, q.Code, need)
	if err != nil {
		return nil, fmt.Errorf("momentum history for %s: %w", q.Code, err)
	}
	if len(klines) < need {
		return nil, nil
	}

	closes := make([]float64, 0, len(klines)+1)
	for _, k := range klines {
		closes = append(closes, k.Close)
	}
	closes = append(closes, q.Price)

	roc := lastValid(talib.Roc(closes, d.rocPeriod)) / 100
	rsi := lastValid(talib.Rsi(closes, d.rsiPeriod))
	if roc < d.minROC || rsi < d.minRSI {
		return nil, nil
	}

	return domain.MomentumEvent{
		StockCode: q.Code,
		StockName: q.Name,
		Price:     q.Price,
		ChangePct: q.ChangePct,
		ROC:       roc,
		RSI:       rsi,
		Timestamp: q.Timestamp,
	}, nil
}

func (d *MomentumDetector) IsValid(event domain.MarketEvent) bool {
	e, ok := event.(domain.MomentumEvent)
	if !ok {
		return false
	}
	return e.Price > 0 && e.ROC >= d.minROC && e.RSI > 0 && e.RSI <= 100
}

// BreakoutDetector fires when the price clears the rolling N-day high
type BreakoutDetector struct {
	history  market.HistoryProvider
	lookback int
	log      zerolog.Logger
}

// NewBreakoutDetector creates a breakout detector over an N-day window
func NewBreakoutDetector(history market.HistoryProvider, lookback int, log zerolog.Logger) *BreakoutDetector {
	return &BreakoutDetector{
		history:  history,
		lookback: lookback,
		log:      log.With().Str("detector", "breakout").Logger(),
	}
}

func (d *BreakoutDetector) Name() string { return "breakout" }

func (d *BreakoutDetector) Detect(ctx context.Context, q *domain.Quote) (domain.MarketEvent, error) {
	if q.ChangePct <= 0 {
		return nil, nil
	}

	klines, err := d.history.DailyKlines(ctx, q.Code, d.lookback)
	if err != nil {
		return nil, fmt.Errorf("breakout history for %s: %w", q.Code, err)
	}
	if len(klines) < d.lookback {
		return nil, nil
	}

	highs := make([]float64, 0, len(klines))
	for _, k := range klines {
		highs = append(highs, k.High)
	}

	rollingHigh := lastValid(talib.Max(highs, d.lookback))
	if rollingHigh <= 0 || q.Price <= rollingHigh {
		return nil, nil
	}

	return domain.BreakoutEvent{
		StockCode: q.Code,
		StockName: q.Name,
		Price:     q.Price,
		ChangePct: q.ChangePct,
		High:      rollingHigh,
		Lookback:  d.lookback,
		Timestamp: q.Timestamp,
	}, nil
}

func (d *BreakoutDetector) IsValid(event domain.MarketEvent) bool {
	e, ok := event.(domain.BreakoutEvent)
	if !ok {
		return false
	}
	return e.Price > 0 && e.Price > e.High
}

// lastValid returns the final non-NaN value of a talib output series,
// or zero when none exists
func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if series[i] == series[i] {
			return series[i]
		}
	}
	return 0
}
