package backtest

import (
	"fmt"
	"sort"
	"time"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
	"github.com/bleakplain/etf-arb-tracker/internal/engine"
	"github.com/bleakplain/etf-arb-tracker/internal/market"
)

// Interpolation modes for holdings between snapshots.
const (
	InterpLinear = "linear"
	InterpStep   = "step"
)

// minInterpolatedWeight drops holdings that interpolation has decayed
// or grown to dust; a position under 1% of the fund is noise.
const minInterpolatedWeight = 0.01

// Snapshot is the stock→ETF mapping as disclosed at one date,
// typically a quarterly report.
type Snapshot struct {
	Date   string                     `json:"date"` // YYYY-MM-DD
	Stocks map[string][]domain.ETFRef `json:"stocks"`
	Top10  map[string]float64         `json:"top10"` // etf → top-10 concentration
}

// SnapshotFrom captures the live mapping as a snapshot dated at date,
// restricted to the given stocks. This is how a backtest without real
// quarterly disclosures still gets a holdings view.
func SnapshotFrom(date string, src engine.ETFSource, stocks []string) Snapshot {
	snap := Snapshot{
		Date:   date,
		Stocks: make(map[string][]domain.ETFRef, len(stocks)),
		Top10:  make(map[string]float64),
	}
	for _, code := range stocks {
		refs := src.ETFsFor(code)
		if len(refs) == 0 {
			continue
		}
		snap.Stocks[code] = refs
		for _, ref := range refs {
			if _, seen := snap.Top10[ref.ETFCode]; !seen {
				snap.Top10[ref.ETFCode] = src.TopHoldingsRatio(ref.ETFCode)
			}
		}
	}
	return snap
}

// SnapshotSet holds the snapshots of one backtest, sorted by date.
type SnapshotSet struct {
	cal   *market.Calendar
	snaps []Snapshot
}

// NewSnapshotSet validates and orders the snapshots.
func NewSnapshotSet(cal *market.Calendar, snaps []Snapshot) (*SnapshotSet, error) {
	if len(snaps) == 0 {
		return nil, fmt.Errorf("no holdings snapshots")
	}

	sorted := make([]Snapshot, len(snaps))
	copy(sorted, snaps)
	seen := make(map[string]bool, len(sorted))
	for _, s := range sorted {
		if _, err := time.Parse("2006-01-02", s.Date); err != nil {
			return nil, fmt.Errorf("invalid snapshot date %q: %w", s.Date, err)
		}
		if seen[s.Date] {
			return nil, fmt.Errorf("duplicate snapshot date %s", s.Date)
		}
		seen[s.Date] = true
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	return &SnapshotSet{cal: cal, snaps: sorted}, nil
}

// HoldingsView is the mapping as of one simulated date. It satisfies
// the engine's ETF source so a backtest scan resolves holdings exactly
// the way a live scan does.
type HoldingsView struct {
	refs  map[string][]domain.ETFRef
	top10 map[string]float64
}

func (v *HoldingsView) ETFsFor(stockCode string) []domain.ETFRef { return v.refs[stockCode] }

func (v *HoldingsView) TopHoldingsRatio(etfCode string) float64 { return v.top10[etfCode] }

// ETFCodes returns every ETF any stock maps to, sorted.
func (v *HoldingsView) ETFCodes() []string {
	set := make(map[string]bool)
	for _, refs := range v.refs {
		for _, ref := range refs {
			set[ref.ETFCode] = true
		}
	}
	codes := make([]string, 0, len(set))
	for code := range set {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// ETFCodes returns every ETF appearing in any snapshot, sorted. The
// driver preloads klines for these alongside the stocks themselves.
func (s *SnapshotSet) ETFCodes() []string {
	set := make(map[string]bool)
	for _, snap := range s.snaps {
		for _, refs := range snap.Stocks {
			for _, ref := range refs {
				set[ref.ETFCode] = true
			}
		}
	}
	codes := make([]string, 0, len(set))
	for code := range set {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// At materializes the holdings view for a date. Outside the snapshot
// range the nearest snapshot applies; between snapshots the mode
// decides: step holds the earlier snapshot, linear interpolates each
// weight by trading-day distance.
func (s *SnapshotSet) At(date string, mode string) (*HoldingsView, error) {
	if mode != InterpLinear && mode != InterpStep {
		return nil, fmt.Errorf("unknown interpolation %q", mode)
	}

	var before, after *Snapshot
	for i := range s.snaps {
		snap := &s.snaps[i]
		if snap.Date <= date {
			before = snap
		}
		if snap.Date >= date && after == nil {
			after = snap
		}
	}

	switch {
	case before == nil && after == nil:
		return nil, fmt.Errorf("no snapshot for %s", date)
	case before == nil:
		return viewOf(after), nil
	case after == nil, before == after, mode == InterpStep:
		return viewOf(before), nil
	}

	ratio, err := s.ratioBetween(before.Date, after.Date, date)
	if err != nil {
		return nil, err
	}
	if ratio <= 0 {
		return viewOf(before), nil
	}
	if ratio >= 1 {
		return viewOf(after), nil
	}
	return interpolate(before, after, ratio), nil
}

// ratioBetween measures how far date sits between two snapshot dates,
// in trading days.
func (s *SnapshotSet) ratioBetween(from, to, date string) (float64, error) {
	elapsed, err := s.tradingDistance(from, date)
	if err != nil {
		return 0, err
	}
	total, err := s.tradingDistance(from, to)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	r := float64(elapsed) / float64(total)
	return min(max(r, 0), 1), nil
}

// tradingDistance counts trading days in (from, to].
func (s *SnapshotSet) tradingDistance(from, to string) (int, error) {
	dates, err := s.cal.TradingDates(from, to)
	if err != nil {
		return 0, err
	}
	n := len(dates)
	if n > 0 && dates[0] == from {
		n--
	}
	return n, nil
}

func viewOf(snap *Snapshot) *HoldingsView {
	return &HoldingsView{refs: snap.Stocks, top10: snap.Top10}
}

// interpolate blends two snapshots at ratio r. Holdings present on
// both sides have the weight lerped; holdings only in the earlier
// snapshot decay by (1-r); holdings only in the later grow by r.
// Either way a result under the dust threshold is dropped.
func interpolate(before, after *Snapshot, r float64) *HoldingsView {
	view := &HoldingsView{
		refs:  make(map[string][]domain.ETFRef),
		top10: make(map[string]float64),
	}

	stocks := make(map[string]bool, len(before.Stocks))
	for code := range before.Stocks {
		stocks[code] = true
	}
	for code := range after.Stocks {
		stocks[code] = true
	}

	for code := range stocks {
		olds := before.Stocks[code]
		news := after.Stocks[code]

		newByETF := make(map[string]domain.ETFRef, len(news))
		for _, ref := range news {
			newByETF[ref.ETFCode] = ref
		}

		var merged []domain.ETFRef
		seen := make(map[string]bool, len(olds))
		for _, old := range olds {
			seen[old.ETFCode] = true
			if neu, ok := newByETF[old.ETFCode]; ok {
				old.Weight = old.Weight*(1-r) + neu.Weight*r
				merged = append(merged, old)
				continue
			}
			old.Weight *= 1 - r
			if old.Weight > minInterpolatedWeight {
				merged = append(merged, old)
			}
		}
		for _, neu := range news {
			if seen[neu.ETFCode] {
				continue
			}
			neu.Weight *= r
			if neu.Weight > minInterpolatedWeight {
				merged = append(merged, neu)
			}
		}
		if len(merged) == 0 {
			continue
		}

		sort.Slice(merged, func(i, j int) bool {
			if merged[i].Weight != merged[j].Weight {
				return merged[i].Weight > merged[j].Weight
			}
			return merged[i].ETFCode < merged[j].ETFCode
		})
		view.refs[code] = merged
	}

	etfs := make(map[string]bool, len(before.Top10))
	for code := range before.Top10 {
		etfs[code] = true
	}
	for code := range after.Top10 {
		etfs[code] = true
	}
	for code := range etfs {
		b, hasB := before.Top10[code]
		a, hasA := after.Top10[code]
		switch {
		case hasB && hasA:
			view.top10[code] = b*(1-r) + a*r
		case hasB:
			view.top10[code] = b
		default:
			view.top10[code] = a
		}
	}
	return view
}
