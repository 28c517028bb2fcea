// Package backtest replays the signal pipeline over historical data:
// a simulation clock walks trading dates bar by bar, quotes are
// synthesized from daily klines, holdings are interpolated between
// quarterly snapshots, and the very same engine that runs live scans
// produces the signals.
package backtest

import (
	"fmt"
	"time"

	"github.com/bleakplain/etf-arb-tracker/internal/market"
)

// Granularity is the bar size of a replay.
type Granularity string

const (
	Daily    Granularity = "daily"
	Minute5  Granularity = "5m"
	Minute15 Granularity = "15m"
	Minute30 Granularity = "30m"
)

// dailyBarMinute places the single daily bar at 14:00, inside the
// afternoon session with an hour of tape left: the pipeline's time
// factors stay meaningful without a filter waving every signal through
// or rejecting it as too close to the bell.
const dailyBarMinute = 14 * 60

// ParseGranularity validates a granularity string.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case Daily, Minute5, Minute15, Minute30:
		return Granularity(s), nil
	case "":
		return Daily, nil
	}
	return "", fmt.Errorf("unknown granularity %q", s)
}

func (g Granularity) stepMinutes() int {
	switch g {
	case Minute5:
		return 5
	case Minute15:
		return 15
	case Minute30:
		return 30
	}
	return 0
}

// BarTimes lays out the bar-close timestamps for one trading date.
// Daily yields a single 14:00 bar. Intraday granularities tile both
// sessions; each timestamp marks the end of its bar, so the last
// morning bar lands on 11:30 and the last of the day on 15:00.
func BarTimes(cal *market.Calendar, date string, g Granularity) ([]time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", date, cal.Location())
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}

	atMinute := func(m int) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), m/60, m%60, 0, 0, cal.Location())
	}

	if g == Daily {
		return []time.Time{atMinute(dailyBarMinute)}, nil
	}

	step := g.stepMinutes()
	if step == 0 {
		return nil, fmt.Errorf("unknown granularity %q", g)
	}

	var bars []time.Time
	for _, session := range market.SessionMinutes() {
		for m := session[0] + step; m <= session[1]; m += step {
			bars = append(bars, atMinute(m))
		}
	}
	return bars, nil
}

// dayFraction maps a bar index to its position in (0, 1] across the
// whole trading day, the coordinate the price path is sampled at.
func dayFraction(idx, total int) float64 {
	if total <= 0 {
		return 1
	}
	return float64(idx+1) / float64(total)
}
