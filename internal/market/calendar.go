package market

import (
	"fmt"
	"time"
)

// Session bounds in minutes from midnight, exchange local time.
// Morning auction 09:30-11:30, afternoon 13:00-15:00.
const (
	morningOpenMinute   = 9*60 + 30
	morningCloseMinute  = 11*60 + 30
	afternoonOpenMinute = 13 * 60
	closeMinute         = 15 * 60
)

// cnHolidays lists weekday exchange closures. Weekend make-up workdays
// are not trading days either, so the weekday check covers them.
var cnHolidays = map[string]struct{}{
	// 2023
	"2023-01-02": {}, "2023-01-23": {}, "2023-01-24": {}, "2023-01-25": {},
	"2023-01-26": {}, "2023-01-27": {}, "2023-04-05": {}, "2023-05-01": {},
	"2023-05-02": {}, "2023-05-03": {}, "2023-06-22": {}, "2023-06-23": {},
	"2023-09-29": {}, "2023-10-02": {}, "2023-10-03": {}, "2023-10-04": {},
	"2023-10-05": {}, "2023-10-06": {},
	// 2024
	"2024-01-01": {}, "2024-02-09": {}, "2024-02-12": {}, "2024-02-13": {},
	"2024-02-14": {}, "2024-02-15": {}, "2024-02-16": {}, "2024-04-04": {},
	"2024-04-05": {}, "2024-05-01": {}, "2024-05-02": {}, "2024-05-03": {},
	"2024-06-10": {}, "2024-09-16": {}, "2024-09-17": {}, "2024-10-01": {},
	"2024-10-02": {}, "2024-10-03": {}, "2024-10-04": {}, "2024-10-07": {},
	// 2025
	"2025-01-01": {}, "2025-01-28": {}, "2025-01-29": {}, "2025-01-30": {},
	"2025-01-31": {}, "2025-02-03": {}, "2025-02-04": {}, "2025-04-04": {},
	"2025-05-01": {}, "2025-05-02": {}, "2025-05-05": {}, "2025-06-02": {},
	"2025-10-01": {}, "2025-10-02": {}, "2025-10-03": {}, "2025-10-06": {},
	"2025-10-07": {}, "2025-10-08": {},
	// 2026
	"2026-01-01": {}, "2026-01-02": {}, "2026-02-16": {}, "2026-02-17": {},
	"2026-02-18": {}, "2026-02-19": {}, "2026-02-20": {}, "2026-04-06": {},
	"2026-05-01": {}, "2026-05-04": {}, "2026-05-05": {}, "2026-06-19": {},
	"2026-09-25": {}, "2026-10-01": {}, "2026-10-02": {}, "2026-10-05": {},
	"2026-10-06": {}, "2026-10-07": {},
}

// exchangeLocation is the zone exchange timestamps are expressed in
var exchangeLocation = loadExchangeLocation()

func loadExchangeLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		loc = time.FixedZone("CST", 8*3600)
	}
	return loc
}

// Calendar answers trading-day and trading-hour questions for the
// Shanghai/Shenzhen exchanges.
type Calendar struct {
	loc *time.Location
}

// NewCalendar creates a calendar pinned to exchange local time
func NewCalendar() *Calendar {
	return &Calendar{loc: exchangeLocation}
}

// Location returns the exchange timezone
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Date formats t as an exchange-local YYYY-MM-DD string
func (c *Calendar) Date(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// IsTradingDay reports whether t falls on an open exchange day
func (c *Calendar) IsTradingDay(t time.Time) bool {
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, closed := cnHolidays[local.Format("2006-01-02")]
	return !closed
}

// IsTradingTime reports whether t falls inside a trading session
func (c *Calendar) IsTradingTime(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	mod := c.minuteOfDay(t)
	return (mod >= morningOpenMinute && mod < morningCloseMinute) ||
		(mod >= afternoonOpenMinute && mod < closeMinute)
}

// SecondsToClose returns the seconds remaining until the 15:00 close of
// t's day, zero once the close has passed.
func (c *Calendar) SecondsToClose(t time.Time) float64 {
	local := t.In(c.loc)
	closeAt := time.Date(local.Year(), local.Month(), local.Day(), 15, 0, 0, 0, c.loc)
	secs := closeAt.Sub(local).Seconds()
	if secs < 0 {
		return 0
	}
	return secs
}

// NextOpen returns the next session start at or after t
func (c *Calendar) NextOpen(t time.Time) time.Time {
	local := t.In(c.loc)
	if c.IsTradingTime(local) {
		return local
	}

	if c.IsTradingDay(local) {
		mod := c.minuteOfDay(local)
		switch {
		case mod < morningOpenMinute:
			return c.sessionStart(local, morningOpenMinute)
		case mod < afternoonOpenMinute:
			return c.sessionStart(local, afternoonOpenMinute)
		}
	}

	// Walk forward to the next trading day's morning open
	day := local.AddDate(0, 0, 1)
	for i := 0; i < 60; i++ {
		if c.IsTradingDay(day) {
			return c.sessionStart(day, morningOpenMinute)
		}
		day = day.AddDate(0, 0, 1)
	}
	return c.sessionStart(day, morningOpenMinute)
}

// LastTradingDay returns the most recent trading day at or before t
// as a YYYY-MM-DD string.
func (c *Calendar) LastTradingDay(t time.Time) string {
	day := t.In(c.loc)
	for i := 0; i < 60; i++ {
		if c.IsTradingDay(day) {
			return day.Format("2006-01-02")
		}
		day = day.AddDate(0, 0, -1)
	}
	return day.Format("2006-01-02")
}

// TradingDates returns every trading day in [start, end], inclusive,
// as YYYY-MM-DD strings in ascending order.
func (c *Calendar) TradingDates(start, end string) ([]string, error) {
	from, err := time.ParseInLocation("2006-01-02", start, c.loc)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	to, err := time.ParseInLocation("2006-01-02", end, c.loc)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("end date %s before start date %s", end, start)
	}

	var dates []string
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if c.IsTradingDay(day) {
			dates = append(dates, day.Format("2006-01-02"))
		}
	}
	return dates, nil
}

// SessionMinutes returns the trading sessions as [open, close) minute
// pairs from midnight, used to lay out intraday bars.
func SessionMinutes() [][2]int {
	return [][2]int{
		{morningOpenMinute, morningCloseMinute},
		{afternoonOpenMinute, closeMinute},
	}
}

func (c *Calendar) minuteOfDay(t time.Time) int {
	local := t.In(c.loc)
	return local.Hour()*60 + local.Minute()
}

func (c *Calendar) sessionStart(day time.Time, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minute/60, minute%60, 0, 0, c.loc)
}
