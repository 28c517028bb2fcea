// Package domain provides core domain models for the arbitrage engine.
package domain

import (
	"regexp"
	"time"
)

// codePattern matches a 6-digit A-share security code
var codePattern = regexp.MustCompile(`^\d{6}$`)

// IsValidCode reports whether code is a well-formed 6-digit security code
func IsValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// Quote represents a point-in-time market quote for a security.
// Immutable; produced by the provider boundary.
type Quote struct {
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Price       float64   `json:"price"`
	PrevClose   float64   `json:"prev_close"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	ChangePct   float64   `json:"change_pct"` // Fractional: +0.10 = +10%
	Volume      float64   `json:"volume"`
	Amount      float64   `json:"amount"`     // Cash turnover
	BidVolume   float64   `json:"bid_volume"` // Best-bid queue in cash, 0 when unknown
	Timestamp   time.Time `json:"timestamp"`
	IsLimitUp   bool      `json:"is_limit_up"`
	IsLimitDown bool      `json:"is_limit_down"`
}

// Kline represents a single OHLCV bar
type Kline struct {
	Date   string  `json:"date"` // YYYY-MM-DD
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	Amount float64 `json:"amount"`
}

// Holding represents one position inside an ETF's periodic top-holdings disclosure
type Holding struct {
	StockCode string    `json:"stock_code"`
	StockName string    `json:"stock_name"`
	ETFCode   string    `json:"etf_code"`
	ETFName   string    `json:"etf_name"`
	Weight    float64   `json:"weight"` // Fraction of net assets in [0,1]
	Rank      int       `json:"rank"`   // 1-based position in the top holdings
	AsOf      time.Time `json:"as_of"`  // Disclosure snapshot date
}

// ETFRef is one entry in a stock's mapped ETF list, ordered by weight descending
type ETFRef struct {
	ETFCode string  `json:"etf_code"`
	ETFName string  `json:"etf_name"`
	Weight  float64 `json:"weight"`
	Rank    int     `json:"rank"`
}

// CandidateETF is an ETF eligible to act as the trading vehicle for a stock event
type CandidateETF struct {
	ETFCode     string  `json:"etf_code"`
	ETFName     string  `json:"etf_name"`
	Weight      float64 `json:"weight"`
	Rank        int     `json:"rank"`
	DailyAmount float64 `json:"daily_amount"`
	Top10Ratio  float64 `json:"top10_ratio"` // Summed weight of the ETF's top holdings
	Quote       *Quote  `json:"quote,omitempty"`
}
