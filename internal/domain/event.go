package domain

import "time"

// Event type names used as the registry contract
const (
	EventLimitUp  = "limit_up"
	EventMomentum = "momentum"
	EventBreakout = "breakout"
)

// MarketEvent is a detected market condition worth routing through the pipeline
type MarketEvent interface {
	Type() string
	Time() time.Time
	Stock() (code, name string)
}

// LimitUpEvent fires when a stock is pinned at its daily price ceiling
type LimitUpEvent struct {
	StockCode    string    `json:"stock_code"`
	StockName    string    `json:"stock_name"`
	Price        float64   `json:"price"`
	ChangePct    float64   `json:"change_pct"`
	LimitTime    time.Time `json:"limit_time"` // First time the stock sealed today
	SealAmount   float64   `json:"seal_amount"`
	OpenCount    int       `json:"open_count"` // Times the seal broke and re-formed
	IsFirstLimit bool      `json:"is_first_limit"`
	Timestamp    time.Time `json:"timestamp"`
}

func (e LimitUpEvent) Type() string { return EventLimitUp }

func (e LimitUpEvent) Time() time.Time { return e.Timestamp }

func (e LimitUpEvent) Stock() (code, name string) { return e.StockCode, e.StockName }

// MomentumEvent fires on a sustained directional move confirmed by rate-of-change
type MomentumEvent struct {
	StockCode string    `json:"stock_code"`
	StockName string    `json:"stock_name"`
	Price     float64   `json:"price"`
	ChangePct float64   `json:"change_pct"`
	ROC       float64   `json:"roc"` // N-day rate of change, fractional
	RSI       float64   `json:"rsi"`
	Timestamp time.Time `json:"timestamp"`
}

func (e MomentumEvent) Type() string { return EventMomentum }

func (e MomentumEvent) Time() time.Time { return e.Timestamp }

func (e MomentumEvent) Stock() (code, name string) { return e.StockCode, e.StockName }

// BreakoutEvent fires when the price clears the rolling N-day high
type BreakoutEvent struct {
	StockCode string    `json:"stock_code"`
	StockName string    `json:"stock_name"`
	Price     float64   `json:"price"`
	ChangePct float64   `json:"change_pct"`
	High      float64   `json:"high"` // The rolling high that was cleared
	Lookback  int       `json:"lookback"`
	Timestamp time.Time `json:"timestamp"`
}

func (e BreakoutEvent) Type() string { return EventBreakout }

func (e BreakoutEvent) Time() time.Time { return e.Timestamp }

func (e BreakoutEvent) Stock() (code, name string) { return e.StockCode, e.StockName }
