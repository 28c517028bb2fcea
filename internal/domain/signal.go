package domain

import "time"

// ConfidenceLevel buckets a signal's confidence score
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// RiskLevel classifies the execution risk of acting on a signal
type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

// TradingSignal proposes an ETF vehicle for a detected stock event.
// Immutable once persisted; ID is assigned by the repository.
type TradingSignal struct {
	ID              int64              `json:"id"`
	UID             string             `json:"uid"`
	Timestamp       time.Time          `json:"timestamp"`
	StockCode       string             `json:"stock_code"`
	StockName       string             `json:"stock_name"`
	StockPrice      float64            `json:"stock_price"`
	ETFCode         string             `json:"etf_code"`
	ETFName         string             `json:"etf_name"`
	Weight          float64            `json:"weight"`
	EventType       string             `json:"event_type"`
	ConfidenceLevel ConfidenceLevel    `json:"confidence_level"`
	ConfidenceScore float64            `json:"confidence_score"`
	RiskLevel       RiskLevel          `json:"risk_level"`
	Reason          string             `json:"reason"`
	Breakdown       map[string]float64 `json:"breakdown,omitempty"` // Per-factor sub-scores
}

// Rejection records a per-security pipeline rejection inside a scan
type Rejection struct {
	StockCode string `json:"stock_code"`
	Reason    string `json:"reason"`
}

// ScanResult summarizes one sweep of the engine over the watchlist
type ScanResult struct {
	CandidatesSeen int             `json:"candidates_seen"`
	Events         int             `json:"events"`
	SignalsEmitted []TradingSignal `json:"signals_emitted"`
	Rejected       []Rejection     `json:"rejected"`
	Errors         int             `json:"errors"`
	ElapsedMs      int64           `json:"elapsed_ms"`
}
