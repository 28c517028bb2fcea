// Package market provides quote, holdings and kline access for the
// A-share market, with TTL caching and a local kline history cache.
package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
)

// ErrNoData is returned when an upstream answered but carried nothing
// usable for the requested code.
var ErrNoData = errors.New("no data for code")

// QuoteProvider fetches real-time quotes in batch
type QuoteProvider interface {
	Quotes(ctx context.Context, codes []string) (map[string]*domain.Quote, error)
}

// HoldingsProvider fetches an ETF's top stock holdings
type HoldingsProvider interface {
	TopHoldings(ctx context.Context, etfCode string) ([]domain.Holding, error)
}

// HistoryProvider fetches recent daily klines for a security
type HistoryProvider interface {
	DailyKlines(ctx context.Context, code string, days int) ([]domain.Kline, error)
}

// SourceInfo describes a registered market data source
type SourceInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Sources lists the compiled-in market data sources
func Sources() []SourceInfo {
	return []SourceInfo{
		{Name: "tencent", Description: "Tencent quote and kline HTTP API"},
		{Name: "eastmoney", Description: "Eastmoney fund holdings HTTP API"},
	}
}

// ExchangeSymbol converts a bare 6-digit code into the exchange-prefixed
// form upstream APIs expect: sh600519, sz000001, bj430047.
func ExchangeSymbol(code string) string {
	if len(code) == 0 {
		return code
	}
	switch code[0] {
	case '6', '5':
		return "sh" + code
	case '0', '3', '1':
		return "sz" + code
	default:
		return "bj" + code
	}
}

// SymbolCode strips the exchange prefix from a symbol like sh600519
func SymbolCode(symbol string) (string, error) {
	if len(symbol) < 3 {
		return "", fmt.Errorf("malformed symbol %q", symbol)
	}
	code := symbol[2:]
	if !domain.IsValidCode(code) {
		return "", fmt.Errorf("malformed symbol %q", symbol)
	}
	return code, nil
}
