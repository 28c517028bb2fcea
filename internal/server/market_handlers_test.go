package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
)

func TestStocksReturnsWatchlistQuotes(t *testing.T) {
	f := newFixture(t)
	f.seedLimitUp(t)

	rec := f.do(t, http.MethodGet, "/api/stocks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decodeList(t, rec)
	require.Len(t, list, 1)
	quote := list[0].(map[string]any)
	assert.Equal(t, "600036", quote["code"])
	assert.Equal(t, true, quote["is_limit_up"])
}

func TestStocksEmptyWatchlist(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/stocks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeList(t, rec))
}

func TestStocksProviderDown(t *testing.T) {
	f := newFixture(t)
	f.seedLimitUp(t)
	f.quotes.setErr(assert.AnError)

	rec := f.do(t, http.MethodGet, "/api/stocks", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	requireErrorKind(t, rec, kindDependency)
}

func TestRelatedETFs(t *testing.T) {
	f := newFixture(t)
	f.seedLimitUp(t)

	rec := f.do(t, http.MethodGet, "/api/stocks/600036/related-etfs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decodeList(t, rec)
	require.Len(t, list, 1)
	candidate := list[0].(map[string]any)
	assert.Equal(t, "512800", candidate["etf_code"])
	assert.InDelta(t, 0.085, candidate["weight"].(float64), 1e-9)
	assert.InDelta(t, 6.2e8, candidate["daily_amount"].(float64), 1)
}

func TestRelatedETFsUnknownStock(t *testing.T) {
	f := newFixture(t)
	f.seedLimitUp(t)

	rec := f.do(t, http.MethodGet, "/api/stocks/000001/related-etfs", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	requireErrorKind(t, rec, kindNotFound)
}

func TestStockHistory(t *testing.T) {
	f := newFixture(t)
	f.history.series["600036"] = []domain.Kline{
		{Date: "2025-08-21", Open: 33.2, High: 36.3, Low: 33.0, Close: 36.3, Amount: 2.4e9},
		{Date: "2025-08-22", Open: 36.8, High: 37.4, Low: 36.2, Close: 37.0, Amount: 2.2e9},
	}

	rec := f.do(t, http.MethodGet, "/api/stocks/600036/history?days=30", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decodeList(t, rec)
	require.Len(t, list, 2)
	first := list[0].(map[string]any)
	assert.Equal(t, "2025-08-21", first["date"])
	assert.InDelta(t, 36.3, first["close"].(float64), 1e-9)
}

func TestStockHistoryBadParams(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/stocks/abc/history", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	requireErrorKind(t, rec, kindValidation)

	rec = f.do(t, http.MethodGet, "/api/stocks/600036/history?days=zero", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	requireErrorKind(t, rec, kindValidation)
}

func TestStockHistoryProviderDown(t *testing.T) {
	f := newFixture(t)
	f.history.err = assert.AnError

	rec := f.do(t, http.MethodGet, "/api/stocks/600036/history", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	requireErrorKind(t, rec, kindDependency)
}

func TestLimitUpList(t *testing.T) {
	f := newFixture(t)
	f.seedLimitUp(t)

	rec := f.do(t, http.MethodGet, "/api/limit-up", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decodeList(t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "600036", list[0].(map[string]any)["code"])

	// Second read is served from the 30s snapshot even if the provider
	// goes away.
	f.quotes.setErr(assert.AnError)
	rec = f.do(t, http.MethodGet, "/api/limit-up", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeList(t, rec), 1)
}

func TestLimitUpEmptyUniverse(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/limit-up", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeList(t, rec))
}
