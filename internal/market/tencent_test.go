package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quoteRecord builds a v_<symbol>="..." record with the given field
// overrides, all other fields zeroed.
func quoteRecord(symbol string, overrides map[int]string) string {
	fields := make([]string, 47)
	for i := range fields {
		fields[i] = "0"
	}
	for i, v := range overrides {
		fields[i] = v
	}
	return `v_` + symbol + `="` + strings.Join(fields, "~") + `";`
}

func newTencentTestClient(quoteURL, klineURL string) *TencentClient {
	return NewTencentClient(TencentOptions{
		QuoteBaseURL: quoteURL,
		KlineBaseURL: klineURL,
		Timeout:      2 * time.Second,
		Retries:      3,
		BackoffBase:  time.Millisecond,
		BackoffCap:   5 * time.Millisecond,
	}, zerolog.Nop())
}

func TestQuotesParsesRecordFields(t *testing.T) {
	body := quoteRecord("sh600519", map[int]string{
		1: "贵州茅台", 2: "600519",
		3: "1700.00", 4: "1690.00", 5: "1695.00",
		9: "1699.98", 10: "52",
		30: "20250822113000", 32: "0.59",
		33: "1710.00", 34: "1688.00",
		36: "38000", 37: "646000",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := newTencentTestClient(srv.URL, srv.URL)
	quotes, err := c.Quotes(context.Background(), []string{"600519"})
	require.NoError(t, err)
	require.Contains(t, quotes, "600519")

	q := quotes["600519"]
	assert.Equal(t, "贵州茅台", q.Name)
	assert.InDelta(t, 1700.00, q.Price, 1e-9)
	assert.InDelta(t, 1690.00, q.PrevClose, 1e-9)
	assert.InDelta(t, 1695.00, q.Open, 1e-9)
	assert.InDelta(t, 1710.00, q.High, 1e-9)
	assert.InDelta(t, 1688.00, q.Low, 1e-9)
	assert.InDelta(t, 0.0059, q.ChangePct, 1e-9)
	assert.InDelta(t, 38000*100, q.Volume, 1e-6)
	assert.InDelta(t, 646000*1e4, q.Amount, 1e-6)
	assert.InDelta(t, 1699.98*52*100, q.BidVolume, 1e-6)
	assert.False(t, q.IsLimitUp)
	assert.Equal(t, 2025, q.Timestamp.Year())
}

func TestQuotesFlagsLimitUp(t *testing.T) {
	body := quoteRecord("sz000001", map[int]string{
		1: "平安银行", 2: "000001",
		3: "11.00", 4: "10.00",
		30: "20250822100000", 32: "10.00",
		36: "500000", 37: "55000",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := newTencentTestClient(srv.URL, srv.URL)
	quotes, err := c.Quotes(context.Background(), []string{"000001"})
	require.NoError(t, err)

	q := quotes["000001"]
	assert.True(t, q.IsLimitUp)
	assert.False(t, q.IsLimitDown)
}

func TestQuotesSkipsMalformedRecords(t *testing.T) {
	body := "pv=1;" + `v_sh600519="1~too~short";` +
		quoteRecord("sz000001", map[int]string{2: "000001", 3: "10.00", 4: "10.00"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := newTencentTestClient(srv.URL, srv.URL)
	quotes, err := c.Quotes(context.Background(), []string{"600519", "000001"})
	require.NoError(t, err)
	assert.NotContains(t, quotes, "600519")
	assert.Contains(t, quotes, "000001")
}

func TestQuotesSplitsLargeBatches(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		symbols := strings.Split(strings.TrimPrefix(r.URL.Path, "/q="), ",")
		assert.LessOrEqual(t, len(symbols), maxBatchCodes)
		for _, sym := range symbols {
			code := sym[2:]
			w.Write([]byte(quoteRecord(sym, map[int]string{2: code, 3: "10.00", 4: "10.00"})))
		}
	}))
	defer srv.Close()

	codes := make([]string, 120)
	for i := range codes {
		codes[i] = "600" + padCode(i)
	}

	c := newTencentTestClient(srv.URL, srv.URL)
	quotes, err := c.Quotes(context.Background(), codes)
	require.NoError(t, err)
	assert.Len(t, quotes, 120)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func padCode(i int) string {
	digits := []byte{'0', '0', '0'}
	for pos := 2; pos >= 0 && i > 0; pos-- {
		digits[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(digits)
}

func TestFetchRetriesOnServerError(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(quoteRecord("sh600519", map[int]string{2: "600519", 3: "10.00", 4: "10.00"})))
	}))
	defer srv.Close()

	c := newTencentTestClient(srv.URL, srv.URL)
	quotes, err := c.Quotes(context.Background(), []string{"600519"})
	require.NoError(t, err)
	assert.Contains(t, quotes, "600519")
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTencentTestClient(srv.URL, srv.URL)
	_, err := c.Quotes(context.Background(), []string{"600519"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestDailyKlinesParsesRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.String(), "sh600519,day")
		w.Write([]byte(`{"code":0,"msg":"","data":{"sh600519":{"qfqday":[
			["2025-08-20","1690.00","1700.00","1710.00","1680.00","38000.00","646000000"],
			["2025-08-21","1700.00","1705.00","1712.00","1698.00","41000.00"]
		]}}}`))
	}))
	defer srv.Close()

	c := newTencentTestClient(srv.URL, srv.URL)
	klines, err := c.DailyKlines(context.Background(), "600519", 2)
	require.NoError(t, err)
	require.Len(t, klines, 2)

	assert.Equal(t, "2025-08-20", klines[0].Date)
	assert.InDelta(t, 1690.00, klines[0].Open, 1e-9)
	assert.InDelta(t, 1700.00, klines[0].Close, 1e-9)
	assert.InDelta(t, 1710.00, klines[0].High, 1e-9)
	assert.InDelta(t, 1680.00, klines[0].Low, 1e-9)
	assert.InDelta(t, 646000000, klines[0].Amount, 1e-6)
	assert.Zero(t, klines[1].Amount)
}

func TestDailyKlinesFallsBackToUnadjustedKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"msg":"","data":{"sh510300":{"day":[
			["2025-08-21","3.90","3.95","3.97","3.89","120000.00"]
		]}}}`))
	}))
	defer srv.Close()

	c := newTencentTestClient(srv.URL, srv.URL)
	klines, err := c.DailyKlines(context.Background(), "510300", 1)
	require.NoError(t, err)
	require.Len(t, klines, 1)
	assert.InDelta(t, 3.95, klines[0].Close, 1e-9)
}

func TestDailyKlinesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":-1,"msg":"param error","data":{}}`))
	}))
	defer srv.Close()

	c := newTencentTestClient(srv.URL, srv.URL)
	_, err := c.DailyKlines(context.Background(), "600519", 10)
	assert.Error(t, err)
}

func TestExchangeSymbol(t *testing.T) {
	tests := []struct {
		code, want string
	}{
		{"600519", "sh600519"},
		{"510300", "sh510300"},
		{"000001", "sz000001"},
		{"300750", "sz300750"},
		{"159915", "sz159915"},
		{"430047", "bj430047"},
		{"920002", "bj920002"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExchangeSymbol(tt.code), tt.code)
	}
}
