package server

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleakplain/etf-arb-tracker/internal/backtest"
	"github.com/bleakplain/etf-arb-tracker/internal/domain"
)

// seedReplay installs klines where 600036 closes at its ceiling on
// 2025-08-21, so a daily backtest over that week emits one signal.
func (f *fixture) seedReplay(t *testing.T) {
	t.Helper()
	f.seedLimitUp(t)

	f.history.series["600036"] = []domain.Kline{
		{Date: "2025-08-19", Open: 31.8, High: 32.1, Low: 31.6, Close: 32.00, Amount: 1.9e9},
		{Date: "2025-08-20", Open: 32.2, High: 33.5, Low: 32.1, Close: 33.00, Amount: 2.1e9},
		{Date: "2025-08-21", Open: 33.2, High: 36.30, Low: 33.0, Close: 36.30, Amount: 2.4e9},
		{Date: "2025-08-22", Open: 36.8, High: 37.4, Low: 36.2, Close: 37.00, Amount: 2.2e9},
	}
	f.history.series["512800"] = []domain.Kline{
		{Date: "2025-08-19", Open: 1.49, High: 1.51, Low: 1.48, Close: 1.50, Amount: 5.8e8},
		{Date: "2025-08-20", Open: 1.50, High: 1.52, Low: 1.49, Close: 1.51, Amount: 6.2e8},
		{Date: "2025-08-21", Open: 1.51, High: 1.56, Low: 1.50, Close: 1.55, Amount: 7.0e8},
		{Date: "2025-08-22", Open: 1.55, High: 1.58, Low: 1.53, Close: 1.56, Amount: 6.5e8},
	}
}

func (f *fixture) startBacktest(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/backtest/start", map[string]any{
		"start_date":  "2025-08-20",
		"end_date":    "2025-08-22",
		"granularity": "daily",
		"securities":  []string{"600036"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decodeMap(t, rec)["job_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func (f *fixture) waitForJob(t *testing.T, id string, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		rec := f.do(t, http.MethodGet, "/api/backtest/"+id, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		return decodeMap(t, rec)["status"] == want
	}, 5*time.Second, 20*time.Millisecond)
}

func TestBacktestLifecycle(t *testing.T) {
	f := newFixture(t)
	f.seedReplay(t)

	id := f.startBacktest(t)
	f.waitForJob(t, id, "completed")

	rec := f.do(t, http.MethodGet, "/api/backtest/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	job := decodeMap(t, rec)
	assert.Equal(t, float64(1), job["progress"])

	rec = f.do(t, http.MethodGet, "/api/backtest/"+id+"/result", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeMap(t, rec)
	stats := result["statistics"].(map[string]any)
	assert.Equal(t, float64(1), stats["total_signals"])

	rec = f.do(t, http.MethodGet, "/api/backtest/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeList(t, rec), 1)

	rec = f.do(t, http.MethodDelete, "/api/backtest/"+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/backtest/"+id, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	requireErrorKind(t, rec, kindNotFound)
}

func TestBacktestSignalsCSV(t *testing.T) {
	f := newFixture(t)
	f.seedReplay(t)

	id := f.startBacktest(t)
	f.waitForJob(t, id, "completed")

	rec := f.do(t, http.MethodGet, "/api/backtest/"+id+"/signals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")

	body := rec.Body.Bytes()
	require.True(t, bytes.HasPrefix(body, []byte{0xEF, 0xBB, 0xBF}), "missing UTF-8 BOM")

	lines := bytes.Split(bytes.TrimSpace(body[3:]), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Equal(t,
		`"timestamp","stock_code","stock_name","stock_price","etf_code","etf_name","etf_weight","confidence","risk_level","reason"`,
		string(bytes.TrimRight(lines[0], "\r")))
	assert.Contains(t, string(lines[1]), `"600036"`)
	assert.Contains(t, string(lines[1]), `"512800"`)
}

func TestBacktestSignalsJSON(t *testing.T) {
	f := newFixture(t)
	f.seedReplay(t)

	id := f.startBacktest(t)
	f.waitForJob(t, id, "completed")

	rec := f.do(t, http.MethodGet, "/api/backtest/"+id+"/signals?format=json", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decodeList(t, rec)
	require.Len(t, list, 1)
	sig := list[0].(map[string]any)
	assert.Equal(t, "600036", sig["stock_code"])
	assert.Equal(t, "512800", sig["etf_code"])
}

func TestBacktestStartRejectsBadConfig(t *testing.T) {
	f := newFixture(t)
	f.seedReplay(t)

	rec := f.do(t, http.MethodPost, "/api/backtest/start", map[string]any{
		"start_date": "2025-08-22",
		"end_date":   "2025-08-20",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	requireErrorKind(t, rec, kindValidation)

	rec = f.do(t, http.MethodPost, "/api/backtest/start", map[string]any{
		"start_date":  "2025-08-20",
		"end_date":    "2025-08-22",
		"granularity": "hourly",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	requireErrorKind(t, rec, kindValidation)

	rec = f.do(t, http.MethodPost, "/api/backtest/start", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	requireErrorKind(t, rec, kindValidation)
}

func TestBacktestUnknownJob(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{
		"/api/backtest/nope",
		"/api/backtest/nope/result",
		"/api/backtest/nope/signals",
	} {
		rec := f.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusNotFound, rec.Code, path)
		requireErrorKind(t, rec, kindNotFound)
	}

	rec := f.do(t, http.MethodDelete, "/api/backtest/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBacktestResultBeforeCompletion(t *testing.T) {
	f := newFixture(t)
	f.seedReplay(t)

	release := make(chan struct{})
	inner := f.snapshots
	f.snapshots = func(cfg backtest.Config) (*backtest.SnapshotSet, error) {
		<-release
		return inner(cfg)
	}

	id := f.startBacktest(t)
	f.waitForJob(t, id, "running")

	rec := f.do(t, http.MethodGet, "/api/backtest/"+id+"/result", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	requireErrorKind(t, rec, kindConflict)

	close(release)
	f.waitForJob(t, id, "completed")
}

func TestBacktestJobsFilter(t *testing.T) {
	f := newFixture(t)
	f.seedReplay(t)

	id := f.startBacktest(t)
	f.waitForJob(t, id, "completed")

	rec := f.do(t, http.MethodGet, "/api/backtest/jobs?status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeList(t, rec), 1)

	rec = f.do(t, http.MethodGet, "/api/backtest/jobs?status=failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeList(t, rec))

	rec = f.do(t, http.MethodGet, "/api/backtest/jobs?status=bogus", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	requireErrorKind(t, rec, kindValidation)
}
