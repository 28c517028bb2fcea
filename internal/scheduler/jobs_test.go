package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleakplain/etf-arb-tracker/internal/database"
	"github.com/bleakplain/etf-arb-tracker/internal/domain"
	"github.com/bleakplain/etf-arb-tracker/internal/mapping"
	"github.com/bleakplain/etf-arb-tracker/internal/market"
)

func TestDailyMaintenancePrunesHistory(t *testing.T) {
	dir := t.TempDir()
	cal := market.NewCalendar()

	db, err := database.New(database.Config{
		Path:    filepath.Join(dir, "signals.db"),
		Profile: database.ProfileLedger,
		Name:    "signals",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	history, err := market.OpenHistoryDB(filepath.Join(dir, "history.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	old := time.Now().AddDate(0, 0, -500).Format("2006-01-02")
	recent := time.Now().AddDate(0, 0, -10).Format("2006-01-02")
	require.NoError(t, history.UpsertKlines("600036", []domain.Kline{
		{Date: old, Open: 30, High: 31, Low: 29, Close: 30.5, Volume: 1e6, Amount: 3e7},
		{Date: recent, Open: 38, High: 39, Low: 37, Close: 38.5, Volume: 1e6, Amount: 3.8e7},
	}))

	job := NewDailyMaintenanceJob(
		map[string]*database.DB{"signals": db},
		history, cal, 100, zerolog.Nop(),
	)
	require.Equal(t, "daily_maintenance", job.Name())
	require.NoError(t, job.Run())

	count, err := history.Count("600036")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "bar older than retention should be pruned")

	klines, err := history.GetKlines("600036", 10)
	require.NoError(t, err)
	require.Len(t, klines, 1)
	assert.Equal(t, recent, klines[0].Date)
}

func TestDailyMaintenanceWithoutHistory(t *testing.T) {
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "signals.db"),
		Profile: database.ProfileLedger,
		Name:    "signals",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	job := NewDailyMaintenanceJob(
		map[string]*database.DB{"signals": db},
		nil, market.NewCalendar(), 0, zerolog.Nop(),
	)
	assert.NoError(t, job.Run())
}

type stubHoldings struct {
	byETF map[string][]domain.Holding
	calls int
	err   error
}

func (s *stubHoldings) TopHoldings(_ context.Context, etfCode string) ([]domain.Holding, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.byETF[etfCode], nil
}

func refreshFixture() *stubHoldings {
	return &stubHoldings{byETF: map[string][]domain.Holding{
		"512800": {
			{StockCode: "600036", StockName: "招商银行", ETFCode: "512800", ETFName: "银行ETF", Weight: 0.085, Rank: 1},
			{StockCode: "601398", StockName: "工商银行", ETFCode: "512800", ETFName: "银行ETF", Weight: 0.064, Rank: 2},
		},
		"510300": {
			{StockCode: "600036", StockName: "招商银行", ETFCode: "510300", ETFName: "沪深300ETF", Weight: 0.031, Rank: 7},
		},
	}}
}

func tradingDayClock(cal *market.Calendar) func() time.Time {
	return func() time.Time {
		return time.Date(2025, 8, 22, 9, 0, 0, 0, cal.Location())
	}
}

func TestMappingRefreshRebuildsAndSaves(t *testing.T) {
	cal := market.NewCalendar()
	store := mapping.NewStore(zerolog.Nop())
	savePath := filepath.Join(t.TempDir(), "mapping.json")

	job := NewMappingRefreshJob(
		store, refreshFixture(), []string{"512800", "510300"},
		savePath, cal, mapping.BuildOptions{MinWeight: 0.01}, zerolog.Nop(),
	)
	require.Equal(t, "mapping_refresh", job.Name())
	job.now = tradingDayClock(cal)

	require.NoError(t, job.Run())

	assert.Equal(t, 2, store.Len())
	refs := store.ETFsFor("600036")
	require.Len(t, refs, 2)
	assert.Equal(t, "512800", refs[0].ETFCode, "highest weight listed first")

	reloaded := mapping.NewStore(zerolog.Nop())
	require.NoError(t, reloaded.Load(savePath))
	assert.Equal(t, 2, reloaded.Len())
}

func TestMappingRefreshSkipsNonTradingDay(t *testing.T) {
	cal := market.NewCalendar()
	store := mapping.NewStore(zerolog.Nop())
	src := refreshFixture()

	job := NewMappingRefreshJob(
		store, src, []string{"512800"},
		filepath.Join(t.TempDir(), "mapping.json"), cal,
		mapping.BuildOptions{}, zerolog.Nop(),
	)
	job.now = func() time.Time {
		return time.Date(2025, 8, 23, 9, 0, 0, 0, cal.Location()) // Saturday
	}

	require.NoError(t, job.Run())
	assert.Zero(t, src.calls, "no fetches outside trading days")
	assert.Zero(t, store.Len())
}

func TestMappingRefreshKeepsSnapshotOnFailure(t *testing.T) {
	cal := market.NewCalendar()
	store := mapping.NewStore(zerolog.Nop())

	seed := refreshFixture()
	seedJob := NewMappingRefreshJob(
		store, seed, []string{"512800", "510300"},
		filepath.Join(t.TempDir(), "mapping.json"), cal,
		mapping.BuildOptions{}, zerolog.Nop(),
	)
	seedJob.now = tradingDayClock(cal)
	require.NoError(t, seedJob.Run())
	before := store.Len()

	failing := &stubHoldings{err: fmt.Errorf("upstream down")}
	job := NewMappingRefreshJob(
		store, failing, []string{"512800", "510300"},
		filepath.Join(t.TempDir(), "mapping.json"), cal,
		mapping.BuildOptions{}, zerolog.Nop(),
	)
	job.now = tradingDayClock(cal)

	err := job.Run()
	require.ErrorContains(t, err, "rebuild mapping")
	assert.Equal(t, before, store.Len(), "failed rebuild keeps the previous snapshot")
}

func TestMappingRefreshSaveFailure(t *testing.T) {
	cal := market.NewCalendar()
	store := mapping.NewStore(zerolog.Nop())

	badPath := filepath.Join(t.TempDir(), "missing-dir", "mapping.json")
	require.NoError(t, os.WriteFile(filepath.Dir(badPath), []byte("file, not a dir"), 0644))

	job := NewMappingRefreshJob(
		store, refreshFixture(), []string{"512800"},
		badPath, cal, mapping.BuildOptions{}, zerolog.Nop(),
	)
	job.now = tradingDayClock(cal)

	assert.ErrorContains(t, job.Run(), "save mapping")
}
