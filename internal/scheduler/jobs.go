package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bleakplain/etf-arb-tracker/internal/database"
	"github.com/bleakplain/etf-arb-tracker/internal/mapping"
	"github.com/bleakplain/etf-arb-tracker/internal/market"
)

// defaultHistoryKeepDays keeps roughly a year and a half of daily bars,
// enough for the 250-bar detector lookbacks with margin.
const defaultHistoryKeepDays = 400

// DailyMaintenanceJob checkpoints WAL files, logs database statistics
// and prunes old klines from the history cache. Scheduled off-hours.
type DailyMaintenanceJob struct {
	databases map[string]*database.DB
	history   *market.HistoryDB
	cal       *market.Calendar
	keepDays  int
	log       zerolog.Logger
}

// NewDailyMaintenanceJob creates the maintenance job. keepDays <= 0
// falls back to the default retention.
func NewDailyMaintenanceJob(
	databases map[string]*database.DB,
	history *market.HistoryDB,
	cal *market.Calendar,
	keepDays int,
	log zerolog.Logger,
) *DailyMaintenanceJob {
	if keepDays <= 0 {
		keepDays = defaultHistoryKeepDays
	}
	return &DailyMaintenanceJob{
		databases: databases,
		history:   history,
		cal:       cal,
		keepDays:  keepDays,
		log:       log.With().Str("job", "daily_maintenance").Logger(),
	}
}

// Run executes one maintenance cycle. Checkpoint failures are logged
// and skipped; a prune failure fails the run.
func (j *DailyMaintenanceJob) Run() error {
	start := time.Now()
	j.log.Info().Msg("Starting daily maintenance")

	for name, db := range j.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Str("database", name).Err(err).Msg("WAL checkpoint failed")
			continue
		}

		stats, err := db.GetStats()
		if err != nil {
			j.log.Warn().Str("database", name).Err(err).Msg("Failed to read database stats")
			continue
		}
		j.log.Info().
			Str("database", name).
			Int64("size_bytes", stats.SizeBytes).
			Int64("wal_bytes", stats.WALSizeBytes).
			Int64("pages", stats.PageCount).
			Int64("freelist", stats.FreelistCount).
			Msg("Database checkpointed")
	}

	if j.history != nil {
		cutoff := time.Now().In(j.cal.Location()).AddDate(0, 0, -j.keepDays).Format("2006-01-02")
		pruned, err := j.history.PruneBefore(cutoff)
		if err != nil {
			return fmt.Errorf("prune history before %s: %w", cutoff, err)
		}
		if pruned > 0 {
			j.log.Info().Int64("rows", pruned).Str("cutoff", cutoff).Msg("Pruned old klines")
		}
	}

	j.log.Info().Dur("duration_ms", time.Since(start)).Msg("Daily maintenance completed")
	return nil
}

// Name returns the job name for the scheduler.
func (j *DailyMaintenanceJob) Name() string {
	return "daily_maintenance"
}

// MappingRefreshJob rebuilds the stock/ETF mapping before the session
// opens so the day's scans see fresh holdings. Skips non-trading days.
type MappingRefreshJob struct {
	store    *mapping.Store
	src      mapping.HoldingsSource
	universe []string
	savePath string
	cal      *market.Calendar
	opts     mapping.BuildOptions
	log      zerolog.Logger
	now      func() time.Time // Overridable in tests
}

// NewMappingRefreshJob creates the pre-open mapping refresh job.
func NewMappingRefreshJob(
	store *mapping.Store,
	src mapping.HoldingsSource,
	universe []string,
	savePath string,
	cal *market.Calendar,
	opts mapping.BuildOptions,
	log zerolog.Logger,
) *MappingRefreshJob {
	return &MappingRefreshJob{
		store:    store,
		src:      src,
		universe: universe,
		savePath: savePath,
		cal:      cal,
		opts:     opts,
		log:      log.With().Str("job", "mapping_refresh").Logger(),
		now:      time.Now,
	}
}

// Run rebuilds and persists the mapping. A failed rebuild keeps the
// previous snapshot in place.
func (j *MappingRefreshJob) Run() error {
	now := j.now().In(j.cal.Location())
	if !j.cal.IsTradingDay(now) {
		j.log.Debug().Msg("Not a trading day, skipping mapping refresh")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	return j.Refresh(ctx)
}

// Refresh rebuilds and persists the mapping unconditionally. Manual
// triggers go through here so they work outside trading days too.
func (j *MappingRefreshJob) Refresh(ctx context.Context) error {
	if err := j.store.Rebuild(ctx, j.universe, j.src, j.opts); err != nil {
		return fmt.Errorf("rebuild mapping: %w", err)
	}

	if err := j.store.Save(j.savePath); err != nil {
		return fmt.Errorf("save mapping: %w", err)
	}

	j.log.Info().
		Int("stocks", j.store.Len()).
		Int("etfs", j.store.CoveredETFCount()).
		Msg("Mapping refreshed")
	return nil
}

// Name returns the job name for the scheduler.
func (j *MappingRefreshJob) Name() string {
	return "mapping_refresh"
}
