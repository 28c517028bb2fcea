// Package main is the entry point for the ETF arbitrage tracker.
// The service watches a set of A-share securities for limit-up events,
// resolves each event to an ETF vehicle that still trades the pinned
// stock, scores the resulting signal, persists it, and exposes the
// whole machine over an HTTP control plane.
//
// Startup order matters: configuration first (it decides the log level
// and data paths), then storage, then the market-data providers and
// caches, then the strategy pipeline, and only once all of those are
// wired the monitor, scheduler and HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/bleakplain/etf-arb-tracker/internal/backtest"
	"github.com/bleakplain/etf-arb-tracker/internal/backup"
	"github.com/bleakplain/etf-arb-tracker/internal/cache"
	"github.com/bleakplain/etf-arb-tracker/internal/config"
	"github.com/bleakplain/etf-arb-tracker/internal/database"
	"github.com/bleakplain/etf-arb-tracker/internal/domain"
	"github.com/bleakplain/etf-arb-tracker/internal/engine"
	"github.com/bleakplain/etf-arb-tracker/internal/mapping"
	"github.com/bleakplain/etf-arb-tracker/internal/market"
	"github.com/bleakplain/etf-arb-tracker/internal/scheduler"
	"github.com/bleakplain/etf-arb-tracker/internal/server"
	signalpkg "github.com/bleakplain/etf-arb-tracker/internal/signal"
	"github.com/bleakplain/etf-arb-tracker/internal/strategy"
	"github.com/bleakplain/etf-arb-tracker/internal/watchlist"
	"github.com/bleakplain/etf-arb-tracker/pkg/logger"
)

// mappingMinWeight is the floor applied when building the stock/ETF
// mapping. The strategy's own eligibility floor (min_weight) is applied
// at scan time, so the mapping keeps everything that could plausibly
// matter under any template.
const mappingMinWeight = 0.01

func main() {
	initMapping := flag.Bool("init-mapping", false,
		"build the stock/ETF mapping from the configured universe, save it and exit")
	flag.Parse()

	// Load configuration first to get the log level. Configuration comes
	// from environment variables, with .env file support.
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("template", cfg.Strategy.Template).
		Int("port", cfg.Port).
		Str("data_dir", cfg.DataDir).
		Msg("Starting ETF arbitrage tracker")

	// Trading calendar: Asia/Shanghai sessions and the A-share holiday
	// set. Everything time-related downstream goes through it.
	calendar := market.NewCalendar()

	// Market data providers. Tencent serves batch quotes and daily
	// klines, Eastmoney serves ETF holdings.
	tencent := market.NewTencentClient(market.TencentOptions{
		QuoteBaseURL: cfg.Provider.QuoteBaseURL,
		KlineBaseURL: cfg.Provider.KlineBaseURL,
		Timeout:      cfg.Provider.Timeout,
		Retries:      cfg.Provider.Retries,
		BackoffBase:  cfg.Provider.BackoffBase,
		BackoffCap:   cfg.Provider.BackoffCap,
	}, log)
	eastmoney := market.NewEastmoneyClient(market.EastmoneyOptions{
		FundBaseURL: cfg.Provider.FundBaseURL,
		Timeout:     cfg.Provider.Timeout,
		Retries:     cfg.Provider.Retries,
		BackoffBase: cfg.Provider.BackoffBase,
		BackoffCap:  cfg.Provider.BackoffCap,
	}, log)

	// Stock -> ETF mapping. -init-mapping builds it and exits; a normal
	// boot loads the persisted document and relies on the pre-open
	// refresh job or the admin endpoint to keep it current.
	mappingStore := mapping.NewStore(log)
	buildOpts := mapping.BuildOptions{MinWeight: mappingMinWeight}

	if *initMapping {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := mappingStore.Rebuild(ctx, cfg.Strategy.ETFUniverse, eastmoney, buildOpts); err != nil {
			log.Fatal().Err(err).Msg("Mapping build failed")
		}
		if err := mappingStore.Save(cfg.MappingPath()); err != nil {
			log.Fatal().Err(err).Msg("Mapping save failed")
		}
		log.Info().
			Int("stocks", mappingStore.Len()).
			Int("etfs", mappingStore.CoveredETFCount()).
			Str("path", cfg.MappingPath()).
			Msg("Mapping built")
		return
	}

	if err := mappingStore.Load(cfg.MappingPath()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("path", cfg.MappingPath()).
				Msg("No mapping document; run with -init-mapping or POST /api/mapping/rebuild")
		} else {
			log.Fatal().Err(err).Msg("Failed to load mapping")
		}
	} else {
		log.Info().
			Int("stocks", mappingStore.Len()).
			Int("etfs", mappingStore.CoveredETFCount()).
			Msg("Mapping loaded")
	}

	// Watchlist. First boot seeds it from the configured codes; after
	// that the JSON document is the source of truth and the HTTP API
	// edits it.
	watch, err := watchlist.NewStore(cfg.WatchlistPath(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open watchlist")
	}
	if watch.Count() == 0 && len(cfg.Strategy.Watchlist) > 0 {
		seedWatchlist(watch, tencent, cfg.Strategy.Watchlist, log)
	}

	// Storage. The signal ledger gets the conservative profile; the
	// kline history cache is rebuildable from upstream and lives in its
	// own database.
	signalsDB, err := database.New(database.Config{
		Path:    cfg.SignalsDBPath(),
		Profile: database.ProfileLedger,
		Name:    "signals",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open signals database")
	}
	defer signalsDB.Close()

	historyDB, err := market.OpenHistoryDB(cfg.HistoryDBPath(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer historyDB.Close()

	signals, err := signalpkg.NewRepository(signalsDB.Conn(), calendar.Location(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize signal repository")
	}

	// Signal delivery: the fanout pushes accepted signals to every
	// registered sender, the hub feeds websocket subscribers.
	fanout := signalpkg.NewFanout(log)
	fanout.Add(signalpkg.NewLogSender(log))
	hub := signalpkg.NewHub(log)

	// Strategy registries with the built-in detector/selector/filter
	// set, then the live pipeline from configuration.
	registries := strategy.NewRegistries(log)
	if err := strategy.RegisterBuiltins(registries); err != nil {
		log.Fatal().Err(err).Msg("Failed to register strategy builtins")
	}

	// Quote caches. Real-time quotes get a short TTL, the limit-up
	// snapshot a longer one; klines are cached persistently and topped
	// up from upstream on demand.
	quoteCache := cache.New[*domain.Quote](cfg.Cache.MaxEntries)
	quotes := market.NewCachedQuotes(tencent, quoteCache, cfg.Cache.QuoteTTL)
	history := market.NewCachedHistory(tencent, historyDB, calendar, log)
	limitUps := market.NewLimitUpScanner(quotes, watch.Codes, cfg.Cache.LimitUpTTL, log)

	pipelineDeps := strategy.Deps{
		Calendar: calendar,
		History:  history,
		Log:      log,
	}
	pipeline, err := strategy.Build(engineConfig(cfg), registries, pipelineDeps)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build strategy pipeline")
	}

	// Arbitrage engine and its scan loop.
	eng := engine.New(engine.Deps{
		Pipeline: pipeline,
		Quotes:   quotes,
		ETFs:     mappingStore,
		Store:    signals,
		Fanout:   fanout,
		Hub:      hub,
		Log:      log,
	}, engine.Options{
		MinWeight:       cfg.Strategy.MinWeight,
		ScanConcurrency: cfg.Strategy.ScanConcurrency,
	})

	monitor := engine.NewMonitor(eng, calendar, watch.Codes, engine.MonitorOptions{
		Interval:  cfg.Strategy.ScanInterval,
		StatePath: cfg.MonitorStatePath(),
	}, log)

	// Backtests replay the same pipeline over history. Holdings come
	// from the live mapping, anchored at the run's start date; without
	// dated snapshots the interpolation is flat.
	driver := backtest.NewDriver(calendar, history, registries, pipelineDeps, log)
	backtests := backtest.NewManager(backtest.ManagerDeps{
		Driver: driver,
		Watch:  watch.Codes,
		Snapshots: func(bc backtest.Config) (*backtest.SnapshotSet, error) {
			snap := backtest.SnapshotFrom(bc.StartDate, mappingStore, bc.Securities)
			return backtest.NewSnapshotSet(calendar, []backtest.Snapshot{snap})
		},
		Log: log,
	})

	// Background jobs, scheduled in exchange time.
	sched := scheduler.New(calendar.Location(), log)
	maintenance := scheduler.NewDailyMaintenanceJob(
		map[string]*database.DB{"signals": signalsDB},
		historyDB, calendar, 0, log,
	)
	if err := sched.AddJob("0 0 2 * * *", maintenance); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule maintenance job")
	}

	refresh := scheduler.NewMappingRefreshJob(
		mappingStore, eastmoney, cfg.Strategy.ETFUniverse,
		cfg.MappingPath(), calendar, buildOpts, log,
	)
	if err := sched.AddJob("0 0 9 * * *", refresh); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule mapping refresh job")
	}

	if cfg.Backup.Enabled() {
		s3, err := backup.NewClient(context.Background(), cfg.Backup)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize backup storage")
		}
		svc := backup.NewService(backup.Options{
			DB:            signalsDB,
			MappingPath:   cfg.MappingPath(),
			Store:         s3,
			RetentionDays: cfg.Backup.RetentionDays,
			Log:           log,
		})
		if err := sched.AddJob("0 30 2 * * *", backup.NewCloudBackupJob(svc)); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule backup job")
		}
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Cloud backup enabled")
	}

	sched.Start()

	srv := server.New(server.Config{
		Log:        log,
		Cfg:        cfg,
		Port:       cfg.Port,
		Monitor:    monitor,
		Engine:     eng,
		Calendar:   calendar,
		Quotes:     quotes,
		History:    history,
		LimitUps:   limitUps,
		Mapping:    mappingStore,
		Refresher:  refresh,
		Watchlist:  watch,
		Signals:    signals,
		Hub:        hub,
		Fanout:     fanout,
		Backtests:  backtests,
		Registries: registries,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop taking scheduled work first, then the scan loop; both wait
	// for in-flight runs to finish.
	sched.Stop()

	if monitor.Running() {
		if err := monitor.Stop(); err != nil {
			log.Error().Err(err).Msg("Error stopping monitor")
		}
	}
	if err := monitor.SaveState(); err != nil {
		log.Error().Err(err).Msg("Failed to checkpoint monitor state")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// engineConfig assembles the live pipeline configuration. The template
// already supplied threshold defaults at config load; here the chain
// and the filter subtrees are filled in.
func engineConfig(cfg *config.Config) strategy.EngineConfig {
	return strategy.EngineConfig{
		EventDetector:  cfg.Strategy.EventDetector,
		FundSelector:   cfg.Strategy.FundSelector,
		SignalFilters:  cfg.Strategy.SignalFilters,
		MinWeight:      cfg.Strategy.MinWeight,
		MinETFVolume:   cfg.Strategy.MinETFVolume,
		MinOrderAmount: cfg.Strategy.MinOrderAmount,
		Evaluator:      cfg.Evaluation.Preset,
		FilterConfigs: map[string]strategy.Params{
			"time_filter_cn": {"min_time_to_close": cfg.Strategy.MinTimeToClose.Seconds()},
		},
	}
}

// seedWatchlist populates a fresh watchlist from configured codes.
// Names come from a best-effort quote fetch; a code whose quote is
// unavailable is seeded with the code as its name and can be renamed
// through the API later.
func seedWatchlist(watch *watchlist.Store, quotes market.QuoteProvider, codes []string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	fetched, err := quotes.Quotes(ctx, codes)
	if err != nil {
		log.Warn().Err(err).Msg("Quote fetch for watchlist seed failed, using codes as names")
		fetched = map[string]*domain.Quote{}
	}

	added := 0
	for _, code := range codes {
		name := code
		if q, ok := fetched[code]; ok && q.Name != "" {
			name = q.Name
		}
		ok, err := watch.Add(watchlist.Entry{Code: code, Name: name})
		if err != nil {
			log.Warn().Err(err).Str("code", code).Msg("Skipping invalid watchlist seed")
			continue
		}
		if ok {
			added++
		}
	}
	log.Info().Int("count", added).Msg("Watchlist seeded from configuration")
}
