// Package server provides the HTTP control plane: monitor control,
// signal queries, backtest jobs, watchlist edits and the live
// websocket feed.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/bleakplain/etf-arb-tracker/internal/backtest"
	"github.com/bleakplain/etf-arb-tracker/internal/config"
	"github.com/bleakplain/etf-arb-tracker/internal/engine"
	"github.com/bleakplain/etf-arb-tracker/internal/mapping"
	"github.com/bleakplain/etf-arb-tracker/internal/market"
	"github.com/bleakplain/etf-arb-tracker/internal/signal"
	"github.com/bleakplain/etf-arb-tracker/internal/strategy"
	"github.com/bleakplain/etf-arb-tracker/internal/watchlist"
)

// MappingRefresher rebuilds and persists the stock/ETF mapping. The
// scheduler's refresh job satisfies this.
type MappingRefresher interface {
	Refresh(ctx context.Context) error
}

// Config wires the server to the services it fronts
type Config struct {
	Log        zerolog.Logger
	Cfg        *config.Config
	Port       int
	Monitor    *engine.Monitor
	Engine     *engine.Engine
	Calendar   *market.Calendar
	Quotes     market.QuoteProvider
	History    market.HistoryProvider
	LimitUps   *market.LimitUpScanner
	Mapping    *mapping.Store
	Refresher  MappingRefresher
	Watchlist  *watchlist.Store
	Signals    *signal.Repository
	Hub        *signal.Hub
	Fanout     *signal.Fanout
	Backtests  *backtest.Manager
	Registries *strategy.Registries
}

// Server is the HTTP server
type Server struct {
	router     *chi.Mux
	server     *http.Server
	log        zerolog.Logger
	cfg        *config.Config
	monitor    *engine.Monitor
	engine     *engine.Engine
	calendar   *market.Calendar
	quotes     market.QuoteProvider
	history    market.HistoryProvider
	limitUps   *market.LimitUpScanner
	mapping    *mapping.Store
	refresher  MappingRefresher
	watchlist  *watchlist.Store
	signals    *signal.Repository
	hub        *signal.Hub
	fanout     *signal.Fanout
	backtests  *backtest.Manager
	registries *strategy.Registries

	startedAt  time.Time
	rebuilding atomic.Bool
}

// New creates the HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		cfg:        cfg.Cfg,
		monitor:    cfg.Monitor,
		engine:     cfg.Engine,
		calendar:   cfg.Calendar,
		quotes:     cfg.Quotes,
		history:    cfg.History,
		limitUps:   cfg.LimitUps,
		mapping:    cfg.Mapping,
		refresher:  cfg.Refresher,
		watchlist:  cfg.Watchlist,
		signals:    cfg.Signals,
		hub:        cfg.Hub,
		fanout:     cfg.Fanout,
		backtests:  cfg.Backtests,
		registries: cfg.Registries,
		startedAt:  time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	s.router.Use(middleware.Compress(5))
}

// setupRoutes configures all routes. The websocket stream sits outside
// the timeout group so long-lived connections are not cut at 60s.
func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/signals/stream", s.handleSignalStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/health", s.handleHealth)
			r.Get("/status", s.handleStatus)
			r.Get("/system", s.handleSystem)
			r.Get("/config", s.handleConfig)

			r.Get("/stocks", s.handleStocks)
			r.Get("/stocks/{code}/related-etfs", s.handleRelatedETFs)
			r.Get("/stocks/{code}/history", s.handleStockHistory)
			r.Get("/limit-up", s.handleLimitUp)

			r.Get("/signals", s.handleSignals)

			r.Route("/monitor", func(r chi.Router) {
				r.Post("/scan", s.handleScan)
				r.Post("/start", s.handleMonitorStart)
				r.Post("/stop", s.handleMonitorStop)
			})

			r.Route("/backtest", func(r chi.Router) {
				r.Post("/start", s.handleBacktestStart)
				r.Get("/jobs", s.handleBacktestJobs)
				r.Get("/{id}", s.handleBacktestJob)
				r.Get("/{id}/result", s.handleBacktestResult)
				r.Get("/{id}/signals", s.handleBacktestSignals)
				r.Delete("/{id}", s.handleBacktestDelete)
			})

			r.Route("/watchlist", func(r chi.Router) {
				r.Get("/", s.handleWatchlist)
				r.Post("/add", s.handleWatchlistAdd)
				r.Delete("/{code}", s.handleWatchlistRemove)
			})

			r.Get("/plugins", s.handlePlugins)
			r.Get("/strategies", s.handleStrategies)
			r.Get("/strategies/validate", s.handleStrategiesValidate)
			r.Post("/mapping/rebuild", s.handleMappingRebuild)
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, used by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
