package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
	"github.com/bleakplain/etf-arb-tracker/internal/market"
)

// Monitor lifecycle errors. The HTTP layer maps both to 409.
var (
	ErrAlreadyRunning = errors.New("monitor already running")
	ErrNotRunning     = errors.New("monitor not running")
)

// MonitorOptions tunes the scan loop
type MonitorOptions struct {
	Interval  time.Duration // Delay between scans inside sessions
	Grace     time.Duration // How long Stop waits for the current scan
	StatePath string        // Counter checkpoint file; empty disables persistence
}

// Status is a point-in-time snapshot of the monitor
type Status struct {
	Running      bool      `json:"monitor_running"`
	Day          string    `json:"day"`
	ScanCount    int       `json:"scan_count"`
	SignalCount  int       `json:"signal_count"`
	ErrorCount   int       `json:"error_count"`
	LastScanTime time.Time `json:"last_scan_time"`
	StartedAt    time.Time `json:"started_at"`
}

// Monitor owns the scan loop and the day-scoped counters. Counters
// survive stop/start and, through the checkpoint file, a restart on
// the same trading day.
type Monitor struct {
	engine   *Engine
	calendar *market.Calendar
	watch    func() []string
	opts     MonitorOptions
	log      zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	state   MonitorState
}

// NewMonitor creates a monitor over the engine. watch returns the
// current watchlist codes; it is called fresh on every scan so edits
// take effect mid-session. A same-day checkpoint is restored when
// StatePath names one.
func NewMonitor(engine *Engine, calendar *market.Calendar, watch func() []string, opts MonitorOptions, log zerolog.Logger) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 120 * time.Second
	}
	if opts.Grace <= 0 {
		opts.Grace = 10 * time.Second
	}

	m := &Monitor{
		engine:   engine,
		calendar: calendar,
		watch:    watch,
		opts:     opts,
		log:      log.With().Str("component", "monitor").Logger(),
	}
	m.state = loadState(opts.StatePath, calendar.Date(time.Now()), m.log)
	return m
}

// Start launches the scan loop. Returns ErrAlreadyRunning when the
// loop is live.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	if m.state.StartedAt.IsZero() {
		m.state.StartedAt = time.Now()
	}

	go m.loop(ctx, m.done)
	m.log.Info().Dur("interval", m.opts.Interval).Msg("Monitor started")
	return nil
}

// Stop cancels the loop and waits for the current scan to drain,
// bounded by the grace period. Returns ErrNotRunning when there is
// nothing to stop.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := m.cancel, m.done
	m.running = false
	m.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(m.opts.Grace):
		m.log.Warn().Dur("grace", m.opts.Grace).Msg("Scan did not drain within the grace period")
	}

	if err := m.SaveState(); err != nil {
		m.log.Warn().Err(err).Msg("Monitor state save failed")
	}
	m.log.Info().Msg("Monitor stopped")
	return nil
}

// Running reports whether the loop is live
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Status returns a snapshot of the monitor and its counters
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Status{
		Running:      m.running,
		Day:          m.state.Day,
		ScanCount:    m.state.ScanCount,
		SignalCount:  m.state.SignalCount,
		ErrorCount:   m.state.ErrorCount,
		LastScanTime: m.state.LastScanTime,
		StartedAt:    m.state.StartedAt,
	}
}

// ScanOnce runs a single sweep and folds the result into the counters.
// Serves both the loop and the one-shot scan endpoint.
func (m *Monitor) ScanOnce(ctx context.Context) (*domain.ScanResult, error) {
	res, err := m.engine.Scan(ctx, m.watch())
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(now)

	if err != nil {
		m.state.ErrorCount++
		return nil, err
	}

	m.state.ScanCount++
	m.state.SignalCount += len(res.SignalsEmitted)
	m.state.ErrorCount += res.Errors
	m.state.LastScanTime = now
	return res, nil
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		now := time.Now().In(m.calendar.Location())
		if !m.calendar.IsTradingTime(now) {
			next := m.calendar.NextOpen(now)
			m.log.Info().Time("next_open", next).Msg("Outside trading hours, sleeping until next open")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Until(next)):
			}
			continue
		}

		if _, err := m.ScanOnce(ctx); err != nil {
			m.log.Error().Err(err).Msg("Scan failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.opts.Interval):
		}
	}
}

// rolloverLocked resets the counters when the trading day changes.
// Callers hold m.mu.
func (m *Monitor) rolloverLocked(now time.Time) {
	day := m.calendar.Date(now)
	if m.state.Day == day {
		return
	}
	if m.state.Day != "" {
		m.log.Info().Str("from", m.state.Day).Str("to", day).Msg("Day rollover, resetting counters")
	}
	m.state = MonitorState{Day: day, StartedAt: m.state.StartedAt}
}
