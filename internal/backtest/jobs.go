package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
)

// JobStatus is the lifecycle state of a backtest job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job manager errors. The HTTP layer maps ErrJobNotFound to 404 and
// ErrNotReady to 409.
var (
	ErrJobNotFound = errors.New("backtest job not found")
	ErrNotReady    = errors.New("backtest result not ready")
)

// Job is the tracked state of one backtest.
type Job struct {
	ID         string     `json:"job_id"`
	Status     JobStatus  `json:"status"`
	Progress   float64    `json:"progress"`
	Message    string     `json:"message,omitempty"`
	Config     Config     `json:"config"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`

	seq    int
	result *Result
	cancel context.CancelFunc
}

func (j *Job) snapshot() Job {
	out := *j
	out.cancel = nil
	out.result = nil
	return out
}

// ManagerDeps wires the job manager.
type ManagerDeps struct {
	Driver    *Driver
	Watch     func() []string                    // Default securities
	Snapshots func(cfg Config) (*SnapshotSet, error) // Holdings for a run
	Log       zerolog.Logger
}

// Manager owns backtest jobs for the server's lifetime. Jobs live in
// memory; a restart forgets them.
type Manager struct {
	driver    *Driver
	watch     func() []string
	snapshots func(cfg Config) (*SnapshotSet, error)
	log       zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*Job
	seq  int
}

// NewManager creates a job manager.
func NewManager(deps ManagerDeps) *Manager {
	return &Manager{
		driver:    deps.Driver,
		watch:     deps.Watch,
		snapshots: deps.Snapshots,
		log:       deps.Log.With().Str("component", "backtest_jobs").Logger(),
		jobs:      make(map[string]*Job),
	}
}

// Start validates the config, enqueues a job and begins executing it
// asynchronously. The returned id tracks the run.
func (m *Manager) Start(cfg Config) (string, error) {
	if err := cfg.Normalize(); err != nil {
		return "", err
	}
	if len(cfg.Securities) == 0 && m.watch != nil {
		cfg.Securities = m.watch()
	}
	if len(cfg.Securities) == 0 {
		return "", fmt.Errorf("no securities: watchlist is empty and none given")
	}
	if errs := m.driver.regs.ValidateChain(cfg.Engine); len(errs) > 0 {
		return "", errors.Join(errs...)
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Config:    cfg,
		CreatedAt: time.Now(),
		cancel:    cancel,
	}

	m.mu.Lock()
	m.seq++
	job.seq = m.seq
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.log.Info().
		Str("job_id", job.ID).
		Str("start", cfg.StartDate).
		Str("end", cfg.EndDate).
		Str("granularity", string(cfg.Granularity)).
		Int("securities", len(cfg.Securities)).
		Msg("Backtest job queued")

	go m.run(ctx, job)
	return job.ID, nil
}

func (m *Manager) run(ctx context.Context, job *Job) {
	now := time.Now()
	m.mu.Lock()
	job.Status = StatusRunning
	job.StartedAt = &now
	m.mu.Unlock()

	snaps, err := m.snapshots(job.Config)
	if err != nil {
		m.finish(job, nil, fmt.Errorf("holdings snapshots: %w", err))
		return
	}

	progress := func(done, total int) {
		m.mu.Lock()
		job.Progress = float64(done) / float64(total)
		job.Message = fmt.Sprintf("replayed %d/%d trading days", done, total)
		m.mu.Unlock()
	}

	res, err := m.driver.Run(ctx, job.Config, snaps, progress)
	m.finish(job, res, err)
}

func (m *Manager) finish(job *Job, res *Result, err error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	job.FinishedAt = &now

	switch {
	case errors.Is(err, context.Canceled):
		job.Status = StatusCancelled
		job.Message = "cancelled"
	case err != nil:
		job.Status = StatusFailed
		job.Error = err.Error()
		m.log.Error().Str("job_id", job.ID).Err(err).Msg("Backtest job failed")
	default:
		job.Status = StatusCompleted
		job.Progress = 1
		job.Message = fmt.Sprintf("%d signals", len(res.Signals))
		job.result = res
		m.log.Info().
			Str("job_id", job.ID).
			Int("signals", len(res.Signals)).
			Msg("Backtest job completed")
	}
}

// Job returns a snapshot of the job.
func (m *Manager) Job(id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return job.snapshot(), nil
}

// Result returns the result of a completed job, ErrNotReady otherwise.
func (m *Manager) Result(id string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: job is %s", ErrNotReady, job.Status)
	}
	return job.result, nil
}

// Signals returns the signal set of a completed job.
func (m *Manager) Signals(id string) ([]domain.TradingSignal, error) {
	res, err := m.Result(id)
	if err != nil {
		return nil, err
	}
	return res.Signals, nil
}

// ListOptions narrows a job listing.
type ListOptions struct {
	Limit  int
	Offset int
	Status JobStatus
}

// List returns jobs newest-first.
func (m *Manager) List(opts ListOptions) []Job {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	m.mu.Lock()
	all := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if opts.Status != "" && job.Status != opts.Status {
			continue
		}
		all = append(all, job)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq > all[j].seq })

	out := make([]Job, 0, opts.Limit)
	for i := opts.Offset; i < len(all) && len(out) < opts.Limit; i++ {
		out = append(out, all[i].snapshot())
	}
	m.mu.Unlock()
	return out
}

// Cancel requests cooperative cancellation. The job transitions to
// cancelled at the next date boundary. Cancelling a finished job is a
// no-op.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	terminal := job.Status.Terminal()
	cancel := job.cancel
	m.mu.Unlock()

	if !terminal && cancel != nil {
		cancel()
		m.log.Info().Str("job_id", id).Msg("Backtest job cancellation requested")
	}
	return nil
}

// Delete removes a job. A job still running is cancelled first; its
// goroutine finishes against the detached record.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	cancel := job.cancel
	terminal := job.Status.Terminal()
	delete(m.jobs, id)
	m.mu.Unlock()

	if !terminal && cancel != nil {
		cancel()
	}
	m.log.Info().Str("job_id", id).Msg("Backtest job deleted")
	return nil
}
