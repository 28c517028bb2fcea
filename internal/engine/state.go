package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// MonitorState is the checkpointed slice of the monitor: the trading
// day and its counters. The running flag is runtime-only and never
// persisted.
type MonitorState struct {
	Day          string    `msgpack:"day"`
	ScanCount    int       `msgpack:"scan_count"`
	SignalCount  int       `msgpack:"signal_count"`
	ErrorCount   int       `msgpack:"error_count"`
	LastScanTime time.Time `msgpack:"last_scan_time"`
	StartedAt    time.Time `msgpack:"started_at"`
}

// SaveState checkpoints the counters to the state path. A no-op when
// no path is configured.
func (m *Monitor) SaveState() error {
	if m.opts.StatePath == "" {
		return nil
	}

	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	data, err := msgpack.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal monitor state: %w", err)
	}

	dir := filepath.Dir(m.opts.StatePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".monitor-state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write monitor state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, m.opts.StatePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// loadState restores a checkpoint for today. A missing file, an
// unreadable file, or a checkpoint from another day all yield a fresh
// state; stale counters must never leak into a new trading day.
func loadState(path, today string, log zerolog.Logger) MonitorState {
	fresh := MonitorState{Day: today}
	if path == "" {
		return fresh
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("path", path).Err(err).Msg("Monitor state unreadable, starting fresh")
		}
		return fresh
	}

	var state MonitorState
	if err := msgpack.Unmarshal(data, &state); err != nil {
		log.Warn().Str("path", path).Err(err).Msg("Monitor state corrupt, starting fresh")
		return fresh
	}
	if state.Day != today {
		return fresh
	}

	log.Info().
		Str("day", state.Day).
		Int("scan_count", state.ScanCount).
		Int("signal_count", state.SignalCount).
		Msg("Restored same-day monitor state")
	return state
}
