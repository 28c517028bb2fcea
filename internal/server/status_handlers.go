package server

import (
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleStatus returns the monitor state and the day's counters
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().In(s.calendar.Location())
	st := s.monitor.Status()

	todaySignals, err := s.signals.CountToday(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to count today's signals")
	}

	limitUpCount := 0
	if ups, _, err := s.limitUps.LimitUps(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Limit-up scan failed for status")
	} else {
		limitUpCount = len(ups)
	}

	lastScan := ""
	if !st.LastScanTime.IsZero() {
		lastScan = st.LastScanTime.In(s.calendar.Location()).Format("2006-01-02T15:04:05")
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"monitor_running":   st.Running,
		"is_trading_time":   s.calendar.IsTradingTime(now),
		"watchlist_count":   s.watchlist.Count(),
		"covered_etf_count": s.mapping.CoveredETFCount(),
		"today_signals":     todaySignals,
		"limitup_count":     limitUpCount,
		"last_scan_time":    lastScan,
		"scan_count":        st.ScanCount,
		"uptime_seconds":    int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleConfig returns the configuration with secrets redacted
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.Sanitized())
}

// handleSystem returns host resource usage. The 100ms CPU sample keeps
// the endpoint fast enough for dashboard polling.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	cpuAvg := 0.0
	if percents, err := cpu.Percent(100*time.Millisecond, false); err != nil {
		s.log.Warn().Err(err).Msg("Failed to sample CPU usage")
	} else if len(percents) > 0 {
		cpuAvg = percents[0]
	}

	memPercent, memUsedMB, memTotalMB := 0.0, 0.0, 0.0
	if stat, err := mem.VirtualMemory(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to read memory statistics")
	} else {
		memPercent = stat.UsedPercent
		memUsedMB = float64(stat.Used) / 1024 / 1024
		memTotalMB = float64(stat.Total) / 1024 / 1024
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"cpu_percent":     cpuAvg,
		"memory_percent":  memPercent,
		"memory_used_mb":  memUsedMB,
		"memory_total_mb": memTotalMB,
		"data_dir_mb":     s.dataDirSizeMB(),
		"goroutines":      runtime.NumGoroutine(),
		"go_version":      runtime.Version(),
		"uptime_seconds":  int64(time.Since(s.startedAt).Seconds()),
	})
}

// dataDirSizeMB sums file sizes under the data directory. Unreadable
// entries are skipped rather than failing the whole stat.
func (s *Server) dataDirSizeMB() float64 {
	var total int64
	err := filepath.Walk(s.cfg.DataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).Str("dir", s.cfg.DataDir).Msg("Failed to measure data directory")
		return 0
	}
	return float64(total) / 1024 / 1024
}
