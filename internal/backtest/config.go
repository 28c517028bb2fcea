package backtest

import (
	"fmt"
	"time"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
	"github.com/bleakplain/etf-arb-tracker/internal/strategy"
)

// Config describes one backtest run. Securities defaults to the
// watchlist when empty; the jobs layer resolves it before the run.
type Config struct {
	StartDate     string                `json:"start_date"`
	EndDate       string                `json:"end_date"`
	Granularity   Granularity           `json:"granularity"`
	Securities    []string              `json:"securities,omitempty"`
	Interpolation string                `json:"interpolation"`
	Engine        strategy.EngineConfig `json:"engine_config"`
}

// DefaultConfig returns a daily-bar run over the default engine chain.
func DefaultConfig() Config {
	return Config{
		Granularity:   Daily,
		Interpolation: InterpLinear,
		Engine:        strategy.DefaultEngineConfig(),
	}
}

// Normalize fills defaults and canonicalizes dates to YYYY-MM-DD.
// Both YYYYMMDD and YYYY-MM-DD inputs are accepted.
func (c *Config) Normalize() error {
	var err error
	if c.StartDate, err = normalizeDate(c.StartDate); err != nil {
		return fmt.Errorf("start_date: %w", err)
	}
	if c.EndDate, err = normalizeDate(c.EndDate); err != nil {
		return fmt.Errorf("end_date: %w", err)
	}
	if c.EndDate < c.StartDate {
		return fmt.Errorf("end_date %s before start_date %s", c.EndDate, c.StartDate)
	}

	if c.Granularity, err = ParseGranularity(string(c.Granularity)); err != nil {
		return err
	}
	if c.Interpolation == "" {
		c.Interpolation = InterpLinear
	}
	if c.Interpolation != InterpLinear && c.Interpolation != InterpStep {
		return fmt.Errorf("unknown interpolation %q", c.Interpolation)
	}

	for _, code := range c.Securities {
		if !domain.IsValidCode(code) {
			return fmt.Errorf("invalid security code %q", code)
		}
	}

	if c.Engine.EventDetector == "" {
		c.Engine = strategy.DefaultEngineConfig()
	}
	return nil
}

func normalizeDate(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("date is required")
	}
	for _, layout := range []string{"2006-01-02", "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("invalid date %q, want YYYY-MM-DD or YYYYMMDD", s)
}
