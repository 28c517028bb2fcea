// Package mapping maintains the stock to ETF inversion used during scans.
package mapping

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
)

// Store holds the stock -> ETF list inversion. Reads are concurrent;
// rebuilds prepare a full replacement off to the side and swap it in
// atomically, so readers always see a complete snapshot.
type Store struct {
	mu        sync.RWMutex
	byStock   map[string][]domain.ETFRef
	etfWeight map[string]float64
	builtAt   time.Time

	log zerolog.Logger
}

// NewStore creates an empty mapping store
func NewStore(log zerolog.Logger) *Store {
	return &Store{
		byStock:   make(map[string][]domain.ETFRef),
		etfWeight: make(map[string]float64),
		log:       log.With().Str("component", "mapping").Logger(),
	}
}

// ETFsFor returns the ETFs holding the given stock, ordered by weight
// descending. Returns an empty slice for unmapped stocks.
func (s *Store) ETFsFor(stockCode string) []domain.ETFRef {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refs := s.byStock[stockCode]
	out := make([]domain.ETFRef, len(refs))
	copy(out, refs)
	return out
}

// Has reports whether the stock appears in any known ETF's top holdings
func (s *Store) Has(stockCode string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byStock[stockCode]
	return ok
}

// Stocks returns every mapped stock code, sorted
func (s *Store) Stocks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	codes := make([]string, 0, len(s.byStock))
	for code := range s.byStock {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Len returns the number of mapped stocks
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byStock)
}

// CoveredETFCount returns the number of distinct ETFs in the mapping
func (s *Store) CoveredETFCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.etfWeight)
}

// TopHoldingsRatio returns the summed mapped weight of an ETF's top
// holdings, a concentration measure in [0,1]. Zero for unknown ETFs.
func (s *Store) TopHoldingsRatio(etfCode string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.etfWeight[etfCode]
}

// BuiltAt returns when the current snapshot was installed
func (s *Store) BuiltAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.builtAt
}

// Replace normalizes m and installs it as the new snapshot
func (s *Store) Replace(m map[string][]domain.ETFRef) {
	normalized, etfWeight := normalize(m)

	s.mu.Lock()
	s.byStock = normalized
	s.etfWeight = etfWeight
	s.builtAt = time.Now()
	s.mu.Unlock()

	s.log.Info().
		Int("stocks", len(normalized)).
		Int("etfs", len(etfWeight)).
		Msg("Mapping snapshot installed")
}

// Save persists the mapping as a single JSON document. The write is
// atomic: a temp file in the same directory is renamed over the target.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.byStock, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create mapping directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".mapping-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp mapping file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write mapping: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp mapping file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace mapping file: %w", err)
	}

	s.log.Debug().Str("path", path).Msg("Mapping saved")
	return nil
}

// Load reads a previously saved mapping document and installs it
func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read mapping file: %w", err)
	}

	var m map[string][]domain.ETFRef
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to parse mapping file: %w", err)
	}

	s.Replace(m)
	return nil
}

// normalize sorts each stock's list by weight descending (ties broken by
// rank then code) and drops duplicate ETF codes keeping the highest
// weight. Returns the normalized map and the summed mapped weight per
// ETF (its top-holdings concentration).
func normalize(m map[string][]domain.ETFRef) (map[string][]domain.ETFRef, map[string]float64) {
	out := make(map[string][]domain.ETFRef, len(m))
	etfWeight := make(map[string]float64)

	for stock, refs := range m {
		sort.SliceStable(refs, func(i, j int) bool {
			if refs[i].Weight != refs[j].Weight {
				return refs[i].Weight > refs[j].Weight
			}
			if refs[i].Rank != refs[j].Rank {
				return refs[i].Rank < refs[j].Rank
			}
			return refs[i].ETFCode < refs[j].ETFCode
		})

		deduped := make([]domain.ETFRef, 0, len(refs))
		seen := make(map[string]struct{}, len(refs))
		for _, ref := range refs {
			if _, dup := seen[ref.ETFCode]; dup {
				continue
			}
			seen[ref.ETFCode] = struct{}{}
			etfWeight[ref.ETFCode] += ref.Weight
			deduped = append(deduped, ref)
		}

		out[stock] = deduped
	}

	return out, etfWeight
}
