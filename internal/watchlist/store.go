// Package watchlist persists the set of securities the monitor scans.
// The list lives in a single JSON document so it can be edited by hand,
// and every mutation is written atomically so a crash mid-write never
// truncates it.
package watchlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
	"github.com/bleakplain/etf-arb-tracker/internal/market"
)

// Entry is one watched security.
type Entry struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Market string `json:"market"`
	Notes  string `json:"notes,omitempty"`
}

// Validation errors surfaced to the HTTP layer as 400s.
var (
	ErrInvalidCode   = errors.New("code must be a six-digit security code")
	ErrEmptyName     = errors.New("name must not be empty")
	ErrUnknownMarket = errors.New("market must be one of sh, sz, bj")
)

var validMarkets = map[string]bool{"sh": true, "sz": true, "bj": true}

// Normalize trims the name, validates the code, and fills the market
// from the code prefix when the caller left it empty.
func (e *Entry) Normalize() error {
	e.Code = strings.TrimSpace(e.Code)
	e.Name = strings.TrimSpace(e.Name)
	e.Notes = strings.TrimSpace(e.Notes)
	e.Market = strings.ToLower(strings.TrimSpace(e.Market))

	if !domain.IsValidCode(e.Code) {
		return fmt.Errorf("%w: %q", ErrInvalidCode, e.Code)
	}
	if e.Name == "" {
		return ErrEmptyName
	}
	if e.Market == "" {
		e.Market = market.ExchangeSymbol(e.Code)[:2]
	}
	if !validMarkets[e.Market] {
		return fmt.Errorf("%w: %q", ErrUnknownMarket, e.Market)
	}
	return nil
}

type document struct {
	UpdatedAt time.Time `json:"updated_at"`
	Stocks    []Entry   `json:"stocks"`
}

// Store is the watchlist with its JSON file behind it. All reads are
// served from memory; mutations write through before returning.
type Store struct {
	path string
	log  zerolog.Logger

	mu      sync.RWMutex
	entries []Entry
}

// NewStore opens the watchlist at path, loading it when the file
// exists. A missing file is a fresh install and yields an empty list;
// a file that exists but does not parse is an error, because silently
// starting empty would wipe the list on the next mutation.
func NewStore(path string, log zerolog.Logger) (*Store, error) {
	s := &Store{
		path: path,
		log:  log.With().Str("component", "watchlist").Logger(),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read watchlist: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse watchlist %s: %w", path, err)
	}
	s.entries = doc.Stocks
	s.log.Info().Int("count", len(s.entries)).Msg("Watchlist loaded")
	return s, nil
}

// Add appends a security. Returns false with no error when the code is
// already present, so the HTTP layer can answer 200 already_exists
// instead of 201.
func (s *Store) Add(e Entry) (bool, error) {
	if err := e.Normalize(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, have := range s.entries {
		if have.Code == e.Code {
			return false, nil
		}
	}

	s.entries = append(s.entries, e)
	if err := s.save(); err != nil {
		s.entries = s.entries[:len(s.entries)-1]
		return false, err
	}
	s.log.Info().Str("code", e.Code).Str("name", e.Name).Msg("Security added to watchlist")
	return true, nil
}

// Remove deletes a security by code. Returns false when the code was
// not on the list.
func (s *Store) Remove(code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, have := range s.entries {
		if have.Code == code {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}

	removed := s.entries[idx]
	s.entries = append(s.entries[:idx:idx], s.entries[idx+1:]...)
	if err := s.save(); err != nil {
		return false, err
	}
	s.log.Info().Str("code", removed.Code).Msg("Security removed from watchlist")
	return true, nil
}

// List returns the entries in insertion order. The slice is a copy.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Codes returns the watched codes sorted ascending, the shape the scan
// loop wants.
func (s *Store) Codes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Code
	}
	sort.Strings(out)
	return out
}

// Get returns the entry for code.
func (s *Store) Get(code string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.Code == code {
			return e, true
		}
	}
	return Entry{}, false
}

// Has reports whether code is on the list.
func (s *Store) Has(code string) bool {
	_, ok := s.Get(code)
	return ok
}

// Count returns the number of watched securities.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// save writes the document via temp file + rename. Callers hold s.mu.
func (s *Store) save() error {
	doc := document{UpdatedAt: time.Now(), Stocks: s.entries}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal watchlist: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create watchlist directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".watchlist-*")
	if err != nil {
		return fmt.Errorf("create temp watchlist file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write watchlist: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp watchlist file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace watchlist file: %w", err)
	}
	return nil
}
