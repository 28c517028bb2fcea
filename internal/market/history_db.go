package market

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
)

// HistoryDB is the local daily kline cache. It keeps upstream kline
// fetches off the hot path and feeds the backtest driver.
type HistoryDB struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistoryDB wraps an existing connection
func NewHistoryDB(db *sql.DB, log zerolog.Logger) *HistoryDB {
	return &HistoryDB{
		db:  db,
		log: log.With().Str("component", "history_db").Logger(),
	}
}

// OpenHistoryDB opens (creating if needed) the kline cache at path
func OpenHistoryDB(path string, log zerolog.Logger) (*HistoryDB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	h := NewHistoryDB(db, log)
	if err := h.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

// InitSchema creates the kline table if missing
func (h *HistoryDB) InitSchema() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS daily_klines (
			code   TEXT NOT NULL,
			date   TEXT NOT NULL,
			open   REAL NOT NULL,
			high   REAL NOT NULL,
			low    REAL NOT NULL,
			close  REAL NOT NULL,
			volume REAL NOT NULL DEFAULT 0,
			amount REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (code, date)
		);
		CREATE INDEX IF NOT EXISTS idx_daily_klines_date ON daily_klines(date);
	`)
	if err != nil {
		return fmt.Errorf("failed to create kline schema: %w", err)
	}
	return nil
}

// UpsertKlines writes candles for a code in one transaction
func (h *HistoryDB) UpsertKlines(code string, klines []domain.Kline) error {
	if len(klines) == 0 {
		return nil
	}

	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Will be no-op if Commit succeeds

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO daily_klines
		(code, date, open, high, low, close, volume, amount)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, k := range klines {
		if _, err := stmt.Exec(code, k.Date, k.Open, k.High, k.Low, k.Close, k.Volume, k.Amount); err != nil {
			return fmt.Errorf("failed to insert kline for %s: %w", k.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	h.log.Debug().Str("code", code).Int("count", len(klines)).Msg("Upserted klines")
	return nil
}

// GetKlines returns the most recent limit candles for a code, oldest
// first.
func (h *HistoryDB) GetKlines(code string, limit int) ([]domain.Kline, error) {
	rows, err := h.db.Query(`
		SELECT date, open, high, low, close, volume, amount
		FROM daily_klines
		WHERE code = ?
		ORDER BY date DESC
		LIMIT ?
	`, code, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query klines: %w", err)
	}
	defer rows.Close()

	klines, err := scanKlines(rows)
	if err != nil {
		return nil, err
	}

	// Query ran newest-first, callers want oldest-first
	for i, j := 0, len(klines)-1; i < j; i, j = i+1, j-1 {
		klines[i], klines[j] = klines[j], klines[i]
	}
	return klines, nil
}

// KlinesBetween returns candles in [start, end] inclusive, oldest first
func (h *HistoryDB) KlinesBetween(code, start, end string) ([]domain.Kline, error) {
	rows, err := h.db.Query(`
		SELECT date, open, high, low, close, volume, amount
		FROM daily_klines
		WHERE code = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, code, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query klines: %w", err)
	}
	defer rows.Close()

	return scanKlines(rows)
}

// LatestDate returns the newest cached date for a code, empty when none
func (h *HistoryDB) LatestDate(code string) (string, error) {
	// MAX over an empty set yields NULL
	var date sql.NullString
	err := h.db.QueryRow(`SELECT MAX(date) FROM daily_klines WHERE code = ?`, code).Scan(&date)
	if err != nil {
		return "", fmt.Errorf("failed to query latest date: %w", err)
	}
	if !date.Valid {
		return "", nil
	}
	return date.String, nil
}

// Count returns the number of cached candles for a code
func (h *HistoryDB) Count(code string) (int, error) {
	var count int
	if err := h.db.QueryRow(`SELECT COUNT(*) FROM daily_klines WHERE code = ?`, code).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count klines: %w", err)
	}
	return count, nil
}

// PruneBefore removes candles older than the given date, returning how
// many were dropped. Used by the daily maintenance job.
func (h *HistoryDB) PruneBefore(date string) (int64, error) {
	result, err := h.db.Exec(`DELETE FROM daily_klines WHERE date < ?`, date)
	if err != nil {
		return 0, fmt.Errorf("failed to prune klines: %w", err)
	}

	dropped, _ := result.RowsAffected()
	if dropped > 0 {
		h.log.Info().Int64("rows_deleted", dropped).Str("before", date).Msg("Pruned old klines")
	}
	return dropped, nil
}

// Close closes the underlying connection
func (h *HistoryDB) Close() error {
	return h.db.Close()
}

func scanKlines(rows *sql.Rows) ([]domain.Kline, error) {
	var klines []domain.Kline
	for rows.Next() {
		var k domain.Kline
		if err := rows.Scan(&k.Date, &k.Open, &k.High, &k.Low, &k.Close, &k.Volume, &k.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan kline: %w", err)
		}
		klines = append(klines, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating klines: %w", err)
	}
	return klines, nil
}
