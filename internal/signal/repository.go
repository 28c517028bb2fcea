// Package signal persists emitted trading signals and delivers them to
// downstream consumers: sqlite repository, CSV export, sender fanout,
// and a subscription hub for the live feed.
package signal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
)

// timeLayout is the stored timestamp format: exchange-local, naive, so
// lexicographic order matches chronological order and sqlite date()
// works on it directly.
const timeLayout = "2006-01-02 15:04:05"

const signalColumns = `id, uid, timestamp, stock_code, stock_name, etf_code, etf_name,
weight, event_type, confidence_level, confidence_score, risk_level, reason, payload_json`

const schema = `
CREATE TABLE IF NOT EXISTS signals (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	uid              TEXT NOT NULL,
	timestamp        TEXT NOT NULL,
	stock_code       TEXT NOT NULL,
	stock_name       TEXT NOT NULL DEFAULT '',
	etf_code         TEXT NOT NULL,
	etf_name         TEXT NOT NULL DEFAULT '',
	weight           REAL NOT NULL,
	event_type       TEXT NOT NULL,
	confidence_level TEXT NOT NULL,
	confidence_score REAL NOT NULL,
	risk_level       TEXT NOT NULL,
	reason           TEXT NOT NULL DEFAULT '',
	payload_json     TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_signals_timestamp ON signals(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_signals_stock_code ON signals(stock_code);
CREATE INDEX IF NOT EXISTS idx_signals_etf_code ON signals(etf_code);
`

// signalPayload carries the fields that ride in payload_json rather
// than their own columns
type signalPayload struct {
	StockPrice float64            `json:"stock_price,omitempty"`
	Breakdown  map[string]float64 `json:"breakdown,omitempty"`
}

// Filter narrows List and Count. Start and End are YYYY-MM-DD dates,
// inclusive. Zero values mean no constraint.
type Filter struct {
	Start         string
	End           string
	StockCode     string
	ETFCode       string
	EventType     string
	MinConfidence float64
	TodayOnly     bool
	Limit         int
	Offset        int
}

// Repository stores signals in the signals table. Ids are assigned by
// AUTOINCREMENT, so they are monotonic across the life of the file.
type Repository struct {
	db  *sql.DB
	loc *time.Location
	log zerolog.Logger
}

// NewRepository creates the schema if needed and returns a repository.
// loc is the exchange timezone timestamps are stored in.
func NewRepository(db *sql.DB, loc *time.Location, log zerolog.Logger) (*Repository, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create signals schema: %w", err)
	}
	return &Repository{
		db:  db,
		loc: loc,
		log: log.With().Str("repo", "signals").Logger(),
	}, nil
}

// Insert stores the signal and fills in its assigned id
func (r *Repository) Insert(ctx context.Context, s *domain.TradingSignal) error {
	payload, err := json.Marshal(signalPayload{StockPrice: s.StockPrice, Breakdown: s.Breakdown})
	if err != nil {
		return fmt.Errorf("marshal signal payload: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO signals (uid, timestamp, stock_code, stock_name, etf_code, etf_name,
			weight, event_type, confidence_level, confidence_score, risk_level, reason, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.UID,
		s.Timestamp.In(r.loc).Format(timeLayout),
		s.StockCode,
		s.StockName,
		s.ETFCode,
		s.ETFName,
		s.Weight,
		s.EventType,
		string(s.ConfidenceLevel),
		s.ConfidenceScore,
		string(s.RiskLevel),
		s.Reason,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert signal %s: %w", s.UID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("signal insert id: %w", err)
	}
	s.ID = id
	return nil
}

// List returns signals matching the filter, newest first. Limit
// defaults to 50.
func (r *Repository) List(ctx context.Context, f Filter) ([]*domain.TradingSignal, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	where, args := r.whereClause(f)
	query := "SELECT " + signalColumns + " FROM signals" + where + " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []*domain.TradingSignal
	for rows.Next() {
		s, err := r.scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Get returns one signal by id, or nil when it does not exist
func (r *Repository) Get(ctx context.Context, id int64) (*domain.TradingSignal, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+signalColumns+" FROM signals WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("query signal %d: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return r.scanSignal(rows)
}

// Count returns the number of signals matching the filter
func (r *Repository) Count(ctx context.Context, f Filter) (int, error) {
	where, args := r.whereClause(f)

	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM signals"+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count signals: %w", err)
	}
	return n, nil
}

// CountToday returns the number of signals stored today, exchange-local
func (r *Repository) CountToday(ctx context.Context) (int, error) {
	return r.Count(ctx, Filter{TodayOnly: true})
}

func (r *Repository) whereClause(f Filter) (string, []any) {
	var conds []string
	var args []any

	if f.TodayOnly {
		conds = append(conds, "timestamp >= ?")
		args = append(args, time.Now().In(r.loc).Format("2006-01-02"))
	}
	if f.Start != "" {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.Start)
	}
	if f.End != "" {
		conds = append(conds, "timestamp < date(?, '+1 day')")
		args = append(args, f.End)
	}
	if f.StockCode != "" {
		conds = append(conds, "stock_code = ?")
		args = append(args, f.StockCode)
	}
	if f.ETFCode != "" {
		conds = append(conds, "etf_code = ?")
		args = append(args, f.ETFCode)
	}
	if f.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.MinConfidence > 0 {
		conds = append(conds, "confidence_score >= ?")
		args = append(args, f.MinConfidence)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *Repository) scanSignal(rows *sql.Rows) (*domain.TradingSignal, error) {
	var s domain.TradingSignal
	var ts, level, risk, payload string

	err := rows.Scan(&s.ID, &s.UID, &ts, &s.StockCode, &s.StockName, &s.ETFCode, &s.ETFName,
		&s.Weight, &s.EventType, &level, &s.ConfidenceScore, &risk, &s.Reason, &payload)
	if err != nil {
		return nil, err
	}

	parsed, err := time.ParseInLocation(timeLayout, ts, r.loc)
	if err != nil {
		return nil, fmt.Errorf("parse signal timestamp %q: %w", ts, err)
	}
	s.Timestamp = parsed
	s.ConfidenceLevel = domain.ConfidenceLevel(level)
	s.RiskLevel = domain.RiskLevel(risk)

	var p signalPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		r.log.Warn().Int64("id", s.ID).Err(err).Msg("Unreadable signal payload")
	} else {
		s.StockPrice = p.StockPrice
		s.Breakdown = p.Breakdown
	}
	return &s, nil
}
