package market

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/bleakplain/etf-arb-tracker/internal/cache"
	"github.com/bleakplain/etf-arb-tracker/internal/domain"
)

// CachedQuotes wraps a QuoteProvider with a per-code TTL cache so a
// scan fan-out hits upstream once per code per TTL window.
type CachedQuotes struct {
	upstream QuoteProvider
	cache    *cache.Cache[*domain.Quote]
	ttl      time.Duration
}

// NewCachedQuotes creates the caching wrapper
func NewCachedQuotes(upstream QuoteProvider, c *cache.Cache[*domain.Quote], ttl time.Duration) *CachedQuotes {
	return &CachedQuotes{upstream: upstream, cache: c, ttl: ttl}
}

// Quotes serves cached entries and batch-fetches only the misses
func (c *CachedQuotes) Quotes(ctx context.Context, codes []string) (map[string]*domain.Quote, error) {
	out := make(map[string]*domain.Quote, len(codes))
	var missing []string

	for _, code := range codes {
		if q, ok := c.cache.Get("q:" + code); ok {
			out[code] = q
		} else {
			missing = append(missing, code)
		}
	}

	if len(missing) > 0 {
		fetched, err := c.upstream.Quotes(ctx, missing)
		if err != nil {
			return nil, err
		}
		for code, q := range fetched {
			c.cache.Set("q:"+code, q, c.ttl)
			out[code] = q
		}
	}

	return out, nil
}

// Invalidate drops a single code from the cache
func (c *CachedQuotes) Invalidate(code string) {
	c.cache.Invalidate("q:" + code)
}

// LimitUpScanner maintains a cached snapshot of which watched stocks
// currently sit at their limit-up ceiling. The snapshot is shared by
// every caller inside the TTL window, with single-flight refill.
type LimitUpScanner struct {
	quotes   QuoteProvider
	universe func() []string
	cache    *cache.Cache[[]*domain.Quote]
	ttl      time.Duration
	log      zerolog.Logger
}

// NewLimitUpScanner creates a scanner over the given watch universe
func NewLimitUpScanner(quotes QuoteProvider, universe func() []string, ttl time.Duration, log zerolog.Logger) *LimitUpScanner {
	return &LimitUpScanner{
		quotes:   quotes,
		universe: universe,
		cache:    cache.New[[]*domain.Quote](1),
		ttl:      ttl,
		log:      log.With().Str("component", "limit_up_scanner").Logger(),
	}
}

// LimitUps returns today's limit-up quotes among the watched universe,
// sorted by code. The cached flag reports whether the snapshot was
// served without an upstream fetch.
func (s *LimitUpScanner) LimitUps(ctx context.Context) ([]*domain.Quote, bool, error) {
	snapshot, cached, err := s.cache.GetOrFill(ctx, "limit_up", s.ttl, func(ctx context.Context) ([]*domain.Quote, error) {
		codes := s.universe()
		quotes, err := s.quotes.Quotes(ctx, codes)
		if err != nil {
			return nil, err
		}

		var ups []*domain.Quote
		for _, q := range quotes {
			if q.IsLimitUp {
				ups = append(ups, q)
			}
		}
		sort.Slice(ups, func(i, j int) bool { return ups[i].Code < ups[j].Code })

		s.log.Debug().Int("scanned", len(codes)).Int("limit_up", len(ups)).Msg("Refreshed limit-up snapshot")
		return ups, nil
	})
	if err != nil {
		return nil, false, err
	}
	return snapshot, cached, nil
}

// CachedHistory is a read-through kline source: serves from the local
// history DB when it is current, otherwise fetches upstream and caches.
// Falls back to stale local data when upstream is unreachable.
type CachedHistory struct {
	upstream HistoryProvider
	db       *HistoryDB
	calendar *Calendar
	log      zerolog.Logger
}

// NewCachedHistory creates the read-through wrapper
func NewCachedHistory(upstream HistoryProvider, db *HistoryDB, calendar *Calendar, log zerolog.Logger) *CachedHistory {
	return &CachedHistory{
		upstream: upstream,
		db:       db,
		calendar: calendar,
		log:      log.With().Str("component", "history_cache").Logger(),
	}
}

// DailyKlines returns the most recent days candles, oldest first
func (c *CachedHistory) DailyKlines(ctx context.Context, code string, days int) ([]domain.Kline, error) {
	if days <= 0 {
		days = 120
	}

	cached, err := c.db.GetKlines(code, days)
	if err != nil {
		return nil, err
	}

	if len(cached) >= days && c.isCurrent(cached) {
		return cached, nil
	}

	fresh, err := c.upstream.DailyKlines(ctx, code, days)
	if err != nil {
		if len(cached) > 0 {
			c.log.Warn().Err(err).Str("code", code).Msg("Upstream kline fetch failed, serving stale cache")
			return cached, nil
		}
		return nil, err
	}

	if err := c.db.UpsertKlines(code, fresh); err != nil {
		c.log.Warn().Err(err).Str("code", code).Msg("Failed to cache klines")
	}
	return fresh, nil
}

// isCurrent reports whether the newest cached candle is from the most
// recent trading day.
func (c *CachedHistory) isCurrent(klines []domain.Kline) bool {
	if len(klines) == 0 {
		return false
	}
	latest := klines[len(klines)-1].Date
	return latest >= c.calendar.LastTradingDay(time.Now())
}
