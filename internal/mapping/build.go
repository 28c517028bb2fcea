package mapping

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
)

// HoldingsSource provides an ETF's top holdings
type HoldingsSource interface {
	TopHoldings(ctx context.Context, etfCode string) ([]domain.Holding, error)
}

// BuildOptions controls a mapping rebuild
type BuildOptions struct {
	// MinWeight drops holdings below this fraction (0 keeps everything)
	MinWeight float64
	// Concurrency bounds parallel holdings fetches (default 4)
	Concurrency int
}

// Rebuild fetches top holdings for every ETF in the universe, inverts
// them into a stock -> ETF map and swaps it in. ETFs whose fetch fails
// are skipped; the rebuild only errors when nothing at all could be
// fetched, in which case the previous snapshot stays in place.
func (s *Store) Rebuild(ctx context.Context, etfCodes []string, src HoldingsSource, opts BuildOptions) error {
	m, err := build(ctx, etfCodes, src, opts, s)
	if err != nil {
		return err
	}
	s.Replace(m)
	return nil
}

func build(ctx context.Context, etfCodes []string, src HoldingsSource, opts BuildOptions, s *Store) (map[string][]domain.ETFRef, error) {
	if len(etfCodes) == 0 {
		return nil, fmt.Errorf("etf universe is empty")
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	var (
		mu      sync.Mutex
		byStock = make(map[string][]domain.ETFRef)
		fetched int
		failed  int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, etfCode := range etfCodes {
		etfCode := etfCode
		g.Go(func() error {
			holdings, err := src.TopHoldings(gctx, etfCode)
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				s.log.Warn().Err(err).Str("etf", etfCode).Msg("Failed to fetch holdings, skipping ETF")
				// Only context cancellation aborts the whole rebuild
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return nil
			}

			mu.Lock()
			fetched++
			for _, h := range holdings {
				if h.Weight < opts.MinWeight {
					continue
				}
				byStock[h.StockCode] = append(byStock[h.StockCode], domain.ETFRef{
					ETFCode: h.ETFCode,
					ETFName: h.ETFName,
					Weight:  h.Weight,
					Rank:    h.Rank,
				})
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("mapping rebuild aborted: %w", err)
	}
	if fetched == 0 {
		return nil, fmt.Errorf("mapping rebuild failed: all %d holdings fetches failed", failed)
	}

	s.log.Info().
		Int("etfs_fetched", fetched).
		Int("etfs_failed", failed).
		Int("stocks", len(byStock)).
		Msg("Mapping rebuilt from holdings")

	return byStock, nil
}
