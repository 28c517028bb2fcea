package strategy

import (
	"fmt"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
)

// HighestWeightSelector picks the ETF where the event stock carries the
// largest holding weight. The heaviest weight means the event moves
// that ETF the most.
type HighestWeightSelector struct{}

func (s *HighestWeightSelector) Name() string { return "highest_weight" }

// Select returns the maximal-weight candidate; ties go to the lower
// rank, then the lexicographically smaller code.
func (s *HighestWeightSelector) Select(eligible []domain.CandidateETF, _ domain.MarketEvent) *domain.CandidateETF {
	if len(eligible) == 0 {
		return nil
	}

	best := 0
	for i := 1; i < len(eligible); i++ {
		if weightBefore(eligible[i], eligible[best]) {
			best = i
		}
	}
	pick := eligible[best]
	return &pick
}

func (s *HighestWeightSelector) SelectionReason(fund *domain.CandidateETF) string {
	return fmt.Sprintf("highest weight %.2f%%", fund.Weight*100)
}

func weightBefore(a, b domain.CandidateETF) bool {
	if a.Weight != b.Weight {
		return a.Weight > b.Weight
	}
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	return a.ETFCode < b.ETFCode
}

// BestLiquiditySelector picks the eligible ETF with the largest daily
// cash turnover, trading a smaller weight for easier entry and exit
type BestLiquiditySelector struct{}

func (s *BestLiquiditySelector) Name() string { return "best_liquidity" }

// Select returns the maximal-turnover candidate; ties go to the higher
// weight, then the lexicographically smaller code.
func (s *BestLiquiditySelector) Select(eligible []domain.CandidateETF, _ domain.MarketEvent) *domain.CandidateETF {
	if len(eligible) == 0 {
		return nil
	}

	best := 0
	for i := 1; i < len(eligible); i++ {
		if liquidityBefore(eligible[i], eligible[best]) {
			best = i
		}
	}
	pick := eligible[best]
	return &pick
}

func (s *BestLiquiditySelector) SelectionReason(fund *domain.CandidateETF) string {
	return fmt.Sprintf("best liquidity %.0fM", fund.DailyAmount/1e6)
}

func liquidityBefore(a, b domain.CandidateETF) bool {
	if a.DailyAmount != b.DailyAmount {
		return a.DailyAmount > b.DailyAmount
	}
	if a.Weight != b.Weight {
		return a.Weight > b.Weight
	}
	return a.ETFCode < b.ETFCode
}
