package graph

import (
	"math"

	"holderscope/internal/domain"
)

// connectionWeight estimates the likelihood two wallets share an operator,
// in [0, 1]. Three independently capped contributions: age proximity (0.4),
// transaction similarity (0.4), balance proximity (0.2).
func connectionWeight(a, b *domain.HolderRecord) float64 {
	weight := 0.0

	ageDiff := a.AgeInfo.AgeDays - b.AgeInfo.AgeDays
	if ageDiff < 0 {
		ageDiff = -ageDiff
	}
	if ageDiff < 1 {
		weight += 0.4
	} else if ageDiff < 7 {
		weight += 0.2
	}

	weight += txSimilarity(a, b) * 0.4

	balanceDiff := math.Abs(a.BalancePercent - b.BalancePercent)
	if balanceDiff < 1 {
		weight += 0.2
	} else if balanceDiff < 5 {
		weight += 0.1
	}

	return weight
}

// txSimilarity compares transaction count profiles of two wallets. Per-chain
// smaller-to-larger count ratios are weighted 0.7 Base / 0.3 Ethereum, then
// scaled by 1.2 when both wallets show recent activity, 0.8 otherwise.
func txSimilarity(a, b *domain.HolderRecord) float64 {
	baseRatio := countRatio(a.ActivityInfo.Base.TotalTxCount, b.ActivityInfo.Base.TotalTxCount)
	ethRatio := countRatio(a.ActivityInfo.Eth.TotalTxCount, b.ActivityInfo.Eth.TotalTxCount)

	similarity := baseRatio*0.7 + ethRatio*0.3

	if a.ActivityInfo.IsActiveOverall && b.ActivityInfo.IsActiveOverall {
		return similarity * 1.2
	}
	return similarity * 0.8
}

// countRatio is min/max of two non-negative counts, 0 when both are zero.
func countRatio(x, y int) float64 {
	if x > y {
		x, y = y, x
	}
	if y == 0 {
		return 0
	}
	return float64(x) / float64(y)
}
