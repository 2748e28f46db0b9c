package graph

import (
	"context"
	"sort"
	"strings"

	"holderscope/internal/domain"
)

// creationPatterns finds wallet pairs whose first on-chain activity happened
// within the creation window. First-tx timestamps come from the chain lookup;
// wallets with unresolvable timestamps are skipped, not failed.
func (a *Analyzer) creationPatterns(ctx context.Context, holders []*domain.HolderRecord) ([]domain.CreationPattern, error) {
	timestamps := make(map[string]int64, len(holders))
	for _, h := range holders {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ts, ok, err := a.lookup.FirstTxTimestamp(ctx, h.Address)
		if err != nil {
			a.logger.Printf("first-tx lookup failed for %s: %v", h.Address, err)
			continue
		}
		if ok {
			timestamps[h.Address] = ts
		}
	}

	var patterns []domain.CreationPattern
	for i, w1 := range holders {
		ts1, ok := timestamps[w1.Address]
		if !ok {
			continue
		}
		for _, w2 := range holders[i+1:] {
			ts2, ok := timestamps[w2.Address]
			if !ok {
				continue
			}

			diff := ts1 - ts2
			if diff < 0 {
				diff = -diff
			}
			diffMinutes := float64(diff) / 60

			if diffMinutes <= creationWindowMinutes {
				patterns = append(patterns, domain.CreationPattern{
					Wallets:         [2]string{w1.Address, w2.Address},
					TimeDiffMinutes: diffMinutes,
					CombinedBalance: w1.BalancePercent + w2.BalancePercent,
					Timestamps:      [2]int64{ts1, ts2},
				})
			}
		}
	}

	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].TimeDiffMinutes != patterns[j].TimeDiffMinutes {
			return patterns[i].TimeDiffMinutes < patterns[j].TimeDiffMinutes
		}
		return patterns[i].CombinedBalance > patterns[j].CombinedBalance
	})
	return patterns, nil
}

// transactionPatterns finds wallet pairs with highly similar transaction
// count profiles. Pure function over the holder batch, no external calls.
func transactionPatterns(holders []*domain.HolderRecord) []domain.TransactionPattern {
	var patterns []domain.TransactionPattern
	for i, w1 := range holders {
		for _, w2 := range holders[i+1:] {
			similarity := txSimilarity(w1, w2)
			if similarity <= similarityThreshold {
				continue
			}
			patterns = append(patterns, domain.TransactionPattern{
				Wallets:         [2]string{w1.Address, w2.Address},
				Similarity:      similarity,
				CombinedBalance: w1.BalancePercent + w2.BalancePercent,
				RecentActivity: w1.ActivityInfo.TotalRecentTxCount > 0 ||
					w2.ActivityInfo.TotalRecentTxCount > 0,
			})
		}
	}

	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].Similarity != patterns[j].Similarity {
			return patterns[i].Similarity > patterns[j].Similarity
		}
		return patterns[i].CombinedBalance > patterns[j].CombinedBalance
	})
	return patterns
}

// transferPatterns finds direct value transfers between batch members inside
// the lookback window and aggregates them per wallet pair. Contract calls and
// zero-value transfers are ignored.
func (a *Analyzer) transferPatterns(ctx context.Context, holders []*domain.HolderRecord) ([]domain.TransferPattern, error) {
	members := make(map[string]struct{}, len(holders))
	for _, h := range holders {
		members[strings.ToLower(h.Address)] = struct{}{}
	}

	cutoff := a.now().Add(-transferLookback).Unix()

	type pairKey [2]string
	type pairAgg struct {
		value  float64
		count  int
		latest int64
	}
	pairs := make(map[pairKey]*pairAgg)

	for _, h := range holders {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		txs, err := a.lookup.RecentTransactions(ctx, h.Address)
		if err != nil {
			a.logger.Printf("transaction lookup failed for %s: %v", h.Address, err)
			continue
		}

		for _, tx := range txs {
			if tx.Timestamp < cutoff || tx.ContractCall || tx.ValueEth <= 0 {
				continue
			}
			from := strings.ToLower(tx.From)
			to := strings.ToLower(tx.To)
			if _, ok := members[from]; !ok {
				continue
			}
			if _, ok := members[to]; !ok {
				continue
			}

			key := pairKey{from, to}
			if key[0] > key[1] {
				key[0], key[1] = key[1], key[0]
			}
			agg := pairs[key]
			if agg == nil {
				agg = &pairAgg{}
				pairs[key] = agg
			}
			agg.value += tx.ValueEth
			agg.count++
			if tx.Timestamp > agg.latest {
				agg.latest = tx.Timestamp
			}
		}
	}

	patterns := make([]domain.TransferPattern, 0, len(pairs))
	for key, agg := range pairs {
		patterns = append(patterns, domain.TransferPattern{
			Wallets:         key,
			TotalValueEth:   agg.value,
			Frequency:       agg.count,
			LatestTimestamp: agg.latest,
		})
	}

	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].Frequency != patterns[j].Frequency {
			return patterns[i].Frequency > patterns[j].Frequency
		}
		return patterns[i].TotalValueEth > patterns[j].TotalValueEth
	})
	return patterns, nil
}
