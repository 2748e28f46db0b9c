package graph

import (
	"sort"

	"holderscope/internal/domain"
)

// findClusters greedily partitions holders into clusters of likely-connected
// wallets. Holders are processed in input order; a candidate joins a cluster
// when its weight against the cluster's seed element reaches the threshold.
// Membership is decided against the seed only, not against every current
// member, so clusters are not transitively closed. Only clusters of two or
// more wallets are kept, sorted by size descending.
func findClusters(holders []*domain.HolderRecord) [][]string {
	var clusters [][]string
	used := make(map[string]struct{}, len(holders))

	for i, seed := range holders {
		if _, ok := used[seed.Address]; ok {
			continue
		}

		cluster := []string{seed.Address}
		used[seed.Address] = struct{}{}

		for _, candidate := range holders[i+1:] {
			if _, ok := used[candidate.Address]; ok {
				continue
			}
			if connectionWeight(seed, candidate) >= clusterThreshold {
				cluster = append(cluster, candidate.Address)
				used[candidate.Address] = struct{}{}
			}
		}

		if len(cluster) > 1 {
			clusters = append(clusters, cluster)
		}
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return len(clusters[i]) > len(clusters[j])
	})
	return clusters
}
