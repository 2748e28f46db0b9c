package graph

import "holderscope/internal/domain"

// calculateRiskScore maps cluster topology to a bounded score in [0, 100].
// Components: largest-cluster ratio (max 40), intra-cluster pair density
// (max 30), population variance of cluster sizes scaled by holder count
// (max 30). totalHolders of zero yields the fixed zero/"unknown" structure.
func calculateRiskScore(clusters [][]string, totalHolders int) domain.RiskScore {
	if totalHolders == 0 {
		return domain.RiskScore{Level: domain.RiskLevelUnknown}
	}

	largest := 0
	intraPairs := 0.0
	for _, c := range clusters {
		if len(c) > largest {
			largest = len(c)
		}
		intraPairs += float64(len(c)*(len(c)-1)) / 2
	}

	clusterRatio := float64(largest) / float64(totalHolders)

	possiblePairs := float64(totalHolders*(totalHolders-1)) / 2
	density := 0.0
	if possiblePairs > 0 {
		density = intraPairs / possiblePairs
	}

	variance := 0.0
	if len(clusters) > 0 {
		mean := 0.0
		for _, c := range clusters {
			mean += float64(len(c))
		}
		mean /= float64(len(clusters))
		for _, c := range clusters {
			d := float64(len(c)) - mean
			variance += d * d
		}
		variance /= float64(len(clusters))
	}

	clusterScore := capped(clusterRatio*40, 40)
	densityScore := capped(density*30, 30)
	varianceScore := capped(variance/float64(totalHolders)*30, 30)

	score := clusterScore + densityScore + varianceScore
	if score > 100 {
		score = 100
	}

	return domain.RiskScore{
		Score:              score,
		LargestClusterSize: largest,
		NumClusters:        len(clusters),
		NetworkDensity:     density,
		Level:              riskLevel(score),
		Components: domain.RiskComponents{
			ClusterScore:  clusterScore,
			DensityScore:  densityScore,
			VarianceScore: varianceScore,
		},
	}
}

func capped(v, max float64) float64 {
	if v > max {
		return max
	}
	return v
}

// riskLevel buckets a score into a label, inclusive lower bounds.
func riskLevel(score float64) domain.RiskLevel {
	switch {
	case score >= 80:
		return domain.RiskLevelExtreme
	case score >= 60:
		return domain.RiskLevelElevated
	case score >= 40:
		return domain.RiskLevelModerate
	case score >= 20:
		return domain.RiskLevelMinimal
	default:
		return domain.RiskLevelNegligible
	}
}
