package domain

// RiskLevel labels a wallet-connection risk score.
type RiskLevel string

const (
	RiskLevelExtreme    RiskLevel = "extreme"
	RiskLevelElevated   RiskLevel = "elevated"
	RiskLevelModerate   RiskLevel = "moderate"
	RiskLevelMinimal    RiskLevel = "minimal"
	RiskLevelNegligible RiskLevel = "negligible"
	RiskLevelUnknown    RiskLevel = "unknown"
)

// RiskComponents is the capped breakdown of a risk score.
type RiskComponents struct {
	ClusterScore  float64 // max 40
	DensityScore  float64 // max 30
	VarianceScore float64 // max 30
}

// RiskScore maps cluster topology to a bounded numeric score.
type RiskScore struct {
	Score              float64 // 0..100
	LargestClusterSize int
	NumClusters        int
	NetworkDensity     float64
	Level              RiskLevel
	Components         RiskComponents
}

// CreationPattern records two wallets whose first on-chain activity happened
// within a short window of each other.
type CreationPattern struct {
	Wallets         [2]string
	TimeDiffMinutes float64
	CombinedBalance float64 // summed balance percent
	Timestamps      [2]int64
}

// TransactionPattern records two wallets with highly similar transaction
// count profiles.
type TransactionPattern struct {
	Wallets         [2]string
	Similarity      float64
	CombinedBalance float64
	RecentActivity  bool
}

// TransferPattern aggregates direct transfers between a wallet pair inside
// the recent lookback window.
type TransferPattern struct {
	Wallets         [2]string
	TotalValueEth   float64
	Frequency       int
	LatestTimestamp int64
}

// ConnectionAnalysis is the output of the wallet connection analyzer for one
// holder batch.
type ConnectionAnalysis struct {
	RiskScore           RiskScore
	Clusters            [][]string // sorted by size descending
	CreationPatterns    []CreationPattern
	TransactionPatterns []TransactionPattern
	TransferPatterns    []TransferPattern
}
