package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AnalysisKind selects the depth of a token analysis.
type AnalysisKind string

const (
	KindQuick AnalysisKind = "quick"
	KindDeep  AnalysisKind = "deep"
)

// HolderLimit returns how many top holders the kind analyzes.
func (k AnalysisKind) HolderLimit() int {
	if k == KindDeep {
		return 50
	}
	return 10
}

// CreditCost returns the prepaid credits an admission of this kind consumes.
func (k AnalysisKind) CreditCost() int64 {
	if k == KindDeep {
		return 5
	}
	return 1
}

// Valid reports whether k is a known analysis kind.
func (k AnalysisKind) Valid() bool {
	return k == KindQuick || k == KindDeep
}

// ContractInfo holds the minimum token contract metadata.
type ContractInfo struct {
	Symbol   string
	Decimals uint8
}

// AnalysisReport is the finished product of one analysis task. Every
// requester attached to the same task receives the identical report.
type AnalysisReport struct {
	TokenAddress       string
	Kind               AnalysisKind
	ContractInfo       ContractInfo
	TotalSupply        decimal.Decimal
	DeployerAnalysis   *HolderRecord   // nil when the deployer could not be resolved
	HoldersAnalysis    []*HolderRecord // may be empty, never nil after a successful run
	ConnectionAnalysis *ConnectionAnalysis // deep analyses only
	GeneratedAt        time.Time
}
