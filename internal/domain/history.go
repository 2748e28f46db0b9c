package domain

// AnalysisStatus is the terminal outcome of an admitted analysis task.
type AnalysisStatus string

const (
	StatusDelivered AnalysisStatus = "delivered"
	StatusFailed    AnalysisStatus = "failed"
)

// AnalysisLogEntry is one row of the analysis audit trail.
type AnalysisLogEntry struct {
	RequesterID  string
	TokenAddress string
	Kind         AnalysisKind
	Status       AnalysisStatus
	Detail       string // failure reason, empty on success
	LoggedAt     int64  // Unix timestamp in milliseconds
}

// HolderSnapshot is one archived holder row from a completed analysis,
// flattened for the analytics store.
type HolderSnapshot struct {
	TokenAddress   string
	Kind           AnalysisKind
	Address        string
	AddressType    AddressType
	Balance        string // decimal string, precision preserved
	BalancePercent float64
	AgeDays        int
	HasBaseNFTs    bool
	HasEthNFTs     bool
	TotalTxCount   int
	RecentTxCount  int
	SnapshotAt     int64 // Unix timestamp in milliseconds
}
