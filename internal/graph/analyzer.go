// Package graph infers which holder wallets are likely controlled by the
// same actor. It builds pairwise connection weights over a holder batch,
// groups wallets into clusters, detects creation/transaction/transfer
// patterns and emits a bounded risk score.
package graph

import (
	"context"
	"log"
	"os"
	"time"

	"holderscope/internal/domain"
)

// Transfer is one observed on-chain transaction touching a holder wallet.
type Transfer struct {
	From         string
	To           string
	ValueEth     float64
	Timestamp    int64 // Unix seconds
	ContractCall bool  // non-empty input data
}

// ChainLookup resolves per-wallet chain data the analyzer cannot derive from
// holder records alone. Implementations are expected to pace their external
// calls; the analyzer issues O(n) lookups per batch.
type ChainLookup interface {
	// FirstTxTimestamp returns the Unix timestamp of the wallet's earliest
	// transaction. ok is false when the wallet has no history.
	FirstTxTimestamp(ctx context.Context, address string) (ts int64, ok bool, err error)

	// RecentTransactions returns the wallet's latest transactions, newest
	// first.
	RecentTransactions(ctx context.Context, address string) ([]Transfer, error)
}

// Clustering and pattern thresholds.
const (
	clusterThreshold      = 0.8
	similarityThreshold   = 0.8
	creationWindowMinutes = 30
	transferLookback      = 7 * 24 * time.Hour
)

// Analyzer is the wallet connection analyzer. Stateless between calls.
type Analyzer struct {
	lookup ChainLookup
	logger *log.Logger
	now    func() time.Time
}

// Options configures Analyzer.
type Options struct {
	Lookup ChainLookup
	Logger *log.Logger    // defaults to "[graph] " on stdout
	Now    func() time.Time // defaults to time.Now, override in tests
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(opts Options) *Analyzer {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[graph] ", log.LstdFlags)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Analyzer{
		lookup: opts.Lookup,
		logger: opts.Logger,
		now:    opts.Now,
	}
}

// Analyze runs the full connection analysis over one holder batch.
// Contract and developer addresses are excluded before any pairwise work.
// Lookup failures degrade to missing data points, never abort the analysis.
func (a *Analyzer) Analyze(ctx context.Context, holders []*domain.HolderRecord) (*domain.ConnectionAnalysis, error) {
	users := make([]*domain.HolderRecord, 0, len(holders))
	for _, h := range holders {
		if h.AddressType == domain.AddressTypeContract || h.AddressType == domain.AddressTypeDeveloper {
			continue
		}
		users = append(users, h)
	}

	creation, err := a.creationPatterns(ctx, users)
	if err != nil {
		return nil, err
	}

	transaction := transactionPatterns(users)

	transfers, err := a.transferPatterns(ctx, users)
	if err != nil {
		return nil, err
	}

	clusters := findClusters(users)
	risk := calculateRiskScore(clusters, len(users))

	a.logger.Printf("analyzed %d user wallets: %d clusters, risk %.1f (%s)",
		len(users), len(clusters), risk.Score, risk.Level)

	return &domain.ConnectionAnalysis{
		RiskScore:           risk,
		Clusters:            clusters,
		CreationPatterns:    creation,
		TransactionPatterns: transaction,
		TransferPatterns:    transfers,
	}, nil
}
