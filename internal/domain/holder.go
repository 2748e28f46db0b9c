package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AddressType classifies a holder address.
type AddressType string

const (
	AddressTypeUser      AddressType = "User"
	AddressTypeContract  AddressType = "Contract"
	AddressTypeDeveloper AddressType = "Developer"
	AddressTypeBlackhole AddressType = "Blackhole"
)

// ChainActivity holds transaction counters for one chain.
type ChainActivity struct {
	TotalTxCount  int  // lifetime transaction count
	RecentTxCount int  // transactions in the last 30 days
	IsActive      bool // RecentTxCount > 0
}

// ActivityInfo aggregates per-chain activity for a wallet.
type ActivityInfo struct {
	Base              ChainActivity
	Eth               ChainActivity
	TotalRecentTxCount int
	IsActiveOverall    bool
}

// AgeInfo describes how long a wallet has existed, derived from its
// earliest observed transaction on either chain.
type AgeInfo struct {
	FirstActivity *time.Time // nil when no transaction history was found
	AgeDays       int
	OlderThan30d  bool
	OlderThan90d  bool
	OlderThan180d bool
	OlderThan360d bool
}

// NFTInfo flags whether a wallet has ever received ERC-721 transfers.
type NFTInfo struct {
	HasBaseNFTs bool
	HasEthNFTs  bool
}

// HolderRecord is the attribute bundle describing one wallet's relationship
// to a token. Produced once by the chain-data provider and consumed
// read-only by downstream stages.
type HolderRecord struct {
	Address        string // EIP-55 checksummed
	TokenAddress   string // set before connection analysis for correlation
	Balance        decimal.Decimal
	BalancePercent float64 // 0..100 of total supply
	AgeInfo        AgeInfo
	NFTInfo        NFTInfo
	ActivityInfo   ActivityInfo
	AddressType    AddressType
}
