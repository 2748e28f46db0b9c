// Package chaindata fetches token and wallet attributes from external chain
// data sources: an EVM JSON-RPC node, etherscan-family block explorers for
// Base and Ethereum, and the Covalent holder API.
package chaindata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"holderscope/internal/addr"
	"holderscope/internal/domain"
	"holderscope/internal/graph"
)

// recentWindow is the activity lookback for "recent" transaction counts.
const recentWindow = 30 * 24 * time.Hour

// zeroAddress exercises balanceOf during token validation.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// Provider fetches everything the coordinator needs to analyze a token.
// Implementations may fail partially: GetHolderRecord degrades missing
// sub-attributes to zero/false defaults instead of failing the record.
type Provider interface {
	// GetContractInfo returns symbol and decimals, or ErrNotAToken when the
	// address lacks the minimum ERC-20 read methods.
	GetContractInfo(ctx context.Context, tokenAddress string) (*domain.ContractInfo, error)

	// GetTotalSupply returns the human-scaled total supply.
	GetTotalSupply(ctx context.Context, tokenAddress string) (decimal.Decimal, error)

	// GetContractDeployer resolves the deployer address, "" when unknown.
	GetContractDeployer(ctx context.Context, tokenAddress string) (string, error)

	// GetTopHolders returns up to limit holder addresses with verified
	// positive balances. An empty list on total upstream failure is not an
	// error.
	GetTopHolders(ctx context.Context, tokenAddress string, limit int) ([]string, error)

	// GetHolderRecord aggregates age, NFT, activity and balance lookups for
	// one wallet. deployer marks the Developer address type.
	GetHolderRecord(ctx context.Context, tokenAddress, holderAddress string, totalSupply decimal.Decimal, deployer string) (*domain.HolderRecord, error)
}

// Client implements Provider against live chain data sources.
type Client struct {
	rpc      *RPCClient
	base     *ExplorerClient
	eth      *ExplorerClient // nil disables Ethereum-side lookups
	covalent *CovalentClient // nil disables the primary holder source
	logger   *log.Logger
	now      func() time.Time

	mu       sync.Mutex
	decimals map[string]uint8
}

// Options configures Client. RPC and BaseExplorer are required.
type Options struct {
	RPC          *RPCClient
	BaseExplorer *ExplorerClient
	EthExplorer  *ExplorerClient
	Covalent     *CovalentClient
	Logger       *log.Logger
	Now          func() time.Time
}

// NewClient creates a chain data client.
func NewClient(opts Options) (*Client, error) {
	if opts.RPC == nil {
		return nil, errors.New("chaindata: RPC client is required")
	}
	if opts.BaseExplorer == nil {
		return nil, errors.New("chaindata: base explorer client is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[chaindata] ", log.LstdFlags)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{
		rpc:      opts.RPC,
		base:     opts.BaseExplorer,
		eth:      opts.EthExplorer,
		covalent: opts.Covalent,
		logger:   opts.Logger,
		now:      opts.Now,
		decimals: make(map[string]uint8),
	}, nil
}

// Compile-time interface checks.
var (
	_ Provider          = (*Client)(nil)
	_ graph.ChainLookup = (*Client)(nil)
)

// GetContractInfo validates the address as an ERC-20 token and returns its
// symbol and decimals.
func (c *Client) GetContractInfo(ctx context.Context, tokenAddress string) (*domain.ContractInfo, error) {
	token, err := addr.Checksum(tokenAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotAToken, tokenAddress)
	}

	code, err := c.rpc.GetCode(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("get code: %w", err)
	}
	if len(code) <= 2 {
		return nil, fmt.Errorf("%w: no contract code at %s", ErrNotAToken, token)
	}

	symbol, err := c.rpc.TokenSymbol(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: symbol() failed: %v", ErrNotAToken, err)
	}

	decimals, err := c.rpc.TokenDecimals(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: decimals() failed: %v", ErrNotAToken, err)
	}

	if _, err := c.rpc.BalanceOf(ctx, token, zeroAddress); err != nil {
		return nil, fmt.Errorf("%w: balanceOf() failed: %v", ErrNotAToken, err)
	}

	c.mu.Lock()
	c.decimals[token] = decimals
	c.mu.Unlock()

	return &domain.ContractInfo{Symbol: symbol, Decimals: decimals}, nil
}

// GetTotalSupply returns the total supply scaled by the token's decimals.
func (c *Client) GetTotalSupply(ctx context.Context, tokenAddress string) (decimal.Decimal, error) {
	raw, err := c.rpc.TotalSupply(ctx, tokenAddress)
	if err != nil {
		return decimal.Zero, fmt.Errorf("total supply: %w", err)
	}

	decimals, err := c.tokenDecimals(ctx, tokenAddress)
	if err != nil {
		return decimal.Zero, err
	}

	return decimal.NewFromBigInt(raw, -int32(decimals)), nil
}

// GetContractDeployer resolves the deployer via the Base explorer.
// An unresolvable deployer is "" with no error; the analysis proceeds
// without a deployer record.
func (c *Client) GetContractDeployer(ctx context.Context, tokenAddress string) (string, error) {
	creator, err := c.base.ContractCreator(ctx, tokenAddress)
	if err != nil {
		return "", fmt.Errorf("contract creator: %w", err)
	}
	if creator == "" {
		return "", nil
	}
	return addr.Checksum(creator)
}

// GetTopHolders fetches candidate holders from Covalent first, falling back
// to the Base explorer, and keeps only addresses whose balance verifies as
// positive over RPC. Both sources are over-fetched 2x because their lists
// lag the chain and may include emptied wallets.
func (c *Client) GetTopHolders(ctx context.Context, tokenAddress string, limit int) ([]string, error) {
	fetch := limit * 2

	if c.covalent != nil {
		candidates, err := c.covalent.TokenHolders(ctx, tokenAddress, fetch)
		if err != nil {
			c.logger.Printf("covalent holders failed for %s: %v, falling back to explorer", tokenAddress, err)
		} else {
			verified, err := c.verifyHolders(ctx, tokenAddress, candidates, limit)
			if err != nil {
				return nil, err
			}
			if len(verified) > 0 {
				return verified, nil
			}
			c.logger.Printf("no verified holders from covalent for %s, falling back to explorer", tokenAddress)
		}
	}

	candidates, err := c.base.TokenHolders(ctx, tokenAddress, fetch)
	if err != nil {
		c.logger.Printf("explorer holders failed for %s: %v", tokenAddress, err)
		return nil, nil
	}
	return c.verifyHolders(ctx, tokenAddress, candidates, limit)
}

// verifyHolders checksums candidates and keeps the first limit addresses
// with a positive current balance. Per-address verification failures are
// skipped, not fatal.
func (c *Client) verifyHolders(ctx context.Context, tokenAddress string, candidates []string, limit int) ([]string, error) {
	var holders []string
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		holder, err := addr.Checksum(candidate)
		if err != nil {
			continue
		}

		balance, err := c.rpc.BalanceOf(ctx, tokenAddress, holder)
		if err != nil {
			c.logger.Printf("balance verification failed for %s: %v", holder, err)
			continue
		}
		if balance.Sign() <= 0 {
			continue
		}

		holders = append(holders, holder)
		if len(holders) >= limit {
			break
		}
	}
	return holders, nil
}

// GetHolderRecord aggregates all wallet attributes for one holder. The four
// sub-lookups run in parallel; each degrades to a zero/false default on
// failure rather than failing the record.
func (c *Client) GetHolderRecord(ctx context.Context, tokenAddress, holderAddress string, totalSupply decimal.Decimal, deployer string) (*domain.HolderRecord, error) {
	holder, err := addr.Checksum(holderAddress)
	if err != nil {
		return nil, err
	}
	token, err := addr.Checksum(tokenAddress)
	if err != nil {
		return nil, err
	}

	var (
		ageInfo  domain.AgeInfo
		nftInfo  domain.NFTInfo
		activity domain.ActivityInfo
		balance  decimal.Decimal
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ageInfo = c.accountAge(gctx, holder)
		return nil
	})
	g.Go(func() error {
		nftInfo = c.nftHoldings(gctx, holder)
		return nil
	})
	g.Go(func() error {
		activity = c.walletActivity(gctx, holder)
		return nil
	})
	g.Go(func() error {
		b, err := c.tokenBalance(gctx, token, holder)
		if err != nil {
			c.logger.Printf("token balance failed for %s: %v", holder, err)
			b = decimal.Zero
		}
		balance = b
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	balancePercent := 0.0
	if totalSupply.IsPositive() {
		balancePercent = balance.Div(totalSupply).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}

	return &domain.HolderRecord{
		Address:        holder,
		TokenAddress:   token,
		Balance:        balance,
		BalancePercent: balancePercent,
		AgeInfo:        ageInfo,
		NFTInfo:        nftInfo,
		ActivityInfo:   activity,
		AddressType:    c.addressType(ctx, holder, deployer),
	}, nil
}

// addressType classifies an address: known burn address, the token's
// deployer, a contract, or a regular user wallet.
func (c *Client) addressType(ctx context.Context, address, deployer string) domain.AddressType {
	if addr.IsBlackhole(address) {
		return domain.AddressTypeBlackhole
	}
	if deployer != "" && addr.Equal(address, deployer) {
		return domain.AddressTypeDeveloper
	}

	code, err := c.rpc.GetCode(ctx, address)
	if err != nil {
		c.logger.Printf("code lookup failed for %s: %v", address, err)
		return domain.AddressTypeUser
	}
	if len(code) > 2 {
		return domain.AddressTypeContract
	}
	return domain.AddressTypeUser
}

// tokenBalance reads and scales the holder's current balance.
func (c *Client) tokenBalance(ctx context.Context, token, holder string) (decimal.Decimal, error) {
	raw, err := c.rpc.BalanceOf(ctx, token, holder)
	if err != nil {
		return decimal.Zero, err
	}
	decimals, err := c.tokenDecimals(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)), nil
}

// tokenDecimals reads decimals once per token and caches the result.
func (c *Client) tokenDecimals(ctx context.Context, token string) (uint8, error) {
	c.mu.Lock()
	d, ok := c.decimals[token]
	c.mu.Unlock()
	if ok {
		return d, nil
	}

	d, err := c.rpc.TokenDecimals(ctx, token)
	if err != nil {
		return 0, fmt.Errorf("decimals: %w", err)
	}

	c.mu.Lock()
	c.decimals[token] = d
	c.mu.Unlock()
	return d, nil
}

// accountAge derives wallet age from the earliest transaction on either
// chain. No history at all yields the zero AgeInfo.
func (c *Client) accountAge(ctx context.Context, address string) domain.AgeInfo {
	var timestamps []int64

	if ts, ok, err := c.base.FirstTxTimestamp(ctx, address); err != nil {
		c.logger.Printf("base first-tx lookup failed for %s: %v", address, err)
	} else if ok {
		timestamps = append(timestamps, ts)
	}

	if c.eth != nil {
		if ts, ok, err := c.eth.FirstTxTimestamp(ctx, address); err != nil {
			c.logger.Printf("eth first-tx lookup failed for %s: %v", address, err)
		} else if ok {
			timestamps = append(timestamps, ts)
		}
	}

	if len(timestamps) == 0 {
		return domain.AgeInfo{}
	}

	earliest := timestamps[0]
	for _, ts := range timestamps[1:] {
		if ts < earliest {
			earliest = ts
		}
	}

	first := time.Unix(earliest, 0)
	ageDays := int(c.now().Sub(first).Hours() / 24)

	return domain.AgeInfo{
		FirstActivity: &first,
		AgeDays:       ageDays,
		OlderThan30d:  ageDays > 30,
		OlderThan90d:  ageDays > 90,
		OlderThan180d: ageDays > 180,
		OlderThan360d: ageDays > 360,
	}
}

// nftHoldings checks for ERC-721 transfer history on both chains.
func (c *Client) nftHoldings(ctx context.Context, address string) domain.NFTInfo {
	var info domain.NFTInfo

	has, err := c.base.HasNFTTransfers(ctx, address)
	if err != nil {
		c.logger.Printf("base NFT check failed for %s: %v", address, err)
	} else {
		info.HasBaseNFTs = has
	}

	if c.eth != nil {
		has, err := c.eth.HasNFTTransfers(ctx, address)
		if err != nil {
			c.logger.Printf("eth NFT check failed for %s: %v", address, err)
		} else {
			info.HasEthNFTs = has
		}
	}

	return info
}

// walletActivity counts lifetime and recent transactions per chain. Base
// counts come from the explorer's transaction list; the Ethereum lifetime
// count uses the cheaper RPC-proxy nonce lookup.
func (c *Client) walletActivity(ctx context.Context, address string) domain.ActivityInfo {
	cutoff := c.now().Add(-recentWindow).Unix()

	var info domain.ActivityInfo

	baseTxs, err := c.base.TxList(ctx, address)
	if err != nil {
		c.logger.Printf("base tx list failed for %s: %v", address, err)
	} else {
		info.Base.TotalTxCount = len(baseTxs)
		for _, tx := range baseTxs {
			if tx.Timestamp >= cutoff {
				info.Base.RecentTxCount++
			}
		}
		info.Base.IsActive = info.Base.RecentTxCount > 0
	}

	if c.eth != nil {
		ethTxs, err := c.eth.TxList(ctx, address)
		if err != nil {
			c.logger.Printf("eth tx list failed for %s: %v", address, err)
		} else {
			recent := 0
			for _, tx := range ethTxs {
				if tx.Timestamp >= cutoff {
					recent++
				}
			}
			total, err := c.eth.TxCount(ctx, address)
			if err != nil {
				c.logger.Printf("eth tx count failed for %s: %v", address, err)
			} else {
				info.Eth.TotalTxCount = total
				info.Eth.RecentTxCount = recent
				info.Eth.IsActive = recent > 0
			}
		}
	}

	info.TotalRecentTxCount = info.Base.RecentTxCount + info.Eth.RecentTxCount
	info.IsActiveOverall = info.TotalRecentTxCount > 0
	return info
}

var weiPerEth = decimal.New(1, 18)

// FirstTxTimestamp implements graph.ChainLookup against the Base explorer.
func (c *Client) FirstTxTimestamp(ctx context.Context, address string) (int64, bool, error) {
	return c.base.FirstTxTimestamp(ctx, address)
}

// RecentTransactions implements graph.ChainLookup against the Base explorer.
func (c *Client) RecentTransactions(ctx context.Context, address string) ([]graph.Transfer, error) {
	txs, err := c.base.TxList(ctx, address)
	if err != nil {
		return nil, err
	}

	transfers := make([]graph.Transfer, len(txs))
	for i, tx := range txs {
		transfers[i] = graph.Transfer{
			From:         tx.From,
			To:           tx.To,
			ValueEth:     tx.ValueWei.Div(weiPerEth).InexactFloat64(),
			Timestamp:    tx.Timestamp,
			ContractCall: tx.ContractCall,
		}
	}
	return transfers, nil
}
