// Package stub provides a scripted chaindata.Provider for testing.
package stub

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"holderscope/internal/chaindata"
	"holderscope/internal/domain"
)

// Provider implements chaindata.Provider from scripted in-memory data.
type Provider struct {
	mu sync.Mutex

	ContractInfos map[string]domain.ContractInfo
	Supplies      map[string]decimal.Decimal
	Deployers     map[string]string
	Holders       map[string][]string
	Records       map[string]*domain.HolderRecord // keyed by holder address

	// FailWith forces GetContractInfo for a token to return an error,
	// exercising the coordinator's failure path.
	FailWith map[string]error

	// Delay is simulated latency applied to every call.
	Delay time.Duration

	contractInfoCalls map[string]int
}

// NewProvider creates an empty stub provider.
func NewProvider() *Provider {
	return &Provider{
		ContractInfos:     make(map[string]domain.ContractInfo),
		Supplies:          make(map[string]decimal.Decimal),
		Deployers:         make(map[string]string),
		Holders:           make(map[string][]string),
		Records:           make(map[string]*domain.HolderRecord),
		FailWith:          make(map[string]error),
		contractInfoCalls: make(map[string]int),
	}
}

// Compile-time interface check.
var _ chaindata.Provider = (*Provider)(nil)

// SetToken registers a token with its metadata and holder set in one call.
func (p *Provider) SetToken(token, symbol string, supply decimal.Decimal, records []*domain.HolderRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ContractInfos[token] = domain.ContractInfo{Symbol: symbol, Decimals: 18}
	p.Supplies[token] = supply

	holders := make([]string, 0, len(records))
	for _, r := range records {
		holders = append(holders, r.Address)
		p.Records[r.Address] = r
	}
	p.Holders[token] = holders
}

// ContractInfoCalls returns how many times GetContractInfo ran for a token.
func (p *Provider) ContractInfoCalls(token string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.contractInfoCalls[token]
}

func (p *Provider) sleep(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// GetContractInfo returns scripted contract info, or chaindata.ErrNotAToken
// for unregistered tokens.
func (p *Provider) GetContractInfo(ctx context.Context, tokenAddress string) (*domain.ContractInfo, error) {
	if err := p.sleep(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.contractInfoCalls[tokenAddress]++

	if err := p.FailWith[tokenAddress]; err != nil {
		return nil, err
	}
	info, ok := p.ContractInfos[tokenAddress]
	if !ok {
		return nil, chaindata.ErrNotAToken
	}
	return &info, nil
}

// GetTotalSupply returns the scripted supply, zero for unknown tokens.
func (p *Provider) GetTotalSupply(ctx context.Context, tokenAddress string) (decimal.Decimal, error) {
	if err := p.sleep(ctx); err != nil {
		return decimal.Zero, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Supplies[tokenAddress], nil
}

// GetContractDeployer returns the scripted deployer, "" when none is set.
func (p *Provider) GetContractDeployer(ctx context.Context, tokenAddress string) (string, error) {
	if err := p.sleep(ctx); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Deployers[tokenAddress], nil
}

// GetTopHolders returns up to limit scripted holder addresses.
func (p *Provider) GetTopHolders(ctx context.Context, tokenAddress string, limit int) ([]string, error) {
	if err := p.sleep(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	holders := p.Holders[tokenAddress]
	if len(holders) > limit {
		holders = holders[:limit]
	}
	out := make([]string, len(holders))
	copy(out, holders)
	return out, nil
}

// GetHolderRecord returns a copy of the scripted record, or a minimal user
// record for unknown addresses.
func (p *Provider) GetHolderRecord(ctx context.Context, tokenAddress, holderAddress string, _ decimal.Decimal, deployer string) (*domain.HolderRecord, error) {
	if err := p.sleep(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if r, ok := p.Records[holderAddress]; ok {
		clone := *r
		clone.TokenAddress = tokenAddress
		return &clone, nil
	}

	addressType := domain.AddressTypeUser
	if deployer != "" && holderAddress == deployer {
		addressType = domain.AddressTypeDeveloper
	}
	return &domain.HolderRecord{
		Address:      holderAddress,
		TokenAddress: tokenAddress,
		Balance:      decimal.Zero,
		AddressType:  addressType,
	}, nil
}
