package chaindata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ExplorerClient queries an etherscan-family block explorer HTTP API.
// All calls go through a shared pacer so per-pair lookups stay inside the
// upstream rate limit.
type ExplorerClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	pacer   *Pacer
}

// ExplorerOption configures ExplorerClient.
type ExplorerOption func(*ExplorerClient)

// WithExplorerHTTPClient sets custom http.Client.
func WithExplorerHTTPClient(client *http.Client) ExplorerOption {
	return func(c *ExplorerClient) {
		c.client = client
	}
}

// WithExplorerPacer sets the pacer shared across explorer calls.
func WithExplorerPacer(p *Pacer) ExplorerOption {
	return func(c *ExplorerClient) {
		c.pacer = p
	}
}

// NewExplorerClient creates a client for one explorer endpoint.
func NewExplorerClient(baseURL, apiKey string, opts ...ExplorerOption) *ExplorerClient {
	c := &ExplorerClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// explorerResponse is the envelope every etherscan-family endpoint returns.
// Status "0" with an empty result means "no data", not an error.
type explorerResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// get issues one paced API call. ok is false when the explorer reported no
// data for the query.
func (c *ExplorerClient) get(ctx context.Context, query url.Values) (result json.RawMessage, ok bool, err error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, false, err
	}

	query.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var env explorerResponse
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, false, fmt.Errorf("unmarshal response: %w", err)
	}

	if env.Status != "1" {
		// "No transactions found" and friends
		return nil, false, nil
	}
	return env.Result, true, nil
}

// explorerTx is one transaction row as the explorer serializes it.
type explorerTx struct {
	Hash      string `json:"hash"`
	From      string `json:"from"`
	To        string `json:"to"`
	Value     string `json:"value"` // wei, decimal string
	TimeStamp string `json:"timeStamp"`
	Input     string `json:"input"`
}

// Tx is one normalized explorer transaction.
type Tx struct {
	Hash         string
	From         string
	To           string
	ValueWei     decimal.Decimal
	Timestamp    int64
	ContractCall bool
}

func (t explorerTx) normalize() Tx {
	ts, _ := strconv.ParseInt(t.TimeStamp, 10, 64)
	value, err := decimal.NewFromString(t.Value)
	if err != nil {
		value = decimal.Zero
	}
	return Tx{
		Hash:         t.Hash,
		From:         t.From,
		To:           t.To,
		ValueWei:     value,
		Timestamp:    ts,
		ContractCall: t.Input != "" && t.Input != "0x",
	}
}

// FirstTxTimestamp returns the Unix timestamp of the address's earliest
// transaction. ok is false when the address has no history.
func (c *ExplorerClient) FirstTxTimestamp(ctx context.Context, address string) (int64, bool, error) {
	query := url.Values{
		"module":     {"account"},
		"action":     {"txlist"},
		"address":    {address},
		"startblock": {"0"},
		"endblock":   {"99999999"},
		"page":       {"1"},
		"offset":     {"1"},
		"sort":       {"asc"},
	}

	raw, ok, err := c.get(ctx, query)
	if err != nil || !ok {
		return 0, false, err
	}

	var txs []explorerTx
	if err := json.Unmarshal(raw, &txs); err != nil {
		return 0, false, fmt.Errorf("unmarshal txlist: %w", err)
	}
	if len(txs) == 0 {
		return 0, false, nil
	}

	first := txs[0].normalize()
	return first.Timestamp, true, nil
}

// TxList returns the address's transactions, newest first. Explorers cap
// this at their page limit; the newest page is enough for recent-activity
// counting and transfer detection.
func (c *ExplorerClient) TxList(ctx context.Context, address string) ([]Tx, error) {
	query := url.Values{
		"module":     {"account"},
		"action":     {"txlist"},
		"address":    {address},
		"startblock": {"0"},
		"endblock":   {"99999999"},
		"sort":       {"desc"},
	}

	raw, ok, err := c.get(ctx, query)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var rows []explorerTx
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal txlist: %w", err)
	}

	txs := make([]Tx, len(rows))
	for i, row := range rows {
		txs[i] = row.normalize()
	}
	return txs, nil
}

// TxCount returns the lifetime outgoing transaction count via the explorer's
// RPC proxy (eth_getTransactionCount).
func (c *ExplorerClient) TxCount(ctx context.Context, address string) (int, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return 0, err
	}

	query := url.Values{
		"module":  {"proxy"},
		"action":  {"eth_getTransactionCount"},
		"address": {address},
		"tag":     {"latest"},
	}
	query.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}

	// Proxy endpoints answer in JSON-RPC shape, not the explorer envelope.
	var proxyResp struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(body, &proxyResp); err != nil {
		return 0, fmt.Errorf("unmarshal proxy response: %w", err)
	}
	if proxyResp.Result == "" {
		return 0, fmt.Errorf("empty proxy result: %s", string(body))
	}

	count, err := strconv.ParseInt(strings.TrimPrefix(proxyResp.Result, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse transaction count %q: %w", proxyResp.Result, err)
	}
	return int(count), nil
}

// HasNFTTransfers reports whether the address has ever received or sent an
// ERC-721 transfer. Only existence matters, so a single row is requested.
func (c *ExplorerClient) HasNFTTransfers(ctx context.Context, address string) (bool, error) {
	query := url.Values{
		"module":  {"account"},
		"action":  {"tokennfttx"},
		"address": {address},
		"page":    {"1"},
		"offset":  {"1"},
		"sort":    {"desc"},
	}

	raw, ok, err := c.get(ctx, query)
	if err != nil || !ok {
		return false, err
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return false, fmt.Errorf("unmarshal tokennfttx: %w", err)
	}
	return len(rows) > 0, nil
}

// ContractCreator resolves the deployer of a contract, falling back to the
// first internal transaction when the creation endpoint has no record.
// Returns "" when the deployer cannot be determined.
func (c *ExplorerClient) ContractCreator(ctx context.Context, contract string) (string, error) {
	query := url.Values{
		"module":            {"contract"},
		"action":            {"getcontractcreation"},
		"contractaddresses": {contract},
	}

	raw, ok, err := c.get(ctx, query)
	if err != nil {
		return "", err
	}
	if ok {
		var rows []struct {
			ContractCreator string `json:"contractCreator"`
		}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return "", fmt.Errorf("unmarshal getcontractcreation: %w", err)
		}
		if len(rows) > 0 && rows[0].ContractCreator != "" {
			return rows[0].ContractCreator, nil
		}
	}

	query = url.Values{
		"module":     {"account"},
		"action":     {"txlistinternal"},
		"address":    {contract},
		"startblock": {"0"},
		"endblock":   {"99999999"},
		"sort":       {"asc"},
	}

	raw, ok, err = c.get(ctx, query)
	if err != nil || !ok {
		return "", err
	}

	var rows []explorerTx
	if err := json.Unmarshal(raw, &rows); err != nil {
		return "", fmt.Errorf("unmarshal txlistinternal: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].From, nil
}

// TokenHolders returns up to count holder addresses of a token, largest
// balances first. Explorer holder lists lag the chain, so callers verify
// balances over RPC before trusting them.
func (c *ExplorerClient) TokenHolders(ctx context.Context, contract string, count int) ([]string, error) {
	query := url.Values{
		"module":          {"token"},
		"action":          {"tokenholderlist"},
		"contractaddress": {contract},
		"page":            {"1"},
		"offset":          {strconv.Itoa(count)},
		"sort":            {"desc"},
	}

	raw, ok, err := c.get(ctx, query)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var rows []struct {
		TokenHolderAddress string `json:"TokenHolderAddress"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal tokenholderlist: %w", err)
	}

	holders := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.TokenHolderAddress != "" {
			holders = append(holders, row.TokenHolderAddress)
		}
	}
	return holders, nil
}
