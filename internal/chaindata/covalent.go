package chaindata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// DefaultCovalentBaseURL is the public Covalent API endpoint.
const DefaultCovalentBaseURL = "https://api.covalenthq.com"

// CovalentClient fetches token holder lists from the Covalent API. Covalent
// is the primary holder source; its lists are fresher than explorer holder
// pages but still verified over RPC by the provider.
type CovalentClient struct {
	baseURL string
	apiKey  string
	chainID int
	client  *http.Client
}

// CovalentOption configures CovalentClient.
type CovalentOption func(*CovalentClient)

// WithCovalentBaseURL overrides the API endpoint, used in tests.
func WithCovalentBaseURL(baseURL string) CovalentOption {
	return func(c *CovalentClient) {
		c.baseURL = baseURL
	}
}

// WithCovalentHTTPClient sets custom http.Client.
func WithCovalentHTTPClient(client *http.Client) CovalentOption {
	return func(c *CovalentClient) {
		c.client = client
	}
}

// NewCovalentClient creates a client for one chain.
func NewCovalentClient(apiKey string, chainID int, opts ...CovalentOption) *CovalentClient {
	c := &CovalentClient{
		baseURL: DefaultCovalentBaseURL,
		apiKey:  apiKey,
		chainID: chainID,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TokenHolders returns up to pageSize holder addresses of a token, largest
// balances first.
func (c *CovalentClient) TokenHolders(ctx context.Context, token string, pageSize int) ([]string, error) {
	endpoint := fmt.Sprintf("%s/v1/%d/tokens/%s/token_holders/", c.baseURL, c.chainID, token)

	query := url.Values{
		"page-size":   {strconv.Itoa(pageSize)},
		"page-number": {"0"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Data struct {
			Items []struct {
				Address string `json:"address"`
			} `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	holders := make([]string, 0, len(payload.Data.Items))
	for _, item := range payload.Data.Items {
		if item.Address != "" {
			holders = append(holders, item.Address)
		}
	}
	return holders, nil
}
