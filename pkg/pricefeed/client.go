package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/keygate/checkout/pkg/metrics"
	"github.com/shopspring/decimal"
)

// Source returns USD prices keyed by feed id. Ids the feed does not know
// are absent from the result.
type Source interface {
	Prices(ctx context.Context, ids []string) (map[string]decimal.Decimal, error)
}

// Client queries a CoinGecko compatible simple price endpoint
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

var _ Source = (*Client)(nil)

// NewClient creates a price feed client. A nil httpClient uses a default one.
func NewClient(baseURL string, timeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: httpClient,
	}
}

// Prices fetches the USD price of every id in one request
func (c *Client) Prices(ctx context.Context, ids []string) (map[string]decimal.Decimal, error) {
	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", "usd")
	endpoint := fmt.Sprintf("%s/simple/price?%s", c.baseURL, query.Encode())

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.PriceLookupLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	// null prices decode to nil and are left out, never read as zero
	var result map[string]map[string]*decimal.Decimal
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(result))
	for id, quote := range result {
		if price := quote["usd"]; price != nil {
			prices[id] = *price
		}
	}
	return prices, nil
}
