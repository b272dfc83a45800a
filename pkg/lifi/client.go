// Package lifi implements route.Router against the LI.FI REST API and
// executes routes with the service wallet.
package lifi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/keygate/checkout/pkg/logger"
	"github.com/keygate/checkout/pkg/route"
	"github.com/keygate/checkout/pkg/wallet"
)

const (
	// DefaultPollInterval is the bridge status polling cadence
	DefaultPollInterval = 5 * time.Second

	// DefaultRequestTimeout bounds a single API call
	DefaultRequestTimeout = 30 * time.Second

	apiKeyHeader = "x-lifi-api-key"
)

// ErrNilQuote is returned when converting a missing quote
var ErrNilQuote = errors.New("quote is nil")

// APIError is a non 2xx answer of the routing API
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("routing API request failed with status: %d", e.StatusCode)
	}
	return fmt.Sprintf("routing API request failed with status %d: %s", e.StatusCode, e.Message)
}

// TransferStatus is the answer of the status endpoint
type TransferStatus struct {
	Status           string       `json:"status"`
	Substatus        string       `json:"substatus,omitempty"`
	SubstatusMessage string       `json:"substatusMessage,omitempty"`
	Tool             string       `json:"tool,omitempty"`
	Sending          *TransferLeg `json:"sending,omitempty"`
	Receiving        *TransferLeg `json:"receiving,omitempty"`
}

// TransferLeg is one side of a bridge transfer
type TransferLeg struct {
	TxHash  string `json:"txHash,omitempty"`
	TxLink  string `json:"txLink,omitempty"`
	ChainID int    `json:"chainId,omitempty"`
	Amount  string `json:"amount,omitempty"`
}

// Bridge transfer statuses
const (
	TransferDone     = "DONE"
	TransferFailed   = "FAILED"
	TransferPending  = "PENDING"
	TransferNotFound = "NOT_FOUND"
	TransferInvalid  = "INVALID"
)

// Options configures a Client
type Options struct {
	BaseURL      string
	APIKey       string
	Integrator   string
	PollInterval time.Duration
	HTTPClient   *http.Client
	Chains       map[int]Chain
	Signer       wallet.Signer
	Logger       logger.Logger
}

// Client talks to the routing API and executes routes
type Client struct {
	baseURL      string
	apiKey       string
	integrator   string
	pollInterval time.Duration
	httpClient   *http.Client
	chains       map[int]Chain
	signer       wallet.Signer
	logger       logger.Logger
	now          func() time.Time

	mu     sync.Mutex
	active map[string]*route.Route
}

var _ route.Router = (*Client)(nil)

// NewClient creates a routing client
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		apiKey:       opts.APIKey,
		integrator:   opts.Integrator,
		pollInterval: opts.PollInterval,
		httpClient:   opts.HTTPClient,
		chains:       opts.Chains,
		signer:       opts.Signer,
		logger:       opts.Logger,
		now:          time.Now,
		active:       make(map[string]*route.Route),
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	if c.chains == nil {
		c.chains = make(map[int]Chain)
	}
	if c.logger == nil {
		c.logger = &logger.EmptyLogger{}
	}
	return c
}

// GetContractCallsQuote requests a bridge plus contract call quote
func (c *Client) GetContractCallsQuote(ctx context.Context, req *route.ContractCallsRequest) (*route.Quote, error) {
	body := *req
	if body.Integrator == "" {
		body.Integrator = c.integrator
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode quote request: %w", err)
	}

	var quote route.Quote
	if err := c.do(ctx, http.MethodPost, "/v1/quote/contractCalls", nil, payload, &quote); err != nil {
		return nil, err
	}
	c.logger.DebugWithChain(req.FromChain, "Received quote %s via %s", quote.ID, quote.Tool)
	return &quote, nil
}

// GetStatus returns the bridge transfer status of a source chain transaction
func (c *Client) GetStatus(ctx context.Context, txHash, bridge string, fromChain, toChain int) (*TransferStatus, error) {
	query := url.Values{}
	query.Set("txHash", txHash)
	if bridge != "" {
		query.Set("bridge", bridge)
	}
	query.Set("fromChain", strconv.Itoa(fromChain))
	query.Set("toChain", strconv.Itoa(toChain))

	var status TransferStatus
	if err := c.do(ctx, http.MethodGet, "/v1/status", query, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload []byte, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call routing API: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return nil
}

// ConvertQuoteToRoute wraps a quote into a single step route
func (c *Client) ConvertQuoteToRoute(quote *route.Quote) (*route.Route, error) {
	if quote == nil {
		return nil, ErrNilQuote
	}

	step := quote.Clone()
	rt := &route.Route{
		ID:          uuid.NewString(),
		FromChainID: step.Action.FromChainID,
		FromAmount:  step.Action.FromAmount,
		FromToken:   step.Action.FromToken,
		FromAddress: step.Action.FromAddress,
		ToChainID:   step.Action.ToChainID,
		ToToken:     step.Action.ToToken,
		ToAddress:   step.Action.ToAddress,
		Steps:       []route.Step{step},
	}
	if step.Estimate != nil {
		rt.ToAmount = step.Estimate.ToAmount
		rt.ToAmountMin = step.Estimate.ToAmountMin
		if rt.FromAmount == "" {
			rt.FromAmount = step.Estimate.FromAmount
		}
	}
	return rt, nil
}

// GetActiveRoutes returns copies of the routes still executing
func (c *Client) GetActiveRoutes() []*route.Route {
	c.mu.Lock()
	defer c.mu.Unlock()

	routes := make([]*route.Route, 0, len(c.active))
	for _, rt := range c.active {
		routes = append(routes, rt.Clone())
	}
	return routes
}
