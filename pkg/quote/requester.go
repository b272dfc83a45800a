package quote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/keygate/checkout/pkg/logger"
	"github.com/keygate/checkout/pkg/metrics"
	"github.com/keygate/checkout/pkg/route"
)

var (
	// ErrQuoteRequestFailed wraps router failures. Requests are not retried.
	ErrQuoteRequestFailed = errors.New("quote request failed")

	// ErrDuplicateRequest is returned when the wallet and amount match the last request
	ErrDuplicateRequest = errors.New("duplicate quote request")
)

type requestKey struct {
	wallet string
	amount string
}

// Requester sends quote requests, at most once per distinct wallet and amount
type Requester struct {
	router route.Router
	logger logger.Logger

	mu   sync.Mutex
	last *requestKey
}

// NewRequester creates a requester
func NewRequester(router route.Router, log logger.Logger) *Requester {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Requester{router: router, logger: log}
}

// Request fetches a quote unless the same wallet and amount were already
// requested. A failed pair stays recorded so only an input change fires again.
func (r *Requester) Request(ctx context.Context, req *route.ContractCallsRequest) (*route.Quote, error) {
	if req == nil || len(req.ContractCalls) == 0 {
		return nil, ErrNotReady
	}
	key := requestKey{wallet: req.FromAddress, amount: req.ContractCalls[0].FromAmount}

	r.mu.Lock()
	if r.last != nil && *r.last == key {
		r.mu.Unlock()
		metrics.QuotesSuppressed.Inc()
		return nil, ErrDuplicateRequest
	}
	r.last = &key
	r.mu.Unlock()

	r.logger.DebugWithChain(req.FromChain, "Requesting quote for %s from %s", key.amount, key.wallet)
	quote, err := r.router.GetContractCallsQuote(ctx, req)
	if err != nil {
		metrics.QuoteRequests.WithLabelValues("error").Inc()
		r.logger.ErrorWithChain(req.FromChain, "Quote request for %s from %s failed: %v", key.amount, key.wallet, err)
		return nil, fmt.Errorf("%w: %v", ErrQuoteRequestFailed, err)
	}

	metrics.QuoteRequests.WithLabelValues("ok").Inc()
	return quote, nil
}

// Reset forgets the last request so the next one always fires
func (r *Requester) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = nil
}
