package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/keygate/checkout/pkg/circuitbreaker"
	"github.com/keygate/checkout/pkg/logger"
	"github.com/keygate/checkout/pkg/metrics"
	"github.com/shopspring/decimal"
)

// SmallestUnitDecimals is the precision of the source token amount
const SmallestUnitDecimals = 6

var (
	// ErrUnknownCurrency is returned for a symbol with no feed id configured
	ErrUnknownCurrency = errors.New("unknown currency")

	// ErrPriceUnavailable is returned when the feed could not be queried
	ErrPriceUnavailable = errors.New("price unavailable")
)

// Prices holds the USD unit prices of a currency pair. An invalid
// NullDecimal means the price is unknown, never zero.
type Prices struct {
	Source      decimal.NullDecimal
	Destination decimal.NullDecimal
}

// Known reports whether both prices resolved
func (p Prices) Known() bool {
	return p.Source.Valid && p.Destination.Valid
}

// Resolver turns currency symbols into fresh USD prices. Nothing is cached.
type Resolver struct {
	source  Source
	feedIDs map[string]string
	breaker *circuitbreaker.CircuitBreaker
	logger  logger.Logger
}

// NewResolver creates a resolver. feedIDs maps upper case symbols to feed
// ids; breaker may be nil.
func NewResolver(source Source, feedIDs map[string]string, breaker *circuitbreaker.CircuitBreaker, log logger.Logger) *Resolver {
	ids := make(map[string]string, len(feedIDs))
	for symbol, id := range feedIDs {
		ids[strings.ToUpper(symbol)] = id
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Resolver{
		source:  source,
		feedIDs: ids,
		breaker: breaker,
		logger:  log,
	}
}

// FeedID returns the feed id of a symbol
func (r *Resolver) FeedID(symbol string) (string, bool) {
	id, ok := r.feedIDs[strings.ToUpper(symbol)]
	return id, ok
}

// Resolve looks up both currencies in a single request. On a feed failure
// both prices are unknown and ErrPriceUnavailable is returned. A currency
// missing from the response is unknown without an error.
func (r *Resolver) Resolve(ctx context.Context, source, destination string) (Prices, error) {
	sourceID, ok := r.FeedID(source)
	if !ok {
		return Prices{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, source)
	}
	destinationID, ok := r.FeedID(destination)
	if !ok {
		return Prices{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, destination)
	}

	if r.breaker != nil && r.breaker.IsOpen() {
		metrics.PriceLookups.WithLabelValues(source, "breaker_open").Inc()
		return Prices{}, fmt.Errorf("%w: circuit breaker %s is open", ErrPriceUnavailable, r.breaker.Name())
	}

	ids := []string{sourceID}
	if destinationID != sourceID {
		ids = append(ids, destinationID)
	}

	quotes, err := r.source.Prices(ctx, ids)
	if err != nil {
		if r.breaker != nil {
			r.breaker.RecordFailure()
		}
		metrics.PriceLookups.WithLabelValues(source, "error").Inc()
		metrics.PriceLookups.WithLabelValues(destination, "error").Inc()
		r.logger.Error("Failed to resolve prices for %s/%s: %v", source, destination, err)
		return Prices{}, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if r.breaker != nil {
		r.breaker.RecordSuccess()
	}

	prices := Prices{
		Source:      lookup(quotes, sourceID),
		Destination: lookup(quotes, destinationID),
	}
	recordOutcome(source, prices.Source)
	recordOutcome(destination, prices.Destination)
	if !prices.Known() {
		r.logger.Notice("Price feed returned no entry for %s or %s", source, destination)
	}
	return prices, nil
}

func lookup(quotes map[string]decimal.Decimal, id string) decimal.NullDecimal {
	price, ok := quotes[id]
	if !ok {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: price, Valid: true}
}

func recordOutcome(currency string, price decimal.NullDecimal) {
	outcome := "ok"
	if !price.Valid {
		outcome = "missing"
	}
	metrics.PriceLookups.WithLabelValues(currency, outcome).Inc()
}

// RequiredSourceAmount converts a destination amount into source token
// smallest units: destAmount * destPrice / sourcePrice * 10^6, rounded half
// away from zero. It reports false when a price is unknown, the source
// price is not positive or the amount is negative.
func RequiredSourceAmount(destAmount decimal.Decimal, prices Prices) (*big.Int, bool) {
	if !prices.Known() || !prices.Source.Decimal.IsPositive() || destAmount.IsNegative() {
		return nil, false
	}

	scaled := destAmount.
		Mul(prices.Destination.Decimal).
		Mul(decimal.New(1, SmallestUnitDecimals))

	return scaled.DivRound(prices.Source.Decimal, 0).BigInt(), true
}
