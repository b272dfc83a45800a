// Package checkout sequences a cross-chain payment: wallet connection, price
// resolution, quote request and route execution, one event loop per session.
package checkout

import (
	"context"
	"errors"

	"github.com/keygate/checkout/pkg/logger"
	"github.com/keygate/checkout/pkg/pricefeed"
	"github.com/keygate/checkout/pkg/quote"
	"github.com/keygate/checkout/pkg/route"
	"github.com/keygate/checkout/pkg/wallet"
)

// PriceResolver resolves the USD prices of a currency pair
type PriceResolver interface {
	Resolve(ctx context.Context, source, destination string) (pricefeed.Prices, error)
}

// Options configures an Environment
type Options struct {
	Resolver  PriceResolver
	Router    route.Router
	Wallet    wallet.Provider
	Scheduler route.Scheduler
	Builder   quote.Builder
	Logger    logger.Logger
}

// Environment is the process-wide context every payment session runs in.
// It is built once and cannot be reconfigured afterwards.
type Environment struct {
	resolver  PriceResolver
	router    route.Router
	wallet    wallet.Provider
	scheduler route.Scheduler
	builder   quote.Builder
	logger    logger.Logger
}

// NewEnvironment checks the collaborators and builds the environment
func NewEnvironment(opts Options) (*Environment, error) {
	if opts.Resolver == nil {
		return nil, errors.New("price resolver is required")
	}
	if opts.Router == nil {
		return nil, errors.New("router is required")
	}
	if opts.Wallet == nil {
		return nil, errors.New("wallet provider is required")
	}
	if opts.Builder.SourceToken == "" {
		return nil, errors.New("source token is required")
	}

	env := &Environment{
		resolver:  opts.Resolver,
		router:    opts.Router,
		wallet:    opts.Wallet,
		scheduler: opts.Scheduler,
		builder:   opts.Builder,
		logger:    opts.Logger,
	}
	if env.scheduler == nil {
		env.scheduler = route.TickerScheduler{}
	}
	if env.logger == nil {
		env.logger = &logger.EmptyLogger{}
	}
	return env, nil
}

// Router returns the router shared by all sessions
func (e *Environment) Router() route.Router {
	return e.router
}

// Wallet returns the wallet provider shared by all sessions
func (e *Environment) Wallet() wallet.Provider {
	return e.wallet
}

// StartPayment validates the intent and starts a session for it. The
// session outlives ctx; only its values are kept.
func (e *Environment) StartPayment(ctx context.Context, intent Intent) (*Session, error) {
	normalized, err := intent.normalize(e.builder.SourceToken)
	if err != nil {
		return nil, err
	}
	return newSession(context.WithoutCancel(ctx), e, normalized), nil
}
