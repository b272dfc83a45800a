package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/keygate/checkout/pkg/api"
	"github.com/keygate/checkout/pkg/checkout"
	"github.com/keygate/checkout/pkg/circuitbreaker"
	"github.com/keygate/checkout/pkg/config"
	"github.com/keygate/checkout/pkg/health"
	"github.com/keygate/checkout/pkg/lifi"
	"github.com/keygate/checkout/pkg/logger"
	"github.com/keygate/checkout/pkg/pricefeed"
	"github.com/keygate/checkout/pkg/quote"
	"github.com/keygate/checkout/pkg/route"
	"github.com/keygate/checkout/pkg/wallet"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.LoggerConfig.Format, cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)
	if cfg.LoggerConfig.Level != logger.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		appLogger.Info("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	keyWallet, err := wallet.NewKeyWallet(cfg.PrivateKey, appLogger)
	if err != nil {
		log.Fatalf("Failed to load wallet: %v", err)
	}
	nonces := wallet.NewNonceManager(appLogger)

	chains := make(map[int]lifi.Chain)
	blockSources := make(map[int]health.BlockSource)
	for chainID, rpcURL := range cfg.RPCURLs {
		chain, err := lifi.DialEVMChain(ctx, chainID, rpcURL, nonces, appLogger)
		if err != nil {
			appLogger.ErrorWithChain(chainID, "Failed to connect: %v", err)
			continue
		}
		chains[chainID] = chain
		blockSources[chainID] = chain
	}
	if _, ok := chains[cfg.Payment.SourceChainID]; !ok {
		log.Fatalf("No RPC connection for source chain %d", cfg.Payment.SourceChainID)
	}

	router := lifi.NewClient(lifi.Options{
		BaseURL:      cfg.Router.URL,
		APIKey:       cfg.Router.APIKey,
		Integrator:   cfg.Router.Integrator,
		PollInterval: cfg.Router.StatusPollInterval,
		Chains:       chains,
		Signer:       keyWallet,
		Logger:       appLogger,
	})

	breaker := circuitbreaker.NewCircuitBreaker(
		"pricefeed",
		cfg.CircuitBreaker.Enabled,
		cfg.CircuitBreaker.Threshold,
		cfg.CircuitBreaker.WindowDuration,
		cfg.CircuitBreaker.ResetTimeout,
		circuitbreaker.WithLogger(appLogger),
	)
	resolver := pricefeed.NewResolver(
		pricefeed.NewClient(cfg.PriceFeed.URL, cfg.PriceFeed.Timeout, nil),
		cfg.PriceFeed.FeedIDs,
		breaker,
		appLogger,
	)

	env, err := checkout.NewEnvironment(checkout.Options{
		Resolver:  resolver,
		Router:    router,
		Wallet:    keyWallet,
		Scheduler: route.TickerScheduler{},
		Builder: quote.Builder{
			SourceChain:      cfg.Payment.SourceChainID,
			DestinationChain: cfg.Payment.DestinationChainID,
			SourceToken:      cfg.Payment.SourceToken,
			DestinationToken: common.HexToAddress(cfg.Payment.DestinationTokenAddress),
			HelperContract:   common.HexToAddress(cfg.Payment.HelperContractAddress),
			FallbackAddress:  common.HexToAddress(cfg.Payment.FallbackAddress),
			Integrator:       cfg.Router.Integrator,
		},
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("Failed to create checkout environment: %v", err)
	}
	registry := checkout.NewRegistry()
	go registry.Run(ctx, cfg.Sessions.IdleTimeout, cfg.Sessions.SweepInterval)

	healthServer := health.NewServer(health.Options{
		Port:           cfg.MetricsPort,
		MetricsAPIKey:  cfg.MetricsAPIKey,
		RequiredChains: []int{cfg.Payment.SourceChainID},
		Chains:         blockSources,
		Nonces:         nonces,
		Wallet:         keyWallet,
		Sessions:       registry,
		Breakers:       []*circuitbreaker.CircuitBreaker{breaker},
		Logger:         appLogger,
	})
	go func() {
		if err := healthServer.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Health server error: %v", err)
		}
	}()

	apiServer := api.NewServer(env, registry, appLogger)
	if err := apiServer.Run(ctx, cfg.APIPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLogger.Error("Payment API error: %v", err)
	}

	registry.CloseAll()
	appLogger.Info("Checkout service stopped")
}
