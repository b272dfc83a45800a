package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/keygate/checkout/pkg/logger"
)

// Config holds the configuration for the checkout service
type Config struct {
	APIPort        string
	MetricsPort    string
	MetricsAPIKey  string
	PrivateKey     string
	PriceFeed      PriceFeedConfig
	Router         RouterConfig
	Payment        PaymentConfig
	Sessions       SessionConfig
	RPCURLs        map[int]string
	CircuitBreaker CircuitBreakerConfig
	LoggerConfig   LoggerConfig
}

// PriceFeedConfig holds the price feed client configuration
type PriceFeedConfig struct {
	URL     string
	Timeout time.Duration
	FeedIDs map[string]string
}

// RouterConfig holds the routing API configuration
type RouterConfig struct {
	URL                string
	APIKey             string
	Integrator         string
	StatusPollInterval time.Duration
}

// SessionConfig holds the payment session lifetime settings
type SessionConfig struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// PaymentConfig holds the fixed parameters of every payment route
type PaymentConfig struct {
	SourceChainID           int
	SourceToken             string
	DestinationChainID      int
	DestinationTokenAddress string
	HelperContractAddress   string
	FallbackAddress         string
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
	Format   string
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}
	return FromEnv()
}

// FromEnv builds the configuration from the current process environment
func FromEnv() (*Config, error) {
	if _, err := GetEnvNetwork(); err != nil {
		return nil, err
	}

	apiPort, err := GetEnvAPIPort()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	priceFeedURL, err := GetEnvPriceFeedURL()
	if err != nil {
		return nil, err
	}

	priceFeedTimeout, err := GetEnvPriceFeedTimeout()
	if err != nil {
		return nil, err
	}

	feedIDs, err := GetEnvPriceFeedIDs()
	if err != nil {
		return nil, err
	}

	routerURL, err := GetEnvRouterAPIURL()
	if err != nil {
		return nil, err
	}

	pollInterval, err := GetEnvStatusPollInterval()
	if err != nil {
		return nil, err
	}

	sourceChainID, err := GetEnvChainID("SOURCE_CHAIN_ID", DefaultSourceChainID)
	if err != nil {
		return nil, err
	}

	destinationChainID, err := GetEnvChainID("DESTINATION_CHAIN_ID", DefaultDestinationChainID)
	if err != nil {
		return nil, err
	}

	helperAddress, err := GetEnvAddress("HELPER_CONTRACT_ADDRESS", DefaultHelperContractAddress)
	if err != nil {
		return nil, err
	}

	destinationToken, err := GetEnvAddress("DESTINATION_TOKEN_ADDRESS", DefaultDestinationTokenAddress)
	if err != nil {
		return nil, err
	}

	fallbackAddress, err := GetEnvAddress("FALLBACK_ADDRESS", "")
	if err != nil {
		return nil, err
	}

	idleTimeout, err := GetEnvSessionIdleTimeout()
	if err != nil {
		return nil, err
	}

	sweepInterval, err := GetEnvSessionSweepInterval()
	if err != nil {
		return nil, err
	}

	rpcURLs, err := GetEnvRPCURLs()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	logFormat, err := GetEnvLogFormat()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		APIPort:       apiPort,
		MetricsPort:   metricsPort,
		MetricsAPIKey: os.Getenv("METRICS_API_KEY"),
		PrivateKey:    os.Getenv("PRIVATE_KEY"),
		PriceFeed: PriceFeedConfig{
			URL:     priceFeedURL,
			Timeout: priceFeedTimeout,
			FeedIDs: feedIDs,
		},
		Router: RouterConfig{
			URL:                routerURL,
			APIKey:             os.Getenv("ROUTER_API_KEY"),
			Integrator:         getEnvString("INTEGRATOR", DefaultIntegrator),
			StatusPollInterval: pollInterval,
		},
		Payment: PaymentConfig{
			SourceChainID:           sourceChainID,
			SourceToken:             getEnvString("SOURCE_TOKEN", DefaultSourceToken),
			DestinationChainID:      destinationChainID,
			DestinationTokenAddress: destinationToken,
			HelperContractAddress:   helperAddress,
			FallbackAddress:         fallbackAddress,
		},
		Sessions: SessionConfig{
			IdleTimeout:   idleTimeout,
			SweepInterval: sweepInterval,
		},
		RPCURLs: rpcURLs,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
			Format:   logFormat,
		},
	}

	// Validate required environment variables
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY environment variable is required")
	}
	if cfg.Payment.FallbackAddress == "" {
		return fmt.Errorf("FALLBACK_ADDRESS environment variable is required")
	}
	if cfg.Payment.SourceChainID == cfg.Payment.DestinationChainID {
		return fmt.Errorf("SOURCE_CHAIN_ID and DESTINATION_CHAIN_ID must differ")
	}
	return nil
}
