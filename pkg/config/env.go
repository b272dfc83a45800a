package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/keygate/checkout/pkg/logger"
)

const (
	mainnet = "mainnet"
	testnet = "testnet"

	// DefaultNetwork is the default blockchain network to connect to
	DefaultNetwork = mainnet

	// DefaultAPIPort is the port of the payment API
	DefaultAPIPort = "8081"

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultPriceFeedURL is the CoinGecko API root
	DefaultPriceFeedURL = "https://api.coingecko.com/api/v3"

	// DefaultPriceFeedTimeout bounds a single price lookup
	DefaultPriceFeedTimeout = 10 * time.Second

	// DefaultRouterAPIURL is the LI.FI API root
	DefaultRouterAPIURL = "https://li.quest"

	// DefaultIntegrator is the integrator tag sent with every quote
	DefaultIntegrator = "Keygate"

	// DefaultSourceChainID is the chain the payer spends on (Optimism)
	DefaultSourceChainID = 10

	// DefaultSourceToken is the token the payer spends
	DefaultSourceToken = "USDC"

	// DefaultDestinationChainID is the chain hosting the helper contract (Ethereum)
	DefaultDestinationChainID = 1

	// DefaultHelperContractAddress is the ckUSDC deposit helper on Ethereum
	DefaultHelperContractAddress = "0x18901044688D3756C35Ed2b36D93e6a5B8e00E68"

	// DefaultDestinationTokenAddress is USDC on Ethereum
	DefaultDestinationTokenAddress = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"

	// DefaultStatusPollInterval is how often bridge status is polled
	DefaultStatusPollInterval = 5 * time.Second

	// DefaultSessionIdleTimeout closes payment sessions nobody has touched for this long
	DefaultSessionIdleTimeout = 30 * time.Minute

	// DefaultSessionSweepInterval is how often idle sessions are looked for
	DefaultSessionSweepInterval = time.Minute

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15

	// DefaultLogLevel is the minimum level printed
	DefaultLogLevel = logger.InfoLevel

	// DefaultLogColoring enables colored chain prefixes
	DefaultLogColoring = true

	// DefaultLogFormat selects the console logger
	DefaultLogFormat = "text"
)

// defaultRPCURLs are public endpoints, overridable per chain with <NAME>_RPC_URL
var defaultRPCURLs = map[int]string{
	1:     "https://eth.llamarpc.com",
	10:    "https://mainnet.optimism.io",
	137:   "https://polygon-rpc.com",
	42161: "https://arb1.arbitrum.io/rpc",
	8453:  "https://mainnet.base.org",
}

// defaultFeedIDs maps currency symbols to CoinGecko ids
var defaultFeedIDs = map[string]string{
	"ICP":    "internet-computer",
	"USDC":   "usd-coin",
	"CKUSDC": "usd-coin",
	"USDT":   "tether",
	"ETH":    "ethereum",
	"CKETH":  "ethereum",
	"POL":    "matic-network",
	"MATIC":  "matic-network",
}

// GetEnvNetwork returns the configured network from environment variables or defaults to mainnet
func GetEnvNetwork() (string, error) {
	network := os.Getenv("NETWORK")
	if network == "" {
		network = DefaultNetwork
	}

	if network != mainnet && network != testnet {
		return "", fmt.Errorf("invalid NETWORK value: %s, must be 'mainnet' or 'testnet'", network)
	}
	if network != mainnet {
		return "", fmt.Errorf("unsupported network: %s, only 'mainnet' is supported", network)
	}

	return network, nil
}

// GetEnvAPIPort returns the payment API port from environment variables
func GetEnvAPIPort() (string, error) {
	return getEnvPort("API_PORT", DefaultAPIPort)
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	return getEnvPort("METRICS_PORT", DefaultMetricsPort)
}

func getEnvPort(name, fallback string) (string, error) {
	port := os.Getenv(name)
	if port == "" {
		return fallback, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid %s value: %s, must be a valid integer", name, port)
	}
	return port, nil
}

// GetEnvPriceFeedURL returns the price feed API root from environment variables
func GetEnvPriceFeedURL() (string, error) {
	return getEnvURL("PRICE_FEED_URL", DefaultPriceFeedURL)
}

// GetEnvRouterAPIURL returns the routing API root from environment variables
func GetEnvRouterAPIURL() (string, error) {
	return getEnvURL("ROUTER_API_URL", DefaultRouterAPIURL)
}

func getEnvURL(name, fallback string) (string, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}

	// Validate URL format
	if _, err := url.ParseRequestURI(raw); err != nil {
		return "", fmt.Errorf("invalid %s value: %s, must be a valid URL", name, raw)
	}
	return strings.TrimRight(raw, "/"), nil
}

// GetEnvPriceFeedTimeout returns the price lookup timeout from environment variables
func GetEnvPriceFeedTimeout() (time.Duration, error) {
	return getEnvPositiveDuration("PRICE_FEED_TIMEOUT", DefaultPriceFeedTimeout)
}

// GetEnvStatusPollInterval returns the bridge status polling interval from environment variables
func GetEnvStatusPollInterval() (time.Duration, error) {
	return getEnvPositiveDuration("STATUS_POLL_INTERVAL", DefaultStatusPollInterval)
}

// GetEnvSessionIdleTimeout returns the idle session timeout from environment variables
func GetEnvSessionIdleTimeout() (time.Duration, error) {
	return getEnvPositiveDuration("SESSION_IDLE_TIMEOUT", DefaultSessionIdleTimeout)
}

// GetEnvSessionSweepInterval returns the idle session sweep interval from environment variables
func GetEnvSessionSweepInterval() (time.Duration, error) {
	return getEnvPositiveDuration("SESSION_SWEEP_INTERVAL", DefaultSessionSweepInterval)
}

func getEnvPositiveDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a valid duration string", name, raw)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", name)
	}
	return parsed, nil
}

// GetEnvPriceFeedIDs returns the currency to feed id mapping. PRICE_FEED_IDS
// entries of the form SYMBOL:id override or extend the defaults.
func GetEnvPriceFeedIDs() (map[string]string, error) {
	ids := make(map[string]string, len(defaultFeedIDs))
	for symbol, id := range defaultFeedIDs {
		ids[symbol] = id
	}

	raw := os.Getenv("PRICE_FEED_IDS")
	if raw == "" {
		return ids, nil
	}

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		symbol, id, ok := strings.Cut(entry, ":")
		symbol, id = strings.TrimSpace(symbol), strings.TrimSpace(id)
		if !ok || symbol == "" || id == "" {
			return nil, fmt.Errorf("invalid PRICE_FEED_IDS entry: %s, must be SYMBOL:feed-id", entry)
		}
		ids[strings.ToUpper(symbol)] = id
	}
	return ids, nil
}

// GetEnvChainID reads a chain id and checks it is known
func GetEnvChainID(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}

	chainID, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", name, raw)
	}
	if _, ok := GetChain(chainID); !ok {
		return 0, fmt.Errorf("unsupported %s value: %d", name, chainID)
	}
	return chainID, nil
}

// GetEnvAddress reads an Ethereum address, falling back to the given default
func GetEnvAddress(name, fallback string) (string, error) {
	address := os.Getenv(name)
	if address == "" {
		address = fallback
	}
	if address == "" {
		return "", nil
	}

	// Validate Ethereum address format
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid %s value: %s, must be a valid Ethereum address", name, address)
	}
	return address, nil
}

// GetEnvRPCURLs returns the RPC endpoint for every supported chain
func GetEnvRPCURLs() (map[int]string, error) {
	urls := make(map[int]string, len(defaultRPCURLs))
	for _, chainID := range SupportedChainIDs() {
		name := GetChainName(chainID) + "_RPC_URL"
		rpc, err := getEnvURL(name, defaultRPCURLs[chainID])
		if err != nil {
			return nil, err
		}
		urls[chainID] = rpc
	}
	return urls, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	return getEnvBool("CIRCUIT_BREAKER_ENABLED", DefaultCircuitBreakerEnabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	return getEnvPositiveDuration("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow*time.Second)
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	return getEnvPositiveDuration("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset*time.Second)
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	raw := os.Getenv("LOG_LEVEL")
	if raw == "" {
		return DefaultLogLevel, nil
	}

	level, ok := logger.ParseLevel(raw)
	if !ok {
		return 0, fmt.Errorf("invalid LOG_LEVEL value: %s, must be one of debug, info, notice, error", raw)
	}
	return level, nil
}

// GetEnvLogColoring returns whether log coloring is enabled from environment variables
func GetEnvLogColoring() (bool, error) {
	return getEnvBool("LOG_COLORING", DefaultLogColoring)
}

// GetEnvLogFormat returns the log output format from environment variables
func GetEnvLogFormat() (string, error) {
	format := os.Getenv("LOG_FORMAT")
	if format == "" {
		return DefaultLogFormat, nil
	}
	if format != "text" && format != "json" {
		return "", fmt.Errorf("invalid LOG_FORMAT value: %s, must be 'text' or 'json'", format)
	}
	return format, nil
}

func getEnvBool(name string, fallback bool) (bool, error) {
	value := os.Getenv(name)
	if value == "" {
		return fallback, nil
	}

	if value == "true" {
		return true, nil
	} else if value == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid %s value: %s, must be 'true' or 'false'", name, value)
}

// getEnvString returns the variable or the fallback when unset
func getEnvString(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}
