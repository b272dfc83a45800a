package config

import "strings"

// Chain describes an EVM chain the checkout can route through
type Chain struct {
	ID   int
	Key  string // routing API chain key
	Name string
	USDC string
}

var chains = map[int]Chain{
	1:     {ID: 1, Key: "ETH", Name: "ETHEREUM", USDC: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"},
	10:    {ID: 10, Key: "OPT", Name: "OPTIMISM", USDC: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"},
	137:   {ID: 137, Key: "POL", Name: "POLYGON", USDC: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"},
	42161: {ID: 42161, Key: "ARB", Name: "ARBITRUM", USDC: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"},
	8453:  {ID: 8453, Key: "BAS", Name: "BASE", USDC: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"},
}

// GetChain returns the chain for a given chain ID
func GetChain(chainID int) (Chain, bool) {
	chain, exists := chains[chainID]
	return chain, exists
}

// GetChainName returns the name of the chain for a given chain ID
func GetChainName(chainID int) string {
	return chains[chainID].Name
}

// GetUSDCAddress returns the USDC contract address for a given chain ID
func GetUSDCAddress(chainID int) string {
	return chains[chainID].USDC
}

// GetTokenAddress resolves a token symbol on a chain. Only USDC is listed;
// anything else is expected to be an address already.
func GetTokenAddress(chainID int, symbol string) string {
	if strings.EqualFold(symbol, "USDC") {
		return GetUSDCAddress(chainID)
	}
	return symbol
}

// SupportedChainIDs lists the chain IDs with a known configuration
func SupportedChainIDs() []int {
	return []int{1, 10, 137, 42161, 8453}
}
