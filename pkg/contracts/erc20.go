package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Token is a minimal ERC20 binding over a bound contract
type Token struct {
	Address  common.Address
	contract *bind.BoundContract
}

// NewERC20 binds the ERC20 ABI at address
func NewERC20(address common.Address, backend bind.ContractBackend) *Token {
	return &Token{
		Address:  address,
		contract: bind.NewBoundContract(address, ERC20, backend, backend, backend),
	}
}

// Allowance returns how much spender may still pull from owner
func (t *Token) Allowance(opts *bind.CallOpts, owner, spender common.Address) (*big.Int, error) {
	var out []interface{}
	if err := t.contract.Call(opts, &out, "allowance", owner, spender); err != nil {
		return nil, fmt.Errorf("failed to check allowance: %v", err)
	}
	if len(out) == 0 || out[0] == nil {
		return nil, fmt.Errorf("empty allowance response")
	}

	allowance, ok := out[0].(*big.Int)
	if !ok || allowance == nil {
		return nil, fmt.Errorf("invalid allowance format")
	}
	return allowance, nil
}

// RawTransact sends pre-encoded call data to the token
func (t *Token) RawTransact(opts *bind.TransactOpts, data []byte) (*types.Transaction, error) {
	return t.contract.RawTransact(opts, data)
}
