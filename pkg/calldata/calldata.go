// Package calldata builds the ABI-encoded payloads sent to the source token
// and to the deposit helper contract.
package calldata

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/keygate/checkout/pkg/contracts"
)

// ErrInvalidAmount is returned for nil or negative amounts
var ErrInvalidAmount = errors.New("invalid amount")

// ZeroSubaccount is the default subaccount. Only the default subaccount is
// ever addressed by deposits.
var ZeroSubaccount [32]byte

// EncodeApprove returns approve(address spender, uint256 amount) call data
func EncodeApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}

	data, err := contracts.ERC20.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack approve: %w", err)
	}
	return data, nil
}

// EncodeDeposit returns
// depositErc20(address token, uint256 amount, bytes32 identifier, bytes32 subaccount)
// call data with the zero subaccount
func EncodeDeposit(token common.Address, amount *big.Int, identifier [32]byte) ([]byte, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}

	data, err := contracts.Helper.Pack("depositErc20", token, amount, identifier, ZeroSubaccount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack depositErc20: %w", err)
	}
	return data, nil
}

// EncodeDepositEth returns depositEth(bytes32 identifier, bytes32 subaccount)
// call data with the zero subaccount. The native amount travels as tx value.
func EncodeDepositEth(identifier [32]byte) ([]byte, error) {
	data, err := contracts.Helper.Pack("depositEth", identifier, ZeroSubaccount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack depositEth: %w", err)
	}
	return data, nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil {
		return fmt.Errorf("%w: nil", ErrInvalidAmount)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: %s is negative", ErrInvalidAmount, amount.String())
	}
	return nil
}
