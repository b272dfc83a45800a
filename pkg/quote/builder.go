package quote

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-playground/validator/v10"
	"github.com/keygate/checkout/pkg/calldata"
	"github.com/keygate/checkout/pkg/principal"
	"github.com/keygate/checkout/pkg/route"
)

const (
	// PlaceholderAmount stands in for the source amount until prices resolve.
	// It must never reach the router.
	PlaceholderAmount = "1"

	// DefaultContractGasLimit is the static gas budget of the helper deposit
	DefaultContractGasLimit = 80000
)

// ErrNotReady is returned when there is no wallet address or no real amount yet
var ErrNotReady = errors.New("quote request not ready")

var validate = validator.New()

// Builder assembles contract calls quote requests for a fixed payment path
type Builder struct {
	SourceChain      int
	DestinationChain int
	SourceToken      string
	DestinationToken common.Address
	HelperContract   common.Address
	FallbackAddress  common.Address
	Integrator       string
}

// Build returns the request depositing amount into the helper contract on
// behalf of the destination principal. amount is in source token smallest
// units.
func (b *Builder) Build(wallet string, amount string, destinationIdentifier string) (*route.ContractCallsRequest, error) {
	if wallet == "" || amount == "" || amount == PlaceholderAmount {
		return nil, ErrNotReady
	}
	if !common.IsHexAddress(wallet) {
		return nil, fmt.Errorf("invalid wallet address: %s", wallet)
	}

	value, ok := new(big.Int).SetString(amount, 10)
	if !ok || value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", calldata.ErrInvalidAmount, amount)
	}

	identifier, err := principal.ToBytes32(destinationIdentifier)
	if err != nil {
		return nil, err
	}

	data, err := calldata.EncodeDeposit(b.DestinationToken, value, identifier)
	if err != nil {
		return nil, err
	}

	req := &route.ContractCallsRequest{
		FromChain:   b.SourceChain,
		FromToken:   b.SourceToken,
		FromAddress: common.HexToAddress(wallet).Hex(),
		ToChain:     b.DestinationChain,
		ToToken:     b.DestinationToken.Hex(),
		ToAmount:    value.String(),
		ContractCalls: []route.ContractCall{{
			FromAmount:         value.String(),
			FromTokenAddress:   b.DestinationToken.Hex(),
			ToContractAddress:  b.HelperContract.Hex(),
			ToContractCallData: hexutil.Encode(data),
			ToContractGasLimit: strconv.Itoa(DefaultContractGasLimit),
			ToApprovalAddress:  b.HelperContract.Hex(),
			ToFallbackAddress:  b.FallbackAddress.Hex(),
		}},
		Integrator: b.Integrator,
	}

	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid quote request: %w", err)
	}
	return req, nil
}
