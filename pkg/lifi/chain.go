package lifi

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/keygate/checkout/pkg/calldata"
	"github.com/keygate/checkout/pkg/contracts"
	"github.com/keygate/checkout/pkg/logger"
	"github.com/keygate/checkout/pkg/wallet"
)

// DefaultGasMultiplier is applied to the suggested gas price (10% buffer)
const DefaultGasMultiplier = 1.1

// Chain sends and observes the transactions of a route on one EVM chain
type Chain interface {
	ID() int
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, opts *bind.TransactOpts, token, spender common.Address, amount *big.Int) (*types.Transaction, error)
	Send(ctx context.Context, opts *bind.TransactOpts, req *TxRequest) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// TxRequest is a decoded transaction request
type TxRequest struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
	GasPrice *big.Int
}

// Backend is what EVMChain needs from an RPC client
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// EVMChain is a Chain over an RPC backend
type EVMChain struct {
	id            int
	backend       Backend
	nonces        *wallet.NonceManager
	gasMultiplier float64
	logger        logger.Logger
}

var _ Chain = (*EVMChain)(nil)

// NewEVMChain wraps a backend. A gasMultiplier of zero leaves gas pricing
// to the backend.
func NewEVMChain(id int, backend Backend, nonces *wallet.NonceManager, gasMultiplier float64, log logger.Logger) *EVMChain {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &EVMChain{
		id:            id,
		backend:       backend,
		nonces:        nonces,
		gasMultiplier: gasMultiplier,
		logger:        log,
	}
}

// DialEVMChain connects to rpcURL and checks the chain id
func DialEVMChain(ctx context.Context, id int, rpcURL string, nonces *wallet.NonceManager, log logger.Logger) (*EVMChain, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to client: %v", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	chainID, err := client.ChainID(timeoutCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %v", err)
	}
	if chainID.Int64() != int64(id) {
		client.Close()
		return nil, fmt.Errorf("RPC endpoint serves chain %s, expected %d", chainID.String(), id)
	}

	return NewEVMChain(id, client, nonces, DefaultGasMultiplier, log), nil
}

// ID returns the chain id
func (c *EVMChain) ID() int {
	return c.id
}

// LatestBlock returns the number of the chain head
func (c *EVMChain) LatestBlock(ctx context.Context) (uint64, error) {
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %v", err)
	}
	return header.Number.Uint64(), nil
}

// Allowance reads the ERC20 allowance of owner for spender
func (c *EVMChain) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return contracts.NewERC20(token, c.backend).Allowance(&bind.CallOpts{Context: ctx}, owner, spender)
}

// Approve sends approve(spender, amount) to the token
func (c *EVMChain) Approve(ctx context.Context, opts *bind.TransactOpts, token, spender common.Address, amount *big.Int) (*types.Transaction, error) {
	data, err := calldata.EncodeApprove(spender, amount)
	if err != nil {
		return nil, err
	}
	c.logger.InfoWithChain(c.id, "Approving %s of token %s for spender %s", amount.String(), token.Hex(), spender.Hex())
	return c.transact(ctx, opts, &TxRequest{To: token, Data: data})
}

// Send signs and sends a prepared transaction
func (c *EVMChain) Send(ctx context.Context, opts *bind.TransactOpts, req *TxRequest) (*types.Transaction, error) {
	return c.transact(ctx, opts, req)
}

// WaitMined blocks until the transaction is mined and frees its nonce
func (c *EVMChain) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for transaction %s: %w", tx.Hash().Hex(), err)
	}
	c.nonces.Confirmed(c.id, tx.Nonce())
	return receipt, nil
}

func (c *EVMChain) transact(ctx context.Context, opts *bind.TransactOpts, req *TxRequest) (*types.Transaction, error) {
	txOpts := *opts
	txOpts.Context = ctx
	txOpts.Value = req.Value
	txOpts.GasLimit = req.GasLimit

	if req.GasPrice != nil {
		txOpts.GasPrice = req.GasPrice
	} else if c.gasMultiplier > 0 {
		gasPrice, err := c.suggestGasPrice(ctx)
		if err != nil {
			return nil, err
		}
		txOpts.GasPrice = gasPrice
	}

	nonce, err := c.nonces.Next(ctx, c.id, c.backend, txOpts.From)
	if err != nil {
		return nil, err
	}
	txOpts.Nonce = new(big.Int).SetUint64(nonce)

	contract := bind.NewBoundContract(req.To, abi.ABI{}, c.backend, c.backend, c.backend)
	tx, err := contract.RawTransact(&txOpts, req.Data)
	if err != nil {
		c.nonces.Release(c.id, nonce)
		return nil, err
	}

	c.nonces.Track(c.id, nonce, tx.Hash())
	c.logger.InfoWithChain(c.id, "Sent transaction %s with nonce %d", tx.Hash().Hex(), nonce)
	return tx, nil
}

func (c *EVMChain) suggestGasPrice(ctx context.Context) (*big.Int, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gasPrice, err := c.backend.SuggestGasPrice(timeoutCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %v", err)
	}

	// Apply gas multiplier (e.g. 1.1 = 10% buffer)
	multiplied := new(big.Float).Mul(new(big.Float).SetInt(gasPrice), big.NewFloat(c.gasMultiplier))
	finalGasPrice := new(big.Int)
	multiplied.Int(finalGasPrice)
	return finalGasPrice, nil
}

// DecodeTxRequest parses the hex or decimal fields of a router transaction request
func DecodeTxRequest(to, data, value, gasLimit, gasPrice string) (*TxRequest, error) {
	if !common.IsHexAddress(to) {
		return nil, fmt.Errorf("invalid transaction target: %q", to)
	}
	req := &TxRequest{To: common.HexToAddress(to)}

	if data != "" && data != "0x" {
		decoded, err := hexutil.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("invalid transaction data: %v", err)
		}
		req.Data = decoded
	}

	var err error
	if req.Value, err = parseQuantity(value); err != nil {
		return nil, fmt.Errorf("invalid transaction value: %v", err)
	}
	if req.GasPrice, err = parseQuantity(gasPrice); err != nil {
		return nil, fmt.Errorf("invalid gas price: %v", err)
	}

	limit, err := parseQuantity(gasLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid gas limit: %v", err)
	}
	if limit != nil {
		if !limit.IsUint64() {
			return nil, fmt.Errorf("invalid gas limit: %s overflows", gasLimit)
		}
		req.GasLimit = limit.Uint64()
	}
	return req, nil
}

// parseQuantity accepts 0x prefixed hex or decimal; empty means unset
func parseQuantity(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, nil
	}
	base, digits := 10, raw
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		base, digits = 16, raw[2:]
	}
	if digits == "" || digits[0] == '-' || digits[0] == '+' {
		return nil, fmt.Errorf("not a number: %s", raw)
	}
	value, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, fmt.Errorf("not a number: %s", raw)
	}
	return value, nil
}
