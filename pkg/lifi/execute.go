package lifi

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/keygate/checkout/pkg/route"
)

// Process error codes
const (
	CodeTransactionFailed = "TRANSACTION_FAILED"
	CodeAllowanceFailed   = "ALLOWANCE_FAILED"
	CodeBridgeFailed      = "BRIDGE_FAILED"
	CodeCancelled         = "CANCELLED"
	CodeNotSupported      = "NOT_SUPPORTED"
)

var (
	// ErrNoSigner is returned when a route is executed without a wallet
	ErrNoSigner = errors.New("no signer configured")

	// ErrUnsupportedChain is returned for steps on chains without a client
	ErrUnsupportedChain = errors.New("chain not supported")

	// ErrReverted is returned when a mined transaction has a failed receipt
	ErrReverted = errors.New("transaction reverted")
)

// execution owns the mutable route while it runs. Every mutation happens
// under the client lock so GetActiveRoutes can copy a consistent view.
type execution struct {
	client     *Client
	rt         *route.Route
	onProgress func(*route.Route)
}

// ExecuteRoute runs every step of the route in order, reporting a copy of
// the route on every change. It returns the final route and the first error.
func (c *Client) ExecuteRoute(ctx context.Context, rt *route.Route, onProgress func(*route.Route)) (*route.Route, error) {
	if c.signer == nil {
		return rt, ErrNoSigner
	}

	c.mu.Lock()
	c.active[rt.ID] = rt
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.active, rt.ID)
		c.mu.Unlock()
	}()

	exec := &execution{client: c, rt: rt, onProgress: onProgress}
	c.logger.InfoWithChain(rt.FromChainID, "Executing route %s to chain %d", rt.ID, rt.ToChainID)

	for i := range rt.Steps {
		if rt.Steps[i].Status() == route.StatusDone {
			continue
		}
		if err := exec.runStep(ctx, i); err != nil {
			c.logger.ErrorWithChain(rt.FromChainID, "Route %s failed at step %d: %v", rt.ID, i, err)
			return c.snapshot(rt), err
		}
	}

	c.logger.InfoWithChain(rt.ToChainID, "Route %s completed", rt.ID)
	return c.snapshot(rt), nil
}

func (c *Client) snapshot(rt *route.Route) *route.Route {
	c.mu.Lock()
	defer c.mu.Unlock()
	return rt.Clone()
}

func (e *execution) update(fn func()) {
	e.client.mu.Lock()
	fn()
	snapshot := e.rt.Clone()
	e.client.mu.Unlock()

	if e.onProgress != nil {
		e.onProgress(snapshot)
	}
}

func (e *execution) now() int64 {
	return e.client.now().UnixMilli()
}

// startProcess appends a process and mirrors its status on the step
func (e *execution) startProcess(step *route.Step, processType route.ProcessType, status route.Status, message string) int {
	var idx int
	e.update(func() {
		step.Execution.Process = append(step.Execution.Process, route.Process{
			Type:      processType,
			Status:    status,
			Message:   message,
			StartedAt: e.now(),
		})
		step.Execution.Status = status
		idx = len(step.Execution.Process) - 1
	})
	return idx
}

func (e *execution) setProcess(step *route.Step, idx int, status route.Status, message, txHash string) {
	e.update(func() {
		process := &step.Execution.Process[idx]
		process.Status = status
		process.Message = message
		if txHash != "" {
			process.TxHash = txHash
		}
		if status == route.StatusDone {
			process.DoneAt = e.now()
		} else {
			step.Execution.Status = status
		}
	})
}

// fail marks the process and its step failed
func (e *execution) fail(step *route.Step, idx int, code string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		code = CodeCancelled
	}
	e.update(func() {
		if idx >= 0 {
			process := &step.Execution.Process[idx]
			process.Status = route.StatusFailed
			process.Error = &route.ProcessError{Code: code, Message: err.Error()}
			process.DoneAt = e.now()
		}
		step.Execution.Status = route.StatusFailed
	})
	return err
}

func (e *execution) runStep(ctx context.Context, i int) error {
	step := &e.rt.Steps[i]
	e.update(func() {
		if step.Execution == nil {
			step.Execution = &route.Execution{}
		}
		step.Execution.Status = route.StatusPending
	})

	chainID := step.Action.FromChainID
	chain, ok := e.client.chains[chainID]
	if !ok {
		return e.fail(step, -1, CodeNotSupported, fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID))
	}

	opts, err := e.client.signer.TransactOpts(ctx, chainID)
	if err != nil {
		return e.fail(step, -1, CodeTransactionFailed, err)
	}

	if err := e.ensureAllowance(ctx, chain, step, opts.From); err != nil {
		return err
	}

	processType := route.ProcessCrossChain
	if step.Action.FromChainID == step.Action.ToChainID {
		processType = route.ProcessSwap
	}

	idx := e.startProcess(step, processType, route.StatusActionRequired, "Sign the transaction in your wallet")
	if step.TransactionRequest == nil {
		return e.fail(step, idx, CodeTransactionFailed, errors.New("step has no transaction request"))
	}
	txReq := step.TransactionRequest
	req, err := DecodeTxRequest(txReq.To, txReq.Data, txReq.Value, txReq.GasLimit, txReq.GasPrice)
	if err != nil {
		return e.fail(step, idx, CodeTransactionFailed, err)
	}

	tx, err := chain.Send(ctx, opts, req)
	if err != nil {
		return e.fail(step, idx, CodeTransactionFailed, err)
	}
	e.setProcess(step, idx, route.StatusPending, "Waiting for the transaction to be mined", tx.Hash().Hex())

	if err := waitSuccess(ctx, chain, tx); err != nil {
		return e.fail(step, idx, CodeTransactionFailed, err)
	}
	e.setProcess(step, idx, route.StatusDone, "Transaction confirmed", "")

	if processType == route.ProcessCrossChain {
		if err := e.awaitBridge(ctx, step, tx.Hash().Hex()); err != nil {
			return err
		}
	}

	e.update(func() {
		step.Execution.Status = route.StatusDone
	})
	return nil
}

// ensureAllowance approves the step's spender when the current allowance
// does not cover the amount. Native tokens need no approval.
func (e *execution) ensureAllowance(ctx context.Context, chain Chain, step *route.Step, owner common.Address) error {
	token := common.HexToAddress(step.Action.FromToken.Address)
	if token == (common.Address{}) || step.Estimate == nil || step.Estimate.ApprovalAddress == "" {
		return nil
	}
	spender := common.HexToAddress(step.Estimate.ApprovalAddress)

	idx := e.startProcess(step, route.ProcessTokenAllowance, route.StatusPending, "Checking token allowance")
	amount, ok := new(big.Int).SetString(step.Action.FromAmount, 10)
	if !ok {
		return e.fail(step, idx, CodeAllowanceFailed, fmt.Errorf("invalid amount: %q", step.Action.FromAmount))
	}

	allowance, err := chain.Allowance(ctx, token, owner, spender)
	if err != nil {
		return e.fail(step, idx, CodeAllowanceFailed, fmt.Errorf("failed to check allowance: %w", err))
	}
	if allowance.Cmp(amount) >= 0 {
		e.setProcess(step, idx, route.StatusDone, "Allowance already sufficient", "")
		return nil
	}

	e.setProcess(step, idx, route.StatusActionRequired, "Approve the token in your wallet", "")
	opts, err := e.client.signer.TransactOpts(ctx, chain.ID())
	if err != nil {
		return e.fail(step, idx, CodeAllowanceFailed, err)
	}
	tx, err := chain.Approve(ctx, opts, token, spender, amount)
	if err != nil {
		return e.fail(step, idx, CodeAllowanceFailed, err)
	}
	e.setProcess(step, idx, route.StatusPending, "Waiting for the approval to be mined", tx.Hash().Hex())

	if err := waitSuccess(ctx, chain, tx); err != nil {
		return e.fail(step, idx, CodeAllowanceFailed, err)
	}
	e.setProcess(step, idx, route.StatusDone, "Token approved", "")
	return nil
}

// awaitBridge polls the status endpoint until the destination side settles
func (e *execution) awaitBridge(ctx context.Context, step *route.Step, txHash string) error {
	idx := e.startProcess(step, route.ProcessReceiving, route.StatusPending, "Waiting for the destination chain")
	log := e.client.logger

	ticker := time.NewTicker(e.client.pollInterval)
	defer ticker.Stop()

	for {
		status, err := e.client.GetStatus(ctx, txHash, step.Tool, step.Action.FromChainID, step.Action.ToChainID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return e.fail(step, idx, CodeBridgeFailed, ctx.Err())
			}
			log.NoticeWithChain(step.Action.FromChainID, "Failed to fetch bridge status for %s: %v", txHash, err)
		case status.Status == TransferDone:
			var receivingHash string
			if status.Receiving != nil {
				receivingHash = status.Receiving.TxHash
			}
			e.setProcess(step, idx, route.StatusDone, "Funds received", receivingHash)
			return nil
		case status.Status == TransferFailed:
			message := status.SubstatusMessage
			if message == "" {
				message = "bridge transfer failed"
			}
			return e.fail(step, idx, CodeBridgeFailed, errors.New(message))
		default:
			log.DebugWithChain(step.Action.FromChainID, "Bridge transfer %s is %s", txHash, status.Status)
		}

		select {
		case <-ctx.Done():
			return e.fail(step, idx, CodeBridgeFailed, ctx.Err())
		case <-ticker.C:
		}
	}
}

func waitSuccess(ctx context.Context, chain Chain, tx *types.Transaction) error {
	receipt, err := chain.WaitMined(ctx, tx)
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}
	return nil
}
