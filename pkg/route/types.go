package route

import (
	"math"

	"github.com/shopspring/decimal"
)

// Status is the execution status of a step or one of its processes
type Status string

const (
	StatusUnstarted      Status = ""
	StatusPending        Status = "PENDING"
	StatusActionRequired Status = "ACTION_REQUIRED"
	StatusFailed         Status = "FAILED"
	StatusDone           Status = "DONE"
)

// Terminal reports whether no further transition can happen
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Active reports whether the step is still being worked on
func (s Status) Active() bool {
	return s == StatusPending || s == StatusActionRequired
}

// ProcessType names one stage of a step's execution
type ProcessType string

const (
	ProcessTokenAllowance ProcessType = "TOKEN_ALLOWANCE"
	ProcessSwap           ProcessType = "SWAP"
	ProcessCrossChain     ProcessType = "CROSS_CHAIN"
	ProcessReceiving      ProcessType = "RECEIVING_CHAIN"
)

// Token identifies an asset on a chain
type Token struct {
	Address  string `json:"address"`
	ChainID  int    `json:"chainId"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	PriceUSD string `json:"priceUSD,omitempty"`
}

// Action describes what a step moves from where to where
type Action struct {
	FromChainID int     `json:"fromChainId"`
	FromAmount  string  `json:"fromAmount"`
	FromToken   Token   `json:"fromToken"`
	FromAddress string  `json:"fromAddress,omitempty"`
	ToChainID   int     `json:"toChainId"`
	ToToken     Token   `json:"toToken"`
	ToAddress   string  `json:"toAddress,omitempty"`
	Slippage    float64 `json:"slippage,omitempty"`
}

// Cost is a gas or fee estimate entry. AmountUSD is null when the router
// could not price it.
type Cost struct {
	Type      string              `json:"type,omitempty"`
	Name      string              `json:"name,omitempty"`
	Amount    string              `json:"amount,omitempty"`
	AmountUSD decimal.NullDecimal `json:"amountUSD"`
	Token     *Token              `json:"token,omitempty"`
}

// Estimate is the router's prediction for a step
type Estimate struct {
	Tool              string  `json:"tool,omitempty"`
	ApprovalAddress   string  `json:"approvalAddress,omitempty"`
	FromAmount        string  `json:"fromAmount,omitempty"`
	ToAmount          string  `json:"toAmount,omitempty"`
	ToAmountMin       string  `json:"toAmountMin,omitempty"`
	ExecutionDuration float64 `json:"executionDuration"`
	GasCosts          []Cost  `json:"gasCosts,omitempty"`
	FeeCosts          []Cost  `json:"feeCosts,omitempty"`
}

// TransactionRequest is the unsigned transaction the router prepared
type TransactionRequest struct {
	ChainID  int    `json:"chainId,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value,omitempty"`
	GasLimit string `json:"gasLimit,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
}

// ProcessError is the structured error attached to a failed process
type ProcessError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Process is one attempt within a step's execution log
type Process struct {
	Type      ProcessType   `json:"type"`
	Status    Status        `json:"status"`
	TxHash    string        `json:"txHash,omitempty"`
	TxLink    string        `json:"txLink,omitempty"`
	Message   string        `json:"message,omitempty"`
	Error     *ProcessError `json:"error,omitempty"`
	StartedAt int64         `json:"startedAt,omitempty"`
	DoneAt    int64         `json:"doneAt,omitempty"`
}

// Execution is the live state of a step
type Execution struct {
	Status  Status    `json:"status"`
	Process []Process `json:"process"`
}

// Step is one stage of a route. A quote is a single step.
type Step struct {
	ID                 string              `json:"id"`
	Type               string              `json:"type"`
	Tool               string              `json:"tool"`
	Action             Action              `json:"action"`
	Estimate           *Estimate           `json:"estimate,omitempty"`
	TransactionRequest *TransactionRequest `json:"transactionRequest,omitempty"`
	Execution          *Execution          `json:"execution,omitempty"`
}

// Quote is what the router returns for a contract calls request
type Quote = Step

// Status returns the execution status, unstarted when execution has not begun
func (s *Step) Status() Status {
	if s.Execution == nil {
		return StatusUnstarted
	}
	return s.Execution.Status
}

// DurationSeconds returns the estimated execution time rounded up to whole seconds
func (s *Step) DurationSeconds() int {
	if s.Estimate == nil || s.Estimate.ExecutionDuration <= 0 {
		return 0
	}
	return int(math.Ceil(s.Estimate.ExecutionDuration))
}

// Clone returns a deep copy of the step
func (s *Step) Clone() Step {
	out := *s
	if s.Estimate != nil {
		estimate := *s.Estimate
		estimate.GasCosts = append([]Cost(nil), s.Estimate.GasCosts...)
		estimate.FeeCosts = append([]Cost(nil), s.Estimate.FeeCosts...)
		out.Estimate = &estimate
	}
	if s.TransactionRequest != nil {
		tx := *s.TransactionRequest
		out.TransactionRequest = &tx
	}
	if s.Execution != nil {
		execution := Execution{Status: s.Execution.Status}
		for _, p := range s.Execution.Process {
			if p.Error != nil {
				processErr := *p.Error
				p.Error = &processErr
			}
			execution.Process = append(execution.Process, p)
		}
		out.Execution = &execution
	}
	return out
}

// Route is an executable plan made of ordered steps
type Route struct {
	ID          string `json:"id"`
	FromChainID int    `json:"fromChainId"`
	FromAmount  string `json:"fromAmount"`
	FromToken   Token  `json:"fromToken"`
	FromAddress string `json:"fromAddress,omitempty"`
	ToChainID   int    `json:"toChainId"`
	ToAmount    string `json:"toAmount"`
	ToAmountMin string `json:"toAmountMin,omitempty"`
	ToToken     Token  `json:"toToken"`
	ToAddress   string `json:"toAddress,omitempty"`
	Steps       []Step `json:"steps"`
}

// Clone returns a deep copy of the route
func (r *Route) Clone() *Route {
	out := *r
	out.Steps = CloneSteps(r.Steps)
	return &out
}

// Done reports whether every step reached a terminal status
func (r *Route) Done() bool {
	for i := range r.Steps {
		if !r.Steps[i].Status().Terminal() {
			return false
		}
	}
	return true
}

// CloneSteps deep copies a step list
func CloneSteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	for i := range steps {
		out[i] = steps[i].Clone()
	}
	return out
}

// ContractCall is the destination chain call bundled with the bridge
type ContractCall struct {
	FromAmount         string `json:"fromAmount" validate:"required,numeric"`
	FromTokenAddress   string `json:"fromTokenAddress" validate:"required,eth_addr"`
	ToContractAddress  string `json:"toContractAddress" validate:"required,eth_addr"`
	ToContractCallData string `json:"toContractCallData" validate:"required,startswith=0x"`
	ToContractGasLimit string `json:"toContractGasLimit" validate:"required,numeric"`
	ToApprovalAddress  string `json:"toApprovalAddress,omitempty" validate:"omitempty,eth_addr"`
	ToFallbackAddress  string `json:"toFallbackAddress,omitempty" validate:"omitempty,eth_addr"`
}

// ContractCallsRequest asks the router for a bridge plus contract call quote
type ContractCallsRequest struct {
	FromChain     int            `json:"fromChain" validate:"required,gt=0"`
	FromToken     string         `json:"fromToken" validate:"required"`
	FromAddress   string         `json:"fromAddress" validate:"required,eth_addr"`
	ToChain       int            `json:"toChain" validate:"required,gt=0,nefield=FromChain"`
	ToToken       string         `json:"toToken" validate:"required"`
	ToAmount      string         `json:"toAmount" validate:"required,numeric"`
	ContractCalls []ContractCall `json:"contractCalls" validate:"required,len=1,dive"`
	Integrator    string         `json:"integrator,omitempty"`
}
