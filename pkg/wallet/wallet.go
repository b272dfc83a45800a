package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/keygate/checkout/pkg/logger"
)

// Status is the connection status of a wallet
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnected    Status = "connected"
)

// ErrNotConnected is returned when signing is requested from a disconnected wallet
var ErrNotConnected = errors.New("wallet not connected")

// State is what subscribers are told on every change
type State struct {
	Status  Status `json:"status"`
	Address string `json:"address,omitempty"`
}

// Connected reports whether the wallet can be used
func (s State) Connected() bool {
	return s.Status == StatusConnected
}

// Provider exposes the connection status and address of a wallet
type Provider interface {
	State() State
	Connect(ctx context.Context) error
	Disconnect()
	// Subscribe calls fn on every state change until unsubscribed
	Subscribe(fn func(State)) (unsubscribe func())
}

// Signer produces transaction options for a chain
type Signer interface {
	From() common.Address
	TransactOpts(ctx context.Context, chainID int) (*bind.TransactOpts, error)
}

// KeyWallet is a wallet backed by a private key held by the service
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	logger  logger.Logger

	mu          sync.Mutex
	connected   bool
	nextID      int
	subscribers map[int]func(State)
}

var (
	_ Provider = (*KeyWallet)(nil)
	_ Signer   = (*KeyWallet)(nil)
)

// NewKeyWallet parses a hex private key, with or without 0x
func NewKeyWallet(privateKeyHex string, log logger.Logger) (*KeyWallet, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &KeyWallet{
		key:         privateKey,
		address:     crypto.PubkeyToAddress(privateKey.PublicKey),
		logger:      log,
		subscribers: make(map[int]func(State)),
	}, nil
}

// State returns the current status and, when connected, the address
func (w *KeyWallet) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stateLocked()
}

func (w *KeyWallet) stateLocked() State {
	if !w.connected {
		return State{Status: StatusDisconnected}
	}
	return State{Status: StatusConnected, Address: w.address.Hex()}
}

// From returns the signing address
func (w *KeyWallet) From() common.Address {
	return w.address
}

// Connect marks the wallet connected and notifies subscribers
func (w *KeyWallet) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.setConnected(true)
	w.logger.Info("Wallet %s connected", w.address.Hex())
	return nil
}

// Disconnect marks the wallet disconnected and notifies subscribers
func (w *KeyWallet) Disconnect() {
	w.setConnected(false)
	w.logger.Info("Wallet %s disconnected", w.address.Hex())
}

func (w *KeyWallet) setConnected(connected bool) {
	w.mu.Lock()
	if w.connected == connected {
		w.mu.Unlock()
		return
	}
	w.connected = connected
	state := w.stateLocked()
	subscribers := make([]func(State), 0, len(w.subscribers))
	for _, fn := range w.subscribers {
		subscribers = append(subscribers, fn)
	}
	w.mu.Unlock()

	for _, fn := range subscribers {
		fn(state)
	}
}

// Subscribe registers fn for state changes
func (w *KeyWallet) Subscribe(fn func(State)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID
	w.nextID++
	w.subscribers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			delete(w.subscribers, id)
		})
	}
}

// TransactOpts creates a transaction signer for the chain
func (w *KeyWallet) TransactOpts(ctx context.Context, chainID int) (*bind.TransactOpts, error) {
	if !w.State().Connected() {
		return nil, ErrNotConnected
	}

	auth, err := bind.NewKeyedTransactorWithChainID(w.key, big.NewInt(int64(chainID)))
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %v", err)
	}
	auth.Context = ctx
	return auth, nil
}
