package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/keygate/checkout/pkg/logger"
)

// DefaultNonceSyncInterval is how long an allocated nonce sequence is trusted
// before the pending nonce is read from the chain again
const DefaultNonceSyncInterval = 5 * time.Minute

// NonceSource reads the pending nonce of an account
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager hands out sequential nonces per chain so the allowance and
// bridge transactions of a route can be sent back to back
type NonceManager struct {
	mu           sync.RWMutex
	chains       map[int]*chainNonces
	syncInterval time.Duration
	now          func() time.Time
	logger       logger.Logger
}

type chainNonces struct {
	mu       sync.Mutex
	current  uint64
	pending  map[uint64]common.Hash
	lastSync time.Time
}

// NewNonceManager creates a nonce manager
func NewNonceManager(log logger.Logger) *NonceManager {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &NonceManager{
		chains:       make(map[int]*chainNonces),
		syncInterval: DefaultNonceSyncInterval,
		now:          time.Now,
		logger:       log,
	}
}

func (nm *NonceManager) chain(chainID int) *chainNonces {
	nm.mu.RLock()
	data, exists := nm.chains[chainID]
	nm.mu.RUnlock()
	if exists {
		return data
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()
	if data, exists = nm.chains[chainID]; !exists {
		data = &chainNonces{pending: make(map[uint64]common.Hash)}
		nm.chains[chainID] = data
	}
	return data
}

// Next reserves the next nonce for address on the chain
func (nm *NonceManager) Next(ctx context.Context, chainID int, source NonceSource, address common.Address) (uint64, error) {
	data := nm.chain(chainID)
	data.mu.Lock()
	defer data.mu.Unlock()

	if data.lastSync.IsZero() || nm.now().Sub(data.lastSync) > nm.syncInterval {
		nonce, err := source.PendingNonceAt(ctx, address)
		if err != nil {
			return 0, fmt.Errorf("failed to get pending nonce: %v", err)
		}
		if nonce > data.current {
			nm.logger.DebugWithChain(chainID, "Updating nonce: %d -> %d", data.current, nonce)
			data.current = nonce
		}
		data.lastSync = nm.now()
	}

	nonce := data.current
	data.current++
	return nonce, nil
}

// Track records the transaction sent with nonce
func (nm *NonceManager) Track(chainID int, nonce uint64, txHash common.Hash) {
	data := nm.chain(chainID)
	data.mu.Lock()
	defer data.mu.Unlock()
	data.pending[nonce] = txHash
	nm.logger.DebugWithChain(chainID, "Tracking transaction with nonce %d: %s", nonce, txHash.Hex())
}

// Confirmed forgets a mined transaction
func (nm *NonceManager) Confirmed(chainID int, nonce uint64) {
	data := nm.chain(chainID)
	data.mu.Lock()
	defer data.mu.Unlock()
	delete(data.pending, nonce)
}

// Release gives back a nonce whose transaction was never sent or failed.
// The nonce is reused only when nothing above it is still pending.
func (nm *NonceManager) Release(chainID int, nonce uint64) {
	data := nm.chain(chainID)
	data.mu.Lock()
	defer data.mu.Unlock()

	delete(data.pending, nonce)
	for pendingNonce := range data.pending {
		if pendingNonce > nonce {
			nm.logger.NoticeWithChain(chainID, "Cannot reuse nonce %d, nonce %d is still pending", nonce, pendingNonce)
			return
		}
	}
	if data.current > nonce {
		nm.logger.DebugWithChain(chainID, "Nonce %d set for reuse", nonce)
		data.current = nonce
	}
}

// Pending returns the number of transactions not yet confirmed on the chain
func (nm *NonceManager) Pending(chainID int) int {
	data := nm.chain(chainID)
	data.mu.Lock()
	defer data.mu.Unlock()
	return len(data.pending)
}
