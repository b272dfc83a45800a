package lifi

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/keygate/checkout/pkg/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simulatedChainID is the chain id of the simulated backend
const simulatedChainID = 1337

func setupSimulatedChain(t *testing.T) (*simulated.Backend, *EVMChain, *wallet.NonceManager, *wallet.KeyWallet) {
	t.Helper()
	w := connectedWallet(t)

	balance := new(big.Int)
	balance.SetString("10000000000000000000", 10) // 10 ETH
	//nolint:SA1019 // Using deprecated GenesisAccount for compatibility
	genesisAlloc := map[common.Address]core.GenesisAccount{
		w.From(): {Balance: balance},
	}

	sim := simulated.NewBackend(genesisAlloc)
	t.Cleanup(func() { sim.Close() })

	nonces := wallet.NewNonceManager(nil)
	return sim, NewEVMChain(simulatedChainID, sim.Client(), nonces, DefaultGasMultiplier, nil), nonces, w
}

func TestEVMChainSend(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping simulated chain test in short mode")
	}

	sim, chain, nonces, w := setupSimulatedChain(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	opts, err := w.TransactOpts(ctx, simulatedChainID)
	require.NoError(t, err)

	recipient := common.HexToAddress("0x1111111111111111111111111111111111111111")
	var txs []*types.Transaction
	for i := 0; i < 2; i++ {
		tx, err := chain.Send(ctx, opts, &TxRequest{To: recipient, Value: big.NewInt(1000)})
		require.NoError(t, err)
		assert.Equal(t, uint64(i), tx.Nonce())
		txs = append(txs, tx)
	}
	assert.Equal(t, 2, nonces.Pending(simulatedChainID))

	head, err := chain.LatestBlock(ctx)
	require.NoError(t, err)
	sim.Commit()
	mined, err := chain.LatestBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, head+1, mined)

	for _, tx := range txs {
		receipt, err := chain.WaitMined(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	}
	assert.Equal(t, 0, nonces.Pending(simulatedChainID))

	received, err := sim.Client().BalanceAt(ctx, recipient, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), received.Int64())
}

func TestEVMChainAllowanceWithoutContract(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping simulated chain test in short mode")
	}

	_, chain, _, w := setupSimulatedChain(t)
	token := common.HexToAddress("0x2222222222222222222222222222222222222222")

	_, err := chain.Allowance(context.Background(), token, w.From(), common.HexToAddress("0x3333333333333333333333333333333333333333"))
	assert.Error(t, err)
	assert.Equal(t, simulatedChainID, chain.ID())
}
