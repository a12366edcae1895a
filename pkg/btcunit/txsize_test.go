package btcunit

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// TestEstimateP2PKHTxSize checks the size estimates of simple P2PKH spends.
func TestEstimateP2PKHTxSize(t *testing.T) {
	t.Parallel()

	// version(4) + in count(1) + input(149) + out count(1) + lock time(4).
	// The input is outpoint(36) + script len(1) + a worst case signature
	// script(108) + sequence(4).
	require.Equal(t, NewBytes(159), EstimateP2PKHTxSize(1, nil, false))

	// A change output adds value(8) + script len(1) + script(25).
	require.Equal(t, NewBytes(193), EstimateP2PKHTxSize(1, nil, true))

	out := wire.NewTxOut(1000, make([]byte, 25))
	require.Equal(
		t, NewBytes(193+149),
		EstimateP2PKHTxSize(2, []*wire.TxOut{out}, false),
	)
}

// TestTxSize checks the serialized size of a transaction.
func TestTxSize(t *testing.T) {
	t.Parallel()

	tx := wire.NewMsgTx(wire.TxVersion)
	require.Equal(t, NewBytes(10), TxSize(tx))
	require.Equal(t, "10 B", TxSize(tx).String())
	require.Equal(t, uint64(20), TxSize(tx).Add(NewBytes(10)).Uint64())
}
