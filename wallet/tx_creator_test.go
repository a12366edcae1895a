package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/spvwallet/pkg/btcunit"
	"github.com/stretchr/testify/require"
)

// TestFeeForTxSize checks that the fee grows by one rate increment per
// started kilobyte.
func TestFeeForTxSize(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, func(cfg *Config) {
		cfg.FeePerKb = btcunit.NewSatPerKByte(5000)
	})

	testCases := []struct {
		name string
		size uint64
		fee  btcutil.Amount
	}{
		{name: "zero", size: 0, fee: 0},
		{name: "one byte", size: 1, fee: 5000},
		{name: "full kilobyte", size: 1000, fee: 5000},
		{name: "next kilobyte", size: 1001, fee: 10000},
		{name: "doubled within bucket", size: 2000, fee: 10000},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fee := h.w.FeeForTxSize(btcunit.NewBytes(tc.size))
			require.Equal(t, tc.fee, fee)
		})
	}

	require.Equal(t, btcutil.Amount(5000), h.w.FeeForTxSize(
		btcunit.NewBytes(500),
	))
	require.Equal(t, btcunit.NewSatPerKByte(5000).DustThreshold(),
		h.w.MinOutputAmount())
}

// TestTransactionForWithChange checks a payment with a change output.
func TestTransactionForWithChange(t *testing.T) {
	t.Parallel()

	// Arrange.
	h := newTestHarness(t)
	ctx := context.Background()

	h.fund(100_000, 100)
	change, err := h.w.ChangeAddress(ctx)
	require.NoError(t, err)
	dest := h.externalAddr()

	// Act.
	authored, err := h.w.TransactionFor(ctx, 50_000, dest, true)

	// Assert: The payment comes first and the change last.
	require.NoError(t, err)
	require.Len(t, authored.Tx.TxIn, 1)
	require.Len(t, authored.Tx.TxOut, 2)
	require.Equal(t, 1, authored.ChangeIndex)

	destScript, err := txscript.PayToAddrScript(dest)
	require.NoError(t, err)
	require.Equal(t, destScript, authored.Tx.TxOut[0].PkScript)
	require.Equal(t, int64(50_000), authored.Tx.TxOut[0].Value)
	require.Equal(t, change.PkScript, authored.Tx.TxOut[1].PkScript)

	fee := h.w.FeeForTxSize(btcunit.EstimateP2PKHTxSize(
		1, authored.Tx.TxOut[:1], true,
	))
	require.Equal(t, int64(100_000-50_000)-int64(fee),
		authored.Tx.TxOut[1].Value)
	require.Equal(t, btcutil.Amount(100_000), authored.TotalInput)

	// Building does not change the ledger.
	require.Equal(t, btcutil.Amount(100_000), h.w.Balance())
}

// TestTransactionForDustChange checks that change below the dust threshold
// is left to the fee.
func TestTransactionForDustChange(t *testing.T) {
	t.Parallel()

	// Arrange.
	h := newTestHarness(t)
	ctx := context.Background()

	h.fund(100_000, 100)
	fee := h.w.FeeForTxSize(btcunit.EstimateP2PKHTxSize(
		1, []*wire.TxOut{wire.NewTxOut(0, h.externalScript())}, true,
	))
	amount := 100_000 - fee - h.w.MinOutputAmount() + 1

	// Act.
	authored, err := h.w.TransactionFor(ctx, amount, h.externalAddr(), true)

	// Assert.
	require.NoError(t, err)
	require.Len(t, authored.Tx.TxOut, 1)
	require.Equal(t, -1, authored.ChangeIndex)
	require.Equal(t, int64(amount), authored.Tx.TxOut[0].Value)
}

// TestTransactionForSubtractFee checks that the fee is taken from the
// payment when it is not included on top.
func TestTransactionForSubtractFee(t *testing.T) {
	t.Parallel()

	// Arrange.
	h := newTestHarness(t)
	ctx := context.Background()

	h.fund(100_000, 100)

	// Act: Sweep the whole balance.
	authored, err := h.w.TransactionFor(
		ctx, 100_000, h.externalAddr(), false,
	)

	// Assert.
	require.NoError(t, err)
	require.Len(t, authored.Tx.TxOut, 1)

	fee := h.w.FeeForTxSize(btcunit.EstimateP2PKHTxSize(
		1, authored.Tx.TxOut, true,
	))
	require.Equal(t, int64(100_000)-int64(fee),
		authored.Tx.TxOut[0].Value)
}

// TestTransactionForInsufficientFunds checks the error when the eligible
// outputs cannot pay for the request.
func TestTransactionForInsufficientFunds(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()

	// No funds at all.
	_, err := h.w.TransactionFor(ctx, 10_000, h.externalAddr(), true)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// The balance pays the amount but not the fee on top.
	h.fund(100_000, 100)
	_, err = h.w.TransactionFor(ctx, 100_000, h.externalAddr(), true)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// The amount is mismatched with the scripts.
	_, err = h.w.TransactionForAmounts(
		ctx, []btcutil.Amount{1000, 2000}, [][]byte{h.externalScript()},
		true,
	)
	require.ErrorIs(t, err, ErrOutputMismatch)
}

// TestCoinSelectionStrategies checks the order in which outputs are spent.
func TestCoinSelectionStrategies(t *testing.T) {
	t.Parallel()

	// Arrange: An older small output and a newer large one.
	h := newTestHarness(t)
	ctx := context.Background()

	small := h.fund(30_000, 100)
	large := h.fund(80_000, 101)

	out := wire.TxOut{Value: 20_000, PkScript: h.externalScript()}

	// Act: The default strategy spends the oldest output.
	oldest, err := h.w.CreateTransaction(ctx, &TxIntent{
		Outputs: []wire.TxOut{out},
	})

	// Assert.
	require.NoError(t, err)
	require.Len(t, oldest.Tx.TxIn, 1)
	require.Equal(t, small.TxHash(),
		oldest.Tx.TxIn[0].PreviousOutPoint.Hash)

	// Act: Largest first spends the large output.
	largest, err := h.w.CreateTransaction(ctx, &TxIntent{
		Outputs:  []wire.TxOut{out},
		Strategy: CoinSelectionLargest,
	})

	// Assert.
	require.NoError(t, err)
	require.Len(t, largest.Tx.TxIn, 1)
	require.Equal(t, large.TxHash(),
		largest.Tx.TxIn[0].PreviousOutPoint.Hash)

	// Act: An amount above either output spends both, oldest first.
	both, err := h.w.CreateTransaction(ctx, &TxIntent{
		Outputs: []wire.TxOut{{
			Value: 90_000, PkScript: h.externalScript(),
		}},
	})

	// Assert.
	require.NoError(t, err)
	require.Len(t, both.Tx.TxIn, 2)
	require.Equal(t, small.TxHash(), both.Tx.TxIn[0].PreviousOutPoint.Hash)
	require.Equal(t, large.TxHash(), both.Tx.TxIn[1].PreviousOutPoint.Hash)
}

// TestCoinSelectionSkipsUnverified checks that outputs of transactions that
// are not safe unconfirmed are only spent on request.
func TestCoinSelectionSkipsUnverified(t *testing.T) {
	t.Parallel()

	// Arrange: An unconfirmed funding without a timestamp.
	h := newTestHarness(t)
	ctx := context.Background()

	h.register(h.fundTx(50_000), unconfirmed, time.Time{})
	require.Equal(t, btcutil.Amount(50_000), h.w.Balance())

	intent := &TxIntent{
		Outputs: []wire.TxOut{{
			Value: 10_000, PkScript: h.externalScript(),
		}},
	}

	// Act & Assert.
	_, err := h.w.CreateTransaction(ctx, intent)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	intent.AllowUnverified = true
	authored, err := h.w.CreateTransaction(ctx, intent)
	require.NoError(t, err)
	require.Len(t, authored.Tx.TxIn, 1)
}

// TestCreateTransactionManualInputs checks coin control.
func TestCreateTransactionManualInputs(t *testing.T) {
	t.Parallel()

	// Arrange.
	h := newTestHarness(t)
	ctx := context.Background()

	h.fund(30_000, 100)
	second := h.fund(80_000, 101)
	op := wire.OutPoint{Hash: second.TxHash(), Index: 0}

	out := wire.TxOut{Value: 20_000, PkScript: h.externalScript()}

	// Act: Spend exactly the second output.
	authored, err := h.w.CreateTransaction(ctx, &TxIntent{
		Outputs: []wire.TxOut{out},
		UTXOs:   []wire.OutPoint{op},
	})

	// Assert.
	require.NoError(t, err)
	require.Len(t, authored.Tx.TxIn, 1)
	require.Equal(t, op, authored.Tx.TxIn[0].PreviousOutPoint)

	// Act & Assert: Unknown and duplicated outputs are rejected.
	_, err = h.w.CreateTransaction(ctx, &TxIntent{
		Outputs: []wire.TxOut{out},
		UTXOs:   []wire.OutPoint{{Hash: chainhash.Hash{0x01}}},
	})
	require.ErrorIs(t, err, ErrUtxoNotEligible)

	_, err = h.w.CreateTransaction(ctx, &TxIntent{
		Outputs: []wire.TxOut{out},
		UTXOs:   []wire.OutPoint{op, op},
	})
	require.ErrorIs(t, err, ErrDuplicatedUtxo)
}

// TestCreateTransactionInvalidIntent checks the intent validation.
func TestCreateTransactionInvalidIntent(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()

	testCases := []struct {
		name   string
		intent *TxIntent
		err    error
	}{
		{
			name:   "nil intent",
			intent: nil,
			err:    ErrNilTxIntent,
		},
		{
			name:   "no outputs",
			intent: &TxIntent{},
			err:    ErrNoTxOutputs,
		},
		{
			name: "dust output",
			intent: &TxIntent{
				Outputs: []wire.TxOut{{
					Value:    100,
					PkScript: h.externalScript(),
				}},
			},
			err: txrules.ErrOutputIsDust,
		},
		{
			name: "negative output",
			intent: &TxIntent{
				Outputs: []wire.TxOut{{
					Value:    -1,
					PkScript: h.externalScript(),
				}},
			},
			err: txrules.ErrAmountNegative,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := h.w.CreateTransaction(ctx, tc.intent)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

// TestLargestFirstIsStable checks that equal outputs keep their order.
func TestLargestFirstIsStable(t *testing.T) {
	t.Parallel()

	coins := []Coin{
		{TxOut: wire.TxOut{Value: 10}, OutPoint: wire.OutPoint{Index: 0}},
		{TxOut: wire.TxOut{Value: 20}, OutPoint: wire.OutPoint{Index: 1}},
		{TxOut: wire.TxOut{Value: 10}, OutPoint: wire.OutPoint{Index: 2}},
	}

	arranged, err := CoinSelectionLargest.ArrangeCoins(
		coins, btcunit.DefaultSatPerKByte,
	)
	require.NoError(t, err)

	indices := make([]uint32, 0, len(arranged))
	for _, c := range arranged {
		indices = append(indices, c.Index)
	}
	require.Equal(t, []uint32{1, 0, 2}, indices)
}
