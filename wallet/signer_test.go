package wallet

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// requireValidSignatures runs the script engine on every input of tx. Each
// input must spend an output of a transaction recorded by the wallet.
func requireValidSignatures(t *testing.T, w *Wallet, tx *wire.MsgTx) {
	t.Helper()

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, in := range tx.TxIn {
		op := in.PreviousOutPoint
		rec := w.TransactionForHash(op.Hash).UnwrapOrFail(t)
		require.Less(t, int(op.Index), len(rec.MsgTx.TxOut))

		fetcher.AddPrevOut(op, rec.MsgTx.TxOut[op.Index])
	}

	for i, in := range tx.TxIn {
		prevOut := fetcher.FetchPrevOutput(in.PreviousOutPoint)

		vm, err := txscript.NewEngine(
			prevOut.PkScript, tx, i, txscript.StandardVerifyFlags,
			nil, nil, prevOut.Value, fetcher,
		)
		require.NoError(t, err)
		require.NoError(t, vm.Execute(), "input %d", i)
	}
}

// TestSignTransaction checks that a built transaction is fully signed and
// that the seed callback learns the amount being sent.
func TestSignTransaction(t *testing.T) {
	t.Parallel()

	// Arrange.
	var (
		gotPrompt string
		gotAmount btcutil.Amount
	)
	h := newTestHarness(t, func(cfg *Config) {
		cfg.Seed = func(_ context.Context, prompt string,
			amount btcutil.Amount) ([]byte, error) {

			gotPrompt, gotAmount = prompt, amount
			return testSeed(t), nil
		}
	})
	ctx := context.Background()

	h.fund(60_000, 100)
	h.fund(70_000, 101)

	authored, err := h.w.TransactionFor(ctx, 100_000, h.externalAddr(), true)
	require.NoError(t, err)
	require.Len(t, authored.Tx.TxIn, 2)

	// Act.
	signed, err := h.w.SignTransaction(ctx, authored.Tx, "send coins")

	// Assert.
	require.NoError(t, err)
	require.True(t, signed)
	require.Equal(t, "send coins", gotPrompt)

	change := btcutil.Amount(authored.Tx.TxOut[authored.ChangeIndex].Value)
	require.Equal(t, authored.TotalInput-change, gotAmount)

	requireValidSignatures(t, h.w, authored.Tx)
	require.False(t, h.w.state.isSigning())
}

// TestSignTransactionDeclined checks that a declined seed request leaves the
// transaction unsigned.
func TestSignTransactionDeclined(t *testing.T) {
	t.Parallel()

	// Arrange.
	h := newTestHarness(t, func(cfg *Config) {
		cfg.Seed = func(context.Context, string,
			btcutil.Amount) ([]byte, error) {

			return nil, errDeclined
		}
	})
	ctx := context.Background()

	h.fund(60_000, 100)
	authored, err := h.w.TransactionFor(ctx, 10_000, h.externalAddr(), true)
	require.NoError(t, err)

	// Act.
	signed, err := h.w.SignTransaction(ctx, authored.Tx, "")

	// Assert.
	require.ErrorIs(t, err, ErrSeedUnavailable)
	require.False(t, signed)
	for _, in := range authored.Tx.TxIn {
		require.Empty(t, in.SignatureScript)
	}
}

// TestSignTransactionWatchOnly checks signing without a seed callback.
func TestSignTransactionWatchOnly(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, func(cfg *Config) {
		cfg.Seed = nil
	})
	ctx := context.Background()

	h.fund(60_000, 100)
	authored, err := h.w.TransactionFor(ctx, 10_000, h.externalAddr(), true)
	require.NoError(t, err)

	signed, err := h.w.SignTransaction(ctx, authored.Tx, "")
	require.ErrorIs(t, err, ErrSeedUnavailable)
	require.False(t, signed)

	info, err := h.w.Info(ctx)
	require.NoError(t, err)
	require.True(t, info.WatchOnly)
}

// TestSignTransactionCanceled checks that a context canceled while waiting
// for the seed leaves the transaction untouched.
func TestSignTransactionCanceled(t *testing.T) {
	t.Parallel()

	// Arrange: The seed callback cancels the request before returning.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newTestHarness(t, func(cfg *Config) {
		cfg.Seed = func(context.Context, string,
			btcutil.Amount) ([]byte, error) {

			cancel()
			return testSeed(t), nil
		}
	})

	h.fund(60_000, 100)
	authored, err := h.w.TransactionFor(
		context.Background(), 10_000, h.externalAddr(), true,
	)
	require.NoError(t, err)

	// Act.
	signed, err := h.w.SignTransaction(ctx, authored.Tx, "")

	// Assert.
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, signed)
	for _, in := range authored.Tx.TxIn {
		require.Empty(t, in.SignatureScript)
	}
}

// TestSignTransactionForeignInput checks that inputs spending outputs the
// wallet does not own are left unsigned.
func TestSignTransactionForeignInput(t *testing.T) {
	t.Parallel()

	// Arrange.
	h := newTestHarness(t)
	ctx := context.Background()

	funding := h.fund(60_000, 100)
	tx := newTx(
		[]wire.OutPoint{
			{Hash: funding.TxHash(), Index: 0},
			h.externalInput(),
		},
		wire.NewTxOut(50_000, h.externalScript()),
	)

	// Act.
	signed, err := h.w.SignTransaction(ctx, tx, "")

	// Assert.
	require.NoError(t, err)
	require.False(t, signed)
	require.NotEmpty(t, tx.TxIn[0].SignatureScript)
	require.Empty(t, tx.TxIn[1].SignatureScript)
}
