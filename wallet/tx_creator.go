// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/btcsuite/spvwallet/pkg/btcunit"
	"github.com/btcsuite/spvwallet/wallet/store"
	"github.com/btcsuite/spvwallet/wtxmgr"
)

var (
	// ErrDuplicatedUtxo is returned when a UTXO is specified multiple
	// times.
	ErrDuplicatedUtxo = errors.New("duplicated utxo")

	// ErrUtxoNotEligible is returned when a UTXO is not eligible to be
	// spent.
	ErrUtxoNotEligible = errors.New("utxo not eligible to spend")

	// ErrNoTxOutputs is returned when a transaction is created without any
	// outputs.
	ErrNoTxOutputs = errors.New("tx has no outputs")

	// ErrNilTxIntent is returned when a nil `TxIntent` is provided.
	ErrNilTxIntent = errors.New("nil TxIntent")

	// ErrInsufficientFunds is returned when the eligible outputs cannot
	// pay for the requested outputs and the fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrOutputMismatch is returned when the amounts and scripts of a
	// multi output request differ in length.
	ErrOutputMismatch = errors.New("amounts and scripts differ in length")
)

// Coin represents a spendable UTXO which is available for coin selection.
type Coin struct {
	wire.TxOut
	wire.OutPoint
}

// CoinSelectionStrategy is an interface that represents a coin selection
// strategy. A coin selection strategy is responsible for ordering or
// filtering a list of coins before they are passed to the coin selection
// algorithm. Strategies must be deterministic.
type CoinSelectionStrategy interface {
	// ArrangeCoins takes a list of coins in ledger order and arranges them
	// according to the specified coin selection strategy and fee rate.
	ArrangeCoins(eligible []Coin, feePerKb btcunit.SatPerKByte) ([]Coin,
		error)
}

var (
	// CoinSelectionOldest spends the outputs in ledger order: confirmed
	// outputs by block height, then unconfirmed outputs in the order they
	// were registered.
	CoinSelectionOldest CoinSelectionStrategy = &OldestFirstCoinSelector{}

	// CoinSelectionLargest always picks the largest available utxo to add
	// to the transaction next.
	CoinSelectionLargest CoinSelectionStrategy = &LargestFirstCoinSelector{}
)

// TxCreator provides an interface for creating transactions. Its primary
// role is to produce a fully-formed, unsigned transaction that can be passed
// to SignTransaction.
type TxCreator interface {
	// CreateTransaction creates a new, unsigned transaction based on the
	// provided intent.
	CreateTransaction(ctx context.Context, intent *TxIntent) (
		*txauthor.AuthoredTx, error)
}

// A compile time check to ensure that Wallet implements the interface.
var _ TxCreator = (*Wallet)(nil)

// TxIntent bundles the parameters of a transaction to create.
//
// Coins are selected automatically from the wallet's eligible outputs:
//
//	intent := &TxIntent{
//		Outputs: outputs,
//	}
//
// Setting UTXOs restricts the transaction to spend exactly the listed
// outputs:
//
//	intent := &TxIntent{
//		Outputs: outputs,
//		UTXOs:   []wire.OutPoint{...},
//	}
type TxIntent struct {
	// Outputs specifies the recipients and amounts for the transaction.
	// This field is required.
	Outputs []wire.TxOut

	// FeePerKb is the fee rate of the transaction. A zero rate selects
	// the wallet's configured rate.
	FeePerKb btcunit.SatPerKByte

	// Strategy orders the eligible outputs for coin selection. A nil
	// strategy selects the wallet's configured strategy.
	Strategy CoinSelectionStrategy

	// AllowUnverified makes outputs of unconfirmed transactions that are
	// not safe to accept eligible for selection.
	AllowUnverified bool

	// UTXOs, when set, is the exact list of outputs to spend. Coin
	// selection is skipped.
	UTXOs []wire.OutPoint

	// SubtractFee takes the fee out of the first output instead of adding
	// it on top of the outputs.
	SubtractFee bool
}

// validateOutPoints checks a slice of `wire.OutPoint`s for duplicate
// entries.
func validateOutPoints(outpoints []wire.OutPoint) error {
	seenUTXOs := make(map[wire.OutPoint]struct{})
	for _, utxo := range outpoints {
		if _, ok := seenUTXOs[utxo]; ok {
			return fmt.Errorf("%w: %v", ErrDuplicatedUtxo, utxo)
		}

		seenUTXOs[utxo] = struct{}{}
	}

	return nil
}

// validateTxIntent performs a series of checks on a TxIntent to ensure it is
// well-formed:
//   - The intent must have at least one output.
//   - Each output must not be a dust output at the fee rate.
//   - The listed UTXOs must not contain duplicates.
func validateTxIntent(intent *TxIntent, feePerKb btcunit.SatPerKByte) error {
	if len(intent.Outputs) == 0 {
		return ErrNoTxOutputs
	}

	for _, output := range intent.Outputs {
		err := txrules.CheckOutput(&output, feePerKb.Amount())
		if err != nil {
			return err
		}
	}

	return validateOutPoints(intent.UTXOs)
}

// FeeForTxSize returns the fee of a transaction of the given serialized size
// at the wallet's fee rate.
func (w *Wallet) FeeForTxSize(size btcunit.Bytes) btcutil.Amount {
	return w.cfg.FeePerKb.FeeForSize(size)
}

// MinOutputAmount returns the smallest output value that is not dust at the
// wallet's fee rate.
func (w *Wallet) MinOutputAmount() btcutil.Amount {
	return w.cfg.FeePerKb.DustThreshold()
}

// TransactionFor creates an unsigned transaction paying amount to addr. When
// includeFee is true the fee is paid on top of amount, otherwise it is
// deducted from it.
func (w *Wallet) TransactionFor(ctx context.Context, amount btcutil.Amount,
	addr btcutil.Address, includeFee bool) (*txauthor.AuthoredTx, error) {

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	return w.TransactionForAmounts(
		ctx, []btcutil.Amount{amount}, [][]byte{pkScript}, includeFee,
	)
}

// TransactionForAmounts creates an unsigned transaction paying amounts[i] to
// scripts[i]. When includeFee is false the fee is deducted from the first
// output.
func (w *Wallet) TransactionForAmounts(ctx context.Context,
	amounts []btcutil.Amount, scripts [][]byte,
	includeFee bool) (*txauthor.AuthoredTx, error) {

	if len(amounts) != len(scripts) {
		return nil, fmt.Errorf("%w: %d amounts, %d scripts",
			ErrOutputMismatch, len(amounts), len(scripts))
	}

	outputs := make([]wire.TxOut, 0, len(amounts))
	for i, amt := range amounts {
		outputs = append(outputs, wire.TxOut{
			Value:    int64(amt),
			PkScript: scripts[i],
		})
	}

	return w.CreateTransaction(ctx, &TxIntent{
		Outputs:     outputs,
		SubtractFee: !includeFee,
	})
}

// CreateTransaction creates a new unsigned transaction spending unspent
// outputs to the outputs of the intent. Change, when not dust, is paid to
// the first unused internal address and appended as the last output.
//
// This is part of the TxCreator interface.
func (w *Wallet) CreateTransaction(ctx context.Context, intent *TxIntent) (
	*txauthor.AuthoredTx, error) {

	// Check that the intent is not nil.
	if intent == nil {
		return nil, ErrNilTxIntent
	}

	feePerKb := intent.FeePerKb
	if feePerKb.Equal(btcunit.ZeroSatPerKByte) {
		feePerKb = w.cfg.FeePerKb
	}

	err := validateTxIntent(intent, feePerKb)
	if err != nil {
		return nil, err
	}

	// The write lock is taken since a change address may be derived.
	var tx *txauthor.AuthoredTx
	err = w.mutate(ctx, func(u *store.Update) error {
		inputSource, err := w.createInputSource(intent, feePerKb)
		if err != nil {
			return err
		}

		changeSource := w.changeSource(ctx, u)

		tx, err = authorTx(
			intent, feePerKb, inputSource, changeSource,
		)

		return err
	})
	if err != nil {
		return nil, err
	}

	log.Debugf("Created transaction %v spending %d inputs, fee %v",
		tx.Tx.TxHash(), len(tx.Tx.TxIn), newLogClosure(func() string {
			return (tx.TotalInput - sumOutputs(tx.Tx.TxOut)).String()
		}))

	return tx, nil
}

// changeSource returns a change source paying to the first unused internal
// address. Addresses derived for it are added to u. It must be called with
// the write lock held.
func (w *Wallet) changeSource(ctx context.Context,
	u *store.Update) *txauthor.ChangeSource {

	newChangeScript := func() ([]byte, error) {
		addrs, created, err := w.addrs.AddressesWithGapLimit(
			ctx, 1, true,
		)
		u.Addresses = append(u.Addresses, addrRecords(created)...)
		if err != nil {
			return nil, err
		}

		return addrs[0].PkScript, nil
	}

	return &txauthor.ChangeSource{
		ScriptSize: txsizes.P2PKHPkScriptSize,
		NewScript:  newChangeScript,
	}
}

// authorTx selects inputs from fetchInputs until they pay for the outputs
// and the fee of the estimated signed size. A change output is appended if
// the remainder is not dust, otherwise the remainder is left to the fee.
func authorTx(intent *TxIntent, feePerKb btcunit.SatPerKByte,
	fetchInputs txauthor.InputSource,
	fetchChange *txauthor.ChangeSource) (*txauthor.AuthoredTx, error) {

	outputs := make([]*wire.TxOut, 0, len(intent.Outputs))
	for i := range intent.Outputs {
		out := intent.Outputs[i]
		outputs = append(outputs, &out)
	}

	targetAmount := sumOutputs(outputs)
	targetFee := feePerKb.FeeForSize(
		btcunit.EstimateP2PKHTxSize(1, outputs, true),
	)

	for {
		need := targetAmount + targetFee
		if intent.SubtractFee {
			need = targetAmount
		}

		inputAmount, inputs, inputValues, scripts, err := fetchInputs(
			need,
		)
		if err != nil {
			return nil, err
		}
		if inputAmount < need {
			return nil, fmt.Errorf("%w: need %v, have %v",
				ErrInsufficientFunds, need, inputAmount)
		}

		maxRequiredFee := feePerKb.FeeForSize(
			btcunit.EstimateP2PKHTxSize(len(inputs), outputs, true),
		)
		if !intent.SubtractFee &&
			inputAmount-targetAmount < maxRequiredFee {

			targetFee = maxRequiredFee
			continue
		}

		changeAmount := inputAmount - targetAmount - maxRequiredFee
		if intent.SubtractFee {
			changeAmount = inputAmount - targetAmount

			first := outputs[0]
			first.Value -= int64(maxRequiredFee)
			err := txrules.CheckOutput(first, feePerKb.Amount())
			if err != nil {
				return nil, fmt.Errorf("%w: fee %v leaves first "+
					"output unspendable: %v",
					ErrInsufficientFunds, maxRequiredFee,
					err)
			}
		}

		unsignedTransaction := &wire.MsgTx{
			Version:  wire.TxVersion,
			TxIn:     inputs,
			TxOut:    outputs,
			LockTime: 0,
		}

		changeIndex := -1
		if changeAmount >= feePerKb.DustThreshold() && changeAmount > 0 {
			changeScript, err := fetchChange.NewScript()
			if err != nil {
				return nil, err
			}

			change := wire.NewTxOut(int64(changeAmount), changeScript)
			l := len(outputs)
			unsignedTransaction.TxOut = append(outputs[:l:l], change)
			changeIndex = l
		}

		return &txauthor.AuthoredTx{
			Tx:              unsignedTransaction,
			PrevScripts:     scripts,
			PrevInputValues: inputValues,
			TotalInput:      inputAmount,
			ChangeIndex:     changeIndex,
		}, nil
	}
}

// sumOutputs sums up the values of the outputs.
func sumOutputs(outputs []*wire.TxOut) btcutil.Amount {
	var total btcutil.Amount
	for _, out := range outputs {
		total += btcutil.Amount(out.Value)
	}

	return total
}

// createInputSource creates the txauthor.InputSource used to fund a
// transaction. It must be called with the ledger lock held.
func (w *Wallet) createInputSource(intent *TxIntent,
	feePerKb btcunit.SatPerKByte) (txauthor.InputSource, error) {

	// If the inputs are manually specified, we create a "constant" input
	// source that will only ever return the specified UTXOs.
	if len(intent.UTXOs) > 0 {
		return w.createManualInputSource(intent)
	}

	strategy := intent.Strategy
	if strategy == nil {
		strategy = w.cfg.CoinSelection
	}

	eligible := w.eligibleCoins(intent.AllowUnverified)

	arrangedCoins, err := strategy.ArrangeCoins(eligible, feePerKb)
	if err != nil {
		return nil, err
	}

	// Return an input source that will dispense the arranged coins one by
	// one as requested by the author loop.
	return makeInputSource(arrangedCoins), nil
}

// createManualInputSource creates an input source from the UTXOs listed in
// the intent, each of which must be an eligible wallet output.
func (w *Wallet) createManualInputSource(
	intent *TxIntent) (txauthor.InputSource, error) {

	eligible := make(map[wire.OutPoint]Coin)
	for _, coin := range w.eligibleCoins(intent.AllowUnverified) {
		eligible[coin.OutPoint] = coin
	}

	selected := make([]Coin, 0, len(intent.UTXOs))
	for _, outpoint := range intent.UTXOs {
		coin, ok := eligible[outpoint]
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrUtxoNotEligible,
				outpoint)
		}

		selected = append(selected, coin)
	}

	return constantInputSource(selected), nil
}

// eligibleCoins returns the unspent outputs that may be spent, in ledger
// order. Outputs of transactions that are not safe to accept unconfirmed are
// skipped unless allowUnverified is set.
func (w *Wallet) eligibleCoins(allowUnverified bool) []Coin {
	credits := w.txs.UnspentOutputs()

	eligible := make([]Coin, 0, len(credits))
	for _, credit := range credits {
		rec, err := w.txs.Tx(credit.Hash).UnwrapOrErr(
			wtxmgr.ErrTxNotFound,
		)
		if err != nil {
			continue
		}

		if !w.txs.IsValid(rec) {
			continue
		}

		if !allowUnverified && !w.txs.IsVerified(rec) {
			log.Tracef("Skipping output %v of unverified "+
				"transaction", credit.OutPoint)

			continue
		}

		eligible = append(eligible, Coin{
			TxOut: wire.TxOut{
				Value:    int64(credit.Amount),
				PkScript: credit.PkScript,
			},
			OutPoint: credit.OutPoint,
		})
	}

	return eligible
}

func makeInputSource(eligible []Coin) txauthor.InputSource {
	// Current inputs and their total value. These are closed over by the
	// returned input source and reused across multiple calls.
	currentTotal := btcutil.Amount(0)
	currentInputs := make([]*wire.TxIn, 0, len(eligible))
	currentScripts := make([][]byte, 0, len(eligible))
	currentInputValues := make([]btcutil.Amount, 0, len(eligible))

	return func(target btcutil.Amount) (btcutil.Amount, []*wire.TxIn,
		[]btcutil.Amount, [][]byte, error) {

		for currentTotal < target && len(eligible) != 0 {
			nextCredit := eligible[0]
			prevOut := nextCredit.TxOut
			outpoint := nextCredit.OutPoint
			eligible = eligible[1:]

			nextInput := wire.NewTxIn(&outpoint, nil, nil)
			currentTotal += btcutil.Amount(prevOut.Value)

			currentInputs = append(currentInputs, nextInput)
			currentScripts = append(
				currentScripts, prevOut.PkScript,
			)
			currentInputValues = append(
				currentInputValues,
				btcutil.Amount(prevOut.Value),
			)
		}

		return currentTotal, currentInputs, currentInputValues,
			currentScripts, nil
	}
}

// constantInputSource creates an input source function that always returns
// the static set of user-selected UTXOs.
func constantInputSource(selected []Coin) txauthor.InputSource {
	// Current inputs and their total value. These won't change over
	// different invocations as we want our inputs to remain static since
	// they're selected by the user.
	currentTotal := btcutil.Amount(0)
	currentInputs := make([]*wire.TxIn, 0, len(selected))
	currentScripts := make([][]byte, 0, len(selected))
	currentInputValues := make([]btcutil.Amount, 0, len(selected))

	for _, coin := range selected {
		nextInput := wire.NewTxIn(&coin.OutPoint, nil, nil)
		currentTotal += btcutil.Amount(coin.Value)

		currentInputs = append(currentInputs, nextInput)
		currentScripts = append(currentScripts, coin.PkScript)
		currentInputValues = append(
			currentInputValues, btcutil.Amount(coin.Value),
		)
	}

	return func(target btcutil.Amount) (btcutil.Amount, []*wire.TxIn,
		[]btcutil.Amount, [][]byte, error) {

		return currentTotal, currentInputs, currentInputValues,
			currentScripts, nil
	}
}

// sortByAmount is a generic sortable type for sorting coins by their amount.
type sortByAmount []Coin

func (s sortByAmount) Len() int { return len(s) }
func (s sortByAmount) Less(i, j int) bool {
	return s[i].Value < s[j].Value
}
func (s sortByAmount) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

// OldestFirstCoinSelector is an implementation of the CoinSelectionStrategy
// that keeps the coins in ledger order.
type OldestFirstCoinSelector struct{}

// ArrangeCoins returns the coins unchanged.
func (*OldestFirstCoinSelector) ArrangeCoins(eligible []Coin,
	_ btcunit.SatPerKByte) ([]Coin, error) {

	return eligible, nil
}

// LargestFirstCoinSelector is an implementation of the CoinSelectionStrategy
// that always selects the largest coins first. Coins of equal value keep
// their ledger order.
type LargestFirstCoinSelector struct{}

// ArrangeCoins takes a list of coins and arranges them according to the
// specified coin selection strategy and fee rate.
func (*LargestFirstCoinSelector) ArrangeCoins(eligible []Coin,
	_ btcunit.SatPerKByte) ([]Coin, error) {

	sort.Stable(sort.Reverse(sortByAmount(eligible)))

	return eligible, nil
}
