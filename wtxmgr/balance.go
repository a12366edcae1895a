// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"math/bits"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// txFreeMaxSize is the largest transaction that may relay without a
	// fee.
	txFreeMaxSize = 1000

	// txFreeMinPriority is the priority a transaction needs to relay
	// without a fee.
	txFreeMinPriority = 57600000

	// txFreeMinOutput is the smallest output a free transaction may
	// create.
	txFreeMinOutput = 1000000
)

// recompute rebuilds the derived state by replaying the recorded
// transactions in ledger order.
func (s *Store) recompute() {
	s.sortTxs()

	var (
		balance, prevBalance btcutil.Amount
		sent, received       btcutil.Amount

		utxos   []wire.OutPoint
		spent   = make(map[wire.OutPoint]chainhash.Hash)
		invalid = fn.NewSet[chainhash.Hash]()
		hist    = make(map[chainhash.Hash]btcutil.Amount, len(s.ordered))
	)

	for _, rec := range s.ordered {
		// Only unconfirmed transactions can be invalid: they conflict
		// with an earlier valid spend, or spend an invalid parent.
		if !rec.Confirmed() && conflicts(rec, spent, invalid) {
			log.Debugf("Transaction %v is invalid", rec.Hash)

			invalid.Add(rec.Hash)
			hist[rec.Hash] = balance

			continue
		}

		for _, in := range rec.MsgTx.TxIn {
			spent[in.PreviousOutPoint] = rec.Hash
		}

		for i, out := range rec.MsgTx.TxOut {
			if !s.cfg.Filter.IsOwnedScript(out.PkScript) {
				continue
			}

			utxos = append(utxos, wire.OutPoint{
				Hash:  rec.Hash,
				Index: uint32(i),
			})
			balance += btcutil.Amount(out.Value)
		}

		// Ledger order puts spenders after their parents, but a
		// transaction may be recorded before the one it double spends
		// confirms, so check the whole set.
		kept := utxos[:0]
		for _, op := range utxos {
			if _, ok := spent[op]; ok {
				balance -= s.outputValue(op)
				continue
			}
			kept = append(kept, op)
		}
		utxos = kept

		if balance > prevBalance {
			received += balance - prevBalance
		}
		if balance < prevBalance {
			sent += prevBalance - balance
		}

		hist[rec.Hash] = balance
		prevBalance = balance
	}

	s.utxos = utxos
	s.spent = spent
	s.invalid = invalid
	s.balance = balance
	s.balanceHist = hist
	s.totalSent = sent
	s.totalReceived = received
}

// conflicts reports whether rec double spends an output already spent by a
// valid transaction or spends an output of an invalid one.
func conflicts(rec *TxRecord, spent map[wire.OutPoint]chainhash.Hash,
	invalid fn.Set[chainhash.Hash]) bool {

	for _, in := range rec.MsgTx.TxIn {
		if _, ok := spent[in.PreviousOutPoint]; ok {
			return true
		}
		if invalid.Contains(in.PreviousOutPoint.Hash) {
			return true
		}
	}

	return false
}

// outputValue returns the value of a recorded output.
func (s *Store) outputValue(op wire.OutPoint) btcutil.Amount {
	return btcutil.Amount(s.txs[op.Hash].MsgTx.TxOut[op.Index].Value)
}

// Balance returns the sum of all unspent wallet outputs of valid
// transactions.
func (s *Store) Balance() btcutil.Amount {
	return s.balance
}

// TotalSent returns the total amount spent from the wallet.
func (s *Store) TotalSent() btcutil.Amount {
	return s.totalSent
}

// TotalReceived returns the total amount received by the wallet.
func (s *Store) TotalReceived() btcutil.Amount {
	return s.totalReceived
}

// UnspentOutputs returns the unspent wallet outputs in ledger order.
func (s *Store) UnspentOutputs() []Credit {
	credits := make([]Credit, 0, len(s.utxos))
	for _, op := range s.utxos {
		rec := s.txs[op.Hash]
		out := rec.MsgTx.TxOut[op.Index]

		credits = append(credits, Credit{
			OutPoint:    op,
			Amount:      btcutil.Amount(out.Value),
			PkScript:    out.PkScript,
			BlockHeight: rec.BlockHeight,
			Received:    rec.Timestamp,
		})
	}

	return credits
}

// IsSpent reports whether a valid recorded transaction spends op.
func (s *Store) IsSpent(op wire.OutPoint) bool {
	_, ok := s.spent[op]
	return ok
}

// AmountReceived returns the total value of the outputs of tx that pay to
// the wallet.
func (s *Store) AmountReceived(tx *wire.MsgTx) btcutil.Amount {
	var amount btcutil.Amount
	for _, out := range tx.TxOut {
		if s.cfg.Filter.IsOwnedScript(out.PkScript) {
			amount += btcutil.Amount(out.Value)
		}
	}

	return amount
}

// AmountSent returns the total value of the wallet outputs spent by tx.
func (s *Store) AmountSent(tx *wire.MsgTx) btcutil.Amount {
	var amount btcutil.Amount
	for _, in := range tx.TxIn {
		s.PrevOutput(in.PreviousOutPoint).WhenSome(func(o *wire.TxOut) {
			amount += btcutil.Amount(o.Value)
		})
	}

	return amount
}

// Fee returns the fee paid by tx. The fee is unknown unless every input
// spends an output of a recorded transaction.
func (s *Store) Fee(tx *wire.MsgTx) fn.Option[btcutil.Amount] {
	var fee btcutil.Amount
	for _, in := range tx.TxIn {
		op := in.PreviousOutPoint

		rec, ok := s.txs[op.Hash]
		if !ok || op.Index >= uint32(len(rec.MsgTx.TxOut)) {
			return fn.None[btcutil.Amount]()
		}

		fee += btcutil.Amount(rec.MsgTx.TxOut[op.Index].Value)
	}

	for _, out := range tx.TxOut {
		fee -= btcutil.Amount(out.Value)
	}

	return fn.Some(fee)
}

// BalanceAfter returns the wallet balance right after the recorded
// transaction was applied in ledger order.
func (s *Store) BalanceAfter(hash chainhash.Hash) fn.Option[btcutil.Amount] {
	balance, ok := s.balanceHist[hash]
	if !ok {
		return fn.None[btcutil.Amount]()
	}

	return fn.Some(balance)
}

// BlockHeightUntilFree returns the block height at which tx gains enough
// priority to relay without a fee, or TxUnconfirmed if it never will.
func (s *Store) BlockHeightUntilFree(tx *wire.MsgTx) int32 {
	if tx.SerializeSize() > txFreeMaxSize {
		return TxUnconfirmed
	}

	for _, out := range tx.TxOut {
		if out.Value < txFreeMinOutput {
			return TxUnconfirmed
		}
	}

	var total, byHeight uint64
	for _, in := range tx.TxIn {
		op := in.PreviousOutPoint

		rec, ok := s.txs[op.Hash]
		if !ok || !rec.Confirmed() ||
			op.Index >= uint32(len(rec.MsgTx.TxOut)) {

			return TxUnconfirmed
		}

		amount := uint64(rec.MsgTx.TxOut[op.Index].Value)
		hi, lo := bits.Mul64(amount, uint64(rec.BlockHeight))
		if hi != 0 {
			return TxUnconfirmed
		}

		total += amount
		byHeight += lo
	}

	if total == 0 {
		return TxUnconfirmed
	}

	size := uint64(tx.SerializeSize())
	height := (txFreeMinPriority*size + byHeight + total - 1) / total
	if height >= uint64(TxUnconfirmed) {
		return TxUnconfirmed
	}

	return int32(height)
}
