// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// maxLockTimeDrift is how far in the future a time based lock time may lie
// and still be considered final now.
const maxLockTimeDrift = 10 * time.Minute

// Remove removes a recorded transaction and, recursively, every recorded
// transaction spending one of its outputs. Outputs the removed transactions
// consumed become unspent again unless a remaining transaction still spends
// them. The hashes of all removed transactions are returned, spenders
// first.
func (s *Store) Remove(hash chainhash.Hash) ([]chainhash.Hash, error) {
	rec, ok := s.txs[hash]
	if !ok {
		return nil, ErrTxNotFound
	}

	var removed []chainhash.Hash
	s.removeConflict(rec, &removed)
	s.recompute()

	return removed, nil
}

// removeConflict removes a transaction record and all spend chains deriving
// from it from the store.
func (s *Store) removeConflict(rec *TxRecord, removed *[]chainhash.Hash) {
	// For each output of this record, each spender (if any) must be
	// recursively removed as well. The spender may already be gone when it
	// spends multiple outputs of this transaction.
	for _, spender := range s.ordered {
		if _, ok := s.txs[spender.Hash]; !ok {
			continue
		}
		if spender.Hash == rec.Hash || !spends(spender, rec.Hash) {
			continue
		}

		log.Debugf("Transaction %v is part of a removed chain -- "+
			"removing as well", spender.Hash)

		s.removeConflict(spender, removed)
	}

	delete(s.txs, rec.Hash)
	delete(s.seq, rec.Hash)
	*removed = append(*removed, rec.Hash)

	log.Infof("Removed transaction %v", rec.Hash)
}

// spends reports whether rec has an input spending an output of hash.
func spends(rec *TxRecord, hash chainhash.Hash) bool {
	for _, in := range rec.MsgTx.TxIn {
		if in.PreviousOutPoint.Hash == hash {
			return true
		}
	}

	return false
}

// IsValid reports whether a transaction can still confirm given the
// recorded history. Confirmed transactions are always valid. An unconfirmed
// transaction is invalid when an earlier valid transaction already spends
// one of its inputs, or when it spends from an invalid transaction.
//
// The record does not need to be recorded in the store.
func (s *Store) IsValid(rec *TxRecord) bool {
	if rec.Confirmed() {
		return true
	}

	if _, ok := s.txs[rec.Hash]; ok {
		if s.invalid.Contains(rec.Hash) {
			return false
		}
	} else {
		for _, in := range rec.MsgTx.TxIn {
			_, ok := s.spent[in.PreviousOutPoint]
			if ok {
				return false
			}
		}
	}

	for _, in := range rec.MsgTx.TxIn {
		parent, ok := s.txs[in.PreviousOutPoint.Hash]
		if ok && !s.IsValid(parent) {
			return false
		}
	}

	return true
}

// IsPostdated reports whether a transaction cannot be final in the block
// after height, nor within the next ten minutes. A transaction confirmed
// above height is always postdated.
func (s *Store) IsPostdated(rec *TxRecord, height int32) bool {
	if rec.Confirmed() && rec.BlockHeight > height {
		return true
	}

	lockTime := int64(rec.MsgTx.LockTime)
	if lockTime <= int64(height)+1 {
		return false
	}

	if lockTime >= txscript.LockTimeThreshold &&
		lockTime < s.cfg.Clock.Now().Add(maxLockTimeDrift).Unix() {

		return false
	}

	// The lock time is ignored when every input is final.
	for _, in := range rec.MsgTx.TxIn {
		if in.Sequence < wire.MaxTxInSequenceNum {
			return true
		}
	}

	return false
}

// IsVerified reports whether an unconfirmed transaction is safe to accept
// before it confirms. Confirmed transactions are always verified.
func (s *Store) IsVerified(rec *TxRecord) bool {
	return s.isVerified(rec, make(map[chainhash.Hash]bool))
}

func (s *Store) isVerified(rec *TxRecord,
	memo map[chainhash.Hash]bool) bool {

	if rec.Confirmed() {
		return true
	}

	if verified, ok := memo[rec.Hash]; ok {
		return verified
	}

	verified := s.checkUnconfirmed(rec)
	if verified {
		// Every recorded ancestor must be verified as well. Inputs
		// spending unknown transactions are not checked.
		for _, in := range rec.MsgTx.TxIn {
			parent, ok := s.txs[in.PreviousOutPoint.Hash]
			if ok && !s.isVerified(parent, memo) {
				verified = false
				break
			}
		}
	}

	memo[rec.Hash] = verified

	return verified
}

// checkUnconfirmed applies the non-recursive verification rules to an
// unconfirmed transaction.
func (s *Store) checkUnconfirmed(rec *TxRecord) bool {
	switch {
	case rec.Timestamp.IsZero():
		return false

	case !s.IsValid(rec):
		return false

	case s.IsPostdated(rec, s.bestHeight):
		return false

	case rec.MsgTx.SerializeSize() > MaxTxSize:
		return false
	}

	// No input may signal replacement or a pending lock time.
	for _, in := range rec.MsgTx.TxIn {
		if in.Sequence < wire.MaxTxInSequenceNum {
			return false
		}
	}

	for _, out := range rec.MsgTx.TxOut {
		if out.Value < int64(s.cfg.DustThreshold) {
			return false
		}
	}

	return true
}
