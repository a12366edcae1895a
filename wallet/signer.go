// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/spvwallet/waddrmgr"
)

var (
	// ErrSeedUnavailable is returned when signing is requested from a
	// watch-only wallet or the seed callback declines the request.
	ErrSeedUnavailable = errors.New("seed unavailable")
)

// signJob is an input of a transaction spending a wallet output.
type signJob struct {
	inputIndex int
	pkScript   []byte
	internal   bool
	index      uint32
}

// SignTransaction signs every input of tx that spends a wallet output. The
// seed callback is asked for the seed with prompt and the amount tx sends
// away from the wallet; the ledger lock is not held while it runs. tx is left
// untouched when the seed is unavailable or ctx is canceled.
//
// It returns true when every input of tx carries a signature script.
func (w *Wallet) SignTransaction(ctx context.Context, tx *wire.MsgTx,
	prompt string) (bool, error) {

	jobs, amount := w.signJobs(tx)

	if len(jobs) > 0 {
		err := w.signInputs(ctx, tx, jobs, prompt, amount)
		if err != nil {
			return false, err
		}
	}

	for _, in := range tx.TxIn {
		if len(in.SignatureScript) == 0 {
			return false, nil
		}
	}

	return true, nil
}

// signJobs resolves the inputs of tx spending wallet outputs and the amount
// tx sends away from the wallet.
func (w *Wallet) signJobs(tx *wire.MsgTx) ([]signJob, btcutil.Amount) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var jobs []signJob
	for i, in := range tx.TxIn {
		prevOut, err := w.txs.PrevOutput(in.PreviousOutPoint).UnwrapOrErr(
			waddrmgr.ErrAddressNotFound,
		)
		if err != nil {
			log.Debugf("Input %d of %v spends %v, not a wallet "+
				"output", i, tx.TxHash(), in.PreviousOutPoint)

			continue
		}

		w.addrs.AddressForScript(prevOut.PkScript).WhenSome(
			func(a *waddrmgr.ManagedAddress) {
				jobs = append(jobs, signJob{
					inputIndex: i,
					pkScript:   prevOut.PkScript,
					internal:   a.Internal,
					index:      a.Index,
				})
			},
		)
	}

	amount := w.txs.AmountSent(tx) - w.txs.AmountReceived(tx)
	if amount < 0 {
		amount = 0
	}

	return jobs, amount
}

// signInputs asks for the seed, derives the keys of the jobs and copies the
// signature scripts into tx once every job is signed.
func (w *Wallet) signInputs(ctx context.Context, tx *wire.MsgTx,
	jobs []signJob, prompt string, amount btcutil.Amount) error {

	if w.cfg.Seed == nil {
		return fmt.Errorf("%w: watch-only wallet", ErrSeedUnavailable)
	}

	done := w.state.beginSigning()
	seed, err := w.cfg.Seed(ctx, prompt, amount)
	done()
	defer zero(seed)

	if err != nil {
		return fmt.Errorf("%w: %v", ErrSeedUnavailable, err)
	}
	if len(seed) == 0 {
		return ErrSeedUnavailable
	}

	var external, internal []uint32
	for _, job := range jobs {
		if job.internal {
			internal = append(internal, job.index)
		} else {
			external = append(external, job.index)
		}
	}

	keys, err := w.seq.PrivKeysForPaths(seed, external, internal)
	if err != nil {
		return fmt.Errorf("unable to derive signing keys: %w", err)
	}
	defer func() {
		for _, key := range keys {
			key.Zero()
		}
	}()

	// Keys are returned external first, in job order within each chain.
	extKeys, intKeys := keys[:len(external)], keys[len(external):]

	signed := tx.Copy()
	for _, job := range jobs {
		var key *btcec.PrivateKey
		if job.internal {
			key, intKeys = intKeys[0], intKeys[1:]
		} else {
			key, extKeys = extKeys[0], extKeys[1:]
		}

		sigScript, err := txscript.SignatureScript(
			signed, job.inputIndex, job.pkScript,
			txscript.SigHashAll, key, true,
		)
		if err != nil {
			return fmt.Errorf("unable to sign input %d: %w",
				job.inputIndex, err)
		}
		signed.TxIn[job.inputIndex].SignatureScript = sigScript
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	for _, job := range jobs {
		tx.TxIn[job.inputIndex].SignatureScript =
			signed.TxIn[job.inputIndex].SignatureScript
	}

	log.Infof("Signed %d inputs of %v", len(jobs), tx.TxHash())

	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
