// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet provides the ledger of a single-seed P2PKH wallet: it tracks
// the wallet addresses, transactions and unspent outputs, builds and signs
// transactions and keeps its records in a store collaborator.
package wallet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/spvwallet/keyseq"
	"github.com/btcsuite/spvwallet/waddrmgr"
	"github.com/btcsuite/spvwallet/wallet/store"
	"github.com/btcsuite/spvwallet/wtxmgr"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/queue"
)

var (
	// ErrLoadMismatch is returned when a persisted record does not fit the
	// wallet it is loaded into.
	ErrLoadMismatch = errors.New("persisted record does not match wallet")
)

// Wallet is the ledger of a single-seed wallet.
//
// Every ledger mutation takes the write lock, every query the read lock. The
// address manager and transaction store are only touched under that lock.
type Wallet struct {
	cfg Config

	seq *keyseq.Sequence
	mpk keyseq.MasterPubKey

	// mu guards addrs, txs and writeBehind.
	mu    sync.RWMutex
	addrs *waddrmgr.Manager
	txs   *wtxmgr.Store

	// writeBehind is true while store updates go through the updates
	// queue. A new queue is created on every Start.
	writeBehind bool
	updates     *queue.ConcurrentQueue

	ntfns *balanceNotifier

	state walletState

	// lifetimeCtx governs the background goroutines. It is canceled by
	// Stop.
	lifetimeCtx context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a wallet and loads its records from the configured store.
func New(ctx context.Context, cfg Config) (*Wallet, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	mpk, err := keyseq.ParseMasterPubKey(cfg.MasterPubKey)
	if err != nil {
		return nil, err
	}

	seq := keyseq.New(cfg.ChainParams)
	addrs := waddrmgr.New(seq, mpk)

	w := &Wallet{
		cfg:   cfg,
		seq:   seq,
		mpk:   mpk,
		addrs: addrs,
		txs: wtxmgr.New(wtxmgr.Config{
			Filter:        addrs,
			Clock:         cfg.Clock,
			DustThreshold: cfg.FeePerKb.DustThreshold(),
		}),
		ntfns: newBalanceNotifier(),
	}

	if err := w.load(ctx); err != nil {
		return nil, fmt.Errorf("unable to load wallet: %w", err)
	}

	return w, nil
}

// load restores the ledger from the store.
func (w *Wallet) load(ctx context.Context) error {
	snap, err := w.cfg.Store.Load(ctx)
	if err != nil {
		return err
	}

	for _, a := range snap.Addresses {
		err := w.addrs.Restore(a.PubKey, a.Internal, a.Index)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLoadMismatch, err)
		}
	}

	pending := make([]*wtxmgr.TxRecord, 0, len(snap.Txs))
	for _, rec := range snap.Txs {
		txRec, err := wtxmgr.NewTxRecord(
			rec.RawTx, rec.BlockHeight, rec.Timestamp,
		)
		if err != nil {
			return err
		}
		if txRec.Hash != rec.Hash {
			return fmt.Errorf("%w: transaction %v stored as %v",
				ErrLoadMismatch, txRec.Hash, rec.Hash)
		}
		pending = append(pending, txRec)
	}

	// A transaction that only spends wallet outputs is associated once its
	// parent is registered. Stored order normally puts parents first, but
	// retry until a pass registers nothing so a child stored ahead of its
	// parent is not lost.
	for len(pending) > 0 {
		var deferred []*wtxmgr.TxRecord
		for _, txRec := range pending {
			added, err := w.txs.Register(txRec)
			if err != nil {
				return err
			}
			if !added {
				deferred = append(deferred, txRec)
				continue
			}
			w.markUsed(&txRec.MsgTx)
		}

		if len(deferred) == len(pending) {
			break
		}
		pending = deferred
	}

	for _, txRec := range pending {
		log.Warnf("Dropping persisted transaction %v: no longer "+
			"associated with the wallet", txRec.Hash)
	}

	if snap.BestHeight > w.txs.BestHeight() {
		w.txs.SetBestHeight(snap.BestHeight)
	}

	if !sameOutPoints(snap.Unspent, w.txs.UnspentOutputs()) {
		log.Warnf("Persisted unspent set differs from the ledger, "+
			"%d persisted vs %d rebuilt", len(snap.Unspent),
			len(w.txs.UnspentOutputs()))
	}

	log.Infof("Loaded wallet with %d addresses and %d transactions, "+
		"balance %v", len(w.addrs.Addresses()),
		len(w.txs.Transactions()), w.txs.Balance())

	return nil
}

// sameOutPoints reports whether ops lists exactly the outpoints of credits.
func sameOutPoints(ops []wire.OutPoint, credits []wtxmgr.Credit) bool {
	if len(ops) != len(credits) {
		return false
	}

	set := make(map[wire.OutPoint]struct{}, len(ops))
	for _, op := range ops {
		set[op] = struct{}{}
	}
	for _, c := range credits {
		if _, ok := set[c.OutPoint]; !ok {
			return false
		}
	}

	return true
}

// mutate runs f under the write lock, persists the update f fills in and
// notifies balance subscribers once the lock is released.
func (w *Wallet) mutate(ctx context.Context,
	f func(u *store.Update) error) error {

	w.mu.Lock()

	before := w.txs.Balance()

	// f records only changes it already applied to the ledger, so u is
	// persisted even when f fails part way.
	u := &store.Update{}
	err := f(u)
	if persistErr := w.persist(ctx, u); err == nil {
		err = persistErr
	}

	after := w.txs.Balance()

	w.mu.Unlock()

	if after != before {
		w.ntfns.notify(BalanceUpdate{Old: before, New: after})
	}

	return err
}

// ledgerUpdate records the derived ledger state in u. It must be called
// with the write lock held.
func (w *Wallet) ledgerUpdate(u *store.Update) {
	credits := w.txs.UnspentOutputs()

	ops := make([]wire.OutPoint, 0, len(credits))
	for _, c := range credits {
		ops = append(ops, c.OutPoint)
	}

	u.Unspent = fn.Some(ops)
	u.BestHeight = fn.Some(w.txs.BestHeight())
}

// txRecord converts a ledger record into a store record.
func txRecord(rec *wtxmgr.TxRecord) (store.TxRecord, error) {
	var b bytes.Buffer
	if err := rec.MsgTx.Serialize(&b); err != nil {
		return store.TxRecord{}, err
	}

	return store.TxRecord{
		Hash:        rec.Hash,
		RawTx:       b.Bytes(),
		BlockHeight: rec.BlockHeight,
		Timestamp:   rec.Timestamp,
	}, nil
}

// addrRecords converts managed addresses into store records.
func addrRecords(addrs []*waddrmgr.ManagedAddress) []store.AddressRecord {
	recs := make([]store.AddressRecord, 0, len(addrs))
	for _, a := range addrs {
		recs = append(recs, store.AddressRecord{
			PubKey:   a.PubKey,
			Internal: a.Internal,
			Index:    a.Index,
		})
	}

	return recs
}

// markUsed tags every wallet address an output of tx pays to or an input of
// tx spends from. It must be called with the write lock held.
func (w *Wallet) markUsed(tx *wire.MsgTx) {
	for _, out := range tx.TxOut {
		w.addrs.AddressForScript(out.PkScript).WhenSome(
			w.addrs.MarkUsed,
		)
	}

	for _, in := range tx.TxIn {
		prev := w.txs.PrevOutput(in.PreviousOutPoint)
		if prev.IsSome() {
			prev.WhenSome(func(out *wire.TxOut) {
				w.addrs.AddressForScript(out.PkScript).WhenSome(
					w.addrs.MarkUsed,
				)
			})

			continue
		}

		w.addrs.AddressForInput(in).WhenSome(w.addrs.MarkUsed)
	}

	log.Tracef("Marked addresses of %v", newLogClosure(func() string {
		return spew.Sdump(tx)
	}))
}
