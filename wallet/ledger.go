// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/spvwallet/waddrmgr"
	"github.com/btcsuite/spvwallet/wallet/store"
	"github.com/btcsuite/spvwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// RegisterTransaction records tx if it pays to or spends from the wallet.
// It returns false without an error when tx is unrelated. Registering a
// transaction that is already recorded is a no-op returning true.
func (w *Wallet) RegisterTransaction(ctx context.Context, tx *wire.MsgTx,
	height int32, timestamp time.Time) (bool, error) {

	var added bool
	err := w.mutate(ctx, func(u *store.Update) error {
		rec := wtxmgr.NewTxRecordFromMsgTx(tx, height, timestamp)
		if w.txs.Contains(rec.Hash) {
			added = true
			return nil
		}

		var err error
		added, err = w.txs.Register(rec)
		if err != nil || !added {
			return err
		}

		w.markUsed(&rec.MsgTx)

		storeRec, err := txRecord(rec)
		if err != nil {
			return err
		}
		u.PutTxs = append(u.PutTxs, storeRec)
		w.ledgerUpdate(u)

		return nil
	})
	if err != nil {
		return false, err
	}

	return added, nil
}

// RemoveTransaction removes the transaction with the given hash together
// with every recorded transaction spending from it, and returns the hashes
// of all removed transactions.
func (w *Wallet) RemoveTransaction(ctx context.Context,
	hash chainhash.Hash) ([]chainhash.Hash, error) {

	var removed []chainhash.Hash
	err := w.mutate(ctx, func(u *store.Update) error {
		var err error
		removed, err = w.txs.Remove(hash)
		if err != nil {
			return err
		}

		u.DeleteTxs = append(u.DeleteTxs, removed...)
		w.ledgerUpdate(u)

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Removed %d transactions starting at %v", len(removed), hash)

	return removed, nil
}

// SetBlockHeight applies a block height and timestamp to the recorded
// transactions in hashes. Unknown hashes are skipped. Passing
// wtxmgr.TxUnconfirmed with a zero timestamp marks the transactions as not
// safe to accept unconfirmed.
func (w *Wallet) SetBlockHeight(ctx context.Context, height int32,
	timestamp time.Time, hashes []chainhash.Hash) error {

	return w.mutate(ctx, func(u *store.Update) error {
		updated := w.txs.SetBlockHeight(height, timestamp, hashes)
		if err := w.putTxs(u, updated); err != nil {
			return err
		}
		w.ledgerUpdate(u)

		return nil
	})
}

// SetTxUnconfirmedAfter marks every transaction confirmed above height as
// unconfirmed and makes height the best known block.
func (w *Wallet) SetTxUnconfirmedAfter(ctx context.Context,
	height int32) error {

	return w.mutate(ctx, func(u *store.Update) error {
		updated := w.txs.SetUnconfirmedAfter(height)
		if err := w.putTxs(u, updated); err != nil {
			return err
		}
		w.ledgerUpdate(u)

		if len(updated) > 0 {
			log.Infof("Unconfirmed %d transactions above height %d",
				len(updated), height)
		}

		return nil
	})
}

// SetBestHeight records the height of the best known block. A lower height
// than the current one is ignored.
func (w *Wallet) SetBestHeight(ctx context.Context, height int32) error {
	return w.mutate(ctx, func(u *store.Update) error {
		if height <= w.txs.BestHeight() {
			return nil
		}

		w.txs.SetBestHeight(height)
		u.BestHeight = fn.Some(height)

		return nil
	})
}

// putTxs adds the current records of hashes to u. It must be called with
// the write lock held.
func (w *Wallet) putTxs(u *store.Update, hashes []chainhash.Hash) error {
	for _, hash := range hashes {
		rec, err := w.txs.Tx(hash).UnwrapOrErr(wtxmgr.ErrTxNotFound)
		if err != nil {
			return err
		}

		storeRec, err := txRecord(rec)
		if err != nil {
			return err
		}
		u.PutTxs = append(u.PutTxs, storeRec)
	}

	return nil
}

// AddressesWithGapLimit returns gap consecutive addresses directly after the
// last used address of the internal or external chain, deriving and
// persisting new addresses as needed.
func (w *Wallet) AddressesWithGapLimit(ctx context.Context, gap uint32,
	internal bool) ([]*waddrmgr.ManagedAddress, error) {

	var addrs []*waddrmgr.ManagedAddress
	err := w.mutate(ctx, func(u *store.Update) error {
		result, created, err := w.addrs.AddressesWithGapLimit(
			ctx, gap, internal,
		)

		// Addresses derived before a failure are part of the chain
		// already, so they are persisted either way.
		u.Addresses = append(u.Addresses, addrRecords(created)...)
		if err != nil {
			return err
		}
		addrs = result

		return nil
	})
	if err != nil {
		return nil, err
	}

	return addrs, nil
}

// ReceiveAddress returns the first unused external address.
func (w *Wallet) ReceiveAddress(
	ctx context.Context) (*waddrmgr.ManagedAddress, error) {

	return w.firstUnused(ctx, false)
}

// ChangeAddress returns the first unused internal address.
func (w *Wallet) ChangeAddress(
	ctx context.Context) (*waddrmgr.ManagedAddress, error) {

	return w.firstUnused(ctx, true)
}

func (w *Wallet) firstUnused(ctx context.Context,
	internal bool) (*waddrmgr.ManagedAddress, error) {

	addrs, err := w.AddressesWithGapLimit(ctx, 1, internal)
	if err != nil {
		return nil, err
	}

	return addrs[0], nil
}

// topUpAddresses keeps GapLimit unused addresses ahead of both chains.
func (w *Wallet) topUpAddresses(ctx context.Context) error {
	for _, internal := range []bool{false, true} {
		_, err := w.AddressesWithGapLimit(ctx, w.cfg.GapLimit, internal)
		if err != nil {
			return fmt.Errorf("unable to extend address chain: %w",
				err)
		}
	}

	return nil
}

// Balance returns the sum of the unspent outputs of valid transactions.
func (w *Wallet) Balance() btcutil.Amount {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.txs.Balance()
}

// TotalSent returns the total amount spent from the wallet.
func (w *Wallet) TotalSent() btcutil.Amount {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.txs.TotalSent()
}

// TotalReceived returns the total amount received by the wallet.
func (w *Wallet) TotalReceived() btcutil.Amount {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.txs.TotalReceived()
}

// BestHeight returns the height of the best known block.
func (w *Wallet) BestHeight() int32 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.txs.BestHeight()
}

// UnspentOutputs returns the unspent wallet outputs in ledger order.
func (w *Wallet) UnspentOutputs() []wtxmgr.Credit {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.txs.UnspentOutputs()
}

// RecentTransactions returns copies of the recorded transactions, newest
// first.
func (w *Wallet) RecentTransactions() []*wtxmgr.TxRecord {
	w.mu.RLock()
	defer w.mu.RUnlock()

	recs := w.txs.RecentTransactions()
	copies := make([]*wtxmgr.TxRecord, 0, len(recs))
	for _, rec := range recs {
		copies = append(copies, copyRecord(rec))
	}

	return copies
}

// ContainsTransaction reports whether a transaction is recorded.
func (w *Wallet) ContainsTransaction(hash chainhash.Hash) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.txs.Contains(hash)
}

// TransactionForHash returns a copy of the recorded transaction with the
// given hash.
func (w *Wallet) TransactionForHash(
	hash chainhash.Hash) fn.Option[*wtxmgr.TxRecord] {

	w.mu.RLock()
	defer w.mu.RUnlock()

	return fn.MapOption(copyRecord)(w.txs.Tx(hash))
}

func copyRecord(rec *wtxmgr.TxRecord) *wtxmgr.TxRecord {
	return &wtxmgr.TxRecord{
		MsgTx:       *rec.MsgTx.Copy(),
		Hash:        rec.Hash,
		BlockHeight: rec.BlockHeight,
		Timestamp:   rec.Timestamp,
	}
}

// AmountReceivedFromTx returns the value of the outputs of tx paying to the
// wallet.
func (w *Wallet) AmountReceivedFromTx(tx *wire.MsgTx) btcutil.Amount {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.txs.AmountReceived(tx)
}

// AmountSentByTx returns the value of the wallet outputs spent by tx.
func (w *Wallet) AmountSentByTx(tx *wire.MsgTx) btcutil.Amount {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.txs.AmountSent(tx)
}

// FeeForTransaction returns the fee paid by tx, or None when an input spends
// a transaction that is not recorded.
func (w *Wallet) FeeForTransaction(tx *wire.MsgTx) fn.Option[btcutil.Amount] {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.txs.Fee(tx)
}

// BalanceAfterTransaction returns the wallet balance right after the
// recorded transaction with the given hash, in ledger order.
func (w *Wallet) BalanceAfterTransaction(
	hash chainhash.Hash) fn.Option[btcutil.Amount] {

	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.txs.BalanceAfter(hash)
}

// BlockHeightUntilFree returns the block height at which tx qualifies for
// a zero fee relay, or wtxmgr.TxUnconfirmed if it never does.
func (w *Wallet) BlockHeightUntilFree(tx *wire.MsgTx) int32 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.txs.BlockHeightUntilFree(tx)
}

// TransactionIsValid reports whether tx can still confirm given the recorded
// transactions. A transaction that is not recorded is judged as if it were
// an unconfirmed one.
func (w *Wallet) TransactionIsValid(tx *wire.MsgTx) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.txs.IsValid(w.lookupRecord(tx))
}

// TransactionIsVerified reports whether tx is safe to accept unconfirmed.
func (w *Wallet) TransactionIsVerified(tx *wire.MsgTx) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.txs.IsVerified(w.lookupRecord(tx))
}

// TransactionIsPostdated reports whether tx cannot be final in the block
// after height or within the next ten minutes.
func (w *Wallet) TransactionIsPostdated(tx *wire.MsgTx, height int32) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.txs.IsPostdated(w.lookupRecord(tx), height)
}

// lookupRecord returns the recorded version of tx, or an unconfirmed record
// without a timestamp when tx is not recorded.
func (w *Wallet) lookupRecord(tx *wire.MsgTx) *wtxmgr.TxRecord {
	hash := tx.TxHash()

	return w.txs.Tx(hash).UnwrapOrFunc(func() *wtxmgr.TxRecord {
		return wtxmgr.NewTxRecordFromMsgTx(
			tx, wtxmgr.TxUnconfirmed, time.Time{},
		)
	})
}

// ContainsAddress reports whether addr is a derived wallet address.
func (w *Wallet) ContainsAddress(addr btcutil.Address) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.addrs.ContainsAddress(addr)
}

// AddressIsUsed reports whether addr appears in a recorded transaction.
func (w *Wallet) AddressIsUsed(addr btcutil.Address) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.addrs.IsUsed(addr)
}

// Addresses returns every derived address, external chain first.
func (w *Wallet) Addresses() []*waddrmgr.ManagedAddress {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.addrs.Addresses()
}
