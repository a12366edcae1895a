// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// AddrFilter decides whether an output script pays to the wallet.
type AddrFilter interface {
	// IsOwnedScript reports whether pkScript pays to a wallet address.
	IsOwnedScript(pkScript []byte) bool
}

// TxStore is an interface that describes a transaction store.
type TxStore interface {
	// Register records an associated transaction.
	Register(rec *TxRecord) (bool, error)

	// Remove removes a transaction and everything spending from it.
	Remove(hash chainhash.Hash) ([]chainhash.Hash, error)

	// SetBlockHeight updates the confirmation data of transactions.
	SetBlockHeight(height int32, timestamp time.Time,
		hashes []chainhash.Hash) []chainhash.Hash

	// SetUnconfirmedAfter unconfirms transactions above height.
	SetUnconfirmedAfter(height int32) []chainhash.Hash

	// SetBestHeight records the best known block height.
	SetBestHeight(height int32)

	// BestHeight returns the best known block height.
	BestHeight() int32

	// Contains reports whether a transaction is recorded.
	Contains(hash chainhash.Hash) bool

	// Tx returns a recorded transaction.
	Tx(hash chainhash.Hash) fn.Option[*TxRecord]

	// Transactions returns the recorded transactions, oldest first.
	Transactions() []*TxRecord

	// RecentTransactions returns the recorded transactions, newest
	// first.
	RecentTransactions() []*TxRecord

	// PrevOutput returns the wallet output an outpoint refers to.
	PrevOutput(op wire.OutPoint) fn.Option[*wire.TxOut]

	// IsValid reports whether a transaction can still confirm.
	IsValid(rec *TxRecord) bool

	// IsVerified reports whether a transaction is safe unconfirmed.
	IsVerified(rec *TxRecord) bool

	// IsPostdated reports whether a transaction is not yet final.
	IsPostdated(rec *TxRecord, height int32) bool

	// IsSpent reports whether an outpoint is spent by a valid
	// transaction.
	IsSpent(op wire.OutPoint) bool

	// Balance returns the wallet balance.
	Balance() btcutil.Amount

	// TotalSent returns the total amount sent.
	TotalSent() btcutil.Amount

	// TotalReceived returns the total amount received.
	TotalReceived() btcutil.Amount

	// UnspentOutputs returns the unspent wallet outputs.
	UnspentOutputs() []Credit

	// AmountReceived returns the wallet value a transaction creates.
	AmountReceived(tx *wire.MsgTx) btcutil.Amount

	// AmountSent returns the wallet value a transaction spends.
	AmountSent(tx *wire.MsgTx) btcutil.Amount

	// Fee returns the fee of a transaction if it can be resolved.
	Fee(tx *wire.MsgTx) fn.Option[btcutil.Amount]

	// BalanceAfter returns the balance right after a transaction.
	BalanceAfter(hash chainhash.Hash) fn.Option[btcutil.Amount]

	// BlockHeightUntilFree returns when a transaction may relay for
	// free.
	BlockHeightUntilFree(tx *wire.MsgTx) int32
}
