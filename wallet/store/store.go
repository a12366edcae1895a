// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package store defines the persisted-record collaborator of the wallet.
//
// The wallet never persists seeds or private keys. It only hands the store
// the public records it needs to rebuild its ledger on startup: derived
// addresses, registered transactions, the unspent outputs at the time of the
// last update and the best known block height.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrCorruptRecord is returned when a persisted record cannot be
	// decoded.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrClosed is returned when a store is used after it was closed.
	ErrClosed = errors.New("store closed")
)

// AddressRecord is a derived wallet address. Only the public key and its
// position in the key sequence are stored; the address itself is derived
// again on load.
type AddressRecord struct {
	PubKey   [33]byte
	Internal bool
	Index    uint32
}

// TxRecord is a registered transaction.
type TxRecord struct {
	Hash        chainhash.Hash
	RawTx       []byte
	BlockHeight int32
	Timestamp   time.Time
}

// Snapshot is everything a store holds.
type Snapshot struct {
	Addresses  []AddressRecord
	Txs        []TxRecord
	Unspent    []wire.OutPoint
	BestHeight int32
}

// Update is a batch of changes applied atomically by a store. Deletions are
// applied before insertions.
type Update struct {
	Addresses []AddressRecord
	PutTxs    []TxRecord
	DeleteTxs []chainhash.Hash

	// Unspent replaces the whole persisted unspent set when present.
	Unspent fn.Option[[]wire.OutPoint]

	// BestHeight replaces the persisted best height when present.
	BestHeight fn.Option[int32]
}

// IsEmpty reports whether applying the update would change nothing.
func (u *Update) IsEmpty() bool {
	return len(u.Addresses) == 0 && len(u.PutTxs) == 0 &&
		len(u.DeleteTxs) == 0 && u.Unspent.IsNone() &&
		u.BestHeight.IsNone()
}

// Merge folds next into u so that applying u once has the same effect as
// applying u and then next.
func (u *Update) Merge(next *Update) {
	u.Addresses = append(u.Addresses, next.Addresses...)

	for _, hash := range next.DeleteTxs {
		u.PutTxs = dropTx(u.PutTxs, hash)
		if !containsHash(u.DeleteTxs, hash) {
			u.DeleteTxs = append(u.DeleteTxs, hash)
		}
	}

	// A later write of the same transaction wins but keeps the position of
	// the first one, so a store assigning registration order by position
	// still sees parents before children. Pending deletions stay since
	// they run first.
	for _, rec := range next.PutTxs {
		if i := indexOfTx(u.PutTxs, rec.Hash); i >= 0 {
			u.PutTxs[i] = rec
			continue
		}
		u.PutTxs = append(u.PutTxs, rec)
	}

	if next.Unspent.IsSome() {
		u.Unspent = next.Unspent
	}
	if next.BestHeight.IsSome() {
		u.BestHeight = next.BestHeight
	}
}

func dropTx(recs []TxRecord, hash chainhash.Hash) []TxRecord {
	kept := recs[:0]
	for _, rec := range recs {
		if rec.Hash != hash {
			kept = append(kept, rec)
		}
	}

	return kept
}

func indexOfTx(recs []TxRecord, hash chainhash.Hash) int {
	for i := range recs {
		if recs[i].Hash == hash {
			return i
		}
	}

	return -1
}

func containsHash(hashes []chainhash.Hash, hash chainhash.Hash) bool {
	for _, h := range hashes {
		if h == hash {
			return true
		}
	}

	return false
}

// Store persists wallet records.
type Store interface {
	// Load returns everything the store holds.
	Load(ctx context.Context) (*Snapshot, error)

	// Apply atomically applies an update.
	Apply(ctx context.Context, update *Update) error
}
