// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package kvdb provides a walletdb (kvdb) backed implementation of the
// wallet record store.
package kvdb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/spvwallet/wallet/store"

	// Register the bdb driver used by Open.
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
)

// DefaultDBTimeout is how long Open waits for the database file lock.
const DefaultDBTimeout = 10 * time.Second

var (
	// addrBucketKey is the top-level bucket holding address records.
	addrBucketKey = []byte("addrs")

	// txBucketKey is the top-level bucket holding transaction records.
	txBucketKey = []byte("txs")

	// utxoBucketKey is the top-level bucket holding the unspent set.
	utxoBucketKey = []byte("utxos")

	// metaBucketKey is the top-level bucket holding single values.
	metaBucketKey = []byte("meta")

	bestHeightKey = []byte("bestheight")
	txOrderKey    = []byte("txorder")
)

// errMissingBucket is returned when a top-level bucket does not exist.
var errMissingBucket = errors.New("missing bucket")

// Store is the kvdb (walletdb) implementation of the store.Store interface.
type Store struct {
	db     walletdb.DB
	closed atomic.Bool
}

// A compile-time assertion to ensure that Store implements the store.Store
// interface.
var _ store.Store = (*Store)(nil)

// Open opens the bdb database at dbPath, creating it if needed.
func Open(dbPath string, timeout time.Duration) (*Store, error) {
	dbConn, err := walletdb.Create("bdb", dbPath, true, timeout, false)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}

	s, err := New(dbConn)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	return s, nil
}

// New wraps an opened walletdb and creates any missing bucket.
func New(dbConn walletdb.DB) (*Store, error) {
	err := walletdb.Update(dbConn, func(tx walletdb.ReadWriteTx) error {
		buckets := [][]byte{
			addrBucketKey, txBucketKey, utxoBucketKey,
			metaBucketKey,
		}
		for _, key := range buckets {
			_, err := tx.CreateTopLevelBucket(key)
			if err != nil {
				return fmt.Errorf("create bucket %s: %w", key,
					err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Store{db: dbConn}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return store.ErrClosed
	}

	return s.db.Close()
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return store.ErrClosed
	}

	return nil
}

// Load returns every persisted record. Transactions are returned in the order
// they were first written.
func (s *Store) Load(ctx context.Context) (*store.Snapshot, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	snap := &store.Snapshot{}

	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		buckets, err := readBuckets(tx)
		if err != nil {
			return err
		}

		addrs, txs, utxos, meta := buckets[0], buckets[1], buckets[2],
			buckets[3]

		err = addrs.ForEach(func(k, v []byte) error {
			rec, err := decodeAddr(k, v)
			if err != nil {
				return err
			}
			snap.Addresses = append(snap.Addresses, rec)

			return nil
		})
		if err != nil {
			return err
		}

		var ordered []orderedTx
		err = txs.ForEach(func(k, v []byte) error {
			rec, order, err := decodeTx(k, v)
			if err != nil {
				return err
			}
			ordered = append(ordered, orderedTx{rec, order})

			return nil
		})
		if err != nil {
			return err
		}

		sort.Slice(ordered, func(i, j int) bool {
			return ordered[i].order < ordered[j].order
		})
		for _, o := range ordered {
			snap.Txs = append(snap.Txs, o.rec)
		}

		err = utxos.ForEach(func(k, _ []byte) error {
			op, err := decodeUtxoKey(k)
			if err != nil {
				return err
			}
			snap.Unspent = append(snap.Unspent, op)

			return nil
		})
		if err != nil {
			return err
		}

		if v := meta.Get(bestHeightKey); len(v) == 4 {
			snap.BestHeight = int32(binary.BigEndian.Uint32(v))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debugf("Loaded %d addresses, %d transactions and %d unspent "+
		"outputs", len(snap.Addresses), len(snap.Txs),
		len(snap.Unspent))

	return snap, nil
}

func readBuckets(tx walletdb.ReadTx) ([]walletdb.ReadBucket, error) {
	keys := [][]byte{addrBucketKey, txBucketKey, utxoBucketKey,
		metaBucketKey}

	buckets := make([]walletdb.ReadBucket, 0, len(keys))
	for _, key := range keys {
		b := tx.ReadBucket(key)
		if b == nil {
			return nil, fmt.Errorf("%w: %s", errMissingBucket, key)
		}
		buckets = append(buckets, b)
	}

	return buckets, nil
}

// orderedTx is a transaction record with its registration order.
type orderedTx struct {
	rec   store.TxRecord
	order uint64
}

// Apply writes an update in a single database transaction.
func (s *Store) Apply(ctx context.Context, update *store.Update) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	if update.IsEmpty() {
		return nil
	}

	err := walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		if err := putAddrs(tx, update.Addresses); err != nil {
			return err
		}

		if err := writeTxs(tx, update); err != nil {
			return err
		}

		var err error
		update.Unspent.WhenSome(func(ops []wire.OutPoint) {
			err = replaceUnspent(tx, ops)
		})
		if err != nil {
			return err
		}

		update.BestHeight.WhenSome(func(height int32) {
			var v [4]byte
			binary.BigEndian.PutUint32(v[:], uint32(height))
			err = tx.ReadWriteBucket(metaBucketKey).Put(
				bestHeightKey, v[:],
			)
		})

		return err
	})
	if err != nil {
		return fmt.Errorf("apply update: %w", err)
	}

	log.Tracef("Applied update: %d addresses, %d puts, %d deletes",
		len(update.Addresses), len(update.PutTxs),
		len(update.DeleteTxs))

	return nil
}

func putAddrs(tx walletdb.ReadWriteTx, recs []store.AddressRecord) error {
	bucket := tx.ReadWriteBucket(addrBucketKey)
	for i := range recs {
		v, err := encodeAddr(&recs[i])
		if err != nil {
			return err
		}

		err = bucket.Put(addrKey(recs[i].Internal, recs[i].Index), v)
		if err != nil {
			return err
		}
	}

	return nil
}

// writeTxs applies the transaction deletions and then the insertions of an
// update. A rewritten transaction keeps its registration order.
func writeTxs(tx walletdb.ReadWriteTx, update *store.Update) error {
	bucket := tx.ReadWriteBucket(txBucketKey)
	meta := tx.ReadWriteBucket(metaBucketKey)

	for _, hash := range update.DeleteTxs {
		if err := bucket.Delete(hash[:]); err != nil {
			return err
		}
	}

	var next uint64
	if v := meta.Get(txOrderKey); len(v) == 8 {
		next = binary.BigEndian.Uint64(v)
	}

	for i := range update.PutTxs {
		rec := &update.PutTxs[i]

		order := next
		if old := bucket.Get(rec.Hash[:]); old != nil {
			_, prev, err := decodeTx(rec.Hash[:], old)
			if err != nil {
				return err
			}
			order = prev
		} else {
			next++
		}

		v, err := encodeTx(rec, order)
		if err != nil {
			return err
		}
		if err := bucket.Put(rec.Hash[:], v); err != nil {
			return err
		}
	}

	var v [8]byte
	binary.BigEndian.PutUint64(v[:], next)

	return meta.Put(txOrderKey, v[:])
}

func replaceUnspent(tx walletdb.ReadWriteTx, ops []wire.OutPoint) error {
	err := tx.DeleteTopLevelBucket(utxoBucketKey)
	if err != nil && !errors.Is(err, walletdb.ErrBucketNotFound) {
		return err
	}

	bucket, err := tx.CreateTopLevelBucket(utxoBucketKey)
	if err != nil {
		return err
	}

	for _, op := range ops {
		if err := bucket.Put(utxoKey(op), []byte{}); err != nil {
			return err
		}
	}

	return nil
}
