package kvdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/spvwallet/wallet/store"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

const defaultDBTimeout = 10 * time.Second

// newTestDB creates a temporary bdb walletdb for kvdb store tests.
//
// It returns the opened database and a cleanup function that must be called
// after the test completes.
func newTestDB(t *testing.T) (walletdb.DB, func()) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "wallet.db")

	dbConn, err := walletdb.Create(
		"bdb", dbPath, true, defaultDBTimeout, false,
	)
	require.NoError(t, err)

	cleanup := func() {
		_ = dbConn.Close()
	}

	return dbConn, cleanup
}

// newTestStore wraps a temporary database in a Store.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbConn, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	s, err := New(dbConn)
	require.NoError(t, err)

	return s
}

func testTxRecord(b byte, height int32, ts time.Time) store.TxRecord {
	return store.TxRecord{
		Hash:        chainhash.Hash{b},
		RawTx:       []byte{b, b, b},
		BlockHeight: height,
		Timestamp:   ts,
	}
}

// TestLoadEmpty checks that a fresh store loads an empty snapshot.
func TestLoadEmpty(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, snap.Addresses)
	require.Empty(t, snap.Txs)
	require.Empty(t, snap.Unspent)
	require.Zero(t, snap.BestHeight)
}

// TestApplyAndLoad checks that every record kind survives a round trip
// through the database, including a zero timestamp.
func TestApplyAndLoad(t *testing.T) {
	t.Parallel()

	// Arrange: Build an update touching every bucket.
	s := newTestStore(t)
	ctx := context.Background()

	ts := time.Unix(1700000000, 42)
	ext := store.AddressRecord{PubKey: [33]byte{2, 1}, Index: 7}
	change := store.AddressRecord{
		PubKey: [33]byte{3, 2}, Internal: true, Index: 1,
	}
	confirmed := testTxRecord(1, 100, ts)
	pending := testTxRecord(2, int32(0x7fffffff), time.Time{})
	op := wire.OutPoint{Hash: confirmed.Hash, Index: 3}

	update := &store.Update{
		Addresses:  []store.AddressRecord{ext, change},
		PutTxs:     []store.TxRecord{confirmed, pending},
		Unspent:    fn.Some([]wire.OutPoint{op}),
		BestHeight: fn.Some(int32(120)),
	}

	// Act: Apply and reload.
	require.NoError(t, s.Apply(ctx, update))
	snap, err := s.Load(ctx)
	require.NoError(t, err)

	// Assert: Everything is read back. External addresses sort first.
	require.Equal(t, []store.AddressRecord{ext, change}, snap.Addresses)
	require.Len(t, snap.Txs, 2)
	require.Equal(t, confirmed.Hash, snap.Txs[0].Hash)
	require.Equal(t, confirmed.RawTx, snap.Txs[0].RawTx)
	require.Equal(t, int32(100), snap.Txs[0].BlockHeight)
	require.True(t, ts.Equal(snap.Txs[0].Timestamp))
	require.Equal(t, pending.BlockHeight, snap.Txs[1].BlockHeight)
	require.True(t, snap.Txs[1].Timestamp.IsZero())
	require.Equal(t, []wire.OutPoint{op}, snap.Unspent)
	require.Equal(t, int32(120), snap.BestHeight)
}

// TestRegistrationOrder checks that transactions load in the order they were
// first written, and that rewriting one keeps its position.
func TestRegistrationOrder(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	// Hash order is the reverse of write order.
	for _, b := range []byte{9, 5, 1} {
		err := s.Apply(ctx, &store.Update{
			PutTxs: []store.TxRecord{testTxRecord(b, 1, time.Time{})},
		})
		require.NoError(t, err)
	}

	// Rewrite the first one with a new height.
	err := s.Apply(ctx, &store.Update{
		PutTxs: []store.TxRecord{testTxRecord(9, 5, time.Time{})},
	})
	require.NoError(t, err)

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Txs, 3)
	require.Equal(t, chainhash.Hash{9}, snap.Txs[0].Hash)
	require.Equal(t, int32(5), snap.Txs[0].BlockHeight)
	require.Equal(t, chainhash.Hash{5}, snap.Txs[1].Hash)
	require.Equal(t, chainhash.Hash{1}, snap.Txs[2].Hash)
}

// TestDeleteAndReplaceUnspent checks deletions and the full replacement of
// the unspent set.
func TestDeleteAndReplaceUnspent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	a, b := testTxRecord(1, 1, time.Time{}), testTxRecord(2, 1, time.Time{})
	opA := wire.OutPoint{Hash: a.Hash}
	opB := wire.OutPoint{Hash: b.Hash, Index: 1}

	require.NoError(t, s.Apply(ctx, &store.Update{
		PutTxs:  []store.TxRecord{a, b},
		Unspent: fn.Some([]wire.OutPoint{opA, opB}),
	}))

	require.NoError(t, s.Apply(ctx, &store.Update{
		DeleteTxs: []chainhash.Hash{a.Hash},
		Unspent:   fn.Some([]wire.OutPoint{opB}),
	}))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Txs, 1)
	require.Equal(t, b.Hash, snap.Txs[0].Hash)
	require.Equal(t, []wire.OutPoint{opB}, snap.Unspent)
}

// TestCorruptRecord checks that an undecodable value is reported as
// ErrCorruptRecord.
func TestCorruptRecord(t *testing.T) {
	t.Parallel()

	dbConn, cleanup := newTestDB(t)
	t.Cleanup(cleanup)

	s, err := New(dbConn)
	require.NoError(t, err)

	err = walletdb.Update(dbConn, func(tx walletdb.ReadWriteTx) error {
		return tx.ReadWriteBucket(txBucketKey).Put(
			make([]byte, chainhash.HashSize), []byte{0xff},
		)
	})
	require.NoError(t, err)

	_, err = s.Load(context.Background())
	require.ErrorIs(t, err, store.ErrCorruptRecord)
}

// TestOpenReopen checks that records persist across Open calls and that a
// closed store refuses further use.
func TestOpenReopen(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "wallet.db")
	ctx := context.Background()

	s, err := Open(dbPath, defaultDBTimeout)
	require.NoError(t, err)
	require.NoError(t, s.Apply(ctx, &store.Update{
		BestHeight: fn.Some(int32(7)),
	}))
	require.NoError(t, s.Close())

	_, err = s.Load(ctx)
	require.ErrorIs(t, err, store.ErrClosed)

	s, err = Open(dbPath, defaultDBTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(7), snap.BestHeight)
}
