// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/spvwallet/pkg/btcunit"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// TxUnconfirmed is the block height of a transaction that is not in
	// the best chain.
	TxUnconfirmed = int32(math.MaxInt32)

	// MaxTxSize is the largest serialized size of a transaction that is
	// still considered safe to accept unconfirmed.
	MaxTxSize = 100000
)

var (
	// ErrDuplicateTx is returned when attempting to record a transaction
	// that is already recorded.
	ErrDuplicateTx = errors.New("transaction already exists")

	// ErrInvalidTx is returned when a transaction fails the context free
	// sanity checks.
	ErrInvalidTx = errors.New("transaction failed sanity checks")

	// ErrTxNotFound is returned when a transaction hash is not recorded in
	// the store.
	ErrTxNotFound = errors.New("transaction not found")
)

// TxRecord represents a transaction managed by the Store.
type TxRecord struct {
	MsgTx wire.MsgTx
	Hash  chainhash.Hash

	// BlockHeight is the height of the block that confirmed the
	// transaction, or TxUnconfirmed.
	BlockHeight int32

	// Timestamp is the time the transaction was first seen or confirmed.
	// A zero timestamp marks a transaction that is not safe to accept
	// unconfirmed.
	Timestamp time.Time
}

// NewTxRecord creates a new transaction record from a serialized
// transaction.
func NewTxRecord(serializedTx []byte, height int32,
	timestamp time.Time) (*TxRecord, error) {

	rec := &TxRecord{
		BlockHeight: height,
		Timestamp:   timestamp,
	}
	err := rec.MsgTx.Deserialize(bytes.NewReader(serializedTx))
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize transaction: %w",
			err)
	}
	rec.Hash = rec.MsgTx.TxHash()

	return rec, nil
}

// NewTxRecordFromMsgTx creates a new transaction record that may be inserted
// into the store.
func NewTxRecordFromMsgTx(msgTx *wire.MsgTx, height int32,
	timestamp time.Time) *TxRecord {

	return &TxRecord{
		MsgTx:       *msgTx.Copy(),
		Hash:        msgTx.TxHash(),
		BlockHeight: height,
		Timestamp:   timestamp,
	}
}

// Confirmed reports whether the record is in a block.
func (r *TxRecord) Confirmed() bool {
	return r.BlockHeight != TxUnconfirmed
}

// Credit is an unspent transaction output paying to a wallet address.
type Credit struct {
	wire.OutPoint

	Amount   btcutil.Amount
	PkScript []byte

	// BlockHeight and Received are copied from the defining
	// transaction.
	BlockHeight int32
	Received    time.Time
}

// Config holds the collaborators of a Store.
type Config struct {
	// Filter decides which output scripts belong to the wallet.
	Filter AddrFilter

	// Clock is used by the lock time checks. Defaults to the system
	// clock.
	Clock clock.Clock

	// DustThreshold is the smallest output value of a transaction that is
	// accepted unconfirmed. Defaults to the P2PKH dust threshold at the
	// default relay fee.
	DustThreshold btcutil.Amount
}

// Store implements a transaction store for storing and managing wallet
// transactions. It is not safe for concurrent use.
//
// Derived state (the UTXO set, the invalid set, the balance history) is
// rebuilt from the registered transactions after every mutation.
type Store struct {
	cfg Config

	txs     map[chainhash.Hash]*TxRecord
	seq     map[chainhash.Hash]uint64
	nextSeq uint64

	// ordered holds every registered transaction with each one after the
	// transactions it spends from.
	ordered []*TxRecord

	bestHeight int32

	utxos         []wire.OutPoint
	spent         map[wire.OutPoint]chainhash.Hash
	invalid       fn.Set[chainhash.Hash]
	balance       btcutil.Amount
	balanceHist   map[chainhash.Hash]btcutil.Amount
	totalSent     btcutil.Amount
	totalReceived btcutil.Amount
}

// A compile-time assertion to ensure that Store implements the TxStore
// interface.
var _ TxStore = (*Store)(nil)

// New creates an empty store.
func New(cfg Config) *Store {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.DustThreshold == 0 {
		cfg.DustThreshold = btcunit.DefaultSatPerKByte.DustThreshold()
	}

	s := &Store{
		cfg: cfg,
		txs: make(map[chainhash.Hash]*TxRecord),
		seq: make(map[chainhash.Hash]uint64),
	}
	s.recompute()

	return s
}

// Register records a transaction if it is associated with the wallet: any
// output pays a wallet script, or any input spends a wallet output of a
// recorded transaction. An unassociated transaction is ignored and false is
// returned without an error.
func (s *Store) Register(rec *TxRecord) (bool, error) {
	rec.Hash = rec.MsgTx.TxHash()

	if _, ok := s.txs[rec.Hash]; ok {
		return false, ErrDuplicateTx
	}

	err := blockchain.CheckTransactionSanity(btcutil.NewTx(&rec.MsgTx))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidTx, err)
	}

	if !s.isAssociated(&rec.MsgTx) {
		log.Tracef("Ignoring unrelated transaction %v", rec.Hash)
		return false, nil
	}

	s.txs[rec.Hash] = rec
	s.seq[rec.Hash] = s.nextSeq
	s.nextSeq++

	if rec.Confirmed() && rec.BlockHeight > s.bestHeight {
		s.bestHeight = rec.BlockHeight
	}

	s.recompute()

	log.Infof("Registered transaction %v (height %d)", rec.Hash,
		rec.BlockHeight)

	return true, nil
}

// isAssociated reports whether tx touches a wallet script.
func (s *Store) isAssociated(tx *wire.MsgTx) bool {
	for _, out := range tx.TxOut {
		if s.cfg.Filter.IsOwnedScript(out.PkScript) {
			return true
		}
	}

	for _, in := range tx.TxIn {
		if s.PrevOutput(in.PreviousOutPoint).IsSome() {
			return true
		}
	}

	return false
}

// SetBlockHeight applies a block height and timestamp to every recorded
// transaction in hashes and returns the hashes that were recorded. Passing
// TxUnconfirmed with a zero timestamp marks transactions as not safe to
// accept unconfirmed.
func (s *Store) SetBlockHeight(height int32, timestamp time.Time,
	hashes []chainhash.Hash) []chainhash.Hash {

	updated := make([]chainhash.Hash, 0, len(hashes))
	for _, hash := range hashes {
		rec, ok := s.txs[hash]
		if !ok {
			continue
		}

		rec.BlockHeight = height
		rec.Timestamp = timestamp
		updated = append(updated, hash)
	}

	if height != TxUnconfirmed && height > s.bestHeight {
		s.bestHeight = height
	}

	if len(updated) > 0 {
		s.recompute()
	}

	return updated
}

// SetUnconfirmedAfter marks every transaction confirmed above height as
// unconfirmed, as needed after a chain reorganization, and returns their
// hashes.
func (s *Store) SetUnconfirmedAfter(height int32) []chainhash.Hash {
	var hashes []chainhash.Hash
	for _, rec := range s.ordered {
		if rec.Confirmed() && rec.BlockHeight > height {
			rec.BlockHeight = TxUnconfirmed
			hashes = append(hashes, rec.Hash)
		}
	}

	s.bestHeight = height
	s.recompute()

	return hashes
}

// SetBestHeight records the height of the best known block.
func (s *Store) SetBestHeight(height int32) {
	s.bestHeight = height
}

// BestHeight returns the height of the best known block.
func (s *Store) BestHeight() int32 {
	return s.bestHeight
}

// Contains reports whether hash is recorded.
func (s *Store) Contains(hash chainhash.Hash) bool {
	_, ok := s.txs[hash]
	return ok
}

// Tx returns the recorded transaction with the given hash.
func (s *Store) Tx(hash chainhash.Hash) fn.Option[*TxRecord] {
	rec, ok := s.txs[hash]
	if !ok {
		return fn.None[*TxRecord]()
	}

	return fn.Some(rec)
}

// Transactions returns every recorded transaction in ledger order, oldest
// first.
func (s *Store) Transactions() []*TxRecord {
	txs := make([]*TxRecord, len(s.ordered))
	copy(txs, s.ordered)

	return txs
}

// RecentTransactions returns every recorded transaction, newest first.
func (s *Store) RecentTransactions() []*TxRecord {
	txs := make([]*TxRecord, 0, len(s.ordered))
	for i := len(s.ordered) - 1; i >= 0; i-- {
		txs = append(txs, s.ordered[i])
	}

	return txs
}

// PrevOutput returns the wallet output spent by an outpoint, if the
// outpoint refers to a recorded transaction and pays a wallet script.
func (s *Store) PrevOutput(op wire.OutPoint) fn.Option[*wire.TxOut] {
	rec, ok := s.txs[op.Hash]
	if !ok || op.Index >= uint32(len(rec.MsgTx.TxOut)) {
		return fn.None[*wire.TxOut]()
	}

	out := rec.MsgTx.TxOut[op.Index]
	if !s.cfg.Filter.IsOwnedScript(out.PkScript) {
		return fn.None[*wire.TxOut]()
	}

	return fn.Some(out)
}

// sortTxs orders the recorded transactions by block height, then
// registration order, and finally moves every transaction after the
// recorded transactions it spends from.
func (s *Store) sortTxs() {
	byHeight := make([]*TxRecord, 0, len(s.txs))
	for _, rec := range s.txs {
		byHeight = append(byHeight, rec)
	}
	sort.Slice(byHeight, func(i, j int) bool {
		a, b := byHeight[i], byHeight[j]
		if a.BlockHeight != b.BlockHeight {
			return a.BlockHeight < b.BlockHeight
		}

		return s.seq[a.Hash] < s.seq[b.Hash]
	})

	ordered := make([]*TxRecord, 0, len(byHeight))
	visited := make(map[chainhash.Hash]struct{}, len(byHeight))

	var visit func(rec *TxRecord)
	visit = func(rec *TxRecord) {
		if _, ok := visited[rec.Hash]; ok {
			return
		}
		visited[rec.Hash] = struct{}{}

		for _, in := range rec.MsgTx.TxIn {
			parent, ok := s.txs[in.PreviousOutPoint.Hash]
			if ok {
				visit(parent)
			}
		}

		ordered = append(ordered, rec)
	}

	for _, rec := range byHeight {
		visit(rec)
	}

	s.ordered = ordered
}
