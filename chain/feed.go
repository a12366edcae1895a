// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chain defines the block height feed consumed by the wallet and an
// in-process implementation of it.
package chain

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/queue"
)

// notificationBufferSize is the number of notifications buffered before the
// queue starts spilling into its overflow list.
const notificationBufferSize = 20

var (
	// ErrFeedStopped is returned when a notification is sent to a feed
	// that was stopped.
	ErrFeedStopped = errors.New("feed stopped")

	// ErrNotStarted is returned when a notification is sent before Start.
	ErrNotStarted = errors.New("feed not started")
)

// Notification types sent by a Feed. Notifications are delivered in the order
// they occurred.
type (
	// BlockConnected is a block newly attached to the best chain.
	BlockConnected struct {
		Height    int32
		Timestamp time.Time

		// TxHashes lists the transactions of the block. Hashes the
		// wallet does not know about are ignored.
		TxHashes []chainhash.Hash
	}

	// BlockDisconnected is a block removed from the best chain. Every
	// transaction confirmed at or above Height becomes unconfirmed.
	BlockDisconnected struct {
		Height int32
	}

	// RelevantTx is a transaction that may pay to or spend from the
	// wallet. BlockHeight is wtxmgr.TxUnconfirmed for mempool
	// transactions.
	RelevantTx struct {
		Tx          *wire.MsgTx
		BlockHeight int32
		Timestamp   time.Time
	}
)

// Feed reports the block height of the best chain and delivers chain events.
// The feed is owned by the caller, which starts and stops it.
type Feed interface {
	// BestHeight returns the height of the best known block.
	BestHeight() int32

	// Notifications returns the channel notifications are delivered on.
	// The channel must be read continually, as unread notifications are
	// queued for later reads.
	Notifications() <-chan interface{}
}

// ManualFeed is a Feed driven by its owner, typically a peer manager running
// in the same process or a test.
type ManualFeed struct {
	started int32
	stopped int32

	bestHeight atomic.Int32

	ntfns *queue.ConcurrentQueue

	// mu orders notifications with the best height updates they imply.
	mu sync.Mutex

	quit chan struct{}
}

// A compile-time check to ensure that ManualFeed satisfies the Feed
// interface.
var _ Feed = (*ManualFeed)(nil)

// NewManualFeed creates a feed starting at the given best height.
func NewManualFeed(bestHeight int32) *ManualFeed {
	f := &ManualFeed{
		ntfns: queue.NewConcurrentQueue(notificationBufferSize),
		quit:  make(chan struct{}),
	}
	f.bestHeight.Store(bestHeight)

	return f
}

// Start starts the notification queue.
func (f *ManualFeed) Start() error {
	if !atomic.CompareAndSwapInt32(&f.started, 0, 1) {
		return nil
	}

	f.ntfns.Start()

	log.Debugf("Manual feed started at height %d", f.bestHeight.Load())

	return nil
}

// Stop stops the notification queue. Queued notifications are dropped.
func (f *ManualFeed) Stop() {
	if !atomic.CompareAndSwapInt32(&f.stopped, 0, 1) {
		return
	}

	close(f.quit)
	if atomic.LoadInt32(&f.started) == 1 {
		f.ntfns.Stop()
	}
}

// BestHeight returns the height of the last connected block.
func (f *ManualFeed) BestHeight() int32 {
	return f.bestHeight.Load()
}

// Notifications returns the notification channel.
func (f *ManualFeed) Notifications() <-chan interface{} {
	return f.ntfns.ChanOut()
}

// ConnectBlock announces a new best block.
func (f *ManualFeed) ConnectBlock(height int32, timestamp time.Time,
	txHashes []chainhash.Hash) error {

	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.send(BlockConnected{
		Height:    height,
		Timestamp: timestamp,
		TxHashes:  txHashes,
	})
	if err != nil {
		return err
	}
	f.bestHeight.Store(height)

	return nil
}

// DisconnectBlock announces that the block at height was reorganized out of
// the best chain.
func (f *ManualFeed) DisconnectBlock(height int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.send(BlockDisconnected{Height: height})
	if err != nil {
		return err
	}
	f.bestHeight.Store(height - 1)

	return nil
}

// SendTx announces a transaction seen in the mempool or in a block.
func (f *ManualFeed) SendTx(tx *wire.MsgTx, height int32,
	timestamp time.Time) error {

	return f.send(RelevantTx{
		Tx:          tx,
		BlockHeight: height,
		Timestamp:   timestamp,
	})
}

func (f *ManualFeed) send(n interface{}) error {
	if atomic.LoadInt32(&f.started) == 0 {
		return ErrNotStarted
	}
	if atomic.LoadInt32(&f.stopped) == 1 {
		return ErrFeedStopped
	}

	select {
	case f.ntfns.ChanIn() <- n:
		log.Tracef("Queued %T notification", n)
		return nil

	case <-f.quit:
		return ErrFeedStopped
	}
}
