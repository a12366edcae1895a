// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/spvwallet/chain"
	"github.com/lightningnetwork/lnd/queue"
)

// Info is a snapshot of the wallet's configuration and ledger state.
type Info struct {
	// ChainParams are the parameters of the network the wallet uses.
	ChainParams *chaincfg.Params

	// BestHeight is the height of the best known block.
	BestHeight int32

	// Balance is the current wallet balance.
	Balance btcutil.Amount

	// NumAddresses and NumTransactions count the derived addresses and
	// recorded transactions.
	NumAddresses    int
	NumTransactions int

	// WatchOnly is true when the wallet has no seed callback.
	WatchOnly bool

	// Started is true while the background goroutines run.
	Started bool

	// Signing is true while a signing request waits on the seed callback.
	Signing bool
}

// Controller provides an interface for managing the wallet's lifecycle.
type Controller interface {
	// Start starts the chain feed handler and, when enabled, write-behind
	// persistence. It returns an error if the wallet is already started.
	Start(ctx context.Context) error

	// Stop signals the background goroutines to shut down, writes out
	// queued store updates and blocks until everything has exited.
	Stop(ctx context.Context) error

	// Info returns a snapshot of the wallet's state.
	Info(ctx context.Context) (*Info, error)
}

// A compile-time check to ensure that Wallet satisfies the Controller
// interface.
var _ Controller = (*Wallet)(nil)

// Start starts the background processes of the wallet.
//
// This is part of the Controller interface.
func (w *Wallet) Start(startCtx context.Context) error {
	// 1. Attempt to transition from Stopped to Starting.
	err := w.state.toStarting()
	if err != nil {
		return err
	}

	// 2. Setup background resources.
	//
	// w.lifetimeCtx governs the lifecycle of all background goroutines.
	// It is canceled when Stop is called.
	w.lifetimeCtx, w.cancel = context.WithCancel(context.Background())

	// 3. Perform runtime setup synchronously with startCtx.
	err = w.performRuntimeSetup(startCtx)
	if err != nil {
		w.cancel()
		w.state.toStopped()

		return err
	}

	// 4. Start background goroutines.
	if w.cfg.WriteBehind {
		w.mu.Lock()
		w.updates = queue.NewConcurrentQueue(updateQueueSize)
		w.updates.Start()
		w.cfg.FlushTicker.Resume()

		w.wg.Add(1)
		go w.flushHandler()

		w.writeBehind = true
		w.mu.Unlock()
	}

	if w.cfg.Chain != nil {
		w.wg.Add(1)
		go w.chainHandler(w.cfg.Chain)
	}

	// 5. Mark the wallet as fully started.
	w.state.toStarted()

	log.Infof("Wallet started: %v", w.state.String())

	return nil
}

// performRuntimeSetup catches the ledger up with the chain feed and derives
// the gap limit addresses before the handlers start.
func (w *Wallet) performRuntimeSetup(startCtx context.Context) error {
	if w.cfg.Chain != nil {
		err := w.SetBestHeight(startCtx, w.cfg.Chain.BestHeight())
		if err != nil {
			return fmt.Errorf("unable to sync best height: %w", err)
		}
	}

	return w.topUpAddresses(startCtx)
}

// Stop signals all wallet background processes to shutdown and blocks until
// they have all exited. It returns an error if the context is canceled before
// the shutdown is complete.
//
// This is part of the Controller interface.
func (w *Wallet) Stop(stopCtx context.Context) error {
	// Attempt to transition from Started to Stopping.
	err := w.state.toStopping()
	if err != nil {
		// If the wallet is not started, we can consider it stopped.
		log.Warnf("Wallet already stopped: %v", err)
		return nil
	}

	// Queued updates are written before the flusher is told to exit.
	flushErr := w.stopWriteBehind(stopCtx)
	if flushErr != nil {
		log.Errorf("Unable to flush wallet updates on stop: %v",
			flushErr)
	}

	// Signal all background processes to stop.
	w.cancel()

	// Wait for all goroutines to finish.
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-stopCtx.Done():
		return fmt.Errorf("stop request cancelled: %w", stopCtx.Err())
	}

	if w.cfg.WriteBehind {
		w.cfg.FlushTicker.Stop()
		w.updates.Stop()
	}

	// Mark the wallet as stopped.
	w.state.toStopped()

	log.Infof("Wallet stopped")

	return flushErr
}

// Info returns a snapshot of the wallet's state.
//
// This is part of the Controller interface.
func (w *Wallet) Info(_ context.Context) (*Info, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return &Info{
		ChainParams:     w.cfg.ChainParams,
		BestHeight:      w.txs.BestHeight(),
		Balance:         w.txs.Balance(),
		NumAddresses:    len(w.addrs.Addresses()),
		NumTransactions: len(w.txs.Transactions()),
		WatchOnly:       w.cfg.Seed == nil,
		Started:         w.state.isStarted(),
		Signing:         w.state.isSigning(),
	}, nil
}

// chainHandler applies the notifications of the chain feed to the ledger in
// the order they arrive.
//
// NOTE: MUST be run as a goroutine.
func (w *Wallet) chainHandler(feed chain.Feed) {
	defer w.wg.Done()

	for {
		select {
		case n := <-feed.Notifications():
			err := w.handleNotification(w.lifetimeCtx, n)
			if err != nil {
				log.Errorf("Unable to handle %T notification: %v",
					n, err)
			}

		case <-w.lifetimeCtx.Done():
			return
		}
	}
}

// handleNotification applies a single chain notification.
func (w *Wallet) handleNotification(ctx context.Context,
	n interface{}) error {

	switch n := n.(type) {
	case chain.RelevantTx:
		added, err := w.RegisterTransaction(
			ctx, n.Tx, n.BlockHeight, n.Timestamp,
		)
		if err != nil || !added {
			return err
		}

		// Receiving may have used up addresses of the gap window.
		return w.topUpAddresses(ctx)

	case chain.BlockConnected:
		log.Debugf("Block connected at height %d with %d transactions",
			n.Height, len(n.TxHashes))

		err := w.SetBlockHeight(ctx, n.Height, n.Timestamp, n.TxHashes)
		if err != nil {
			return err
		}

		return w.SetBestHeight(ctx, n.Height)

	case chain.BlockDisconnected:
		log.Infof("Block disconnected at height %d", n.Height)

		return w.SetTxUnconfirmedAfter(ctx, n.Height-1)

	default:
		log.Warnf("Ignoring unknown chain notification %T", n)
		return nil
	}
}
