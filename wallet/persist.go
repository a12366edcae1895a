// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"fmt"

	"github.com/btcsuite/spvwallet/wallet/store"
)

// updateQueueSize is the number of store updates buffered before the
// write-behind queue spills into its overflow list.
const updateQueueSize = 100

// flushRequest asks the write-behind handler to write everything queued
// before it.
type flushRequest struct {
	done chan error
}

// persist hands an update to the store. With write-behind enabled the update
// is queued and written later by flushHandler. It must be called with the
// write lock held so that updates are queued in ledger order.
func (w *Wallet) persist(ctx context.Context, u *store.Update) error {
	if u.IsEmpty() {
		return nil
	}

	if w.writeBehind {
		w.updates.ChanIn() <- u
		return nil
	}

	if err := w.cfg.Store.Apply(ctx, u); err != nil {
		log.Errorf("Unable to persist wallet update: %v", err)
		return fmt.Errorf("unable to persist update: %w", err)
	}

	return nil
}

// Flush writes every queued store update. It returns immediately when
// write-behind persistence is not running.
func (w *Wallet) Flush(ctx context.Context) error {
	w.mu.RLock()
	if !w.writeBehind {
		w.mu.RUnlock()
		return nil
	}

	req := &flushRequest{done: make(chan error, 1)}
	w.updates.ChanIn() <- req
	w.mu.RUnlock()

	select {
	case err := <-req.done:
		return err

	case <-ctx.Done():
		return ctx.Err()
	}
}

// flushHandler merges queued updates and writes them to the store on every
// tick of the flush ticker and on every flush request.
//
// NOTE: MUST be run as a goroutine.
func (w *Wallet) flushHandler() {
	defer w.wg.Done()

	pending := &store.Update{}

	flush := func() error {
		if pending.IsEmpty() {
			return nil
		}

		err := w.cfg.Store.Apply(w.lifetimeCtx, pending)
		if err != nil {
			// Keep the merged update so the next tick retries it.
			log.Errorf("Unable to flush wallet updates: %v", err)
			return err
		}

		log.Tracef("Flushed %d transactions and %d addresses",
			len(pending.PutTxs), len(pending.Addresses))
		pending = &store.Update{}

		return nil
	}

	ticks := w.cfg.FlushTicker.Ticks()
	for {
		select {
		case item := <-w.updates.ChanOut():
			switch v := item.(type) {
			case *store.Update:
				pending.Merge(v)

			case *flushRequest:
				v.done <- flush()
			}

		case <-ticks:
			_ = flush()

		case <-w.lifetimeCtx.Done():
			return
		}
	}
}

// stopWriteBehind writes out every queued update and switches persistence
// back to direct writes. It holds the write lock until the queue is drained
// so no later update can reach the store first.
func (w *Wallet) stopWriteBehind(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.writeBehind {
		return nil
	}

	req := &flushRequest{done: make(chan error, 1)}
	w.updates.ChanIn() <- req
	w.writeBehind = false

	select {
	case err := <-req.done:
		return err

	case <-ctx.Done():
		return ctx.Err()
	}
}
