// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/queue"
)

// subscriberQueueSize is the number of balance updates buffered per
// subscriber before the queue spills into its overflow list.
const subscriberQueueSize = 10

// BalanceUpdate is sent to balance subscribers whenever a ledger mutation
// changes the wallet balance.
type BalanceUpdate struct {
	Old btcutil.Amount
	New btcutil.Amount
}

// BalanceSubscription delivers balance updates to a single client.
type BalanceSubscription struct {
	id uint64

	updates *queue.ConcurrentQueue
	quit    chan struct{}

	cancel func()
}

// Updates returns the channel BalanceUpdate values are delivered on. Updates
// are never dropped, a slow reader only grows the subscription's queue.
func (s *BalanceSubscription) Updates() <-chan interface{} {
	return s.updates.ChanOut()
}

// Cancel stops the subscription. It is safe to call more than once.
func (s *BalanceSubscription) Cancel() {
	s.cancel()
}

// balanceNotifier fans balance updates out to the subscribers.
type balanceNotifier struct {
	mu      sync.Mutex
	clients map[uint64]*BalanceSubscription
	nextID  uint64
}

func newBalanceNotifier() *balanceNotifier {
	return &balanceNotifier{
		clients: make(map[uint64]*BalanceSubscription),
	}
}

// subscribe registers a new client.
func (n *balanceNotifier) subscribe() *BalanceSubscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub := &BalanceSubscription{
		id:      n.nextID,
		updates: queue.NewConcurrentQueue(subscriberQueueSize),
		quit:    make(chan struct{}),
	}
	n.nextID++

	var once sync.Once
	sub.cancel = func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.clients, sub.id)
			n.mu.Unlock()

			close(sub.quit)
			sub.updates.Stop()
		})
	}

	sub.updates.Start()
	n.clients[sub.id] = sub

	return sub
}

// notify delivers update to every subscriber. Must not be called with the
// ledger lock held.
func (n *balanceNotifier) notify(update BalanceUpdate) {
	n.mu.Lock()
	defer n.mu.Unlock()

	log.Debugf("Balance changed from %v to %v, notifying %d clients",
		update.Old, update.New, len(n.clients))

	for _, client := range n.clients {
		select {
		case client.updates.ChanIn() <- update:
		case <-client.quit:
		}
	}
}

// SubscribeBalance returns a subscription receiving a BalanceUpdate after
// every ledger mutation that changes the balance. The caller must Cancel
// the subscription once done with it.
func (w *Wallet) SubscribeBalance() *BalanceSubscription {
	return w.ntfns.subscribe()
}
