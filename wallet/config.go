// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/spvwallet/chain"
	"github.com/btcsuite/spvwallet/pkg/btcunit"
	"github.com/btcsuite/spvwallet/wallet/store"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// DefaultGapLimit is the number of unused addresses kept ahead of the
	// last used one on each chain.
	DefaultGapLimit = 10

	// DefaultFlushInterval is how often queued store updates are written
	// when write-behind persistence is enabled.
	DefaultFlushInterval = 5 * time.Second
)

var (
	// ErrMissingParam is returned when a required Config field is not set.
	ErrMissingParam = errors.New("missing config parameter")
)

// SeedFunc returns the wallet seed. prompt describes why the seed is needed
// and amount is the value being sent, zero when nothing is sent. The wallet
// zeroes the returned slice once done with it. Returning an error declines
// the request.
type SeedFunc func(ctx context.Context, prompt string,
	amount btcutil.Amount) ([]byte, error)

// Config holds the collaborators and options of a Wallet.
type Config struct {
	// ChainParams selects the network. Required.
	ChainParams *chaincfg.Params

	// MasterPubKey is the 69 byte master public key blob of the wallet.
	// Required.
	MasterPubKey []byte

	// Seed is asked for the seed whenever a private key is needed. When
	// nil the wallet is watch-only.
	Seed SeedFunc

	// Store persists wallet records. Required.
	Store store.Store

	// Chain delivers block and transaction notifications once the wallet
	// is started. Optional.
	Chain chain.Feed

	// FeePerKb is the fee rate used when building transactions. Defaults
	// to btcunit.DefaultSatPerKByte.
	FeePerKb btcunit.SatPerKByte

	// GapLimit is the number of unused addresses the chain feed handler
	// keeps derived ahead of the last used one. Defaults to
	// DefaultGapLimit.
	GapLimit uint32

	// CoinSelection orders the spendable outputs before selection.
	// Defaults to CoinSelectionOldest.
	CoinSelection CoinSelectionStrategy

	// WriteBehind queues store updates and writes them from a background
	// goroutine instead of under the ledger lock.
	WriteBehind bool

	// FlushTicker drives write-behind flushes. Defaults to a ticker firing
	// every DefaultFlushInterval.
	FlushTicker ticker.Ticker

	// Clock is used by the lock time checks. Defaults to the system clock.
	Clock clock.Clock
}

// validate checks the required fields and fills in defaults.
func (c *Config) validate() error {
	switch {
	case c.ChainParams == nil:
		return fmt.Errorf("%w: chain params", ErrMissingParam)

	case len(c.MasterPubKey) == 0:
		return fmt.Errorf("%w: master public key", ErrMissingParam)

	case c.Store == nil:
		return fmt.Errorf("%w: store", ErrMissingParam)
	}

	if c.FeePerKb.Equal(btcunit.ZeroSatPerKByte) {
		c.FeePerKb = btcunit.DefaultSatPerKByte
	}
	if c.GapLimit == 0 {
		c.GapLimit = DefaultGapLimit
	}
	if c.CoinSelection == nil {
		c.CoinSelection = CoinSelectionOldest
	}
	if c.WriteBehind && c.FlushTicker == nil {
		c.FlushTicker = ticker.New(DefaultFlushInterval)
	}
	if c.Clock == nil {
		c.Clock = clock.NewDefaultClock()
	}

	return nil
}
