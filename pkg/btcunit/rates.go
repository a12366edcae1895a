// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcunit provides a set of types for dealing with bitcoin units.
package btcunit

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

const (
	// kilo is a generic multiplier for kilo units.
	kilo = 1000
)

var (
	// ZeroSatPerKByte is a fee rate of 0 sat/kB.
	ZeroSatPerKByte = NewSatPerKByte(0)

	// DefaultSatPerKByte is the default relay fee rate of the network.
	DefaultSatPerKByte = NewSatPerKByte(txrules.DefaultRelayFeePerKb)
)

// SatPerKByte represents a linear fee rate in satoshis per started kilobyte
// of serialized transaction size. A partial kilobyte is charged as a full
// one.
type SatPerKByte struct {
	rate btcutil.Amount
}

// NewSatPerKByte creates a new fee rate in sat/kB.
func NewSatPerKByte(rate btcutil.Amount) SatPerKByte {
	if rate < 0 {
		rate = 0
	}

	return SatPerKByte{rate: rate}
}

// Amount returns the fee charged for one kilobyte.
func (s SatPerKByte) Amount() btcutil.Amount {
	return s.rate
}

// FeeForSize calculates the fee for a transaction of the given size,
// rounding the size up to whole kilobytes.
func (s SatPerKByte) FeeForSize(size Bytes) btcutil.Amount {
	kb := (size.n + kilo - 1) / kilo

	return btcutil.Amount(safeUint64ToInt64(kb)) * s.rate
}

// DustThreshold returns the smallest output value to a P2PKH script that is
// not considered dust at this rate. It is the boundary of the relay rule
// applied by txrules.IsDustOutput: an output is dust when
// value*1000/spendCost < rate, where spendCost is three times the size of
// the output plus a typical input redeeming it.
func (s SatPerKByte) DustThreshold() btcutil.Amount {
	spendCost := mempool.GetDustThreshold(p2pkhTemplate)

	// Smallest value with value*1000 >= rate*spendCost.
	threshold := (int64(s.rate)*spendCost + kilo - 1) / kilo

	return btcutil.Amount(threshold)
}

// p2pkhTemplate is an output shaped like a pay-to-pubkey-hash output. Only
// its script length and class matter for the dust cost.
var p2pkhTemplate = func() *wire.TxOut {
	script := make([]byte, txsizes.P2PKHPkScriptSize)
	script[0] = txscript.OP_DUP
	script[1] = txscript.OP_HASH160
	script[2] = txscript.OP_DATA_20
	script[23] = txscript.OP_EQUALVERIFY
	script[24] = txscript.OP_CHECKSIG

	return wire.NewTxOut(0, script)
}()

// String returns a human-readable string of the fee rate.
func (s SatPerKByte) String() string {
	return fmt.Sprintf("%d sat/kB", int64(s.rate))
}

// Equal returns true if the fee rate is equal to the other fee rate.
func (s SatPerKByte) Equal(other SatPerKByte) bool {
	return s.rate == other.rate
}

// GreaterThan returns true if the fee rate is greater than the other fee rate.
func (s SatPerKByte) GreaterThan(other SatPerKByte) bool {
	return s.rate > other.rate
}

// LessThan returns true if the fee rate is less than the other fee rate.
func (s SatPerKByte) LessThan(other SatPerKByte) bool {
	return s.rate < other.rate
}
