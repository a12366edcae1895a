package btcunit

import (
	"fmt"
	"math"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

// Bytes defines a unit to express the legacy serialized size of a
// transaction.
type Bytes struct {
	n uint64
}

// NewBytes creates a new Bytes from a uint64 value.
func NewBytes(val uint64) Bytes {
	return Bytes{n: val}
}

// Uint64 returns the size as a plain integer.
func (b Bytes) Uint64() uint64 {
	return b.n
}

// Add returns the sum of two sizes.
func (b Bytes) Add(other Bytes) Bytes {
	return Bytes{n: b.n + other.n}
}

// String returns the string representation of the size.
func (b Bytes) String() string {
	return fmt.Sprintf("%d B", b.n)
}

// TxSize returns the serialized size of a transaction.
func TxSize(tx *wire.MsgTx) Bytes {
	return NewBytes(uint64(tx.SerializeSize()))
}

// EstimateP2PKHTxSize estimates the signed size of a transaction spending
// inputCount P2PKH inputs to the given outputs, optionally with one more
// P2PKH change output.
func EstimateP2PKHTxSize(inputCount int, outputs []*wire.TxOut,
	withChange bool) Bytes {

	size := txsizes.EstimateSerializeSize(inputCount, outputs, withChange)

	return NewBytes(uint64(size))
}

// safeUint64ToInt64 converts a uint64 to an int64, capping at math.MaxInt64.
func safeUint64ToInt64(u uint64) int64 {
	if u > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(u)
}
