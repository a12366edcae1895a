// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bip32 implements BIP0032 hierarchical deterministic key derivation
// over raw scalars and compressed points, together with the extended key
// serialization format.
//
// Every function in this package is pure: it works on caller supplied fixed
// size values, keeps no shared state and is safe for concurrent use. Private
// intermediates are wiped before returning on every path.
package bip32

import (
	"encoding/binary"
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	// HardenedKeyStart is the index at which a hardened key starts. Each
	// extended key has 2^31 normal child keys and 2^31 hardened child
	// keys.
	HardenedKeyStart = uint32(0x80000000)

	// PrivateKeyLen is the length of a serialized private scalar.
	PrivateKeyLen = 32

	// PubKeyLen is the length of a compressed public key.
	PubKeyLen = 33

	// ChainCodeLen is the length of a chain code.
	ChainCodeLen = 32
)

var (
	// ErrNoSeed is returned when a derivation is requested without any
	// seed material.
	ErrNoSeed = errors.New("no seed provided")

	// ErrUnusableSeed is returned when a seed produces a master scalar
	// that is zero or not below the curve order.
	ErrUnusableSeed = errors.New("unusable seed")

	// ErrInvalidChild is returned when a child index produces an invalid
	// key (IL >= n, a zero scalar or the point at infinity). BIP0032 asks
	// callers to move on to the next index in that case.
	ErrInvalidChild = errors.New("the extended key at this index is " +
		"invalid")

	// ErrDeriveHardFromPublic is returned when a hardened child is
	// requested from a public key. Hardened derivation mixes in the
	// parent's private scalar, so public-only derivation cannot produce
	// it.
	ErrDeriveHardFromPublic = errors.New("cannot derive a hardened key " +
		"from a public key")

	// ErrInvalidKey is returned when a scalar is zero or out of range, or
	// when a public key is not a valid point on the curve.
	ErrInvalidKey = errors.New("invalid key material")
)

// PrivateKey is a 32-byte big-endian secp256k1 scalar.
type PrivateKey [PrivateKeyLen]byte

// ChainCode is the 32-byte chain code entangled with every extended key.
type ChainCode [ChainCodeLen]byte

// PubKey is a 33-byte compressed secp256k1 point.
type PubKey [PubKeyLen]byte

// Zero wipes the scalar.
func (k *PrivateKey) Zero() {
	zeroBytes(k[:])
}

// scalar loads the key into a ModNScalar, rejecting zero and out of range
// values. The caller must zero the returned scalar.
func (k *PrivateKey) scalar() (secp256k1.ModNScalar, error) {
	var s secp256k1.ModNScalar
	overflow := s.SetBytes((*[PrivateKeyLen]byte)(k))
	if overflow != 0 || s.IsZero() {
		s.Zero()
		return s, ErrInvalidKey
	}

	return s, nil
}

// PubKey returns the compressed public point for the scalar.
func (k *PrivateKey) PubKey() (PubKey, error) {
	var pub PubKey

	s, err := k.scalar()
	if err != nil {
		return pub, err
	}
	defer s.Zero()

	var point secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&s, &point)
	point.ToAffine()

	copy(pub[:], secp256k1.NewPublicKey(&point.X, &point.Y).
		SerializeCompressed())

	return pub, nil
}

// Valid reports whether the public key encodes a point on the curve.
func (p PubKey) Valid() bool {
	_, err := secp256k1.ParsePubKey(p[:])
	return err == nil
}

// Fingerprint returns the key identifier fingerprint of the public key: the
// first four bytes of its HASH160 read as a big-endian integer.
func Fingerprint(pub PubKey) uint32 {
	return binary.BigEndian.Uint32(btcutil.Hash160(pub[:])[:4])
}

// zeroBytes wipes the passed slice.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
