// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bip32

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// childDataLen is the length of the HMAC message used for child derivation:
// a 33-byte key followed by a 4-byte big-endian index.
const childDataLen = PubKeyLen + 4

var (
	// masterKey is the HMAC key used to generate the master node from a
	// seed.
	masterKey = []byte("Bitcoin seed")
)

// hmac512 computes HMAC-SHA512 of data keyed by key. The caller owns the
// returned array and must wipe it if it contains secrets.
func hmac512(key, data []byte) [64]byte {
	var out [64]byte

	mac := hmac.New(sha512.New, key)
	_, _ = mac.Write(data)
	mac.Sum(out[:0])

	return out
}

// MasterKeyFromSeed computes the master node from a seed. The left half of
// HMAC-SHA512("Bitcoin seed", seed) is the secret scalar and the right half
// the chain code.
func MasterKeyFromSeed(seed []byte) (PrivateKey, ChainCode, error) {
	var (
		key       PrivateKey
		chainCode ChainCode
	)

	if len(seed) == 0 {
		return key, chainCode, ErrNoSeed
	}

	digest := hmac512(masterKey, seed)
	defer zeroBytes(digest[:])

	copy(key[:], digest[:PrivateKeyLen])
	copy(chainCode[:], digest[PrivateKeyLen:])

	s, err := key.scalar()
	if err != nil {
		key.Zero()
		return key, ChainCode{}, ErrUnusableSeed
	}
	s.Zero()

	return key, chainCode, nil
}

// DeriveChildPrivate derives the private child at index from the parent
// scalar and chain code. Indices at or above HardenedKeyStart produce
// hardened children.
//
// An index that yields IL >= n or a zero scalar returns ErrInvalidChild; the
// function never retries on its own.
func DeriveChildPrivate(parent PrivateKey, chainCode ChainCode,
	index uint32) (PrivateKey, ChainCode, error) {

	defer parent.Zero()

	var (
		child     PrivateKey
		childCode ChainCode
	)

	k, err := parent.scalar()
	if err != nil {
		return child, childCode, err
	}
	defer k.Zero()

	var data [childDataLen]byte
	defer zeroBytes(data[:])

	if index >= HardenedKeyStart {
		// 0x00 || ser256(k) || ser32(i)
		copy(data[1:PubKeyLen], parent[:])
	} else {
		// serP(point(k)) || ser32(i)
		pub, err := parent.PubKey()
		if err != nil {
			return child, childCode, err
		}
		copy(data[:PubKeyLen], pub[:])
	}
	binary.BigEndian.PutUint32(data[PubKeyLen:], index)

	digest := hmac512(chainCode[:], data[:])
	defer zeroBytes(digest[:])

	var il secp256k1.ModNScalar
	defer il.Zero()

	if il.SetByteSlice(digest[:PrivateKeyLen]) {
		return child, childCode, ErrInvalidChild
	}

	il.Add(&k)
	if il.IsZero() {
		return child, childCode, ErrInvalidChild
	}

	il.PutBytes((*[PrivateKeyLen]byte)(&child))
	copy(childCode[:], digest[PrivateKeyLen:])

	return child, childCode, nil
}

// DeriveChildPublic derives the public child at index from the parent point
// and chain code. Hardened indices cannot be derived from a public key and
// yield ErrDeriveHardFromPublic.
func DeriveChildPublic(parent PubKey, chainCode ChainCode,
	index uint32) (PubKey, ChainCode, error) {

	var (
		child     PubKey
		childCode ChainCode
	)

	if index >= HardenedKeyStart {
		return child, childCode, ErrDeriveHardFromPublic
	}

	parentKey, err := secp256k1.ParsePubKey(parent[:])
	if err != nil {
		return child, childCode, fmt.Errorf("%w: %v", ErrInvalidKey,
			err)
	}

	var data [childDataLen]byte
	copy(data[:PubKeyLen], parent[:])
	binary.BigEndian.PutUint32(data[PubKeyLen:], index)

	digest := hmac512(chainCode[:], data[:])
	defer zeroBytes(digest[:])

	var il secp256k1.ModNScalar
	defer il.Zero()

	if il.SetByteSlice(digest[:PrivateKeyLen]) {
		return child, childCode, ErrInvalidChild
	}

	// point(IL) + K
	var ilPoint, parentPoint, childPoint secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&il, &ilPoint)
	parentKey.AsJacobian(&parentPoint)
	secp256k1.AddNonConst(&ilPoint, &parentPoint, &childPoint)
	childPoint.ToAffine()

	if childPoint.X.IsZero() && childPoint.Y.IsZero() {
		return child, childCode, ErrInvalidChild
	}

	copy(child[:], secp256k1.NewPublicKey(&childPoint.X, &childPoint.Y).
		SerializeCompressed())
	copy(childCode[:], digest[PrivateKeyLen:])

	return child, childCode, nil
}

// DerivePrivatePath applies DeriveChildPrivate for every index in path.
func DerivePrivatePath(key PrivateKey, chainCode ChainCode,
	path ...uint32) (PrivateKey, ChainCode, error) {

	for _, index := range path {
		var err error
		key, chainCode, err = DeriveChildPrivate(key, chainCode, index)
		if err != nil {
			return PrivateKey{}, ChainCode{}, err
		}
	}

	return key, chainCode, nil
}
