// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bip32

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	// SerializedKeyLen is the length of a serialized extended key without
	// its checksum: version(4) || depth(1) || fingerprint(4) ||
	// child(4) || chain code(32) || key(33).
	SerializedKeyLen = 4 + 1 + 4 + 4 + ChainCodeLen + PubKeyLen

	// checksumLen is the length of the base58check checksum.
	checksumLen = 4
)

var (
	// XprvVersion is the mainnet version prefix of serialized private
	// extended keys.
	XprvVersion = [4]byte{0x04, 0x88, 0xad, 0xe4}

	// XpubVersion is the mainnet version prefix of serialized public
	// extended keys.
	XpubVersion = [4]byte{0x04, 0x88, 0xb2, 0x1e}

	// ErrMalformedKey is returned when a serialized extended key cannot be
	// accepted: bad encoding, checksum, length, version, depth or child
	// index.
	ErrMalformedKey = errors.New("malformed extended key")

	// ErrInvalidKeyLen is returned when the key material handed to the
	// serializer is neither a 32-byte scalar nor a 33-byte point.
	ErrInvalidKeyLen = errors.New("key material must be 32 or 33 bytes")
)

// ExtendedKey is the decoded form of a serialized BIP0032 extended key.
type ExtendedKey struct {
	// Version is the four byte network/visibility prefix.
	Version [4]byte

	// Depth is the number of derivations from the master node.
	Depth uint8

	// ParentFP is the fingerprint of the parent's public key.
	ParentFP uint32

	// ChildIndex is the index this key was derived at.
	ChildIndex uint32

	// ChainCode is the chain code of the key.
	ChainCode ChainCode

	// Key holds either 0x00 || scalar or a compressed point.
	Key [PubKeyLen]byte
}

// IsPrivate reports whether the key carries a private scalar.
func (e *ExtendedKey) IsPrivate() bool {
	return e.Version == XprvVersion
}

// PrivateKey returns the private scalar of a private extended key.
func (e *ExtendedKey) PrivateKey() (PrivateKey, error) {
	var key PrivateKey
	if !e.IsPrivate() {
		return key, ErrInvalidKey
	}

	copy(key[:], e.Key[1:])

	return key, nil
}

// PubKey returns the public point of the extended key, computing it from the
// scalar for private keys.
func (e *ExtendedKey) PubKey() (PubKey, error) {
	if !e.IsPrivate() {
		return PubKey(e.Key), nil
	}

	key, err := e.PrivateKey()
	if err != nil {
		return PubKey{}, err
	}
	defer key.Zero()

	return key.PubKey()
}

// Zero wipes the key material.
func (e *ExtendedKey) Zero() {
	zeroBytes(e.Key[:])
	zeroBytes(e.ChainCode[:])
}

// String returns the base58check serialization of the key.
func (e *ExtendedKey) String() string {
	keyBytes := e.Key[:]
	if e.IsPrivate() {
		keyBytes = e.Key[1:]
	}

	s, err := SerializeExtendedKey(
		e.Depth, e.ParentFP, e.ChildIndex, e.ChainCode, keyBytes,
	)
	if err != nil {
		return ""
	}

	return s
}

// SerializeExtendedKey encodes an extended key in the 78-byte BIP0032 layout
// followed by a base58check checksum. A 32-byte scalar selects the private
// version prefix and a 33-byte compressed point the public one.
func SerializeExtendedKey(depth uint8, fingerprint, childIndex uint32,
	chainCode ChainCode, keyBytes []byte) (string, error) {

	var version [4]byte
	switch len(keyBytes) {
	case PrivateKeyLen:
		version = XprvVersion

	case PubKeyLen:
		version = XpubVersion

	default:
		return "", fmt.Errorf("%w: got %d", ErrInvalidKeyLen,
			len(keyBytes))
	}

	var buf [SerializedKeyLen + checksumLen]byte
	defer zeroBytes(buf[:])

	copy(buf[0:4], version[:])
	buf[4] = depth
	binary.BigEndian.PutUint32(buf[5:9], fingerprint)
	binary.BigEndian.PutUint32(buf[9:13], childIndex)
	copy(buf[13:45], chainCode[:])

	// Private keys are padded with a leading zero byte to 33 bytes.
	copy(buf[SerializedKeyLen-len(keyBytes):SerializedKeyLen], keyBytes)

	checksum := chainhash.DoubleHashB(buf[:SerializedKeyLen])
	copy(buf[SerializedKeyLen:], checksum[:checksumLen])

	return base58.Encode(buf[:]), nil
}

// ParseExtendedKey decodes a serialized extended key and checks that it is
// exactly the key the caller expects: the version prefix, depth and child
// index must all match. Any mismatch returns an error wrapping
// ErrMalformedKey and no partial key.
func ParseExtendedKey(s string, expectedDepth uint8, expectedChildIndex uint32,
	expectedVersion [4]byte) (*ExtendedKey, error) {

	decoded := base58.Decode(s)
	defer zeroBytes(decoded)

	if len(decoded) != SerializedKeyLen+checksumLen {
		return nil, fmt.Errorf("%w: length %d", ErrMalformedKey,
			len(decoded))
	}

	payload := decoded[:SerializedKeyLen]
	checksum := chainhash.DoubleHashB(payload)
	if !bytes.Equal(checksum[:checksumLen], decoded[SerializedKeyLen:]) {
		return nil, fmt.Errorf("%w: bad checksum", ErrMalformedKey)
	}

	var version [4]byte
	copy(version[:], payload[0:4])
	if version != expectedVersion {
		return nil, fmt.Errorf("%w: unexpected version %x",
			ErrMalformedKey, version)
	}

	depth := payload[4]
	if depth != expectedDepth {
		return nil, fmt.Errorf("%w: depth %d, want %d",
			ErrMalformedKey, depth, expectedDepth)
	}

	childIndex := binary.BigEndian.Uint32(payload[9:13])
	if childIndex != expectedChildIndex {
		return nil, fmt.Errorf("%w: child index %d, want %d",
			ErrMalformedKey, childIndex, expectedChildIndex)
	}

	key := &ExtendedKey{
		Version:    version,
		Depth:      depth,
		ParentFP:   binary.BigEndian.Uint32(payload[5:9]),
		ChildIndex: childIndex,
	}
	copy(key.ChainCode[:], payload[13:45])
	copy(key.Key[:], payload[45:SerializedKeyLen])

	switch version {
	case XprvVersion:
		priv, err := key.PrivateKey()
		if err == nil {
			var s secp256k1.ModNScalar
			s, err = priv.scalar()
			s.Zero()
		}
		priv.Zero()

		if key.Key[0] != 0x00 || err != nil {
			key.Zero()
			return nil, fmt.Errorf("%w: invalid private key",
				ErrMalformedKey)
		}

	default:
		if !PubKey(key.Key).Valid() {
			return nil, fmt.Errorf("%w: invalid public key",
				ErrMalformedKey)
		}
	}

	return key, nil
}
