// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keyseq maps wallet level key requests onto fixed BIP0032 paths.
//
// Payment keys live under m/0'/0/n (external, receive) and m/0'/1/n
// (internal, change). The authentication key is m/1'/0. Only the 69-byte
// master public key blob of m/0' is ever kept by a wallet; private keys are
// re-derived from the seed on demand.
package keyseq

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/spvwallet/bip32"
	"golang.org/x/sync/errgroup"
)

const (
	// MasterPubKeyLen is the length of the master public key blob:
	// fingerprint(4) || chain code(32) || compressed pubkey(33).
	MasterPubKeyLen = 4 + bip32.ChainCodeLen + bip32.PubKeyLen

	// ExternalBranch is the chain selector of receive addresses.
	ExternalBranch uint32 = 0

	// InternalBranch is the chain selector of change addresses.
	InternalBranch uint32 = 1

	// paymentAccount is the hardened account index of payment keys.
	paymentAccount = bip32.HardenedKeyStart + 0

	// authAccount is the hardened account index of the auth key.
	authAccount = bip32.HardenedKeyStart + 1
)

var (
	// ErrShortMasterPubKey is returned when a master public key blob is
	// shorter than MasterPubKeyLen.
	ErrShortMasterPubKey = errors.New("master public key too short")
)

// MasterPubKey is the public half of the m/0' node, stored as
// fingerprint || chain code || compressed public key. The fingerprint is
// that of the master public key m.
type MasterPubKey [MasterPubKeyLen]byte

// ParseMasterPubKey copies a raw blob into a MasterPubKey. Trailing bytes
// beyond MasterPubKeyLen are ignored.
func ParseMasterPubKey(b []byte) (MasterPubKey, error) {
	var mpk MasterPubKey
	if len(b) < MasterPubKeyLen {
		return mpk, fmt.Errorf("%w: %d bytes", ErrShortMasterPubKey,
			len(b))
	}

	copy(mpk[:], b)

	return mpk, nil
}

// Fingerprint returns the parent fingerprint stored in the blob.
func (m MasterPubKey) Fingerprint() uint32 {
	return binary.BigEndian.Uint32(m[:4])
}

// ChainCode returns the chain code of m/0'.
func (m MasterPubKey) ChainCode() bip32.ChainCode {
	var c bip32.ChainCode
	copy(c[:], m[4:4+bip32.ChainCodeLen])

	return c
}

// PubKey returns the compressed public key of m/0'.
func (m MasterPubKey) PubKey() bip32.PubKey {
	var p bip32.PubKey
	copy(p[:], m[4+bip32.ChainCodeLen:])

	return p
}

// Sequence derives wallet keys for a network.
type Sequence struct {
	params *chaincfg.Params
}

// New returns a Sequence that encodes keys for the given network.
func New(params *chaincfg.Params) *Sequence {
	return &Sequence{params: params}
}

// Params returns the network parameters of the sequence.
func (s *Sequence) Params() *chaincfg.Params {
	return s.params
}

// branch maps the internal flag to its chain selector.
func branch(internal bool) uint32 {
	if internal {
		return InternalBranch
	}

	return ExternalBranch
}

// MasterPublicKeyFromSeed derives m/0' from the seed and returns its public
// blob.
func (s *Sequence) MasterPublicKeyFromSeed(seed []byte) (MasterPubKey,
	error) {

	var mpk MasterPubKey

	master, chainCode, err := bip32.MasterKeyFromSeed(seed)
	if err != nil {
		return mpk, err
	}
	defer master.Zero()

	masterPub, err := master.PubKey()
	if err != nil {
		return mpk, err
	}

	account, accountCode, err := bip32.DeriveChildPrivate(
		master, chainCode, paymentAccount,
	)
	if err != nil {
		return mpk, err
	}
	defer account.Zero()

	accountPub, err := account.PubKey()
	if err != nil {
		return mpk, err
	}

	binary.BigEndian.PutUint32(mpk[:4], bip32.Fingerprint(masterPub))
	copy(mpk[4:], accountCode[:])
	copy(mpk[4+bip32.ChainCodeLen:], accountPub[:])

	return mpk, nil
}

// branchKey derives the public key and chain code of m/0'/branch.
func branchKey(mpk []byte, internal bool) (bip32.PubKey, bip32.ChainCode,
	error) {

	m, err := ParseMasterPubKey(mpk)
	if err != nil {
		return bip32.PubKey{}, bip32.ChainCode{}, err
	}

	return bip32.DeriveChildPublic(m.PubKey(), m.ChainCode(),
		branch(internal))
}

// PublicKey returns the public key at m/0'/{0|1}/index derived from the
// master public key blob alone.
func (s *Sequence) PublicKey(index uint32, internal bool,
	mpk []byte) (bip32.PubKey, error) {

	pub, chainCode, err := branchKey(mpk, internal)
	if err != nil {
		return bip32.PubKey{}, err
	}

	key, _, err := bip32.DeriveChildPublic(pub, chainCode, index)
	if err != nil {
		return bip32.PubKey{}, fmt.Errorf("index %d: %w", index, err)
	}

	return key, nil
}

// PublicKeys derives count consecutive public keys starting at start. The
// branch node is derived once and the children are computed concurrently.
// The result is ordered by index. An index that has no valid key fails the
// whole batch with an error wrapping bip32.ErrInvalidChild.
func (s *Sequence) PublicKeys(ctx context.Context, start, count uint32,
	internal bool, mpk []byte) ([]bip32.PubKey, error) {

	pub, chainCode, err := branchKey(mpk, internal)
	if err != nil {
		return nil, err
	}

	keys := make([]bip32.PubKey, count)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i := uint32(0); i < count; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			index := start + i
			key, _, err := bip32.DeriveChildPublic(
				pub, chainCode, index,
			)
			if err != nil {
				return fmt.Errorf("index %d: %w", index, err)
			}

			keys[i] = key

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return keys, nil
}

// privateKey derives the scalar at path from the seed. The caller must zero
// the result.
func privateKey(seed []byte, path ...uint32) (bip32.PrivateKey, error) {
	master, chainCode, err := bip32.MasterKeyFromSeed(seed)
	if err != nil {
		return bip32.PrivateKey{}, err
	}

	key, _, err := bip32.DerivePrivatePath(master, chainCode, path...)
	master.Zero()

	return key, err
}

// branchPrivateKey derives the private key and chain code of m/0'/branch.
func branchPrivateKey(seed []byte, internal bool) (bip32.PrivateKey,
	bip32.ChainCode, error) {

	master, chainCode, err := bip32.MasterKeyFromSeed(seed)
	if err != nil {
		return bip32.PrivateKey{}, bip32.ChainCode{}, err
	}
	defer master.Zero()

	return bip32.DerivePrivatePath(
		master, chainCode, paymentAccount, branch(internal),
	)
}

// wif encodes a scalar as a compressed WIF string for the network.
func (s *Sequence) wif(key *bip32.PrivateKey) (string, error) {
	priv, _ := btcec.PrivKeyFromBytes(key[:])
	defer priv.Zero()

	w, err := btcutil.NewWIF(priv, s.params, true)
	if err != nil {
		return "", err
	}

	return w.String(), nil
}

// PrivateKeys returns the WIF encoded private keys at m/0'/{0|1}/i for every
// index. The seed is not retained or modified.
func (s *Sequence) PrivateKeys(indices []uint32, internal bool,
	seed []byte) ([]string, error) {

	keys, err := s.privKeys(seed, indices, internal)
	if err != nil {
		return nil, err
	}
	defer zeroKeys(keys)

	wifs := make([]string, 0, len(keys))
	for _, key := range keys {
		var scalar bip32.PrivateKey
		key.Key.PutBytes((*[bip32.PrivateKeyLen]byte)(&scalar))

		w, err := s.wif(&scalar)
		scalar.Zero()
		if err != nil {
			return nil, err
		}

		wifs = append(wifs, w)
	}

	return wifs, nil
}

// privKeys derives the btcec private keys for indices on one branch.
func (s *Sequence) privKeys(seed []byte, indices []uint32,
	internal bool) ([]*btcec.PrivateKey, error) {

	if len(indices) == 0 {
		return nil, nil
	}

	parent, parentCode, err := branchPrivateKey(seed, internal)
	if err != nil {
		return nil, err
	}
	defer parent.Zero()

	keys := make([]*btcec.PrivateKey, 0, len(indices))
	for _, index := range indices {
		child, _, err := bip32.DeriveChildPrivate(
			parent, parentCode, index,
		)
		if err != nil {
			zeroKeys(keys)
			return nil, fmt.Errorf("index %d: %w", index, err)
		}

		priv, _ := btcec.PrivKeyFromBytes(child[:])
		child.Zero()

		keys = append(keys, priv)
	}

	return keys, nil
}

// PrivKeysForPaths returns signing keys for the given external indices
// followed by the given internal indices. The caller owns the keys and
// should call Zero on each once done.
func (s *Sequence) PrivKeysForPaths(seed []byte, external,
	internal []uint32) ([]*btcec.PrivateKey, error) {

	extKeys, err := s.privKeys(seed, external, false)
	if err != nil {
		return nil, err
	}

	intKeys, err := s.privKeys(seed, internal, true)
	if err != nil {
		zeroKeys(extKeys)
		return nil, err
	}

	return append(extKeys, intKeys...), nil
}

// AuthPrivateKey returns the WIF encoded authentication key at m/1'/0.
func (s *Sequence) AuthPrivateKey(seed []byte) (string, error) {
	key, err := privateKey(seed, authAccount, 0)
	if err != nil {
		return "", err
	}
	defer key.Zero()

	return s.wif(&key)
}

// AuthPublicKey returns the public key of the authentication key.
func (s *Sequence) AuthPublicKey(seed []byte) (bip32.PubKey, error) {
	key, err := privateKey(seed, authAccount, 0)
	if err != nil {
		return bip32.PubKey{}, err
	}
	defer key.Zero()

	return key.PubKey()
}

// zeroKeys wipes every key in the slice.
func zeroKeys(keys []*btcec.PrivateKey) {
	for _, k := range keys {
		k.Zero()
	}
}
