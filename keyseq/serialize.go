// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyseq

import (
	"encoding/binary"

	"github.com/btcsuite/spvwallet/bip32"
)

// SerializedMasterPrivateKey returns the xprv string of the master node m.
func (s *Sequence) SerializedMasterPrivateKey(seed []byte) (string, error) {
	master, chainCode, err := bip32.MasterKeyFromSeed(seed)
	if err != nil {
		return "", err
	}
	defer master.Zero()

	return bip32.SerializeExtendedKey(0, 0, 0, chainCode, master[:])
}

// ParseMasterPrivateKey decodes an xprv string of a master node. The caller
// should call Zero on the result once done with it.
func (s *Sequence) ParseMasterPrivateKey(str string) (*bip32.ExtendedKey,
	error) {

	return bip32.ParseExtendedKey(str, 0, 0, bip32.XprvVersion)
}

// SerializedMasterPublicKey returns the xpub string of m/0' stored in the
// master public key blob.
func (s *Sequence) SerializedMasterPublicKey(mpk []byte) (string, error) {
	m, err := ParseMasterPubKey(mpk)
	if err != nil {
		return "", err
	}

	pub := m.PubKey()

	return bip32.SerializeExtendedKey(
		1, m.Fingerprint(), paymentAccount, m.ChainCode(), pub[:],
	)
}

// ParseMasterPublicKey decodes an xpub string of m/0' back into the master
// public key blob.
func (s *Sequence) ParseMasterPublicKey(str string) (MasterPubKey, error) {
	var mpk MasterPubKey

	key, err := bip32.ParseExtendedKey(
		str, 1, paymentAccount, bip32.XpubVersion,
	)
	if err != nil {
		return mpk, err
	}

	binary.BigEndian.PutUint32(mpk[:4], key.ParentFP)
	copy(mpk[4:], key.ChainCode[:])
	copy(mpk[4+bip32.ChainCodeLen:], key.Key[:])

	return mpk, nil
}
