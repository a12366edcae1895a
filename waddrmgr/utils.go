// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// pubKeyHash is the HASH160 of a compressed public key, the identity of a
// wallet address.
type pubKeyHash [20]byte

// hashFromScript returns the public key hash paid to by a P2PKH output
// script.
func hashFromScript(pkScript []byte, params *chaincfg.Params) (pubKeyHash,
	bool) {

	var h pubKeyHash

	class, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil || class != txscript.PubKeyHashTy || len(addrs) != 1 {
		return h, false
	}

	copy(h[:], addrs[0].ScriptAddress())

	return h, true
}

// hashFromSigScript returns the public key hash of the key revealed by a
// P2PKH signature script, which pushes a signature followed by the public
// key.
func hashFromSigScript(sigScript []byte) (pubKeyHash, bool) {
	var h pubKeyHash

	pushes, err := txscript.PushedData(sigScript)
	if err != nil || len(pushes) < 2 {
		return h, false
	}

	pub := pushes[len(pushes)-1]
	if _, err := btcec.ParsePubKey(pub); err != nil {
		return h, false
	}

	copy(h[:], btcutil.Hash160(pub))

	return h, true
}
