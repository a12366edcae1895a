// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/spvwallet/bip32"
	"github.com/btcsuite/spvwallet/keyseq"
	"github.com/btcsuite/spvwallet/waddrmgr"
)

// derivationInfo returns the BIP32 derivation of a wallet address, rooted at
// the master key: m/0'/branch/index. The psbt package writes the fingerprint
// little endian, so it is read that way from the blob to keep the HASH160
// byte order on the wire.
func (w *Wallet) derivationInfo(
	addr *waddrmgr.ManagedAddress) *psbt.Bip32Derivation {

	branch := keyseq.ExternalBranch
	if addr.Internal {
		branch = keyseq.InternalBranch
	}

	return &psbt.Bip32Derivation{
		PubKey:               append([]byte(nil), addr.PubKey[:]...),
		MasterKeyFingerprint: binary.LittleEndian.Uint32(w.mpk[:4]),
		Bip32Path: []uint32{
			bip32.HardenedKeyStart,
			branch,
			addr.Index,
		},
	}
}

// addInputInfo adds the UTXO and BIP32 derivation info for a P2PKH input.
func addInputInfo(in *psbt.PInput, prevTx *wire.MsgTx,
	derivation *psbt.Bip32Derivation) {

	// Legacy inputs carry the whole previous transaction.
	in.NonWitnessUtxo = prevTx
	in.SighashType = txscript.SigHashAll
	in.Bip32Derivation = []*psbt.Bip32Derivation{
		derivation,
	}
}

// FundedPsbt converts an unsigned transaction spending wallet outputs into a
// PSBT packet an offline signer holding the seed can sign. Every input must
// spend a wallet output. Outputs paying to the wallet, such as change, get
// their derivation path too.
func (w *Wallet) FundedPsbt(tx *wire.MsgTx) (*psbt.Packet, error) {
	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, fmt.Errorf("unable to create psbt: %w", err)
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	for idx, txIn := range tx.TxIn {
		op := txIn.PreviousOutPoint

		prevTx, err := w.txs.Tx(op.Hash).UnwrapOrErr(
			fmt.Errorf("%w: input %d spends unknown %v",
				ErrUtxoNotEligible, idx, op),
		)
		if err != nil {
			return nil, err
		}

		if op.Index >= uint32(len(prevTx.MsgTx.TxOut)) {
			return nil, fmt.Errorf("%w: input %d spends missing "+
				"output %v", ErrUtxoNotEligible, idx, op)
		}
		utxo := prevTx.MsgTx.TxOut[op.Index]

		addr, err := w.addrs.AddressForScript(utxo.PkScript).UnwrapOrErr(
			fmt.Errorf("%w: input %d spends non wallet output %v",
				ErrUtxoNotEligible, idx, op),
		)
		if err != nil {
			return nil, err
		}

		addInputInfo(
			&packet.Inputs[idx], prevTx.MsgTx.Copy(),
			w.derivationInfo(addr),
		)
	}

	for idx, txOut := range tx.TxOut {
		w.addrs.AddressForScript(txOut.PkScript).WhenSome(
			func(addr *waddrmgr.ManagedAddress) {
				packet.Outputs[idx] = psbt.POutput{
					Bip32Derivation: []*psbt.Bip32Derivation{
						w.derivationInfo(addr),
					},
				}
			},
		)
	}

	log.Debugf("Created PSBT for %v: %v", tx.TxHash(),
		newLogClosure(func() string {
			b64, err := packet.B64Encode()
			if err != nil {
				return err.Error()
			}

			return b64
		}))

	return packet, nil
}
