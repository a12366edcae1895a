// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyseq

import (
	"errors"
	"fmt"

	"github.com/tyler-smith/go-bip39"
)

// MnemonicEntropyBits is the entropy size of generated mnemonics, giving
// twelve words.
const MnemonicEntropyBits = 128

var (
	// ErrInvalidMnemonic is returned when a phrase has an unknown word or a
	// bad checksum.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
)

// NewMnemonic returns a fresh BIP0039 phrase.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", err
	}
	defer zero(entropy)

	return bip39.NewMnemonic(entropy)
}

// SeedFromMnemonic checks the phrase and stretches it into a 64-byte seed.
// The caller must zero the seed once done.
func SeedFromMnemonic(words, passphrase string) ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(words, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}

	return seed, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
