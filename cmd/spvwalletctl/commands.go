// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/btcsuite/spvwallet/keyseq"
	"github.com/btcsuite/spvwallet/wallet"
	"github.com/btcsuite/spvwallet/wallet/store/kvdb"
)

// output is where command results are printed. Logs go to stderr.
var output io.Writer = os.Stdout

// seedFromMnemonic normalizes the whitespace of words and stretches them
// into a seed.
func seedFromMnemonic(words, passphrase string) ([]byte, error) {
	return keyseq.SeedFromMnemonic(
		strings.Join(strings.Fields(words), " "), passphrase,
	)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// newMnemonicCommand prints a fresh mnemonic.
type newMnemonicCommand struct{}

// Execute implements flags.Commander.
func (c *newMnemonicCommand) Execute(_ []string) error {
	words, err := keyseq.NewMnemonic()
	if err != nil {
		return err
	}

	fmt.Fprintln(output, words)

	return nil
}

// xpubCommand prints the master public key of a mnemonic.
type xpubCommand struct {
	Hex bool `long:"hex" description:"Print the raw master public key blob in hex instead"`

	cfg *config
}

// Execute implements flags.Commander.
func (c *xpubCommand) Execute(_ []string) error {
	seed, err := promptSeed()
	if err != nil {
		return err
	}
	defer zero(seed)

	return c.run(output, seed)
}

func (c *xpubCommand) run(out io.Writer, seed []byte) error {
	seq := keyseq.New(c.cfg.params)

	mpk, err := seq.MasterPublicKeyFromSeed(seed)
	if err != nil {
		return err
	}

	if c.Hex {
		fmt.Fprintln(out, hex.EncodeToString(mpk[:]))
		return nil
	}

	xpub, err := seq.SerializedMasterPublicKey(mpk[:])
	if err != nil {
		return err
	}

	fmt.Fprintln(out, xpub)

	return nil
}

// authKeyCommand prints the authentication public key of a mnemonic.
type authKeyCommand struct {
	cfg *config
}

// Execute implements flags.Commander.
func (c *authKeyCommand) Execute(_ []string) error {
	seed, err := promptSeed()
	if err != nil {
		return err
	}
	defer zero(seed)

	pub, err := keyseq.New(c.cfg.params).AuthPublicKey(seed)
	if err != nil {
		return err
	}

	fmt.Fprintln(output, hex.EncodeToString(pub[:]))

	return nil
}

// openWallet opens the wallet database of cfg and loads a watch-only wallet
// from it. The returned function closes the database.
func openWallet(ctx context.Context, cfg *config) (*wallet.Wallet, func(),
	error) {

	if cfg.XPub == "" {
		return nil, nil, errMissingXPub
	}

	mpk, err := keyseq.New(cfg.params).ParseMasterPublicKey(cfg.XPub)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid xpub: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, nil, err
	}

	st, err := kvdb.Open(cfg.dbPath(), kvdb.DefaultDBTimeout)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() {
		if err := st.Close(); err != nil {
			log.Errorf("Unable to close wallet database: %v", err)
		}
	}

	w, err := wallet.New(ctx, wallet.Config{
		ChainParams:  cfg.params,
		MasterPubKey: mpk[:],
		Store:        st,
		FeePerKb:     cfg.feeRate(),
		GapLimit:     cfg.GapLimit,
		WriteBehind:  cfg.WriteBehind,
	})
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	log.Debugf("Opened wallet at %v", cfg.dbPath())

	return w, closeStore, nil
}

// addressesCommand lists the wallet addresses.
type addressesCommand struct {
	Internal bool `long:"internal" description:"List change addresses instead of receive addresses"`
	Unused   bool `long:"unused" description:"Only list addresses no transaction used"`

	cfg *config
}

// Execute implements flags.Commander.
func (c *addressesCommand) Execute(_ []string) error {
	ctx := context.Background()

	w, closeStore, err := openWallet(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// Starting the wallet derives the gap limit addresses and Stop writes
	// them out.
	if err := w.Start(ctx); err != nil {
		return err
	}
	if err := w.Stop(ctx); err != nil {
		return err
	}

	for _, a := range w.Addresses() {
		if a.Internal != c.Internal {
			continue
		}
		if c.Unused && w.AddressIsUsed(a.Address) {
			continue
		}

		fmt.Fprintf(output, "%d\t%v\n", a.Index, a)
	}

	return nil
}

// balanceCommand prints the wallet balance.
type balanceCommand struct {
	Verbose bool `short:"v" long:"verbose" description:"Also list the unspent outputs"`

	cfg *config
}

// Execute implements flags.Commander.
func (c *balanceCommand) Execute(_ []string) error {
	ctx := context.Background()

	w, closeStore, err := openWallet(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	info, err := w.Info(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(output, "Balance:        %v\n", info.Balance)
	fmt.Fprintf(output, "Total received: %v\n", w.TotalReceived())
	fmt.Fprintf(output, "Total sent:     %v\n", w.TotalSent())
	fmt.Fprintf(output, "Transactions:   %d\n", info.NumTransactions)
	fmt.Fprintf(output, "Best height:    %d\n", info.BestHeight)

	if !c.Verbose {
		return nil
	}

	for _, credit := range w.UnspentOutputs() {
		fmt.Fprintf(output, "%v\t%v\t%d\n", credit.OutPoint,
			credit.Amount, credit.BlockHeight)
	}

	return nil
}
