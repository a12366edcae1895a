package main

import (
	"bytes"
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/spvwallet/keyseq"
	"github.com/stretchr/testify/require"
)

// testMnemonic is the first BIP0039 test vector phrase.
const testMnemonic = "abandon abandon abandon abandon abandon abandon " +
	"abandon abandon abandon abandon abandon about"

// TestConfigValidate checks the option validation.
func TestConfigValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		modify func(*config)
		params *chaincfg.Params
		err    string
	}{
		{
			name:   "defaults",
			modify: func(*config) {},
			params: &chaincfg.MainNetParams,
		},
		{
			name: "regtest",
			modify: func(c *config) {
				c.Network = "regtest"
			},
			params: &chaincfg.RegressionNetParams,
		},
		{
			name: "unknown network",
			modify: func(c *config) {
				c.Network = "litecoin"
			},
			err: "unknown network",
		},
		{
			name: "zero gap limit",
			modify: func(c *config) {
				c.GapLimit = 0
			},
			err: "gap limit",
		},
		{
			name: "fee too high",
			modify: func(c *config) {
				c.FeePerKb = 2e6
			},
			err: "out of range",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange.
			cfg := defaultConfig()
			cfg.DataDir = t.TempDir()
			tc.modify(&cfg)

			// Act.
			err := cfg.validate()

			// Assert.
			if tc.err != "" {
				require.ErrorContains(t, err, tc.err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.params, cfg.params)
			require.Equal(t, tc.params.Name, filepath.Base(cfg.DataDir))
			require.Equal(t, defaultDBFilename,
				filepath.Base(cfg.dbPath()))
		})
	}
}

// TestParseDebugLevels checks the debug level syntax.
func TestParseDebugLevels(t *testing.T) {
	require.NoError(t, parseAndSetDebugLevels("debug"))
	require.NoError(t, parseAndSetDebugLevels("BTWL=trace,KVDB=warn"))

	require.Error(t, parseAndSetDebugLevels("loud"))
	require.Error(t, parseAndSetDebugLevels("BTWL=trace,NOPE=info"))
	require.Error(t, parseAndSetDebugLevels("BTWL=trace,info"))

	require.NoError(t, parseAndSetDebugLevels(defaultLogLevel))
}

// TestXPubCommand checks that the printed xpub is the account key m/0' of
// the mnemonic seed and parses back into the same blob.
func TestXPubCommand(t *testing.T) {
	t.Parallel()

	// Arrange.
	cfg := defaultConfig()
	cfg.DataDir = t.TempDir()
	require.NoError(t, cfg.validate())

	seed, err := seedFromMnemonic("  "+testMnemonic+"\n", "")
	require.NoError(t, err)

	// Act.
	var out bytes.Buffer
	cmd := &xpubCommand{cfg: &cfg}
	require.NoError(t, cmd.run(&out, seed))

	// Assert: The account key matches an independent derivation.
	xpub := strings.TrimSpace(out.String())

	master, err := hdkeychain.NewMaster(seed, cfg.params)
	require.NoError(t, err)
	account, err := master.Derive(hdkeychain.HardenedKeyStart)
	require.NoError(t, err)
	accountPub, err := account.Neuter()
	require.NoError(t, err)
	require.Equal(t, accountPub.String(), xpub)

	// The hex form is the blob the xpub parses back into.
	mpk, err := keyseq.New(cfg.params).ParseMasterPublicKey(xpub)
	require.NoError(t, err)

	out.Reset()
	cmd.Hex = true
	require.NoError(t, cmd.run(&out, seed))
	require.Equal(t, hex.EncodeToString(mpk[:]),
		strings.TrimSpace(out.String()))
}

// TestSeedFromMnemonicInvalid checks that a bad phrase is rejected.
func TestSeedFromMnemonicInvalid(t *testing.T) {
	t.Parallel()

	_, err := seedFromMnemonic("abandon abandon", "")
	require.ErrorIs(t, err, keyseq.ErrInvalidMnemonic)
}
