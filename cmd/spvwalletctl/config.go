// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/spvwallet/pkg/btcunit"
	"github.com/btcsuite/spvwallet/wallet"
	"github.com/jessevdk/go-flags"
)

const (
	defaultLogLevel    = "info"
	defaultLogFilename = "spvwalletctl.log"
	defaultDBFilename  = "wallet.db"

	// maxFeePerKb guards against fat-fingered fee rates.
	maxFeePerKb = 1e6
)

var (
	defaultAppDataDir = btcutil.AppDataDir("spvwallet", false)
	defaultLogDir     = filepath.Join(defaultAppDataDir, "logs")

	// errMissingXPub is returned by commands that open the wallet when no
	// master public key was given.
	errMissingXPub = errors.New("--xpub is required")
)

// config defines the global options shared by every command.
type config struct {
	Network     string `long:"network" description:"Bitcoin network to use" choice:"mainnet" choice:"testnet3" choice:"regtest" choice:"simnet" choice:"signet"`
	DataDir     string `long:"datadir" description:"Directory to store the wallet database in"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	XPub        string `long:"xpub" description:"Serialized master public key (m/0') of the wallet"`
	GapLimit    uint32 `long:"gaplimit" description:"Number of unused addresses kept ahead on each chain"`
	FeePerKb    int64  `long:"feeperkb" description:"Fee rate in satoshis per kilobyte used to build transactions"`
	WriteBehind bool   `long:"writebehind" description:"Queue database writes and flush them in the background"`

	params *chaincfg.Params
}

// defaultConfig returns the options used when nothing is given on the
// command line.
func defaultConfig() config {
	return config{
		Network:    "mainnet",
		DataDir:    defaultAppDataDir,
		LogDir:     defaultLogDir,
		DebugLevel: defaultLogLevel,
		GapLimit:   wallet.DefaultGapLimit,
		FeePerKb:   int64(btcunit.DefaultSatPerKByte.Amount()),
	}
}

// netParams maps a network name to its chain parameters.
func netParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil

	case "testnet3":
		return &chaincfg.TestNet3Params, nil

	case "regtest":
		return &chaincfg.RegressionNetParams, nil

	case "simnet":
		return &chaincfg.SimNetParams, nil

	case "signet":
		return &chaincfg.SigNetParams, nil

	default:
		return nil, fmt.Errorf("unknown network: %v", network)
	}
}

// validate checks the parsed options and resolves the chain parameters.
// The data and log directories are made network specific.
func (c *config) validate() error {
	params, err := netParams(c.Network)
	if err != nil {
		return err
	}
	c.params = params

	if c.GapLimit == 0 {
		return fmt.Errorf("gap limit must be positive")
	}
	if c.FeePerKb <= 0 || c.FeePerKb > maxFeePerKb {
		return fmt.Errorf("fee rate %d sat/kB is out of range",
			c.FeePerKb)
	}

	c.DataDir = filepath.Join(cleanAndExpandPath(c.DataDir), params.Name)
	c.LogDir = filepath.Join(cleanAndExpandPath(c.LogDir), params.Name)

	return nil
}

// dbPath returns the location of the wallet database.
func (c *config) dbPath() string {
	return filepath.Join(c.DataDir, defaultDBFilename)
}

// feeRate returns the configured fee rate.
func (c *config) feeRate() btcunit.SatPerKByte {
	return btcunit.NewSatPerKByte(btcutil.Amount(c.FeePerKb))
}

// cleanAndExpandPath expands a leading ~ and environment variables and
// cleans the result.
func cleanAndExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	return filepath.Clean(os.ExpandEnv(path))
}

// newParser returns the option parser with every command registered.
func newParser(cfg *config) (*flags.Parser, error) {
	parser := flags.NewParser(cfg, flags.Default)

	commands := []struct {
		name  string
		short string
		long  string
		data  interface{}
	}{
		{
			name:  "newmnemonic",
			short: "Generate a new mnemonic phrase",
			long: "Print a fresh twelve word phrase the wallet " +
				"seed can be recovered from.",
			data: &newMnemonicCommand{},
		},
		{
			name:  "xpub",
			short: "Print the master public key of a mnemonic",
			long: "Read a mnemonic phrase and print the xpub " +
				"used with --xpub by the other commands.",
			data: &xpubCommand{cfg: cfg},
		},
		{
			name:  "authkey",
			short: "Print the authentication public key",
			long: "Read a mnemonic phrase and print the public " +
				"key of the authentication path.",
			data: &authKeyCommand{cfg: cfg},
		},
		{
			name:  "addresses",
			short: "List the wallet addresses",
			long: "Derive the gap limit addresses of both " +
				"chains and print them.",
			data: &addressesCommand{cfg: cfg},
		},
		{
			name:  "balance",
			short: "Print the wallet balance",
			long: "Print the balance and unspent outputs recorded " +
				"in the wallet database.",
			data: &balanceCommand{cfg: cfg},
		},
	}

	for _, c := range commands {
		_, err := parser.AddCommand(c.name, c.short, c.long, c.data)
		if err != nil {
			return nil, err
		}
	}

	// Options are validated and logging is set up once the command is
	// known, before it runs.
	parser.CommandHandler = func(command flags.Commander,
		args []string) error {

		if command == nil {
			return nil
		}

		if err := cfg.validate(); err != nil {
			return err
		}

		if err := initLogging(cfg); err != nil {
			return err
		}
		defer closeLogging()

		return command.Execute(args)
	}

	return parser, nil
}
