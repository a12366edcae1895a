// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// stdinReader buffers non-terminal input across prompts.
var stdinReader = bufio.NewReader(os.Stdin)

// readSecret prompts for a line of input. Terminal input is not echoed.
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := stdinReader.ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}

		return strings.TrimSpace(line), nil
	}

	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(b)), nil
}

// promptSeed reads a mnemonic and its optional passphrase and returns the
// seed. The caller must zero it once done.
func promptSeed() ([]byte, error) {
	words, err := readSecret("Enter the mnemonic: ")
	if err != nil {
		return nil, err
	}

	passphrase, err := readSecret(
		"Enter the mnemonic passphrase (empty for none): ",
	)
	if err != nil {
		return nil, err
	}

	return seedFromMnemonic(words, passphrase)
}
