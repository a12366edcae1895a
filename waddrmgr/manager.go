// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package waddrmgr keeps the two payment address chains of a wallet, their
// used marks and the gap-limit scan that extends them.
//
// A Manager only ever holds public material: addresses are derived from the
// master public key blob. It is not safe for concurrent use; the wallet
// serializes access with its own lock.
package waddrmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/spvwallet/bip32"
	"github.com/btcsuite/spvwallet/keyseq"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrAddressNotFound is returned when an address does not belong to
	// either chain of the manager.
	ErrAddressNotFound = errors.New("address not found")

	// ErrAddressMismatch is returned when a restored address does not
	// match the key derived from the master public key at its index.
	ErrAddressMismatch = errors.New("restored address does not match " +
		"derived key")

	// ErrChainExhausted is returned when a chain would need an index in
	// the hardened range.
	ErrChainExhausted = errors.New("address chain exhausted")
)

// ManagedAddress is a wallet-owned P2PKH address.
type ManagedAddress struct {
	// Address is the encoded P2PKH address.
	Address *btcutil.AddressPubKeyHash

	// PubKey is the compressed public key behind the address.
	PubKey bip32.PubKey

	// Internal is true for change addresses.
	Internal bool

	// Index is the child index on its chain.
	Index uint32

	// PkScript is the output script paying to the address.
	PkScript []byte
}

// String returns the encoded address.
func (a *ManagedAddress) String() string {
	return a.Address.EncodeAddress()
}

// addrChain is one of the two address chains. addrs is ordered by index.
type addrChain struct {
	addrs []*ManagedAddress

	// next is the next child index to derive.
	next uint32
}

// Manager owns the external and internal address chains.
type Manager struct {
	seq *keyseq.Sequence
	mpk keyseq.MasterPubKey

	chains [2]addrChain
	byHash map[pubKeyHash]*ManagedAddress
	used   fn.Set[pubKeyHash]
}

// New returns an empty manager deriving from mpk.
func New(seq *keyseq.Sequence, mpk keyseq.MasterPubKey) *Manager {
	return &Manager{
		seq:    seq,
		mpk:    mpk,
		byHash: make(map[pubKeyHash]*ManagedAddress),
		used:   fn.NewSet[pubKeyHash](),
	}
}

// chain returns the address chain for the internal flag.
func (m *Manager) chain(internal bool) *addrChain {
	if internal {
		return &m.chains[keyseq.InternalBranch]
	}

	return &m.chains[keyseq.ExternalBranch]
}

// newAddress builds the managed address for a derived key.
func (m *Manager) newAddress(pub bip32.PubKey, internal bool,
	index uint32) (*ManagedAddress, error) {

	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(pub[:]), m.seq.Params(),
	)
	if err != nil {
		return nil, err
	}

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	return &ManagedAddress{
		Address:  addr,
		PubKey:   pub,
		Internal: internal,
		Index:    index,
		PkScript: pkScript,
	}, nil
}

// insert adds an address to its chain and the lookup index.
func (m *Manager) insert(a *ManagedAddress) {
	c := m.chain(a.Internal)
	c.addrs = append(c.addrs, a)

	if a.Index >= c.next {
		c.next = a.Index + 1
	}

	m.byHash[hashOf(a)] = a
}

// extend derives n new addresses at the end of a chain. Indices without a
// valid child key are skipped.
func (m *Manager) extend(ctx context.Context, internal bool,
	n uint32) ([]*ManagedAddress, error) {

	c := m.chain(internal)
	created := make([]*ManagedAddress, 0, n)

	for uint32(len(created)) < n {
		need := n - uint32(len(created))
		if c.next+need > bip32.HardenedKeyStart {
			return created, ErrChainExhausted
		}

		start := c.next
		keys, err := m.seq.PublicKeys(ctx, start, need, internal,
			m.mpk[:])

		switch {
		case errors.Is(err, bip32.ErrInvalidChild):
			// Fall back to single derivation to find the index
			// that has no key.
			key, err := m.seq.PublicKey(start, internal, m.mpk[:])
			if errors.Is(err, bip32.ErrInvalidChild) {
				log.Warnf("Skipping index %d on chain "+
					"internal=%v: no valid child key",
					start, internal)

				c.next++

				continue
			}
			if err != nil {
				return created, err
			}

			keys = []bip32.PubKey{key}

		case err != nil:
			return created, err
		}

		for i, key := range keys {
			a, err := m.newAddress(key, internal, start+uint32(i))
			if err != nil {
				return created, err
			}

			m.insert(a)
			created = append(created, a)
		}
	}

	if len(created) > 0 {
		log.Debugf("Derived %d addresses on chain internal=%v, next "+
			"index %d", len(created), internal, c.next)
	}

	return created, nil
}

// AddressesWithGapLimit returns gap addresses that directly follow the last
// used address of a chain, in index order. When fewer than gap unused
// addresses trail the chain, new ones are derived first. The newly derived
// addresses are returned separately so the caller can persist them.
func (m *Manager) AddressesWithGapLimit(ctx context.Context, gap uint32,
	internal bool) ([]*ManagedAddress, []*ManagedAddress, error) {

	if gap == 0 {
		return nil, nil, nil
	}

	c := m.chain(internal)

	// Count the unused addresses trailing the chain.
	unused := uint32(0)
	for i := len(c.addrs) - 1; i >= 0; i-- {
		if m.isUsed(c.addrs[i]) {
			break
		}
		unused++
	}

	var created []*ManagedAddress
	if unused < gap {
		var err error
		created, err = m.extend(ctx, internal, gap-unused)
		if err != nil {
			return nil, created, fmt.Errorf("unable to extend "+
				"chain: %w", err)
		}
		unused = gap
	}

	first := len(c.addrs) - int(unused)
	result := make([]*ManagedAddress, gap)
	copy(result, c.addrs[first:first+int(gap)])

	return result, created, nil
}

// Restore loads a previously derived address back into its chain. The key
// is checked against the one derived from the master public key.
func (m *Manager) Restore(pub bip32.PubKey, internal bool,
	index uint32) error {

	want, err := m.seq.PublicKey(index, internal, m.mpk[:])
	if err != nil {
		return err
	}
	if want != pub {
		return fmt.Errorf("%w: internal=%v index=%d",
			ErrAddressMismatch, internal, index)
	}

	a, err := m.newAddress(pub, internal, index)
	if err != nil {
		return err
	}

	if _, ok := m.byHash[hashOf(a)]; ok {
		return nil
	}

	m.insert(a)

	c := m.chain(internal)
	sort.Slice(c.addrs, func(i, j int) bool {
		return c.addrs[i].Index < c.addrs[j].Index
	})

	return nil
}

// Addresses returns every address, external chain first, each in index
// order.
func (m *Manager) Addresses() []*ManagedAddress {
	ext := m.chain(false).addrs
	change := m.chain(true).addrs

	all := make([]*ManagedAddress, 0, len(ext)+len(change))
	all = append(all, ext...)

	return append(all, change...)
}

// ChainLen returns the number of derived addresses on a chain.
func (m *Manager) ChainLen(internal bool) int {
	return len(m.chain(internal).addrs)
}

// Address returns the managed address for addr.
func (m *Manager) Address(addr btcutil.Address) (*ManagedAddress, error) {
	pkh, ok := addr.(*btcutil.AddressPubKeyHash)
	if !ok {
		return nil, ErrAddressNotFound
	}

	a, ok := m.byHash[*pkh.Hash160()]
	if !ok {
		return nil, ErrAddressNotFound
	}

	return a, nil
}

// ContainsAddress reports whether addr belongs to either chain.
func (m *Manager) ContainsAddress(addr btcutil.Address) bool {
	_, err := m.Address(addr)
	return err == nil
}

// AddressForScript returns the managed address an output script pays to.
func (m *Manager) AddressForScript(
	pkScript []byte) fn.Option[*ManagedAddress] {

	h, ok := hashFromScript(pkScript, m.seq.Params())
	if !ok {
		return fn.None[*ManagedAddress]()
	}

	a, ok := m.byHash[h]
	if !ok {
		return fn.None[*ManagedAddress]()
	}

	return fn.Some(a)
}

// IsOwnedScript reports whether pkScript pays to a wallet address.
func (m *Manager) IsOwnedScript(pkScript []byte) bool {
	return m.AddressForScript(pkScript).IsSome()
}

// AddressForInput returns the wallet address revealed by the signature
// script of an input, if any.
func (m *Manager) AddressForInput(
	txIn *wire.TxIn) fn.Option[*ManagedAddress] {

	h, ok := hashFromSigScript(txIn.SignatureScript)
	if !ok {
		return fn.None[*ManagedAddress]()
	}

	a, ok := m.byHash[h]
	if !ok {
		return fn.None[*ManagedAddress]()
	}

	return fn.Some(a)
}

// MarkUsed tags the address as used. Used marks are never cleared.
func (m *Manager) MarkUsed(a *ManagedAddress) {
	m.used.Add(hashOf(a))
}

// IsUsed reports whether addr has appeared in a registered transaction.
func (m *Manager) IsUsed(addr btcutil.Address) bool {
	a, err := m.Address(addr)
	if err != nil {
		return false
	}

	return m.isUsed(a)
}

func (m *Manager) isUsed(a *ManagedAddress) bool {
	return m.used.Contains(hashOf(a))
}

// hashOf returns the lookup key of an address.
func hashOf(a *ManagedAddress) pubKeyHash {
	var h pubKeyHash
	copy(h[:], a.Address.ScriptAddress())

	return h
}
