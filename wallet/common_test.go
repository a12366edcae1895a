package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/spvwallet/keyseq"
	"github.com/btcsuite/spvwallet/wallet/store"
	"github.com/btcsuite/spvwallet/wallet/store/kvdb"
	"github.com/btcsuite/spvwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	errStoreMock = errors.New("store error")
	errDeclined  = errors.New("declined")
)

var (
	// chainParams are the chain parameters used throughout the wallet
	// tests.
	chainParams = chaincfg.RegressionNetParams

	// testTime is the wall clock time of the test clock.
	testTime = time.Unix(1700000000, 0)
)

const testSeedHex = "000102030405060708090a0b0c0d0e0f"

// mockStore is a mock implementation of the store.Store interface.
type mockStore struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockStore implements the
// store.Store interface.
var _ store.Store = (*mockStore)(nil)

// Load implements the store.Store interface.
func (m *mockStore) Load(ctx context.Context) (*store.Snapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*store.Snapshot), args.Error(1)
}

// Apply implements the store.Store interface.
func (m *mockStore) Apply(ctx context.Context, u *store.Update) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func testSeed(t *testing.T) []byte {
	t.Helper()

	seed, err := hex.DecodeString(testSeedHex)
	require.NoError(t, err)

	return seed
}

// newTestKVStore opens a kvdb store in a temporary directory.
func newTestKVStore(t *testing.T) *kvdb.Store {
	t.Helper()

	s, err := kvdb.Open(
		filepath.Join(t.TempDir(), "wallet.db"), kvdb.DefaultDBTimeout,
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// testHarness bundles a wallet with the collaborators it was built from.
type testHarness struct {
	t       *testing.T
	w       *Wallet
	cfg     Config
	seed    []byte
	clock   *clock.TestClock
	counter byte
}

// newTestConfig returns a config of a wallet backed by st and the test seed.
func newTestConfig(t *testing.T, st store.Store) Config {
	t.Helper()

	seed := testSeed(t)
	mpk, err := keyseq.New(&chainParams).MasterPublicKeyFromSeed(seed)
	require.NoError(t, err)

	return Config{
		ChainParams:  &chainParams,
		MasterPubKey: mpk[:],
		Seed: func(context.Context, string,
			btcutil.Amount) ([]byte, error) {

			return testSeed(t), nil
		},
		Store: st,
		Clock: clock.NewTestClock(testTime),
	}
}

// newTestHarness creates a wallet on a fresh kvdb store. The options are
// applied to the config before the wallet is created.
func newTestHarness(t *testing.T, opts ...func(*Config)) *testHarness {
	t.Helper()

	cfg := newTestConfig(t, newTestKVStore(t))
	for _, opt := range opts {
		opt(&cfg)
	}

	w, err := New(context.Background(), cfg)
	require.NoError(t, err)

	return &testHarness{
		t:     t,
		w:     w,
		cfg:   cfg,
		seed:  testSeed(t),
		clock: cfg.Clock.(*clock.TestClock),
	}
}

// externalInput returns an outpoint of a transaction unknown to the wallet.
func (h *testHarness) externalInput() wire.OutPoint {
	h.counter++

	return wire.OutPoint{Hash: chainhash.Hash{0xee, h.counter}}
}

// externalAddr returns a fresh address the wallet does not own.
func (h *testHarness) externalAddr() btcutil.Address {
	h.t.Helper()
	h.counter++

	hash := make([]byte, 20)
	hash[0] = 0xaa
	hash[1] = h.counter
	addr, err := btcutil.NewAddressPubKeyHash(hash, &chainParams)
	require.NoError(h.t, err)

	return addr
}

// externalScript returns a fresh output script the wallet does not own.
func (h *testHarness) externalScript() []byte {
	h.t.Helper()

	script, err := txscript.PayToAddrScript(h.externalAddr())
	require.NoError(h.t, err)

	return script
}

// receiveScript returns the script of the first unused receive address.
func (h *testHarness) receiveScript() []byte {
	h.t.Helper()

	addr, err := h.w.ReceiveAddress(context.Background())
	require.NoError(h.t, err)

	return addr.PkScript
}

// newTx builds a transaction spending ins to outs.
func newTx(ins []wire.OutPoint, outs ...*wire.TxOut) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	for i := range ins {
		tx.AddTxIn(wire.NewTxIn(&ins[i], nil, nil))
	}
	for _, out := range outs {
		tx.AddTxOut(out)
	}

	return tx
}

// fundTx builds a transaction from an external input paying amount to the
// first unused receive address.
func (h *testHarness) fundTx(amount btcutil.Amount) *wire.MsgTx {
	return newTx(
		[]wire.OutPoint{h.externalInput()},
		wire.NewTxOut(int64(amount), h.receiveScript()),
	)
}

// fund registers a transaction paying amount to the wallet at height and
// returns it.
func (h *testHarness) fund(amount btcutil.Amount,
	height int32) *wire.MsgTx {

	h.t.Helper()

	tx := h.fundTx(amount)
	h.register(tx, height, testTime)

	return tx
}

// register records tx and requires it to be accepted.
func (h *testHarness) register(tx *wire.MsgTx, height int32,
	timestamp time.Time) {

	h.t.Helper()

	added, err := h.w.RegisterTransaction(
		context.Background(), tx, height, timestamp,
	)
	require.NoError(h.t, err)
	require.True(h.t, added)
}

// requireBalanceInvariant checks that the balance equals the value of the
// unspent outputs of valid transactions.
func (h *testHarness) requireBalanceInvariant() {
	h.t.Helper()

	var sum btcutil.Amount
	for _, c := range h.w.UnspentOutputs() {
		rec := h.w.TransactionForHash(c.Hash).UnwrapOrFail(h.t)
		require.True(h.t, h.w.TransactionIsValid(&rec.MsgTx))

		sum += c.Amount
	}
	require.Equal(h.t, sum, h.w.Balance())
}

// unconfirmed is a shorthand for the unconfirmed block height.
const unconfirmed = wtxmgr.TxUnconfirmed
