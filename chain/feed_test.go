package chain

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

const ntfnTimeout = 5 * time.Second

func nextNtfn(t *testing.T, f *ManualFeed) interface{} {
	t.Helper()

	select {
	case n := <-f.Notifications():
		return n
	case <-time.After(ntfnTimeout):
		t.Fatal("timeout waiting for notification")
	}

	return nil
}

// TestManualFeedOrder checks that notifications arrive in order and update
// the best height.
func TestManualFeedOrder(t *testing.T) {
	t.Parallel()

	// Arrange: Start a feed at height 10.
	f := NewManualFeed(10)
	require.NoError(t, f.Start())
	t.Cleanup(f.Stop)

	ts := time.Unix(1700000000, 0)
	hashes := []chainhash.Hash{{1}}
	tx := wire.NewMsgTx(wire.TxVersion)

	// Act: Send a mix of notifications.
	require.NoError(t, f.SendTx(tx, 0x7fffffff, ts))
	require.NoError(t, f.ConnectBlock(11, ts, hashes))
	require.Equal(t, int32(11), f.BestHeight())
	require.NoError(t, f.DisconnectBlock(11))
	require.Equal(t, int32(10), f.BestHeight())

	// Assert: They are delivered in order.
	relevant, ok := nextNtfn(t, f).(RelevantTx)
	require.True(t, ok)
	require.Same(t, tx, relevant.Tx)

	connected, ok := nextNtfn(t, f).(BlockConnected)
	require.True(t, ok)
	require.Equal(t, int32(11), connected.Height)
	require.Equal(t, hashes, connected.TxHashes)

	require.Equal(t, BlockDisconnected{Height: 11}, nextNtfn(t, f))
}

// TestManualFeedLifecycle checks the errors returned outside of the running
// state.
func TestManualFeedLifecycle(t *testing.T) {
	t.Parallel()

	f := NewManualFeed(0)
	require.ErrorIs(t, f.ConnectBlock(1, time.Now(), nil), ErrNotStarted)
	require.Zero(t, f.BestHeight())

	require.NoError(t, f.Start())
	require.NoError(t, f.Start())

	f.Stop()
	f.Stop()

	require.ErrorIs(t, f.DisconnectBlock(0), ErrFeedStopped)
}
