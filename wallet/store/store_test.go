package store

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// TestUpdateIsEmpty checks the empty update detection.
func TestUpdateIsEmpty(t *testing.T) {
	t.Parallel()

	require.True(t, (&Update{}).IsEmpty())
	require.False(t, (&Update{BestHeight: fn.Some(int32(1))}).IsEmpty())
	require.False(t, (&Update{
		DeleteTxs: []chainhash.Hash{{1}},
	}).IsEmpty())
}

// TestUpdateMerge checks that merged updates keep the effect of applying
// them one after the other.
func TestUpdateMerge(t *testing.T) {
	t.Parallel()

	a := TxRecord{Hash: chainhash.Hash{1}, BlockHeight: 1}
	aConfirmed := TxRecord{Hash: chainhash.Hash{1}, BlockHeight: 9}
	b := TxRecord{Hash: chainhash.Hash{2}}
	c := TxRecord{Hash: chainhash.Hash{3}}

	tests := []struct {
		name       string
		updates    []*Update
		wantPuts   []TxRecord
		wantDelete []chainhash.Hash
	}{
		{
			name: "later put wins in place",
			updates: []*Update{
				{PutTxs: []TxRecord{a, b}},
				{PutTxs: []TxRecord{aConfirmed}},
			},
			wantPuts: []TxRecord{aConfirmed, b},
		},
		{
			name: "new puts append",
			updates: []*Update{
				{PutTxs: []TxRecord{a}},
				{PutTxs: []TxRecord{b}},
				{PutTxs: []TxRecord{c, aConfirmed}},
			},
			wantPuts: []TxRecord{aConfirmed, b, c},
		},
		{
			name: "delete drops pending put",
			updates: []*Update{
				{PutTxs: []TxRecord{a, b}},
				{DeleteTxs: []chainhash.Hash{a.Hash}},
			},
			wantPuts:   []TxRecord{b},
			wantDelete: []chainhash.Hash{a.Hash},
		},
		{
			name: "put after delete",
			updates: []*Update{
				{DeleteTxs: []chainhash.Hash{c.Hash}},
				{PutTxs: []TxRecord{c}},
				{DeleteTxs: []chainhash.Hash{c.Hash}},
			},
			wantDelete: []chainhash.Hash{c.Hash},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			merged := &Update{}
			for _, u := range tc.updates {
				merged.Merge(u)
			}

			require.Equal(t, tc.wantPuts, merged.PutTxs)
			require.Equal(t, tc.wantDelete, merged.DeleteTxs)
		})
	}
}

// TestUpdateMergeReplacements checks that the optional fields take the
// latest value and addresses accumulate.
func TestUpdateMergeReplacements(t *testing.T) {
	t.Parallel()

	op := wire.OutPoint{Index: 1}

	merged := &Update{
		Addresses:  []AddressRecord{{Index: 0}},
		Unspent:    fn.Some([]wire.OutPoint{}),
		BestHeight: fn.Some(int32(5)),
	}
	merged.Merge(&Update{
		Addresses: []AddressRecord{{Index: 1}},
		Unspent:   fn.Some([]wire.OutPoint{op}),
	})

	require.Len(t, merged.Addresses, 2)
	require.Equal(t, []wire.OutPoint{op},
		merged.Unspent.UnwrapOr(nil))
	require.Equal(t, int32(5), merged.BestHeight.UnwrapOr(0))
}
