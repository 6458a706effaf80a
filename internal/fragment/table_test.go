package fragment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brennanlowe/kbnet/internal/constants"
)

func testKey() Key {
	return Key{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", ID: 42, Proto: constants.IPProtoUDP}
}

func TestInsertReassemblesInOrder(t *testing.T) {
	tbl := NewTable()
	k := testKey()

	payload, err := tbl.Insert(k, 0, []byte{0, 1, 2, 3}, true)
	require.NoError(t, err)
	require.Nil(t, payload, "incomplete reassembly must report no payload yet")
	require.Equal(t, 1, tbl.Len())

	payload, err = tbl.Insert(k, 4, []byte{4, 5, 6, 7}, false)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7}, payload)
	require.Equal(t, 0, tbl.Len(), "completed entry must be removed from the table")
}

func TestInsertReassemblesOutOfOrder(t *testing.T) {
	tbl := NewTable()
	k := testKey()

	_, err := tbl.Insert(k, 8, []byte{8, 9}, false)
	require.NoError(t, err)
	_, err = tbl.Insert(k, 4, []byte{4, 5, 6, 7}, true)
	require.NoError(t, err)
	payload, err := tbl.Insert(k, 0, []byte{0, 1, 2, 3}, true)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, payload)
}

func TestInsertWithGapStaysIncomplete(t *testing.T) {
	tbl := NewTable()
	k := testKey()

	_, err := tbl.Insert(k, 0, []byte{0, 1}, true)
	require.NoError(t, err)
	payload, err := tbl.Insert(k, 4, []byte{4, 5}, false)
	require.NoError(t, err)
	require.Nil(t, payload, "a gap between offset 2 and 4 must prevent completion")
}

func TestInsertDistinctKeysSucceeds(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < constants.FragTableBucketEntries; i++ {
		k := Key{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", ID: uint16(i), Proto: constants.IPProtoUDP}
		// IDs 0..15 differ only in the low bits bucketFor keeps, so each
		// key lands in its own bucket and no bucket fills up here.
		_, err := tbl.Insert(k, 0, []byte{1}, true)
		require.NoError(t, err)
	}
}

func TestExpiryMovesStaleEntriesToDeathRow(t *testing.T) {
	tbl := NewTable()
	k := testKey()

	_, err := tbl.Insert(k, 0, []byte{0, 1}, true)
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())

	future := time.Now().Add(constants.FragTableMaxAge + time.Second)
	tbl.Tick(future)

	require.Equal(t, 0, tbl.Len())
	keys := tbl.DrainDeathRow()
	require.Len(t, keys, 1)
	require.Equal(t, k, keys[0])
	require.Empty(t, tbl.DrainDeathRow(), "death row must be empty after draining")
}
