package mempool

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateLookupAndStats(t *testing.T) {
	name := fmt.Sprintf("test-pool-%d", 1)
	mp, err := Create(name, 64, 256, 8, 0, 0, SingleProducer|SingleConsumer)
	require.NoError(t, err)
	defer Destroy(name)

	require.True(t, mp.IsFull())
	require.False(t, mp.IsEmpty())
	require.Equal(t, 0, mp.InUse())
	require.Equal(t, 64, mp.Available())

	stats := mp.Stats()
	require.Equal(t, 8, stats.CacheSize)
	require.Equal(t, 0, stats.PrivSize)
	require.Equal(t, 0, stats.SocketID)

	found, ok := Lookup(name)
	require.True(t, ok)
	require.Same(t, mp, found)
	require.Equal(t, mp.Stats(), found.Stats())
}

func TestCreateDuplicateNameFails(t *testing.T) {
	name := "dup-pool"
	mp, err := Create(name, 4, 64, 0, 0, 0, 0)
	require.NoError(t, err)
	defer Destroy(name)
	require.NotNil(t, mp)

	_, err = Create(name, 4, 64, 0, 0, 0, 0)
	require.Error(t, err)
}

func TestGetPutRoundTrip(t *testing.T) {
	name := "get-put-pool"
	mp, err := Create(name, 2, 32, 0, 0, 0, 0)
	require.NoError(t, err)
	defer Destroy(name)

	o1, err := mp.Get()
	require.NoError(t, err)
	require.Equal(t, 1, mp.InUse())
	require.Len(t, o1.Bytes(), 32)

	o2, err := mp.Get()
	require.NoError(t, err)
	require.True(t, mp.IsEmpty())

	_, err = mp.Get()
	require.Error(t, err)

	require.NoError(t, mp.Put(o1))
	require.NoError(t, mp.Put(o2))
	require.True(t, mp.IsFull())
}

func TestGetBulkAllOrNothing(t *testing.T) {
	name := "bulk-pool"
	mp, err := Create(name, 4, 16, 0, 0, 0, 0)
	require.NoError(t, err)
	defer Destroy(name)

	objs, err := mp.GetBulk(3)
	require.NoError(t, err)
	require.Len(t, objs, 3)
	require.Equal(t, 1, mp.Available())

	_, err = mp.GetBulk(2)
	require.Error(t, err)
	require.Equal(t, 1, mp.Available(), "failed bulk get must not partially drain the pool")

	require.NoError(t, mp.PutBulk(objs))
	require.True(t, mp.IsFull())
}

func TestPutRejectsForeignObject(t *testing.T) {
	mpA, err := Create("pool-a", 2, 8, 0, 0, 0, 0)
	require.NoError(t, err)
	defer Destroy("pool-a")
	mpB, err := Create("pool-b", 2, 8, 0, 0, 0, 0)
	require.NoError(t, err)
	defer Destroy("pool-b")

	o, err := mpA.Get()
	require.NoError(t, err)

	err = mpB.Put(o)
	require.Error(t, err)
}
