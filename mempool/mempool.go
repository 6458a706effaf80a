// Package mempool implements a fixed-size, named object pool modeled on
// DPDK's rte_mempool: a process-wide registry of pools, bulk get/put, and
// a handful of creation flags that are recorded in Stats.
package mempool

import (
	"fmt"
	"sync"

	"github.com/brennanlowe/kbnet/kerrors"
)

const (
	opCreate = "mempool.Create"
	opGet    = "mempool.Get"
	opPut    = "mempool.Put"
)

// Flags tunes a Mempool's internal behavior at creation time.
type Flags uint32

const (
	// NoSpread disables cache-line spreading across elements. Go's
	// allocator does not expose memory channel topology, so this flag
	// is accepted and recorded in Stats but otherwise a no-op.
	NoSpread Flags = 1 << iota
	// NoCacheAlign disables per-core cache alignment of the object
	// cache. Recorded in Stats only; Go has no per-core mempool cache.
	NoCacheAlign
	// SingleProducer indicates only one goroutine will ever call Get.
	// Recorded in Stats only; the freelist is always mutex-guarded.
	SingleProducer
	// SingleConsumer indicates only one goroutine will ever call Put.
	// Recorded in Stats only; the freelist is always mutex-guarded.
	SingleConsumer
	// NoIovaContig disables the requirement that elements be physically
	// contiguous for IOMMU purposes. Recorded in Stats only; this
	// backend never hands memory to hardware directly.
	NoIovaContig
)

// Obj is a single fixed-size buffer checked out of a Mempool. Every Obj
// must eventually be returned via Put or PutBulk, or its slot leaks.
type Obj struct {
	buf  []byte
	idx  int
	pool *Mempool
}

// Bytes returns the full eltSize-length backing buffer for this object.
func (o *Obj) Bytes() []byte { return o.buf }

// Pool returns the Mempool this object was allocated from.
func (o *Obj) Pool() *Mempool { return o.pool }

// Stats is a snapshot of a Mempool's occupancy, for diagnostics.
type Stats struct {
	Name      string
	Size      int
	EltSize   int
	Available int
	InUse     int
	Flags     Flags
	CacheSize int
	PrivSize  int
	SocketID  int
}

// Mempool is a fixed-size pool of eltSize-byte buffers, registered under
// a process-wide unique name.
type Mempool struct {
	name    string
	eltSize int
	size    int
	flags   Flags

	// cacheSize, privSize and socketID mirror rte_mempool_create's
	// per-core cache size, per-object private area size, and NUMA socket
	// hint. Go's allocator gives no per-core cache or NUMA placement
	// control, so all three are recorded for Stats and otherwise inert.
	cacheSize int
	privSize  int
	socketID  int

	mu    sync.Mutex
	arena []byte
	free  []int // indices into arena, in units of eltSize
}

var (
	registryMu sync.Mutex
	registry   = map[string]*Mempool{}
)

// Create allocates a new Mempool of size elements, each eltSize bytes,
// and registers it under name. cacheSize, privSize and socketID are
// accepted and surfaced via Stats for parity with rte_mempool_create's
// tuple, but do not change allocation behavior. It is an error to
// Create a name that is already registered.
func Create(name string, size, eltSize, cacheSize, privSize, socketID int, flags Flags) (*Mempool, error) {
	if size <= 0 || eltSize <= 0 {
		return nil, kerrors.New(opCreate, kerrors.CodeInvalidArg, fmt.Sprintf("invalid size=%d eltSize=%d", size, eltSize))
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		return nil, kerrors.New(opCreate, kerrors.CodeExists, fmt.Sprintf("mempool %q already exists", name))
	}

	mp := &Mempool{
		name:      name,
		eltSize:   eltSize,
		size:      size,
		flags:     flags,
		cacheSize: cacheSize,
		privSize:  privSize,
		socketID:  socketID,
		arena:     make([]byte, size*eltSize),
		free:      make([]int, size),
	}
	for i := 0; i < size; i++ {
		mp.free[i] = i
	}
	registry[name] = mp
	return mp, nil
}

// Lookup finds a previously created Mempool by name.
func Lookup(name string) (*Mempool, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	mp, ok := registry[name]
	return mp, ok
}

// Destroy removes a Mempool from the registry. It does not validate that
// every Obj has been returned; callers must ensure quiescence first.
func Destroy(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, name)
}

// Name returns the Mempool's registered name.
func (mp *Mempool) Name() string { return mp.name }

// EltSize returns the fixed size in bytes of each element.
func (mp *Mempool) EltSize() int { return mp.eltSize }

// Get checks out a single object from the pool.
func (mp *Mempool) Get() (*Obj, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if len(mp.free) == 0 {
		return nil, kerrors.New(opGet, kerrors.CodeNoBuf, fmt.Sprintf("mempool %q exhausted", mp.name))
	}
	idx := mp.free[len(mp.free)-1]
	mp.free = mp.free[:len(mp.free)-1]
	start := idx * mp.eltSize
	return &Obj{buf: mp.arena[start : start+mp.eltSize], idx: idx, pool: mp}, nil
}

// GetBulk checks out n objects atomically: either all n are returned, or
// none are and the pool is left untouched.
func (mp *Mempool) GetBulk(n int) ([]*Obj, error) {
	if n <= 0 {
		return nil, nil
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if len(mp.free) < n {
		return nil, kerrors.New(opGet, kerrors.CodeNoBuf, fmt.Sprintf("mempool %q has %d available, need %d", mp.name, len(mp.free), n))
	}
	objs := make([]*Obj, n)
	for i := 0; i < n; i++ {
		idx := mp.free[len(mp.free)-1]
		mp.free = mp.free[:len(mp.free)-1]
		start := idx * mp.eltSize
		objs[i] = &Obj{buf: mp.arena[start : start+mp.eltSize], idx: idx, pool: mp}
	}
	return objs, nil
}

// Put returns a single object to its owning pool. It is a programming
// error to Put an object into a pool it was not allocated from.
func (mp *Mempool) Put(o *Obj) error {
	if o.pool != mp {
		return kerrors.New(opPut, kerrors.CodeInvalidArg, "object does not belong to this mempool")
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.free = append(mp.free, o.idx)
	return nil
}

// PutBulk returns multiple objects to their owning pool in one call.
func (mp *Mempool) PutBulk(objs []*Obj) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	for _, o := range objs {
		if o.pool != mp {
			return kerrors.New(opPut, kerrors.CodeInvalidArg, "object does not belong to this mempool")
		}
		mp.free = append(mp.free, o.idx)
	}
	return nil
}

// Available returns the number of objects currently free.
func (mp *Mempool) Available() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return len(mp.free)
}

// InUse returns the number of objects currently checked out.
func (mp *Mempool) InUse() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.size - len(mp.free)
}

// IsEmpty reports whether every object is checked out.
func (mp *Mempool) IsEmpty() bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return len(mp.free) == 0
}

// IsFull reports whether every object is free.
func (mp *Mempool) IsFull() bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return len(mp.free) == mp.size
}

// Stats returns a snapshot of the pool's current occupancy.
func (mp *Mempool) Stats() Stats {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return Stats{
		Name:      mp.name,
		Size:      mp.size,
		EltSize:   mp.eltSize,
		Available: len(mp.free),
		InUse:     mp.size - len(mp.free),
		Flags:     mp.flags,
		CacheSize: mp.cacheSize,
		PrivSize:  mp.privSize,
		SocketID:  mp.socketID,
	}
}
