// Package fragment implements the IPv4 reassembly cache RxAgent
// consults before handing a UDP/TCP payload to a socket's mailbox: a
// bucketed hash table bounded in both per-bucket associativity and
// total entries, paired with a death row of expired partial packets.
package fragment

import (
	"sort"
	"sync"
	"time"

	"github.com/brennanlowe/kbnet/internal/constants"
	"github.com/brennanlowe/kbnet/kerrors"
)

const opInsert = "fragment.Insert"

// Key identifies a single IPv4 datagram being reassembled: its source,
// destination, and the IP identification field shared by all of its
// fragments.
type Key struct {
	SrcIP, DstIP string
	ID           uint16
	Proto        uint8
}

type frag struct {
	offset int
	data   []byte
}

type entry struct {
	key       Key
	frags     []frag
	total     int // -1 until the last fragment (MoreFragments=false) arrives
	createdAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > constants.FragTableMaxAge
}

func (e *entry) complete() ([]byte, bool) {
	if e.total < 0 {
		return nil, false
	}
	sorted := append([]frag(nil), e.frags...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].offset < sorted[j].offset })

	covered := 0
	for _, f := range sorted {
		if f.offset > covered {
			return nil, false // gap
		}
		end := f.offset + len(f.data)
		if end > covered {
			covered = end
		}
	}
	if covered < e.total {
		return nil, false
	}
	out := make([]byte, e.total)
	for _, f := range sorted {
		copy(out[f.offset:], f.data)
	}
	return out, true
}

// Table is the bucketed IPv4 reassembly cache. Table is safe for
// concurrent use.
type Table struct {
	mu       sync.Mutex
	buckets  [constants.FragTableBucketNum][]*entry
	count    int
	deathRow []*entry
}

// NewTable constructs an empty reassembly table.
func NewTable() *Table {
	return &Table{}
}

func bucketFor(k Key) int {
	h := fnv32(k.SrcIP) ^ fnv32(k.DstIP) ^ uint32(k.ID) ^ uint32(k.Proto)
	return int(h % constants.FragTableBucketNum)
}

func fnv32(s string) uint32 {
	const prime = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

// Insert adds one fragment to the entry for k, creating it if absent.
// It returns the reassembled payload once every fragment up to the one
// with moreFragments=false has arrived with no gaps; until then it
// returns (nil, nil) to signal "need more fragments".
func (t *Table) Insert(k Key, offset int, data []byte, moreFragments bool) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.expireLocked(now)

	b := bucketFor(k)
	var e *entry
	for _, cand := range t.buckets[b] {
		if cand.key == k {
			e = cand
			break
		}
	}
	if e == nil {
		if len(t.buckets[b]) >= constants.FragTableBucketEntries {
			// Make room by moving the bucket's oldest entry (entries are
			// kept in creation order) to the death row.
			oldest := t.buckets[b][0]
			t.removeLocked(b, oldest)
			t.deathRow = append(t.deathRow, oldest)
		}
		if t.count >= constants.FragTableMaxEntries {
			return nil, kerrors.New(opInsert, kerrors.CodeNoBuf, "fragment table full")
		}
		e = &entry{key: k, total: -1, createdAt: now}
		t.buckets[b] = append(t.buckets[b], e)
		t.count++
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	e.frags = append(e.frags, frag{offset: offset, data: cp})
	if !moreFragments {
		e.total = offset + len(data)
	}

	if payload, ok := e.complete(); ok {
		t.removeLocked(b, e)
		return payload, nil
	}
	return nil, nil
}

func (t *Table) removeLocked(b int, e *entry) {
	bucket := t.buckets[b]
	for i, cand := range bucket {
		if cand == e {
			t.buckets[b] = append(bucket[:i], bucket[i+1:]...)
			t.count--
			return
		}
	}
}

// expireLocked moves every entry older than FragTableMaxAge to the death
// row. Callers must hold t.mu.
func (t *Table) expireLocked(now time.Time) {
	for b := range t.buckets {
		bucket := t.buckets[b]
		kept := bucket[:0]
		for _, e := range bucket {
			if e.expired(now) {
				t.deathRow = append(t.deathRow, e)
				t.count--
			} else {
				kept = append(kept, e)
			}
		}
		t.buckets[b] = kept
	}
}

// Tick runs expiry without requiring an Insert to trigger it; callers
// (typically RxAgent) invoke it once per poll-loop iteration.
func (t *Table) Tick(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expireLocked(now)
}

// DrainDeathRow removes and returns every expired entry's key, so a
// caller can log or count abandoned reassemblies. It does not affect
// live entries.
func (t *Table) DrainDeathRow() []Key {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]Key, len(t.deathRow))
	for i, e := range t.deathRow {
		keys[i] = e.key
	}
	t.deathRow = nil
	return keys
}

// Len returns the number of live (non-expired, incomplete) entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
