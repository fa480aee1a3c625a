package memtable

import (
	"errors"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"lsmrepl/pkg/comparator"
	"lsmrepl/pkg/iterator"
)

var (
	ErrTooLargeEntry = errors.New("entry is too large")
)

type concurrentSet = skipmap.FuncMap[[]byte, Item]

// Memtable is the in-memory content of one index, ordered by the index's
// comparator.
type Memtable struct {
	cmp      comparator.Func
	maxEntry int
	size     atomic.Int64

	underlying atomic.Pointer[concurrentSet]
}

func New(cmp comparator.Func, maxEntryBytes int) *Memtable {
	mt := Memtable{
		cmp:      cmp,
		maxEntry: maxEntryBytes,
	}
	mt.underlying.Store(mt.newSet())

	return &mt
}

func (mt *Memtable) newSet() *concurrentSet {
	return skipmap.NewFunc[[]byte, Item](func(a, b []byte) bool {
		return mt.cmp(a, b) < 0
	})
}

func (mt *Memtable) Get(k []byte) (Item, bool) {
	return mt.underlying.Load().Load(k)
}

// Upsert stores copies of k and value. Writers are expected to be serialized
// by the caller; readers may run concurrently.
func (mt *Memtable) Upsert(k, value []byte) error {
	entSize := len(k) + len(value)
	if mt.maxEntry > 0 && entSize > mt.maxEntry {
		return ErrTooLargeEntry
	}

	it := Item{
		Key:   append([]byte(nil), k...),
		Value: append([]byte(nil), value...),
	}
	set := mt.underlying.Load()
	if prev, loaded := set.Load(it.Key); loaded {
		mt.size.Add(-int64(len(prev.Key) + len(prev.Value)))
	}
	set.Store(it.Key, it)
	mt.size.Add(int64(entSize))

	return nil
}

func (mt *Memtable) Delete(k []byte) bool {
	set := mt.underlying.Load()
	prev, loaded := set.Load(k)
	if !loaded {
		return false
	}
	set.Delete(k)
	mt.size.Add(-int64(len(prev.Key) + len(prev.Value)))
	return true
}

func (mt *Memtable) Len() int {
	return mt.underlying.Load().Len()
}

// SizeBytes is the summed length of all keys and values.
func (mt *Memtable) SizeBytes() int64 {
	return mt.size.Load()
}

// Range visits items in comparator order until fn returns false.
func (mt *Memtable) Range(fn func(Item) bool) {
	mt.underlying.Load().Range(func(_ []byte, it Item) bool {
		return fn(it)
	})
}

// NewIterator walks a copy of the current items, so writers are never blocked.
func (mt *Memtable) NewIterator() iterator.Iterator {
	return iterator.NewSlice(mt.Sorted(), mt.cmp)
}

func (mt *Memtable) Comparator() comparator.Func {
	return mt.cmp
}

// Reset drops all items.
func (mt *Memtable) Reset() {
	mt.underlying.Store(mt.newSet())
	mt.size.Store(0)
}
