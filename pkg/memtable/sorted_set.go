package memtable

type SortedSet interface {
	Sorted() []Item
	Len() int
}

func (mt *Memtable) Sorted() []Item {
	set := mt.underlying.Load()
	result := make([]Item, 0, set.Len())
	set.Range(func(_ []byte, value Item) bool {
		result = append(result, value)
		return true
	})

	return result
}
