package memtable

import "lsmrepl/pkg/iterator"

type Item = iterator.Pair
