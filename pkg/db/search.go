package db

import (
	"bytes"
	"errors"

	"lsmrepl/pkg/comparator"
	"lsmrepl/pkg/iterator"
)

// Search walks iter within the bounds of opts and hands every matching entry
// to callback. It closes iter.
func Search(iter iterator.Iterator, cmp comparator.Func, opts SearchOptions, callback SearchCallback) error {
	defer iter.Close()

	from, to := opts.From, opts.To
	if opts.PrefixOrdered && len(opts.Prefix) > 0 {
		if from == nil {
			from = opts.Prefix
		}
		if to == nil {
			to = prefixEnd(opts.Prefix)
		}
	}

	if opts.Reverse {
		if to != nil {
			iter.Seek(to)
			if iter.Valid() {
				iter.Prev()
			} else {
				iter.Last()
			}
		} else {
			iter.Last()
		}
	} else {
		if from != nil {
			iter.Seek(from)
		} else {
			iter.First()
		}
	}

	count := 0
	for ; iter.Valid(); step(iter, opts.Reverse) {
		key := iter.Key()

		// Check range bounds
		if opts.Reverse && from != nil && cmp(key, from) < 0 {
			break
		}
		if !opts.Reverse && to != nil && cmp(key, to) >= 0 {
			break
		}
		if !bytes.HasPrefix(key, opts.Prefix) {
			continue
		}

		if err := callback(key, iter.Value()); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
		count++
		if opts.Limit > 0 && count >= opts.Limit {
			break
		}
	}
	return nil
}

func step(iter iterator.Iterator, reverse bool) {
	if reverse {
		iter.Prev()
	} else {
		iter.Next()
	}
}

// prefixEnd is the smallest key greater than every key starting with
// prefix, or nil if there is none.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
