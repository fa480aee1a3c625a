package clock

import (
	"sync/atomic"

	"lsmrepl/pkg/types"
)

// AtomicLSN holds an LSN readable from any goroutine.
type AtomicLSN struct {
	p atomic.Pointer[types.LSN]
}

func NewAtomic(init types.LSN) *AtomicLSN {
	var ac AtomicLSN
	ac.Set(init)
	return &ac
}

func (ac *AtomicLSN) Val() types.LSN {
	return *ac.p.Load()
}

// Next increments the sequence number and returns the new value.
func (ac *AtomicLSN) Next() types.LSN {
	for {
		cur := ac.p.Load()
		next := cur.Next()
		if ac.p.CompareAndSwap(cur, &next) {
			return next
		}
	}
}

func (ac *AtomicLSN) Set(t types.LSN) {
	ac.p.Store(&t)
}

// Advance moves the value forward to t and reports whether it did.
func (ac *AtomicLSN) Advance(t types.LSN) bool {
	for {
		cur := ac.p.Load()
		if !cur.Less(t) {
			return false
		}
		if ac.p.CompareAndSwap(cur, &t) {
			return true
		}
	}
}
