package listener

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Listener hands every value received on a channel to a handler, one at a
// time and in arrival order, on a goroutine of its own. A failing handler
// is logged and the listener moves on to the next value.
type Listener[T any] struct {
	name    string
	in      <-chan T
	handler func(T) error
	onStop  func()

	wg     sync.WaitGroup
	cancel context.CancelFunc

	handled atomic.Int64
	failed  atomic.Int64
}

// Stats counts the values processed so far.
type Stats struct {
	Handled int64
	Failed  int64
}

func New[T any](name string, in <-chan T, handler func(T) error, onStop ...func()) *Listener[T] {
	l := &Listener[T]{
		name:    name,
		in:      in,
		handler: handler,
		cancel:  func() {},
		onStop:  func() {},
	}
	if len(onStop) > 0 && onStop[0] != nil {
		l.onStop = onStop[0]
	}
	return l
}

func (l *Listener[T]) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		for {
			select {
			case v, ok := <-l.in:
				if !ok {
					return
				}
				l.handle(v)
			case <-ctx.Done():
				l.drain()
				return
			}
		}
	}()
}

// drain handles what is already buffered so that no accepted value is lost.
func (l *Listener[T]) drain() {
	for {
		select {
		case v, ok := <-l.in:
			if !ok {
				return
			}
			l.handle(v)
		default:
			return
		}
	}
}

func (l *Listener[T]) handle(v T) {
	l.handled.Add(1)
	if err := l.handler(v); err != nil {
		l.failed.Add(1)
		slog.Warn("listener handler failed", "listener", l.name, "error", err)
	}
}

// Stop waits for the goroutine to finish the buffered values, then runs the
// stop hook.
func (l *Listener[T]) Stop() {
	l.cancel()
	l.wg.Wait()
	l.onStop()
}

func (l *Listener[T]) Stats() Stats {
	return Stats{Handled: l.handled.Load(), Failed: l.failed.Load()}
}
