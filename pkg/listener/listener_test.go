package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestListener_HandlesInOrder(t *testing.T) {
	in := make(chan int)
	var (
		mu  sync.Mutex
		got []int
	)
	l := New("test", in, func(v int) error {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
		return nil
	})
	l.Start(context.Background())

	for i := 0; i < 5; i++ {
		in <- i
	}
	l.Stop()

	if len(got) != 5 {
		t.Fatalf("handled %d values, want 5", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("value %d = %d, want %d", i, v, i)
		}
	}
}

func TestListener_ContinuesAfterFailure(t *testing.T) {
	in := make(chan int)
	done := make(chan struct{})
	l := New("test", in, func(v int) error {
		if v == 1 {
			return errors.New("boom")
		}
		if v == 2 {
			close(done)
		}
		return nil
	})
	l.Start(context.Background())

	in <- 1
	in <- 2
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener stopped handling after a failure")
	}
	l.Stop()

	st := l.Stats()
	if st.Handled != 2 || st.Failed != 1 {
		t.Fatalf("stats = %+v, want 2 handled and 1 failed", st)
	}
}

func TestListener_StopDrainsBuffered(t *testing.T) {
	in := make(chan int, 10)
	for i := 0; i < 10; i++ {
		in <- i
	}

	var count int
	stopped := false
	l := New("test", in, func(int) error {
		count++
		return nil
	}, func() { stopped = true })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.Start(ctx)
	l.Stop()

	if count != 10 {
		t.Fatalf("handled %d buffered values, want 10", count)
	}
	if !stopped {
		t.Fatal("stop hook was not called")
	}
}

func TestListener_ExitsOnClosedChannel(t *testing.T) {
	in := make(chan int)
	l := New[int]("test", in, func(int) error { return nil })
	l.Start(context.Background())
	close(in)

	finished := make(chan struct{})
	go func() {
		l.Stop()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the input was closed")
	}
}
