package replication

import (
	"context"
	"errors"
	"testing"
	"time"

	"lsmrepl/pkg/types"
)

func TestApplyJoin(t *testing.T) {
	lsns := []types.LSN{types.NewLSN(1, 1), types.NewLSN(1, 2), types.NewLSN(1, 3)}
	j := newApplyJoin(lsns)

	j.callback(0)(nil)
	j.callback(2)(nil)
	if j.failed() {
		t.Fatal("Join must not fail before an error is reported")
	}
	if last, ok := j.lastApplied(); !ok || last != lsns[0] {
		t.Fatalf("Expected prefix to end at %s, got %s", lsns[0], last)
	}

	j.callback(1)(nil)
	if err := j.wait(context.Background()); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if last, _ := j.lastApplied(); last != lsns[2] {
		t.Fatalf("Expected prefix to end at %s, got %s", lsns[2], last)
	}
}

func TestApplyJoin_FirstErrorWins(t *testing.T) {
	j := newApplyJoin([]types.LSN{types.NewLSN(1, 1), types.NewLSN(1, 2)})
	boom := errors.New("boom")

	j.callback(1)(boom)
	j.callback(0)(errors.New("later"))
	if !j.failed() {
		t.Fatal("Expected join to be failed")
	}
	if err := j.wait(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Expected first error, got %v", err)
	}
	if _, ok := j.lastApplied(); ok {
		t.Fatal("Nothing was applied")
	}
}

func TestApplyJoin_WaitHonorsContext(t *testing.T) {
	j := newApplyJoin([]types.LSN{types.NewLSN(1, 1)})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := j.wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline, got %v", err)
	}
	if err := newApplyJoin(nil).wait(context.Background()); err != nil {
		t.Fatalf("Empty join must complete at once, got %v", err)
	}
}

func TestRetryInterval(t *testing.T) {
	cases := []struct {
		count int
		want  time.Duration
	}{
		{-1, 100 * time.Millisecond},
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{10, time.Second},
	}
	for _, tc := range cases {
		if got := retryInterval(100*time.Millisecond, 2, tc.count, time.Second); got != tc.want {
			t.Fatalf("retryInterval(count=%d): expected %s, got %s", tc.count, tc.want, got)
		}
	}
}
