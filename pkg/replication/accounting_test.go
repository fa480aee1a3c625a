package replication

import (
	"context"
	"errors"
	"testing"
	"time"

	"lsmrepl/pkg/types"
)

func TestNormalizeAddress(t *testing.T) {
	if _, err := NormalizeAddress("::ffff:127.0.0.1:80"); err == nil {
		t.Fatal("Expected unbracketed IPv6 to be rejected")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"[::ffff:127.0.0.1]:80", "127.0.0.1:80"},
		{"[::1]:9000", "[::1]:9000"},
	}
	for _, tc := range tests {
		got, err := NormalizeAddress(tc.in)
		if err != nil {
			t.Fatalf("NormalizeAddress(%q) failed: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeAddress(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if _, err := NormalizeAddress("no-port"); err == nil {
		t.Fatal("Expected an address without port to be rejected")
	}
}

func mustUpdate(t *testing.T, p *ParticipantsStates, addr string, lsn types.LSN, at time.Time) {
	t.Helper()
	if err := p.Update(addr, lsn, at); err != nil {
		t.Fatalf("Update(%s, %s) failed: %v", addr, lsn, err)
	}
}

func expectPartner(t *testing.T, p *ParticipantsStates, target types.LSN, want string) {
	t.Helper()
	got, err := p.SynchronizationPartner(target)
	if err != nil {
		t.Fatalf("SynchronizationPartner(%s) failed: %v", target, err)
	}
	if got != want {
		t.Fatalf("SynchronizationPartner(%s) = %s, want %s", target, got, want)
	}
}

func TestParticipantsStates_SynchronizationPartner(t *testing.T) {
	now := time.Unix(1000, 0)
	p, err := NewParticipantsStates([]string{"10.0.0.3:1", "10.0.0.1:1", "10.0.0.2:1"}, time.Minute)
	if err != nil {
		t.Fatalf("NewParticipantsStates failed: %v", err)
	}
	p.now = func() time.Time { return now }

	if _, err := p.SynchronizationPartner(types.NewLSN(1, 1)); !errors.Is(err, ErrNoPartner) {
		t.Fatalf("Expected ErrNoPartner before any report, got %v", err)
	}

	mustUpdate(t, p, "10.0.0.1:1", types.NewLSN(1, 5), now)
	mustUpdate(t, p, "10.0.0.2:1", types.NewLSN(1, 9), now)
	mustUpdate(t, p, "10.0.0.3:1", types.NewLSN(2, 1), now)

	// lowest address wins
	expectPartner(t, p, types.NewLSN(1, 5), "10.0.0.1:1")
	expectPartner(t, p, types.NewLSN(1, 7), "10.0.0.2:1")

	p.MarkDead("10.0.0.2:1")
	expectPartner(t, p, types.NewLSN(1, 7), "10.0.0.3:1")

	// stale after the timeout
	now = now.Add(2 * time.Minute)
	if _, err := p.SynchronizationPartner(types.NewLSN(1, 1)); !errors.Is(err, ErrNoPartner) {
		t.Fatalf("Expected ErrNoPartner for stale participants, got %v", err)
	}
}

func TestParticipantsStates_Update(t *testing.T) {
	p, err := NewParticipantsStates([]string{"127.0.0.1:7002"}, time.Minute)
	if err != nil {
		t.Fatalf("NewParticipantsStates failed: %v", err)
	}

	at := time.Now()
	mustUpdate(t, p, "127.0.0.1:7002", types.NewLSN(2, 3), at)
	mustUpdate(t, p, "127.0.0.1:7002", types.NewLSN(1, 9), at.Add(-time.Second))

	st, ok := p.Get("127.0.0.1:7002")
	if !ok {
		t.Fatal("Expected the participant to be known")
	}
	if st.LastAckedLSN != types.NewLSN(2, 3) {
		t.Fatalf("Expected acked 2:3, got %s", st.LastAckedLSN)
	}
	if !st.LastHeartbeatAt.Equal(at) {
		t.Fatalf("Expected heartbeat at %v, got %v", at, st.LastHeartbeatAt)
	}
	if st.Stale {
		t.Fatal("Expected a fresh participant")
	}

	if err := p.Update("127.0.0.1:7003", types.NewLSN(1, 1), at); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Expected ErrAuthFailed, got %v", err)
	}
	if p.Contains("127.0.0.1:7003") {
		t.Fatal("Unknown participant must not be added")
	}

	if _, err := NewParticipantsStates([]string{"127.0.0.1:1", "127.0.0.1:1"}, time.Minute); err == nil {
		t.Fatal("Expected duplicate participants to be rejected")
	}
}

func TestSlaveView_MarksUnreachableParticipantsDead(t *testing.T) {
	clients := clientMap{
		"127.0.0.1:7001": &stubClient{addr: "127.0.0.1:7001", state: types.NewLSN(1, 4)},
		"127.0.0.1:7003": &stubClient{addr: "127.0.0.1:7003", state: types.NewLSN(1, 9)},
	}
	participants := []string{"127.0.0.1:7001", "127.0.0.1:7002", "127.0.0.1:7003", "127.0.0.1:7004"}
	v, err := NewSlaveView(StaticMaster("127.0.0.1:7001"), "127.0.0.1:7002", participants, clients, time.Minute, time.Second)
	if err != nil {
		t.Fatalf("NewSlaveView failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c, err := v.SynchronizationPartner(ctx, types.NewLSN(1, 5))
	if err != nil {
		t.Fatalf("SynchronizationPartner failed: %v", err)
	}
	if c.Address() != "127.0.0.1:7003" {
		t.Fatalf("Expected partner 127.0.0.1:7003, got %s", c.Address())
	}

	states := v.States()
	if len(states) != 3 {
		t.Fatalf("Expected 3 participants without self, got %d", len(states))
	}
	for _, st := range states {
		if want := st.Address == "127.0.0.1:7004"; st.Dead != want {
			t.Fatalf("%s: dead = %v, want %v", st.Address, st.Dead, want)
		}
	}

	_, err = v.SynchronizationPartner(ctx, types.NewLSN(2, 1))
	if !errors.Is(err, ErrConnectionLost) || !errors.Is(err, ErrNoPartner) {
		t.Fatalf("Expected a lost connection without partner, got %v", err)
	}
}
