package replication

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"lsmrepl/pkg/types"
)

// SlaveView is a slave's picture of the other participants. It asks every
// one of them for its state before choosing a synchronization partner.
type SlaveView struct {
	master     MasterResolver
	clients    ClientFactory
	peers      []string
	staleAfter time.Duration
	timeout    time.Duration

	mu           sync.Mutex
	states       *ParticipantsStates
	statesMaster string
}

// NewSlaveView builds a view over participants, leaving out self.
func NewSlaveView(master MasterResolver, self string, participants []string, clients ClientFactory, staleAfter, timeout time.Duration) (*SlaveView, error) {
	me, err := NormalizeAddress(self)
	if err != nil {
		return nil, err
	}
	v := &SlaveView{
		master:     master,
		clients:    clients,
		staleAfter: staleAfter,
		timeout:    timeout,
	}
	for _, p := range participants {
		addr, err := NormalizeAddress(p)
		if err != nil {
			return nil, err
		}
		if addr != me && !slices.Contains(v.peers, addr) {
			v.peers = append(v.peers, addr)
		}
	}
	return v, nil
}

// Master returns a client for the current master.
func (v *SlaveView) Master(context.Context) (MasterClient, error) {
	addr, err := v.masterAddr()
	if err != nil {
		return nil, err
	}
	return v.clients.Client(addr), nil
}

func (v *SlaveView) masterAddr() (string, error) {
	addr, err := v.master.MasterAddr()
	if err != nil {
		return "", ConnectionLost(CodeUnavailable, fmt.Errorf("master unknown: %w", err))
	}
	if addr == "" {
		return "", ConnectionLost(CodeUnavailable, fmt.Errorf("master unknown"))
	}
	return NormalizeAddress(addr)
}

// SynchronizationPartner refreshes the view and picks a participant that
// holds at least target.
func (v *SlaveView) SynchronizationPartner(ctx context.Context, target types.LSN) (MasterClient, error) {
	states, err := v.refresh(ctx)
	if err != nil {
		return nil, err
	}
	addr, err := states.SynchronizationPartner(target)
	if err != nil {
		return nil, ConnectionLost(CodeBusy, err)
	}
	return v.clients.Client(addr), nil
}

// States returns the participant states seen by the last refresh.
func (v *SlaveView) States() []ParticipantState {
	v.mu.Lock()
	states := v.states
	v.mu.Unlock()

	if states == nil {
		return nil
	}
	return states.States()
}

func (v *SlaveView) refresh(ctx context.Context) (*ParticipantsStates, error) {
	master, err := v.masterAddr()
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	if v.states == nil || v.statesMaster != master {
		addrs := []string{master}
		for _, p := range v.peers {
			if p != master {
				addrs = append(addrs, p)
			}
		}
		states, err := NewParticipantsStates(addrs, v.staleAfter)
		if err != nil {
			v.mu.Unlock()
			return nil, err
		}
		v.states, v.statesMaster = states, master
	}
	states := v.states
	v.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, st := range states.States() {
		addr := st.Address
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, v.timeout)
			defer cancel()

			lsn, err := v.clients.Client(addr).State(cctx)
			if err != nil {
				slog.Debug("participant did not report its state", "participant", addr, "error", err)
				states.MarkDead(addr)
				return nil
			}
			return states.Update(addr, lsn, time.Now())
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return states, nil
}
