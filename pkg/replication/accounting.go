package replication

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/zhangyunhao116/skipmap"

	"lsmrepl/pkg/metrics"
	"lsmrepl/pkg/types"
)

// ParticipantState is what is known about one participant.
type ParticipantState struct {
	Address         string    `json:"address"`
	LastAckedLSN    types.LSN `json:"last_acked_lsn"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	Dead            bool      `json:"dead"`
	Stale           bool      `json:"stale"`
}

type participant struct {
	mu    sync.Mutex
	acked types.LSN
	seen  time.Time
	dead  bool
}

// ParticipantsStates tracks the participants of a static configuration,
// keyed by normalized "host:port" address. Iteration is in address order,
// which makes partner selection deterministic.
type ParticipantsStates struct {
	states     *skipmap.OrderedMap[string, *participant]
	staleAfter time.Duration
	now        func() time.Time
	metrics    *metrics.Registry
}

func NewParticipantsStates(addresses []string, staleAfter time.Duration) (*ParticipantsStates, error) {
	p := &ParticipantsStates{
		states:     skipmap.New[string, *participant](),
		staleAfter: staleAfter,
		now:        time.Now,
	}
	for _, a := range addresses {
		addr, err := NormalizeAddress(a)
		if err != nil {
			return nil, err
		}
		if _, loaded := p.states.LoadOrStore(addr, &participant{}); loaded {
			return nil, fmt.Errorf("participant %s listed twice", addr)
		}
	}
	return p, nil
}

// Instrument reports participant updates to m.
func (p *ParticipantsStates) Instrument(m *metrics.Registry) *ParticipantsStates {
	p.metrics = m
	return p
}

// NormalizeAddress canonicalizes "host:port" so that equal endpoints compare equal.
func NormalizeAddress(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid participant address %q: %w", addr, err)
	}
	return JoinAddress(host, port), nil
}

// JoinAddress builds a normalized address from a host and a port.
func JoinAddress(host, port string) string {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			ip = v4
		}
		host = ip.String()
	}
	return net.JoinHostPort(host, port)
}

// Update records a heartbeat. The acknowledged LSN only moves forward.
// Unknown addresses are rejected with ErrAuthFailed.
func (p *ParticipantsStates) Update(addr string, lsn types.LSN, at time.Time) error {
	st, ok := p.states.Load(addr)
	if !ok {
		return fmt.Errorf("%w: %s is not a configured participant", ErrAuthFailed, addr)
	}

	st.mu.Lock()
	if st.acked.Less(lsn) {
		st.acked = lsn
	}
	if st.seen.Before(at) {
		st.seen = at
	}
	st.dead = false
	acked := st.acked
	st.mu.Unlock()

	p.metrics.UpdateParticipant(addr, acked.SequenceNo, false)
	return nil
}

// MarkDead excludes addr from partner selection until its next update.
func (p *ParticipantsStates) MarkDead(addr string) {
	st, ok := p.states.Load(addr)
	if !ok {
		return
	}
	st.mu.Lock()
	st.dead = true
	acked := st.acked
	st.mu.Unlock()

	p.metrics.UpdateParticipant(addr, acked.SequenceNo, true)
}

func (p *ParticipantsStates) Contains(addr string) bool {
	_, ok := p.states.Load(addr)
	return ok
}

func (p *ParticipantsStates) Get(addr string) (ParticipantState, bool) {
	st, ok := p.states.Load(addr)
	if !ok {
		return ParticipantState{}, false
	}
	return p.snapshot(addr, st, p.now()), true
}

func (p *ParticipantsStates) snapshot(addr string, st *participant, now time.Time) ParticipantState {
	st.mu.Lock()
	defer st.mu.Unlock()

	return ParticipantState{
		Address:         addr,
		LastAckedLSN:    st.acked,
		LastHeartbeatAt: st.seen,
		Dead:            st.dead,
		Stale:           st.seen.IsZero() || now.Sub(st.seen) > p.staleAfter,
	}
}

// States lists all participants in address order.
func (p *ParticipantsStates) States() []ParticipantState {
	now := p.now()
	out := make([]ParticipantState, 0, p.states.Len())
	p.states.Range(func(addr string, st *participant) bool {
		out = append(out, p.snapshot(addr, st, now))
		return true
	})
	return out
}

// SynchronizationPartner returns the lowest address among participants that
// are alive, not stale and have acknowledged at least target.
func (p *ParticipantsStates) SynchronizationPartner(target types.LSN) (string, error) {
	now := p.now()
	var partner string
	p.states.Range(func(addr string, st *participant) bool {
		s := p.snapshot(addr, st, now)
		if s.Dead || s.Stale || s.LastAckedLSN.Less(target) {
			return true
		}
		partner = addr
		return false
	})
	if partner == "" {
		return "", fmt.Errorf("%w: nobody acknowledged %s", ErrNoPartner, target)
	}
	return partner, nil
}
