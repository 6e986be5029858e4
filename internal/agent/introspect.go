package agent

import "time"

// SessionSnapshot is a read-only copy of a Session, safe to hand to a
// goroutine outside the event loop (the introspection RPC) since it
// copies out of the RequestCache rather than aliasing it.
type SessionSnapshot struct {
	Address  string
	Role     Role
	State    State
	PeerKey  []byte
	OpenedAt time.Time
	Timeout  time.Duration
}

// Sessions snapshots every open PROTECT session, taken safely via Query
// on the agent's own event-loop goroutine.
func (a *Agent) Sessions() []SessionSnapshot {
	var out []SessionSnapshot
	a.Query(func(a *Agent) {
		for _, addr := range a.cache.Addresses() {
			s, ok := a.cache.Get(addr)
			if !ok {
				continue
			}
			out = append(out, SessionSnapshot{
				Address:  s.Address,
				Role:     s.Role,
				State:    s.State,
				PeerKey:  append([]byte(nil), s.PeerKey...),
				OpenedAt: s.OpenedAt,
				Timeout:  s.Timeout,
			})
		}
	})
	return out
}

// SelfAddress returns the agent's own transport address.
func (a *Agent) SelfAddress() string { return a.selfAddr }
