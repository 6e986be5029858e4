package agent

import "time"

// RequestCache holds one in-flight PROTECT session per peer address
// (spec.md §4.4). It is only ever touched from the agent's event loop
// goroutine, so it carries no lock of its own (spec.md §5).
type RequestCache struct {
	sessions map[string]*Session
	timeout  time.Duration
}

// NewRequestCache builds an empty cache whose entries expire after
// timeout (the Open Question 2 addition — see DESIGN.md).
func NewRequestCache(timeout time.Duration) *RequestCache {
	return &RequestCache{sessions: make(map[string]*Session), timeout: timeout}
}

// New creates (or replaces) the session for addr.
func (c *RequestCache) New(addr string, role Role, peerKey []byte) *Session {
	s := &Session{
		Address:  addr,
		Role:     role,
		State:    StateIdle,
		PeerKey:  peerKey,
		OpenedAt: time.Now(),
		Timeout:  c.timeout,
	}
	c.sessions[addr] = s
	return s
}

// Get returns the open session for addr, if any.
func (c *RequestCache) Get(addr string) (*Session, bool) {
	s, ok := c.sessions[addr]
	return s, ok
}

// Remove discards addr's session; a no-op if none is open.
func (c *RequestCache) Remove(addr string) {
	delete(c.sessions, addr)
}

// Len reports how many sessions are currently open.
func (c *RequestCache) Len() int {
	return len(c.sessions)
}

// Addresses returns every address with an open session.
func (c *RequestCache) Addresses() []string {
	out := make([]string, 0, len(c.sessions))
	for addr := range c.sessions {
		out = append(out, addr)
	}
	return out
}

// Sweep removes every session that has expired as of now, returning their
// addresses for logging.
func (c *RequestCache) Sweep(now time.Time) []string {
	var expired []string
	for addr, s := range c.sessions {
		if s.Expired(now) {
			expired = append(expired, addr)
		}
	}
	for _, addr := range expired {
		delete(c.sessions, addr)
	}
	return expired
}
