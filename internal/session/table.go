package session

// Table is the daemon's in-memory session map. It is never mutated
// concurrently: the daemon orchestrator is its single owner and every
// mutation happens from the orchestrator's own goroutine (see
// internal/daemon). Table itself holds no lock — it is a plain map wrapper
// so that ownership discipline stays visible at the call site instead of
// being hidden behind a mutex.
type Table struct {
	sessions map[string]*Session
}

// NewTable creates an empty session table.
func NewTable() *Table {
	return &Table{sessions: make(map[string]*Session)}
}

// Get returns the session for id, or nil if untracked.
func (t *Table) Get(id string) *Session {
	return t.sessions[id]
}

// Put inserts or replaces a session entry.
func (t *Table) Put(s *Session) {
	t.sessions[s.ID] = s
}

// Delete removes a session entry. No-op if untracked.
func (t *Table) Delete(id string) {
	delete(t.sessions, id)
}

// Snapshot returns a copy of every tracked session. Mutating the returned
// slice or its elements does not affect the table.
func (t *Table) Snapshot() []*Session {
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		cp := *s
		out = append(out, &cp)
	}
	return out
}

// Len returns the number of tracked sessions.
func (t *Table) Len() int {
	return len(t.sessions)
}
