package ws

import "sync"

// Registry tracks the live observer connections and the live connections of
// each visitor session. It only does bookkeeping: it never writes to a
// connection, and callers only ever see snapshots.
type Registry struct {
	mu        sync.RWMutex
	observers map[*Client]struct{}
	visitors  map[string]map[*Client]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		observers: make(map[*Client]struct{}),
		visitors:  make(map[string]map[*Client]struct{}),
	}
}

func (r *Registry) AttachObserver(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.observers[c]; ok {
		return
	}
	r.observers[c] = struct{}{}
	connectionsGauge.WithLabelValues(audienceObserver).Inc()
}

// DetachObserver reports whether c was attached.
func (r *Registry) DetachObserver(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.observers[c]; !ok {
		return false
	}
	delete(r.observers, c)
	connectionsGauge.WithLabelValues(audienceObserver).Dec()
	return true
}

func (r *Registry) AttachVisitor(sessionID string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.visitors[sessionID]
	if !ok {
		set = make(map[*Client]struct{})
		r.visitors[sessionID] = set
	}
	if _, ok := set[c]; ok {
		return
	}
	set[c] = struct{}{}
	connectionsGauge.WithLabelValues(audienceVisitor).Inc()
}

// DetachVisitor reports whether c was attached. A session left without
// connections is forgotten.
func (r *Registry) DetachVisitor(sessionID string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.visitors[sessionID]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.visitors, sessionID)
	}
	connectionsGauge.WithLabelValues(audienceVisitor).Dec()
	return true
}

// detach removes c from whichever set it belongs to.
func (r *Registry) detach(c *Client) bool {
	if c.sessionID == "" {
		return r.DetachObserver(c)
	}
	return r.DetachVisitor(c.sessionID, c)
}

// drain detaches every connection and returns them.
func (r *Registry) drain() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.observers))
	for c := range r.observers {
		out = append(out, c)
	}
	connectionsGauge.WithLabelValues(audienceObserver).Sub(float64(len(out)))
	observers := len(out)
	for _, set := range r.visitors {
		for c := range set {
			out = append(out, c)
		}
	}
	connectionsGauge.WithLabelValues(audienceVisitor).Sub(float64(len(out) - observers))
	r.observers = make(map[*Client]struct{})
	r.visitors = make(map[string]map[*Client]struct{})
	return out
}

func (r *Registry) observerSnapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.observers))
	for c := range r.observers {
		out = append(out, c)
	}
	return out
}

func (r *Registry) sessionSnapshot(sessionID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.visitors[sessionID]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

func (r *Registry) ObserverCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers)
}

// VisitorCount returns the number of live visitor connections across all
// sessions.
func (r *Registry) VisitorCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.visitors {
		n += len(set)
	}
	return n
}

// SessionCount returns the number of sessions with at least one live
// connection.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.visitors)
}

// ConnectionsFor returns the number of live connections for one session.
func (r *Registry) ConnectionsFor(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.visitors[sessionID])
}
