package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Filter selects visitors for Count. Zero fields do not constrain.
type Filter struct {
	Status    *Status
	SeenSince time.Time
}

func (f Filter) matches(v *Visitor) bool {
	if f.Status != nil && v.Status != *f.Status {
		return false
	}
	if !f.SeenSince.IsZero() && !v.LastSeenAt.After(f.SeenSince) {
		return false
	}
	return true
}

// Store persists visitor records. Get, FindBySession and Update return
// ErrNotFound for unknown keys. Implementations must be safe for concurrent
// use and must apply Update atomically with respect to other writers.
type Store interface {
	// Create inserts v. It returns ErrDuplicate when v.SessionID is taken.
	Create(ctx context.Context, v *Visitor) error
	Get(ctx context.Context, id string) (*Visitor, error)
	FindBySession(ctx context.Context, sessionID string) (*Visitor, error)
	// Touch sets LastSeenAt without reading or rewriting the record.
	Touch(ctx context.Context, id string, at time.Time) error
	// Update loads the record, applies fn and stores the result. When fn
	// returns an error nothing is written and the error is returned.
	Update(ctx context.Context, id string, fn func(v *Visitor) error) (*Visitor, error)
	// Delete is a no-op for unknown ids.
	Delete(ctx context.Context, id string) error
	// List returns visitors newest first, at most limit entries.
	List(ctx context.Context, limit int) ([]*Visitor, error)
	Count(ctx context.Context, f Filter) (int, error)
}

// MemoryStore implements Store with in-process maps.
type MemoryStore struct {
	mu        sync.RWMutex
	visitors  map[string]*Visitor
	bySession map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		visitors:  make(map[string]*Visitor),
		bySession: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, v *Visitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bySession[v.SessionID]; ok {
		return ErrDuplicate
	}
	s.visitors[v.ID] = v.Clone()
	s.bySession[v.SessionID] = v.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Visitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.visitors[id]
	if !ok {
		return nil, ErrNotFound
	}
	return v.Clone(), nil
}

func (s *MemoryStore) FindBySession(_ context.Context, sessionID string) (*Visitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySession[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.visitors[id].Clone(), nil
}

func (s *MemoryStore) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.visitors[id]
	if !ok {
		return ErrNotFound
	}
	v.LastSeenAt = at
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(v *Visitor) error) (*Visitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.visitors[id]
	if !ok {
		return nil, ErrNotFound
	}
	working := existing.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	// Identity fields are immutable.
	working.ID = existing.ID
	working.SessionID = existing.SessionID
	s.visitors[id] = working
	return working.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.visitors[id]
	if !ok {
		return nil
	}
	delete(s.bySession, v.SessionID)
	delete(s.visitors, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]*Visitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Visitor, 0, len(s.visitors))
	for _, v := range s.visitors {
		result = append(result, v.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) Count(_ context.Context, f Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, v := range s.visitors {
		if f.matches(v) {
			n++
		}
	}
	return n, nil
}

var _ Store = (*MemoryStore)(nil)
