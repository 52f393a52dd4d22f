package content

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository implements Repository with in-process maps. Records are
// copied on the way in and on the way out so callers never share memory
// with the repository.
type MemoryRepository struct {
	mu              sync.RWMutex
	pages           map[string]*Page
	alerts          map[string]*Alert
	targets         map[string]*Target
	scans           map[string]*Scan
	vulnerabilities map[string]*Vulnerability
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		pages:           make(map[string]*Page),
		alerts:          make(map[string]*Alert),
		targets:         make(map[string]*Target),
		scans:           make(map[string]*Scan),
		vulnerabilities: make(map[string]*Vulnerability),
	}
}

func (r *MemoryRepository) GetPage(_ context.Context, id string) (*Page, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepository) DefaultPage(_ context.Context) (*Page, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.pages {
		if p.IsDefault {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) ListPages(_ context.Context) ([]*Page, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Page, 0, len(r.pages))
	for _, p := range r.pages {
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *MemoryRepository) CreatePage(_ context.Context, p *Page) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.IsDefault {
		r.clearDefaultLocked()
	}
	cp := *p
	r.pages[p.ID] = &cp
	return nil
}

func (r *MemoryRepository) UpdatePage(_ context.Context, id string, u PageUpdate, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pages[id]
	if !ok {
		return ErrNotFound
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Content != nil {
		p.Content = *u.Content
	}
	if u.IsDefault != nil {
		if *u.IsDefault {
			r.clearDefaultLocked()
		}
		p.IsDefault = *u.IsDefault
	}
	p.UpdatedAt = at
	return nil
}

func (r *MemoryRepository) clearDefaultLocked() {
	for _, p := range r.pages {
		p.IsDefault = false
	}
}

func (r *MemoryRepository) DeletePage(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pages, id)
	return nil
}

func (r *MemoryRepository) CreateAlert(_ context.Context, a *Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.alerts[a.ID] = &cp
	return nil
}

func (r *MemoryRepository) ListAlerts(_ context.Context, limit int) ([]*Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Alert, 0, len(r.alerts))
	for _, a := range r.alerts {
		cp := *a
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *MemoryRepository) MarkAlertRead(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return ErrNotFound
	}
	a.Read = true
	return nil
}

func (r *MemoryRepository) MarkAllAlertsRead(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.alerts {
		a.Read = true
	}
	return nil
}

func (r *MemoryRepository) ClearAlerts(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = make(map[string]*Alert)
	return nil
}

func (r *MemoryRepository) UnreadAlerts(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, a := range r.alerts {
		if !a.Read {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) ListTargets(_ context.Context) ([]*Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Target, 0, len(r.targets))
	for _, t := range r.targets {
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *MemoryRepository) CreateTarget(_ context.Context, t *Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.targets[t.ID] = &cp
	return nil
}

func (r *MemoryRepository) DeleteTarget(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.targets, id)
	return nil
}

func (r *MemoryRepository) ListScans(_ context.Context) ([]*Scan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Scan, 0, len(r.scans))
	for _, s := range r.scans {
		cp := *s
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *MemoryRepository) CreateScan(_ context.Context, s *Scan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.scans[s.ID] = &cp
	return nil
}

func (r *MemoryRepository) UpdateScan(_ context.Context, id string, u ScanUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scans[id]
	if !ok {
		return ErrNotFound
	}
	if u.ScanType != nil {
		s.ScanType = *u.ScanType
	}
	if u.Results != nil {
		s.Results = *u.Results
	}
	if u.Notes != nil {
		s.Notes = *u.Notes
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	return nil
}

func (r *MemoryRepository) ListVulnerabilities(_ context.Context) ([]*Vulnerability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Vulnerability, 0, len(r.vulnerabilities))
	for _, v := range r.vulnerabilities {
		cp := *v
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CVSS > result[j].CVSS
	})
	return result, nil
}

func (r *MemoryRepository) CreateVulnerability(_ context.Context, v *Vulnerability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *v
	r.vulnerabilities[v.ID] = &cp
	return nil
}

func (r *MemoryRepository) OpenVulnerabilities(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, v := range r.vulnerabilities {
		if v.Status == "open" {
			n++
		}
	}
	return n, nil
}

var _ Repository = (*MemoryRepository)(nil)
