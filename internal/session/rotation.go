package session

import "fmt"

const (
	MinRotationPages = 2
	MaxRotationPages = 6
)

// Rotation is the page-cycling sub-state of an approved visitor. The zero
// value is an inactive rotation.
type Rotation struct {
	PageIDs      []string `json:"page_ids,omitempty"`
	IntervalMS   int      `json:"interval_ms,omitempty"`
	CurrentIndex int      `json:"current_index"`
	Active       bool     `json:"active"`
}

// NewRotation validates the page list and interval and returns an active
// rotation positioned on the first page. Duplicate page ids are allowed.
func NewRotation(pageIDs []string, intervalMS int) (Rotation, error) {
	if n := len(pageIDs); n < MinRotationPages || n > MaxRotationPages {
		return Rotation{}, fmt.Errorf("%w: rotation needs %d-%d pages, got %d",
			ErrInvalidArgument, MinRotationPages, MaxRotationPages, n)
	}
	if intervalMS <= 0 {
		return Rotation{}, fmt.Errorf("%w: interval must be positive, got %d", ErrInvalidArgument, intervalMS)
	}
	ids := make([]string, len(pageIDs))
	copy(ids, pageIDs)
	return Rotation{
		PageIDs:    ids,
		IntervalMS: intervalMS,
		Active:     true,
	}, nil
}

// Current returns the page id at the current index, or "" when inactive.
func (r Rotation) Current() string {
	if !r.Active || r.CurrentIndex < 0 || r.CurrentIndex >= len(r.PageIDs) {
		return ""
	}
	return r.PageIDs[r.CurrentIndex]
}

// Advance moves to the next page, wrapping to the first after the last.
// It returns the new index and the number of pages.
func (r *Rotation) Advance() (int, int) {
	n := len(r.PageIDs)
	if n == 0 {
		return 0, 0
	}
	r.CurrentIndex = (r.CurrentIndex + 1) % n
	return r.CurrentIndex, n
}

func (r Rotation) clone() Rotation {
	if r.PageIDs != nil {
		ids := make([]string, len(r.PageIDs))
		copy(ids, r.PageIDs)
		r.PageIDs = ids
	}
	return r
}
