package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newVisitor(id, sid string, created time.Time) *Visitor {
	return &Visitor{ID: id, SessionID: sid, Status: Pending, CreatedAt: created, LastSeenAt: created}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
	if _, err := s.FindBySession(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindBySession error = %v, want ErrNotFound", err)
	}
	if _, err := s.Update(ctx, "nope", func(*Visitor) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreCreateDuplicateSession(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	if err := s.Create(ctx, newVisitor("a", "s1", now)); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := s.Create(ctx, newVisitor("b", "s1", now)); !errors.Is(err, ErrDuplicate) {
		t.Errorf("second Create error = %v, want ErrDuplicate", err)
	}
}

func TestMemoryStoreCreateStoresCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	v := newVisitor("a", "s1", time.Now())
	_ = s.Create(ctx, v)

	v.IP = "mutated"

	got, _ := s.Get(ctx, "a")
	if got.IP == "mutated" {
		t.Error("Create did not copy input; external mutation leaked into store")
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	v := newVisitor("a", "s1", time.Now())
	v.Rotation = Rotation{PageIDs: []string{"p1", "p2"}, IntervalMS: 10, Active: true}
	_ = s.Create(ctx, v)

	got, _ := s.Get(ctx, "a")
	got.Rotation.PageIDs[0] = "mutated"
	got.Status = Blocked

	again, _ := s.FindBySession(ctx, "s1")
	if again.Rotation.PageIDs[0] != "p1" || again.Status != Pending {
		t.Errorf("Get did not return a copy: %+v", again)
	}
}

func TestMemoryStoreUpdate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Create(ctx, newVisitor("a", "s1", time.Now()))

	got, err := s.Update(ctx, "a", func(v *Visitor) error {
		v.Status = Approved
		v.ID = "hijack"
		v.SessionID = "other"
		return nil
	})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if got.Status != Approved || got.ID != "a" || got.SessionID != "s1" {
		t.Errorf("Update result = %+v", got)
	}
	if _, err := s.FindBySession(ctx, "s1"); err != nil {
		t.Errorf("session index lost after Update: %v", err)
	}
}

func TestMemoryStoreUpdateErrorWritesNothing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Create(ctx, newVisitor("a", "s1", time.Now()))

	boom := errors.New("boom")
	_, err := s.Update(ctx, "a", func(v *Visitor) error {
		v.Status = Blocked
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update error = %v, want boom", err)
	}

	got, _ := s.Get(ctx, "a")
	if got.Status != Pending {
		t.Errorf("status = %v after failed Update, want pending", got.Status)
	}
}

func TestMemoryStoreTouch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = s.Create(ctx, newVisitor("a", "s1", start))

	later := start.Add(time.Hour)
	if err := s.Touch(ctx, "a", later); err != nil {
		t.Fatalf("Touch error: %v", err)
	}
	got, _ := s.Get(ctx, "a")
	if !got.LastSeenAt.Equal(later) {
		t.Errorf("LastSeenAt = %v, want %v", got.LastSeenAt, later)
	}
	if err := s.Touch(ctx, "missing", later); !errors.Is(err, ErrNotFound) {
		t.Errorf("Touch missing error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Create(ctx, newVisitor("a", "s1", time.Now()))

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Errorf("second Delete error = %v, want nil", err)
	}
	if _, err := s.FindBySession(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("session index still resolves after Delete: %v", err)
	}
	// The token can be registered again.
	if err := s.Create(ctx, newVisitor("b", "s1", time.Now())); err != nil {
		t.Errorf("re-Create after Delete error: %v", err)
	}
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_ = s.Create(ctx, newVisitor(fmt.Sprintf("v%d", i), fmt.Sprintf("s%d", i), base.Add(time.Duration(i)*time.Minute)))
	}

	all, _ := s.List(ctx, 0)
	if len(all) != 5 {
		t.Fatalf("List returned %d, want 5", len(all))
	}
	if all[0].ID != "v4" || all[4].ID != "v0" {
		t.Errorf("List order = %s..%s, want v4..v0", all[0].ID, all[4].ID)
	}

	limited, _ := s.List(ctx, 2)
	if len(limited) != 2 || limited[0].ID != "v4" || limited[1].ID != "v3" {
		t.Errorf("List(2) = %v", limited)
	}
}

func TestMemoryStoreCount(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	_ = s.Create(ctx, newVisitor("a", "s1", now))
	_ = s.Create(ctx, newVisitor("b", "s2", now.Add(-10*time.Minute)))
	c := newVisitor("c", "s3", now)
	c.Status = Approved
	_ = s.Create(ctx, c)

	pending := Pending
	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 3},
		{"pending", Filter{Status: &pending}, 2},
		{"recent", Filter{SeenSince: now.Add(-5 * time.Minute)}, 2},
		{"recent pending", Filter{Status: &pending, SeenSince: now.Add(-5 * time.Minute)}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Count(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Count error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Count = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Create(ctx, newVisitor("a", "s1", time.Now()))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, _ = s.Update(ctx, "a", func(v *Visitor) error {
				v.Rotation.CurrentIndex++
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			_, _ = s.Get(ctx, "a")
		}()
		go func() {
			defer wg.Done()
			_, _ = s.List(ctx, 10)
		}()
	}
	wg.Wait()

	got, _ := s.Get(ctx, "a")
	if got.Rotation.CurrentIndex != 50 {
		t.Errorf("CurrentIndex = %d after 50 updates, want 50", got.Rotation.CurrentIndex)
	}
}
