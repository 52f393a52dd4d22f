package session

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/holdroom/backend/internal/content"
	"github.com/holdroom/backend/internal/geo"
)

const (
	// ListLimit caps List results.
	ListLimit = 500

	// OnlineWindow is how recently a visitor must have been seen to count
	// as online in Stats.
	OnlineWindow = 5 * time.Minute
)

var transitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "holdroom_visitor_transitions_total",
		Help: "Committed visitor state machine operations.",
	},
	[]string{"action"},
)

// Pages resolves page references. content.Repository satisfies it.
type Pages interface {
	// GetPage returns content.ErrNotFound for unknown ids.
	GetPage(ctx context.Context, id string) (*content.Page, error)
	// DefaultPage returns nil, nil when there is no default.
	DefaultPage(ctx context.Context) (*content.Page, error)
}

type BotScorer interface {
	Score(userAgent string) (isBot bool, confidence float64)
}

type Locator interface {
	Lookup(ctx context.Context, ip string) geo.Location
}

// Alerter records operator-facing alerts and sends outbound notifications.
// Both calls are best-effort and must not fail the caller.
type Alerter interface {
	Raise(ctx context.Context, kind, message, severity string)
	Notify(message string)
}

type MachineConfig struct {
	Store    Store
	Pages    Pages
	Notifier Notifier
	Bots     BotScorer
	Geo      Locator
	Alerts   Alerter
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Machine is the authoritative visitor lifecycle. Every mutation goes
// through it: the record is updated in the Store and the resulting events
// are pushed through the Notifier while the visitor's lock is held, so a
// visitor's listeners see events in the order the actions applied.
type Machine struct {
	store    Store
	pages    Pages
	notifier Notifier
	bots     BotScorer
	geo      Locator
	alerts   Alerter
	log      *zap.Logger
	now      func() time.Time

	byID      *keyedMutex
	bySession *keyedMutex
}

func NewMachine(cfg MachineConfig) *Machine {
	m := &Machine{
		store:     cfg.Store,
		pages:     cfg.Pages,
		notifier:  cfg.Notifier,
		bots:      cfg.Bots,
		geo:       cfg.Geo,
		alerts:    cfg.Alerts,
		log:       cfg.Logger,
		now:       cfg.Clock,
		byID:      newKeyedMutex(),
		bySession: newKeyedMutex(),
	}
	if m.notifier == nil {
		m.notifier = nopNotifier{}
	}
	if m.alerts == nil {
		m.alerts = nopAlerter{}
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Register returns the visitor for reg.SessionID, creating it in Pending
// when it is new. For a known session only LastSeenAt changes.
func (m *Machine) Register(ctx context.Context, reg Registration) (*Visitor, error) {
	if reg.SessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}

	unlock := m.bySession.Lock(reg.SessionID)
	defer unlock()

	now := m.now()
	existing, err := m.store.FindBySession(ctx, reg.SessionID)
	switch {
	case err == nil:
		err = m.store.Touch(ctx, existing.ID, now)
		if err == nil {
			existing.LastSeenAt = now
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("refreshing visitor: %w", err)
		}
		// Removed between lookup and touch: register the token afresh.
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("finding visitor: %w", err)
	}

	v := &Visitor{
		ID:         uuid.NewString(),
		SessionID:  reg.SessionID,
		IP:         reg.IP,
		UserAgent:  reg.UserAgent,
		Screen:     fmt.Sprintf("%dx%d", reg.ScreenWidth, reg.ScreenHeight),
		Timezone:   reg.Timezone,
		Languages:  reg.Languages,
		Status:     Pending,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if m.bots != nil {
		v.IsBot, v.BotScore = m.bots.Score(reg.UserAgent)
	}
	loc := geo.Unknown
	if m.geo != nil {
		loc = m.geo.Lookup(ctx, reg.IP)
	}
	v.Country, v.City, v.Lat, v.Lng, v.ISP = loc.Country, loc.City, loc.Lat, loc.Lng, loc.ISP

	if err := m.store.Create(ctx, v); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// Another process registered the same token first.
			return m.rejoin(ctx, reg.SessionID, now)
		}
		return nil, fmt.Errorf("creating visitor: %w", err)
	}

	m.notifier.ToAllObservers(NewVisitor{Visitor: v.Clone()})
	transitionsTotal.WithLabelValues("register").Inc()
	m.log.Info("visitor registered",
		zap.String("visitor_id", v.ID),
		zap.String("ip", v.IP),
		zap.Bool("is_bot", v.IsBot))

	botLabel := ""
	severity := content.SeverityInfo
	if v.IsBot {
		botLabel = " [BOT DETECTED]"
		severity = content.SeverityWarning
	}
	m.alerts.Notify(fmt.Sprintf("<b>New Visitor%s</b>\nIP: <code>%s</code>\nLocation: %s, %s\nISP: %s\nUA: %s",
		botLabel, esc(v.IP), esc(v.City), esc(v.Country), esc(v.ISP), esc(truncate(v.UserAgent, 80))))
	m.alerts.Raise(ctx, content.AlertVisitor,
		fmt.Sprintf("New visitor from %s, %s (%s)%s", v.City, v.Country, v.IP, botLabel), severity)

	return v, nil
}

// rejoin returns the visitor already registered under sessionID with its
// LastSeenAt refreshed.
func (m *Machine) rejoin(ctx context.Context, sessionID string, now time.Time) (*Visitor, error) {
	v, err := m.store.FindBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("finding visitor: %w", err)
	}
	if err := m.store.Touch(ctx, v.ID, now); err != nil {
		return nil, fmt.Errorf("refreshing visitor: %w", err)
	}
	v.LastSeenAt = now
	return v, nil
}

// Approve moves the visitor to Approved and stops any rotation. When
// pageID is non-empty it becomes the served page; otherwise the existing
// page (or the default page) is kept.
func (m *Machine) Approve(ctx context.Context, id, pageID string) error {
	unlock := m.byID.Lock(id)
	v, err := m.approve(ctx, id, pageID)
	unlock()
	if err != nil {
		return err
	}

	transitionsTotal.WithLabelValues("approve").Inc()
	m.alerts.Notify(fmt.Sprintf("<b>Visitor Approved</b>\nIP: <code>%s</code>\nLocation: %s, %s",
		esc(v.IP), esc(v.City), esc(v.Country)))
	m.alerts.Raise(ctx, content.AlertVisitor, fmt.Sprintf("Visitor %s approved", v.IP), content.SeverityInfo)
	return nil
}

func (m *Machine) approve(ctx context.Context, id, pageID string) (*Visitor, error) {
	if pageID != "" {
		if _, err := m.lookupPage(ctx, pageID); err != nil {
			return nil, err
		}
	}

	now := m.now()
	v, err := m.store.Update(ctx, id, func(v *Visitor) error {
		if v.Status == Blocked {
			return fmt.Errorf("%w: visitor is blocked", ErrInvalidState)
		}
		v.Status = Approved
		v.Rotation = Rotation{}
		if pageID != "" {
			v.PageID = pageID
		}
		v.LastSeenAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.notifier.ToSession(v.SessionID, VisitorApproved{PageContent: m.effectiveContent(ctx, v)})
	m.notifier.ToAllObservers(VisitorUpdated{VisitorID: v.ID, Status: v.Status})
	return v, nil
}

// ApproveWithRotation approves the visitor and starts cycling through
// pageIDs. A rejected call leaves the record untouched.
func (m *Machine) ApproveWithRotation(ctx context.Context, id string, pageIDs []string, intervalMS int) error {
	rot, err := NewRotation(pageIDs, intervalMS)
	if err != nil {
		return err
	}

	unlock := m.byID.Lock(id)
	v, err := m.approveWithRotation(ctx, id, rot)
	unlock()
	if err != nil {
		return err
	}

	transitionsTotal.WithLabelValues("approve_rotation").Inc()
	m.alerts.Notify(fmt.Sprintf("<b>Visitor Approved (Rotation)</b>\nIP: <code>%s</code>\nPages: %d (rotating every %dms)",
		esc(v.IP), len(rot.PageIDs), rot.IntervalMS))
	m.alerts.Raise(ctx, content.AlertVisitor,
		fmt.Sprintf("Visitor %s approved with rotation (%d pages)", v.IP, len(rot.PageIDs)), content.SeverityInfo)
	return nil
}

func (m *Machine) approveWithRotation(ctx context.Context, id string, rot Rotation) (*Visitor, error) {
	if _, err := m.store.Get(ctx, id); err != nil {
		return nil, err
	}

	var first *string
	for i, pid := range rot.PageIDs {
		p, err := m.lookupPage(ctx, pid)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			first = &p.Content
		}
	}

	now := m.now()
	v, err := m.store.Update(ctx, id, func(v *Visitor) error {
		if v.Status == Blocked {
			return fmt.Errorf("%w: visitor is blocked", ErrInvalidState)
		}
		v.Status = Approved
		v.Rotation = rot.clone()
		v.PageID = ""
		v.LastSeenAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	index := 0
	rotating := true
	m.notifier.ToSession(v.SessionID, VisitorApproved{
		PageContent:      first,
		RotationMode:     true,
		PageIDs:          v.Rotation.PageIDs,
		IntervalMS:       v.Rotation.IntervalMS,
		CurrentPageIndex: &index,
	})
	m.notifier.ToAllObservers(VisitorUpdated{VisitorID: v.ID, Status: v.Status, RotationMode: &rotating})
	return v, nil
}

// RotateNext advances a running rotation by one page and returns the new
// index and the rotation length.
func (m *Machine) RotateNext(ctx context.Context, id string) (int, int, error) {
	unlock := m.byID.Lock(id)
	defer unlock()

	var index, total int
	now := m.now()
	v, err := m.store.Update(ctx, id, func(v *Visitor) error {
		if !v.Rotation.Active {
			return fmt.Errorf("%w: visitor is not rotating", ErrInvalidState)
		}
		index, total = v.Rotation.Advance()
		v.LastSeenAt = now
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	m.notifier.ToSession(v.SessionID, PageRotated{
		PageContent: m.pageContent(ctx, v.Rotation.Current()),
		PageIndex:   index,
		TotalPages:  total,
	})
	transitionsTotal.WithLabelValues("rotate_next").Inc()
	return index, total, nil
}

// StopRotation ends a rotation, freezing the page that was current as the
// visitor's served page. It succeeds when no rotation is running.
func (m *Machine) StopRotation(ctx context.Context, id string) error {
	unlock := m.byID.Lock(id)
	v, err := m.stopRotation(ctx, id)
	unlock()
	if err != nil {
		return err
	}

	transitionsTotal.WithLabelValues("stop_rotation").Inc()
	m.alerts.Raise(ctx, content.AlertVisitor, fmt.Sprintf("Visitor %s rotation stopped", v.IP), content.SeverityInfo)
	return nil
}

func (m *Machine) stopRotation(ctx context.Context, id string) (*Visitor, error) {
	now := m.now()
	v, err := m.store.Update(ctx, id, func(v *Visitor) error {
		if v.Rotation.Active {
			v.PageID = v.Rotation.Current()
		}
		v.Rotation = Rotation{}
		v.LastSeenAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	rotating := false
	m.notifier.ToSession(v.SessionID, RotationStopped{PageContent: m.effectiveContent(ctx, v)})
	m.notifier.ToAllObservers(VisitorUpdated{VisitorID: v.ID, Status: v.Status, RotationMode: &rotating})
	return v, nil
}

// Block moves the visitor to Blocked. Blocked is terminal.
func (m *Machine) Block(ctx context.Context, id string) error {
	unlock := m.byID.Lock(id)
	v, err := m.block(ctx, id)
	unlock()
	if err != nil {
		return err
	}

	transitionsTotal.WithLabelValues("block").Inc()
	m.alerts.Notify(fmt.Sprintf("<b>Visitor Blocked</b>\nIP: <code>%s</code>\nLocation: %s, %s",
		esc(v.IP), esc(v.City), esc(v.Country)))
	m.alerts.Raise(ctx, content.AlertVisitor, fmt.Sprintf("Visitor %s blocked", v.IP), content.SeverityWarning)
	return nil
}

func (m *Machine) block(ctx context.Context, id string) (*Visitor, error) {
	now := m.now()
	v, err := m.store.Update(ctx, id, func(v *Visitor) error {
		v.Status = Blocked
		v.Rotation = Rotation{}
		v.LastSeenAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.notifier.ToSession(v.SessionID, VisitorBlocked{})
	m.notifier.ToAllObservers(VisitorUpdated{VisitorID: v.ID, Status: v.Status})
	return v, nil
}

// Remove deletes the visitor record. Unknown ids are not an error. The
// visitor's own connections are not told; their next poll gets NotFound.
func (m *Machine) Remove(ctx context.Context, id string) error {
	unlock := m.byID.Lock(id)
	defer unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting visitor: %w", err)
	}
	m.notifier.ToAllObservers(VisitorDeleted{VisitorID: id})
	transitionsTotal.WithLabelValues("remove").Inc()
	return nil
}

// Status is the visitor-side poll. It counts as a liveness signal and
// refreshes LastSeenAt, but changes nothing else and emits no event.
func (m *Machine) Status(ctx context.Context, sessionID string) (*StatusView, error) {
	v, err := m.store.FindBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := m.store.Touch(ctx, v.ID, m.now()); err != nil && !errors.Is(err, ErrNotFound) {
		m.log.Warn("refreshing last seen failed", zap.String("visitor_id", v.ID), zap.Error(err))
	}

	view := &StatusView{Status: v.Status, IsRotating: v.Rotation.Active}
	if v.Status != Approved {
		return view, nil
	}

	view.PageContent = m.effectiveContent(ctx, v)
	if v.Rotation.Active {
		index := v.Rotation.CurrentIndex
		view.RotationMode = true
		view.IntervalMS = v.Rotation.IntervalMS
		view.PageIndex = &index
		view.TotalPages = len(v.Rotation.PageIDs)
	}
	return view, nil
}

func (m *Machine) Get(ctx context.Context, id string) (*Visitor, error) {
	return m.store.Get(ctx, id)
}

// List returns the most recent visitors, newest first.
func (m *Machine) List(ctx context.Context) ([]*Visitor, error) {
	return m.store.List(ctx, ListLimit)
}

func (m *Machine) Stats(ctx context.Context) (Stats, error) {
	online, err := m.store.Count(ctx, Filter{SeenSince: m.now().Add(-OnlineWindow)})
	if err != nil {
		return Stats{}, fmt.Errorf("counting online visitors: %w", err)
	}
	pending := Pending
	waiting, err := m.store.Count(ctx, Filter{Status: &pending})
	if err != nil {
		return Stats{}, fmt.Errorf("counting pending visitors: %w", err)
	}
	return Stats{Online: online, Pending: waiting}, nil
}

// lookupPage maps a missing page to ErrNotFound.
func (m *Machine) lookupPage(ctx context.Context, id string) (*content.Page, error) {
	p, err := m.pages.GetPage(ctx, id)
	if errors.Is(err, content.ErrNotFound) {
		return nil, fmt.Errorf("%w: page %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading page %s: %w", id, err)
	}
	return p, nil
}

// effectiveContent resolves what an approved visitor should see: the
// rotation page, else the explicit page, else the default page. Missing
// pages resolve to nil.
func (m *Machine) effectiveContent(ctx context.Context, v *Visitor) *string {
	if v.Status != Approved {
		return nil
	}
	if pid := v.EffectivePageID(); pid != "" {
		return m.pageContent(ctx, pid)
	}
	p, err := m.pages.DefaultPage(ctx)
	if err != nil {
		m.log.Warn("loading default page failed", zap.Error(err))
		return nil
	}
	if p == nil {
		return nil
	}
	return &p.Content
}

// pageContent tolerates dangling references: a deleted page yields nil.
func (m *Machine) pageContent(ctx context.Context, id string) *string {
	if id == "" {
		return nil
	}
	p, err := m.pages.GetPage(ctx, id)
	if err != nil {
		if !errors.Is(err, content.ErrNotFound) {
			m.log.Warn("loading page failed", zap.String("page_id", id), zap.Error(err))
		}
		return nil
	}
	return &p.Content
}

func esc(s string) string {
	return html.EscapeString(s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

type nopNotifier struct{}

func (nopNotifier) ToAllObservers(ObserverEvent)   {}
func (nopNotifier) ToSession(string, VisitorEvent) {}

type nopAlerter struct{}

func (nopAlerter) Raise(context.Context, string, string, string) {}
func (nopAlerter) Notify(string)                                 {}
