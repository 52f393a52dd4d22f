package session

import (
	"encoding/json"

	"github.com/holdroom/backend/internal/content"
)

// Observer channel event names.
const (
	EventNewVisitor     = "new_visitor"
	EventVisitorUpdated = "visitor_updated"
	EventVisitorDeleted = "visitor_deleted"
	EventNewAlert       = "new_alert"
)

// Visitor channel event names.
const (
	EventApproved     = "approved"
	EventBlocked      = "blocked"
	EventRotatePage   = "rotate_page"
	EventStopRotation = "stop_rotation"
)

// ObserverEvent is pushed to every admin observer. The set of
// implementations is closed: only the types in this file satisfy it.
type ObserverEvent interface {
	EventName() string
	observerEvent()
}

// VisitorEvent is pushed to the connections of one visitor session.
type VisitorEvent interface {
	EventName() string
	visitorEvent()
}

// Notifier delivers events to live listeners. Delivery is best-effort and
// must not block the caller.
type Notifier interface {
	ToAllObservers(ev ObserverEvent)
	ToSession(sessionID string, ev VisitorEvent)
}

type NewVisitor struct {
	Visitor *Visitor `json:"visitor"`
}

type VisitorUpdated struct {
	VisitorID    string `json:"visitor_id"`
	Status       Status `json:"status"`
	RotationMode *bool  `json:"rotation_mode,omitempty"`
}

type VisitorDeleted struct {
	VisitorID string `json:"visitor_id"`
}

type NewAlert struct {
	Alert *content.Alert `json:"alert"`
}

// VisitorApproved carries the content to show. The rotation fields are only set
// when the approval starts a rotation.
type VisitorApproved struct {
	PageContent      *string  `json:"page_content"`
	RotationMode     bool     `json:"rotation_mode,omitempty"`
	PageIDs          []string `json:"page_ids,omitempty"`
	IntervalMS       int      `json:"interval_ms,omitempty"`
	CurrentPageIndex *int     `json:"current_page_index,omitempty"`
}

type VisitorBlocked struct{}

type PageRotated struct {
	PageContent *string `json:"page_content"`
	PageIndex   int     `json:"page_index"`
	TotalPages  int     `json:"total_pages"`
}

type RotationStopped struct {
	PageContent *string `json:"page_content"`
}

func (NewVisitor) EventName() string      { return EventNewVisitor }
func (VisitorUpdated) EventName() string  { return EventVisitorUpdated }
func (VisitorDeleted) EventName() string  { return EventVisitorDeleted }
func (NewAlert) EventName() string        { return EventNewAlert }
func (VisitorApproved) EventName() string { return EventApproved }
func (VisitorBlocked) EventName() string  { return EventBlocked }
func (PageRotated) EventName() string     { return EventRotatePage }
func (RotationStopped) EventName() string { return EventStopRotation }

func (NewVisitor) observerEvent()     {}
func (VisitorUpdated) observerEvent() {}
func (VisitorDeleted) observerEvent() {}
func (NewAlert) observerEvent()       {}
func (VisitorApproved) visitorEvent() {}
func (VisitorBlocked) visitorEvent()  {}
func (PageRotated) visitorEvent()     {}
func (RotationStopped) visitorEvent() {}

// The wire envelope is a flat object: {"event": name, ...fields}.

func (e NewVisitor) MarshalJSON() ([]byte, error) {
	type fields NewVisitor
	return json.Marshal(struct {
		Event string `json:"event"`
		fields
	}{e.EventName(), fields(e)})
}

func (e VisitorUpdated) MarshalJSON() ([]byte, error) {
	type fields VisitorUpdated
	return json.Marshal(struct {
		Event string `json:"event"`
		fields
	}{e.EventName(), fields(e)})
}

func (e VisitorDeleted) MarshalJSON() ([]byte, error) {
	type fields VisitorDeleted
	return json.Marshal(struct {
		Event string `json:"event"`
		fields
	}{e.EventName(), fields(e)})
}

func (e NewAlert) MarshalJSON() ([]byte, error) {
	type fields NewAlert
	return json.Marshal(struct {
		Event string `json:"event"`
		fields
	}{e.EventName(), fields(e)})
}

func (e VisitorApproved) MarshalJSON() ([]byte, error) {
	type fields VisitorApproved
	return json.Marshal(struct {
		Event string `json:"event"`
		fields
	}{e.EventName(), fields(e)})
}

func (e VisitorBlocked) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Event string `json:"event"`
	}{e.EventName()})
}

func (e PageRotated) MarshalJSON() ([]byte, error) {
	type fields PageRotated
	return json.Marshal(struct {
		Event string `json:"event"`
		fields
	}{e.EventName(), fields(e)})
}

func (e RotationStopped) MarshalJSON() ([]byte, error) {
	type fields RotationStopped
	return json.Marshal(struct {
		Event string `json:"event"`
		fields
	}{e.EventName(), fields(e)})
}
