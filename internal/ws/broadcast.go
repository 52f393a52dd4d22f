package ws

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/holdroom/backend/internal/session"
)

// Broadcaster delivers session events to the registry's current members.
// Delivery is best-effort: a connection whose send fails is detached and
// closed on the spot, and the remaining members still receive the event.
type Broadcaster struct {
	reg *Registry
	log *zap.Logger
}

func NewBroadcaster(reg *Registry, log *zap.Logger) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{reg: reg, log: log}
}

func (b *Broadcaster) Registry() *Registry {
	return b.reg
}

func (b *Broadcaster) ToAllObservers(ev session.ObserverEvent) {
	data, ok := b.marshal(ev)
	if !ok {
		return
	}
	b.fanOut(b.reg.observerSnapshot(), data)
	eventsSent.WithLabelValues(ev.EventName()).Inc()
}

func (b *Broadcaster) ToSession(sessionID string, ev session.VisitorEvent) {
	data, ok := b.marshal(ev)
	if !ok {
		return
	}
	b.fanOut(b.reg.sessionSnapshot(sessionID), data)
	eventsSent.WithLabelValues(ev.EventName()).Inc()
}

func (b *Broadcaster) fanOut(clients []*Client, data []byte) {
	for _, c := range clients {
		if !c.enqueue(data) {
			b.evict(c)
		}
	}
}

func (b *Broadcaster) marshal(ev interface{ EventName() string }) ([]byte, bool) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.log.Error("marshal event", zap.String("event", ev.EventName()), zap.Error(err))
		return nil, false
	}
	return data, true
}

// evict detaches and closes c. Only the call that actually detached it is
// counted.
func (b *Broadcaster) evict(c *Client) {
	if b.reg.detach(c) {
		evictionsTotal.WithLabelValues(c.audience()).Inc()
		b.log.Debug("ws connection evicted",
			zap.String("audience", c.audience()),
			zap.String("session_id", c.sessionID))
	}
	c.close()
}

var _ session.Notifier = (*Broadcaster)(nil)
