package ws

import "time"

// Text frames exchanged as application-level heartbeats. They never reach
// the session state machine.
const (
	textPing = "ping"
	textPong = "pong"
)

// Options tunes connection handling. Zero fields take the defaults below.
type Options struct {
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
}

const (
	defaultSendBuffer     = 64
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 4096
)

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	// Pings must go out before the peer's read deadline expires.
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	return o
}
