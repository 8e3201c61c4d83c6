package cwdtp

import (
	"log/slog"
	"time"
)

// Timeouts bundles the three handshake/heartbeat/close deadlines a
// Connection enforces (§3, §4.D).
type Timeouts struct {
	Handshake time.Duration
	Ping      time.Duration
	Close     time.Duration
}

// DefaultTimeouts matches the teacher's 30s handshake/idle posture.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Handshake: 30 * time.Second,
		Ping:      30 * time.Second,
		Close:     30 * time.Second,
	}
}

const (
	// DefaultHeartbeatInterval is how often a server Acceptor sweeps its
	// fleet for a ping/pong round (§4.D).
	DefaultHeartbeatInterval = 20 * time.Second
	// DefaultSendQueueSize matches the teacher's defaultSendQueueSize.
	DefaultSendQueueSize = 128
	// DefaultMaxFrameBytes bounds a single inbound WebSocket message.
	DefaultMaxFrameBytes = 1 << 20 // 1 MiB
	// DefaultRateLimitEvents/Window bound inbound non-reserved events per
	// connection (domain-stack addition, §7 propagation policy extension).
	DefaultRateLimitEvents = 200
	DefaultRateLimitWindow = 10 * time.Second
)

// Options configures a single Connection, for either role.
type Options struct {
	Logger  *slog.Logger
	Metrics *Metrics

	Timeouts      Timeouts
	SendQueueSize int
	MaxFrameBytes int64

	RateLimitEvents int
	RateLimitWindow time.Duration

	OnOpen    func(*Connection)
	OnClosing func(*Connection, string)
	OnClose   func(*Connection, bool, string)
	OnError   func(*Connection, error)
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Timeouts == (Timeouts{}) {
		o.Timeouts = DefaultTimeouts()
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = DefaultSendQueueSize
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if o.RateLimitEvents <= 0 {
		o.RateLimitEvents = DefaultRateLimitEvents
	}
	if o.RateLimitWindow <= 0 {
		o.RateLimitWindow = DefaultRateLimitWindow
	}
	return o
}
