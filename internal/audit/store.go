// Package audit persists the connection lifecycle trail for a cwdtp.Acceptor:
// handshake, close, and error events keyed by connection id. It has no
// involvement in the CWDTP wire protocol itself; it is a side observer wired
// through cwdtp.AcceptorConfig's OnConnection/OnConnectionError/OnConnectionTimeout
// hooks so operators can answer "what happened to connection X" after the fact.
package audit

import (
	"context"
	"time"
)

// EventKind classifies a recorded connection lifecycle event.
type EventKind string

const (
	EventOpened           EventKind = "opened"
	EventClosed           EventKind = "closed"
	EventHandshakeTimeout EventKind = "handshake_timeout"
	EventConnectionError  EventKind = "connection_error"
	EventPongTimeout      EventKind = "pong_timeout"
)

// Event is the canonical persisted connection event representation.
type Event struct {
	ConnID   string
	Seq      int64
	Kind     EventKind
	Reason   string
	PeerIP   string
	Role     string
	At       time.Time
}

// Store persists and queries connection lifecycle events.
//
// Requirements:
//   - Monotonic seq per connection id
//   - History query ordered by seq ASC
type Store interface {
	AppendEvent(ctx context.Context, in AppendEventInput) (AppendEventResult, error)
	FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error)
	Close() error
}

// AppendEventInput describes an event append request.
type AppendEventInput struct {
	ConnID string
	Role   string
	Kind   EventKind
	Reason string
	PeerIP string
	Now    time.Time
}

// AppendEventResult is the append operation result.
type AppendEventResult struct {
	Stored Event
}

// FetchHistoryInput describes a history query request.
type FetchHistoryInput struct {
	ConnID   string
	AfterSeq *int64
	Limit    int
}

// FetchHistoryResult contains the retrieved history window.
type FetchHistoryResult struct {
	Events  []Event
	HasMore bool
}
