package audit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

const memMaxEventsPerConnection = 1_000

// InMemoryStore is a dev-only fallback when no Postgres DSN is configured.
type InMemoryStore struct {
	mu    sync.Mutex
	conns map[string]*memConn
}

type memConn struct {
	seq  int64
	evts []Event // ordered by seq
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{conns: make(map[string]*memConn)}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// AppendEvent persists an event with monotonic per-connection sequence allocation.
func (s *InMemoryStore) AppendEvent(ctx context.Context, in AppendEventInput) (AppendEventResult, error) {
	if in.ConnID == "" || in.Kind == "" {
		return AppendEventResult{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return AppendEventResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.conns[in.ConnID]
	if c == nil {
		c = &memConn{evts: make([]Event, 0, 8)}
		s.conns[in.ConnID] = c
	}

	c.seq++
	evt := Event{
		ConnID: in.ConnID,
		Seq:    c.seq,
		Kind:   in.Kind,
		Reason: in.Reason,
		PeerIP: in.PeerIP,
		Role:   in.Role,
		At:     now,
	}
	c.evts = append(c.evts, evt)

	if len(c.evts) > memMaxEventsPerConnection {
		c.evts = c.evts[len(c.evts)-memMaxEventsPerConnection:]
	}

	return AppendEventResult{Stored: evt}, nil
}

// FetchHistory returns events ordered by seq ASC with paging via AfterSeq.
func (s *InMemoryStore) FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error) {
	if in.ConnID == "" {
		return FetchHistoryResult{}, errors.New("missing conn_id")
	}
	if err := ctx.Err(); err != nil {
		return FetchHistoryResult{}, err
	}

	limit := in.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	fetch := limit + 1

	s.mu.Lock()
	c := s.conns[in.ConnID]
	var snap []Event
	if c != nil {
		snap = append([]Event(nil), c.evts...)
	}
	s.mu.Unlock()

	if len(snap) == 0 {
		return FetchHistoryResult{Events: nil, HasMore: false}, nil
	}

	sort.Slice(snap, func(i, j int) bool { return snap[i].Seq < snap[j].Seq })

	start := 0
	if in.AfterSeq != nil {
		after := *in.AfterSeq
		start = sort.Search(len(snap), func(i int) bool { return snap[i].Seq > after })
		if start >= len(snap) {
			return FetchHistoryResult{Events: nil, HasMore: false}, nil
		}
	}

	end := start + fetch
	if end > len(snap) {
		end = len(snap)
	}
	out := snap[start:end]

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}

	return FetchHistoryResult{Events: out, HasMore: hasMore}, nil
}
