package audit

import (
	"context"
	"testing"
)

func TestInMemoryStoreAppendAssignsMonotonicSeq(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for i, kind := range []EventKind{EventOpened, EventPongTimeout, EventClosed} {
		res, err := s.AppendEvent(ctx, AppendEventInput{ConnID: "c1", Role: "server", Kind: kind})
		if err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
		if want := int64(i + 1); res.Stored.Seq != want {
			t.Fatalf("event %d: seq = %d, want %d", i, res.Stored.Seq, want)
		}
	}
}

func TestInMemoryStoreSeqIsPerConnection(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if _, err := s.AppendEvent(ctx, AppendEventInput{ConnID: "c1", Kind: EventOpened}); err != nil {
		t.Fatalf("AppendEvent c1: %v", err)
	}
	res, err := s.AppendEvent(ctx, AppendEventInput{ConnID: "c2", Kind: EventOpened})
	if err != nil {
		t.Fatalf("AppendEvent c2: %v", err)
	}
	if res.Stored.Seq != 1 {
		t.Fatalf("c2 first event seq = %d, want 1", res.Stored.Seq)
	}
}

func TestInMemoryStoreFetchHistoryOrdersAndPages(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	kinds := []EventKind{EventOpened, EventHandshakeTimeout, EventPongTimeout, EventClosed}
	for _, k := range kinds {
		if _, err := s.AppendEvent(ctx, AppendEventInput{ConnID: "c1", Kind: k}); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	res, err := s.FetchHistory(ctx, FetchHistoryInput{ConnID: "c1", Limit: 2})
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(res.Events) != 2 || !res.HasMore {
		t.Fatalf("got %d events, hasMore=%v; want 2 events, hasMore=true", len(res.Events), res.HasMore)
	}
	if res.Events[0].Kind != EventOpened || res.Events[1].Kind != EventHandshakeTimeout {
		t.Fatalf("unexpected ordering: %#v", res.Events)
	}

	after := res.Events[1].Seq
	rest, err := s.FetchHistory(ctx, FetchHistoryInput{ConnID: "c1", AfterSeq: &after})
	if err != nil {
		t.Fatalf("FetchHistory (paged): %v", err)
	}
	if len(rest.Events) != 2 || rest.HasMore {
		t.Fatalf("got %d events, hasMore=%v; want 2 events, hasMore=false", len(rest.Events), rest.HasMore)
	}
}

func TestInMemoryStoreFetchHistoryUnknownConnection(t *testing.T) {
	s := NewInMemoryStore()
	res, err := s.FetchHistory(context.Background(), FetchHistoryInput{ConnID: "missing"})
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(res.Events) != 0 || res.HasMore {
		t.Fatalf("expected empty result for unknown connection, got %#v", res)
	}
}
