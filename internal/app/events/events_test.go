package events

import (
	"sync"
	"testing"
)

func TestRecordAssignsIDAndTimestamp(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Record(Event{Type: TypeServiceCreated, TokenID: 1})

	recent := rb.Recent(1)
	if len(recent) != 1 {
		t.Fatalf("expected 1 event, got %d", len(recent))
	}
	if recent[0].ID == "" {
		t.Error("expected event id assigned")
	}
	if recent[0].Timestamp.IsZero() {
		t.Error("expected timestamp assigned")
	}
}

func TestRecentOrderAndOverflow(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 1; i <= 5; i++ {
		rb.Record(Event{Type: TypeStateChanged, TokenID: uint64(i)})
	}

	recent := rb.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("expected buffer capped at 3, got %d", len(recent))
	}
	// Newest first.
	for i, want := range []uint64{5, 4, 3} {
		if recent[i].TokenID != want {
			t.Errorf("position %d: expected token %d, got %d", i, want, recent[i].TokenID)
		}
	}

	if got := rb.Recent(0); got != nil {
		t.Errorf("expected nil for n=0, got %v", got)
	}
}

func TestRecentByToken(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Record(Event{Type: TypeServiceCreated, TokenID: 1})
	rb.Record(Event{Type: TypeServiceCreated, TokenID: 2})
	rb.Record(Event{Type: TypeStateChanged, TokenID: 1})
	rb.Record(Event{Type: TypeEvidenceMinted, TokenID: 2, EvidenceID: 3})

	got := rb.RecentByToken(1, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 events for token 1, got %d", len(got))
	}

	// Evidence id matches too.
	got = rb.RecentByToken(3, 10)
	if len(got) != 1 || got[0].Type != TypeEvidenceMinted {
		t.Errorf("expected evidence event for id 3, got %v", got)
	}
}

func TestRecentByTokenZeroID(t *testing.T) {
	rb := NewRingBuffer(10)

	// Neither of these concerns token 0: one has no token at all, the other
	// belongs to token 5.
	rb.Record(Event{Type: TypeStateURIConfigured, NewState: 2})
	rb.Record(Event{Type: TypeServiceCreated, TokenID: 5})

	if got := rb.RecentByToken(0, 10); len(got) != 0 {
		t.Fatalf("expected no events for token 0, got %v", got)
	}

	// Token 0 is a real id; its own events are returned.
	rb.Record(Event{Type: TypeServiceCreated, TokenID: 0})
	rb.Record(Event{Type: TypeStateChanged, TokenID: 0, PreviousState: 1, NewState: 2})

	got := rb.RecentByToken(0, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 events for token 0, got %d", len(got))
	}
	for _, ev := range got {
		if ev.TokenID != 0 || ev.Type == TypeStateURIConfigured {
			t.Errorf("unexpected event for token 0: %v", ev)
		}
	}
}

func TestSubscribe(t *testing.T) {
	rb := NewRingBuffer(10)

	var mu sync.Mutex
	var seen []Event
	unsubscribe := rb.Subscribe(func(ev Event) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	})

	rb.Record(Event{Type: TypeServiceCreated, TokenID: 1})
	unsubscribe()
	rb.Record(Event{Type: TypeServiceCreated, TokenID: 2})

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0].TokenID != 1 {
		t.Errorf("expected exactly the first event, got %v", seen)
	}
}

func TestSubscribeFiltered(t *testing.T) {
	rb := NewRingBuffer(10)

	var count int
	rb.SubscribeFiltered(func(ev Event) bool {
		return ev.Type == TypeEvidenceMinted
	}, func(Event) {
		count++
	})

	rb.Record(Event{Type: TypeServiceCreated})
	rb.Record(Event{Type: TypeEvidenceMinted})
	rb.Record(Event{Type: TypeStateChanged})

	if count != 1 {
		t.Errorf("expected 1 filtered delivery, got %d", count)
	}
}
