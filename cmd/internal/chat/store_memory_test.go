package chat

import (
	"context"
	"sync"
	"testing"
)

func memAppend(t *testing.T, s *MemoryStore, room RoomID, author, body string) Message {
	t.Helper()
	msg, err := s.Append(context.Background(), AppendInput{
		Room:   room,
		Author: Author{ID: author, DisplayName: author},
		Body:   body,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return msg
}

func TestMemoryStoreAppendAssignsIncreasingKeys(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	room := newTestRoom(t)

	var prev int64
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		msg := memAppend(t, s, room, "alice", "hi")
		if msg.ID == "" {
			t.Fatal("Append returned empty id")
		}
		if seen[msg.ID] {
			t.Fatalf("duplicate id %s", msg.ID)
		}
		seen[msg.ID] = true
		if !msg.Committed() {
			t.Fatal("Append returned uncommitted message")
		}
		if *msg.OrderingKey <= prev {
			t.Fatalf("ordering key not strictly increasing: %d after %d", *msg.OrderingKey, prev)
		}
		prev = *msg.OrderingKey
	}
}

func TestMemoryStoreAppendValidation(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	room := newTestRoom(t)
	ctx := context.Background()

	if _, err := s.Append(ctx, AppendInput{Author: Author{ID: "a"}, Body: "x"}); err == nil {
		t.Error("missing room accepted")
	}
	if _, err := s.Append(ctx, AppendInput{Room: room, Body: "x"}); err == nil {
		t.Error("missing author accepted")
	}
	if _, err := s.Append(ctx, AppendInput{Room: room, Author: Author{ID: "a"}}); err == nil {
		t.Error("empty message accepted")
	}
}

func TestMemoryStoreFetchPage(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	room := newTestRoom(t)
	ctx := context.Background()

	var all []Message
	for i := 0; i < 7; i++ {
		all = append(all, memAppend(t, s, room, "alice", "hi"))
	}

	// Newest page, DESC.
	page, err := s.FetchPage(ctx, room, 3, nil)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("page size = %d, want 3", len(page))
	}
	if page[0].ID != all[6].ID || page[2].ID != all[4].ID {
		t.Fatalf("page = %s..%s, want newest 3 descending", page[0].ID, page[2].ID)
	}

	// Older page via cursor: strictly older than the oldest of the first page.
	older, err := s.FetchPage(ctx, room, 3, page[2].OrderingKey)
	if err != nil {
		t.Fatalf("FetchPage older: %v", err)
	}
	if len(older) != 3 {
		t.Fatalf("older page size = %d, want 3", len(older))
	}
	if older[0].ID != all[3].ID {
		t.Fatalf("older page starts at %s, want %s", older[0].ID, all[3].ID)
	}
	if *older[0].OrderingKey >= *page[2].OrderingKey {
		t.Fatal("cursor boundary not strictly older")
	}

	// Final page is short.
	last, err := s.FetchPage(ctx, room, 3, older[2].OrderingKey)
	if err != nil {
		t.Fatalf("FetchPage last: %v", err)
	}
	if len(last) != 1 || last[0].ID != all[0].ID {
		t.Fatalf("last page = %d messages, want just the oldest", len(last))
	}

	// Unknown room yields an empty page, not an error.
	other, _ := PublicRoom("nevada")
	empty, err := s.FetchPage(ctx, other, 3, nil)
	if err != nil {
		t.Fatalf("FetchPage empty room: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("empty room returned %d messages", len(empty))
	}
}

func TestMemoryStoreSubscribeReplayAndFanout(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	room := newTestRoom(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		memAppend(t, s, room, "alice", "hi")
	}

	var mu sync.Mutex
	var got []Change
	stop, err := s.Subscribe(ctx, room, 3, func(ch Change) {
		mu.Lock()
		got = append(got, ch)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Snapshot replay: latest 3, ascending, as Added.
	mu.Lock()
	if len(got) != 3 {
		t.Fatalf("replay = %d events, want 3", len(got))
	}
	for i, ch := range got {
		if ch.Kind != Added {
			t.Fatalf("replay[%d].Kind = %v, want Added", i, ch.Kind)
		}
	}
	if *got[0].Message.OrderingKey >= *got[2].Message.OrderingKey {
		t.Fatal("replay not ascending")
	}
	mu.Unlock()

	// Incremental events.
	msg := memAppend(t, s, room, "bob", "new")
	if _, err := s.Edit(ctx, room, msg.ID, "edited"); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if err := s.Delete(ctx, room, msg.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Annotate(ctx, room, msg.ID, "General Chat", "A title"); err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if err := s.Remove(ctx, room, msg.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	mu.Lock()
	tail := got[3:]
	mu.Unlock()
	wantKinds := []ChangeKind{Added, Modified, Modified, Modified, Removed}
	if len(tail) != len(wantKinds) {
		t.Fatalf("incremental events = %d, want %d", len(tail), len(wantKinds))
	}
	for i, want := range wantKinds {
		if tail[i].Kind != want {
			t.Fatalf("event[%d].Kind = %v, want %v", i, tail[i].Kind, want)
		}
	}
	if tail[1].Message.Body != "edited" {
		t.Fatalf("edit event body = %q", tail[1].Message.Body)
	}
	if !tail[2].Message.Deleted {
		t.Fatal("delete event lacks tombstone flag")
	}
	if tail[3].Message.Category != "General Chat" || tail[3].Message.Title != "A title" {
		t.Fatalf("annotate event = %+v", tail[3].Message)
	}

	// Stop is idempotent and final.
	stop()
	stop()
	memAppend(t, s, room, "carol", "after stop")
	mu.Lock()
	n := len(got)
	mu.Unlock()
	if n != 8 {
		t.Fatalf("events after stop = %d, want 8", n)
	}
}

func TestMemoryStoreMutationsOnMissingMessage(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	room := newTestRoom(t)
	ctx := context.Background()

	if _, err := s.Edit(ctx, room, "nope", "x"); err == nil {
		t.Error("Edit on missing message succeeded")
	}
	if err := s.Delete(ctx, room, "nope"); err == nil {
		t.Error("Delete on missing message succeeded")
	}
	if err := s.Remove(ctx, room, "nope"); err == nil {
		t.Error("Remove on missing message succeeded")
	}
	if err := s.Annotate(ctx, room, "nope", "c", "t"); err == nil {
		t.Error("Annotate on missing message succeeded")
	}
}

// End to end: ConversationStore over the in-memory backend sees live appends.
func TestConversationOverMemoryStore(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	room := newTestRoom(t)

	for i := 0; i < 3; i++ {
		memAppend(t, store, room, "alice", "seed")
	}

	s := NewConversationStore(nil, store, room, WithPageSize(50))
	defer s.Cleanup()
	<-s.initDone

	if got := len(s.Messages()); got != 3 {
		t.Fatalf("initial window = %d, want 3", got)
	}

	sent := memAppend(t, store, room, "bob", "live one")
	waitFor(t, "live append", func() bool { return len(s.Messages()) == 4 })

	msgs := s.Messages()
	assertAscending(t, msgs)
	if msgs[3].ID != sent.ID {
		t.Fatalf("newest = %s, want %s", msgs[3].ID, sent.ID)
	}

	if err := store.Delete(context.Background(), room, sent.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	waitFor(t, "tombstone", func() bool {
		m := s.Messages()
		return len(m) == 4 && m[3].Deleted
	})
}
