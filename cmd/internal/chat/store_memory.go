package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"campfire/cmd/internal/ids"
)

const memMaxMessagesPerRoom = 10_000

// MemoryStore is a dev-only BackingStore fallback when no database is
// configured, and the default test backend. It supports:
//   - Append with server-side id + strictly increasing ordering keys
//   - FetchPage descending with a "strictly older than" cursor
//   - Subscribe with snapshot replay followed by incremental fanout
type MemoryStore struct {
	mu     sync.Mutex
	rooms  map[string]*memRoom
	closed bool
}

type memRoom struct {
	lastKey int64
	msgs    []Message // ascending by OrderingKey
	nextSub int
	subs    map[int]func(Change)
}

// NewMemoryStore constructs an in-memory BackingStore implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*memRoom)}
}

// Close drops all subscriptions.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, r := range s.rooms {
		r.subs = map[int]func(Change){}
	}
	return nil
}

func (s *MemoryStore) room(key string) *memRoom {
	r := s.rooms[key]
	if r == nil {
		r = &memRoom{subs: make(map[int]func(Change))}
		s.rooms[key] = r
	}
	return r
}

// Append persists a message, assigning the id and a strictly increasing
// ordering key, and fans out an Added event.
func (s *MemoryStore) Append(ctx context.Context, in AppendInput) (Message, error) {
	if in.Room.IsZero() || in.Author.ID == "" {
		return Message{}, errors.New("chat: invalid append input")
	}
	if strings.TrimSpace(in.Body) == "" && strings.TrimSpace(in.AttachmentURL) == "" {
		return Message{}, errors.New("chat: message needs a body or an attachment")
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	now := time.Now().UTC()

	s.mu.Lock()
	r := s.room(in.Room.Key())

	key := now.UnixMilli()
	if key <= r.lastKey {
		key = r.lastKey + 1
	}
	r.lastKey = key

	msg := Message{
		ID:            ids.MustULID(now),
		Author:        in.Author,
		Body:          in.Body,
		AttachmentURL: in.AttachmentURL,
		OrderingKey:   &key,
	}
	r.msgs = append(r.msgs, msg)

	// Bound memory in long-lived dev processes.
	if len(r.msgs) > memMaxMessagesPerRoom {
		r.msgs = r.msgs[len(r.msgs)-memMaxMessagesPerRoom:]
	}

	subs := r.snapshotSubs()
	s.mu.Unlock()

	fanout(subs, Change{Message: msg, Kind: Added})
	return msg, nil
}

// Edit replaces the body of an existing message and fans out Modified.
func (s *MemoryStore) Edit(ctx context.Context, room RoomID, id, body string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	r := s.room(room.Key())
	i := indexByID(r.msgs, id)
	if i < 0 {
		s.mu.Unlock()
		return Message{}, errors.New("chat: message not found")
	}
	r.msgs[i].Body = body
	msg := r.msgs[i]
	subs := r.snapshotSubs()
	s.mu.Unlock()

	fanout(subs, Change{Message: msg, Kind: Modified})
	return msg, nil
}

// Delete tombstones a message in place and fans out Modified.
func (s *MemoryStore) Delete(ctx context.Context, room RoomID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	r := s.room(room.Key())
	i := indexByID(r.msgs, id)
	if i < 0 {
		s.mu.Unlock()
		return errors.New("chat: message not found")
	}
	r.msgs[i].Deleted = true
	msg := r.msgs[i]
	subs := r.snapshotSubs()
	s.mu.Unlock()

	fanout(subs, Change{Message: msg, Kind: Modified})
	return nil
}

// Remove drops a message entirely and fans out Removed.
func (s *MemoryStore) Remove(ctx context.Context, room RoomID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	r := s.room(room.Key())
	i := indexByID(r.msgs, id)
	if i < 0 {
		s.mu.Unlock()
		return errors.New("chat: message not found")
	}
	msg := r.msgs[i]
	r.msgs = append(r.msgs[:i], r.msgs[i+1:]...)
	subs := r.snapshotSubs()
	s.mu.Unlock()

	fanout(subs, Change{Message: msg, Kind: Removed})
	return nil
}

// Annotate patches classification results and fans out Modified.
func (s *MemoryStore) Annotate(ctx context.Context, room RoomID, id, category, title string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	r := s.room(room.Key())
	i := indexByID(r.msgs, id)
	if i < 0 {
		s.mu.Unlock()
		return errors.New("chat: message not found")
	}
	r.msgs[i].Category = category
	r.msgs[i].Title = title
	msg := r.msgs[i]
	subs := r.snapshotSubs()
	s.mu.Unlock()

	fanout(subs, Change{Message: msg, Kind: Modified})
	return nil
}

// FetchPage returns up to limit committed messages ordered by key DESC,
// strictly older than before when it is non-nil.
func (s *MemoryStore) FetchPage(ctx context.Context, room RoomID, limit int, before *int64) ([]Message, error) {
	if room.IsZero() {
		return nil, errors.New("chat: missing room")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}

	s.mu.Lock()
	r := s.rooms[room.Key()]
	var snap []Message
	if r != nil {
		snap = append([]Message(nil), r.msgs...)
	}
	s.mu.Unlock()

	// Defensive: keep ascending order even if a seeded fixture was unsorted.
	sort.SliceStable(snap, func(i, j int) bool { return orderingOf(snap[i]) < orderingOf(snap[j]) })

	end := len(snap)
	if before != nil {
		end = sort.Search(len(snap), func(i int) bool { return orderingOf(snap[i]) >= *before })
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	out := make([]Message, 0, end-start)
	for i := end - 1; i >= start; i-- {
		if !snap[i].Committed() {
			continue
		}
		out = append(out, snap[i])
	}
	return out, nil
}

// Subscribe replays the latest limit messages as Added events (ascending),
// then registers fn for incremental fanout. The returned stop function is
// idempotent.
func (s *MemoryStore) Subscribe(ctx context.Context, room RoomID, limit int, fn func(Change)) (func(), error) {
	if room.IsZero() || fn == nil {
		return nil, errors.New("chat: invalid subscription")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("chat: store closed")
	}
	r := s.room(room.Key())

	start := len(r.msgs) - limit
	if start < 0 {
		start = 0
	}
	snapshot := append([]Message(nil), r.msgs[start:]...)

	r.nextSub++
	id := r.nextSub
	r.subs[id] = fn
	s.mu.Unlock()

	for _, m := range snapshot {
		fn(Change{Message: m, Kind: Added})
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(r.subs, id)
			s.mu.Unlock()
		})
	}
	return stop, nil
}

func (r *memRoom) snapshotSubs() []func(Change) {
	out := make([]func(Change), 0, len(r.subs))
	for _, fn := range r.subs {
		out = append(out, fn)
	}
	return out
}

func fanout(subs []func(Change), ch Change) {
	for _, fn := range subs {
		fn(ch)
	}
}

func indexByID(msgs []Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}
