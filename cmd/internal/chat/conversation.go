package chat

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultPageSize is the history window fetched per page.
	DefaultPageSize = 50

	maxPageSize = 200
)

// ConversationStore is the per-conversation synchronization engine.
//
// It composes three concerns behind one façade:
//   - a cursor-paginated loader (initial page + older backfills),
//   - a live merge engine fed by the backing store's change stream,
//   - a multi-observer broadcast (message window, loading flag, has-more flag).
//
// Lifecycle: construction immediately starts the initial load; the live feed
// is attached exactly once, after the initial load resolves (success or
// failure). Cleanup is terminal.
//
// Concurrency: the message window and cursor are owned by this store and
// mutated under one mutex, the Go rendition of a single-threaded event loop.
// Observers receive snapshot copies, never the live slice. Fetch failures
// fail closed (has-more becomes false); they never reach observers as errors.
type ConversationStore struct {
	log      *slog.Logger
	store    BackingStore
	room     RoomID
	pageSize int

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	msgs        []Message
	cursor      *int64
	ready       bool
	backfilling bool
	closed      bool
	stopFeed    func()

	messages *observable[[]Message]
	loading  *observable[bool]
	hasMore  *observable[bool]

	// initDone is closed when the initial load has resolved and the live
	// feed attach attempt has completed.
	initDone chan struct{}
}

// ConversationOption configures a ConversationStore.
type ConversationOption func(*ConversationStore)

// WithPageSize overrides the history page size (clamped to [1, 200]).
func WithPageSize(n int) ConversationOption {
	return func(s *ConversationStore) {
		if n > 0 {
			if n > maxPageSize {
				n = maxPageSize
			}
			s.pageSize = n
		}
	}
}

// NewConversationStore constructs the store and starts the initial load.
// There is no explicit "start" call: construction has the side effect of
// fetching the newest page and then attaching the live feed.
func NewConversationStore(log *slog.Logger, store BackingStore, room RoomID, opts ...ConversationOption) *ConversationStore {
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &ConversationStore{
		log:      log.With("room", room.Key()),
		store:    store,
		room:     room,
		pageSize: DefaultPageSize,
		ctx:      ctx,
		cancel:   cancel,
		messages: newObservable([]Message(nil)),
		loading:  newObservable(true),
		hasMore:  newObservable(false),
		initDone: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	go s.loadInitial()
	return s
}

// Room returns the room this store synchronizes.
func (s *ConversationStore) Room() RoomID { return s.room }

// Subscribe registers an observer of the message window. The callback is
// invoked synchronously with the current window before Subscribe returns,
// then once per subsequent mutation. The returned unsubscribe is idempotent.
func (s *ConversationStore) Subscribe(fn func([]Message)) func() {
	return s.messages.subscribe(fn)
}

// SubscribeToLoading registers an observer of the loading flag.
func (s *ConversationStore) SubscribeToLoading(fn func(bool)) func() {
	return s.loading.subscribe(fn)
}

// SubscribeToHasMore registers an observer of the has-more flag.
func (s *ConversationStore) SubscribeToHasMore(fn func(bool)) func() {
	return s.hasMore.subscribe(fn)
}

// Messages returns a snapshot copy of the current window.
func (s *ConversationStore) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.msgs...)
}

// HasMore reports whether older pages are believed to exist.
func (s *ConversationStore) HasMore() bool { return s.hasMore.get() }

// Loading reports whether a fetch is in flight.
func (s *ConversationStore) Loading() bool { return s.loading.get() }

// LoadMore requests one older page. It is a no-op unless the initial load has
// resolved, older pages exist, and no backfill is already in flight: at most
// one backfill is outstanding at a time, so back-to-back calls cause exactly
// one store fetch. The fetch runs asynchronously; observe the loading and
// has-more channels for completion.
func (s *ConversationStore) LoadMore() {
	s.mu.Lock()
	if s.closed || !s.ready || s.backfilling || !s.hasMore.get() {
		s.mu.Unlock()
		return
	}
	s.backfilling = true
	cursor := s.cursor
	s.mu.Unlock()

	s.loading.set(true)
	go s.loadOlder(cursor)
}

// Cleanup tears down the live subscription and clears all observer lists.
// Terminal and idempotent: after Cleanup no notification is ever delivered,
// and results of fetches still in flight are discarded.
func (s *ConversationStore) Cleanup() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stop := s.stopFeed
	s.stopFeed = nil
	s.mu.Unlock()

	s.cancel()
	if stop != nil {
		stop()
	}

	s.messages.close()
	s.loading.close()
	s.hasMore.close()

	s.log.Debug("conv.cleanup")
}

// ---- loader ----

func (s *ConversationStore) loadInitial() {
	defer close(s.initDone)

	start := time.Now()
	page, err := s.store.FetchPage(s.ctx, s.room, s.pageSize, nil)
	metricPageLoadSeconds.Observe(time.Since(start).Seconds())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	more := false
	if err != nil {
		// Fail closed: the conversation stays usable with nothing loaded,
		// pagination reports exhaustion instead of surfacing the error.
		s.log.Error("conv.load.initial.fail", "err", err)
		metricPagesLoaded.WithLabelValues("initial", "error").Inc()
	} else {
		reverseMessages(page)
		s.msgs = page
		s.cursor = oldestCommittedKey(page)
		more = len(page) == s.pageSize
		metricPagesLoaded.WithLabelValues("initial", "ok").Inc()
	}
	s.ready = true
	snapshot := append([]Message(nil), s.msgs...)
	s.mu.Unlock()

	s.messages.set(snapshot)
	s.hasMore.set(more)
	s.loading.set(false)

	s.log.Debug("conv.load.initial", "count", len(snapshot), "has_more", more)

	s.attachFeed()
}

func (s *ConversationStore) loadOlder(cursor *int64) {
	start := time.Now()
	page, err := s.store.FetchPage(s.ctx, s.room, s.pageSize, cursor)
	metricPageLoadSeconds.Observe(time.Since(start).Seconds())

	s.mu.Lock()
	if s.closed {
		// Late result after Cleanup: silent no-op.
		s.mu.Unlock()
		return
	}
	s.backfilling = false

	if err != nil {
		s.log.Error("conv.load.older.fail", "err", err)
		metricPagesLoaded.WithLabelValues("backfill", "error").Inc()
		s.mu.Unlock()
		s.hasMore.set(false)
		s.loading.set(false)
		return
	}

	reverseMessages(page)
	added := 0
	for i := len(page) - 1; i >= 0; i-- {
		m := page[i]
		if s.indexOf(m.ID) >= 0 {
			continue
		}
		s.msgs = append([]Message{m}, s.msgs...)
		added++
	}
	if key := oldestCommittedKey(page); key != nil {
		s.cursor = key
	}
	more := len(page) == s.pageSize
	metricPagesLoaded.WithLabelValues("backfill", "ok").Inc()

	snapshot := append([]Message(nil), s.msgs...)
	s.mu.Unlock()

	if added > 0 {
		s.messages.set(snapshot)
	}
	s.hasMore.set(more)
	s.loading.set(false)

	s.log.Debug("conv.load.older", "added", added, "has_more", more)
}

// ---- live merge ----

// attachFeed subscribes to the live change stream. Idempotent: there is
// exactly one live subscription for the lifetime of the store.
func (s *ConversationStore) attachFeed() {
	s.mu.Lock()
	if s.closed || s.stopFeed != nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	stop, err := s.store.Subscribe(s.ctx, s.room, s.pageSize, s.applyChange)
	if err != nil {
		// Reconnection is the backing store's responsibility; the window
		// stays usable with what was already loaded.
		s.log.Error("conv.feed.attach.fail", "err", err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		stop()
		return
	}
	if s.stopFeed != nil {
		// Lost an attach race; keep the first subscription.
		s.mu.Unlock()
		stop()
		return
	}
	s.stopFeed = stop
	s.mu.Unlock()
}

// applyChange merges one live event into the window, preserving the ordering
// and uniqueness invariants.
func (s *ConversationStore) applyChange(ch Change) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	mutated := false
	switch ch.Kind {
	case Added:
		// Idempotent add: the overlap between the initial page and the
		// feed's snapshot replays messages we already hold.
		if s.indexOf(ch.Message.ID) >= 0 {
			metricLiveEventsDropped.Inc()
			break
		}
		s.insertOrdered(ch.Message)
		mutated = true

	case Modified:
		i := s.indexOf(ch.Message.ID)
		if i < 0 {
			// Refers to a message outside the loaded window.
			metricLiveEventsDropped.Inc()
			break
		}
		if orderingOf(s.msgs[i]) == orderingOf(ch.Message) {
			s.msgs[i] = ch.Message
		} else {
			// Key moved (e.g. pending write acknowledged): re-position.
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			s.insertOrdered(ch.Message)
		}
		mutated = true

	case Removed:
		i := s.indexOf(ch.Message.ID)
		if i < 0 {
			break
		}
		s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
		mutated = true
	}

	if !mutated {
		s.mu.Unlock()
		return
	}
	metricLiveEvents.WithLabelValues(ch.Kind.String()).Inc()
	snapshot := append([]Message(nil), s.msgs...)
	s.mu.Unlock()

	s.messages.set(snapshot)
}

// indexOf returns the window position of id, or -1. Linear scan: the window
// is bounded by pageSize * loaded pages and stays small in practice.
func (s *ConversationStore) indexOf(id string) int {
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// insertOrdered places m at the position its ordering key demands. In the
// common case new messages carry the newest key and this is an append, but
// arrival order is not assumed to match key order. Pending (nil) keys sort
// after every committed key.
func (s *ConversationStore) insertOrdered(m Message) {
	key := orderingOf(m)
	i := sort.Search(len(s.msgs), func(i int) bool {
		return orderingOf(s.msgs[i]) > key
	})
	s.msgs = append(s.msgs, Message{})
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = m
}

// ---- helpers ----

func orderingOf(m Message) int64 {
	if m.OrderingKey == nil {
		return math.MaxInt64
	}
	return *m.OrderingKey
}

func reverseMessages(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// oldestCommittedKey returns the smallest committed ordering key in msgs.
// Messages still awaiting their server key are excluded so the cursor never
// points at an unstable position.
func oldestCommittedKey(msgs []Message) *int64 {
	var oldest *int64
	for i := range msgs {
		k := msgs[i].OrderingKey
		if k == nil {
			continue
		}
		if oldest == nil || *k < *oldest {
			v := *k
			oldest = &v
		}
	}
	return oldest
}
