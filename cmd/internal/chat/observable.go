package chat

import "sync"

// observable is a replay-on-subscribe broadcast cell.
//
// Guarantees:
//   - Subscribe invokes the callback synchronously with the current value
//     before returning, so a late subscriber never sees a "no data yet" gap.
//   - set notifies every registered callback in registration order.
//   - The callback list is snapshotted before iteration, so a callback may
//     unsubscribe itself (or others) mid-notification without skips.
//   - The returned unsubscribe is idempotent.
//   - close clears all registrations; nothing is delivered afterwards.
type observable[T any] struct {
	mu     sync.Mutex
	value  T
	nextID int
	subs   []subscriber[T]
	closed bool
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

func newObservable[T any](initial T) *observable[T] {
	return &observable[T]{value: initial}
}

// subscribe registers fn and replays the current value to it synchronously.
func (o *observable[T]) subscribe(fn func(T)) (unsubscribe func()) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return func() {}
	}
	o.nextID++
	id := o.nextID
	o.subs = append(o.subs, subscriber[T]{id: id, fn: fn})
	v := o.value
	o.mu.Unlock()

	fn(v)

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, s := range o.subs {
			if s.id == id {
				o.subs = append(o.subs[:i:i], o.subs[i+1:]...)
				return
			}
		}
	}
}

// set stores v and notifies all current subscribers.
func (o *observable[T]) set(v T) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.value = v
	// Snapshot so concurrent (or reentrant) unsubscribes cannot skip entries.
	subs := append([]subscriber[T](nil), o.subs...)
	o.mu.Unlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// get returns the current value.
func (o *observable[T]) get() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

// close drops all subscribers. Subsequent set calls are no-ops.
func (o *observable[T]) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.subs = nil
}
