package chat

import (
	"testing"
)

func TestObservableReplaysOnSubscribe(t *testing.T) {
	t.Parallel()

	o := newObservable(41)
	o.set(42)

	var got []int
	unsub := o.subscribe(func(v int) { got = append(got, v) })
	defer unsub()

	if len(got) != 1 || got[0] != 42 {
		t.Fatalf("replay = %v, want [42]", got)
	}
}

func TestObservableNotifiesInRegistrationOrder(t *testing.T) {
	t.Parallel()

	o := newObservable(0)

	var order []string
	u1 := o.subscribe(func(v int) {
		if v != 0 {
			order = append(order, "first")
		}
	})
	defer u1()
	u2 := o.subscribe(func(v int) {
		if v != 0 {
			order = append(order, "second")
		}
	})
	defer u2()

	o.set(1)

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("notification order = %v", order)
	}
}

func TestObservableUnsubscribeIdempotent(t *testing.T) {
	t.Parallel()

	o := newObservable(0)

	calls := 0
	unsub := o.subscribe(func(int) { calls++ })
	other := o.subscribe(func(int) {})
	defer other()

	unsub()
	unsub() // second call must not disturb other subscribers

	o.set(1)
	if calls != 1 {
		t.Fatalf("calls after unsubscribe = %d, want 1 (replay only)", calls)
	}
	if got := o.get(); got != 1 {
		t.Fatalf("get = %d, want 1", got)
	}
}

func TestObservableReentrantUnsubscribe(t *testing.T) {
	t.Parallel()

	o := newObservable(0)

	var unsub func()
	firstCalls := 0
	unsub = o.subscribe(func(v int) {
		firstCalls++
		if v == 1 {
			unsub() // unsubscribe self mid-notification
		}
	})

	secondCalls := 0
	u2 := o.subscribe(func(v int) {
		if v != 0 {
			secondCalls++
		}
	})
	defer u2()

	o.set(1)
	o.set(2)

	if firstCalls != 2 { // replay + first set, not the second
		t.Fatalf("first subscriber calls = %d, want 2", firstCalls)
	}
	if secondCalls != 2 {
		t.Fatalf("second subscriber calls = %d, want 2", secondCalls)
	}
}

func TestObservableCloseStopsDelivery(t *testing.T) {
	t.Parallel()

	o := newObservable(0)

	calls := 0
	o.subscribe(func(int) { calls++ })

	o.close()
	o.set(5)

	if calls != 1 {
		t.Fatalf("calls after close = %d, want 1 (replay only)", calls)
	}

	// Subscribing after close replays nothing and returns a harmless no-op.
	lateCalls := 0
	unsub := o.subscribe(func(int) { lateCalls++ })
	unsub()
	if lateCalls != 0 {
		t.Fatalf("late subscriber calls = %d, want 0", lateCalls)
	}
}
