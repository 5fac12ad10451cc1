// Package observe provides a small observable value holder: callers read
// the current snapshot or subscribe to changes, and must unsubscribe on
// teardown.
package observe

import "sync"

// Value holds a current snapshot of T and fans out updates to subscribers.
// The zero value of T is returned before the first Set.
type Value[T any] struct {
	mu   sync.Mutex
	cur  T
	set  bool
	subs map[int]chan T
	next int
}

func NewValue[T any]() *Value[T] {
	return &Value[T]{subs: make(map[int]chan T)}
}

// Get returns the current snapshot.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Set replaces the snapshot and notifies every subscriber. A subscriber
// that has fallen behind loses its oldest pending update rather than
// blocking the publisher.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cur = val
	v.set = true
	for _, ch := range v.subs {
		select {
		case ch <- val:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- val
		}
	}
}

// Subscribe registers a listener. The returned channel carries the current
// value immediately (if one was ever set) followed by every subsequent
// update. The cancel func removes the subscription and closes the channel.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ch := make(chan T, 1)
	if v.set {
		ch <- v.cur
	}
	id := v.next
	v.next++
	v.subs[id] = ch

	cancel := func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if _, ok := v.subs[id]; ok {
			delete(v.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}
