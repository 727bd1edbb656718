// Package keylock provides first-come first-served mutual exclusion per key.
package keylock

import (
	"context"
	"sync"
)

// Locker serializes callers sharing a key in the order they called Lock.
// Different keys never block each other. The zero value is ready to use.
type Locker struct {
	mu     sync.Mutex
	queues map[string][]chan struct{}
}

func New() *Locker {
	return &Locker{}
}

// Lock blocks until the caller holds key, or ctx is done.
// The returned func releases the key and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	ch := make(chan struct{})

	l.mu.Lock()
	if l.queues == nil {
		l.queues = make(map[string][]chan struct{})
	}
	q := l.queues[key]
	l.queues[key] = append(q, ch)
	if len(q) == 0 {
		close(ch) // head of the queue
	}
	l.mu.Unlock()

	release := func() { l.release(key) }

	select {
	case <-ch:
		return release, nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	select {
	case <-ch:
		// handed the key while giving up: pass it on
		l.mu.Unlock()
		release()
	default:
		l.remove(key, ch)
		l.mu.Unlock()
	}
	return nil, ctx.Err()
}

func (l *Locker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	q := l.queues[key][1:]
	if len(q) == 0 {
		delete(l.queues, key)
		return
	}
	l.queues[key] = q
	close(q[0])
}

// remove drops a waiter that is not the head of the queue. l.mu must be held.
func (l *Locker) remove(key string, ch chan struct{}) {
	q := l.queues[key]
	for i, c := range q {
		if c == ch {
			l.queues[key] = append(q[:i:i], q[i+1:]...)
			return
		}
	}
}

// Len returns the number of holders and waiters for key.
func (l *Locker) Len(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues[key])
}
