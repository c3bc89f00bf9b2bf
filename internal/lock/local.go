// Package lock serializes work per key.  Local is an in-process keyed
// mutex, Redis is a lease shared by every instance of the service and
// Chain stacks the two so a process only contends on Redis once it holds
// the key locally.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrUnavailable is returned when the lock backend cannot be reached.
// A Chain treats it as "this layer is down" rather than as contention.
var ErrUnavailable = errors.New("lock backend unavailable")

// Locker acquires an exclusive hold on key.  The returned release
// function must be called exactly once.  Lock honours ctx: when it is
// cancelled or its deadline passes before the hold is acquired, Lock
// returns ctx.Err().
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

type slot struct {
	ch   chan struct{}
	refs int
}

// Local is a keyed mutex.  Slots are created on demand and dropped when
// the last waiter leaves, so memory is bounded by the number of keys in
// use at a time.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// NewLocal returns an empty keyed mutex.
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// Lock blocks until key is free or ctx is done.  A ctx that is already
// done never acquires the key.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.leave(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.leave(key, s)
		})
	}, nil
}

func (l *Local) leave(key string, s *slot) {
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}

// size reports the number of live slots.
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
