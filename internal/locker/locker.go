// Package locker serializes work per key (one writer per user).
package locker

import (
	"context"
	"sync"
)

// Locker hands out exclusive locks by key. The returned release func must be
// called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

type slot struct {
	ch   chan struct{}
	refs int
}

// Local is an in-process keyed mutex. Waiting honours ctx cancellation and
// idle keys are forgotten.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// NewLocal returns an empty Local locker.
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
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
		l.done(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.done(key, s)
		})
	}, nil
}

func (l *Local) done(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
