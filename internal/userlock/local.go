// Package userlock serializes request cycles that touch the same user's
// conversation.
package userlock

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process keyed lock. Entries are dropped once no caller
// holds or waits on them.
type Local struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

type localEntry struct {
	sem  chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*localEntry)}
}

// Lock blocks until key is free or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &localEntry{sem: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(key, e)
		})
	}, nil
}

func (l *Local) release(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// Locker is satisfied by Local and Redis.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type bounded struct {
	inner Locker
	wait  time.Duration
}

// Bounded limits how long Lock waits on inner. Non-positive wait returns
// inner unchanged.
func Bounded(inner Locker, wait time.Duration) Locker {
	if wait <= 0 {
		return inner
	}
	return &bounded{inner: inner, wait: wait}
}

func (b *bounded) Lock(ctx context.Context, key string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, b.wait)
	defer cancel()
	return b.inner.Lock(ctx, key)
}
