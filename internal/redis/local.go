package redisclient

import (
	"context"
	"sync"
	"time"
)

// localDayLocker is the single-process Locker used with the in-memory store.
// Callers queue on the doctor-day mutex instead of failing fast.
type localDayLocker struct {
	mu    sync.Mutex
	locks map[string]*dayLock
}

type dayLock struct {
	sem     chan struct{}
	waiters int
}

func NewLocalDayLocker() Locker {
	return &localDayLocker{locks: make(map[string]*dayLock)}
}

func (l *localDayLocker) WithDayLock(ctx context.Context, doctorID string, date time.Time, fn func(ctx context.Context) error) error {
	key := DayKey(doctorID, date)

	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &dayLock{sem: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.waiters++
	l.mu.Unlock()

	defer l.drop(key, lk)

	select {
	case lk.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lk.sem }()

	return fn(ctx)
}

// drop forgets the lock once nobody holds or waits for it.
func (l *localDayLocker) drop(key string, lk *dayLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.waiters--
	if lk.waiters == 0 {
		delete(l.locks, key)
	}
}
