package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Lock serializes operations and enforces a minimum wait between them.
type Lock interface {
	Lock(ctx context.Context) (unlock func())
}

type lock struct {
	mu   sync.Mutex
	wait time.Duration
	last time.Time
}

// New creates a lock with the given minimum wait between operations.
func New(wait time.Duration) Lock {
	return &lock{wait: wait}
}

func (l *lock) Lock(ctx context.Context) func() {
	l.mu.Lock()
	if since := time.Since(l.last); since < l.wait {
		t := time.NewTimer(l.wait - since)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
	return func() {
		l.last = time.Now()
		l.mu.Unlock()
	}
}
