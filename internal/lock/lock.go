// Package lock serializes mutations of one device or asset across the
// concurrent ingestion and link flows.
//
// Callers that need both locks take the device lock first, then the asset
// lock.
package lock

import (
	"context"
	"sync"
)

// Locker hands out exclusive, keyed locks
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func DeviceKey(deviceID string) string {
	return "device:" + deviceID
}

func AssetKey(engineID, assetID string) string {
	return "asset:" + engineID + ":" + assetID
}

type localEntry struct {
	sem  chan struct{}
	refs int
}

// Local is an in-process Locker. Entries are dropped once nobody holds or
// waits for them.
type Local struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

func NewLocal() *Local {
	return &Local{entries: map[string]*localEntry{}}
}

var _ Locker = (*Local)(nil)

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
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
		delete(l.entries, key)
	}
}

// Held returns the number of keys currently held or waited on
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
