package lease

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process Locker for single-process deployments and tests.
type Local struct {
	mu     sync.Mutex
	held   map[string]localEntry
	nextID uint64
	now    func() time.Time
}

type localEntry struct {
	id      uint64
	expires time.Time
}

func NewLocal() *Local {
	return &Local{held: map[string]localEntry{}, now: time.Now}
}

func (l *Local) TryAcquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if entry, ok := l.held[key]; ok && now.Before(entry.expires) {
		return nil, ErrNotAcquired
	}

	l.nextID++
	l.held[key] = localEntry{id: l.nextID, expires: now.Add(ttl)}

	return &localLease{owner: l, key: key, id: l.nextID}, nil
}

type localLease struct {
	owner *Local
	key   string
	id    uint64
	once  sync.Once
}

func (l *localLease) Key() string { return l.key }

func (l *localLease) Release(_ context.Context) error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		defer l.owner.mu.Unlock()

		if entry, ok := l.owner.held[l.key]; ok && entry.id == l.id {
			delete(l.owner.held, l.key)
		}
	})

	return nil
}
