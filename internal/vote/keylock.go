package vote

import "sync"

type dedupKey struct {
	requesterID int64
	chatID      int64
}

// keyLocks serializes work per dedup key inside one process. Entries are
// dropped once no goroutine holds or waits on them.
type keyLocks struct {
	mu    sync.Mutex
	locks map[dedupKey]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyLocks) lock(key dedupKey) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[dedupKey]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
