// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager hands out named read/write locks over the stored pipeline
// state, so concurrent runs do not interleave writes to the same stage or
// roster.
type LockManager struct {
	locks      map[string]*LockInfo
	globalLock sync.Mutex
	lockTTL    time.Duration
}

// LockInfo wraps one named lock.
type LockInfo struct {
	Mutex    *sync.RWMutex
	LastUsed time.Time
	// ReferenceCount keeps a lock in use from being cleaned up.
	ReferenceCount int
}

func NewLockManager(ttl time.Duration) *LockManager {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &LockManager{
		locks:   make(map[string]*LockInfo),
		lockTTL: ttl,
	}
}

func (lm *LockManager) acquire(key string) *LockInfo {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	info, exists := lm.locks[key]
	if !exists {
		info = &LockInfo{Mutex: &sync.RWMutex{}}
		lm.locks[key] = info
	}
	info.ReferenceCount++
	info.LastUsed = time.Now()
	return info
}

func (lm *LockManager) release(info *LockInfo) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	info.ReferenceCount--
	info.LastUsed = time.Now()
}

// ExecuteWithLock runs fn holding the write lock for key.
func (lm *LockManager) ExecuteWithLock(key string, fn func() error) error {
	info := lm.acquire(key)
	defer lm.release(info)

	info.Mutex.Lock()
	defer info.Mutex.Unlock()
	return fn()
}

// ExecuteWithReadLock runs fn holding the read lock for key.
func (lm *LockManager) ExecuteWithReadLock(key string, fn func() error) error {
	info := lm.acquire(key)
	defer lm.release(info)

	info.Mutex.RLock()
	defer info.Mutex.RUnlock()
	return fn()
}

// Cleanup drops unreferenced locks idle for longer than the TTL.
func (lm *LockManager) Cleanup() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	removed := 0
	now := time.Now()
	for key, info := range lm.locks {
		if info.ReferenceCount == 0 && now.Sub(info.LastUsed) > lm.lockTTL {
			delete(lm.locks, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of known locks.
func (lm *LockManager) Len() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	return len(lm.locks)
}
