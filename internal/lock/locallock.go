package lock

import (
	"sync"
	"time"
)

// LocalLock 进程内锁实现，单节点部署和测试使用，
// 语义与分布式实现一致：同一锁名同一时刻只有一个持有者。
type LocalLock struct {
	mu    sync.Mutex
	locks map[string]time.Time // 锁名 -> 过期时间
}

func NewLocalLock() *LocalLock {
	return &LocalLock{
		locks: make(map[string]time.Time),
	}
}

func (l *LocalLock) AcquireLock(lockName string, timeout time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expiry, held := l.locks[lockName]; held && time.Now().Before(expiry) {
		return false, nil
	}
	l.locks[lockName] = time.Now().Add(timeout)
	return true, nil
}

func (l *LocalLock) RefreshLock(lockName string, timeout time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.locks[lockName]; !held {
		return false, nil
	}
	l.locks[lockName] = time.Now().Add(timeout)
	return true, nil
}

func (l *LocalLock) ReleaseLock(lockName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.locks, lockName)
	return nil
}

func (l *LocalLock) ReleaseAllLocks() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.locks = make(map[string]time.Time)
}

func (l *LocalLock) Close() error {
	l.ReleaseAllLocks()
	return nil
}
