package lock

import (
	"time"
)

// Lock 分布式锁接口。
// 核心用它串行化两类操作：实例启动时的计票预热选主，
// 以及按选举粒度的阶段变更。
type Lock interface {
	// AcquireLock 获取分布式锁
	// 返回值：bool表示是否成功获取锁，error表示获取过程中的错误
	AcquireLock(lockName string, timeout time.Duration) (bool, error)

	// RefreshLock 刷新锁的过期时间
	// 返回值：bool表示是否成功刷新锁，error表示刷新过程中的错误
	RefreshLock(lockName string, timeout time.Duration) (bool, error)

	// ReleaseLock 释放分布式锁
	ReleaseLock(lockName string) error

	// ReleaseAllLocks 释放所有持有的锁
	ReleaseAllLocks()

	// Close 关闭分布式锁客户端
	Close() error
}

// 锁名约定
const (
	// StartupLockName 启动选主锁，持有者负责把MySQL计票预热进Redis
	StartupLockName = "electionvote:startup:lock"

	// PhaseLockPrefix 阶段变更锁前缀，后接选举ID
	PhaseLockPrefix = "electionvote:phase:lock:"
)

// PhaseLockName 返回指定选举的阶段变更锁名
func PhaseLockName(electionID string) string {
	return PhaseLockPrefix + electionID
}
