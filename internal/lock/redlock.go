package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/lvdashuaibi/electionvote/config"
)

// RedLock Redlock算法实现，etcd不可用时的备选
type RedLock struct {
	clients     []*redis.Client
	ctx         context.Context
	mu          sync.Mutex
	locks       map[string]string // key是锁名，value是token值
	retries     int
	clusterSize int
}

// NewRedLock 创建新的分布式锁客户端
func NewRedLock() (*RedLock, error) {
	ctx := context.Background()

	var clients []*redis.Client
	for _, addr := range config.AppConfig.Redis.LockAddresses {
		client := redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     config.AppConfig.Redis.Password,
			DB:           config.AppConfig.Redis.DB,
			PoolSize:     config.AppConfig.Redis.PoolSize,
			MaxRetries:   config.AppConfig.Redis.MaxRetries,
			DialTimeout:  config.AppConfig.Redis.Timeout,
			ReadTimeout:  config.AppConfig.Redis.Timeout,
			WriteTimeout: config.AppConfig.Redis.Timeout,
		})

		if err := client.Ping(ctx).Err(); err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, fmt.Errorf("Redis锁节点 %s 连接测试失败: %w", addr, err)
		}

		clients = append(clients, client)
	}

	return &RedLock{
		clients:     clients,
		ctx:         ctx,
		locks:       make(map[string]string),
		retries:     config.AppConfig.Vote.LockRetryCount,
		clusterSize: len(config.AppConfig.Redis.LockAddresses),
	}, nil
}

// AcquireLock 获取分布式锁
func (r *RedLock) AcquireLock(lockName string, timeout time.Duration) (bool, error) {
	token := newToken()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Redlock算法: 在多数节点上SetNX成功且剩余有效期为正才算持有
	for attempt := 0; attempt < r.retries; attempt++ {
		success := 0
		start := time.Now()

		for i, client := range r.clients {
			ok, err := client.SetNX(r.ctx, lockName, token, timeout).Result()
			if err != nil {
				log.Printf("在节点 %s 获取锁 %s 失败: %v", config.AppConfig.Redis.LockAddresses[i], lockName, err)
				continue
			}
			if ok {
				success++
			}
		}

		validityTime := timeout - time.Since(start)
		if success >= r.clusterSize/2+1 && validityTime > 0 {
			r.locks[lockName] = token
			return true, nil
		}

		// 获取失败，释放所有节点上的锁后重试
		r.unlockAll(lockName, token)
		time.Sleep(time.Millisecond * 100)
	}

	return false, nil
}

// RefreshLock 刷新锁的过期时间
func (r *RedLock) RefreshLock(lockName string, timeout time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, exists := r.locks[lockName]
	if !exists {
		return false, fmt.Errorf("锁 %s 不存在或未持有", lockName)
	}

	// 只刷新自己持有的锁
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`

	success := 0
	for i, client := range r.clients {
		result, err := client.Eval(r.ctx, script, []string{lockName}, token, int(timeout/time.Millisecond)).Result()
		if err != nil {
			log.Printf("在节点 %s 刷新锁 %s 失败: %v", config.AppConfig.Redis.LockAddresses[i], lockName, err)
			continue
		}
		if n, ok := result.(int64); ok && n == 1 {
			success++
		}
	}

	if success >= r.clusterSize/2+1 {
		return true, nil
	}

	delete(r.locks, lockName)
	return false, nil
}

// ReleaseLock 释放分布式锁
func (r *RedLock) ReleaseLock(lockName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, exists := r.locks[lockName]
	if !exists {
		return fmt.Errorf("锁 %s 不存在或未持有", lockName)
	}

	r.unlockAll(lockName, token)
	delete(r.locks, lockName)
	return nil
}

// unlockAll 在所有节点上释放锁
func (r *RedLock) unlockAll(lockName string, token string) {
	// 只释放自己持有的锁
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`

	for i, client := range r.clients {
		if _, err := client.Eval(r.ctx, script, []string{lockName}, token).Result(); err != nil {
			log.Printf("在节点 %s 释放锁 %s 失败: %v", config.AppConfig.Redis.LockAddresses[i], lockName, err)
		}
	}
}

// ReleaseAllLocks 释放所有持有的锁
func (r *RedLock) ReleaseAllLocks() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, token := range r.locks {
		r.unlockAll(name, token)
	}
	r.locks = make(map[string]string)
}

// Close 关闭分布式锁客户端
func (r *RedLock) Close() error {
	r.ReleaseAllLocks()

	for _, client := range r.clients {
		if err := client.Close(); err != nil {
			log.Printf("关闭Redis客户端失败: %v", err)
		}
	}
	return nil
}

func newToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
