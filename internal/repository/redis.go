package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lvdashuaibi/electionvote/config"
	"github.com/lvdashuaibi/electionvote/internal/model"
)

const (
	// Redis键前缀
	TallyKey = "election:tally:"

	// Lua脚本
	// 缓存命中时原子地给候选人计数加增量，未命中返回-1由调用方回填，
	// 避免HINCRBY在缺失的哈希上创建只含单个候选人的残缺快照
	ApplyTallyDeltaScript = `
		if redis.call('EXISTS', KEYS[1]) == 0 then
			return -1
		end
		return redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[2])
	`

	// 回填脚本：只在缓存缺失或总票数落后于快照时写入。
	// 票数只增不减，总票数就是快照的版本号，
	// 晚到的旧快照总票数更小，写入被拒，不会覆盖并发投票刚写进去的新计数。
	// ARGV[1]为过期秒数，之后是candidateID/count对。
	FillTallyScript = `
		local new_total = 0
		for i = 3, #ARGV, 2 do
			new_total = new_total + tonumber(ARGV[i])
		end
		if redis.call('EXISTS', KEYS[1]) == 1 then
			local current = 0
			for _, v in ipairs(redis.call('HVALS', KEYS[1])) do
				current = current + tonumber(v)
			end
			if current >= new_total then
				return 0
			end
		end
		redis.call('DEL', KEYS[1])
		for i = 2, #ARGV, 2 do
			redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
		end
		redis.call('EXPIRE', KEYS[1], ARGV[1])
		return 1
	`
)

// 缓存过期时间，兜底清理，正常路径由失效和回填维护
const tallyTTL = time.Hour

// TallyCache 计票缓存接口，读路径不阻塞写路径
type TallyCache interface {
	// ApplyDelta 给候选人计数加一
	// 返回值：bool表示缓存是否命中，未命中时调用方应使用SetTally回填
	ApplyDelta(electionID, candidateID string) (bool, error)

	// GetTally 读取计票快照
	// 返回值：bool表示缓存是否命中
	GetTally(electionID string) (*model.TallySnapshot, bool, error)

	// SetTally 整体写入计票快照，无条件覆盖（启动预热等权威写入）
	SetTally(snapshot *model.TallySnapshot) error

	// FillTally 回填计票快照，只在缓存缺失或总票数落后于快照时写入
	// 返回值：bool表示快照是否被写入，晚到的旧快照不会覆盖更新的缓存
	FillTally(snapshot *model.TallySnapshot) (bool, error)

	// InvalidateTally 删除计票缓存，下次读取回源台账
	InvalidateTally(electionID string) error

	// Close 关闭缓存连接
	Close() error
}

type RedisTallyCache struct {
	client       *redis.Client
	ctx          context.Context
	scriptHashes map[string]string // 存储脚本SHA1哈希值
}

func NewRedisTallyCache() (*RedisTallyCache, error) {
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{
		Addr:         config.AppConfig.Redis.DataAddress,
		Password:     config.AppConfig.Redis.Password,
		DB:           config.AppConfig.Redis.DB,
		PoolSize:     config.AppConfig.Redis.PoolSize,
		MaxRetries:   config.AppConfig.Redis.MaxRetries,
		DialTimeout:  config.AppConfig.Redis.Timeout,
		ReadTimeout:  config.AppConfig.Redis.Timeout,
		WriteTimeout: config.AppConfig.Redis.Timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis数据节点连接测试失败: %w", err)
	}

	cache := &RedisTallyCache{
		client:       client,
		ctx:          ctx,
		scriptHashes: make(map[string]string),
	}

	if err := cache.preloadScripts(); err != nil {
		return nil, fmt.Errorf("预加载Lua脚本失败: %w", err)
	}

	return cache, nil
}

// preloadScripts 预加载所有Lua脚本
func (r *RedisTallyCache) preloadScripts() error {
	scripts := map[string]string{
		"applyTallyDelta": ApplyTallyDeltaScript,
		"fillTally":       FillTallyScript,
	}
	for name, script := range scripts {
		sha1, err := r.client.ScriptLoad(r.ctx, script).Result()
		if err != nil {
			return fmt.Errorf("加载脚本 %s 失败: %w", name, err)
		}
		r.scriptHashes[name] = sha1
	}
	return nil
}

// evalScript 执行预加载的Lua脚本，脚本可能被FLUSHALL清掉，重新加载后再试一次
func (r *RedisTallyCache) evalScript(name, script string, keys []string, args ...interface{}) (interface{}, error) {
	sha1, ok := r.scriptHashes[name]
	if !ok {
		return nil, fmt.Errorf("脚本 %s 未预加载", name)
	}

	result, err := r.client.EvalSha(r.ctx, sha1, keys, args...).Result()
	if err != nil {
		if err.Error() != "NOSCRIPT No matching script. Please use EVAL." {
			return nil, err
		}
		sha1, err = r.client.ScriptLoad(r.ctx, script).Result()
		if err != nil {
			return nil, fmt.Errorf("重新加载脚本 %s 失败: %w", name, err)
		}
		r.scriptHashes[name] = sha1

		result, err = r.client.EvalSha(r.ctx, sha1, keys, args...).Result()
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// ApplyDelta 使用预加载的Lua脚本给候选人计数加一，保证原子性
func (r *RedisTallyCache) ApplyDelta(electionID, candidateID string) (bool, error) {
	key := TallyKey + electionID

	result, err := r.evalScript("applyTallyDelta", ApplyTallyDeltaScript, []string{key}, candidateID, 1)
	if err != nil {
		return false, fmt.Errorf("执行计票增量脚本失败: %w", err)
	}

	newCount, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("LUA脚本返回类型错误")
	}

	if newCount < 0 {
		return false, nil // 缓存未命中
	}
	return true, nil
}

// FillTally 回填计票快照。
// 写入在Lua脚本内带总票数比较，读路径回源拿到的旧快照
// 与投票路径刚写入的新计数竞争时，旧快照落败，缓存不会倒退。
func (r *RedisTallyCache) FillTally(snapshot *model.TallySnapshot) (bool, error) {
	key := TallyKey + snapshot.ElectionID

	args := make([]interface{}, 0, len(snapshot.Candidates)*2+1)
	args = append(args, int(tallyTTL.Seconds()))
	for _, c := range snapshot.Candidates {
		args = append(args, c.CandidateID, c.Count)
	}

	result, err := r.evalScript("fillTally", FillTallyScript, []string{key}, args...)
	if err != nil {
		return false, fmt.Errorf("执行计票回填脚本失败: %w", err)
	}

	written, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("LUA脚本返回类型错误")
	}
	return written == 1, nil
}

// GetTally 读取计票快照，候选人按ID排序，选票顺序由服务层按选举定义重排
func (r *RedisTallyCache) GetTally(electionID string) (*model.TallySnapshot, bool, error) {
	key := TallyKey + electionID

	data, err := r.client.HGetAll(r.ctx, key).Result()
	if err != nil {
		return nil, false, fmt.Errorf("读取计票缓存失败: %w", err)
	}
	if len(data) == 0 {
		return nil, false, nil // 缓存未命中
	}

	snapshot := &model.TallySnapshot{ElectionID: electionID}
	for candidateID, countStr := range data {
		count, err := strconv.ParseInt(countStr, 10, 64)
		if err != nil {
			return nil, false, fmt.Errorf("解析计票缓存失败: %w", err)
		}
		snapshot.Candidates = append(snapshot.Candidates, model.CandidateCount{
			CandidateID: candidateID,
			Count:       count,
		})
	}
	sort.Slice(snapshot.Candidates, func(i, j int) bool {
		return snapshot.Candidates[i].CandidateID < snapshot.Candidates[j].CandidateID
	})

	return snapshot, true, nil
}

// SetTally 整体写入计票快照，先删后写保证不残留已下架的候选人
func (r *RedisTallyCache) SetTally(snapshot *model.TallySnapshot) error {
	key := TallyKey + snapshot.ElectionID

	fields := make(map[string]interface{}, len(snapshot.Candidates))
	for _, c := range snapshot.Candidates {
		fields[c.CandidateID] = c.Count
	}

	pipe := r.client.TxPipeline()
	pipe.Del(r.ctx, key)
	if len(fields) > 0 {
		pipe.HSet(r.ctx, key, fields)
	}
	pipe.Expire(r.ctx, key, tallyTTL)
	if _, err := pipe.Exec(r.ctx); err != nil {
		return fmt.Errorf("写入计票缓存失败: %w", err)
	}
	return nil
}

// InvalidateTally 删除计票缓存
func (r *RedisTallyCache) InvalidateTally(electionID string) error {
	key := TallyKey + electionID
	if err := r.client.Del(r.ctx, key).Err(); err != nil {
		return fmt.Errorf("删除计票缓存失败: %w", err)
	}
	return nil
}

// Close 关闭Redis连接
func (r *RedisTallyCache) Close() error {
	return r.client.Close()
}
