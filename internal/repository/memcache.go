package repository

import (
	"sort"
	"sync"

	"github.com/lvdashuaibi/electionvote/internal/model"
)

// MemoryTallyCache 内存计票缓存，语义与Redis实现一致，
// 单机开发和测试使用。
type MemoryTallyCache struct {
	mu      sync.RWMutex
	tallies map[string]map[string]int64 // electionID -> candidateID -> count
}

func NewMemoryTallyCache() *MemoryTallyCache {
	return &MemoryTallyCache{
		tallies: make(map[string]map[string]int64),
	}
}

func (c *MemoryTallyCache) ApplyDelta(electionID, candidateID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tally, ok := c.tallies[electionID]
	if !ok {
		return false, nil // 缓存未命中
	}
	tally[candidateID]++
	return true, nil
}

func (c *MemoryTallyCache) GetTally(electionID string) (*model.TallySnapshot, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tally, ok := c.tallies[electionID]
	if !ok {
		return nil, false, nil
	}

	snapshot := &model.TallySnapshot{ElectionID: electionID}
	for candidateID, count := range tally {
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

func (c *MemoryTallyCache) SetTally(snapshot *model.TallySnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tallies[snapshot.ElectionID] = tallyMap(snapshot)
	return nil
}

// FillTally 只在缓存缺失或总票数落后于快照时写入。
// 票数只增不减，总票数即快照版本，晚到的旧快照不会覆盖更新的缓存。
func (c *MemoryTallyCache) FillTally(snapshot *model.TallySnapshot) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.tallies[snapshot.ElectionID]; ok {
		var current int64
		for _, count := range existing {
			current += count
		}
		if current >= snapshot.Total() {
			return false, nil
		}
	}
	c.tallies[snapshot.ElectionID] = tallyMap(snapshot)
	return true, nil
}

func tallyMap(snapshot *model.TallySnapshot) map[string]int64 {
	tally := make(map[string]int64, len(snapshot.Candidates))
	for _, cc := range snapshot.Candidates {
		tally[cc.CandidateID] = cc.Count
	}
	return tally
}

func (c *MemoryTallyCache) InvalidateTally(electionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.tallies, electionID)
	return nil
}

func (c *MemoryTallyCache) Close() error {
	return nil
}
