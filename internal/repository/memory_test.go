package repository

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lvdashuaibi/electionvote/internal/model"
)

func seedElection(t *testing.T, ledger *MemoryLedger, id string, phase model.Phase) {
	t.Helper()

	err := ledger.CreateElection(&model.Election{
		ID:        id,
		Title:     "测试选举 " + id,
		Phase:     phase,
		StartTime: time.Now(),
		EndTime:   time.Now().Add(time.Hour),
		Candidates: []model.Candidate{
			{ID: "c1", Name: "候选人一"},
			{ID: "c2", Name: "候选人二"},
		},
	})
	if err != nil {
		t.Fatalf("创建选举失败: %v", err)
	}
}

func TestCastVoteDuplicate(t *testing.T) {
	ledger := NewMemoryLedger()
	seedElection(t, ledger, "e1", model.PhaseOngoing)

	snapshot, err := ledger.CastVote("v1", "e1", "c1")
	if err != nil {
		t.Fatalf("首次投票失败: %v", err)
	}
	if snapshot.Count("c1") != 1 {
		t.Errorf("c1票数 = %d, 期望 1", snapshot.Count("c1"))
	}

	if _, err := ledger.CastVote("v1", "e1", "c2"); !errors.Is(err, model.ErrAlreadyVoted) {
		t.Errorf("重复投票错误 = %v, 期望 ErrAlreadyVoted", err)
	}

	// 重复投票不改变计票
	tally, err := ledger.GetTally("e1")
	if err != nil {
		t.Fatalf("获取计票失败: %v", err)
	}
	if tally.Total() != 1 {
		t.Errorf("总票数 = %d, 期望 1", tally.Total())
	}
}

// 同一选民并发投N次，恰好一次成功，其余全部返回ErrAlreadyVoted
func TestCastVoteConcurrentSameVoter(t *testing.T) {
	ledger := NewMemoryLedger()
	seedElection(t, ledger, "e1", model.PhaseOngoing)

	const attempts = 50
	var wg sync.WaitGroup
	var successCount, duplicateCount int64
	var mu sync.Mutex

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.CastVote("v1", "e1", "c1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successCount++
			case errors.Is(err, model.ErrAlreadyVoted):
				duplicateCount++
			default:
				t.Errorf("意外的投票错误: %v", err)
			}
		}()
	}
	wg.Wait()

	if successCount != 1 {
		t.Errorf("成功次数 = %d, 期望 1", successCount)
	}
	if duplicateCount != attempts-1 {
		t.Errorf("重复次数 = %d, 期望 %d", duplicateCount, attempts-1)
	}

	tally, err := ledger.GetTally("e1")
	if err != nil {
		t.Fatalf("获取计票失败: %v", err)
	}
	if tally.Total() != 1 {
		t.Errorf("总票数 = %d, 期望 1", tally.Total())
	}
}

// 不同选民并发投票，总票数等于选民数，无丢票
func TestCastVoteConcurrentDistinctVoters(t *testing.T) {
	ledger := NewMemoryLedger()
	seedElection(t, ledger, "e1", model.PhaseOngoing)

	const voters = 100
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			candidateID := "c1"
			if n%2 == 1 {
				candidateID = "c2"
			}
			voterID := "v" + string(rune('A'+n/26)) + string(rune('a'+n%26))
			if _, err := ledger.CastVote(voterID, "e1", candidateID); err != nil {
				t.Errorf("选民 %s 投票失败: %v", voterID, err)
			}
		}(i)
	}
	wg.Wait()

	tally, err := ledger.GetTally("e1")
	if err != nil {
		t.Fatalf("获取计票失败: %v", err)
	}
	if tally.Total() != voters {
		t.Errorf("总票数 = %d, 期望 %d", tally.Total(), voters)
	}
	if tally.Count("c1") != voters/2 || tally.Count("c2") != voters/2 {
		t.Errorf("票数分布 c1=%d c2=%d, 期望各 %d", tally.Count("c1"), tally.Count("c2"), voters/2)
	}
}

// 阶段闸门在台账的原子单元内生效：选举结束后即使绕过上层预检，
// 台账也拒绝落票，冻结后的计票不再变化
func TestCastVoteRejectsAfterPhaseFreeze(t *testing.T) {
	ledger := NewMemoryLedger()
	seedElection(t, ledger, "e1", model.PhaseOngoing)

	if _, err := ledger.CastVote("v1", "e1", "c1"); err != nil {
		t.Fatalf("进行中投票失败: %v", err)
	}

	ok, err := ledger.UpdatePhase("e1", model.PhaseOngoing, model.PhaseEnded)
	if err != nil || !ok {
		t.Fatalf("结束选举失败: (%v, %v)", ok, err)
	}

	if _, err := ledger.CastVote("v2", "e1", "c1"); !errors.Is(err, model.ErrElectionNotOpen) {
		t.Errorf("冻结后投票错误 = %v, 期望 ErrElectionNotOpen", err)
	}

	tally, err := ledger.GetTally("e1")
	if err != nil {
		t.Fatalf("获取计票失败: %v", err)
	}
	if tally.Total() != 1 {
		t.Errorf("冻结后总票数 = %d, 期望 1", tally.Total())
	}
}

// 投票与冻结并发进行时，冻结后提交的计票数恰好等于成功的投票数，无迟到落票
func TestCastVoteConcurrentWithPhaseFreeze(t *testing.T) {
	ledger := NewMemoryLedger()
	seedElection(t, ledger, "e1", model.PhaseOngoing)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var success int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := ledger.CastVote(fmt.Sprintf("v%d", n), "e1", "c1")
			switch {
			case err == nil:
				mu.Lock()
				success++
				mu.Unlock()
			case errors.Is(err, model.ErrElectionNotOpen):
			default:
				t.Errorf("意外的投票错误: %v", err)
			}
		}(i)
	}

	if ok, err := ledger.UpdatePhase("e1", model.PhaseOngoing, model.PhaseEnded); err != nil || !ok {
		t.Fatalf("结束选举失败: (%v, %v)", ok, err)
	}
	wg.Wait()

	tally, err := ledger.GetTally("e1")
	if err != nil {
		t.Fatalf("获取计票失败: %v", err)
	}
	if tally.Total() != success {
		t.Errorf("冻结后总票数 = %d, 成功投票数 = %d, 两者应相等", tally.Total(), success)
	}
}

func TestCastVoteRejectsBeforeOpen(t *testing.T) {
	ledger := NewMemoryLedger()
	seedElection(t, ledger, "e1", model.PhaseScheduled)

	if _, err := ledger.CastVote("v1", "e1", "c1"); !errors.Is(err, model.ErrElectionNotOpen) {
		t.Errorf("未开始投票错误 = %v, 期望 ErrElectionNotOpen", err)
	}
}

func TestCastVoteUnknownTargets(t *testing.T) {
	ledger := NewMemoryLedger()
	seedElection(t, ledger, "e1", model.PhaseOngoing)

	if _, err := ledger.CastVote("v1", "missing", "c1"); !errors.Is(err, model.ErrElectionNotFound) {
		t.Errorf("未知选举错误 = %v, 期望 ErrElectionNotFound", err)
	}
	if _, err := ledger.CastVote("v1", "e1", "missing"); !errors.Is(err, model.ErrCandidateNotFound) {
		t.Errorf("未知候选人错误 = %v, 期望 ErrCandidateNotFound", err)
	}
}

func TestUpdatePhaseCAS(t *testing.T) {
	ledger := NewMemoryLedger()
	seedElection(t, ledger, "e1", model.PhaseScheduled)

	ok, err := ledger.UpdatePhase("e1", model.PhaseScheduled, model.PhaseOngoing)
	if err != nil || !ok {
		t.Fatalf("UpdatePhase = (%v, %v), 期望 (true, nil)", ok, err)
	}

	// 当前阶段已不是scheduled，CAS失败
	ok, err = ledger.UpdatePhase("e1", model.PhaseScheduled, model.PhaseOngoing)
	if err != nil {
		t.Fatalf("UpdatePhase错误: %v", err)
	}
	if ok {
		t.Error("阶段不匹配时CAS应当失败")
	}

	election, err := ledger.GetElection("e1")
	if err != nil {
		t.Fatalf("获取选举失败: %v", err)
	}
	if election.Phase != model.PhaseOngoing {
		t.Errorf("阶段 = %s, 期望 ongoing", election.Phase)
	}
}

// 并发CAS变更同一选举的阶段，恰好一个成功
func TestUpdatePhaseConcurrent(t *testing.T) {
	ledger := NewMemoryLedger()
	seedElection(t, ledger, "e1", model.PhaseScheduled)

	var wg sync.WaitGroup
	var successCount int64
	var mu sync.Mutex
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ledger.UpdatePhase("e1", model.PhaseScheduled, model.PhaseOngoing)
			if err != nil {
				t.Errorf("UpdatePhase错误: %v", err)
				return
			}
			if ok {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successCount != 1 {
		t.Errorf("CAS成功次数 = %d, 期望 1", successCount)
	}
}

func TestVotedElections(t *testing.T) {
	ledger := NewMemoryLedger()
	seedElection(t, ledger, "e1", model.PhaseOngoing)
	seedElection(t, ledger, "e2", model.PhaseOngoing)
	seedElection(t, ledger, "e3", model.PhaseOngoing)

	if _, err := ledger.CastVote("v1", "e1", "c1"); err != nil {
		t.Fatalf("投票失败: %v", err)
	}
	if _, err := ledger.CastVote("v1", "e3", "c2"); err != nil {
		t.Fatalf("投票失败: %v", err)
	}
	if _, err := ledger.CastVote("v2", "e2", "c1"); err != nil {
		t.Fatalf("投票失败: %v", err)
	}

	voted, err := ledger.VotedElections("v1")
	if err != nil {
		t.Fatalf("获取投票历史失败: %v", err)
	}
	if len(voted) != 2 || voted[0] != "e1" || voted[1] != "e3" {
		t.Errorf("v1的投票历史 = %v, 期望 [e1 e3]", voted)
	}

	voted, err = ledger.VotedElections("v3")
	if err != nil {
		t.Fatalf("获取投票历史失败: %v", err)
	}
	if len(voted) != 0 {
		t.Errorf("未投票选民的历史 = %v, 期望为空", voted)
	}
}

func TestVoterRoundTrip(t *testing.T) {
	ledger := NewMemoryLedger()

	if _, err := ledger.GetVoter("v1"); !errors.Is(err, model.ErrVoterNotFound) {
		t.Errorf("未知选民错误 = %v, 期望 ErrVoterNotFound", err)
	}

	if err := ledger.UpsertVoter(&model.Voter{ID: "v1", Name: "张三", Constituency: "Dhaka-1"}); err != nil {
		t.Fatalf("写入选民失败: %v", err)
	}

	voter, err := ledger.GetVoter("v1")
	if err != nil {
		t.Fatalf("获取选民失败: %v", err)
	}
	if voter.Constituency != "Dhaka-1" {
		t.Errorf("选区 = %s, 期望 Dhaka-1", voter.Constituency)
	}

	// 更新选区信息
	if err := ledger.UpsertVoter(&model.Voter{ID: "v1", Name: "张三", Constituency: "Dhaka-2"}); err != nil {
		t.Fatalf("更新选民失败: %v", err)
	}
	voter, err = ledger.GetVoter("v1")
	if err != nil {
		t.Fatalf("获取选民失败: %v", err)
	}
	if voter.Constituency != "Dhaka-2" {
		t.Errorf("更新后选区 = %s, 期望 Dhaka-2", voter.Constituency)
	}
}

// GetElection返回的是副本，调用方修改不影响台账内部状态
func TestGetElectionReturnsCopy(t *testing.T) {
	ledger := NewMemoryLedger()
	seedElection(t, ledger, "e1", model.PhaseOngoing)

	election, err := ledger.GetElection("e1")
	if err != nil {
		t.Fatalf("获取选举失败: %v", err)
	}
	election.Candidates[0].Votes = 999
	election.Phase = model.PhaseEnded

	fresh, err := ledger.GetElection("e1")
	if err != nil {
		t.Fatalf("获取选举失败: %v", err)
	}
	if fresh.Candidates[0].Votes != 0 || fresh.Phase != model.PhaseOngoing {
		t.Error("外部修改泄漏进了台账内部状态")
	}
}

func TestMemoryTallyCacheDelta(t *testing.T) {
	cache := NewMemoryTallyCache()

	// 缓存未命中时不创建部分哈希
	hit, err := cache.ApplyDelta("e1", "c1")
	if err != nil {
		t.Fatalf("ApplyDelta错误: %v", err)
	}
	if hit {
		t.Error("缓存为空时ApplyDelta应当未命中")
	}

	if err := cache.SetTally(&model.TallySnapshot{
		ElectionID: "e1",
		Candidates: []model.CandidateCount{
			{CandidateID: "c1", Count: 3},
			{CandidateID: "c2", Count: 1},
		},
	}); err != nil {
		t.Fatalf("SetTally失败: %v", err)
	}

	hit, err = cache.ApplyDelta("e1", "c1")
	if err != nil || !hit {
		t.Fatalf("ApplyDelta = (%v, %v), 期望 (true, nil)", hit, err)
	}

	snapshot, ok, err := cache.GetTally("e1")
	if err != nil || !ok {
		t.Fatalf("GetTally = (%v, %v), 期望命中", ok, err)
	}
	if snapshot.Count("c1") != 4 || snapshot.Count("c2") != 1 {
		t.Errorf("增量后票数 c1=%d c2=%d, 期望 4/1", snapshot.Count("c1"), snapshot.Count("c2"))
	}

	if err := cache.InvalidateTally("e1"); err != nil {
		t.Fatalf("InvalidateTally失败: %v", err)
	}
	if _, ok, _ := cache.GetTally("e1"); ok {
		t.Error("失效后GetTally不应命中")
	}
}

// 回填以总票数为版本：缺失时写入，旧快照落败，新快照覆盖
func TestMemoryTallyCacheFillTally(t *testing.T) {
	cache := NewMemoryTallyCache()

	written, err := cache.FillTally(&model.TallySnapshot{
		ElectionID: "e1",
		Candidates: []model.CandidateCount{
			{CandidateID: "c1", Count: 2},
			{CandidateID: "c2", Count: 1},
		},
	})
	if err != nil || !written {
		t.Fatalf("FillTally缺失时 = (%v, %v), 期望写入", written, err)
	}

	// 总票数更小的旧快照不覆盖
	written, err = cache.FillTally(&model.TallySnapshot{
		ElectionID: "e1",
		Candidates: []model.CandidateCount{
			{CandidateID: "c1", Count: 1},
			{CandidateID: "c2", Count: 1},
		},
	})
	if err != nil {
		t.Fatalf("FillTally错误: %v", err)
	}
	if written {
		t.Error("旧快照不应覆盖更新的缓存")
	}
	snapshot, ok, err := cache.GetTally("e1")
	if err != nil || !ok {
		t.Fatalf("GetTally = (%v, %v), 期望命中", ok, err)
	}
	if snapshot.Count("c1") != 2 {
		t.Errorf("旧快照回填后 c1=%d, 缓存被倒退, 期望 2", snapshot.Count("c1"))
	}

	// 总票数相等的重复回填也不写（幂等，不打断正在进行的增量）
	if written, _ := cache.FillTally(snapshot); written {
		t.Error("总票数相等的快照不应重复写入")
	}

	// 总票数更大的新快照正常覆盖
	written, err = cache.FillTally(&model.TallySnapshot{
		ElectionID: "e1",
		Candidates: []model.CandidateCount{
			{CandidateID: "c1", Count: 3},
			{CandidateID: "c2", Count: 1},
		},
	})
	if err != nil || !written {
		t.Fatalf("FillTally新快照 = (%v, %v), 期望写入", written, err)
	}
	snapshot, _, _ = cache.GetTally("e1")
	if snapshot.Count("c1") != 3 {
		t.Errorf("新快照回填后 c1=%d, 期望 3", snapshot.Count("c1"))
	}
}
