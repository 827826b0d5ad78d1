package service

import (
	"fmt"
	"log"
	"time"

	"github.com/lvdashuaibi/electionvote/internal/eligibility"
	"github.com/lvdashuaibi/electionvote/internal/hub"
	"github.com/lvdashuaibi/electionvote/internal/metrics"
	"github.com/lvdashuaibi/electionvote/internal/model"
	"github.com/lvdashuaibi/electionvote/internal/repository"
)

// EventPublisher 把已提交的计票事件发布到跨实例通道（Kafka）。
// 单实例部署可以不配置。
type EventPublisher interface {
	SendTallyEvent(event *model.TallyEvent) error
}

// VoteService 投票服务，串起校验、台账、缓存和广播。
// castVote的原子性在台账实现内保证，这里只负责顺序：
// 所有校验在任何变更之前完成，提交成功后缓存刷新和广播是提交的必然后果。
type VoteService struct {
	ledger   repository.Ledger
	cache    repository.TallyCache
	eventHub *hub.Hub
	producer EventPublisher       // 可为nil
	metrics  *metrics.VoteMetrics // 可为nil
}

func NewVoteService(
	ledger repository.Ledger,
	cache repository.TallyCache,
	eventHub *hub.Hub,
	producer EventPublisher,
	voteMetrics *metrics.VoteMetrics,
) *VoteService {
	return &VoteService{
		ledger:   ledger,
		cache:    cache,
		eventHub: eventHub,
		producer: producer,
		metrics:  voteMetrics,
	}
}

// CastVote 投票。
// 失败时不产生任何状态变更；成功返回包含本次写入的计票快照，
// 调用方随后的任何计票读取都不会读到本次投票的缺失。
func (s *VoteService) CastVote(voterID string, req *model.VoteRequest) (*model.VoteResponse, error) {
	start := time.Now()

	election, err := s.ledger.GetElection(req.ElectionID)
	if err != nil {
		return nil, s.reject(req.ElectionID, err)
	}

	if election.FindCandidate(req.CandidateID) == nil {
		return nil, s.reject(req.ElectionID, model.ErrCandidateNotFound)
	}

	voter, err := s.ledger.GetVoter(voterID)
	if err != nil {
		return nil, s.reject(req.ElectionID, err)
	}

	if err := eligibility.Check(voter, election); err != nil {
		return nil, s.reject(req.ElectionID, err)
	}

	// 原子单元：检查并插入选票记录 + 递增票数
	snapshot, err := s.ledger.CastVote(voterID, req.ElectionID, req.CandidateID)
	if err != nil {
		return nil, s.reject(req.ElectionID, err)
	}
	orderSnapshot(snapshot, election)

	// 缓存刷新是提交的必然后果，失败时删除缓存让读路径回源
	s.applyCacheDelta(req.ElectionID, req.CandidateID, snapshot)

	event := &model.TallyEvent{
		ElectionID: snapshot.ElectionID,
		Candidates: snapshot.Candidates,
		EmittedAt:  time.Now(),
	}

	// 本地订阅者立即收到，Publish不阻塞
	s.eventHub.Publish(event)

	// 跨实例广播异步进行，不延长投票路径的可见时延
	if s.producer != nil {
		go func() {
			if err := s.producer.SendTallyEvent(event); err != nil {
				log.Printf("发送计票事件到Kafka失败: %v", err)
				return
			}
			if s.metrics != nil {
				s.metrics.EventsExported.Inc()
			}
		}()
	}

	if s.metrics != nil {
		s.metrics.VotesCast.WithLabelValues(req.ElectionID).Inc()
		s.metrics.CastLatency.WithLabelValues(req.ElectionID).Observe(time.Since(start).Seconds())
	}

	return &model.VoteResponse{
		Success:   true,
		Message:   "投票成功",
		Tally:     snapshot,
		Timestamp: time.Now(),
	}, nil
}

func (s *VoteService) reject(electionID string, err error) error {
	if s.metrics != nil {
		s.metrics.VotesRejected.WithLabelValues(electionID, model.ErrorCode(err)).Inc()
	}
	return err
}

func (s *VoteService) applyCacheDelta(electionID, candidateID string, snapshot *model.TallySnapshot) {
	hit, err := s.cache.ApplyDelta(electionID, candidateID)
	if err != nil {
		log.Printf("计票缓存增量失败: %v，删除缓存让读路径回源", err)
		if err := s.cache.InvalidateTally(electionID); err != nil {
			log.Printf("删除计票缓存失败: %v", err)
		}
		return
	}
	if !hit {
		// 回填只在缓存缺失或落后时生效，并发投票刚写入的新计数不会被覆盖
		if _, err := s.cache.FillTally(snapshot); err != nil {
			log.Printf("回填计票缓存失败: %v", err)
		}
	}
}

// GetElection 获取选举详情，候选人票数优先取缓存
func (s *VoteService) GetElection(id string) (*model.Election, error) {
	election, err := s.ledger.GetElection(id)
	if err != nil {
		return nil, err
	}
	s.overlayCachedCounts(election)
	return election, nil
}

// ListElections 获取选举列表。
// voter非nil时只返回该选民当前有资格投票的选举（服务端过滤，规则只存在一处）。
func (s *VoteService) ListElections(voter *model.Voter) ([]*model.Election, error) {
	elections, err := s.ledger.ListElections()
	if err != nil {
		return nil, err
	}

	if voter == nil {
		for _, e := range elections {
			s.overlayCachedCounts(e)
		}
		return elections, nil
	}

	filtered := make([]*model.Election, 0, len(elections))
	for _, e := range elections {
		if eligibility.Eligible(voter, e) {
			s.overlayCachedCounts(e)
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// GetTally 获取计票快照，缓存命中不落库，未命中回源并回填
func (s *VoteService) GetTally(electionID string) (*model.TallySnapshot, error) {
	election, err := s.ledger.GetElection(electionID)
	if err != nil {
		return nil, err
	}

	cached, hit, err := s.cache.GetTally(electionID)
	if err != nil {
		log.Printf("读取计票缓存失败: %v，回源台账", err)
	} else if hit {
		orderSnapshot(cached, election)
		return cached, nil
	}

	snapshot := snapshotFromElection(election)
	// 回填不覆盖更新的缓存：读路径回源期间提交的投票可能已写入缓存，
	// 本快照总票数更小时写入被拒，避免缓存倒退后在旧基数上继续加增量
	if _, err := s.cache.FillTally(snapshot); err != nil {
		log.Printf("回填计票缓存失败: %v", err)
	}
	return snapshot, nil
}

// GetVoter 获取选民资料
func (s *VoteService) GetVoter(voterID string) (*model.Voter, error) {
	return s.ledger.GetVoter(voterID)
}

// VoterHistory 获取选民已投过票的选举ID集合
func (s *VoteService) VoterHistory(voterID string) ([]string, error) {
	if _, err := s.ledger.GetVoter(voterID); err != nil {
		return nil, err
	}
	return s.ledger.VotedElections(voterID)
}

// ProcessTallyEvent 处理来自Kafka的计票事件（消费者使用），
// 转投本地广播中心。本实例自己提交的事件会再收到一次，
// 订阅者按至少一次语义处理。
func (s *VoteService) ProcessTallyEvent(event *model.TallyEvent) error {
	s.eventHub.Publish(event)
	return nil
}

// WarmTallyCache 把台账中的计票整体预热进缓存，启动选主成功的实例调用
func (s *VoteService) WarmTallyCache() error {
	elections, err := s.ledger.ListElections()
	if err != nil {
		return fmt.Errorf("读取选举列表失败: %w", err)
	}

	for _, election := range elections {
		if err := s.cache.SetTally(snapshotFromElection(election)); err != nil {
			return fmt.Errorf("预热选举 %s 计票缓存失败: %w", election.ID, err)
		}
	}
	log.Printf("计票缓存预热完成，共 %d 场选举", len(elections))
	return nil
}

// overlayCachedCounts 用缓存中的计票覆盖候选人票数，缓存可能比从库更新
func (s *VoteService) overlayCachedCounts(election *model.Election) {
	cached, hit, err := s.cache.GetTally(election.ID)
	if err != nil || !hit {
		return
	}
	for i := range election.Candidates {
		election.Candidates[i].Votes = cached.Count(election.Candidates[i].ID)
	}
}

// orderSnapshot 把快照中的候选人排成选票顺序并补齐零票候选人
func orderSnapshot(snapshot *model.TallySnapshot, election *model.Election) {
	ordered := make([]model.CandidateCount, 0, len(election.Candidates))
	for _, c := range election.Candidates {
		ordered = append(ordered, model.CandidateCount{
			CandidateID: c.ID,
			Count:       snapshot.Count(c.ID),
		})
	}
	snapshot.Candidates = ordered
}

// snapshotFromElection 从选举详情构造计票快照
func snapshotFromElection(election *model.Election) *model.TallySnapshot {
	snapshot := &model.TallySnapshot{ElectionID: election.ID}
	for _, c := range election.Candidates {
		snapshot.Candidates = append(snapshot.Candidates, model.CandidateCount{
			CandidateID: c.ID,
			Count:       c.Votes,
		})
	}
	return snapshot
}
