package election

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lvdashuaibi/electionvote/internal/lock"
	"github.com/lvdashuaibi/electionvote/internal/model"
	"github.com/lvdashuaibi/electionvote/internal/repository"
)

// Store 选举元数据和阶段的权威来源。
// 阶段变更是单向的：scheduled→ongoing→ended，不允许回退，
// 变更在按选举粒度的分布式锁内完成，多实例并发变更不会绕过状态机。
type Store struct {
	ledger      repository.Ledger
	dlock       lock.Lock
	lockTimeout time.Duration
}

func NewStore(ledger repository.Ledger, dlock lock.Lock, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Store{
		ledger:      ledger,
		dlock:       dlock,
		lockTimeout: lockTimeout,
	}
}

// GetElection 获取选举详情
func (s *Store) GetElection(id string) (*model.Election, error) {
	return s.ledger.GetElection(id)
}

// GetPhase 获取选举当前阶段
func (s *Store) GetPhase(id string) (model.Phase, error) {
	election, err := s.ledger.GetElection(id)
	if err != nil {
		return "", err
	}
	return election.Phase, nil
}

// validTransition 阶段状态机，只认两条边
func validTransition(from, to model.Phase) bool {
	switch {
	case from == model.PhaseScheduled && to == model.PhaseOngoing:
		return true
	case from == model.PhaseOngoing && to == model.PhaseEnded:
		return true
	default:
		return false
	}
}

// SetPhase 变更选举阶段。
// 目标等于当前阶段返回ErrAlreadyInPhase，其余非法变更返回ErrInvalidTransition，
// 锁竞争和CAS失败返回ErrTransient，调用方可重试。
func (s *Store) SetPhase(id string, target model.Phase) error {
	if !target.Valid() {
		return fmt.Errorf("未知的阶段 %q: %w", target, model.ErrInvalidTransition)
	}

	lockName := lock.PhaseLockName(id)
	acquired, err := s.dlock.AcquireLock(lockName, s.lockTimeout)
	if err != nil {
		return fmt.Errorf("获取阶段变更锁失败: %w", model.ErrTransient)
	}
	if !acquired {
		return fmt.Errorf("阶段变更锁竞争: %w", model.ErrTransient)
	}
	defer s.dlock.ReleaseLock(lockName)

	current, err := s.GetPhase(id)
	if err != nil {
		return err
	}

	if current == target {
		return model.ErrAlreadyInPhase
	}
	if !validTransition(current, target) {
		return fmt.Errorf("%s -> %s: %w", current, target, model.ErrInvalidTransition)
	}

	ok, err := s.ledger.UpdatePhase(id, current, target)
	if err != nil {
		return err
	}
	if !ok {
		// 持锁期间阶段仍被他人改掉，只可能来自绕过锁的写入，按临时性故障处理
		return fmt.Errorf("阶段并发变更冲突: %w", model.ErrTransient)
	}
	return nil
}

// CreateElection 创建新选举，总是处于scheduled阶段。
// 候选人ID在此生成，插入顺序即选票顺序。
func (s *Store) CreateElection(req *model.CreateElectionRequest) (*model.Election, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("选举标题不能为空")
	}
	if len(req.Candidates) < 2 {
		return nil, fmt.Errorf("候选人不能少于2个")
	}

	election := &model.Election{
		ID:             uuid.NewString(),
		Title:          req.Title,
		Description:    req.Description,
		Phase:          model.PhaseScheduled,
		Constituencies: req.Constituencies,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
	}
	for _, input := range req.Candidates {
		if strings.TrimSpace(input.Name) == "" {
			return nil, fmt.Errorf("候选人姓名不能为空")
		}
		election.Candidates = append(election.Candidates, model.Candidate{
			ID:          uuid.NewString(),
			Name:        input.Name,
			Symbol:      input.Symbol,
			SymbolImage: input.SymbolImage,
		})
	}

	if err := s.ledger.CreateElection(election); err != nil {
		return nil, fmt.Errorf("创建选举失败: %w", err)
	}
	return election, nil
}
