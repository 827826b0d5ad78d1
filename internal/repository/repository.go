package repository

import (
	"github.com/lvdashuaibi/electionvote/internal/model"
)

// Ledger 选票台账接口，是选举元数据和选票记录的权威来源。
// MySQL实现用于生产部署，内存实现用于单机开发和测试。
type Ledger interface {
	// CreateElection 创建选举及其候选人，新选举必须处于scheduled阶段
	CreateElection(election *model.Election) error

	// GetElection 获取选举详情（含候选人当前票数）
	GetElection(id string) (*model.Election, error)

	// ListElections 获取全部选举
	ListElections() ([]*model.Election, error)

	// UpdatePhase 以CAS方式变更选举阶段
	// 返回值：bool表示当前阶段是否等于from并成功变更，error表示变更过程中的错误
	UpdatePhase(id string, from, to model.Phase) (bool, error)

	// GetVoter 获取选民资料
	GetVoter(id string) (*model.Voter, error)

	// UpsertVoter 写入选民资料（由外部认证服务同步，核心不主动修改）
	UpsertVoter(voter *model.Voter) error

	// CastVote 投票的原子单元：在同一原子范围内校验选举处于ongoing阶段、
	// 检查并插入(voterId, electionId)唯一选票记录、递增目标候选人票数，
	// 任何并发调用（包括并发的阶段变更）都不会观察到部分状态。
	// 选举已冻结返回model.ErrElectionNotOpen，重复投票返回model.ErrAlreadyVoted，
	// 成功返回提交后的计票快照。
	CastVote(voterID, electionID, candidateID string) (*model.TallySnapshot, error)

	// GetTally 获取选举的计票快照（按选票记录汇总的权威数据）
	GetTally(electionID string) (*model.TallySnapshot, error)

	// VotedElections 获取选民已投过票的选举ID集合
	VotedElections(voterID string) ([]string, error)

	// Close 关闭底层存储连接
	Close() error
}
