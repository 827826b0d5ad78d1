package model

import (
	"time"
)

// Phase 选举生命周期阶段
type Phase string

const (
	PhaseScheduled Phase = "scheduled"
	PhaseOngoing   Phase = "ongoing"
	PhaseEnded     Phase = "ended"
)

// Valid 检查阶段值是否合法
func (p Phase) Valid() bool {
	return p == PhaseScheduled || p == PhaseOngoing || p == PhaseEnded
}

// Candidate 候选人模型，票数只增不减
type Candidate struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol,omitempty"`
	SymbolImage string `json:"symbolImage,omitempty"`
	Votes       int64  `json:"votes"`
}

// Election 选举模型，阶段与选区由管理端维护，核心只读
type Election struct {
	ID             string      `json:"id"`
	Title          string      `json:"title"`
	Description    string      `json:"description"`
	Candidates     []Candidate `json:"candidates"`
	Phase          Phase       `json:"phase"`
	Constituencies []string    `json:"constituencies"`
	StartTime      time.Time   `json:"startTime"`
	EndTime        time.Time   `json:"endTime"`
}

// IsNational 选区列表为空即为全国性选举
func (e *Election) IsNational() bool {
	return len(e.Constituencies) == 0
}

// FindCandidate 在选举的候选人列表中查找候选人
func (e *Election) FindCandidate(candidateID string) *Candidate {
	for i := range e.Candidates {
		if e.Candidates[i].ID == candidateID {
			return &e.Candidates[i]
		}
	}
	return nil
}

// Voter 选民模型，核心只关心ID和选区，审批状态由外部认证服务负责
type Voter struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Constituency string `json:"constituency"`
}

// Ballot 选票记录，(voterId, electionId)全局唯一，只插入不修改
type Ballot struct {
	ID          int64     `json:"id"`
	VoterID     string    `json:"voterId"`
	ElectionID  string    `json:"electionId"`
	CandidateID string    `json:"candidateId"`
	VotedAt     time.Time `json:"votedAt"`
}

// CandidateCount 单个候选人的当前票数
type CandidateCount struct {
	CandidateID string `json:"candidateId"`
	Count       int64  `json:"count"`
}

// TallySnapshot 某一时刻的选举计票快照
type TallySnapshot struct {
	ElectionID string           `json:"electionId"`
	Candidates []CandidateCount `json:"candidates"`
}

// Count 返回快照中指定候选人的票数
func (s *TallySnapshot) Count(candidateID string) int64 {
	for _, c := range s.Candidates {
		if c.CandidateID == candidateID {
			return c.Count
		}
	}
	return 0
}

// Total 返回快照中的总票数
func (s *TallySnapshot) Total() int64 {
	var total int64
	for _, c := range s.Candidates {
		total += c.Count
	}
	return total
}

// TallyEvent 计票变更事件，投票提交后广播给所有订阅者
type TallyEvent struct {
	ElectionID string           `json:"electionId"`
	Candidates []CandidateCount `json:"candidates"`
	EmittedAt  time.Time        `json:"emittedAt"`
}

// VoteRequest 投票请求，选民身份来自认证令牌而非请求体
type VoteRequest struct {
	ElectionID  string `json:"electionId"`
	CandidateID string `json:"candidateId"`
}

// VoteResponse 投票响应
type VoteResponse struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	Tally     *TallySnapshot `json:"tally,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// CreateElectionRequest 管理端创建选举请求，新选举总是处于scheduled阶段
type CreateElectionRequest struct {
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	Candidates     []CandidateInput `json:"candidates"`
	Constituencies []string         `json:"constituencies"`
	StartTime      time.Time        `json:"startTime"`
	EndTime        time.Time        `json:"endTime"`
}

// CandidateInput 创建选举时的候选人输入
type CandidateInput struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	SymbolImage string `json:"symbolImage"`
}
