package repository

import (
	"sort"
	"sync"
	"time"

	"github.com/lvdashuaibi/electionvote/internal/model"
)

// MemoryLedger 内存台账实现，用于单机开发和测试。
// 每个选举持有独立互斥锁，不同选举的投票完全并行，
// 检查并插入选票与递增票数在同一把锁内完成，对应MySQL实现的事务。
type MemoryLedger struct {
	mu        sync.RWMutex
	elections map[string]*electionState
	voters    map[string]*model.Voter
}

type electionState struct {
	mu       sync.Mutex
	election model.Election
	ballots  map[string]*model.Ballot // voterID -> 选票记录
	nextID   int64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		elections: make(map[string]*electionState),
		voters:    make(map[string]*model.Voter),
	}
}

func (r *MemoryLedger) CreateElection(election *model.Election) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.elections[election.ID]; ok {
		return model.ErrTransient
	}

	state := &electionState{
		ballots: make(map[string]*model.Ballot),
		nextID:  1,
	}
	state.election = *election
	state.election.Candidates = append([]model.Candidate(nil), election.Candidates...)
	state.election.Constituencies = append([]string(nil), election.Constituencies...)
	r.elections[election.ID] = state
	return nil
}

func (r *MemoryLedger) lookup(electionID string) (*electionState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.elections[electionID]
	if !ok {
		return nil, model.ErrElectionNotFound
	}
	return state, nil
}

func (r *MemoryLedger) GetElection(id string) (*model.Election, error) {
	state, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return copyElection(&state.election), nil
}

func (r *MemoryLedger) ListElections() ([]*model.Election, error) {
	r.mu.RLock()
	states := make([]*electionState, 0, len(r.elections))
	for _, state := range r.elections {
		states = append(states, state)
	}
	r.mu.RUnlock()

	elections := make([]*model.Election, 0, len(states))
	for _, state := range states {
		state.mu.Lock()
		elections = append(elections, copyElection(&state.election))
		state.mu.Unlock()
	}

	sort.Slice(elections, func(i, j int) bool {
		if !elections[i].StartTime.Equal(elections[j].StartTime) {
			return elections[i].StartTime.Before(elections[j].StartTime)
		}
		return elections[i].ID < elections[j].ID
	})
	return elections, nil
}

func (r *MemoryLedger) UpdatePhase(id string, from, to model.Phase) (bool, error) {
	state, err := r.lookup(id)
	if err != nil {
		return false, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.election.Phase != from {
		return false, nil
	}
	state.election.Phase = to
	return true, nil
}

func (r *MemoryLedger) GetVoter(id string) (*model.Voter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	voter, ok := r.voters[id]
	if !ok {
		return nil, model.ErrVoterNotFound
	}
	v := *voter
	return &v, nil
}

func (r *MemoryLedger) UpsertVoter(voter *model.Voter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := *voter
	r.voters[voter.ID] = &v
	return nil
}

func (r *MemoryLedger) CastVote(voterID, electionID, candidateID string) (*model.TallySnapshot, error) {
	state, err := r.lookup(electionID)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	// 阶段闸门在锁内再判一次，与UpdatePhase互斥，
	// 并发的阶段变更不可能绕过服务层预检后再落票
	if state.election.Phase != model.PhaseOngoing {
		return nil, model.ErrElectionNotOpen
	}

	if _, voted := state.ballots[voterID]; voted {
		return nil, model.ErrAlreadyVoted
	}

	candidate := state.election.FindCandidate(candidateID)
	if candidate == nil {
		return nil, model.ErrCandidateNotFound
	}

	state.ballots[voterID] = &model.Ballot{
		ID:          state.nextID,
		VoterID:     voterID,
		ElectionID:  electionID,
		CandidateID: candidateID,
		VotedAt:     time.Now(),
	}
	state.nextID++
	candidate.Votes++

	return snapshotLocked(&state.election), nil
}

func (r *MemoryLedger) GetTally(electionID string) (*model.TallySnapshot, error) {
	state, err := r.lookup(electionID)
	if err != nil {
		return nil, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return snapshotLocked(&state.election), nil
}

func (r *MemoryLedger) VotedElections(voterID string) ([]string, error) {
	r.mu.RLock()
	states := make(map[string]*electionState, len(r.elections))
	for id, state := range r.elections {
		states[id] = state
	}
	r.mu.RUnlock()

	var electionIDs []string
	for id, state := range states {
		state.mu.Lock()
		_, voted := state.ballots[voterID]
		state.mu.Unlock()
		if voted {
			electionIDs = append(electionIDs, id)
		}
	}
	sort.Strings(electionIDs)
	return electionIDs, nil
}

func (r *MemoryLedger) Close() error {
	return nil
}

func copyElection(e *model.Election) *model.Election {
	c := *e
	c.Candidates = append([]model.Candidate(nil), e.Candidates...)
	c.Constituencies = append([]string(nil), e.Constituencies...)
	return &c
}

func snapshotLocked(e *model.Election) *model.TallySnapshot {
	snapshot := &model.TallySnapshot{ElectionID: e.ID}
	for _, c := range e.Candidates {
		snapshot.Candidates = append(snapshot.Candidates, model.CandidateCount{
			CandidateID: c.ID,
			Count:       c.Votes,
		})
	}
	return snapshot
}
