package api

import (
	"context"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"

	"github.com/lvdashuaibi/electionvote/internal/model"
	"github.com/lvdashuaibi/electionvote/internal/service"
)

// 只读GraphQL查询面，变更一律走REST接口
const schemaString = `
type Candidate {
  id: String!
  name: String!
  symbol: String!
  symbolImage: String!
  votes: Int!
}

type Election {
  id: String!
  title: String!
  description: String!
  phase: String!
  constituencies: [String!]!
  candidates: [Candidate!]!
  startTime: String!
  endTime: String!
}

type CandidateCount {
  candidateId: String!
  count: Int!
}

type Tally {
  electionId: String!
  candidates: [CandidateCount!]!
}

type Query {
  # 查询单场选举（含实时票数）
  election(id: String!): Election!

  # 查询全部选举
  elections: [Election!]!

  # 查询选举的计票快照
  tally(electionId: String!): Tally!

  # 查询选民已投过票的选举ID集合
  history(voterId: String!): [String!]!
}

schema {
  query: Query
}
`

// NewGraphQLHandler 创建GraphQL查询处理器
func NewGraphQLHandler(voteService *service.VoteService) *relay.Handler {
	resolver := &QueryResolver{voteService: voteService}
	schema := graphql.MustParseSchema(schemaString, resolver)
	return &relay.Handler{Schema: schema}
}

// QueryResolver GraphQL查询解析器
type QueryResolver struct {
	voteService *service.VoteService
}

func (r *QueryResolver) Election(ctx context.Context, args struct{ ID string }) (*ElectionResolver, error) {
	election, err := r.voteService.GetElection(args.ID)
	if err != nil {
		return nil, err
	}
	return &ElectionResolver{election: election}, nil
}

func (r *QueryResolver) Elections(ctx context.Context) ([]*ElectionResolver, error) {
	elections, err := r.voteService.ListElections(nil)
	if err != nil {
		return nil, err
	}

	resolvers := make([]*ElectionResolver, len(elections))
	for i, election := range elections {
		resolvers[i] = &ElectionResolver{election: election}
	}
	return resolvers, nil
}

func (r *QueryResolver) Tally(ctx context.Context, args struct{ ElectionID string }) (*TallyResolver, error) {
	snapshot, err := r.voteService.GetTally(args.ElectionID)
	if err != nil {
		return nil, err
	}
	return &TallyResolver{snapshot: snapshot}, nil
}

func (r *QueryResolver) History(ctx context.Context, args struct{ VoterID string }) ([]string, error) {
	electionIDs, err := r.voteService.VoterHistory(args.VoterID)
	if err != nil {
		return nil, err
	}
	if electionIDs == nil {
		electionIDs = []string{}
	}
	return electionIDs, nil
}

// ElectionResolver 选举解析器
type ElectionResolver struct {
	election *model.Election
}

func (r *ElectionResolver) ID() string          { return r.election.ID }
func (r *ElectionResolver) Title() string       { return r.election.Title }
func (r *ElectionResolver) Description() string { return r.election.Description }
func (r *ElectionResolver) Phase() string       { return string(r.election.Phase) }

func (r *ElectionResolver) Constituencies() []string {
	if r.election.Constituencies == nil {
		return []string{}
	}
	return r.election.Constituencies
}

func (r *ElectionResolver) Candidates() []*CandidateResolver {
	resolvers := make([]*CandidateResolver, len(r.election.Candidates))
	for i := range r.election.Candidates {
		resolvers[i] = &CandidateResolver{candidate: &r.election.Candidates[i]}
	}
	return resolvers
}

func (r *ElectionResolver) StartTime() string {
	return r.election.StartTime.Format(time.RFC3339)
}

func (r *ElectionResolver) EndTime() string {
	return r.election.EndTime.Format(time.RFC3339)
}

// CandidateResolver 候选人解析器
type CandidateResolver struct {
	candidate *model.Candidate
}

func (r *CandidateResolver) ID() string          { return r.candidate.ID }
func (r *CandidateResolver) Name() string        { return r.candidate.Name }
func (r *CandidateResolver) Symbol() string      { return r.candidate.Symbol }
func (r *CandidateResolver) SymbolImage() string { return r.candidate.SymbolImage }
func (r *CandidateResolver) Votes() int32        { return int32(r.candidate.Votes) }

// TallyResolver 计票快照解析器
type TallyResolver struct {
	snapshot *model.TallySnapshot
}

func (r *TallyResolver) ElectionID() string { return r.snapshot.ElectionID }

func (r *TallyResolver) Candidates() []*CandidateCountResolver {
	resolvers := make([]*CandidateCountResolver, len(r.snapshot.Candidates))
	for i := range r.snapshot.Candidates {
		resolvers[i] = &CandidateCountResolver{count: &r.snapshot.Candidates[i]}
	}
	return resolvers
}

// CandidateCountResolver 候选人票数解析器
type CandidateCountResolver struct {
	count *model.CandidateCount
}

func (r *CandidateCountResolver) CandidateID() string { return r.count.CandidateID }
func (r *CandidateCountResolver) Count() int32        { return int32(r.count.Count) }
