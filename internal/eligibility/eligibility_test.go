package eligibility

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lvdashuaibi/electionvote/internal/model"
)

func newElection(phase model.Phase, constituencies []string) *model.Election {
	return &model.Election{
		ID:             "e1",
		Title:          "测试选举",
		Phase:          phase,
		Constituencies: constituencies,
		StartTime:      time.Now(),
		EndTime:        time.Now().Add(time.Hour),
		Candidates: []model.Candidate{
			{ID: "c1", Name: "候选人一"},
			{ID: "c2", Name: "候选人二"},
		},
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name     string
		voter    *model.Voter
		election *model.Election
		want     error
	}{
		{
			name:     "全国性选举对所有选民开放",
			voter:    &model.Voter{ID: "v1", Constituency: "Sylhet-1"},
			election: newElection(model.PhaseOngoing, nil),
			want:     nil,
		},
		{
			name:     "选区匹配",
			voter:    &model.Voter{ID: "v1", Constituency: "Dhaka-1"},
			election: newElection(model.PhaseOngoing, []string{"Dhaka-1", "Dhaka-2"}),
			want:     nil,
		},
		{
			name:     "选区不匹配",
			voter:    &model.Voter{ID: "v1", Constituency: "Dhaka-1"},
			election: newElection(model.PhaseOngoing, []string{"Chittagong-1"}),
			want:     model.ErrOutOfScope,
		},
		{
			name:     "选举未开始",
			voter:    &model.Voter{ID: "v1", Constituency: "Dhaka-1"},
			election: newElection(model.PhaseScheduled, nil),
			want:     model.ErrElectionNotOpen,
		},
		{
			name:     "选举已结束",
			voter:    &model.Voter{ID: "v1", Constituency: "Dhaka-1"},
			election: newElection(model.PhaseEnded, nil),
			want:     model.ErrElectionNotOpen,
		},
		{
			name:     "选区信息缺失",
			voter:    &model.Voter{ID: "v1", Constituency: ""},
			election: newElection(model.PhaseOngoing, nil),
			want:     model.ErrProfileIncomplete,
		},
		{
			name:     "阶段检查优先于选区检查",
			voter:    &model.Voter{ID: "v1", Constituency: ""},
			election: newElection(model.PhaseEnded, []string{"Chittagong-1"}),
			want:     model.ErrElectionNotOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Check(tt.voter, tt.election)
			if !errors.Is(got, tt.want) && got != tt.want {
				t.Errorf("Check() = %v, 期望 %v", got, tt.want)
			}
		})
	}
}

func TestEligible(t *testing.T) {
	voter := &model.Voter{ID: "v1", Constituency: "Dhaka-1"}

	if !Eligible(voter, newElection(model.PhaseOngoing, []string{"Dhaka-1"})) {
		t.Error("选区匹配的进行中选举应当有资格")
	}
	if Eligible(voter, newElection(model.PhaseOngoing, []string{"Chittagong-1"})) {
		t.Error("选区不匹配不应有资格")
	}
}

// 资格判定是纯函数，任意并发调用不应产生数据竞争
func TestCheckConcurrent(t *testing.T) {
	voter := &model.Voter{ID: "v1", Constituency: "Dhaka-1"}
	election := newElection(model.PhaseOngoing, []string{"Dhaka-1", "Dhaka-2", "Sylhet-1"})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := Check(voter, election); err != nil {
				t.Errorf("并发调用Check失败: %v", err)
			}
		}()
	}
	wg.Wait()
}
