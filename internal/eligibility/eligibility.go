package eligibility

import (
	"github.com/lvdashuaibi/electionvote/internal/model"
)

// Check 判定选民当前是否可以在指定选举中投票。
// 纯函数，无副作用，可被任意数量的goroutine并发调用。
// 规则按顺序判定：
//  1. 选举必须处于ongoing阶段
//  2. 选民必须有选区信息（缺失是可由用户修正的独立错误，不是笼统的拒绝）
//  3. 全国性选举对所有选民开放，否则选民选区必须在选举的选区集合内
func Check(voter *model.Voter, election *model.Election) error {
	if election.Phase != model.PhaseOngoing {
		return model.ErrElectionNotOpen
	}

	if voter.Constituency == "" {
		return model.ErrProfileIncomplete
	}

	if election.IsNational() {
		return nil
	}

	for _, c := range election.Constituencies {
		if c == voter.Constituency {
			return nil
		}
	}

	return model.ErrOutOfScope
}

// Eligible Check的布尔形式，供只关心结果不关心原因的调用方使用
func Eligible(voter *model.Voter, election *model.Election) bool {
	return Check(voter, election) == nil
}
