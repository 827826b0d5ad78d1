package model

import (
	"errors"
)

// 错误分类，校验失败一律在任何变更之前返回，ErrTransient是唯一可自动重试的一类
var (
	ErrElectionNotFound  = errors.New("选举不存在")
	ErrCandidateNotFound = errors.New("候选人不属于该选举")
	ErrVoterNotFound     = errors.New("选民不存在")
	ErrElectionNotOpen   = errors.New("选举未在进行中")
	ErrProfileIncomplete = errors.New("选民资料缺少选区信息，请重新登录刷新资料")
	ErrOutOfScope        = errors.New("选民不在本次选举的选区范围内")
	ErrAlreadyVoted      = errors.New("该选民已在本次选举中投过票")
	ErrInvalidTransition = errors.New("非法的选举阶段变更")
	ErrAlreadyInPhase    = errors.New("选举已处于目标阶段")
	ErrTransient         = errors.New("临时性故障，请重试")
	ErrUnauthenticated   = errors.New("未认证")
	ErrUnauthorized      = errors.New("无权限")
)

// ErrorCode 返回错误对应的稳定机器码，供API层和客户端使用
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrElectionNotFound):
		return "ELECTION_NOT_FOUND"
	case errors.Is(err, ErrCandidateNotFound):
		return "CANDIDATE_NOT_FOUND"
	case errors.Is(err, ErrVoterNotFound):
		return "VOTER_NOT_FOUND"
	case errors.Is(err, ErrElectionNotOpen):
		return "ELECTION_NOT_OPEN"
	case errors.Is(err, ErrProfileIncomplete):
		return "PROFILE_INCOMPLETE"
	case errors.Is(err, ErrOutOfScope):
		return "OUT_OF_SCOPE"
	case errors.Is(err, ErrAlreadyVoted):
		return "ALREADY_VOTED"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrAlreadyInPhase):
		return "ALREADY_IN_PHASE"
	case errors.Is(err, ErrTransient):
		return "TRANSIENT_FAILURE"
	case errors.Is(err, ErrUnauthenticated):
		return "UNAUTHENTICATED"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	default:
		return "INTERNAL"
	}
}
