package services

import (
	"errors"
	"fmt"
)

// 邀请校验失败（终态，不可重试）
var (
	ErrInviteNotFound = errors.New("邀请链接不存在")
	ErrInviteDisabled = errors.New("邀请链接已禁用")
	ErrInviteExpired  = errors.New("邀请链接已过期")
	ErrInviteMaxUses  = errors.New("邀请链接已用完")
)

// ErrConcurrentUseExhausted 并发接受时输掉条件更新的一方。
// 用户看到的提示与 ErrInviteMaxUses 相同，但必须单独记日志（说明是竞争而不是集成故障）。
var ErrConcurrentUseExhausted = errors.New("邀请链接已用完")

var (
	// ErrIdentityNotProven 身份验证尚未完成（PIN 未批准 / OAuth 未回调），可重新发起
	ErrIdentityNotProven = errors.New("身份验证尚未完成")
	// ErrInvalidState OAuth 回调携带的 state 与会话中的随机数不匹配
	ErrInvalidState = errors.New("state 校验失败，请重新发起授权")
	// ErrStepsIncomplete 仍有向导步骤未完成
	ErrStepsIncomplete = errors.New("仍有步骤未完成，无法提交")
)

// MembershipRequiredError 组织/公会成员校验未通过。属于提示而非硬错误，携带加入链接供展示。
type MembershipRequiredError struct {
	JoinURL string
}

func (e *MembershipRequiredError) Error() string {
	return "需要先加入指定社区才能使用此邀请"
}

// ConflictError 身份冲突，按 Kind 决定向导后续动作
type ConflictError struct {
	Record ConflictRecord
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("身份冲突: %s (server=%s)", e.Record.Kind, e.Record.ServerName)
}
