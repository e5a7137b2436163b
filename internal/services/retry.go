package services

import (
	"context"
	"time"
)

// RetryPolicy 有界重试策略：固定间隔，尝试 Attempts 次。
// 以值注入，测试可换成零间隔。
type RetryPolicy struct {
	Attempts int
	Interval time.Duration
}

// DefaultPinRetryPolicy PIN 轮询默认策略：3 次、间隔 1 秒，
// 用于吸收"用户已批准"到"token 可取"之间的传播延迟。
func DefaultPinRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Interval: time.Second}
}

// Wait 在两次尝试之间等待一个间隔，上下文取消则提前返回
func (p RetryPolicy) Wait(ctx context.Context) error {
	if p.Interval <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.Interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
