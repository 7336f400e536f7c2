// vault/activity.go
// 活动追踪：lastActivity 只会单调前进
// 迟到或重放的证明不可能把真实的近期活动拨回去
package vault

import (
	"time"

	"custody/types"
)

// recordActivity 更新 lastActivity = max(lastActivity, ts)
// 返回是否真的前进了（调用方据此决定是否需要自动撤销公示期）
func recordActivity(v *types.Vault, ts int64) bool {
	if ts <= v.LastActivity {
		return false
	}
	v.LastActivity = ts
	return true
}

// clampTimestamp 把证明时间戳限制到 now，伪造的未来时间戳没法把金库
// 无限期钉在活跃状态
func clampTimestamp(ts int64, now time.Time) int64 {
	n := now.Unix()
	if ts > n {
		return n
	}
	return ts
}

// timeSinceLastActivity 静默时长
func timeSinceLastActivity(v *types.Vault, now time.Time) time.Duration {
	return time.Duration(now.Unix()-v.LastActivity) * time.Second
}

// executeAfter 可执行时刻（触发时刻 + 挑战期 + 随机附加延迟）
// 未触发返回 0
func executeAfter(v *types.Vault) int64 {
	if v.ChallengeStartedAt == 0 {
		return 0
	}
	return v.ChallengeStartedAt + int64(v.ChallengePeriod/time.Second) + v.RandomDelay
}
