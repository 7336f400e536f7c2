package vault

import (
	"testing"
	"time"

	"custody/types"
)

func TestRecordActivityMonotonic(t *testing.T) {
	v := &types.Vault{LastActivity: 1000}

	if recordActivity(v, 900) {
		t.Error("stale timestamp should not advance lastActivity")
	}
	if v.LastActivity != 1000 {
		t.Errorf("lastActivity = %d, want 1000", v.LastActivity)
	}

	if recordActivity(v, 1000) {
		t.Error("equal timestamp should not count as advance")
	}

	if !recordActivity(v, 2000) {
		t.Error("newer timestamp should advance")
	}
	if v.LastActivity != 2000 {
		t.Errorf("lastActivity = %d, want 2000", v.LastActivity)
	}
}

func TestClampTimestamp(t *testing.T) {
	now := time.Unix(5000, 0)

	if got := clampTimestamp(4000, now); got != 4000 {
		t.Errorf("past timestamp clamped: got %d", got)
	}
	if got := clampTimestamp(9999, now); got != 5000 {
		t.Errorf("future timestamp not clamped to now: got %d", got)
	}
}

func TestExecuteAfter(t *testing.T) {
	v := &types.Vault{ChallengePeriod: 30 * day}
	if executeAfter(v) != 0 {
		t.Error("untriggered vault has no execute deadline")
	}

	v.ChallengeStartedAt = 10000
	want := int64(10000) + int64(30*day/time.Second)
	if got := executeAfter(v); got != want {
		t.Errorf("executeAfter = %d, want %d", got, want)
	}

	// 随机延迟只会把截止时刻后移
	v.RandomDelay = 3600
	if got := executeAfter(v); got != want+3600 {
		t.Errorf("executeAfter with delay = %d, want %d", got, want+3600)
	}
}

func TestSafeMathBounds(t *testing.T) {
	if _, err := ParseBalance("-5"); err == nil {
		t.Error("negative balance must be rejected")
	}
	if _, err := ParseBalance("abc"); err == nil {
		t.Error("non-numeric balance must be rejected")
	}

	a, err := ParseBalance("100")
	if err != nil {
		t.Fatalf("ParseBalance: %v", err)
	}
	b := ParseBalanceOrZero("30")

	sum, err := SafeAdd(a, b)
	if err != nil || sum.String() != "130" {
		t.Errorf("SafeAdd = %v, %v", sum, err)
	}
	diff, err := SafeSub(a, b)
	if err != nil || diff.String() != "70" {
		t.Errorf("SafeSub = %v, %v", diff, err)
	}
	// 不允许透支
	if _, err := SafeSub(b, a); err == nil {
		t.Error("underflow must be rejected")
	}
}
