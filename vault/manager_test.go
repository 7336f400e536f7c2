package vault

import (
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"custody/config"
	"custody/db"
	"custody/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	day = 24 * time.Hour
)

func testAddr(n byte) string {
	return fmt.Sprintf("0x%040x", n)
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dbMgr, err := db.NewManager(&config.DBConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(dbMgr.Close)

	cfg := config.DefaultConfig()
	return NewManager(dbMgr, &cfg.Vault, "domain-a")
}

// transferRecorder 记录每次本地转账，按收款人累加
type transferRecorder struct {
	mu    sync.Mutex
	calls int
	got   map[string]*big.Int // to → 累计金额
	fail  map[string]bool     // to → 返回失败
}

func newTransferRecorder() *transferRecorder {
	return &transferRecorder{
		got:  make(map[string]*big.Int),
		fail: make(map[string]bool),
	}
}

func (tr *transferRecorder) fn(assetID string, class types.AssetClass, to string, amount *big.Int) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.calls++
	if tr.fail[to] {
		return fmt.Errorf("transfer to %s rejected", to)
	}
	if tr.got[to] == nil {
		tr.got[to] = big.NewInt(0)
	}
	tr.got[to].Add(tr.got[to], amount)
	return nil
}

func (tr *transferRecorder) received(to string) string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.got[to] == nil {
		return "0"
	}
	return tr.got[to].String()
}

// randomRequester 记录开窗时的随机延迟申请
type randomRequester struct {
	calls []string
}

func (r *randomRequester) NewRandomRequest(owner string, now time.Time) (string, error) {
	r.calls = append(r.calls, owner)
	return fmt.Sprintf("rand-%d", len(r.calls)), nil
}

// 开窗申请一次随机延迟；幂等重触发和下一个周期各自独立
func TestTriggerRequestsRandomDelay(t *testing.T) {
	m := newTestManager(t)
	rr := &randomRequester{}
	m.SetRandomSource(rr)

	owner := testAddr(1)
	now := time.Unix(1_700_000_000, 0)
	_, err := m.CreateVault(owner, 90*day, 30*day, now)
	require.NoError(t, err)

	require.NoError(t, m.Trigger(owner, now.Add(90*day)))
	require.Len(t, rr.calls, 1)
	assert.Equal(t, owner, rr.calls[0])

	// 幂等重触发不重复申请
	require.NoError(t, m.Trigger(owner, now.Add(91*day)))
	assert.Len(t, rr.calls, 1)

	// override 回到 ACTIVE 后的下一个周期重新申请
	require.NoError(t, m.Override(owner, owner, now.Add(92*day)))
	require.NoError(t, m.Trigger(owner, now.Add(182*day)))
	assert.Len(t, rr.calls, 2)
}

func TestCreateVaultValidation(t *testing.T) {
	m := newTestManager(t)
	now := time.Unix(1_700_000_000, 0)

	_, err := m.CreateVault("not-an-address", 90*day, 30*day, now)
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	// 阈值低于下界
	_, err = m.CreateVault(testAddr(1), 7*day, 30*day, now)
	assert.ErrorIs(t, err, ErrDurationOutOfBounds)

	// 阈值高于上界
	_, err = m.CreateVault(testAddr(1), 400*day, 30*day, now)
	assert.ErrorIs(t, err, ErrDurationOutOfBounds)

	v, err := m.CreateVault(testAddr(1), 90*day, 30*day, now)
	require.NoError(t, err)
	assert.Equal(t, types.StateActive, v.State)
	assert.Equal(t, now.Unix(), v.LastActivity)

	// 同一 owner 不能重复创建
	_, err = m.CreateVault(testAddr(1), 90*day, 30*day, now)
	assert.ErrorIs(t, err, ErrVaultExists)
}

// 完整生命周期：90 天静默触发，30 天公示期届满后按 60/40 分发
func TestFullLifecycle(t *testing.T) {
	m := newTestManager(t)
	tr := newTransferRecorder()
	m.SetTransfer(tr.fn)

	base := time.Unix(1_700_000_000, 0)
	owner := testAddr(1)
	b1, b2 := testAddr(2), testAddr(3)

	_, err := m.CreateVault(owner, 90*day, 30*day, base)
	require.NoError(t, err)
	require.NoError(t, m.Deposit(owner, owner, "TOKEN", types.AssetFungible, "1000", base))

	shares60 := map[types.AssetClass]uint32{types.AssetFungible: 60}
	shares40 := map[types.AssetClass]uint32{types.AssetFungible: 40}
	require.NoError(t, m.AddBeneficiary(owner, owner, b1, shares60, "", base))
	require.NoError(t, m.AddBeneficiary(owner, owner, b2, shares40, "", base))
	require.NoError(t, m.ApproveBeneficiary(b1, owner))
	require.NoError(t, m.ApproveBeneficiary(b2, owner))

	// 静默未达阈值时触发被拒绝
	assert.ErrorIs(t, m.Trigger(owner, base.Add(89*day)), ErrNotYetInactive)

	trigAt := base.Add(90 * day)
	ok, err := m.CheckTrigger(owner, trigAt)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, m.Trigger(owner, trigAt))

	v, err := m.GetVault(owner)
	require.NoError(t, err)
	assert.Equal(t, types.StateChallengeOpen, v.State)
	assert.Equal(t, "1000", v.BalancesAtTrigger["TOKEN"])

	// 公示期未届满不能执行
	assert.ErrorIs(t, m.Execute(owner, trigAt.Add(29*day)), ErrChallengeNotExpired)

	execAt := trigAt.Add(30 * day)
	require.NoError(t, m.Execute(owner, execAt))

	v, err = m.GetVault(owner)
	require.NoError(t, err)
	assert.Equal(t, types.StateExecuted, v.State)
	assert.Equal(t, "600", tr.received(b1))
	assert.Equal(t, "400", tr.received(b2))
	assert.Equal(t, "0", v.Balances["TOKEN"].Balance)

	exec, err := m.GetExecution(owner)
	require.NoError(t, err)
	require.NotNil(t, exec)
	assert.Equal(t, 0, exec.Unpaid())
}

func TestTriggerAndExecuteIdempotent(t *testing.T) {
	m := newTestManager(t)
	tr := newTransferRecorder()
	m.SetTransfer(tr.fn)

	base := time.Unix(1_700_000_000, 0)
	owner := testAddr(1)
	b1 := testAddr(2)

	_, err := m.CreateVault(owner, 90*day, 30*day, base)
	require.NoError(t, err)
	require.NoError(t, m.Deposit(owner, owner, "TOKEN", types.AssetFungible, "100", base))
	require.NoError(t, m.AddBeneficiary(owner, owner, b1,
		map[types.AssetClass]uint32{types.AssetFungible: 100}, "", base))
	require.NoError(t, m.ApproveBeneficiary(b1, owner))

	trigAt := base.Add(90 * day)
	require.NoError(t, m.Trigger(owner, trigAt))
	// 重复触发是无害的 no-op
	require.NoError(t, m.Trigger(owner, trigAt.Add(time.Hour)))

	execAt := trigAt.Add(30 * day)
	require.NoError(t, m.Execute(owner, execAt))
	// 重复执行不会二次分发
	require.NoError(t, m.Execute(owner, execAt.Add(time.Hour)))
	assert.Equal(t, "100", tr.received(b1))
	assert.Equal(t, 1, tr.calls)
}

func TestOverrideAlwaysWins(t *testing.T) {
	m := newTestManager(t)
	base := time.Unix(1_700_000_000, 0)
	owner := testAddr(1)
	contact := testAddr(9)

	_, err := m.CreateVault(owner, 90*day, 30*day, base)
	require.NoError(t, err)
	require.NoError(t, m.AddEmergencyContact(owner, owner, contact, base))

	// 未触发时 override 无意义
	assert.ErrorIs(t, m.Override(owner, owner, base), ErrChallengeNotOpen)

	trigAt := base.Add(90 * day)
	require.NoError(t, m.Trigger(owner, trigAt))

	// 无关账户不能 override
	assert.ErrorIs(t, m.Override(testAddr(8), owner, trigAt), ErrNotAuthorized)

	// 紧急联系人在公示期最后一刻仍然可以拿回控制权
	lastMoment := trigAt.Add(30*day - time.Second)
	require.NoError(t, m.Override(contact, owner, lastMoment))

	v, err := m.GetVault(owner)
	require.NoError(t, err)
	assert.Equal(t, types.StateActive, v.State)
	assert.Zero(t, v.ChallengeStartedAt)
	assert.Nil(t, v.BalancesAtTrigger)
	// override 后的新周期从头计时
	ok, err := m.CheckTrigger(owner, lastMoment.Add(89*day))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLifeSignDuringChallengeReverts(t *testing.T) {
	m := newTestManager(t)
	base := time.Unix(1_700_000_000, 0)
	owner := testAddr(1)

	_, err := m.CreateVault(owner, 90*day, 30*day, base)
	require.NoError(t, err)
	trigAt := base.Add(90 * day)
	require.NoError(t, m.Trigger(owner, trigAt))

	require.NoError(t, m.RecordActivity(owner, owner, trigAt.Add(day)))
	v, err := m.GetVault(owner)
	require.NoError(t, err)
	assert.Equal(t, types.StateActive, v.State)

	// 只有 owner 的生命信号有效
	assert.ErrorIs(t, m.RecordActivity(testAddr(2), owner, trigAt), ErrNotOwner)
}

func TestWithdrawOnlyWhenActive(t *testing.T) {
	m := newTestManager(t)
	base := time.Unix(1_700_000_000, 0)
	owner := testAddr(1)

	_, err := m.CreateVault(owner, 90*day, 30*day, base)
	require.NoError(t, err)
	require.NoError(t, m.Deposit(owner, owner, "TOKEN", types.AssetFungible, "500", base))

	require.NoError(t, m.Withdraw(owner, owner, "TOKEN", "200", base))
	v, _ := m.GetVault(owner)
	assert.Equal(t, "300", v.Balances["TOKEN"].Balance)

	assert.ErrorIs(t, m.Withdraw(owner, owner, "TOKEN", "9999", base), ErrInsufficientBalance)

	// 第三方存款不刷新活动时间，90 天后仍可触发
	thirdParty := testAddr(7)
	require.NoError(t, m.Deposit(thirdParty, owner, "TOKEN", types.AssetFungible, "50", base.Add(89*day)))
	trigAt := base.Add(90 * day)
	require.NoError(t, m.Trigger(owner, trigAt))

	// 公示期内 owner 不能取款（先 override 拿回控制权）
	assert.ErrorIs(t, m.Withdraw(owner, owner, "TOKEN", "10", trigAt), ErrVaultNotActive)
}

func TestShareValidation(t *testing.T) {
	m := newTestManager(t)
	base := time.Unix(1_700_000_000, 0)
	owner := testAddr(1)

	_, err := m.CreateVault(owner, 90*day, 30*day, base)
	require.NoError(t, err)

	// 单个受益人份额超过 100
	err = m.AddBeneficiary(owner, owner, testAddr(2),
		map[types.AssetClass]uint32{types.AssetFungible: 101}, "", base)
	assert.ErrorIs(t, err, ErrInvalidShare)

	require.NoError(t, m.AddBeneficiary(owner, owner, testAddr(2),
		map[types.AssetClass]uint32{types.AssetFungible: 60}, "", base))

	// 同类别份额之和超过 100
	err = m.AddBeneficiary(owner, owner, testAddr(3),
		map[types.AssetClass]uint32{types.AssetFungible: 50}, "", base)
	assert.ErrorIs(t, err, ErrSharesExceedFull)

	// 不同类别互不影响
	require.NoError(t, m.AddBeneficiary(owner, owner, testAddr(3),
		map[types.AssetClass]uint32{types.AssetNonFungible: 100}, "", base))

	// 重复登记
	err = m.AddBeneficiary(owner, owner, testAddr(2),
		map[types.AssetClass]uint32{types.AssetFungible: 10}, "", base)
	assert.ErrorIs(t, err, ErrDuplicateBeneficiary)

	// owner 不能是自己的受益人
	err = m.AddBeneficiary(owner, owner, owner,
		map[types.AssetClass]uint32{types.AssetFungible: 10}, "", base)
	assert.ErrorIs(t, err, ErrInvalidIdentity)
}

// 公示期内新到的第三方存款不参与本轮分发
func TestDepositDuringChallengeExcludedFromDistribution(t *testing.T) {
	m := newTestManager(t)
	tr := newTransferRecorder()
	m.SetTransfer(tr.fn)

	base := time.Unix(1_700_000_000, 0)
	owner := testAddr(1)
	b1 := testAddr(2)

	_, err := m.CreateVault(owner, 90*day, 30*day, base)
	require.NoError(t, err)
	require.NoError(t, m.Deposit(owner, owner, "TOKEN", types.AssetFungible, "1000", base))
	require.NoError(t, m.AddBeneficiary(owner, owner, b1,
		map[types.AssetClass]uint32{types.AssetFungible: 100}, "", base))
	require.NoError(t, m.ApproveBeneficiary(b1, owner))

	trigAt := base.Add(90 * day)
	require.NoError(t, m.Trigger(owner, trigAt))

	// 第三方在公示期存入 500（owner 自己的存款会撤销公示期）
	require.NoError(t, m.Deposit(testAddr(7), owner, "TOKEN", types.AssetFungible, "500", trigAt.Add(day)))

	require.NoError(t, m.Execute(owner, trigAt.Add(30*day)))
	assert.Equal(t, "1000", tr.received(b1))

	v, _ := m.GetVault(owner)
	// 公示期内的存款留在金库里
	assert.Equal(t, "500", v.Balances["TOKEN"].Balance)
}

func TestExecuteWithoutApprovedBeneficiaries(t *testing.T) {
	m := newTestManager(t)
	base := time.Unix(1_700_000_000, 0)
	owner := testAddr(1)

	_, err := m.CreateVault(owner, 90*day, 30*day, base)
	require.NoError(t, err)
	// 受益人已登记但未确认
	require.NoError(t, m.AddBeneficiary(owner, owner, testAddr(2),
		map[types.AssetClass]uint32{types.AssetFungible: 100}, "", base))

	trigAt := base.Add(90 * day)
	require.NoError(t, m.Trigger(owner, trigAt))

	err = m.Execute(owner, trigAt.Add(30*day))
	assert.ErrorIs(t, err, ErrNoApprovedBeneficiaries)

	// 执行失败时金库停留在公示期，不会误入终态
	v, _ := m.GetVault(owner)
	assert.Equal(t, types.StateChallengeOpen, v.State)
}

func TestActivityAttestationMonotonic(t *testing.T) {
	m := newTestManager(t)
	base := time.Unix(1_700_000_000, 0)
	owner := testAddr(1)

	_, err := m.CreateVault(owner, 90*day, 30*day, base)
	require.NoError(t, err)

	// 陈旧证明不改变状态
	require.NoError(t, m.ApplyActivityAttestation(owner, base.Add(-time.Hour).Unix(), base.Add(day)))
	v, _ := m.GetVault(owner)
	assert.Equal(t, base.Unix(), v.LastActivity)

	// 未来时间戳被限制到 now
	now := base.Add(2 * day)
	require.NoError(t, m.ApplyActivityAttestation(owner, now.Add(365*day).Unix(), now))
	v, _ = m.GetVault(owner)
	assert.Equal(t, now.Unix(), v.LastActivity)

	// 公示期内到来的更新证明自动撤销公示期
	trigAt := now.Add(90 * day)
	require.NoError(t, m.Trigger(owner, trigAt))
	require.NoError(t, m.ApplyActivityAttestation(owner, trigAt.Add(time.Hour).Unix(), trigAt.Add(2*time.Hour)))
	v, _ = m.GetVault(owner)
	assert.Equal(t, types.StateActive, v.State)
}

func TestRandomDelayPostponesExecution(t *testing.T) {
	m := newTestManager(t)
	base := time.Unix(1_700_000_000, 0)
	owner := testAddr(1)
	b1 := testAddr(2)

	_, err := m.CreateVault(owner, 90*day, 30*day, base)
	require.NoError(t, err)
	require.NoError(t, m.AddBeneficiary(owner, owner, b1,
		map[types.AssetClass]uint32{types.AssetFungible: 100}, "", base))
	require.NoError(t, m.ApproveBeneficiary(b1, owner))

	// 公示期未打开时不能附加延迟
	assert.ErrorIs(t, m.ApplyRandomDelay(owner, time.Hour), ErrChallengeNotOpen)

	trigAt := base.Add(90 * day)
	require.NoError(t, m.Trigger(owner, trigAt))
	require.NoError(t, m.ApplyRandomDelay(owner, 6*time.Hour))
	// 每个周期最多一次
	assert.ErrorIs(t, m.ApplyRandomDelay(owner, time.Hour), ErrRandomDelayApplied)

	// 原截止时刻已不可执行
	assert.ErrorIs(t, m.Execute(owner, trigAt.Add(30*day)), ErrChallengeNotExpired)

	st, err := m.Status(owner, trigAt.Add(30*day))
	require.NoError(t, err)
	assert.Equal(t, trigAt.Add(30*day+6*time.Hour).Unix(), st.ExecuteAfter)

	m.SetTransfer(newTransferRecorder().fn)
	require.NoError(t, m.Execute(owner, trigAt.Add(30*day+6*time.Hour)))

	// 延迟超过上界时被裁剪
	owner2 := testAddr(5)
	_, err = m.CreateVault(owner2, 90*day, 30*day, base)
	require.NoError(t, err)
	require.NoError(t, m.Trigger(owner2, base.Add(90*day)))
	require.NoError(t, m.ApplyRandomDelay(owner2, 100*day))
	v, _ := m.GetVault(owner2)
	assert.Equal(t, int64(24*3600), v.RandomDelay)
}

func TestSetDurationsRequireActive(t *testing.T) {
	m := newTestManager(t)
	base := time.Unix(1_700_000_000, 0)
	owner := testAddr(1)

	_, err := m.CreateVault(owner, 90*day, 30*day, base)
	require.NoError(t, err)

	require.NoError(t, m.SetInactivityThreshold(owner, owner, 120*day, base))
	assert.ErrorIs(t, m.SetInactivityThreshold(owner, owner, day, base), ErrDurationOutOfBounds)
	require.NoError(t, m.SetChallengePeriod(owner, owner, 14*day, base))

	trigAt := base.Add(120 * day)
	require.NoError(t, m.Trigger(owner, trigAt))
	assert.ErrorIs(t, m.SetChallengePeriod(owner, owner, 60*day, trigAt), ErrVaultNotActive)
}
