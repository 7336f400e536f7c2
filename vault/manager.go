// vault/manager.go
// 金库管理器 - 生命周期状态机的唯一变更入口
// 同一金库的状态变更严格串行（每金库一把锁）；不同金库互不影响
package vault

import (
	"fmt"
	"sync"
	"time"

	"custody/config"
	"custody/db"
	"custody/logs"
	"custody/types"

	"github.com/dgraph-io/badger/v2"
)

// Manager 金库管理器
type Manager struct {
	db  *db.Manager
	cfg *config.VaultConfig

	// 当前节点所属结算域，受益人 preferredDomain 等于它时走本地转账
	domain string

	// 外部协作者（不透明）
	transfer TransferFunc
	sender   SettlementSender
	random   RandomnessRequester

	// 每金库一把锁；锁表本身用 mu 保护
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager 创建金库管理器
func NewManager(dbMgr *db.Manager, cfg *config.VaultConfig, domain string) *Manager {
	if cfg == nil {
		c := config.DefaultConfig()
		cfg = &c.Vault
	}
	return &Manager{
		db:     dbMgr,
		cfg:    cfg,
		domain: domain,
		locks:  make(map[string]*sync.Mutex),
	}
}

// SetTransfer 注入本地转账原语
func (m *Manager) SetTransfer(fn TransferFunc) { m.transfer = fn }

// SetSender 注入跨域结算发送方（网关）
func (m *Manager) SetSender(s SettlementSender) { m.sender = s }

// SetRandomSource 注入随机延迟请求方（预言机）
func (m *Manager) SetRandomSource(r RandomnessRequester) { m.random = r }

// lockVault 取该金库的锁（不存在则创建）
func (m *Manager) lockVault(owner string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[owner]
	if !ok {
		l = &sync.Mutex{}
		m.locks[owner] = l
	}
	return l
}

// load 读取金库记录
func (m *Manager) load(owner string) (*types.Vault, error) {
	v, err := m.db.GetVault(owner)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, ErrVaultNotFound
		}
		return nil, err
	}
	return v, nil
}

// persist 保存并同步落盘；守卫全部通过后才会走到这里
func (m *Manager) persist(v *types.Vault) error {
	if err := m.db.SaveVault(v); err != nil {
		return err
	}
	return m.db.ForceFlush()
}

// ===================== 创建与存取 =====================

// CreateVault 创建金库；每个 owner 只能有一个
func (m *Manager) CreateVault(owner string, threshold, challenge time.Duration, now time.Time) (*types.Vault, error) {
	if !isAddress(owner) {
		return nil, ErrInvalidIdentity
	}
	if threshold < m.cfg.MinInactivityThreshold || threshold > m.cfg.MaxInactivityThreshold {
		return nil, ErrDurationOutOfBounds
	}
	if challenge <= 0 || challenge > m.cfg.MaxChallengePeriod {
		return nil, ErrDurationOutOfBounds
	}

	l := m.lockVault(owner)
	l.Lock()
	defer l.Unlock()

	if m.db.HasVault(owner) {
		return nil, ErrVaultExists
	}

	v := &types.Vault{
		Owner:               owner,
		State:               types.StateActive,
		InactivityThreshold: threshold,
		ChallengePeriod:     challenge,
		LastActivity:        now.Unix(),
		Balances:            make(map[string]*types.AssetRecord),
		CreatedAt:           now.Unix(),
	}
	if err := m.persist(v); err != nil {
		return nil, err
	}
	logs.Info("[Vault] created vault for %s threshold=%s challenge=%s", owner, threshold, challenge)
	return v, nil
}

// GetVault 读取金库（返回的是存储里的副本，改它不影响状态）
func (m *Manager) GetVault(owner string) (*types.Vault, error) {
	return m.load(owner)
}

// ===================== 活动与存取款 =====================

// RecordActivity owner 发送生命信号
// 公示期内收到生命信号等价于 override：金库拨回 ACTIVE
func (m *Manager) RecordActivity(caller, owner string, now time.Time) error {
	l := m.lockVault(owner)
	l.Lock()
	defer l.Unlock()

	v, err := m.load(owner)
	if err != nil {
		return err
	}
	if caller != v.Owner {
		return ErrNotOwner
	}
	if v.State == types.StateExecuted {
		// 执行后的金库永久关闭，生命信号救不回来，要开新金库
		return ErrVaultClosed
	}

	recordActivity(v, now.Unix())
	if v.State == types.StateChallengeOpen {
		m.revertToActive(v, "life sign during challenge window")
	}
	return m.persist(v)
}

// Deposit 存入资产
// owner 自己的存款同时刷新活动时间；第三方存款不刷新
func (m *Manager) Deposit(caller, owner, assetID string, class types.AssetClass, amount string, now time.Time) error {
	if assetID == "" {
		return ErrInvalidAmount
	}
	if !isAssetClass(class) {
		return ErrInvalidAssetClass
	}
	amt, err := ParseBalance(amount)
	if err != nil || amt.Sign() <= 0 {
		return ErrInvalidAmount
	}

	l := m.lockVault(owner)
	l.Lock()
	defer l.Unlock()

	v, err := m.load(owner)
	if err != nil {
		return err
	}
	if v.State == types.StateExecuted {
		return ErrVaultClosed
	}

	rec, ok := v.Balances[assetID]
	if !ok {
		rec = &types.AssetRecord{AssetID: assetID, Class: class, Balance: "0"}
		v.Balances[assetID] = rec
	} else if rec.Class != class {
		return ErrInvalidAssetClass
	}

	newBal, err := SafeAdd(ParseBalanceOrZero(rec.Balance), amt)
	if err != nil {
		return err
	}
	rec.Balance = newBal.String()

	if caller == v.Owner {
		recordActivity(v, now.Unix())
		if v.State == types.StateChallengeOpen {
			m.revertToActive(v, "owner deposit during challenge window")
		}
	}
	logs.Verbose("[Vault] deposit %s %s into %s", amount, assetID, owner)
	return m.persist(v)
}

// Withdraw owner 取回资产，仅限 ACTIVE；同时刷新活动时间
func (m *Manager) Withdraw(caller, owner, assetID, amount string, now time.Time) error {
	amt, err := ParseBalance(amount)
	if err != nil || amt.Sign() <= 0 {
		return ErrInvalidAmount
	}

	l := m.lockVault(owner)
	l.Lock()
	defer l.Unlock()

	v, err := m.load(owner)
	if err != nil {
		return err
	}
	if caller != v.Owner {
		return ErrNotOwner
	}
	if v.State != types.StateActive {
		return ErrVaultNotActive
	}

	rec, ok := v.Balances[assetID]
	if !ok {
		return ErrInsufficientBalance
	}
	newBal, err := SafeSub(ParseBalanceOrZero(rec.Balance), amt)
	if err != nil {
		return ErrInsufficientBalance
	}
	rec.Balance = newBal.String()

	recordActivity(v, now.Unix())
	return m.persist(v)
}

// CreditAsset 跨域结算入账（网关调用，已完成去重）
// 不刷新活动时间：别的域汇来的钱不代表 owner 活着
func (m *Manager) CreditAsset(owner, assetID string, class types.AssetClass, amount string) error {
	amt, err := ParseBalance(amount)
	if err != nil || amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !isAssetClass(class) {
		return ErrInvalidAssetClass
	}

	l := m.lockVault(owner)
	l.Lock()
	defer l.Unlock()

	v, err := m.load(owner)
	if err != nil {
		return err
	}

	rec, ok := v.Balances[assetID]
	if !ok {
		rec = &types.AssetRecord{AssetID: assetID, Class: class, Balance: "0"}
		v.Balances[assetID] = rec
	}
	newBal, err := SafeAdd(ParseBalanceOrZero(rec.Balance), amt)
	if err != nil {
		return err
	}
	rec.Balance = newBal.String()
	logs.Info("[Vault] settlement credit %s %s -> %s", amount, assetID, owner)
	return m.persist(v)
}

// ===================== 受益人管理 =====================

// AddBeneficiary owner 登记受益人，初始未确认
func (m *Manager) AddBeneficiary(caller, owner, addr string, shares map[types.AssetClass]uint32, preferredDomain string, now time.Time) error {
	if !isAddress(addr) || addr == owner {
		return ErrInvalidIdentity
	}
	if len(shares) == 0 {
		return ErrInvalidShare
	}
	for class, pct := range shares {
		if !isAssetClass(class) {
			return ErrInvalidAssetClass
		}
		if pct > 100 {
			return ErrInvalidShare
		}
	}

	l := m.lockVault(owner)
	l.Lock()
	defer l.Unlock()

	v, err := m.load(owner)
	if err != nil {
		return err
	}
	if caller != v.Owner {
		return ErrNotOwner
	}
	if v.State != types.StateActive {
		return ErrVaultNotActive
	}
	if len(v.Beneficiaries) >= m.cfg.MaxBeneficiaries {
		return ErrTooManyBeneficiaries
	}
	if v.FindBeneficiary(addr) >= 0 {
		return ErrDuplicateBeneficiary
	}

	// 每个资产类别上所有受益人的份额之和不能超过 100
	for class, pct := range shares {
		total := pct
		for _, b := range v.Beneficiaries {
			total += b.SharesByClass[class]
		}
		if total > 100 {
			return ErrSharesExceedFull
		}
	}

	v.Beneficiaries = append(v.Beneficiaries, &types.Beneficiary{
		Address:         addr,
		SharesByClass:   shares,
		Approved:        false,
		PreferredDomain: preferredDomain,
		AddedAt:         now.Unix(),
	})
	recordActivity(v, now.Unix())
	logs.Info("[Vault] beneficiary %s added to %s", addr, owner)
	return m.persist(v)
}

// ApproveBeneficiary 受益人本人确认；确认前不会收到任何分发
func (m *Manager) ApproveBeneficiary(caller, owner string) error {
	l := m.lockVault(owner)
	l.Lock()
	defer l.Unlock()

	v, err := m.load(owner)
	if err != nil {
		return err
	}
	idx := v.FindBeneficiary(caller)
	if idx < 0 {
		return ErrUnknownBeneficiary
	}
	if v.Beneficiaries[idx].Approved {
		// 重复确认是无害的幂等操作
		return nil
	}
	v.Beneficiaries[idx].Approved = true
	logs.Info("[Vault] beneficiary %s approved on %s", caller, owner)
	return m.persist(v)
}

// RemoveBeneficiary owner 移除受益人，仅限 ACTIVE（分发开始后冻结）
// O(1) 交换删除，剩余受益人的顺序不保证
func (m *Manager) RemoveBeneficiary(caller, owner, addr string, now time.Time) error {
	l := m.lockVault(owner)
	l.Lock()
	defer l.Unlock()

	v, err := m.load(owner)
	if err != nil {
		return err
	}
	if caller != v.Owner {
		return ErrNotOwner
	}
	if v.State != types.StateActive {
		return ErrVaultNotActive
	}
	idx := v.FindBeneficiary(addr)
	if idx < 0 {
		return ErrUnknownBeneficiary
	}

	last := len(v.Beneficiaries) - 1
	v.Beneficiaries[idx] = v.Beneficiaries[last]
	v.Beneficiaries = v.Beneficiaries[:last]
	recordActivity(v, now.Unix())
	return m.persist(v)
}

// ===================== 紧急联系人与参数 =====================

// AddEmergencyContact 添加紧急联系人（可代 owner 在公示期 override）
func (m *Manager) AddEmergencyContact(caller, owner, contact string, now time.Time) error {
	if !isAddress(contact) || contact == owner {
		return ErrInvalidIdentity
	}

	l := m.lockVault(owner)
	l.Lock()
	defer l.Unlock()

	v, err := m.load(owner)
	if err != nil {
		return err
	}
	if caller != v.Owner {
		return ErrNotOwner
	}
	if v.State != types.StateActive {
		return ErrVaultNotActive
	}
	if v.IsEmergencyContact(contact) {
		return nil
	}
	if len(v.EmergencyContacts) >= m.cfg.MaxEmergencyContacts {
		return ErrTooManyContacts
	}
	v.EmergencyContacts = append(v.EmergencyContacts, contact)
	recordActivity(v, now.Unix())
	return m.persist(v)
}

// RemoveEmergencyContact 移除紧急联系人
func (m *Manager) RemoveEmergencyContact(caller, owner, contact string, now time.Time) error {
	l := m.lockVault(owner)
	l.Lock()
	defer l.Unlock()

	v, err := m.load(owner)
	if err != nil {
		return err
	}
	if caller != v.Owner {
		return ErrNotOwner
	}
	if v.State != types.StateActive {
		return ErrVaultNotActive
	}
	for i, c := range v.EmergencyContacts {
		if c == contact {
			v.EmergencyContacts = append(v.EmergencyContacts[:i], v.EmergencyContacts[i+1:]...)
			recordActivity(v, now.Unix())
			return m.persist(v)
		}
	}
	return ErrUnknownBeneficiary
}

// SetInactivityThreshold 调整不活跃阈值，边界 [30d, 365d]
func (m *Manager) SetInactivityThreshold(caller, owner string, d time.Duration, now time.Time) error {
	if d < m.cfg.MinInactivityThreshold || d > m.cfg.MaxInactivityThreshold {
		return ErrDurationOutOfBounds
	}
	return m.setDuration(caller, owner, now, func(v *types.Vault) {
		v.InactivityThreshold = d
	})
}

// SetChallengePeriod 调整挑战期，任意正时长（上界防呆）
func (m *Manager) SetChallengePeriod(caller, owner string, d time.Duration, now time.Time) error {
	if d <= 0 || d > m.cfg.MaxChallengePeriod {
		return ErrDurationOutOfBounds
	}
	return m.setDuration(caller, owner, now, func(v *types.Vault) {
		v.ChallengePeriod = d
	})
}

func (m *Manager) setDuration(caller, owner string, now time.Time, apply func(*types.Vault)) error {
	l := m.lockVault(owner)
	l.Lock()
	defer l.Unlock()

	v, err := m.load(owner)
	if err != nil {
		return err
	}
	if caller != v.Owner {
		return ErrNotOwner
	}
	if v.State != types.StateActive {
		return ErrVaultNotActive
	}
	apply(v)
	recordActivity(v, now.Unix())
	return m.persist(v)
}

// ===================== 生命周期转移 =====================

// CheckTrigger 只读探针：触发守卫当前是否满足
// watcher 轮询用；真正的变更调用 Trigger 时会重新检查
func (m *Manager) CheckTrigger(owner string, now time.Time) (bool, error) {
	v, err := m.load(owner)
	if err != nil {
		return false, err
	}
	return v.State == types.StateActive &&
		timeSinceLastActivity(v, now) >= v.InactivityThreshold, nil
}

// Trigger ACTIVE → CHALLENGE_OPEN
// 一步完成"标记不活跃 + 打开公示窗口"；重复调用是无害的幂等 no-op
func (m *Manager) Trigger(owner string, now time.Time) error {
	l := m.lockVault(owner)
	l.Lock()
	defer l.Unlock()

	v, err := m.load(owner)
	if err != nil {
		return err
	}
	switch v.State {
	case types.StateChallengeOpen, types.StateExecuted:
		// 已触发/已执行：幂等跳过
		return nil
	case types.StateActive:
		// 守卫必须在持锁状态下重新检查，绝不信任之前的探针结果
		if timeSinceLastActivity(v, now) < v.InactivityThreshold {
			return ErrNotYetInactive
		}
	}
	if !isTransitionAllowed(v.State, types.StateChallengeOpen) {
		return ErrVaultNotActive
	}

	v.State = types.StateChallengeOpen
	v.ChallengeStartedAt = now.Unix()
	// 触发时刻的余额快照：公示期内的新存款不参与本轮分发
	v.BalancesAtTrigger = make(map[string]string, len(v.Balances))
	for id, rec := range v.Balances {
		v.BalancesAtTrigger[id] = rec.Balance
	}
	if err := m.persist(v); err != nil {
		return err
	}
	logs.Info("[Vault] %s triggered, challenge window open until %d", owner, executeAfter(v))

	// 开窗即申请本周期的随机延迟；申请失败不影响触发本身，
	// 回调缺席时执行截止仍是 challengeStartedAt + challengePeriod
	if m.random != nil {
		if _, err := m.random.NewRandomRequest(owner, now); err != nil {
			logs.Warn("[Vault] random delay request for %s failed: %v", owner, err)
		}
	}
	return nil
}

// Override CHALLENGE_OPEN → ACTIVE
// owner 或紧急联系人随时可以在执行前拿回控制权，没有冷却
func (m *Manager) Override(caller, owner string, now time.Time) error {
	l := m.lockVault(owner)
	l.Lock()
	defer l.Unlock()

	v, err := m.load(owner)
	if err != nil {
		return err
	}
	if v.State != types.StateChallengeOpen {
		return ErrChallengeNotOpen
	}
	if caller != v.Owner && !v.IsEmergencyContact(caller) {
		return ErrNotAuthorized
	}

	recordActivity(v, now.Unix())
	m.revertToActive(v, fmt.Sprintf("override by %s", caller))
	return m.persist(v)
}

// revertToActive 撤销公示期回到 ACTIVE（调用方负责持锁和持久化）
// 随机延迟一并清零：下一个周期重新申请
func (m *Manager) revertToActive(v *types.Vault, reason string) {
	v.State = types.StateActive
	v.ChallengeStartedAt = 0
	v.BalancesAtTrigger = nil
	v.RandomDelay = 0
	v.RandomDelayApplied = false
	logs.Info("[Vault] %s reverted to active: %s", v.Owner, reason)
}

// ApplyRandomDelay 预言机回调：给执行截止时刻附加一次性随机延迟
// 只会后移，每个公示周期最多一次
func (m *Manager) ApplyRandomDelay(owner string, delay time.Duration) error {
	if delay < 0 {
		return ErrInvalidAmount
	}
	if delay > m.cfg.MaxRandomDelay {
		delay = m.cfg.MaxRandomDelay
	}

	l := m.lockVault(owner)
	l.Lock()
	defer l.Unlock()

	v, err := m.load(owner)
	if err != nil {
		return err
	}
	if v.State != types.StateChallengeOpen {
		return ErrChallengeNotOpen
	}
	if v.RandomDelayApplied {
		return ErrRandomDelayApplied
	}
	v.RandomDelay = int64(delay / time.Second)
	v.RandomDelayApplied = true
	logs.Info("[Vault] %s execution delayed by %s", owner, delay)
	return m.persist(v)
}

// ApplyActivityAttestation 跨域/预言机活动证明
// 时间戳单调更新；公示期内到来的更新证明自动把金库拨回 ACTIVE
// （防止 owner 在别的域明明活跃却被执行。去重和验签在网关层已完成）
func (m *Manager) ApplyActivityAttestation(owner string, ts int64, now time.Time) error {
	l := m.lockVault(owner)
	l.Lock()
	defer l.Unlock()

	v, err := m.load(owner)
	if err != nil {
		return err
	}
	if v.State == types.StateExecuted {
		// 执行已经落地，迟到的证明只做记录
		logs.Warn("[Vault] late attestation for executed vault %s", owner)
		return nil
	}

	advanced := recordActivity(v, clampTimestamp(ts, now))
	if !advanced {
		// 陈旧或重复的证明：无变化
		return nil
	}
	if v.State == types.StateChallengeOpen {
		m.revertToActive(v, "newer cross-domain activity attestation")
	}
	return m.persist(v)
}

// CheckExecute 只读探针：执行守卫当前是否满足
func (m *Manager) CheckExecute(owner string, now time.Time) (bool, error) {
	v, err := m.load(owner)
	if err != nil {
		return false, err
	}
	return v.State == types.StateChallengeOpen && now.Unix() >= executeAfter(v), nil
}

// Execute CHALLENGE_OPEN → EXECUTED，分发引擎只会跑这一次
// 已执行的金库重复调用是幂等 no-op
func (m *Manager) Execute(owner string, now time.Time) error {
	l := m.lockVault(owner)
	l.Lock()
	defer l.Unlock()

	v, err := m.load(owner)
	if err != nil {
		return err
	}
	if v.State == types.StateExecuted {
		return nil
	}
	if v.State != types.StateChallengeOpen {
		return ErrChallengeNotOpen
	}
	// 守卫在持锁状态下重新检查
	if now.Unix() < executeAfter(v) {
		return ErrChallengeNotExpired
	}
	if !isTransitionAllowed(v.State, types.StateExecuted) {
		return ErrChallengeNotOpen
	}

	exec, err := m.planDistribution(v, now)
	if err != nil {
		return err
	}

	// 先把状态机拨到终态并落盘，再跑外部转账：
	// 外部调用不可能重入改写生命周期
	v.State = types.StateExecuted
	if err := m.db.SaveExecution(exec); err != nil {
		return err
	}
	if err := m.persist(v); err != nil {
		return err
	}

	m.runDistribution(v, exec)
	logs.Info("[Vault] %s executed, %d beneficiaries, %d unpaid", owner, len(exec.Payouts), exec.Unpaid())
	return nil
}

// Resume 断点续付：仅限已执行且仍有未付受益人的金库
// 已成功的转账不会重复执行
func (m *Manager) Resume(owner string, now time.Time) error {
	l := m.lockVault(owner)
	l.Lock()
	defer l.Unlock()

	v, err := m.load(owner)
	if err != nil {
		return err
	}
	if v.State != types.StateExecuted {
		return ErrVaultClosed
	}
	exec, err := m.db.GetExecution(owner)
	if err != nil {
		return err
	}
	if exec == nil || exec.Unpaid() == 0 {
		return ErrNothingToResume
	}

	m.runDistribution(v, exec)
	logs.Info("[Vault] %s distribution resumed, %d still unpaid", owner, exec.Unpaid())
	return nil
}

// ===================== 只读接口 =====================

// Status 给 watcher 的只读状态
func (m *Manager) Status(owner string, now time.Time) (*types.InactivityStatus, error) {
	v, err := m.load(owner)
	if err != nil {
		return nil, err
	}

	st := &types.InactivityStatus{
		Owner:        v.Owner,
		State:        v.State,
		LastActivity: v.LastActivity,
	}
	switch v.State {
	case types.StateActive:
		// 下一个值得轮询的时刻：静默达到阈值的时间点
		st.NextCheckTime = v.LastActivity + int64(v.InactivityThreshold/time.Second)
		st.Triggered = timeSinceLastActivity(v, now) >= v.InactivityThreshold
	case types.StateChallengeOpen:
		st.Triggered = true
		st.TriggeredAt = v.ChallengeStartedAt
		st.ExecuteAfter = executeAfter(v)
		st.NextCheckTime = st.ExecuteAfter
	case types.StateExecuted:
		st.TriggeredAt = v.ChallengeStartedAt
		st.ExecuteAfter = executeAfter(v)
	}
	return st, nil
}

// GetExecution 读取分发执行记录
func (m *Manager) GetExecution(owner string) (*types.Execution, error) {
	return m.db.GetExecution(owner)
}

// ListOwners 所有金库 owner（watcher 全量轮询用）
func (m *Manager) ListOwners() ([]string, error) {
	return m.db.ListVaultOwners()
}

// ===================== 内部校验 =====================

func isAssetClass(c types.AssetClass) bool {
	switch c {
	case types.AssetFungible, types.AssetNonFungible, types.AssetSemiFungible, types.AssetCustom:
		return true
	}
	return false
}
