// oracle/oracle.go
// 预言机回调管理器 - 活动查询与随机延迟的异步响应处理
// 响应按 requestID 路由，每个 handler 幂等且与到达顺序无关；
// 绝不把响应当作发起调用的隐式续体
package oracle

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"custody/config"
	"custody/db"
	"custody/logs"
	"custody/types"
	"custody/utils"

	lru "github.com/hashicorp/golang-lru"
)

var (
	ErrUnknownRequest   = errors.New("unknown or expired request id")
	ErrDuplicateRequest = errors.New("request id already registered")
)

// VaultSink 金库侧的回调落点（由 vault.Manager 实现）
type VaultSink interface {
	ApplyActivityAttestation(owner string, ts int64, now time.Time) error
	ApplyRandomDelay(owner string, delay time.Duration) error
}

type pendingRequest struct {
	Owner     string
	CreatedAt time.Time
}

// Manager 预言机回调管理器
// 待定请求持久化，重启后注册表恢复，in-flight 的回调不会丢
type Manager struct {
	cfg    *config.OracleConfig
	db     *db.Manager // 可为 nil（纯内存模式）
	vaults VaultSink

	mu sync.Mutex
	// requestID → 待定请求；LRU 容量即注册表上限，过期请求被 TTL 拦截
	activityReqs *lru.Cache
	randomReqs   *lru.Cache

	// 本地发起请求时的 nonce 计数器，跟 murmur 短哈希一起保证 ID 唯一
	nonceMu sync.Mutex
	nonce   uint64
}

// NewManager 创建回调管理器并从持久层恢复待定请求
func NewManager(cfg *config.OracleConfig, dbMgr *db.Manager, vaults VaultSink) (*Manager, error) {
	if cfg == nil {
		c := config.DefaultConfig()
		cfg = &c.Oracle
	}
	activity, err := lru.New(cfg.RequestCacheSize)
	if err != nil {
		return nil, err
	}
	random, err := lru.New(cfg.RequestCacheSize)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:          cfg,
		db:           dbMgr,
		vaults:       vaults,
		activityReqs: activity,
		randomReqs:   random,
	}
	if err := m.restore(time.Now()); err != nil {
		return nil, err
	}
	return m, nil
}

// restore 重启恢复：重新装载未过期的待定请求，过期的顺手清掉
func (m *Manager) restore(now time.Time) error {
	if m.db == nil {
		return nil
	}
	reqs, err := m.db.ListOracleRequests()
	if err != nil {
		return err
	}
	restored := 0
	for _, req := range reqs {
		created := time.Unix(req.CreatedAt, 0)
		if now.Sub(created) > m.cfg.RequestTTL {
			m.db.DeleteOracleRequest(req.RequestID)
			continue
		}
		pending := &pendingRequest{Owner: req.Owner, CreatedAt: created}
		switch req.Kind {
		case types.OracleReqActivity:
			m.activityReqs.Add(req.RequestID, pending)
		case types.OracleReqRandom:
			m.randomReqs.Add(req.RequestID, pending)
		}
		restored++
	}
	if restored > 0 {
		logs.Info("[Oracle] restored %d pending requests", restored)
	}
	return nil
}

// newRequestID 派生本地发起的请求 ID：keccak(kind | owner | nonce短哈希)
func (m *Manager) newRequestID(kind types.OracleReqKind, owner string, now time.Time) string {
	m.nonceMu.Lock()
	m.nonce++
	n := m.nonce
	m.nonceMu.Unlock()

	nonce := utils.MurmurHash([]byte(strconv.FormatUint(n, 10) + strconv.FormatInt(now.UnixNano(), 10)))
	buf := make([]byte, 0, len(kind)+len(owner)+len(nonce))
	buf = append(buf, string(kind)...)
	buf = append(buf, owner...)
	buf = append(buf, nonce...)
	return utils.KeccakHex(buf)
}

// NewActivityLookup 发起一次链下活动查询，返回等待回调的 requestID
// 结果经 HandleActivityResult 异步送回
func (m *Manager) NewActivityLookup(owner string, now time.Time) (string, error) {
	id := m.newRequestID(types.OracleReqActivity, owner, now)
	if err := m.RegisterActivityLookup(id, owner, now); err != nil {
		return "", err
	}
	logs.Info("[Oracle] activity lookup %s requested for %s", id[:8], owner)
	return id, nil
}

// NewRandomRequest 发起一次随机数请求（实现 vault.RandomnessRequester）
// 金库开窗时调用；延迟值在 HandleRandomResult 回调里才真正落地
func (m *Manager) NewRandomRequest(owner string, now time.Time) (string, error) {
	id := m.newRequestID(types.OracleReqRandom, owner, now)
	if err := m.RegisterRandomRequest(id, owner, now); err != nil {
		return "", err
	}
	logs.Info("[Oracle] random delay %s requested for %s", id[:8], owner)
	return id, nil
}

// RegisterActivityLookup 登记一次链下活动查询
func (m *Manager) RegisterActivityLookup(requestID, owner string, now time.Time) error {
	return m.register(m.activityReqs, types.OracleReqActivity, requestID, owner, now)
}

// RegisterRandomRequest 登记一次随机延迟请求
func (m *Manager) RegisterRandomRequest(requestID, owner string, now time.Time) error {
	return m.register(m.randomReqs, types.OracleReqRandom, requestID, owner, now)
}

func (m *Manager) register(cache *lru.Cache, kind types.OracleReqKind, requestID, owner string, now time.Time) error {
	if requestID == "" || owner == "" {
		return ErrUnknownRequest
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cache.Contains(requestID) {
		return ErrDuplicateRequest
	}
	cache.Add(requestID, &pendingRequest{Owner: owner, CreatedAt: now})
	if m.db != nil {
		if err := m.db.SaveOracleRequest(&types.OracleRequest{
			RequestID: requestID,
			Owner:     owner,
			Kind:      kind,
			CreatedAt: now.Unix(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// take 取出并注销一个待定请求；过期或未知返回 nil
// 取出即注销：同一 requestID 的重复回调自然变成 no-op
func (m *Manager) take(cache *lru.Cache, requestID string, now time.Time) *pendingRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := cache.Get(requestID)
	if !ok {
		return nil
	}
	cache.Remove(requestID)
	if m.db != nil {
		m.db.DeleteOracleRequest(requestID)
	}
	req := val.(*pendingRequest)
	if now.Sub(req.CreatedAt) > m.cfg.RequestTTL {
		logs.Verbose("[Oracle] request %s expired", requestID)
		return nil
	}
	return req
}

// HandleActivityResult 活动查询回调
// lookupErr 非空表示预言机侧出错，直接忽略（时间戳单调规则保证
// 忽略不会造成任何状态倒退）
func (m *Manager) HandleActivityResult(requestID string, ts int64, lookupErr string, now time.Time) error {
	req := m.take(m.activityReqs, requestID, now)
	if req == nil {
		// 未知/过期/重复的回调：静默跳过
		return nil
	}
	if lookupErr != "" {
		logs.Warn("[Oracle] activity lookup %s errored: %s", requestID, lookupErr)
		return nil
	}
	return m.vaults.ApplyActivityAttestation(req.Owner, ts, now)
}

// HandleRandomResult 随机数回调：换算成一次性前向延迟
// 上界裁剪和"每周期最多一次"由金库侧守卫保证
func (m *Manager) HandleRandomResult(requestID string, randomValue uint64, maxDelay time.Duration, now time.Time) error {
	req := m.take(m.randomReqs, requestID, now)
	if req == nil {
		return nil
	}
	if maxDelay <= 0 {
		return nil
	}
	// 不足一秒的上界会把模数取成 0，退化为零延迟
	steps := uint64(maxDelay / time.Second)
	if steps == 0 {
		return m.vaults.ApplyRandomDelay(req.Owner, 0)
	}
	delay := time.Duration(randomValue%steps) * time.Second
	return m.vaults.ApplyRandomDelay(req.Owner, delay)
}
