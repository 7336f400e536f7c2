package oracle

import (
	"testing"
	"time"

	"custody/config"
	"custody/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink 记录转发到金库侧的回调
type fakeSink struct {
	atts   []int64
	delays []time.Duration
}

func (f *fakeSink) ApplyActivityAttestation(owner string, ts int64, now time.Time) error {
	f.atts = append(f.atts, ts)
	return nil
}

func (f *fakeSink) ApplyRandomDelay(owner string, delay time.Duration) error {
	f.delays = append(f.delays, delay)
	return nil
}

func newTestOracle(t *testing.T) (*Manager, *fakeSink) {
	t.Helper()
	cfg := config.DefaultConfig()
	sink := &fakeSink{}
	m, err := NewManager(&cfg.Oracle, nil, sink)
	require.NoError(t, err)
	return m, sink
}

func TestActivityCallbackRoundtrip(t *testing.T) {
	m, sink := newTestOracle(t)
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, m.RegisterActivityLookup("req-1", "0xowner", now))
	// 同一 requestID 不能重复登记
	assert.ErrorIs(t, m.RegisterActivityLookup("req-1", "0xowner", now), ErrDuplicateRequest)

	require.NoError(t, m.HandleActivityResult("req-1", now.Unix(), "", now.Add(time.Minute)))
	require.Len(t, sink.atts, 1)
	assert.Equal(t, now.Unix(), sink.atts[0])

	// 重复回调是 no-op（取出即注销）
	require.NoError(t, m.HandleActivityResult("req-1", now.Unix(), "", now.Add(2*time.Minute)))
	assert.Len(t, sink.atts, 1)
}

func TestUnknownAndExpiredCallbacksIgnored(t *testing.T) {
	m, sink := newTestOracle(t)
	now := time.Unix(1_700_000_000, 0)

	// 从未登记过的 requestID
	require.NoError(t, m.HandleActivityResult("ghost", now.Unix(), "", now))
	assert.Empty(t, sink.atts)

	// 超过 TTL 的回调被忽略
	require.NoError(t, m.RegisterActivityLookup("req-1", "0xowner", now))
	late := now.Add(25 * time.Hour)
	require.NoError(t, m.HandleActivityResult("req-1", now.Unix(), "", late))
	assert.Empty(t, sink.atts)
}

func TestErroredLookupIgnored(t *testing.T) {
	m, sink := newTestOracle(t)
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, m.RegisterActivityLookup("req-1", "0xowner", now))
	require.NoError(t, m.HandleActivityResult("req-1", now.Unix(), "upstream timeout", now))
	assert.Empty(t, sink.atts)

	// 出错的回调也消耗掉请求，之后的成功回调不再被接受
	require.NoError(t, m.HandleActivityResult("req-1", now.Unix(), "", now))
	assert.Empty(t, sink.atts)
}

func TestRandomCallbackDerivesBoundedDelay(t *testing.T) {
	m, sink := newTestOracle(t)
	now := time.Unix(1_700_000_000, 0)
	maxDelay := 24 * time.Hour

	require.NoError(t, m.RegisterRandomRequest("rand-1", "0xowner", now))
	require.NoError(t, m.HandleRandomResult("rand-1", 1_000_003, maxDelay, now))
	require.Len(t, sink.delays, 1)

	want := time.Duration(1_000_003%uint64(maxDelay/time.Second)) * time.Second
	assert.Equal(t, want, sink.delays[0])
	assert.Less(t, sink.delays[0], maxDelay)

	// 重复回调不产生第二次延迟
	require.NoError(t, m.HandleRandomResult("rand-1", 42, maxDelay, now))
	assert.Len(t, sink.delays, 1)
}

// 本地发起的请求走派生 ID，回调按常规路径路由
func TestLocalRequestEntryPoints(t *testing.T) {
	m, sink := newTestOracle(t)
	now := time.Unix(1_700_000_000, 0)

	actID, err := m.NewActivityLookup("0xowner", now)
	require.NoError(t, err)
	randID, err := m.NewRandomRequest("0xowner", now)
	require.NoError(t, err)
	assert.NotEqual(t, actID, randID)

	require.NoError(t, m.HandleActivityResult(actID, now.Unix(), "", now))
	assert.Len(t, sink.atts, 1)
	require.NoError(t, m.HandleRandomResult(randID, 7, 24*time.Hour, now))
	require.Len(t, sink.delays, 1)
	assert.Equal(t, 7*time.Second, sink.delays[0])
}

// 不足一秒的延迟上界退化为零延迟，而不是除零
func TestSubSecondMaxDelayDegradesToZero(t *testing.T) {
	m, sink := newTestOracle(t)
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, m.RegisterRandomRequest("rand-1", "0xowner", now))
	require.NoError(t, m.HandleRandomResult("rand-1", 12345, 500*time.Millisecond, now))
	require.Len(t, sink.delays, 1)
	assert.Equal(t, time.Duration(0), sink.delays[0])
}

// 待定请求落盘，重启后的管理器仍然接受 in-flight 的回调
func TestPendingRequestsSurviveRestart(t *testing.T) {
	dbMgr, err := db.NewManager(&config.DBConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(dbMgr.Close)

	cfg := config.DefaultConfig()
	sink := &fakeSink{}
	now := time.Unix(1_700_000_000, 0)

	m1, err := NewManager(&cfg.Oracle, dbMgr, sink)
	require.NoError(t, err)
	require.NoError(t, m1.RegisterActivityLookup("req-1", "0xowner", now))
	require.NoError(t, dbMgr.ForceFlush())

	// 同一个 db 上重建管理器，相当于节点重启
	m2, err := NewManager(&cfg.Oracle, dbMgr, sink)
	require.NoError(t, err)
	require.NoError(t, m2.HandleActivityResult("req-1", now.Unix(), "", now.Add(time.Minute)))
	assert.Len(t, sink.atts, 1)

	// 消费后注销也持久化了，第三次重启不再恢复
	require.NoError(t, dbMgr.ForceFlush())
	m3, err := NewManager(&cfg.Oracle, dbMgr, sink)
	require.NoError(t, err)
	require.NoError(t, m3.HandleActivityResult("req-1", now.Unix(), "", now.Add(2*time.Minute)))
	assert.Len(t, sink.atts, 1)
}
