package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"custody/config"
	"custody/db"
	"custody/gateway"
	"custody/oracle"
	"custody/types"
	"custody/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testNode 暴露测试里需要直接操作的后端模块
type testNode struct {
	db     *db.Manager
	vaults *vault.Manager
}

func newTestServer(t *testing.T) (*httptest.Server, *testNode) {
	t.Helper()
	dbMgr, err := db.NewManager(&config.DBConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(dbMgr.Close)

	cfg := config.DefaultConfig()
	cfg.Domain = "domain-a"

	vaultMgr := vault.NewManager(dbMgr, &cfg.Vault, cfg.Domain)
	gw, err := gateway.NewGateway(dbMgr, &cfg.Gateway, cfg.Domain, cfg.Domain, vaultMgr)
	require.NoError(t, err)
	vaultMgr.SetSender(gw)
	oracleMgr, err := oracle.NewManager(&cfg.Oracle, dbMgr, vaultMgr)
	require.NoError(t, err)
	vaultMgr.SetRandomSource(oracleMgr)

	hm := NewHandlerManager(dbMgr, vaultMgr, gw, oracleMgr, cfg)
	mux := http.NewServeMux()
	hm.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &testNode{db: dbMgr, vaults: vaultMgr}
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCreateAndGetVaultOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	owner := fmt.Sprintf("0x%040x", 1)

	resp := postJSON(t, srv, "/vault/create", map[string]interface{}{
		"owner":                  owner,
		"inactivityThresholdSec": 90 * 24 * 3600,
		"challengePeriodSec":     30 * 24 * 3600,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created types.Vault
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, owner, created.Owner)
	assert.Equal(t, types.StateActive, created.State)

	// 重复创建 → 409
	resp = postJSON(t, srv, "/vault/create", map[string]interface{}{
		"owner":                  owner,
		"inactivityThresholdSec": 90 * 24 * 3600,
		"challengePeriodSec":     30 * 24 * 3600,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// 非法地址 → 400
	resp = postJSON(t, srv, "/vault/create", map[string]interface{}{
		"owner":                  "garbage",
		"inactivityThresholdSec": 90 * 24 * 3600,
		"challengePeriodSec":     30 * 24 * 3600,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// 读回
	getResp, err := http.Get(srv.URL + "/vault/get?owner=" + owner)
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)

	// 不存在的金库 → 404
	missing, err := http.Get(srv.URL + "/vault/get?owner=" + fmt.Sprintf("0x%040x", 99))
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestDepositAndStatusOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	owner := fmt.Sprintf("0x%040x", 1)

	resp := postJSON(t, srv, "/vault/create", map[string]interface{}{
		"owner":                  owner,
		"inactivityThresholdSec": 90 * 24 * 3600,
		"challengePeriodSec":     30 * 24 * 3600,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, srv, "/vault/deposit", map[string]interface{}{
		"caller":  owner,
		"owner":   owner,
		"assetId": "TOKEN",
		"class":   types.AssetFungible,
		"amount":  "1000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// 金额非法 → 400
	resp = postJSON(t, srv, "/vault/deposit", map[string]interface{}{
		"caller":  owner,
		"owner":   owner,
		"assetId": "TOKEN",
		"class":   types.AssetFungible,
		"amount":  "-5",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	balResp, err := http.Get(srv.URL + "/vault/balances?owner=" + owner)
	require.NoError(t, err)
	defer balResp.Body.Close()
	require.Equal(t, http.StatusOK, balResp.StatusCode)
	var balances map[string]*types.AssetRecord
	require.NoError(t, json.NewDecoder(balResp.Body).Decode(&balances))
	assert.Equal(t, "1000", balances["TOKEN"].Balance)

	// 守卫未满足时触发 → 409
	resp = postJSON(t, srv, "/vault/trigger", map[string]interface{}{"owner": owner})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	stResp, err := http.Get(srv.URL + "/vault/status?owner=" + owner)
	require.NoError(t, err)
	defer stResp.Body.Close()
	require.Equal(t, http.StatusOK, stResp.StatusCode)
	var st types.InactivityStatus
	require.NoError(t, json.NewDecoder(stResp.Body).Decode(&st))
	assert.Equal(t, types.StateActive, st.State)
	assert.False(t, st.Triggered)

	// GET 打到只接受 POST 的路由 → 405
	getOnPost, err := http.Get(srv.URL + "/vault/trigger")
	require.NoError(t, err)
	defer getOnPost.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, getOnPost.StatusCode)
}

// 活动查询的完整链路：登记 → 回调 → lastActivity 单调推进
func TestOracleActivityLookupOverHTTP(t *testing.T) {
	srv, node := newTestServer(t)
	owner := fmt.Sprintf("0x%040x", 7)
	created := time.Now().Add(-time.Hour)
	_, err := node.vaults.CreateVault(owner, 90*24*time.Hour, 30*24*time.Hour, created)
	require.NoError(t, err)

	resp := postJSON(t, srv, "/oracle/request/activity", map[string]interface{}{"owner": owner})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reg struct {
		RequestID string `json:"requestId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reg))
	require.NotEmpty(t, reg.RequestID)

	// 不存在的金库不登记 → 404
	resp = postJSON(t, srv, "/oracle/request/activity", map[string]interface{}{
		"owner": fmt.Sprintf("0x%040x", 99),
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// 回调送达：比创建时刻新的观察结果推进 lastActivity
	seen := time.Now().Add(-10 * time.Minute).Unix()
	resp = postJSON(t, srv, "/oracle/activity", map[string]interface{}{
		"requestId": reg.RequestID,
		"timestamp": seen,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	v, err := node.vaults.GetVault(owner)
	require.NoError(t, err)
	assert.Equal(t, seen, v.LastActivity)

	// 重复回调是 no-op（取出即注销），仍然 200
	resp = postJSON(t, srv, "/oracle/activity", map[string]interface{}{
		"requestId": reg.RequestID,
		"timestamp": seen + 60,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v, err = node.vaults.GetVault(owner)
	require.NoError(t, err)
	assert.Equal(t, seen, v.LastActivity)
}

// 开窗自动登记随机请求，回调经 /oracle/random 把延迟落到金库上
func TestTriggerRequestsRandomDelayOverHTTP(t *testing.T) {
	srv, node := newTestServer(t)
	owner := fmt.Sprintf("0x%040x", 8)
	created := time.Now()
	_, err := node.vaults.CreateVault(owner, 90*24*time.Hour, 30*24*time.Hour, created)
	require.NoError(t, err)

	// 静默越过阈值后开窗；开窗同时登记了随机延迟请求
	require.NoError(t, node.vaults.Trigger(owner, created.Add(91*24*time.Hour)))
	require.NoError(t, node.db.ForceFlush())

	reqs, err := node.db.ListOracleRequests()
	require.NoError(t, err)
	var requestID string
	for _, req := range reqs {
		if req.Kind == types.OracleReqRandom && req.Owner == owner {
			requestID = req.RequestID
		}
	}
	require.NotEmpty(t, requestID)

	resp := postJSON(t, srv, "/oracle/random", map[string]interface{}{
		"requestId": requestID,
		"random":    1_000_003,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	v, err := node.vaults.GetVault(owner)
	require.NoError(t, err)
	assert.True(t, v.RandomDelayApplied)
	assert.Equal(t, int64(1_000_003%86400), v.RandomDelay)
}

func TestNodeStatusOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "domain-a", body["domain"])
}
