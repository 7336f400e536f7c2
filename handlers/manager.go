package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"custody/config"
	"custody/db"
	"custody/gateway"
	"custody/oracle"
	"custody/stats"
	"custody/vault"

	"github.com/dgraph-io/badger/v2"
)

// HandlerManager 管理所有HTTP处理器及其依赖
type HandlerManager struct {
	dbManager    *db.Manager
	vaultManager *vault.Manager
	gatewayMgr   *gateway.Gateway
	oracleMgr    *oracle.Manager
	cfg          *config.Config

	// 统计相关字段
	Stats *stats.Stats
}

// NewHandlerManager 创建新的处理器管理器
func NewHandlerManager(
	dbMgr *db.Manager,
	vaultMgr *vault.Manager,
	gatewayMgr *gateway.Gateway,
	oracleMgr *oracle.Manager,
	cfg *config.Config,
) *HandlerManager {
	return &HandlerManager{
		dbManager:    dbMgr,
		vaultManager: vaultMgr,
		gatewayMgr:   gatewayMgr,
		oracleMgr:    oracleMgr,
		cfg:          cfg,
		Stats:        stats.NewStats(),
	}
}

// RegisterRoutes 注册所有路由
func (hm *HandlerManager) RegisterRoutes(mux *http.ServeMux) {
	// 金库基本操作
	mux.HandleFunc("/vault/create", hm.HandleCreateVault)
	mux.HandleFunc("/vault/deposit", hm.HandleDeposit)
	mux.HandleFunc("/vault/withdraw", hm.HandleWithdraw)
	mux.HandleFunc("/vault/lifesign", hm.HandleLifeSign)
	mux.HandleFunc("/vault/threshold", hm.HandleSetThreshold)
	mux.HandleFunc("/vault/challenge", hm.HandleSetChallengePeriod)
	// 受益人与紧急联系人
	mux.HandleFunc("/vault/beneficiary/add", hm.HandleAddBeneficiary)
	mux.HandleFunc("/vault/beneficiary/remove", hm.HandleRemoveBeneficiary)
	mux.HandleFunc("/vault/beneficiary/approve", hm.HandleApproveBeneficiary)
	mux.HandleFunc("/vault/contact/add", hm.HandleAddContact)
	mux.HandleFunc("/vault/contact/remove", hm.HandleRemoveContact)
	// 生命周期转移
	mux.HandleFunc("/vault/trigger", hm.HandleTrigger)
	mux.HandleFunc("/vault/override", hm.HandleOverride)
	mux.HandleFunc("/vault/execute", hm.HandleExecute)
	mux.HandleFunc("/vault/resume", hm.HandleResume)
	// 只读查询
	mux.HandleFunc("/vault/get", hm.HandleGetVault)
	mux.HandleFunc("/vault/balances", hm.HandleGetBalances)
	mux.HandleFunc("/vault/beneficiaries", hm.HandleGetBeneficiaries)
	mux.HandleFunc("/vault/status", hm.HandleVaultStatus)
	mux.HandleFunc("/vault/execution", hm.HandleGetExecution)
	// 跨域网关
	mux.HandleFunc("/gateway/message", hm.HandleGatewayMessage)
	mux.HandleFunc("/gateway/allow/domain", hm.HandleAllowDomain)
	mux.HandleFunc("/gateway/allow/sender", hm.HandleAllowSender)
	// 预言机请求与回调
	mux.HandleFunc("/oracle/request/activity", hm.HandleRequestActivityLookup)
	mux.HandleFunc("/oracle/activity", hm.HandleOracleActivity)
	mux.HandleFunc("/oracle/random", hm.HandleOracleRandom)
	// 节点状态
	mux.HandleFunc("/status", hm.HandleStatus)
}

// 辅助方法

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeErr 按错误分类映射 HTTP 状态码：
// 参数校验 400，状态守卫 409，权限 403，未找到 404，其余 500
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, vault.ErrVaultNotFound) || errors.Is(err, badger.ErrKeyNotFound):
		status = http.StatusNotFound
	case vault.IsAuth(err):
		status = http.StatusForbidden
	case vault.IsValidation(err):
		status = http.StatusBadRequest
	case vault.IsState(err):
		status = http.StatusConflict
	case errors.Is(err, gateway.ErrMalformedMessage):
		status = http.StatusBadRequest
	case errors.Is(err, gateway.ErrUnauthorizedSender) || errors.Is(err, gateway.ErrBadSignature):
		status = http.StatusForbidden
	case errors.Is(err, oracle.ErrDuplicateRequest):
		status = http.StatusConflict
	case errors.Is(err, oracle.ErrUnknownRequest):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// decodeBody 解析 JSON 请求体；失败时已写响应，返回 false
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "POST required"})
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

type okResponse struct {
	Ok bool `json:"ok"`
}

func writeOk(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, okResponse{Ok: true})
}
