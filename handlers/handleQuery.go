package handlers

import (
	"net/http"
	"time"

	"custody/logs"
)

// ownerParam 从查询串取 owner；为空时已写响应
func ownerParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "owner is required"})
		return "", false
	}
	return owner, true
}

// HandleGetVault 查询金库全貌
func (hm *HandlerManager) HandleGetVault(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleGetVault")

	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	v, err := hm.vaultManager.GetVault(owner)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleGetBalances 查询余额表
func (hm *HandlerManager) HandleGetBalances(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleGetBalances")

	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	v, err := hm.vaultManager.GetVault(owner)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v.Balances)
}

// HandleGetBeneficiaries 查询受益人名单
func (hm *HandlerManager) HandleGetBeneficiaries(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleGetBeneficiaries")

	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	v, err := hm.vaultManager.GetVault(owner)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v.Beneficiaries)
}

// HandleVaultStatus 查询不活跃检测状态（watcher 轮询入口）
func (hm *HandlerManager) HandleVaultStatus(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleVaultStatus")

	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	st, err := hm.vaultManager.Status(owner, time.Now())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleGetExecution 查询分发执行记录
func (hm *HandlerManager) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleGetExecution")

	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	exec, err := hm.vaultManager.GetExecution(owner)
	if err != nil {
		writeErr(w, err)
		return
	}
	if exec == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no execution record"})
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// HandleStatus 节点状态
func (hm *HandlerManager) HandleStatus(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleStatus")

	owners, err := hm.vaultManager.ListOwners()
	if err != nil {
		logs.Error("[Handlers] list owners failed: %v", err)
		writeErr(w, err)
		return
	}
	processed, err := hm.dbManager.CountProcessedMsgs()
	if err != nil {
		logs.Warn("[Handlers] count processed msgs failed: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"domain":    hm.cfg.Domain,
		"vaults":    len(owners),
		"processed": processed,
		"uptimeSec": int64(hm.Stats.Uptime() / time.Second),
		"apiCalls":  hm.Stats.GetAPICallStats(),
	})
}
