package handlers

import (
	"net/http"
	"time"
)

// HandleRequestActivityLookup 为一个金库发起链下活动查询
// 同步返回 requestId；查询结果经 /oracle/activity 异步送回
func (hm *HandlerManager) HandleRequestActivityLookup(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleRequestActivityLookup")

	var req struct {
		Owner string `json:"owner"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	// 只为已存在的金库发起查询
	if _, err := hm.vaultManager.GetVault(req.Owner); err != nil {
		writeErr(w, err)
		return
	}

	id, err := hm.oracleMgr.NewActivityLookup(req.Owner, time.Now())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"requestId": id})
}

// HandleOracleActivity 活动查询的异步回调入口
// 未知/过期/重复的 requestId 一律 200：回调是 at-least-once 的
func (hm *HandlerManager) HandleOracleActivity(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleOracleActivity")

	var req struct {
		RequestID string `json:"requestId"`
		Timestamp int64  `json:"timestamp"`
		Error     string `json:"error"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := hm.oracleMgr.HandleActivityResult(req.RequestID, req.Timestamp, req.Error, time.Now()); err != nil {
		writeErr(w, err)
		return
	}
	writeOk(w)
}

// HandleOracleRandom 随机数回调入口
func (hm *HandlerManager) HandleOracleRandom(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleOracleRandom")

	var req struct {
		RequestID string `json:"requestId"`
		Random    uint64 `json:"random"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := hm.oracleMgr.HandleRandomResult(req.RequestID, req.Random,
		hm.cfg.Vault.MaxRandomDelay, time.Now()); err != nil {
		writeErr(w, err)
		return
	}
	writeOk(w)
}
