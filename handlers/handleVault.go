package handlers

import (
	"net/http"
	"time"

	"custody/types"
)

// HandleCreateVault 处理创建金库的请求
func (hm *HandlerManager) HandleCreateVault(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleCreateVault")

	var req struct {
		Owner                  string `json:"owner"`
		InactivityThresholdSec int64  `json:"inactivityThresholdSec"`
		ChallengePeriodSec     int64  `json:"challengePeriodSec"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	v, err := hm.vaultManager.CreateVault(
		req.Owner,
		time.Duration(req.InactivityThresholdSec)*time.Second,
		time.Duration(req.ChallengePeriodSec)*time.Second,
		time.Now(),
	)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleDeposit 处理存入资产的请求
func (hm *HandlerManager) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleDeposit")

	var req struct {
		Caller  string           `json:"caller"`
		Owner   string           `json:"owner"`
		AssetID string           `json:"assetId"`
		Class   types.AssetClass `json:"class"`
		Amount  string           `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := hm.vaultManager.Deposit(req.Caller, req.Owner, req.AssetID, req.Class, req.Amount, time.Now()); err != nil {
		writeErr(w, err)
		return
	}
	writeOk(w)
}

// HandleWithdraw 处理 owner 取回资产的请求
func (hm *HandlerManager) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleWithdraw")

	var req struct {
		Caller  string `json:"caller"`
		Owner   string `json:"owner"`
		AssetID string `json:"assetId"`
		Amount  string `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := hm.vaultManager.Withdraw(req.Caller, req.Owner, req.AssetID, req.Amount, time.Now()); err != nil {
		writeErr(w, err)
		return
	}
	writeOk(w)
}

// HandleLifeSign 处理 owner 生命信号
func (hm *HandlerManager) HandleLifeSign(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleLifeSign")

	var req struct {
		Caller string `json:"caller"`
		Owner  string `json:"owner"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := hm.vaultManager.RecordActivity(req.Caller, req.Owner, time.Now()); err != nil {
		writeErr(w, err)
		return
	}
	writeOk(w)
}

// HandleSetThreshold 调整不活跃阈值
func (hm *HandlerManager) HandleSetThreshold(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleSetThreshold")

	var req struct {
		Caller       string `json:"caller"`
		Owner        string `json:"owner"`
		ThresholdSec int64  `json:"thresholdSec"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := hm.vaultManager.SetInactivityThreshold(req.Caller, req.Owner,
		time.Duration(req.ThresholdSec)*time.Second, time.Now()); err != nil {
		writeErr(w, err)
		return
	}
	writeOk(w)
}

// HandleSetChallengePeriod 调整挑战期时长
func (hm *HandlerManager) HandleSetChallengePeriod(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleSetChallengePeriod")

	var req struct {
		Caller    string `json:"caller"`
		Owner     string `json:"owner"`
		PeriodSec int64  `json:"periodSec"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := hm.vaultManager.SetChallengePeriod(req.Caller, req.Owner,
		time.Duration(req.PeriodSec)*time.Second, time.Now()); err != nil {
		writeErr(w, err)
		return
	}
	writeOk(w)
}
