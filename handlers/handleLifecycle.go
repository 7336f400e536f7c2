package handlers

import (
	"net/http"
	"time"
)

// HandleTrigger 打开公示窗口（watcher 或任何观察到静默的一方都可以调）
func (hm *HandlerManager) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleTrigger")

	var req struct {
		Owner string `json:"owner"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := hm.vaultManager.Trigger(req.Owner, time.Now()); err != nil {
		writeErr(w, err)
		return
	}
	writeOk(w)
}

// HandleOverride owner 或紧急联系人在公示期拿回控制权
func (hm *HandlerManager) HandleOverride(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleOverride")

	var req struct {
		Caller string `json:"caller"`
		Owner  string `json:"owner"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := hm.vaultManager.Override(req.Caller, req.Owner, time.Now()); err != nil {
		writeErr(w, err)
		return
	}
	writeOk(w)
}

// HandleExecute 公示期届满后执行分发
func (hm *HandlerManager) HandleExecute(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleExecute")

	var req struct {
		Owner string `json:"owner"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := hm.vaultManager.Execute(req.Owner, time.Now()); err != nil {
		writeErr(w, err)
		return
	}
	writeOk(w)
}

// HandleResume 对未付清的受益人断点续付
func (hm *HandlerManager) HandleResume(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleResume")

	var req struct {
		Owner string `json:"owner"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := hm.vaultManager.Resume(req.Owner, time.Now()); err != nil {
		writeErr(w, err)
		return
	}
	writeOk(w)
}
