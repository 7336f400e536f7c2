package handlers

import (
	"net/http"
	"time"

	"custody/types"
)

// HandleAddBeneficiary owner 登记受益人
func (hm *HandlerManager) HandleAddBeneficiary(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleAddBeneficiary")

	var req struct {
		Caller          string                      `json:"caller"`
		Owner           string                      `json:"owner"`
		Address         string                      `json:"address"`
		SharesByClass   map[types.AssetClass]uint32 `json:"sharesByClass"`
		PreferredDomain string                      `json:"preferredDomain"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := hm.vaultManager.AddBeneficiary(req.Caller, req.Owner, req.Address,
		req.SharesByClass, req.PreferredDomain, time.Now()); err != nil {
		writeErr(w, err)
		return
	}
	writeOk(w)
}

// HandleRemoveBeneficiary owner 移除受益人
func (hm *HandlerManager) HandleRemoveBeneficiary(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleRemoveBeneficiary")

	var req struct {
		Caller  string `json:"caller"`
		Owner   string `json:"owner"`
		Address string `json:"address"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := hm.vaultManager.RemoveBeneficiary(req.Caller, req.Owner, req.Address, time.Now()); err != nil {
		writeErr(w, err)
		return
	}
	writeOk(w)
}

// HandleApproveBeneficiary 受益人本人确认身份
func (hm *HandlerManager) HandleApproveBeneficiary(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleApproveBeneficiary")

	var req struct {
		Caller string `json:"caller"`
		Owner  string `json:"owner"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := hm.vaultManager.ApproveBeneficiary(req.Caller, req.Owner); err != nil {
		writeErr(w, err)
		return
	}
	writeOk(w)
}

// HandleAddContact 添加紧急联系人
func (hm *HandlerManager) HandleAddContact(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleAddContact")

	var req struct {
		Caller  string `json:"caller"`
		Owner   string `json:"owner"`
		Contact string `json:"contact"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := hm.vaultManager.AddEmergencyContact(req.Caller, req.Owner, req.Contact, time.Now()); err != nil {
		writeErr(w, err)
		return
	}
	writeOk(w)
}

// HandleRemoveContact 移除紧急联系人
func (hm *HandlerManager) HandleRemoveContact(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleRemoveContact")

	var req struct {
		Caller  string `json:"caller"`
		Owner   string `json:"owner"`
		Contact string `json:"contact"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := hm.vaultManager.RemoveEmergencyContact(req.Caller, req.Owner, req.Contact, time.Now()); err != nil {
		writeErr(w, err)
		return
	}
	writeOk(w)
}
