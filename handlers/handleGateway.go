package handlers

import (
	"net/http"
	"time"

	"custody/types"
)

// HandleGatewayMessage 对端网关投递消息的入口
// 重放消息返回 200：去重后的 no-op 对发送方来说就是成功
func (hm *HandlerManager) HandleGatewayMessage(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleGatewayMessage")

	var msg types.GatewayMessage
	if !decodeBody(w, r, &msg) {
		return
	}

	if err := hm.gatewayMgr.Receive(&msg, time.Now()); err != nil {
		writeErr(w, err)
		return
	}
	writeOk(w)
}

// HandleAllowDomain 许可一个目的域
func (hm *HandlerManager) HandleAllowDomain(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleAllowDomain")

	var req struct {
		Domain   string `json:"domain"`
		Endpoint string `json:"endpoint"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := hm.gatewayMgr.AllowDomain(req.Domain, req.Endpoint, time.Now()); err != nil {
		writeErr(w, err)
		return
	}
	writeOk(w)
}

// HandleAllowSender 许可一个发送方及其验签公钥
func (hm *HandlerManager) HandleAllowSender(w http.ResponseWriter, r *http.Request) {
	hm.Stats.RecordAPICall("HandleAllowSender")

	var req struct {
		Domain    string `json:"domain"`
		Sender    string `json:"sender"`
		PublicKey string `json:"publicKey"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := hm.gatewayMgr.AllowSender(req.Domain, req.Sender, req.PublicKey, time.Now()); err != nil {
		writeErr(w, err)
		return
	}
	writeOk(w)
}
