// gateway/gateway.go
// 跨域网关 - 负责域间活动证明与结算消息的收发
// 传输是 at-least-once 且乱序的；正确性靠 messageID 去重 + 金库侧的
// 时间戳单调规则，与投递顺序无关
package gateway

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
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
	ErrDomainNotAllowlisted = errors.New("destination domain not allowlisted")
	ErrUnauthorizedSender   = errors.New("sender not allowlisted")
	ErrBadSignature         = errors.New("message signature verification failed")
	ErrMalformedMessage     = errors.New("malformed gateway message")
)

// VaultApplier 金库侧的消息应用接口（由 vault.Manager 实现）
// 每个 handler 都是幂等、与到达顺序无关的
type VaultApplier interface {
	ApplyActivityAttestation(owner string, ts int64, now time.Time) error
	CreditAsset(owner, assetID string, class types.AssetClass, amount string) error
}

// Gateway 跨域网关
type Gateway struct {
	db     *db.Manager
	cfg    *config.GatewayConfig
	domain string // 本域标识
	sender string // 本节点的发送方身份（对端验签用）

	vaults VaultApplier

	// 去重：LRU 挡掉热路径上的重放，持久标记兜底并按保留期清理
	// recvMu 把"查重 → 应用 → 标记"整段串行化：传输是 at-least-once 的，
	// 同一条消息可能并发到达，检查和标记之间不持锁会被双重入账
	recvMu sync.Mutex
	dedup  *lru.Cache

	// 出站队列，worker 异步投递（fire-and-forget）
	outbound chan *outboundMsg

	// 出站消息签名用的私钥（可选，nil 则不签名）
	signKey *ecdsa.PrivateKey

	// nonce 计数器，跟 murmur 短哈希一起保证出站 messageID 唯一
	nonceMu sync.Mutex
	nonce   uint64

	stopChan chan struct{}
	wg       sync.WaitGroup
}

type outboundMsg struct {
	endpoint string
	msg      *types.GatewayMessage
}

// NewGateway 创建网关
func NewGateway(dbMgr *db.Manager, cfg *config.GatewayConfig, domain, sender string, vaults VaultApplier) (*Gateway, error) {
	if cfg == nil {
		c := config.DefaultConfig()
		cfg = &c.Gateway
	}
	dedup, err := lru.New(cfg.DedupCacheSize)
	if err != nil {
		return nil, err
	}
	return &Gateway{
		db:       dbMgr,
		cfg:      cfg,
		domain:   domain,
		sender:   sender,
		vaults:   vaults,
		dedup:    dedup,
		outbound: make(chan *outboundMsg, cfg.OutboundQueue),
		stopChan: make(chan struct{}),
	}, nil
}

// SetSignKey 注入出站签名私钥
func (g *Gateway) SetSignKey(key *ecdsa.PrivateKey) { g.signKey = key }

// Start 启动出站 worker 和去重清理任务
func (g *Gateway) Start() {
	g.wg.Add(2)
	go g.runOutbound()
	go g.runPruner()
}

// Stop 停止后台任务
func (g *Gateway) Stop() {
	close(g.stopChan)
	g.wg.Wait()
}

// ===================== 许可管理 =====================

// AllowDomain 许可一个目的域（附对端网关入口）
func (g *Gateway) AllowDomain(domain, endpoint string, now time.Time) error {
	if domain == "" || endpoint == "" {
		return ErrMalformedMessage
	}
	if err := g.db.SaveAllowedDomain(&types.AllowedDomain{
		Domain:   domain,
		Endpoint: endpoint,
		AddedAt:  now.Unix(),
	}); err != nil {
		return err
	}
	return g.db.ForceFlush()
}

// AllowSender 许可一个发送方（附 PEM 公钥，入站消息用它验签）
func (g *Gateway) AllowSender(domain, sender, publicKeyPEM string, now time.Time) error {
	if domain == "" || sender == "" {
		return ErrMalformedMessage
	}
	if publicKeyPEM != "" {
		if _, err := utils.DecodePublicKey(publicKeyPEM); err != nil {
			return fmt.Errorf("invalid sender public key: %w", err)
		}
	}
	if err := g.db.SaveAllowedSender(&types.AllowedSender{
		Domain:    domain,
		Sender:    sender,
		PublicKey: publicKeyPEM,
		AddedAt:   now.Unix(),
	}); err != nil {
		return err
	}
	return g.db.ForceFlush()
}

// ===================== 发送 =====================

// nextMessageID 派生出站消息 ID：keccak(域 | 目的域 | nonce短哈希 | 载荷)
func (g *Gateway) nextMessageID(dest string, payload []byte) string {
	g.nonceMu.Lock()
	g.nonce++
	n := g.nonce
	g.nonceMu.Unlock()

	nonce := utils.MurmurHash([]byte(strconv.FormatUint(n, 10) + strconv.FormatInt(time.Now().UnixNano(), 10)))
	buf := make([]byte, 0, len(g.domain)+len(dest)+len(nonce)+len(payload))
	buf = append(buf, g.domain...)
	buf = append(buf, dest...)
	buf = append(buf, nonce...)
	buf = append(buf, payload...)
	return utils.KeccakHex(buf)
}

// send 构造并投递一条出站消息；网关受理（入队）即返回，不等对端确认
func (g *Gateway) send(dest string, msgType types.GatewayMsgType, payload interface{}) (string, error) {
	allowed, err := g.db.GetAllowedDomain(dest)
	if err != nil {
		return "", err
	}
	if allowed == nil {
		return "", ErrDomainNotAllowlisted
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	msg := &types.GatewayMessage{
		MessageID:    g.nextMessageID(dest, raw),
		SourceDomain: g.domain,
		TargetDomain: dest,
		Sender:       g.sender,
		Type:         msgType,
		Payload:      raw,
		SentAt:       time.Now().Unix(),
	}
	if g.signKey != nil {
		sig, err := utils.SignMessage(g.signKey, msg.MessageID)
		if err != nil {
			return "", err
		}
		msg.Signature = sig
	}

	select {
	case g.outbound <- &outboundMsg{endpoint: allowed.Endpoint, msg: msg}:
	default:
		return "", fmt.Errorf("outbound queue full")
	}
	logs.Verbose("[Gateway] queued %s %s -> %s", msg.Type, msg.MessageID[:8], dest)
	return msg.MessageID, nil
}

// SendSettlement 跨域结算（实现 vault.SettlementSender）
func (g *Gateway) SendSettlement(dest string, credit *types.SettlementCredit) (string, error) {
	return g.send(dest, types.MsgSettlementCredit, credit)
}

// SendActivityAttestation 把本域观察到的活动证明发给另一个域
func (g *Gateway) SendActivityAttestation(dest, owner string, ts int64) (string, error) {
	return g.send(dest, types.MsgActivityAttestation, &types.ActivityAttestation{
		Owner:     owner,
		Timestamp: ts,
	})
}

// ===================== 接收 =====================

// Receive 入站消息处理
// 重放（已见过的 messageID）静默跳过，不算错误——这是幂等投递的基础
func (g *Gateway) Receive(msg *types.GatewayMessage, now time.Time) error {
	if msg == nil || msg.MessageID == "" || msg.SourceDomain == "" || msg.Sender == "" {
		return ErrMalformedMessage
	}

	// 1. 发送方许可 + 验签
	allowed, err := g.db.GetAllowedSender(msg.SourceDomain, msg.Sender)
	if err != nil {
		return err
	}
	if allowed == nil {
		return ErrUnauthorizedSender
	}
	if allowed.PublicKey != "" {
		pub, err := utils.DecodePublicKey(allowed.PublicKey)
		if err != nil {
			return fmt.Errorf("stored sender key corrupt: %w", err)
		}
		if !utils.VerifySignature(pub, msg.MessageID, msg.Signature) {
			return ErrBadSignature
		}
	}

	// 2. 去重到标记落盘全程持锁（CreditAsset 不幂等，放行两次就是双重入账）
	g.recvMu.Lock()
	defer g.recvMu.Unlock()

	if g.dedup.Contains(msg.MessageID) || g.db.IsMsgProcessed(msg.MessageID) {
		logs.Verbose("[Gateway] replayed message %s ignored", msg.MessageID[:min(8, len(msg.MessageID))])
		return nil
	}

	// 3. 应用载荷
	if err := g.apply(msg, now); err != nil {
		return err
	}

	// 4. 记录已处理（LRU + 持久标记）
	g.dedup.Add(msg.MessageID, struct{}{})
	g.db.MarkMsgProcessed(msg.MessageID, now.Unix())
	return g.db.ForceFlush()
}

// apply 按消息类型分发到金库侧的幂等 handler
func (g *Gateway) apply(msg *types.GatewayMessage, now time.Time) error {
	switch msg.Type {
	case types.MsgActivityAttestation:
		var att types.ActivityAttestation
		if err := json.Unmarshal(msg.Payload, &att); err != nil {
			return ErrMalformedMessage
		}
		if att.Owner == "" {
			return ErrMalformedMessage
		}
		return g.vaults.ApplyActivityAttestation(att.Owner, att.Timestamp, now)

	case types.MsgSettlementCredit:
		var credit types.SettlementCredit
		if err := json.Unmarshal(msg.Payload, &credit); err != nil {
			return ErrMalformedMessage
		}
		if credit.Recipient == "" || credit.AssetID == "" {
			return ErrMalformedMessage
		}
		return g.vaults.CreditAsset(credit.Recipient, credit.AssetID, credit.Class, credit.Amount)

	default:
		return fmt.Errorf("unknown gateway message type: %s", msg.Type)
	}
}

// ===================== 后台任务 =====================

// runPruner 按保留期滚动清理持久去重标记，防止无限增长
func (g *Gateway) runPruner() {
	defer g.wg.Done()
	ticker := time.NewTicker(g.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopChan:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-g.cfg.DedupRetention).Unix()
			pruned, err := g.db.PruneProcessedBefore(cutoff)
			if err != nil {
				logs.Error("[Gateway] prune failed: %v", err)
				continue
			}
			if pruned > 0 {
				logs.Info("[Gateway] pruned %d processed message markers", pruned)
			}
		}
	}
}
