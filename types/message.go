package types

import "encoding/json"

// 跨域消息类型
type GatewayMsgType string

const (
	// 活动证明：owner 在源域有活动，时间戳参与单调更新
	MsgActivityAttestation GatewayMsgType = "ACTIVITY_ATTESTATION"
	// 结算入账：另一个域分发过来的资产份额，幂等入账
	MsgSettlementCredit GatewayMsgType = "SETTLEMENT_CREDIT"
)

// GatewayMessage 跨域消息信封
// 传输层 at-least-once、乱序；正确性完全依赖 MessageID 去重和时间戳单调规则
type GatewayMessage struct {
	MessageID    string
	SourceDomain string
	TargetDomain string
	Sender       string
	Type         GatewayMsgType
	Payload      json.RawMessage
	// 发送方时钟的 unix 秒，仅用于追踪，不参与去重
	SentAt int64
	// 对 MessageID 的 ECDSA 签名（hex r||s），用 sender 的许可公钥验证
	Signature string
}

// ActivityAttestation 活动证明载荷
type ActivityAttestation struct {
	Owner string
	// 源域观察到的活动时刻（unix 秒）
	Timestamp int64
}

// SettlementCredit 结算入账载荷
type SettlementCredit struct {
	Recipient string
	AssetID   string
	Class     AssetClass
	Amount    string // 十进制字符串
}

// AllowedDomain 许可的目的域记录
type AllowedDomain struct {
	Domain   string
	Endpoint string // 对端网关入口，例如 https://host:port
	AddedAt  int64
}

// AllowedSender 许可的发送方记录
type AllowedSender struct {
	Domain    string
	Sender    string
	PublicKey string // PEM 编码的 ECDSA 公钥
	AddedAt   int64
}
