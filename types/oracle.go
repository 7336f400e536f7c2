package types

// 预言机请求种类
type OracleReqKind string

const (
	OracleReqActivity OracleReqKind = "ACTIVITY" // 链下活动查询
	OracleReqRandom   OracleReqKind = "RANDOM"   // 随机延迟请求
)

// OracleRequest 未完成的预言机请求（持久化，重启后恢复待定注册表）
type OracleRequest struct {
	RequestID string
	Owner     string
	Kind      OracleReqKind
	CreatedAt int64 // unix 秒
}
