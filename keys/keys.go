// keys/keys.go
// 统一的 Key 定义包，供 vault/gateway/oracle 和 DB 模块共同使用
package keys

import (
	"fmt"
	"strings"
)

// ===================== 版本控制 =====================
// 设置全局 Key 版本前缀（例如 "v1" → 产出 "v1_<key>"）。
// 如需立刻兼容旧数据，暂时将 KeyVersion 设为 "" 即可不加版本前缀。
const KeyVersion = "v1"

// withVer 把版本号拼到最前面（保持下划线风格：v1_<...>）
func withVer(s string) string {
	if KeyVersion == "" {
		return s
	}
	return KeyVersion + "_" + s
}

// StripVersion 读取回退辅助：把带版本的键去掉版本前缀，便于双读回退。
func StripVersion(prefixed string) string {
	if KeyVersion == "" {
		return prefixed
	}
	p := KeyVersion + "_"
	return strings.TrimPrefix(prefixed, p)
}

// ===================== 金库相关 =====================

// KeyVault 金库主记录
// 例：v1_vault_<owner>
func KeyVault(owner string) string {
	return fmt.Sprintf("%s%s", PrefixVault(), owner)
}

// PrefixVault 金库记录前缀，用于全量扫描
func PrefixVault() string {
	return withVer("vault_")
}

// KeyExecution 分发执行记录（每个金库一条）
// 例：v1_execution_<owner>
func KeyExecution(owner string) string {
	return withVer(fmt.Sprintf("execution_%s", owner))
}

// ===================== 网关相关 =====================

// KeyGatewayMsg 已处理的跨域消息 ID 标记，value 为处理时间戳
// 例：v1_gwmsg_<messageID>
func KeyGatewayMsg(messageID string) string {
	return fmt.Sprintf("%s%s", PrefixGatewayMsg(), messageID)
}

// PrefixGatewayMsg 已处理消息前缀，清理任务按它扫描
func PrefixGatewayMsg() string {
	return withVer("gwmsg_")
}

// KeyGatewayDomain 目的域许可记录（含对端 endpoint）
// 例：v1_gwdomain_<domain>
func KeyGatewayDomain(domain string) string {
	return fmt.Sprintf("%s%s", PrefixGatewayDomain(), domain)
}

// PrefixGatewayDomain 许可域前缀
func PrefixGatewayDomain() string {
	return withVer("gwdomain_")
}

// KeyGatewaySender 许可发送方记录（含验签公钥）
// 例：v1_gwsender_<domain>_<sender>
func KeyGatewaySender(domain, sender string) string {
	return withVer(fmt.Sprintf("gwsender_%s_%s", domain, sender))
}

// PrefixGatewaySender 许可发送方前缀
func PrefixGatewaySender() string {
	return withVer("gwsender_")
}

// ===================== 预言机相关 =====================

// KeyOracleRequest 未完成的预言机请求
// 例：v1_oracle_req_<requestID>
func KeyOracleRequest(requestID string) string {
	return fmt.Sprintf("%s%s", PrefixOracleRequest(), requestID)
}

// PrefixOracleRequest 预言机请求前缀，重启恢复时按它扫描
func PrefixOracleRequest() string {
	return withVer("oracle_req_")
}
