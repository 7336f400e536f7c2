// config/config.go
package config

import (
	"fmt"
	"time"
)

// Config 主配置结构
type Config struct {
	Domain   string // 当前节点所属结算域标识，例如 "domain-a"
	DataPath string // 数据目录
	Port     int    // 服务端口

	Server  ServerConfig
	DB      DBConfig
	Vault   VaultConfig
	Gateway GatewayConfig
	Oracle  OracleConfig
}

// ServerConfig HTTP/3服务器配置
type ServerConfig struct {
	// TLS配置
	TLSMinVersion string // "1.3"
	TLSMaxVersion string // "1.3"

	// QUIC配置
	QUICKeepAlivePeriod time.Duration // 10 * time.Second
	QUICMaxIdleTimeout  time.Duration // 5 * time.Minute
	QUICAllow0RTT       bool          // true

	// HTTP配置
	HTTPTimeout        time.Duration // 30 * time.Second
	MaxRequestBodySize int64         // 1 << 20 (1MB)

	// 证书配置
	CertValidityDays    int // 365
	TLSSessionCacheSize int // 128
}

// DBConfig 数据库配置
type DBConfig struct {
	Path string // badger 数据目录

	// BadgerDB配置
	ValueLogFileSize int64 // 64 << 20 (64MB)
	InMemory         bool  // 测试用内存模式

	// 写队列配置
	WriteQueueSize int           // 10000
	MaxBatchSize   int           // 100 累计多少条就写一次
	FlushInterval  time.Duration // 200 * time.Millisecond
}

// VaultConfig 金库生命周期配置
type VaultConfig struct {
	// 不活跃阈值边界
	MinInactivityThreshold time.Duration // 30 * 24 * time.Hour
	MaxInactivityThreshold time.Duration // 365 * 24 * time.Hour

	// 挑战期默认值与上界
	DefaultChallengePeriod time.Duration // 30 * 24 * time.Hour
	MaxChallengePeriod     time.Duration // 365 * 24 * time.Hour

	// 随机附加延迟上界（每个生命周期最多应用一次）
	MaxRandomDelay time.Duration // 24 * time.Hour

	// 每个金库受益人数量上限
	MaxBeneficiaries int // 64
	// 紧急联系人数量上限
	MaxEmergencyContacts int // 16

	// watcher 全量扫描间隔
	WatcherInterval time.Duration // 1 * time.Minute
}

// GatewayConfig 跨域网关配置
type GatewayConfig struct {
	// 去重缓存（内存 LRU 容量）
	DedupCacheSize int // 10000
	// 已处理消息 ID 的持久保留期，过期后被清理任务删除
	DedupRetention time.Duration // 30 * 24 * time.Hour
	// 清理任务的运行间隔
	PruneInterval time.Duration // 1 * time.Hour

	// 出站发送配置
	SendTimeout   time.Duration // 10 * time.Second
	OutboundQueue int           // 1000
}

// OracleConfig 预言机回调配置
type OracleConfig struct {
	// 未完成请求的过期时间，过期后回调被忽略
	RequestTTL time.Duration // 24 * time.Hour
	// 请求注册表容量（LRU）
	RequestCacheSize int // 4096
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Domain:   "local",
		DataPath: "./data",
		Port:     6000,
		Server: ServerConfig{
			TLSMinVersion:       "1.3",
			TLSMaxVersion:       "1.3",
			QUICKeepAlivePeriod: 10 * time.Second,
			QUICMaxIdleTimeout:  5 * time.Minute,
			QUICAllow0RTT:       true,
			HTTPTimeout:         30 * time.Second,
			MaxRequestBodySize:  1 << 20,
			CertValidityDays:    365,
			TLSSessionCacheSize: 128,
		},
		DB: DBConfig{
			Path:             "./data",
			ValueLogFileSize: 64 << 20,
			WriteQueueSize:   10000,
			MaxBatchSize:     100,
			FlushInterval:    200 * time.Millisecond,
		},
		Vault: VaultConfig{
			MinInactivityThreshold: 30 * 24 * time.Hour,
			MaxInactivityThreshold: 365 * 24 * time.Hour,
			DefaultChallengePeriod: 30 * 24 * time.Hour,
			MaxChallengePeriod:     365 * 24 * time.Hour,
			MaxRandomDelay:         24 * time.Hour,
			MaxBeneficiaries:       64,
			MaxEmergencyContacts:   16,
			WatcherInterval:        time.Minute,
		},
		Gateway: GatewayConfig{
			DedupCacheSize: 10000,
			DedupRetention: 30 * 24 * time.Hour,
			PruneInterval:  time.Hour,
			SendTimeout:    10 * time.Second,
			OutboundQueue:  1000,
		},
		Oracle: OracleConfig{
			RequestTTL:       24 * time.Hour,
			RequestCacheSize: 4096,
		},
	}
}

// Validate 校验配置的基本合法性
func (c *Config) Validate() error {
	if c.Domain == "" {
		return fmt.Errorf("config: domain is required")
	}
	if c.Vault.MinInactivityThreshold <= 0 ||
		c.Vault.MaxInactivityThreshold < c.Vault.MinInactivityThreshold {
		return fmt.Errorf("config: invalid inactivity threshold bounds")
	}
	if c.Vault.DefaultChallengePeriod <= 0 {
		return fmt.Errorf("config: challenge period must be positive")
	}
	if c.Gateway.DedupCacheSize <= 0 {
		return fmt.Errorf("config: dedup cache size must be positive")
	}
	return nil
}
