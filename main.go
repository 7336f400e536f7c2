package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"custody/config"
	"custody/crt"
	"custody/db"
	"custody/gateway"
	"custody/handlers"
	"custody/logs"
	"custody/middleware"
	"custody/oracle"
	"custody/types"
	"custody/vault"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// 表示一个节点实例
type NodeInstance struct {
	Domain         string
	Port           int
	DataPath       string
	Server         *http.Server  // TCP TLS server
	HTTP3Server    *http3.Server // QUIC HTTP/3 server
	DBManager      *db.Manager
	VaultManager   *vault.Manager
	Gateway        *gateway.Gateway
	OracleManager  *oracle.Manager
	Watcher        *vault.Watcher
	HandlerManager *handlers.HandlerManager
}

func main() {
	// 1. 解析命令行参数
	var (
		dataPath = flag.String("data", "./data", "database directory")
		port     = flag.Int("port", 6000, "server port")
		domain   = flag.String("domain", "local", "settlement domain of this node")
		logLevel = flag.Int("loglevel", logs.LevelInfo, "log verbosity")
	)
	flag.Parse()

	logs.SetLevel(*logLevel)
	logs.MyDomain = *domain

	// 2. 加载配置
	cfg := loadConfig(*dataPath, *port, *domain)
	if err := cfg.Validate(); err != nil {
		logs.Error("Invalid config: %v", err)
		os.Exit(1)
	}

	// 3. 初始化并启动节点
	node := &NodeInstance{
		Domain:   cfg.Domain,
		Port:     cfg.Port,
		DataPath: cfg.DataPath,
	}
	if err := initializeNode(node, cfg); err != nil {
		logs.Error("Failed to initialize: %v", err)
		os.Exit(1)
	}

	errorChan := make(chan error, 1)
	go func() {
		if err := startHTTPServer(node, cfg); err != nil {
			errorChan <- err
		}
	}()

	// 4. 等待退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logs.Info("Received signal: %v, shutting down...", sig)
	case err := <-errorChan:
		logs.Error("Server error: %v", err)
	}

	shutdownNode(node)
}

// loadConfig 加载配置
func loadConfig(dataPath string, port int, domain string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Domain = domain
	cfg.DataPath = dataPath
	cfg.Port = port
	cfg.DB.Path = filepath.Join(dataPath, "badger")
	return cfg
}

// initializeNode 初始化节点的各个模块
func initializeNode(node *NodeInstance, cfg *config.Config) error {
	// 1. 数据库层（最底层）
	dbManager, err := db.NewManager(&cfg.DB)
	if err != nil {
		return fmt.Errorf("db init failed: %w", err)
	}
	node.DBManager = dbManager

	// 2. 金库管理器
	vaultManager := vault.NewManager(dbManager, &cfg.Vault, cfg.Domain)
	node.VaultManager = vaultManager

	// 3. 跨域网关（双向依赖通过接口注入解开）
	gw, err := gateway.NewGateway(dbManager, &cfg.Gateway, cfg.Domain, cfg.Domain, vaultManager)
	if err != nil {
		return fmt.Errorf("gateway init failed: %w", err)
	}
	vaultManager.SetSender(gw)
	node.Gateway = gw

	// 本地转账原语：默认实现只记账出金流水
	// 对接真实结算后端时在这里替换
	vaultManager.SetTransfer(func(assetID string, class types.AssetClass, to string, amount *big.Int) error {
		logs.Info("[Transfer] %s %s (%s) -> %s", amount.String(), assetID, class, to)
		return nil
	})

	// 4. 预言机回调管理器
	oracleMgr, err := oracle.NewManager(&cfg.Oracle, dbManager, vaultManager)
	if err != nil {
		return fmt.Errorf("oracle init failed: %w", err)
	}
	// 金库开窗时经它申请随机延迟
	vaultManager.SetRandomSource(oracleMgr)
	node.OracleManager = oracleMgr

	// 5. 不活跃检测 watcher
	node.Watcher = vault.NewWatcher(vaultManager, cfg.Vault.WatcherInterval)

	// 6. Handler管理器
	node.HandlerManager = handlers.NewHandlerManager(dbManager, vaultManager, gw, oracleMgr, cfg)

	return nil
}

// startHTTPServer 启动 HTTP/3 服务器（附带 TCP TLS 兜底）
func startHTTPServer(node *NodeInstance, cfg *config.Config) error {
	mux := http.NewServeMux()
	node.HandlerManager.RegisterRoutes(mux)

	// 应用中间件
	handler := middleware.RateLimit(mux)
	middleware.StartIPCleanup()

	// 生成自签名证书
	certFile := filepath.Join(node.DataPath, "server.crt")
	keyFile := filepath.Join(node.DataPath, "server.key")
	if err := os.MkdirAll(node.DataPath, 0o755); err != nil {
		return err
	}
	if err := crt.EnsureCert(certFile, keyFile, node.Domain); err != nil {
		return fmt.Errorf("failed to generate certificate: %w", err)
	}

	tlsConfig, err := crt.LoadTLSConfig(certFile, keyFile)
	if err != nil {
		return err
	}
	// 增加 http/1.1 支持 TCP 兜底
	tlsConfig.NextProtos = append(tlsConfig.NextProtos, "http/1.1")

	// 证书私钥同时作为出站网关消息的签名私钥
	if signKey, err := crt.LoadSignKey(keyFile); err == nil {
		node.Gateway.SetSignKey(signKey)
	} else {
		logs.Warn("Outbound messages will be unsigned: %v", err)
	}

	// 后台任务在监听之前启动
	node.Gateway.Start()
	node.Watcher.Start()

	quicConfig := &quic.Config{
		KeepAlivePeriod: cfg.Server.QUICKeepAlivePeriod,
		MaxIdleTimeout:  cfg.Server.QUICMaxIdleTimeout,
		Allow0RTT:       cfg.Server.QUICAllow0RTT,
	}

	addr := fmt.Sprintf(":%d", node.Port)
	server := &http3.Server{
		Addr:       addr,
		Handler:    handler,
		TLSConfig:  tlsConfig,
		QUICConfig: quicConfig,
	}
	node.HTTP3Server = server

	listener, err := quic.ListenAddr(addr, tlsConfig, quicConfig)
	if err != nil {
		return fmt.Errorf("failed to create QUIC listener: %w", err)
	}

	logs.Info("Starting HTTP/3 server on port %d (domain %s)", node.Port, node.Domain)

	// 启动一个后台 TCP TLS 服务器，方便不支持 QUIC 的客户端连接
	tcpServer := &http.Server{
		Addr:      addr,
		Handler:   handler,
		TLSConfig: tlsConfig,
	}
	node.Server = tcpServer
	go func() {
		if err := tcpServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			logs.Error("TCP TLS Server error: %v", err)
		}
	}()

	// 启动服务器（这是阻塞调用）
	if err := server.ServeListener(listener); err != nil {
		if isServerClosedErr(err) {
			return nil
		}
		return err
	}
	return nil
}

// shutdownNode 优雅关闭：先停入口，再停后台任务，最后关数据库
func shutdownNode(node *NodeInstance) {
	if node.HTTP3Server != nil {
		if err := node.HTTP3Server.Close(); err != nil && !isServerClosedErr(err) {
			logs.Warn("failed to close HTTP/3 server: %v", err)
		}
	}
	if node.Server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := node.Server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Warn("failed to shutdown TCP server: %v", err)
		}
		cancel()
	}
	if node.Watcher != nil {
		node.Watcher.Stop()
	}
	if node.Gateway != nil {
		node.Gateway.Stop()
	}
	if node.DBManager != nil {
		node.DBManager.Close()
	}
	logs.Info("Node stopped.")
}

func isServerClosedErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, http.ErrServerClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "server closed") ||
		strings.Contains(msg, "closed network connection") ||
		strings.Contains(msg, "use of closed network connection")
}
