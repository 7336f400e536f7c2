package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// 每个 IP 在当前时间窗口内的请求次数以及最后一次更新时间
var (
	ipRequestCount = make(map[string]int)
	ipLastReset    = make(map[string]time.Time)
	mu             sync.Mutex
)

// 配置参数
const (
	requestLimit    = 10000           // 每个 IP 每个窗口允许的最大请求次数
	resetInterval   = time.Second     // 请求计数的时间窗口
	cleanupInterval = 2 * time.Minute // 清理间隔，每2分钟清理一次不活跃记录
)

// clientIP 取客户端 IP；RemoteAddr 解析失败时整串作为 key 兜底
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit 限制每个 IP 在 resetInterval 内的请求次数
// 网关入站消息和金库操作共用同一套限额：重放风暴在这里先被削峰，
// 真正的去重在网关层
func RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		mu.Lock()
		now := time.Now()
		// 该 IP 没有记录，或上次记录已超过 resetInterval，重置计数
		if last, ok := ipLastReset[ip]; !ok || now.Sub(last) > resetInterval {
			ipRequestCount[ip] = 0
			ipLastReset[ip] = now
		}

		ipRequestCount[ip]++
		if ipRequestCount[ip] > requestLimit {
			mu.Unlock()
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

// StartIPCleanup 启动后台 goroutine，定时清理不活跃的 IP 记录
func StartIPCleanup() {
	ticker := time.NewTicker(cleanupInterval)
	go func() {
		for range ticker.C {
			mu.Lock()
			now := time.Now()
			for ip, last := range ipLastReset {
				if now.Sub(last) > 2*resetInterval {
					delete(ipLastReset, ip)
					delete(ipRequestCount, ip)
				}
			}
			mu.Unlock()
		}
	}()
}
