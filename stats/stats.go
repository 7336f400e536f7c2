package stats

import (
	"sync"
	"time"
)

// Stats API 调用计数器，/status 接口读取
type Stats struct {
	statsLock     sync.RWMutex
	startedAt     time.Time
	apiCallCounts map[string]uint64
	lastCallAt    map[string]int64
}

func NewStats() *Stats {
	return &Stats{
		startedAt:     time.Now(),
		apiCallCounts: make(map[string]uint64),
		lastCallAt:    make(map[string]int64),
	}
}

// 记录API调用
func (h *Stats) RecordAPICall(apiName string) {
	h.statsLock.Lock()
	defer h.statsLock.Unlock()

	h.apiCallCounts[apiName]++
	h.lastCallAt[apiName] = time.Now().Unix()
}

// 获取API调用统计
func (h *Stats) GetAPICallStats() map[string]uint64 {
	h.statsLock.RLock()
	defer h.statsLock.RUnlock()

	// 复制统计数据
	stats := make(map[string]uint64)
	for api, count := range h.apiCallCounts {
		stats[api] = count
	}
	return stats
}

// LastCallAt 某个 API 最近一次被调用的时刻（unix 秒），从未调用返回 0
func (h *Stats) LastCallAt(apiName string) int64 {
	h.statsLock.RLock()
	defer h.statsLock.RUnlock()
	return h.lastCallAt[apiName]
}

// Uptime 节点运行时长
func (h *Stats) Uptime() time.Duration {
	h.statsLock.RLock()
	defer h.statsLock.RUnlock()
	return time.Since(h.startedAt)
}
