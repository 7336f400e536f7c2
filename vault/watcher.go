// vault/watcher.go
// 不活跃检测 watcher：定时全量扫描，满足守卫的金库推进状态机
// Trigger/Execute 自己会在持锁状态下重查守卫，watcher 只是发起方之一，
// 错过一轮没有任何正确性影响
package vault

import (
	"errors"
	"sync"
	"time"

	"custody/logs"
)

// Watcher 定时轮询器
type Watcher struct {
	mgr      *Manager
	interval time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWatcher 创建 watcher
func NewWatcher(mgr *Manager, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Watcher{
		mgr:      mgr,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start 启动轮询
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop 停止轮询
func (w *Watcher) Stop() {
	close(w.stopChan)
	w.wg.Wait()
}

func (w *Watcher) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.Sweep(time.Now())
		}
	}
}

// Sweep 单轮扫描：对每个金库依次尝试触发和执行
func (w *Watcher) Sweep(now time.Time) {
	owners, err := w.mgr.ListOwners()
	if err != nil {
		logs.Error("[Watcher] list owners failed: %v", err)
		return
	}

	for _, owner := range owners {
		if ok, err := w.mgr.CheckTrigger(owner, now); err == nil && ok {
			if err := w.mgr.Trigger(owner, now); err != nil && !errors.Is(err, ErrNotYetInactive) {
				logs.Warn("[Watcher] trigger %s failed: %v", owner, err)
			}
		}
		if ok, err := w.mgr.CheckExecute(owner, now); err == nil && ok {
			if err := w.mgr.Execute(owner, now); err != nil && !errors.Is(err, ErrChallengeNotExpired) {
				logs.Warn("[Watcher] execute %s failed: %v", owner, err)
			}
		}
	}
}
