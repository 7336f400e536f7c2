package db

import (
	"custody/config"
	"custody/logs"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/dgraph-io/badger/v2/options"
)

// WriteTask 一条写请求（Del=true 表示删除）
type WriteTask struct {
	Key   string
	Value string
	Del   bool
}

type flushRequest struct {
	done chan error
}

// Manager 封装 BadgerDB 的管理器
// 写入全部走异步写队列，按批落盘；事务边界处调用 ForceFlush 保证读己之写
type Manager struct {
	Db *badger.DB

	// 队列通道，批量写的 goroutine 用它来取写请求
	writeQueueChan chan WriteTask
	// 强制刷盘通道
	forceFlushChan chan flushRequest
	// 用于通知写队列 goroutine 停止
	stopChan chan struct{}

	maxBatchSize  int           // 累计多少条就写一次
	flushInterval time.Duration // 间隔多久强制写一次

	wg  sync.WaitGroup
	cfg *config.DBConfig
}

// NewManager 创建一个新的 DBManager 实例并启动写队列
func NewManager(cfg *config.DBConfig) (*Manager, error) {
	if cfg == nil {
		c := config.DefaultConfig()
		cfg = &c.DB
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	} else {
		opts = badger.DefaultOptions(cfg.Path).WithLogger(nil)
		if cfg.ValueLogFileSize > 0 {
			opts.ValueLogFileSize = cfg.ValueLogFileSize
		}
		// 使用 FileIO 模式减少 mmap 内存占用
		opts.TableLoadingMode = options.FileIO
		opts.ValueLogLoadingMode = options.FileIO
		// badger v2 不自动创建父目录，需要手动创建
		if err := os.MkdirAll(cfg.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db dir: %w", err)
		}
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	manager := &Manager{
		Db:  db,
		cfg: cfg,
	}
	manager.initWriteQueue(cfg.MaxBatchSize, cfg.FlushInterval)
	return manager, nil
}

func (manager *Manager) initWriteQueue(maxBatchSize int, flushInterval time.Duration) {
	if maxBatchSize <= 0 {
		maxBatchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 200 * time.Millisecond
	}
	queueSize := manager.cfg.WriteQueueSize
	if queueSize <= 0 {
		queueSize = 10000
	}
	manager.maxBatchSize = maxBatchSize
	manager.flushInterval = flushInterval
	manager.writeQueueChan = make(chan WriteTask, queueSize)
	manager.forceFlushChan = make(chan flushRequest, 1)
	manager.stopChan = make(chan struct{})
	manager.wg.Add(1)
	go manager.runWriteQueue()
}

func (manager *Manager) runWriteQueue() {
	defer manager.wg.Done()

	// 用于临时收集写请求
	batch := make([]WriteTask, 0, manager.maxBatchSize)

	// 定时器：到了 flushInterval 就要提交
	ticker := time.NewTicker(manager.flushInterval)
	defer ticker.Stop()

	flushCurrentBatch := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := manager.flushBatch(batch)
		batch = batch[:0]
		return err
	}

	for {
		select {
		case <-manager.stopChan:
			// 退出前先排空队列，再刷掉最后一批
			batch = manager.drainWriteQueue(batch)
			if err := flushCurrentBatch(); err != nil {
				logs.Error("[runWriteQueue] final flush failed: %v", err)
			}
			return

		case task := <-manager.writeQueueChan:
			batch = append(batch, task)
			if len(batch) >= manager.maxBatchSize {
				// 超过阈值，立即 flush
				if err := flushCurrentBatch(); err != nil {
					logs.Error("[runWriteQueue] flush by size failed: %v", err)
				}
			}

		case <-ticker.C:
			// 定时触发时先排空当前队列积压，避免频繁小批次 flush
			batch = manager.drainWriteQueue(batch)
			if err := flushCurrentBatch(); err != nil {
				logs.Error("[runWriteQueue] flush by ticker failed: %v", err)
			}

		case req := <-manager.forceFlushChan:
			// 同步 flush：排空已入队写请求并等待落盘完成
			batch = manager.drainWriteQueue(batch)
			err := flushCurrentBatch()
			req.done <- err
		}
	}
}

// drainWriteQueue 把队列里已积压的任务一次性取出来
func (manager *Manager) drainWriteQueue(batch []WriteTask) []WriteTask {
	for {
		select {
		case task := <-manager.writeQueueChan:
			batch = append(batch, task)
		default:
			return batch
		}
	}
}

// flushBatch 把一批写请求写进 badger
func (manager *Manager) flushBatch(batch []WriteTask) error {
	wb := manager.Db.NewWriteBatch()
	defer wb.Cancel()

	for _, task := range batch {
		if task.Del {
			if err := wb.Delete([]byte(task.Key)); err != nil {
				return fmt.Errorf("batch delete %s: %w", task.Key, err)
			}
		} else {
			if err := wb.Set([]byte(task.Key), []byte(task.Value)); err != nil {
				return fmt.Errorf("batch set %s: %w", task.Key, err)
			}
		}
	}
	return wb.Flush()
}

// EnqueueSet 写请求入队（异步落盘）
func (manager *Manager) EnqueueSet(key, value string) {
	manager.writeQueueChan <- WriteTask{Key: key, Value: value}
}

// EnqueueDelete 删除请求入队
func (manager *Manager) EnqueueDelete(key string) {
	manager.writeQueueChan <- WriteTask{Key: key, Del: true}
}

// ForceFlush 同步等待队列里全部写请求落盘
func (manager *Manager) ForceFlush() error {
	req := flushRequest{done: make(chan error, 1)}
	manager.forceFlushChan <- req
	return <-req.done
}

// Get 读取某个 key，不存在时返回 badger.ErrKeyNotFound
func (manager *Manager) Get(key string) ([]byte, error) {
	var val []byte
	err := manager.Db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Read Get 的字符串版本
func (manager *Manager) Read(key string) (string, error) {
	val, err := manager.Get(key)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// Exists 判断 key 是否存在
func (manager *Manager) Exists(key string) bool {
	err := manager.Db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	return err == nil
}

// Scan 前缀扫描，返回所有以 prefix 开头的键值对
func (manager *Manager) Scan(prefix string) (map[string][]byte, error) {
	result := make(map[string][]byte)
	err := manager.Db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			result[key] = val
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Close 停止写队列并关闭数据库
func (manager *Manager) Close() {
	close(manager.stopChan)
	manager.wg.Wait()
	if err := manager.Db.Close(); err != nil {
		logs.Error("[DB] close failed: %v", err)
	}
}
