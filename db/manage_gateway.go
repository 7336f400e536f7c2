package db

import (
	"custody/keys"
	"custody/logs"
	"custody/types"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v2"
)

// MarkMsgProcessed 持久化"已处理"标记，value 是处理时间戳（清理任务按它过期）
func (mgr *Manager) MarkMsgProcessed(messageID string, processedAt int64) {
	mgr.EnqueueSet(keys.KeyGatewayMsg(messageID), strconv.FormatInt(processedAt, 10))
}

// IsMsgProcessed 查询某条消息是否已处理过
func (mgr *Manager) IsMsgProcessed(messageID string) bool {
	return mgr.Exists(keys.KeyGatewayMsg(messageID))
}

// PruneProcessedBefore 删除处理时刻早于 cutoff 的去重标记，返回删除数量
// 去重集不能无限增长，按保留期滚动清理
func (mgr *Manager) PruneProcessedBefore(cutoff int64) (int, error) {
	kvs, err := mgr.Scan(keys.PrefixGatewayMsg())
	if err != nil {
		return 0, err
	}
	pruned := 0
	for k, v := range kvs {
		processedAt, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			// 老格式或损坏的记录直接删掉
			logs.Warn("[DB] corrupt processed marker %s, pruning", k)
			mgr.EnqueueDelete(k)
			pruned++
			continue
		}
		if processedAt < cutoff {
			mgr.EnqueueDelete(k)
			pruned++
		}
	}
	return pruned, nil
}

// SaveAllowedDomain 保存许可目的域
func (mgr *Manager) SaveAllowedDomain(d *types.AllowedDomain) error {
	if d == nil || d.Domain == "" {
		return fmt.Errorf("SaveAllowedDomain: empty domain not allowed")
	}
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	mgr.EnqueueSet(keys.KeyGatewayDomain(d.Domain), string(data))
	return nil
}

// GetAllowedDomain 读取许可目的域；未许可返回 (nil, nil)
func (mgr *Manager) GetAllowedDomain(domain string) (*types.AllowedDomain, error) {
	val, err := mgr.Get(keys.KeyGatewayDomain(domain))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	d := &types.AllowedDomain{}
	if err := json.Unmarshal(val, d); err != nil {
		return nil, fmt.Errorf("GetAllowedDomain: corrupt record for %s: %w", domain, err)
	}
	return d, nil
}

// ListAllowedDomains 列出全部许可目的域
func (mgr *Manager) ListAllowedDomains() ([]*types.AllowedDomain, error) {
	kvs, err := mgr.Scan(keys.PrefixGatewayDomain())
	if err != nil {
		return nil, err
	}
	result := make([]*types.AllowedDomain, 0, len(kvs))
	for k, v := range kvs {
		d := &types.AllowedDomain{}
		if err := json.Unmarshal(v, d); err != nil {
			logs.Warn("[DB] corrupt allowed domain record %s", k)
			continue
		}
		result = append(result, d)
	}
	return result, nil
}

// SaveAllowedSender 保存许可发送方
func (mgr *Manager) SaveAllowedSender(s *types.AllowedSender) error {
	if s == nil || s.Domain == "" || s.Sender == "" {
		return fmt.Errorf("SaveAllowedSender: empty domain/sender not allowed")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	mgr.EnqueueSet(keys.KeyGatewaySender(s.Domain, s.Sender), string(data))
	return nil
}

// GetAllowedSender 读取许可发送方；未许可返回 (nil, nil)
func (mgr *Manager) GetAllowedSender(domain, sender string) (*types.AllowedSender, error) {
	val, err := mgr.Get(keys.KeyGatewaySender(domain, sender))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	s := &types.AllowedSender{}
	if err := json.Unmarshal(val, s); err != nil {
		return nil, fmt.Errorf("GetAllowedSender: corrupt record for %s/%s: %w", domain, sender, err)
	}
	return s, nil
}

// CountProcessedMsgs 统计持久化去重集大小（状态接口用）
func (mgr *Manager) CountProcessedMsgs() (int, error) {
	kvs, err := mgr.Scan(keys.PrefixGatewayMsg())
	if err != nil {
		return 0, err
	}
	return len(kvs), nil
}
