package db

import (
	"custody/keys"
	"custody/logs"
	"custody/types"
	"encoding/json"
	"fmt"
)

// SaveOracleRequest 持久化一条待定的预言机请求
func (mgr *Manager) SaveOracleRequest(req *types.OracleRequest) error {
	if req == nil || req.RequestID == "" {
		return fmt.Errorf("SaveOracleRequest: empty request id not allowed")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	mgr.EnqueueSet(keys.KeyOracleRequest(req.RequestID), string(data))
	return nil
}

// DeleteOracleRequest 注销一条预言机请求（回调已消费或已过期）
func (mgr *Manager) DeleteOracleRequest(requestID string) {
	mgr.EnqueueDelete(keys.KeyOracleRequest(requestID))
}

// ListOracleRequests 全量加载待定请求（节点重启时恢复注册表）
func (mgr *Manager) ListOracleRequests() ([]*types.OracleRequest, error) {
	kvs, err := mgr.Scan(keys.PrefixOracleRequest())
	if err != nil {
		return nil, err
	}
	result := make([]*types.OracleRequest, 0, len(kvs))
	for k, v := range kvs {
		req := &types.OracleRequest{}
		if err := json.Unmarshal(v, req); err != nil {
			logs.Warn("[DB] corrupt oracle request record %s", k)
			continue
		}
		result = append(result, req)
	}
	return result, nil
}
