package db

import (
	"custody/keys"
	"custody/types"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v2"
)

// SaveVault 保存金库主记录（JSON 序列化后入写队列）
func (mgr *Manager) SaveVault(vault *types.Vault) error {
	if vault == nil || vault.Owner == "" {
		return fmt.Errorf("SaveVault: empty owner not allowed")
	}
	data, err := json.Marshal(vault)
	if err != nil {
		return err
	}
	mgr.EnqueueSet(keys.KeyVault(vault.Owner), string(data))
	return nil
}

// GetVault 读取金库主记录，不存在时返回 badger.ErrKeyNotFound
func (mgr *Manager) GetVault(owner string) (*types.Vault, error) {
	val, err := mgr.Get(keys.KeyVault(owner))
	if err != nil {
		return nil, err
	}
	vault := &types.Vault{}
	if err := json.Unmarshal(val, vault); err != nil {
		return nil, fmt.Errorf("GetVault: corrupt record for %s: %w", owner, err)
	}
	return vault, nil
}

// HasVault 判断某 owner 是否已有金库
func (mgr *Manager) HasVault(owner string) bool {
	return mgr.Exists(keys.KeyVault(owner))
}

// ListVaultOwners 全量扫描所有金库 owner（watcher 轮询用）
func (mgr *Manager) ListVaultOwners() ([]string, error) {
	kvs, err := mgr.Scan(keys.PrefixVault())
	if err != nil {
		return nil, err
	}
	owners := make([]string, 0, len(kvs))
	for k := range kvs {
		owners = append(owners, strings.TrimPrefix(k, keys.PrefixVault()))
	}
	return owners, nil
}

// SaveExecution 保存分发执行记录
func (mgr *Manager) SaveExecution(exec *types.Execution) error {
	if exec == nil || exec.Owner == "" {
		return fmt.Errorf("SaveExecution: empty owner not allowed")
	}
	data, err := json.Marshal(exec)
	if err != nil {
		return err
	}
	mgr.EnqueueSet(keys.KeyExecution(exec.Owner), string(data))
	return nil
}

// GetExecution 读取分发执行记录；不存在返回 (nil, nil)
func (mgr *Manager) GetExecution(owner string) (*types.Execution, error) {
	val, err := mgr.Get(keys.KeyExecution(owner))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	exec := &types.Execution{}
	if err := json.Unmarshal(val, exec); err != nil {
		return nil, fmt.Errorf("GetExecution: corrupt record for %s: %w", owner, err)
	}
	return exec, nil
}
