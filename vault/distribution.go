// vault/distribution.go
// 分发引擎：按百分比计算每个受益人、每项资产的份额并驱动结算
// 只在进入 EXECUTED 时跑一次；断点续付走 Resume
package vault

import (
	"fmt"
	"math/big"
	"time"

	"custody/logs"
	"custody/types"
	"custody/utils"

	"github.com/shopspring/decimal"
)

func isAddress(s string) bool { return utils.IsAddress(s) }

var percentBase = decimal.NewFromInt(100)

// computeShare share = floor(balance * percentage / 100)
// 截断余数留在金库里（不做二次分摊，算法保持 O(受益人×资产) 单趟）
func computeShare(balance *big.Int, pct uint32) *big.Int {
	if balance.Sign() <= 0 || pct == 0 {
		return big.NewInt(0)
	}
	d := decimal.NewFromBigInt(balance, 0).
		Mul(decimal.NewFromInt(int64(pct))).
		Div(percentBase).
		Floor()
	return d.BigInt()
}

// validateForClass 资产类别是封闭集合，每个类别一个校验分支
func validateForClass(class types.AssetClass, amount *big.Int) error {
	switch class {
	case types.AssetFungible, types.AssetSemiFungible:
		if amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
	case types.AssetNonFungible:
		// 非同质化资产按整件计数，份额必须是正整数件
		if amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
	case types.AssetCustom:
		// 自定义类别原样交给外部转账原语
	default:
		return ErrInvalidAssetClass
	}
	return nil
}

// planDistribution 计算支付矩阵（不做任何外部调用）
// 快照余额以触发时刻为准；金额为 0 的对不进矩阵，不会产生无谓的外部调用
func (m *Manager) planDistribution(v *types.Vault, now time.Time) (*types.Execution, error) {
	approved := make([]*types.Beneficiary, 0, len(v.Beneficiaries))
	for _, b := range v.Beneficiaries {
		if b.Approved {
			approved = append(approved, b)
		}
	}
	if len(approved) == 0 {
		return nil, ErrNoApprovedBeneficiaries
	}

	exec := &types.Execution{
		Owner:             v.Owner,
		ExecutedAt:        now.Unix(),
		BalancesAtTrigger: v.BalancesAtTrigger,
		Payouts:           make([]*types.BeneficiaryPayout, 0, len(approved)),
	}

	for _, b := range approved {
		payout := &types.BeneficiaryPayout{
			Address:   b.Address,
			Amounts:   make(map[string]string),
			Attempted: make(map[string]bool),
			Completed: make(map[string]bool),
		}
		if b.PreferredDomain != "" && b.PreferredDomain != m.domain {
			payout.Domain = b.PreferredDomain
		}

		for assetID, balStr := range v.BalancesAtTrigger {
			rec, ok := v.Balances[assetID]
			if !ok {
				continue
			}
			bal := ParseBalanceOrZero(balStr)
			share := computeShare(bal, b.SharesByClass[rec.Class])
			if share.Sign() <= 0 {
				// 零份额不尝试转账，attempted 标记只出现在真实尝试上
				continue
			}
			payout.Amounts[assetID] = share.String()
		}
		exec.Payouts = append(exec.Payouts, payout)
	}
	return exec, nil
}

// runDistribution 驱动支付矩阵落地
// 对每一对 (受益人, 资产)：先扣余额、先持久化 attempted 标记，再发起外部
// 转账——外部调用重入时看到的已经是扣过账的状态
// 单笔失败不中断整轮；该受益人 paid 保持 false，等 Resume 重试
func (m *Manager) runDistribution(v *types.Vault, exec *types.Execution) {
	for _, payout := range exec.Payouts {
		if payout.Paid {
			continue
		}
		failed := false

		for assetID, amtStr := range payout.Amounts {
			if payout.Completed[assetID] {
				continue
			}
			rec, ok := v.Balances[assetID]
			if !ok {
				payout.LastError = fmt.Sprintf("asset %s disappeared", assetID)
				failed = true
				continue
			}
			amount := ParseBalanceOrZero(amtStr)

			if err := validateForClass(rec.Class, amount); err != nil {
				payout.LastError = err.Error()
				failed = true
				continue
			}

			// 记账先行：未尝试过的对先扣余额并持久化，再碰外部世界
			if !payout.Attempted[assetID] {
				newBal, err := SafeSub(ParseBalanceOrZero(rec.Balance), amount)
				if err != nil {
					// 守恒被破坏只可能是外部入侵或程序缺陷，跳过该对
					payout.LastError = fmt.Sprintf("debit %s: %v", assetID, err)
					failed = true
					continue
				}
				rec.Balance = newBal.String()
				payout.Attempted[assetID] = true
				if err := m.persistDistribution(v, exec); err != nil {
					logs.Error("[Distribution] persist before transfer failed: %v", err)
					payout.LastError = err.Error()
					failed = true
					continue
				}
			}

			if err := m.settle(payout, rec, assetID, amount); err != nil {
				logs.Warn("[Distribution] transfer %s %s -> %s failed: %v", amtStr, assetID, payout.Address, err)
				payout.LastError = err.Error()
				failed = true
				continue
			}
			payout.Completed[assetID] = true
		}

		if !failed {
			payout.Paid = true
			payout.LastError = ""
		}
	}

	if err := m.persistDistribution(v, exec); err != nil {
		logs.Error("[Distribution] final persist failed: %v", err)
	}
}

// settle 单笔结算：本地走转账原语，跨域交给网关（受理即视为已发送）
func (m *Manager) settle(payout *types.BeneficiaryPayout, rec *types.AssetRecord, assetID string, amount *big.Int) error {
	if payout.Domain != "" {
		if m.sender == nil {
			return fmt.Errorf("no settlement sender configured")
		}
		msgID, err := m.sender.SendSettlement(payout.Domain, &types.SettlementCredit{
			Recipient: payout.Address,
			AssetID:   assetID,
			Class:     rec.Class,
			Amount:    amount.String(),
		})
		if err != nil {
			return err
		}
		logs.Verbose("[Distribution] cross-domain settlement %s queued as %s", assetID, msgID)
		return nil
	}

	if m.transfer == nil {
		return fmt.Errorf("no transfer primitive configured")
	}
	return m.transfer(assetID, rec.Class, payout.Address, amount)
}

// persistDistribution 金库余额和执行记录一起落盘
func (m *Manager) persistDistribution(v *types.Vault, exec *types.Execution) error {
	if err := m.db.SaveVault(v); err != nil {
		return err
	}
	if err := m.db.SaveExecution(exec); err != nil {
		return err
	}
	return m.db.ForceFlush()
}
