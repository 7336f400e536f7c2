// vault/types.go
// 金库生命周期模块核心类型与错误定义
package vault

import (
	"errors"
	"math/big"
	"time"

	"custody/types"
)

// ===================== 错误定义 =====================

// 校验类错误：同步拒绝，不产生任何状态变更
var (
	ErrInvalidIdentity      = errors.New("invalid identity")
	ErrInvalidShare         = errors.New("share percentage out of range")
	ErrSharesExceedFull     = errors.New("class shares would exceed 100 percent")
	ErrDuplicateBeneficiary = errors.New("beneficiary already exists")
	ErrDurationOutOfBounds  = errors.New("duration out of bounds")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidAssetClass    = errors.New("unknown asset class")
	ErrTooManyBeneficiaries = errors.New("too many beneficiaries")
	ErrTooManyContacts      = errors.New("too many emergency contacts")
)

// 状态类错误：当前生命周期状态下不允许该操作
var (
	ErrVaultExists             = errors.New("vault already exists")
	ErrVaultNotFound           = errors.New("vault not found")
	ErrVaultNotActive          = errors.New("vault is not active")
	ErrVaultClosed             = errors.New("vault already executed")
	ErrNotYetInactive          = errors.New("inactivity threshold not reached")
	ErrChallengeNotOpen        = errors.New("challenge window is not open")
	ErrChallengeNotExpired     = errors.New("challenge period has not elapsed")
	ErrRandomDelayApplied      = errors.New("random delay already applied")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrNoApprovedBeneficiaries = errors.New("no approved beneficiaries")
	ErrNothingToResume         = errors.New("no unpaid beneficiaries to resume")
)

// 授权类错误
var (
	ErrNotOwner           = errors.New("caller is not the vault owner")
	ErrNotAuthorized      = errors.New("caller is not authorized")
	ErrUnknownBeneficiary = errors.New("unknown beneficiary")
)

var validationErrors = []error{
	ErrInvalidIdentity, ErrInvalidShare, ErrSharesExceedFull,
	ErrDuplicateBeneficiary, ErrDurationOutOfBounds, ErrInvalidAmount,
	ErrInvalidAssetClass, ErrTooManyBeneficiaries, ErrTooManyContacts,
}

var stateErrors = []error{
	ErrVaultExists, ErrVaultNotFound, ErrVaultNotActive, ErrVaultClosed,
	ErrNotYetInactive, ErrChallengeNotOpen, ErrChallengeNotExpired,
	ErrRandomDelayApplied, ErrInsufficientBalance,
	ErrNoApprovedBeneficiaries, ErrNothingToResume,
}

var authErrors = []error{
	ErrNotOwner, ErrNotAuthorized, ErrUnknownBeneficiary,
}

func matchAny(err error, set []error) bool {
	for _, e := range set {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// IsValidation 判断是否校验类错误
func IsValidation(err error) bool { return matchAny(err, validationErrors) }

// IsState 判断是否状态类错误
func IsState(err error) bool { return matchAny(err, stateErrors) }

// IsAuth 判断是否授权类错误
func IsAuth(err error) bool { return matchAny(err, authErrors) }

// ===================== 外部协作者 =====================

// TransferFunc 本地转账原语（外部协作者，不透明）
// 失败只影响该受益人的 paid 标记，不中断整轮分发
type TransferFunc func(assetID string, class types.AssetClass, to string, amount *big.Int) error

// SettlementSender 跨域结算发送方（由网关实现）
// 网关受理即视为发送成功，金库不等待目的域确认
type SettlementSender interface {
	SendSettlement(destDomain string, credit *types.SettlementCredit) (string, error)
}

// RandomnessRequester 随机延迟请求方（由预言机回调管理器实现）
// 登记即返回；延迟值在回调到达时经 ApplyRandomDelay 落地
type RandomnessRequester interface {
	NewRandomRequest(owner string, now time.Time) (string, error)
}

// ===================== 状态机守卫 =====================

// isTransitionAllowed 生命周期转移表，所有变更入口统一走它
// ACTIVE → CHALLENGE_OPEN（trigger 一步完成触发+开窗）
// CHALLENGE_OPEN → ACTIVE（override / 更新的活动证明）
// CHALLENGE_OPEN → EXECUTED（挑战期届满后执行，终态）
func isTransitionAllowed(from, to types.VaultState) bool {
	switch from {
	case types.StateActive:
		return to == types.StateChallengeOpen
	case types.StateChallengeOpen:
		return to == types.StateActive || to == types.StateExecuted
	case types.StateExecuted:
		return false
	default:
		return false
	}
}
