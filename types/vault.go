package types

import "time"

// 金库生命周期状态
type VaultState string

const (
	StateActive        VaultState = "ACTIVE"         // 正常活跃
	StateChallengeOpen VaultState = "CHALLENGE_OPEN" // 触发后的公示期（trigger 一步完成触发+开窗）
	StateExecuted      VaultState = "EXECUTED"       // 分发已执行，终态
	StateOverridden    VaultState = "OVERRIDDEN"     // 仅出现在事件流水里：override 把状态拨回 ACTIVE
)

// 资产类别（封闭集合，按类别分发时走不同的处理器）
type AssetClass string

const (
	AssetFungible     AssetClass = "FUNGIBLE"
	AssetNonFungible  AssetClass = "NON_FUNGIBLE"
	AssetSemiFungible AssetClass = "SEMI_FUNGIBLE"
	AssetCustom       AssetClass = "CUSTOM"
)

// AssetRecord 单个资产在金库里的余额
// Balance 用十进制字符串表示的非负大整数（与账户余额同一套安全运算）
type AssetRecord struct {
	AssetID string
	Class   AssetClass
	Balance string
}

// Beneficiary 受益人
type Beneficiary struct {
	Address string
	// 各资产类别的分配百分比（0-100 的整数）
	SharesByClass map[AssetClass]uint32
	// 受益人自己确认后才会收款
	Approved bool
	// 可选：优先结算域。为空或等于本域时走本地转账，否则经网关跨域发送
	PreferredDomain string
	AddedAt         int64 // unix 秒
}

// Vault 金库主记录，每个 owner 一个
type Vault struct {
	Owner string
	State VaultState

	// 持续时间参数（纳秒，time.Duration 的底层表示）
	InactivityThreshold time.Duration
	ChallengePeriod     time.Duration

	// 活动追踪：只会单调前进
	LastActivity int64 // unix 秒

	// 进入公示期时设置；override 时清零
	ChallengeStartedAt int64 // unix 秒，0 表示未触发

	// 随机附加延迟（秒），每个生命周期最多应用一次，只会让截止时刻后移
	RandomDelay        int64
	RandomDelayApplied bool

	Beneficiaries     []*Beneficiary
	EmergencyContacts []string

	// assetID → 余额记录
	Balances map[string]*AssetRecord

	// 触发时刻的余额快照（分发的守恒基准）；override 时清空
	// 公示期内新到的存款不参与本轮分发，留在金库里
	BalancesAtTrigger map[string]string

	CreatedAt int64
}

// BeneficiaryPayout 一次分发中某个受益人的支付明细
type BeneficiaryPayout struct {
	Address string
	// 路由目的域（为空表示本地转账）
	Domain string
	// 全部应付转账完成（不含金额为 0 被跳过的对）后置 true
	Paid bool
	// assetID → 本次应付金额（十进制字符串）；金额为 0 的资产不会出现
	Amounts map[string]string
	// assetID → 已记账并发起过外部转账（先扣余额再调外部原语，防重入；
	// resume 时对 Attempted 且未 Completed 的对只重试外部调用，不再扣账）
	Attempted map[string]bool
	// assetID → 外部转账已确认成功（跨域发送以网关受理为准）
	Completed map[string]bool
	// 失败原因（仅 Paid=false 且确有失败时非空）
	LastError string
}

// Execution 分发执行记录，进入 EXECUTED 时创建，每个金库一条
// 支持中断后的断点续付：resume 只会重试 Paid=false 的受益人中未尝试/失败的转账
type Execution struct {
	Owner      string
	ExecutedAt int64
	// 触发时刻各资产的快照余额（守恒检查的基准）
	BalancesAtTrigger map[string]string
	Payouts           []*BeneficiaryPayout
}

// Unpaid 返回尚未完成支付的受益人数量
func (e *Execution) Unpaid() int {
	n := 0
	for _, p := range e.Payouts {
		if !p.Paid {
			n++
		}
	}
	return n
}

// FindBeneficiary 在金库里按地址查找受益人，返回下标；未找到返回 -1
func (v *Vault) FindBeneficiary(addr string) int {
	for i, b := range v.Beneficiaries {
		if b.Address == addr {
			return i
		}
	}
	return -1
}

// IsEmergencyContact 判断某地址是否是紧急联系人
func (v *Vault) IsEmergencyContact(addr string) bool {
	for _, c := range v.EmergencyContacts {
		if c == addr {
			return true
		}
	}
	return false
}

// InactivityStatus 给外部 watcher 的只读状态
type InactivityStatus struct {
	Owner        string
	State        VaultState
	LastActivity int64
	// 触发守卫满足（state==ACTIVE 且静默时长达到阈值）
	Triggered   bool
	TriggeredAt int64 // 进入公示期的时刻，未触发为 0
	// 可执行时刻（challengeStartedAt + challengePeriod + randomDelay），未触发为 0
	ExecuteAfter int64
	// watcher 下一次值得轮询的时刻
	NextCheckTime int64
}
