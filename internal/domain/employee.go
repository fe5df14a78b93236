package domain

// B2bEmployee B2B 员工领域模型
type B2bEmployee struct {
	EmployeeID string `json:"employee_id"` // UUID
	CompanyID  string `json:"company_id"`  // UUID
	Name       string `json:"name"`        // 姓名
	BirthDate  string `json:"birth_date"`  // 出生日期（YYYYMMDD 文本）
	Phone      string `json:"phone"`       // 手机号
	LoginOrgCd string `json:"login_org_cd"` // NHIS 登录机构代码

	// IdentityHash 身份哈希：由规范化后的（姓名、出生日期、手机号、登录机构）
	// 计算得出。凭据变更时由解析器重算，调用方负责回写。
	IdentityHash string `json:"identity_hash"`

	LastSyncedAt int64 `json:"last_synced_at"` // 最近一次成功同步（Unix 时间戳，秒；0 = 从未）
	CreatedAt    int64 `json:"created_at"`     // 创建时间（Unix 时间戳，秒）
	UpdatedAt    int64 `json:"updated_at"`     // 更新时间（Unix 时间戳，秒）
}
