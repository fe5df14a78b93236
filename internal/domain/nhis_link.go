package domain

// NhisLink NHIS 链接领域模型（每个员工一行）
// linked / cookie_data 由链接建立流程（init/sign，核心范围外）写入；
// 本服务只在成功抓取后机会性刷新 cookie_data / step_data 并清除错误字段。
type NhisLink struct {
	EmployeeID  string `json:"employee_id"`  // UUID
	Linked      bool   `json:"linked"`       // 是否已完成链接建立
	LoginMethod string `json:"login_method"` // 登录方式（如 "EASY"）
	LoginOrgCd  string `json:"login_org_cd"` // 登录机构代码

	CookieData string `json:"cookie_data"` // 会话 cookie（不透明 JSON 字符串，"" = 无）
	StepData   string `json:"step_data"`   // 登录步骤数据（不透明 JSON 字符串，"" = 无）

	LastIdentityHash string `json:"last_identity_hash"` // 最近一次抓取使用的身份哈希
	LastFetchedAt    int64  `json:"last_fetched_at"`    // 最近一次真实抓取（Unix 时间戳，秒；0 = 从未）
	LastErrorCode    string `json:"last_error_code"`    // 最近一次错误代码（"" = 无）
	LastErrorMessage string `json:"last_error_message"` // 最近一次错误信息

	UpdatedAt int64 `json:"updated_at"` // 更新时间（Unix 时间戳，秒）
}
