package domain

// NhisFetchCache 抓取缓存条目（append-only 日志的一行）
// 每次抓取尝试（成功或失败）都追加一行，检索时总是取最新匹配行。
// 本子系统从不删除缓存行。
type NhisFetchCache struct {
	CacheID      string `json:"cache_id"`      // UUID
	EmployeeID   string `json:"employee_id"`   // UUID
	IdentityHash string `json:"identity_hash"` // 身份哈希
	RequestHash  string `json:"request_hash"`  // 请求哈希（SHA-256 hex，缓存查找键）
	RequestKey   string `json:"request_key"`   // 未摘要的可读键（调试用）

	Targets     string `json:"targets"`      // 规范化（排序）后逗号连接的 target 列表
	YearLimit   int    `json:"year_limit"`   // 抓取年限
	FromDate    string `json:"from_date"`    // 起始日期（YYYYMMDD）
	ToDate      string `json:"to_date"`      // 结束日期（YYYYMMDD）
	SubjectType string `json:"subject_type"` // 对象类型

	StatusCode int    `json:"status_code"` // HTTP 等价状态（200 成功 / 502 失败）
	OK         bool   `json:"ok"`          // 抓取是否成功
	Payload    string `json:"payload"`     // 路由载荷（JSON 字符串）

	HitCount  int   `json:"hit_count"`   // 缓存命中次数（尽力维护）
	LastHitAt int64 `json:"last_hit_at"` // 最近命中（Unix 时间戳，秒；0 = 从未）
	CreatedAt int64 `json:"created_at"`  // 创建时间（Unix 时间戳，秒）
}
