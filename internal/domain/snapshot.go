package domain

// 快照来源模式
const (
	SourceCacheValid   = "cache-valid"   // 新鲜度窗口内的缓存命中
	SourceCacheHistory = "cache-history" // 过期但可用的历史缓存
	SourceFresh        = "fresh"         // 真实网络抓取（含补抓）
)

// HealthDataSnapshot 健康数据快照（append-only，不可变）
// 每次成功同步追加一行，不做内容去重；用于报表的历史趋势。
type HealthDataSnapshot struct {
	SnapshotID     string `json:"snapshot_id"`     // UUID
	EmployeeID     string `json:"employee_id"`     // UUID
	Provider       string `json:"provider"`        // 数据提供方（"hyphen-nhis"）
	SourceMode     string `json:"source_mode"`     // cache-valid | cache-history | fresh
	RawJSON        string `json:"raw_json"`        // 原始数据（JSON 字符串，可为空）
	NormalizedJSON string `json:"normalized_json"` // 规范化数据（JSON 字符串）
	FetchedAt      int64  `json:"fetched_at"`      // 抓取时间（Unix 时间戳，秒）
	PeriodKey      string `json:"period_key"`      // 报表周期键（YYYYMM）
	ReportCycle    string `json:"report_cycle"`    // 报表周期（如 "monthly"）
}
