package repository

import (
	"context"
	"time"

	"hyphen-sync/internal/domain"
)

// EmployeesRepository B2B 员工 Repository 接口
// 使用强类型领域模型，不使用 map[string]any
type EmployeesRepository interface {
	// GetEmployee 根据 employee_id 获取员工（不存在返回 nil, nil）
	GetEmployee(ctx context.Context, employeeID string) (*domain.B2bEmployee, error)

	// UpdateIdentityHash 回写重算后的身份哈希（凭据漂移校正）
	UpdateIdentityHash(ctx context.Context, employeeID, identityHash string) error

	// TouchLastSynced 更新最近同步时间
	TouchLastSynced(ctx context.Context, employeeID string, at time.Time) error
}

// LinkPatch NHIS 链接的部分更新
// 指针字段为 nil 表示不更新该字段；ClearError 为 true 时清空错误字段。
type LinkPatch struct {
	CookieData       *string
	StepData         *string
	LastIdentityHash *string
	LastFetchedAt    *time.Time
	ClearError       bool
}

// NhisLinksRepository NHIS 链接 Repository 接口
// 链接行从不被本子系统删除，只做 upsert。
type NhisLinksRepository interface {
	// GetLink 获取员工的链接记录（不存在返回 nil, nil）
	GetLink(ctx context.Context, employeeID string) (*domain.NhisLink, error)

	// UpsertLink 按 employee_id upsert 链接记录的部分字段
	UpsertLink(ctx context.Context, employeeID string, patch LinkPatch) error
}

// LatestQuery 历史缓存查询条件（忽略新鲜度）
type LatestQuery struct {
	EmployeeID   string
	IdentityHash string
	Targets      string // 规范化（排序）后逗号连接
	YearLimit    int
	SubjectType  string
}

// FetchCacheRepository 抓取缓存 Repository 接口
// 缓存为 append-only 日志：Save 永远追加，读取总是取最新匹配行。
type FetchCacheRepository interface {
	// GetValidCache 获取新鲜度窗口内的有效缓存（ok = true 且 created_at >= since）
	// 未命中返回 nil, nil
	GetValidCache(ctx context.Context, employeeID, requestHash string, since time.Time) (*domain.NhisFetchCache, error)

	// GetLatestByIdentity 忽略新鲜度，获取身份+请求形状的最新条目（降级回退用）
	GetLatestByIdentity(ctx context.Context, q LatestQuery) (*domain.NhisFetchCache, error)

	// Save 追加一条缓存条目（成功或失败都记录），回填 CacheID / CreatedAt
	Save(ctx context.Context, entry *domain.NhisFetchCache) error

	// MarkHit 命中计数 +1（尽力而为，调用方自行决定是否忽略错误）
	MarkHit(ctx context.Context, cacheID string) error
}

// SnapshotsRepository 健康数据快照 Repository 接口
// 快照不可变：只有 Insert，没有更新和删除。
type SnapshotsRepository interface {
	// Insert 追加一条快照
	Insert(ctx context.Context, snap *domain.HealthDataSnapshot) error
}
