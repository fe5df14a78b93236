package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"hyphen-sync/internal/domain"

	"github.com/google/uuid"
)

// PostgresFetchCacheRepository 抓取缓存 Repository 实现
type PostgresFetchCacheRepository struct {
	db *sql.DB
}

// NewPostgresFetchCacheRepository 创建抓取缓存 Repository
func NewPostgresFetchCacheRepository(db *sql.DB) *PostgresFetchCacheRepository {
	return &PostgresFetchCacheRepository{db: db}
}

// 确保实现了接口
var _ FetchCacheRepository = (*PostgresFetchCacheRepository)(nil)

const fetchCacheColumns = `
	cache_id::text,
	employee_id::text,
	identity_hash,
	request_hash,
	request_key,
	targets,
	year_limit,
	from_date,
	to_date,
	subject_type,
	status_code,
	ok,
	payload::text,
	hit_count,
	COALESCE(EXTRACT(EPOCH FROM last_hit_at)::bigint, 0) as last_hit_at,
	EXTRACT(EPOCH FROM created_at)::bigint as created_at`

func scanFetchCache(row *sql.Row) (*domain.NhisFetchCache, error) {
	var e domain.NhisFetchCache
	err := row.Scan(
		&e.CacheID,
		&e.EmployeeID,
		&e.IdentityHash,
		&e.RequestHash,
		&e.RequestKey,
		&e.Targets,
		&e.YearLimit,
		&e.FromDate,
		&e.ToDate,
		&e.SubjectType,
		&e.StatusCode,
		&e.OK,
		&e.Payload,
		&e.HitCount,
		&e.LastHitAt,
		&e.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// GetValidCache 获取新鲜度窗口内的有效缓存条目（最新优先）
func (r *PostgresFetchCacheRepository) GetValidCache(ctx context.Context, employeeID, requestHash string, since time.Time) (*domain.NhisFetchCache, error) {
	if employeeID == "" || requestHash == "" {
		return nil, fmt.Errorf("employee_id and request_hash are required")
	}

	query := `
		SELECT ` + fetchCacheColumns + `
		FROM nhis_fetch_cache
		WHERE employee_id = $1::uuid
		  AND request_hash = $2
		  AND ok = TRUE
		  AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT 1
	`

	entry, err := scanFetchCache(r.db.QueryRowContext(ctx, query, employeeID, requestHash, since))
	if err != nil {
		return nil, fmt.Errorf("failed to get valid fetch cache: %w", err)
	}
	return entry, nil
}

// GetLatestByIdentity 忽略新鲜度，按身份+请求形状取最新条目
func (r *PostgresFetchCacheRepository) GetLatestByIdentity(ctx context.Context, q LatestQuery) (*domain.NhisFetchCache, error) {
	if q.EmployeeID == "" || q.IdentityHash == "" {
		return nil, fmt.Errorf("employee_id and identity_hash are required")
	}

	query := `
		SELECT ` + fetchCacheColumns + `
		FROM nhis_fetch_cache
		WHERE employee_id = $1::uuid
		  AND identity_hash = $2
		  AND targets = $3
		  AND year_limit = $4
		  AND subject_type = $5
		ORDER BY created_at DESC
		LIMIT 1
	`

	entry, err := scanFetchCache(r.db.QueryRowContext(ctx, query,
		q.EmployeeID, q.IdentityHash, q.Targets, q.YearLimit, q.SubjectType))
	if err != nil {
		return nil, fmt.Errorf("failed to get latest fetch cache: %w", err)
	}
	return entry, nil
}

// Save 追加一条缓存条目（永远 INSERT，不做原地更新）
func (r *PostgresFetchCacheRepository) Save(ctx context.Context, entry *domain.NhisFetchCache) error {
	if entry == nil || entry.EmployeeID == "" || entry.RequestHash == "" {
		return fmt.Errorf("employee_id and request_hash are required")
	}

	if entry.CacheID == "" {
		entry.CacheID = uuid.NewString()
	}

	query := `
		INSERT INTO nhis_fetch_cache (
			cache_id,
			employee_id,
			identity_hash,
			request_hash,
			request_key,
			targets,
			year_limit,
			from_date,
			to_date,
			subject_type,
			status_code,
			ok,
			payload,
			hit_count,
			created_at
		) VALUES (
			$1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, 0, now()
		)
		RETURNING EXTRACT(EPOCH FROM created_at)::bigint
	`

	err := r.db.QueryRowContext(ctx, query,
		entry.CacheID,
		entry.EmployeeID,
		entry.IdentityHash,
		entry.RequestHash,
		entry.RequestKey,
		entry.Targets,
		entry.YearLimit,
		entry.FromDate,
		entry.ToDate,
		entry.SubjectType,
		entry.StatusCode,
		entry.OK,
		entry.Payload,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save fetch cache: %w", err)
	}
	return nil
}

// MarkHit 命中计数 +1
func (r *PostgresFetchCacheRepository) MarkHit(ctx context.Context, cacheID string) error {
	if cacheID == "" {
		return fmt.Errorf("cache_id is required")
	}

	query := `
		UPDATE nhis_fetch_cache
		SET hit_count = hit_count + 1,
			last_hit_at = now()
		WHERE cache_id = $1::uuid
	`
	if _, err := r.db.ExecContext(ctx, query, cacheID); err != nil {
		return fmt.Errorf("failed to mark cache hit: %w", err)
	}
	return nil
}
