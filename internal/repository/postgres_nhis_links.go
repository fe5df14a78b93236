package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"hyphen-sync/internal/domain"
)

// PostgresNhisLinksRepository NHIS 链接 Repository 实现
type PostgresNhisLinksRepository struct {
	db *sql.DB
}

// NewPostgresNhisLinksRepository 创建 NHIS 链接 Repository
func NewPostgresNhisLinksRepository(db *sql.DB) *PostgresNhisLinksRepository {
	return &PostgresNhisLinksRepository{db: db}
}

// 确保实现了接口
var _ NhisLinksRepository = (*PostgresNhisLinksRepository)(nil)

// GetLink 获取员工的链接记录
func (r *PostgresNhisLinksRepository) GetLink(ctx context.Context, employeeID string) (*domain.NhisLink, error) {
	if employeeID == "" {
		return nil, fmt.Errorf("employee_id is required")
	}

	query := `
		SELECT
			employee_id::text,
			linked,
			login_method,
			login_org_cd,
			COALESCE(cookie_data, '') as cookie_data,
			COALESCE(step_data, '') as step_data,
			last_identity_hash,
			COALESCE(EXTRACT(EPOCH FROM last_fetched_at)::bigint, 0) as last_fetched_at,
			last_error_code,
			last_error_message,
			EXTRACT(EPOCH FROM updated_at)::bigint as updated_at
		FROM nhis_links
		WHERE employee_id = $1::uuid
	`

	var link domain.NhisLink
	err := r.db.QueryRowContext(ctx, query, employeeID).Scan(
		&link.EmployeeID,
		&link.Linked,
		&link.LoginMethod,
		&link.LoginOrgCd,
		&link.CookieData,
		&link.StepData,
		&link.LastIdentityHash,
		&link.LastFetchedAt,
		&link.LastErrorCode,
		&link.LastErrorMessage,
		&link.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // 链接不存在，返回 nil
		}
		return nil, fmt.Errorf("failed to get nhis link: %w", err)
	}

	return &link, nil
}

// UpsertLink 按 employee_id upsert 链接记录的部分字段
// nil 指针字段保持原值；ClearError 清空错误字段。
func (r *PostgresNhisLinksRepository) UpsertLink(ctx context.Context, employeeID string, patch LinkPatch) error {
	if employeeID == "" {
		return fmt.Errorf("employee_id is required")
	}

	query := `
		INSERT INTO nhis_links (
			employee_id,
			cookie_data,
			step_data,
			last_identity_hash,
			last_fetched_at,
			last_error_code,
			last_error_message,
			updated_at
		) VALUES (
			$1::uuid,
			$2::text,
			$3::text,
			COALESCE($4::text, ''),
			$5::timestamptz,
			'',
			'',
			now()
		)
		ON CONFLICT (employee_id) DO UPDATE SET
			cookie_data        = COALESCE($2::text, nhis_links.cookie_data),
			step_data          = COALESCE($3::text, nhis_links.step_data),
			last_identity_hash = COALESCE($4::text, nhis_links.last_identity_hash),
			last_fetched_at    = COALESCE($5::timestamptz, nhis_links.last_fetched_at),
			last_error_code    = CASE WHEN $6::boolean THEN '' ELSE nhis_links.last_error_code END,
			last_error_message = CASE WHEN $6::boolean THEN '' ELSE nhis_links.last_error_message END,
			updated_at         = now()
	`

	_, err := r.db.ExecContext(ctx, query,
		employeeID,
		nullableString(patch.CookieData),
		nullableString(patch.StepData),
		nullableString(patch.LastIdentityHash),
		nullableTime(patch.LastFetchedAt),
		patch.ClearError,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert nhis link: %w", err)
	}
	return nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
