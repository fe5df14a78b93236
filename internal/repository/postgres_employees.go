package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"hyphen-sync/internal/domain"
)

// PostgresEmployeesRepository B2B 员工 Repository 实现
type PostgresEmployeesRepository struct {
	db *sql.DB
}

// NewPostgresEmployeesRepository 创建员工 Repository
func NewPostgresEmployeesRepository(db *sql.DB) *PostgresEmployeesRepository {
	return &PostgresEmployeesRepository{db: db}
}

// 确保实现了接口
var _ EmployeesRepository = (*PostgresEmployeesRepository)(nil)

// GetEmployee 根据 employee_id 获取员工
func (r *PostgresEmployeesRepository) GetEmployee(ctx context.Context, employeeID string) (*domain.B2bEmployee, error) {
	if employeeID == "" {
		return nil, fmt.Errorf("employee_id is required")
	}

	query := `
		SELECT
			employee_id::text,
			company_id::text,
			name,
			birth_date,
			phone,
			login_org_cd,
			identity_hash,
			COALESCE(EXTRACT(EPOCH FROM last_synced_at)::bigint, 0) as last_synced_at,
			EXTRACT(EPOCH FROM created_at)::bigint as created_at,
			EXTRACT(EPOCH FROM updated_at)::bigint as updated_at
		FROM b2b_employees
		WHERE employee_id = $1::uuid
	`

	var emp domain.B2bEmployee
	err := r.db.QueryRowContext(ctx, query, employeeID).Scan(
		&emp.EmployeeID,
		&emp.CompanyID,
		&emp.Name,
		&emp.BirthDate,
		&emp.Phone,
		&emp.LoginOrgCd,
		&emp.IdentityHash,
		&emp.LastSyncedAt,
		&emp.CreatedAt,
		&emp.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // 员工不存在，返回 nil
		}
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}

	return &emp, nil
}

// UpdateIdentityHash 回写重算后的身份哈希
func (r *PostgresEmployeesRepository) UpdateIdentityHash(ctx context.Context, employeeID, identityHash string) error {
	if employeeID == "" || identityHash == "" {
		return fmt.Errorf("employee_id and identity_hash are required")
	}

	query := `
		UPDATE b2b_employees
		SET identity_hash = $2,
			updated_at = now()
		WHERE employee_id = $1::uuid
	`
	if _, err := r.db.ExecContext(ctx, query, employeeID, identityHash); err != nil {
		return fmt.Errorf("failed to update identity hash: %w", err)
	}
	return nil
}

// TouchLastSynced 更新最近同步时间
func (r *PostgresEmployeesRepository) TouchLastSynced(ctx context.Context, employeeID string, at time.Time) error {
	if employeeID == "" {
		return fmt.Errorf("employee_id is required")
	}

	query := `
		UPDATE b2b_employees
		SET last_synced_at = $2,
			updated_at = now()
		WHERE employee_id = $1::uuid
	`
	if _, err := r.db.ExecContext(ctx, query, employeeID, at); err != nil {
		return fmt.Errorf("failed to touch last_synced_at: %w", err)
	}
	return nil
}
