package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"hyphen-sync/internal/domain"

	"github.com/google/uuid"
)

// PostgresSnapshotsRepository 健康数据快照 Repository 实现
type PostgresSnapshotsRepository struct {
	db *sql.DB
}

// NewPostgresSnapshotsRepository 创建快照 Repository
func NewPostgresSnapshotsRepository(db *sql.DB) *PostgresSnapshotsRepository {
	return &PostgresSnapshotsRepository{db: db}
}

// 确保实现了接口
var _ SnapshotsRepository = (*PostgresSnapshotsRepository)(nil)

// Insert 追加一条快照（不可变行，不做内容去重）
func (r *PostgresSnapshotsRepository) Insert(ctx context.Context, snap *domain.HealthDataSnapshot) error {
	if snap == nil || snap.EmployeeID == "" {
		return fmt.Errorf("employee_id is required")
	}
	if snap.NormalizedJSON == "" {
		return fmt.Errorf("normalized_json is required")
	}

	if snap.SnapshotID == "" {
		snap.SnapshotID = uuid.NewString()
	}

	query := `
		INSERT INTO b2b_health_snapshots (
			snapshot_id,
			employee_id,
			provider,
			source_mode,
			raw_json,
			normalized_json,
			fetched_at,
			period_key,
			report_cycle
		) VALUES (
			$1::uuid, $2::uuid, $3, $4, NULLIF($5, '')::jsonb, $6::jsonb, $7, $8, $9
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		snap.SnapshotID,
		snap.EmployeeID,
		snap.Provider,
		snap.SourceMode,
		snap.RawJSON,
		snap.NormalizedJSON,
		time.Unix(snap.FetchedAt, 0),
		snap.PeriodKey,
		snap.ReportCycle,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}
