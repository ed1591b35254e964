package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// SystemInfoRepo implements [domain.SystemInfoRepository] on the single
// row of the system_info table.
type SystemInfoRepo struct {
	DB  Queryer
	Now func() time.Time
}

func (r *SystemInfoRepo) Get(ctx context.Context) (domain.SystemInfo, error) {
	var info domain.SystemInfo
	var status, updatedAt string
	err := r.DB.QueryRowContext(ctx,
		`SELECT status, product_version, updated_at FROM system_info WHERE id = 1`,
	).Scan(&status, &info.ProductVersion, &updatedAt)
	if err != nil {
		return info, fmt.Errorf("read system info: %w", err)
	}
	info.Status = domain.SystemState(status)
	t, err := parseTime(updatedAt)
	if err != nil {
		return info, err
	}
	info.UpdatedAt = t
	return info, nil
}

func (r *SystemInfoRepo) CompareAndSwap(ctx context.Context, allowed []domain.SystemState, next domain.SystemState, version string) (bool, error) {
	if len(allowed) == 0 {
		return false, nil
	}
	args := []any{string(next), version, version, formatTime(nowFunc(r.Now))}
	for _, s := range allowed {
		args = append(args, string(s))
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE system_info
		 SET status = ?,
		     product_version = CASE WHEN ? = '' THEN product_version ELSE ? END,
		     updated_at = ?
		 WHERE id = 1 AND status IN (`+placeholders(len(allowed))+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("update system info: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update system info: %w", err)
	}
	return n == 1, nil
}

func (r *SystemInfoRepo) Put(ctx context.Context, info domain.SystemInfo) error {
	updated := info.UpdatedAt
	if updated.IsZero() {
		updated = nowFunc(r.Now)
	}
	_, err := r.DB.ExecContext(ctx,
		`UPDATE system_info SET status = ?, product_version = ?, updated_at = ? WHERE id = 1`,
		string(info.Status), info.ProductVersion, formatTime(updated),
	)
	if err != nil {
		return fmt.Errorf("write system info: %w", err)
	}
	return nil
}
