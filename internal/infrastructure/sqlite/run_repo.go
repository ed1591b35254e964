package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// RunRepo implements [domain.DeploymentRunRepository] backed by SQLite.
type RunRepo struct {
	DB Queryer
}

func (r *RunRepo) Put(ctx context.Context, run domain.DeploymentRun) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO deployment_runs (deployment_id, env_id, state, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (deployment_id) DO UPDATE SET
		   env_id = excluded.env_id,
		   state = excluded.state,
		   updated_at = excluded.updated_at`,
		string(run.DeploymentID), string(run.EnvID), string(run.State), formatTime(run.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert deployment run: %w", err)
	}
	return nil
}

func (r *RunRepo) Get(ctx context.Context, id domain.AssetID) (domain.DeploymentRun, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT deployment_id, env_id, state, updated_at FROM deployment_runs WHERE deployment_id = ?`,
		string(id),
	)
	run, err := scanRun(row)
	if errors.Is(err, domain.ErrNotFound) {
		return run, fmt.Errorf("deployment run %q: %w", id, domain.ErrNotFound)
	}
	return run, err
}

func (r *RunRepo) ListByState(ctx context.Context, state domain.DeployStatus) ([]domain.DeploymentRun, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT deployment_id, env_id, state, updated_at FROM deployment_runs
		 WHERE state = ? ORDER BY updated_at, rowid`,
		string(state),
	)
	if err != nil {
		return nil, fmt.Errorf("list deployment runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.DeploymentRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(s scanner) (domain.DeploymentRun, error) {
	var run domain.DeploymentRun
	var depID, envID, state, updatedAt string
	if err := s.Scan(&depID, &envID, &state, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return run, fmt.Errorf("scan deployment run: %w", err)
	}
	run.DeploymentID = domain.AssetID(depID)
	run.EnvID = domain.EnvironmentID(envID)
	run.State = domain.DeployStatus(state)
	t, err := parseTime(updatedAt)
	if err != nil {
		return run, err
	}
	run.UpdatedAt = t
	return run, nil
}
