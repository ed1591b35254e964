package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// EnvironmentRepo implements [domain.EnvironmentRepository] backed by SQLite.
type EnvironmentRepo struct {
	DB  Queryer
	Now func() time.Time
}

func (r *EnvironmentRepo) Create(ctx context.Context, env domain.Environment) error {
	labels, err := json.Marshal(nonNilLabels(env.Labels))
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	created := env.CreatedAt
	if created.IsZero() {
		created = nowFunc(r.Now)
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO environments (id, name, labels, created_at) VALUES (?, ?, ?, ?)`,
		string(env.ID), env.Name, string(labels), formatTime(created),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("environment %q: %w", env.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert environment: %w", err)
	}
	return nil
}

func (r *EnvironmentRepo) Get(ctx context.Context, id domain.EnvironmentID) (domain.Environment, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, name, labels, created_at FROM environments WHERE id = ?`,
		string(id),
	)
	env, err := scanEnvironment(row)
	if errors.Is(err, domain.ErrNotFound) {
		return env, fmt.Errorf("environment %q: %w", id, domain.ErrNotFound)
	}
	return env, err
}

func (r *EnvironmentRepo) List(ctx context.Context) ([]domain.Environment, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, name, labels, created_at FROM environments ORDER BY created_at, rowid`,
	)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	defer rows.Close()

	var envs []domain.Environment
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, rows.Err()
}

func (r *EnvironmentRepo) Delete(ctx context.Context, id domain.EnvironmentID) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM environments WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete environment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("environment %q: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanEnvironment(s scanner) (domain.Environment, error) {
	var env domain.Environment
	var id, labelsJSON, createdAt string
	if err := s.Scan(&id, &env.Name, &labelsJSON, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return env, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return env, fmt.Errorf("scan environment: %w", err)
	}
	env.ID = domain.EnvironmentID(id)
	if err := json.Unmarshal([]byte(labelsJSON), &env.Labels); err != nil {
		return env, fmt.Errorf("unmarshal labels: %w", err)
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return env, err
	}
	env.CreatedAt = t
	return env, nil
}
