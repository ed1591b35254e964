// Package deploymentrunrepotest provides contract tests for
// [domain.DeploymentRunRepository] implementations.
package deploymentrunrepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// Factory creates a fresh [domain.DeploymentRunRepository] for each test.
type Factory func(t *testing.T) domain.DeploymentRunRepository

// Run exercises the [domain.DeploymentRunRepository] contract.
func Run(t *testing.T, factory Factory) {
	now := time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC)

	t.Run("PutAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		run := domain.DeploymentRun{
			DeploymentID: "d1",
			EnvID:        "stage",
			State:        domain.DeployStatusInProcess,
			UpdatedAt:    now,
		}
		if err := repo.Put(ctx, run); err != nil {
			t.Fatalf("Put: %v", err)
		}

		got, err := repo.Get(ctx, "d1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.EnvID != "stage" {
			t.Errorf("EnvID = %q, want %q", got.EnvID, "stage")
		}
		if got.State != domain.DeployStatusInProcess {
			t.Errorf("State = %q, want %q", got.State, domain.DeployStatusInProcess)
		}
		if !got.UpdatedAt.Equal(now) {
			t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, now)
		}
	})

	t.Run("PutOverwrites", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		run := domain.DeploymentRun{DeploymentID: "d1", EnvID: "stage", State: domain.DeployStatusInProcess, UpdatedAt: now}
		_ = repo.Put(ctx, run)

		run.State = domain.DeployStatusSuccess
		run.UpdatedAt = now.Add(time.Minute)
		if err := repo.Put(ctx, run); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, _ := repo.Get(ctx, "d1")
		if got.State != domain.DeployStatusSuccess {
			t.Errorf("State = %q, want %q", got.State, domain.DeployStatusSuccess)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("ListByState", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Put(ctx, domain.DeploymentRun{DeploymentID: "d1", EnvID: "stage", State: domain.DeployStatusInProcess, UpdatedAt: now})
		_ = repo.Put(ctx, domain.DeploymentRun{DeploymentID: "d2", EnvID: "stage", State: domain.DeployStatusSuccess, UpdatedAt: now})
		_ = repo.Put(ctx, domain.DeploymentRun{DeploymentID: "d3", EnvID: "prod", State: domain.DeployStatusInProcess, UpdatedAt: now})

		got, err := repo.ListByState(ctx, domain.DeployStatusInProcess)
		if err != nil {
			t.Fatalf("ListByState: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("ListByState: got %d, want 2", len(got))
		}
	})
}
