// Package environmentrepotest provides contract tests for
// [domain.EnvironmentRepository] implementations.
package environmentrepotest

import (
	"context"
	"errors"
	"testing"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// Factory creates a fresh [domain.EnvironmentRepository] for each test invocation.
type Factory func(t *testing.T) domain.EnvironmentRepository

// Run exercises the [domain.EnvironmentRepository] contract.
func Run(t *testing.T, factory Factory) {
	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		env := domain.Environment{
			ID:     "e1",
			Name:   "stage",
			Labels: map[string]string{"tier": "stage"},
		}

		if err := repo.Create(ctx, env); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.Get(ctx, "e1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Name != "stage" {
			t.Errorf("Name = %q, want %q", got.Name, "stage")
		}
		if got.Labels["tier"] != "stage" {
			t.Errorf("Labels[tier] = %q, want %q", got.Labels["tier"], "stage")
		}
		if got.CreatedAt.IsZero() {
			t.Error("CreatedAt is zero")
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		env := domain.Environment{ID: "e1", Name: "stage"}

		if err := repo.Create(ctx, env); err != nil {
			t.Fatalf("first Create: %v", err)
		}
		err := repo.Create(ctx, env)
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Create: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("ListInCreationOrder", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		envs := []domain.Environment{
			{ID: "e1", Name: "stage"},
			{ID: "e2", Name: "production"},
		}
		for _, env := range envs {
			if err := repo.Create(ctx, env); err != nil {
				t.Fatalf("Create %s: %v", env.ID, err)
			}
		}

		got, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("List: got %d, want 2", len(got))
		}
		if got[0].ID != "e1" || got[1].ID != "e2" {
			t.Errorf("List order = [%s %s], want [e1 e2]", got[0].ID, got[1].ID)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, domain.Environment{ID: "e1", Name: "stage"}); err != nil {
			t.Fatal(err)
		}
		if err := repo.Delete(ctx, "e1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		_, err := repo.Get(ctx, "e1")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get after Delete: got %v, want ErrNotFound", err)
		}
	})

	t.Run("DeleteNotFound", func(t *testing.T) {
		repo := factory(t)
		err := repo.Delete(context.Background(), "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Delete: got %v, want ErrNotFound", err)
		}
	})
}
