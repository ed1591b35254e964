// Package systeminforepotest provides contract tests for
// [domain.SystemInfoRepository] implementations.
package systeminforepotest

import (
	"context"
	"testing"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// Factory creates a fresh [domain.SystemInfoRepository] for each test.
// A fresh repository reports [domain.SystemIdle].
type Factory func(t *testing.T) domain.SystemInfoRepository

// Run exercises the [domain.SystemInfoRepository] contract.
func Run(t *testing.T, factory Factory) {
	t.Run("StartsIdle", func(t *testing.T) {
		repo := factory(t)
		got, err := repo.Get(context.Background())
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != domain.SystemIdle {
			t.Errorf("Status = %q, want %q", got.Status, domain.SystemIdle)
		}
	})

	t.Run("CompareAndSwapAllowed", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		ok, err := repo.CompareAndSwap(ctx, domain.CanUpgradeStates, domain.SystemControlPlaneUpgrading, "")
		if err != nil {
			t.Fatalf("CompareAndSwap: %v", err)
		}
		if !ok {
			t.Fatal("CompareAndSwap: got false, want true")
		}
		got, _ := repo.Get(ctx)
		if got.Status != domain.SystemControlPlaneUpgrading {
			t.Errorf("Status = %q, want %q", got.Status, domain.SystemControlPlaneUpgrading)
		}
	})

	t.Run("CompareAndSwapRejected", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		ok, err := repo.CompareAndSwap(ctx, domain.ProductionUpgradeStates, domain.SystemProductionUpgrading, "")
		if err != nil {
			t.Fatalf("CompareAndSwap: %v", err)
		}
		if ok {
			t.Fatal("CompareAndSwap from IDLE into production: got true, want false")
		}
		got, _ := repo.Get(ctx)
		if got.Status != domain.SystemIdle {
			t.Errorf("Status = %q, want unchanged %q", got.Status, domain.SystemIdle)
		}
	})

	t.Run("CompareAndSwapRecordsVersion", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if _, err := repo.CompareAndSwap(ctx, []domain.SystemState{domain.SystemIdle}, domain.SystemControlPlaneUpgradeDone, "1.2.0"); err != nil {
			t.Fatalf("CompareAndSwap: %v", err)
		}
		if _, err := repo.CompareAndSwap(ctx, []domain.SystemState{domain.SystemControlPlaneUpgradeDone}, domain.SystemStageUpgrading, ""); err != nil {
			t.Fatalf("CompareAndSwap: %v", err)
		}
		got, _ := repo.Get(ctx)
		if got.ProductVersion != "1.2.0" {
			t.Errorf("ProductVersion = %q, want %q kept across an empty version", got.ProductVersion, "1.2.0")
		}
	})

	t.Run("Put", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Put(ctx, domain.SystemInfo{Status: domain.SystemStageUpgradeDone, ProductVersion: "2.0.0"}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, _ := repo.Get(ctx)
		if got.Status != domain.SystemStageUpgradeDone || got.ProductVersion != "2.0.0" {
			t.Errorf("got %+v, want STAGE_UPGRADE_DONE at 2.0.0", got)
		}
	})
}
