package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zqdou/kraken-ent/internal/domain"
	"github.com/zqdou/kraken-ent/internal/domain/assetstoretest"
	"github.com/zqdou/kraken-ent/internal/domain/deploymentrunrepotest"
	"github.com/zqdou/kraken-ent/internal/domain/environmentrepotest"
	"github.com/zqdou/kraken-ent/internal/domain/eventrepotest"
	"github.com/zqdou/kraken-ent/internal/domain/systeminforepotest"
	"github.com/zqdou/kraken-ent/internal/infrastructure/sqlite"
)

func TestAssetRepo(t *testing.T) {
	assetstoretest.Run(t, func(t *testing.T) domain.AssetStore {
		db := sqlite.OpenTestDB(t)
		return &sqlite.AssetRepo{DB: db}
	})
}

func TestEnvironmentRepo(t *testing.T) {
	environmentrepotest.Run(t, func(t *testing.T) domain.EnvironmentRepository {
		db := sqlite.OpenTestDB(t)
		return &sqlite.EnvironmentRepo{DB: db}
	})
}

func TestSystemInfoRepo(t *testing.T) {
	systeminforepotest.Run(t, func(t *testing.T) domain.SystemInfoRepository {
		db := sqlite.OpenTestDB(t)
		return &sqlite.SystemInfoRepo{DB: db}
	})
}

func TestEventRepo(t *testing.T) {
	eventrepotest.Run(t, func(t *testing.T) domain.EventRepository {
		db := sqlite.OpenTestDB(t)
		return &sqlite.EventRepo{DB: db}
	})
}

func TestRunRepo(t *testing.T) {
	deploymentrunrepotest.Run(t, func(t *testing.T) domain.DeploymentRunRepository {
		db := sqlite.OpenTestDB(t)
		return &sqlite.RunRepo{DB: db}
	})
}

func TestStore_WithTxRollsBack(t *testing.T) {
	store := &sqlite.Store{DB: sqlite.OpenTestDB(t)}
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx domain.Store) error {
		if _, err := tx.System().CompareAndSwap(ctx, domain.CanUpgradeStates, domain.SystemControlPlaneUpgrading, ""); err != nil {
			return err
		}
		res, err := tx.Assets().Sync(ctx, "", domain.Asset{Kind: domain.KindProduct, Key: "p"}, domain.SyncMetadata{})
		if err != nil {
			return err
		}
		if !res.OK() {
			t.Fatalf("Sync: code %d", res.Code)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx: got %v, want boom", err)
	}

	if _, err := store.Assets().FindOne(ctx, domain.KindProduct, "p"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("asset after rollback: got %v, want ErrNotFound", err)
	}
	info, err := store.System().Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if info.Status != domain.SystemIdle {
		t.Errorf("Status after rollback = %q, want IDLE", info.Status)
	}
}

func TestStore_WithTxNestedJoinsOuter(t *testing.T) {
	store := &sqlite.Store{DB: sqlite.OpenTestDB(t)}
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx domain.Store) error {
		return tx.WithTx(ctx, func(inner domain.Store) error {
			_, err := inner.Assets().Sync(ctx, "", domain.Asset{Kind: domain.KindProduct, Key: "p"}, domain.SyncMetadata{})
			return err
		})
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if _, err := store.Assets().FindOne(ctx, domain.KindProduct, "p"); err != nil {
		t.Errorf("FindOne after commit: %v", err)
	}
}

func TestAssetRepo_SyncSendEvent(t *testing.T) {
	db := sqlite.OpenTestDB(t)
	repo := &sqlite.AssetRepo{DB: db}
	events := &sqlite.EventRepo{DB: db}
	ctx := context.Background()

	a := domain.Asset{Kind: domain.KindProduct, Key: "p", Labels: map[string]string{"v": "1"}}
	meta := domain.SyncMetadata{SyncedBy: "u", SendEvent: true}
	if _, err := repo.Sync(ctx, "", a, meta); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if _, err := repo.Sync(ctx, "", a, meta); err != nil {
		t.Fatalf("second Sync: %v", err)
	}

	pending, err := events.ListByStatus(ctx, domain.EventWaitToSend)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("events = %d, want 1 (identical sync must not emit)", len(pending))
	}
	if pending[0].Type != domain.EventAssetSynced {
		t.Errorf("Type = %q, want %q", pending[0].Type, domain.EventAssetSynced)
	}
}

func TestRecordingExecutor(t *testing.T) {
	db := sqlite.OpenTestDB(t)
	runs := &sqlite.RunRepo{DB: db}
	exec := &sqlite.RecordingExecutor{
		Runs: runs,
		Now:  func() time.Time { return time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC) },
	}
	ctx := context.Background()

	if err := exec.Submit(ctx, "d1", "stage"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	run, err := runs.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if run.State != domain.DeployStatusInProcess {
		t.Errorf("State = %q, want %q", run.State, domain.DeployStatusInProcess)
	}
	if run.EnvID != "stage" {
		t.Errorf("EnvID = %q, want stage", run.EnvID)
	}
}
