package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"time"

	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/rs/zerolog"

	"github.com/zqdou/kraken-ent/internal/application"
	"github.com/zqdou/kraken-ent/internal/config"
	"github.com/zqdou/kraken-ent/internal/domain"
	"github.com/zqdou/kraken-ent/internal/infrastructure/content"
	"github.com/zqdou/kraken-ent/internal/infrastructure/dbosworkflows"
	"github.com/zqdou/kraken-ent/internal/infrastructure/goworkflows"
	"github.com/zqdou/kraken-ent/internal/infrastructure/sqlite"
	"github.com/zqdou/kraken-ent/internal/infrastructure/syncworkflow"
	"github.com/zqdou/kraken-ent/internal/infrastructure/upgradesource"
)

// app holds the services wired over one store.
type app struct {
	cfg     config.Config
	db      *sql.DB
	store   *sqlite.Store
	content fs.FS

	ingester *application.IngestionJob
	local    *upgradesource.Local
	file     *upgradesource.File

	environments *application.EnvironmentService
	controlPlane *application.ControlPlaneService
	stage        *application.StageService
	promotion    *application.PromotionService
	status       *application.DeploymentStatusService
	upgrades     *application.TemplateUpgradeService
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	db, err := sqlite.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	now := func() time.Time { return time.Now().UTC() }
	contentFS := os.DirFS(cfg.Upgrade.ContentRoot)

	store := &sqlite.Store{DB: db, Now: now}
	local := &upgradesource.Local{Assets: store.Assets(), Events: store.Events(), Now: now}
	file := &upgradesource.File{FS: contentFS, Assets: store.Assets()}
	sources := &upgradesource.Registry{
		Sources: map[string]domain.UpgradeSource{
			upgradesource.OriginLocal: local,
			upgradesource.OriginFile:  file,
		},
		Default: cfg.Upgrade.DefaultSource,
	}
	executor := &sqlite.RecordingExecutor{Runs: store.Runs(), Now: now}
	release := &application.ReleaseService{}
	upgrades := &application.TemplateUpgradeService{Store: store}
	rollouts := &application.RolloutService{Store: store, Release: release, Executor: executor}
	ingester := &application.IngestionJob{Loader: &content.FSLoader{FS: contentFS}}

	return &app{
		cfg:          cfg,
		db:           db,
		store:        store,
		content:      contentFS,
		ingester:     ingester,
		local:        local,
		file:         file,
		environments: &application.EnvironmentService{Environments: store.Environments()},
		controlPlane: &application.ControlPlaneService{
			Store:           store,
			Sources:         sources,
			Ingester:        ingester,
			MergeLabelKinds: cfg.Upgrade.MergeLabels(),
		},
		stage: &application.StageService{
			Store:    store,
			Upgrades: upgrades,
			Rollouts: rollouts,
			Sources:  sources,
		},
		promotion: &application.PromotionService{
			Store:    store,
			Upgrades: upgrades,
			Release:  release,
			Executor: executor,
		},
		status:   &application.DeploymentStatusService{Store: store, Now: now},
		upgrades: upgrades,
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func (a *app) workflow() *domain.UpgradeWorkflow {
	return &domain.UpgradeWorkflow{
		ControlPlane: a.controlPlane,
		Stage:        a.stage,
		Assets:       a.store.Assets(),
	}
}

// loadDocument upserts one asset document from the content root under
// parent, regardless of its stored template version.
func (a *app) loadDocument(ctx context.Context, parent, path, user string) error {
	return a.ingester.IngestData(ctx, a.store.Assets(), domain.IngestEvent{
		ParentKey:    parent,
		FullPath:     path,
		ActingUserID: user,
		EnforceSync:  true,
	})
}

// importPackage registers the manifest at path, relative to the content
// root, through the named upgrade source.
func (a *app) importPackage(ctx context.Context, source, path, user string) (domain.AssetID, error) {
	switch source {
	case upgradesource.OriginLocal:
		m, err := upgradesource.ReadManifest(a.content, path)
		if err != nil {
			return "", err
		}
		return a.local.Import(ctx, m, user)
	case upgradesource.OriginFile:
		return a.file.Import(ctx, path, user)
	default:
		return "", fmt.Errorf("%w: unknown upgrade source %q", domain.ErrInvalidArgument, source)
	}
}

// upgradeRunner builds the runner of the configured engine. The returned
// stop function releases the engine and must be called once the run has
// completed.
func (a *app) upgradeRunner(ctx context.Context) (domain.UpgradeRunner, func(), error) {
	logger := zerolog.Ctx(ctx)
	wf := a.workflow()

	switch a.cfg.Workflow.Engine {
	case config.EngineSync:
		r, err := (&syncworkflow.Engine{}).UpgradeRunner(wf)
		return r, func() {}, err

	case config.EngineGoWorkflows:
		b := wfsqlite.NewSqliteBackend(a.cfg.Workflow.GoWorkflowsDSN)
		w := worker.New(b, nil)
		wctx, cancel := context.WithCancel(ctx)
		engine := &goworkflows.Engine{Worker: w, Client: client.New(b), Timeout: a.cfg.Workflow.Timeout}
		r, err := engine.UpgradeRunner(wf)
		if err != nil {
			cancel()
			return nil, nil, err
		}
		if err := w.Start(wctx); err != nil {
			cancel()
			return nil, nil, fmt.Errorf("start go-workflows worker: %w", err)
		}
		stop := func() {
			cancel()
			if err := w.WaitForCompletion(); err != nil {
				logger.Warn().Err(err).Msg("go-workflows worker did not stop cleanly")
			}
		}
		return r, stop, nil

	case config.EngineDBOS:
		dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
			AppName:     "upgradectl",
			DatabaseURL: a.cfg.Workflow.DBOSDatabaseURL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create dbos context: %w", err)
		}
		r, err := (&dbosworkflows.Engine{DBOSCtx: dbosCtx}).UpgradeRunner(wf)
		if err != nil {
			return nil, nil, err
		}
		if err := dbos.Launch(dbosCtx); err != nil {
			return nil, nil, fmt.Errorf("launch dbos: %w", err)
		}
		return r, func() { dbos.Shutdown(dbosCtx, 5*time.Second) }, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown workflow engine %q", domain.ErrInvalidArgument, a.cfg.Workflow.Engine)
}
