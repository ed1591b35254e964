// Package applicationtest wires the application services over an
// in-memory SQLite store and a small catalog of asset documents, for use
// by tests of the services and the workflow engines.
package applicationtest

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/zqdou/kraken-ent/internal/application"
	"github.com/zqdou/kraken-ent/internal/domain"
	"github.com/zqdou/kraken-ent/internal/infrastructure/content"
	"github.com/zqdou/kraken-ent/internal/infrastructure/sqlite"
	"github.com/zqdou/kraken-ent/internal/infrastructure/upgradesource"
)

// Keys of the catalog assets.
const (
	ProductKey      = "mef.sonata"
	BuyerKey        = "mef.sonata.buyer.default"
	ComponentKey    = "mef.sonata.api.quote"
	TargetAddKey    = "mef.sonata.api-target.quote.add"
	MapperAddKey    = "mef.sonata.api-target-mapper.quote.uni.add"
	MapperDeleteKey = "mef.sonata.api-target-mapper.quote.uni.delete"
	SpecOrderKey    = "mef.sonata.api-spec.order"

	StageEnv      domain.EnvironmentID = "stage-1"
	ProductionEnv domain.EnvironmentID = "prod-1"
)

// Content is the catalog. The quote component declares two use cases:
// quote-add, whose mapper is deployed, and quote-delete, whose mapper has
// never been released.
var Content = fstest.MapFS{
	"templates/buyer.yaml": {Data: []byte(`
kind: kraken.product.buyer
metadata:
  key: mef.sonata.buyer.default
  name: Default buyer
`)},
	"templates/api-quote.yaml": {Data: []byte(`
kind: kraken.component.api
metadata:
  key: mef.sonata.api.quote
  name: Quote
  version: 1.3.0
links:
  - targetAssetKey: mef.sonata.api-target.quote.add
    relationship: implementation.target
    group: quote-add
  - targetAssetKey: mef.sonata.api-target-mapper.quote.uni.add
    relationship: implementation.target-mapper
    group: quote-add
  - targetAssetKey: mef.sonata.api-target.quote.delete
    relationship: implementation.target
    group: quote-delete
  - targetAssetKey: mef.sonata.api-target-mapper.quote.uni.delete
    relationship: implementation.target-mapper
    group: quote-delete
`)},
	"templates/api-target-quote-add.yaml": {Data: []byte(`
kind: kraken.component.api-target
metadata:
  key: mef.sonata.api-target.quote.add
  version: 1.3.0
`)},
	"templates/mapper-add.yaml": {Data: []byte(`
kind: kraken.component.api-target-mapper
metadata:
  key: mef.sonata.api-target-mapper.quote.uni.add
  version: 1.3.0
  labels:
    deployedStatus: DEPLOYED
facets:
  trigger:
    path: /mefApi/sonata/quoteManagement/v8/quote
    method: post
    actionType: add
`)},
	"templates/mapper-delete.yaml": {Data: []byte(`
kind: kraken.component.api-target-mapper
metadata:
  key: mef.sonata.api-target-mapper.quote.uni.delete
  version: 1.3.0
facets:
  trigger:
    path: /mefApi/sonata/quoteManagement/v8/quote
    method: delete
    actionType: delete
`)},
	"templates/api-spec-order.yaml": {Data: []byte(`
kind: kraken.component.api-spec
metadata:
  key: mef.sonata.api-spec.order
  version: 1.3.0
`)},
}

// Manifest is a package touching every catalog asset. Its stage rollout
// produces one system deployment (quote component and order spec), one
// mapper deployment (quote-add) and one mapper draft (quote-delete).
const Manifest = `
productKey: mef.sonata
productVersion: v1.3.0
releaseKey: r-2026-03
directSaves:
  - key: mef.sonata.buyer.default
    kind: kraken.product.buyer
    fullPath: classpath:/templates/buyer.yaml
    productKey: mef.sonata
versionChangedTemplates:
  - key: mef.sonata.api.quote
    kind: kraken.component.api
    fullPath: classpath:/templates/api-quote.yaml
  - key: mef.sonata.api-target.quote.add
    kind: kraken.component.api-target
    fullPath: classpath:/templates/api-target-quote-add.yaml
  - key: mef.sonata.api-target-mapper.quote.uni.add
    kind: kraken.component.api-target-mapper
    fullPath: classpath:/templates/mapper-add.yaml
  - key: mef.sonata.api-target-mapper.quote.uni.delete
    kind: kraken.component.api-target-mapper
    fullPath: classpath:/templates/mapper-delete.yaml
enforceUpgradeTemplates:
  - key: mef.sonata.api-spec.order
    kind: kraken.component.api-spec
    fullPath: classpath:/templates/api-spec-order.yaml
`

// Stack holds the wired services.
type Stack struct {
	Store        *sqlite.Store
	Local        *upgradesource.Local
	Environments *application.EnvironmentService
	ControlPlane *application.ControlPlaneService
	Rollouts     *application.RolloutService
	Stage        *application.StageService
	Promotion    *application.PromotionService
	Status       *application.DeploymentStatusService
	Upgrades     *application.TemplateUpgradeService
}

// New returns a stack with the product and the stage and production
// environments registered.
func New(t *testing.T) *Stack {
	t.Helper()
	ctx := context.Background()
	now := func() time.Time { return time.Now().UTC() }

	store := &sqlite.Store{DB: sqlite.OpenTestDB(t), Now: now}
	local := &upgradesource.Local{Assets: store.Assets(), Events: store.Events(), Now: now}
	sources := &upgradesource.Registry{
		Sources: map[string]domain.UpgradeSource{upgradesource.OriginLocal: local},
		Default: upgradesource.OriginLocal,
	}
	executor := &sqlite.RecordingExecutor{Runs: store.Runs(), Now: now}
	release := &application.ReleaseService{}
	upgrades := &application.TemplateUpgradeService{Store: store}
	rollouts := &application.RolloutService{Store: store, Release: release, Executor: executor}

	s := &Stack{
		Store:        store,
		Local:        local,
		Environments: &application.EnvironmentService{Environments: store.Environments()},
		ControlPlane: &application.ControlPlaneService{
			Store:           store,
			Sources:         sources,
			Ingester:        &application.IngestionJob{Loader: &content.FSLoader{FS: Content}},
			MergeLabelKinds: map[domain.AssetKind]bool{domain.KindComponentAPITargetMapper: true},
		},
		Rollouts: rollouts,
		Stage: &application.StageService{
			Store:    store,
			Upgrades: upgrades,
			Rollouts: rollouts,
			Sources:  sources,
		},
		Promotion: &application.PromotionService{
			Store:    store,
			Upgrades: upgrades,
			Release:  release,
			Executor: executor,
		},
		Status:   &application.DeploymentStatusService{Store: store, Now: now},
		Upgrades: upgrades,
	}

	res, err := store.Assets().Sync(ctx, "", domain.Asset{
		Kind: domain.KindProduct,
		Key:  ProductKey,
		Name: "Sonata",
	}, domain.SyncMetadata{SyncedBy: "system"})
	if err != nil || !res.OK() {
		t.Fatalf("sync product: %v (code %d: %s)", err, res.Code, res.Message)
	}
	for _, env := range []domain.Environment{
		{ID: StageEnv, Name: "Stage"},
		{ID: ProductionEnv, Name: "Production"},
	} {
		if err := s.Environments.Register(ctx, env); err != nil {
			t.Fatalf("register environment %s: %v", env.ID, err)
		}
	}
	return s
}

// ImportPackage registers the manifest as a local upgrade package.
func (s *Stack) ImportPackage(t *testing.T, manifest string) domain.AssetID {
	t.Helper()
	m, err := upgradesource.ReadManifest(fstest.MapFS{"m.yaml": {Data: []byte(manifest)}}, "m.yaml")
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	id, err := s.Local.Import(context.Background(), m, "admin")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	return id
}

// Workflow returns the upgrade workflow over the stack's services.
func (s *Stack) Workflow() *domain.UpgradeWorkflow {
	return &domain.UpgradeWorkflow{
		ControlPlane: s.ControlPlane,
		Stage:        s.Stage,
		Assets:       s.Store.Assets(),
	}
}

// SystemStatus returns the persisted system state.
func (s *Stack) SystemStatus(t *testing.T) domain.SystemState {
	t.Helper()
	info, err := s.Store.System().Get(context.Background())
	if err != nil {
		t.Fatalf("system info: %v", err)
	}
	return info.Status
}

// TemplateDeployment returns a template deployment and its composition.
func (s *Stack) TemplateDeployment(t *testing.T, id domain.AssetID) (domain.Asset, domain.EnvDeployment) {
	t.Helper()
	a, err := s.Store.Assets().Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get %s: %v", id, err)
	}
	f, err := domain.FacetAs[*domain.TemplateDeploymentFacet](a)
	if err != nil {
		t.Fatalf("facet of %s: %v", id, err)
	}
	return a, f.EnvDeployment
}
