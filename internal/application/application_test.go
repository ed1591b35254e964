package application_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zqdou/kraken-ent/internal/application"
	"github.com/zqdou/kraken-ent/internal/application/applicationtest"
	"github.com/zqdou/kraken-ent/internal/domain"
	"github.com/zqdou/kraken-ent/internal/infrastructure/content"
)

const (
	stageEnv = applicationtest.StageEnv
	prodEnv  = applicationtest.ProductionEnv
)

// zeroKeyManifest only carries direct saves, which never roll out.
const zeroKeyManifest = `
productKey: mef.sonata
productVersion: v1.4.0
directSaves:
  - key: mef.sonata.buyer.default
    kind: kraken.product.buyer
    fullPath: classpath:/templates/buyer.yaml
    productKey: mef.sonata
`

// memberOnlyManifest changes only the quote-add mapper. The component is
// saved directly so that its use cases are known.
const memberOnlyManifest = `
productKey: mef.sonata
productVersion: v1.3.1
directSaves:
  - key: mef.sonata.api.quote
    kind: kraken.component.api
    fullPath: classpath:/templates/api-quote.yaml
    productKey: mef.sonata
versionChangedTemplates:
  - key: mef.sonata.api-target-mapper.quote.uni.add
    kind: kraken.component.api-target-mapper
    fullPath: classpath:/templates/mapper-add.yaml
`

// ghostKeyManifest names a stage key that no stored asset carries.
const ghostKeyManifest = `
productKey: mef.sonata
productVersion: v1.3.2
enforceUpgradeTemplates:
  - key: mef.sonata.api-spec.ghost
    kind: kraken.component.api-spec
    fullPath: classpath:/templates/api-spec-order.yaml
`

// brokenManifest saves the buyer and then fails to load a template.
const brokenManifest = `
productKey: mef.sonata
productVersion: v1.3.0
directSaves:
  - key: mef.sonata.buyer.default
    kind: kraken.product.buyer
    fullPath: classpath:/templates/buyer.yaml
    productKey: mef.sonata
versionChangedTemplates:
  - key: mef.sonata.api.missing
    kind: kraken.component.api
    fullPath: classpath:/templates/missing.yaml
`

func applyControlPlane(t *testing.T, s *applicationtest.Stack, manifest string) domain.AssetID {
	t.Helper()
	pkgID := s.ImportPackage(t, manifest)
	if _, err := s.ControlPlane.ApplyControlPlaneUpgrade(context.Background(), pkgID, "admin"); err != nil {
		t.Fatalf("ApplyControlPlaneUpgrade: %v", err)
	}
	return pkgID
}

func stage(t *testing.T, s *applicationtest.Stack, pkgID domain.AssetID) domain.AssetID {
	t.Helper()
	id, err := s.Stage.StageUpgrade(context.Background(), domain.StageRequest{
		TemplateUpgradeID: pkgID,
		EnvID:             stageEnv,
		UserID:            "admin",
	})
	if err != nil {
		t.Fatalf("StageUpgrade: %v", err)
	}
	return id
}

func completeAll(t *testing.T, s *applicationtest.Stack, ed domain.EnvDeployment, status domain.DeployStatus) domain.DeployStatus {
	t.Helper()
	var parent domain.DeployStatus
	for _, id := range ed.Nested() {
		var err error
		parent, err = s.Status.Complete(context.Background(), id, status)
		if err != nil {
			t.Fatalf("Complete %s: %v", id, err)
		}
	}
	return parent
}

func assertDenied(t *testing.T, err error, reason string) {
	t.Helper()
	if !errors.Is(err, domain.ErrAdmissionDenied) {
		t.Fatalf("expected ErrAdmissionDenied, got %v", err)
	}
	if !strings.Contains(err.Error(), reason) {
		t.Errorf("error %q does not mention %q", err, reason)
	}
}

func assertStatus(t *testing.T, s *applicationtest.Stack, want domain.SystemState) {
	t.Helper()
	if got := s.SystemStatus(t); got != want {
		t.Errorf("system status = %q, want %q", got, want)
	}
}

func TestControlPlane_AppliesPackage(t *testing.T) {
	s := applicationtest.New(t)
	ctx := context.Background()
	pkgID := s.ImportPackage(t, applicationtest.Manifest)

	controlID, err := s.ControlPlane.ApplyControlPlaneUpgrade(ctx, pkgID, "admin")
	if err != nil {
		t.Fatalf("ApplyControlPlaneUpgrade: %v", err)
	}

	info, err := s.Upgrades.SystemStatus(ctx)
	if err != nil {
		t.Fatalf("SystemStatus: %v", err)
	}
	if info.Status != domain.SystemControlPlaneUpgradeDone {
		t.Errorf("Status = %q, want %q", info.Status, domain.SystemControlPlaneUpgradeDone)
	}
	if info.ProductVersion != "1.3.0" {
		t.Errorf("ProductVersion = %q, want 1.3.0", info.ProductVersion)
	}

	for kind, key := range map[domain.AssetKind]string{
		domain.KindBuyer:            applicationtest.BuyerKey,
		domain.KindComponentAPI:     applicationtest.ComponentKey,
		domain.KindComponentAPISpec: applicationtest.SpecOrderKey,
	} {
		if _, err := s.Store.Assets().FindOne(ctx, kind, key); err != nil {
			t.Errorf("FindOne %s: %v", key, err)
		}
	}
	mapper, err := s.Store.Assets().FindOne(ctx, domain.KindComponentAPITargetMapper, applicationtest.MapperAddKey)
	if err != nil {
		t.Fatalf("FindOne mapper: %v", err)
	}
	if got := mapper.Label(domain.LabelSubVersion); got != "1" {
		t.Errorf("mapper subVersion = %q, want 1", got)
	}
	if !mapper.IsDeployed() {
		t.Error("mapper lost its deployed status")
	}

	control, err := s.Store.Assets().Get(ctx, controlID)
	if err != nil {
		t.Fatalf("Get control deployment: %v", err)
	}
	if control.Status != string(domain.DeployStatusSuccess) {
		t.Errorf("control deployment status = %q, want SUCCESS", control.Status)
	}
	if got := control.Label(domain.LabelTemplateUpgradeID); got != string(pkgID) {
		t.Errorf("templateUpgradeId = %q, want %q", got, pkgID)
	}
	keys, err := s.Upgrades.ChangedKeys(ctx, pkgID)
	if err != nil {
		t.Fatalf("ChangedKeys: %v", err)
	}
	if len(keys) != 5 {
		t.Errorf("ChangedKeys = %v, want 5 keys", keys)
	}
}

func TestControlPlane_SecondCallDenied(t *testing.T) {
	s := applicationtest.New(t)
	pkgID := applyControlPlane(t, s, applicationtest.Manifest)

	_, err := s.ControlPlane.ApplyControlPlaneUpgrade(context.Background(), pkgID, "admin")
	assertDenied(t, err, string(domain.SystemControlPlaneUpgradeDone))
	assertStatus(t, s, domain.SystemControlPlaneUpgradeDone)
}

func TestControlPlane_RollsBackOnIngestFailure(t *testing.T) {
	s := applicationtest.New(t)
	ctx := context.Background()
	pkgID := s.ImportPackage(t, brokenManifest)

	_, err := s.ControlPlane.ApplyControlPlaneUpgrade(ctx, pkgID, "admin")
	if !errors.Is(err, domain.ErrIngestionFailed) {
		t.Fatalf("expected ErrIngestionFailed, got %v", err)
	}
	assertStatus(t, s, domain.SystemIdle)

	if _, err := s.Store.Assets().FindOne(ctx, domain.KindBuyer, applicationtest.BuyerKey); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("direct save survived the rollback: %v", err)
	}
	if _, err := s.Upgrades.ChangedKeys(ctx, pkgID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("control deployment survived the rollback: %v", err)
	}
}

func TestIngestion_Idempotent(t *testing.T) {
	s := applicationtest.New(t)
	ctx := context.Background()
	job := &application.IngestionJob{Loader: &content.FSLoader{FS: applicationtest.Content}}

	for _, enforce := range []bool{false, false, true} {
		err := job.IngestData(ctx, s.Store.Assets(), domain.IngestEvent{
			ParentKey:    applicationtest.ProductKey,
			FullPath:     "classpath:/templates/mapper-add.yaml",
			ActingUserID: "admin",
			EnforceSync:  enforce,
		})
		if err != nil {
			t.Fatalf("IngestData(enforce=%v): %v", enforce, err)
		}
	}

	mapper, err := s.Store.Assets().FindOne(ctx, domain.KindComponentAPITargetMapper, applicationtest.MapperAddKey)
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if mapper.Revision != 1 {
		t.Errorf("Revision = %d, want 1", mapper.Revision)
	}
	events, err := s.Store.Events().ListByStatus(ctx, domain.EventWaitToSend)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 sync event, got %d", len(events))
	}
}

func TestIngestion_MissingContent(t *testing.T) {
	s := applicationtest.New(t)
	job := &application.IngestionJob{Loader: &content.FSLoader{FS: applicationtest.Content}}
	err := job.IngestData(context.Background(), s.Store.Assets(), domain.IngestEvent{
		ParentKey: applicationtest.ProductKey,
		FullPath:  "classpath:/templates/nope.yaml",
	})
	if !errors.Is(err, domain.ErrIngestionFailed) || !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrIngestionFailed wrapping ErrNotFound, got %v", err)
	}
}

func TestStageUpgrade_ClassifiesChangedKeys(t *testing.T) {
	s := applicationtest.New(t)
	ctx := context.Background()
	pkgID := applyControlPlane(t, s, applicationtest.Manifest)
	depID := stage(t, s, pkgID)

	dep, ed := s.TemplateDeployment(t, depID)
	if dep.Kind != domain.KindStageDeployment {
		t.Errorf("Kind = %q, want %q", dep.Kind, domain.KindStageDeployment)
	}
	if dep.Status != string(domain.DeployStatusInProcess) {
		t.Errorf("Status = %q, want IN_PROCESS", dep.Status)
	}
	if len(ed.SystemDeployments) != 1 {
		t.Errorf("SystemDeployments = %v, want 1", ed.SystemDeployments)
	}
	if len(ed.MapperDeployment) != 1 {
		t.Errorf("MapperDeployment = %v, want 1", ed.MapperDeployment)
	}
	if len(ed.MapperDraft) != 1 || ed.MapperDraft[0] != applicationtest.MapperDeleteKey {
		t.Errorf("MapperDraft = %v, want [%s]", ed.MapperDraft, applicationtest.MapperDeleteKey)
	}
	assertStatus(t, s, domain.SystemStageUpgrading)

	for _, id := range ed.Nested() {
		nested, err := s.Store.Assets().Get(ctx, id)
		if err != nil {
			t.Fatalf("Get nested %s: %v", id, err)
		}
		if got := nested.Label(domain.LabelTemplateDeploymentID); got != string(depID) {
			t.Errorf("nested %s templateDeploymentId = %q, want %q", id, got, depID)
		}
		if got := nested.Label(domain.LabelEnvID); got != string(stageEnv) {
			t.Errorf("nested %s envId = %q, want %q", id, got, stageEnv)
		}
		run, err := s.Store.Runs().Get(ctx, id)
		if err != nil {
			t.Fatalf("run of %s: %v", id, err)
		}
		if run.State != domain.DeployStatusInProcess {
			t.Errorf("run state = %q, want IN_PROCESS", run.State)
		}
	}

	mapper, err := s.Store.Assets().FindOne(ctx, domain.KindComponentAPITargetMapper, applicationtest.MapperAddKey)
	if err != nil {
		t.Fatalf("FindOne mapper: %v", err)
	}
	if got := mapper.Label(domain.LabelVersion); got != "1" {
		t.Errorf("mapper version = %q, want 1", got)
	}

	events, err := s.Store.Events().ListByStatus(ctx, domain.EventWaitToSend)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	var reported bool
	for _, e := range events {
		if e.Type == domain.EventTemplateUpgradeResult && strings.Contains(string(e.Payload), string(depID)) {
			reported = true
		}
	}
	if !reported {
		t.Error("stage deployment was not reported to the upgrade source")
	}
}

func TestStageUpgrade_MemberKeyOnly(t *testing.T) {
	s := applicationtest.New(t)
	pkgID := applyControlPlane(t, s, memberOnlyManifest)
	_, ed := s.TemplateDeployment(t, stage(t, s, pkgID))

	if len(ed.SystemDeployments) != 0 {
		t.Errorf("SystemDeployments = %v, want none", ed.SystemDeployments)
	}
	if len(ed.MapperDeployment) != 1 {
		t.Errorf("MapperDeployment = %v, want 1", ed.MapperDeployment)
	}
	if len(ed.MapperDraft) != 0 {
		t.Errorf("MapperDraft = %v, want none", ed.MapperDraft)
	}
}

func TestStageUpgrade_ZeroKeys(t *testing.T) {
	s := applicationtest.New(t)
	pkgID := applyControlPlane(t, s, zeroKeyManifest)
	dep, ed := s.TemplateDeployment(t, stage(t, s, pkgID))

	if dep.Status != string(domain.DeployStatusSuccess) {
		t.Errorf("Status = %q, want SUCCESS", dep.Status)
	}
	if !ed.Empty() || len(ed.MapperDraft) != 0 {
		t.Errorf("expected an empty composition, got %+v", ed)
	}
	assertStatus(t, s, domain.SystemStageUpgradeDone)
}

func TestStageUpgrade_DeniedWhenAlreadyDeployed(t *testing.T) {
	s := applicationtest.New(t)
	pkgID := applyControlPlane(t, s, zeroKeyManifest)
	stage(t, s, pkgID)

	_, err := s.Stage.StageUpgrade(context.Background(), domain.StageRequest{
		TemplateUpgradeID: pkgID,
		EnvID:             stageEnv,
		UserID:            "admin",
	})
	assertDenied(t, err, "already completed")
}

func TestStageUpgrade_DeniedForStalePackage(t *testing.T) {
	s := applicationtest.New(t)
	pkgID := applyControlPlane(t, s, applicationtest.Manifest)
	s.ImportPackage(t, zeroKeyManifest)

	_, err := s.Stage.StageUpgrade(context.Background(), domain.StageRequest{
		TemplateUpgradeID: pkgID,
		EnvID:             stageEnv,
	})
	assertDenied(t, err, "not the latest")
	assertStatus(t, s, domain.SystemControlPlaneUpgradeDone)
}

func TestStageUpgrade_DeniedBeforeControlPlane(t *testing.T) {
	s := applicationtest.New(t)
	pkgID := s.ImportPackage(t, applicationtest.Manifest)

	_, err := s.Stage.StageUpgrade(context.Background(), domain.StageRequest{
		TemplateUpgradeID: pkgID,
		EnvID:             stageEnv,
	})
	assertDenied(t, err, string(domain.SystemIdle))
	assertStatus(t, s, domain.SystemIdle)
}

func TestStageUpgrade_ResetsOnRolloutFailure(t *testing.T) {
	s := applicationtest.New(t)
	ctx := context.Background()
	pkgID := applyControlPlane(t, s, ghostKeyManifest)

	_, err := s.Stage.StageUpgrade(ctx, domain.StageRequest{
		TemplateUpgradeID: pkgID,
		EnvID:             stageEnv,
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	assertStatus(t, s, domain.SystemStageUpgradeDone)

	page, err := s.Upgrades.ListTemplateDeployments(ctx, pkgID, 0, 10)
	if err != nil {
		t.Fatalf("ListTemplateDeployments: %v", err)
	}
	if page.Total != 0 {
		t.Errorf("expected no template deployment after a failed rollout, got %d", page.Total)
	}
}

func TestStageUpgrade_UnknownEnvironment(t *testing.T) {
	s := applicationtest.New(t)
	pkgID := applyControlPlane(t, s, applicationtest.Manifest)

	_, err := s.Stage.StageUpgrade(context.Background(), domain.StageRequest{
		TemplateUpgradeID: pkgID,
		EnvID:             "nowhere",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	assertStatus(t, s, domain.SystemControlPlaneUpgradeDone)
}

func TestComplete_SettlesStageDeployment(t *testing.T) {
	s := applicationtest.New(t)
	ctx := context.Background()
	pkgID := applyControlPlane(t, s, applicationtest.Manifest)
	depID := stage(t, s, pkgID)
	_, ed := s.TemplateDeployment(t, depID)

	parent, err := s.Status.Complete(ctx, ed.MapperDeployment[0], domain.DeployStatusSuccess)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if parent != domain.DeployStatusInProcess {
		t.Errorf("parent after one of two = %q, want IN_PROCESS", parent)
	}
	assertStatus(t, s, domain.SystemStageUpgrading)

	parent, err = s.Status.Complete(ctx, ed.SystemDeployments[0], domain.DeployStatusSuccess)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if parent != domain.DeployStatusSuccess {
		t.Errorf("parent = %q, want SUCCESS", parent)
	}
	assertStatus(t, s, domain.SystemStageUpgradeDone)

	run, err := s.Store.Runs().Get(ctx, ed.SystemDeployments[0])
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.State != domain.DeployStatusSuccess {
		t.Errorf("run state = %q, want SUCCESS", run.State)
	}

	// Repeating a report is a no-op; contradicting it is a conflict.
	if parent, err = s.Status.Complete(ctx, ed.SystemDeployments[0], domain.DeployStatusSuccess); err != nil || parent != domain.DeployStatusSuccess {
		t.Errorf("repeat Complete = (%q, %v), want (SUCCESS, nil)", parent, err)
	}
	if _, err := s.Status.Complete(ctx, ed.SystemDeployments[0], domain.DeployStatusFailed); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestComplete_StageFailureReturnsToStageDone(t *testing.T) {
	s := applicationtest.New(t)
	pkgID := applyControlPlane(t, s, applicationtest.Manifest)
	_, ed := s.TemplateDeployment(t, stage(t, s, pkgID))

	parent, err := s.Status.Complete(context.Background(), ed.MapperDeployment[0], domain.DeployStatusFailed)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if parent != domain.DeployStatusFailed {
		t.Errorf("parent = %q, want FAILED", parent)
	}
	assertStatus(t, s, domain.SystemStageUpgradeDone)

	// A failed stage deployment may be retried.
	stage(t, s, pkgID)
}

func TestComplete_RejectsNonTerminalStatus(t *testing.T) {
	s := applicationtest.New(t)
	_, err := s.Status.Complete(context.Background(), "any", domain.DeployStatusInProcess)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestPromote_DeniedWhileStageInProcess(t *testing.T) {
	s := applicationtest.New(t)
	pkgID := applyControlPlane(t, s, applicationtest.Manifest)
	stage(t, s, pkgID)

	_, err := s.Promotion.Promote(context.Background(), application.PromoteRequest{
		TemplateUpgradeID: pkgID,
		StageEnvID:        stageEnv,
		ProductionEnvID:   prodEnv,
	})
	assertDenied(t, err, "possibly not completed")
	assertStatus(t, s, domain.SystemStageUpgrading)
}

func TestPromote_DeniedForStalePackage(t *testing.T) {
	s := applicationtest.New(t)
	pkgID := applyControlPlane(t, s, zeroKeyManifest)
	stage(t, s, pkgID)
	s.ImportPackage(t, applicationtest.Manifest)

	_, err := s.Promotion.Promote(context.Background(), application.PromoteRequest{
		TemplateUpgradeID: pkgID,
		StageEnvID:        stageEnv,
		ProductionEnvID:   prodEnv,
	})
	assertDenied(t, err, "not the latest")
}

func TestPromote_WithoutStageDeployment(t *testing.T) {
	s := applicationtest.New(t)
	pkgID := applyControlPlane(t, s, applicationtest.Manifest)

	_, err := s.Promotion.Promote(context.Background(), application.PromoteRequest{
		TemplateUpgradeID: pkgID,
		StageEnvID:        stageEnv,
		ProductionEnvID:   prodEnv,
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPromote_ReplicatesStageComposition(t *testing.T) {
	s := applicationtest.New(t)
	ctx := context.Background()
	pkgID := applyControlPlane(t, s, applicationtest.Manifest)
	_, stageED := s.TemplateDeployment(t, stage(t, s, pkgID))
	completeAll(t, s, stageED, domain.DeployStatusSuccess)

	req := application.PromoteRequest{
		TemplateUpgradeID: pkgID,
		StageEnvID:        stageEnv,
		ProductionEnvID:   prodEnv,
		UserID:            "admin",
	}
	prodID, err := s.Promotion.Promote(ctx, req)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	assertStatus(t, s, domain.SystemProductionUpgrading)

	prod, ed := s.TemplateDeployment(t, prodID)
	if prod.Kind != domain.KindProductionDeployment {
		t.Errorf("Kind = %q, want %q", prod.Kind, domain.KindProductionDeployment)
	}
	if prod.Status != string(domain.DeployStatusInProcess) {
		t.Errorf("Status = %q, want IN_PROCESS", prod.Status)
	}
	if len(ed.MapperDeployment) != 1 || len(ed.SystemDeployments) != 1 {
		t.Fatalf("composition = %+v, want one mapper and one system deployment", ed)
	}
	if len(ed.MapperDraft) != 1 || ed.MapperDraft[0] != applicationtest.MapperDeleteKey {
		t.Errorf("MapperDraft = %v, want [%s]", ed.MapperDraft, applicationtest.MapperDeleteKey)
	}
	for i, id := range ed.Nested() {
		if id == stageED.Nested()[i] {
			t.Errorf("production reuses stage deployment %s", id)
		}
		nested, err := s.Store.Assets().Get(ctx, id)
		if err != nil {
			t.Fatalf("Get nested: %v", err)
		}
		if got := nested.Label(domain.LabelEnvID); got != string(prodEnv) {
			t.Errorf("nested envId = %q, want %q", got, prodEnv)
		}
	}

	_, err = s.Promotion.Promote(ctx, req)
	assertDenied(t, err, "already existed")

	// A failed production rollout returns the system to STAGE_UPGRADE_DONE.
	parent, err := s.Status.Complete(ctx, ed.SystemDeployments[0], domain.DeployStatusFailed)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if parent != domain.DeployStatusFailed {
		t.Errorf("parent = %q, want FAILED", parent)
	}
	assertStatus(t, s, domain.SystemStageUpgradeDone)

	retryID, err := s.Promotion.Promote(ctx, req)
	if err != nil {
		t.Fatalf("retry Promote: %v", err)
	}
	_, retry := s.TemplateDeployment(t, retryID)
	if got := completeAll(t, s, retry, domain.DeployStatusSuccess); got != domain.DeployStatusSuccess {
		t.Errorf("parent = %q, want SUCCESS", got)
	}
	assertStatus(t, s, domain.SystemProductionUpgradeDone)
}

func TestPromote_ZeroKeysSucceedsAtOnce(t *testing.T) {
	s := applicationtest.New(t)
	pkgID := applyControlPlane(t, s, zeroKeyManifest)
	stage(t, s, pkgID)

	prodID, err := s.Promotion.Promote(context.Background(), application.PromoteRequest{
		TemplateUpgradeID: pkgID,
		StageEnvID:        stageEnv,
		ProductionEnvID:   prodEnv,
	})
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	prod, _ := s.TemplateDeployment(t, prodID)
	if prod.Status != string(domain.DeployStatusSuccess) {
		t.Errorf("Status = %q, want SUCCESS", prod.Status)
	}
	assertStatus(t, s, domain.SystemProductionUpgradeDone)

	// A finished cycle admits the next control plane upgrade.
	applyControlPlane(t, s, applicationtest.Manifest)
}

func TestQueries(t *testing.T) {
	s := applicationtest.New(t)
	ctx := context.Background()
	pkgID := applyControlPlane(t, s, applicationtest.Manifest)
	stageID := stage(t, s, pkgID)
	_, stageED := s.TemplateDeployment(t, stageID)
	completeAll(t, s, stageED, domain.DeployStatusSuccess)
	prodID, err := s.Promotion.Promote(ctx, application.PromoteRequest{
		TemplateUpgradeID: pkgID,
		StageEnvID:        stageEnv,
		ProductionEnvID:   prodEnv,
	})
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}

	latest, err := s.Upgrades.LatestPackage(ctx)
	if err != nil {
		t.Fatalf("LatestPackage: %v", err)
	}
	if latest.ID != pkgID {
		t.Errorf("LatestPackage = %s, want %s", latest.ID, pkgID)
	}

	page, err := s.Upgrades.ListTemplateDeployments(ctx, pkgID, 0, 10)
	if err != nil {
		t.Fatalf("ListTemplateDeployments: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 2 {
		t.Fatalf("expected 2 template deployments, got %d", page.Total)
	}
	if page.Items[0].ID != prodID || page.Items[1].ID != stageID {
		t.Errorf("order = [%s %s], want newest first", page.Items[0].ID, page.Items[1].ID)
	}
	if page.Items[1].EnvName != "Stage" || page.Items[1].ProductVersion != "v1.3.0" {
		t.Errorf("stage row = %+v", page.Items[1])
	}

	details, err := s.Upgrades.TemplateDeploymentDetails(ctx, stageID)
	if err != nil {
		t.Fatalf("TemplateDeploymentDetails: %v", err)
	}
	if len(details.SystemDeployments) != 1 {
		t.Errorf("SystemDeployments = %v, want 1", details.SystemDeployments)
	}
	if len(details.Mappers) != 2 {
		t.Fatalf("Mappers = %+v, want 2", details.Mappers)
	}
	deployed, draft := details.Mappers[0], details.Mappers[1]
	if deployed.MapperKey != applicationtest.MapperAddKey || deployed.Draft || deployed.Version != "1" {
		t.Errorf("deployed mapper = %+v", deployed)
	}
	if deployed.ComponentKey != applicationtest.ComponentKey || deployed.Status != string(domain.DeployStatusSuccess) {
		t.Errorf("deployed mapper = %+v", deployed)
	}
	if draft.MapperKey != applicationtest.MapperDeleteKey || !draft.Draft || draft.ComponentKey != applicationtest.ComponentKey {
		t.Errorf("draft mapper = %+v", draft)
	}

	versions, err := s.Upgrades.CurrentUpgradeVersions(ctx)
	if err != nil {
		t.Fatalf("CurrentUpgradeVersions: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("expected only the stage environment to report a version, got %+v", versions)
	}
	if versions[0].EnvID != stageEnv || versions[0].DeploymentID != stageID || versions[0].TemplateUpgradeID != pkgID {
		t.Errorf("version = %+v", versions[0])
	}
}

func TestEnvironmentService_Validates(t *testing.T) {
	s := applicationtest.New(t)
	ctx := context.Background()

	if err := s.Environments.Register(ctx, domain.Environment{Name: "x"}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("missing ID: got %v", err)
	}
	if err := s.Environments.Register(ctx, domain.Environment{ID: "x"}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("missing name: got %v", err)
	}
	if err := s.Environments.Register(ctx, domain.Environment{ID: stageEnv, Name: "again"}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate: got %v", err)
	}
	envs, err := s.Environments.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(envs) != 2 {
		t.Errorf("expected 2 environments, got %d", len(envs))
	}
}

type unavailableExecutor struct{}

func (unavailableExecutor) Submit(context.Context, domain.AssetID, domain.EnvironmentID) error {
	return errors.New("executor unavailable")
}

func TestStageUpgrade_SubmitFailureKeepsDeployment(t *testing.T) {
	s := applicationtest.New(t)
	ctx := context.Background()
	pkgID := applyControlPlane(t, s, applicationtest.Manifest)

	executor := s.Rollouts.Executor
	s.Rollouts.Executor = unavailableExecutor{}
	req := domain.StageRequest{TemplateUpgradeID: pkgID, EnvID: stageEnv, UserID: "admin"}
	depID, err := s.Stage.StageUpgrade(ctx, req)
	if err == nil || !strings.Contains(err.Error(), "executor unavailable") {
		t.Fatalf("expected the submit error, got %v", err)
	}
	if depID == "" {
		t.Fatal("the recorded stage deployment id was dropped")
	}
	assertStatus(t, s, domain.SystemStageUpgrading)

	dep, ed := s.TemplateDeployment(t, depID)
	if dep.Status != string(domain.DeployStatusInProcess) {
		t.Errorf("Status = %q, want IN_PROCESS", dep.Status)
	}

	events, err := s.Store.Events().ListByStatus(ctx, domain.EventWaitToSend)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	var reported bool
	for _, e := range events {
		if e.Type == domain.EventTemplateUpgradeResult && strings.Contains(string(e.Payload), string(depID)) {
			reported = true
		}
	}
	if !reported {
		t.Error("stage deployment was not reported to the upgrade source")
	}

	// Failing the unsubmitted deployments settles the stage and admits a
	// retry.
	if got := completeAll(t, s, ed, domain.DeployStatusFailed); got != domain.DeployStatusFailed {
		t.Errorf("parent = %q, want FAILED", got)
	}
	assertStatus(t, s, domain.SystemStageUpgradeDone)

	s.Rollouts.Executor = executor
	if _, err := s.Stage.StageUpgrade(ctx, req); err != nil {
		t.Fatalf("retry StageUpgrade: %v", err)
	}
}

func TestPromote_SecondProductionEnvironment(t *testing.T) {
	s := applicationtest.New(t)
	ctx := context.Background()
	for _, id := range []domain.EnvironmentID{"prod-2", "prod-3"} {
		if err := s.Environments.Register(ctx, domain.Environment{ID: id, Name: string(id)}); err != nil {
			t.Fatalf("Register %s: %v", id, err)
		}
	}
	pkgID := applyControlPlane(t, s, applicationtest.Manifest)
	_, stageED := s.TemplateDeployment(t, stage(t, s, pkgID))
	completeAll(t, s, stageED, domain.DeployStatusSuccess)

	promote := func(env domain.EnvironmentID) (domain.AssetID, error) {
		return s.Promotion.Promote(ctx, application.PromoteRequest{
			TemplateUpgradeID: pkgID,
			StageEnvID:        stageEnv,
			ProductionEnvID:   env,
			UserID:            "admin",
		})
	}

	firstID, err := promote(prodEnv)
	if err != nil {
		t.Fatalf("Promote %s: %v", prodEnv, err)
	}
	_, first := s.TemplateDeployment(t, firstID)
	completeAll(t, s, first, domain.DeployStatusSuccess)
	assertStatus(t, s, domain.SystemProductionUpgradeDone)

	secondID, err := promote("prod-2")
	if err != nil {
		t.Fatalf("Promote prod-2: %v", err)
	}
	assertStatus(t, s, domain.SystemProductionUpgrading)

	// Promotions are serialized.
	_, err = promote("prod-3")
	assertDenied(t, err, string(domain.SystemProductionUpgrading))

	_, second := s.TemplateDeployment(t, secondID)
	if got := completeAll(t, s, second, domain.DeployStatusSuccess); got != domain.DeployStatusSuccess {
		t.Errorf("parent = %q, want SUCCESS", got)
	}
	assertStatus(t, s, domain.SystemProductionUpgradeDone)
}

func TestControlPlane_KeepsNonSemverVersion(t *testing.T) {
	s := applicationtest.New(t)
	manifest := strings.Replace(zeroKeyManifest, "productVersion: v1.4.0", "productVersion: v1.4.0.2", 1)
	applyControlPlane(t, s, manifest)

	info, err := s.Store.System().Get(context.Background())
	if err != nil {
		t.Fatalf("system info: %v", err)
	}
	if info.ProductVersion != "1.4.0.2" {
		t.Errorf("ProductVersion = %q, want 1.4.0.2", info.ProductVersion)
	}
	assertStatus(t, s, domain.SystemControlPlaneUpgradeDone)
}

func TestControlPlane_DirectSaveOverwritesSameVersion(t *testing.T) {
	s := applicationtest.New(t)
	ctx := context.Background()
	res, err := s.Store.Assets().Sync(ctx, applicationtest.ProductKey, domain.Asset{
		Kind:   domain.KindComponentAPI,
		Key:    applicationtest.ComponentKey,
		Name:   "Stale",
		Labels: map[string]string{domain.LabelTemplateVersion: "1.3.0"},
	}, domain.SyncMetadata{SyncedBy: "admin"})
	if err != nil || !res.OK() {
		t.Fatalf("Sync: %v (code %d: %s)", err, res.Code, res.Message)
	}

	applyControlPlane(t, s, memberOnlyManifest)

	api, err := s.Store.Assets().FindOne(ctx, domain.KindComponentAPI, applicationtest.ComponentKey)
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if api.Name != "Quote" {
		t.Errorf("Name = %q, want the saved document's name Quote", api.Name)
	}
}
