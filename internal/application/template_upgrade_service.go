package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// TemplateUpgradeService answers admission checks and read-only queries
// over upgrade packages and their deployments.
type TemplateUpgradeService struct {
	Store domain.Store
}

// LatestPackage returns the most recently created upgrade package.
func (s *TemplateUpgradeService) LatestPackage(ctx context.Context) (domain.Asset, error) {
	page, err := s.Store.Assets().Find(ctx, domain.AssetQuery{
		Kinds:       []domain.AssetKind{domain.KindTemplateUpgrade},
		NewestFirst: true,
		Size:        1,
	})
	if err != nil {
		return domain.Asset{}, fmt.Errorf("latest upgrade package: %w", err)
	}
	pkg, ok := page.First()
	if !ok {
		return domain.Asset{}, fmt.Errorf("upgrade package: %w", domain.ErrNotFound)
	}
	return pkg, nil
}

func (s *TemplateUpgradeService) checkLatest(ctx context.Context, upgradeID domain.AssetID) (domain.Asset, error) {
	latest, err := s.LatestPackage(ctx)
	if err != nil {
		return domain.Asset{}, err
	}
	if latest.ID != upgradeID {
		return domain.Asset{}, domain.Deny(fmt.Sprintf("template upgrade %s is not the latest", upgradeID))
	}
	return latest, nil
}

// CheckStageCondition admits a stage rollout of upgradeID into envID: the
// package must be the latest, and no stage deployment for it may be in
// process or succeeded in that environment.
func (s *TemplateUpgradeService) CheckStageCondition(ctx context.Context, upgradeID domain.AssetID, envID domain.EnvironmentID) (domain.Asset, error) {
	pkg, err := s.checkLatest(ctx, upgradeID)
	if err != nil {
		return domain.Asset{}, err
	}
	existing, err := s.findTemplateDeployment(ctx, domain.KindStageDeployment, upgradeID, envID,
		domain.DeployStatusInProcess, domain.DeployStatusSuccess)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Asset{}, err
	}
	if err == nil {
		if existing.Status == string(domain.DeployStatusInProcess) {
			return domain.Asset{}, domain.Deny(fmt.Sprintf("stage upgrade of %s is in process in %s", upgradeID, envID))
		}
		return domain.Asset{}, domain.Deny(fmt.Sprintf("stage upgrade of %s is already completed in %s", upgradeID, envID))
	}
	return pkg, nil
}

// CheckProductionCondition admits a promotion of upgradeID from
// stageEnvID into productionEnvID. It returns the package and the stage
// deployment to replicate.
func (s *TemplateUpgradeService) CheckProductionCondition(ctx context.Context, upgradeID domain.AssetID, stageEnvID, productionEnvID domain.EnvironmentID) (pkg, stage domain.Asset, err error) {
	pkg, err = s.checkLatest(ctx, upgradeID)
	if err != nil {
		return pkg, stage, err
	}
	stage, err = s.findTemplateDeployment(ctx, domain.KindStageDeployment, upgradeID, stageEnvID)
	if err != nil {
		return pkg, stage, fmt.Errorf("stage deployment of %s in %s: %w", upgradeID, stageEnvID, err)
	}
	if stage.Status != string(domain.DeployStatusSuccess) {
		return pkg, stage, domain.Deny(fmt.Sprintf("stage upgrade of %s in %s possibly not completed (status %s)", upgradeID, stageEnvID, stage.Status))
	}
	_, err = s.findTemplateDeployment(ctx, domain.KindProductionDeployment, upgradeID, productionEnvID,
		domain.DeployStatusInProcess, domain.DeployStatusSuccess)
	switch {
	case err == nil:
		return pkg, stage, domain.Deny(fmt.Sprintf("production upgrade of %s already existed in %s", upgradeID, productionEnvID))
	case !errors.Is(err, domain.ErrNotFound):
		return pkg, stage, err
	}
	return pkg, stage, nil
}

// findTemplateDeployment returns the newest template deployment of kind
// for the package and environment, optionally restricted to statuses.
func (s *TemplateUpgradeService) findTemplateDeployment(ctx context.Context, kind domain.AssetKind, upgradeID domain.AssetID, envID domain.EnvironmentID, statuses ...domain.DeployStatus) (domain.Asset, error) {
	q := domain.AssetQuery{
		Kinds: []domain.AssetKind{kind},
		Labels: map[string]string{
			domain.LabelTemplateUpgradeID: string(upgradeID),
			domain.LabelEnvID:             string(envID),
		},
		NewestFirst: true,
		Size:        1,
	}
	for _, st := range statuses {
		q.Statuses = append(q.Statuses, string(st))
	}
	page, err := s.Store.Assets().Find(ctx, q)
	if err != nil {
		return domain.Asset{}, err
	}
	a, ok := page.First()
	if !ok {
		return domain.Asset{}, fmt.Errorf("%s: %w", kind, domain.ErrNotFound)
	}
	return a, nil
}

// ChangedKeys returns the stage keys recorded by the newest control
// deployment of the package.
func (s *TemplateUpgradeService) ChangedKeys(ctx context.Context, upgradeID domain.AssetID) ([]string, error) {
	page, err := s.Store.Assets().Find(ctx, domain.AssetQuery{
		Kinds:       []domain.AssetKind{domain.KindControlDeployment},
		Labels:      map[string]string{domain.LabelTemplateUpgradeID: string(upgradeID)},
		NewestFirst: true,
		Size:        1,
	})
	if err != nil {
		return nil, err
	}
	control, ok := page.First()
	if !ok {
		return nil, fmt.Errorf("control deployment of %s: %w", upgradeID, domain.ErrNotFound)
	}
	f, err := domain.FacetAs[*domain.ControlDeploymentFacet](control)
	if err != nil {
		return nil, err
	}
	return f.UpgradeTuple.StageKeys(), nil
}

// TemplateDeploymentRow summarizes one stage or production deployment.
type TemplateDeploymentRow struct {
	ID                domain.AssetID
	Kind              domain.AssetKind
	TemplateUpgradeID domain.AssetID
	EnvID             domain.EnvironmentID
	EnvName           string
	Status            string
	ProductVersion    string
	CreatedAt         time.Time
	CreatedBy         string
}

func toRow(a domain.Asset) TemplateDeploymentRow {
	return TemplateDeploymentRow{
		ID:                a.ID,
		Kind:              a.Kind,
		TemplateUpgradeID: domain.AssetID(a.Label(domain.LabelTemplateUpgradeID)),
		EnvID:             domain.EnvironmentID(a.Label(domain.LabelEnvID)),
		EnvName:           a.Label(domain.LabelEnvName),
		Status:            a.Status,
		ProductVersion:    a.Label(domain.LabelProductVersion),
		CreatedAt:         a.CreatedAt,
		CreatedBy:         a.CreatedBy,
	}
}

// ListTemplateDeployments pages through stage and production deployments,
// newest first. An empty upgradeID lists every package.
func (s *TemplateUpgradeService) ListTemplateDeployments(ctx context.Context, upgradeID domain.AssetID, page, size int) (domain.Page[TemplateDeploymentRow], error) {
	q := domain.AssetQuery{
		Kinds:       []domain.AssetKind{domain.KindStageDeployment, domain.KindProductionDeployment},
		NewestFirst: true,
		Page:        page,
		Size:        size,
	}
	if upgradeID != "" {
		q.Labels = map[string]string{domain.LabelTemplateUpgradeID: string(upgradeID)}
	}
	res, err := s.Store.Assets().Find(ctx, q)
	if err != nil {
		return domain.Page[TemplateDeploymentRow]{}, err
	}
	out := domain.Page[TemplateDeploymentRow]{Page: res.Page, Size: res.Size, Total: res.Total}
	for _, a := range res.Items {
		out.Items = append(out.Items, toRow(a))
	}
	return out, nil
}

// MapperDetail describes one changed mapper of a template deployment.
type MapperDetail struct {
	MapperKey    string
	ComponentKey string
	Version      string
	DeploymentID domain.AssetID
	Status       string
	// Draft is set for mappers that were never released and therefore
	// were not deployed.
	Draft bool
}

// TemplateDeploymentDetails is the composition of a template deployment.
type TemplateDeploymentDetails struct {
	TemplateDeploymentRow
	Mappers           []MapperDetail
	SystemDeployments []domain.AssetID
}

// TemplateDeploymentDetails lists the deployed and draft mappers of a
// template deployment.
func (s *TemplateUpgradeService) TemplateDeploymentDetails(ctx context.Context, id domain.AssetID) (TemplateDeploymentDetails, error) {
	assets := s.Store.Assets()
	dep, err := assets.Get(ctx, id)
	if err != nil {
		return TemplateDeploymentDetails{}, err
	}
	f, err := domain.FacetAs[*domain.TemplateDeploymentFacet](dep)
	if err != nil {
		return TemplateDeploymentDetails{}, err
	}
	out := TemplateDeploymentDetails{
		TemplateDeploymentRow: toRow(dep),
		SystemDeployments:     f.EnvDeployment.SystemDeployments,
	}

	nested, err := assets.FindByIDs(ctx, f.EnvDeployment.MapperDeployment)
	if err != nil {
		return out, err
	}
	for _, n := range nested {
		df, err := domain.FacetAs[*domain.DeploymentFacet](n)
		if err != nil {
			return out, err
		}
		for _, ref := range df.ComponentTags {
			tag, err := assets.Get(ctx, ref.TagID)
			if err != nil {
				return out, fmt.Errorf("tag %s: %w", ref.TagID, err)
			}
			tf, err := domain.FacetAs[*domain.ComponentTagFacet](tag)
			if err != nil {
				return out, err
			}
			m, ok := tf.Mapper()
			if !ok {
				continue
			}
			out.Mappers = append(out.Mappers, MapperDetail{
				MapperKey:    m.Key,
				ComponentKey: tf.ComponentKey,
				Version:      m.Labels[domain.LabelVersion],
				DeploymentID: n.ID,
				Status:       n.Status,
			})
		}
	}

	if len(f.EnvDeployment.MapperDraft) > 0 {
		index, err := (&domain.Reconciler{Assets: assets}).UseCaseIndex(ctx)
		if err != nil {
			return out, err
		}
		owners := make(map[string]string, len(index))
		for _, e := range index {
			if _, ok := owners[e.MapperKey]; !ok {
				owners[e.MapperKey] = e.ComponentKey
			}
		}
		for _, key := range f.EnvDeployment.MapperDraft {
			out.Mappers = append(out.Mappers, MapperDetail{
				MapperKey:    key,
				ComponentKey: owners[key],
				Draft:        true,
			})
		}
	}
	return out, nil
}

// EnvironmentVersion is the upgrade currently deployed in an environment.
type EnvironmentVersion struct {
	EnvID             domain.EnvironmentID
	EnvName           string
	TemplateUpgradeID domain.AssetID
	DeploymentID      domain.AssetID
	ProductVersion    string
}

// CurrentUpgradeVersions returns, per environment, the newest successful
// template deployment. Environments without one are omitted.
func (s *TemplateUpgradeService) CurrentUpgradeVersions(ctx context.Context) ([]EnvironmentVersion, error) {
	envs, err := s.Store.Environments().List(ctx)
	if err != nil {
		return nil, err
	}
	var out []EnvironmentVersion
	for _, env := range envs {
		page, err := s.Store.Assets().Find(ctx, domain.AssetQuery{
			Kinds:       []domain.AssetKind{domain.KindStageDeployment, domain.KindProductionDeployment},
			Statuses:    []string{string(domain.DeployStatusSuccess)},
			Labels:      map[string]string{domain.LabelEnvID: string(env.ID)},
			NewestFirst: true,
			Size:        1,
		})
		if err != nil {
			return nil, err
		}
		dep, ok := page.First()
		if !ok {
			continue
		}
		out = append(out, EnvironmentVersion{
			EnvID:             env.ID,
			EnvName:           env.Name,
			TemplateUpgradeID: domain.AssetID(dep.Label(domain.LabelTemplateUpgradeID)),
			DeploymentID:      dep.ID,
			ProductVersion:    dep.Label(domain.LabelProductVersion),
		})
	}
	return out, nil
}

// SystemStatus returns the global upgrade record.
func (s *TemplateUpgradeService) SystemStatus(ctx context.Context) (domain.SystemInfo, error) {
	return (&domain.StateMachine{Repo: s.Store.System()}).Current(ctx)
}
