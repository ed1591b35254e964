package application

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zqdou/kraken-ent/internal/domain"
	"github.com/zqdou/kraken-ent/internal/observability"
)

// RolloutInput describes one environment rollout of an upgrade package.
type RolloutInput struct {
	Package domain.Asset
	EnvID   domain.EnvironmentID
	// Keys are the changed asset keys to roll out.
	Keys   []string
	UserID string
	// Kind is the template deployment kind to record, stage or production.
	Kind domain.AssetKind
}

// RolloutService turns a set of changed keys into nested deployments
// grouped under one template deployment.
type RolloutService struct {
	Store    domain.Store
	Release  *ReleaseService
	Executor domain.DeploymentExecutor
}

// Rollout classifies the keys, creates the nested deployments and the
// template deployment that tracks them, then submits the nested
// deployments for execution. The template deployment succeeds at once
// when there is nothing to deploy.
//
// When a submission fails the template deployment is already committed;
// it is returned together with the error.
func (s *RolloutService) Rollout(ctx context.Context, in RolloutInput) (domain.Asset, error) {
	logger := zerolog.Ctx(ctx).With().
		Str("upgrade", string(in.Package.ID)).
		Str("env", string(in.EnvID)).
		Logger()

	var (
		dep domain.Asset
		env domain.Environment
		ed  domain.EnvDeployment
	)
	err := s.Store.WithTx(ctx, func(tx domain.Store) error {
		var err error
		env, err = tx.Environments().Get(ctx, in.EnvID)
		if err != nil {
			return fmt.Errorf("environment %s: %w", in.EnvID, err)
		}
		assets := tx.Assets()
		productKey := in.Package.ParentKey

		c, err := (&domain.Reconciler{Assets: assets}).Classify(ctx, in.Keys)
		if err != nil {
			return err
		}
		ed = domain.EnvDeployment{EnvID: env.ID}

		if len(c.RemainingKeys) > 0 {
			members, err := s.remaining(ctx, assets, c.RemainingKeys)
			if err != nil {
				return err
			}
			tagID, err := s.Release.CreateSystemTemplateTag(ctx, assets, productKey, members, in.UserID)
			if err != nil {
				return err
			}
			depID, err := s.Release.DeployComponents(ctx, assets, productKey, []domain.AssetID{tagID}, env, domain.ReleaseKindSystemTemplateMixed, in.UserID)
			if err != nil {
				return err
			}
			ed.SystemDeployments = append(ed.SystemDeployments, depID)
		}

		for _, key := range c.ChangedMappers {
			mapper, err := assets.FindOne(ctx, domain.KindComponentAPITargetMapper, key)
			if err != nil {
				return fmt.Errorf("mapper %s: %w", key, err)
			}
			if !mapper.IsDeployed() {
				ed.MapperDraft = append(ed.MapperDraft, key)
				continue
			}
			depID, err := s.Release.CreateMapperVersionAndDeploy(ctx, assets, productKey, mapper, c.Owners[key], env, in.UserID)
			if err != nil {
				return err
			}
			ed.MapperDeployment = append(ed.MapperDeployment, depID)
		}

		dep, err = recordTemplateDeployment(ctx, assets, in.Package, in.Kind, env, ed, in.UserID)
		return err
	})
	if err != nil {
		return domain.Asset{}, err
	}

	if err := submitNested(ctx, s.Executor, ed); err != nil {
		return dep, err
	}
	observability.RecordNestedDeployments(string(in.Kind), string(env.ID), len(ed.Nested()))
	logger.Info().
		Str("deployment", string(dep.ID)).
		Int("mappers", len(ed.MapperDeployment)).
		Int("systems", len(ed.SystemDeployments)).
		Int("drafts", len(ed.MapperDraft)).
		Msg("rollout recorded")
	return dep, nil
}

// remaining resolves keys to assets and fails when any key is unknown.
func (s *RolloutService) remaining(ctx context.Context, assets domain.AssetStore, keys []string) ([]domain.Asset, error) {
	found, err := assets.FindByKeys(ctx, keys, true)
	if err != nil {
		return nil, fmt.Errorf("resolve changed keys: %w", err)
	}
	have := make(map[string]struct{}, len(found))
	for _, a := range found {
		have[a.Key] = struct{}{}
	}
	for _, k := range keys {
		if _, ok := have[k]; !ok {
			return nil, fmt.Errorf("changed asset %s: %w", k, domain.ErrNotFound)
		}
	}
	return found, nil
}

// recordTemplateDeployment writes the template deployment under the
// package and back-links every nested deployment to it.
func recordTemplateDeployment(ctx context.Context, assets domain.AssetStore, pkg domain.Asset, kind domain.AssetKind, env domain.Environment, ed domain.EnvDeployment, user string) (domain.Asset, error) {
	status := domain.DeployStatusInProcess
	if ed.Empty() {
		status = domain.DeployStatusSuccess
	}
	id, err := syncAsset(ctx, assets, string(pkg.ID), domain.Asset{
		Kind:   kind,
		Key:    pkg.Key + "." + string(env.ID) + "." + uuid.NewString(),
		Status: string(status),
		Labels: map[string]string{
			domain.LabelEnvID:             string(env.ID),
			domain.LabelEnvName:           env.Name,
			domain.LabelTemplateUpgradeID: string(pkg.ID),
			domain.LabelProductVersion:    pkg.Label(domain.LabelProductVersion),
		},
		Facet: &domain.TemplateDeploymentFacet{EnvDeployment: ed},
	}, user)
	if err != nil {
		return domain.Asset{}, err
	}
	for _, nested := range ed.Nested() {
		if err := assets.AddLabel(ctx, nested, domain.LabelTemplateDeploymentID, string(id)); err != nil {
			return domain.Asset{}, fmt.Errorf("link deployment %s: %w", nested, err)
		}
	}
	return assets.Get(ctx, id)
}

func submitNested(ctx context.Context, exec domain.DeploymentExecutor, ed domain.EnvDeployment) error {
	for _, id := range ed.Nested() {
		if err := exec.Submit(ctx, id, ed.EnvID); err != nil {
			return fmt.Errorf("submit deployment %s: %w", id, err)
		}
	}
	return nil
}
