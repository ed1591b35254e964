package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zqdou/kraken-ent/internal/domain"
	"github.com/zqdou/kraken-ent/internal/observability"
)

// PromoteRequest asks for a successful stage deployment to be replicated
// into a production environment.
type PromoteRequest struct {
	TemplateUpgradeID domain.AssetID
	StageEnvID        domain.EnvironmentID
	ProductionEnvID   domain.EnvironmentID
	UserID            string
}

// PromotionService replicates stage deployments into production.
type PromotionService struct {
	Store    domain.Store
	Upgrades *TemplateUpgradeService
	Release  *ReleaseService
	Executor domain.DeploymentExecutor
}

// Promote clones every nested deployment of the stage deployment into the
// production environment and records a production deployment tracking
// them. Mapper drafts carry over unchanged.
func (s *PromotionService) Promote(ctx context.Context, req PromoteRequest) (id domain.AssetID, err error) {
	defer func(start time.Time) { observe(ctx, "promote", start, err) }(time.Now())
	logger := zerolog.Ctx(ctx).With().
		Str("upgrade", string(req.TemplateUpgradeID)).
		Str("stage", string(req.StageEnvID)).
		Str("production", string(req.ProductionEnvID)).
		Logger()

	pkg, stage, err := s.Upgrades.CheckProductionCondition(ctx, req.TemplateUpgradeID, req.StageEnvID, req.ProductionEnvID)
	if err != nil {
		return "", err
	}
	sf, err := domain.FacetAs[*domain.TemplateDeploymentFacet](stage)
	if err != nil {
		return "", err
	}

	var (
		dep domain.Asset
		ed  domain.EnvDeployment
	)
	err = s.Store.WithTx(ctx, func(tx domain.Store) error {
		env, err := tx.Environments().Get(ctx, req.ProductionEnvID)
		if err != nil {
			return fmt.Errorf("environment %s: %w", req.ProductionEnvID, err)
		}
		sm := &domain.StateMachine{Repo: tx.System()}
		if err := sm.Begin(ctx, domain.ProductionUpgradeStates, domain.SystemProductionUpgrading); err != nil {
			return err
		}

		assets := tx.Assets()
		ed = domain.EnvDeployment{
			EnvID:       env.ID,
			MapperDraft: append([]string(nil), sf.EnvDeployment.MapperDraft...),
		}
		for _, src := range sf.EnvDeployment.MapperDeployment {
			ids, err := s.Release.CloneDeployment(ctx, assets, src, env, req.UserID)
			if err != nil {
				return err
			}
			ed.MapperDeployment = append(ed.MapperDeployment, ids...)
		}
		for _, src := range sf.EnvDeployment.SystemDeployments {
			ids, err := s.Release.CloneDeployment(ctx, assets, src, env, req.UserID)
			if err != nil {
				return err
			}
			ed.SystemDeployments = append(ed.SystemDeployments, ids...)
		}

		dep, err = recordTemplateDeployment(ctx, assets, pkg, domain.KindProductionDeployment, env, ed, req.UserID)
		if err != nil {
			return err
		}
		if ed.Empty() {
			if _, err := sm.Finish(ctx, domain.SystemProductionUpgrading, domain.SystemProductionUpgradeDone, ""); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if ed.Empty() {
		recordState(domain.SystemProductionUpgradeDone)
	} else {
		recordState(domain.SystemProductionUpgrading)
	}

	if err := submitNested(ctx, s.Executor, ed); err != nil {
		return dep.ID, err
	}
	observability.RecordNestedDeployments(string(domain.KindProductionDeployment), string(ed.EnvID), len(ed.Nested()))
	logger.Info().
		Str("deployment", string(dep.ID)).
		Int("nested", len(ed.Nested())).
		Msg("promotion recorded")
	return dep.ID, nil
}
