package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// StageService rolls the keys changed by a control plane upgrade out to
// one stage environment.
type StageService struct {
	Store    domain.Store
	Upgrades *TemplateUpgradeService
	Rollouts *RolloutService
	Sources  domain.UpgradeSourceResolver
}

// StageUpgrade admits and performs a stage rollout and returns the stage
// deployment id. A rollout that fails before the stage deployment is
// recorded puts the system back into STAGE_UPGRADE_DONE so that the stage
// can be retried. A failed submission after it is recorded returns the
// deployment id with the error and leaves the system STAGE_UPGRADING.
func (s *StageService) StageUpgrade(ctx context.Context, req domain.StageRequest) (id domain.AssetID, err error) {
	defer func(start time.Time) { observe(ctx, "stage", start, err) }(time.Now())
	logger := zerolog.Ctx(ctx).With().
		Str("upgrade", string(req.TemplateUpgradeID)).
		Str("env", string(req.EnvID)).
		Logger()

	pkg, err := s.Upgrades.CheckStageCondition(ctx, req.TemplateUpgradeID, req.EnvID)
	if err != nil {
		return "", err
	}
	if _, err := s.Store.Environments().Get(ctx, req.EnvID); err != nil {
		return "", fmt.Errorf("environment %s: %w", req.EnvID, err)
	}

	sm := &domain.StateMachine{Repo: s.Store.System()}
	if err := sm.Begin(ctx, domain.StageUpgradeStates, domain.SystemStageUpgrading); err != nil {
		return "", err
	}
	recordState(domain.SystemStageUpgrading)

	dep, err := s.rollout(ctx, pkg, req)
	if err != nil && dep.ID == "" {
		if rerr := sm.Reset(ctx, domain.SystemStageUpgradeDone); rerr != nil {
			logger.Error().Err(rerr).Msg("reset system status")
		} else {
			recordState(domain.SystemStageUpgradeDone)
		}
		return "", fmt.Errorf("stage upgrade: %w", err)
	}
	if err != nil {
		// The deployment is recorded and stays IN_PROCESS. Completing its
		// nested deployments settles it and the system status.
		logger.Error().Err(err).Str("deployment", string(dep.ID)).Msg("nested deployments not submitted")
		if rerr := s.report(ctx, pkg, dep.ID); rerr != nil {
			logger.Error().Err(rerr).Msg("report stage deployment")
		}
		return dep.ID, fmt.Errorf("stage upgrade: %w", err)
	}

	if dep.Status == string(domain.DeployStatusSuccess) {
		if _, err := sm.Finish(ctx, domain.SystemStageUpgrading, domain.SystemStageUpgradeDone, ""); err != nil {
			return dep.ID, err
		}
		recordState(domain.SystemStageUpgradeDone)
	}

	if err := s.report(ctx, pkg, dep.ID); err != nil {
		return dep.ID, fmt.Errorf("report stage deployment: %w", err)
	}
	return dep.ID, nil
}

func (s *StageService) rollout(ctx context.Context, pkg domain.Asset, req domain.StageRequest) (domain.Asset, error) {
	keys, err := s.Upgrades.ChangedKeys(ctx, pkg.ID)
	if err != nil {
		return domain.Asset{}, err
	}
	return s.Rollouts.Rollout(ctx, RolloutInput{
		Package: pkg,
		EnvID:   req.EnvID,
		Keys:    keys,
		UserID:  req.UserID,
		Kind:    domain.KindStageDeployment,
	})
}

func (s *StageService) report(ctx context.Context, pkg domain.Asset, depID domain.AssetID) error {
	src, err := s.Sources.Resolve(pkg)
	if err != nil {
		return err
	}
	return src.ReportResult(ctx, pkg, depID)
}
