package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// DeploymentStatusService receives completion reports for nested
// deployments and settles the template deployment they belong to.
type DeploymentStatusService struct {
	Store domain.Store
	Now   func() time.Time
}

func (s *DeploymentStatusService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Complete records the terminal status of a nested deployment and returns
// the resulting status of its template deployment. The template
// deployment fails as soon as one nested deployment fails and succeeds
// once all of them have succeeded; the system status follows it.
// Repeating a report is a no-op; contradicting one is a conflict.
func (s *DeploymentStatusService) Complete(ctx context.Context, nestedID domain.AssetID, status domain.DeployStatus) (parent domain.DeployStatus, err error) {
	defer func(start time.Time) { observe(ctx, "complete", start, err) }(time.Now())

	if status != domain.DeployStatusSuccess && status != domain.DeployStatusFailed {
		return "", fmt.Errorf("%w: deployment status %q is not terminal", domain.ErrInvalidArgument, status)
	}

	var next domain.SystemState
	err = s.Store.WithTx(ctx, func(tx domain.Store) error {
		assets := tx.Assets()
		nested, err := assets.Get(ctx, nestedID)
		if err != nil {
			return fmt.Errorf("deployment %s: %w", nestedID, err)
		}
		if nested.Kind != domain.KindDeployment {
			return fmt.Errorf("%w: asset %s is a %s, not a deployment", domain.ErrInvalidArgument, nestedID, nested.Kind)
		}
		switch domain.DeployStatus(nested.Status) {
		case status:
			parent, err = s.parentStatus(ctx, assets, nested)
			return err
		case domain.DeployStatusSuccess, domain.DeployStatusFailed:
			return fmt.Errorf("%w: deployment %s already %s", domain.ErrConflict, nestedID, nested.Status)
		}

		if err := assets.UpdateStatus(ctx, nestedID, string(status)); err != nil {
			return err
		}
		if err := tx.Runs().Put(ctx, domain.DeploymentRun{
			DeploymentID: nestedID,
			EnvID:        domain.EnvironmentID(nested.Label(domain.LabelEnvID)),
			State:        status,
			UpdatedAt:    s.now(),
		}); err != nil {
			return fmt.Errorf("record run of %s: %w", nestedID, err)
		}

		parentID := domain.AssetID(nested.Label(domain.LabelTemplateDeploymentID))
		if parentID == "" {
			parent = status
			return nil
		}
		tmpl, err := assets.Get(ctx, parentID)
		if err != nil {
			return fmt.Errorf("template deployment %s: %w", parentID, err)
		}
		parent, err = aggregate(ctx, assets, tmpl)
		if err != nil {
			return err
		}
		if string(parent) == tmpl.Status {
			return nil
		}
		if err := assets.UpdateStatus(ctx, tmpl.ID, string(parent)); err != nil {
			return err
		}
		next, err = settleSystem(ctx, tx.System(), tmpl.Kind, parent)
		return err
	})
	if err != nil {
		return "", err
	}
	if next != "" {
		recordState(next)
	}
	zerolog.Ctx(ctx).Info().
		Str("deployment", string(nestedID)).
		Str("status", string(status)).
		Str("parent", string(parent)).
		Msg("deployment completed")
	return parent, nil
}

func (s *DeploymentStatusService) parentStatus(ctx context.Context, assets domain.AssetStore, nested domain.Asset) (domain.DeployStatus, error) {
	parentID := domain.AssetID(nested.Label(domain.LabelTemplateDeploymentID))
	if parentID == "" {
		return domain.DeployStatus(nested.Status), nil
	}
	tmpl, err := assets.Get(ctx, parentID)
	if err != nil {
		return "", fmt.Errorf("template deployment %s: %w", parentID, err)
	}
	return domain.DeployStatus(tmpl.Status), nil
}

// aggregate folds the nested deployment statuses of a template
// deployment.
func aggregate(ctx context.Context, assets domain.AssetStore, tmpl domain.Asset) (domain.DeployStatus, error) {
	f, err := domain.FacetAs[*domain.TemplateDeploymentFacet](tmpl)
	if err != nil {
		return "", err
	}
	nested, err := assets.FindByIDs(ctx, f.EnvDeployment.Nested())
	if err != nil {
		return "", err
	}
	done := 0
	for _, n := range nested {
		switch domain.DeployStatus(n.Status) {
		case domain.DeployStatusFailed:
			return domain.DeployStatusFailed, nil
		case domain.DeployStatusSuccess:
			done++
		}
	}
	if done == len(f.EnvDeployment.Nested()) {
		return domain.DeployStatusSuccess, nil
	}
	return domain.DeployStatusInProcess, nil
}

// settleSystem moves the system out of its upgrading state once a
// template deployment settles. A failed production rollout returns the
// system to STAGE_UPGRADE_DONE so promotion can be retried. It returns the
// new state, or "" when the system was not in the expected state.
func settleSystem(ctx context.Context, repo domain.SystemInfoRepository, kind domain.AssetKind, status domain.DeployStatus) (domain.SystemState, error) {
	var from, to domain.SystemState
	switch kind {
	case domain.KindStageDeployment:
		from, to = domain.SystemStageUpgrading, domain.SystemStageUpgradeDone
	case domain.KindProductionDeployment:
		from, to = domain.SystemProductionUpgrading, domain.SystemProductionUpgradeDone
		if status == domain.DeployStatusFailed {
			to = domain.SystemStageUpgradeDone
		}
	default:
		return "", nil
	}
	ok, err := (&domain.StateMachine{Repo: repo}).Finish(ctx, from, to, "")
	if err != nil || !ok {
		return "", err
	}
	return to, nil
}
