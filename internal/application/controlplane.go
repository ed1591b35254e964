package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zqdou/kraken-ent/internal/domain"
)

const mapperPageSize = 200

// ControlPlaneService applies upgrade packages to the control plane asset
// graph.
type ControlPlaneService struct {
	Store    domain.Store
	Sources  domain.UpgradeSourceResolver
	Ingester domain.Ingester
	// MergeLabelKinds lists the asset kinds whose labels are merged rather
	// than replaced on upsert.
	MergeLabelKinds map[domain.AssetKind]bool
}

// ApplyControlPlaneUpgrade applies the package's tuple and records a
// control deployment. Every write, including the state transition that
// admits the call, happens in one unit of work: on failure nothing is
// persisted and the system keeps its prior state.
func (s *ControlPlaneService) ApplyControlPlaneUpgrade(ctx context.Context, upgradeID domain.AssetID, userID string) (id domain.AssetID, err error) {
	defer func(start time.Time) { observe(ctx, "control-plane", start, err) }(time.Now())
	logger := zerolog.Ctx(ctx).With().Str("upgrade", string(upgradeID)).Logger()

	err = s.Store.WithTx(ctx, func(tx domain.Store) error {
		sm := &domain.StateMachine{Repo: tx.System()}
		if err := sm.Begin(ctx, domain.CanUpgradeStates, domain.SystemControlPlaneUpgrading); err != nil {
			return err
		}

		pkg, err := loadPackage(ctx, tx.Assets(), upgradeID)
		if err != nil {
			return err
		}
		version, err := domain.ParseTemplateVersion(pkg.Label(domain.LabelProductVersion))
		if err != nil {
			return err
		}
		tuple, err := s.tuple(ctx, pkg)
		if err != nil {
			return err
		}
		productKey := tuple.ProductKey
		if productKey == "" {
			productKey = pkg.ParentKey
		}
		product, err := tx.Assets().FindOne(ctx, domain.KindProduct, productKey)
		if err != nil {
			return fmt.Errorf("product of %s: %w", pkg.Key, err)
		}

		for _, r := range tuple.DirectSaves {
			parent := r.ProductKey
			if parent == "" {
				parent = product.Key
			}
			if err := s.ingest(ctx, tx, parent, r, userID, true); err != nil {
				return err
			}
		}
		for _, r := range tuple.VersionChangedTemplates {
			if err := s.ingest(ctx, tx, product.Key, r, userID, false); err != nil {
				return err
			}
		}
		for _, r := range tuple.EnforceUpgradeTemplates {
			if err := s.ingest(ctx, tx, product.Key, r, userID, true); err != nil {
				return err
			}
		}

		bumped, err := bumpMapperSubVersions(ctx, tx.Assets())
		if err != nil {
			return err
		}

		id, err = syncAsset(ctx, tx.Assets(), product.Key, domain.Asset{
			Kind:   domain.KindControlDeployment,
			Key:    pkg.Key + ".control-deployment." + uuid.NewString(),
			Status: string(domain.DeployStatusSuccess),
			Labels: map[string]string{
				domain.LabelTemplateUpgradeID: string(pkg.ID),
				domain.LabelProductVersion:    version,
			},
			Facet: &domain.ControlDeploymentFacet{UpgradeTuple: *tuple},
		}, userID)
		if err != nil {
			return err
		}

		if _, err := sm.Finish(ctx, domain.SystemControlPlaneUpgrading, domain.SystemControlPlaneUpgradeDone, version); err != nil {
			return err
		}
		logger.Info().
			Int("direct", len(tuple.DirectSaves)).
			Int("changed", len(tuple.VersionChangedTemplates)).
			Int("enforced", len(tuple.EnforceUpgradeTemplates)).
			Int("mappers", bumped).
			Str("version", version).
			Msg("control plane upgraded")
		return nil
	})
	if err != nil {
		return "", err
	}
	recordState(domain.SystemControlPlaneUpgradeDone)
	return id, nil
}

func (s *ControlPlaneService) tuple(ctx context.Context, pkg domain.Asset) (*domain.UpgradeTuple, error) {
	src, err := s.Sources.Resolve(pkg)
	if err != nil {
		return nil, err
	}
	tuples, err := src.TemplateUpgradeRecords(ctx, pkg)
	if err != nil {
		return nil, fmt.Errorf("upgrade records of %s: %w", pkg.Key, err)
	}
	if len(tuples) == 0 {
		return nil, fmt.Errorf("upgrade records of %s: %w", pkg.Key, domain.ErrNotFound)
	}
	return &tuples[0], nil
}

func (s *ControlPlaneService) ingest(ctx context.Context, tx domain.Store, parent string, r domain.UpgradeRecord, userID string, enforce bool) error {
	return s.Ingester.IngestData(ctx, tx.Assets(), domain.IngestEvent{
		ParentKey:    parent,
		FullPath:     r.FullPath,
		MergeLabels:  s.MergeLabelKinds[r.Kind],
		ActingUserID: userID,
		EnforceSync:  enforce,
	})
}

// bumpMapperSubVersions increments the sub-version label of every mapper.
func bumpMapperSubVersions(ctx context.Context, assets domain.AssetStore) (int, error) {
	var mappers []domain.Asset
	for page := 0; ; page++ {
		res, err := assets.Find(ctx, domain.AssetQuery{
			Kinds: []domain.AssetKind{domain.KindComponentAPITargetMapper},
			Page:  page,
			Size:  mapperPageSize,
		})
		if err != nil {
			return 0, fmt.Errorf("list mappers: %w", err)
		}
		mappers = append(mappers, res.Items...)
		if len(res.Items) < mapperPageSize {
			break
		}
	}
	for _, m := range mappers {
		if err := assets.AddLabel(ctx, m.ID, domain.LabelSubVersion, nextVersion(m.Label(domain.LabelSubVersion))); err != nil {
			return 0, fmt.Errorf("bump sub-version of %s: %w", m.Key, err)
		}
	}
	return len(mappers), nil
}

func loadPackage(ctx context.Context, assets domain.AssetStore, id domain.AssetID) (domain.Asset, error) {
	pkg, err := assets.Get(ctx, id)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("upgrade package: %w", err)
	}
	if pkg.Kind != domain.KindTemplateUpgrade {
		return domain.Asset{}, fmt.Errorf("%w: asset %s is a %s, not an upgrade package", domain.ErrInvalidArgument, id, pkg.Kind)
	}
	return pkg, nil
}
