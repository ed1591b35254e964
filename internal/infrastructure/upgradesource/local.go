package upgradesource

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// Local serves packages whose tuple is embedded in the package asset.
// Results are queued on the management event outbox.
type Local struct {
	Assets domain.AssetStore
	Events domain.EventRepository
	Now    func() time.Time
}

func (s *Local) TemplateUpgradeRecords(_ context.Context, pkg domain.Asset) ([]domain.UpgradeTuple, error) {
	f, err := domain.FacetAs[*domain.TemplateUpgradeFacet](pkg)
	if err != nil {
		return nil, err
	}
	if f.Tuple == nil {
		return nil, fmt.Errorf("upgrade tuple of %q: %w", pkg.Key, domain.ErrNotFound)
	}
	return []domain.UpgradeTuple{*f.Tuple}, nil
}

// resultPayload is the body of a TEMPLATE_UPGRADE_RESULT event.
type resultPayload struct {
	TemplateUpgradeID domain.AssetID `json:"templateUpgradeId"`
	ReleaseKey        string         `json:"releaseKey,omitempty"`
	ProductVersion    string         `json:"productVersion,omitempty"`
	DeploymentID      domain.AssetID `json:"deploymentId"`
}

func (s *Local) ReportResult(ctx context.Context, pkg domain.Asset, deploymentID domain.AssetID) error {
	payload, err := json.Marshal(resultPayload{
		TemplateUpgradeID: pkg.ID,
		ReleaseKey:        pkg.Label(domain.LabelReleaseKey),
		ProductVersion:    pkg.Label(domain.LabelProductVersion),
		DeploymentID:      deploymentID,
	})
	if err != nil {
		return fmt.Errorf("marshal upgrade result: %w", err)
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	return s.Events.Append(ctx, domain.MgmtEvent{
		ID:        uuid.NewString(),
		Type:      domain.EventTemplateUpgradeResult,
		Status:    domain.EventWaitToSend,
		Payload:   payload,
		CreatedAt: now,
	})
}

// Import registers a package with the manifest's tuple embedded.
func (s *Local) Import(ctx context.Context, m Manifest, user string) (domain.AssetID, error) {
	tuple := m.UpgradeTuple
	a := m.packageAsset(OriginLocal, &domain.TemplateUpgradeFacet{Tuple: &tuple})
	return registerPackage(ctx, s.Assets, m, a, user)
}
