package upgradesource

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// File serves packages described by YAML manifests on a file system. The
// package asset references its manifest by path; results are recorded as
// labels on the package.
type File struct {
	FS     fs.FS
	Assets domain.AssetStore
}

func (s *File) TemplateUpgradeRecords(_ context.Context, pkg domain.Asset) ([]domain.UpgradeTuple, error) {
	f, err := domain.FacetAs[*domain.TemplateUpgradeFacet](pkg)
	if err != nil {
		return nil, err
	}
	if f.ManifestPath == "" {
		return nil, fmt.Errorf("manifest path of %q: %w", pkg.Key, domain.ErrNotFound)
	}
	m, err := ReadManifest(s.FS, f.ManifestPath)
	if err != nil {
		return nil, err
	}
	return []domain.UpgradeTuple{m.UpgradeTuple}, nil
}

func (s *File) ReportResult(ctx context.Context, pkg domain.Asset, deploymentID domain.AssetID) error {
	if err := s.Assets.AddLabel(ctx, pkg.ID, domain.LabelReportedDeployment, string(deploymentID)); err != nil {
		return fmt.Errorf("record upgrade result on %q: %w", pkg.Key, err)
	}
	return nil
}

// Import registers a package referencing the manifest at path.
func (s *File) Import(ctx context.Context, path, user string) (domain.AssetID, error) {
	m, err := ReadManifest(s.FS, path)
	if err != nil {
		return "", err
	}
	a := m.packageAsset(OriginFile, &domain.TemplateUpgradeFacet{ManifestPath: path})
	return registerPackage(ctx, s.Assets, m, a, user)
}
