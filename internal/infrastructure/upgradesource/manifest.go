package upgradesource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// Manifest is the YAML description of an upgrade package.
type Manifest struct {
	domain.UpgradeTuple `yaml:",inline"`

	ProductVersion string `yaml:"productVersion"`
	ReleaseKey     string `yaml:"releaseKey"`
}

// ReadManifest reads and validates the manifest at path.
func ReadManifest(fsys fs.FS, path string) (Manifest, error) {
	raw, err := fs.ReadFile(fsys, strings.TrimPrefix(path, "/"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Manifest{}, fmt.Errorf("manifest %q: %w", path, domain.ErrNotFound)
		}
		return Manifest{}, fmt.Errorf("read manifest %q: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: parse manifest %q: %v", domain.ErrInvalidArgument, path, err)
	}
	if m.ProductKey == "" {
		return Manifest{}, fmt.Errorf("%w: manifest %q: productKey is required", domain.ErrInvalidArgument, path)
	}
	if _, err := domain.ParseTemplateVersion(m.ProductVersion); err != nil {
		return Manifest{}, fmt.Errorf("manifest %q: %w", path, err)
	}
	return m, nil
}

// PackageKey is the asset key of the package a manifest describes.
func (m Manifest) PackageKey() string {
	return m.ProductKey + ".template-upgrade." + m.ProductVersion
}

// packageAsset builds the template-upgrade asset registered for m.
func (m Manifest) packageAsset(source string, facet *domain.TemplateUpgradeFacet) domain.Asset {
	a := domain.Asset{
		Kind:  domain.KindTemplateUpgrade,
		Key:   m.PackageKey(),
		Name:  fmt.Sprintf("%s %s", m.ProductKey, m.ProductVersion),
		Facet: facet,
		Labels: map[string]string{
			domain.LabelProductVersion: m.ProductVersion,
			domain.LabelUpgradeSource:  source,
		},
	}
	if m.ReleaseKey != "" {
		a.SetLabel(domain.LabelReleaseKey, m.ReleaseKey)
	}
	return a
}

func registerPackage(ctx context.Context, assets domain.AssetStore, m Manifest, a domain.Asset, user string) (domain.AssetID, error) {
	res, err := assets.Sync(ctx, m.ProductKey, a, domain.SyncMetadata{SyncedBy: user})
	if err != nil {
		return "", fmt.Errorf("register package %q: %w", a.Key, err)
	}
	switch res.Code {
	case domain.ResultOK:
		return res.ID, nil
	case domain.ResultNotFound:
		return "", fmt.Errorf("product %q: %w", m.ProductKey, domain.ErrNotFound)
	default:
		return "", fmt.Errorf("%w: register package %q: %s", domain.ErrIngestionFailed, a.Key, res.Message)
	}
}
