// Package content resolves upgrade record paths to asset documents.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// document is the YAML form of an asset.
type document struct {
	Kind       string `yaml:"kind"`
	APIVersion string `yaml:"apiVersion"`
	Metadata   struct {
		Key         string            `yaml:"key"`
		Name        string            `yaml:"name"`
		Description string            `yaml:"description"`
		Version     string            `yaml:"version"`
		Labels      map[string]string `yaml:"labels"`
	} `yaml:"metadata"`
	Status string `yaml:"status"`
	Links  []struct {
		TargetAssetKey string `yaml:"targetAssetKey"`
		Relationship   string `yaml:"relationship"`
		Group          string `yaml:"group"`
	} `yaml:"links"`
	Facets map[string]any `yaml:"facets"`
}

// FSLoader implements [domain.ContentLoader] over a file system. Paths may
// carry a "classpath:" scheme, which is ignored.
type FSLoader struct {
	FS fs.FS
}

func (l *FSLoader) Load(_ context.Context, fullPath string) (domain.Asset, error) {
	p := normalizePath(fullPath)
	raw, err := fs.ReadFile(l.FS, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Asset{}, fmt.Errorf("content %q: %w", fullPath, domain.ErrNotFound)
		}
		return domain.Asset{}, fmt.Errorf("read content %q: %w", fullPath, err)
	}
	return Decode(raw)
}

// Decode parses one YAML asset document.
func Decode(raw []byte) (domain.Asset, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return domain.Asset{}, fmt.Errorf("%w: parse asset document: %v", domain.ErrInvalidArgument, err)
	}
	if doc.Kind == "" || doc.Metadata.Key == "" {
		return domain.Asset{}, fmt.Errorf("%w: asset document requires kind and metadata.key", domain.ErrInvalidArgument)
	}

	a := domain.Asset{
		Kind:        domain.AssetKind(doc.Kind),
		Key:         doc.Metadata.Key,
		Name:        doc.Metadata.Name,
		Description: doc.Metadata.Description,
		Status:      doc.Status,
	}
	for k, v := range doc.Metadata.Labels {
		a.SetLabel(k, v)
	}
	if doc.Metadata.Version != "" {
		a.SetLabel(domain.LabelTemplateVersion, doc.Metadata.Version)
	}
	for _, l := range doc.Links {
		a.Links = append(a.Links, domain.Link{
			TargetKey:    l.TargetAssetKey,
			Relationship: domain.LinkKind(l.Relationship),
			Group:        l.Group,
		})
	}
	if doc.Facets != nil {
		b, err := json.Marshal(doc.Facets)
		if err != nil {
			return domain.Asset{}, fmt.Errorf("%w: facets of %q: %v", domain.ErrInvalidArgument, a.Key, err)
		}
		f, err := domain.DecodeFacet(a.Kind, b)
		if err != nil {
			return domain.Asset{}, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
		}
		a.Facet = f
	}
	return a, nil
}

func normalizePath(p string) string {
	p = strings.TrimPrefix(p, "classpath:")
	return strings.TrimPrefix(p, "/")
}
