package application

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// ReleaseService creates component tags and the environment-scoped
// deployments releasing them. It writes through the asset store it is
// given, so callers control the unit of work.
type ReleaseService struct{}

// CreateSystemTemplateTag freezes the given assets into one component tag
// under the product.
func (s *ReleaseService) CreateSystemTemplateTag(ctx context.Context, assets domain.AssetStore, productKey string, members []domain.Asset, user string) (domain.AssetID, error) {
	children := make([]domain.TaggedAsset, 0, len(members))
	for _, m := range members {
		c, err := snapshot(m)
		if err != nil {
			return "", err
		}
		children = append(children, c)
	}
	return s.createTag(ctx, assets, productKey, &domain.ComponentTagFacet{Children: children}, map[string]string{
		domain.LabelReleaseKind: string(domain.ReleaseKindSystemTemplateMixed),
	}, user)
}

// DeployComponents creates one deployment of the tags into env.
func (s *ReleaseService) DeployComponents(ctx context.Context, assets domain.AssetStore, productKey string, tagIDs []domain.AssetID, env domain.Environment, kind domain.ReleaseKind, user string) (domain.AssetID, error) {
	tags := make([]domain.ComponentTag, len(tagIDs))
	for i, id := range tagIDs {
		tags[i] = domain.ComponentTag{TagID: id}
	}
	return syncAsset(ctx, assets, productKey, domain.Asset{
		Kind:   domain.KindDeployment,
		Key:    productKey + ".deployment." + uuid.NewString(),
		Status: string(domain.DeployStatusInProcess),
		Labels: map[string]string{
			domain.LabelEnvID:       string(env.ID),
			domain.LabelEnvName:     env.Name,
			domain.LabelReleaseKind: string(kind),
		},
		Facet: &domain.DeploymentFacet{
			EnvID:         env.ID,
			ReleaseKind:   kind,
			ComponentTags: tags,
		},
	}, user)
}

// CreateMapperVersionAndDeploy bumps the mapper's version, tags it together
// with its owning component and deploys the tag into env.
func (s *ReleaseService) CreateMapperVersionAndDeploy(ctx context.Context, assets domain.AssetStore, productKey string, mapper domain.Asset, componentKey string, env domain.Environment, user string) (domain.AssetID, error) {
	version := nextVersion(mapper.Label(domain.LabelVersion))
	if err := assets.AddLabel(ctx, mapper.ID, domain.LabelVersion, version); err != nil {
		return "", fmt.Errorf("bump version of %s: %w", mapper.Key, err)
	}
	mapper.SetLabel(domain.LabelVersion, version)

	var children []domain.TaggedAsset
	if componentKey != "" {
		component, err := assets.FindOne(ctx, domain.KindComponentAPI, componentKey)
		if err != nil {
			return "", fmt.Errorf("component of mapper %s: %w", mapper.Key, err)
		}
		c, err := snapshot(component)
		if err != nil {
			return "", err
		}
		children = append(children, c)
	}
	m, err := snapshot(mapper)
	if err != nil {
		return "", err
	}
	children = append(children, m)

	tagID, err := s.createTag(ctx, assets, productKey, &domain.ComponentTagFacet{
		ComponentKey: componentKey,
		Children:     children,
	}, map[string]string{
		domain.LabelReleaseKind: string(domain.ReleaseKindAPILevel),
		domain.LabelMapperKey:   mapper.Key,
		domain.LabelVersion:     version,
	}, user)
	if err != nil {
		return "", err
	}
	return s.DeployComponents(ctx, assets, productKey, []domain.AssetID{tagID}, env, domain.ReleaseKindAPILevel, user)
}

// CloneDeployment recreates every tag of a deployment and one deployment
// per tag in env. Deployments are environment-scoped identities and are
// never shared across environments.
func (s *ReleaseService) CloneDeployment(ctx context.Context, assets domain.AssetStore, id domain.AssetID, env domain.Environment, user string) ([]domain.AssetID, error) {
	src, err := assets.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("deployment %s: %w", id, err)
	}
	f, err := domain.FacetAs[*domain.DeploymentFacet](src)
	if err != nil {
		return nil, err
	}
	productKey := src.ParentKey

	var out []domain.AssetID
	for _, ref := range f.ComponentTags {
		tag, err := assets.Get(ctx, ref.TagID)
		if err != nil {
			return nil, fmt.Errorf("tag %s of deployment %s: %w", ref.TagID, id, err)
		}
		tf, err := domain.FacetAs[*domain.ComponentTagFacet](tag)
		if err != nil {
			return nil, err
		}
		clone := *tf
		clone.Children = append([]domain.TaggedAsset(nil), tf.Children...)
		tagID, err := s.createTag(ctx, assets, productKey, &clone, tag.Labels, user)
		if err != nil {
			return nil, err
		}
		depID, err := s.DeployComponents(ctx, assets, productKey, []domain.AssetID{tagID}, env, f.ReleaseKind, user)
		if err != nil {
			return nil, err
		}
		out = append(out, depID)
	}
	return out, nil
}

func (s *ReleaseService) createTag(ctx context.Context, assets domain.AssetStore, productKey string, f *domain.ComponentTagFacet, labels map[string]string, user string) (domain.AssetID, error) {
	tag := domain.Asset{
		Kind:  domain.KindComponentTag,
		Key:   productKey + ".component-tag." + uuid.NewString(),
		Facet: f,
	}
	for k, v := range labels {
		tag.SetLabel(k, v)
	}
	return syncAsset(ctx, assets, productKey, tag, user)
}

// syncAsset writes a new asset and turns a non-success result into
// [domain.ErrIngestionFailed].
func syncAsset(ctx context.Context, assets domain.AssetStore, parent string, a domain.Asset, user string) (domain.AssetID, error) {
	res, err := assets.Sync(ctx, parent, a, domain.SyncMetadata{SyncedBy: user})
	if err != nil {
		return "", fmt.Errorf("%w: sync %s: %w", domain.ErrIngestionFailed, a.Key, err)
	}
	if !res.OK() {
		return "", fmt.Errorf("%w: sync %s: code %d: %s", domain.ErrIngestionFailed, a.Key, res.Code, res.Message)
	}
	return res.ID, nil
}

func snapshot(a domain.Asset) (domain.TaggedAsset, error) {
	raw, err := domain.EncodeFacet(a.Facet)
	if err != nil {
		return domain.TaggedAsset{}, err
	}
	return domain.TaggedAsset{
		ID:        a.ID,
		Kind:      a.Kind,
		Key:       a.Key,
		ParentKey: a.ParentKey,
		Labels:    a.Labels,
		Facet:     raw,
	}, nil
}

// nextVersion increments a numeric version label. Missing or non-numeric
// values restart at 1.
func nextVersion(cur string) string {
	n, err := strconv.Atoi(cur)
	if err != nil || n < 0 {
		n = 0
	}
	return strconv.Itoa(n + 1)
}
