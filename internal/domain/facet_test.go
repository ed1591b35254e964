package domain_test

import (
	"errors"
	"testing"

	"github.com/zqdou/kraken-ent/internal/domain"
)

func TestDecodeFacet_ByKind(t *testing.T) {
	raw := []byte(`{"envDeployment":{"envId":"stage","mapperDeployment":["m1"],"systemDeployments":[],"mapperDraft":["d1"]}}`)
	f, err := domain.DecodeFacet(domain.KindStageDeployment, raw)
	if err != nil {
		t.Fatalf("DecodeFacet: %v", err)
	}
	td, ok := f.(*domain.TemplateDeploymentFacet)
	if !ok {
		t.Fatalf("facet type = %T, want *TemplateDeploymentFacet", f)
	}
	if td.EnvDeployment.EnvID != "stage" || len(td.EnvDeployment.MapperDraft) != 1 {
		t.Errorf("EnvDeployment = %+v", td.EnvDeployment)
	}

	g, err := domain.DecodeFacet(domain.KindBuyer, []byte(`{"region":"eu"}`))
	if err != nil {
		t.Fatalf("DecodeFacet generic: %v", err)
	}
	if gf, ok := g.(*domain.GenericFacet); !ok || gf.Data["region"] != "eu" {
		t.Errorf("generic facet = %#v", g)
	}

	for _, raw := range [][]byte{nil, []byte("null")} {
		f, err := domain.DecodeFacet(domain.KindDeployment, raw)
		if err != nil || f != nil {
			t.Errorf("DecodeFacet(%q) = %v, %v; want nil, nil", raw, f, err)
		}
	}
}

func TestFacetAs(t *testing.T) {
	a := domain.Asset{Key: "tag", Kind: domain.KindComponentTag, Facet: &domain.ComponentTagFacet{
		ComponentKey: "api.quote",
		Children: []domain.TaggedAsset{
			{Key: "api.quote", Kind: domain.KindComponentAPI},
			{Key: "mapper.add", Kind: domain.KindComponentAPITargetMapper},
		},
	}}

	tf, err := domain.FacetAs[*domain.ComponentTagFacet](a)
	if err != nil {
		t.Fatalf("FacetAs: %v", err)
	}
	m, ok := tf.Mapper()
	if !ok || m.Key != "mapper.add" {
		t.Errorf("Mapper = %+v, %v", m, ok)
	}

	if _, err := domain.FacetAs[*domain.DeploymentFacet](a); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("mismatched variant: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := domain.FacetAs[*domain.DeploymentFacet](domain.Asset{}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("missing facet: expected ErrInvalidArgument, got %v", err)
	}
}
