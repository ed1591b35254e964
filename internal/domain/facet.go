package domain

import (
	"encoding/json"
	"fmt"
)

// Facet is the kind-specific payload of an asset. Each asset kind maps to
// exactly one variant; [DecodeFacet] selects it at the store boundary.
type Facet interface {
	facet()
}

// TemplateUpgradeFacet is carried by upgrade package assets. Depending on
// the package origin, the tuple is embedded or referenced by manifest path.
type TemplateUpgradeFacet struct {
	Tuple        *UpgradeTuple `json:"upgradeTuple,omitempty"`
	ManifestPath string        `json:"manifestPath,omitempty"`
}

// ControlDeploymentFacet embeds the full tuple applied to the control
// plane. It is the audit record and the input for staging.
type ControlDeploymentFacet struct {
	UpgradeTuple UpgradeTuple `json:"upgradeTuple"`
}

// TemplateDeploymentFacet is carried by stage and production
// template-upgrade deployments.
type TemplateDeploymentFacet struct {
	EnvDeployment EnvDeployment `json:"envDeployment"`
}

// ComponentTag references a tag asset that a deployment released.
type ComponentTag struct {
	TagID AssetID `json:"tagId"`
}

// DeploymentFacet records the composition of an environment-scoped
// deployment.
type DeploymentFacet struct {
	EnvID         EnvironmentID  `json:"envId"`
	ReleaseKind   ReleaseKind    `json:"releaseKind"`
	Description   string         `json:"description,omitempty"`
	ComponentTags []ComponentTag `json:"componentTags"`
}

// TaggedAsset is a snapshot of an asset frozen into a component tag.
type TaggedAsset struct {
	ID        AssetID           `json:"id"`
	Kind      AssetKind         `json:"kind"`
	Key       string            `json:"key"`
	ParentKey string            `json:"parentKey,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	Facet     json.RawMessage   `json:"facets,omitempty"`
}

// ComponentTagFacet is the set of assets a tag releases together.
type ComponentTagFacet struct {
	ComponentKey string        `json:"componentKey,omitempty"`
	Children     []TaggedAsset `json:"children"`
}

// Mapper returns the first mapper child of the tag.
func (f *ComponentTagFacet) Mapper() (TaggedAsset, bool) {
	for _, c := range f.Children {
		if c.Kind == KindComponentAPITargetMapper {
			return c, true
		}
	}
	return TaggedAsset{}, false
}

// MapperTrigger is the request shape a mapper handles.
type MapperTrigger struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	ActionType  string `json:"actionType,omitempty"`
	ProductType string `json:"productType,omitempty"`
	ProductKind string `json:"productKind,omitempty"`
}

// MapperFacet is carried by API target mapper assets.
type MapperFacet struct {
	Trigger   MapperTrigger   `json:"trigger"`
	Endpoints json.RawMessage `json:"endpoints,omitempty"`
}

// GenericFacet holds the payload of kinds the orchestrator does not
// interpret.
type GenericFacet struct {
	Data map[string]any
}

func (f GenericFacet) MarshalJSON() ([]byte, error) {
	if f.Data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(f.Data)
}

func (f *GenericFacet) UnmarshalJSON(b []byte) error {
	return json.Unmarshal(b, &f.Data)
}

func (*TemplateUpgradeFacet) facet()    {}
func (*ControlDeploymentFacet) facet()  {}
func (*TemplateDeploymentFacet) facet() {}
func (*DeploymentFacet) facet()         {}
func (*ComponentTagFacet) facet()       {}
func (*MapperFacet) facet()             {}
func (*GenericFacet) facet()            {}

// NewFacet returns an empty facet of the variant bound to kind.
func NewFacet(kind AssetKind) Facet {
	switch kind {
	case KindTemplateUpgrade:
		return &TemplateUpgradeFacet{}
	case KindControlDeployment:
		return &ControlDeploymentFacet{}
	case KindStageDeployment, KindProductionDeployment:
		return &TemplateDeploymentFacet{}
	case KindDeployment:
		return &DeploymentFacet{}
	case KindComponentTag:
		return &ComponentTagFacet{}
	case KindComponentAPITargetMapper:
		return &MapperFacet{}
	default:
		return &GenericFacet{}
	}
}

// DecodeFacet decodes raw JSON into the facet variant bound to kind. An
// empty payload decodes to nil.
func DecodeFacet(kind AssetKind, raw []byte) (Facet, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	f := NewFacet(kind)
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("decode %s facet: %w", kind, err)
	}
	return f, nil
}

// EncodeFacet encodes a facet for storage. A nil facet encodes to nil.
func EncodeFacet(f Facet) ([]byte, error) {
	if f == nil {
		return nil, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode facet: %w", err)
	}
	return b, nil
}

// FacetAs returns the asset's facet as variant T.
func FacetAs[T Facet](a Asset) (T, error) {
	f, ok := a.Facet.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: asset %q (%s) has no %T facet", ErrInvalidArgument, a.Key, a.Kind, zero)
	}
	return f, nil
}
