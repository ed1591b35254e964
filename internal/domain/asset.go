package domain

import "time"

// AssetID is the opaque identifier the asset store assigns to an asset.
type AssetID string

// AssetKind is the taxonomy tag of an asset. Keys are unique per kind.
type AssetKind string

const (
	KindProduct                  AssetKind = "kraken.product"
	KindBuyer                    AssetKind = "kraken.product.buyer"
	KindComponentAPI             AssetKind = "kraken.component.api"
	KindComponentAPISpec         AssetKind = "kraken.component.api-spec"
	KindComponentAPITarget       AssetKind = "kraken.component.api-target"
	KindComponentAPITargetMapper AssetKind = "kraken.component.api-target-mapper"
	KindComponentTag             AssetKind = "kraken.product.component-tag"
	KindDeployment               AssetKind = "kraken.product.deployment"
	KindTemplateUpgrade          AssetKind = "kraken.product.template-upgrade"
	KindControlDeployment        AssetKind = "kraken.product.template-control-deployment"
	KindStageDeployment          AssetKind = "kraken.product.template-deployment"
	KindProductionDeployment     AssetKind = "kraken.product.template-production-deployment"
)

// Label keys shared across the orchestrator.
const (
	LabelEnvID                = "envId"
	LabelEnvName              = "envName"
	LabelTemplateUpgradeID    = "templateUpgradeId"
	LabelTemplateDeploymentID = "templateDeploymentId"
	LabelProductVersion       = "productVersion"
	LabelTemplateVersion      = "templateVersion"
	LabelVersion              = "version"
	LabelSubVersion           = "subVersion"
	LabelDeployedStatus       = "deployedStatus"
	LabelReleaseKind          = "releaseKind"
	LabelReleaseKey           = "releaseKey"
	LabelUpgradeSource        = "upgradeSource"
	LabelMapperKey            = "mapperKey"
	LabelReportedDeployment   = "reportedDeploymentId"

	ValueDeployed = "DEPLOYED"
)

// DeployStatus is the lifecycle status of deployment-like assets.
type DeployStatus string

const (
	DeployStatusDraft     DeployStatus = "DRAFT"
	DeployStatusInProcess DeployStatus = "IN_PROCESS"
	DeployStatusSuccess   DeployStatus = "SUCCESS"
	DeployStatusFailed    DeployStatus = "FAILED"
)

// ReleaseKind distinguishes per-mapper deployments from bulk system
// template deployments.
type ReleaseKind string

const (
	ReleaseKindAPILevel            ReleaseKind = "API_LEVEL"
	ReleaseKindSystemTemplateMixed ReleaseKind = "SYSTEM_TEMPLATE_MIXED"
)

// LinkKind is the relationship carried by a [Link].
type LinkKind string

const (
	// LinkImplementationTarget points from a component API to the API
	// target a use case implements.
	LinkImplementationTarget LinkKind = "implementation.target"
	// LinkImplementationTargetMapper associates a component API with the
	// mapper of a use case. It must exist before reconciliation can
	// classify that mapper's changes.
	LinkImplementationTargetMapper LinkKind = "implementation.target-mapper"
)

// Link is a typed edge to another asset, addressed by key. Links sharing a
// Group belong to the same API use case.
type Link struct {
	TargetKey    string   `json:"targetAssetKey"`
	Relationship LinkKind `json:"relationship"`
	Group        string   `json:"group,omitempty"`
}

// Asset is a versioned node of the asset graph.
type Asset struct {
	ID          AssetID
	Kind        AssetKind
	Key         string
	Name        string
	Description string
	// ParentID is the ownership edge by id. ParentKey is only populated
	// when a lookup resolves the parent.
	ParentID  AssetID
	ParentKey string
	Revision  int
	Labels    map[string]string
	Facet     Facet
	Status    string
	Links     []Link
	CreatedAt time.Time
	CreatedBy string
	UpdatedAt time.Time
	UpdatedBy string
}

// Label returns the value of a label, or "" when absent.
func (a Asset) Label(key string) string {
	if a.Labels == nil {
		return ""
	}
	return a.Labels[key]
}

// IsDeployed reports whether the asset carries the deployed-status label.
// Only deployed mappers are eligible for automated redeployment.
func (a Asset) IsDeployed() bool {
	return a.Label(LabelDeployedStatus) == ValueDeployed
}

// SetLabel sets a label, allocating the map if needed.
func (a *Asset) SetLabel(key, value string) {
	if a.Labels == nil {
		a.Labels = make(map[string]string)
	}
	a.Labels[key] = value
}

// SyncMetadata accompanies an asset store upsert.
type SyncMetadata struct {
	SyncedBy    string
	SyncedAt    time.Time
	MergeLabels bool
	// SendEvent appends an asset-synced management event in the same unit
	// of work.
	SendEvent bool
}

// IngestionResult is the outcome of an asset store upsert. Business
// failures are reported through Code rather than as errors.
type IngestionResult struct {
	Code    int
	Message string
	ID      AssetID
}

const (
	ResultOK         = 200
	ResultBadRequest = 400
	ResultNotFound   = 404
)

// OK reports whether the upsert succeeded.
func (r IngestionResult) OK() bool { return r.Code == ResultOK }

// AssetQuery filters assets for [AssetStore.Find]. Empty fields do not
// filter. Page is zero-based; Size zero returns every match.
type AssetQuery struct {
	Kinds    []AssetKind
	Statuses []string
	Labels   map[string]string
	ParentID AssetID
	// NewestFirst orders by creation time descending; otherwise ascending.
	NewestFirst bool
	Page        int
	Size        int
}

// Page is one page of query results.
type Page[T any] struct {
	Items []T
	Page  int
	Size  int
	Total int
}

// First returns the first item of the page.
func (p Page[T]) First() (T, bool) {
	if len(p.Items) == 0 {
		var zero T
		return zero, false
	}
	return p.Items[0], true
}

// AssetLink is a link together with the key and id of the asset owning it.
type AssetLink struct {
	AssetID  AssetID
	AssetKey string
	Link
}
