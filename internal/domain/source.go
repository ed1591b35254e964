package domain

import "context"

// UpgradeSource is the connector to one upgrade package origin.
type UpgradeSource interface {
	// TemplateUpgradeRecords returns the tuples of the package. The first
	// tuple is authoritative.
	TemplateUpgradeRecords(ctx context.Context, pkg Asset) ([]UpgradeTuple, error)
	// ReportResult reports the deployment produced for the package back
	// to its origin.
	ReportResult(ctx context.Context, pkg Asset, deploymentID AssetID) error
}

// UpgradeSourceResolver selects the connector for a package.
type UpgradeSourceResolver interface {
	Resolve(pkg Asset) (UpgradeSource, error)
}

// ContentLoader resolves an upgrade record's full path to the asset it
// describes.
type ContentLoader interface {
	Load(ctx context.Context, fullPath string) (Asset, error)
}

// IngestEvent asks for a single record to be written into the asset
// graph.
type IngestEvent struct {
	ParentKey    string
	FullPath     string
	MergeLabels  bool
	ActingUserID string
	// EnforceSync writes the record even when the stored template version
	// is unchanged.
	EnforceSync bool
}

// Ingester performs single-record idempotent upserts through the given
// asset store, which may belong to an open unit of work.
type Ingester interface {
	IngestData(ctx context.Context, assets AssetStore, ev IngestEvent) error
}

// DeploymentExecutor drives nested deployments to completion outside the
// orchestrator. Completion is reported back asynchronously.
type DeploymentExecutor interface {
	Submit(ctx context.Context, deploymentID AssetID, envID EnvironmentID) error
}
