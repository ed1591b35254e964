package domain

import (
	"context"
	"encoding/json"
	"time"
)

// AssetStore is the persistence and query port of the asset graph.
type AssetStore interface {
	// Get returns the asset with the given id.
	Get(ctx context.Context, id AssetID) (Asset, error)
	// FindOne returns the asset of the given kind and key.
	FindOne(ctx context.Context, kind AssetKind, key string) (Asset, error)
	// Find returns one page of assets matching the query.
	Find(ctx context.Context, q AssetQuery) (Page[Asset], error)
	// FindByKeys returns every asset whose key is in keys, of any kind.
	// With resolveParent, ParentKey is populated from ParentID.
	FindByKeys(ctx context.Context, keys []string, resolveParent bool) ([]Asset, error)
	// FindByIDs returns the assets with the given ids in input order,
	// skipping unknown ids.
	FindByIDs(ctx context.Context, ids []AssetID) ([]Asset, error)
	// Sync upserts an asset by (kind, key) under the parent identified by
	// id or key. Business failures are reported in the result.
	Sync(ctx context.Context, parent string, a Asset, meta SyncMetadata) (IngestionResult, error)
	AddLabel(ctx context.Context, id AssetID, key, value string) error
	UpdateStatus(ctx context.Context, id AssetID, status string) error
}

// EnvironmentRepository persists deployment environments.
type EnvironmentRepository interface {
	Create(ctx context.Context, env Environment) error
	Get(ctx context.Context, id EnvironmentID) (Environment, error)
	List(ctx context.Context) ([]Environment, error)
	Delete(ctx context.Context, id EnvironmentID) error
}

// SystemInfoRepository persists the singleton [SystemInfo].
type SystemInfoRepository interface {
	Get(ctx context.Context) (SystemInfo, error)
	// CompareAndSwap sets the status to next when the current status is in
	// allowed. A non-empty version replaces the recorded product version.
	CompareAndSwap(ctx context.Context, allowed []SystemState, next SystemState, version string) (bool, error)
	Put(ctx context.Context, info SystemInfo) error
}

// EventType names a management event.
type EventType string

const (
	EventAssetSynced           EventType = "ASSET_SYNCED"
	EventTemplateUpgradeResult EventType = "TEMPLATE_UPGRADE_RESULT"
)

// EventStatus is the delivery status of an outbox event.
type EventStatus string

const (
	EventWaitToSend EventStatus = "WAIT_TO_SEND"
	EventSent       EventStatus = "SENT"
)

// MgmtEvent is an outbox entry published to external consumers by a
// separate relay.
type MgmtEvent struct {
	ID        string
	Type      EventType
	Status    EventStatus
	Payload   json.RawMessage
	CreatedAt time.Time
}

// EventRepository persists management events.
type EventRepository interface {
	Append(ctx context.Context, e MgmtEvent) error
	ListByStatus(ctx context.Context, status EventStatus) ([]MgmtEvent, error)
	MarkSent(ctx context.Context, id string) error
}

// DeploymentRun tracks the execution of one nested deployment.
type DeploymentRun struct {
	DeploymentID AssetID
	EnvID        EnvironmentID
	State        DeployStatus
	UpdatedAt    time.Time
}

// DeploymentRunRepository persists deployment runs.
type DeploymentRunRepository interface {
	Put(ctx context.Context, run DeploymentRun) error
	Get(ctx context.Context, id AssetID) (DeploymentRun, error)
	ListByState(ctx context.Context, state DeployStatus) ([]DeploymentRun, error)
}

// Store groups the repositories and provides the transactional boundary.
// Repositories obtained from the store passed to fn share one unit of work.
type Store interface {
	Assets() AssetStore
	Environments() EnvironmentRepository
	System() SystemInfoRepository
	Events() EventRepository
	Runs() DeploymentRunRepository
	// WithTx runs fn in a unit of work, committing when fn returns nil and
	// rolling back otherwise. Nested calls join the outer unit.
	WithTx(ctx context.Context, fn func(Store) error) error
}
