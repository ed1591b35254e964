package upgradesource_test

import (
	"context"
	"encoding/json"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zqdou/kraken-ent/internal/domain"
	"github.com/zqdou/kraken-ent/internal/infrastructure/sqlite"
	"github.com/zqdou/kraken-ent/internal/infrastructure/upgradesource"
)

const manifest = `
productKey: mef.sonata
productVersion: v1.3.0
releaseKey: r-2026-03
directSaves:
  - key: mef.sonata.buyer.default
    kind: kraken.product.buyer
    fullPath: classpath:/buyer.yaml
    productKey: mef.sonata
versionChangedTemplates:
  - key: mef.sonata.api.quote
    kind: kraken.component.api
    fullPath: classpath:/api-quote.yaml
enforceUpgradeTemplates:
  - key: mef.sonata.api.quote
    kind: kraken.component.api
    fullPath: classpath:/api-quote.yaml
  - key: mef.sonata.api-spec.order
    kind: kraken.component.api-spec
    fullPath: classpath:/api-spec-order.yaml
`

func setupStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store := &sqlite.Store{DB: sqlite.OpenTestDB(t)}
	res, err := store.Assets().Sync(context.Background(), "", domain.Asset{Kind: domain.KindProduct, Key: "mef.sonata"}, domain.SyncMetadata{})
	require.NoError(t, err)
	require.True(t, res.OK())
	return store
}

func TestReadManifest(t *testing.T) {
	fsys := fstest.MapFS{"packages/1.3.0.yaml": {Data: []byte(manifest)}}
	m, err := upgradesource.ReadManifest(fsys, "packages/1.3.0.yaml")
	require.NoError(t, err)

	assert.Equal(t, "mef.sonata", m.ProductKey)
	assert.Equal(t, "v1.3.0", m.ProductVersion)
	require.Len(t, m.DirectSaves, 1)
	assert.Equal(t, "mef.sonata", m.DirectSaves[0].ProductKey)
	assert.Equal(t, []string{"mef.sonata.api.quote", "mef.sonata.api-spec.order"}, m.StageKeys())
}

func TestReadManifest_InvalidVersion(t *testing.T) {
	fsys := fstest.MapFS{"m.yaml": {Data: []byte("productKey: p\nproductVersion: v\n")}}
	_, err := upgradesource.ReadManifest(fsys, "m.yaml")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestFile_ImportAndRecords(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	src := &upgradesource.File{
		FS:     fstest.MapFS{"packages/1.3.0.yaml": {Data: []byte(manifest)}},
		Assets: store.Assets(),
	}

	id, err := src.Import(ctx, "packages/1.3.0.yaml", "admin")
	require.NoError(t, err)

	pkg, err := store.Assets().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, upgradesource.OriginFile, pkg.Label(domain.LabelUpgradeSource))
	assert.Equal(t, "v1.3.0", pkg.Label(domain.LabelProductVersion))
	assert.Equal(t, "mef.sonata", pkg.ParentKey)

	tuples, err := src.TemplateUpgradeRecords(ctx, pkg)
	require.NoError(t, err)
	require.Len(t, tuples, 1)
	assert.Len(t, tuples[0].VersionChangedTemplates, 1)

	require.NoError(t, src.ReportResult(ctx, pkg, "dep-1"))
	pkg, _ = store.Assets().Get(ctx, id)
	assert.Equal(t, "dep-1", pkg.Label(domain.LabelReportedDeployment))
}

func TestFile_ImportUnknownProduct(t *testing.T) {
	store := &sqlite.Store{DB: sqlite.OpenTestDB(t)}
	src := &upgradesource.File{
		FS:     fstest.MapFS{"m.yaml": {Data: []byte(manifest)}},
		Assets: store.Assets(),
	}
	_, err := src.Import(context.Background(), "m.yaml", "admin")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLocal_ImportRecordsAndReport(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	m, err := upgradesource.ReadManifest(fstest.MapFS{"m.yaml": {Data: []byte(manifest)}}, "m.yaml")
	require.NoError(t, err)

	src := &upgradesource.Local{
		Assets: store.Assets(),
		Events: store.Events(),
		Now:    func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) },
	}
	id, err := src.Import(ctx, m, "admin")
	require.NoError(t, err)
	pkg, err := store.Assets().Get(ctx, id)
	require.NoError(t, err)

	tuples, err := src.TemplateUpgradeRecords(ctx, pkg)
	require.NoError(t, err)
	require.Len(t, tuples, 1)
	assert.Equal(t, m.UpgradeTuple.StageKeys(), tuples[0].StageKeys())

	require.NoError(t, src.ReportResult(ctx, pkg, "dep-9"))
	events, err := store.Events().ListByStatus(ctx, domain.EventWaitToSend)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTemplateUpgradeResult, events[0].Type)

	var body map[string]string
	require.NoError(t, json.Unmarshal(events[0].Payload, &body))
	assert.Equal(t, "dep-9", body["deploymentId"])
	assert.Equal(t, "r-2026-03", body["releaseKey"])
}

func TestRegistry_Resolve(t *testing.T) {
	local := &upgradesource.Local{}
	file := &upgradesource.File{}
	reg := &upgradesource.Registry{
		Sources: map[string]domain.UpgradeSource{
			upgradesource.OriginLocal: local,
			upgradesource.OriginFile:  file,
		},
		Default: upgradesource.OriginLocal,
	}

	got, err := reg.Resolve(domain.Asset{})
	require.NoError(t, err)
	assert.Same(t, local, got)

	got, err = reg.Resolve(domain.Asset{Labels: map[string]string{domain.LabelUpgradeSource: "file"}})
	require.NoError(t, err)
	assert.Same(t, file, got)

	_, err = reg.Resolve(domain.Asset{Labels: map[string]string{domain.LabelUpgradeSource: "ftp"}})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
