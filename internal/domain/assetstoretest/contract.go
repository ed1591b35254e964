// Package assetstoretest provides contract tests for [domain.AssetStore]
// implementations.
package assetstoretest

import (
	"context"
	"errors"
	"testing"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// Factory creates a fresh, empty [domain.AssetStore] for each test.
type Factory func(t *testing.T) domain.AssetStore

// Run exercises the [domain.AssetStore] contract.
func Run(t *testing.T, factory Factory) {
	ctx := context.Background()
	meta := domain.SyncMetadata{SyncedBy: "tester"}

	mustSync := func(t *testing.T, s domain.AssetStore, parent string, a domain.Asset, m domain.SyncMetadata) domain.AssetID {
		t.Helper()
		res, err := s.Sync(ctx, parent, a, m)
		if err != nil {
			t.Fatalf("Sync %s: %v", a.Key, err)
		}
		if !res.OK() {
			t.Fatalf("Sync %s: code %d: %s", a.Key, res.Code, res.Message)
		}
		return res.ID
	}

	product := domain.Asset{Kind: domain.KindProduct, Key: "mef.sonata", Name: "Sonata"}

	t.Run("SyncAndGet", func(t *testing.T) {
		s := factory(t)
		pid := mustSync(t, s, "", product, meta)
		id := mustSync(t, s, "mef.sonata", domain.Asset{
			Kind:   domain.KindDeployment,
			Key:    "dep-1",
			Labels: map[string]string{domain.LabelEnvID: "stage"},
			Status: string(domain.DeployStatusInProcess),
			Facet: &domain.DeploymentFacet{
				EnvID:         "stage",
				ReleaseKind:   domain.ReleaseKindAPILevel,
				ComponentTags: []domain.ComponentTag{{TagID: "tag-1"}},
			},
		}, meta)

		got, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ParentID != pid {
			t.Errorf("ParentID = %q, want %q", got.ParentID, pid)
		}
		if got.ParentKey != "mef.sonata" {
			t.Errorf("ParentKey = %q, want mef.sonata", got.ParentKey)
		}
		if got.Revision != 1 {
			t.Errorf("Revision = %d, want 1", got.Revision)
		}
		if got.CreatedBy != "tester" {
			t.Errorf("CreatedBy = %q, want tester", got.CreatedBy)
		}
		f, err := domain.FacetAs[*domain.DeploymentFacet](got)
		if err != nil {
			t.Fatalf("FacetAs: %v", err)
		}
		if len(f.ComponentTags) != 1 || f.ComponentTags[0].TagID != "tag-1" {
			t.Errorf("ComponentTags = %+v", f.ComponentTags)
		}

		one, err := s.FindOne(ctx, domain.KindDeployment, "dep-1")
		if err != nil {
			t.Fatalf("FindOne: %v", err)
		}
		if one.ID != id {
			t.Errorf("FindOne ID = %q, want %q", one.ID, id)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		s := factory(t)
		if _, err := s.Get(ctx, "nonexistent"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
		if _, err := s.FindOne(ctx, domain.KindProduct, "nonexistent"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("FindOne: got %v, want ErrNotFound", err)
		}
	})

	t.Run("SyncIsIdempotent", func(t *testing.T) {
		s := factory(t)
		a := domain.Asset{
			Kind:   domain.KindComponentAPI,
			Key:    "api.quote",
			Labels: map[string]string{domain.LabelTemplateVersion: "1.0.0"},
			Links:  []domain.Link{{TargetKey: "target.quote", Relationship: domain.LinkImplementationTarget, Group: "g1"}},
		}
		first := mustSync(t, s, "", a, meta)
		before, _ := s.Get(ctx, first)

		second := mustSync(t, s, "", a, meta)
		after, _ := s.Get(ctx, second)

		if first != second {
			t.Fatalf("ids differ: %q vs %q", first, second)
		}
		if after.Revision != before.Revision {
			t.Errorf("Revision = %d after identical sync, want %d", after.Revision, before.Revision)
		}
		if !after.UpdatedAt.Equal(before.UpdatedAt) {
			t.Errorf("UpdatedAt changed on identical sync")
		}
	})

	t.Run("SyncChangeBumpsRevision", func(t *testing.T) {
		s := factory(t)
		a := domain.Asset{Kind: domain.KindComponentAPI, Key: "api.quote", Labels: map[string]string{"a": "1"}}
		id := mustSync(t, s, "", a, meta)
		a.Labels = map[string]string{"a": "2"}
		mustSync(t, s, "", a, meta)

		got, _ := s.Get(ctx, id)
		if got.Revision != 2 {
			t.Errorf("Revision = %d, want 2", got.Revision)
		}
		if got.Label("a") != "2" {
			t.Errorf("label a = %q, want 2", got.Label("a"))
		}
	})

	t.Run("SyncMergeLabels", func(t *testing.T) {
		s := factory(t)
		id := mustSync(t, s, "", domain.Asset{Kind: domain.KindComponentAPI, Key: "k", Labels: map[string]string{"a": "1", "b": "1"}}, meta)

		merge := meta
		merge.MergeLabels = true
		mustSync(t, s, "", domain.Asset{Kind: domain.KindComponentAPI, Key: "k", Labels: map[string]string{"b": "2"}}, merge)
		got, _ := s.Get(ctx, id)
		if got.Label("a") != "1" || got.Label("b") != "2" {
			t.Errorf("merged labels = %v, want a=1 b=2", got.Labels)
		}

		mustSync(t, s, "", domain.Asset{Kind: domain.KindComponentAPI, Key: "k", Labels: map[string]string{"c": "3"}}, meta)
		got, _ = s.Get(ctx, id)
		if _, ok := got.Labels["a"]; ok {
			t.Errorf("replaced labels = %v, want only c", got.Labels)
		}
	})

	t.Run("SyncKeepsStatusWhenEmpty", func(t *testing.T) {
		s := factory(t)
		id := mustSync(t, s, "", domain.Asset{Kind: domain.KindDeployment, Key: "d", Status: "SUCCESS"}, meta)
		mustSync(t, s, "", domain.Asset{Kind: domain.KindDeployment, Key: "d", Labels: map[string]string{"x": "y"}}, meta)
		got, _ := s.Get(ctx, id)
		if got.Status != "SUCCESS" {
			t.Errorf("Status = %q, want SUCCESS", got.Status)
		}
	})

	t.Run("SyncMissingParent", func(t *testing.T) {
		s := factory(t)
		res, err := s.Sync(ctx, "missing", domain.Asset{Kind: domain.KindDeployment, Key: "d"}, meta)
		if err != nil {
			t.Fatalf("Sync: %v", err)
		}
		if res.Code != domain.ResultNotFound {
			t.Errorf("Code = %d, want %d", res.Code, domain.ResultNotFound)
		}
	})

	t.Run("SyncRequiresKey", func(t *testing.T) {
		s := factory(t)
		res, err := s.Sync(ctx, "", domain.Asset{Kind: domain.KindDeployment}, meta)
		if err != nil {
			t.Fatalf("Sync: %v", err)
		}
		if res.Code != domain.ResultBadRequest {
			t.Errorf("Code = %d, want %d", res.Code, domain.ResultBadRequest)
		}
	})

	t.Run("ParentByID", func(t *testing.T) {
		s := factory(t)
		pid := mustSync(t, s, "", product, meta)
		id := mustSync(t, s, string(pid), domain.Asset{Kind: domain.KindComponentTag, Key: "tag"}, meta)
		got, _ := s.Get(ctx, id)
		if got.ParentID != pid {
			t.Errorf("ParentID = %q, want %q", got.ParentID, pid)
		}
	})

	t.Run("LinksKeepOrder", func(t *testing.T) {
		s := factory(t)
		links := []domain.Link{
			{TargetKey: "target.a", Relationship: domain.LinkImplementationTarget, Group: "g1"},
			{TargetKey: "mapper.a", Relationship: domain.LinkImplementationTargetMapper, Group: "g1"},
			{TargetKey: "spec.a", Relationship: "implementation.spec", Group: "g1"},
		}
		id := mustSync(t, s, "", domain.Asset{Kind: domain.KindComponentAPI, Key: "api", Links: links}, meta)
		got, _ := s.Get(ctx, id)
		if len(got.Links) != 3 {
			t.Fatalf("Links = %d, want 3", len(got.Links))
		}
		for i := range links {
			if got.Links[i] != links[i] {
				t.Errorf("Links[%d] = %+v, want %+v", i, got.Links[i], links[i])
			}
		}
	})

	t.Run("Find", func(t *testing.T) {
		s := factory(t)
		for i, key := range []string{"u1", "u2", "u3"} {
			status := string(domain.DeployStatusSuccess)
			if i == 1 {
				status = string(domain.DeployStatusInProcess)
			}
			mustSync(t, s, "", domain.Asset{
				Kind:   domain.KindStageDeployment,
				Key:    key,
				Status: status,
				Labels: map[string]string{domain.LabelEnvID: "stage", "n": key},
			}, meta)
		}
		mustSync(t, s, "", domain.Asset{Kind: domain.KindProduct, Key: "p"}, meta)

		all, err := s.Find(ctx, domain.AssetQuery{Kinds: []domain.AssetKind{domain.KindStageDeployment}})
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		if all.Total != 3 || len(all.Items) != 3 {
			t.Fatalf("Find kinds: total %d items %d, want 3", all.Total, len(all.Items))
		}
		if all.Items[0].Key != "u1" {
			t.Errorf("oldest first: got %q, want u1", all.Items[0].Key)
		}

		newest, _ := s.Find(ctx, domain.AssetQuery{
			Kinds:       []domain.AssetKind{domain.KindStageDeployment},
			NewestFirst: true,
			Size:        1,
		})
		if first, ok := newest.First(); !ok || first.Key != "u3" {
			t.Errorf("newest first: got %+v, want u3", newest.Items)
		}
		if newest.Total != 3 {
			t.Errorf("paged Total = %d, want 3", newest.Total)
		}

		second, _ := s.Find(ctx, domain.AssetQuery{Kinds: []domain.AssetKind{domain.KindStageDeployment}, Page: 1, Size: 2})
		if len(second.Items) != 1 || second.Items[0].Key != "u3" {
			t.Errorf("page 1 size 2 = %+v, want [u3]", second.Items)
		}

		byLabel, _ := s.Find(ctx, domain.AssetQuery{Labels: map[string]string{"n": "u2"}})
		if len(byLabel.Items) != 1 || byLabel.Items[0].Key != "u2" {
			t.Errorf("by label = %+v, want [u2]", byLabel.Items)
		}

		byStatus, _ := s.Find(ctx, domain.AssetQuery{
			Kinds:    []domain.AssetKind{domain.KindStageDeployment},
			Statuses: []string{string(domain.DeployStatusSuccess)},
		})
		if byStatus.Total != 2 {
			t.Errorf("by status total = %d, want 2", byStatus.Total)
		}
	})

	t.Run("FindByKeys", func(t *testing.T) {
		s := factory(t)
		mustSync(t, s, "", product, meta)
		mustSync(t, s, "mef.sonata", domain.Asset{Kind: domain.KindComponentAPI, Key: "a"}, meta)
		mustSync(t, s, "mef.sonata", domain.Asset{Kind: domain.KindComponentAPISpec, Key: "b"}, meta)

		got, err := s.FindByKeys(ctx, []string{"a", "b", "missing"}, true)
		if err != nil {
			t.Fatalf("FindByKeys: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("FindByKeys: got %d, want 2", len(got))
		}
		for _, a := range got {
			if a.ParentKey != "mef.sonata" {
				t.Errorf("%s ParentKey = %q, want mef.sonata", a.Key, a.ParentKey)
			}
		}

		unresolved, _ := s.FindByKeys(ctx, []string{"a"}, false)
		if len(unresolved) != 1 || unresolved[0].ParentKey != "" {
			t.Errorf("without resolveParent: %+v", unresolved)
		}
	})

	t.Run("FindByIDs", func(t *testing.T) {
		s := factory(t)
		a := mustSync(t, s, "", domain.Asset{Kind: domain.KindDeployment, Key: "a"}, meta)
		b := mustSync(t, s, "", domain.Asset{Kind: domain.KindDeployment, Key: "b"}, meta)

		got, err := s.FindByIDs(ctx, []domain.AssetID{b, "missing", a})
		if err != nil {
			t.Fatalf("FindByIDs: %v", err)
		}
		if len(got) != 2 || got[0].ID != b || got[1].ID != a {
			t.Errorf("FindByIDs = %+v, want [b a]", got)
		}
	})

	t.Run("AddLabel", func(t *testing.T) {
		s := factory(t)
		id := mustSync(t, s, "", domain.Asset{Kind: domain.KindDeployment, Key: "d"}, meta)
		if err := s.AddLabel(ctx, id, domain.LabelTemplateDeploymentID, "parent"); err != nil {
			t.Fatalf("AddLabel: %v", err)
		}
		got, _ := s.Get(ctx, id)
		if got.Label(domain.LabelTemplateDeploymentID) != "parent" {
			t.Errorf("label = %q, want parent", got.Label(domain.LabelTemplateDeploymentID))
		}
		if got.Revision != 2 {
			t.Errorf("Revision = %d, want 2", got.Revision)
		}
		if err := s.AddLabel(ctx, "missing", "k", "v"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("AddLabel missing: got %v, want ErrNotFound", err)
		}
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		s := factory(t)
		id := mustSync(t, s, "", domain.Asset{Kind: domain.KindDeployment, Key: "d", Status: "IN_PROCESS"}, meta)
		if err := s.UpdateStatus(ctx, id, "SUCCESS"); err != nil {
			t.Fatalf("UpdateStatus: %v", err)
		}
		got, _ := s.Get(ctx, id)
		if got.Status != "SUCCESS" {
			t.Errorf("Status = %q, want SUCCESS", got.Status)
		}
	})
}
