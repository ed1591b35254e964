package domain

import (
	"context"
	"fmt"
)

// UseCaseEntry is one API use case of a component: the mapper that
// implements it, the API target it implements, and the other assets
// composing the same mapping.
type UseCaseEntry struct {
	ComponentKey    string
	Group           string
	MapperKey       string
	ComponentAPIKey string
	// MembersExcludeAPIKey are the group's link targets other than
	// ComponentAPIKey, including the mapper itself. They are never
	// redeployed on their own.
	MembersExcludeAPIKey []string
}

// matches reports whether a changed key belongs to the use case.
func (e UseCaseEntry) matches(key string) bool {
	if e.ComponentAPIKey != "" && key == e.ComponentAPIKey {
		return true
	}
	for _, m := range e.MembersExcludeAPIKey {
		if m == key {
			return true
		}
	}
	return false
}

// UseCases derives the use cases of a component API asset from its links.
// Links are grouped by Group in order of first appearance; a group
// without a mapper link is not a use case.
func UseCases(component Asset) []UseCaseEntry {
	var order []string
	groups := make(map[string][]Link)
	for _, l := range component.Links {
		if _, ok := groups[l.Group]; !ok {
			order = append(order, l.Group)
		}
		groups[l.Group] = append(groups[l.Group], l)
	}

	var out []UseCaseEntry
	for _, g := range order {
		entry := UseCaseEntry{ComponentKey: component.Key, Group: g}
		for _, l := range groups[g] {
			switch l.Relationship {
			case LinkImplementationTargetMapper:
				if entry.MapperKey == "" {
					entry.MapperKey = l.TargetKey
				}
			case LinkImplementationTarget:
				if entry.ComponentAPIKey == "" {
					entry.ComponentAPIKey = l.TargetKey
				}
			}
		}
		if entry.MapperKey == "" {
			continue
		}
		seen := map[string]struct{}{entry.ComponentAPIKey: {}}
		for _, l := range groups[g] {
			if _, dup := seen[l.TargetKey]; dup {
				continue
			}
			seen[l.TargetKey] = struct{}{}
			entry.MembersExcludeAPIKey = append(entry.MembersExcludeAPIKey, l.TargetKey)
		}
		out = append(out, entry)
	}
	return out
}

// Classification partitions a set of changed keys.
type Classification struct {
	// ChangedMappers are the mapper keys to redeploy, in order of first
	// match.
	ChangedMappers []string
	// RemainingKeys feed the bulk system template deployment.
	RemainingKeys []string
	// Handled are the input keys attributed to a known mapping.
	Handled []string
	// Owners maps each changed mapper to its component key.
	Owners map[string]string
}

// ClassifyKeys attributes each changed key to the use cases it belongs to.
// Input keys end up in exactly one of Handled or RemainingKeys; duplicate
// input keys are collapsed.
func ClassifyKeys(entries []UseCaseEntry, keys []string) Classification {
	c := Classification{Owners: make(map[string]string)}
	handled := make(map[string]struct{})
	mappers := make(map[string]struct{})

	for _, key := range keys {
		for _, e := range entries {
			if !e.matches(key) {
				continue
			}
			if _, ok := mappers[e.MapperKey]; !ok {
				mappers[e.MapperKey] = struct{}{}
				c.ChangedMappers = append(c.ChangedMappers, e.MapperKey)
				c.Owners[e.MapperKey] = e.ComponentKey
			}
			if e.ComponentAPIKey != "" {
				handled[e.ComponentAPIKey] = struct{}{}
			}
			for _, m := range e.MembersExcludeAPIKey {
				handled[m] = struct{}{}
			}
		}
	}

	seen := make(map[string]struct{})
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if _, ok := handled[key]; ok {
			c.Handled = append(c.Handled, key)
		} else {
			c.RemainingKeys = append(c.RemainingKeys, key)
		}
	}
	return c
}

const reconcilePageSize = 200

// Reconciler classifies changed asset keys against the use cases declared
// by every component API in the asset store.
type Reconciler struct {
	Assets AssetStore
}

// UseCaseIndex loads every component API and returns its use cases in
// component creation order.
func (r *Reconciler) UseCaseIndex(ctx context.Context) ([]UseCaseEntry, error) {
	var entries []UseCaseEntry
	for page := 0; ; page++ {
		res, err := r.Assets.Find(ctx, AssetQuery{
			Kinds: []AssetKind{KindComponentAPI},
			Page:  page,
			Size:  reconcilePageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("list component apis: %w", err)
		}
		for _, c := range res.Items {
			entries = append(entries, UseCases(c)...)
		}
		if len(res.Items) < reconcilePageSize || (page+1)*reconcilePageSize >= res.Total {
			return entries, nil
		}
	}
}

// Classify partitions keys into changed mappers and remaining keys.
func (r *Reconciler) Classify(ctx context.Context, keys []string) (Classification, error) {
	entries, err := r.UseCaseIndex(ctx)
	if err != nil {
		return Classification{}, err
	}
	return ClassifyKeys(entries, keys), nil
}
