package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// AssetRepo implements [domain.AssetStore] backed by SQLite.
type AssetRepo struct {
	DB  Queryer
	Now func() time.Time
}

const assetSelect = `SELECT a.id, a.kind, a.asset_key, a.name, a.description,
	COALESCE(a.parent_id, ''), COALESCE(p.asset_key, ''), a.revision, a.labels,
	a.facets, a.status, a.created_at, a.created_by, a.updated_at, a.updated_by
	FROM assets a LEFT JOIN assets p ON p.id = a.parent_id`

func (r *AssetRepo) Get(ctx context.Context, id domain.AssetID) (domain.Asset, error) {
	assets, err := r.query(ctx, assetSelect+` WHERE a.id = ?`, string(id))
	if err != nil {
		return domain.Asset{}, err
	}
	if len(assets) == 0 {
		return domain.Asset{}, fmt.Errorf("asset %q: %w", id, domain.ErrNotFound)
	}
	return assets[0], nil
}

func (r *AssetRepo) FindOne(ctx context.Context, kind domain.AssetKind, key string) (domain.Asset, error) {
	assets, err := r.query(ctx, assetSelect+` WHERE a.kind = ? AND a.asset_key = ?`, string(kind), key)
	if err != nil {
		return domain.Asset{}, err
	}
	if len(assets) == 0 {
		return domain.Asset{}, fmt.Errorf("%s %q: %w", kind, key, domain.ErrNotFound)
	}
	return assets[0], nil
}

func (r *AssetRepo) Find(ctx context.Context, q domain.AssetQuery) (domain.Page[domain.Asset], error) {
	var where []string
	var args []any
	if len(q.Kinds) > 0 {
		where = append(where, "a.kind IN ("+placeholders(len(q.Kinds))+")")
		for _, k := range q.Kinds {
			args = append(args, string(k))
		}
	}
	if len(q.Statuses) > 0 {
		where = append(where, "a.status IN ("+placeholders(len(q.Statuses))+")")
		for _, s := range q.Statuses {
			args = append(args, s)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(q.Labels)) {
		where = append(where, "json_extract(a.labels, ?) = ?")
		args = append(args, labelPath(k), q.Labels[k])
	}
	if q.ParentID != "" {
		where = append(where, "a.parent_id = ?")
		args = append(args, string(q.ParentID))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	page := domain.Page[domain.Asset]{Page: q.Page, Size: q.Size}
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets a`+cond, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("count assets: %w", err)
	}

	order := " ORDER BY a.created_at ASC, a.rowid ASC"
	if q.NewestFirst {
		order = " ORDER BY a.created_at DESC, a.rowid DESC"
	}
	stmt := assetSelect + cond + order
	if q.Size > 0 {
		stmt += " LIMIT ? OFFSET ?"
		args = append(args, q.Size, q.Page*q.Size)
	}
	items, err := r.query(ctx, stmt, args...)
	if err != nil {
		return page, err
	}
	page.Items = items
	return page, nil
}

func (r *AssetRepo) FindByKeys(ctx context.Context, keys []string, resolveParent bool) ([]domain.Asset, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	assets, err := r.query(ctx,
		assetSelect+` WHERE a.asset_key IN (`+placeholders(len(keys))+`) ORDER BY a.created_at, a.rowid`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	if !resolveParent {
		for i := range assets {
			assets[i].ParentKey = ""
		}
	}
	return assets, nil
}

func (r *AssetRepo) FindByIDs(ctx context.Context, ids []domain.AssetID) ([]domain.Asset, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = string(id)
	}
	assets, err := r.query(ctx, assetSelect+` WHERE a.id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	byID := make(map[domain.AssetID]domain.Asset, len(assets))
	for _, a := range assets {
		byID[a.ID] = a
	}
	out := make([]domain.Asset, 0, len(ids))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *AssetRepo) Sync(ctx context.Context, parent string, a domain.Asset, meta domain.SyncMetadata) (domain.IngestionResult, error) {
	if a.Kind == "" || a.Key == "" {
		return domain.IngestionResult{Code: domain.ResultBadRequest, Message: "asset kind and key are required"}, nil
	}

	var parentID string
	if parent != "" {
		err := r.DB.QueryRowContext(ctx,
			`SELECT id FROM assets WHERE id = ? OR asset_key = ? ORDER BY (id = ?) DESC, rowid LIMIT 1`,
			parent, parent, parent,
		).Scan(&parentID)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.IngestionResult{Code: domain.ResultNotFound, Message: fmt.Sprintf("parent %q not found", parent)}, nil
		}
		if err != nil {
			return domain.IngestionResult{}, fmt.Errorf("resolve parent: %w", err)
		}
	}

	existing, err := r.FindOne(ctx, a.Kind, a.Key)
	found := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.IngestionResult{}, err
	}

	now := meta.SyncedAt
	if now.IsZero() {
		now = nowFunc(r.Now)
	}

	next := a
	next.ParentID = domain.AssetID(parentID)
	if found {
		next.ID = existing.ID
		if meta.MergeLabels {
			merged := maps.Clone(existing.Labels)
			if merged == nil {
				merged = make(map[string]string)
			}
			maps.Copy(merged, a.Labels)
			next.Labels = merged
		}
		if next.Status == "" {
			next.Status = existing.Status
		}
		if next.ParentID == "" {
			next.ParentID = existing.ParentID
		}
		if next.Name == "" {
			next.Name = existing.Name
		}
		if next.Description == "" {
			next.Description = existing.Description
		}
	}

	facets, err := domain.EncodeFacet(next.Facet)
	if err != nil {
		return domain.IngestionResult{Code: domain.ResultBadRequest, Message: err.Error()}, nil
	}
	dg, err := contentDigest(next, facets)
	if err != nil {
		return domain.IngestionResult{}, err
	}
	labels, err := json.Marshal(nonNilLabels(next.Labels))
	if err != nil {
		return domain.IngestionResult{}, fmt.Errorf("marshal labels: %w", err)
	}

	if found {
		var current string
		if err := r.DB.QueryRowContext(ctx, `SELECT digest FROM assets WHERE id = ?`, string(existing.ID)).Scan(&current); err != nil {
			return domain.IngestionResult{}, fmt.Errorf("read digest: %w", err)
		}
		if current == dg.String() {
			return domain.IngestionResult{Code: domain.ResultOK, ID: existing.ID}, nil
		}
		_, err = r.DB.ExecContext(ctx,
			`UPDATE assets SET name = ?, description = ?, parent_id = ?, revision = revision + 1,
			   labels = ?, facets = ?, status = ?, digest = ?, updated_at = ?, updated_by = ?
			 WHERE id = ?`,
			next.Name, next.Description, nullString(string(next.ParentID)), string(labels),
			nullBytes(facets), next.Status, dg.String(), formatTime(now), meta.SyncedBy,
			string(existing.ID),
		)
		if err != nil {
			return domain.IngestionResult{}, fmt.Errorf("update asset: %w", err)
		}
	} else {
		next.ID = domain.AssetID(uuid.NewString())
		_, err = r.DB.ExecContext(ctx,
			`INSERT INTO assets (id, kind, asset_key, name, description, parent_id, revision,
			   labels, facets, status, digest, created_at, created_by, updated_at, updated_by)
			 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(next.ID), string(next.Kind), next.Key, next.Name, next.Description,
			nullString(string(next.ParentID)), string(labels), nullBytes(facets), next.Status,
			dg.String(), formatTime(now), meta.SyncedBy, formatTime(now), meta.SyncedBy,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.IngestionResult{}, fmt.Errorf("%s %q: %w", next.Kind, next.Key, domain.ErrAlreadyExists)
			}
			return domain.IngestionResult{}, fmt.Errorf("insert asset: %w", err)
		}
	}

	if err := r.replaceLinks(ctx, next.ID, next.Links); err != nil {
		return domain.IngestionResult{}, err
	}

	if meta.SendEvent {
		payload, err := json.Marshal(map[string]string{
			"assetId": string(next.ID),
			"kind":    string(next.Kind),
			"key":     next.Key,
			"digest":  dg.String(),
		})
		if err != nil {
			return domain.IngestionResult{}, fmt.Errorf("marshal event payload: %w", err)
		}
		events := &EventRepo{DB: r.DB}
		if err := events.Append(ctx, domain.MgmtEvent{
			ID:        uuid.NewString(),
			Type:      domain.EventAssetSynced,
			Status:    domain.EventWaitToSend,
			Payload:   payload,
			CreatedAt: now,
		}); err != nil {
			return domain.IngestionResult{}, err
		}
	}

	return domain.IngestionResult{Code: domain.ResultOK, ID: next.ID}, nil
}

func (r *AssetRepo) AddLabel(ctx context.Context, id domain.AssetID, key, value string) error {
	a, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if cur, ok := a.Labels[key]; ok && cur == value {
		return nil
	}
	a.SetLabel(key, value)
	return r.rewrite(ctx, a)
}

func (r *AssetRepo) UpdateStatus(ctx context.Context, id domain.AssetID, status string) error {
	a, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status == status {
		return nil
	}
	a.Status = status
	return r.rewrite(ctx, a)
}

// rewrite persists the labels and status of an existing asset.
func (r *AssetRepo) rewrite(ctx context.Context, a domain.Asset) error {
	facets, err := domain.EncodeFacet(a.Facet)
	if err != nil {
		return err
	}
	dg, err := contentDigest(a, facets)
	if err != nil {
		return err
	}
	labels, err := json.Marshal(nonNilLabels(a.Labels))
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE assets SET labels = ?, status = ?, digest = ?, revision = revision + 1, updated_at = ?
		 WHERE id = ?`,
		string(labels), a.Status, dg.String(), formatTime(nowFunc(r.Now)), string(a.ID),
	)
	if err != nil {
		return fmt.Errorf("update asset: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("asset %q: %w", a.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *AssetRepo) replaceLinks(ctx context.Context, id domain.AssetID, links []domain.Link) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM asset_links WHERE asset_id = ?`, string(id)); err != nil {
		return fmt.Errorf("delete links: %w", err)
	}
	for i, l := range links {
		_, err := r.DB.ExecContext(ctx,
			`INSERT INTO asset_links (asset_id, ordinal, target_key, relationship, group_name)
			 VALUES (?, ?, ?, ?, ?)`,
			string(id), i, l.TargetKey, string(l.Relationship), l.Group,
		)
		if err != nil {
			return fmt.Errorf("insert link: %w", err)
		}
	}
	return nil
}

// query scans every matching asset and closes the result set before
// loading links, since the pool holds a single connection.
func (r *AssetRepo) query(ctx context.Context, stmt string, args ...any) ([]domain.Asset, error) {
	rows, err := r.DB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	var assets []domain.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := r.attachLinks(ctx, assets); err != nil {
		return nil, err
	}
	return assets, nil
}

func (r *AssetRepo) attachLinks(ctx context.Context, assets []domain.Asset) error {
	if len(assets) == 0 {
		return nil
	}
	index := make(map[string]int, len(assets))
	args := make([]any, len(assets))
	for i, a := range assets {
		index[string(a.ID)] = i
		args[i] = string(a.ID)
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT asset_id, target_key, relationship, group_name FROM asset_links
		 WHERE asset_id IN (`+placeholders(len(assets))+`) ORDER BY asset_id, ordinal`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var assetID, rel string
		var l domain.Link
		if err := rows.Scan(&assetID, &l.TargetKey, &rel, &l.Group); err != nil {
			return fmt.Errorf("scan link: %w", err)
		}
		l.Relationship = domain.LinkKind(rel)
		i := index[assetID]
		assets[i].Links = append(assets[i].Links, l)
	}
	return rows.Err()
}

func scanAsset(s scanner) (domain.Asset, error) {
	var a domain.Asset
	var id, kind, parentID, parentKey, labelsJSON, createdAt, updatedAt string
	var facetsJSON sql.NullString
	if err := s.Scan(&id, &kind, &a.Key, &a.Name, &a.Description, &parentID, &parentKey,
		&a.Revision, &labelsJSON, &facetsJSON, &a.Status, &createdAt, &a.CreatedBy,
		&updatedAt, &a.UpdatedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return a, fmt.Errorf("scan asset: %w", err)
	}
	a.ID = domain.AssetID(id)
	a.Kind = domain.AssetKind(kind)
	a.ParentID = domain.AssetID(parentID)
	a.ParentKey = parentKey
	if err := json.Unmarshal([]byte(labelsJSON), &a.Labels); err != nil {
		return a, fmt.Errorf("unmarshal labels: %w", err)
	}
	if facetsJSON.Valid {
		f, err := domain.DecodeFacet(a.Kind, []byte(facetsJSON.String))
		if err != nil {
			return a, err
		}
		a.Facet = f
	}
	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return a, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return a, err
	}
	return a, nil
}

// contentDigest covers everything Sync may change, so an unchanged digest
// means an unchanged asset.
func contentDigest(a domain.Asset, facets []byte) (digest.Digest, error) {
	links := a.Links
	if len(links) == 0 {
		links = nil
	}
	doc := map[string]any{
		"kind":        a.Kind,
		"key":         a.Key,
		"name":        a.Name,
		"description": a.Description,
		"parentId":    a.ParentID,
		"labels":      nonNilLabels(a.Labels),
		"facets":      json.RawMessage(orNull(facets)),
		"status":      a.Status,
		"links":       links,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("canonicalize asset: %w", err)
	}
	return digest.FromBytes(b), nil
}

// labelPath quotes a label key as a JSON path member.
func labelPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}

func nonNilLabels(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nullBytes(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func orNull(b []byte) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}
