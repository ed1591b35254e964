package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// IngestionJob implements [domain.Ingester]: it resolves a record's full
// path to an asset document and upserts it under the parent.
type IngestionJob struct {
	Loader domain.ContentLoader
}

func (j *IngestionJob) IngestData(ctx context.Context, assets domain.AssetStore, ev domain.IngestEvent) error {
	doc, err := j.Loader.Load(ctx, ev.FullPath)
	if err != nil {
		return fmt.Errorf("%w: load %s: %w", domain.ErrIngestionFailed, ev.FullPath, err)
	}

	if !ev.EnforceSync {
		existing, err := assets.FindOne(ctx, doc.Kind, doc.Key)
		switch {
		case err == nil:
			v := doc.Label(domain.LabelTemplateVersion)
			if v != "" && existing.Label(domain.LabelTemplateVersion) == v {
				zerolog.Ctx(ctx).Debug().Str("key", doc.Key).Str("version", v).Msg("template version unchanged, skipping")
				return nil
			}
		case errors.Is(err, domain.ErrNotFound):
		default:
			return fmt.Errorf("%w: lookup %s: %w", domain.ErrIngestionFailed, doc.Key, err)
		}
	}

	res, err := assets.Sync(ctx, ev.ParentKey, doc, domain.SyncMetadata{
		SyncedBy:    ev.ActingUserID,
		MergeLabels: ev.MergeLabels,
		SendEvent:   true,
	})
	if err != nil {
		return fmt.Errorf("%w: sync %s: %w", domain.ErrIngestionFailed, doc.Key, err)
	}
	if !res.OK() {
		return fmt.Errorf("%w: sync %s: code %d: %s", domain.ErrIngestionFailed, doc.Key, res.Code, res.Message)
	}
	return nil
}
