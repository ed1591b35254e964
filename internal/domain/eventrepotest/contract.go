// Package eventrepotest provides contract tests for
// [domain.EventRepository] implementations.
package eventrepotest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// Factory creates a fresh [domain.EventRepository] for each test.
type Factory func(t *testing.T) domain.EventRepository

// Run exercises the [domain.EventRepository] contract.
func Run(t *testing.T, factory Factory) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("AppendAndList", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		for i, id := range []string{"ev1", "ev2"} {
			err := repo.Append(ctx, domain.MgmtEvent{
				ID:        id,
				Type:      domain.EventTemplateUpgradeResult,
				Status:    domain.EventWaitToSend,
				Payload:   json.RawMessage(`{"n":1}`),
				CreatedAt: at.Add(time.Duration(i) * time.Second),
			})
			if err != nil {
				t.Fatalf("Append %s: %v", id, err)
			}
		}

		got, err := repo.ListByStatus(ctx, domain.EventWaitToSend)
		if err != nil {
			t.Fatalf("ListByStatus: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("ListByStatus: got %d, want 2", len(got))
		}
		if got[0].ID != "ev1" {
			t.Errorf("first event = %q, want ev1", got[0].ID)
		}
		if got[0].Type != domain.EventTemplateUpgradeResult {
			t.Errorf("Type = %q, want %q", got[0].Type, domain.EventTemplateUpgradeResult)
		}
		if string(got[0].Payload) != `{"n":1}` {
			t.Errorf("Payload = %s", got[0].Payload)
		}
	})

	t.Run("AppendDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		e := domain.MgmtEvent{ID: "ev1", Type: domain.EventAssetSynced, CreatedAt: at}
		_ = repo.Append(ctx, e)
		if err := repo.Append(ctx, e); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Append: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("MarkSent", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.Append(ctx, domain.MgmtEvent{ID: "ev1", Type: domain.EventAssetSynced, CreatedAt: at})

		if err := repo.MarkSent(ctx, "ev1"); err != nil {
			t.Fatalf("MarkSent: %v", err)
		}
		pending, _ := repo.ListByStatus(ctx, domain.EventWaitToSend)
		if len(pending) != 0 {
			t.Errorf("pending after MarkSent = %d, want 0", len(pending))
		}
		sent, _ := repo.ListByStatus(ctx, domain.EventSent)
		if len(sent) != 1 {
			t.Errorf("sent = %d, want 1", len(sent))
		}
	})

	t.Run("MarkSentNotFound", func(t *testing.T) {
		repo := factory(t)
		if err := repo.MarkSent(context.Background(), "nonexistent"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("MarkSent: got %v, want ErrNotFound", err)
		}
	})
}
