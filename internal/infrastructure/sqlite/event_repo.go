package sqlite

import (
	"context"
	"fmt"

	"github.com/zqdou/kraken-ent/internal/domain"
)

// EventRepo implements [domain.EventRepository]: the management event
// outbox.
type EventRepo struct {
	DB Queryer
}

func (r *EventRepo) Append(ctx context.Context, e domain.MgmtEvent) error {
	status := e.Status
	if status == "" {
		status = domain.EventWaitToSend
	}
	payload := string(e.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO mgmt_events (id, event_type, status, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), string(status), payload, formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("event %q: %w", e.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *EventRepo) ListByStatus(ctx context.Context, status domain.EventStatus) ([]domain.MgmtEvent, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, event_type, status, payload, created_at FROM mgmt_events
		 WHERE status = ? ORDER BY created_at, rowid`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.MgmtEvent
	for rows.Next() {
		var e domain.MgmtEvent
		var typ, st, payload, createdAt string
		if err := rows.Scan(&e.ID, &typ, &st, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = domain.EventType(typ)
		e.Status = domain.EventStatus(st)
		e.Payload = []byte(payload)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *EventRepo) MarkSent(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE mgmt_events SET status = ? WHERE id = ?`,
		string(domain.EventSent), id,
	)
	if err != nil {
		return fmt.Errorf("mark event sent: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("event %q: %w", id, domain.ErrNotFound)
	}
	return nil
}
