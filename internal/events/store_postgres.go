package events

import (
	"context"
	"database/sql"
	"fmt"

	"grantflow/pkg/domain"
)

// PostgresStore persists events append-only in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the events table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id            UUID PRIMARY KEY,
			type          TEXT NOT NULL,
			occurred_at   TIMESTAMPTZ NOT NULL,
			actor         TEXT NOT NULL DEFAULT '',
			request_id    TEXT NOT NULL DEFAULT '',
			profile_id    TEXT NOT NULL DEFAULT '',
			pool_id       BIGINT NOT NULL DEFAULT 0,
			recipient_id  TEXT NOT NULL DEFAULT '',
			milestone     INT NOT NULL DEFAULT 0,
			amount        BIGINT NOT NULL DEFAULT 0,
			status        TEXT NOT NULL DEFAULT ''
		)`)
	if err != nil {
		return fmt.Errorf("migrate events: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, type, occurred_at, actor, request_id, profile_id, pool_id, recipient_id, milestone, amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		event.ID, string(event.Type), event.OccurredAt, string(event.Actor), event.RequestID,
		event.ProfileID, uint64(event.PoolID), string(event.RecipientID), event.Milestone,
		event.Amount, event.Status,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, occurred_at, actor, request_id, profile_id, pool_id, recipient_id, milestone, amount, status
		FROM events ORDER BY occurred_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var typ, actor, recipient string
		var poolID int64
		if err := rows.Scan(&e.ID, &typ, &e.OccurredAt, &actor, &e.RequestID,
			&e.ProfileID, &poolID, &recipient, &e.Milestone, &e.Amount, &e.Status); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = Type(typ)
		e.Actor = domain.Address(actor)
		e.RecipientID = domain.Address(recipient)
		e.PoolID = domain.PoolID(poolID)
		out = append(out, e)
	}
	return out, rows.Err()
}
