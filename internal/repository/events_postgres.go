package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/calebm/estimate-assistant-back/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresEventsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresEventsRepository(pool *pgxpool.Pool) *PostgresEventsRepository {
	return &PostgresEventsRepository{pool: pool}
}

func (r *PostgresEventsRepository) CreateThread(ctx context.Context, thread *domain.ChatThread) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chat_threads (id, project_id, display_name, created_at)
		VALUES ($1,$2,$3,$4)
	`, thread.ID, thread.ProjectID, thread.DisplayName, thread.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

func (r *PostgresEventsRepository) GetThread(ctx context.Context, threadID string) (*domain.ChatThread, error) {
	var thread domain.ChatThread
	err := r.pool.QueryRow(ctx, `
		SELECT id, project_id, display_name, created_at
		FROM chat_threads
		WHERE id = $1
	`, threadID).Scan(&thread.ID, &thread.ProjectID, &thread.DisplayName, &thread.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query thread: %w", err)
	}
	return &thread, nil
}

func (r *PostgresEventsRepository) DeleteThread(ctx context.Context, threadID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete thread: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM chat_events WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("delete thread events: %w", err)
	}
	command, err := tx.Exec(ctx, `DELETE FROM chat_threads WHERE id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	if command.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

func (r *PostgresEventsRepository) AppendEvent(
	ctx context.Context,
	threadID string,
	payload domain.EventPayload,
) (*domain.ChatEvent, error) {
	encoded, err := domain.EncodePayload(payload)
	if err != nil {
		return nil, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize appends per thread so the created_at tie-break below is
	// race-free across connections.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, threadID); err != nil {
		return nil, fmt.Errorf("acquire thread lock: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM chat_threads WHERE id = $1)
	`, threadID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check thread: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	var last *time.Time
	if err := tx.QueryRow(ctx, `
		SELECT MAX(created_at) FROM chat_events WHERE thread_id = $1
	`, threadID).Scan(&last); err != nil {
		return nil, fmt.Errorf("read last event time: %w", err)
	}

	createdAt := time.Now().UTC()
	if last != nil && !createdAt.After(*last) {
		createdAt = last.Add(time.Microsecond)
	}

	event := &domain.ChatEvent{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Type:      payload.EventType(),
		Payload:   payload,
		CreatedAt: createdAt,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO chat_events (id, thread_id, type, payload, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, event.ID, threadID, string(event.Type), encoded, createdAt); err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return event, nil
}

func (r *PostgresEventsRepository) ListEvents(ctx context.Context, threadID string) ([]domain.ChatEvent, error) {
	return r.ListEventsSince(ctx, threadID, time.Time{})
}

func (r *PostgresEventsRepository) ListEventsSince(
	ctx context.Context,
	threadID string,
	since time.Time,
) ([]domain.ChatEvent, error) {
	if _, err := r.GetThread(ctx, threadID); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, type, payload, created_at
		FROM chat_events
		WHERE thread_id = $1 AND created_at > $2
		ORDER BY created_at ASC
	`, threadID, since)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.ChatEvent, 0)
	for rows.Next() {
		var (
			event     domain.ChatEvent
			eventType string
			raw       []byte
		)
		if err := rows.Scan(&event.ID, &eventType, &raw, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.ThreadID = threadID
		event.Type = domain.EventType(eventType)
		payload, err := domain.DecodePayload(event.Type, json.RawMessage(raw))
		if err != nil {
			return nil, err
		}
		event.Payload = payload
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate events: %w", rows.Err())
	}
	return events, nil
}
