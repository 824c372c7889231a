package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/calebm/estimate-assistant-back/internal/domain"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")

// EventsRepository is the append-only per-thread event log. Append is the
// only mutation; thread deletion cascades.
type EventsRepository interface {
	CreateThread(ctx context.Context, thread *domain.ChatThread) error
	GetThread(ctx context.Context, threadID string) (*domain.ChatThread, error)
	DeleteThread(ctx context.Context, threadID string) error
	AppendEvent(ctx context.Context, threadID string, payload domain.EventPayload) (*domain.ChatEvent, error)
	ListEvents(ctx context.Context, threadID string) ([]domain.ChatEvent, error)
	ListEventsSince(ctx context.Context, threadID string, since time.Time) ([]domain.ChatEvent, error)
}

type storedEvent struct {
	id        string
	eventType domain.EventType
	payload   json.RawMessage
	createdAt time.Time
}

type threadRecord struct {
	thread domain.ChatThread
	events []storedEvent
	lastAt time.Time
}

// MemoryEventsRepository keeps the event log in memory for local
// development and tests.
type MemoryEventsRepository struct {
	mu      sync.RWMutex
	threads map[string]*threadRecord
}

func NewMemoryEventsRepository() *MemoryEventsRepository {
	return &MemoryEventsRepository{
		threads: make(map[string]*threadRecord),
	}
}

func (r *MemoryEventsRepository) CreateThread(_ context.Context, thread *domain.ChatThread) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record := &threadRecord{thread: *thread}
	r.threads[thread.ID] = record
	return nil
}

func (r *MemoryEventsRepository) GetThread(_ context.Context, threadID string) (*domain.ChatThread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.threads[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	thread := record.thread
	return &thread, nil
}

func (r *MemoryEventsRepository) DeleteThread(_ context.Context, threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.threads[threadID]; !ok {
		return ErrNotFound
	}
	delete(r.threads, threadID)
	return nil
}

func (r *MemoryEventsRepository) AppendEvent(
	_ context.Context,
	threadID string,
	payload domain.EventPayload,
) (*domain.ChatEvent, error) {
	encoded, err := domain.EncodePayload(payload)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.threads[threadID]
	if !ok {
		return nil, ErrNotFound
	}

	// Appends within a thread are linearized here; the clock is bumped by
	// a microsecond whenever wall time would produce a tie.
	createdAt := time.Now().UTC()
	if !createdAt.After(record.lastAt) {
		createdAt = record.lastAt.Add(time.Microsecond)
	}
	record.lastAt = createdAt

	stored := storedEvent{
		id:        uuid.NewString(),
		eventType: payload.EventType(),
		payload:   append([]byte(nil), encoded...),
		createdAt: createdAt,
	}
	record.events = append(record.events, stored)

	return decodeStoredEvent(threadID, stored)
}

func (r *MemoryEventsRepository) ListEvents(ctx context.Context, threadID string) ([]domain.ChatEvent, error) {
	return r.ListEventsSince(ctx, threadID, time.Time{})
}

func (r *MemoryEventsRepository) ListEventsSince(
	_ context.Context,
	threadID string,
	since time.Time,
) ([]domain.ChatEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.threads[threadID]
	if !ok {
		return nil, ErrNotFound
	}

	events := make([]domain.ChatEvent, 0, len(record.events))
	for _, stored := range record.events {
		if !stored.createdAt.After(since) {
			continue
		}
		event, err := decodeStoredEvent(threadID, stored)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, nil
}

func decodeStoredEvent(threadID string, stored storedEvent) (*domain.ChatEvent, error) {
	payload, err := domain.DecodePayload(stored.eventType, stored.payload)
	if err != nil {
		return nil, err
	}
	return &domain.ChatEvent{
		ID:        stored.id,
		ThreadID:  threadID,
		Type:      stored.eventType,
		Payload:   payload,
		CreatedAt: stored.createdAt,
	}, nil
}
