package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/calebm/estimate-assistant-back/internal/domain"
)

func TestLocalQueueDelivers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	q := NewLocalQueue(8, 3, nil)
	received := make(chan domain.PollMessage, 1)
	go func() {
		_ = q.Consume(ctx, func(_ context.Context, message domain.PollMessage) error {
			received <- message
			return nil
		})
	}()

	sent := domain.PollMessage{
		JobID:       "job-1",
		ProjectID:   "proj-1",
		JobType:     domain.JobTypeEstimateGeneration,
		RequestedAt: time.Now().UTC(),
	}
	if err := q.Enqueue(ctx, sent); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case got := <-received:
		if got.JobID != sent.JobID || got.JobType != sent.JobType {
			t.Fatalf("received %+v, want %+v", got, sent)
		}
	case <-ctx.Done():
		t.Fatal("message never delivered")
	}
}

func TestLocalQueueMovesToDLQAfterMaxAttempts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q := NewLocalQueue(8, 2, nil)
	var attempts atomic.Int32
	go func() {
		_ = q.Consume(ctx, func(_ context.Context, _ domain.PollMessage) error {
			attempts.Add(1)
			return errors.New("handler failure")
		})
	}()

	if err := q.Enqueue(ctx, domain.PollMessage{JobID: "job-dlq"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.After(4 * time.Second)
	for q.DLQSize() == 0 {
		select {
		case <-deadline:
			t.Fatalf("message never reached DLQ, attempts=%d", attempts.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
	if attempts.Load() < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", attempts.Load())
	}
}
