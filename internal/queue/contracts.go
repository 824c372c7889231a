package queue

import (
	"context"

	"github.com/calebm/estimate-assistant-back/internal/domain"
)

// Producer hands poll requests to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, message domain.PollMessage) error
}

// Consumer receives poll requests and executes handlers.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.PollMessage) error) error
}
