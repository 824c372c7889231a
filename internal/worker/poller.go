package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/calebm/estimate-assistant-back/internal/domain"
	"github.com/calebm/estimate-assistant-back/internal/queue"
	"github.com/calebm/estimate-assistant-back/internal/service"
)

type PollerConfig struct {
	// PollInterval is the delay between observing a non-terminal status
	// and re-enqueueing the next poll.
	PollInterval time.Duration
	// MaxAttempts bounds how many polls one job gets before it is
	// abandoned. The job itself keeps whatever status the last poll saw.
	MaxAttempts int
}

// Poller consumes poll messages and drives each tracked job forward by
// one status check per message. Non-terminal jobs are re-enqueued with
// a delay, so the queue holds at most one in-flight poll per job.
type Poller struct {
	consumer queue.Consumer
	producer queue.Producer
	jobs     *service.JobsService
	logger   *log.Logger
	config   PollerConfig
}

func NewPoller(
	consumer queue.Consumer,
	producer queue.Producer,
	jobs *service.JobsService,
	logger *log.Logger,
	config PollerConfig,
) *Poller {
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 150
	}
	return &Poller{
		consumer: consumer,
		producer: producer,
		jobs:     jobs,
		logger:   logger,
		config:   config,
	}
}

func (p *Poller) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.handleMessage)
		if err == nil || ctx.Err() != nil {
			return
		}
		if p.logger != nil {
			p.logger.Printf("poller consume loop error: %v", err)
		}

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Poller) handleMessage(ctx context.Context, message domain.PollMessage) error {
	job, err := p.jobs.CheckJob(ctx, message.JobID)
	if err != nil {
		return fmt.Errorf("check job %s: %w", message.JobID, err)
	}

	if job.Status.IsTerminal() {
		if p.logger != nil {
			p.logger.Printf("job settled type=%s job_id=%s status=%s", job.Type, job.ID, job.Status)
		}
		return nil
	}

	if message.Attempt+1 >= p.config.MaxAttempts {
		if p.logger != nil {
			p.logger.Printf("job poll budget exhausted job_id=%s status=%s", job.ID, job.Status)
		}
		return nil
	}

	next := message
	next.Attempt++
	go p.requeueAfter(ctx, next)
	return nil
}

func (p *Poller) requeueAfter(ctx context.Context, message domain.PollMessage) {
	timer := time.NewTimer(p.config.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	if err := p.producer.Enqueue(ctx, message); err != nil && p.logger != nil {
		p.logger.Printf("requeue poll for job %s failed: %v", message.JobID, err)
	}
}
