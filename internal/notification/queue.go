package notification

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/appointly/internal/observability/metrics"
	"github.com/smallbiznis/appointly/internal/providers/email"
	"go.uber.org/zap"
)

type QueueConfig struct {
	Size        int
	Workers     int
	MaxAttempts int
	// InitialInterval is the first retry delay; it doubles up to MaxInterval.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	SendTimeout     time.Duration
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Size <= 0 {
		c.Size = 256
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	return c
}

// Queue is a bounded in-memory work queue in front of the email provider.
// When the buffer is full new messages are dropped rather than blocking the caller.
type Queue struct {
	cfg      QueueConfig
	provider email.Provider
	log      *zap.Logger
	metrics  *metrics.NotificationMetrics

	jobs chan Message

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	stop    chan struct{}
	started bool
}

func NewQueue(cfg QueueConfig, provider email.Provider, log *zap.Logger, m *metrics.NotificationMetrics) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		cfg:      cfg,
		provider: provider,
		log:      log.Named("notification.queue"),
		metrics:  m,
		jobs:     make(chan Message, cfg.Size),
		stop:     make(chan struct{}),
	}
}

func (q *Queue) Notify(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- msg:
		q.metrics.SetDepth(len(q.jobs))
		return nil
	default:
		q.metrics.Record(msg.Template, metrics.NotificationOutcomeDropped)
		q.log.Warn("notification dropped, queue full", zap.String("template", msg.Template))
		return ErrQueueFull
	}
}

// Start launches the workers.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

// Stop refuses new messages and waits for queued ones to be attempted, or for
// ctx to expire.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		close(q.stop)
		return ctx.Err()
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for msg := range q.jobs {
		q.metrics.SetDepth(len(q.jobs))
		q.deliver(msg)
	}
}

func (q *Queue) deliver(msg Message) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-q.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = q.cfg.InitialInterval
	policy.MaxInterval = q.cfg.MaxInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			q.metrics.Record(msg.Template, metrics.NotificationOutcomeRetried)
		}
		sendCtx, sendCancel := context.WithTimeout(ctx, q.cfg.SendTimeout)
		defer sendCancel()
		return struct{}{}, q.provider.SendTemplate(sendCtx, []string{msg.To}, msg.Subject, msg.Template, msg.Data)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(q.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			q.log.Warn("notification send failed, retrying",
				zap.String("template", msg.Template),
				zap.Int("attempt", attempt),
				zap.Duration("next", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		q.metrics.Record(msg.Template, metrics.NotificationOutcomeFailed)
		q.log.Error("notification delivery failed",
			zap.String("template", msg.Template),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return
	}
	q.metrics.Record(msg.Template, metrics.NotificationOutcomeDelivered)
}
