package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/appointly/internal/clock"
	invoicedomain "github.com/smallbiznis/appointly/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/appointly/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const jobMarkOverdue = "mark_overdue"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	InvoiceSvc invoicedomain.Service
	Metrics    *obsmetrics.SchedulerMetrics `optional:"true"`
	Config     Config                       `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	invoiceSvc invoicedomain.Service
	metrics    *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.InvoiceSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		invoiceSvc: p.InvoiceSvc,
		metrics:    p.Metrics,
	}, nil
}

// runJob bounds fn by timeout. A deadline is logged and counted but not
// returned, so the next tick picks up where the job stopped.
func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) (int, error),
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	s.metrics.IncJobRun(name)

	processed, err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	s.metrics.AddBatchProcessed(name, processed)
	if processed > 0 {
		log.Info("job processed items", zap.Int("processed", processed))
	}
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.IncJobTimeout(name)
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Int("processed", processed),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) (int, error)
	}{
		{jobMarkOverdue, s.MarkOverdueJob},
	}

	for _, job := range jobs {
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}
	return err
}

// MarkOverdueJob drains past-due invoices batch by batch until a batch comes
// back short.
func (s *Scheduler) MarkOverdueJob(ctx context.Context) (int, error) {
	total := 0
	for {
		marked, err := s.invoiceSvc.MarkOverdue(ctx, s.cfg.BatchSize)
		total += marked
		if err != nil {
			return total, err
		}
		if marked < s.cfg.BatchSize {
			return total, nil
		}
	}
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		s.metrics.ObserveRunLoopLag(s.clock.Now().Sub(nextRun))
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = s.clock.Now().Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
