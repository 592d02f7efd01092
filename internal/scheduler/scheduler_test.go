package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/appointly/internal/clock"
	invoicedomain "github.com/smallbiznis/appointly/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/appointly/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeInvoices serves MarkOverdue from a fixed backlog.
type fakeInvoices struct {
	invoicedomain.Service
	backlog int
	calls   []int
	err     error
	block   bool
}

func (f *fakeInvoices) MarkOverdue(ctx context.Context, limit int) (int, error) {
	f.calls = append(f.calls, limit)
	if f.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if f.err != nil {
		return 0, f.err
	}
	n := min(limit, f.backlog)
	f.backlog -= n
	return n, nil
}

func newTestScheduler(t *testing.T, invoices *fakeInvoices, cfg Config) (*Scheduler, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	s, err := New(Params{
		Log:        zap.NewNop(),
		Clock:      clock.NewFakeClock(time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)),
		InvoiceSvc: invoices,
		Metrics:    obsmetrics.NewSchedulerMetrics(registry, obsmetrics.Config{ServiceName: "appointly", Environment: "test"}),
		Config:     cfg,
	})
	require.NoError(t, err)
	return s, registry
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunOnceDrainsOverdueBacklog(t *testing.T) {
	invoices := &fakeInvoices{backlog: 7}
	s, registry := newTestScheduler(t, invoices, Config{BatchSize: 3})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, []int{3, 3, 3}, invoices.calls)
	assert.Equal(t, 0, invoices.backlog)

	labels := map[string]string{"service": "appointly", "env": "test", "job": jobMarkOverdue}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "appointly_scheduler_job_runs_total", labels))
	assert.Equal(t, float64(7), getCounterValue(t, registry, "appointly_scheduler_batch_processed_total", labels))
}

func TestRunOnceWrapsJobErrors(t *testing.T) {
	boom := errors.New("boom")
	s, registry := newTestScheduler(t, &fakeInvoices{err: boom}, Config{})

	err := s.RunOnce(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), jobMarkOverdue)

	labels := map[string]string{
		"service": "appointly",
		"env":     "test",
		"job":     jobMarkOverdue,
		"reason":  obsmetrics.SchedulerJobReasonUnknown,
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "appointly_scheduler_job_errors_total", labels))
}

func TestRunJobTimeoutIsSoft(t *testing.T) {
	s, registry := newTestScheduler(t, &fakeInvoices{block: true}, Config{JobTimeout: 5 * time.Millisecond})

	require.NoError(t, s.RunOnce(context.Background()))

	labels := map[string]string{"service": "appointly", "env": "test", "job": jobMarkOverdue}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "appointly_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "appointly",
		"env":     "test",
		"job":     jobMarkOverdue,
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "appointly_scheduler_job_errors_total", errorLabels))
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	invoices := &fakeInvoices{}
	s, _ := newTestScheduler(t, invoices, Config{RunInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunForever(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunForever did not return after cancel")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 15*time.Minute, cfg.RunInterval)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.JobTimeout)
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
