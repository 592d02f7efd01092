package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: SchedulerJobReasonDeadlineExceeded},
		{name: "canceled", err: fmt.Errorf("job: %w", context.Canceled), want: SchedulerJobReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: SchedulerJobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: SchedulerJobReasonSerializationFailure},
		{name: "unknown", err: errors.New("boom"), want: SchedulerJobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestSchedulerMetricsRecord(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewSchedulerMetrics(registry, Config{ServiceName: "appointly", Environment: "test"})

	m.IncJobRun("mark_overdue")
	m.AddBatchProcessed("mark_overdue", 3)
	m.AddBatchProcessed("mark_overdue", 0)
	m.IncJobError("mark_overdue", context.DeadlineExceeded)
	m.ObserveJobDuration("mark_overdue", 20*time.Millisecond)

	if got := testutil.ToFloat64(m.jobRuns.WithLabelValues("mark_overdue")); got != 1 {
		t.Fatalf("expected 1 run, got %v", got)
	}
	if got := testutil.ToFloat64(m.batchProcessed.WithLabelValues("mark_overdue")); got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobErrors.WithLabelValues("mark_overdue", SchedulerJobReasonDeadlineExceeded)); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}

	var nilMetrics *SchedulerMetrics
	nilMetrics.IncJobRun("mark_overdue")
	nilMetrics.ObserveRunLoopLag(time.Second)
}
