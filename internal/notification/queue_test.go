package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/appointly/internal/observability/metrics"
	"github.com/smallbiznis/appointly/internal/providers/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type flakyProvider struct {
	email.RecordingProvider
	mu       sync.Mutex
	failures int
	calls    int
}

func (p *flakyProvider) SendTemplate(ctx context.Context, to []string, subject, templateName string, data map[string]any) error {
	p.mu.Lock()
	p.calls++
	fail := p.calls <= p.failures
	p.mu.Unlock()
	if fail {
		return errors.New("smtp unavailable")
	}
	return p.RecordingProvider.SendTemplate(ctx, to, subject, templateName, data)
}

func newTestQueue(t *testing.T, cfg QueueConfig, provider email.Provider) (*Queue, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	m := metrics.NewNotificationMetrics(registry, metrics.Config{ServiceName: "appointly"})
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 5 * time.Millisecond
	return NewQueue(cfg, provider, zap.NewNop(), m), registry
}

func TestQueueDeliversAndRetries(t *testing.T) {
	provider := &flakyProvider{failures: 2}
	queue, registry := newTestQueue(t, QueueConfig{Size: 4, Workers: 1, MaxAttempts: 5}, provider)
	queue.Start()

	err := queue.Notify(context.Background(), Message{
		To:       "ada@example.com",
		Template: TemplateBookingThankYou,
		Subject:  "Thank you",
		Data:     map[string]any{"customer_name": "Ada"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, queue.Stop(ctx))

	sent := provider.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"ada@example.com"}, sent[0].To)
	assert.Equal(t, TemplateBookingThankYou, sent[0].Template)

	count, err := testutil.GatherAndCount(registry, "appointly_notifications_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count) // retried + delivered series
}

func TestQueueGivesUpAfterMaxAttempts(t *testing.T) {
	provider := &flakyProvider{failures: 100}
	queue, _ := newTestQueue(t, QueueConfig{Size: 1, Workers: 1, MaxAttempts: 3}, provider)
	queue.Start()

	require.NoError(t, queue.Notify(context.Background(), Message{To: "ada@example.com", Template: TemplateReviewRequest}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, queue.Stop(ctx))

	provider.mu.Lock()
	defer provider.mu.Unlock()
	assert.Equal(t, 3, provider.calls)
	assert.Empty(t, provider.Sent())
}

func TestQueueDropsWhenFull(t *testing.T) {
	provider := &email.RecordingProvider{}
	queue, _ := newTestQueue(t, QueueConfig{Size: 1, Workers: 1}, provider)

	msg := Message{To: "ada@example.com", Template: TemplateVerifyEmail}
	require.NoError(t, queue.Notify(context.Background(), msg))
	assert.ErrorIs(t, queue.Notify(context.Background(), msg), ErrQueueFull)

	assert.ErrorIs(t, queue.Notify(context.Background(), Message{Template: TemplateVerifyEmail}), ErrNoRecipient)

	queue.Start()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, queue.Stop(ctx))
	assert.Len(t, provider.Sent(), 1)

	assert.ErrorIs(t, queue.Notify(context.Background(), msg), ErrQueueClosed)
}
