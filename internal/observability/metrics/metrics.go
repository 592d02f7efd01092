package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes domain instruments exported over OTLP.
type Metrics struct {
	lifecycleEvents metric.Int64Counter
	payments        metric.Int64Counter
	webhookEvents   metric.Int64Counter
	verifications   metric.Int64Counter
	rateLimitDenied metric.Int64Counter
	processorCalls  metric.Float64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "appointly"
	}
	meter := provider.Meter(name)

	lifecycleEvents, err := meter.Int64Counter("appointly_booking_lifecycle_events_total")
	if err != nil {
		return nil, err
	}
	payments, err := meter.Int64Counter("appointly_payments_recorded_total")
	if err != nil {
		return nil, err
	}
	webhookEvents, err := meter.Int64Counter("appointly_payment_webhook_events_total")
	if err != nil {
		return nil, err
	}
	verifications, err := meter.Int64Counter("appointly_email_verifications_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("appointly_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}
	processorCalls, err := meter.Float64Histogram("appointly_processor_call_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		lifecycleEvents: lifecycleEvents,
		payments:        payments,
		webhookEvents:   webhookEvents,
		verifications:   verifications,
		rateLimitDenied: rateLimitDenied,
		processorCalls:  processorCalls,
	}, nil
}

// RecordLifecycleEvent counts a dispatched booking event and its outcome.
func (m *Metrics) RecordLifecycleEvent(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.lifecycleEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPayment counts a newly recorded payment by method and source.
func (m *Metrics) RecordPayment(ctx context.Context, method, source string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("payment_method", strings.TrimSpace(method)),
		attribute.String("source", strings.TrimSpace(source)),
	)
	m.payments.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordWebhookEvent(ctx context.Context, processor, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("processor", strings.TrimSpace(processor)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordVerification(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.verifications.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// ObserveProcessorCall records latency of an outbound processor request.
func (m *Metrics) ObserveProcessorCall(ctx context.Context, processor, operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("processor", strings.TrimSpace(processor)),
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.processorCalls.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"event_type":     {},
	"outcome":        {},
	"payment_method": {},
	"source":         {},
	"processor":      {},
	"operation":      {},
	"endpoint":       {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
