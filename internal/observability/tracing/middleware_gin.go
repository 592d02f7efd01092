package tracing

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/appointly/internal/reqcontext"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "appointly/http"

type MiddlewareConfig struct {
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
	// UntracedPaths are matched against the raw request path.
	UntracedPaths []string
}

// resourceAttributes maps the leading route segment to the attribute that
// carries the :id path parameter.
var resourceAttributes = map[string]string{
	"bookings": "appointly.booking_id",
	"invoices": "appointly.invoice_id",
	"payments": "appointly.payment_id",
}

// GinMiddleware opens a server span per request and tags it with the booking,
// invoice or payment the route addresses.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	provider := cfg.TracerProvider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	tracer := provider.Tracer(tracerName)

	skip := make(map[string]struct{}, len(cfg.UntracedPaths))
	for _, path := range cfg.UntracedPaths {
		skip[path] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		method := strings.ToUpper(c.Request.Method)
		ctx, span := tracer.Start(ctx, "HTTP "+method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if requestID := reqcontext.RequestIDFromContext(ctx); requestID != "" {
			if member, err := baggage.NewMember("request_id", requestID); err == nil {
				if bag, err := baggage.New(member); err == nil {
					ctx = baggage.ContextWithBaggage(ctx, bag)
				}
			}
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + method + " " + route)

		attrs := []attribute.KeyValue{
			attribute.String("http.method", method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		}
		attrs = append(attrs, routeAttributes(c, route)...)
		if actor, ok := reqcontext.ActorFromContext(c.Request.Context()); ok {
			attrs = append(attrs,
				attribute.String("appointly.actor_type", actor.Type),
				attribute.String("appointly.actor_id", actor.ID),
			)
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		if lastErr := c.Errors.Last(); lastErr != nil && status >= http.StatusInternalServerError {
			span.RecordError(SafeError(lastErr.Err))
		}
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func routeAttributes(c *gin.Context, route string) []attribute.KeyValue {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return nil
	}
	for _, segment := range strings.Split(strings.Trim(route, "/"), "/") {
		if key, ok := resourceAttributes[segment]; ok {
			return []attribute.KeyValue{attribute.String(key, id)}
		}
	}
	return nil
}
