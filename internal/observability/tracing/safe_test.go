package tracing

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/bookings/:id/events"),
		attribute.Int("http.status_code", 200),
		attribute.String("customer_email", "a@example.com"),
		attribute.String("verification_code", "123456"),
	)

	keys := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		keys = append(keys, string(attr.Key))
	}
	assert.ElementsMatch(t, []string{"http.route", "http.status_code"}, keys)
}

func TestSafeErrorTruncates(t *testing.T) {
	assert.Nil(t, SafeError(nil))

	long := errors.New(strings.Repeat("x", 400))
	assert.Len(t, SafeError(long).Error(), 256)
}
