package tracing

import (
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

var blockedAttributeFragments = []string{
	"email",
	"phone",
	"password",
	"secret",
	"token",
	"code",
	"card",
	"authorization",
}

// SafeAttributes drops attributes whose key looks like it may carry
// customer data or credentials.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if !isSafeKey(string(attr.Key)) {
			continue
		}
		out = append(out, attr)
	}
	return out
}

func isSafeKey(key string) bool {
	if key == "http.status_code" {
		return true
	}
	key = strings.ToLower(key)
	for _, fragment := range blockedAttributeFragments {
		if strings.Contains(key, fragment) {
			return false
		}
	}
	return true
}

// SafeError reduces err to its message so wrapped values never reach the exporter.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.TrimSpace(err.Error())
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return errors.New(msg)
}
