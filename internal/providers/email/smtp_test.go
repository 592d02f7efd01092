package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEmbeddedTemplates(t *testing.T) {
	provider, err := NewSMTP(Config{Host: "localhost", Port: 1025, From: "no-reply@appointly.local"})
	require.NoError(t, err)

	body, err := provider.Render("verify_email", map[string]any{"code": "483920", "expires_in_minutes": 30})
	require.NoError(t, err)
	assert.Contains(t, body, "483920")
	assert.Contains(t, body, "30 minutes")

	body, err = provider.Render("booking_cancelled", map[string]any{
		"customer_name":  "Ada",
		"scheduled_date": "2025-06-10",
		"start_time":     "10:00",
		"reason":         "<sick>",
	})
	require.NoError(t, err)
	assert.Contains(t, body, "&lt;sick&gt;")

	_, err = provider.Render("missing", nil)
	assert.Error(t, err)
}
