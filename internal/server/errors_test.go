package server

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/smallbiznis/appointly/internal/authorization"
	bookingdomain "github.com/smallbiznis/appointly/internal/booking/domain"
	invoicedomain "github.com/smallbiznis/appointly/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/appointly/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestMapErrorStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"validation", newValidationError("otp", "required", "otp is required"), http.StatusBadRequest, "validation_error"},
		{"processor network", paymentdomain.NewProcessorError(paymentdomain.KindNetwork, "dial tcp: timeout"), http.StatusBadGateway, "processor_error"},
		{"processor declined", paymentdomain.NewProcessorError(paymentdomain.KindDeclined, "card_declined"), http.StatusPaymentRequired, "processor_error"},
		{"closed invoice", invoicedomain.ErrInvoiceClosed, http.StatusBadRequest, "validation_error"},
		{"bad signature", paymentdomain.ErrInvalidSignature, http.StatusBadRequest, "validation_error"},
		{"anonymous", authorization.ErrInvalidActor, http.StatusUnauthorized, "unauthorized"},
		{"denied", fmt.Errorf("authorize: %w", authorization.ErrForbidden), http.StatusForbidden, "forbidden"},
		{"refunded twice", invoicedomain.ErrAlreadyRefunded, http.StatusConflict, "conflict"},
		{"missing booking", bookingdomain.ErrNotFound, http.StatusNotFound, "not_found"},
		{"missing row", gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
		{"limited", ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.kind, payload.Type)
		})
	}
}

func TestMapErrorMessages(t *testing.T) {
	_, payload := mapError(invoicedomain.ErrInvoiceClosed)
	assert.Equal(t, "This invoice no longer accepts payments", payload.Message)
	if assert.Len(t, payload.Errors, 1) {
		assert.Equal(t, "invoice_closed", payload.Errors[0].Code)
	}

	_, payload = mapError(paymentdomain.ErrMissingFields)
	assert.Equal(t, "Missing required payment fields", payload.Message)

	_, payload = mapError(invoicedomain.ErrAlreadyRefunded)
	assert.Equal(t, "Payment is already refunded", payload.Message)

	// processor internals never reach the client
	_, payload = mapError(paymentdomain.NewProcessorError(paymentdomain.KindNetwork, "dial tcp 10.0.0.1:443"))
	assert.NotContains(t, payload.Message, "10.0.0.1")
}

func TestClassifyErrorForLog(t *testing.T) {
	errType, code := classifyErrorForLog(paymentdomain.NewProcessorError(paymentdomain.KindDeclined, "card_declined"))
	assert.Equal(t, "processor_error", errType)
	assert.Equal(t, string(paymentdomain.KindDeclined), code)

	errType, code = classifyErrorForLog(newValidationError("due_date", "datetime", "bad date"))
	assert.Equal(t, "validation_error", errType)
	assert.Equal(t, "datetime", code)
}
