package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/appointly/internal/authorization"
	bookingdomain "github.com/smallbiznis/appointly/internal/booking/domain"
	businessdomain "github.com/smallbiznis/appointly/internal/business/domain"
	invoicedomain "github.com/smallbiznis/appointly/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/appointly/internal/payment/domain"
	verificationdomain "github.com/smallbiznis/appointly/internal/verification/domain"
	"github.com/smallbiznis/appointly/pkg/validation"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string                  `json:"type"`
	Message string                  `json:"message"`
	Errors  []validation.FieldError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return validation.Errors{{Field: field, Code: code, Message: message}}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	var vErrs validation.Errors
	if errors.As(err, &vErrs) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: vErrs.First(),
			Errors:  vErrs,
		}
	}

	if kind, ok := paymentdomain.KindOf(err); ok {
		return processorErrorStatus(kind), errorPayload{
			Type:    "processor_error",
			Message: processorErrorMessage(kind),
		}
	}

	if code, message, ok := validationFailure(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: message,
			Errors:  []validation.FieldError{{Field: "request", Code: code, Message: message}},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, invoicedomain.ErrAlreadyRefunded):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func processorErrorStatus(kind paymentdomain.ErrorKind) int {
	switch kind {
	case paymentdomain.KindNetwork:
		return http.StatusBadGateway
	case paymentdomain.KindDeclined:
		return http.StatusPaymentRequired
	case paymentdomain.KindInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func processorErrorMessage(kind paymentdomain.ErrorKind) string {
	switch kind {
	case paymentdomain.KindNetwork:
		return "The payment processor could not be reached"
	case paymentdomain.KindDeclined:
		return "The payment was declined"
	case paymentdomain.KindInvalidRequest:
		return "The payment processor rejected the request"
	default:
		return "The payment could not be processed"
	}
}

// validationFailure reports domain errors that surface as 400 with a human message.
func validationFailure(err error) (string, string, bool) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, bookingdomain.ErrInvalidRequest):
		return "invalid_request", "invalid request", true
	case errors.Is(err, bookingdomain.ErrInvalidPhone):
		return "invalid_phone", "customer_phone must be a valid phone number", true
	case errors.Is(err, bookingdomain.ErrInvalidBusiness):
		return "invalid_business", "business_id does not reference a business", true
	case errors.Is(err, invoicedomain.ErrInvoiceClosed):
		return "invoice_closed", "This invoice no longer accepts payments", true
	case errors.Is(err, invoicedomain.ErrInvalidAmount):
		return "invalid_amount", "amount must be greater than 0", true
	case errors.Is(err, invoicedomain.ErrInvalidMethod):
		return "invalid_payment_method", "payment_method is not supported", true
	case errors.Is(err, paymentdomain.ErrMissingFields):
		return "missing_fields", "Missing required payment fields", true
	case errors.Is(err, paymentdomain.ErrMissingCustomer):
		return "missing_customer", "No processor customer is linked to this invoice", true
	case errors.Is(err, paymentdomain.ErrIntentMismatch):
		return "payment_intent_mismatch", "The payment intent belongs to another invoice", true
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return "invalid_signature", "invalid signature", true
	case errors.Is(err, paymentdomain.ErrInvalidProvider),
		errors.Is(err, paymentdomain.ErrProviderNotFound):
		return "invalid_processor", "processor is not supported", true
	case errors.Is(err, businessdomain.ErrProcessorNotConfigured):
		return "processor_not_configured", "The processor is not configured for this business", true
	case errors.Is(err, verificationdomain.ErrInvalidEmail):
		return "invalid_email", "email must be a valid email address", true
	case errors.Is(err, verificationdomain.ErrInvalidUser):
		return "invalid_user", "user is required", true
	default:
		return "", "", false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, bookingdomain.ErrNotFound),
		errors.Is(err, bookingdomain.ErrOfferingNotFound),
		errors.Is(err, businessdomain.ErrNotFound),
		errors.Is(err, invoicedomain.ErrNotFound),
		errors.Is(err, invoicedomain.ErrPaymentNotFound),
		errors.Is(err, invoicedomain.ErrBookingNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	if errors.Is(err, invoicedomain.ErrAlreadyRefunded) {
		return "Payment is already refunded"
	}
	return "conflict"
}

// classifyErrorForLog feeds the request logger the error type and code.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if kind, ok := paymentdomain.KindOf(err); ok {
		code = string(kind)
	}
	return payload.Type, code
}
