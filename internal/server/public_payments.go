package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/appointly/internal/authorization"
	paymentdomain "github.com/smallbiznis/appointly/internal/payment/domain"
)

// respondPaymentError answers the payer-facing endpoints with
// {success:false, message} while keeping the mapped status code.
func respondPaymentError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, payload := mapError(err)
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"message": payload.Message,
		"error":   payload,
	})
}

func processorParam(c *gin.Context, fallback string) string {
	if processor := strings.TrimSpace(c.Query("processor")); processor != "" {
		return processor
	}
	return strings.TrimSpace(fallback)
}

func (s *Server) CreatePaymentIntent(c *gin.Context) {
	result, err := s.paymentSvc.CreatePaymentIntent(c.Request.Context(), c.Param("id"), processorParam(c, ""))
	if err != nil {
		respondPaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"client_secret":     result.ClientSecret,
		"payment_intent_id": result.IntentID,
		"processor":         result.Processor,
		"amount":            money(result.Amount),
	})
}

type confirmPaymentRequest struct {
	PaymentIntentID string          `json:"payment_intent_id"`
	Amount          decimal.Decimal `json:"amount"`
	Processor       string          `json:"processor"`
}

func (s *Server) ConfirmPaymentIntent(c *gin.Context) {
	var req confirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondPaymentError(c, invalidRequestError())
		return
	}

	result, err := s.paymentSvc.ProcessPaymentSuccess(c.Request.Context(), c.Param("id"), paymentdomain.PaymentSuccess{
		Processor:       processorParam(c, req.Processor),
		PaymentIntentID: req.PaymentIntentID,
		Amount:          req.Amount,
		IdempotencyKey:  strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey)),
	})
	if err != nil {
		respondPaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"payment_id":     result.Payment.ID,
		"invoice_status": result.Invoice.Status,
		"created":        result.Created,
	})
}

func (s *Server) CreateSetupIntent(c *gin.Context) {
	result, err := s.paymentSvc.CreateSetupIntent(c.Request.Context(), c.Param("id"), processorParam(c, ""))
	if err != nil {
		respondPaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"client_secret": result.ClientSecret,
		"customer_id":   result.CustomerID,
		"processor":     result.Processor,
	})
}

type confirmSetupRequest struct {
	SetupIntentID   string `json:"setup_intent_id"`
	PaymentMethodID string `json:"payment_method_id"`
	Processor       string `json:"processor"`
}

func (s *Server) ConfirmSetupIntent(c *gin.Context) {
	var req confirmSetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondPaymentError(c, invalidRequestError())
		return
	}

	link, err := s.paymentSvc.ProcessSetupSuccess(c.Request.Context(), c.Param("id"), paymentdomain.SetupSuccess{
		Processor:       processorParam(c, req.Processor),
		SetupIntentID:   req.SetupIntentID,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		respondPaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"customer_id":       link.CustomerID,
		"payment_method_id": link.PaymentMethodID,
	})
}

type captureRequest struct {
	PaymentMethodID string           `json:"payment_method_id"`
	Processor       string           `json:"processor"`
	Amount          *decimal.Decimal `json:"amount"`
}

// CaptureAuthorizedPayment charges a saved payment method off session. Staff only.
func (s *Server) CaptureAuthorizedPayment(c *gin.Context) {
	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondPaymentError(c, invalidRequestError())
		return
	}

	invoice, err := s.invoiceSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondPaymentError(c, err)
		return
	}
	if !s.authorize(c, invoice.BusinessID, authorization.ObjectInvoice, authorization.ActionInvoiceCollect) {
		return
	}

	result, err := s.paymentSvc.CaptureAuthorizedPayment(c.Request.Context(), invoice.ID, paymentdomain.CaptureRequest{
		Processor:       processorParam(c, req.Processor),
		PaymentMethodID: req.PaymentMethodID,
		Amount:          req.Amount,
		IdempotencyKey:  strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey)),
	})
	if err != nil {
		respondPaymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"payment_id":     result.Payment.ID,
		"amount":         money(result.Payment.Amount),
		"invoice_status": result.Invoice.Status,
	})
}
