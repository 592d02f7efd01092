package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/appointly/internal/authorization"
	bookingdomain "github.com/smallbiznis/appointly/internal/booking/domain"
	invoicedomain "github.com/smallbiznis/appointly/internal/invoice/domain"
)

// Amounts leave the service as decimal strings with two fractional digits.
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

type invoicePayload struct {
	ID            string               `json:"id"`
	InvoiceNumber string               `json:"invoice_number"`
	BookingID     string               `json:"booking_id"`
	Status        invoicedomain.Status `json:"status"`
	DueDate       string               `json:"due_date"`
	DraftHeld     bool                 `json:"draft_held"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

func newInvoicePayload(invoice invoicedomain.Invoice) invoicePayload {
	return invoicePayload{
		ID:            invoice.ID,
		InvoiceNumber: invoice.InvoiceNumber,
		BookingID:     invoice.BookingID,
		Status:        invoice.Status,
		DueDate:       invoice.DueDate.Format(bookingdomain.DateLayout),
		DraftHeld:     invoice.DraftHeld,
		CreatedAt:     invoice.CreatedAt,
		UpdatedAt:     invoice.UpdatedAt,
	}
}

type totalsPayload struct {
	Total   string `json:"total"`
	Paid    string `json:"paid"`
	Balance string `json:"balance"`
}

type paymentPayload struct {
	ID            string                      `json:"id"`
	Amount        string                      `json:"amount"`
	PaymentMethod invoicedomain.PaymentMethod `json:"payment_method"`
	TransactionID string                      `json:"transaction_id,omitempty"`
	PaymentDate   time.Time                   `json:"payment_date"`
	IsRefunded    bool                        `json:"is_refunded"`
	RefundDate    *time.Time                  `json:"refund_date,omitempty"`
}

func newPaymentPayload(payment invoicedomain.Payment) paymentPayload {
	out := paymentPayload{
		ID:            payment.ID,
		Amount:        money(payment.Amount),
		PaymentMethod: payment.PaymentMethod,
		PaymentDate:   payment.PaymentDate,
		IsRefunded:    payment.IsRefunded,
		RefundDate:    payment.RefundDate,
	}
	if payment.TransactionID != nil {
		out.TransactionID = *payment.TransactionID
	}
	return out
}

type lineItemPayload struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

type appointmentPayload struct {
	CustomerName  string `json:"customer_name"`
	ScheduledDate string `json:"scheduled_date"`
	StartTime     string `json:"start_time"`
}

type publicInvoiceResponse struct {
	Invoice     invoicePayload     `json:"invoice"`
	Appointment appointmentPayload `json:"appointment"`
	Items       []lineItemPayload  `json:"items"`
	Totals      totalsPayload      `json:"totals"`
	Payments    []paymentPayload   `json:"payments"`
}

func newPublicInvoiceResponse(view invoicedomain.View) publicInvoiceResponse {
	items := make([]lineItemPayload, 0, len(view.Items)+1)
	for _, item := range view.Items {
		items = append(items, lineItemPayload{
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: money(item.PriceAtBooking),
			LineTotal: money(item.LineTotal()),
		})
	}
	if len(items) == 0 && view.Offering != nil {
		items = append(items, lineItemPayload{
			Name:      view.Offering.Name,
			Quantity:  1,
			UnitPrice: money(view.Offering.Price),
			LineTotal: money(view.Offering.Price),
		})
	}

	payments := make([]paymentPayload, 0, len(view.Payments))
	for _, payment := range view.Payments {
		payments = append(payments, newPaymentPayload(payment))
	}

	return publicInvoiceResponse{
		Invoice: newInvoicePayload(view.Invoice),
		Appointment: appointmentPayload{
			CustomerName:  view.Booking.CustomerName,
			ScheduledDate: view.Booking.ScheduledDate.Format(bookingdomain.DateLayout),
			StartTime:     view.Booking.StartTime,
		},
		Items: items,
		Totals: totalsPayload{
			Total:   money(view.Totals.Total),
			Paid:    money(view.Totals.Paid),
			Balance: money(view.Totals.Balance),
		},
		Payments: payments,
	}
}

func (s *Server) GetPublicInvoice(c *gin.Context) {
	view, err := s.invoiceSvc.View(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newPublicInvoiceResponse(view))
}

func (s *Server) GetInvoiceReceipt(c *gin.Context) {
	invoice, err := s.invoiceSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	doc, err := s.invoiceSvc.Receipt(c.Request.Context(), invoice.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	body, err := io.ReadAll(doc)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `inline; filename="receipt-`+invoice.InvoiceNumber+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", body)
}

func (s *Server) ReleaseInvoice(c *gin.Context) {
	s.manageInvoice(c, authorization.ActionInvoiceRelease, s.invoiceSvc.Release)
}

func (s *Server) CancelInvoice(c *gin.Context) {
	s.manageInvoice(c, authorization.ActionInvoiceCancel, s.invoiceSvc.Cancel)
}

func (s *Server) manageInvoice(c *gin.Context, action string, fn func(ctx context.Context, id string) (invoicedomain.Invoice, error)) {
	invoice, err := s.invoiceSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.authorize(c, invoice.BusinessID, authorization.ObjectInvoice, action) {
		return
	}

	updated, err := fn(c.Request.Context(), invoice.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newInvoicePayload(updated)})
}

type refundRequest struct {
	RefundTransactionID string `json:"refund_transaction_id"`
	Reason              string `json:"reason"`
}

func (s *Server) RefundPayment(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	payment, err := s.invoiceSvc.GetPayment(ctx, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	invoice, err := s.invoiceSvc.Get(ctx, payment.InvoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.authorize(c, invoice.BusinessID, authorization.ObjectPayment, authorization.ActionPaymentRefund) {
		return
	}

	refunded, updated, err := s.invoiceSvc.RefundPayment(ctx, payment.ID, invoicedomain.RefundRequest{
		RefundTransactionID: req.RefundTransactionID,
		Reason:              req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"payment": newPaymentPayload(refunded),
		"invoice": newInvoicePayload(updated),
	})
}
