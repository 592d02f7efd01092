package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/appointly/internal/authorization"
	bookingdomain "github.com/smallbiznis/appointly/internal/booking/domain"
	"github.com/smallbiznis/appointly/internal/booking/lifecycle"
	invoicedomain "github.com/smallbiznis/appointly/internal/invoice/domain"
)

type bookingItemPayload struct {
	ID                string  `json:"id"`
	ServiceOfferingID *string `json:"service_offering_id,omitempty"`
	Name              string  `json:"name"`
	Quantity          int     `json:"quantity"`
	PriceAtBooking    string  `json:"price_at_booking"`
	LineTotal         string  `json:"line_total"`
}

type offeringPayload struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Price           string `json:"price"`
	DurationMinutes int    `json:"duration_minutes"`
}

type bookingPayload struct {
	Booking  bookingdomain.Booking `json:"booking"`
	Date     string                `json:"scheduled_date"`
	Items    []bookingItemPayload  `json:"items"`
	Offering *offeringPayload      `json:"service_offering,omitempty"`
	Total    string                `json:"total"`
	Events   []bookingdomain.Event `json:"events"`
}

func newBookingPayload(detail bookingdomain.Detail) bookingPayload {
	out := bookingPayload{
		Booking: detail.Booking,
		Date:    detail.Date,
		Items:   make([]bookingItemPayload, 0, len(detail.Items)),
		Total:   money(detail.Total),
		Events:  detail.Events,
	}
	for _, item := range detail.Items {
		out.Items = append(out.Items, bookingItemPayload{
			ID:                item.ID,
			ServiceOfferingID: item.ServiceOfferingID,
			Name:              item.Name,
			Quantity:          item.Quantity,
			PriceAtBooking:    money(item.PriceAtBooking),
			LineTotal:         money(item.LineTotal()),
		})
	}
	if detail.Offering != nil {
		out.Offering = &offeringPayload{
			ID:              detail.Offering.ID,
			Name:            detail.Offering.Name,
			Price:           money(detail.Offering.Price),
			DurationMinutes: detail.Offering.DurationMinutes,
		}
	}
	if out.Events == nil {
		out.Events = []bookingdomain.Event{}
	}
	return out
}

func (s *Server) CreateBooking(c *gin.Context) {
	var req bookingdomain.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	if req.BusinessID == "" {
		AbortWithError(c, newValidationError("business_id", "required", "business_id is required"))
		return
	}
	if !s.authorize(c, req.BusinessID, authorization.ObjectBooking, authorization.ActionBookingCreate) {
		return
	}

	booking, err := s.bookingSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	detail, err := s.bookingSvc.Get(c.Request.Context(), booking.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": newBookingPayload(detail)})
}

func (s *Server) GetBooking(c *gin.Context) {
	detail, err := s.bookingSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.authorize(c, detail.Booking.BusinessID, authorization.ObjectBooking, authorization.ActionBookingView) {
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newBookingPayload(detail)})
}

// DispatchBookingEvent accepts {"event_type": "...", ...payload}. Rejected
// transitions answer with {success:false, message}.
func (s *Server) DispatchBookingEvent(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	eventType, _ := body["event_type"].(string)
	if strings.TrimSpace(eventType) == "" {
		c.JSON(http.StatusBadRequest, lifecycle.Result{Message: "event_type is required"})
		return
	}
	delete(body, "event_type")

	result, err := s.dispatcher.Dispatch(c.Request.Context(), c.Param("id"), eventType, body, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(lifecycleStatus(result), result)
}

// lifecycleStatus maps a dispatch result to its HTTP status. A repeated
// transition is benign and answers 200 with success false.
func lifecycleStatus(result lifecycle.Result) int {
	if result.Success {
		return http.StatusOK
	}
	switch result.Kind {
	case lifecycle.KindAlreadyInState:
		return http.StatusOK
	case lifecycle.KindInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

type createInvoiceRequest struct {
	DueDate   string `json:"due_date"`
	HoldDraft bool   `json:"hold_draft"`
}

func (s *Server) CreateBookingInvoice(c *gin.Context) {
	var req createInvoiceRequest
	// the body is optional
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}

	opts := invoicedomain.CreateOptions{HoldDraft: req.HoldDraft}
	if due := strings.TrimSpace(req.DueDate); due != "" {
		parsed, err := time.Parse(bookingdomain.DateLayout, due)
		if err != nil {
			AbortWithError(c, newValidationError("due_date", "datetime", "due_date must match the format 2006-01-02"))
			return
		}
		opts.DueDate = &parsed
	}

	detail, err := s.bookingSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.authorize(c, detail.Booking.BusinessID, authorization.ObjectInvoice, authorization.ActionInvoiceCreate) {
		return
	}

	invoice, created, err := s.invoiceSvc.GetOrCreateForBooking(c.Request.Context(), detail.Booking.ID, opts)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"data": newInvoicePayload(invoice), "created": created})
}
