package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/appointly/internal/payment/domain"
	"go.uber.org/zap"
)

// HandlePaymentWebhook acknowledges every verified delivery, including events
// it does not act on, so the processor stops retrying.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	processor := strings.TrimSpace(c.Query("processor"))
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	outcome, err := s.webhookSvc.IngestWebhook(c.Request.Context(), processor, payload, c.Request.Header)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrInvalidSignature) {
			s.log.Warn("webhook signature rejected", zap.String("processor", processor))
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "outcome": outcome})
}
