package server

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	verificationdomain "github.com/smallbiznis/appointly/internal/verification/domain"
)

type verifyRequest struct {
	OTP string `json:"otp"`
}

// VerifyEmail checks a code for the signed-in actor's email.
func (s *Server) VerifyEmail(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	otp := strings.TrimSpace(req.OTP)
	if otp == "" {
		AbortWithError(c, newValidationError("otp", "required", "otp is required"))
		return
	}

	actor := actorFrom(c)
	result, err := s.verificationSvc.Verify(c.Request.Context(), actor.ID, actor.Email, otp)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.respondVerification(c, result)
}

func (s *Server) ResendVerification(c *gin.Context) {
	actor := actorFrom(c)
	result, err := s.verificationSvc.Resend(c.Request.Context(), actor.ID, actor.Email)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.respondVerification(c, result)
}

func (s *Server) SendVerification(c *gin.Context) {
	actor := actorFrom(c)
	result, err := s.verificationSvc.Issue(c.Request.Context(), actor.ID, actor.Email)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.respondVerification(c, result)
}

func (s *Server) respondVerification(c *gin.Context, result verificationdomain.Result) {
	if result.Success {
		c.JSON(http.StatusOK, result)
		return
	}
	if result.Kind == verificationdomain.KindCooldown && result.RetryAfter > 0 {
		seconds := int(math.Ceil(result.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.Itoa(seconds))
	}
	c.JSON(http.StatusBadRequest, result)
}
