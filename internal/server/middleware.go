package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	businessservice "github.com/smallbiznis/appointly/internal/business/service"
	"github.com/smallbiznis/appointly/internal/ratelimit"
	"github.com/smallbiznis/appointly/internal/reqcontext"
	"go.uber.org/zap"
)

// Identity headers set by the gateway that owns sessions.
const (
	HeaderUserID         = "X-User-ID"
	HeaderUserEmail      = "X-User-Email"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// ActorFromHeaders attaches the forwarded user identity to the request context.
// Requests without one continue anonymously.
func ActorFromHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID != "" {
			actor := reqcontext.Actor{
				Type:  reqcontext.ActorTypeUser,
				ID:    userID,
				Email: strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderUserEmail))),
			}
			c.Request = c.Request.WithContext(reqcontext.WithActor(c.Request.Context(), actor))
		}
		c.Next()
	}
}

// RequireActor rejects anonymous requests.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := reqcontext.ActorFromContext(c.Request.Context()); !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

// CredentialCache scopes decrypted processor credentials to one request.
func CredentialCache() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(businessservice.WithCredentialCache(c.Request.Context()))
		c.Next()
	}
}

// RateLimit takes a token from the caller's bucket for scope. The client is
// the forwarded user when present, else the remote address. Limiter failures
// let the request through.
func (s *Server) RateLimit(scope ratelimit.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		client := c.ClientIP()
		if actor, ok := reqcontext.ActorFromContext(c.Request.Context()); ok {
			client = actor.ID
		}
		result, err := s.limiter.Allow(c.Request.Context(), scope, client)
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.String("scope", string(scope)), zap.Error(err))
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			seconds := int(result.RetryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), string(scope))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) reqcontext.Actor {
	actor, _ := reqcontext.ActorFromContext(c.Request.Context())
	return actor
}
