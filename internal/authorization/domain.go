package authorization

import (
	"context"
	"errors"

	"github.com/smallbiznis/appointly/internal/reqcontext"
)

type Service interface {
	Authorize(ctx context.Context, actor reqcontext.Actor, businessID string, object string, action string) error
}

var (
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidActor    = errors.New("invalid_actor")
	ErrInvalidBusiness = errors.New("invalid_business")
	ErrInvalidObject   = errors.New("invalid_object")
	ErrInvalidAction   = errors.New("invalid_action")
)
