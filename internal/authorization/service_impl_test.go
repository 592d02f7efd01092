package authorization

import (
	"context"
	"testing"

	businessdomain "github.com/smallbiznis/appointly/internal/business/domain"
	"github.com/smallbiznis/appointly/internal/dbtest"
	"github.com/smallbiznis/appointly/internal/reqcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type roleLookup struct {
	businessdomain.Service
	roles map[string]string
}

func (r roleLookup) MemberRole(ctx context.Context, businessID, userID string) (string, error) {
	role, ok := r.roles[businessID+"/"+userID]
	if !ok {
		return "", businessdomain.ErrMemberNotFound
	}
	return role, nil
}

func newTestService(t *testing.T, roles map[string]string) Service {
	t.Helper()
	enforcer, err := NewEnforcer(dbtest.Open(t))
	require.NoError(t, err)
	return NewService(Params{
		Log:         zap.NewNop(),
		Enforcer:    enforcer,
		BusinessSvc: roleLookup{roles: roles},
	})
}

func TestAuthorizeByRole(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, map[string]string{
		"biz_1/staff": "staff",
		"biz_1/admin": "admin",
		"biz_2/owner": "owner",
	})

	staff := reqcontext.Actor{Type: reqcontext.ActorTypeUser, ID: "staff"}
	admin := reqcontext.Actor{Type: reqcontext.ActorTypeUser, ID: "admin"}
	owner := reqcontext.Actor{Type: reqcontext.ActorTypeUser, ID: "owner"}

	assert.NoError(t, svc.Authorize(ctx, staff, "biz_1", ObjectBooking, ActionBookingConfirm))
	assert.ErrorIs(t, svc.Authorize(ctx, staff, "biz_1", ObjectBooking, ActionBookingOverrideStatus), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, staff, "biz_1", ObjectPayment, ActionPaymentRefund), ErrForbidden)

	assert.NoError(t, svc.Authorize(ctx, admin, "biz_1", ObjectBooking, ActionBookingOverrideStatus))
	assert.NoError(t, svc.Authorize(ctx, admin, "biz_1", ObjectPayment, ActionPaymentRefund))

	// Roles are scoped to a business.
	assert.ErrorIs(t, svc.Authorize(ctx, owner, "biz_1", ObjectBooking, ActionBookingView), ErrForbidden)
	assert.NoError(t, svc.Authorize(ctx, owner, "biz_2", ObjectInvoice, ActionInvoiceCancel))
}

func TestAuthorizeSystemActor(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	assert.NoError(t, svc.Authorize(ctx, reqcontext.System, "biz_1", ObjectBooking, ActionBookingRecordPayment))
	assert.ErrorIs(t, svc.Authorize(ctx, reqcontext.System, "biz_1", ObjectBooking, ActionBookingOverrideStatus), ErrForbidden)
}

func TestAuthorizeRejectsIncompleteRequests(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	user := reqcontext.Actor{Type: reqcontext.ActorTypeUser, ID: "u"}

	assert.ErrorIs(t, svc.Authorize(ctx, reqcontext.Actor{}, "biz_1", ObjectBooking, ActionBookingView), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, user, "", ObjectBooking, ActionBookingView), ErrInvalidBusiness)
	assert.ErrorIs(t, svc.Authorize(ctx, user, "biz_1", "", ActionBookingView), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, user, "biz_1", ObjectBooking, ""), ErrInvalidAction)
}

func TestRoleChangeReplacesGrouping(t *testing.T) {
	ctx := context.Background()
	roles := map[string]string{"biz_1/u": "admin"}
	svc := newTestService(t, roles)
	user := reqcontext.Actor{Type: reqcontext.ActorTypeUser, ID: "u"}

	require.NoError(t, svc.Authorize(ctx, user, "biz_1", ObjectPayment, ActionPaymentRefund))

	roles["biz_1/u"] = "staff"
	assert.ErrorIs(t, svc.Authorize(ctx, user, "biz_1", ObjectPayment, ActionPaymentRefund), ErrForbidden)
}
