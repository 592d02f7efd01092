package authorization

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	businessdomain "github.com/smallbiznis/appointly/internal/business/domain"
	"github.com/smallbiznis/appointly/internal/reqcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectBooking         = "booking"
	ObjectInvoice         = "invoice"
	ObjectPayment         = "payment"
	ObjectProcessorConfig = "processor_config"
)

const (
	ActionBookingCreate         = "booking.create"
	ActionBookingView           = "booking.view"
	ActionBookingConfirm        = "booking.confirm"
	ActionBookingCancel         = "booking.cancel"
	ActionBookingComplete       = "booking.complete"
	ActionBookingNoShow         = "booking.no_show"
	ActionBookingNote           = "booking.note"
	ActionBookingRecordPayment  = "booking.record_payment"
	ActionBookingOverrideStatus = "booking.override_status"

	ActionInvoiceCreate  = "invoice.create"
	ActionInvoiceView    = "invoice.view"
	ActionInvoiceCollect = "invoice.collect"
	ActionInvoiceRelease = "invoice.release"
	ActionInvoiceCancel  = "invoice.cancel"

	ActionPaymentRefund = "payment.refund"

	ActionProcessorConfigManage = "processor_config.manage"
)

type Params struct {
	fx.In

	Log         *zap.Logger
	Enforcer    *casbin.SyncedEnforcer
	BusinessSvc businessdomain.Service
}

type ServiceImpl struct {
	log         *zap.Logger
	enforcer    *casbin.SyncedEnforcer
	businessSvc businessdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:         p.Log.Named("authorization.service"),
		enforcer:    p.Enforcer,
		businessSvc: p.BusinessSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor reqcontext.Actor, businessID string, object string, action string) error {
	if actor.IsZero() {
		return ErrInvalidActor
	}
	businessID = strings.TrimSpace(businessID)
	if businessID == "" {
		return ErrInvalidBusiness
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := actor.String()
	roleName, err := s.resolveRole(ctx, actor, businessID)
	if err != nil {
		s.logDenied(subject, businessID, object, action)
		return err
	}

	domain := fmt.Sprintf("biz:%s", businessID)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.logDenied(subject, businessID, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) resolveRole(ctx context.Context, actor reqcontext.Actor, businessID string) (string, error) {
	switch actor.Type {
	case reqcontext.ActorTypeSystem:
		return "role:system", nil
	case reqcontext.ActorTypeUser:
		role, err := s.businessSvc.MemberRole(ctx, businessID, actor.ID)
		if err != nil {
			if errors.Is(err, businessdomain.ErrMemberNotFound) {
				return "", ErrForbidden
			}
			return "", err
		}
		return fmt.Sprintf("role:%s", strings.ToLower(role)), nil
	default:
		return "", ErrInvalidActor
	}
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) logDenied(subject, businessID, object, action string) {
	s.log.Warn("authorization denied",
		zap.String("subject", subject),
		zap.String("business_id", businessID),
		zap.String("object", object),
		zap.String("action", action),
	)
}

func staffPolicies(role string) [][]string {
	return [][]string{
		{role, ObjectBooking, ActionBookingCreate},
		{role, ObjectBooking, ActionBookingView},
		{role, ObjectBooking, ActionBookingConfirm},
		{role, ObjectBooking, ActionBookingCancel},
		{role, ObjectBooking, ActionBookingComplete},
		{role, ObjectBooking, ActionBookingNoShow},
		{role, ObjectBooking, ActionBookingNote},
		{role, ObjectBooking, ActionBookingRecordPayment},
		{role, ObjectInvoice, ActionInvoiceCreate},
		{role, ObjectInvoice, ActionInvoiceView},
		{role, ObjectInvoice, ActionInvoiceCollect},
	}
}

func managerPolicies(role string) [][]string {
	policies := staffPolicies(role)
	return append(policies,
		[]string{role, ObjectBooking, ActionBookingOverrideStatus},
		[]string{role, ObjectInvoice, ActionInvoiceRelease},
		[]string{role, ObjectInvoice, ActionInvoiceCancel},
		[]string{role, ObjectPayment, ActionPaymentRefund},
		[]string{role, ObjectProcessorConfig, ActionProcessorConfigManage},
	)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := staffPolicies("role:staff")
	policies = append(policies, managerPolicies("role:admin")...)
	policies = append(policies, managerPolicies("role:owner")...)
	policies = append(policies,
		// processor callbacks and background work
		[]string{"role:system", ObjectBooking, ActionBookingView},
		[]string{"role:system", ObjectBooking, ActionBookingRecordPayment},
		[]string{"role:system", ObjectInvoice, ActionInvoiceView},
		[]string{"role:system", ObjectInvoice, ActionInvoiceCollect},
	)

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
