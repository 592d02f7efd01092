package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	businessdomain "github.com/smallbiznis/appointly/internal/business/domain"
	"github.com/smallbiznis/appointly/internal/config"
	invoicedomain "github.com/smallbiznis/appointly/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/appointly/internal/observability/metrics"
	"github.com/smallbiznis/appointly/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/appointly/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log         *zap.Logger
	Policy      *config.PolicyHolder
	Adapters    *adapters.Registry
	BusinessSvc businessdomain.Service
	InvoiceSvc  invoicedomain.Service
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log         *zap.Logger
	policy      *config.PolicyHolder
	adapters    *adapters.Registry
	businessSvc businessdomain.Service
	invoiceSvc  invoicedomain.Service
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		log:         p.Log.Named("payment.service"),
		policy:      p.Policy,
		adapters:    p.Adapters,
		businessSvc: p.BusinessSvc,
		invoiceSvc:  p.InvoiceSvc,
		obsMetrics:  p.ObsMetrics,
	}
}

// target bundles what every capability needs: the invoice read model, the
// owning business and a processor adapter built from its credentials.
type target struct {
	view      invoicedomain.View
	business  businessdomain.Business
	processor string
	adapter   paymentdomain.Adapter
}

func (s *Service) CreatePaymentIntent(ctx context.Context, invoiceID, processor string) (paymentdomain.IntentResult, error) {
	t, err := s.resolve(ctx, invoiceID, processor)
	if err != nil {
		return paymentdomain.IntentResult{}, err
	}
	balance, err := collectible(t.view)
	if err != nil {
		return paymentdomain.IntentResult{}, err
	}
	amount := paymentdomain.ToMinorUnits(balance)

	var intent paymentdomain.Intent
	err = s.call(ctx, t.processor, "create_payment_intent", func(ctx context.Context) error {
		var callErr error
		intent, callErr = t.adapter.CreatePaymentIntent(ctx, paymentdomain.IntentRequest{
			Amount:         amount,
			Currency:       t.business.Currency,
			Metadata:       metadataFor(t.view, paymentdomain.PaymentTypeInstant),
			IdempotencyKey: fmt.Sprintf("intent:%s:%d", t.view.Invoice.ID, amount),
		})
		return callErr
	})
	if err != nil {
		return paymentdomain.IntentResult{}, err
	}

	return paymentdomain.IntentResult{
		ClientSecret: intent.ClientSecret,
		IntentID:     intent.ID,
		Processor:    t.processor,
		Amount:       balance,
	}, nil
}

func (s *Service) CreateSetupIntent(ctx context.Context, invoiceID, processor string) (paymentdomain.SetupResult, error) {
	t, err := s.resolve(ctx, invoiceID, processor)
	if err != nil {
		return paymentdomain.SetupResult{}, err
	}
	if _, err := collectible(t.view); err != nil {
		return paymentdomain.SetupResult{}, err
	}

	customerID, err := s.ensureCustomer(ctx, t)
	if err != nil {
		return paymentdomain.SetupResult{}, err
	}

	var intent paymentdomain.Intent
	err = s.call(ctx, t.processor, "create_setup_intent", func(ctx context.Context) error {
		var callErr error
		intent, callErr = t.adapter.CreateSetupIntent(ctx, paymentdomain.SetupIntentRequest{
			CustomerID: customerID,
			Metadata:   metadataFor(t.view, paymentdomain.PaymentTypeAuthorize),
		})
		return callErr
	})
	if err != nil {
		return paymentdomain.SetupResult{}, err
	}

	if _, err := s.invoiceSvc.LinkProcessor(ctx, invoicedomain.LinkRequest{
		InvoiceID:     t.view.Invoice.ID,
		Processor:     t.processor,
		CustomerID:    customerID,
		SetupIntentID: intent.ID,
	}); err != nil {
		return paymentdomain.SetupResult{}, err
	}

	return paymentdomain.SetupResult{
		ClientSecret: intent.ClientSecret,
		CustomerID:   customerID,
		Processor:    t.processor,
	}, nil
}

// ProcessPaymentSuccess records a payment the payer's browser reports as
// completed. The processor is asked for the intent; its amount and invoice
// binding win over what the client sent.
func (s *Service) ProcessPaymentSuccess(ctx context.Context, invoiceID string, req paymentdomain.PaymentSuccess) (invoicedomain.PaymentResult, error) {
	intentID := strings.TrimSpace(req.PaymentIntentID)
	if intentID == "" {
		return invoicedomain.PaymentResult{}, paymentdomain.ErrMissingFields
	}
	t, err := s.resolve(ctx, invoiceID, req.Processor)
	if err != nil {
		return invoicedomain.PaymentResult{}, err
	}

	var intent paymentdomain.Intent
	err = s.call(ctx, t.processor, "retrieve_payment_intent", func(ctx context.Context) error {
		var callErr error
		intent, callErr = t.adapter.RetrievePaymentIntent(ctx, intentID)
		return callErr
	})
	if err != nil {
		return invoicedomain.PaymentResult{}, err
	}
	if intent.Status != paymentdomain.IntentStatusSucceeded {
		return invoicedomain.PaymentResult{}, paymentdomain.NewProcessorError(paymentdomain.KindInvalidRequest, "payment intent status is "+intent.Status)
	}
	if intent.InvoiceID != "" && intent.InvoiceID != t.view.Invoice.ID {
		return invoicedomain.PaymentResult{}, paymentdomain.ErrIntentMismatch
	}

	amount := paymentdomain.FromMinorUnits(intent.AmountReceived)
	if !amount.IsPositive() {
		amount = paymentdomain.FromMinorUnits(intent.Amount)
	}
	if !amount.IsPositive() {
		amount = req.Amount
	}

	return s.invoiceSvc.RecordPayment(ctx, t.view.Invoice.ID, invoicedomain.RecordPaymentRequest{
		Amount:         amount,
		Method:         invoicedomain.PaymentMethod(t.processor),
		TransactionID:  intent.ID,
		IdempotencyKey: req.IdempotencyKey,
		Source:         "client",
	})
}

func (s *Service) ProcessSetupSuccess(ctx context.Context, invoiceID string, req paymentdomain.SetupSuccess) (invoicedomain.ProcessorLink, error) {
	setupIntentID := strings.TrimSpace(req.SetupIntentID)
	paymentMethodID := strings.TrimSpace(req.PaymentMethodID)
	if setupIntentID == "" || paymentMethodID == "" {
		return invoicedomain.ProcessorLink{}, paymentdomain.ErrMissingFields
	}
	t, err := s.resolve(ctx, invoiceID, req.Processor)
	if err != nil {
		return invoicedomain.ProcessorLink{}, err
	}

	customerID, err := s.ensureCustomer(ctx, t)
	if err != nil {
		return invoicedomain.ProcessorLink{}, err
	}

	err = s.call(ctx, t.processor, "attach_payment_method", func(ctx context.Context) error {
		return t.adapter.AttachPaymentMethod(ctx, customerID, paymentMethodID)
	})
	if err != nil {
		return invoicedomain.ProcessorLink{}, err
	}

	return s.invoiceSvc.LinkProcessor(ctx, invoicedomain.LinkRequest{
		InvoiceID:       t.view.Invoice.ID,
		Processor:       t.processor,
		CustomerID:      customerID,
		PaymentMethodID: paymentMethodID,
		SetupIntentID:   setupIntentID,
	})
}

func (s *Service) CaptureAuthorizedPayment(ctx context.Context, invoiceID string, req paymentdomain.CaptureRequest) (invoicedomain.PaymentResult, error) {
	t, err := s.resolve(ctx, invoiceID, req.Processor)
	if err != nil {
		return invoicedomain.PaymentResult{}, err
	}
	balance, err := collectible(t.view)
	if err != nil {
		return invoicedomain.PaymentResult{}, err
	}
	amount := balance
	if req.Amount != nil {
		amount = req.Amount.Round(2)
		if !amount.IsPositive() {
			return invoicedomain.PaymentResult{}, invoicedomain.ErrInvalidAmount
		}
	}

	link, err := s.invoiceSvc.ProcessorLink(ctx, t.view.Invoice.ID, t.processor)
	if err != nil {
		return invoicedomain.PaymentResult{}, err
	}
	customerID := ""
	paymentMethodID := strings.TrimSpace(req.PaymentMethodID)
	if link != nil {
		customerID = link.CustomerID
		if paymentMethodID == "" {
			paymentMethodID = link.PaymentMethodID
		}
	}
	if customerID == "" {
		customer, err := s.findCustomer(ctx, t)
		if err != nil {
			return invoicedomain.PaymentResult{}, err
		}
		if customer == nil {
			return invoicedomain.PaymentResult{}, paymentdomain.ErrMissingCustomer
		}
		customerID = customer.ID
	}
	if paymentMethodID == "" {
		return invoicedomain.PaymentResult{}, paymentdomain.ErrMissingFields
	}

	minor := paymentdomain.ToMinorUnits(amount)
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = fmt.Sprintf("capture:%s:%s:%d", t.view.Invoice.ID, paymentMethodID, minor)
	}

	var intent paymentdomain.Intent
	err = s.call(ctx, t.processor, "charge_off_session", func(ctx context.Context) error {
		var callErr error
		intent, callErr = t.adapter.ChargeOffSession(ctx, paymentdomain.ChargeRequest{
			CustomerID:      customerID,
			PaymentMethodID: paymentMethodID,
			Amount:          minor,
			Currency:        t.business.Currency,
			Metadata:        metadataFor(t.view, paymentdomain.PaymentTypeCapture),
			IdempotencyKey:  key,
		})
		return callErr
	})
	if err != nil {
		return invoicedomain.PaymentResult{}, err
	}
	if intent.Status != paymentdomain.IntentStatusSucceeded {
		return invoicedomain.PaymentResult{}, paymentdomain.NewProcessorError(paymentdomain.KindDeclined, "charge status is "+intent.Status)
	}

	charged := paymentdomain.FromMinorUnits(intent.AmountReceived)
	if !charged.IsPositive() {
		charged = amount
	}
	return s.invoiceSvc.RecordPayment(ctx, t.view.Invoice.ID, invoicedomain.RecordPaymentRequest{
		Amount:         charged,
		Method:         invoicedomain.PaymentMethod(t.processor),
		TransactionID:  intent.ID,
		IdempotencyKey: key,
		Source:         "capture",
	})
}

func (s *Service) resolve(ctx context.Context, invoiceID, processor string) (target, error) {
	processor = strings.ToLower(strings.TrimSpace(processor))
	if processor == "" {
		processor = string(invoicedomain.MethodStripe)
	}
	if !s.adapters.ProviderExists(processor) {
		return target{}, paymentdomain.ErrProviderNotFound
	}

	view, err := s.invoiceSvc.View(ctx, invoiceID)
	if err != nil {
		return target{}, err
	}
	business, err := s.businessSvc.GetByID(ctx, view.Invoice.BusinessID)
	if err != nil {
		return target{}, err
	}
	creds, err := s.businessSvc.ProcessorCredentials(ctx, business.ID, processor)
	if err != nil {
		return target{}, err
	}
	adapter, err := s.adapters.NewAdapter(processor, paymentdomain.AdapterConfig{
		BusinessID: business.ID,
		Provider:   processor,
		Config:     creds.Config,
	})
	if err != nil {
		return target{}, err
	}
	return target{view: view, business: business, processor: processor, adapter: adapter}, nil
}

// ensureCustomer returns the processor customer bound to the invoice,
// looking it up by email and creating it when absent.
func (s *Service) ensureCustomer(ctx context.Context, t target) (string, error) {
	link, err := s.invoiceSvc.ProcessorLink(ctx, t.view.Invoice.ID, t.processor)
	if err != nil {
		return "", err
	}
	if link != nil && link.CustomerID != "" {
		return link.CustomerID, nil
	}

	customer, err := s.findCustomer(ctx, t)
	if err != nil {
		return "", err
	}
	if customer != nil {
		return customer.ID, nil
	}

	var created paymentdomain.Customer
	err = s.call(ctx, t.processor, "create_customer", func(ctx context.Context) error {
		var callErr error
		created, callErr = t.adapter.CreateCustomer(ctx, t.view.Booking.CustomerEmail, t.view.Booking.CustomerName)
		return callErr
	})
	if err != nil {
		return "", err
	}
	s.log.Info("processor customer created",
		zap.String("invoice_id", t.view.Invoice.ID),
		zap.String("processor", t.processor),
	)
	return created.ID, nil
}

func (s *Service) findCustomer(ctx context.Context, t target) (*paymentdomain.Customer, error) {
	var customer *paymentdomain.Customer
	err := s.call(ctx, t.processor, "find_customer", func(ctx context.Context) error {
		var callErr error
		customer, callErr = t.adapter.FindCustomerByEmail(ctx, t.view.Booking.CustomerEmail)
		return callErr
	})
	return customer, err
}

// call runs fn under the processor deadline. No database transaction is
// open while it runs.
func (s *Service) call(ctx context.Context, processor, operation string, fn func(ctx context.Context) error) error {
	timeout := s.policy.Get().Payments.ProcessorTimeout
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		if _, ok := paymentdomain.KindOf(err); !ok {
			err = paymentdomain.NewProcessorError(paymentdomain.KindNetwork, "processor call timed out")
		}
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
		if kind, ok := paymentdomain.KindOf(err); ok {
			outcome = string(kind)
		}
		s.log.Warn("processor call failed",
			zap.String("processor", processor),
			zap.String("operation", operation),
			zap.Error(err),
		)
	}
	s.obsMetrics.ObserveProcessorCall(ctx, processor, operation, outcome, time.Since(start))
	return err
}

func collectible(view invoicedomain.View) (decimal.Decimal, error) {
	if view.Invoice.Status.Closed() || !view.Totals.Balance.IsPositive() {
		return decimal.Zero, invoicedomain.ErrInvoiceClosed
	}
	return view.Totals.Balance, nil
}

func metadataFor(view invoicedomain.View, paymentType string) paymentdomain.Metadata {
	return paymentdomain.Metadata{
		InvoiceID:     view.Invoice.ID,
		InvoiceNumber: view.Invoice.InvoiceNumber,
		CustomerName:  view.Booking.CustomerName,
		CustomerEmail: view.Booking.CustomerEmail,
		PaymentType:   paymentType,
	}
}
