package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	businessdomain "github.com/smallbiznis/appointly/internal/business/domain"
	"github.com/smallbiznis/appointly/internal/clock"
	"github.com/smallbiznis/appointly/internal/idgen"
	invoicedomain "github.com/smallbiznis/appointly/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/appointly/internal/observability/metrics"
	"github.com/smallbiznis/appointly/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/appointly/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Repo        paymentdomain.Repository
	Adapters    *adapters.Registry
	BusinessSvc businessdomain.Service
	InvoiceSvc  invoicedomain.Service
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	repo        paymentdomain.Repository
	adapters    *adapters.Registry
	businessSvc businessdomain.Service
	invoiceSvc  invoicedomain.Service
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.webhook"),
		clock:       p.Clock,
		repo:        p.Repo,
		adapters:    p.Adapters,
		businessSvc: p.BusinessSvc,
		invoiceSvc:  p.InvoiceSvc,
		obsMetrics:  p.ObsMetrics,
	}
}

// IngestWebhook verifies a delivery against every active credential of the
// processor, journals it and applies it. Deliveries that verify but cannot be
// applied are acknowledged; only signature and infrastructure failures are
// returned as errors.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.WebhookOutcome, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return "", paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return "", paymentdomain.ErrInvalidPayload
	}

	configs, err := s.businessSvc.ActiveProcessorCredentials(ctx, provider)
	if err != nil {
		return "", err
	}
	if len(configs) == 0 {
		return "", paymentdomain.ErrProviderNotFound
	}

	event, err := s.matchAdapter(ctx, provider, payload, headers, configs)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.obsMetrics.RecordWebhookEvent(ctx, provider, "unknown", string(paymentdomain.OutcomeIgnored))
			return paymentdomain.OutcomeIgnored, nil
		}
		return "", err
	}
	if event.RawPayload == nil {
		event.RawPayload = payload
	}

	outcome, err := s.process(ctx, event)
	if err != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, provider, event.Type, "error")
		return "", err
	}
	s.obsMetrics.RecordWebhookEvent(ctx, provider, event.Type, string(outcome))
	return outcome, nil
}

func (s *Service) matchAdapter(
	ctx context.Context,
	provider string,
	payload []byte,
	headers http.Header,
	configs []businessdomain.Credentials,
) (*paymentdomain.WebhookEvent, error) {
	var configErr error
	for _, cfg := range configs {
		adapter, err := s.adapters.NewAdapter(provider, paymentdomain.AdapterConfig{
			BusinessID: cfg.BusinessID,
			Provider:   provider,
			Config:     cfg.Config,
			Now:        s.clock.Now,
		})
		if err != nil {
			configErr = err
			continue
		}

		if err := adapter.Verify(ctx, payload, headers); err != nil {
			if errors.Is(err, paymentdomain.ErrInvalidSignature) {
				continue
			}
			return nil, err
		}

		event, err := adapter.Parse(ctx, payload)
		if err != nil {
			return nil, err
		}
		event.Provider = provider
		event.BusinessID = cfg.BusinessID
		return event, nil
	}

	if configErr != nil {
		s.log.Warn("payment webhook matched no usable config", zap.String("provider", provider), zap.Error(configErr))
	}
	return nil, paymentdomain.ErrInvalidSignature
}

func (s *Service) process(ctx context.Context, event *paymentdomain.WebhookEvent) (paymentdomain.WebhookOutcome, error) {
	if strings.TrimSpace(event.ProviderEventID) == "" {
		return "", paymentdomain.ErrInvalidEvent
	}

	now := s.clock.Now()
	received := paymentdomain.EventRecord{
		ID:              idgen.New(idgen.PrefixPaymentEvent),
		BusinessID:      event.BusinessID,
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return "", err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return "", err
		}
		if stored == nil {
			return "", paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			s.log.Info("payment webhook replay acknowledged",
				zap.String("provider", event.Provider),
				zap.String("provider_event_id", event.ProviderEventID),
			)
			return paymentdomain.OutcomeReplayed, nil
		}
	}

	outcome, err := s.apply(ctx, event)
	if err != nil {
		return "", err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now()); err != nil {
		return "", err
	}
	return outcome, nil
}

func (s *Service) apply(ctx context.Context, event *paymentdomain.WebhookEvent) (paymentdomain.WebhookOutcome, error) {
	log := s.log.With(
		zap.String("provider", event.Provider),
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("event_type", event.Type),
		zap.String("invoice_id", event.InvoiceID),
	)

	invoiceID := strings.TrimSpace(event.InvoiceID)
	if invoiceID == "" {
		log.Warn("payment webhook without invoice metadata")
		return paymentdomain.OutcomeIgnored, nil
	}
	invoice, err := s.invoiceSvc.Get(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, invoicedomain.ErrNotFound) {
			log.Warn("payment webhook for unknown invoice")
			return paymentdomain.OutcomeIgnored, nil
		}
		return "", err
	}
	if invoice.BusinessID != event.BusinessID {
		log.Warn("payment webhook invoice belongs to another business", zap.String("business_id", event.BusinessID))
		return paymentdomain.OutcomeIgnored, nil
	}

	switch event.Type {
	case paymentdomain.EventPaymentIntentSucceeded:
		amount := paymentdomain.FromMinorUnits(event.Amount)
		if !amount.IsPositive() || strings.TrimSpace(event.ObjectID) == "" {
			log.Warn("payment webhook without amount or intent id")
			return paymentdomain.OutcomeIgnored, nil
		}
		occurred := event.OccurredAt
		result, err := s.invoiceSvc.RecordPayment(ctx, invoice.ID, invoicedomain.RecordPaymentRequest{
			Amount:        amount,
			Method:        invoicedomain.PaymentMethod(event.Provider),
			TransactionID: event.ObjectID,
			PaymentDate:   &occurred,
			Source:        "webhook",
		})
		if err != nil {
			return "", err
		}
		log.Info("payment webhook reconciled",
			zap.String("payment_id", result.Payment.ID),
			zap.Bool("created", result.Created),
			zap.String("status", string(result.Invoice.Status)),
		)
		return paymentdomain.OutcomeProcessed, nil

	case paymentdomain.EventSetupIntentSucceeded:
		if strings.TrimSpace(event.PaymentMethodID) == "" {
			log.Warn("setup webhook without payment method")
			return paymentdomain.OutcomeIgnored, nil
		}
		if _, err := s.invoiceSvc.LinkProcessor(ctx, invoicedomain.LinkRequest{
			InvoiceID:       invoice.ID,
			Processor:       event.Provider,
			CustomerID:      event.CustomerID,
			PaymentMethodID: event.PaymentMethodID,
			SetupIntentID:   event.ObjectID,
		}); err != nil {
			return "", err
		}
		return paymentdomain.OutcomeProcessed, nil

	default:
		return paymentdomain.OutcomeIgnored, nil
	}
}
