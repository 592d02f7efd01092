package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/appointly/internal/payment/domain"
)

const (
	Provider       = "stripe"
	defaultAPIBase = "https://api.stripe.com"

	// SignatureTolerance is how old a signed delivery may be.
	SignatureTolerance = 5 * time.Minute
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return Provider
}

// NewAdapter requires secret_key. webhook_secret is only needed for Verify;
// api_base and account_id are optional.
func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Adapter, error) {
	secretKey, _ := readString(cfg.Config, "secret_key")
	secretKey = strings.TrimSpace(secretKey)
	webhookSecret, _ := readString(cfg.Config, "webhook_secret")
	webhookSecret = strings.TrimSpace(webhookSecret)
	if secretKey == "" && webhookSecret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	apiBase, _ := readString(cfg.Config, "api_base")
	apiBase = strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	accountID, _ := readString(cfg.Config, "account_id")

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &Adapter{
		businessID:    cfg.BusinessID,
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		accountID:     strings.TrimSpace(accountID),
		apiBase:       apiBase,
		client:        client,
		now:           cfg.Now,
	}, nil
}

type Adapter struct {
	businessID    string
	secretKey     string
	webhookSecret string
	accountID     string
	apiBase       string
	client        *http.Client
	now           func() time.Time
}

func (a *Adapter) clockNow() time.Time {
	if a.now == nil {
		return time.Now()
	}
	return a.now()
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return paymentdomain.ErrInvalidSignature
	}
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	signedAt, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	if a.clockNow().Sub(time.Unix(signedAt, 0)) > SignatureTolerance {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.WebhookEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case paymentdomain.EventPaymentIntentSucceeded:
		return a.parsePaymentIntent(event, payload)
	case paymentdomain.EventSetupIntentSucceeded:
		return a.parseSetupIntent(event, payload)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

func (a *Adapter) parsePaymentIntent(event stripeEvent, payload []byte) (*paymentdomain.WebhookEvent, error) {
	var intent stripeIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}

	return &paymentdomain.WebhookEvent{
		Provider:        Provider,
		BusinessID:      a.businessID,
		ProviderEventID: event.ID,
		Type:            paymentdomain.EventPaymentIntentSucceeded,
		ObjectID:        intent.ID,
		InvoiceID:       readMetadataValue(intent.Metadata, "invoice_id"),
		Amount:          amount,
		Currency:        strings.ToLower(strings.TrimSpace(intent.Currency)),
		CustomerID:      intent.customerID(),
		PaymentMethodID: intent.paymentMethodID(),
		OccurredAt:      timestamp(intent.Created, event.Created),
		RawPayload:      payload,
	}, nil
}

func (a *Adapter) parseSetupIntent(event stripeEvent, payload []byte) (*paymentdomain.WebhookEvent, error) {
	var intent stripeIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	return &paymentdomain.WebhookEvent{
		Provider:        Provider,
		BusinessID:      a.businessID,
		ProviderEventID: event.ID,
		Type:            paymentdomain.EventSetupIntentSucceeded,
		ObjectID:        intent.ID,
		InvoiceID:       readMetadataValue(intent.Metadata, "invoice_id"),
		CustomerID:      intent.customerID(),
		PaymentMethodID: intent.paymentMethodID(),
		OccurredAt:      timestamp(intent.Created, event.Created),
		RawPayload:      payload,
	}, nil
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	}
	return ""
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	switch cast := value.(type) {
	case string:
		return cast, true
	default:
		return "", false
	}
}
