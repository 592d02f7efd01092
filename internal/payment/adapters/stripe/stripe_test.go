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
	"net/http/httptest"
	"testing"
	"time"

	paymentdomain "github.com/smallbiznis/appointly/internal/payment/domain"
)

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"payment_intent.succeeded","data":{"object":{}}}`)
	timestamp := time.Now().Unix()

	header := buildStripeSignatureHeader(secret, payload, timestamp)
	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", header)

	adapter := &Adapter{businessID: "biz_1", webhookSecret: secret}
	if err := adapter.Verify(context.Background(), payload, reqHeader); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader("wrong", payload, timestamp))
	if err := adapter.Verify(context.Background(), payload, reqHeader); err == nil {
		t.Fatalf("expected invalid signature error")
	}

	reqHeader.Del("Stripe-Signature")
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature for missing header, got %v", err)
	}
}

func TestParseEvents(t *testing.T) {
	created := time.Now().UTC().Unix()

	tests := []struct {
		name         string
		event        any
		wantType     string
		wantAmount   int64
		wantInvoice  string
		wantCustomer string
		wantMethod   string
	}{{
		name: "payment_intent.succeeded",
		event: map[string]any{
			"id":      "evt_pi",
			"type":    "payment_intent.succeeded",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":              "pi_1",
					"amount":          2500,
					"amount_received": 2500,
					"currency":        "usd",
					"customer":        "cus_1",
					"created":         created,
					"metadata":        map[string]any{"invoice_id": "inv_1"},
				},
			},
		},
		wantType:     paymentdomain.EventPaymentIntentSucceeded,
		wantAmount:   2500,
		wantInvoice:  "inv_1",
		wantCustomer: "cus_1",
	}, {
		name: "setup_intent.succeeded",
		event: map[string]any{
			"id":      "evt_si",
			"type":    "setup_intent.succeeded",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":             "seti_1",
					"customer":       map[string]any{"id": "cus_2"},
					"payment_method": "pm_1",
					"metadata":       map[string]any{"invoice_id": "inv_2"},
				},
			},
		},
		wantType:     paymentdomain.EventSetupIntentSucceeded,
		wantInvoice:  "inv_2",
		wantCustomer: "cus_2",
		wantMethod:   "pm_1",
	}}

	adapter := &Adapter{businessID: "biz_1"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("marshal event: %v", err)
			}
			evt, err := adapter.Parse(context.Background(), payload)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if evt.Type != tt.wantType {
				t.Fatalf("expected type %s, got %s", tt.wantType, evt.Type)
			}
			if evt.Amount != tt.wantAmount {
				t.Fatalf("expected amount %d, got %d", tt.wantAmount, evt.Amount)
			}
			if evt.InvoiceID != tt.wantInvoice {
				t.Fatalf("expected invoice %q, got %q", tt.wantInvoice, evt.InvoiceID)
			}
			if evt.CustomerID != tt.wantCustomer {
				t.Fatalf("expected customer %q, got %q", tt.wantCustomer, evt.CustomerID)
			}
			if evt.PaymentMethodID != tt.wantMethod {
				t.Fatalf("expected payment method %q, got %q", tt.wantMethod, evt.PaymentMethodID)
			}
			if evt.BusinessID != "biz_1" {
				t.Fatalf("expected business id to be carried, got %q", evt.BusinessID)
			}
		})
	}
}

func TestParseIgnoresUnknownEvents(t *testing.T) {
	adapter := &Adapter{}
	_, err := adapter.Parse(context.Background(), []byte(`{"id":"evt_x","type":"charge.refunded","data":{"object":{}}}`))
	if !errors.Is(err, paymentdomain.ErrEventIgnored) {
		t.Fatalf("expected ignored event, got %v", err)
	}

	_, err = adapter.Parse(context.Background(), []byte(`not json`))
	if !errors.Is(err, paymentdomain.ErrInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
}

func TestCreatePaymentIntentSendsFormRequest(t *testing.T) {
	var (
		gotAuth        string
		gotIdempotency string
		gotAmount      string
		gotInvoiceID   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = r.ParseForm()
		gotAuth = r.Header.Get("Authorization")
		gotIdempotency = r.Header.Get("Idempotency-Key")
		gotAmount = r.PostForm.Get("amount")
		gotInvoiceID = r.PostForm.Get("metadata[invoice_id]")
		_, _ = w.Write([]byte(`{"id":"pi_123","client_secret":"pi_123_secret","status":"requires_payment_method","amount":5000,"currency":"usd","customer":null}`))
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv.URL)
	intent, err := adapter.CreatePaymentIntent(context.Background(), paymentdomain.IntentRequest{
		Amount:         5000,
		Currency:       "usd",
		Metadata:       paymentdomain.Metadata{InvoiceID: "inv_1", PaymentType: paymentdomain.PaymentTypeInstant},
		IdempotencyKey: "intent:inv_1:5000",
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.ClientSecret != "pi_123_secret" {
		t.Fatalf("unexpected client secret %q", intent.ClientSecret)
	}
	if gotAuth != "Bearer sk_test" {
		t.Fatalf("unexpected authorization header %q", gotAuth)
	}
	if gotIdempotency != "intent:inv_1:5000" {
		t.Fatalf("unexpected idempotency key %q", gotIdempotency)
	}
	if gotAmount != "5000" || gotInvoiceID != "inv_1" {
		t.Fatalf("unexpected form amount=%q invoice=%q", gotAmount, gotInvoiceID)
	}
}

func TestErrorsAreClassified(t *testing.T) {
	tests := []struct {
		status int
		want   paymentdomain.ErrorKind
	}{
		{http.StatusPaymentRequired, paymentdomain.KindDeclined},
		{http.StatusUnauthorized, paymentdomain.KindUnauthorized},
		{http.StatusForbidden, paymentdomain.KindUnauthorized},
		{http.StatusBadRequest, paymentdomain.KindInvalidRequest},
		{http.StatusNotFound, paymentdomain.KindInvalidRequest},
		{http.StatusInternalServerError, paymentdomain.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"card was declined"}}`))
			}))
			defer srv.Close()

			_, err := newTestAdapter(t, srv.URL).RetrievePaymentIntent(context.Background(), "pi_1")
			kind, ok := paymentdomain.KindOf(err)
			if !ok {
				t.Fatalf("expected processor error, got %v", err)
			}
			if kind != tt.want {
				t.Fatalf("expected kind %s, got %s", tt.want, kind)
			}
		})
	}
}

func TestNetworkFailureIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestAdapter(t, url).RetrievePaymentIntent(context.Background(), "pi_1")
	kind, ok := paymentdomain.KindOf(err)
	if !ok || kind != paymentdomain.KindNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestFindCustomerByEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("email") == "jane@example.com" {
			_, _ = w.Write([]byte(`{"data":[{"id":"cus_9","email":"jane@example.com"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv.URL)
	customer, err := adapter.FindCustomerByEmail(context.Background(), "Jane@Example.com")
	if err != nil {
		t.Fatalf("find customer: %v", err)
	}
	if customer == nil || customer.ID != "cus_9" {
		t.Fatalf("expected cus_9, got %+v", customer)
	}

	missing, err := adapter.FindCustomerByEmail(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("find missing customer: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected no customer, got %+v", missing)
	}
}

func TestFactoryRequiresCredentials(t *testing.T) {
	if _, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{Config: map[string]any{}}); !errors.Is(err, paymentdomain.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}

func newTestAdapter(t *testing.T, apiBase string) *Adapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		BusinessID: "biz_1",
		Provider:   Provider,
		Config: map[string]any{
			"secret_key":     "sk_test",
			"webhook_secret": "whsec_test",
			"api_base":       apiBase,
		},
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter.(*Adapter)
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}

func TestVerifyRejectsStaleSignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"payment_intent.succeeded","data":{"object":{}}}`)
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	adapter := &Adapter{businessID: "biz_1", webhookSecret: secret, now: func() time.Time { return now }}

	tests := []struct {
		name     string
		signedAt time.Time
		wantErr  bool
	}{
		{"fresh", now.Add(-time.Minute), false},
		{"at tolerance", now.Add(-SignatureTolerance), false},
		{"stale", now.Add(-SignatureTolerance - time.Second), true},
		{"an hour old", now.Add(-time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			headers.Set("Stripe-Signature", buildStripeSignatureHeader(secret, payload, tt.signedAt.Unix()))
			err := adapter.Verify(context.Background(), payload, headers)
			if tt.wantErr && !errors.Is(err, paymentdomain.ErrInvalidSignature) {
				t.Fatalf("expected invalid signature, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected valid signature, got %v", err)
			}
		})
	}

	headers := http.Header{}
	headers.Set("Stripe-Signature", "t=yesterday,v1=abc")
	if err := adapter.Verify(context.Background(), payload, headers); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature for malformed timestamp, got %v", err)
	}
}

func TestDefaultClientDefersToContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(100 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_slow","client_secret":"pi_slow_secret","status":"requires_payment_method","amount":100,"currency":"usd"}`))
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv.URL)
	if adapter.client.Timeout != 0 {
		t.Fatalf("expected no client timeout, got %s", adapter.client.Timeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := adapter.RetrievePaymentIntent(ctx, "pi_slow"); err != nil {
		t.Fatalf("expected slow call within deadline to succeed, got %v", err)
	}

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	_, err := adapter.RetrievePaymentIntent(short, "pi_slow")
	if kind, ok := paymentdomain.KindOf(err); !ok || kind != paymentdomain.KindNetwork {
		t.Fatalf("expected network error past the deadline, got %v", err)
	}
}
