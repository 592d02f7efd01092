// Package paymenttest provides an in-process stand-in for the card
// processor API and a wired environment for payment tests.
package paymenttest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// FakeStripe serves the subset of the processor API the adapter calls.
type FakeStripe struct {
	*httptest.Server

	mu        sync.Mutex
	seq       int
	customers map[string]map[string]any
	intents   map[string]map[string]any
	attached  map[string]string
	calls     map[string]int

	// Decline makes off-session charges fail with 402.
	Decline bool
	// Delay is slept before every response.
	Delay time.Duration
}

func NewFakeStripe(t testing.TB) *FakeStripe {
	t.Helper()
	f := &FakeStripe{
		customers: map[string]map[string]any{},
		intents:   map[string]map[string]any{},
		attached:  map[string]string{},
		calls:     map[string]int{},
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

// AddCustomer registers an existing processor customer.
func (f *FakeStripe) AddCustomer(id, email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers[id] = map[string]any{"id": id, "email": email}
}

// AddSucceededIntent registers a completed payment intent for invoiceID.
func (f *FakeStripe) AddSucceededIntent(id, invoiceID string, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[id] = map[string]any{
		"id":              id,
		"object":          "payment_intent",
		"status":          "succeeded",
		"amount":          amount,
		"amount_received": amount,
		"currency":        "usd",
		"metadata":        map[string]any{"invoice_id": invoiceID},
	}
}

// Calls returns how many requests hit "METHOD /path-prefix".
func (f *FakeStripe) Calls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// AttachedTo returns the customer a payment method was attached to.
func (f *FakeStripe) AttachedTo(paymentMethodID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attached[paymentMethodID]
}

func (f *FakeStripe) serve(w http.ResponseWriter, r *http.Request) {
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-r.Context().Done():
			return
		}
	}
	if r.Header.Get("Authorization") == "" {
		writeError(w, http.StatusUnauthorized, "missing api key")
		return
	}
	_ = r.ParseForm()

	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && path == "/v1/customers":
		f.calls["GET /v1/customers"]++
		email := strings.ToLower(r.URL.Query().Get("email"))
		data := []any{}
		for _, customer := range f.customers {
			if customer["email"] == email {
				data = append(data, customer)
			}
		}
		writeJSON(w, map[string]any{"data": data})

	case r.Method == http.MethodPost && path == "/v1/customers":
		f.calls["POST /v1/customers"]++
		id := f.nextID("cus_")
		f.customers[id] = map[string]any{"id": id, "email": r.PostForm.Get("email")}
		writeJSON(w, f.customers[id])

	case r.Method == http.MethodPost && strings.HasPrefix(path, "/v1/customers/"):
		f.calls["POST /v1/customers/"]++
		id := strings.TrimPrefix(path, "/v1/customers/")
		customer, ok := f.customers[id]
		if !ok {
			writeError(w, http.StatusNotFound, "no such customer")
			return
		}
		writeJSON(w, customer)

	case r.Method == http.MethodPost && strings.HasPrefix(path, "/v1/payment_methods/") && strings.HasSuffix(path, "/attach"):
		f.calls["POST /v1/payment_methods/attach"]++
		pm := strings.TrimSuffix(strings.TrimPrefix(path, "/v1/payment_methods/"), "/attach")
		f.attached[pm] = r.PostForm.Get("customer")
		writeJSON(w, map[string]any{"id": pm, "customer": r.PostForm.Get("customer")})

	case r.Method == http.MethodPost && path == "/v1/setup_intents":
		f.calls["POST /v1/setup_intents"]++
		id := f.nextID("seti_")
		writeJSON(w, map[string]any{
			"id":            id,
			"object":        "setup_intent",
			"client_secret": id + "_secret",
			"status":        "requires_payment_method",
			"customer":      r.PostForm.Get("customer"),
			"metadata":      map[string]any{"invoice_id": r.PostForm.Get("metadata[invoice_id]")},
		})

	case r.Method == http.MethodPost && path == "/v1/payment_intents":
		f.calls["POST /v1/payment_intents"]++
		amount, _ := strconv.ParseInt(r.PostForm.Get("amount"), 10, 64)
		offSession := r.PostForm.Get("off_session") == "true"
		if offSession && f.Decline {
			writeError(w, http.StatusPaymentRequired, "Your card was declined.")
			return
		}
		id := f.nextID("pi_")
		intent := map[string]any{
			"id":            id,
			"object":        "payment_intent",
			"client_secret": id + "_secret",
			"status":        "requires_payment_method",
			"amount":        amount,
			"currency":      r.PostForm.Get("currency"),
			"customer":      r.PostForm.Get("customer"),
			"metadata": map[string]any{
				"invoice_id":   r.PostForm.Get("metadata[invoice_id]"),
				"payment_type": r.PostForm.Get("metadata[payment_type]"),
			},
		}
		if offSession {
			intent["status"] = "succeeded"
			intent["amount_received"] = amount
			intent["payment_method"] = r.PostForm.Get("payment_method")
		}
		f.intents[id] = intent
		writeJSON(w, intent)

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/v1/payment_intents/"):
		f.calls["GET /v1/payment_intents"]++
		intent, ok := f.intents[strings.TrimPrefix(path, "/v1/payment_intents/")]
		if !ok {
			writeError(w, http.StatusNotFound, "no such payment_intent")
			return
		}
		writeJSON(w, intent)

	default:
		writeError(w, http.StatusNotFound, "unrecognized request url")
	}
}

func (f *FakeStripe) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%d", prefix, f.seq)
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": message}})
}

// SignatureHeader builds a Stripe-Signature header value for payload.
func SignatureHeader(secret string, payload []byte, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", timestamp, payload)))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}
