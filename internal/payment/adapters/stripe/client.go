package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	paymentdomain "github.com/smallbiznis/appointly/internal/payment/domain"
)

// stripeIntent covers both payment and setup intents. customer and
// payment_method arrive either as ids or as expanded objects.
type stripeIntent struct {
	ID             string          `json:"id"`
	Object         string          `json:"object"`
	ClientSecret   string          `json:"client_secret"`
	Status         string          `json:"status"`
	Amount         int64           `json:"amount"`
	AmountReceived int64           `json:"amount_received"`
	Currency       string          `json:"currency"`
	Created        int64           `json:"created"`
	Customer       json.RawMessage `json:"customer"`
	PaymentMethod  json.RawMessage `json:"payment_method"`
	Metadata       map[string]any  `json:"metadata"`
}

func (i stripeIntent) customerID() string      { return expandableID(i.Customer) }
func (i stripeIntent) paymentMethodID() string { return expandableID(i.PaymentMethod) }

func (i stripeIntent) toDomain() paymentdomain.Intent {
	return paymentdomain.Intent{
		ID:              i.ID,
		ClientSecret:    i.ClientSecret,
		Status:          i.Status,
		Amount:          i.Amount,
		AmountReceived:  i.AmountReceived,
		Currency:        i.Currency,
		CustomerID:      i.customerID(),
		PaymentMethodID: i.paymentMethodID(),
		InvoiceID:       readMetadataValue(i.Metadata, "invoice_id"),
	}
}

type stripeCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type stripeList[T any] struct {
	Data []T `json:"data"`
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.ID)
	}
	return ""
}

func (a *Adapter) CreatePaymentIntent(ctx context.Context, req paymentdomain.IntentRequest) (paymentdomain.Intent, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(req.Amount, 10))
	values.Set("currency", strings.ToLower(req.Currency))
	values.Set("payment_method_types[]", "card")
	if req.CustomerID != "" {
		values.Set("customer", req.CustomerID)
	}
	setMetadata(values, req.Metadata)

	var intent stripeIntent
	if err := a.doRequest(ctx, http.MethodPost, "/v1/payment_intents", values, req.IdempotencyKey, &intent); err != nil {
		return paymentdomain.Intent{}, err
	}
	return intent.toDomain(), nil
}

func (a *Adapter) RetrievePaymentIntent(ctx context.Context, id string) (paymentdomain.Intent, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return paymentdomain.Intent{}, paymentdomain.NewProcessorError(paymentdomain.KindInvalidRequest, "payment intent id is required")
	}
	var intent stripeIntent
	if err := a.doRequest(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(id), nil, "", &intent); err != nil {
		return paymentdomain.Intent{}, err
	}
	return intent.toDomain(), nil
}

func (a *Adapter) CreateSetupIntent(ctx context.Context, req paymentdomain.SetupIntentRequest) (paymentdomain.Intent, error) {
	values := url.Values{}
	values.Set("usage", "off_session")
	values.Set("payment_method_types[]", "card")
	if req.CustomerID != "" {
		values.Set("customer", req.CustomerID)
	}
	setMetadata(values, req.Metadata)

	var intent stripeIntent
	if err := a.doRequest(ctx, http.MethodPost, "/v1/setup_intents", values, req.IdempotencyKey, &intent); err != nil {
		return paymentdomain.Intent{}, err
	}
	return intent.toDomain(), nil
}

func (a *Adapter) FindCustomerByEmail(ctx context.Context, email string) (*paymentdomain.Customer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	query := url.Values{}
	query.Set("email", email)
	query.Set("limit", "1")

	var list stripeList[stripeCustomer]
	if err := a.doRequest(ctx, http.MethodGet, "/v1/customers?"+query.Encode(), nil, "", &list); err != nil {
		return nil, err
	}
	if len(list.Data) == 0 {
		return nil, nil
	}
	return &paymentdomain.Customer{ID: list.Data[0].ID, Email: list.Data[0].Email}, nil
}

func (a *Adapter) CreateCustomer(ctx context.Context, email, name string) (paymentdomain.Customer, error) {
	values := url.Values{}
	values.Set("email", strings.ToLower(strings.TrimSpace(email)))
	if name = strings.TrimSpace(name); name != "" {
		values.Set("name", name)
	}
	var customer stripeCustomer
	if err := a.doRequest(ctx, http.MethodPost, "/v1/customers", values, "", &customer); err != nil {
		return paymentdomain.Customer{}, err
	}
	return paymentdomain.Customer{ID: customer.ID, Email: customer.Email}, nil
}

func (a *Adapter) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	if customerID == "" || paymentMethodID == "" {
		return paymentdomain.NewProcessorError(paymentdomain.KindInvalidRequest, "customer and payment method are required")
	}

	attach := url.Values{}
	attach.Set("customer", customerID)
	var method struct {
		ID string `json:"id"`
	}
	if err := a.doRequest(ctx, http.MethodPost, "/v1/payment_methods/"+url.PathEscape(paymentMethodID)+"/attach", attach, "", &method); err != nil {
		return err
	}

	defaults := url.Values{}
	defaults.Set("invoice_settings[default_payment_method]", paymentMethodID)
	var customer stripeCustomer
	return a.doRequest(ctx, http.MethodPost, "/v1/customers/"+url.PathEscape(customerID), defaults, "", &customer)
}

func (a *Adapter) ChargeOffSession(ctx context.Context, req paymentdomain.ChargeRequest) (paymentdomain.Intent, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(req.Amount, 10))
	values.Set("currency", strings.ToLower(req.Currency))
	values.Set("customer", req.CustomerID)
	if req.PaymentMethodID != "" {
		values.Set("payment_method", req.PaymentMethodID)
	}
	values.Set("off_session", "true")
	values.Set("confirm", "true")
	setMetadata(values, req.Metadata)

	var intent stripeIntent
	if err := a.doRequest(ctx, http.MethodPost, "/v1/payment_intents", values, req.IdempotencyKey, &intent); err != nil {
		return paymentdomain.Intent{}, err
	}
	return intent.toDomain(), nil
}

func setMetadata(values url.Values, metadata paymentdomain.Metadata) {
	set := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			values.Set("metadata["+key+"]", value)
		}
	}
	set("invoice_id", metadata.InvoiceID)
	set("invoice_number", metadata.InvoiceNumber)
	set("customer_name", metadata.CustomerName)
	set("customer_email", metadata.CustomerEmail)
	set("payment_type", metadata.PaymentType)
}

func (a *Adapter) doRequest(
	ctx context.Context,
	method string,
	path string,
	values url.Values,
	idempotencyKey string,
	out any,
) error {
	if strings.TrimSpace(a.secretKey) == "" {
		return paymentdomain.NewProcessorError(paymentdomain.KindUnauthorized, "secret key is not configured")
	}
	var bodyReader *strings.Reader
	if values != nil {
		bodyReader = strings.NewReader(values.Encode())
	} else {
		bodyReader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, a.apiBase+path, bodyReader)
	if err != nil {
		return paymentdomain.NewProcessorError(paymentdomain.KindInvalidRequest, err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+a.secretKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if a.accountID != "" {
		req.Header.Set("Stripe-Account", a.accountID)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return paymentdomain.NewProcessorError(paymentdomain.KindNetwork, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		message := "stripe_request_failed"
		var stripeErr stripeErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err == nil {
			if msg := strings.TrimSpace(stripeErr.Error.Message); msg != "" {
				message = msg
			}
		}
		return paymentdomain.NewProcessorError(kindForStatus(resp.StatusCode), message)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return paymentdomain.NewProcessorError(paymentdomain.KindNetwork, err.Error())
		}
		return paymentdomain.NewProcessorError(paymentdomain.KindUnknown, "stripe_response_invalid")
	}
	return nil
}

func kindForStatus(status int) paymentdomain.ErrorKind {
	switch status {
	case http.StatusPaymentRequired:
		return paymentdomain.KindDeclined
	case http.StatusUnauthorized, http.StatusForbidden:
		return paymentdomain.KindUnauthorized
	case http.StatusBadRequest, http.StatusNotFound:
		return paymentdomain.KindInvalidRequest
	default:
		return paymentdomain.KindUnknown
	}
}
