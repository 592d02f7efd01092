// Package pdf renders invoice documents with maroto.
package pdf

import (
	"context"
	"io"

	"go.uber.org/fx"
)

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)

type Provider interface {
	GenerateInvoice(ctx context.Context, data InvoiceData) (io.Reader, error)
	GenerateReceipt(ctx context.Context, data ReceiptData) (io.Reader, error)
}

type InvoiceData struct {
	BusinessName  string
	InvoiceNumber string
	Status        string
	IssueDate     string
	DueDate       string

	BillToName  string
	BillToEmail string
	BillToPhone string

	AppointmentDate string
	AppointmentTime string

	Items []LineItem

	Total   string
	Paid    string
	Balance string
}

type LineItem struct {
	Description string
	Qty         int
	UnitPrice   string
	Amount      string
}

type ReceiptData struct {
	InvoiceData
	Payments []PaymentLine
}

type PaymentLine struct {
	Date          string
	Method        string
	Reference     string
	Amount        string
	Refunded      bool
	RefundedOnDay string
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}
