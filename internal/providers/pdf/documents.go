package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

func (p *PDFProvider) GenerateInvoice(ctx context.Context, data InvoiceData) (io.Reader, error) {
	m := newDocument()
	addHeader(m, "Invoice", data)
	addItems(m, data)
	addTotals(m, data)
	return generate(m)
}

func (p *PDFProvider) GenerateReceipt(ctx context.Context, data ReceiptData) (io.Reader, error) {
	m := newDocument()
	addHeader(m, "Receipt", data.InvoiceData)
	addItems(m, data.InvoiceData)
	addTotals(m, data.InvoiceData)

	m.AddRow(12,
		text.NewCol(12, "Payments", props.Text{Style: fontstyle.Bold, Size: 11, Top: 4}),
	)
	m.AddRow(8,
		text.NewCol(3, "Date", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Method", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Reference", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, payment := range data.Payments {
		method := payment.Method
		if payment.Refunded {
			method += " (refunded " + payment.RefundedOnDay + ")"
		}
		m.AddRow(8,
			text.NewCol(3, payment.Date, props.Text{Size: 9}),
			text.NewCol(3, method, props.Text{Size: 9}),
			text.NewCol(4, payment.Reference, props.Text{Size: 9}),
			text.NewCol(2, payment.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	return generate(m)
}

func newDocument() core.Maroto {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	return maroto.New(cfg)
}

func addHeader(m core.Maroto, title string, data InvoiceData) {
	m.AddRow(20,
		text.NewCol(6, title, props.Text{Size: 20, Style: fontstyle.Bold, Align: align.Left}),
		text.NewCol(6, data.BusinessName, props.Text{Size: 12, Style: fontstyle.Bold, Align: align.Right}),
	)

	m.AddRow(30,
		col.New(6).Add(
			text.New("Invoice number: "+data.InvoiceNumber, props.Text{Top: 0}),
			text.New("Issued: "+data.IssueDate, props.Text{Top: 5}),
			text.New("Due: "+data.DueDate, props.Text{Top: 10}),
			text.New("Status: "+data.Status, props.Text{Top: 15}),
		),
		col.New(6).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold}),
			text.New(data.BillToName, props.Text{Top: 5}),
			text.New(data.BillToEmail, props.Text{Top: 10}),
			text.New(data.BillToPhone, props.Text{Top: 15}),
		),
	)

	m.AddRow(10,
		text.NewCol(12, fmt.Sprintf("Appointment: %s %s", data.AppointmentDate, data.AppointmentTime), props.Text{Size: 9}),
	)
}

func addItems(m core.Maroto, data InvoiceData) {
	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, item := range data.Items {
		m.AddRow(8,
			text.NewCol(6, item.Description, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", item.Qty), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.UnitPrice, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}
}

func addTotals(m core.Maroto, data InvoiceData) {
	rows := []struct{ label, value string }{
		{"Total", data.Total},
		{"Paid", data.Paid},
		{"Balance", data.Balance},
	}
	for _, row := range rows {
		m.AddRow(8,
			col.New(8),
			text.NewCol(2, row.label, props.Text{Size: 9, Style: fontstyle.Bold}),
			text.NewCol(2, row.value, props.Text{Size: 9, Align: align.Right}),
		)
	}
}

func generate(m core.Maroto) (io.Reader, error) {
	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(doc.GetBytes()), nil
}
