package service

import (
	"context"
	"io"

	"github.com/smallbiznis/appointly/internal/booking/domain"
	invoicedomain "github.com/smallbiznis/appointly/internal/invoice/domain"
	"github.com/smallbiznis/appointly/internal/providers/pdf"
)

func (s *Service) InvoicePDF(ctx context.Context, id string) (io.Reader, error) {
	view, err := s.View(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.documentData(ctx, view)
	if err != nil {
		return nil, err
	}
	return s.pdf.GenerateInvoice(ctx, data)
}

func (s *Service) Receipt(ctx context.Context, id string) (io.Reader, error) {
	view, err := s.View(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.documentData(ctx, view)
	if err != nil {
		return nil, err
	}

	receipt := pdf.ReceiptData{InvoiceData: data}
	for _, payment := range view.Payments {
		line := pdf.PaymentLine{
			Date:     payment.PaymentDate.Format(domain.DateLayout),
			Method:   string(payment.PaymentMethod),
			Amount:   payment.Amount.StringFixed(2),
			Refunded: payment.IsRefunded,
		}
		if payment.TransactionID != nil {
			line.Reference = *payment.TransactionID
		}
		if payment.RefundDate != nil {
			line.RefundedOnDay = payment.RefundDate.Format(domain.DateLayout)
		}
		receipt.Payments = append(receipt.Payments, line)
	}
	return s.pdf.GenerateReceipt(ctx, receipt)
}

func (s *Service) documentData(ctx context.Context, view invoicedomain.View) (pdf.InvoiceData, error) {
	business, err := s.business(ctx, s.db, view.Invoice.BusinessID)
	if err != nil {
		return pdf.InvoiceData{}, err
	}

	data := pdf.InvoiceData{
		BusinessName:    business.Name,
		InvoiceNumber:   view.Invoice.InvoiceNumber,
		Status:          string(view.Invoice.Status),
		IssueDate:       view.Invoice.CreatedAt.In(business.Location()).Format(domain.DateLayout),
		DueDate:         view.Invoice.DueDate.Format(domain.DateLayout),
		BillToName:      view.Booking.CustomerName,
		BillToEmail:     view.Booking.CustomerEmail,
		BillToPhone:     view.Booking.CustomerPhone,
		AppointmentDate: view.Booking.ScheduledDate.Format(domain.DateLayout),
		AppointmentTime: view.Booking.StartTime,
		Total:           view.Totals.Total.StringFixed(2),
		Paid:            view.Totals.Paid.StringFixed(2),
		Balance:         view.Totals.Balance.StringFixed(2),
	}
	for _, item := range view.Items {
		data.Items = append(data.Items, pdf.LineItem{
			Description: item.Name,
			Qty:         item.Quantity,
			UnitPrice:   item.PriceAtBooking.StringFixed(2),
			Amount:      item.LineTotal().StringFixed(2),
		})
	}
	if len(view.Items) == 0 && view.Offering != nil {
		data.Items = append(data.Items, pdf.LineItem{
			Description: view.Offering.Name,
			Qty:         1,
			UnitPrice:   view.Offering.Price.StringFixed(2),
			Amount:      view.Offering.Price.StringFixed(2),
		})
	}
	return data, nil
}
