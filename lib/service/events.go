package service

import (
	"context"
	"encoding/json"
	"io"

	"github.com/paygate-io/paygate/common"
	"github.com/paygate-io/paygate/db/models"
)

// SubscribeInvoiceStatusChanges returns a channel carrying every invoice that
// changed status, across all statuses. Used by the rabbitmq publisher.
func (svc *GatewayService) SubscribeInvoiceStatusChanges() (chan models.Invoice, error) {
	ch := make(chan models.Invoice)
	for _, topic := range []string{
		common.InvoiceStatusPending,
		common.InvoiceStatusPartial,
		common.InvoiceStatusPaid,
		common.InvoiceStatusOverpaid,
		common.InvoiceStatusCanceled,
	} {
		svc.InvoicePubSub.Subscribe(topic, ch)
	}
	return ch, nil
}

// EncodeInvoiceEvent writes the same payload shape the webhooks carry, so
// rabbitmq consumers and webhook receivers can share parsing code.
func (svc *GatewayService) EncodeInvoiceEvent(ctx context.Context, w io.Writer, invoice models.Invoice) error {
	return json.NewEncoder(w).Encode(WebhookPayload{
		InvoiceID:         invoice.PublicID,
		Status:            invoice.Status,
		Amount:            invoice.Amount.String(),
		Currency:          invoice.Currency,
		PaidAmount:        invoice.PaidAmount.String(),
		CreditedAmount:    invoice.CreditedAmount.String(),
		CreditedAmountUSD: invoice.CreditedAmountUSD.String(),
		ExternalOrderID:   invoice.ExternalOrderID,
		TestMode:          invoice.TestMode,
	})
}
