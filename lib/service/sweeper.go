package service

import (
	"context"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/paygate-io/paygate/common"
	"github.com/paygate-io/paygate/db/models"
	"github.com/uptrace/bun"
)

// StartExpirySweeper periodically cancels invoices whose payment window
// lapsed without a single payment. Partially paid invoices keep their funds
// and their partial status; late deposits for swept invoices still credit,
// coins already in flight cannot be refused.
func (svc *GatewayService) StartExpirySweeper(ctx context.Context) error {
	svc.Logger.Infof("Starting expiry sweeper interval:%ds", svc.Config.SweepInterval)

	ticker := time.NewTicker(time.Duration(svc.Config.SweepInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := svc.SweepExpiredInvoices(ctx); err != nil {
				svc.Logger.Errorf("Expiry sweep failed: %v", err)
				sentry.CaptureException(err)
			}
		}
	}
}

// SweepExpiredInvoices runs one sweep pass. Each invoice transition is
// independent; a stale-state conflict just means reconciliation got there
// first, the row is re-evaluated in the next pass.
func (svc *GatewayService) SweepExpiredInvoices(ctx context.Context) error {
	expired := []models.Invoice{}
	err := svc.DB.NewSelect().Model(&expired).
		Where("status IN (?)", bun.In([]string{common.InvoiceStatusCreated, common.InvoiceStatusPending})).
		Where("expiry_date < now()").
		Where("paid_amount = 0").
		Scan(ctx)
	if err != nil {
		return err
	}

	for _, invoice := range expired {
		invoice := invoice
		if err := svc.ExpireInvoice(ctx, &invoice); err != nil {
			if errors.Is(err, ErrStaleState) {
				svc.Logger.Infof("Invoice changed during sweep, skipping invoice:%s", invoice.PublicID)
				continue
			}
			return err
		}
		svc.Logger.Infof("Expired unpaid invoice canceled invoice:%s", invoice.PublicID)
	}
	return nil
}
