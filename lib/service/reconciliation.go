package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/paygate-io/paygate/common"
	"github.com/paygate-io/paygate/db/models"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// DepositObservation is the shape the chain watchers emit. The engine never
// talks to a node itself, it only consumes these.
type DepositObservation struct {
	TxHash        string                 `json:"tx_hash" validate:"required"`
	FromAddress   string                 `json:"from_address"`
	ToAddress     string                 `json:"to_address" validate:"required"`
	Value         decimal.Decimal        `json:"value" validate:"required"`
	Confirmations int64                  `json:"confirmations"`
	BlockNumber   int64                  `json:"block_number"`
	LogIndex      int64                  `json:"log_index"`
	NetworkFee    decimal.Decimal        `json:"network_fee"`
	EventType     string                 `json:"event_type"`
	RawPayload    map[string]interface{} `json:"raw_payload"`
}

// Reconciliation outcomes. Orphan and unmatched deposits are parked, never
// discarded; sub-threshold confirmations are a wait state, not an error.
const (
	OutcomeCredited     = "credited"
	OutcomeDuplicate    = "duplicate"
	OutcomeOrphan       = "orphan"
	OutcomeUnmatched    = "unmatched"
	OutcomeSubThreshold = "awaiting_confirmations"
	OutcomeLateDeposit  = "late_deposit"
	OutcomeOutOfBounds  = "out_of_bounds"
	OutcomeIgnored      = "ignored"
)

type ReconcileOutcome struct {
	Outcome string
	Event   *models.DepositEvent
	Invoice *models.Invoice
}

// Reconcile matches one deposit observation to an invoice and applies its
// monetary effect exactly once. The same tx hash can be submitted any number
// of times, concurrently or not: the unique constraint plus the processed
// flag make replay a no-op. StaleState conflicts on the invoice are retried
// internally with fresh data.
func (svc *GatewayService) Reconcile(ctx context.Context, obs DepositObservation) (*ReconcileOutcome, error) {
	event, err := svc.upsertDepositEvent(ctx, obs)
	if err != nil {
		return nil, err
	}
	if event.Processed {
		svc.Logger.Debugf("Deposit already reconciled tx_hash:%s", event.TxHash)
		return &ReconcileOutcome{Outcome: OutcomeDuplicate, Event: event}, nil
	}
	if event.EventType != common.DepositTypeDeposit {
		// sweeps, refunds and internal moves are recorded but never credited
		return &ReconcileOutcome{Outcome: OutcomeIgnored, Event: event}, nil
	}

	wallet, err := svc.FindWalletByAddress(ctx, event.ToAddress)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return svc.parkOrphan(ctx, event)
	}

	pair, err := svc.FindCurrencyNetwork(ctx, wallet.TokenNetworkID)
	if err != nil {
		return nil, err
	}

	// deposits outside the network bounds are never credited automatically
	if (pair.MinDepositAmount.Sign() > 0 && event.Value.LessThan(pair.MinDepositAmount)) ||
		(pair.MaxDepositAmount.Sign() > 0 && event.Value.GreaterThan(pair.MaxDepositAmount)) {
		event.WalletID = wallet.ID
		event.RequiresManualReview = true
		if _, err := svc.DB.NewUpdate().Model(event).WherePK().Exec(ctx); err != nil {
			return nil, err
		}
		svc.Logger.Warnf("Deposit outside network bounds parked tx_hash:%s value:%s", event.TxHash, event.Value.String())
		return &ReconcileOutcome{Outcome: OutcomeOutOfBounds, Event: event}, nil
	}

	// confirmation gating: below the network threshold only the event row moves
	if event.Confirmations < pair.RequiredConfirmations {
		event.WalletID = wallet.ID
		if _, err := svc.DB.NewUpdate().Model(event).WherePK().Exec(ctx); err != nil {
			return nil, err
		}
		svc.Logger.Infof("Deposit below threshold tx_hash:%s confirmations:%d required:%d",
			event.TxHash, event.Confirmations, pair.RequiredConfirmations)
		return &ReconcileOutcome{Outcome: OutcomeSubThreshold, Event: event}, nil
	}

	for attempt := 0; attempt < svc.Config.MaxReconcileRetries; attempt++ {
		outcome, err := svc.applyConfirmedDeposit(ctx, event, wallet, pair)
		if err == nil {
			return outcome, nil
		}
		if !errors.Is(err, ErrStaleState) {
			return nil, svc.parkAfterError(ctx, event, err)
		}
		svc.Logger.Infof("Invoice moved concurrently, retrying reconciliation tx_hash:%s attempt:%d", event.TxHash, attempt+1)
	}
	return nil, svc.parkAfterError(ctx, event, ErrStaleState)
}

// applyConfirmedDeposit runs one optimistic attempt: resolve the invoice,
// recompute amounts from the full confirmed-event set, derive the status and
// commit the (event, invoice) pair atomically. A crash in between leaves the
// event unprocessed, so replay is safe.
func (svc *GatewayService) applyConfirmedDeposit(ctx context.Context, event *models.DepositEvent, wallet *models.DepositWallet, pair *models.CurrencyNetwork) (*ReconcileOutcome, error) {
	invoice, err := svc.resolveInvoice(ctx, event, wallet)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return svc.parkUnmatched(ctx, event, wallet)
	}
	if invoice.Status == common.InvoiceStatusCanceled {
		// funds for a canceled invoice stay attributed to the wallet and are
		// surfaced for manual refund handling, never credited
		event.WalletID = wallet.ID
		event.InvoiceID = invoice.ID
		event.Unmatched = true
		event.RequiresManualReview = true
		if _, err := svc.DB.NewUpdate().Model(event).WherePK().Exec(ctx); err != nil {
			return nil, err
		}
		svc.Logger.Infof("Late deposit for canceled invoice parked tx_hash:%s invoice:%s", event.TxHash, invoice.PublicID)
		return &ReconcileOutcome{Outcome: OutcomeLateDeposit, Event: event, Invoice: invoice}, nil
	}

	fromStatus := invoice.Status

	var outcome *ReconcileOutcome
	err = svc.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		// amounts are recomputed from the set of confirmed events rather than
		// incremented, so re-running after a partial failure cannot double-count
		paid, err := svc.confirmedTotal(ctx, tx, invoice.ID, event, pair)
		if err != nil {
			return err
		}

		breakdown := ApplyFees(paid, FeePolicy{
			ServiceFeePercent: pair.ServiceFeePercent,
			TransferFee:       pair.TransferFee,
			SideCommission:    invoice.SideCommission,
			SideCommissionCC:  invoice.SideCommissionCC,
		})

		invoice.PaidAmount = paid
		invoice.ServiceFee = breakdown.ServiceFee
		invoice.TransferFee = breakdown.TransferFee
		invoice.CreditedAmount = breakdown.Credited
		// FX is fixed at confirmation time from the quote ratio; token-unit
		// amounts are never reused as USD
		if invoice.Amount.Sign() > 0 && invoice.AmountUSD.Sign() > 0 {
			invoice.CreditedAmountUSD = breakdown.Credited.Mul(invoice.AmountUSD).Div(invoice.Amount)
		}
		if invoice.TokenNetworkID == 0 {
			invoice.TokenNetworkID = pair.ID
		}
		if !invoice.HasTxHash(event.TxHash) {
			invoice.TxHashes = append(invoice.TxHashes, event.TxHash)
		}

		invoice.Status = DeriveStatus(invoice.Amount, invoice.PaidAmount, pair.Epsilon(), AutoConfirmPolicy{
			ByAmount:  invoice.AutoConfirmPartialByAmount,
			ByPercent: invoice.AutoConfirmPartialByPercent,
		})
		// DeriveStatus returns created for a zero total; keep the pre-deposit
		// status in that case
		if invoice.Status == common.InvoiceStatusCreated {
			invoice.Status = fromStatus
		}

		if err := svc.updateInvoiceGuarded(ctx, tx, invoice); err != nil {
			return err
		}

		if invoice.Status != fromStatus {
			if err := svc.recordTransition(ctx, tx, invoice, fromStatus, invoice.Status, common.ActorReconciliation); err != nil {
				return err
			}
			if err := svc.EnqueueNotification(ctx, tx, invoice); err != nil {
				return err
			}
		}

		event.WalletID = wallet.ID
		event.InvoiceID = invoice.ID
		event.Processed = true
		event.Unmatched = false
		event.LastError = ""
		if _, err := tx.NewUpdate().Model(event).WherePK().Exec(ctx); err != nil {
			return err
		}

		_, err = tx.NewUpdate().Model(wallet).
			Set("last_balance = last_balance + ?", event.Value).
			Set("last_checked_block = GREATEST(last_checked_block, ?)", event.BlockNumber).
			WherePK().
			Exec(ctx)
		if err != nil {
			return err
		}

		outcome = &ReconcileOutcome{Outcome: OutcomeCredited, Event: event, Invoice: invoice}
		return nil
	})
	if err != nil {
		return nil, err
	}

	svc.Logger.Infof("Deposit reconciled tx_hash:%s invoice:%s paid:%s status:%s",
		event.TxHash, invoice.PublicID, invoice.PaidAmount.String(), invoice.Status)

	if invoice.Status != fromStatus {
		svc.InvoicePubSub.Publish(invoice.Status, *invoice)
	}
	return outcome, nil
}

// upsertDepositEvent records the observation idempotently on tx_hash.
// Repeated observations only refresh the confirmation count and raw payload
// of the existing row.
func (svc *GatewayService) upsertDepositEvent(ctx context.Context, obs DepositObservation) (*models.DepositEvent, error) {
	eventType := obs.EventType
	if eventType == "" {
		eventType = common.DepositTypeDeposit
	}
	event := models.DepositEvent{
		TxHash:        obs.TxHash,
		FromAddress:   obs.FromAddress,
		ToAddress:     obs.ToAddress,
		Value:         obs.Value,
		Confirmations: obs.Confirmations,
		BlockNumber:   obs.BlockNumber,
		LogIndex:      obs.LogIndex,
		NetworkFee:    obs.NetworkFee,
		EventType:     eventType,
		RawPayload:    obs.RawPayload,
	}
	_, err := svc.DB.NewInsert().Model(&event).
		On("CONFLICT (tx_hash) DO UPDATE").
		Set("confirmations = GREATEST(deposit_event.confirmations, EXCLUDED.confirmations)").
		Set("block_number = EXCLUDED.block_number").
		Set("raw_payload = EXCLUDED.raw_payload").
		Set("updated_at = ?", time.Now()).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// resolveInvoice picks the open invoice this deposit belongs to: same
// project and pair (or no pair fixed yet), oldest first. Invoices with a
// still-valid window win over expired ones, but an expired partial invoice
// still accepts funds already in flight. With no open invoice left the
// deposit falls back to a canceled invoice of the pair, so coins landing
// after the sweeper got there are attributed rather than dangling.
func (svc *GatewayService) resolveInvoice(ctx context.Context, event *models.DepositEvent, wallet *models.DepositWallet) (*models.Invoice, error) {
	var invoice models.Invoice
	err := svc.DB.NewSelect().Model(&invoice).
		Where("project_id = ?", wallet.ProjectID).
		Where("(token_network_id = ? OR token_network_id IS NULL)", wallet.TokenNetworkID).
		Where("status IN (?)", bun.In([]string{
			common.InvoiceStatusCreated,
			common.InvoiceStatusPending,
			common.InvoiceStatusPartial,
		})).
		OrderExpr("(expiry_date > now()) DESC, created_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// an invoice already carrying this hash wins, so a replayed
			// observation parks consistently; otherwise the most recently
			// canceled invoice of the pair takes the late deposit
			err = svc.DB.NewSelect().Model(&invoice).
				Where("project_id = ? AND token_network_id = ? AND status = ?",
					wallet.ProjectID, wallet.TokenNetworkID, common.InvoiceStatusCanceled).
				OrderExpr("(? = ANY(tx_hashes)) DESC, updated_at DESC", event.TxHash).
				Limit(1).Scan(ctx)
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return &invoice, nil
		}
		return nil, err
	}
	return &invoice, nil
}

// confirmedTotal sums the value of every processed confirmed deposit for the
// invoice plus the event being applied.
func (svc *GatewayService) confirmedTotal(ctx context.Context, tx bun.Tx, invoiceId int64, current *models.DepositEvent, pair *models.CurrencyNetwork) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := tx.NewSelect().Model((*models.DepositEvent)(nil)).
		ColumnExpr("COALESCE(SUM(value), 0)").
		Where("invoice_id = ? AND processed AND event_type = ? AND confirmations >= ? AND id != ?",
			invoiceId, common.DepositTypeDeposit, pair.RequiredConfirmations, current.ID).
		Scan(ctx, &total)
	if err != nil {
		return decimal.Zero, err
	}
	return total.Add(current.Value), nil
}

func (svc *GatewayService) parkOrphan(ctx context.Context, event *models.DepositEvent) (*ReconcileOutcome, error) {
	event.Orphan = true
	event.RequiresManualReview = true
	if _, err := svc.DB.NewUpdate().Model(event).WherePK().Exec(ctx); err != nil {
		return nil, err
	}
	svc.Logger.Warnf("Orphan deposit parked, no wallet for address tx_hash:%s to:%s", event.TxHash, event.ToAddress)
	return &ReconcileOutcome{Outcome: OutcomeOrphan, Event: event}, nil
}

func (svc *GatewayService) parkUnmatched(ctx context.Context, event *models.DepositEvent, wallet *models.DepositWallet) (*ReconcileOutcome, error) {
	event.WalletID = wallet.ID
	event.Unmatched = true
	event.RequiresManualReview = true
	if _, err := svc.DB.NewUpdate().Model(event).WherePK().Exec(ctx); err != nil {
		return nil, err
	}
	svc.Logger.Warnf("Deposit without open invoice attributed to wallet tx_hash:%s wallet_id:%d", event.TxHash, wallet.ID)
	return &ReconcileOutcome{Outcome: OutcomeUnmatched, Event: event}, nil
}

// parkAfterError bumps the retry counter; once the bound is hit the event
// stays unprocessed and flagged so an operator can inspect it. It is never
// dropped.
func (svc *GatewayService) parkAfterError(ctx context.Context, event *models.DepositEvent, cause error) error {
	sentry.CaptureException(cause)
	event.RetryCount++
	event.LastError = cause.Error()
	if event.RetryCount >= int64(svc.Config.MaxReconcileRetries) {
		event.RequiresManualReview = true
	}
	if _, err := svc.DB.NewUpdate().Model(event).WherePK().Exec(ctx); err != nil {
		return err
	}
	return fmt.Errorf("reconciliation of %s failed: %w", event.TxHash, cause)
}
