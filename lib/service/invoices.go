package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/paygate-io/paygate/common"
	"github.com/paygate-io/paygate/db/models"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// AutoConfirmPolicy decides when a partial payment counts as paid anyway.
// ByAmount forgives an absolute shortfall, ByPercent accepts any payment at
// or above the given percentage of the invoice amount. The two are mutually
// exclusive; ByAmount wins if both are set.
type AutoConfirmPolicy struct {
	ByAmount  decimal.Decimal
	ByPercent decimal.Decimal
}

// DeriveStatus computes the invoice status from its amounts. It is a pure
// function: reconciliation calls it after every update and persists whatever
// it returns, so replaying the same deposit events always converges on the
// same status. Equality is checked within the epsilon of the currency.
func DeriveStatus(amount, paid, epsilon decimal.Decimal, policy AutoConfirmPolicy) string {
	if paid.Sign() == 0 {
		return common.InvoiceStatusCreated
	}
	diff := amount.Sub(paid)
	if diff.Abs().LessThanOrEqual(epsilon) {
		return common.InvoiceStatusPaid
	}
	if diff.Sign() < 0 {
		return common.InvoiceStatusOverpaid
	}

	// partial, unless the auto-confirm policy is satisfied
	if policy.ByAmount.Sign() > 0 && diff.LessThanOrEqual(policy.ByAmount) {
		return common.InvoiceStatusPaid
	}
	if policy.ByPercent.Sign() > 0 && amount.Sign() > 0 {
		threshold := amount.Mul(policy.ByPercent).Div(decimal.NewFromInt(100))
		if paid.GreaterThanOrEqual(threshold) {
			return common.InvoiceStatusPaid
		}
	}
	return common.InvoiceStatusPartial
}

type CreateInvoiceParams struct {
	ProjectID            int64
	Amount               decimal.Decimal
	Currency             string
	AmountUSD            decimal.Decimal
	PaymentWindowMinutes int64
	EmailRequired        bool
	TestMode             bool
	ExternalOrderID      string
	Metadata             map[string]interface{}
}

func (svc *GatewayService) CreateInvoice(ctx context.Context, params CreateInvoiceParams) (*models.Invoice, error) {
	if params.PaymentWindowMinutes < svc.Config.MinPaymentWindow || params.PaymentWindowMinutes > svc.Config.MaxPaymentWindow {
		return nil, fmt.Errorf("payment window %d outside of [%d, %d] minutes",
			params.PaymentWindowMinutes, svc.Config.MinPaymentWindow, svc.Config.MaxPaymentWindow)
	}
	if params.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("invoice amount must be positive")
	}

	project, err := svc.FindProject(ctx, params.ProjectID)
	if err != nil {
		return nil, err
	}

	invoice := models.Invoice{
		PublicID:                    makeULID(),
		ProjectID:                   project.ID,
		Amount:                      params.Amount,
		Currency:                    params.Currency,
		AmountUSD:                   params.AmountUSD,
		Status:                      common.InvoiceStatusCreated,
		SideCommission:              project.SideCommission,
		SideCommissionCC:            project.SideCommissionCC,
		AutoConfirmPartialByAmount:  project.AutoConfirmPartialByAmount,
		AutoConfirmPartialByPercent: project.AutoConfirmPartialByPercent,
		ExpiryDate:                  time.Now().Add(time.Duration(params.PaymentWindowMinutes) * time.Minute),
		ExternalOrderID:             params.ExternalOrderID,
		EmailRequired:               params.EmailRequired,
		TestMode:                    params.TestMode || project.TestMode,
		Metadata:                    params.Metadata,
	}

	_, err = svc.DB.NewInsert().Model(&invoice).Exec(ctx)
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// SelectPaymentOption fixes the currency-network of a created invoice and
// assigns the deposit address the payment page shows. The invoice moves to
// pending: from here on the pair is immutable and manual cancel is refused.
func (svc *GatewayService) SelectPaymentOption(ctx context.Context, invoice *models.Invoice, pairId int64) (*models.DepositWallet, error) {
	pair, err := svc.FindCurrencyNetwork(ctx, pairId)
	if err != nil {
		return nil, err
	}
	if !pair.Active {
		return nil, fmt.Errorf("currency network %s/%s is not accepting deposits", pair.Currency, pair.Network)
	}
	if invoice.Status != common.InvoiceStatusCreated {
		if invoice.TokenNetworkID == pair.ID {
			// same pair picked twice is a no-op, return the assigned wallet
			return svc.activeWalletForPair(ctx, invoice.ProjectID, pair.ID)
		}
		return nil, fmt.Errorf("currency network is fixed once invoice is %s", invoice.Status)
	}

	wallet, err := svc.AllocateWallet(ctx, invoice.ProjectID, pair.ID)
	if err != nil {
		return nil, err
	}

	invoice.TokenNetworkID = pair.ID
	invoice.Status = common.InvoiceStatusPending
	err = svc.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := svc.updateInvoiceGuarded(ctx, tx, invoice); err != nil {
			return err
		}
		return svc.recordTransition(ctx, tx, invoice, common.InvoiceStatusCreated, common.InvoiceStatusPending, common.ActorManual)
	})
	if err != nil {
		return nil, err
	}
	svc.InvoicePubSub.Publish(invoice.Status, *invoice)
	return wallet, nil
}

// CancelInvoice is the manual cancellation path, permitted only while the
// invoice is still in created with nothing paid. Anything later must go
// through a refund workflow instead.
func (svc *GatewayService) CancelInvoice(ctx context.Context, invoice *models.Invoice, actor string) error {
	if invoice.Status != common.InvoiceStatusCreated {
		return fmt.Errorf("only created invoices can be canceled, status is %s", invoice.Status)
	}
	if invoice.PaidAmount.Sign() > 0 {
		return fmt.Errorf("invoice has received funds, cancellation requires a refund")
	}
	return svc.transitionInvoice(ctx, invoice, common.InvoiceStatusCanceled, actor)
}

// ExpireInvoice is the sweeper path: unpaid invoices past their window are
// canceled. Partially paid invoices are left alone, funds already received
// must not be canceled away.
func (svc *GatewayService) ExpireInvoice(ctx context.Context, invoice *models.Invoice) error {
	switch invoice.Status {
	case common.InvoiceStatusCreated, common.InvoiceStatusPending:
	default:
		return nil
	}
	if invoice.PaidAmount.Sign() > 0 {
		return nil
	}
	return svc.transitionInvoice(ctx, invoice, common.InvoiceStatusCanceled, common.ActorExpiry)
}

func (svc *GatewayService) transitionInvoice(ctx context.Context, invoice *models.Invoice, toStatus, actor string) error {
	fromStatus := invoice.Status
	invoice.Status = toStatus
	err := svc.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := svc.updateInvoiceGuarded(ctx, tx, invoice); err != nil {
			return err
		}
		if err := svc.recordTransition(ctx, tx, invoice, fromStatus, toStatus, actor); err != nil {
			return err
		}
		return svc.EnqueueNotification(ctx, tx, invoice)
	})
	if err != nil {
		return err
	}
	svc.InvoicePubSub.Publish(invoice.Status, *invoice)
	return nil
}

// updateInvoiceGuarded writes the invoice with an optimistic-concurrency
// check on lockversion. Zero rows affected means another writer got there
// first and the caller must reload; the in-memory lockversion is bumped on
// success so the same struct can be written again.
func (svc *GatewayService) updateInvoiceGuarded(ctx context.Context, tx bun.IDB, invoice *models.Invoice) error {
	heldVersion := invoice.Lockversion
	invoice.Lockversion = heldVersion + 1
	res, err := tx.NewUpdate().Model(invoice).
		WherePK().
		Where("lockversion = ?", heldVersion).
		Exec(ctx)
	if err != nil {
		invoice.Lockversion = heldVersion
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		invoice.Lockversion = heldVersion
		return err
	}
	if rows == 0 {
		invoice.Lockversion = heldVersion
		return ErrStaleState
	}
	return nil
}

func (svc *GatewayService) recordTransition(ctx context.Context, tx bun.IDB, invoice *models.Invoice, from, to, actor string) error {
	transition := models.InvoiceTransition{
		InvoiceID:  invoice.ID,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
	}
	_, err := tx.NewInsert().Model(&transition).Exec(ctx)
	return err
}

// AssignedWallet returns the active deposit wallet of an invoice, or nil
// while no currency-network has been fixed yet.
func (svc *GatewayService) AssignedWallet(ctx context.Context, invoice *models.Invoice) (*models.DepositWallet, error) {
	if invoice.TokenNetworkID == 0 {
		return nil, nil
	}
	wallet, err := svc.activeWalletForPair(ctx, invoice.ProjectID, invoice.TokenNetworkID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return wallet, nil
}

func (svc *GatewayService) activeWalletForPair(ctx context.Context, projectId, pairId int64) (*models.DepositWallet, error) {
	var wallet models.DepositWallet
	err := svc.DB.NewSelect().Model(&wallet).
		Where("project_id = ? AND token_network_id = ? AND status = ?", projectId, pairId, common.WalletStatusActive).
		Limit(1).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}
