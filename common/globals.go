package common

const (
	InvoiceStatusCreated  = "created"
	InvoiceStatusPending  = "pending"
	InvoiceStatusPartial  = "partial"
	InvoiceStatusPaid     = "paid"
	InvoiceStatusOverpaid = "overpaid"
	InvoiceStatusCanceled = "canceled"

	DepositTypeDeposit  = "deposit"
	DepositTypeSweep    = "sweep"
	DepositTypeRefund   = "refund"
	DepositTypeInternal = "internal"

	WalletStatusActive   = "active"
	WalletStatusArchived = "archived"
	WalletStatusDisabled = "disabled"

	WebhookStatusPending  = "pending"
	WebhookStatusInFlight = "in_flight"
	WebhookStatusSuccess  = "success"
	WebhookStatusFailed   = "failed"

	// actors recorded on invoice transitions
	ActorReconciliation = "reconciliation"
	ActorExpiry         = "expiry"
	ActorManual         = "manual"

	// which party absorbs a fee
	SideClient   = "client"
	SideMerchant = "merchant"
)

// IsTerminalInvoiceStatus reports whether no further transition is allowed.
func IsTerminalInvoiceStatus(status string) bool {
	switch status {
	case InvoiceStatusPaid, InvoiceStatusOverpaid, InvoiceStatusCanceled:
		return true
	}
	return false
}
