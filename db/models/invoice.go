package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Invoice : Invoice Model
//
// Amounts are token units carried as numerics. PaidAmount and CreditedAmount
// are only ever written by the reconciliation engine, which recomputes them
// from the set of confirmed deposit events instead of incrementing blindly,
// so replaying an event stream yields the same row.
type Invoice struct {
	ID        int64    `json:"-" bun:",pk,autoincrement"`
	PublicID  string   `json:"id" bun:",notnull,unique"`
	ProjectID int64    `json:"-" bun:",notnull"`
	Project   *Project `json:"-" bun:"rel:belongs-to,join:project_id=id"`

	Amount    decimal.Decimal `json:"amount" bun:"type:numeric,notnull"`
	Currency  string          `json:"currency" bun:",notnull"`
	AmountUSD decimal.Decimal `json:"amount_usd" bun:"type:numeric,nullzero"`

	PaidAmount        decimal.Decimal `json:"paid_amount" bun:"type:numeric,notnull,default:0"`
	CreditedAmount    decimal.Decimal `json:"credited_amount" bun:"type:numeric,notnull,default:0"`
	CreditedAmountUSD decimal.Decimal `json:"credited_amount_usd" bun:"type:numeric,notnull,default:0"`
	ServiceFee        decimal.Decimal `json:"service_fee" bun:"type:numeric,notnull,default:0"`
	TransferFee       decimal.Decimal `json:"transfer_fee" bun:"type:numeric,notnull,default:0"`

	// nil until the payer picks a currency-network or the first deposit lands;
	// fixed once Status leaves "created"
	TokenNetworkID int64            `json:"-" bun:",nullzero"`
	TokenNetwork   *CurrencyNetwork `json:"-" bun:"rel:belongs-to,join:token_network_id=id"`

	Status string `json:"status" bun:",notnull,default:'created'"`

	SideCommission   string `json:"side_commission" bun:",notnull,default:'merchant'"`
	SideCommissionCC string `json:"side_commission_cc" bun:",notnull,default:'merchant'"`

	AutoConfirmPartialByAmount  decimal.Decimal `json:"-" bun:"type:numeric,nullzero"`
	AutoConfirmPartialByPercent decimal.Decimal `json:"-" bun:"type:numeric,nullzero"`

	ExpiryDate      time.Time              `json:"expiry_date" bun:",notnull"`
	ExternalOrderID string                 `json:"external_order_id" bun:",nullzero"`
	EmailRequired   bool                   `json:"email_required" bun:",nullzero"`
	TestMode        bool                   `json:"test_mode" bun:",nullzero"`
	Metadata        map[string]interface{} `json:"metadata" bun:"type:jsonb,nullzero"`

	// hashes of the settlement transactions credited to this invoice
	TxHashes []string `json:"tx_hashes" bun:",array"`

	// optimistic concurrency token, bumped on every mutation
	Lockversion int64 `json:"-" bun:",notnull,default:0"`

	CreatedAt time.Time    `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt bun.NullTime `json:"updated_at"`
}

func (i *Invoice) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		i.UpdatedAt = bun.NullTime{Time: time.Now()}
	}
	return nil
}

// HasTxHash reports whether hash is already in the settlement list.
func (i *Invoice) HasTxHash(hash string) bool {
	for _, h := range i.TxHashes {
		if h == hash {
			return true
		}
	}
	return false
}

var _ bun.BeforeAppendModelHook = (*Invoice)(nil)

// InvoiceTransition : Invoice Transition Model
//
// Append-only audit trail of every status change with the originating actor.
type InvoiceTransition struct {
	ID         int64     `json:"id" bun:",pk,autoincrement"`
	InvoiceID  int64     `json:"invoice_id" bun:",notnull"`
	Invoice    *Invoice  `json:"-" bun:"rel:belongs-to,join:invoice_id=id"`
	FromStatus string    `json:"from_status" bun:",notnull"`
	ToStatus   string    `json:"to_status" bun:",notnull"`
	Actor      string    `json:"actor" bun:",notnull"`
	CreatedAt  time.Time `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
}
