package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Project : Project Model
//
// A project is the merchant-facing tenant: it owns invoices, deposit wallets
// and the webhook endpoint notified on invoice state changes.
type Project struct {
	ID            int64  `json:"id" bun:",pk,autoincrement"`
	PublicID      string `json:"public_id" bun:",notnull,unique"`
	Name          string `json:"name" bun:",notnull"`
	NotifyURL     string `json:"notify_url" bun:",nullzero"`
	WebhookSecret string `json:"-" bun:",nullzero"`

	// Fee sides snapshotted onto new invoices. See common.SideClient / SideMerchant.
	SideCommission   string `json:"side_commission" bun:",notnull,default:'merchant'"`
	SideCommissionCC string `json:"side_commission_cc" bun:",notnull,default:'merchant'"`

	// Auto-confirm policy for partial payments. At most one of the two may be
	// set: either an absolute shortfall that is forgiven, or a percentage of
	// the invoice amount that counts as fully paid.
	AutoConfirmPartialByAmount  decimal.Decimal `json:"auto_confirm_partial_by_amount" bun:"type:numeric,nullzero"`
	AutoConfirmPartialByPercent decimal.Decimal `json:"auto_confirm_partial_by_percent" bun:"type:numeric,nullzero"`

	TestMode  bool         `json:"test_mode" bun:",nullzero"`
	CreatedAt time.Time    `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt bun.NullTime `json:"updated_at"`
}

func (p *Project) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		p.UpdatedAt = bun.NullTime{Time: time.Now()}
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*Project)(nil)
