package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// DepositEvent : Deposit Event Model
//
// One observed on-chain transfer. TxHash is the global idempotency key: the
// same transfer may be observed many times (re-orgs, multiple watchers) but
// is credited exactly once. Rows are never deleted; unmatched ones are parked
// for operator review instead.
type DepositEvent struct {
	ID            int64           `json:"id" bun:",pk,autoincrement"`
	TxHash        string          `json:"tx_hash" bun:",notnull,unique"`
	FromAddress   string          `json:"from_address" bun:",nullzero"`
	ToAddress     string          `json:"to_address" bun:",notnull"`
	Value         decimal.Decimal `json:"value" bun:"type:numeric,notnull"`
	Confirmations int64           `json:"confirmations" bun:",notnull,default:0"`
	BlockNumber   int64           `json:"block_number" bun:",nullzero"`
	LogIndex      int64           `json:"log_index" bun:",nullzero"`
	NetworkFee    decimal.Decimal `json:"network_fee" bun:"type:numeric,nullzero"`
	EventType     string          `json:"event_type" bun:",notnull,default:'deposit'"`

	// attribution, filled in by the reconciliation engine
	WalletID  int64          `json:"wallet_id" bun:",nullzero"`
	Wallet    *DepositWallet `json:"-" bun:"rel:belongs-to,join:wallet_id=id"`
	InvoiceID int64          `json:"invoice_id" bun:",nullzero"`
	Invoice   *Invoice       `json:"-" bun:"rel:belongs-to,join:invoice_id=id"`

	// Processed is set only after the paired invoice mutation committed.
	Processed bool `json:"processed" bun:",notnull,default:false"`
	// Orphan: no wallet matched the to-address.
	Orphan bool `json:"orphan" bun:",notnull,default:false"`
	// Unmatched: wallet known but no open invoice, attributed to the wallet only.
	Unmatched bool `json:"unmatched" bun:",notnull,default:false"`
	// RequiresManualReview flags funds an operator must attribute or refund.
	RequiresManualReview bool `json:"requires_manual_review" bun:",notnull,default:false"`

	RetryCount int64  `json:"retry_count" bun:",notnull,default:0"`
	LastError  string `json:"last_error,omitempty" bun:",nullzero"`

	RawPayload map[string]interface{} `json:"raw_payload,omitempty" bun:"type:jsonb,nullzero"`

	CreatedAt time.Time    `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt bun.NullTime `json:"updated_at"`
}

func (e *DepositEvent) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		e.UpdatedAt = bun.NullTime{Time: time.Now()}
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*DepositEvent)(nil)
