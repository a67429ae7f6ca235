package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// DepositWallet : Deposit Wallet Model
//
// A single HD-derived blockchain address dedicated to one project and
// currency-network pair. Wallets are never deleted, only archived; at most
// one wallet per pair is active at a time.
type DepositWallet struct {
	ID               int64            `json:"id" bun:",pk,autoincrement"`
	ProjectID        int64            `json:"-" bun:",notnull"`
	Project          *Project         `json:"-" bun:"rel:belongs-to,join:project_id=id"`
	TokenNetworkID   int64            `json:"-" bun:",notnull"`
	TokenNetwork     *CurrencyNetwork `json:"-" bun:"rel:belongs-to,join:token_network_id=id"`
	Address          string           `json:"address" bun:",notnull,unique"`
	DerivationPath   string           `json:"derivation_path" bun:",notnull"`
	DerivationIndex  uint32           `json:"derivation_index" bun:",notnull"`
	Status           string           `json:"status" bun:",notnull,default:'active'"`
	LastCheckedBlock int64            `json:"last_checked_block" bun:",nullzero"`
	LastBalance      decimal.Decimal  `json:"last_balance" bun:"type:numeric,notnull,default:0"`
	CreatedAt        time.Time        `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt        bun.NullTime     `json:"updated_at"`
}

func (w *DepositWallet) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		w.UpdatedAt = bun.NullTime{Time: time.Now()}
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*DepositWallet)(nil)

// DerivationCounter : Derivation Counter Model
//
// One row per currency-network holding the next BIP44 address index. The row
// is only ever moved forward through a single serialized increment, shared by
// all projects on the network.
type DerivationCounter struct {
	TokenNetworkID int64  `bun:",pk"`
	NextIndex      uint32 `bun:",notnull,default:0"`
}
