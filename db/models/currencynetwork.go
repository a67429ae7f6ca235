package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CurrencyNetwork : Currency-Network Pair Model
//
// A token on a specific chain (e.g. USDT on TRON). The same token symbol on
// another chain is a different row with its own confirmation threshold and
// derivation parameters.
type CurrencyNetwork struct {
	ID       int64  `json:"id" bun:",pk,autoincrement"`
	Currency string `json:"currency" bun:",notnull"`
	Network  string `json:"network" bun:",notnull"`
	// number of token decimals, used for epsilon comparisons and display
	Decimals int32 `json:"decimals" bun:",notnull,default:8"`

	RequiredConfirmations int64           `json:"required_confirmations" bun:",notnull,default:5"`
	MinDepositAmount      decimal.Decimal `json:"min_deposit_amount" bun:"type:numeric,nullzero"`
	MaxDepositAmount      decimal.Decimal `json:"max_deposit_amount" bun:"type:numeric,nullzero"`

	// BIP44 derivation parameters for deposit addresses on this network.
	// Only public derivation data, key custody lives outside this service.
	DerivationPurpose  uint32 `json:"-" bun:",notnull,default:44"`
	DerivationCoinType uint32 `json:"-" bun:",notnull"`
	DerivationAccount  uint32 `json:"-" bun:",notnull,default:0"`
	DerivationChange   uint32 `json:"-" bun:",notnull,default:0"`
	AccountXpub        string `json:"-" bun:",nullzero"`

	// fee parameters applied when the merchant absorbs fees
	ServiceFeePercent decimal.Decimal `json:"service_fee_percent" bun:"type:numeric,nullzero"`
	TransferFee       decimal.Decimal `json:"transfer_fee" bun:"type:numeric,nullzero"`

	ExplorerTxTemplate      string `json:"explorer_tx_template" bun:",nullzero"`
	ExplorerAddressTemplate string `json:"explorer_address_template" bun:",nullzero"`

	Active    bool      `json:"active" bun:",notnull,default:true"`
	CreatedAt time.Time `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
}

// Epsilon is the smallest representable amount for this pair. Two amounts
// closer than this are considered equal when deriving invoice status.
func (cn *CurrencyNetwork) Epsilon() decimal.Decimal {
	return decimal.New(1, -cn.Decimals)
}
