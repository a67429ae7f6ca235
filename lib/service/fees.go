package service

import (
	"github.com/paygate-io/paygate/common"
	"github.com/shopspring/decimal"
)

// FeePolicy carries the fee parameters of a currency-network pair together
// with the commission sides snapshotted on the invoice. Which party absorbs
// each fee is a tagged variant (client or merchant), evaluated here and
// nowhere else.
type FeePolicy struct {
	ServiceFeePercent decimal.Decimal
	TransferFee       decimal.Decimal
	// side absorbing the service fee
	SideCommission string
	// side absorbing the transfer (chain) fee
	SideCommissionCC string
}

// FeeBreakdown is the result of applying a FeePolicy to a paid amount.
type FeeBreakdown struct {
	ServiceFee  decimal.Decimal
	TransferFee decimal.Decimal
	Credited    decimal.Decimal
}

// ApplyFees computes the amount credited to the merchant out of what the
// customer paid. Fees borne by the client were already priced into the
// invoice amount at creation, so only merchant-side fees reduce the credited
// amount. Credited never exceeds paid and never goes below zero.
func ApplyFees(paid decimal.Decimal, policy FeePolicy) FeeBreakdown {
	breakdown := FeeBreakdown{
		ServiceFee:  decimal.Zero,
		TransferFee: decimal.Zero,
		Credited:    paid,
	}
	if paid.Sign() <= 0 {
		breakdown.Credited = decimal.Zero
		return breakdown
	}

	if policy.SideCommission == common.SideMerchant && policy.ServiceFeePercent.Sign() > 0 {
		breakdown.ServiceFee = paid.Mul(policy.ServiceFeePercent).Div(decimal.NewFromInt(100))
	}
	if policy.SideCommissionCC == common.SideMerchant && policy.TransferFee.Sign() > 0 {
		breakdown.TransferFee = policy.TransferFee
	}

	breakdown.Credited = paid.Sub(breakdown.ServiceFee).Sub(breakdown.TransferFee)
	if breakdown.Credited.Sign() < 0 {
		breakdown.Credited = decimal.Zero
	}
	return breakdown
}
