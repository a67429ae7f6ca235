package service

import (
	"testing"

	"github.com/paygate-io/paygate/common"
	"github.com/stretchr/testify/assert"
)

func TestApplyFeesMerchantSide(t *testing.T) {
	breakdown := ApplyFees(dec("100"), FeePolicy{
		ServiceFeePercent: dec("1.5"),
		TransferFee:       dec("2"),
		SideCommission:    common.SideMerchant,
		SideCommissionCC:  common.SideMerchant,
	})

	assert.True(t, dec("1.5").Equal(breakdown.ServiceFee))
	assert.True(t, dec("2").Equal(breakdown.TransferFee))
	assert.True(t, dec("96.5").Equal(breakdown.Credited))
}

func TestApplyFeesClientSide(t *testing.T) {
	// client-side fees were priced into the invoice amount at creation,
	// nothing is deducted here
	breakdown := ApplyFees(dec("100"), FeePolicy{
		ServiceFeePercent: dec("1.5"),
		TransferFee:       dec("2"),
		SideCommission:    common.SideClient,
		SideCommissionCC:  common.SideClient,
	})

	assert.True(t, breakdown.ServiceFee.IsZero())
	assert.True(t, breakdown.TransferFee.IsZero())
	assert.True(t, dec("100").Equal(breakdown.Credited))
}

func TestApplyFeesMixedSides(t *testing.T) {
	breakdown := ApplyFees(dec("100"), FeePolicy{
		ServiceFeePercent: dec("1"),
		TransferFee:       dec("2"),
		SideCommission:    common.SideClient,
		SideCommissionCC:  common.SideMerchant,
	})

	assert.True(t, breakdown.ServiceFee.IsZero())
	assert.True(t, dec("2").Equal(breakdown.TransferFee))
	assert.True(t, dec("98").Equal(breakdown.Credited))
}

func TestApplyFeesNeverNegative(t *testing.T) {
	breakdown := ApplyFees(dec("1"), FeePolicy{
		TransferFee:      dec("5"),
		SideCommissionCC: common.SideMerchant,
	})
	assert.True(t, breakdown.Credited.IsZero())
}

func TestApplyFeesZeroPaid(t *testing.T) {
	breakdown := ApplyFees(dec("0"), FeePolicy{
		ServiceFeePercent: dec("1"),
		SideCommission:    common.SideMerchant,
	})
	assert.True(t, breakdown.Credited.IsZero())
	assert.True(t, breakdown.ServiceFee.IsZero())
}
