package integration_tests

import (
	"context"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/paygate-io/paygate/common"
	"github.com/paygate-io/paygate/db/models"
	"github.com/paygate-io/paygate/lib/service"
	"github.com/shopspring/decimal"
)

type ReconciliationTestSuite struct {
	TestSuite
	service *service.GatewayService
	project *models.Project
	pair    *models.CurrencyNetwork
}

func (suite *ReconciliationTestSuite) SetupSuite() {
	svc, err := GatewayTestServiceInit()
	if err != nil {
		log.Fatalf("Error initializing test service: %v", err)
	}
	suite.service = svc
}

func (suite *ReconciliationTestSuite) SetupTest() {
	assert.NoError(suite.T(), clearAllTables(suite.service))
	project, err := createTestProject(suite.service, "recon", "")
	assert.NoError(suite.T(), err)
	pair, err := createTestCurrencyNetwork(suite.service, "USDT", "TRON", 5)
	assert.NoError(suite.T(), err)
	suite.project = project
	suite.pair = pair
}

func (suite *ReconciliationTestSuite) openInvoiceWithWallet(amount string) (*models.Invoice, *models.DepositWallet) {
	invoice, err := createTestInvoice(suite.service, suite.project, amount)
	assert.NoError(suite.T(), err)
	wallet, err := suite.service.SelectPaymentOption(context.Background(), invoice, suite.pair.ID)
	assert.NoError(suite.T(), err)
	return invoice, wallet
}

func (suite *ReconciliationTestSuite) observe(txHash, toAddress, value string, confirmations int64) *service.ReconcileOutcome {
	amt, err := decimal.NewFromString(value)
	assert.NoError(suite.T(), err)
	outcome, err := suite.service.Reconcile(context.Background(), service.DepositObservation{
		TxHash:        txHash,
		FromAddress:   "sender",
		ToAddress:     toAddress,
		Value:         amt,
		Confirmations: confirmations,
		BlockNumber:   100,
	})
	assert.NoError(suite.T(), err)
	return outcome
}

func (suite *ReconciliationTestSuite) reloadInvoice(invoice *models.Invoice) *models.Invoice {
	fresh, err := suite.service.FindInvoiceByPublicId(context.Background(), invoice.PublicID)
	assert.NoError(suite.T(), err)
	return fresh
}

func (suite *ReconciliationTestSuite) TestFullPaymentSettlesInvoice() {
	invoice, wallet := suite.openInvoiceWithWallet("100")

	outcome := suite.observe("tx-full-1", wallet.Address, "100", 6)
	assert.Equal(suite.T(), service.OutcomeCredited, outcome.Outcome)

	fresh := suite.reloadInvoice(invoice)
	assert.Equal(suite.T(), common.InvoiceStatusPaid, fresh.Status)
	assert.True(suite.T(), decimal.RequireFromString("100").Equal(fresh.PaidAmount))
	assert.Contains(suite.T(), fresh.TxHashes, "tx-full-1")
}

func (suite *ReconciliationTestSuite) TestReplayIsIdempotent() {
	invoice, wallet := suite.openInvoiceWithWallet("100")

	first := suite.observe("tx-replay", wallet.Address, "100", 6)
	assert.Equal(suite.T(), service.OutcomeCredited, first.Outcome)

	second := suite.observe("tx-replay", wallet.Address, "100", 8)
	assert.Equal(suite.T(), service.OutcomeDuplicate, second.Outcome)

	fresh := suite.reloadInvoice(invoice)
	assert.True(suite.T(), decimal.RequireFromString("100").Equal(fresh.PaidAmount))
	assert.Len(suite.T(), fresh.TxHashes, 1)
}

func (suite *ReconciliationTestSuite) TestPartialThenCompletingDeposit() {
	invoice, wallet := suite.openInvoiceWithWallet("100")

	suite.observe("tx-part-1", wallet.Address, "60", 6)
	fresh := suite.reloadInvoice(invoice)
	assert.Equal(suite.T(), common.InvoiceStatusPartial, fresh.Status)
	assert.True(suite.T(), decimal.RequireFromString("60").Equal(fresh.PaidAmount))

	suite.observe("tx-part-2", wallet.Address, "40", 6)
	fresh = suite.reloadInvoice(invoice)
	assert.Equal(suite.T(), common.InvoiceStatusPaid, fresh.Status)
	assert.True(suite.T(), decimal.RequireFromString("100").Equal(fresh.PaidAmount))
	assert.Len(suite.T(), fresh.TxHashes, 2)
}

func (suite *ReconciliationTestSuite) TestOverpayment() {
	invoice, wallet := suite.openInvoiceWithWallet("100")

	suite.observe("tx-over", wallet.Address, "120", 6)
	fresh := suite.reloadInvoice(invoice)
	assert.Equal(suite.T(), common.InvoiceStatusOverpaid, fresh.Status)
	assert.True(suite.T(), decimal.RequireFromString("120").Equal(fresh.PaidAmount))
}

func (suite *ReconciliationTestSuite) TestConfirmationGating() {
	invoice, wallet := suite.openInvoiceWithWallet("100")

	outcome := suite.observe("tx-young", wallet.Address, "100", 2)
	assert.Equal(suite.T(), service.OutcomeSubThreshold, outcome.Outcome)

	fresh := suite.reloadInvoice(invoice)
	assert.Equal(suite.T(), common.InvoiceStatusPending, fresh.Status)
	assert.True(suite.T(), fresh.PaidAmount.IsZero())

	// the watcher re-observes the same tx once it has matured
	outcome = suite.observe("tx-young", wallet.Address, "100", 5)
	assert.Equal(suite.T(), service.OutcomeCredited, outcome.Outcome)

	fresh = suite.reloadInvoice(invoice)
	assert.Equal(suite.T(), common.InvoiceStatusPaid, fresh.Status)
}

func (suite *ReconciliationTestSuite) TestOrphanDepositIsParked() {
	outcome := suite.observe("tx-orphan", "unknown-address", "50", 6)
	assert.Equal(suite.T(), service.OutcomeOrphan, outcome.Outcome)
	assert.True(suite.T(), outcome.Event.Orphan)
	assert.True(suite.T(), outcome.Event.RequiresManualReview)
	assert.False(suite.T(), outcome.Event.Processed)
}

func (suite *ReconciliationTestSuite) TestDepositWithoutOpenInvoice() {
	invoice, wallet := suite.openInvoiceWithWallet("100")
	suite.observe("tx-settle", wallet.Address, "100", 6)
	assert.Equal(suite.T(), common.InvoiceStatusPaid, suite.reloadInvoice(invoice).Status)

	// a second deposit arrives with every invoice already settled
	outcome := suite.observe("tx-stray", wallet.Address, "25", 6)
	assert.Equal(suite.T(), service.OutcomeUnmatched, outcome.Outcome)
	assert.True(suite.T(), outcome.Event.Unmatched)
	assert.Equal(suite.T(), wallet.ID, outcome.Event.WalletID)
	assert.False(suite.T(), outcome.Event.Processed)
}

func (suite *ReconciliationTestSuite) TestLateDepositAfterSweepIsParked() {
	invoice, wallet := suite.openInvoiceWithWallet("100")

	_, err := suite.service.DB.NewUpdate().Model(invoice).
		Set("expiry_date = now() - interval '1 hour'").
		WherePK().Exec(context.Background())
	assert.NoError(suite.T(), err)
	assert.NoError(suite.T(), suite.service.SweepExpiredInvoices(context.Background()))
	assert.Equal(suite.T(), common.InvoiceStatusCanceled, suite.reloadInvoice(invoice).Status)

	// coins confirm only after the sweeper already canceled the invoice
	outcome := suite.observe("tx-late", wallet.Address, "100", 6)
	assert.Equal(suite.T(), service.OutcomeLateDeposit, outcome.Outcome)
	assert.Equal(suite.T(), invoice.ID, outcome.Event.InvoiceID)
	assert.True(suite.T(), outcome.Event.RequiresManualReview)
	assert.False(suite.T(), outcome.Event.Processed)

	fresh := suite.reloadInvoice(invoice)
	assert.Equal(suite.T(), common.InvoiceStatusCanceled, fresh.Status)
	assert.True(suite.T(), fresh.PaidAmount.IsZero())
	assert.True(suite.T(), fresh.CreditedAmount.IsZero())
}

func (suite *ReconciliationTestSuite) TestNonDepositEventIsIgnored() {
	_, wallet := suite.openInvoiceWithWallet("100")

	outcome, err := suite.service.Reconcile(context.Background(), service.DepositObservation{
		TxHash:        "tx-sweep",
		ToAddress:     wallet.Address,
		Value:         decimal.RequireFromString("100"),
		Confirmations: 6,
		EventType:     common.DepositTypeSweep,
	})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), service.OutcomeIgnored, outcome.Outcome)
}

func (suite *ReconciliationTestSuite) TestDustDepositIsParked() {
	_, err := suite.service.DB.NewUpdate().Model(suite.pair).
		Set("min_deposit_amount = ?", "1").
		WherePK().Exec(context.Background())
	assert.NoError(suite.T(), err)

	invoice, wallet := suite.openInvoiceWithWallet("100")

	outcome := suite.observe("tx-dust", wallet.Address, "0.5", 6)
	assert.Equal(suite.T(), service.OutcomeOutOfBounds, outcome.Outcome)
	assert.True(suite.T(), outcome.Event.RequiresManualReview)
	assert.True(suite.T(), suite.reloadInvoice(invoice).PaidAmount.IsZero())
}

func (suite *ReconciliationTestSuite) TestServiceFeeReducesCredited() {
	_, err := suite.service.DB.NewUpdate().Model(suite.pair).
		Set("service_fee_percent = ?", "2").
		WherePK().Exec(context.Background())
	assert.NoError(suite.T(), err)

	invoice, wallet := suite.openInvoiceWithWallet("100")
	suite.observe("tx-fee", wallet.Address, "100", 6)

	fresh := suite.reloadInvoice(invoice)
	assert.True(suite.T(), decimal.RequireFromString("100").Equal(fresh.PaidAmount))
	assert.True(suite.T(), decimal.RequireFromString("2").Equal(fresh.ServiceFee))
	assert.True(suite.T(), decimal.RequireFromString("98").Equal(fresh.CreditedAmount))
}

func (suite *ReconciliationTestSuite) TearDownSuite() {
	clearAllTables(suite.service)
}

func TestReconciliationSuite(t *testing.T) {
	suite.Run(t, new(ReconciliationTestSuite))
}
