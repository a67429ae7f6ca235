package integration_tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/paygate-io/paygate/common"
	"github.com/paygate-io/paygate/controllers"
	"github.com/paygate-io/paygate/db/models"
	"github.com/paygate-io/paygate/lib"
	"github.com/paygate-io/paygate/lib/responses"
	"github.com/paygate-io/paygate/lib/service"
)

type InvoiceAPITestSuite struct {
	TestSuite
	service *service.GatewayService
	project *models.Project
	pair    *models.CurrencyNetwork
}

func (suite *InvoiceAPITestSuite) SetupSuite() {
	svc, err := GatewayTestServiceInit()
	if err != nil {
		log.Fatalf("Error initializing test service: %v", err)
	}
	suite.service = svc

	e := echo.New()
	e.HTTPErrorHandler = responses.HTTPErrorHandler
	e.Validator = &lib.CustomValidator{Validator: validator.New()}
	invoiceCtrl := controllers.NewInvoiceController(svc)
	e.POST("/v2/invoices", invoiceCtrl.CreateInvoice)
	e.GET("/v2/invoices/:id", invoiceCtrl.GetInvoice)
	e.POST("/v2/invoices/:id/payment-option", invoiceCtrl.SelectPaymentOption)
	e.POST("/v2/invoices/:id/cancel", invoiceCtrl.CancelInvoice)
	e.POST("/v2/deposits", controllers.NewDepositController(svc).IngestDeposit)
	suite.echo = e
}

func (suite *InvoiceAPITestSuite) SetupTest() {
	assert.NoError(suite.T(), clearAllTables(suite.service))
	project, err := createTestProject(suite.service, "api", "")
	assert.NoError(suite.T(), err)
	pair, err := createTestCurrencyNetwork(suite.service, "USDT", "TRON", 5)
	assert.NoError(suite.T(), err)
	suite.project = project
	suite.pair = pair
}

func (suite *InvoiceAPITestSuite) postJSON(path string, body interface{}) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	var buf bytes.Buffer
	assert.NoError(suite.T(), json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	suite.echo.ServeHTTP(rec, req)
	return rec
}

func (suite *InvoiceAPITestSuite) createInvoiceReq(amount string, windowMinutes int64) *controllers.InvoiceResponseBody {
	rec := suite.postJSON("/v2/invoices", map[string]interface{}{
		"project_id":             suite.project.ID,
		"amount":                 amount,
		"currency":               "USDT",
		"payment_window_minutes": windowMinutes,
	})
	assert.Equal(suite.T(), http.StatusOK, rec.Code)
	invoiceResponse := &controllers.InvoiceResponseBody{}
	assert.NoError(suite.T(), json.NewDecoder(rec.Body).Decode(invoiceResponse))
	return invoiceResponse
}

func (suite *InvoiceAPITestSuite) TestCreateAndGetInvoice() {
	created := suite.createInvoiceReq("150", 60)
	assert.Equal(suite.T(), common.InvoiceStatusCreated, created.Status)
	assert.NotEmpty(suite.T(), created.ID)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v2/invoices/"+created.ID, nil)
	suite.echo.ServeHTTP(rec, req)
	assert.Equal(suite.T(), http.StatusOK, rec.Code)

	fetched := &controllers.InvoiceResponseBody{}
	assert.NoError(suite.T(), json.NewDecoder(rec.Body).Decode(fetched))
	assert.Equal(suite.T(), created.ID, fetched.ID)
	assert.Equal(suite.T(), "150", fetched.Amount)
}

func (suite *InvoiceAPITestSuite) TestPaymentWindowIsValidated() {
	for _, window := range []int64{5, 2000} {
		rec := suite.postJSON("/v2/invoices", map[string]interface{}{
			"project_id":             suite.project.ID,
			"amount":                 "150",
			"currency":               "USDT",
			"payment_window_minutes": window,
		})
		assert.Equal(suite.T(), http.StatusBadRequest, rec.Code, "window of %d minutes must be rejected", window)
	}
}

func (suite *InvoiceAPITestSuite) TestUnknownInvoiceReturns404() {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v2/invoices/does-not-exist", nil)
	suite.echo.ServeHTTP(rec, req)
	assert.Equal(suite.T(), http.StatusNotFound, rec.Code)
}

func (suite *InvoiceAPITestSuite) TestSelectPaymentOptionReturnsAddress() {
	created := suite.createInvoiceReq("150", 60)

	rec := suite.postJSON(fmt.Sprintf("/v2/invoices/%s/payment-option", created.ID), map[string]interface{}{
		"currency": "USDT",
		"network":  "TRON",
	})
	assert.Equal(suite.T(), http.StatusOK, rec.Code)

	selected := &controllers.InvoiceResponseBody{}
	assert.NoError(suite.T(), json.NewDecoder(rec.Body).Decode(selected))
	assert.Equal(suite.T(), common.InvoiceStatusPending, selected.Status)
	assert.NotEmpty(suite.T(), selected.PaymentAddress)
}

func (suite *InvoiceAPITestSuite) TestSelectUnknownNetworkIsRejected() {
	created := suite.createInvoiceReq("150", 60)

	rec := suite.postJSON(fmt.Sprintf("/v2/invoices/%s/payment-option", created.ID), map[string]interface{}{
		"currency": "USDT",
		"network":  "SOLANA",
	})
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)
}

func (suite *InvoiceAPITestSuite) TestCancelCreatedInvoice() {
	created := suite.createInvoiceReq("150", 60)

	rec := suite.postJSON(fmt.Sprintf("/v2/invoices/%s/cancel", created.ID), nil)
	assert.Equal(suite.T(), http.StatusOK, rec.Code)

	canceled := &controllers.InvoiceResponseBody{}
	assert.NoError(suite.T(), json.NewDecoder(rec.Body).Decode(canceled))
	assert.Equal(suite.T(), common.InvoiceStatusCanceled, canceled.Status)
}

func (suite *InvoiceAPITestSuite) TestCancelIsRefusedOncePending() {
	created := suite.createInvoiceReq("150", 60)
	suite.postJSON(fmt.Sprintf("/v2/invoices/%s/payment-option", created.ID), map[string]interface{}{
		"currency": "USDT",
		"network":  "TRON",
	})

	rec := suite.postJSON(fmt.Sprintf("/v2/invoices/%s/cancel", created.ID), nil)
	assert.Equal(suite.T(), http.StatusConflict, rec.Code)
}

func (suite *InvoiceAPITestSuite) TestDepositIngestEndpoint() {
	created := suite.createInvoiceReq("100", 60)
	optRec := suite.postJSON(fmt.Sprintf("/v2/invoices/%s/payment-option", created.ID), map[string]interface{}{
		"currency": "USDT",
		"network":  "TRON",
	})
	selected := &controllers.InvoiceResponseBody{}
	assert.NoError(suite.T(), json.NewDecoder(optRec.Body).Decode(selected))

	rec := suite.postJSON("/v2/deposits", map[string]interface{}{
		"tx_hash":       "tx-api-1",
		"to_address":    selected.PaymentAddress,
		"value":         "100",
		"confirmations": 6,
	})
	assert.Equal(suite.T(), http.StatusOK, rec.Code)

	result := &controllers.ReconcileResponseBody{}
	assert.NoError(suite.T(), json.NewDecoder(rec.Body).Decode(result))
	assert.Equal(suite.T(), service.OutcomeCredited, result.Outcome)
	assert.Equal(suite.T(), created.ID, result.InvoiceID)
	assert.Equal(suite.T(), common.InvoiceStatusPaid, result.Status)
}

func (suite *InvoiceAPITestSuite) TearDownSuite() {
	clearAllTables(suite.service)
}

func TestInvoiceAPISuite(t *testing.T) {
	suite.Run(t, new(InvoiceAPITestSuite))
}
