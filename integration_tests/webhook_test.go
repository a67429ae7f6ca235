package integration_tests

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/paygate-io/paygate/common"
	"github.com/paygate-io/paygate/db/models"
	"github.com/paygate-io/paygate/lib/service"
)

type WebhookTestSuite struct {
	TestSuite
	service       *service.GatewayService
	webhookServer *httptest.Server
	received      chan receivedWebhook
	respondWith   int
}

type receivedWebhook struct {
	payload   service.WebhookPayload
	signature string
	rawBody   []byte
}

func (suite *WebhookTestSuite) SetupSuite() {
	svc, err := GatewayTestServiceInit()
	if err != nil {
		log.Fatalf("Error initializing test service: %v", err)
	}
	suite.service = svc

	suite.received = make(chan receivedWebhook, 10)
	suite.webhookServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		payload := service.WebhookPayload{}
		if err := json.Unmarshal(body, &payload); err != nil {
			suite.T().Logf("bad webhook body: %v", err)
		}
		suite.received <- receivedWebhook{
			payload:   payload,
			signature: r.Header.Get(service.SignatureHeader),
			rawBody:   body,
		}
		w.WriteHeader(suite.respondWith)
	}))
}

func (suite *WebhookTestSuite) SetupTest() {
	suite.respondWith = http.StatusOK
	assert.NoError(suite.T(), clearAllTables(suite.service))
}

func (suite *WebhookTestSuite) pendingAttempts() []models.WebhookAttempt {
	attempts := []models.WebhookAttempt{}
	err := suite.service.DB.NewSelect().Model(&attempts).Order("id ASC").Scan(context.Background())
	assert.NoError(suite.T(), err)
	return attempts
}

func (suite *WebhookTestSuite) TestCancellationEnqueuesAndDelivers() {
	project, err := createTestProject(suite.service, "hook", suite.webhookServer.URL)
	assert.NoError(suite.T(), err)
	invoice, err := createTestInvoice(suite.service, project, "100")
	assert.NoError(suite.T(), err)

	assert.NoError(suite.T(), suite.service.CancelInvoice(context.Background(), invoice, common.ActorManual))

	attempts := suite.pendingAttempts()
	assert.Len(suite.T(), attempts, 1)
	assert.Equal(suite.T(), common.WebhookStatusPending, attempts[0].Status)
	assert.Equal(suite.T(), "invoice.canceled", attempts[0].EventType)

	suite.service.DeliverAttempt(context.Background(), &attempts[0])

	got := <-suite.received
	assert.Equal(suite.T(), invoice.PublicID, got.payload.InvoiceID)
	assert.Equal(suite.T(), common.InvoiceStatusCanceled, got.payload.Status)
	assert.Equal(suite.T(), service.SignBody(got.rawBody, "testsecret"), got.signature)

	attempts = suite.pendingAttempts()
	assert.Equal(suite.T(), common.WebhookStatusSuccess, attempts[0].Status)
	assert.Equal(suite.T(), int64(1), attempts[0].AttemptCount)
	assert.True(suite.T(), attempts[0].NextAttemptAt.IsZero())
}

func (suite *WebhookTestSuite) TestFailedDeliveryIsRescheduled() {
	suite.respondWith = http.StatusInternalServerError

	project, err := createTestProject(suite.service, "hook-fail", suite.webhookServer.URL)
	assert.NoError(suite.T(), err)
	invoice, err := createTestInvoice(suite.service, project, "100")
	assert.NoError(suite.T(), err)
	assert.NoError(suite.T(), suite.service.CancelInvoice(context.Background(), invoice, common.ActorManual))

	attempts := suite.pendingAttempts()
	assert.Len(suite.T(), attempts, 1)
	suite.service.DeliverAttempt(context.Background(), &attempts[0])
	<-suite.received

	attempts = suite.pendingAttempts()
	assert.Equal(suite.T(), common.WebhookStatusFailed, attempts[0].Status)
	assert.Equal(suite.T(), int64(1), attempts[0].AttemptCount)
	assert.False(suite.T(), attempts[0].NextAttemptAt.IsZero())
	assert.Contains(suite.T(), attempts[0].LastError, "500")
}

func (suite *WebhookTestSuite) enqueueCanceledAttempt(slug string) models.WebhookAttempt {
	project, err := createTestProject(suite.service, slug, suite.webhookServer.URL)
	assert.NoError(suite.T(), err)
	invoice, err := createTestInvoice(suite.service, project, "100")
	assert.NoError(suite.T(), err)
	assert.NoError(suite.T(), suite.service.CancelInvoice(context.Background(), invoice, common.ActorManual))

	attempts := suite.pendingAttempts()
	assert.Len(suite.T(), attempts, 1)
	return attempts[0]
}

func (suite *WebhookTestSuite) TestStaleInFlightClaimIsReclaimed() {
	attempt := suite.enqueueCanceledAttempt("hook-stale")

	// a worker claimed the row and crashed before writing a result
	_, err := suite.service.DB.NewUpdate().Model(&attempt).
		Set("status = ?", common.WebhookStatusInFlight).
		Set("updated_at = ?", time.Now().Add(-10*time.Minute)).
		WherePK().Exec(context.Background())
	assert.NoError(suite.T(), err)

	due, err := suite.service.DueWebhookAttempts(context.Background())
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), due, 1)

	suite.service.DeliverAttempt(context.Background(), &due[0])
	<-suite.received

	attempts := suite.pendingAttempts()
	assert.Equal(suite.T(), common.WebhookStatusSuccess, attempts[0].Status)
	assert.Equal(suite.T(), int64(1), attempts[0].AttemptCount)
}

func (suite *WebhookTestSuite) TestLiveClaimIsNotStolen() {
	attempt := suite.enqueueCanceledAttempt("hook-live")

	_, err := suite.service.DB.NewUpdate().Model(&attempt).
		Set("status = ?", common.WebhookStatusInFlight).
		Set("updated_at = ?", time.Now()).
		WherePK().Exec(context.Background())
	assert.NoError(suite.T(), err)

	due, err := suite.service.DueWebhookAttempts(context.Background())
	assert.NoError(suite.T(), err)
	assert.Empty(suite.T(), due)

	suite.service.DeliverAttempt(context.Background(), &attempt)
	attempts := suite.pendingAttempts()
	assert.Equal(suite.T(), common.WebhookStatusInFlight, attempts[0].Status)
	assert.Zero(suite.T(), attempts[0].AttemptCount)
}

func (suite *WebhookTestSuite) TestProjectWithoutNotifyURLGetsNoAttempt() {
	project, err := createTestProject(suite.service, "hook-none", "")
	assert.NoError(suite.T(), err)
	invoice, err := createTestInvoice(suite.service, project, "100")
	assert.NoError(suite.T(), err)
	assert.NoError(suite.T(), suite.service.CancelInvoice(context.Background(), invoice, common.ActorManual))

	assert.Empty(suite.T(), suite.pendingAttempts())
}

func (suite *WebhookTestSuite) TearDownSuite() {
	suite.webhookServer.Close()
	clearAllTables(suite.service)
}

func TestWebhookSuite(t *testing.T) {
	suite.Run(t, new(WebhookTestSuite))
}
