package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/paygate-io/paygate/common"
	"github.com/paygate-io/paygate/db/models"
	"github.com/uptrace/bun"
)

const SignatureHeader = "X-Gateway-Signature"

// how long an in_flight claim is honored before the scan may reclaim the
// row; must comfortably exceed WebhookTimeout
const webhookClaimTimeout = 5 * time.Minute

// delivery intervals between attempts; after the last the record is terminal
var webhookBackoffSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
}

// WebhookPayload is the wire contract POSTed to the merchant's notify url.
// Receivers deduplicate by invoice id + status; delivery is at-least-once.
type WebhookPayload struct {
	InvoiceID         string `json:"invoice_id"`
	Status            string `json:"status"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	PaidAmount        string `json:"paid_amount"`
	CreditedAmount    string `json:"credited_amount"`
	CreditedAmountUSD string `json:"credited_amount_usd"`
	ExternalOrderID   string `json:"external_order_id,omitempty"`
	TestMode          bool   `json:"test_mode,omitempty"`
}

// EnqueueNotification durably records a pending delivery inside the same
// transaction as the invoice mutation it announces. A crash right after
// commit loses nothing: the delivery loop picks the row up later.
func (svc *GatewayService) EnqueueNotification(ctx context.Context, tx bun.IDB, invoice *models.Invoice) error {
	var project models.Project
	err := tx.NewSelect().Model(&project).Where("id = ?", invoice.ProjectID).Limit(1).Scan(ctx)
	if err != nil {
		return err
	}
	if project.NotifyURL == "" {
		svc.Logger.Debugf("Project has no notify url, skipping webhook project_id:%d", project.ID)
		return nil
	}

	body, err := json.Marshal(WebhookPayload{
		InvoiceID:         invoice.PublicID,
		Status:            invoice.Status,
		Amount:            invoice.Amount.String(),
		Currency:          invoice.Currency,
		PaidAmount:        invoice.PaidAmount.String(),
		CreditedAmount:    invoice.CreditedAmount.String(),
		CreditedAmountUSD: invoice.CreditedAmountUSD.String(),
		ExternalOrderID:   invoice.ExternalOrderID,
		TestMode:          invoice.TestMode,
	})
	if err != nil {
		return err
	}

	attempt := models.WebhookAttempt{
		ProjectID:      project.ID,
		InvoiceID:      invoice.ID,
		EventType:      fmt.Sprintf("invoice.%s", invoice.Status),
		TargetURL:      project.NotifyURL,
		Payload:        string(body),
		Status:         common.WebhookStatusPending,
		Signature:      SignBody(body, project.WebhookSecret),
		SignatureValid: project.WebhookSecret != "",
		NextAttemptAt:  bun.NullTime{Time: time.Now()},
	}
	_, err = tx.NewInsert().Model(&attempt).Exec(ctx)
	return err
}

// SignBody computes the hex HMAC-SHA256 of the raw body under the project
// secret; this is what the merchant verifies against the signature header.
func SignBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// NextAttemptDelay returns the backoff interval after the given number of
// completed attempts: the first failure waits the first interval, later
// failures walk up the schedule until the cap.
func NextAttemptDelay(attemptCount int64) time.Duration {
	idx := attemptCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= int64(len(webhookBackoffSchedule)) {
		idx = int64(len(webhookBackoffSchedule)) - 1
	}
	return webhookBackoffSchedule[idx]
}

// StartWebhookRoutine runs the delivery loop until the context is canceled.
// Deliveries run on a bounded worker pool so one slow merchant endpoint
// cannot stall the scan, and never touch invoice rows.
func (svc *GatewayService) StartWebhookRoutine(ctx context.Context) error {
	svc.Logger.Infof("Starting webhook delivery loop workers:%d", svc.Config.WebhookWorkers)

	jobs := make(chan models.WebhookAttempt)
	for i := 0; i < svc.Config.WebhookWorkers; i++ {
		go func() {
			for attempt := range jobs {
				svc.DeliverAttempt(ctx, &attempt)
			}
		}()
	}
	defer close(jobs)

	ticker := time.NewTicker(time.Duration(svc.Config.WebhookPollInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			due, err := svc.DueWebhookAttempts(ctx)
			if err != nil {
				svc.Logger.Errorf("Failed to fetch due webhooks: %v", err)
				sentry.CaptureException(err)
				continue
			}
			for _, attempt := range due {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case jobs <- attempt:
				}
			}
		}
	}
}

// DueWebhookAttempts lists deliveries ready to run. Besides pending and
// failed rows whose retry time has come, it reclaims in_flight rows whose
// claim lease lapsed, so a crash mid-delivery never strands a notification.
func (svc *GatewayService) DueWebhookAttempts(ctx context.Context) ([]models.WebhookAttempt, error) {
	attempts := []models.WebhookAttempt{}
	err := svc.DB.NewSelect().Model(&attempts).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("status IN (?) AND next_attempt_at IS NOT NULL AND next_attempt_at <= now()",
					bun.In([]string{common.WebhookStatusPending, common.WebhookStatusFailed})).
				WhereOr("status = ? AND updated_at < ?",
					common.WebhookStatusInFlight, time.Now().Add(-webhookClaimTimeout))
		}).
		Where("attempt_count < ?", svc.Config.WebhookMaxAttempts).
		Order("next_attempt_at ASC").
		Limit(100).
		Scan(ctx)
	return attempts, err
}

// DeliverAttempt claims and executes a single delivery. The claim is a
// conditional update to in_flight: when several workers race for the same
// row, exactly one wins and the rest walk away. A claim is a lease, not a
// lock; a row stuck in_flight past the lease is claimable again. Duplicate
// delivery across retries remains possible, receivers are expected to
// deduplicate.
func (svc *GatewayService) DeliverAttempt(ctx context.Context, attempt *models.WebhookAttempt) {
	claimed, err := svc.claimAttempt(ctx, attempt)
	if err != nil {
		svc.Logger.Errorf("Failed to claim webhook attempt id:%d %v", attempt.ID, err)
		sentry.CaptureException(err)
		return
	}
	if !claimed {
		return
	}

	attempt.AttemptCount++

	code, headers, respBody, postErr := svc.postWebhook(ctx, attempt)
	attempt.ResponseCode = code
	attempt.ResponseHeaders = headers
	attempt.ResponseBody = respBody

	if postErr == nil && code >= 200 && code < 300 {
		attempt.Status = common.WebhookStatusSuccess
		attempt.NextAttemptAt = bun.NullTime{}
		attempt.LastError = ""
		svc.Logger.Infof("Webhook delivered attempt_id:%d url:%s code:%d attempts:%d",
			attempt.ID, attempt.TargetURL, code, attempt.AttemptCount)
	} else {
		attempt.Status = common.WebhookStatusFailed
		if postErr != nil {
			attempt.LastError = postErr.Error()
		} else {
			attempt.LastError = fmt.Sprintf("unexpected status code %d", code)
		}
		if attempt.AttemptCount >= int64(svc.Config.WebhookMaxAttempts) {
			// terminal: surfaced to the merchant dashboard, no more retries
			attempt.NextAttemptAt = bun.NullTime{}
			svc.Logger.Warnf("Webhook permanently failed attempt_id:%d url:%s attempts:%d",
				attempt.ID, attempt.TargetURL, attempt.AttemptCount)
		} else {
			attempt.NextAttemptAt = bun.NullTime{Time: time.Now().Add(NextAttemptDelay(attempt.AttemptCount))}
			svc.Logger.Infof("Webhook attempt failed, will retry attempt_id:%d url:%s next:%s",
				attempt.ID, attempt.TargetURL, attempt.NextAttemptAt.Time)
		}
	}

	// the result write must land even when shutdown cancels the loop while
	// the POST is in flight, or the claimed row would stay in_flight until
	// its lease lapses
	if _, err := svc.DB.NewUpdate().Model(attempt).WherePK().Exec(context.WithoutCancel(ctx)); err != nil {
		svc.Logger.Errorf("Failed to record webhook attempt result id:%d %v", attempt.ID, err)
		sentry.CaptureException(err)
	}
}

func (svc *GatewayService) claimAttempt(ctx context.Context, attempt *models.WebhookAttempt) (bool, error) {
	res, err := svc.DB.NewUpdate().Model((*models.WebhookAttempt)(nil)).
		Set("status = ?", common.WebhookStatusInFlight).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", attempt.ID).
		WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.
				Where("status IN (?)", bun.In([]string{common.WebhookStatusPending, common.WebhookStatusFailed})).
				WhereOr("status = ? AND updated_at < ?",
					common.WebhookStatusInFlight, time.Now().Add(-webhookClaimTimeout))
		}).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (svc *GatewayService) postWebhook(ctx context.Context, attempt *models.WebhookAttempt) (code int, headers string, body string, err error) {
	client := &http.Client{Timeout: time.Duration(svc.Config.WebhookTimeout) * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, attempt.TargetURL, bytes.NewBufferString(attempt.Payload))
	if err != nil {
		return 0, "", "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, attempt.Signature)

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", "", err
	}
	defer resp.Body.Close()

	headerJson, err := json.Marshal(resp.Header)
	if err != nil {
		headerJson = []byte("{}")
	}
	// keep only the head of the response, merchants can return anything
	limited, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(headerJson), string(limited), nil
}
