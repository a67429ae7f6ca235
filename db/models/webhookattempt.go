package models

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// WebhookAttempt : Webhook Log Model
//
// One delivery record per notify-worthy invoice state change, created in the
// same transaction as the invoice mutation so delivery is at-least-once even
// across a crash. AttemptCount only increases; NextAttemptAt is null once the
// record is terminal (success, or failed with attempts exhausted).
type WebhookAttempt struct {
	ID        int64    `json:"id" bun:",pk,autoincrement"`
	ProjectID int64    `json:"-" bun:",notnull"`
	Project   *Project `json:"-" bun:"rel:belongs-to,join:project_id=id"`
	InvoiceID int64    `json:"invoice_id" bun:",notnull"`
	Invoice   *Invoice `json:"-" bun:"rel:belongs-to,join:invoice_id=id"`

	EventType string `json:"event_type" bun:",notnull"`
	TargetURL string `json:"target_url" bun:",notnull"`
	Payload   string `json:"payload" bun:",notnull"`

	Status string `json:"status" bun:",notnull,default:'pending'"`

	Signature      string `json:"-" bun:",nullzero"`
	SignatureValid bool   `json:"signature_valid" bun:",notnull,default:false"`

	ResponseCode    int    `json:"response_code" bun:",nullzero"`
	ResponseHeaders string `json:"response_headers,omitempty" bun:",nullzero"`
	ResponseBody    string `json:"response_body,omitempty" bun:",nullzero"`
	LastError       string `json:"last_error,omitempty" bun:",nullzero"`

	AttemptCount  int64        `json:"attempt_count" bun:",notnull,default:0"`
	NextAttemptAt bun.NullTime `json:"next_attempt_at" bun:",nullzero"`

	CreatedAt time.Time    `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt bun.NullTime `json:"updated_at"`
}

func (a *WebhookAttempt) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		a.UpdatedAt = bun.NullTime{Time: time.Now()}
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*WebhookAttempt)(nil)
