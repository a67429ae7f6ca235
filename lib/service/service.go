package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/paygate-io/paygate/custody"
	"github.com/paygate-io/paygate/db/models"
	"github.com/uptrace/bun"
	"github.com/ziflex/lecho/v3"
)

// ErrStaleState is returned when an optimistic-concurrency check fails
// because another writer moved the invoice first. Callers reload and retry.
var ErrStaleState = errors.New("invoice was modified concurrently")

type GatewayService struct {
	Config        *Config
	DB            *bun.DB
	Logger        *lecho.Logger
	Deriver       custody.AddressDeriver
	InvoicePubSub *Pubsub
}

func (svc *GatewayService) FindProject(ctx context.Context, projectId int64) (*models.Project, error) {
	var project models.Project
	err := svc.DB.NewSelect().Model(&project).Where("id = ?", projectId).Limit(1).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (svc *GatewayService) FindProjectByPublicId(ctx context.Context, publicId string) (*models.Project, error) {
	var project models.Project
	err := svc.DB.NewSelect().Model(&project).Where("public_id = ?", publicId).Limit(1).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (svc *GatewayService) FindCurrencyNetwork(ctx context.Context, id int64) (*models.CurrencyNetwork, error) {
	var pair models.CurrencyNetwork
	err := svc.DB.NewSelect().Model(&pair).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

func (svc *GatewayService) FindActiveCurrencyNetwork(ctx context.Context, currency, network string) (*models.CurrencyNetwork, error) {
	var pair models.CurrencyNetwork
	err := svc.DB.NewSelect().Model(&pair).
		Where("currency = ? AND network = ? AND active", currency, network).
		Limit(1).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

func (svc *GatewayService) FindInvoiceByPublicId(ctx context.Context, publicId string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := svc.DB.NewSelect().Model(&invoice).Where("public_id = ?", publicId).Limit(1).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (svc *GatewayService) FindWalletByAddress(ctx context.Context, address string) (*models.DepositWallet, error) {
	var wallet models.DepositWallet
	err := svc.DB.NewSelect().Model(&wallet).Where("address = ?", address).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &wallet, nil
}

// ParkedDepositEvents returns events that need operator attention: orphans,
// unmatched deposits and events that exhausted their retries.
func (svc *GatewayService) ParkedDepositEvents(ctx context.Context) ([]models.DepositEvent, error) {
	events := []models.DepositEvent{}
	err := svc.DB.NewSelect().Model(&events).
		Where("requires_manual_review OR orphan OR (NOT processed AND retry_count >= ?)", svc.Config.MaxReconcileRetries).
		Order("created_at ASC").
		Scan(ctx)
	return events, err
}

func makeULID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}
