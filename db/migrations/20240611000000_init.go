package migrations

import (
	"context"

	"github.com/paygate-io/paygate/db/models"
	"github.com/uptrace/bun"
)

/* Since this init will reflect the latest model fields when run on fresh db
make sure that when you add/remove columns in subsequent migrations IfNotExists/IfExists is used
otherwise it's going to result in errors.
*/
func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {

		if _, err := db.NewCreateTable().Model((*models.Project)(nil)).Exec(ctx); err != nil {
			return err
		}
		if _, err := db.NewCreateTable().Model((*models.CurrencyNetwork)(nil)).Exec(ctx); err != nil {
			return err
		}
		if _, err := db.NewCreateTable().Model((*models.Invoice)(nil)).Exec(ctx); err != nil {
			return err
		}
		if _, err := db.NewCreateTable().Model((*models.InvoiceTransition)(nil)).Exec(ctx); err != nil {
			return err
		}
		if _, err := db.NewCreateTable().Model((*models.DepositWallet)(nil)).Exec(ctx); err != nil {
			return err
		}
		if _, err := db.NewCreateTable().Model((*models.DerivationCounter)(nil)).Exec(ctx); err != nil {
			return err
		}
		if _, err := db.NewCreateTable().Model((*models.DepositEvent)(nil)).Exec(ctx); err != nil {
			return err
		}
		if _, err := db.NewCreateTable().Model((*models.WebhookAttempt)(nil)).Exec(ctx); err != nil {
			return err
		}

		// one active wallet per (project, currency-network) at a time
		if _, err := db.ExecContext(ctx,
			`CREATE UNIQUE INDEX IF NOT EXISTS deposit_wallets_active_pair_idx
			 ON deposit_wallets (project_id, token_network_id) WHERE status = 'active'`); err != nil {
			return err
		}
		// delivery loop scans by due time
		if _, err := db.ExecContext(ctx,
			`CREATE INDEX IF NOT EXISTS webhook_attempts_due_idx
			 ON webhook_attempts (status, next_attempt_at)`); err != nil {
			return err
		}
		// reconciliation resolves invoices by project, pair and status
		if _, err := db.ExecContext(ctx,
			`CREATE INDEX IF NOT EXISTS invoices_open_idx
			 ON invoices (project_id, token_network_id, status)`); err != nil {
			return err
		}

		return nil
	}, nil)
}
