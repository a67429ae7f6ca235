package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/paygate-io/paygate/common"
	"github.com/paygate-io/paygate/custody"
	"github.com/paygate-io/paygate/db/models"
	"github.com/uptrace/bun"
)

// AllocateWallet returns the active deposit wallet for a project and
// currency-network pair, deriving a fresh address when none exists yet.
//
// The per-network derivation index is a single shared sequence across all
// projects. It is advanced inside the same transaction that inserts the
// wallet, through one exclusive read-modify-write on the counter row, so a
// failed allocation rolls the counter back and retrying neither skips nor
// double-consumes an index.
func (svc *GatewayService) AllocateWallet(ctx context.Context, projectId, pairId int64) (*models.DepositWallet, error) {
	existing, err := svc.activeWalletForPair(ctx, projectId, pairId)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	pair, err := svc.FindCurrencyNetwork(ctx, pairId)
	if err != nil {
		return nil, err
	}

	var wallet *models.DepositWallet
	err = svc.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		index, err := svc.nextDerivationIndex(ctx, tx, pair.ID)
		if err != nil {
			return err
		}

		address, err := svc.Deriver.Derive(custody.NetworkParams{
			Purpose:  pair.DerivationPurpose,
			CoinType: pair.DerivationCoinType,
			Account:  pair.DerivationAccount,
			Change:   pair.DerivationChange,
			Xpub:     pair.AccountXpub,
		}, index)
		if err != nil {
			return err
		}

		wallet = &models.DepositWallet{
			ProjectID:      projectId,
			TokenNetworkID: pair.ID,
			Address:        address,
			DerivationPath: fmt.Sprintf("m/%d'/%d'/%d'/%d/%d",
				pair.DerivationPurpose, pair.DerivationCoinType, pair.DerivationAccount, pair.DerivationChange, index),
			DerivationIndex: index,
			Status:          common.WalletStatusActive,
		}
		// The unique index on (project_id, token_network_id) WHERE active and
		// the unique address column turn a concurrent double-allocation into
		// a constraint error here; the caller retries and finds the winner.
		_, err = tx.NewInsert().Model(wallet).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	svc.Logger.Infof("Allocated wallet address:%s path:%s project_id:%d", wallet.Address, wallet.DerivationPath, projectId)
	return wallet, nil
}

// ArchiveWallet retires a wallet without deleting it; a later allocation for
// the pair derives a fresh address.
func (svc *GatewayService) ArchiveWallet(ctx context.Context, wallet *models.DepositWallet) error {
	wallet.Status = common.WalletStatusArchived
	_, err := svc.DB.NewUpdate().Model(wallet).WherePK().Exec(ctx)
	return err
}

// nextDerivationIndex advances the shared per-network counter and returns the
// index that was consumed. The UPDATE takes a row lock, serializing
// concurrent allocations on the same network.
func (svc *GatewayService) nextDerivationIndex(ctx context.Context, tx bun.Tx, pairId int64) (uint32, error) {
	// make sure the counter row exists; a concurrent insert loses quietly
	counter := models.DerivationCounter{TokenNetworkID: pairId}
	_, err := tx.NewInsert().Model(&counter).
		On("CONFLICT (token_network_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	var nextIndex uint32
	err = tx.NewUpdate().Model((*models.DerivationCounter)(nil)).
		Set("next_index = next_index + 1").
		Where("token_network_id = ?", pairId).
		Returning("next_index").
		Scan(ctx, &nextIndex)
	if err != nil {
		return 0, err
	}
	// counter holds the next free index, the consumed one is next - 1
	return nextIndex - 1, nil
}
