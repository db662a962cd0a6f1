package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/akinalp/kurye/database"
	"github.com/akinalp/kurye/models"
	"github.com/akinalp/kurye/pkg"
)

// sqliteTransferRepo, TransferRepository interface'inin SQLite implementasyonu.
type sqliteTransferRepo struct {
	db database.TxQuerier
}

// NewSQLiteTransferRepo, constructor — interface döner.
func NewSQLiteTransferRepo(db database.TxQuerier) TransferRepository {
	return &sqliteTransferRepo{db: db}
}

func (r *sqliteTransferRepo) GetByID(ctx context.Context, transferID string) (*models.Transfer, error) {
	query := `
		SELECT id, owner_user_id, reference, amount_minor, currency, status, created_at
		FROM transfers
		WHERE id = ?`

	var t models.Transfer
	err := r.db.QueryRowContext(ctx, query, transferID).Scan(
		&t.ID, &t.OwnerUserID, &t.Reference, &t.AmountMinor, &t.Currency, &t.Status, &t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		// Transfer silinmiş veya erişilemez — dispatcher bunu sessizce düşürür.
		return nil, fmt.Errorf("%w: transfer %s", pkg.ErrNotFound, transferID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get transfer: %v", pkg.ErrLookup, err)
	}
	return &t, nil
}

func (r *sqliteTransferRepo) Create(ctx context.Context, transfer *models.Transfer) error {
	query := `
		INSERT INTO transfers (id, owner_user_id, reference, amount_minor, currency, status)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		transfer.ID, transfer.OwnerUserID, transfer.Reference,
		transfer.AmountMinor, transfer.Currency, transfer.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create transfer: %w", err)
	}
	return nil
}
