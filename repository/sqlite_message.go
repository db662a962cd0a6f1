package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/akinalp/kurye/database"
	"github.com/akinalp/kurye/models"
	"github.com/akinalp/kurye/pkg"
)

// sqliteMessageRepo, MessageRepository interface'inin SQLite implementasyonu.
//
// Insert transaction kullandığı için *sql.DB alır (TxQuerier değil) —
// WithTx sadece gerçek bağlantı üzerinden transaction başlatabilir.
type sqliteMessageRepo struct {
	db *sql.DB
}

// NewSQLiteMessageRepo, constructor — interface döner.
func NewSQLiteMessageRepo(db *sql.DB) MessageRepository {
	return &sqliteMessageRepo{db: db}
}

// Insert, yeni bir mesaj yazar ve transferin last_message_at alanını
// günceller — iki yazma tek transaction'da (all-or-nothing).
func (r *sqliteMessageRepo) Insert(ctx context.Context, msg *models.Message) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		isOp := 0
		if msg.IsFromOperator {
			isOp = 1
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, transfer_id, sender_user_id, is_from_operator, body)
			VALUES (?, ?, ?, ?, ?)`,
			msg.ID, msg.TransferID, msg.SenderUserID, isOp, msg.Body,
		); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE transfers SET last_message_at = CURRENT_TIMESTAMP WHERE id = ?`,
			msg.TransferID,
		); err != nil {
			return fmt.Errorf("failed to touch transfer: %w", err)
		}
		return nil
	})
}

// CountUnread, kullanıcıya adreslenmiş okunmamış mesajların otoritatif
// sayısını döner: kullanıcının SAHİBİ olduğu transferlerdeki, operatör
// tarafından yazılmış, henüz okunmamış mesajlar.
//
// Kullanıcının kendi mesajları sayılmaz — kendi yazdığımız mesajlar
// "okunmamış" değildir.
func (r *sqliteMessageRepo) CountUnread(ctx context.Context, userID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages m
		INNER JOIN transfers t ON t.id = m.transfer_id
		WHERE t.owner_user_id = ?
		  AND m.is_from_operator = 1
		  AND m.read_flag = 0`

	var count int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count unread: %v", pkg.ErrLookup, err)
	}
	return count, nil
}

// MarkTransferRead, bir transferdeki tüm operatör mesajlarını okunmuş
// işaretler. Sahiplik guard'ı sorguya gömülüdür — başka kullanıcının
// transferi işaretlenemez. Çağıran ardından Resync tetiklemelidir.
func (r *sqliteMessageRepo) MarkTransferRead(ctx context.Context, userID, transferID string) error {
	query := `
		UPDATE messages
		SET read_flag = 1
		WHERE transfer_id = ?
		  AND is_from_operator = 1
		  AND read_flag = 0
		  AND EXISTS (
			SELECT 1 FROM transfers WHERE id = ? AND owner_user_id = ?
		  )`

	if _, err := r.db.ExecContext(ctx, query, transferID, transferID, userID); err != nil {
		return fmt.Errorf("failed to mark transfer read: %w", err)
	}
	return nil
}
