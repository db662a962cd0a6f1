package repository

import (
	"context"

	"github.com/akinalp/kurye/models"
)

// MessageRepository, mesaj ve okunmamış sayısı veritabanı işlemleri
// için interface.
//
// CountUnread: Kullanıcıya adreslenmiş okunmamış mesajların otoritatif
// sayısı — UnreadCounter'ın resync kaynağı.
// MarkTransferRead: Bir transferin operatör mesajlarını okunmuş
// işaretler; çağıran ardından resync tetikler.
type MessageRepository interface {
	Insert(ctx context.Context, msg *models.Message) error
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkTransferRead(ctx context.Context, userID, transferID string) error
}
