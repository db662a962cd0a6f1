package repository

import (
	"context"

	"github.com/akinalp/kurye/models"
)

// TransferRepository, transfer lookup işlemleri için interface.
//
// GetByID, NotificationDispatcher'ın relevance kontrolünde kullanılır:
// "bu konuşmanın sahibi kim?" — event başına tek round trip, sonuç
// cache'lenmez (doğruluk cache'e bağlı değildir; performans gerekirse
// caller batch'ler).
type TransferRepository interface {
	GetByID(ctx context.Context, transferID string) (*models.Transfer, error)
	Create(ctx context.Context, transfer *models.Transfer) error
}
