package models

import "time"

// TransferStatus, bir transferin yaşam döngüsündeki durumu.
// State geçiş kuralları bu katmanın DIŞINDADIR — realtime katmanı
// transfer'i sadece "konuşmanın sahibi kim" sorusu için okur.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferInReview  TransferStatus = "in_review"
	TransferCompleted TransferStatus = "completed"
	TransferRejected  TransferStatus = "rejected"
)

// Transfer, müşteri ile destek operatörleri arasındaki konuşmanın
// bağlandığı entity. DB'deki "transfers" tablosunun Go karşılığı.
//
// OwnerUserID relevance filtresinin anahtarıdır: bir mesaj event'i
// sadece transferin sahibine bildirim üretir.
type Transfer struct {
	ID          string         `json:"id"`
	OwnerUserID string         `json:"owner_user_id"`
	Reference   string         `json:"reference"` // İnsan-okunur transfer no (ör: TRF-2025-0042)
	AmountMinor int64          `json:"amount_minor"`
	Currency    string         `json:"currency"`
	Status      TransferStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
}
