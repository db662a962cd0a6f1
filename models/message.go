package models

import "time"

// Message, bir transfer konuşmasındaki tek mesajı temsil eder.
// DB'deki "messages" tablosunun Go karşılığı — bu katman için read-only;
// mesaj yazma işlemi üst katmanın (form/submit akışı) sorumluluğudur.
//
// IsFromOperator, relevance filtresinin temelidir: müşteri için
// "okunmamış" sayılan mesajlar operatör tarafından yazılanlardır
// (kendi mesajlarımız unread sayılmaz — Discord da böyle çalışır).
type Message struct {
	ID             string    `json:"id"`
	TransferID     string    `json:"transfer_id"`
	SenderUserID   string    `json:"sender_user_id"`
	IsFromOperator bool      `json:"is_from_operator"`
	Body           string    `json:"body"`
	ReadFlag       bool      `json:"read_flag"`
	CreatedAt      time.Time `json:"created_at"`
}
