package models

import "encoding/json"

// EventType, dış store'dan gelen satır değişikliği türü.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent, dış store'daki bir satır değişikliğinin immutable bildirimi.
//
// Teslimat garantisi YOK: aynı event reconnect sonrası duplicate gelebilir,
// topic'ler arası sıra garantisi yoktur. Consumer'lar gap'leri ve
// duplicate'leri normal kabul etmek zorundadır.
//
// ID her event'e upstream tarafından verilen uuid — bu katman dedupe
// yapmaz, ama ID taşındığı için embedder isterse idempotency key olarak
// kullanabilir.
type ChangeEvent struct {
	ID      string          `json:"id"`
	Type    EventType       `json:"type"`
	Entity  string          `json:"entity"`  // Değişen tablo adı (ör: "messages")
	Payload json.RawMessage `json:"payload"` // Satırın JSON hali — entity'ye göre parse edilir
}
