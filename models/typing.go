package models

// Typing signal türleri — broadcast payload'ındaki "kind" alanı.
const (
	TypingKindStart = "typing"
	TypingKindStop  = "stop_typing"
)

// TypingSignal, "yazıyor" presence bilgisinin wire karşılığı.
// Ephemeral'dir: persist edilmez, yaşam süresi 3 saniyelik inactivity
// window ile sınırlıdır. Reconnect sonrası state sıfırlanır.
type TypingSignal struct {
	TransferID string `json:"transfer_id"`
	UserID     string `json:"user_id"`
	Name       string `json:"name,omitempty"` // Gönderenin display name'i — UI "Ayşe yazıyor..." için
	Kind       string `json:"kind"`
}
