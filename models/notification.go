package models

// Severity, surfaced edilen bildirimin önem derecesi.
// Presentation katmanı bunu toast/banner stiline map'ler — bu katman
// sadece NE surface edileceğine karar verir, NASIL'a değil.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// NotificationRecord, bir ChangeEvent'ten türetilen, kullanıcıya
// gösterilmek üzere surface edilen bildirim. Transient'tir — surface
// edildikten sonra bu katmanda saklanmaz.
type NotificationRecord struct {
	ID              string   `json:"id"`
	RecipientUserID string   `json:"recipient_user_id"`
	TransferID      string   `json:"transfer_id"`
	Title           string   `json:"title"`
	Message         string   `json:"message"`
	Severity        Severity `json:"severity"`
}
