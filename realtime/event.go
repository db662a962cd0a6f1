// Package realtime, topic bazlı subscribe/publish katmanını sağlar.
//
// Mimari:
// - Hub: Topic subscription'larının yaşam döngüsünü yöneten merkezi yapı
// - Transport: Relay'e giden fiziksel bağlantının soyutlaması
// - WSTransport: gorilla/websocket tabanlı, otomatik reconnect'li implementasyon
//
// Event akışı:
// 1. Dış store bir satır değişikliğini relay'e verir (change feed)
// 2. Relay, event'i topic'e abone bağlantılara fan-out eder
// 3. WSTransport frame'i okur → Envelope olarak Hub'a teslim eder
// 4. Hub, topic'in actor goroutine'i üzerinden handler'ları çağırır
//
// Teslimat best-effort'tur: reconnect sırasında kaybolan event'ler geri
// oynatılmaz (no replay), duplicate teslim mümkündür. Consumer'lar gap
// ve duplicate'i normal kabul eder.
package realtime

import "encoding/json"

// Frame, client ile relay arasında taşınan tek bir wire mesajı.
//
// Op (operation): Frame türü — "subscribe", "publish", "event" vb.
// Kind: Event'in uygulama-seviyesi adı ("change", "typing", ...).
// Data: Kind'a özgü payload — handler tarafında parse edilir.
// Seq: Relay'in her outbound event'e verdiği artan sayı.
//   Client eksik event tespit etmek için seq'i takip edebilir.
type Frame struct {
	Op      string          `json:"op"`
	Topic   string          `json:"topic,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Matcher *Matcher        `json:"matcher,omitempty"`
	Data    json.RawMessage `json:"d,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
}

// Client → Relay operasyonları
const (
	OpSubscribe   = "subscribe"   // Topic'e abone ol (matcher opsiyonel)
	OpUnsubscribe = "unsubscribe" // Aboneliği bırak
	OpPublish     = "publish"     // Topic'e broadcast gönder (fire-and-forget)
	OpHeartbeat   = "heartbeat"   // Her 30sn'de gönderilir — "hâlâ bağlıyım" sinyali
)

// Relay → Client operasyonları
const (
	OpEvent        = "event"         // Topic'e teslim edilen bir event
	OpHeartbeatAck = "heartbeat_ack" // Heartbeat'e yanıt — "seni duydum"
)

// Event kind sabitleri.
const (
	KindChange = "change" // Change feed event'i — payload models.ChangeEvent
)

// Topic anahtarları. Topic'ler birbirinden bağımsızdır — aralarında
// sıra garantisi yoktur.
const (
	// TopicMessages, mesaj tablosunun change feed topic'i.
	TopicMessages = "messages-realtime"
)

// TopicNotifications, kullanıcıya özel bildirim topic'inin anahtarını döner.
func TopicNotifications(userID string) string {
	return "notifications:" + userID
}

// TopicTyping, bir transferin typing presence topic'inin anahtarını döner.
func TopicTyping(transferID string) string {
	return "typing:" + transferID
}
