package realtime

import (
	"context"
	"encoding/json"
)

// ConnState, transport bağlantısının state machine'indeki durumu.
//
// Geçişler: Connecting → Active → (Reconnecting ⇄ Active) → Closed
//
// Reconnecting'e transport hatasında otomatik girilir. Reconnecting
// sırasında publish çağrıları sessizce düşürülür (kuyruklanmaz).
// Tekrar Active olunduğunda teslimat devam eder — ama catch-up/replay
// YOKTUR: arada kaçan event'ler kayıptır ve bu normaldir.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateActive
	StateReconnecting
	StateClosed
)

// String, log çıktıları için okunabilir state adı döner.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Matcher, change feed aboneliğine iliştirilen eşitlik filtresi.
//
// Filtre UPSTREAM'de (relay/feed tarafında) değerlendirilir, lokalde
// değil — client sadece filtreden geçen event'leri alır.
// Örnek: {Entity: "messages", Column: "transfer_id", Equals: "t1"}
type Matcher struct {
	Entity string `json:"entity"`
	Column string `json:"column,omitempty"`
	Equals string `json:"equals,omitempty"`
}

// Envelope, transport'tan Hub'a teslim edilen tek bir event.
// Data, Kind'a göre parse edilir (ör. KindChange → models.ChangeEvent).
type Envelope struct {
	Topic string
	Kind  string
	Data  json.RawMessage
	Seq   int64
}

// Transport, relay bağlantısının soyutlaması.
//
// Hub bu interface'e bağımlıdır, concrete WSTransport'a değil.
// Test'lerde in-memory fake transport kullanılır — network olmadan
// hub semantiği deterministik olarak doğrulanabilir.
type Transport interface {
	// Subscribe, topic'e olan ilgiyi upstream'e bildirir. Bağlantı o an
	// kopuksa kayıt tutulur ve reconnect sonrası yeniden bildirilir.
	Subscribe(ctx context.Context, topic string, matcher *Matcher) error

	// Unsubscribe, topic ilgisini bırakır. Idempotent.
	Unsubscribe(ctx context.Context, topic string) error

	// Publish, fire-and-forget gönderim. Transport gönderimi kabul
	// ettiğinde döner — karşı taraf aldığında DEĞİL. Ack yoktur.
	Publish(ctx context.Context, topic, kind string, payload any) error

	// Events, teslim edilen event'lerin stream'i. Transport kapanınca
	// channel kapanır.
	Events() <-chan Envelope

	// States, bağlantı state geçişlerinin stream'i.
	States() <-chan ConnState

	// Close, bağlantıyı kapatır ve kaynakları bırakır. Idempotent.
	Close() error
}
