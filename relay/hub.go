// Package relay, development ve test ortamında dış realtime platformunun
// yerine geçen broadcast sunucusunu sağlar.
//
// Mimari:
// - Hub: Tüm bağlantıları ve topic fan-out'unu yöneten merkezi yapı
// - Client: Her WebSocket bağlantısını temsil eder
// - Handler: HTTP → WebSocket upgrade + token doğrulama
//
// Core kütüphane relay'i TANIMAZ — sadece realtime.Transport interface'ini
// görür. Production'da transport gerçek platforma bağlanır; relay yereldeki
// eşdeğeridir.
package relay

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/akinalp/kurye/models"
	"github.com/akinalp/kurye/pkg/ratelimit"
	"github.com/akinalp/kurye/realtime"
)

// Publish flood limitleri. Dürüst bir client typing throttle'ı yüzünden
// saniyede en fazla bir publish üretir — limit bozuk client'lara karşıdır.
const (
	publishLimit    = 10
	publishWindow   = 5 * time.Second
	publishCooldown = 15 * time.Second
)

// Hub, bağlı tüm client'ları ve topic aboneliklerini yönetir.
//
// Hub.Run() goroutine'i register/unregister channel'larından `select`
// ile okur — client map'ine tek yazıcı odur. Fan-out yolunda sadece
// RLock gerekir.
type Hub struct {
	// clients: bağlı tüm client'ların set'i.
	// Go'da set yoktur, map[*Client]bool kullanılır.
	clients map[*Client]bool
	mu      sync.RWMutex

	// register/unregister: Client giriş/çıkış sinyalleri.
	register   chan *Client
	unregister chan *Client

	// seq: Her outbound event'e verilen artan sayaç.
	// atomic.Int64 — birden fazla goroutine güvenle artırabilir.
	seq atomic.Int64

	// limiter: Kullanıcı bazlı publish flood koruması.
	limiter *ratelimit.PublishRateLimiter
}

// NewHub, yeni bir Hub oluşturur.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		limiter:    ratelimit.NewPublishRateLimiter(publishLimit, publishWindow, publishCooldown),
	}
}

// Run, Hub'ın ana event loop'udur. `go hub.Run()` ile başlatılır.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// addClient, yeni bir client'ı Hub'a ekler.
func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	log.Printf("[relay] client connected: user=%s (total: %d)", client.userID, len(h.clients))
}

// removeClient, bir client'ı Hub'dan çıkarır ve send channel'ını kapatır.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.closeSend()
		log.Printf("[relay] client disconnected: user=%s (remaining: %d)", client.userID, len(h.clients))
	}
}

// Broadcast, bir event'i topic'e abone tüm client'lara gönderir.
//
// Gönderen client da dahildir — self-echo bastırma consumer tarafının
// (typing tracker) sorumluluğudur, relay ayrım yapmaz.
func (h *Hub) Broadcast(topic, kind string, data json.RawMessage) {
	frame := realtime.Frame{
		Op:    realtime.OpEvent,
		Topic: topic,
		Kind:  kind,
		Data:  data,
		Seq:   h.seq.Add(1),
	}

	raw, err := json.Marshal(frame)
	if err != nil {
		log.Printf("[relay] failed to marshal broadcast frame: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		matcher, subscribed := client.subscription(topic)
		if !subscribed {
			continue
		}
		if kind == realtime.KindChange && !matcherAccepts(matcher, data) {
			continue
		}

		select {
		case client.send <- raw:
		default:
			// Buffer dolu — bu client yavaş, kapat.
			go func(c *Client) { h.unregister <- c }(client)
		}
	}
}

// Ingest, dış store'dan gelen bir change feed event'ini topic'e verir.
// Test'ler ve feed köprüsü buradan event enjekte eder.
func (h *Hub) Ingest(topic string, ev models.ChangeEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[relay] failed to marshal change event: %v", err)
		return
	}
	h.Broadcast(topic, realtime.KindChange, data)
}

// matcherAccepts, change event'inin client'ın matcher filtresinden
// geçip geçmediğini değerlendirir.
//
// Filtre upstream'de (yani burada) değerlendirilir — client tarafına
// sadece geçen event'ler gider. Matcher nil ise her şey geçer.
func matcherAccepts(m *realtime.Matcher, data json.RawMessage) bool {
	if m == nil {
		return true
	}

	var ev models.ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return false
	}
	if m.Entity != "" && ev.Entity != m.Entity {
		return false
	}
	if m.Column == "" {
		return true
	}

	// Eşitlik filtresi payload kolonuna uygulanır (ör: transfer_id = X).
	var row map[string]json.RawMessage
	if err := json.Unmarshal(ev.Payload, &row); err != nil {
		return false
	}
	rawVal, ok := row[m.Column]
	if !ok {
		return false
	}
	var strVal string
	if err := json.Unmarshal(rawVal, &strVal); err != nil {
		return false
	}
	return strVal == m.Equals
}

// Shutdown, tüm client bağlantılarını kapatır (graceful shutdown).
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.closeSend()
	}
	h.clients = make(map[*Client]bool)
	h.limiter.Close()
	log.Println("[relay] hub shut down, all connections closed")
}
