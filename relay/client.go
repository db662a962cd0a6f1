package relay

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/akinalp/kurye/realtime"
)

// WebSocket bağlantı sabitleri
const (
	// writeWait: Bir mesajı yazmak için maksimum bekleme süresi.
	writeWait = 10 * time.Second

	// pongWait: Client'ın heartbeat göndermesi için beklenen maksimum süre.
	// 3 heartbeat kaçırma = 30s × 3 = 90s.
	pongWait = 90 * time.Second

	// maxMessageSize: Client'ın gönderebileceği maksimum frame boyutu (byte).
	maxMessageSize = 4096

	// sendBufferSize: Her client'ın send channel'ının buffer boyutu.
	// Buffer doluysa (client yavaş) client disconnect edilir.
	sendBufferSize = 256
)

// Client, relay'e bağlı tek bir WebSocket bağlantısını temsil eder.
//
// Her bağlantı için iki goroutine çalışır:
// - ReadPump: Client'dan gelen frame'leri okur (subscribe/publish/heartbeat)
// - WritePump: Hub'dan gelen frame'leri bağlantıya yazar
//
// gorilla/websocket aynı anda sadece bir okuma ve bir yazma destekler —
// iki ayrı goroutine sayesinde okuma ve yazma birbirini bloklamaz.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string

	// send: Client'a gidecek frame'lerin buffer'landığı channel.
	// sendMu + closed, Hub'ın channel'ı kapatmasıyla ReadPump'tan gelen
	// eşzamanlı bir sendFrame arasındaki yarışı çözer — kapalı channel'a
	// gönderim panic olur.
	send   chan []byte
	sendMu sync.Mutex
	closed bool

	mu sync.Mutex // conn.WriteMessage çağrılarını korur

	// topics: Bu bağlantının abone olduğu topic'ler (topic → matcher).
	// Abonelik bağlantıya bağlıdır — bağlantı kopunca düşer, client
	// reconnect'te yeniden subscribe eder.
	topicsMu sync.Mutex
	topics   map[string]*realtime.Matcher
}

// subscription, client'ın topic aboneliğini (varsa) döner.
func (c *Client) subscription(topic string) (*realtime.Matcher, bool) {
	c.topicsMu.Lock()
	defer c.topicsMu.Unlock()
	m, ok := c.topics[topic]
	return m, ok
}

// ReadPump, bağlantıdan gelen frame'leri okur ve işler.
// Bağlantı kapanana kadar döngüde kalır; kapanınca Hub'dan çıkar.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("[relay] failed to set read deadline for user %s: %v", c.userID, err)
		return
	}

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[relay] unexpected close for user %s: %v", c.userID, err)
			}
			return
		}

		var frame realtime.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("[relay] invalid frame from user %s: %v", c.userID, err)
			continue
		}

		c.handleFrame(frame)
	}
}

// handleFrame, client'dan gelen frame'leri türüne göre işler.
func (c *Client) handleFrame(frame realtime.Frame) {
	switch frame.Op {
	case realtime.OpHeartbeat:
		// Heartbeat geldi — deadline'ı yenile ve ack gönder.
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return
		}
		c.sendFrame(realtime.Frame{Op: realtime.OpHeartbeatAck})

	case realtime.OpSubscribe:
		if frame.Topic == "" {
			return
		}
		c.topicsMu.Lock()
		c.topics[frame.Topic] = frame.Matcher
		c.topicsMu.Unlock()

	case realtime.OpUnsubscribe:
		c.topicsMu.Lock()
		delete(c.topics, frame.Topic)
		c.topicsMu.Unlock()

	case realtime.OpPublish:
		if frame.Topic == "" || frame.Kind == "" {
			return
		}
		if !c.hub.limiter.Allow(c.userID) {
			// Flood koruması — frame sessizce düşürülür, bağlantı yaşar.
			log.Printf("[relay] publish rate limit hit for user %s (retry in %ds)",
				c.userID, c.hub.limiter.CooldownSeconds(c.userID))
			return
		}
		// Fire-and-forget: ack dönülmez, teslim garantisi verilmez.
		c.hub.Broadcast(frame.Topic, frame.Kind, frame.Data)

	default:
		log.Printf("[relay] unknown op from user %s: %s", c.userID, frame.Op)
	}
}

// sendFrame, client'a tek bir frame gönderir. Hub bu client'ı çıkarıp
// send channel'ını kapattıysa frame sessizce düşürülür.
func (c *Client) sendFrame(frame realtime.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("[relay] failed to marshal frame for user %s: %v", c.userID, err)
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		// Buffer dolu — client muhtemelen donmuş, bağlantıyı kapat.
		log.Printf("[relay] send buffer full for user %s, dropping connection", c.userID)
		c.hub.unregister <- c
	}
}

// closeSend, send channel'ını en fazla bir kez kapatır. sendFrame ile
// aynı mutex'i kullanır — kapatma anında devam eden bir gönderim olamaz.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// WritePump, Hub'dan gelen frame'leri WebSocket bağlantısına yazar.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for {
		message, ok := <-c.send
		if !ok {
			// Channel kapatıldı — Hub client'ı çıkardı.
			c.writeMessage(websocket.CloseMessage, nil)
			return
		}

		if err := c.writeMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// writeMessage, WebSocket'e mesaj yazar (mutex ile korunur).
func (c *Client) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
