package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/akinalp/kurye/pkg"
)

// WebSocket bağlantı sabitleri
const (
	// writeWait: Bir frame'i yazmak için maksimum bekleme süresi.
	// Bu süre aşılırsa bağlantı kapatılır (ağ sorunu olabilir).
	writeWait = 10 * time.Second

	// heartbeatInterval: Client'ın relay'e "hâlâ bağlıyım" sinyali
	// gönderme sıklığı.
	heartbeatInterval = 30 * time.Second

	// pongWait: Relay'den herhangi bir frame için beklenen maksimum süre.
	// 3 heartbeat kaçırma = 30s × 3 = 90s. Bu sürede hiçbir şey gelmezse
	// bağlantı kopmuş sayılır ve reconnect başlar.
	pongWait = 90 * time.Second

	// maxMessageSize: Relay'den gelebilecek maksimum frame boyutu (byte).
	maxMessageSize = 4096

	// eventBufferSize: Hub'a giden event channel'ının buffer boyutu.
	eventBufferSize = 256

	// stateBufferSize: State geçiş channel'ının buffer boyutu.
	stateBufferSize = 8
)

// WSTransport, gorilla/websocket tabanlı Transport implementasyonu.
//
// Bağlantı koptuğunda otomatik olarak exponential backoff ile yeniden
// bağlanır ve o ana kadar istenen tüm topic aboneliklerini relay'e
// yeniden bildirir. Kopukluk sırasında kaçan event'ler geri OYNATILMAZ —
// consumer açısından o aralıkta hiç aktivite olmamış gibidir.
type WSTransport struct {
	url           string
	reconnectBase time.Duration
	reconnectMax  time.Duration

	// connMu: Aktif bağlantıyı ve yazma işlemlerini korur.
	// gorilla/websocket conn'a aynı anda birden fazla yazma YASAK —
	// heartbeat goroutine'i ile Publish çağrıları bu mutex'i paylaşır.
	connMu sync.Mutex
	conn   *websocket.Conn

	// subs: İstenen topic'lerin kaydı (topic → matcher).
	// Reconnect sonrası bu kayıttan yeniden subscribe edilir.
	subsMu sync.Mutex
	subs   map[string]*Matcher

	events chan Envelope
	states chan ConnState

	done   chan struct{}
	closed atomic.Bool
}

// NewWSTransport, relay'e bağlanan yeni bir transport oluşturur ve
// bağlantı döngüsünü başlatır.
//
// url, token'ı query parameter olarak içermelidir:
// ws://relay-host/rt?token=JWT_TOKEN
func NewWSTransport(url string, reconnectBase, reconnectMax time.Duration) *WSTransport {
	if reconnectBase <= 0 {
		reconnectBase = 500 * time.Millisecond
	}
	if reconnectMax <= 0 {
		reconnectMax = 15 * time.Second
	}

	t := &WSTransport{
		url:           url,
		reconnectBase: reconnectBase,
		reconnectMax:  reconnectMax,
		subs:          make(map[string]*Matcher),
		events:        make(chan Envelope, eventBufferSize),
		states:        make(chan ConnState, stateBufferSize),
		done:          make(chan struct{}),
	}

	t.emitState(StateConnecting)
	go t.run()
	return t
}

// run, bağlantı yaşam döngüsü: dial → aktif → kopunca backoff → tekrar.
func (t *WSTransport) run() {
	backoff := t.reconnectBase

	for {
		if t.closed.Load() {
			return
		}

		conn, _, err := websocket.DefaultDialer.Dial(t.url, nil)
		if err != nil {
			log.Printf("[rt] dial %s failed: %v (retrying in %s)", t.url, err, backoff)
			select {
			case <-time.After(backoff):
			case <-t.done:
				return
			}
			// Exponential backoff — her denemede ikiye katla, üst sınırda sabitle.
			backoff *= 2
			if backoff > t.reconnectMax {
				backoff = t.reconnectMax
			}
			continue
		}

		backoff = t.reconnectBase
		t.setConn(conn)
		t.emitState(StateActive)
		t.resubscribe()

		stopHeartbeat := make(chan struct{})
		go t.heartbeatLoop(stopHeartbeat)

		t.readLoop(conn) // bağlantı kopana kadar bloklar

		close(stopHeartbeat)
		t.setConn(nil)
		_ = conn.Close()

		if t.closed.Load() {
			return
		}
		t.emitState(StateReconnecting)
	}
}

// readLoop, relay'den gelen frame'leri okur ve event'leri Hub'a iletir.
// Bozuk tek bir frame stream'i ASLA koparmaz — sadece o frame atlanır.
func (t *WSTransport) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[rt] unexpected close: %v", err)
			}
			return
		}

		// Herhangi bir frame canlılık kanıtıdır — deadline'ı yenile.
		if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("[rt] invalid frame from relay: %v", err)
			continue
		}

		switch frame.Op {
		case OpEvent:
			env := Envelope{
				Topic: frame.Topic,
				Kind:  frame.Kind,
				Data:  frame.Data,
				Seq:   frame.Seq,
			}
			select {
			case t.events <- env:
			case <-t.done:
				return
			}

		case OpHeartbeatAck:
			// Deadline yukarıda yenilendi — yapılacak başka şey yok.

		default:
			log.Printf("[rt] unknown op from relay: %s", frame.Op)
		}
	}
}

// heartbeatLoop, aktif bağlantıda periyodik heartbeat gönderir.
func (t *WSTransport) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := t.writeFrame(Frame{Op: OpHeartbeat}); err != nil {
				return
			}
		case <-stop:
			return
		case <-t.done:
			return
		}
	}
}

// resubscribe, reconnect sonrası istenen tüm topic'leri relay'e yeniden
// bildirir. Relay tarafında abonelik bağlantıya bağlıdır — kopuşta
// düşer, burada yeniden kurulur. Catch-up yoktur.
func (t *WSTransport) resubscribe() {
	t.subsMu.Lock()
	topics := make(map[string]*Matcher, len(t.subs))
	for topic, m := range t.subs {
		topics[topic] = m
	}
	t.subsMu.Unlock()

	for topic, m := range topics {
		if err := t.writeFrame(Frame{Op: OpSubscribe, Topic: topic, Matcher: m}); err != nil {
			log.Printf("[rt] resubscribe %s failed: %v", topic, err)
			return
		}
	}
}

// Subscribe, topic ilgisini kaydeder ve bağlantı aktifse relay'e bildirir.
// Bağlantı o an kopuksa sadece kayıt tutulur — reconnect'te bildirilir.
func (t *WSTransport) Subscribe(ctx context.Context, topic string, matcher *Matcher) error {
	if t.closed.Load() {
		return pkg.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.subsMu.Lock()
	t.subs[topic] = matcher
	t.subsMu.Unlock()

	if err := t.writeFrame(Frame{Op: OpSubscribe, Topic: topic, Matcher: matcher}); err != nil {
		// Bağlantı yok veya koptu — kayıt duruyor, reconnect halleder.
		log.Printf("[rt] subscribe %s deferred: %v", topic, err)
	}
	return nil
}

// Unsubscribe, topic ilgisini bırakır. Idempotent.
func (t *WSTransport) Unsubscribe(ctx context.Context, topic string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.subsMu.Lock()
	delete(t.subs, topic)
	t.subsMu.Unlock()

	if t.closed.Load() {
		return nil
	}
	if err := t.writeFrame(Frame{Op: OpUnsubscribe, Topic: topic}); err != nil {
		// Bağlantı kopuksa relay aboneliği zaten bağlantıyla düşürür.
		return nil
	}
	return nil
}

// Publish, topic'e fire-and-forget broadcast gönderir.
//
// Yazım transport tarafından kabul edilince döner — remote teslim
// garantisi yoktur. Bağlantı kopuksa gönderim sessizce düşürülür
// (kuyruklanmaz).
func (t *WSTransport) Publish(ctx context.Context, topic, kind string, payload any) error {
	if t.closed.Load() {
		return pkg.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal publish payload: %w", err)
	}

	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()
	if conn == nil {
		// Reconnecting — publish sessizce düşer.
		return nil
	}

	if err := t.writeFrame(Frame{Op: OpPublish, Topic: topic, Kind: kind, Data: data}); err != nil {
		return fmt.Errorf("%w: publish %s: %v", pkg.ErrTransport, topic, err)
	}
	return nil
}

// Events, Hub'ın dinlediği event stream'ini döner.
func (t *WSTransport) Events() <-chan Envelope { return t.events }

// States, bağlantı state geçişlerinin stream'ini döner.
func (t *WSTransport) States() <-chan ConnState { return t.states }

// Close, bağlantıyı kapatır. Idempotent.
func (t *WSTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(t.done)

	t.connMu.Lock()
	conn := t.conn
	t.conn = nil
	t.connMu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		return conn.Close()
	}
	return nil
}

// setConn, aktif bağlantıyı günceller.
func (t *WSTransport) setConn(conn *websocket.Conn) {
	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()
}

// writeFrame, aktif bağlantıya tek bir frame yazar (mutex ile korunur).
func (t *WSTransport) writeFrame(frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn == nil {
		return fmt.Errorf("%w: not connected", pkg.ErrTransport)
	}
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// emitState, state geçişini duyurur. Channel doluysa en eski geçiş
// düşürülür — consumer için önemli olan son state'tir.
func (t *WSTransport) emitState(st ConnState) {
	select {
	case t.states <- st:
	default:
		select {
		case <-t.states:
		default:
		}
		select {
		case t.states <- st:
		default:
		}
	}
}
