package realtime

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/akinalp/kurye/pkg"
)

// topicBufferSize: Her topic actor'ünün event buffer'ı.
// Buffer doluysa (handler yavaş) yeni event düşürülür — teslimat zaten
// best-effort, gap'ler consumer için normaldir.
const topicBufferSize = 64

// Handler, bir topic'e teslim edilen her event için bir kez çağrılır.
//
// Çağrı context'i BELİRSİZDİR: handler, topic'in kendi actor
// goroutine'inde çalışır. Aynı topic içinde sıra korunur (FIFO), ama
// farklı topic'lerin handler'ları eşzamanlı çalışabilir — handler'lar
// topic'ler arası sıralama varsaymamalıdır.
type Handler func(ev Envelope)

// Subscription, bir topic'e yapılmış tek bir aboneliğin sahiplik değeri.
//
// Subscription'ı oluşturan component onun TEK sahibidir: kapatmak onun
// sorumluluğudur, component'ler arası paylaşılmaz, reference-count
// yoktur. Böylece subscription ömrü audit edilebilir — global/implicit
// subscription objesi yerine explicit sahiplik.
type Subscription struct {
	id      string
	topic   string
	handler Handler

	// closed: Unsubscribe döndükten sonra handler'ın bir daha
	// çağrılmamasını garanti eden bayrak. Actor her teslimden hemen önce
	// kontrol eder. O an zaten çalışmakta olan bir handler'la yarış
	// kabul edilebilir (in-flight delivery).
	closed atomic.Bool
}

// Topic, aboneliğin bağlı olduğu topic anahtarını döner.
func (s *Subscription) Topic() string { return s.topic }

// topicActor, tek bir topic'in teslimat durumu.
//
// Her topic'in kendi goroutine'i ve kendi event channel'ı vardır
// ("actor" modeli). Bu, teslimatı UI/consumer zamanlamasından ayırır:
// bir topic'in yavaş handler'ı diğer topic'leri bloklamaz.
type topicActor struct {
	ch   chan Envelope
	done chan struct{}
	subs map[*Subscription]bool // hub.mu ile korunur
}

// Hub, topic subscription'larının yaşam döngüsünü yönetir ve gelen
// event'leri kayıtlı lokal handler'lara teslim eder (Observer pattern).
//
// Bir topic'e ilk abone gelince transport'a subscribe bildirilir ve
// actor goroutine'i başlar; son abone ayrılınca unsubscribe bildirilir
// ve actor durur. Hub, transport'un concrete tipine değil Transport
// interface'ine bağımlıdır — test'lerde fake transport kullanılır.
type Hub struct {
	transport Transport

	// mu: topics map'ini ve actor'lerin subs set'lerini koruyan RWMutex.
	// Teslimat yolunda sadece RLock gerekir — okuma ağırlıklı iş yükünde
	// publish/dispatch birbirini bloklamaz.
	mu     sync.RWMutex
	topics map[string]*topicActor

	stateMu  sync.RWMutex
	state    ConnState
	stateFns []func(ConnState)

	done   chan struct{}
	closed atomic.Bool
}

// NewHub, verilen transport üzerinde yeni bir Hub oluşturur ve event
// dispatch loop'unu başlatır.
func NewHub(transport Transport) *Hub {
	h := &Hub{
		transport: transport,
		topics:    make(map[string]*topicActor),
		state:     StateConnecting,
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

// run, Hub'ın ana dispatch loop'udur.
//
// Transport'un event ve state channel'larını select ile dinler.
// Event'ler ilgili topic actor'üne yönlendirilir; state geçişleri
// kayıtlı callback'lere duyurulur.
func (h *Hub) run() {
	events := h.transport.Events()
	states := h.transport.States()

	for {
		select {
		case <-h.done:
			return

		case ev, ok := <-events:
			if !ok {
				// Transport kapandı — dispatch loop'un işi bitti.
				return
			}
			h.dispatch(ev)

		case st, ok := <-states:
			if !ok {
				return
			}
			h.setState(st)
		}
	}
}

// dispatch, gelen event'i topic'inin actor channel'ına yönlendirir.
//
// Abone olunmayan topic'in event'i sessizce düşürülür (reconnect
// yarışında relay eski aboneliklere teslim etmiş olabilir).
// Actor buffer'ı doluysa event düşürülür — no replay, gap normaldir.
func (h *Hub) dispatch(ev Envelope) {
	h.mu.RLock()
	actor := h.topics[ev.Topic]
	h.mu.RUnlock()

	if actor == nil {
		return
	}

	select {
	case actor.ch <- ev:
	case <-actor.done:
		// Son abone tam bu anda ayrıldı — event'in gideceği yer yok.
	default:
		log.Printf("[rt] topic %s buffer full, dropping event seq=%d", ev.Topic, ev.Seq)
	}
}

// runActor, tek bir topic'in teslimat goroutine'i.
//
// Channel'dan event okur ve o anki abonelerin handler'larını SIRAYLA
// çağırır — aynı topic içinde FIFO garantisi buradan gelir.
func (h *Hub) runActor(actor *topicActor) {
	for {
		select {
		case ev := <-actor.ch:
			h.mu.RLock()
			subs := make([]*Subscription, 0, len(actor.subs))
			for s := range actor.subs {
				subs = append(subs, s)
			}
			h.mu.RUnlock()

			for _, s := range subs {
				// Unsubscribe edilen aboneye teslim etme — bayrak her
				// teslimden hemen önce kontrol edilir.
				if s.closed.Load() {
					continue
				}
				s.handler(ev)
			}

		case <-actor.done:
			return
		}
	}
}

// Subscribe, topic'e yeni bir abonelik oluşturur.
//
// matcher, upstream feed'in değerlendireceği eşitlik filtresidir (nil
// olabilir). Topic'in İLK aboneliği matcher'ı belirler — aynı topic'e
// sonraki abonelikler mevcut feed'i paylaşır.
//
// Dönen Subscription çağıranın mülküdür; işi bitince Unsubscribe
// çağırmak zorundadır, yoksa transport kaynağı sızar.
func (h *Hub) Subscribe(ctx context.Context, topic string, matcher *Matcher, handler Handler) (*Subscription, error) {
	if h.closed.Load() {
		return nil, pkg.ErrClosed
	}
	if topic == "" || handler == nil {
		return nil, fmt.Errorf("%w: topic and handler are required", pkg.ErrBadRequest)
	}

	sub := &Subscription{
		id:      uuid.NewString(),
		topic:   topic,
		handler: handler,
	}

	h.mu.Lock()
	actor, exists := h.topics[topic]
	if !exists {
		actor = &topicActor{
			ch:   make(chan Envelope, topicBufferSize),
			done: make(chan struct{}),
			subs: make(map[*Subscription]bool),
		}
		h.topics[topic] = actor
		go h.runActor(actor)
	}
	actor.subs[sub] = true
	h.mu.Unlock()

	if !exists {
		// Topic'in ilk abonesi — upstream'e bildir. Transport setup'ı
		// kısa süre bloklayabilir, ctx ile iptal edilebilir.
		if err := h.transport.Subscribe(ctx, topic, matcher); err != nil {
			h.mu.Lock()
			delete(actor.subs, sub)
			if len(actor.subs) == 0 {
				close(actor.done)
				delete(h.topics, topic)
			}
			h.mu.Unlock()
			return nil, fmt.Errorf("%w: subscribe %s: %v", pkg.ErrTransport, topic, err)
		}
	}

	return sub, nil
}

// Unsubscribe, aboneliği bırakır ve topic'in son abonesiyse transport
// kaynağını serbest bırakır.
//
// Idempotent: aynı Subscription ile tekrar çağrılması no-op'tur.
// Döndükten sonra bu aboneliğin handler'ı bir daha çağrılmaz
// (o an uçuşta olan teslimle yarış kabul edilebilir).
func (h *Hub) Unsubscribe(ctx context.Context, sub *Subscription) error {
	if sub == nil || !sub.closed.CompareAndSwap(false, true) {
		return nil
	}

	h.mu.Lock()
	last := false
	if actor, ok := h.topics[sub.topic]; ok {
		delete(actor.subs, sub)
		if len(actor.subs) == 0 {
			close(actor.done)
			delete(h.topics, sub.topic)
			last = true
		}
	}
	h.mu.Unlock()

	if last && !h.closed.Load() {
		if err := h.transport.Unsubscribe(ctx, sub.topic); err != nil {
			// Unsubscribe hatası fatal değil — bağlantı zaten kopuksa
			// relay tarafı aboneliği bağlantıyla birlikte düşürür.
			log.Printf("[rt] unsubscribe %s failed: %v", sub.topic, err)
		}
	}
	return nil
}

// Publish, topic'e best-effort broadcast gönderir.
//
// Transport gönderimi kabul ettiğinde döner — remote peer'ların almış
// olması garanti DEĞİLDİR, ack yoktur. Bağlantı Active değilse gönderim
// sessizce düşürülür (kuyruklanmaz) — presence gibi ephemeral veriler
// için doğru davranış budur.
func (h *Hub) Publish(ctx context.Context, topic, kind string, payload any) error {
	if h.closed.Load() {
		return pkg.ErrClosed
	}
	if h.State() != StateActive {
		return nil
	}
	return h.transport.Publish(ctx, topic, kind, payload)
}

// State, bağlantının o anki state'ini döner.
func (h *Hub) State() ConnState {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.state
}

// OnStateChange, her state geçişinde çağrılacak bir callback kaydeder.
//
// Typing tracker gibi ephemeral state taşıyan consumer'lar reconnect
// sonrası state'lerini sıfırlamak için kullanır. Callback'ler dispatch
// loop'unu bloklamasın diye ayrı goroutine'de çağrılır.
func (h *Hub) OnStateChange(fn func(ConnState)) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.stateFns = append(h.stateFns, fn)
}

// setState, state'i günceller ve callback'leri duyurur.
func (h *Hub) setState(st ConnState) {
	h.stateMu.Lock()
	h.state = st
	fns := make([]func(ConnState), len(h.stateFns))
	copy(fns, h.stateFns)
	h.stateMu.Unlock()

	log.Printf("[rt] connection state: %s", st)
	for _, fn := range fns {
		go fn(st)
	}
}

// Close, tüm actor'leri durdurur ve transport'u kapatır.
// Idempotent — birden fazla çağrı güvenlidir.
func (h *Hub) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(h.done)

	h.mu.Lock()
	for _, actor := range h.topics {
		close(actor.done)
	}
	h.topics = make(map[string]*topicActor)
	h.mu.Unlock()

	h.setState(StateClosed)
	return h.transport.Close()
}
