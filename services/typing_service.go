package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/akinalp/kurye/models"
	"github.com/akinalp/kurye/pkg"
	"github.com/akinalp/kurye/pkg/cache"
	"github.com/akinalp/kurye/realtime"
)

// Typing presence zamanlama sabitleri.
const (
	// typingThrottle: Transfer başına en fazla bir "typing" broadcast'i
	// bu pencerede gönderilir. Leading-edge: penceredeki İLK çağrı hemen
	// gönderir, sonrakiler bastırılır, trailing re-fire yoktur.
	typingThrottle = 1000 * time.Millisecond

	// typingExpiry: Remote "typing" sinyali bu süre içinde yenilenmezse
	// peer'ın yazması otomatik olarak bitti sayılır.
	typingExpiry = 3000 * time.Millisecond

	// nameCacheTTL / nameCacheCleanup: Display name cache'i ayarları.
	// stop_typing sinyalleri isim taşımaz — isim buradan hatırlanır.
	nameCacheTTL     = 30 * time.Minute
	nameCacheCleanup = 5 * time.Minute
)

// TypingService, lokal klavye aktivitesini throttle'lı outbound presence
// sinyallerine, remote sinyalleri de otomatik süresi dolan "peer yazıyor"
// state'ine çevirir.
//
// Presence ephemeral'dir: persist edilmez, reconnect sonrası false'a
// sıfırlanır ve yeni bir sinyal gelene kadar öyle kalır.
type TypingService interface {
	// Watch, transferin typing topic'ine abone olur. ReportActivity /
	// ReportIdle çağrılmadan önce Watch edilmiş olmalıdır.
	Watch(ctx context.Context, transferID string) error

	// Unwatch, aboneliği bırakır ve transferin presence state'ini temizler.
	// Idempotent.
	Unwatch(ctx context.Context, transferID string) error

	// ReportActivity, lokal kullanıcının yazdığını bildirir.
	// 1000ms pencere başına en fazla bir broadcast üretir.
	ReportActivity(ctx context.Context, transferID string) error

	// ReportIdle, lokal kullanıcının yazmayı bıraktığını HEMEN bildirir
	// (throttle uygulanmaz).
	ReportIdle(ctx context.Context, transferID string) error

	// PeerTyping, karşı tarafın o an yazıp yazmadığını ve display
	// name'ini döner.
	PeerTyping(transferID string) (bool, string)

	// OnChange, peer typing state'i her değiştiğinde çağrılacak callback
	// kaydeder (UI "... yazıyor" göstergesi için).
	OnChange(fn func(transferID string, typing bool, name string))

	// Close, tüm abonelikleri bırakır ve bekleyen timer'ları iptal eder.
	// Idempotent — birden fazla çağrı güvenlidir.
	Close() error
}

// typingWatch, izlenen tek bir transferin presence durumu.
type typingWatch struct {
	sub *realtime.Subscription

	// limiter: Leading-edge throttle. rate.Limiter'a zaman AllowN ile
	// dışarıdan verilir — test'ler mock clock ile sanal zamanda ilerler.
	limiter *rate.Limiter

	// expiry: Peer typing auto-expiry timer'ı. Her yeni sinyal timer'ı
	// baştan başlatır (debounce-to-idle).
	expiry *clock.Timer

	peerTyping bool
	peerName   string

	// peerUserID: O an (veya en son) yazan remote kullanıcı. stop_typing
	// sadece bu kullanıcıdan gelirse state'i kapatır — başka bir remote'un
	// stop'u aktif typer'ın state'ini silemez.
	peerUserID string
}

type typingService struct {
	bus         EventBus
	clk         clock.Clock
	localUserID string
	displayName string

	// names: userID → display name cache'i. stop_typing sinyalleri isim
	// taşımadığı için isimler typing sinyallerinden hatırlanır.
	names *cache.TTLCache[string, string]

	mu       sync.Mutex
	watches  map[string]*typingWatch
	onChange func(transferID string, typing bool, name string)
	closed   bool
}

// NewTypingService, yeni bir typing presence tracker oluşturur.
//
// clk production'da clock.New(), test'lerde clock.NewMock() alır —
// throttle ve expiry timer'ları sanal zamanda deterministik test edilir
// (wall-clock sleep gerekmez).
func NewTypingService(bus EventBus, clk clock.Clock, localUserID, displayName string) TypingService {
	s := &typingService{
		bus:         bus,
		clk:         clk,
		localUserID: localUserID,
		displayName: displayName,
		names:       cache.New[string, string](nameCacheTTL, nameCacheCleanup),
		watches:     make(map[string]*typingWatch),
	}

	// Transport koptuğunda tüm peer state'leri sıfırlanır — presence
	// persist edilmez, kopukluk sırasındaki sinyaller kayıptır.
	bus.OnStateChange(func(st realtime.ConnState) {
		if st == realtime.StateReconnecting {
			s.resetAll()
		}
	})

	return s
}

func (s *typingService) Watch(ctx context.Context, transferID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return pkg.ErrClosed
	}
	if _, ok := s.watches[transferID]; ok {
		s.mu.Unlock()
		return nil
	}
	w := &typingWatch{
		limiter: rate.NewLimiter(rate.Every(typingThrottle), 1),
	}
	s.watches[transferID] = w
	s.mu.Unlock()

	sub, err := s.bus.Subscribe(ctx, realtime.TopicTyping(transferID), nil, func(ev realtime.Envelope) {
		s.handleSignal(transferID, ev)
	})
	if err != nil {
		s.mu.Lock()
		delete(s.watches, transferID)
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	w.sub = sub
	s.mu.Unlock()
	return nil
}

func (s *typingService) Unwatch(ctx context.Context, transferID string) error {
	s.mu.Lock()
	w, ok := s.watches[transferID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.watches, transferID)
	if w.expiry != nil {
		w.expiry.Stop()
	}
	// Bırakılan transferin typer ismi de unutulur — yeni bir typing
	// sinyali ismi yeniden taşır.
	if w.peerUserID != "" {
		s.names.Delete(w.peerUserID)
	}
	sub := w.sub
	s.mu.Unlock()

	if sub != nil {
		return s.bus.Unsubscribe(ctx, sub)
	}
	return nil
}

func (s *typingService) ReportActivity(ctx context.Context, transferID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return pkg.ErrClosed
	}
	w, ok := s.watches[transferID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: transfer %s is not watched", pkg.ErrBadRequest, transferID)
	}
	// AllowN'e zamanı explicit veriyoruz — limiter kendi time.Now()'ını
	// kullanmaz, mock clock testlerde sanal zamanda ilerletebilir.
	allowed := w.limiter.AllowN(s.clk.Now(), 1)
	s.mu.Unlock()

	if !allowed {
		// Pencere içindeki tekrar çağrı — bastırıldı, hata değil.
		return nil
	}

	return s.bus.Publish(ctx, realtime.TopicTyping(transferID), models.TypingKindStart, models.TypingSignal{
		TransferID: transferID,
		UserID:     s.localUserID,
		Name:       s.displayName,
		Kind:       models.TypingKindStart,
	})
}

func (s *typingService) ReportIdle(ctx context.Context, transferID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return pkg.ErrClosed
	}
	_, ok := s.watches[transferID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: transfer %s is not watched", pkg.ErrBadRequest, transferID)
	}

	return s.bus.Publish(ctx, realtime.TopicTyping(transferID), models.TypingKindStop, models.TypingSignal{
		TransferID: transferID,
		UserID:     s.localUserID,
		Kind:       models.TypingKindStop,
	})
}

func (s *typingService) PeerTyping(transferID string) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.watches[transferID]
	if !ok {
		return false, ""
	}
	return w.peerTyping, w.peerName
}

func (s *typingService) OnChange(fn func(transferID string, typing bool, name string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// handleSignal, remote typing sinyallerini işler.
//
// Lokal kullanıcının kendi sinyalleri yoksayılır (self-echo bastırma) —
// relay publisher'a da teslim eder, ayrımı burada yaparız.
func (s *typingService) handleSignal(transferID string, ev realtime.Envelope) {
	var sig models.TypingSignal
	if err := json.Unmarshal(ev.Data, &sig); err != nil || sig.UserID == "" {
		// Bozuk tek sinyal düşürülür, stream devam eder.
		log.Printf("[typing] malformed signal on %s dropped", transferID)
		return
	}

	if sig.UserID == s.localUserID {
		return
	}

	switch ev.Kind {
	case models.TypingKindStart:
		s.peerStarted(transferID, sig)
	case models.TypingKindStop:
		s.peerStopped(transferID, sig)
	default:
		log.Printf("[typing] unknown signal kind %q on %s", ev.Kind, transferID)
	}
}

// peerStarted, peer typing state'ini açar ve expiry timer'ını (yeniden)
// başlatar. Süresi içinde gelen her yeni sinyal timer'ı sıfırlar.
func (s *typingService) peerStarted(transferID string, sig models.TypingSignal) {
	s.mu.Lock()
	w, ok := s.watches[transferID]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}

	w.peerUserID = sig.UserID
	if sig.Name != "" {
		s.names.Set(sig.UserID, sig.Name)
		w.peerName = sig.Name
	} else if cached, ok := s.names.Get(sig.UserID); ok {
		w.peerName = cached
	} else {
		w.peerName = ""
	}

	changed := !w.peerTyping
	w.peerTyping = true

	if w.expiry != nil {
		w.expiry.Stop()
	}
	w.expiry = s.clk.AfterFunc(typingExpiry, func() {
		s.expirePeer(transferID)
	})

	fn := s.onChange
	name := w.peerName
	s.mu.Unlock()

	if changed && fn != nil {
		fn(transferID, true, name)
	}
}

// peerStopped, explicit stop_typing sinyalini işler: state'i kapatır ve
// bekleyen expiry timer'ını iptal eder. Sinyal o an yazan kullanıcıdan
// gelmiyorsa yoksayılır.
func (s *typingService) peerStopped(transferID string, sig models.TypingSignal) {
	s.mu.Lock()
	w, ok := s.watches[transferID]
	if !ok || sig.UserID != w.peerUserID {
		s.mu.Unlock()
		return
	}
	changed := w.peerTyping
	w.peerTyping = false
	if w.expiry != nil {
		w.expiry.Stop()
		w.expiry = nil
	}
	fn := s.onChange
	name := w.peerName
	s.mu.Unlock()

	if changed && fn != nil {
		fn(transferID, false, name)
	}
}

// expirePeer, expiry timer'ı dolduğunda çağrılır — peer sinyal yenilemedi.
func (s *typingService) expirePeer(transferID string) {
	s.mu.Lock()
	w, ok := s.watches[transferID]
	if !ok || !w.peerTyping {
		s.mu.Unlock()
		return
	}
	w.peerTyping = false
	w.expiry = nil
	fn := s.onChange
	name := w.peerName
	s.mu.Unlock()

	if fn != nil {
		fn(transferID, false, name)
	}
}

// resetAll, transport kopunca tüm peer state'lerini sıfırlar.
func (s *typingService) resetAll() {
	s.mu.Lock()
	type reset struct {
		transferID string
		name       string
	}
	var resets []reset
	for transferID, w := range s.watches {
		if w.expiry != nil {
			w.expiry.Stop()
			w.expiry = nil
		}
		if w.peerTyping {
			w.peerTyping = false
			resets = append(resets, reset{transferID, w.peerName})
		}
		w.peerUserID = ""
		w.peerName = ""
	}
	// Kopukluk sırasında öğrenilmiş isimler de ephemeral'dir — yeni
	// sinyaller isimleri yeniden taşır.
	s.names.Clear()
	fn := s.onChange
	s.mu.Unlock()

	for _, r := range resets {
		if fn != nil {
			fn(r.transferID, false, r.name)
		}
	}
}

func (s *typingService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	var subs []*realtime.Subscription
	for _, w := range s.watches {
		if w.expiry != nil {
			w.expiry.Stop()
		}
		if w.sub != nil {
			subs = append(subs, w.sub)
		}
	}
	s.watches = make(map[string]*typingWatch)
	s.mu.Unlock()

	ctx := context.Background()
	for _, sub := range subs {
		_ = s.bus.Unsubscribe(ctx, sub)
	}
	s.names.Close()
	return nil
}
