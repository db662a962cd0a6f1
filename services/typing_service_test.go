package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/kurye/models"
	"github.com/akinalp/kurye/pkg"
	"github.com/akinalp/kurye/realtime"
)

// fakeBus, service testleri için in-memory EventBus implementasyonu.
// Handler'lar ve state callback'leri senkron çağrılır — test akışı
// deterministiktir.
type fakeBus struct {
	mu        sync.Mutex
	handlers  map[string]realtime.Handler
	matchers  map[string]*realtime.Matcher
	subTopics map[*realtime.Subscription]string
	published []busPublish
	stateFns  []func(realtime.ConnState)
}

type busPublish struct {
	topic   string
	kind    string
	payload any
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		handlers:  make(map[string]realtime.Handler),
		matchers:  make(map[string]*realtime.Matcher),
		subTopics: make(map[*realtime.Subscription]string),
	}
}

func (b *fakeBus) Subscribe(ctx context.Context, topic string, matcher *realtime.Matcher, handler realtime.Handler) (*realtime.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	b.matchers[topic] = matcher
	sub := &realtime.Subscription{}
	b.subTopics[sub] = topic
	return sub, nil
}

func (b *fakeBus) Unsubscribe(ctx context.Context, sub *realtime.Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topic, ok := b.subTopics[sub]; ok {
		delete(b.handlers, topic)
		delete(b.matchers, topic)
		delete(b.subTopics, sub)
	}
	return nil
}

func (b *fakeBus) Publish(ctx context.Context, topic, kind string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, busPublish{topic: topic, kind: kind, payload: payload})
	return nil
}

func (b *fakeBus) OnStateChange(fn func(realtime.ConnState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stateFns = append(b.stateFns, fn)
}

// emit, topic'in handler'ına bir event teslim eder.
func (b *fakeBus) emit(t *testing.T, topic, kind string, payload any) {
	t.Helper()
	b.mu.Lock()
	handler := b.handlers[topic]
	b.mu.Unlock()
	require.NotNil(t, handler, "no handler registered for topic %s", topic)

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	handler(realtime.Envelope{Topic: topic, Kind: kind, Data: data})
}

// setState, kayıtlı tüm state callback'lerini tetikler.
func (b *fakeBus) setState(st realtime.ConnState) {
	b.mu.Lock()
	fns := make([]func(realtime.ConnState), len(b.stateFns))
	copy(fns, b.stateFns)
	b.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (b *fakeBus) publishes() []busPublish {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]busPublish, len(b.published))
	copy(out, b.published)
	return out
}

func newTypingFixture(t *testing.T) (*fakeBus, *clock.Mock, TypingService) {
	t.Helper()
	bus := newFakeBus()
	clk := clock.NewMock()
	svc := NewTypingService(bus, clk, "u-local", "Ayşe")
	t.Cleanup(func() { _ = svc.Close() })
	return bus, clk, svc
}

func TestTypingActivityThrottled(t *testing.T) {
	bus, clk, svc := newTypingFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.Watch(ctx, "t1"))

	// İlk çağrı hemen gönderir (leading edge).
	require.NoError(t, svc.ReportActivity(ctx, "t1"))
	require.Len(t, bus.publishes(), 1)

	// Pencere içindeki tekrar çağrılar bastırılır — hata değil.
	require.NoError(t, svc.ReportActivity(ctx, "t1"))
	clk.Add(500 * time.Millisecond)
	require.NoError(t, svc.ReportActivity(ctx, "t1"))
	require.Len(t, bus.publishes(), 1)

	// Pencere dolunca bir sonraki çağrı yine gönderir.
	clk.Add(500 * time.Millisecond)
	require.NoError(t, svc.ReportActivity(ctx, "t1"))

	pubs := bus.publishes()
	require.Len(t, pubs, 2)
	require.Equal(t, realtime.TopicTyping("t1"), pubs[0].topic)
	require.Equal(t, models.TypingKindStart, pubs[0].kind)

	sig, ok := pubs[0].payload.(models.TypingSignal)
	require.True(t, ok)
	require.Equal(t, "u-local", sig.UserID)
	require.Equal(t, "Ayşe", sig.Name)
}

func TestTypingThrottlePerTransfer(t *testing.T) {
	bus, _, svc := newTypingFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.Watch(ctx, "t1"))
	require.NoError(t, svc.Watch(ctx, "t2"))

	// Throttle transfer başınadır — farklı transferler birbirini etkilemez.
	require.NoError(t, svc.ReportActivity(ctx, "t1"))
	require.NoError(t, svc.ReportActivity(ctx, "t2"))
	require.Len(t, bus.publishes(), 2)
}

func TestTypingIdleNotThrottled(t *testing.T) {
	bus, _, svc := newTypingFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.Watch(ctx, "t1"))

	// stop_typing throttle'a takılmaz — her çağrı hemen gider.
	require.NoError(t, svc.ReportActivity(ctx, "t1"))
	require.NoError(t, svc.ReportIdle(ctx, "t1"))
	require.NoError(t, svc.ReportIdle(ctx, "t1"))

	pubs := bus.publishes()
	require.Len(t, pubs, 3)
	require.Equal(t, models.TypingKindStop, pubs[1].kind)
	require.Equal(t, models.TypingKindStop, pubs[2].kind)
}

func TestTypingRequiresWatch(t *testing.T) {
	_, _, svc := newTypingFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, svc.ReportActivity(ctx, "t1"), pkg.ErrBadRequest)
	require.ErrorIs(t, svc.ReportIdle(ctx, "t1"), pkg.ErrBadRequest)
}

func TestPeerTypingExpires(t *testing.T) {
	bus, clk, svc := newTypingFixture(t)
	ctx := context.Background()

	var changes []bool
	var mu sync.Mutex
	svc.OnChange(func(transferID string, typing bool, name string) {
		mu.Lock()
		changes = append(changes, typing)
		mu.Unlock()
	})

	require.NoError(t, svc.Watch(ctx, "t1"))

	bus.emit(t, realtime.TopicTyping("t1"), models.TypingKindStart, models.TypingSignal{
		TransferID: "t1", UserID: "u-peer", Name: "Mehmet", Kind: models.TypingKindStart,
	})

	typing, name := svc.PeerTyping("t1")
	require.True(t, typing)
	require.Equal(t, "Mehmet", name)

	// Sinyal yenilenmeden 3 saniye geçerse peer otomatik idle sayılır.
	clk.Add(3 * time.Second)

	typing, _ = svc.PeerTyping("t1")
	require.False(t, typing)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []bool{true, false}, changes)
}

func TestPeerTypingRefreshExtendsExpiry(t *testing.T) {
	bus, clk, svc := newTypingFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.Watch(ctx, "t1"))

	sig := models.TypingSignal{TransferID: "t1", UserID: "u-peer", Name: "Mehmet", Kind: models.TypingKindStart}
	bus.emit(t, realtime.TopicTyping("t1"), models.TypingKindStart, sig)

	// 2 saniye sonra yeni sinyal — expiry baştan başlar.
	clk.Add(2 * time.Second)
	bus.emit(t, realtime.TopicTyping("t1"), models.TypingKindStart, sig)

	clk.Add(2 * time.Second)
	typing, _ := svc.PeerTyping("t1")
	require.True(t, typing, "refreshed signal must extend the expiry window")

	clk.Add(1 * time.Second)
	typing, _ = svc.PeerTyping("t1")
	require.False(t, typing)
}

func TestPeerStopCancelsExpiry(t *testing.T) {
	bus, clk, svc := newTypingFixture(t)
	ctx := context.Background()

	var changeCount int
	var mu sync.Mutex
	svc.OnChange(func(string, bool, string) {
		mu.Lock()
		changeCount++
		mu.Unlock()
	})

	require.NoError(t, svc.Watch(ctx, "t1"))

	bus.emit(t, realtime.TopicTyping("t1"), models.TypingKindStart, models.TypingSignal{
		TransferID: "t1", UserID: "u-peer", Name: "Mehmet", Kind: models.TypingKindStart,
	})
	bus.emit(t, realtime.TopicTyping("t1"), models.TypingKindStop, models.TypingSignal{
		TransferID: "t1", UserID: "u-peer", Kind: models.TypingKindStop,
	})

	typing, name := svc.PeerTyping("t1")
	require.False(t, typing)
	// İsim stop sinyalinde taşınmaz ama cache'ten hatırlanır.
	require.Equal(t, "Mehmet", name)

	// Expiry timer'ı iptal edildi — zaman ilerleyince ek bir change olmamalı.
	clk.Add(5 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, changeCount)
}

func TestPeerStopFromDifferentUserIgnored(t *testing.T) {
	bus, _, svc := newTypingFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.Watch(ctx, "t1"))

	bus.emit(t, realtime.TopicTyping("t1"), models.TypingKindStart, models.TypingSignal{
		TransferID: "t1", UserID: "u-peer-1", Name: "Mehmet", Kind: models.TypingKindStart,
	})

	// İkinci bir remote kullanıcının stop'u aktif typer'ın state'ini
	// kapatamaz — stop sadece yazan kullanıcıdan gelirse geçerlidir.
	bus.emit(t, realtime.TopicTyping("t1"), models.TypingKindStop, models.TypingSignal{
		TransferID: "t1", UserID: "u-peer-2", Kind: models.TypingKindStop,
	})

	typing, name := svc.PeerTyping("t1")
	require.True(t, typing, "stop_typing from another user must not clear the typer's state")
	require.Equal(t, "Mehmet", name)

	// Typer'ın kendi stop'u state'i kapatır.
	bus.emit(t, realtime.TopicTyping("t1"), models.TypingKindStop, models.TypingSignal{
		TransferID: "t1", UserID: "u-peer-1", Kind: models.TypingKindStop,
	})
	typing, _ = svc.PeerTyping("t1")
	require.False(t, typing)
}

func TestPeerTypingIgnoresSelfEcho(t *testing.T) {
	bus, _, svc := newTypingFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.Watch(ctx, "t1"))

	// Relay publisher'a da teslim eder — lokal kullanıcının kendi
	// sinyali peer state'i etkilememeli.
	bus.emit(t, realtime.TopicTyping("t1"), models.TypingKindStart, models.TypingSignal{
		TransferID: "t1", UserID: "u-local", Name: "Ayşe", Kind: models.TypingKindStart,
	})

	typing, _ := svc.PeerTyping("t1")
	require.False(t, typing)
}

func TestPeerTypingResetOnReconnect(t *testing.T) {
	bus, clk, svc := newTypingFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.Watch(ctx, "t1"))

	bus.emit(t, realtime.TopicTyping("t1"), models.TypingKindStart, models.TypingSignal{
		TransferID: "t1", UserID: "u-peer", Name: "Mehmet", Kind: models.TypingKindStart,
	})
	typing, _ := svc.PeerTyping("t1")
	require.True(t, typing)

	// Bağlantı kopunca presence persist edilmez — state false'a döner ve
	// yeni bir sinyal gelene kadar öyle kalır.
	bus.setState(realtime.StateReconnecting)

	typing, _ = svc.PeerTyping("t1")
	require.False(t, typing)

	// Eski timer iptal edildi — zaman ilerlemesi panic/yarış üretmemeli.
	clk.Add(5 * time.Second)

	// Kopuşla isim cache'i de boşalır — isimsiz yeni sinyal isim getirmez.
	bus.emit(t, realtime.TopicTyping("t1"), models.TypingKindStart, models.TypingSignal{
		TransferID: "t1", UserID: "u-peer", Kind: models.TypingKindStart,
	})
	typing, name := svc.PeerTyping("t1")
	require.True(t, typing)
	require.Empty(t, name)
}

func TestTypingUnwatchClearsState(t *testing.T) {
	bus, _, svc := newTypingFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.Watch(ctx, "t1"))
	require.NoError(t, svc.Unwatch(ctx, "t1"))
	require.NoError(t, svc.Unwatch(ctx, "t1")) // idempotent

	typing, _ := svc.PeerTyping("t1")
	require.False(t, typing)

	bus.mu.Lock()
	_, subscribed := bus.handlers[realtime.TopicTyping("t1")]
	bus.mu.Unlock()
	require.False(t, subscribed, "unwatch must release the subscription")
}

func TestTypingUnwatchForgetsPeerName(t *testing.T) {
	bus, _, svc := newTypingFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.Watch(ctx, "t1"))
	bus.emit(t, realtime.TopicTyping("t1"), models.TypingKindStart, models.TypingSignal{
		TransferID: "t1", UserID: "u-peer", Name: "Mehmet", Kind: models.TypingKindStart,
	})
	require.NoError(t, svc.Unwatch(ctx, "t1"))

	// Unwatch typer'ın cache'lenmiş ismini düşürür — yeniden izlenen
	// transferde isim, yeni bir sinyal taşıyana kadar boştur.
	require.NoError(t, svc.Watch(ctx, "t1"))
	bus.emit(t, realtime.TopicTyping("t1"), models.TypingKindStart, models.TypingSignal{
		TransferID: "t1", UserID: "u-peer", Kind: models.TypingKindStart,
	})

	typing, name := svc.PeerTyping("t1")
	require.True(t, typing)
	require.Empty(t, name, "unwatch must drop the cached display name")
}

func TestTypingCloseIdempotent(t *testing.T) {
	_, _, svc := newTypingFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.Watch(ctx, "t1"))
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())

	require.ErrorIs(t, svc.Watch(ctx, "t2"), pkg.ErrClosed)
	require.ErrorIs(t, svc.ReportActivity(ctx, "t1"), pkg.ErrClosed)
}
