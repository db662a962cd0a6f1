// Package services, realtime katmanının iş mantığını barındırır:
// typing presence, unread sayacı ve bildirim dispatch'i.
//
// Service'ler Hub'ın concrete struct'ına değil, EventBus interface'ine
// bağımlıdır (Dependency Inversion). Böylece:
// 1. Service test edilirken fake bus kullanılabilir
// 2. Hub implementasyonu değişse bile service kodu etkilenmez
package services

import (
	"context"

	"github.com/akinalp/kurye/realtime"
)

// EventBus, service katmanının topic subscribe/publish ihtiyacını soyutlar.
// realtime.Hub bu interface'i karşılar (Go'da interface'ler implicit'tir).
type EventBus interface {
	Subscribe(ctx context.Context, topic string, matcher *realtime.Matcher, handler realtime.Handler) (*realtime.Subscription, error)
	Unsubscribe(ctx context.Context, sub *realtime.Subscription) error
	Publish(ctx context.Context, topic, kind string, payload any) error
	OnStateChange(fn func(realtime.ConnState))
}
