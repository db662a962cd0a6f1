package services

import (
	"context"
	"log"
	"sync"

	"github.com/akinalp/kurye/repository"
)

// UnreadService, lokal kullanıcıya adreslenmiş okunmamış mesajların
// sayacını tutar.
//
// Sayaç iki kaynaktan beslenir:
// 1. Resync — veritabanındaki otoritatif sayıyı çeker (startup ve
//    reconnect sonrası; realtime akış kopukken olanları yakalamak için)
// 2. Increment — dispatcher relevant bir mesaj teslim ettiğinde +1
//
// Resync her zaman kazanır (last-writer-wins): dönen otoritatif değer,
// aradaki increment'lerin üzerine yazılır. İki kaynak arasında çift
// sayma teorik olarak mümkündür ama resync ile kendini düzeltir.
type UnreadService interface {
	// Count, mevcut sayacı döner. Hiç Resync çağrılmadıysa 0'dır.
	Count() int

	// Increment, sayacı bir artırır. Dispatcher tarafından çağrılır.
	Increment()

	// Resync, otoritatif sayıyı veritabanından çekip sayacın üzerine
	// yazar. Hata durumunda mevcut sayaç korunur.
	Resync(ctx context.Context) error

	// MarkRead, bir transferin mesajlarını okunmuş işaretler ve ardından
	// Resync tetikler — sayaç lokal tahminle değil otoritatif değerle düşer.
	MarkRead(ctx context.Context, transferID string) error

	// OnChange, sayaç her değiştiğinde yeni değerle çağrılacak callback
	// kaydeder (badge render'ı için).
	OnChange(fn func(count int))
}

type unreadService struct {
	messages repository.MessageRepository
	userID   string

	mu       sync.Mutex
	count    int
	onChange func(count int)
}

// NewUnreadService, yeni bir unread counter oluşturur. İlk değer 0'dır;
// otoritatif değer için çağıran startup'ta Resync çağırmalıdır.
func NewUnreadService(messages repository.MessageRepository, userID string) UnreadService {
	return &unreadService{
		messages: messages,
		userID:   userID,
	}
}

func (s *unreadService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *unreadService) Increment() {
	s.mu.Lock()
	s.count++
	fn := s.onChange
	n := s.count
	s.mu.Unlock()

	if fn != nil {
		fn(n)
	}
}

func (s *unreadService) Resync(ctx context.Context) error {
	n, err := s.messages.CountUnread(ctx, s.userID)
	if err != nil {
		log.Printf("[unread] resync failed, keeping count: %v", err)
		return err
	}
	if n < 0 {
		// Sayaç hiçbir koşulda negatif gösterilmez.
		n = 0
	}

	s.mu.Lock()
	changed := s.count != n
	s.count = n
	fn := s.onChange
	s.mu.Unlock()

	if changed && fn != nil {
		fn(n)
	}
	return nil
}

func (s *unreadService) MarkRead(ctx context.Context, transferID string) error {
	if err := s.messages.MarkTransferRead(ctx, s.userID, transferID); err != nil {
		return err
	}
	return s.Resync(ctx)
}

func (s *unreadService) OnChange(fn func(count int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}
