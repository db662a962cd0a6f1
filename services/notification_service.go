package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/akinalp/kurye/models"
	"github.com/akinalp/kurye/pkg"
	"github.com/akinalp/kurye/pkg/email"
	"github.com/akinalp/kurye/realtime"
	"github.com/akinalp/kurye/repository"
)

// notificationPreviewLimit: Surface edilen bildirimde mesaj gövdesinin
// gösterilen maksimum uzunluğu. Tam gövde bildirimde taşınmaz — kullanıcı
// transferi açınca görür.
const notificationPreviewLimit = 140

// Notifier, relevant bulunan bildirimlerin kullanıcıya gösterilme
// noktasıdır. Presentation katmanı (toast, badge, OS notification)
// bu interface'i implement eder — dispatcher NASIL gösterileceğini bilmez.
type Notifier interface {
	Surface(rec models.NotificationRecord)
}

// NotificationService, mesaj change feed'ini dinler ve lokal kullanıcıyı
// ilgilendiren INSERT'leri bildirime çevirir.
//
// Akış: change event → payload parse → transfer lookup (sahiplik) →
// relevance filtresi → unread increment + Surface.
//
// Event payload'ı gönderen KULLANICININ id'sini taşır ama transferin
// SAHİBİNİ taşımaz — sahiplik her event'te veritabanından çözülür
// (two-step lookup). Transfer bulunamazsa event sessizce düşürülür:
// silinmiş transferin mesajı bildirim üretmez.
type NotificationService interface {
	// Start, mesaj change feed topic'ine abone olur ve dispatch
	// döngüsünü başlatır.
	Start(ctx context.Context) error

	// Dispatch, tek bir change event'ini işler. Normalde Start'ın
	// kurduğu subscription üzerinden çağrılır; embedder kendi event
	// kaynağını bağlamak isterse doğrudan da çağırabilir.
	Dispatch(ctx context.Context, ev models.ChangeEvent) error

	// OnRelevant, relevant bir mesaj işlendiğinde transfer id'si ile
	// çağrılacak callback kaydeder (açık transfer view'ının mesaj
	// listesini tazelemesi için).
	OnRelevant(fn func(transferID string))

	// Stop, subscription'ı bırakır. Idempotent.
	Stop(ctx context.Context) error
}

type notificationService struct {
	bus       EventBus
	transfers repository.TransferRepository
	unread    UnreadService
	notifier  Notifier

	localUserID string
	role        models.Role

	// emailSender nil olabilir — offline email bildirimi opsiyoneldir.
	emailSender email.EmailSender
	localEmail  string

	// mu: sub ve onRelevant'ı korur — Start/Stop/OnRelevant çağıran
	// goroutine ile hub'ın topic actor'ünde koşan dispatch handler'ı
	// aynı alanlara erişir.
	mu         sync.Mutex
	sub        *realtime.Subscription
	starting   bool
	onRelevant func(transferID string)
}

// NewNotificationService, yeni bir dispatcher oluşturur.
//
// role, relevance filtresinin yönünü belirler: müşteri operatör
// mesajlarıyla, operatör müşteri mesajlarıyla ilgilenir.
// emailSender nil verilirse email bildirimi atlanır.
func NewNotificationService(
	bus EventBus,
	transfers repository.TransferRepository,
	unread UnreadService,
	notifier Notifier,
	localUserID string,
	role models.Role,
	emailSender email.EmailSender,
	localEmail string,
) NotificationService {
	return &notificationService{
		bus:         bus,
		transfers:   transfers,
		unread:      unread,
		notifier:    notifier,
		localUserID: localUserID,
		role:        role,
		emailSender: emailSender,
		localEmail:  localEmail,
	}
}

func (s *notificationService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.sub != nil || s.starting {
		s.mu.Unlock()
		return nil
	}
	// starting bayrağı Subscribe sürerken ikinci bir Start'ın çift
	// abonelik açmasını engeller — lock Subscribe boyunca tutulmaz.
	s.starting = true
	s.mu.Unlock()

	// Matcher relay tarafında sadece entity'yi daraltır — relevance
	// (sahiplik + yön) client tarafında çözülür, çünkü relay transferin
	// sahibini bilmez.
	matcher := &realtime.Matcher{Entity: "messages"}

	sub, err := s.bus.Subscribe(ctx, realtime.TopicMessages, matcher, func(env realtime.Envelope) {
		if env.Kind != realtime.KindChange {
			return
		}

		var ev models.ChangeEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			log.Printf("[notify] malformed change event dropped: %v", err)
			return
		}

		// Handler hub'ın topic actor'ünde koşar — dispatch hatası stream'i
		// durdurmaz, loglanır ve sonraki event'e geçilir.
		if err := s.Dispatch(context.Background(), ev); err != nil {
			log.Printf("[notify] dispatch failed for event %s: %v", ev.ID, err)
		}
	})
	s.mu.Lock()
	s.starting = false
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.sub = sub
	s.mu.Unlock()
	return nil
}

func (s *notificationService) Dispatch(ctx context.Context, ev models.ChangeEvent) error {
	// Sadece yeni mesajlar bildirim üretir. UPDATE (read_flag değişimi)
	// ve DELETE sessizce yoksayılır.
	if ev.Type != models.EventInsert {
		return nil
	}
	if ev.Entity != "messages" {
		return nil
	}

	var msg models.Message
	if err := json.Unmarshal(ev.Payload, &msg); err != nil || msg.TransferID == "" {
		return fmt.Errorf("%w: message payload in event %s", pkg.ErrMalformedEvent, ev.ID)
	}

	// Kendi gönderdiğimiz mesaj bildirim üretmez.
	if msg.SenderUserID == s.localUserID {
		return nil
	}

	// Yön filtresi: müşteri operatör mesajlarını, operatör müşteri
	// mesajlarını görür.
	if msg.IsFromOperator != s.role.WantsOperatorAuthored() {
		return nil
	}

	transfer, err := s.transfers.GetByID(ctx, msg.TransferID)
	if err != nil {
		if errors.Is(err, pkg.ErrNotFound) {
			// Transfer silinmiş — event eski bir satıra ait, düşür.
			return nil
		}
		return err
	}

	// Sahiplik: sadece lokal kullanıcının transferleri relevant'tır.
	if transfer.OwnerUserID != s.localUserID {
		return nil
	}

	s.unread.Increment()

	rec := models.NotificationRecord{
		ID:              uuid.NewString(),
		RecipientUserID: s.localUserID,
		TransferID:      transfer.ID,
		Title:           fmt.Sprintf("New message — transfer %s", transfer.Reference),
		Message:         truncate(msg.Body, notificationPreviewLimit),
		Severity:        models.SeverityInfo,
	}
	s.notifier.Surface(rec)

	s.mu.Lock()
	fn := s.onRelevant
	s.mu.Unlock()
	if fn != nil {
		fn(transfer.ID)
	}

	if s.emailSender != nil && s.localEmail != "" {
		// Email yavaş bir dış çağrıdır — dispatch'i bloklamaz.
		go func() {
			if err := s.emailSender.SendTransferNotification(context.Background(), s.localEmail, transfer.Reference, rec.Message); err != nil {
				log.Printf("[notify] email send failed for transfer %s: %v", transfer.ID, err)
			}
		}()
	}

	return nil
}

func (s *notificationService) OnRelevant(fn func(transferID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRelevant = fn
}

func (s *notificationService) Stop(ctx context.Context) error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub == nil {
		return nil
	}
	return s.bus.Unsubscribe(ctx, sub)
}

// truncate, s'i en fazla n rune'a kısaltır ve kısaltma olduysa "…" ekler.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
