package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/akinalp/kurye/models"
	"github.com/akinalp/kurye/pkg"
	"github.com/akinalp/kurye/realtime"
)

// fakeTransferRepo, transfer sahipliği lookup'ı için in-memory repo.
type fakeTransferRepo struct {
	mu        sync.Mutex
	transfers map[string]*models.Transfer
	getErr    error
}

func newFakeTransferRepo() *fakeTransferRepo {
	return &fakeTransferRepo{transfers: make(map[string]*models.Transfer)}
}

func (r *fakeTransferRepo) GetByID(ctx context.Context, transferID string) (*models.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	transfer, ok := r.transfers[transferID]
	if !ok {
		return nil, fmt.Errorf("%w: transfer %s", pkg.ErrNotFound, transferID)
	}
	return transfer, nil
}

func (r *fakeTransferRepo) Create(ctx context.Context, transfer *models.Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers[transfer.ID] = transfer
	return nil
}

// fakeNotifier, surface edilen bildirimleri toplar.
type fakeNotifier struct {
	mu   sync.Mutex
	recs []models.NotificationRecord
}

func (n *fakeNotifier) Surface(rec models.NotificationRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recs = append(n.recs, rec)
}

func (n *fakeNotifier) all() []models.NotificationRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.NotificationRecord, len(n.recs))
	copy(out, n.recs)
	return out
}

// fakeEmailSender, gönderilen email'leri toplar.
type fakeEmailSender struct {
	mu   sync.Mutex
	sent []string // reference listesi
}

func (s *fakeEmailSender) SendTransferNotification(ctx context.Context, toEmail, reference, preview string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, reference)
	return nil
}

func (s *fakeEmailSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type notifyFixture struct {
	bus       *fakeBus
	transfers *fakeTransferRepo
	unread    UnreadService
	notifier  *fakeNotifier
	svc       NotificationService
}

func newNotifyFixture(t *testing.T, role models.Role) *notifyFixture {
	t.Helper()
	f := &notifyFixture{
		bus:       newFakeBus(),
		transfers: newFakeTransferRepo(),
		notifier:  &fakeNotifier{},
	}
	f.unread = NewUnreadService(&fakeMessageRepo{}, "u-local")
	f.svc = NewNotificationService(f.bus, f.transfers, f.unread, f.notifier, "u-local", role, nil, "")
	return f
}

// insertEvent, bir mesaj INSERT change event'i üretir.
func insertEvent(t *testing.T, msg models.Message) models.ChangeEvent {
	t.Helper()
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	return models.ChangeEvent{
		ID:      "ev-" + msg.ID,
		Type:    models.EventInsert,
		Entity:  "messages",
		Payload: payload,
	}
}

func TestDispatchRelevantMessage(t *testing.T) {
	f := newNotifyFixture(t, models.RoleCustomer)
	require.NoError(t, f.transfers.Create(context.Background(), &models.Transfer{
		ID: "t1", OwnerUserID: "u-local", Reference: "TRF-2025-0042",
	}))

	var relevantIDs []string
	f.svc.OnRelevant(func(transferID string) {
		relevantIDs = append(relevantIDs, transferID)
	})

	ev := insertEvent(t, models.Message{
		ID: "m1", TransferID: "t1", SenderUserID: "u-op", IsFromOperator: true, Body: "Merhaba",
	})
	require.NoError(t, f.svc.Dispatch(context.Background(), ev))

	require.Equal(t, 1, f.unread.Count())
	recs := f.notifier.all()
	require.Len(t, recs, 1)
	require.Equal(t, "u-local", recs[0].RecipientUserID)
	require.Equal(t, "t1", recs[0].TransferID)
	require.Contains(t, recs[0].Title, "TRF-2025-0042")
	require.Equal(t, "Merhaba", recs[0].Message)
	require.Equal(t, models.SeverityInfo, recs[0].Severity)
	require.NotEmpty(t, recs[0].ID)
	require.Equal(t, []string{"t1"}, relevantIDs)
}

func TestDispatchTruncatesLongBody(t *testing.T) {
	f := newNotifyFixture(t, models.RoleCustomer)
	require.NoError(t, f.transfers.Create(context.Background(), &models.Transfer{
		ID: "t1", OwnerUserID: "u-local", Reference: "TRF-1",
	}))

	longBody := strings.Repeat("a", 500)
	ev := insertEvent(t, models.Message{
		ID: "m1", TransferID: "t1", SenderUserID: "u-op", IsFromOperator: true, Body: longBody,
	})
	require.NoError(t, f.svc.Dispatch(context.Background(), ev))

	recs := f.notifier.all()
	require.Len(t, recs, 1)
	require.Equal(t, notificationPreviewLimit+1, len([]rune(recs[0].Message)))
	require.True(t, strings.HasSuffix(recs[0].Message, "…"))
}

func TestDispatchIgnoresUpdatesAndDeletes(t *testing.T) {
	f := newNotifyFixture(t, models.RoleCustomer)
	require.NoError(t, f.transfers.Create(context.Background(), &models.Transfer{
		ID: "t1", OwnerUserID: "u-local", Reference: "TRF-1",
	}))

	payload, err := json.Marshal(models.Message{
		ID: "m1", TransferID: "t1", SenderUserID: "u-op", IsFromOperator: true, Body: "x",
	})
	require.NoError(t, err)

	// read_flag güncellemeleri ve silmeler bildirim üretmez.
	for _, typ := range []models.EventType{models.EventUpdate, models.EventDelete} {
		ev := models.ChangeEvent{ID: "ev1", Type: typ, Entity: "messages", Payload: payload}
		require.NoError(t, f.svc.Dispatch(context.Background(), ev))
	}

	require.Zero(t, f.unread.Count())
	require.Empty(t, f.notifier.all())
}

func TestDispatchIgnoresOwnMessages(t *testing.T) {
	f := newNotifyFixture(t, models.RoleCustomer)
	require.NoError(t, f.transfers.Create(context.Background(), &models.Transfer{
		ID: "t1", OwnerUserID: "u-local", Reference: "TRF-1",
	}))

	ev := insertEvent(t, models.Message{
		ID: "m1", TransferID: "t1", SenderUserID: "u-local", IsFromOperator: false, Body: "benim mesajım",
	})
	require.NoError(t, f.svc.Dispatch(context.Background(), ev))

	require.Zero(t, f.unread.Count())
	require.Empty(t, f.notifier.all())
}

func TestDispatchFiltersByDirection(t *testing.T) {
	// Müşteri sadece operatör mesajlarıyla ilgilenir.
	f := newNotifyFixture(t, models.RoleCustomer)
	require.NoError(t, f.transfers.Create(context.Background(), &models.Transfer{
		ID: "t1", OwnerUserID: "u-local", Reference: "TRF-1",
	}))

	ev := insertEvent(t, models.Message{
		ID: "m1", TransferID: "t1", SenderUserID: "u-other", IsFromOperator: false, Body: "x",
	})
	require.NoError(t, f.svc.Dispatch(context.Background(), ev))
	require.Empty(t, f.notifier.all())
}

func TestDispatchFiltersByOwnership(t *testing.T) {
	f := newNotifyFixture(t, models.RoleCustomer)
	require.NoError(t, f.transfers.Create(context.Background(), &models.Transfer{
		ID: "t1", OwnerUserID: "u-someone-else", Reference: "TRF-1",
	}))

	ev := insertEvent(t, models.Message{
		ID: "m1", TransferID: "t1", SenderUserID: "u-op", IsFromOperator: true, Body: "x",
	})
	require.NoError(t, f.svc.Dispatch(context.Background(), ev))

	require.Zero(t, f.unread.Count())
	require.Empty(t, f.notifier.all())
}

func TestDispatchDropsDeletedTransferSilently(t *testing.T) {
	f := newNotifyFixture(t, models.RoleCustomer)

	// Transfer yok — event eski bir satıra ait olabilir, hata DEĞİL.
	ev := insertEvent(t, models.Message{
		ID: "m1", TransferID: "t-gone", SenderUserID: "u-op", IsFromOperator: true, Body: "x",
	})
	require.NoError(t, f.svc.Dispatch(context.Background(), ev))
	require.Empty(t, f.notifier.all())
}

func TestDispatchReturnsLookupError(t *testing.T) {
	f := newNotifyFixture(t, models.RoleCustomer)
	f.transfers.mu.Lock()
	f.transfers.getErr = fmt.Errorf("%w: connection refused", pkg.ErrLookup)
	f.transfers.mu.Unlock()

	ev := insertEvent(t, models.Message{
		ID: "m1", TransferID: "t1", SenderUserID: "u-op", IsFromOperator: true, Body: "x",
	})
	require.ErrorIs(t, f.svc.Dispatch(context.Background(), ev), pkg.ErrLookup)
	require.Empty(t, f.notifier.all())
}

func TestDispatchRejectsMalformedPayload(t *testing.T) {
	f := newNotifyFixture(t, models.RoleCustomer)

	ev := models.ChangeEvent{
		ID:      "ev1",
		Type:    models.EventInsert,
		Entity:  "messages",
		Payload: json.RawMessage(`{"transfer_id": ""}`),
	}
	require.ErrorIs(t, f.svc.Dispatch(context.Background(), ev), pkg.ErrMalformedEvent)

	ev.Payload = json.RawMessage(`not json`)
	require.ErrorIs(t, f.svc.Dispatch(context.Background(), ev), pkg.ErrMalformedEvent)
}

func TestDispatchDuplicateEventsDoubleCount(t *testing.T) {
	f := newNotifyFixture(t, models.RoleCustomer)
	require.NoError(t, f.transfers.Create(context.Background(), &models.Transfer{
		ID: "t1", OwnerUserID: "u-local", Reference: "TRF-1",
	}))

	// Dedupe yapılmaz — duplicate teslim sayacı şişirir, bir sonraki
	// resync otoritatif değerle düzeltir.
	ev := insertEvent(t, models.Message{
		ID: "m1", TransferID: "t1", SenderUserID: "u-op", IsFromOperator: true, Body: "x",
	})
	require.NoError(t, f.svc.Dispatch(context.Background(), ev))
	require.NoError(t, f.svc.Dispatch(context.Background(), ev))

	require.Equal(t, 2, f.unread.Count())
	require.Len(t, f.notifier.all(), 2)

	require.NoError(t, f.unread.Resync(context.Background()))
	require.Zero(t, f.unread.Count())
}

func TestOperatorRoleWantsCustomerMessages(t *testing.T) {
	f := newNotifyFixture(t, models.RoleOperator)
	fx := &models.Transfer{ID: "t1", OwnerUserID: "u-local", Reference: "TRF-1"}
	require.NoError(t, f.transfers.Create(context.Background(), fx))

	// Operatör için qualifying yön müşteri-yazımlı mesajlardır.
	ev := insertEvent(t, models.Message{
		ID: "m1", TransferID: "t1", SenderUserID: "u-cust", IsFromOperator: false, Body: "x",
	})
	require.NoError(t, f.svc.Dispatch(context.Background(), ev))
	require.Len(t, f.notifier.all(), 1)

	ev = insertEvent(t, models.Message{
		ID: "m2", TransferID: "t1", SenderUserID: "u-op2", IsFromOperator: true, Body: "x",
	})
	require.NoError(t, f.svc.Dispatch(context.Background(), ev))
	require.Len(t, f.notifier.all(), 1)
}

func TestStartSubscribesAndDispatches(t *testing.T) {
	f := newNotifyFixture(t, models.RoleCustomer)
	require.NoError(t, f.transfers.Create(context.Background(), &models.Transfer{
		ID: "t1", OwnerUserID: "u-local", Reference: "TRF-1",
	}))

	require.NoError(t, f.svc.Start(context.Background()))
	require.NoError(t, f.svc.Start(context.Background())) // idempotent

	// Matcher relay tarafında entity'yi daraltır.
	f.bus.mu.Lock()
	matcher := f.bus.matchers[realtime.TopicMessages]
	f.bus.mu.Unlock()
	require.NotNil(t, matcher)
	require.Equal(t, "messages", matcher.Entity)

	ev := insertEvent(t, models.Message{
		ID: "m1", TransferID: "t1", SenderUserID: "u-op", IsFromOperator: true, Body: "x",
	})
	f.bus.emit(t, realtime.TopicMessages, realtime.KindChange, ev)

	require.Equal(t, 1, f.unread.Count())
	require.Len(t, f.notifier.all(), 1)

	require.NoError(t, f.svc.Stop(context.Background()))
	require.NoError(t, f.svc.Stop(context.Background()))

	f.bus.mu.Lock()
	_, subscribed := f.bus.handlers[realtime.TopicMessages]
	f.bus.mu.Unlock()
	require.False(t, subscribed)
}

func TestOnRelevantRegistrationDuringDispatch(t *testing.T) {
	f := newNotifyFixture(t, models.RoleCustomer)
	require.NoError(t, f.transfers.Create(context.Background(), &models.Transfer{
		ID: "t1", OwnerUserID: "u-local", Reference: "TRF-1",
	}))
	require.NoError(t, f.svc.Start(context.Background()))

	// Callback kaydı dispatch handler'ı ile eşzamanlı koşabilir — kayıt
	// mutex altındadır, yarış üretmemeli.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			f.svc.OnRelevant(func(string) {})
		}
	}()

	for i := 0; i < 50; i++ {
		ev := insertEvent(t, models.Message{
			ID: fmt.Sprintf("m%d", i), TransferID: "t1", SenderUserID: "u-op", IsFromOperator: true, Body: "x",
		})
		f.bus.emit(t, realtime.TopicMessages, realtime.KindChange, ev)
	}
	<-done

	require.Equal(t, 50, f.unread.Count())
}

func TestStartConcurrentOpensSingleSubscription(t *testing.T) {
	f := newNotifyFixture(t, models.RoleCustomer)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.svc.Start(context.Background())
		}()
	}
	wg.Wait()

	f.bus.mu.Lock()
	subCount := len(f.bus.subTopics)
	f.bus.mu.Unlock()
	require.Equal(t, 1, subCount, "concurrent Start must open a single subscription")
}

func TestDispatchSendsEmailWhenConfigured(t *testing.T) {
	bus := newFakeBus()
	transfers := newFakeTransferRepo()
	notifier := &fakeNotifier{}
	unread := NewUnreadService(&fakeMessageRepo{}, "u-local")
	sender := &fakeEmailSender{}

	svc := NewNotificationService(bus, transfers, unread, notifier, "u-local", models.RoleCustomer, sender, "ayse@example.com")

	require.NoError(t, transfers.Create(context.Background(), &models.Transfer{
		ID: "t1", OwnerUserID: "u-local", Reference: "TRF-1",
	}))

	ev := insertEvent(t, models.Message{
		ID: "m1", TransferID: "t1", SenderUserID: "u-op", IsFromOperator: true, Body: "x",
	})
	require.NoError(t, svc.Dispatch(context.Background(), ev))

	// Email async gönderilir — dispatch'i bloklamaz.
	require.Eventually(t, func() bool {
		return sender.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
