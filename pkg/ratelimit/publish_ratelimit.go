// Package ratelimit — PublishRateLimiter: relay'e publish flood'una karşı
// kullanıcı bazlı rate limiting.
//
// Tasarım:
// - Her kullanıcı için sliding window ile publish sayısı takip edilir.
// - Window içinde maxPublishes aşılırsa cooldown başlar: ceza süresi
//   boyunca kullanıcının tüm publish frame'leri düşürülür.
// - Cooldown bitince window sıfırlanır, kullanıcı tekrar publish edebilir.
// - Background goroutine ile süresi dolmuş bucket'lar temizlenir (memory leak engeli).
//
// Neden in-memory?
// - Relay tek instance çalışır; Redis bağımlılığı eklemek gereksiz.
// - sync.RWMutex ile thread-safe: RLock okuma, Lock yazma.
//
// Neden ayrı paket?
// Rate limiter relay'e özgü değildir ve hiçbir proje içi pakete bağımlı
// değildir (leaf dependency).
package ratelimit

import (
	"sync"
	"time"
)

// publishBucket, bir kullanıcı için publish sayacı ve cooldown bilgisi tutar.
//
// İki durumlu:
// 1. Normal mod: count artırılır, windowStart bazlı pencere kontrolü.
// 2. Cooldown mod: cooldownUntil > now → tüm publish'ler reddedilir.
type publishBucket struct {
	count         int
	windowStart   time.Time
	cooldownUntil time.Time // zero value = cooldown yok
}

// PublishRateLimiter, kullanıcı bazlı publish flood koruması.
//
// maxPublishes: Bir window içinde izin verilen maksimum publish sayısı.
// window: Sayaç pencere süresi (örn: 5 saniye).
// cooldown: Limit aşıldığında uygulanan ceza süresi (örn: 15 saniye).
//
// Typing presence saniyede en fazla bir sinyal üretir (client tarafı
// throttle), yani dürüst bir client limite hiç takılmaz — limiter
// bozuk veya kötü niyetli client'lara karşıdır.
//
// Kullanım:
//
//	limiter := NewPublishRateLimiter(10, 5*time.Second, 15*time.Second)
//	// Publish frame'inde:
//	if !limiter.Allow(userID) { /* frame düşürülür */ }
type PublishRateLimiter struct {
	mu           sync.RWMutex
	buckets      map[string]*publishBucket
	maxPublishes int
	window       time.Duration
	cooldown     time.Duration
	stopCleanup  chan struct{}
	stopOnce     sync.Once
}

// NewPublishRateLimiter, yeni publish rate limiter oluşturur ve arka plan
// temizleme goroutine'ini başlatır.
func NewPublishRateLimiter(maxPublishes int, window, cooldown time.Duration) *PublishRateLimiter {
	rl := &PublishRateLimiter{
		buckets:      make(map[string]*publishBucket),
		maxPublishes: maxPublishes,
		window:       window,
		cooldown:     cooldown,
		stopCleanup:  make(chan struct{}),
	}

	// Background cleanup — süresi dolmuş bucket'ları temizler.
	// Bucket'lar kısa ömürlüdür (window + cooldown), ama çok sayıda
	// bağlantıda bellek birikmesini önlemek için gerekli.
	go rl.cleanupLoop()

	return rl
}

// Allow, verilen kullanıcının publish etmesine izin verilip verilmediğini
// kontrol eder.
//
// Akış:
// 1. Cooldown'daysa → reject (cooldown bitmeden hiçbir publish geçmez).
// 2. Window dolmuşsa → yeni pencere başlat.
// 3. Window içindeyse → count artır, max aşıldıysa cooldown başlat.
func (rl *PublishRateLimiter) Allow(userID string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[userID]
	if !exists {
		rl.buckets[userID] = &publishBucket{count: 1, windowStart: now}
		return true
	}

	// Cooldown'da mıyız?
	if !b.cooldownUntil.IsZero() && now.Before(b.cooldownUntil) {
		return false
	}

	// Cooldown bittiyse → yeni pencere başlat
	if !b.cooldownUntil.IsZero() {
		b.count = 1
		b.windowStart = now
		b.cooldownUntil = time.Time{}
		return true
	}

	// Window süresi dolmuş mu?
	if now.Sub(b.windowStart) > rl.window {
		b.count = 1
		b.windowStart = now
		return true
	}

	b.count++
	if b.count > rl.maxPublishes {
		b.cooldownUntil = now.Add(rl.cooldown)
		return false
	}

	return true
}

// CooldownSeconds, kalan cooldown süresini saniye cinsinden döner.
// Cooldown yoksa 0 döner.
func (rl *PublishRateLimiter) CooldownSeconds(userID string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	b, exists := rl.buckets[userID]
	if !exists || b.cooldownUntil.IsZero() {
		return 0
	}

	remaining := time.Until(b.cooldownUntil)
	if remaining <= 0 {
		return 0
	}

	// +1 yuvarlama — client'ın tam süreyi beklemesi için
	return int(remaining.Seconds()) + 1
}

// Close, temizleme goroutine'ini durdurur. Idempotent.
func (rl *PublishRateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// cleanupLoop, arka planda süresi dolmuş bucket'ları temizler.
// Her 30 saniyede bir çalışır.
func (rl *PublishRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup, süresi dolmuş tüm bucket'ları siler.
//
// Silme koşulu: hem window süresi geçmiş hem cooldown bitmiş.
// Bu, cooldown'daki kullanıcıların bucket'ını yanlışlıkla silmeyi önler.
func (rl *PublishRateLimiter) cleanup() {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for userID, b := range rl.buckets {
		windowExpired := now.Sub(b.windowStart) > rl.window
		cooldownExpired := b.cooldownUntil.IsZero() || now.After(b.cooldownUntil)

		if windowExpired && cooldownExpired {
			delete(rl.buckets, userID)
		}
	}
}
