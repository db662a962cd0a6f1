// Package pkg, projede paylaşılan utility'leri barındırır.
// Bu dosya domain-level error tanımlarını içerir.
//
// Go'da error'lar basit değerlerdir (string taşıyan struct'lar).
// errors.New() ile sabit error değişkenleri tanımlarız.
// Böylece error karşılaştırması string yerine referans ile yapılır:
//
//	if errors.Is(err, pkg.ErrLookup) { ... }
//
// Bu, typo'ya açık string karşılaştırmasından çok daha güvenlidir.
package pkg

import "errors"

// Domain-level error'lar.
//
// Bu katmanda hiçbir error process'i öldürmez — en kötü sonuç kaçırılmış
// bir bildirim veya bayat bir unread sayısıdır; ikisi de bir sonraki
// başarılı resync veya reconnect ile düzelir.
var (
	// ErrTransport: subscription koptu veya transport'a yazılamadı.
	// Recoverable — Reconnecting state'ini tetikler, kullanıcıya gösterilmez.
	ErrTransport = errors.New("transport error")

	// ErrLookup: transfer sahibi veya unread count sorgusu başarısız.
	// Recoverable — event düşürülür / sayaç değişmez, sadece log'lanır.
	ErrLookup = errors.New("lookup failed")

	// ErrMalformedEvent: payload zorunlu alanları taşımıyor.
	// Tek event düşürülür, stream devam eder — bir bozuk event için
	// subscription asla kapatılmaz.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrClosed: kapatılmış bir hub/subscription/service üzerinde işlem.
	ErrClosed = errors.New("already closed")

	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
)
