// Package handlers, HTTP endpoint'lerinin request/response katmanını barındırır.
//
// Handler'lar sadece şunları yapar:
// 1. Request'i parse et (body, path parametreleri)
// 2. Context'ten claims'i al
// 3. Repository/hub'ı çağır
// 4. Yanıtı pkg.JSON / pkg.Error ile yaz
//
// İş mantığı handler'larda DEĞİL, service/repository katmanında yaşar.
package handlers

// contextKey, context.WithValue için özel tip.
// string yerine özel tip kullanmak paketler arası key çakışmasını önler.
type contextKey string

// ClaimsContextKey, auth middleware'ın doğrulanmış token claims'ini
// request context'ine koyduğu anahtar.
const ClaimsContextKey contextKey = "claims"
