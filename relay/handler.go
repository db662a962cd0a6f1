package relay

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/akinalp/kurye/models"
	"github.com/akinalp/kurye/realtime"
)

// TokenValidator, handler'ın bağlantı token'ı doğrulaması için
// kullandığı interface.
//
// pkg/token.Manager bu interface'i karşılar — ama handler'ın Sign gibi
// diğer metodlara ihtiyacı yok, sadece Validate yeterli (Interface
// Segregation). Go'da interface'ler implicit'tir; Manager otomatik uyar.
type TokenValidator interface {
	Validate(tokenString string) (*models.TokenClaims, error)
}

// upgrader, HTTP bağlantısını WebSocket bağlantısına yükseltir.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CheckOrigin: Relay development/test amaçlıdır — tüm origin'lere
	// izin verilir. Production platformu kendi origin kontrolünü yapar.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler, WebSocket bağlantı isteklerini işleyen HTTP handler'ı.
type Handler struct {
	hub            *Hub
	tokenValidator TokenValidator
}

// NewHandler, yeni bir relay handler oluşturur.
func NewHandler(hub *Hub, tokenValidator TokenValidator) *Handler {
	return &Handler{
		hub:            hub,
		tokenValidator: tokenValidator,
	}
}

// HandleConnection, HTTP bağlantısını WebSocket'e yükseltir ve client'ı
// Hub'a kaydeder.
//
// Token URL query parameter'ı olarak gelir (tarayıcıda WS bağlantısına
// header eklemek zordur):
//
//	ws://relay/rt?token=JWT_TOKEN
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.tokenValidator.Validate(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[relay] upgrade failed for user %s: %v", claims.UserID, err)
		return
	}

	client := &Client{
		hub:    h.hub,
		conn:   conn,
		userID: claims.UserID,
		send:   make(chan []byte, sendBufferSize),
		topics: make(map[string]*realtime.Matcher),
	}

	h.hub.register <- client

	// WritePump ayrı goroutine'de, ReadPump bu goroutine'de çalışır —
	// ReadPump bağlantı kapanana kadar bloklar, HTTP handler'ı açık tutar.
	go client.WritePump()
	client.ReadPump()
}
