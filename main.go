// Package main, kurye relay server'ının giriş noktasıdır.
//
// Bu dosyanın görevi — Dependency Injection "wire-up":
//  1. Config'i yükle
//  2. Database'i başlat
//  3. Repository'leri oluştur (DB bağlantısı ile)
//  4. Token manager'ı oluştur
//  5. Relay Hub'ı başlat
//  6. Handler'ları oluştur (repo'lar + hub ile)
//  7. HTTP router'ı kur, route'ları bağla
//  8. CORS yapılandır
//  9. HTTP Server'ı başlat
// 10. Graceful shutdown
//
// Global değişken YOK — her şey bu fonksiyonda oluşturulup birbirine bağlanıyor.
//
// Relay, production'da dış realtime platformunun oynadığı rolü development
// ve test ortamında oynar. Client kütüphanesi (realtime + services
// paketleri) relay'i tanımaz; sadece WebSocket protokolünü konuşur.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/akinalp/kurye/config"
	"github.com/akinalp/kurye/database"
	"github.com/akinalp/kurye/handlers"
	"github.com/akinalp/kurye/middleware"
	"github.com/akinalp/kurye/pkg/token"
	"github.com/akinalp/kurye/relay"
	"github.com/akinalp/kurye/repository"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] kurye relay starting...")

	// ─── 1. Config ───
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] failed to load config: %v", err)
	}
	log.Printf("[main] config loaded (port=%d)", cfg.Server.Port)

	// ─── 2. Database ───
	db, err := database.New(cfg.Database.Path, database.Migrations())
	if err != nil {
		log.Fatalf("[main] failed to initialize database: %v", err)
	}
	defer db.Close()

	// ─── 3. Repository Layer ───
	transferRepo := repository.NewSQLiteTransferRepo(db.Conn)
	messageRepo := repository.NewSQLiteMessageRepo(db.Conn)

	// ─── 4. Token Manager ───
	tokenManager := token.NewManager(cfg.JWT.Secret, time.Duration(cfg.JWT.TokenExpiry)*time.Minute)

	// ─── 5. Relay Hub ───
	//
	// Hub, bağlı tüm WebSocket client'larını ve topic fan-out'unu yönetir.
	// `go hub.Run()` ayrı bir goroutine'de event loop başlatır:
	// register/unregister channel'larını dinler ve client map'ini günceller.
	hub := relay.NewHub()
	go hub.Run()

	// ─── 6. Handler Layer ───
	transferHandler := handlers.NewTransferHandler(transferRepo)
	messageHandler := handlers.NewMessageHandler(messageRepo, transferRepo, hub)
	readStateHandler := handlers.NewReadStateHandler(messageRepo)
	rtHandler := relay.NewHandler(hub, tokenManager)

	authMw := middleware.NewAuthMiddleware(tokenManager)
	auth := func(handler http.HandlerFunc) http.Handler {
		return authMw.Require(http.HandlerFunc(handler))
	}

	// ─── 7. HTTP Router ───
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"kurye-relay"}`)
	})

	// Transfers
	mux.Handle("POST /api/transfers", auth(transferHandler.Create))
	mux.Handle("GET /api/transfers/{id}", auth(transferHandler.Get))

	// Messages — yazma akışı change feed'in kaynağıdır
	mux.Handle("POST /api/transfers/{id}/messages", auth(messageHandler.Create))

	// Read state
	mux.Handle("POST /api/transfers/{id}/read", auth(readStateHandler.MarkRead))
	mux.Handle("GET /api/unread", auth(readStateHandler.GetUnread))

	// WebSocket — token query parameter ile authenticate edilir
	//
	// Neden auth middleware kullanmıyoruz?
	// WebSocket upgrade sırasında tarayıcılar custom HTTP header gönderemez.
	// Bu yüzden JWT token URL query parameter olarak gönderilir:
	//   ws://server/rt?token=JWT_TOKEN
	// Relay handler kendi içinde token doğrulaması yapar.
	mux.HandleFunc("GET /rt", rtHandler.HandleConnection)

	// ─── 8. CORS ───
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{
			"http://localhost:3000", // Vite dev server
			"http://localhost:5173", // Vite default
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		Debug:            false,
	})

	handler := corsHandler.Handler(mux)

	// ─── 9. HTTP Server ───
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ─── 10. Graceful Shutdown ───
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("[main] relay listening on %s", cfg.Server.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[main] server error: %v", err)
		}
	}()

	<-done
	log.Println("[main] shutting down...")

	// Önce WebSocket bağlantılarını kapat — client'lar reconnect döngüsüne
	// girer. Sonra HTTP server'ı kapat — yeni request kabul etmeyi durdurur,
	// mevcut request'lerin bitmesini bekler (5sn timeout).
	hub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("[main] forced shutdown: %v", err)
	}

	log.Println("[main] relay stopped gracefully")
}
