// Package config, uygulamanın tüm konfigürasyonunu merkezi olarak yönetir.
// Environment variable'lardan okur, .env dosyasını da destekler.
//
// Config struct'ı tüm ayarları tek bir yerde toplar, böylece
// her yerde ayrı ayrı os.Getenv() çağırmak yerine tek bir Config nesnesi taşırız.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config, uygulamanın tüm konfigürasyon değerlerini taşır.
// Her alt bölüm ayrı bir struct — her struct tek bir concern'ü temsil eder.
type Config struct {
	Server   ServerConfig
	Realtime RealtimeConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Email    EmailConfig
}

// ServerConfig, relay server'ın HTTP ayarları.
type ServerConfig struct {
	Host string
	Port int
}

// RealtimeConfig, client tarafının relay'e bağlanma ayarları.
type RealtimeConfig struct {
	URL string // Relay WebSocket URL (ör: ws://localhost:9090/rt)

	// ReconnectBase / ReconnectMax: transport koptuğunda exponential
	// backoff'un alt ve üst sınırları. Backoff her denemede ikiye
	// katlanır, ReconnectMax'ta sabitlenir.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
}

// DatabaseConfig, SQLite database ayarları.
type DatabaseConfig struct {
	Path string // SQLite dosya yolu (ör: ./data/kurye.db)
}

// JWTConfig, relay bağlantı token'ı ayarları.
type JWTConfig struct {
	Secret      string // Token imzalama anahtarı — GİZLİ TUTULMALI
	TokenExpiry int    // Dakika cinsinden (varsayılan: 60)
}

// EmailConfig, offline bildirim email'i ayarları (Resend).
// APIKey boşsa email sink devre dışıdır — dispatcher sadece in-app
// surface eder.
type EmailConfig struct {
	APIKey    string
	FromEmail string
	AppURL    string
}

// Load, environment variable'lardan Config oluşturur.
// .env dosyası varsa önce onu yükler (development kolaylığı için).
func Load() (*Config, error) {
	// .env dosyasını yükle — dosya yoksa hata vermez, sessizce devam eder.
	// Production'da bu dosya olmaz, gerçek env variable'lar kullanılır.
	_ = godotenv.Load()

	port, err := strconv.Atoi(getEnv("SERVER_PORT", "9090"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	tokenExpiry, err := strconv.Atoi(getEnv("JWT_TOKEN_EXPIRY_MINUTES", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_TOKEN_EXPIRY_MINUTES: %w", err)
	}

	reconnectBase, err := time.ParseDuration(getEnv("RT_RECONNECT_BASE", "500ms"))
	if err != nil {
		return nil, fmt.Errorf("invalid RT_RECONNECT_BASE: %w", err)
	}

	reconnectMax, err := time.ParseDuration(getEnv("RT_RECONNECT_MAX", "15s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RT_RECONNECT_MAX: %w", err)
	}

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Realtime: RealtimeConfig{
			URL:           getEnv("RT_URL", "ws://localhost:9090/rt"),
			ReconnectBase: reconnectBase,
			ReconnectMax:  reconnectMax,
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./data/kurye.db"),
		},
		JWT: JWTConfig{
			Secret:      jwtSecret,
			TokenExpiry: tokenExpiry,
		},
		Email: EmailConfig{
			APIKey:    getEnv("RESEND_API_KEY", ""),
			FromEmail: getEnv("RESEND_FROM_EMAIL", "noreply@kurye.app"),
			AppURL:    getEnv("APP_URL", "http://localhost:5173"),
		},
	}

	return cfg, nil
}

// Addr, relay server'ın dinleyeceği adresi döner (ör: "0.0.0.0:9090").
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getEnv, environment variable'ı okur, yoksa fallback değeri döner.
func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
