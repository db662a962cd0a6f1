// Package email, uygulama genelinde email gönderimi için soyutlama katmanı sağlar.
//
// EmailSender interface'i ile email gönderim detayları soyutlanır (Dependency Inversion).
// Şu anki implementasyon Resend API kullanır. İleride farklı bir sağlayıcıya
// geçmek için sadece yeni bir implementasyon yazıp constructor'da değiştirmek yeterli.
//
// Bu paket dışarıya iki şey sunar:
// 1. EmailSender interface — service'ler buna bağımlı olur
// 2. NewResendSender constructor — main.go'da wire-up için
package email

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v3"
)

// EmailSender, email gönderimi için interface.
// Service katmanı bu interface'e bağımlıdır, concrete Resend implementasyonuna değil.
type EmailSender interface {
	// SendTransferNotification, kullanıcıya bir transferde yeni mesaj
	// olduğunu bildiren email gönderir.
	// toEmail: alıcı adresi, reference: transferin insan-okur referansı,
	// preview: mesaj gövdesinin kısaltılmış hali.
	SendTransferNotification(ctx context.Context, toEmail, reference, preview string) error
}

// resendSender, Resend API ile email gönderen EmailSender implementasyonu.
type resendSender struct {
	client    *resend.Client
	fromEmail string // Gönderici adresi (ör: noreply@kurye.app)
	appURL    string // Uygulamanın public URL'i (ör: https://app.kurye.app)
}

// NewResendSender, Resend API client'ı ile yeni bir EmailSender oluşturur.
//
// apiKey: Resend dashboard'dan alınan API key (re_xxxxxxxx formatında).
// fromEmail: Gönderici email adresi — Resend'de doğrulanmış domain altında olmalı.
// appURL: Uygulamanın public URL'i — transfer linklerinde kullanılır.
func NewResendSender(apiKey, fromEmail, appURL string) EmailSender {
	return &resendSender{
		client:    resend.NewClient(apiKey),
		fromEmail: fromEmail,
		appURL:    appURL,
	}
}

// SendTransferNotification, yeni mesaj bildirimi email'i gönderir.
//
// Email içeriği:
// - Subject: "New message on transfer {reference} — kurye"
// - Body: Mesaj önizlemesi ve transfere giden link
// - Link format: {appURL}/transfers/{reference}
//
// Önizleme dispatcher tarafından zaten kısaltılmış gelir; tam mesaj
// gövdesi email'de taşınmaz.
func (s *resendSender) SendTransferNotification(ctx context.Context, toEmail, reference, preview string) error {
	transferLink := fmt.Sprintf("%s/transfers/%s", s.appURL, reference)

	html := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="margin:0;padding:0;background-color:#1a1a2e;font-family:Arial,Helvetica,sans-serif;">
  <table width="100%%" cellpadding="0" cellspacing="0" style="background-color:#1a1a2e;padding:40px 0;">
    <tr>
      <td align="center">
        <table width="480" cellpadding="0" cellspacing="0" style="background-color:#16213e;border-radius:8px;padding:40px;">
          <tr>
            <td>
              <h1 style="color:#e2e8f0;font-size:24px;margin:0 0 8px 0;">kurye</h1>
              <h2 style="color:#e2e8f0;font-size:18px;margin:0 0 24px 0;">New message on transfer %s</h2>
              <p style="color:#94a3b8;font-size:15px;line-height:1.6;margin:0 0 24px 0;">
                %s
              </p>
              <table cellpadding="0" cellspacing="0" style="margin:0 0 24px 0;">
                <tr>
                  <td style="background-color:#6366f1;border-radius:6px;padding:12px 32px;">
                    <a href="%s" style="color:#ffffff;text-decoration:none;font-size:15px;font-weight:600;">
                      Open Transfer
                    </a>
                  </td>
                </tr>
              </table>
              <p style="color:#64748b;font-size:13px;line-height:1.6;margin:0 0 16px 0;">
                You received this email because there is a new message on one of your transfers.
              </p>
              <p style="color:#475569;font-size:13px;line-height:1.6;margin:0;word-break:break-all;">
                If the button doesn't work, copy and paste this link:<br>
                <a href="%s" style="color:#6366f1;">%s</a>
              </p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>`, reference, preview, transferLink, transferLink, transferLink)

	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("kurye <%s>", s.fromEmail),
		To:      []string{toEmail},
		Subject: fmt.Sprintf("New message on transfer %s — kurye", reference),
		Html:    html,
	}

	_, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to send transfer notification email: %w", err)
	}

	return nil
}
