// Package email sends transactional mail through SendGrid. All sends are
// best-effort; checkout outcomes never depend on delivery.
package email

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type Sender struct {
	client    *sendgrid.Client
	fromName  string
	fromEmail string
	currency  string
}

func NewSender(apiKey, fromName, fromEmail, currency string) *Sender {
	return &Sender{
		client:    sendgrid.NewSendClient(apiKey),
		fromName:  fromName,
		fromEmail: fromEmail,
		currency:  currency,
	}
}

func (s *Sender) SendOrderConfirmation(ctx context.Context, to, name, orderID, total string) error {
	subject := fmt.Sprintf("Order %s confirmed", orderID)
	plain := fmt.Sprintf("Hi %s,\n\nYour order %s for %s %s has been paid and confirmed.\n\nThanks for shopping with us.", name, orderID, total, s.currency)
	html := fmt.Sprintf("<p>Hi %s,</p><p>Your order <strong>%s</strong> for <strong>%s %s</strong> has been paid and confirmed.</p><p>Thanks for shopping with us.</p>", name, orderID, total, s.currency)
	return s.send(ctx, to, name, subject, plain, html)
}

func (s *Sender) SendPasswordReset(ctx context.Context, to, resetURL string) error {
	subject := "Password reset"
	plain := "Reset your password using this link (valid for 1 hour): " + resetURL
	html := fmt.Sprintf(`<p>Reset your password using <a href="%s">this link</a> (valid for 1 hour).</p>`, resetURL)
	return s.send(ctx, to, "", subject, plain, html)
}

func (s *Sender) send(ctx context.Context, to, toName, subject, plain, html string) error {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	msg := mail.NewSingleEmail(from, subject, mail.NewEmail(toName, to), plain, html)
	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
