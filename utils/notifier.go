package utils

import (
	"crypto/tls"
	"fmt"

	"gopkg.in/gomail.v2"

	"chatmirror/config"
)

// Notifier emails operators about sync passes that ended with failures.
// Disabled when SMTP or the recipient is not configured.
type Notifier struct{}

func NewNotifier() *Notifier {
	return &Notifier{}
}

func (n *Notifier) Enabled() bool {
	smtp := config.AppConfig.SMTP
	return smtp.Host != "" && smtp.From != "" && smtp.NotifyTo != ""
}

// Send delivers a plain-text notification to the configured recipient.
func (n *Notifier) Send(subject, body string) error {
	if !n.Enabled() {
		return nil
	}
	smtp := config.AppConfig.SMTP

	m := gomail.NewMessage()
	m.SetHeader("From", smtp.From)
	m.SetHeader("To", smtp.NotifyTo)
	m.SetHeader("Subject", subject)
	m.SetHeader("Auto-Submitted", "auto-generated")
	m.SetBody("text/plain", body)

	dialer := gomail.NewDialer(smtp.Host, smtp.Port, smtp.Username, smtp.Password)
	dialer.TLSConfig = &tls.Config{ServerName: smtp.Host}

	if err := dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("sending notification: %v", err)
	}
	return nil
}
