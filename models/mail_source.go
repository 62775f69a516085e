package models

import (
	"time"

	"gorm.io/gorm"
)

// MailSource holds IMAP credentials for a mailbox mirrored as a conversation.
// Passwords are encrypted in the application layer before storage.
type MailSource struct {
	gorm.Model
	Name string `gorm:"not null" json:"name"`

	IMAPHost       string `gorm:"not null" json:"imap_host"`
	IMAPPort       int    `gorm:"default:993" json:"imap_port"`
	IMAPUsername   string `gorm:"not null" json:"imap_username"`
	IMAPPassword   string `gorm:"not null" json:"-"` // Encrypted in application layer
	IMAPEncryption string `gorm:"default:'SSL'" json:"imap_encryption"` // SSL, TLS, STARTTLS
	IMAPMailbox    string `gorm:"default:'INBOX'" json:"imap_mailbox"`

	IsActive      bool       `gorm:"default:true" json:"is_active"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}
