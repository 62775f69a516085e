package models

import (
	"time"

	"gorm.io/gorm"
)

// Message belongs to exactly one Conversation. The remote message identifier
// is unique within its conversation; re-sync upserts on that key and never
// duplicates.
type Message struct {
	gorm.Model
	ConversationID uint      `gorm:"not null;index;uniqueIndex:idx_conversation_remote" json:"conversation_id"`
	RemoteID       string    `gorm:"not null;uniqueIndex:idx_conversation_remote" json:"remote_id"`
	SenderID       string    `gorm:"index" json:"sender_id"`
	Body           string    `gorm:"type:text" json:"body"`
	SentAt         time.Time `json:"sent_at"`

	// Relations
	Conversation Conversation `json:"-"`
	Attachments  []Attachment `json:"attachments,omitempty"`
}
