package models

import (
	"time"

	"gorm.io/gorm"
)

// Conversation types
const (
	ConversationTypeDirect = "direct"
	ConversationTypeGroup  = "group"
)

// Conversation is the local mirror of one remote chat space or thread.
// It is created on first sync and updated on every subsequent sync, never
// deleted automatically.
type Conversation struct {
	gorm.Model

	// Remote space reference, e.g. "spaces/AAAAfQxugz0"
	SpaceID     string `gorm:"uniqueIndex;not null" json:"space_id"`
	DisplayName string `json:"display_name"`
	Type        string `gorm:"not null;default:'group'" json:"type"` // direct, group

	// Source backing this conversation: chat (default) or mail
	SourceKind   string `gorm:"not null;default:'chat'" json:"source_kind"`
	MailSourceID *uint  `json:"mail_source_id,omitempty"`

	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`

	// Relations
	Messages     []Message     `json:"messages,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
}
