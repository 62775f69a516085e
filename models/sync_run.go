package models

import (
	"time"

	"gorm.io/gorm"
)

// Sync run statuses
const (
	SyncRunStatusRunning   = "running"
	SyncRunStatusCompleted = "completed"
	SyncRunStatusFailed    = "failed"
	SyncRunStatusCancelled = "cancelled"
)

// SyncRun persists the summary of one sync pass over one conversation.
type SyncRun struct {
	gorm.Model
	RunID          string `gorm:"uniqueIndex;not null" json:"run_id"`
	ConversationID uint   `gorm:"not null;index" json:"conversation_id"`
	Status         string `gorm:"not null;default:'running'" json:"status"`

	MessagesSeen         int `gorm:"default:0" json:"messages_seen"`
	MessagesSkipped      int `gorm:"default:0" json:"messages_skipped"`
	AttachmentsNew       int `gorm:"default:0" json:"attachments_new"`
	AttachmentsUpdated   int `gorm:"default:0" json:"attachments_updated"`
	AttachmentsUnchanged int `gorm:"default:0" json:"attachments_unchanged"`
	DownloadsCompleted   int `gorm:"default:0" json:"downloads_completed"`
	DownloadsFailed      int `gorm:"default:0" json:"downloads_failed"`
	IdentitiesResolved   int `gorm:"default:0" json:"identities_resolved"`
	IdentitiesUnresolved int `gorm:"default:0" json:"identities_unresolved"`

	// JSON object of failure reason -> count, e.g. {"transient":2,"no_source":1}
	FailureBreakdown string `gorm:"type:text" json:"failure_breakdown,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`

	// Relations
	Conversation Conversation `json:"-"`
}
