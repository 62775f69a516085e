package models

import (
	"time"

	"gorm.io/gorm"
)

// Attachment lifecycle states
const (
	AttachmentStatePending     = "pending"
	AttachmentStateDownloading = "downloading"
	AttachmentStateCompleted   = "completed"
	AttachmentStateFailed      = "failed"
)

// Failure reason codes recorded on failed attachments
const (
	FailReasonNoSource        = "no_source"
	FailReasonUnauthorized    = "unauthorized"
	FailReasonNotFound        = "not_found"
	FailReasonTransient       = "transient"
	FailReasonContentMismatch = "content_mismatch"
)

// Attachment belongs to exactly one Message. After normalization it always
// carries a non-empty filename and exactly one lifecycle state. LocalPath is a
// bare filename (or canonical relative path) only, never a served URL.
type Attachment struct {
	gorm.Model
	MessageID uint `gorm:"not null;index;uniqueIndex:idx_message_remote" json:"message_id"`

	// Stable remote identifier when the source supplies one
	RemoteID string `gorm:"uniqueIndex:idx_message_remote,where:remote_id <> ''" json:"remote_id"`

	Filename    string `gorm:"not null" json:"filename"`
	ContentType string `gorm:"not null" json:"content_type"`
	Position    int    `gorm:"not null;default:0" json:"position"`
	ByteSize    *int64 `json:"byte_size,omitempty"`

	// Source references, preserved verbatim from the wire
	DownloadURL  string `json:"download_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	DriveFileID  string `json:"drive_file_id,omitempty"`

	// Bare filename under the media directory once downloaded
	LocalPath     string `json:"local_path,omitempty"`
	ThumbnailPath string `json:"thumbnail_path,omitempty"`

	State       string     `gorm:"not null;default:'pending';index" json:"state"`
	FailReason  string     `json:"fail_reason,omitempty"`
	Attempts    int        `gorm:"default:0" json:"attempts"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Relations
	Message Message `json:"-"`
}

// HasSource reports whether any remote source reference is usable for a fetch.
func (a *Attachment) HasSource() bool {
	return a.DownloadURL != "" || a.ThumbnailURL != "" || a.DriveFileID != ""
}

// AttachmentTransition is an audit row written for every lifecycle state
// change, in order. The downloader and state store never mutate Attachment
// state without appending one.
type AttachmentTransition struct {
	gorm.Model
	AttachmentID uint   `gorm:"not null;index" json:"attachment_id"`
	FromState    string `gorm:"not null" json:"from_state"`
	ToState      string `gorm:"not null" json:"to_state"`
	Reason       string `json:"reason,omitempty"`
}
