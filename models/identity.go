package models

import (
	"time"

	"gorm.io/gorm"
)

// Identity resolution methods, in ascending order of trust
const (
	ResolutionUnresolved = "unresolved"
	ResolutionHeuristic  = "heuristic"
	ResolutionDirectory  = "directory"
	ResolutionManual     = "manual"
)

// Confidence bands per resolution method
const (
	ConfidenceFallbackMax  = 40
	ConfidenceHeuristicMin = 40
	ConfidenceHeuristicMax = 60
	ConfidenceDirectory    = 95
	ConfidenceManual       = 100
)

// SenderIdentity maps an opaque remote sender identifier to a human identity
// with a confidence score. Created with low confidence on first sighting and
// upgraded by the resolver; a manual (100) record is never overwritten except
// by an explicit revert or re-mapping.
type SenderIdentity struct {
	gorm.Model
	SenderID    string `gorm:"uniqueIndex;not null" json:"sender_id"`
	DisplayName string `gorm:"not null" json:"display_name"`
	Email       string `json:"email"`
	Confidence  int    `gorm:"not null;default:0" json:"confidence"`
	Method      string `gorm:"not null;default:'unresolved'" json:"method"`

	// Optional link to an internal employee record
	EmployeeID *uint      `json:"employee_id,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	// Relations
	Employee *Employee `json:"employee,omitempty"`
}

// Participant records one sender's membership in one conversation. The cached
// display name and email are denormalized from SenderIdentity and rewritten
// whenever that identity changes or is reverted.
type Participant struct {
	gorm.Model
	ConversationID uint   `gorm:"not null;index;uniqueIndex:idx_conversation_sender" json:"conversation_id"`
	SenderID       string `gorm:"not null;index;uniqueIndex:idx_conversation_sender" json:"sender_id"`
	DisplayName    string `json:"display_name"`
	Email          string `json:"email"`

	// Relations
	Conversation Conversation `json:"-"`
}

// Employee is an internal directory record a resolved identity may link to.
type Employee struct {
	gorm.Model
	FullName string `gorm:"not null" json:"full_name"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Title    string `json:"title"`
	Active   bool   `gorm:"default:true" json:"active"`
}
