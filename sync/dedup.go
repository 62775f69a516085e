package sync

import (
	"errors"

	"gorm.io/gorm"

	"chatmirror/models"
)

// Decision is the dedup verdict for one incoming normalized attachment.
type Decision int

const (
	DecisionNew Decision = iota
	DecisionDuplicateUnchanged
	DecisionDuplicateNeedsUpdate
)

func (d Decision) String() string {
	switch d {
	case DecisionNew:
		return "new"
	case DecisionDuplicateUnchanged:
		return "duplicate-unchanged"
	case DecisionDuplicateNeedsUpdate:
		return "duplicate-needs-update"
	default:
		return "unknown"
	}
}

// DedupIndex decides whether a normalized attachment already exists locally.
// Identity is the stable remote id when present, otherwise filename + content
// type + position within the parent message.
type DedupIndex struct {
	db *gorm.DB
}

func NewDedupIndex(db *gorm.DB) *DedupIndex {
	return &DedupIndex{db: db}
}

// Classify looks the incoming attachment up under its parent message and
// returns the decision plus the existing record when one was found.
// Classification alone never mutates state, so running the same input twice
// yields new then duplicate-unchanged.
func (d *DedupIndex) Classify(messageID uint, incoming *models.Attachment) (Decision, *models.Attachment, error) {
	existing, err := d.lookup(messageID, incoming)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return DecisionNew, nil, nil
		}
		return DecisionNew, nil, err
	}

	// A stored reference in the old served-URL form must be rewritten.
	if IsLegacyServedPath(existing.LocalPath) {
		return DecisionDuplicateNeedsUpdate, existing, nil
	}

	// Fresh source references supersede stored ones on records that have not
	// completed a download. Signed URLs expire and arrive as a different
	// string each listing, so string inequality is the refresh signal; a
	// record still missing any source is the degenerate case of the same rule.
	if existing.State != models.AttachmentStateCompleted && incoming.HasSource() && sourcesChanged(existing, incoming) {
		return DecisionDuplicateNeedsUpdate, existing, nil
	}

	return DecisionDuplicateUnchanged, existing, nil
}

// sourcesChanged reports whether the incoming payload carries any source
// reference the stored record does not already hold. Empty incoming fields
// are not a signal; the wire may omit a thumbnail it sent before.
func sourcesChanged(existing, incoming *models.Attachment) bool {
	if incoming.DownloadURL != "" && incoming.DownloadURL != existing.DownloadURL {
		return true
	}
	if incoming.ThumbnailURL != "" && incoming.ThumbnailURL != existing.ThumbnailURL {
		return true
	}
	return incoming.DriveFileID != "" && incoming.DriveFileID != existing.DriveFileID
}

func (d *DedupIndex) lookup(messageID uint, incoming *models.Attachment) (*models.Attachment, error) {
	var existing models.Attachment
	query := d.db.Where("message_id = ?", messageID)
	if incoming.RemoteID != "" {
		query = query.Where("remote_id = ?", incoming.RemoteID)
	} else {
		query = query.Where("remote_id = '' AND filename = ? AND content_type = ? AND position = ?",
			incoming.Filename, incoming.ContentType, incoming.Position)
	}
	if err := query.First(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}
