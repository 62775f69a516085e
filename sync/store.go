package sync

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"chatmirror/chat"
	"chatmirror/models"
)

// ErrConflict is returned when a state transition is requested from a state
// that does not allow it.
var ErrConflict = errors.New("sync: conflicting lifecycle transition")

// StateStore is the single shared mutable resource of a sync pass. Every
// component changes attachment lifecycle state through its transition methods
// only; each transition appends an AttachmentTransition audit row in the same
// database transaction.
type StateStore struct {
	db    *gorm.DB
	locks *lockTable
}

func NewStateStore(db *gorm.DB) *StateStore {
	return &StateStore{db: db, locks: newLockTable()}
}

// DB exposes the underlying handle for read-only queries.
func (s *StateStore) DB() *gorm.DB {
	return s.db
}

// UpsertConversation creates or refreshes the local mirror of a remote space.
func (s *StateStore) UpsertConversation(spaceRef string, raw *chat.RawConversation) (*models.Conversation, error) {
	convType := models.ConversationTypeGroup
	if raw != nil && raw.SpaceType == "DIRECT_MESSAGE" {
		convType = models.ConversationTypeDirect
	}
	sourceKind, mailSourceID := classifyRef(spaceRef)

	var conv models.Conversation
	err := s.db.Where("space_id = ?", spaceRef).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		conv = models.Conversation{
			SpaceID:      spaceRef,
			Type:         convType,
			SourceKind:   sourceKind,
			MailSourceID: mailSourceID,
		}
		if raw != nil {
			conv.DisplayName = raw.DisplayName
		}
		if err := s.db.Create(&conv).Error; err != nil {
			return nil, err
		}
		return &conv, nil
	}
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{"type": convType}
	if raw != nil && raw.DisplayName != "" {
		updates["display_name"] = raw.DisplayName
	}
	if err := s.db.Model(&conv).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// classifyRef splits a conversation reference into its backing source kind
// and, for "mail/<id>/<mailbox>" references, the mail source id.
func classifyRef(spaceRef string) (string, *uint) {
	if !strings.HasPrefix(spaceRef, "mail/") {
		return "chat", nil
	}
	parts := strings.Split(spaceRef, "/")
	if len(parts) < 2 {
		return "mail", nil
	}
	id64, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return "mail", nil
	}
	id := uint(id64)
	return "mail", &id
}

// TouchConversation records a completed pass.
func (s *StateStore) TouchConversation(convID uint) error {
	return s.db.Model(&models.Conversation{}).Where("id = ?", convID).
		Update("last_synced_at", time.Now()).Error
}

// UpsertMessage inserts or refreshes one message, unique per conversation by
// its remote id. Reports whether a new row was created.
func (s *StateStore) UpsertMessage(convID uint, raw *chat.RawMessage) (*models.Message, bool, error) {
	if raw.Name == "" {
		return nil, false, fmt.Errorf("message without remote identifier")
	}

	var msg models.Message
	err := s.db.Where("conversation_id = ? AND remote_id = ?", convID, raw.Name).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		msg = models.Message{
			ConversationID: convID,
			RemoteID:       raw.Name,
			SenderID:       raw.Sender.Name,
			Body:           raw.Text,
			SentAt:         raw.CreateTime,
		}
		if err := s.db.Create(&msg).Error; err != nil {
			return nil, false, err
		}
		return &msg, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	if err := s.db.Model(&msg).Updates(map[string]interface{}{
		"sender_id": raw.Sender.Name,
		"body":      raw.Text,
		"sent_at":   raw.CreateTime,
	}).Error; err != nil {
		return nil, false, err
	}
	return &msg, false, nil
}

// UpsertParticipant records a sender's membership in a conversation with the
// cached identity fields.
func (s *StateStore) UpsertParticipant(convID uint, senderID, displayName, email string) error {
	if senderID == "" {
		return nil
	}
	var p models.Participant
	err := s.db.Where("conversation_id = ? AND sender_id = ?", convID, senderID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(&models.Participant{
			ConversationID: convID,
			SenderID:       senderID,
			DisplayName:    displayName,
			Email:          email,
		}).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&p).Updates(map[string]interface{}{
		"display_name": displayName,
		"email":        email,
	}).Error
}

// InsertAttachment persists a freshly normalized attachment and its birth
// transition.
func (s *StateStore) InsertAttachment(att *models.Attachment) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(att).Error; err != nil {
			return err
		}
		return tx.Create(&models.AttachmentTransition{
			AttachmentID: att.ID,
			FromState:    "",
			ToState:      att.State,
			Reason:       att.FailReason,
		}).Error
	})
}

// RefreshSources copies incoming source references onto an existing record
// and rewrites a legacy served-URL local path to its bare filename. Empty
// incoming fields leave the stored reference alone. Lifecycle state is not
// touched.
func (s *StateStore) RefreshSources(existing, incoming *models.Attachment) error {
	updates := map[string]interface{}{}
	if incoming.DownloadURL != "" {
		updates["download_url"] = incoming.DownloadURL
	}
	if incoming.ThumbnailURL != "" {
		updates["thumbnail_url"] = incoming.ThumbnailURL
	}
	if incoming.DriveFileID != "" {
		updates["drive_file_id"] = incoming.DriveFileID
	}
	if IsLegacyServedPath(existing.LocalPath) {
		updates["local_path"] = BareFilename(existing.LocalPath)
	}
	if len(updates) == 0 {
		return nil
	}
	return s.db.Model(existing).Updates(updates).Error
}

// BeginDownload moves pending -> downloading under the per-attachment lock.
// Returns false without error when the attachment is not eligible (already
// in flight, or no longer pending).
func (s *StateStore) BeginDownload(attID uint) (bool, error) {
	if !s.locks.TryAcquire(attID) {
		return false, nil
	}

	var began bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var att models.Attachment
		if err := tx.First(&att, attID).Error; err != nil {
			return err
		}
		if att.State != models.AttachmentStatePending {
			return nil
		}
		if err := tx.Model(&att).Updates(map[string]interface{}{
			"state":    models.AttachmentStateDownloading,
			"attempts": gorm.Expr("attempts + ?", 1),
		}).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.AttachmentTransition{
			AttachmentID: attID,
			FromState:    models.AttachmentStatePending,
			ToState:      models.AttachmentStateDownloading,
		}).Error; err != nil {
			return err
		}
		began = true
		return nil
	})
	if err != nil || !began {
		s.locks.Release(attID)
		return false, err
	}
	return true, nil
}

// CompleteDownload moves downloading -> completed. Requires a bare local path
// and a known byte size; path, size and state commit in one transaction. The
// caller must hold the download lock and release it afterwards.
func (s *StateStore) CompleteDownload(attID uint, localPath, thumbnailPath string, size int64) error {
	if localPath == "" {
		return fmt.Errorf("%w: completed without local path", ErrConflict)
	}
	if size <= 0 {
		return fmt.Errorf("%w: completed without byte size", ErrConflict)
	}
	now := time.Now()
	return s.db.Transaction(func(tx *gorm.DB) error {
		var att models.Attachment
		if err := tx.First(&att, attID).Error; err != nil {
			return err
		}
		if att.State != models.AttachmentStateDownloading {
			return fmt.Errorf("%w: complete from %s", ErrConflict, att.State)
		}
		if err := tx.Model(&att).Updates(map[string]interface{}{
			"state":          models.AttachmentStateCompleted,
			"local_path":     localPath,
			"thumbnail_path": thumbnailPath,
			"byte_size":      size,
			"fail_reason":    "",
			"completed_at":   now,
		}).Error; err != nil {
			return err
		}
		return tx.Create(&models.AttachmentTransition{
			AttachmentID: attID,
			FromState:    models.AttachmentStateDownloading,
			ToState:      models.AttachmentStateCompleted,
		}).Error
	})
}

// FailDownload moves downloading -> failed with the given reason code. The
// caller must hold the download lock and release it afterwards.
func (s *StateStore) FailDownload(attID uint, reason string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var att models.Attachment
		if err := tx.First(&att, attID).Error; err != nil {
			return err
		}
		if att.State != models.AttachmentStateDownloading {
			return fmt.Errorf("%w: fail from %s", ErrConflict, att.State)
		}
		if err := tx.Model(&att).Updates(map[string]interface{}{
			"state":       models.AttachmentStateFailed,
			"fail_reason": reason,
		}).Error; err != nil {
			return err
		}
		return tx.Create(&models.AttachmentTransition{
			AttachmentID: attID,
			FromState:    models.AttachmentStateDownloading,
			ToState:      models.AttachmentStateFailed,
			Reason:       reason,
		}).Error
	})
}

// MarkNoSource fails an existing pending attachment that turned out to carry
// no usable source reference.
func (s *StateStore) MarkNoSource(attID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var att models.Attachment
		if err := tx.First(&att, attID).Error; err != nil {
			return err
		}
		if att.State != models.AttachmentStatePending {
			return nil
		}
		if err := tx.Model(&att).Updates(map[string]interface{}{
			"state":       models.AttachmentStateFailed,
			"fail_reason": models.FailReasonNoSource,
		}).Error; err != nil {
			return err
		}
		return tx.Create(&models.AttachmentTransition{
			AttachmentID: attID,
			FromState:    models.AttachmentStatePending,
			ToState:      models.AttachmentStateFailed,
			Reason:       models.FailReasonNoSource,
		}).Error
	})
}

// ReleaseDownload frees the per-attachment lock after a completed or failed
// attempt.
func (s *StateStore) ReleaseDownload(attID uint) {
	s.locks.Release(attID)
}

// RequeueTransient moves failed/transient attachments below the attempt cap
// back to pending. Run periodically by the retry worker.
func (s *StateStore) RequeueTransient(maxAttempts int) (int, error) {
	var failed []models.Attachment
	if err := s.db.Where("state = ? AND fail_reason = ? AND attempts < ?",
		models.AttachmentStateFailed, models.FailReasonTransient, maxAttempts).
		Find(&failed).Error; err != nil {
		return 0, err
	}
	return s.requeue(failed, false)
}

// RetryFailed is the operator-triggered retry: every failed attachment in the
// given scope goes back to pending regardless of reason, with its attempt
// counter reset. Scope is a conversation, a single attachment, or both zero
// for everything failed.
func (s *StateStore) RetryFailed(convID, attID uint) (int, error) {
	query := s.db.Where("attachments.state = ?", models.AttachmentStateFailed)
	if attID != 0 {
		query = query.Where("attachments.id = ?", attID)
	}
	if convID != 0 {
		query = query.Joins("JOIN messages ON messages.id = attachments.message_id").
			Where("messages.conversation_id = ?", convID)
	}

	var failed []models.Attachment
	if err := query.Find(&failed).Error; err != nil {
		return 0, err
	}
	return s.requeue(failed, true)
}

func (s *StateStore) requeue(failed []models.Attachment, resetAttempts bool) (int, error) {
	count := 0
	for _, att := range failed {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			updates := map[string]interface{}{
				"state":       models.AttachmentStatePending,
				"fail_reason": "",
			}
			if resetAttempts {
				updates["attempts"] = 0
			}
			if err := tx.Model(&models.Attachment{}).Where("id = ? AND state = ?",
				att.ID, models.AttachmentStateFailed).Updates(updates).Error; err != nil {
				return err
			}
			return tx.Create(&models.AttachmentTransition{
				AttachmentID: att.ID,
				FromState:    models.AttachmentStateFailed,
				ToState:      models.AttachmentStatePending,
				Reason:       att.FailReason,
			}).Error
		})
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// MigrateLegacyPaths finds local references stored in the old served-URL form
// and rewrites them to bare filenames. Lifecycle state is untouched, so no
// transition rows are written. Idempotent.
func (s *StateStore) MigrateLegacyPaths() (int, error) {
	var candidates []models.Attachment
	if err := s.db.Where("local_path LIKE 'http%' OR local_path LIKE '%/media/%'").
		Find(&candidates).Error; err != nil {
		return 0, err
	}

	count := 0
	for _, att := range candidates {
		if !IsLegacyServedPath(att.LocalPath) {
			continue
		}
		bare := BareFilename(att.LocalPath)
		if bare == "" || bare == att.LocalPath {
			continue
		}
		if err := s.db.Model(&att).Update("local_path", bare).Error; err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// PendingDownloads lists attachments of one conversation that are waiting for
// a fetch and have at least one source reference.
func (s *StateStore) PendingDownloads(convID uint) ([]models.Attachment, error) {
	var pending []models.Attachment
	err := s.db.Joins("JOIN messages ON messages.id = attachments.message_id").
		Where("messages.conversation_id = ? AND attachments.state = ?", convID, models.AttachmentStatePending).
		Where("attachments.download_url <> '' OR attachments.thumbnail_url <> '' OR attachments.drive_file_id <> ''").
		Order("attachments.id").
		Find(&pending).Error
	return pending, err
}
