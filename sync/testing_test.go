package sync

import (
	"log"
	"os"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"chatmirror/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

func testLogger() *log.Logger {
	return log.New(os.Stdout, "TEST: ", log.LstdFlags)
}

// seedAttachment creates a conversation, message and one attachment in the
// given state so lifecycle tests have something to transition.
func seedAttachment(t *testing.T, db *gorm.DB, state, reason string) *models.Attachment {
	t.Helper()

	conv := models.Conversation{SpaceID: "spaces/TEST", Type: models.ConversationTypeGroup}
	if err := db.Create(&conv).Error; err != nil {
		t.Fatalf("seeding conversation: %v", err)
	}
	msg := models.Message{
		ConversationID: conv.ID,
		RemoteID:       "spaces/TEST/messages/1",
		SenderID:       "users/alice",
		SentAt:         time.Now(),
	}
	if err := db.Create(&msg).Error; err != nil {
		t.Fatalf("seeding message: %v", err)
	}
	att := models.Attachment{
		MessageID:   msg.ID,
		RemoteID:    "spaces/TEST/messages/1/attachments/1",
		Filename:    "report.pdf",
		ContentType: "application/pdf",
		DownloadURL: "https://chat.example/dl/1",
		State:       state,
		FailReason:  reason,
	}
	if err := db.Create(&att).Error; err != nil {
		t.Fatalf("seeding attachment: %v", err)
	}
	return &att
}

func attachmentState(t *testing.T, db *gorm.DB, id uint) models.Attachment {
	t.Helper()
	var att models.Attachment
	if err := db.First(&att, id).Error; err != nil {
		t.Fatalf("reloading attachment %d: %v", id, err)
	}
	return att
}

func transitionStates(t *testing.T, db *gorm.DB, attID uint) []string {
	t.Helper()
	var transitions []models.AttachmentTransition
	if err := db.Where("attachment_id = ?", attID).Order("id ASC").
		Find(&transitions).Error; err != nil {
		t.Fatalf("loading transitions: %v", err)
	}
	out := make([]string, len(transitions))
	for i, tr := range transitions {
		out[i] = tr.ToState
	}
	return out
}
