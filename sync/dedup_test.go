package sync

import (
	"testing"

	"chatmirror/models"
)

func TestClassifyNewThenDuplicate(t *testing.T) {
	db := testDB(t)
	store := NewStateStore(db)
	dedup := NewDedupIndex(db)
	seeded := seedAttachment(t, db, models.AttachmentStatePending, "")

	incoming := &models.Attachment{
		MessageID:   seeded.MessageID,
		RemoteID:    "spaces/TEST/messages/1/attachments/2",
		Filename:    "new.png",
		ContentType: "image/png",
		DownloadURL: "https://chat.example/dl/2",
		State:       models.AttachmentStatePending,
	}

	decision, _, err := dedup.Classify(seeded.MessageID, incoming)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if decision != DecisionNew {
		t.Fatalf("first pass decision = %s, want new", decision)
	}
	if err := store.InsertAttachment(incoming); err != nil {
		t.Fatalf("InsertAttachment: %v", err)
	}

	// The identical payload on a second pass is a no-op duplicate.
	second := *incoming
	second.ID = 0
	decision, existing, err := dedup.Classify(seeded.MessageID, &second)
	if err != nil {
		t.Fatalf("second Classify: %v", err)
	}
	if decision != DecisionDuplicateUnchanged {
		t.Errorf("second pass decision = %s, want duplicate-unchanged", decision)
	}
	if existing == nil || existing.ID != incoming.ID {
		t.Error("duplicate did not return the stored record")
	}
}

func TestClassifyWithoutRemoteIDUsesCompositeKey(t *testing.T) {
	db := testDB(t)
	store := NewStateStore(db)
	dedup := NewDedupIndex(db)
	seeded := seedAttachment(t, db, models.AttachmentStatePending, "")

	first := &models.Attachment{
		MessageID:   seeded.MessageID,
		Filename:    "scan.pdf",
		ContentType: "application/pdf",
		Position:    1,
		DownloadURL: "https://chat.example/dl/3",
		State:       models.AttachmentStatePending,
	}
	if err := store.InsertAttachment(first); err != nil {
		t.Fatalf("InsertAttachment: %v", err)
	}

	same := &models.Attachment{
		MessageID:   seeded.MessageID,
		Filename:    "scan.pdf",
		ContentType: "application/pdf",
		Position:    1,
		DownloadURL: "https://chat.example/dl/3",
	}
	decision, _, err := dedup.Classify(seeded.MessageID, same)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if decision != DecisionDuplicateUnchanged {
		t.Errorf("decision = %s, want duplicate-unchanged", decision)
	}

	// A different position is a different attachment.
	shifted := &models.Attachment{
		MessageID:   seeded.MessageID,
		Filename:    "scan.pdf",
		ContentType: "application/pdf",
		Position:    2,
		DownloadURL: "https://chat.example/dl/3",
	}
	decision, _, err = dedup.Classify(seeded.MessageID, shifted)
	if err != nil {
		t.Fatalf("Classify shifted: %v", err)
	}
	if decision != DecisionNew {
		t.Errorf("shifted decision = %s, want new", decision)
	}
}

func TestClassifyLegacyPathNeedsUpdate(t *testing.T) {
	db := testDB(t)
	dedup := NewDedupIndex(db)
	seeded := seedAttachment(t, db, models.AttachmentStateCompleted, "")
	if err := db.Model(seeded).Update("local_path",
		"https://mirror.example/media/files/1699999999_report.pdf").Error; err != nil {
		t.Fatalf("setting legacy path: %v", err)
	}

	incoming := &models.Attachment{
		MessageID:   seeded.MessageID,
		RemoteID:    seeded.RemoteID,
		Filename:    seeded.Filename,
		ContentType: seeded.ContentType,
		DownloadURL: seeded.DownloadURL,
	}
	decision, _, err := dedup.Classify(seeded.MessageID, incoming)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if decision != DecisionDuplicateNeedsUpdate {
		t.Errorf("decision = %s, want duplicate-needs-update", decision)
	}
}

func TestClassifyRefreshesExpiredSignedURL(t *testing.T) {
	db := testDB(t)
	store := NewStateStore(db)
	dedup := NewDedupIndex(db)
	seeded := seedAttachment(t, db, models.AttachmentStatePending, "")

	// The remote re-signs download URLs on every listing; an undownloaded
	// record must pick up the fresh one.
	incoming := &models.Attachment{
		MessageID:   seeded.MessageID,
		RemoteID:    seeded.RemoteID,
		Filename:    seeded.Filename,
		ContentType: seeded.ContentType,
		DownloadURL: "https://chat.example/dl/1?sig=fresh",
	}
	decision, existing, err := dedup.Classify(seeded.MessageID, incoming)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if decision != DecisionDuplicateNeedsUpdate {
		t.Fatalf("decision = %s, want duplicate-needs-update", decision)
	}

	if err := store.RefreshSources(existing, incoming); err != nil {
		t.Fatalf("RefreshSources: %v", err)
	}
	reloaded := attachmentState(t, db, existing.ID)
	if reloaded.DownloadURL != incoming.DownloadURL {
		t.Errorf("download url = %q, want %q", reloaded.DownloadURL, incoming.DownloadURL)
	}
	if reloaded.State != models.AttachmentStatePending {
		t.Errorf("state = %q, refresh must not touch lifecycle", reloaded.State)
	}

	// The same payload again is a no-op duplicate.
	decision, _, err = dedup.Classify(seeded.MessageID, incoming)
	if err != nil {
		t.Fatalf("re-Classify: %v", err)
	}
	if decision != DecisionDuplicateUnchanged {
		t.Errorf("re-Classify decision = %s, want duplicate-unchanged", decision)
	}
}

func TestClassifyCompletedIgnoresNewURL(t *testing.T) {
	db := testDB(t)
	dedup := NewDedupIndex(db)
	seeded := seedAttachment(t, db, models.AttachmentStateCompleted, "")
	if err := db.Model(seeded).Update("local_path", "1699999999_report.pdf").Error; err != nil {
		t.Fatalf("setting local path: %v", err)
	}

	incoming := &models.Attachment{
		MessageID:   seeded.MessageID,
		RemoteID:    seeded.RemoteID,
		Filename:    seeded.Filename,
		ContentType: seeded.ContentType,
		DownloadURL: "https://chat.example/dl/1?sig=fresh",
	}
	decision, _, err := dedup.Classify(seeded.MessageID, incoming)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if decision != DecisionDuplicateUnchanged {
		t.Errorf("decision = %s, completed records need no refetch", decision)
	}
}

func TestClassifySourcelessRecordGainsSources(t *testing.T) {
	db := testDB(t)
	store := NewStateStore(db)
	dedup := NewDedupIndex(db)
	seeded := seedAttachment(t, db, models.AttachmentStatePending, "")

	orphan := &models.Attachment{
		MessageID:   seeded.MessageID,
		RemoteID:    "spaces/TEST/messages/1/attachments/9",
		Filename:    "late.bin",
		ContentType: "application/octet-stream",
		State:       models.AttachmentStateFailed,
		FailReason:  models.FailReasonNoSource,
	}
	if err := store.InsertAttachment(orphan); err != nil {
		t.Fatalf("InsertAttachment: %v", err)
	}

	// The remote later ships the same attachment with a usable source.
	incoming := &models.Attachment{
		MessageID:   seeded.MessageID,
		RemoteID:    orphan.RemoteID,
		Filename:    "late.bin",
		ContentType: "application/octet-stream",
		DownloadURL: "https://chat.example/dl/9",
	}
	decision, existing, err := dedup.Classify(seeded.MessageID, incoming)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if decision != DecisionDuplicateNeedsUpdate {
		t.Fatalf("decision = %s, want duplicate-needs-update", decision)
	}

	if err := store.RefreshSources(existing, incoming); err != nil {
		t.Fatalf("RefreshSources: %v", err)
	}
	reloaded := attachmentState(t, db, existing.ID)
	if reloaded.DownloadURL != incoming.DownloadURL {
		t.Errorf("download url = %q, want %q", reloaded.DownloadURL, incoming.DownloadURL)
	}
}
