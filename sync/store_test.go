package sync

import (
	"errors"
	"testing"

	"chatmirror/models"
)

func TestBeginDownloadLifecycle(t *testing.T) {
	db := testDB(t)
	store := NewStateStore(db)
	att := seedAttachment(t, db, models.AttachmentStatePending, "")

	began, err := store.BeginDownload(att.ID)
	if err != nil {
		t.Fatalf("BeginDownload: %v", err)
	}
	if !began {
		t.Fatal("expected pending attachment to begin downloading")
	}

	reloaded := attachmentState(t, db, att.ID)
	if reloaded.State != models.AttachmentStateDownloading {
		t.Errorf("state = %q, want downloading", reloaded.State)
	}
	if reloaded.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", reloaded.Attempts)
	}

	// Second attempt while the lock is held must be refused.
	began, err = store.BeginDownload(att.ID)
	if err != nil {
		t.Fatalf("second BeginDownload: %v", err)
	}
	if began {
		t.Error("expected second BeginDownload to be refused while in flight")
	}
}

func TestBeginDownloadRefusesNonPending(t *testing.T) {
	db := testDB(t)
	store := NewStateStore(db)
	att := seedAttachment(t, db, models.AttachmentStateCompleted, "")

	began, err := store.BeginDownload(att.ID)
	if err != nil {
		t.Fatalf("BeginDownload: %v", err)
	}
	if began {
		t.Error("completed attachment must not re-enter downloading")
	}

	// The refusal released the lock; a pending attachment still works after.
	if attachmentState(t, db, att.ID).State != models.AttachmentStateCompleted {
		t.Error("state changed on refused transition")
	}
}

func TestCompleteDownloadRequiresEvidence(t *testing.T) {
	db := testDB(t)
	store := NewStateStore(db)
	att := seedAttachment(t, db, models.AttachmentStatePending, "")

	if _, err := store.BeginDownload(att.ID); err != nil {
		t.Fatalf("BeginDownload: %v", err)
	}

	if err := store.CompleteDownload(att.ID, "", "", 100); !errors.Is(err, ErrConflict) {
		t.Errorf("empty path: err = %v, want ErrConflict", err)
	}
	if err := store.CompleteDownload(att.ID, "report.pdf", "", 0); !errors.Is(err, ErrConflict) {
		t.Errorf("zero size: err = %v, want ErrConflict", err)
	}

	if err := store.CompleteDownload(att.ID, "report.pdf", "report_thumb.jpg", 2048); err != nil {
		t.Fatalf("CompleteDownload: %v", err)
	}
	store.ReleaseDownload(att.ID)

	reloaded := attachmentState(t, db, att.ID)
	if reloaded.State != models.AttachmentStateCompleted {
		t.Errorf("state = %q, want completed", reloaded.State)
	}
	if reloaded.LocalPath != "report.pdf" {
		t.Errorf("local path = %q, want bare filename", reloaded.LocalPath)
	}
	if reloaded.ByteSize == nil || *reloaded.ByteSize != 2048 {
		t.Errorf("byte size = %v, want 2048", reloaded.ByteSize)
	}
	if reloaded.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestCompleteDownloadFromWrongState(t *testing.T) {
	db := testDB(t)
	store := NewStateStore(db)
	att := seedAttachment(t, db, models.AttachmentStatePending, "")

	err := store.CompleteDownload(att.ID, "report.pdf", "", 100)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("complete from pending: err = %v, want ErrConflict", err)
	}
}

func TestFailAndRequeueTransient(t *testing.T) {
	db := testDB(t)
	store := NewStateStore(db)
	att := seedAttachment(t, db, models.AttachmentStatePending, "")

	if _, err := store.BeginDownload(att.ID); err != nil {
		t.Fatalf("BeginDownload: %v", err)
	}
	if err := store.FailDownload(att.ID, models.FailReasonTransient); err != nil {
		t.Fatalf("FailDownload: %v", err)
	}
	store.ReleaseDownload(att.ID)

	count, err := store.RequeueTransient(3)
	if err != nil {
		t.Fatalf("RequeueTransient: %v", err)
	}
	if count != 1 {
		t.Fatalf("requeued %d, want 1", count)
	}

	reloaded := attachmentState(t, db, att.ID)
	if reloaded.State != models.AttachmentStatePending {
		t.Errorf("state = %q, want pending", reloaded.State)
	}
	if reloaded.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (transient requeue keeps the counter)", reloaded.Attempts)
	}
}

func TestRequeueTransientHonorsAttemptCap(t *testing.T) {
	db := testDB(t)
	store := NewStateStore(db)
	att := seedAttachment(t, db, models.AttachmentStateFailed, models.FailReasonTransient)
	if err := db.Model(att).Update("attempts", 3).Error; err != nil {
		t.Fatalf("setting attempts: %v", err)
	}

	count, err := store.RequeueTransient(3)
	if err != nil {
		t.Fatalf("RequeueTransient: %v", err)
	}
	if count != 0 {
		t.Errorf("requeued %d attachments at the cap, want 0", count)
	}
}

func TestRetryFailedResetsAttempts(t *testing.T) {
	db := testDB(t)
	store := NewStateStore(db)
	att := seedAttachment(t, db, models.AttachmentStateFailed, models.FailReasonNotFound)
	if err := db.Model(att).Update("attempts", 3).Error; err != nil {
		t.Fatalf("setting attempts: %v", err)
	}

	count, err := store.RetryFailed(0, att.ID)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if count != 1 {
		t.Fatalf("retried %d, want 1", count)
	}

	reloaded := attachmentState(t, db, att.ID)
	if reloaded.State != models.AttachmentStatePending {
		t.Errorf("state = %q, want pending", reloaded.State)
	}
	if reloaded.Attempts != 0 {
		t.Errorf("attempts = %d, want 0 after operator retry", reloaded.Attempts)
	}
	if reloaded.FailReason != "" {
		t.Errorf("fail reason = %q, want cleared", reloaded.FailReason)
	}
}

func TestTransitionAuditTrail(t *testing.T) {
	db := testDB(t)
	store := NewStateStore(db)
	att := seedAttachment(t, db, models.AttachmentStatePending, "")

	if _, err := store.BeginDownload(att.ID); err != nil {
		t.Fatalf("BeginDownload: %v", err)
	}
	if err := store.FailDownload(att.ID, models.FailReasonTransient); err != nil {
		t.Fatalf("FailDownload: %v", err)
	}
	store.ReleaseDownload(att.ID)
	if _, err := store.RequeueTransient(3); err != nil {
		t.Fatalf("RequeueTransient: %v", err)
	}
	if _, err := store.BeginDownload(att.ID); err != nil {
		t.Fatalf("second BeginDownload: %v", err)
	}
	if err := store.CompleteDownload(att.ID, "report.pdf", "", 512); err != nil {
		t.Fatalf("CompleteDownload: %v", err)
	}
	store.ReleaseDownload(att.ID)

	states := transitionStates(t, db, att.ID)
	want := []string{
		models.AttachmentStateDownloading,
		models.AttachmentStateFailed,
		models.AttachmentStatePending,
		models.AttachmentStateDownloading,
		models.AttachmentStateCompleted,
	}
	if len(states) != len(want) {
		t.Fatalf("got %d transitions %v, want %d", len(states), states, len(want))
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, states[i], want[i])
		}
	}

	// No two consecutive transitions land in downloading.
	for i := 1; i < len(states); i++ {
		if states[i] == models.AttachmentStateDownloading && states[i-1] == models.AttachmentStateDownloading {
			t.Error("consecutive downloading transitions recorded")
		}
	}
}

func TestMarkNoSource(t *testing.T) {
	db := testDB(t)
	store := NewStateStore(db)
	att := seedAttachment(t, db, models.AttachmentStatePending, "")

	if err := store.MarkNoSource(att.ID); err != nil {
		t.Fatalf("MarkNoSource: %v", err)
	}
	reloaded := attachmentState(t, db, att.ID)
	if reloaded.State != models.AttachmentStateFailed {
		t.Errorf("state = %q, want failed", reloaded.State)
	}
	if reloaded.FailReason != models.FailReasonNoSource {
		t.Errorf("reason = %q, want %q", reloaded.FailReason, models.FailReasonNoSource)
	}

	// Already-failed attachments are left alone.
	if err := store.MarkNoSource(att.ID); err != nil {
		t.Fatalf("second MarkNoSource: %v", err)
	}
	if got := len(transitionStates(t, db, att.ID)); got != 1 {
		t.Errorf("got %d transitions after repeat, want 1", got)
	}
}

func TestMigrateLegacyPaths(t *testing.T) {
	db := testDB(t)
	store := NewStateStore(db)
	att := seedAttachment(t, db, models.AttachmentStateCompleted, "")
	if err := db.Model(att).Update("local_path",
		"https://mirror.example/media/files/1699999999_foo.png").Error; err != nil {
		t.Fatalf("setting legacy path: %v", err)
	}

	count, err := store.MigrateLegacyPaths()
	if err != nil {
		t.Fatalf("MigrateLegacyPaths: %v", err)
	}
	if count != 1 {
		t.Fatalf("migrated %d, want 1", count)
	}

	reloaded := attachmentState(t, db, att.ID)
	if reloaded.LocalPath != "1699999999_foo.png" {
		t.Errorf("local path = %q, want %q", reloaded.LocalPath, "1699999999_foo.png")
	}
	if reloaded.State != models.AttachmentStateCompleted {
		t.Errorf("state changed to %q during migration", reloaded.State)
	}

	// Second run finds nothing.
	count, err = store.MigrateLegacyPaths()
	if err != nil {
		t.Fatalf("second MigrateLegacyPaths: %v", err)
	}
	if count != 0 {
		t.Errorf("second run migrated %d, want 0", count)
	}
}
