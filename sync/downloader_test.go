package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"chatmirror/chat"
	"chatmirror/models"
	"chatmirror/storage"
)

// bytesSource serves fixed bytes for every fetch.
type bytesSource struct {
	fakeSource
	data         []byte
	declaredType string
	err          error
}

func (b *bytesSource) FetchBytes(ctx context.Context, ref chat.SourceRef) ([]byte, string, error) {
	if b.err != nil {
		return nil, "", b.err
	}
	return b.data, b.declaredType, nil
}

func newTestDownloader(t *testing.T, source chat.Source) (*Downloader, *StateStore) {
	t.Helper()
	db := testDB(t)
	store := NewStateStore(db)
	blobs, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("creating blob store: %v", err)
	}
	return NewDownloader(store, source, blobs, nil, 2, 1, testLogger()), store
}

func TestDownloaderContentMismatch(t *testing.T) {
	source := &bytesSource{
		data:         []byte("<!DOCTYPE html><html>Sign in required</html>"),
		declaredType: "text/html",
	}
	dl, store := newTestDownloader(t, source)
	att := seedAttachment(t, store.DB(), models.AttachmentStatePending, "")
	if err := store.DB().Model(att).Update("content_type", "image/png").Error; err != nil {
		t.Fatalf("setting content type: %v", err)
	}
	att.ContentType = "image/png"

	results := dl.Run(context.Background(), []models.Attachment{*att})
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Completed {
		t.Fatal("HTML body completed as image bytes")
	}
	if results[0].Reason != models.FailReasonContentMismatch {
		t.Errorf("reason = %q, want content_mismatch", results[0].Reason)
	}

	reloaded := attachmentState(t, store.DB(), att.ID)
	if reloaded.State != models.AttachmentStateFailed {
		t.Errorf("state = %q, want failed", reloaded.State)
	}
	if reloaded.LocalPath != "" {
		t.Errorf("mismatched body was persisted at %q", reloaded.LocalPath)
	}
}

func TestDownloaderErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantReason string
	}{
		{"unauthorized", fmt.Errorf("fetch: %w", chat.ErrUnauthorized), models.FailReasonUnauthorized},
		{"not found", fmt.Errorf("fetch: %w", chat.ErrNotFound), models.FailReasonNotFound},
		{"unknown fault", errors.New("connection reset"), models.FailReasonTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &bytesSource{err: tt.err}
			dl, store := newTestDownloader(t, source)
			att := seedAttachment(t, store.DB(), models.AttachmentStatePending, "")

			results := dl.Run(context.Background(), []models.Attachment{*att})
			if len(results) != 1 {
				t.Fatalf("got %d results, want 1", len(results))
			}
			if results[0].Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", results[0].Reason, tt.wantReason)
			}

			reloaded := attachmentState(t, store.DB(), att.ID)
			if reloaded.FailReason != tt.wantReason {
				t.Errorf("stored reason = %q, want %q", reloaded.FailReason, tt.wantReason)
			}
		})
	}
}

func TestDownloaderMarksSourcelessTask(t *testing.T) {
	dl, store := newTestDownloader(t, &bytesSource{})
	att := seedAttachment(t, store.DB(), models.AttachmentStatePending, "")
	if err := store.DB().Model(att).Update("download_url", "").Error; err != nil {
		t.Fatalf("clearing source: %v", err)
	}
	att.DownloadURL = ""

	results := dl.Run(context.Background(), []models.Attachment{*att})
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Reason != models.FailReasonNoSource {
		t.Errorf("reason = %q, want no_source", results[0].Reason)
	}
	reloaded := attachmentState(t, store.DB(), att.ID)
	if reloaded.State != models.AttachmentStateFailed {
		t.Errorf("state = %q, want failed", reloaded.State)
	}
}
