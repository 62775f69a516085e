package sync

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"chatmirror/chat"
	"chatmirror/models"
)

// BlobStore persists attachment bytes under a collision-resistant name and
// returns the bare stored filename.
type BlobStore interface {
	Write(filename string, data []byte) (string, error)
	Exists(name string) bool
}

// Thumbnailer renders a local thumbnail for a stored attachment. Optional;
// failures never affect the download outcome.
type Thumbnailer interface {
	Thumbnail(storedName, contentType string, data []byte) (string, error)
}

// DownloadResult is the outcome of one download task.
type DownloadResult struct {
	AttachmentID uint
	Completed    bool
	Skipped      bool
	Reason       string
}

// Downloader fetches attachment bytes through a bounded worker pool. Each
// attachment identity is fetched by at most one worker at a time; transient
// failures retry in-line with quadratic backoff before the attempt is
// recorded as failed.
type Downloader struct {
	store       *StateStore
	source      chat.Source
	blobs       BlobStore
	thumbs      Thumbnailer
	workers     int
	maxAttempts int
	logger      *log.Logger
}

func NewDownloader(store *StateStore, source chat.Source, blobs BlobStore, thumbs Thumbnailer, workers, maxAttempts int, logger *log.Logger) *Downloader {
	if workers <= 0 {
		workers = 4
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Downloader{
		store:       store,
		source:      source,
		blobs:       blobs,
		thumbs:      thumbs,
		workers:     workers,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Run processes the given attachments concurrently and returns one result per
// processed task. Attachments another worker already holds are skipped.
func (d *Downloader) Run(ctx context.Context, attachments []models.Attachment) []DownloadResult {
	tasks := make(chan models.Attachment)
	results := make(chan DownloadResult, len(attachments))

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for att := range tasks {
				results <- d.process(ctx, att)
			}
		}()
	}

	for _, att := range attachments {
		select {
		case tasks <- att:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(tasks)
	wg.Wait()
	close(results)

	out := make([]DownloadResult, 0, len(attachments))
	for r := range results {
		out = append(out, r)
	}
	return out
}

func (d *Downloader) process(ctx context.Context, att models.Attachment) DownloadResult {
	if !att.HasSource() {
		if err := d.store.MarkNoSource(att.ID); err != nil {
			d.logger.Printf("Failed to mark attachment %d no_source: %v", att.ID, err)
		}
		return DownloadResult{AttachmentID: att.ID, Reason: models.FailReasonNoSource}
	}

	began, err := d.store.BeginDownload(att.ID)
	if err != nil {
		d.logger.Printf("Failed to begin download for attachment %d: %v", att.ID, err)
		return DownloadResult{AttachmentID: att.ID, Skipped: true}
	}
	if !began {
		return DownloadResult{AttachmentID: att.ID, Skipped: true}
	}
	defer d.store.ReleaseDownload(att.ID)

	data, declaredType, reason := d.fetch(ctx, att)
	if reason != "" {
		if err := d.store.FailDownload(att.ID, reason); err != nil {
			d.logger.Printf("Failed to record failure for attachment %d: %v", att.ID, err)
		}
		return DownloadResult{AttachmentID: att.ID, Reason: reason}
	}

	if ContentMismatch(att.ContentType, declaredType, data) {
		if err := d.store.FailDownload(att.ID, models.FailReasonContentMismatch); err != nil {
			d.logger.Printf("Failed to record mismatch for attachment %d: %v", att.ID, err)
		}
		return DownloadResult{AttachmentID: att.ID, Reason: models.FailReasonContentMismatch}
	}

	storedName, err := d.blobs.Write(att.Filename, data)
	if err != nil {
		d.logger.Printf("Failed to persist attachment %d: %v", att.ID, err)
		if err := d.store.FailDownload(att.ID, models.FailReasonTransient); err != nil {
			d.logger.Printf("Failed to record failure for attachment %d: %v", att.ID, err)
		}
		return DownloadResult{AttachmentID: att.ID, Reason: models.FailReasonTransient}
	}

	thumbPath := ""
	if d.thumbs != nil && strings.HasPrefix(att.ContentType, "image/") {
		if tp, err := d.thumbs.Thumbnail(storedName, att.ContentType, data); err == nil {
			thumbPath = tp
		} else {
			d.logger.Printf("Thumbnail generation failed for attachment %d: %v", att.ID, err)
		}
	}

	if err := d.store.CompleteDownload(att.ID, storedName, thumbPath, int64(len(data))); err != nil {
		d.logger.Printf("Failed to commit download for attachment %d: %v", att.ID, err)
		return DownloadResult{AttachmentID: att.ID, Reason: models.FailReasonTransient}
	}
	return DownloadResult{AttachmentID: att.ID, Completed: true}
}

// fetch pulls the attachment bytes, retrying transient failures with
// quadratic backoff. Returns a failure reason code when every attempt failed.
func (d *Downloader) fetch(ctx context.Context, att models.Attachment) ([]byte, string, string) {
	ref := chat.SourceRef{DownloadURI: att.DownloadURL, DriveFileID: att.DriveFileID}
	if ref.DownloadURI == "" && ref.DriveFileID == "" {
		ref.DownloadURI = att.ThumbnailURL
	}

	var lastReason string
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt*attempt) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, "", models.FailReasonTransient
			}
		}

		data, declaredType, err := d.source.FetchBytes(ctx, ref)
		if err == nil {
			return data, declaredType, ""
		}

		lastReason = classifyFetchError(err)
		if lastReason != models.FailReasonTransient {
			break
		}
	}
	return nil, "", lastReason
}

func classifyFetchError(err error) string {
	switch {
	case errors.Is(err, chat.ErrUnauthorized):
		return models.FailReasonUnauthorized
	case errors.Is(err, chat.ErrNotFound):
		return models.FailReasonNotFound
	default:
		// Timeouts, connection resets and unknown faults are retryable.
		return models.FailReasonTransient
	}
}
