package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"gorm.io/gorm"

	"chatmirror/chat"
	"chatmirror/models"
)

// ServiceConfig carries the engine tuning knobs.
type ServiceConfig struct {
	DownloadWorkers     int
	MaxDownloadAttempts int
	ConfidenceThreshold int
	ConversationWorkers int
}

// Service assembles the engine per invocation: every sync pass gets its own
// orchestrator, worker pool and source, so there is no shared mutable sync
// state beyond the database.
type Service struct {
	db     *gorm.DB
	store  *StateStore
	blobs  BlobStore
	thumbs Thumbnailer
	cfg    ServiceConfig
	logger *log.Logger

	// ChatSourceFn builds the remote chat client with a fresh credential.
	ChatSourceFn func() (chat.Source, error)
	// MailSourceFn adapts a stored mailbox into a source.
	MailSourceFn func(src models.MailSource) (chat.Source, error)
	// OnProgress receives checkpoint events from running passes.
	OnProgress func(ProgressEvent)
}

func NewService(db *gorm.DB, blobs BlobStore, thumbs Thumbnailer, cfg ServiceConfig, logger *log.Logger) *Service {
	return &Service{
		db:     db,
		store:  NewStateStore(db),
		blobs:  blobs,
		thumbs: thumbs,
		cfg:    cfg,
		logger: logger,
	}
}

// Store exposes the state store for operator operations and tests.
func (s *Service) Store() *StateStore {
	return s.store
}

// SyncConversation runs one pass over one conversation reference. References
// beginning with "mail/" resolve through a stored mail source; everything
// else goes to the chat API.
func (s *Service) SyncConversation(ctx context.Context, convRef string) (*Summary, error) {
	source, err := s.sourceFor(convRef)
	if err != nil {
		return nil, err
	}

	downloader := NewDownloader(s.store, source, s.blobs, s.thumbs,
		s.cfg.DownloadWorkers, s.cfg.MaxDownloadAttempts, s.logger)
	resolver := NewIdentityResolver(s.db, source, s.logger)
	orch := NewOrchestrator(s.store, source, downloader, resolver, s.cfg.ConfidenceThreshold, s.logger)
	orch.OnProgress = s.OnProgress

	return orch.RunSync(ctx, convRef)
}

// SyncAll passes over every known conversation and every active mail source.
// Conversations run concurrently up to ConversationWorkers, each with its own
// pass; one failing conversation never aborts the batch. Cancellation is
// honored between conversations.
func (s *Service) SyncAll(ctx context.Context) []Summary {
	refs := s.collectRefs()

	workers := s.cfg.ConversationWorkers
	if workers <= 0 {
		workers = 1
	}

	var (
		mu        sync.Mutex
		summaries []Summary
		wg        sync.WaitGroup
	)
	sem := make(chan struct{}, workers)

	for _, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(ref string) {
			defer wg.Done()
			defer func() { <-sem }()

			summary, err := s.SyncConversation(ctx, ref)
			if err != nil {
				s.logger.Printf("Sync pass for %s failed: %v", ref, err)
			}
			if summary != nil {
				mu.Lock()
				summaries = append(summaries, *summary)
				mu.Unlock()
			}
		}(ref)
	}
	wg.Wait()
	return summaries
}

// RetryFailedDownloads is the operator retry entry point. Pass a conversation
// reference, an attachment id, or neither for every failed attachment.
func (s *Service) RetryFailedDownloads(convRef string, attachmentID uint) (int, error) {
	var convID uint
	if convRef != "" {
		var conv models.Conversation
		if err := s.db.Where("space_id = ?", convRef).First(&conv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, fmt.Errorf("unknown conversation %s", convRef)
			}
			return 0, err
		}
		convID = conv.ID
	}
	return s.store.RetryFailed(convID, attachmentID)
}

// MigrateLegacyPaths rewrites served-URL storage references to bare
// filenames.
func (s *Service) MigrateLegacyPaths() (int, error) {
	return s.store.MigrateLegacyPaths()
}

// RevertIdentity resets a sender identity to the neutral fallback and
// propagates the change to all cached participants.
func (s *Service) RevertIdentity(senderID string) (int, error) {
	resolver := NewIdentityResolver(s.db, nil, s.logger)
	return resolver.Revert(senderID)
}

// MapIdentity records a manual operator mapping at full confidence.
func (s *Service) MapIdentity(senderID, displayName, email string, employeeID *uint) (*models.SenderIdentity, error) {
	resolver := NewIdentityResolver(s.db, nil, s.logger)
	return resolver.MapManual(senderID, displayName, email, employeeID)
}

func (s *Service) sourceFor(convRef string) (chat.Source, error) {
	if strings.HasPrefix(convRef, "mail/") {
		if s.MailSourceFn == nil {
			return nil, fmt.Errorf("mail sources not configured")
		}
		parts := strings.Split(convRef, "/")
		if len(parts) < 3 {
			return nil, fmt.Errorf("invalid mail conversation reference %s", convRef)
		}
		var src models.MailSource
		if err := s.db.First(&src, parts[1]).Error; err != nil {
			return nil, fmt.Errorf("unknown mail source in %s: %w", convRef, err)
		}
		return s.MailSourceFn(src)
	}

	if s.ChatSourceFn == nil {
		return nil, fmt.Errorf("chat source not configured")
	}
	return s.ChatSourceFn()
}

func (s *Service) collectRefs() []string {
	seen := make(map[string]struct{})
	var refs []string

	var conversations []models.Conversation
	if err := s.db.Find(&conversations).Error; err != nil {
		s.logger.Printf("Listing conversations failed: %v", err)
	}
	for _, conv := range conversations {
		if _, ok := seen[conv.SpaceID]; !ok {
			seen[conv.SpaceID] = struct{}{}
			refs = append(refs, conv.SpaceID)
		}
	}

	var sources []models.MailSource
	if err := s.db.Where("is_active = ?", true).Find(&sources).Error; err != nil {
		s.logger.Printf("Listing mail sources failed: %v", err)
	}
	for _, src := range sources {
		mailbox := src.IMAPMailbox
		if mailbox == "" {
			mailbox = "INBOX"
		}
		ref := fmt.Sprintf("mail/%d/%s", src.ID, mailbox)
		if _, ok := seen[ref]; !ok {
			seen[ref] = struct{}{}
			refs = append(refs, ref)
		}
	}
	return refs
}
