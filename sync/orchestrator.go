package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"chatmirror/chat"
	"chatmirror/models"
)

// Summary is the user-visible outcome of one sync pass. Nothing is silently
// dropped: every failed download shows up in FailureReasons.
type Summary struct {
	RunID                string         `json:"run_id"`
	ConversationRef      string         `json:"conversation_ref"`
	MessagesSeen         int            `json:"messages_seen"`
	MessagesSkipped      int            `json:"messages_skipped"`
	AttachmentsNew       int            `json:"attachments_new"`
	AttachmentsUpdated   int            `json:"attachments_updated"`
	AttachmentsUnchanged int            `json:"attachments_unchanged"`
	DownloadsCompleted   int            `json:"downloads_completed"`
	DownloadsFailed      int            `json:"downloads_failed"`
	IdentitiesResolved   int            `json:"identities_resolved"`
	IdentitiesUnresolved int            `json:"identities_unresolved"`
	FailureReasons       map[string]int `json:"failure_reasons,omitempty"`
}

// ProgressEvent is emitted at checkpoints of a running pass, consumed by the
// websocket stream.
type ProgressEvent struct {
	RunID           string `json:"run_id"`
	ConversationRef string `json:"conversation_ref"`
	Stage           string `json:"stage"`
	Detail          string `json:"detail,omitempty"`
}

// Orchestrator drives one sync pass over one conversation. Each invocation
// owns its run context; there is no package-level mutable sync state.
type Orchestrator struct {
	store               *StateStore
	source              chat.Source
	dedup               *DedupIndex
	downloader          *Downloader
	resolver            *IdentityResolver
	confidenceThreshold int
	logger              *log.Logger

	// OnProgress, when set, receives checkpoint events. Must not block.
	OnProgress func(ProgressEvent)
}

func NewOrchestrator(store *StateStore, source chat.Source, downloader *Downloader, resolver *IdentityResolver, confidenceThreshold int, logger *log.Logger) *Orchestrator {
	if confidenceThreshold <= 0 {
		confidenceThreshold = models.ConfidenceDirectory
	}
	return &Orchestrator{
		store:               store,
		source:              source,
		dedup:               NewDedupIndex(store.DB()),
		downloader:          downloader,
		resolver:            resolver,
		confidenceThreshold: confidenceThreshold,
		logger:              logger,
	}
}

// RunSync executes one full pass: list messages, upsert them in listing
// order, normalize and dedup attachments, download what is new or updated,
// and resolve sender identities below the confidence threshold. Failures of
// individual messages or attachments never abort the pass.
func (o *Orchestrator) RunSync(ctx context.Context, convRef string) (*Summary, error) {
	runID := uuid.NewString()
	summary := &Summary{
		RunID:           runID,
		ConversationRef: convRef,
		FailureReasons:  make(map[string]int),
	}

	rawConv, err := o.source.GetConversation(ctx, convRef)
	if err != nil {
		return nil, fmt.Errorf("fetching conversation %s: %w", convRef, err)
	}
	conv, err := o.store.UpsertConversation(convRef, rawConv)
	if err != nil {
		return nil, fmt.Errorf("upserting conversation %s: %w", convRef, err)
	}

	run := models.SyncRun{
		RunID:          runID,
		ConversationID: conv.ID,
		Status:         models.SyncRunStatusRunning,
		StartedAt:      time.Now(),
	}
	if err := o.store.DB().Create(&run).Error; err != nil {
		return nil, fmt.Errorf("recording sync run: %w", err)
	}
	o.emit(runID, convRef, "started", "")

	senderTexts := make(map[string][]string)
	pageToken := ""
	for {
		if ctx.Err() != nil {
			o.finishRun(&run, summary, models.SyncRunStatusCancelled, ctx.Err().Error())
			return summary, ctx.Err()
		}

		messages, next, err := o.source.ListMessages(ctx, convRef, pageToken)
		if err != nil {
			o.finishRun(&run, summary, models.SyncRunStatusFailed, err.Error())
			return summary, fmt.Errorf("listing messages for %s: %w", convRef, err)
		}

		for i := range messages {
			o.processMessage(conv.ID, &messages[i], summary, senderTexts)
		}
		o.emit(runID, convRef, "messages", fmt.Sprintf("%d seen", summary.MessagesSeen))

		if next == "" {
			break
		}
		pageToken = next
	}

	o.resolveSenders(ctx, conv.ID, senderTexts, summary)
	o.emit(runID, convRef, "identities",
		fmt.Sprintf("%d resolved, %d unresolved", summary.IdentitiesResolved, summary.IdentitiesUnresolved))

	pending, err := o.store.PendingDownloads(conv.ID)
	if err != nil {
		o.logger.Printf("Listing pending downloads for %s failed: %v", convRef, err)
	} else {
		for _, result := range o.downloader.Run(ctx, pending) {
			switch {
			case result.Completed:
				summary.DownloadsCompleted++
			case result.Skipped:
			default:
				summary.DownloadsFailed++
				summary.FailureReasons[result.Reason]++
			}
		}
	}
	o.emit(runID, convRef, "downloads",
		fmt.Sprintf("%d completed, %d failed", summary.DownloadsCompleted, summary.DownloadsFailed))

	if err := o.store.TouchConversation(conv.ID); err != nil {
		o.logger.Printf("Touching conversation %s failed: %v", convRef, err)
	}
	o.finishRun(&run, summary, models.SyncRunStatusCompleted, "")
	o.emit(runID, convRef, "completed", "")
	return summary, nil
}

// processMessage upserts one message and classifies its attachments. A
// structurally invalid message (no identifier) is counted and skipped; any
// other failure is logged and the pass continues.
func (o *Orchestrator) processMessage(convID uint, raw *chat.RawMessage, summary *Summary, senderTexts map[string][]string) {
	if raw.Name == "" {
		summary.MessagesSkipped++
		return
	}

	msg, _, err := o.store.UpsertMessage(convID, raw)
	if err != nil {
		o.logger.Printf("Upserting message %s failed: %v", raw.Name, err)
		summary.MessagesSkipped++
		return
	}
	summary.MessagesSeen++

	if raw.Sender.Name != "" {
		if raw.Text != "" {
			senderTexts[raw.Sender.Name] = append(senderTexts[raw.Sender.Name], raw.Text)
		} else if _, seen := senderTexts[raw.Sender.Name]; !seen {
			senderTexts[raw.Sender.Name] = nil
		}
	}

	for _, att := range NormalizeAttachments(raw) {
		decision, existing, err := o.dedup.Classify(msg.ID, &att)
		if err != nil {
			o.logger.Printf("Dedup lookup failed for message %s: %v", raw.Name, err)
			continue
		}
		switch decision {
		case DecisionNew:
			att.MessageID = msg.ID
			if err := o.store.InsertAttachment(&att); err != nil {
				o.logger.Printf("Inserting attachment for message %s failed: %v", raw.Name, err)
				continue
			}
			summary.AttachmentsNew++
			if att.State == models.AttachmentStateFailed {
				summary.FailureReasons[att.FailReason]++
			}
		case DecisionDuplicateNeedsUpdate:
			if err := o.store.RefreshSources(existing, &att); err != nil {
				o.logger.Printf("Refreshing attachment %d failed: %v", existing.ID, err)
				continue
			}
			summary.AttachmentsUpdated++
		default:
			summary.AttachmentsUnchanged++
		}
	}
}

// resolveSenders runs the identity resolver for every sender seen in the pass
// whose identity is missing or below the confidence threshold, then refreshes
// the participant cache. Resolver failures are non-fatal.
func (o *Orchestrator) resolveSenders(ctx context.Context, convID uint, senderTexts map[string][]string, summary *Summary) {
	for senderID, texts := range senderTexts {
		// A sender already at or above the threshold keeps its stored
		// identity; no directory round-trip.
		if known, err := o.resolver.Lookup(senderID); err == nil && known != nil &&
			known.Confidence >= o.confidenceThreshold {
			if err := o.store.UpsertParticipant(convID, senderID, known.DisplayName, known.Email); err != nil {
				o.logger.Printf("Upserting participant %s failed: %v", senderID, err)
			}
			summary.IdentitiesResolved++
			continue
		}

		ident, err := o.resolver.Resolve(ctx, senderID, texts)
		if err != nil {
			o.logger.Printf("Resolving identity %s failed: %v", senderID, err)
			summary.IdentitiesUnresolved++
			continue
		}
		if err := o.store.UpsertParticipant(convID, senderID, ident.DisplayName, ident.Email); err != nil {
			o.logger.Printf("Upserting participant %s failed: %v", senderID, err)
		}
		if ident.Confidence >= o.confidenceThreshold {
			summary.IdentitiesResolved++
		} else {
			summary.IdentitiesUnresolved++
		}
	}
}

func (o *Orchestrator) finishRun(run *models.SyncRun, summary *Summary, status, lastError string) {
	now := time.Now()
	breakdown := ""
	if len(summary.FailureReasons) > 0 {
		if b, err := json.Marshal(summary.FailureReasons); err == nil {
			breakdown = string(b)
		}
	}
	err := o.store.DB().Model(run).Updates(map[string]interface{}{
		"status":                status,
		"messages_seen":         summary.MessagesSeen,
		"messages_skipped":      summary.MessagesSkipped,
		"attachments_new":       summary.AttachmentsNew,
		"attachments_updated":   summary.AttachmentsUpdated,
		"attachments_unchanged": summary.AttachmentsUnchanged,
		"downloads_completed":   summary.DownloadsCompleted,
		"downloads_failed":      summary.DownloadsFailed,
		"identities_resolved":   summary.IdentitiesResolved,
		"identities_unresolved": summary.IdentitiesUnresolved,
		"failure_breakdown":     breakdown,
		"finished_at":           now,
		"last_error":            lastError,
	}).Error
	if err != nil {
		o.logger.Printf("Updating sync run %s failed: %v", run.RunID, err)
	}
}

func (o *Orchestrator) emit(runID, convRef, stage, detail string) {
	if o.OnProgress == nil {
		return
	}
	o.OnProgress(ProgressEvent{RunID: runID, ConversationRef: convRef, Stage: stage, Detail: detail})
}
