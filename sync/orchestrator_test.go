package sync

import (
	"context"
	"strings"
	"testing"
	"time"

	"chatmirror/chat"
	"chatmirror/models"
	"chatmirror/storage"
)

// fakeSource serves a small scripted conversation from memory.
type fakeSource struct {
	conversation chat.RawConversation
	pages        [][]chat.RawMessage
	blobs        map[string][]byte
	directory    map[string]chat.RawIdentity
	fetchErr     error

	directoryCalls int
}

func (f *fakeSource) GetConversation(ctx context.Context, convRef string) (*chat.RawConversation, error) {
	conv := f.conversation
	return &conv, nil
}

func (f *fakeSource) ListMessages(ctx context.Context, convRef, pageToken string) ([]chat.RawMessage, string, error) {
	page := 0
	if pageToken != "" {
		page = int(pageToken[0] - '0')
	}
	if page >= len(f.pages) {
		return nil, "", nil
	}
	next := ""
	if page+1 < len(f.pages) {
		next = string(rune('0' + page + 1))
	}
	return f.pages[page], next, nil
}

func (f *fakeSource) GetMessage(ctx context.Context, messageRef string) (*chat.RawMessage, error) {
	for _, page := range f.pages {
		for i := range page {
			if page[i].Name == messageRef {
				return &page[i], nil
			}
		}
	}
	return nil, chat.ErrNotFound
}

func (f *fakeSource) FetchBytes(ctx context.Context, ref chat.SourceRef) ([]byte, string, error) {
	if f.fetchErr != nil {
		return nil, "", f.fetchErr
	}
	key := ref.DownloadURI
	if key == "" {
		key = ref.DriveFileID
	}
	data, ok := f.blobs[key]
	if !ok {
		return nil, "", chat.ErrNotFound
	}
	return data, "application/pdf", nil
}

func (f *fakeSource) ResolveIdentity(ctx context.Context, senderID string) (*chat.RawIdentity, error) {
	f.directoryCalls++
	if ident, ok := f.directory[senderID]; ok {
		return &ident, nil
	}
	return nil, chat.ErrNotFound
}

func newTestOrchestrator(t *testing.T, source chat.Source) (*Orchestrator, *StateStore, *storage.Local) {
	t.Helper()
	db := testDB(t)
	store := NewStateStore(db)
	blobs, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("creating blob store: %v", err)
	}
	downloader := NewDownloader(store, source, blobs, nil, 2, 1, testLogger())
	resolver := NewIdentityResolver(db, source, testLogger())
	return NewOrchestrator(store, source, downloader, resolver, 90, testLogger()), store, blobs
}

func TestRunSyncEndToEnd(t *testing.T) {
	pdf := []byte("%PDF-1.7 fake document body")
	source := &fakeSource{
		conversation: chat.RawConversation{
			Name:        "spaces/E2E",
			DisplayName: "Hiring thread",
			SpaceType:   "GROUP_CHAT",
		},
		pages: [][]chat.RawMessage{
			{
				{
					Name:       "spaces/E2E/messages/1",
					Sender:     chat.RawSender{Name: "users/alice"},
					Text:       "Here is the take-home.",
					CreateTime: time.Now().Add(-2 * time.Hour),
					Attachment: chat.AttachmentField{{
						Name:        "spaces/E2E/messages/1/attachments/1",
						Filename:    "takehome.pdf",
						ContentType: "application/pdf",
						DownloadURI: "https://chat.example/dl/takehome",
					}},
				},
				{
					Name:       "spaces/E2E/messages/2",
					Sender:     chat.RawSender{Name: "users/bob"},
					Text:       "my name is Bob Candidate",
					CreateTime: time.Now().Add(-1 * time.Hour),
				},
			},
			{
				{
					Name:       "spaces/E2E/messages/3",
					Sender:     chat.RawSender{Name: "users/alice"},
					Text:       "Thanks!",
					CreateTime: time.Now(),
				},
			},
		},
		blobs: map[string][]byte{
			"https://chat.example/dl/takehome": pdf,
		},
		directory: map[string]chat.RawIdentity{
			"users/alice": {DisplayName: "Alice Recruiter", Email: "alice@corp.example"},
		},
	}

	orch, store, _ := newTestOrchestrator(t, source)
	summary, err := orch.RunSync(context.Background(), "spaces/E2E")
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	if summary.MessagesSeen != 3 {
		t.Errorf("messages seen = %d, want 3", summary.MessagesSeen)
	}
	if summary.AttachmentsNew != 1 {
		t.Errorf("attachments new = %d, want 1", summary.AttachmentsNew)
	}
	if summary.DownloadsCompleted != 1 {
		t.Errorf("downloads completed = %d, want 1", summary.DownloadsCompleted)
	}
	if summary.DownloadsFailed != 0 {
		t.Errorf("downloads failed = %d (%v)", summary.DownloadsFailed, summary.FailureReasons)
	}
	if summary.IdentitiesResolved != 1 {
		t.Errorf("identities resolved = %d, want 1 (directory hit)", summary.IdentitiesResolved)
	}
	if summary.IdentitiesUnresolved != 1 {
		t.Errorf("identities unresolved = %d, want 1 (heuristic below threshold)", summary.IdentitiesUnresolved)
	}

	var att models.Attachment
	if err := store.DB().Where("remote_id = ?", "spaces/E2E/messages/1/attachments/1").
		First(&att).Error; err != nil {
		t.Fatalf("loading attachment: %v", err)
	}
	if att.State != models.AttachmentStateCompleted {
		t.Errorf("attachment state = %q, want completed", att.State)
	}
	if att.LocalPath == "" || strings.ContainsAny(att.LocalPath, "/\\") {
		t.Errorf("local path %q is not a bare filename", att.LocalPath)
	}
	if att.ByteSize == nil || *att.ByteSize != int64(len(pdf)) {
		t.Errorf("byte size = %v, want %d", att.ByteSize, len(pdf))
	}

	var conv models.Conversation
	if err := store.DB().Where("space_id = ?", "spaces/E2E").First(&conv).Error; err != nil {
		t.Fatalf("loading conversation: %v", err)
	}
	if conv.LastSyncedAt == nil {
		t.Error("conversation not touched after pass")
	}

	var run models.SyncRun
	if err := store.DB().Where("run_id = ?", summary.RunID).First(&run).Error; err != nil {
		t.Fatalf("loading sync run: %v", err)
	}
	if run.Status != models.SyncRunStatusCompleted {
		t.Errorf("run status = %q, want completed", run.Status)
	}
}

func TestRunSyncIsIdempotent(t *testing.T) {
	source := &fakeSource{
		conversation: chat.RawConversation{Name: "spaces/IDEM", SpaceType: "DIRECT_MESSAGE"},
		pages: [][]chat.RawMessage{{
			{
				Name:       "spaces/IDEM/messages/1",
				Sender:     chat.RawSender{Name: "users/x"},
				CreateTime: time.Now(),
				Attachment: chat.AttachmentField{{
					Name:        "spaces/IDEM/messages/1/attachments/1",
					Filename:    "a.pdf",
					ContentType: "application/pdf",
					DownloadURI: "https://chat.example/dl/a",
				}},
			},
		}},
		blobs: map[string][]byte{"https://chat.example/dl/a": []byte("%PDF-1.4 x")},
	}

	orch, store, _ := newTestOrchestrator(t, source)
	first, err := orch.RunSync(context.Background(), "spaces/IDEM")
	if err != nil {
		t.Fatalf("first RunSync: %v", err)
	}
	second, err := orch.RunSync(context.Background(), "spaces/IDEM")
	if err != nil {
		t.Fatalf("second RunSync: %v", err)
	}

	if first.AttachmentsNew != 1 || second.AttachmentsNew != 0 {
		t.Errorf("attachments new = %d then %d, want 1 then 0", first.AttachmentsNew, second.AttachmentsNew)
	}
	if second.AttachmentsUnchanged != 1 {
		t.Errorf("second pass unchanged = %d, want 1", second.AttachmentsUnchanged)
	}
	if second.DownloadsCompleted != 0 {
		t.Errorf("second pass re-downloaded %d attachments", second.DownloadsCompleted)
	}

	var count int64
	store.DB().Model(&models.Attachment{}).Count(&count)
	if count != 1 {
		t.Errorf("attachment rows = %d, want 1", count)
	}
	var msgCount int64
	store.DB().Model(&models.Message{}).Count(&msgCount)
	if msgCount != 1 {
		t.Errorf("message rows = %d, want 1", msgCount)
	}
}

func TestRunSyncSkipsAlreadyResolvedSenders(t *testing.T) {
	source := &fakeSource{
		conversation: chat.RawConversation{Name: "spaces/SKIP", SpaceType: "GROUP_CHAT"},
		pages: [][]chat.RawMessage{{
			{
				Name:       "spaces/SKIP/messages/1",
				Sender:     chat.RawSender{Name: "users/alice"},
				Text:       "Ping",
				CreateTime: time.Now(),
			},
		}},
		directory: map[string]chat.RawIdentity{
			"users/alice": {DisplayName: "Alice Recruiter", Email: "alice@corp.example"},
		},
	}

	orch, _, _ := newTestOrchestrator(t, source)
	if _, err := orch.RunSync(context.Background(), "spaces/SKIP"); err != nil {
		t.Fatalf("first RunSync: %v", err)
	}
	if source.directoryCalls != 1 {
		t.Fatalf("directory calls after first pass = %d, want 1", source.directoryCalls)
	}

	second, err := orch.RunSync(context.Background(), "spaces/SKIP")
	if err != nil {
		t.Fatalf("second RunSync: %v", err)
	}
	if source.directoryCalls != 1 {
		t.Errorf("directory calls after second pass = %d, stored identity should be reused", source.directoryCalls)
	}
	if second.IdentitiesResolved != 1 {
		t.Errorf("second pass resolved = %d, want 1", second.IdentitiesResolved)
	}
}

func TestRunSyncFailureReasons(t *testing.T) {
	source := &fakeSource{
		conversation: chat.RawConversation{Name: "spaces/FAIL", SpaceType: "GROUP_CHAT"},
		pages: [][]chat.RawMessage{{
			{
				Name:       "spaces/FAIL/messages/1",
				Sender:     chat.RawSender{Name: "users/x"},
				CreateTime: time.Now(),
				Attachment: chat.AttachmentField{
					{
						Name:        "spaces/FAIL/messages/1/attachments/1",
						Filename:    "gone.pdf",
						ContentType: "application/pdf",
						DownloadURI: "https://chat.example/dl/gone",
					},
					{
						Name:     "spaces/FAIL/messages/1/attachments/2",
						Filename: "orphan.pdf",
					},
				},
			},
		}},
		blobs: map[string][]byte{},
	}

	orch, _, _ := newTestOrchestrator(t, source)
	summary, err := orch.RunSync(context.Background(), "spaces/FAIL")
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	if summary.DownloadsFailed != 1 {
		t.Errorf("downloads failed = %d, want 1", summary.DownloadsFailed)
	}
	if summary.FailureReasons[models.FailReasonNotFound] != 1 {
		t.Errorf("not_found count = %d, want 1", summary.FailureReasons[models.FailReasonNotFound])
	}
	if summary.FailureReasons[models.FailReasonNoSource] != 1 {
		t.Errorf("no_source count = %d, want 1", summary.FailureReasons[models.FailReasonNoSource])
	}
}

func TestRunSyncProgressEvents(t *testing.T) {
	source := &fakeSource{
		conversation: chat.RawConversation{Name: "spaces/EV", SpaceType: "GROUP_CHAT"},
		pages:        [][]chat.RawMessage{},
	}

	orch, _, _ := newTestOrchestrator(t, source)
	var stages []string
	orch.OnProgress = func(ev ProgressEvent) {
		stages = append(stages, ev.Stage)
	}

	if _, err := orch.RunSync(context.Background(), "spaces/EV"); err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	if len(stages) == 0 || stages[0] != "started" || stages[len(stages)-1] != "completed" {
		t.Errorf("unexpected stage sequence %v", stages)
	}
}
