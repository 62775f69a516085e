package chat

import (
	"encoding/json"
	"time"
)

// RawConversation is the wire shape of a remote space or thread.
type RawConversation struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	SpaceType   string `json:"spaceType"` // DIRECT_MESSAGE, SPACE, GROUP_CHAT
}

// RawSender identifies the author of a remote message.
type RawSender struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Type        string `json:"type"` // HUMAN, BOT
}

// RawDriveRef points at a drive-hosted file backing an attachment.
type RawDriveRef struct {
	DriveFileID string `json:"driveFileId"`
}

// RawAttachment is one attachment as the remote API ships it. Older payloads
// carry MimeType and LocalPath instead of ContentType and a download URI.
type RawAttachment struct {
	Name         string       `json:"name"` // stable attachment resource id
	Filename     string       `json:"filename"`
	ContentName  string       `json:"contentName"`
	ContentType  string       `json:"contentType"`
	MimeType     string       `json:"mimeType"` // legacy field
	DownloadURI  string       `json:"downloadUri"`
	ThumbnailURI string       `json:"thumbnailUri"`
	DriveDataRef *RawDriveRef `json:"driveDataRef"`
	LocalPath    string       `json:"localPath"` // legacy field, e.g. "1699999999_report.pdf"
}

// AttachmentField absorbs the three wire shapes of the attachment field: a
// single object, an array, or absent/null. All decode to a plain slice.
type AttachmentField []RawAttachment

func (f *AttachmentField) UnmarshalJSON(data []byte) error {
	trimmed := string(data)
	if trimmed == "null" || trimmed == `""` {
		*f = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var list []RawAttachment
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*f = list
		return nil
	}
	var single RawAttachment
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*f = AttachmentField{single}
	return nil
}

// RawMessage is one remote message payload. Attachment data may arrive under
// either the singular or plural key depending on API age; Attachments()
// flattens both.
type RawMessage struct {
	Name           string          `json:"name"` // remote message id
	Sender         RawSender       `json:"sender"`
	Text           string          `json:"text"`
	CreateTime     time.Time       `json:"createTime"`
	Attachment     AttachmentField `json:"attachment"`
	AttachmentList AttachmentField `json:"attachments"`
}

// Attachments returns every attachment on the message regardless of which
// wire key carried it.
func (m *RawMessage) Attachments() []RawAttachment {
	if len(m.Attachment) == 0 {
		return m.AttachmentList
	}
	if len(m.AttachmentList) == 0 {
		return m.Attachment
	}
	out := make([]RawAttachment, 0, len(m.Attachment)+len(m.AttachmentList))
	out = append(out, m.Attachment...)
	out = append(out, m.AttachmentList...)
	return out
}

// RawIdentity is a directory lookup result for a sender identifier.
type RawIdentity struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// SourceRef names the remote location of attachment bytes. Exactly one of the
// fields set on the parent attachment is chosen by the downloader, download
// URI first.
type SourceRef struct {
	DownloadURI string
	DriveFileID string
}
