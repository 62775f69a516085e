package sync

import (
	"path"
	"regexp"
	"strings"

	"chatmirror/chat"
	"chatmirror/models"
)

// Fallback values applied when the wire payload is missing or malformed
const (
	FallbackFilename    = "Unnamed attachment"
	FallbackContentType = "application/octet-stream"
)

// Legacy stored filenames carry a numeric timestamp prefix, e.g.
// "1699999999_report.pdf".
var timestampPrefixRe = regexp.MustCompile(`^\d+_`)

// NormalizeAttachments converts the attachment data of one raw message into
// canonical records. It is a pure transformation: shape variance (single
// object, array, absent) and missing fields degrade to fallbacks, never to an
// error. Attachments without any source reference are born failed with reason
// no_source.
func NormalizeAttachments(raw *chat.RawMessage) []models.Attachment {
	rawAttachments := raw.Attachments()
	if len(rawAttachments) == 0 {
		return nil
	}

	out := make([]models.Attachment, 0, len(rawAttachments))
	for i, ra := range rawAttachments {
		att := models.Attachment{
			RemoteID:     ra.Name,
			Filename:     resolveFilename(ra),
			ContentType:  resolveContentType(ra),
			Position:     i,
			DownloadURL:  ra.DownloadURI,
			ThumbnailURL: ra.ThumbnailURI,
			State:        models.AttachmentStatePending,
		}
		if ra.DriveDataRef != nil {
			att.DriveFileID = ra.DriveDataRef.DriveFileID
		}
		if !att.HasSource() {
			att.State = models.AttachmentStateFailed
			att.FailReason = models.FailReasonNoSource
		}
		out = append(out, att)
	}
	return out
}

// resolveFilename applies the fallback chain: explicit filename, content
// name, a name derived from a legacy local path, then the literal fallback.
func resolveFilename(ra chat.RawAttachment) string {
	if name := strings.TrimSpace(ra.Filename); name != "" {
		return name
	}
	if name := strings.TrimSpace(ra.ContentName); name != "" {
		return name
	}
	if name := FilenameFromLegacyPath(ra.LocalPath); name != "" {
		return name
	}
	return FallbackFilename
}

func resolveContentType(ra chat.RawAttachment) string {
	if ct := strings.TrimSpace(ra.ContentType); ct != "" {
		return ct
	}
	if ct := strings.TrimSpace(ra.MimeType); ct != "" {
		return ct
	}
	return FallbackContentType
}

// FilenameFromLegacyPath derives a display filename from a legacy local-path
// value: path segments and any numeric-timestamp prefix are stripped.
// Returns "" when nothing usable remains.
func FilenameFromLegacyPath(legacy string) string {
	legacy = strings.TrimSpace(legacy)
	if legacy == "" {
		return ""
	}
	if i := strings.IndexAny(legacy, "?#"); i >= 0 {
		legacy = legacy[:i]
	}
	legacy = strings.ReplaceAll(legacy, "\\", "/")
	base := path.Base(legacy)
	if base == "." || base == "/" {
		return ""
	}
	return timestampPrefixRe.ReplaceAllString(base, "")
}
