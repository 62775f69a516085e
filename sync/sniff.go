package sync

import (
	"bytes"
	"strings"
)

// Magic-byte signatures for the binary types the remote serves most. A
// response whose declared type or leading bytes contradict the expected
// binary content is classified content_mismatch instead of being persisted.
var magicSignatures = map[string][][]byte{
	"image/png":       {[]byte("\x89PNG\r\n\x1a\n")},
	"image/jpeg":      {{0xFF, 0xD8, 0xFF}},
	"application/pdf": {[]byte("%PDF-")},
}

// ContentMismatch reports whether the fetched body cannot be the expected
// binary payload: an HTML/error document served in place of bytes, or leading
// bytes that contradict a known binary signature.
func ContentMismatch(expectedType, declaredType string, data []byte) bool {
	expected := baseType(expectedType)
	declared := baseType(declaredType)

	expectsBinary := expected != "" && !strings.HasPrefix(expected, "text/")
	if expectsBinary {
		if declared == "text/html" || declared == "application/xhtml+xml" {
			return true
		}
		if looksLikeHTML(data) {
			return true
		}
	}

	if sigs, ok := magicSignatures[expected]; ok {
		for _, sig := range sigs {
			if bytes.HasPrefix(data, sig) {
				return false
			}
		}
		return true
	}
	if expected == "video/mp4" {
		// The ftyp box follows a 4-byte length prefix.
		return len(data) < 12 || !bytes.Equal(data[4:8], []byte("ftyp"))
	}
	return false
}

func baseType(ct string) string {
	ct = strings.TrimSpace(strings.ToLower(ct))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

func looksLikeHTML(data []byte) bool {
	head := data
	if len(head) > 256 {
		head = head[:256]
	}
	trimmed := bytes.TrimLeft(head, " \t\r\n")
	lower := bytes.ToLower(trimmed)
	return bytes.HasPrefix(lower, []byte("<!doctype html")) ||
		bytes.HasPrefix(lower, []byte("<html"))
}
