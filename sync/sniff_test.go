package sync

import "testing"

func TestContentMismatch(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\nrest-of-image")
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}
	pdf := []byte("%PDF-1.7 ...")
	htmlDoc := []byte("<!DOCTYPE html><html><body>Sign in</body></html>")
	mp4 := append([]byte{0x00, 0x00, 0x00, 0x18}, []byte("ftypisom....")...)

	tests := []struct {
		name     string
		expected string
		declared string
		data     []byte
		want     bool
	}{
		{"png matches", "image/png", "image/png", png, false},
		{"jpeg matches", "image/jpeg", "image/jpeg", jpeg, false},
		{"pdf matches", "application/pdf", "application/pdf", pdf, false},
		{"png body is html", "image/png", "image/png", htmlDoc, true},
		{"declared html for binary", "application/pdf", "text/html", pdf, true},
		{"pdf body is jpeg", "application/pdf", "application/pdf", jpeg, true},
		{"mp4 matches", "video/mp4", "video/mp4", mp4, false},
		{"mp4 body is png", "video/mp4", "video/mp4", png, true},
		{"unknown type accepted", "application/zip", "application/zip", []byte("PK\x03\x04"), false},
		{"text expectation tolerates html", "text/plain", "text/plain", htmlDoc, false},
		{"parameters stripped", "image/png; charset=binary", "image/png", png, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContentMismatch(tt.expected, tt.declared, tt.data); got != tt.want {
				t.Errorf("ContentMismatch(%q, %q) = %t, want %t", tt.expected, tt.declared, got, tt.want)
			}
		})
	}
}

func TestIsLegacyServedPath(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", false},
		{"report.pdf", false},
		{"1699999999_report.pdf", false},
		{"https://mirror.example/media/files/x.png", true},
		{"http://mirror.example/x.png", true},
		{"/media/files/x.png", true},
		{"/media/x.png", true},
	}

	for _, tt := range tests {
		if got := IsLegacyServedPath(tt.in); got != tt.want {
			t.Errorf("IsLegacyServedPath(%q) = %t, want %t", tt.in, got, tt.want)
		}
	}
}

func TestBareFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://mirror.example/media/files/1699_x.png?sig=abc", "1699_x.png"},
		{"/media/files/photo.jpg", "photo.jpg"},
		{"photo.jpg", "photo.jpg"},
		{"a\\b\\c.txt", "c.txt"},
	}

	for _, tt := range tests {
		if got := BareFilename(tt.in); got != tt.want {
			t.Errorf("BareFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
