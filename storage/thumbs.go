package storage

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

const thumbWidth = 320

// ThumbGenerator renders small JPEG previews for downloaded image
// attachments next to the originals. Generation is best-effort; the caller
// treats any error as a missing thumbnail, never as a failed download.
type ThumbGenerator struct {
	local *Local
}

func NewThumbGenerator(local *Local) *ThumbGenerator {
	return &ThumbGenerator{local: local}
}

// Thumbnail decodes data, scales it to the preview width and stores it as
// "<storedName>_thumb.jpg". Returns the bare thumbnail filename.
func (g *ThumbGenerator) Thumbnail(storedName, contentType string, data []byte) (string, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("not an image: %s", contentType)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", storedName, err)
	}

	thumb := img
	if img.Bounds().Dx() > thumbWidth {
		thumb = imaging.Resize(img, thumbWidth, 0, imaging.Lanczos)
	}

	name := strings.TrimSuffix(storedName, filepath.Ext(storedName)) + "_thumb.jpg"
	if err := imaging.Save(thumb, filepath.Join(g.local.Dir(), name), imaging.JPEGQuality(80)); err != nil {
		return "", fmt.Errorf("saving thumbnail %s: %w", name, err)
	}
	return name, nil
}
