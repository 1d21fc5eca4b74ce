package mime

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const Unknown = "application/octet-stream"

// Detect sniffs the content type of data, without parameters.
func Detect(data []byte) string {
	if len(data) == 0 {
		return Unknown
	}
	mt := mimetype.Detect(data)
	if mt == nil {
		return Unknown
	}
	value, _, _ := strings.Cut(mt.String(), ";")
	return strings.TrimSpace(value)
}

// IsImage reports whether data sniffs as an image type.
func IsImage(data []byte) bool {
	return strings.HasPrefix(Detect(data), "image/")
}

// Extension maps a detected type to a file extension without the dot.
func Extension(contentType string) string {
	switch contentType {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpeg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "image/bmp":
		return "bmp"
	case "image/tiff":
		return "tiff"
	}
	if mt := mimetype.Lookup(contentType); mt != nil && mt.Extension() != "" {
		return strings.TrimPrefix(mt.Extension(), ".")
	}
	return "bin"
}
