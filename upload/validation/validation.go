// Package validation runs the pre-flight checks on a file before any session
// or network activity. Validate is a pure function: no I/O, no side effects.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/gabriel-vasile/mimetype"
)

// Kind selects the rule set to validate against.
type Kind string

// Supported file kinds.
const (
	KindVideo Kind = "video"
	KindImage Kind = "image"
)

// Size ceilings per kind.
const (
	MaxVideoSize = 2 * units.GiB
	MaxImageSize = 10 * units.MiB
)

// FileInfo is everything the validator needs to know about a candidate file.
// MIMEType is the type declared by the caller; use Sniff when there is none.
type FileInfo struct {
	Name     string
	Size     int64
	MIMEType string
}

// ValidationError reports a failed pre-flight check.
// Reason is "size" or "type".
type ValidationError struct {
	Reason  string
	message string
}

func (e *ValidationError) Error() string {
	return e.message
}

var imageMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

var videoMIMETypes = map[string]bool{
	"video/mp4":        true,
	"video/quicktime":  true,
	"video/x-msvideo":  true,
	"video/webm":       true,
	"video/x-matroska": true,
	"video/x-flv":      true,
	"video/x-ms-wmv":   true,
	"video/x-m4v":      true,
	"video/3gpp":       true,
}

// Some browsers and transfer tools report video files with a generic binary
// type. For those the filename extension decides.
var genericMIMETypes = map[string]bool{
	"":                         true,
	"application/octet-stream": true,
	"binary/octet-stream":      true,
}

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".webm": true,
	".mkv":  true,
	".flv":  true,
	".wmv":  true,
	".m4v":  true,
	".3gp":  true,
}

// Validate checks size and type rules for the given kind.
// A nil return means the file may be uploaded.
func Validate(info FileInfo, kind Kind) error {
	switch kind {
	case KindVideo:
		return validateVideo(info)
	case KindImage:
		return validateImage(info)
	default:
		return fmt.Errorf("unknown file kind: %s", kind)
	}
}

func validateVideo(info FileInfo) error {
	if info.Size > MaxVideoSize {
		return &ValidationError{
			Reason: "size",
			message: fmt.Sprintf("video size %s exceeds the %s limit",
				units.HumanSize(float64(info.Size)), units.HumanSize(float64(MaxVideoSize))),
		}
	}

	mime := normalizeMIME(info.MIMEType)
	if videoMIMETypes[mime] {
		return nil
	}
	if genericMIMETypes[mime] && videoExtensions[extension(info.Name)] {
		return nil
	}

	return &ValidationError{
		Reason:  "type",
		message: fmt.Sprintf("unsupported video type %q for file %s", info.MIMEType, info.Name),
	}
}

func validateImage(info FileInfo) error {
	if info.Size > MaxImageSize {
		return &ValidationError{
			Reason: "size",
			message: fmt.Sprintf("image size %s exceeds the %s limit",
				units.HumanSize(float64(info.Size)), units.HumanSize(float64(MaxImageSize))),
		}
	}

	if !imageMIMETypes[normalizeMIME(info.MIMEType)] {
		return &ValidationError{
			Reason:  "type",
			message: fmt.Sprintf("unsupported image type %q for file %s", info.MIMEType, info.Name),
		}
	}

	return nil
}

// Sniff detects the MIME type from the file's leading bytes. Callers use it
// to fill FileInfo.MIMEType when no type was declared.
func Sniff(path string) (string, error) {
	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect content type of %s: %w", path, err)
	}
	return mime.String(), nil
}

func normalizeMIME(mime string) string {
	mime = strings.TrimSpace(strings.ToLower(mime))
	// strip parameters like "; charset=binary"
	if idx := strings.Index(mime, ";"); idx != -1 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return mime
}

func extension(name string) string {
	return strings.ToLower(filepath.Ext(name))
}
