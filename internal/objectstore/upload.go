package objectstore

import (
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/tyqqj0/paper-parser/internal/domain"
)

// MaxUploadBytes caps the declared upload size.
const MaxUploadBytes = 50 << 20

// windowsReservedNames are rejected as filenames regardless of extension.
var windowsReservedNames = map[string]struct{}{
	"con": {}, "prn": {}, "aux": {}, "nul": {},
	"com1": {}, "com2": {}, "com3": {}, "com4": {},
	"lpt1": {}, "lpt2": {}, "lpt3": {}, "lpt4": {},
}

var safeFilenameRegex = regexp.MustCompile(`^[A-Za-z0-9._ -]+$`)

// UploadRequest describes a requested PDF upload.
type UploadRequest struct {
	// Filename is the client-declared file name.
	Filename string `json:"filename" validate:"required"`

	// ContentType is the declared MIME type; only application/pdf passes.
	ContentType string `json:"content_type" validate:"required"`

	// Size is the declared size in bytes.
	Size int64 `json:"size" validate:"required,gt=0"`
}

// PresignedUpload is the issued time-bound write URL.
type PresignedUpload struct {
	UploadURL string `json:"upload_url"`
	ObjectKey string `json:"object_key"`
	ExpiresIn int    `json:"expires_in_seconds"`
}

// Validate enforces the upload contract: sane filename (no path traversal,
// no reserved names), PDF MIME type, and size within the cap. Returns the
// object key to store under.
func (r *UploadRequest) Validate() (string, error) {
	name := strings.TrimSpace(r.Filename)
	if name == "" {
		return "", domain.NewValidationError("filename", "required")
	}
	// Reject anything that is not a plain base name.
	if name != path.Base(name) || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return "", domain.NewValidationError("filename", "path components are not allowed")
	}
	if !safeFilenameRegex.MatchString(name) {
		return "", domain.NewValidationError("filename", "contains unsupported characters")
	}

	base := strings.ToLower(strings.TrimSuffix(name, path.Ext(name)))
	if _, reserved := windowsReservedNames[base]; reserved {
		return "", domain.NewValidationError("filename", "reserved name")
	}
	if !strings.EqualFold(path.Ext(name), ".pdf") {
		return "", domain.NewValidationError("filename", "only .pdf files are accepted")
	}

	if !strings.EqualFold(strings.TrimSpace(r.ContentType), "application/pdf") {
		return "", domain.NewDomainError(domain.KindInvalidPDF, "content type must be application/pdf", nil)
	}

	if r.Size <= 0 {
		return "", domain.NewValidationError("size", "must be positive")
	}
	if r.Size > MaxUploadBytes {
		return "", domain.NewDomainError(domain.KindTooLarge, "declared size exceeds the upload cap", nil)
	}

	// Uploads are keyed by UUID to keep client names out of the bucket
	// namespace.
	return "uploads/" + uuid.NewString() + ".pdf", nil
}
