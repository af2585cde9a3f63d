package filetype

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// PDFMIME is the only type the merger accepts.
const PDFMIME = "application/pdf"

// FileTypeInfo contains detected file type information
type FileTypeInfo struct {
	MIMEType    string
	Extension   string
	Mergeable   bool
	Description string
}

// Detector handles file type detection using magic bytes
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

// Detect sniffs the leading bytes of data. name is only used for logging and
// for the mismatch warning when a file claims to be a PDF but is not.
func (d *Detector) Detect(name string, data []byte) *FileTypeInfo {
	mtype := mimetype.Detect(data)
	info := &FileTypeInfo{
		MIMEType:  mtype.String(),
		Extension: mtype.Extension(),
	}
	d.classify(info)

	log.Debug().Str("mime", info.MIMEType).Str("ext", info.Extension).Str("file", name).Msg("detected file type")
	if !info.Mergeable && strings.EqualFold(filepath.Ext(name), ".pdf") {
		log.Warn().Str("file", name).Str("mime", info.MIMEType).Msg("file has .pdf extension but content is not a PDF")
	}
	return info
}

// classify decides whether the detected type can take part in a merge
func (d *Detector) classify(info *FileTypeInfo) {
	mimeType := info.MIMEType

	switch {
	case mimeType == PDFMIME:
		info.Mergeable = true
		info.Description = "PDF document"

	// Office and image formats are recognised so the rejection message is useful
	case strings.HasPrefix(mimeType, "application/vnd.openxmlformats-officedocument."),
		mimeType == "application/msword",
		mimeType == "application/vnd.ms-powerpoint",
		mimeType == "application/vnd.ms-excel":
		info.Description = "Office document (convert to PDF first)"

	case strings.HasPrefix(mimeType, "image/"):
		info.Description = "Image file (not a paginated document)"

	case strings.HasPrefix(mimeType, "text/"):
		info.Description = "Text file (not a paginated document)"

	default:
		info.Description = fmt.Sprintf("Unsupported file type: %s", mimeType)
	}
}
