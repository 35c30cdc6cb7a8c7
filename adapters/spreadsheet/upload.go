package spreadsheet

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"deanalyse/domain/core"
)

const (
	// MaxFileSize is the largest accepted upload in bytes
	MaxFileSize = 10 * 1024 * 1024
	// MaxFilenameLength bounds sanitized filenames, extension included
	MaxFilenameLength = 255
	// DefaultFilename replaces a missing client filename
	DefaultFilename = "upload.csv"
)

var unsafeFilenameChars = regexp.MustCompile(`[^\p{L}\p{N}_\s\-.]`)

// allowedMIMETypes lists the content types expected per format. A mismatch is
// reported to the caller but never rejects the upload.
var allowedMIMETypes = map[Format][]string{
	FormatCSV:  {"text/csv", "application/csv", "text/plain", "application/octet-stream"},
	FormatXLSX: {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/octet-stream", "application/zip"},
	FormatXLS:  {"application/vnd.ms-excel", "application/octet-stream"},
}

// SanitizeFilename strips directory components and unsafe characters and
// shortens the name to MaxFilenameLength while keeping the extension.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" {
		name = ""
	}
	name = unsafeFilenameChars.ReplaceAllString(name, "")

	if utf8.RuneCountInString(name) > MaxFilenameLength {
		ext := path.Ext(name)
		base := []rune(strings.TrimSuffix(name, ext))
		keep := MaxFilenameLength - utf8.RuneCountInString(ext)
		if keep < 0 {
			keep = 0
		}
		if keep < len(base) {
			base = base[:keep]
		}
		name = string(base) + ext
	}
	return name
}

// DetectFormat maps a sanitized filename onto an accepted format
func DetectFormat(filename string) (Format, error) {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return "", core.ErrUnsupportedFormat
	}
	switch strings.ToLower(filename[idx:]) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".xls":
		return FormatXLS, nil
	}
	return "", core.ErrUnsupportedFormat
}

// Upload is a validated upload ready to be read
type Upload struct {
	Filename     string
	Format       Format
	MIMEMismatch bool
}

// ValidateUpload applies the gatekeeping rules to an upload: the filename is
// sanitized, the extension must be accepted, and the size must be within
// (0, MaxFileSize].
func ValidateUpload(filename string, size int64, contentType string) (*Upload, error) {
	if strings.TrimSpace(filename) == "" {
		filename = DefaultFilename
	}
	safe := SanitizeFilename(filename)

	format, err := DetectFormat(safe)
	if err != nil {
		return nil, err
	}
	if size > MaxFileSize {
		return nil, fmt.Errorf("%w: maximum size is %dMB", core.ErrFileTooLarge, MaxFileSize/(1024*1024))
	}
	if size == 0 {
		return nil, core.ErrEmptyFile
	}

	return &Upload{
		Filename:     safe,
		Format:       format,
		MIMEMismatch: !mimeAllowed(format, contentType),
	}, nil
}

func mimeAllowed(format Format, contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	for _, allowed := range allowedMIMETypes[format] {
		if ct == allowed {
			return true
		}
	}
	return false
}
