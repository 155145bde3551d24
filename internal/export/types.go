// Package export renders a document with its comment appendix to HTML, PDF or DOCX.
package export

import (
	"errors"
	"time"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

func ParseFormat(raw string) (Format, bool) {
	switch f := Format(raw); f {
	case FormatHTML, FormatPDF, FormatDOCX:
		return f, true
	case "":
		return FormatPDF, true
	default:
		return "", false
	}
}

type Request struct {
	DocumentID      string
	Format          Format
	IncludeComments bool
	// Publish uploads the artifact and returns a download link instead of the bytes.
	Publish bool
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
	// URL and ExpiresAt are set for published exports.
	URL       string
	ExpiresAt time.Time
}

var (
	ErrPDFDependencyMissing  = errors.New("export pdf dependency missing")
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
	ErrPublishUnavailable    = errors.New("export storage not configured")
)
