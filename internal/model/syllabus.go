package model

import (
	"bytes"
	"time"
)

const SyllabusContentType = "application/pdf"

var pdfHeader = []byte("%PDF-")

// Syllabus is the CA syllabus PDF a student uploaded. There is at most one per
// owner; a new upload replaces the previous one.
type Syllabus struct {
	OwnerID    string
	FileName   string
	Data       []byte
	UploadedAt time.Time
}

// IsPDF reports whether data starts with the PDF file header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, pdfHeader)
}
