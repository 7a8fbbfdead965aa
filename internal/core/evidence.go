package core

import (
	"path/filepath"
	"strings"
)

// MaxEvidenceSize is the upload limit for a single evidence document.
const MaxEvidenceSize = 10 << 20

var evidenceExtensions = map[string]bool{
	".pdf":  true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".xlsx": true,
	".xls":  true,
	".doc":  true,
	".docx": true,
}

// ValidateEvidenceUpload checks the file extension and size before an
// upload is forwarded to the backend.
func ValidateEvidenceUpload(filename string, size int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !evidenceExtensions[ext] {
		return ErrUnsupportedFile
	}
	if size > MaxEvidenceSize {
		return ErrFileTooLarge
	}
	return nil
}

// LinkedSet returns the IDs of transactions that have at least one live
// evidence document.
func LinkedSet(evidence []Evidence) map[int64]bool {
	linked := make(map[int64]bool)
	for _, e := range evidence {
		if e.Deleted {
			continue
		}
		for _, id := range e.LinkedTransactionIDs {
			linked[id] = true
		}
	}
	return linked
}
