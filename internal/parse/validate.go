// Package parse validates uploads and turns pdf and pptx bytes into pages of
// text for the pipeline.
package parse

import (
	"archive/zip"
	"bytes"
	"fmt"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
)

// DefaultMaxBytes is the upload size limit.
const DefaultMaxBytes int64 = 50 << 20

var (
	pdfMagic = []byte("%PDF-")
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

const presentationPart = "ppt/presentation.xml"

// Validate rejects uploads that are empty, too large, of an unsupported
// format or whose content does not match the declared format.
func Validate(format models.Format, data []byte, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if _, ok := models.ParseFormat(string(format)); !ok {
		return models.NewValidationError("format", fmt.Sprintf("unsupported format %q, expected pdf, ppt or pptx", format))
	}
	if len(data) == 0 {
		return models.NewValidationError("file", "file is empty")
	}
	if int64(len(data)) > maxBytes {
		return models.NewValidationError("file", fmt.Sprintf("file is %d bytes, the limit is %d", len(data), maxBytes))
	}
	detected, ok := Detect(data)
	if !ok {
		return models.NewValidationError("file", "file content is not a recognised pdf or presentation")
	}
	if detected != format {
		return models.NewValidationError("format", fmt.Sprintf("declared %s but content is %s", format, detected))
	}
	return nil
}

// Detect sniffs the format from magic bytes. A zip archive only counts as
// pptx when it carries the presentation part.
func Detect(data []byte) (models.Format, bool) {
	switch {
	case bytes.HasPrefix(data, pdfMagic):
		return models.FormatPDF, true
	case bytes.HasPrefix(data, oleMagic):
		return models.FormatPPT, true
	case bytes.HasPrefix(data, zipMagic):
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return "", false
		}
		for _, f := range zr.File {
			if f.Name == presentationPart {
				return models.FormatPPTX, true
			}
		}
	}
	return "", false
}
