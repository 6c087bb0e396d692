// Package extract pulls native (non-OCR) text out of uploaded files.
package extract

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PageText is the extracted text of a single PDF page.
type PageText struct {
	PageNum int
	Text    string
}

// PDFExtractor reads embedded text from PDF files.
type PDFExtractor struct{}

// NewPDFExtractor returns a native PDF text extractor.
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// ExtractPages returns one entry per page, 1-based. Pages without embedded
// text come back empty; the caller decides whether to fall back to OCR.
func (e *PDFExtractor) ExtractPages(path string) ([]PageText, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	total := r.NumPage()
	if total == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	pages := make([]PageText, 0, total)
	for i := 1; i <= total; i++ {
		p := r.Page(i)
		text := ""
		if !p.V.IsNull() {
			// Malformed pages are common enough in the wild that a
			// per-page failure must not sink the rest of the file.
			if s, err := p.GetPlainText(nil); err == nil {
				text = s
			}
		}
		pages = append(pages, PageText{PageNum: i, Text: text})
	}
	return pages, nil
}

// AllEmpty reports whether every page holds only whitespace.
func AllEmpty(pages []PageText) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return false
		}
	}
	return true
}
