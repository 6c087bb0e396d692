// Package ocr wraps the external tesseract and poppler binaries. Both are
// consumed as-is; nothing here interprets image content.
package ocr

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// NotAvailableText is the page placeholder used when OCR cannot run.
const NotAvailableText = "OCR processing not available. Text extraction skipped."

// scannedTextThreshold: a first page yielding less OCR text than this is
// treated as a scanned document.
const scannedTextThreshold = 100

// PageText is the OCR output of a single page.
type PageText struct {
	PageNum int
	Text    string
}

// Engine is the OCR contract the ingestion pipeline consumes.
type Engine interface {
	Available() bool
	ProcessImage(ctx context.Context, path string) (string, error)
	ProcessPDF(ctx context.Context, path string) ([]PageText, error)
	IsScannedPDF(ctx context.Context, path string) bool
}

// Tesseract shells out to the tesseract binary, rasterizing PDFs with
// poppler's pdftoppm first.
type Tesseract struct {
	tesseractPath string
	pdftoppmPath  string
	logger        *log.Logger
}

// NewTesseract probes PATH for the required binaries. The returned engine
// degrades gracefully when either is missing.
func NewTesseract() *Tesseract {
	t := &Tesseract{logger: log.New(log.Writer(), "[OCR] ", log.LstdFlags)}
	if p, err := exec.LookPath("tesseract"); err == nil {
		t.tesseractPath = p
	} else {
		t.logger.Printf("tesseract is not installed or not in PATH, OCR disabled")
	}
	if p, err := exec.LookPath("pdftoppm"); err == nil {
		t.pdftoppmPath = p
	}
	return t
}

// Available reports whether image OCR can run at all.
func (t *Tesseract) Available() bool {
	return t.tesseractPath != ""
}

func (t *Tesseract) pdfAvailable() bool {
	return t.tesseractPath != "" && t.pdftoppmPath != ""
}

// ProcessImage runs OCR over one image file and returns the recognized text.
func (t *Tesseract) ProcessImage(ctx context.Context, path string) (string, error) {
	if !t.Available() {
		return NotAvailableText, nil
	}
	// "stdout" makes tesseract write recognized text to stdout instead of a file.
	out, err := exec.CommandContext(ctx, t.tesseractPath, path, "stdout").Output()
	if err != nil {
		return "", fmt.Errorf("tesseract failed: %w", err)
	}
	return string(out), nil
}

// ProcessPDF rasterizes every page and OCRs each one.
func (t *Tesseract) ProcessPDF(ctx context.Context, path string) ([]PageText, error) {
	if !t.pdfAvailable() {
		return []PageText{{PageNum: 1, Text: NotAvailableText}}, nil
	}
	images, cleanup, err := t.rasterize(ctx, path, 0, 0)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	pages := make([]PageText, 0, len(images))
	for i, img := range images {
		text, err := t.ProcessImage(ctx, img)
		if err != nil {
			return nil, fmt.Errorf("ocr page %d: %w", i+1, err)
		}
		pages = append(pages, PageText{PageNum: i + 1, Text: text})
	}
	return pages, nil
}

// IsScannedPDF OCRs just the first page and checks whether it yields enough
// text to suggest a scan rather than a digital document.
func (t *Tesseract) IsScannedPDF(ctx context.Context, path string) bool {
	if !t.pdfAvailable() {
		return false
	}
	images, cleanup, err := t.rasterize(ctx, path, 1, 1)
	if err != nil || len(images) == 0 {
		if cleanup != nil {
			cleanup()
		}
		return false
	}
	defer cleanup()

	text, err := t.ProcessImage(ctx, images[0])
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(text)) < scannedTextThreshold
}

// rasterize converts PDF pages to PNG files in a temp directory and returns
// them in page order. firstPage/lastPage of 0 mean the whole document.
func (t *Tesseract) rasterize(ctx context.Context, path string, firstPage, lastPage int) ([]string, func(), error) {
	dir, err := os.MkdirTemp("", "docresearch-ocr-")
	if err != nil {
		return nil, nil, fmt.Errorf("create temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	args := []string{"-png"}
	if firstPage > 0 {
		args = append(args, "-f", fmt.Sprint(firstPage))
	}
	if lastPage > 0 {
		args = append(args, "-l", fmt.Sprint(lastPage))
	}
	args = append(args, path, filepath.Join(dir, "page"))

	if out, err := exec.CommandContext(ctx, t.pdftoppmPath, args...).CombinedOutput(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("pdftoppm failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	images, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil || len(images) == 0 {
		// Older poppler builds name single-digit pages without padding.
		images, _ = filepath.Glob(filepath.Join(dir, "page*.png"))
	}
	sort.Strings(images)
	return images, cleanup, nil
}
