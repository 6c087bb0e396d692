// Package ingest turns uploaded files into stored, indexed documents.
package ingest

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohammad-safakhou/docresearch/internal/extract"
	"github.com/mohammad-safakhou/docresearch/internal/ocr"
	"github.com/mohammad-safakhou/docresearch/internal/vectorindex"
	"github.com/mohammad-safakhou/docresearch/models"
)

// emptyPageText fills pages whose native extraction produced nothing.
const emptyPageText = "No text could be extracted from this page."

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".tiff": true, ".tif": true, ".bmp": true,
}

var documentsIngested = promauto.NewCounter(prometheus.CounterOpts{
	Name: "docresearch_documents_ingested_total",
	Help: "Documents successfully ingested.",
})

// DocumentStore is the slice of the store the pipeline writes to.
type DocumentStore interface {
	InsertDocument(ctx context.Context, doc models.Document) error
	GetDocument(ctx context.Context, id string) (models.Document, bool, error)
	UpdateDocumentPages(ctx context.Context, id string, pages []models.Page) error
}

// Embedder maps page text to vectors.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorWriter is the slice of the vector index the pipeline writes to.
type VectorWriter interface {
	Add(ctx context.Context, e vectorindex.Entry) error
	DeleteByDocument(ctx context.Context, documentID string) (int, error)
}

// PDFExtractor reads embedded text from a PDF file.
type PDFExtractor interface {
	ExtractPages(path string) ([]extract.PageText, error)
}

// Pipeline ingests uploads: save bytes, extract text (OCR fallback), embed
// pages, persist. The store may be nil when Postgres was unreachable at
// startup; ingestion then still returns the in-memory document.
type Pipeline struct {
	store     DocumentStore
	index     VectorWriter
	embedder  Embedder
	ocr       ocr.Engine
	pdf       PDFExtractor
	uploadDir string
	logger    *log.Logger
}

// New wires an ingestion pipeline from its collaborators.
func New(store DocumentStore, index VectorWriter, embedder Embedder, ocrEngine ocr.Engine, pdf PDFExtractor, uploadDir string) *Pipeline {
	return &Pipeline{
		store:     store,
		index:     index,
		embedder:  embedder,
		ocr:       ocrEngine,
		pdf:       pdf,
		uploadDir: uploadDir,
		logger:    log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
	}
}

// Ingest processes one upload and returns the resulting document. A
// disallowed extension fails with models.ErrUnsupportedType before anything
// is written.
func (p *Pipeline) Ingest(ctx context.Context, data []byte, filename, title string) (models.Document, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ".pdf" && !imageExtensions[ext] {
		return models.Document{}, fmt.Errorf("%w: %s", models.ErrUnsupportedType, ext)
	}

	filePath, err := p.saveUpload(data, ext)
	if err != nil {
		return models.Document{}, err
	}

	if title == "" {
		title = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}

	var (
		pages        []models.Page
		ocrProcessed bool
	)
	if ext == ".pdf" {
		pages, ocrProcessed = p.processPDF(ctx, filePath)
	} else {
		pages = p.processImage(ctx, filePath)
		ocrProcessed = true
	}

	now := time.Now().UTC()
	doc := models.Document{
		ID:               uuid.New().String(),
		Title:            title,
		FileType:         strings.TrimPrefix(ext, "."),
		OriginalFilename: filename,
		FilePath:         filePath,
		Metadata: models.DocumentMetadata{
			PageCount:    len(pages),
			Processed:    true,
			OCRProcessed: ocrProcessed,
			FileSize:     int64(len(data)),
			UploadDate:   now,
			LastModified: now,
		},
		Pages: pages,
	}

	if p.store != nil {
		if err := p.store.InsertDocument(ctx, doc); err != nil {
			p.logger.Printf("error storing document %s: %v", doc.ID, err)
		}
	} else {
		p.logger.Printf("document store unavailable, document %s kept in memory only", doc.ID)
	}

	p.embedPages(ctx, doc.ID, doc.Pages)

	if p.store != nil {
		if err := p.store.UpdateDocumentPages(ctx, doc.ID, doc.Pages); err != nil {
			p.logger.Printf("error updating pages for %s: %v", doc.ID, err)
		}
	}

	documentsIngested.Inc()
	return doc, nil
}

// RebuildEmbeddings drops every index entry for the document and re-embeds
// each page with fresh reference ids.
func (p *Pipeline) RebuildEmbeddings(ctx context.Context, documentID string) error {
	if p.store == nil {
		return models.ErrStoreUnavailable
	}
	doc, ok, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrNotFound
	}

	removed, err := p.index.DeleteByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("delete existing embeddings: %w", err)
	}
	p.logger.Printf("deleted %d existing embeddings for document %s", removed, documentID)

	for i := range doc.Pages {
		doc.Pages[i].EmbeddingID = ""
	}
	p.embedPages(ctx, documentID, doc.Pages)

	embedded := 0
	for _, page := range doc.Pages {
		if page.EmbeddingID != "" {
			embedded++
		}
	}
	if embedded == 0 && len(doc.Pages) > 0 {
		return fmt.Errorf("failed to rebuild embeddings for document %s", documentID)
	}

	return p.store.UpdateDocumentPages(ctx, documentID, doc.Pages)
}

// embedPages requests one embedding per page and records the reference id
// on success. A single page failing never aborts the rest.
func (p *Pipeline) embedPages(ctx context.Context, documentID string, pages []models.Page) {
	for i := range pages {
		vecs, err := p.embedder.CreateEmbedding(ctx, []string{pages[i].Text})
		if err != nil || len(vecs) == 0 {
			p.logger.Printf("error embedding page %d of %s: %v", pages[i].PageNum, documentID, err)
			continue
		}
		embeddingID := fmt.Sprintf("%s_page_%d", documentID, pages[i].PageNum)
		if err := p.index.Add(ctx, vectorindex.Entry{
			ID:         embeddingID,
			DocumentID: documentID,
			PageNum:    pages[i].PageNum,
			Text:       pages[i].Text,
			Vector:     vecs[0],
		}); err != nil {
			p.logger.Printf("error indexing page %d of %s: %v", pages[i].PageNum, documentID, err)
			continue
		}
		pages[i].EmbeddingID = embeddingID
	}
}

// processPDF extracts native text and falls back to OCR when every page is
// blank. The second return reports whether the document counts as
// OCR-processed.
func (p *Pipeline) processPDF(ctx context.Context, filePath string) ([]models.Page, bool) {
	needsOCR := p.ocr.IsScannedPDF(ctx, filePath)

	extracted, err := p.pdf.ExtractPages(filePath)
	if err != nil {
		p.logger.Printf("error processing pdf %s: %v", filePath, err)
		return []models.Page{{PageNum: 1, Text: fmt.Sprintf("Error processing PDF: %v", err)}}, needsOCR
	}

	if extract.AllEmpty(extracted) {
		ocrPages, ocrErr := p.ocr.ProcessPDF(ctx, filePath)
		if ocrErr != nil {
			p.logger.Printf("ocr fallback failed for %s, using native extraction: %v", filePath, ocrErr)
		} else if len(ocrPages) > 0 {
			pages := make([]models.Page, 0, len(ocrPages))
			for _, op := range ocrPages {
				pages = append(pages, models.Page{PageNum: op.PageNum, Text: op.Text})
			}
			return pages, true
		}
	}

	pages := make([]models.Page, 0, len(extracted))
	for _, ep := range extracted {
		text := ep.Text
		if strings.TrimSpace(text) == "" {
			text = emptyPageText
		}
		pages = append(pages, models.Page{PageNum: ep.PageNum, Text: text})
	}
	return pages, needsOCR
}

// processImage OCRs an image upload into a single page.
func (p *Pipeline) processImage(ctx context.Context, filePath string) []models.Page {
	text, err := p.ocr.ProcessImage(ctx, filePath)
	if err != nil {
		p.logger.Printf("error processing image %s: %v", filePath, err)
		return []models.Page{{PageNum: 1, Text: fmt.Sprintf("Error processing image: %v", err)}}
	}
	return []models.Page{{PageNum: 1, Text: text}}
}

// saveUpload writes the raw bytes under a generated unique name.
func (p *Pipeline) saveUpload(data []byte, ext string) (string, error) {
	if err := os.MkdirAll(p.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(p.uploadDir, uuid.New().String()+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	return path, nil
}
