package models

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a document or query id does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrStoreUnavailable is returned when the document store cannot be reached.
var ErrStoreUnavailable = errors.New("document store unavailable")

// ErrUnsupportedType is returned when an upload has a disallowed file extension.
var ErrUnsupportedType = errors.New("unsupported file type")

// Document is an uploaded file together with its extracted per-page text.
type Document struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	FileType         string           `json:"file_type"`
	OriginalFilename string           `json:"original_filename"`
	FilePath         string           `json:"file_path"`
	Metadata         DocumentMetadata `json:"metadata"`
	Pages            []Page           `json:"pages"`
}

type DocumentMetadata struct {
	PageCount    int       `json:"page_count"`
	Processed    bool      `json:"processed"`
	OCRProcessed bool      `json:"ocr_processed"`
	FileSize     int64     `json:"file_size"`
	UploadDate   time.Time `json:"upload_date"`
	LastModified time.Time `json:"last_modified"`
}

// Page holds the extracted text of one document page. EmbeddingID is set
// after the page has been indexed.
type Page struct {
	PageNum     int    `json:"page_num"`
	Text        string `json:"text"`
	EmbeddingID string `json:"embedding_id,omitempty"`
}

// DocumentSummary is the API payload for a document, without page bodies.
type DocumentSummary struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	FileType         string    `json:"file_type"`
	OriginalFilename string    `json:"original_filename"`
	PageCount        int       `json:"page_count"`
	Processed        bool      `json:"processed"`
	OCRProcessed     bool      `json:"ocr_processed"`
	FileSize         int64     `json:"file_size"`
	UploadDate       time.Time `json:"upload_date"`
	LastModified     time.Time `json:"last_modified"`
}

// Summary converts a Document into its API payload form.
func (d Document) Summary() DocumentSummary {
	return DocumentSummary{
		ID:               d.ID,
		Title:            d.Title,
		FileType:         d.FileType,
		OriginalFilename: d.OriginalFilename,
		PageCount:        d.Metadata.PageCount,
		Processed:        d.Metadata.Processed,
		OCRProcessed:     d.Metadata.OCRProcessed,
		FileSize:         d.Metadata.FileSize,
		UploadDate:       d.Metadata.UploadDate,
		LastModified:     d.Metadata.LastModified,
	}
}

// Query is one research question and everything produced while answering it.
type Query struct {
	ID                string             `json:"id"`
	Text              string             `json:"query_text"`
	DocumentResponses []DocumentResponse `json:"document_responses"`
	Themes            []Theme            `json:"themes"`
	CreatedAt         time.Time          `json:"created_at"`
}

// DocumentResponse is the per-document extraction result for a query.
type DocumentResponse struct {
	DocumentID      string     `json:"document_id"`
	DocumentTitle   string     `json:"document_title"`
	ExtractedAnswer string     `json:"extracted_answer"`
	Citations       []Citation `json:"citations"`
}

// Citation points from an extracted answer back to the supporting passage.
type Citation struct {
	DocumentID     string  `json:"document_id"`
	DocumentTitle  string  `json:"document_title"`
	PageNumber     *int    `json:"page_number,omitempty"`
	Paragraph      *int    `json:"paragraph,omitempty"`
	Sentence       string  `json:"sentence,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Theme is a cross-document topic synthesized from the per-document answers.
type Theme struct {
	Name               string   `json:"theme_name"`
	Description        string   `json:"description"`
	DocumentIDs        []string `json:"document_ids"`
	SupportingEvidence []string `json:"supporting_evidence"`
}
