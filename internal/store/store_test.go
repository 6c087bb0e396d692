package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mohammad-safakhou/docresearch/models"
)

func TestInsertDocument(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now().UTC()
	doc := models.Document{
		ID:               "doc-1",
		Title:            "report",
		FileType:         "pdf",
		OriginalFilename: "report.pdf",
		FilePath:         "/uploads/abc.pdf",
		Metadata: models.DocumentMetadata{
			PageCount:    2,
			Processed:    true,
			FileSize:     1024,
			UploadDate:   now,
			LastModified: now,
		},
		Pages: []models.Page{{PageNum: 1, Text: "one"}, {PageNum: 2, Text: "two"}},
	}

	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO documents (id, title, file_type, original_filename, file_path, page_count, processed, ocr_processed, file_size, pages, upload_date, last_modified)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`)).
		WithArgs("doc-1", "report", "pdf", "report.pdf", "/uploads/abc.pdf", 2, true, false, int64(1024), sqlmock.AnyArg(), now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.InsertDocument(context.Background(), doc); err != nil {
		t.Fatalf("InsertDocument: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectQuery(`SELECT id, title, file_type`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, ok, err := st.GetDocument(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if ok {
		t.Fatalf("expected document to be absent")
	}
}

func TestGetDocumentUnmarshalsPages(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now().UTC()
	cols := []string{"id", "title", "file_type", "original_filename", "file_path", "page_count", "processed", "ocr_processed", "file_size", "pages", "upload_date", "last_modified"}
	mock.ExpectQuery(`SELECT id, title, file_type`).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("doc-1", "report", "pdf", "report.pdf", "/uploads/abc.pdf", 1, true, false, int64(10),
				[]byte(`[{"page_num":1,"text":"hello","embedding_id":"doc-1_page_1"}]`), now, now))

	doc, ok, err := st.GetDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if !ok {
		t.Fatalf("expected document to exist")
	}
	if len(doc.Pages) != 1 || doc.Pages[0].EmbeddingID != "doc-1_page_1" {
		t.Fatalf("unexpected pages: %+v", doc.Pages)
	}
}

func TestUpdateDocumentPagesMissingID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectExec(`UPDATE documents SET pages=\$2, last_modified=NOW\(\) WHERE id=\$1`).
		WithArgs("missing", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = st.UpdateDocumentPages(context.Background(), "missing", nil)
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertAndGetQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now().UTC()
	q := models.Query{
		ID:   "query-1",
		Text: "what color is the sky?",
		DocumentResponses: []models.DocumentResponse{
			{DocumentID: "doc-1", DocumentTitle: "report", ExtractedAnswer: "blue", Citations: []models.Citation{}},
		},
		Themes:    []models.Theme{},
		CreatedAt: now,
	}

	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO queries (id, query_text, document_responses, themes, created_at)
VALUES ($1,$2,$3,$4,$5)
`)).
		WithArgs("query-1", "what color is the sky?", sqlmock.AnyArg(), sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.InsertQuery(context.Background(), q); err != nil {
		t.Fatalf("InsertQuery: %v", err)
	}

	cols := []string{"id", "query_text", "document_responses", "themes", "created_at"}
	mock.ExpectQuery(`SELECT id, query_text, document_responses, themes, created_at FROM queries WHERE id=\$1`).
		WithArgs("query-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("query-1", "what color is the sky?",
				[]byte(`[{"document_id":"doc-1","document_title":"report","extracted_answer":"blue","citations":[]}]`),
				[]byte(`[{"theme_name":"Color","description":"d","document_ids":["doc-1"],"supporting_evidence":["blue"]}]`), now))

	got, ok, err := st.GetQuery(context.Background(), "query-1")
	if err != nil {
		t.Fatalf("GetQuery: %v", err)
	}
	if !ok {
		t.Fatalf("expected query to exist")
	}
	if len(got.DocumentResponses) != 1 || got.DocumentResponses[0].ExtractedAnswer != "blue" {
		t.Fatalf("unexpected responses: %+v", got.DocumentResponses)
	}
	if len(got.Themes) != 1 || got.Themes[0].Name != "Color" {
		t.Fatalf("unexpected themes: %+v", got.Themes)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateQueryThemes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectExec(`UPDATE queries SET themes=\$2 WHERE id=\$1`).
		WithArgs("query-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	themes := []models.Theme{{Name: "Climate", Description: "d"}}
	if err := st.UpdateQueryThemes(context.Background(), "query-1", themes); err != nil {
		t.Fatalf("UpdateQueryThemes: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
