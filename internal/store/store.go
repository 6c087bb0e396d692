package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/docresearch/models"
)

// Store persists documents and queries in Postgres. Page bodies and
// per-query responses are stored as JSONB documents; everything queried by
// the API lives in plain columns.
type Store struct {
	DB *sql.DB
}

// New connects using POSTGRES_* environment variables.
func New(ctx context.Context) (*Store, error) {
	host := getenvDefault("POSTGRES_HOST", "localhost")
	port := getenvDefault("POSTGRES_PORT", "5432")
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	db := os.Getenv("POSTGRES_DB")
	ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN connects to the given Postgres DSN and verifies the connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// InsertDocument persists a freshly ingested document.
func (s *Store) InsertDocument(ctx context.Context, doc models.Document) error {
	pages, err := json.Marshal(doc.Pages)
	if err != nil {
		return fmt.Errorf("marshal pages: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO documents (id, title, file_type, original_filename, file_path, page_count, processed, ocr_processed, file_size, pages, upload_date, last_modified)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`, doc.ID, doc.Title, doc.FileType, doc.OriginalFilename, doc.FilePath,
		doc.Metadata.PageCount, doc.Metadata.Processed, doc.Metadata.OCRProcessed,
		doc.Metadata.FileSize, pages, doc.Metadata.UploadDate, doc.Metadata.LastModified)
	return err
}

// UpdateDocumentPages rewrites a document's page list, used to attach
// embedding ids after indexing.
func (s *Store) UpdateDocumentPages(ctx context.Context, id string, pages []models.Page) error {
	body, err := json.Marshal(pages)
	if err != nil {
		return fmt.Errorf("marshal pages: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE documents SET pages=$2, last_modified=NOW() WHERE id=$1
`, id, body)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return models.ErrNotFound
	}
	return err
}

// GetDocument fetches one document by id. The bool reports existence.
func (s *Store) GetDocument(ctx context.Context, id string) (models.Document, bool, error) {
	var (
		doc   models.Document
		pages []byte
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT id, title, file_type, original_filename, file_path, page_count, processed, ocr_processed, file_size, pages, upload_date, last_modified
FROM documents WHERE id=$1
`, id).Scan(&doc.ID, &doc.Title, &doc.FileType, &doc.OriginalFilename, &doc.FilePath,
		&doc.Metadata.PageCount, &doc.Metadata.Processed, &doc.Metadata.OCRProcessed,
		&doc.Metadata.FileSize, &pages, &doc.Metadata.UploadDate, &doc.Metadata.LastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Document{}, false, nil
	}
	if err != nil {
		return models.Document{}, false, err
	}
	if len(pages) > 0 {
		if err := json.Unmarshal(pages, &doc.Pages); err != nil {
			return models.Document{}, false, fmt.Errorf("unmarshal pages: %w", err)
		}
	}
	return doc, true, nil
}

// ListDocuments returns every stored document, newest upload first.
func (s *Store) ListDocuments(ctx context.Context) ([]models.Document, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, title, file_type, original_filename, file_path, page_count, processed, ocr_processed, file_size, pages, upload_date, last_modified
FROM documents ORDER BY upload_date DESC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var (
			doc   models.Document
			pages []byte
		)
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.FileType, &doc.OriginalFilename, &doc.FilePath,
			&doc.Metadata.PageCount, &doc.Metadata.Processed, &doc.Metadata.OCRProcessed,
			&doc.Metadata.FileSize, &pages, &doc.Metadata.UploadDate, &doc.Metadata.LastModified); err != nil {
			return nil, err
		}
		if len(pages) > 0 {
			if err := json.Unmarshal(pages, &doc.Pages); err != nil {
				return nil, fmt.Errorf("unmarshal pages for %s: %w", doc.ID, err)
			}
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ListDocumentIDs returns the ids of every stored document.
func (s *Store) ListDocumentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id FROM documents ORDER BY upload_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertQuery persists a query with its document responses and themes.
func (s *Store) InsertQuery(ctx context.Context, q models.Query) error {
	responses, err := json.Marshal(q.DocumentResponses)
	if err != nil {
		return fmt.Errorf("marshal document responses: %w", err)
	}
	themes, err := json.Marshal(q.Themes)
	if err != nil {
		return fmt.Errorf("marshal themes: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO queries (id, query_text, document_responses, themes, created_at)
VALUES ($1,$2,$3,$4,$5)
`, q.ID, q.Text, responses, themes, q.CreatedAt)
	return err
}

// UpdateQueryThemes overwrites the themes of a stored query.
func (s *Store) UpdateQueryThemes(ctx context.Context, id string, themes []models.Theme) error {
	body, err := json.Marshal(themes)
	if err != nil {
		return fmt.Errorf("marshal themes: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE queries SET themes=$2 WHERE id=$1`, id, body)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return models.ErrNotFound
	}
	return err
}

// GetQuery fetches one query by id. The bool reports existence.
func (s *Store) GetQuery(ctx context.Context, id string) (models.Query, bool, error) {
	var (
		q         models.Query
		responses []byte
		themes    []byte
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT id, query_text, document_responses, themes, created_at FROM queries WHERE id=$1
`, id).Scan(&q.ID, &q.Text, &responses, &themes, &q.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Query{}, false, nil
	}
	if err != nil {
		return models.Query{}, false, err
	}
	if len(responses) > 0 {
		if err := json.Unmarshal(responses, &q.DocumentResponses); err != nil {
			return models.Query{}, false, fmt.Errorf("unmarshal document responses: %w", err)
		}
	}
	if len(themes) > 0 {
		if err := json.Unmarshal(themes, &q.Themes); err != nil {
			return models.Query{}, false, fmt.Errorf("unmarshal themes: %w", err)
		}
	}
	return q, true, nil
}
