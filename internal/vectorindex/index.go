package vectorindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"
)

// Entry is one indexed page: its embedding plus enough metadata to map a
// search hit back to a document page.
type Entry struct {
	ID         string
	DocumentID string
	PageNum    int
	Text       string
	Vector     []float32
}

// Result is one nearest-neighbor hit. Distance is cosine distance
// (1 - similarity), so lower is closer.
type Result struct {
	ID         string
	DocumentID string
	PageNum    int
	Text       string
	Distance   float64
}

// Index stores page embeddings in a single SQLite file and answers
// nearest-neighbor queries with a brute-force cosine scan. Collections stay
// small enough (pages, not chunks) that a scan beats maintaining an ANN
// structure.
type Index struct {
	db *sql.DB
}

// Open creates or opens the index database at path.
func Open(path string) (*Index, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS embeddings (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	page_num    INTEGER NOT NULL,
	text        TEXT NOT NULL,
	vector      BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_document ON embeddings(document_id);
`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Add inserts or replaces one entry.
func (x *Index) Add(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("entry id required")
	}
	if len(e.Vector) == 0 {
		return fmt.Errorf("entry vector required")
	}
	_, err := x.db.ExecContext(ctx, `
INSERT INTO embeddings (id, document_id, page_num, text, vector)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	document_id = excluded.document_id,
	page_num    = excluded.page_num,
	text        = excluded.text,
	vector      = excluded.vector
`, e.ID, e.DocumentID, e.PageNum, e.Text, serializeVector(e.Vector))
	return err
}

// Search returns the topK entries closest to vector, nearest first.
func (x *Index) Search(ctx context.Context, vector []float32, topK int) ([]Result, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector must not be empty")
	}
	if topK <= 0 {
		topK = 10
	}
	rows, err := x.db.QueryContext(ctx, `SELECT id, document_id, page_num, text, vector FROM embeddings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			res      Result
			vecBytes []byte
		)
		if err := rows.Scan(&res.ID, &res.DocumentID, &res.PageNum, &res.Text, &vecBytes); err != nil {
			return nil, err
		}
		res.Distance = 1 - cosineSimilarity(vector, deserializeVector(vecBytes))
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteByDocument removes every entry tagged with documentID and reports
// how many were removed.
func (x *Index) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	res, err := x.db.ExecContext(ctx, `DELETE FROM embeddings WHERE document_id = ?`, documentID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Count returns the number of indexed entries.
func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&n)
	return n, err
}

// Ping verifies the index database is reachable.
func (x *Index) Ping(ctx context.Context) error {
	return x.db.PingContext(ctx)
}

// Close releases the underlying database handle.
func (x *Index) Close() error {
	return x.db.Close()
}

func serializeVector(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func deserializeVector(buf []byte) []float32 {
	vector := make([]float32, len(buf)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vector
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
