// Package research answers free-text queries against the ingested corpus:
// vector retrieval, per-document answer extraction, theme synthesis.
package research

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohammad-safakhou/docresearch/internal/vectorindex"
	"github.com/mohammad-safakhou/docresearch/models"
)

const (
	defaultTopK        = 10
	contextCharBudget  = 4000
	themeCharBudget    = 3000
	previewChars       = 500
	truncationMarker   = "... [text truncated]"
	extractionMaxToken = 2000
	themeMaxToken      = 3000
)

const extractionSystemPrompt = `You are a document analysis assistant. Your task is to:
1. Extract relevant information from the document text that answers the query
2. Provide a concise answer based on the document content
3. Include citations with page numbers, paragraphs, and relevant sentences
4. Only use information from the provided document
5. If the document doesn't contain relevant information, state that clearly

Format your response as JSON with the following structure:
{
    "extracted_answer": "The concise answer based on the document",
    "citations": [
        {
            "page_number": 1,
            "paragraph": 2,
            "sentence": "The exact sentence from the document that supports the answer",
            "relevance_score": 0.95
        }
    ]
}`

const themeSystemPrompt = `You are a research assistant that identifies themes in document responses.
Analyze the document responses to a query and identify meaningful themes.

If there are multiple documents, identify common themes across them.
If there is only one document, identify the main themes within that document.

For each theme:
1. Provide a clear theme name
2. Write a concise description of the theme
3. List the document IDs that support this theme
4. Include supporting evidence from the documents

Format your response as JSON with the following structure:
[
    {
        "theme_name": "Name of Theme 1",
        "description": "Description of Theme 1",
        "document_ids": ["doc1", "doc2"],
        "supporting_evidence": ["Evidence 1", "Evidence 2"]
    }
]

Identify at least 2-3 themes if possible, but only include genuinely meaningful themes.`

var queriesProcessed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "docresearch_queries_processed_total",
	Help: "Research queries processed end to end.",
})

// DocumentStore is the slice of the store the pipeline reads and writes.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (models.Document, bool, error)
	ListDocumentIDs(ctx context.Context) ([]string, error)
	InsertQuery(ctx context.Context, q models.Query) error
	UpdateQueryThemes(ctx context.Context, id string, themes []models.Theme) error
	GetQuery(ctx context.Context, id string) (models.Query, bool, error)
}

// VectorSearcher answers nearest-neighbor queries over indexed pages.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, topK int) ([]vectorindex.Result, error)
}

// LanguageModel is the slice of the provider the pipeline consumes.
type LanguageModel interface {
	IsAvailable(ctx context.Context) bool
	Generate(ctx context.Context, prompt, system string, maxTokens int) (string, error)
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Pipeline coordinates retrieval and extraction for one query at a time.
// The store may be nil when Postgres was unreachable at startup.
type Pipeline struct {
	store  DocumentStore
	index  VectorSearcher
	llm    LanguageModel
	topK   int
	logger *log.Logger
}

// New wires a retrieval pipeline from its collaborators.
func New(store DocumentStore, index VectorSearcher, llm LanguageModel, topK int) *Pipeline {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Pipeline{
		store:  store,
		index:  index,
		llm:    llm,
		topK:   topK,
		logger: log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags),
	}
}

// CreateQuery runs the full pipeline for one question and returns the
// persisted query, falling back to the in-memory object when the read-back
// fails.
func (p *Pipeline) CreateQuery(ctx context.Context, text string) (models.Query, error) {
	q := models.Query{
		ID:                uuid.New().String(),
		Text:              text,
		DocumentResponses: []models.DocumentResponse{},
		Themes:            []models.Theme{},
		CreatedAt:         time.Now().UTC(),
	}

	documentIDs := p.selectCandidates(ctx, text)
	llmUp := p.llm.IsAvailable(ctx)

	for _, docID := range documentIDs {
		resp, ok := p.processDocument(ctx, docID, text, llmUp)
		if ok {
			q.DocumentResponses = append(q.DocumentResponses, resp)
		}
	}

	if p.store != nil {
		if err := p.store.InsertQuery(ctx, q); err != nil {
			p.logger.Printf("error storing query %s: %v", q.ID, err)
		}
	}

	q.Themes = p.identifyThemes(ctx, q, llmUp)

	if p.store != nil {
		if err := p.store.UpdateQueryThemes(ctx, q.ID, q.Themes); err != nil {
			p.logger.Printf("error storing themes for query %s: %v", q.ID, err)
		}
		// Prefer the stored record so the caller sees exactly what a later
		// GET will return; fall back to the in-memory query on any failure.
		if stored, ok, err := p.store.GetQuery(ctx, q.ID); err == nil && ok {
			queriesProcessed.Inc()
			return stored, nil
		}
		p.logger.Printf("could not read back query %s, returning in-memory result", q.ID)
	}

	queriesProcessed.Inc()
	return q, nil
}

// GetQuery fetches a previously answered query.
func (p *Pipeline) GetQuery(ctx context.Context, id string) (models.Query, error) {
	if p.store == nil {
		return models.Query{}, models.ErrStoreUnavailable
	}
	q, ok, err := p.store.GetQuery(ctx, id)
	if err != nil {
		return models.Query{}, err
	}
	if !ok {
		return models.Query{}, models.ErrNotFound
	}
	return q, nil
}

// selectCandidates embeds the query and picks the distinct document ids of
// the nearest pages. An erroring or empty index falls back to every known
// document; candidate processing order follows first appearance.
func (p *Pipeline) selectCandidates(ctx context.Context, text string) []string {
	var documentIDs []string

	vecs, err := p.llm.CreateEmbedding(ctx, []string{text})
	if err != nil || len(vecs) == 0 {
		p.logger.Printf("error embedding query, falling back to all documents: %v", err)
	} else {
		results, err := p.index.Search(ctx, vecs[0], p.topK)
		if err != nil {
			p.logger.Printf("error during vector search, falling back to all documents: %v", err)
		} else {
			seen := make(map[string]struct{}, len(results))
			for _, res := range results {
				if _, ok := seen[res.DocumentID]; ok {
					continue
				}
				seen[res.DocumentID] = struct{}{}
				documentIDs = append(documentIDs, res.DocumentID)
			}
		}
	}

	if len(documentIDs) == 0 && p.store != nil {
		ids, err := p.store.ListDocumentIDs(ctx)
		if err != nil {
			p.logger.Printf("error listing documents for fallback: %v", err)
			return nil
		}
		p.logger.Printf("vector search found nothing, using all %d documents", len(ids))
		return ids
	}
	return documentIDs
}

// processDocument builds one DocumentResponse. Failures become an
// error-text response; a missing document is skipped (false).
func (p *Pipeline) processDocument(ctx context.Context, docID, queryText string, llmUp bool) (models.DocumentResponse, bool) {
	if p.store == nil {
		return models.DocumentResponse{}, false
	}
	doc, ok, err := p.store.GetDocument(ctx, docID)
	if err != nil {
		p.logger.Printf("error processing document %s: %v", docID, err)
		return models.DocumentResponse{
			DocumentID:      docID,
			DocumentTitle:   fmt.Sprintf("Document %s", docID),
			ExtractedAnswer: fmt.Sprintf("Error processing document: %v", err),
			Citations:       []models.Citation{},
		}, true
	}
	if !ok {
		p.logger.Printf("document %s not found in store", docID)
		return models.DocumentResponse{}, false
	}

	docText := documentContext(doc)

	if !llmUp {
		return models.DocumentResponse{
			DocumentID:      docID,
			DocumentTitle:   doc.Title,
			ExtractedAnswer: "Ollama is not available. Here's a preview of the document:\n\n" + truncate(docText, previewChars, "..."),
			Citations:       []models.Citation{},
		}, true
	}

	answer, citations := p.extractAnswer(ctx, docText, queryText, doc)
	return models.DocumentResponse{
		DocumentID:      docID,
		DocumentTitle:   doc.Title,
		ExtractedAnswer: answer,
		Citations:       citations,
	}, true
}

// documentContext concatenates page texts labeled by page number.
func documentContext(doc models.Document) string {
	parts := make([]string, 0, len(doc.Pages))
	for _, page := range doc.Pages {
		parts = append(parts, fmt.Sprintf("Page %d:\n%s", page.PageNum, page.Text))
	}
	out := ""
	for i, part := range parts {
		if i > 0 {
			out += "\n\n"
		}
		out += part
	}
	return out
}

// extractAnswer asks the model for an answer with citations over the
// truncated document context.
func (p *Pipeline) extractAnswer(ctx context.Context, docText, queryText string, doc models.Document) (string, []models.Citation) {
	prompt := fmt.Sprintf("Query: %s\n\nDocument Text:\n%s", queryText, truncate(docText, contextCharBudget, truncationMarker))

	raw, err := p.llm.Generate(ctx, prompt, extractionSystemPrompt, extractionMaxToken)
	if err != nil || raw == "" {
		p.logger.Printf("error extracting answer for %s: %v", doc.ID, err)
		return "Unable to extract answer due to API error", []models.Citation{}
	}

	result := parseExtraction(raw)
	citations := make([]models.Citation, 0, len(result.Citations))
	for _, c := range result.Citations {
		score := 0.5
		if c.RelevanceScore != nil {
			score = *c.RelevanceScore
		}
		citations = append(citations, models.Citation{
			DocumentID:     doc.ID,
			DocumentTitle:  doc.Title,
			PageNumber:     c.PageNumber,
			Paragraph:      c.Paragraph,
			Sentence:       c.Sentence,
			RelevanceScore: score,
		})
	}
	return result.ExtractedAnswer, citations
}

// identifyThemes synthesizes cross-document themes from the per-document
// answers. Any failure yields a single explanatory placeholder.
func (p *Pipeline) identifyThemes(ctx context.Context, q models.Query, llmUp bool) []models.Theme {
	if !llmUp {
		return []models.Theme{{
			Name:               "Theme Identification Unavailable",
			Description:        "Theme identification is unavailable because Ollama is not running.",
			DocumentIDs:        []string{},
			SupportingEvidence: []string{"Please make sure Ollama is installed and running to enable theme identification."},
		}}
	}

	var responsesText string
	for i, resp := range q.DocumentResponses {
		responsesText += fmt.Sprintf("Document %d (ID: %s, Title: %s):\n", i+1, resp.DocumentID, resp.DocumentTitle)
		responsesText += fmt.Sprintf("Answer: %s\n\n", resp.ExtractedAnswer)
	}

	prompt := fmt.Sprintf("Query: %s\n\nDocument Responses:\n\n%s", q.Text, truncate(responsesText, themeCharBudget, truncationMarker))

	raw, err := p.llm.Generate(ctx, prompt, themeSystemPrompt, themeMaxToken)
	if err != nil || raw == "" {
		p.logger.Printf("error identifying themes for query %s: %v", q.ID, err)
		return []models.Theme{{
			Name:               "Theme Identification Error",
			Description:        "An error occurred during theme identification.",
			DocumentIDs:        []string{},
			SupportingEvidence: []string{"Please check that Ollama is running correctly."},
		}}
	}

	parsed, ok := parseThemes(raw)
	if !ok {
		return []models.Theme{{
			Name:               "Theme Identification Error",
			Description:        "Could not parse themes from the model response.",
			DocumentIDs:        []string{},
			SupportingEvidence: []string{"The API response did not contain valid JSON."},
		}}
	}

	themes := make([]models.Theme, 0, len(parsed))
	for _, tr := range parsed {
		theme := models.Theme{
			Name:               tr.Name,
			Description:        tr.Description,
			DocumentIDs:        tr.DocumentIDs,
			SupportingEvidence: tr.SupportingEvidence,
		}
		if theme.Name == "" {
			theme.Name = "Unnamed Theme"
		}
		if theme.Description == "" {
			theme.Description = "No description provided"
		}
		if theme.DocumentIDs == nil {
			theme.DocumentIDs = []string{}
		}
		if theme.SupportingEvidence == nil {
			theme.SupportingEvidence = []string{}
		}
		themes = append(themes, theme)
	}
	return themes
}
