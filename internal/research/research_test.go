package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/docresearch/internal/vectorindex"
	"github.com/mohammad-safakhou/docresearch/models"
)

type fakeStore struct {
	docs      map[string]models.Document
	docErr    map[string]error
	queries   map[string]models.Query
	listErr   error
	insertErr error
}

func newStoreWithDocs(docs ...models.Document) *fakeStore {
	f := &fakeStore{
		docs:    map[string]models.Document{},
		docErr:  map[string]error{},
		queries: map[string]models.Query{},
	}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (models.Document, bool, error) {
	if err := f.docErr[id]; err != nil {
		return models.Document{}, false, err
	}
	doc, ok := f.docs[id]
	return doc, ok, nil
}

func (f *fakeStore) ListDocumentIDs(_ context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	ids := make([]string, 0, len(f.docs))
	for id := range f.docs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeStore) InsertQuery(_ context.Context, q models.Query) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.queries[q.ID] = q
	return nil
}

func (f *fakeStore) UpdateQueryThemes(_ context.Context, id string, themes []models.Theme) error {
	q, ok := f.queries[id]
	if !ok {
		return models.ErrNotFound
	}
	q.Themes = themes
	f.queries[id] = q
	return nil
}

func (f *fakeStore) GetQuery(_ context.Context, id string) (models.Query, bool, error) {
	q, ok := f.queries[id]
	return q, ok, nil
}

type fakeSearcher struct {
	results []vectorindex.Result
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, _ []float32, _ int) ([]vectorindex.Result, error) {
	return f.results, f.err
}

type fakeLLM struct {
	available   bool
	embedErr    error
	generateErr error
	// responses are consumed in call order.
	responses []string
	prompts   []string
	systems   []string
}

func (f *fakeLLM) IsAvailable(_ context.Context) bool { return f.available }

func (f *fakeLLM) Generate(_ context.Context, prompt, system string, _ int) (string, error) {
	f.prompts = append(f.prompts, prompt)
	f.systems = append(f.systems, system)
	if f.generateErr != nil {
		return "", f.generateErr
	}
	if len(f.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeLLM) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{1, 0, 0}
	}
	return vecs, nil
}

func testDoc(id, title, text string) models.Document {
	return models.Document{
		ID:    id,
		Title: title,
		Pages: []models.Page{{PageNum: 1, Text: text}},
	}
}

func TestCreateQueryVectorHitPath(t *testing.T) {
	store := newStoreWithDocs(
		testDoc("doc-1", "First", "alpha beta"),
		testDoc("doc-2", "Second", "gamma delta"),
	)
	searcher := &fakeSearcher{results: []vectorindex.Result{
		{ID: "doc-1_page_1", DocumentID: "doc-1", PageNum: 1},
		{ID: "doc-1_page_2", DocumentID: "doc-1", PageNum: 2},
		{ID: "doc-2_page_1", DocumentID: "doc-2", PageNum: 1},
	}}
	llm := &fakeLLM{available: true, responses: []string{
		`{"extracted_answer": "alpha", "citations": [{"page_number": 1, "sentence": "alpha beta", "relevance_score": 0.8}]}`,
		`{"extracted_answer": "gamma", "citations": []}`,
		`[{"theme_name": "Greek Letters", "description": "Both documents list greek letters.", "document_ids": ["doc-1", "doc-2"], "supporting_evidence": ["alpha", "gamma"]}]`,
	}}

	p := New(store, searcher, llm, 10)
	q, err := p.CreateQuery(context.Background(), "what letters appear?")
	require.NoError(t, err)
	require.Equal(t, "what letters appear?", q.Text)

	// doc-1 appears twice in the hits but is processed once, first-seen order.
	require.Len(t, q.DocumentResponses, 2)
	require.Equal(t, "doc-1", q.DocumentResponses[0].DocumentID)
	require.Equal(t, "First", q.DocumentResponses[0].DocumentTitle)
	require.Equal(t, "alpha", q.DocumentResponses[0].ExtractedAnswer)
	require.Len(t, q.DocumentResponses[0].Citations, 1)
	require.Equal(t, "doc-1", q.DocumentResponses[0].Citations[0].DocumentID)
	require.Equal(t, 0.8, q.DocumentResponses[0].Citations[0].RelevanceScore)

	require.Len(t, q.Themes, 1)
	require.Equal(t, "Greek Letters", q.Themes[0].Name)

	// persisted and read back
	stored, ok, err := store.GetQuery(context.Background(), q.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, stored.Themes, 1)
}

func TestCreateQueryFallsBackToAllDocumentsOnEmptySearch(t *testing.T) {
	store := newStoreWithDocs(testDoc("doc-1", "Only", "content"))
	llm := &fakeLLM{available: true, responses: []string{
		`{"extracted_answer": "found", "citations": []}`,
		`[{"theme_name": "T", "description": "d", "document_ids": ["doc-1"], "supporting_evidence": []}]`,
	}}

	p := New(store, &fakeSearcher{}, llm, 10)
	q, err := p.CreateQuery(context.Background(), "anything")
	require.NoError(t, err)
	require.Len(t, q.DocumentResponses, 1)
	require.Equal(t, "doc-1", q.DocumentResponses[0].DocumentID)
}

func TestCreateQueryFallsBackWhenSearchErrors(t *testing.T) {
	store := newStoreWithDocs(testDoc("doc-1", "Only", "content"))
	llm := &fakeLLM{available: true, responses: []string{
		`{"extracted_answer": "found", "citations": []}`,
		`[{"theme_name": "T", "description": "d", "document_ids": [], "supporting_evidence": []}]`,
	}}

	p := New(store, &fakeSearcher{err: errors.New("index offline")}, llm, 10)
	q, err := p.CreateQuery(context.Background(), "anything")
	require.NoError(t, err)
	require.Len(t, q.DocumentResponses, 1)
}

func TestCreateQueryFallsBackWhenEmbeddingFails(t *testing.T) {
	store := newStoreWithDocs(testDoc("doc-1", "Only", "content"))
	llm := &fakeLLM{available: true, embedErr: errors.New("embed down"), responses: []string{
		`{"extracted_answer": "found", "citations": []}`,
		`[{"theme_name": "T", "description": "d", "document_ids": [], "supporting_evidence": []}]`,
	}}

	p := New(store, &fakeSearcher{}, llm, 10)
	q, err := p.CreateQuery(context.Background(), "anything")
	require.NoError(t, err)
	require.Len(t, q.DocumentResponses, 1)
}

func TestCreateQueryLLMUnavailablePreviewAndPlaceholderTheme(t *testing.T) {
	store := newStoreWithDocs(testDoc("doc-1", "Only", "the full page text"))

	p := New(store, &fakeSearcher{}, &fakeLLM{available: false}, 10)
	q, err := p.CreateQuery(context.Background(), "anything")
	require.NoError(t, err)

	require.Len(t, q.DocumentResponses, 1)
	answer := q.DocumentResponses[0].ExtractedAnswer
	require.True(t, strings.HasPrefix(answer, "Ollama is not available. Here's a preview of the document:"))
	require.Contains(t, answer, "the full page text")
	require.Empty(t, q.DocumentResponses[0].Citations)

	require.Len(t, q.Themes, 1)
	require.Equal(t, "Theme Identification Unavailable", q.Themes[0].Name)
}

func TestCreateQueryLongDocumentPreviewTruncated(t *testing.T) {
	long := strings.Repeat("x", previewChars*2)
	store := newStoreWithDocs(testDoc("doc-1", "Long", long))

	p := New(store, &fakeSearcher{}, &fakeLLM{available: false}, 10)
	q, err := p.CreateQuery(context.Background(), "anything")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(q.DocumentResponses[0].ExtractedAnswer, "..."))
	require.Less(t, len(q.DocumentResponses[0].ExtractedAnswer), len(long))
}

func TestCreateQueryDocumentErrorIsolated(t *testing.T) {
	store := newStoreWithDocs(testDoc("doc-2", "Good", "works"))
	store.docErr["doc-1"] = errors.New("row corrupt")
	searcher := &fakeSearcher{results: []vectorindex.Result{
		{ID: "doc-1_page_1", DocumentID: "doc-1"},
		{ID: "doc-2_page_1", DocumentID: "doc-2"},
	}}
	llm := &fakeLLM{available: true, responses: []string{
		`{"extracted_answer": "fine", "citations": []}`,
		`[{"theme_name": "T", "description": "d", "document_ids": [], "supporting_evidence": []}]`,
	}}

	p := New(store, searcher, llm, 10)
	q, err := p.CreateQuery(context.Background(), "anything")
	require.NoError(t, err)
	require.Len(t, q.DocumentResponses, 2)
	require.Contains(t, q.DocumentResponses[0].ExtractedAnswer, "Error processing document")
	require.Equal(t, "fine", q.DocumentResponses[1].ExtractedAnswer)
}

func TestCreateQuerySkipsMissingDocument(t *testing.T) {
	store := newStoreWithDocs(testDoc("doc-2", "Good", "works"))
	searcher := &fakeSearcher{results: []vectorindex.Result{
		{ID: "ghost_page_1", DocumentID: "ghost"},
		{ID: "doc-2_page_1", DocumentID: "doc-2"},
	}}
	llm := &fakeLLM{available: true, responses: []string{
		`{"extracted_answer": "fine", "citations": []}`,
		`[{"theme_name": "T", "description": "d", "document_ids": [], "supporting_evidence": []}]`,
	}}

	p := New(store, searcher, llm, 10)
	q, err := p.CreateQuery(context.Background(), "anything")
	require.NoError(t, err)
	require.Len(t, q.DocumentResponses, 1)
	require.Equal(t, "doc-2", q.DocumentResponses[0].DocumentID)
}

func TestCreateQueryGenerateErrorYieldsAPIErrorAnswer(t *testing.T) {
	store := newStoreWithDocs(testDoc("doc-1", "Only", "content"))

	p := New(store, &fakeSearcher{}, &fakeLLM{available: true, generateErr: errors.New("timeout")}, 10)
	q, err := p.CreateQuery(context.Background(), "anything")
	require.NoError(t, err)
	require.Equal(t, "Unable to extract answer due to API error", q.DocumentResponses[0].ExtractedAnswer)
	require.Len(t, q.Themes, 1)
	require.Equal(t, "Theme Identification Error", q.Themes[0].Name)
}

func TestCreateQueryThemeParseFailurePlaceholder(t *testing.T) {
	store := newStoreWithDocs(testDoc("doc-1", "Only", "content"))
	llm := &fakeLLM{available: true, responses: []string{
		`{"extracted_answer": "fine", "citations": []}`,
		"no json here, sorry",
	}}

	p := New(store, &fakeSearcher{}, llm, 10)
	q, err := p.CreateQuery(context.Background(), "anything")
	require.NoError(t, err)
	require.Len(t, q.Themes, 1)
	require.Equal(t, "Theme Identification Error", q.Themes[0].Name)
	require.Contains(t, q.Themes[0].SupportingEvidence[0], "did not contain valid JSON")
}

func TestCreateQueryLongContextTruncatedInPrompt(t *testing.T) {
	long := strings.Repeat("y", contextCharBudget*2)
	store := newStoreWithDocs(testDoc("doc-1", "Long", long))
	llm := &fakeLLM{available: true, responses: []string{
		`{"extracted_answer": "fine", "citations": []}`,
		`[{"theme_name": "T", "description": "d", "document_ids": [], "supporting_evidence": []}]`,
	}}

	p := New(store, &fakeSearcher{}, llm, 10)
	_, err := p.CreateQuery(context.Background(), "anything")
	require.NoError(t, err)
	require.Contains(t, llm.prompts[0], truncationMarker)
	require.Less(t, len(llm.prompts[0]), len(long))
}

func TestCreateQueryWithoutStore(t *testing.T) {
	p := New(nil, &fakeSearcher{}, &fakeLLM{available: false}, 10)
	q, err := p.CreateQuery(context.Background(), "anything")
	require.NoError(t, err)
	require.NotEmpty(t, q.ID)
	require.Empty(t, q.DocumentResponses)
	require.Len(t, q.Themes, 1)
}

func TestCreateQueryDefaultCitationScore(t *testing.T) {
	store := newStoreWithDocs(testDoc("doc-1", "Only", "content"))
	llm := &fakeLLM{available: true, responses: []string{
		`{"extracted_answer": "fine", "citations": [{"sentence": "content"}]}`,
		`[{"theme_name": "T", "description": "d", "document_ids": [], "supporting_evidence": []}]`,
	}}

	p := New(store, &fakeSearcher{}, llm, 10)
	q, err := p.CreateQuery(context.Background(), "anything")
	require.NoError(t, err)
	require.Equal(t, 0.5, q.DocumentResponses[0].Citations[0].RelevanceScore)
}

func TestGetQuery(t *testing.T) {
	store := newStoreWithDocs()
	store.queries["q-1"] = models.Query{ID: "q-1", Text: "stored"}

	p := New(store, &fakeSearcher{}, &fakeLLM{}, 10)

	q, err := p.GetQuery(context.Background(), "q-1")
	require.NoError(t, err)
	require.Equal(t, "stored", q.Text)

	_, err = p.GetQuery(context.Background(), "missing")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetQueryStoreUnavailable(t *testing.T) {
	p := New(nil, &fakeSearcher{}, &fakeLLM{}, 10)
	_, err := p.GetQuery(context.Background(), "q-1")
	require.ErrorIs(t, err, models.ErrStoreUnavailable)
}

func TestThemePromptListsDocuments(t *testing.T) {
	store := newStoreWithDocs(testDoc("doc-1", "Only", "content"))
	llm := &fakeLLM{available: true, responses: []string{
		`{"extracted_answer": "fine", "citations": []}`,
		`[{"theme_name": "T", "description": "d", "document_ids": [], "supporting_evidence": []}]`,
	}}

	p := New(store, &fakeSearcher{}, llm, 10)
	_, err := p.CreateQuery(context.Background(), "anything")
	require.NoError(t, err)
	require.Len(t, llm.prompts, 2)
	require.Contains(t, llm.prompts[1], fmt.Sprintf("Document 1 (ID: %s, Title: %s)", "doc-1", "Only"))
}
