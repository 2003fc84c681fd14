package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"pdfqa/internal/chunker"
	"pdfqa/internal/extractor"
	"pdfqa/internal/indexer"
	"pdfqa/internal/llm"
	"pdfqa/internal/retriever"
	"pdfqa/internal/vectorstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeIndexer struct {
	docID string
	err   error
	calls int
	data  []byte
	name  string
}

func (f *fakeIndexer) IndexPDF(_ context.Context, data []byte, filename string) (string, error) {
	f.calls++
	f.data = data
	f.name = filename
	return f.docID, f.err
}

type fakeAnswerer struct {
	answer string
	err    error
	calls  int
}

func (f *fakeAnswerer) Answer(context.Context, string, string) (string, error) {
	f.calls++
	return f.answer, f.err
}

func newTestServer(ix documentIndexer, ans questionAnswerer) *Server {
	return NewServer(ix, ans, "PdfQaDocuments", 1<<20, []string{"http://localhost:3000"}, zap.NewNop())
}

func multipartBody(t *testing.T, field, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func doUpload(t *testing.T, s *Server, filename, contentType string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, "file", filename, contentType, content)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	return rec
}

func doAsk(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// ========== Root ==========

func TestRoot_Get(t *testing.T) {
	s := newTestServer(&fakeIndexer{}, &fakeAnswerer{})
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"status": "API is running", "astra_table": "PdfQaDocuments"}, decode(t, rec))
}

func TestRoot_HeadIsAllowed(t *testing.T) {
	s := newTestServer(&fakeIndexer{}, &fakeAnswerer{})
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	resp, err := http.Head(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoot_OtherPathsNotFound(t *testing.T) {
	s := newTestServer(&fakeIndexer{}, &fakeAnswerer{})
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ========== Upload ==========

func TestUpload_Success(t *testing.T) {
	ix := &fakeIndexer{docID: "3f2c0d7e-1111-4222-8333-944455556666"}
	s := newTestServer(ix, &fakeAnswerer{})

	rec := doUpload(t, s, "report.pdf", "application/pdf", []byte("%PDF-1.4 content"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]string{
		"document_id": "3f2c0d7e-1111-4222-8333-944455556666",
		"filename":    "report.pdf",
		"message":     msgIndexed,
	}, decode(t, rec))
	assert.Equal(t, "report.pdf", ix.name)
	assert.Equal(t, []byte("%PDF-1.4 content"), ix.data)
}

func TestUpload_ContentTypeWithParametersAccepted(t *testing.T) {
	ix := &fakeIndexer{docID: "id"}
	s := newTestServer(ix, &fakeAnswerer{})

	rec := doUpload(t, s, "report.pdf", "application/pdf; name=report.pdf", []byte("%PDF"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpload_WrongContentTypeRejected(t *testing.T) {
	ix := &fakeIndexer{docID: "id"}
	s := newTestServer(ix, &fakeAnswerer{})

	rec := doUpload(t, s, "notes.txt", "text/plain", []byte("hello"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, msgInvalidType, body["detail"])
	assert.NotContains(t, body, "document_id")
	assert.Equal(t, 0, ix.calls, "nothing is indexed")
}

func TestUpload_EmptyFileRejected(t *testing.T) {
	ix := &fakeIndexer{docID: "id"}
	s := newTestServer(ix, &fakeAnswerer{})

	rec := doUpload(t, s, "empty.pdf", "application/pdf", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgEmptyUpload, decode(t, rec)["detail"])
	assert.Equal(t, 0, ix.calls)
}

func TestUpload_MissingFileField(t *testing.T) {
	s := newTestServer(&fakeIndexer{}, &fakeAnswerer{})
	body, ct := multipartBody(t, "document", "a.pdf", "application/pdf", []byte("%PDF"))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgNoFile, decode(t, rec)["detail"])
}

func TestUpload_NotMultipart(t *testing.T) {
	s := newTestServer(&fakeIndexer{}, &fakeAnswerer{})
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(`{"file":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	detail := decode(t, rec)["detail"]
	assert.Equal(t, msgBadUpload, detail)
	assert.NotContains(t, detail, "Content-Type", "parser errors stay in the log")
}

func TestUpload_TooLarge(t *testing.T) {
	ix := &fakeIndexer{docID: "id"}
	s := NewServer(ix, &fakeAnswerer{}, "t", 512, nil, zap.NewNop())

	rec := doUpload(t, s, "big.pdf", "application/pdf", bytes.Repeat([]byte("x"), 4096))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, ix.calls)
}

func TestUpload_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{"extraction", fmt.Errorf("%w: bad xref", extractor.ErrExtraction), http.StatusBadRequest, extractor.ErrExtraction.Error()},
		{"no text", indexer.ErrNoText, http.StatusBadRequest, "No text could be extracted from the PDF."},
		{"no chunks", chunker.ErrEmptyInput, http.StatusBadRequest, chunker.ErrEmptyInput.Error()},
		{"storage", fmt.Errorf("failed to store: %w", vectorstore.ErrStorage), http.StatusInternalServerError, msgStoreFailed},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, msgUploadFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakeIndexer{err: tt.err}, &fakeAnswerer{})
			rec := doUpload(t, s, "a.pdf", "application/pdf", []byte("%PDF"))

			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tt.detail, body["detail"])
			assert.NotContains(t, body, "document_id")
		})
	}
}

func TestUpload_UnparseablePDFThroughRealIndexer(t *testing.T) {
	store, err := vectorstore.NewMemory("t", &constEmbedder{}, 20)
	require.NoError(t, err)
	defer store.Close()
	s := newTestServer(indexer.New(store, chunker.DefaultOptions(), zap.NewNop()), &fakeAnswerer{})

	rec := doUpload(t, s, "broken.pdf", "application/pdf", []byte("not really a pdf"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, extractor.ErrExtraction.Error(), decode(t, rec)["detail"])
}

// ========== Ask ==========

func TestAsk_Success(t *testing.T) {
	ans := &fakeAnswerer{answer: "Within 30 days of purchase."}
	s := newTestServer(&fakeIndexer{}, ans)

	rec := doAsk(t, s, `{"document_id":"doc-1","question":"What is the refund window?"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{
		"document_id": "doc-1",
		"question":    "What is the refund window?",
		"answer":      "Within 30 days of purchase.",
	}, decode(t, rec))
}

func TestAsk_MissingFields(t *testing.T) {
	for _, body := range []string{
		`{"question":"q"}`,
		`{"document_id":"doc-1"}`,
		`{"document_id":"  ","question":"q"}`,
		`{}`,
	} {
		ans := &fakeAnswerer{}
		s := newTestServer(&fakeIndexer{}, ans)
		rec := doAsk(t, s, body)

		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, msgMissingFields, decode(t, rec)["detail"])
		assert.Equal(t, 0, ans.calls)
	}
}

func TestAsk_MalformedJSON(t *testing.T) {
	s := newTestServer(&fakeIndexer{}, &fakeAnswerer{})
	rec := doAsk(t, s, `{"document_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgInvalidJSON, decode(t, rec)["detail"])
}

func TestAsk_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		detail string
	}{
		{"retrieval", fmt.Errorf("%w: %w", retriever.ErrRetrieval, vectorstore.ErrStorage), msgRetrievalError},
		{"generation", fmt.Errorf("%w: quota", llm.ErrGeneration), llm.ErrGeneration.Error()},
		{"unexpected", errors.New("boom"), msgAskFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakeIndexer{}, &fakeAnswerer{err: tt.err})
			rec := doAsk(t, s, `{"document_id":"doc-1","question":"q"}`)

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, tt.detail, decode(t, rec)["detail"])
		})
	}
}

// ========== End to end with the memory store ==========

// constEmbedder gives every text the same vector, so any stored chunk matches.
type constEmbedder struct{}

func (constEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (constEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type countingProvider struct{ calls int }

func (p *countingProvider) AnswerQuestion(context.Context, string, []string) (string, error) {
	p.calls++
	return "an answer", nil
}

func TestAsk_UnknownDocumentReturnsNotFoundMessage(t *testing.T) {
	store, err := vectorstore.NewMemory("t", constEmbedder{}, 20)
	require.NoError(t, err)
	defer store.Close()

	ix := indexer.New(store, chunker.DefaultOptions(), zap.NewNop())
	_, err = ix.IndexText(context.Background(), "Some other document.", "other.pdf")
	require.NoError(t, err)

	provider := &countingProvider{}
	s := newTestServer(ix, retriever.New(store, provider, 3, zap.NewNop()))

	rec := doAsk(t, s, `{"document_id":"unknown-id","question":"What is this?"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, retriever.NotFoundMessage, decode(t, rec)["answer"])
	assert.Equal(t, 0, provider.calls)
}

func TestAsk_IndexedDocumentIsAnswered(t *testing.T) {
	store, err := vectorstore.NewMemory("t", constEmbedder{}, 20)
	require.NoError(t, err)
	defer store.Close()

	ix := indexer.New(store, chunker.DefaultOptions(), zap.NewNop())
	docID, err := ix.IndexText(context.Background(), "Refunds within 30 days.", "policy.pdf")
	require.NoError(t, err)

	provider := &countingProvider{}
	s := newTestServer(ix, retriever.New(store, provider, 3, zap.NewNop()))

	rec := doAsk(t, s, fmt.Sprintf(`{"document_id":%q,"question":"Refunds?"}`, docID))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "an answer", decode(t, rec)["answer"])
	assert.Equal(t, 1, provider.calls)
}

// ========== CORS ==========

func TestCORS_AllowedOrigin(t *testing.T) {
	s := newTestServer(&fakeIndexer{}, &fakeAnswerer{})
	req := httptest.NewRequest(http.MethodOptions, "/ask", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_UnknownOriginGetsNoHeaders(t *testing.T) {
	s := newTestServer(&fakeIndexer{}, &fakeAnswerer{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
