package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/corpusware/termstat/internal/statsapi/store"
	"github.com/corpusware/termstat/internal/termstats"
	"github.com/corpusware/termstat/pkg/config"
	apperrors "github.com/corpusware/termstat/pkg/errors"
)

type fakeReader struct {
	docTerms  *store.DocumentTermsResult
	termStats *store.TermStatsResult
	rankings  *store.RankingsResult
	summary   *store.CorpusSummary
	corpora   []store.CorpusSummary
	err       error

	gotCorpus string
	gotDoc    string
	gotTerm   string
	gotLimit  int
	gotPerDoc int
	calls     int
}

func (f *fakeReader) DocumentTerms(ctx context.Context, corpus, docID string, limit int) (*store.DocumentTermsResult, error) {
	f.calls++
	f.gotCorpus, f.gotDoc, f.gotLimit = corpus, docID, limit
	return f.docTerms, f.err
}

func (f *fakeReader) TermAcrossCorpus(ctx context.Context, corpus, term string, limit int) (*store.TermStatsResult, error) {
	f.calls++
	f.gotCorpus, f.gotTerm, f.gotLimit = corpus, term, limit
	return f.termStats, f.err
}

func (f *fakeReader) TopPerDocument(ctx context.Context, corpus string, perDoc int) (*store.RankingsResult, error) {
	f.calls++
	f.gotCorpus, f.gotPerDoc = corpus, perDoc
	return f.rankings, f.err
}

func (f *fakeReader) Summary(ctx context.Context, corpus string) (*store.CorpusSummary, error) {
	f.calls++
	f.gotCorpus = corpus
	return f.summary, f.err
}

func (f *fakeReader) ListCorpora(ctx context.Context) ([]store.CorpusSummary, error) {
	f.calls++
	return f.corpora, f.err
}

func testStatsConfig() config.StatsConfig {
	return config.StatsConfig{
		DefaultLimit:  20,
		MaxLimit:      200,
		DefaultPerDoc: 10,
		MaxPerDoc:     50,
		LiveTimeout:   time.Second,
	}
}

func newTestServer(t *testing.T, reader StatsReader) *httptest.Server {
	t.Helper()
	h := New(reader, nil, nil, nil, nil, nil, testStatsConfig())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/corpora", h.ListCorpora)
	mux.HandleFunc("GET /api/v1/corpora/{corpus}/stats", h.Summary)
	mux.HandleFunc("GET /api/v1/corpora/{corpus}/documents/{document}/terms", h.DocumentTerms)
	mux.HandleFunc("GET /api/v1/corpora/{corpus}/terms/{term}", h.TermStats)
	mux.HandleFunc("GET /api/v1/corpora/{corpus}/rankings", h.Rankings)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /health", h.Health)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDocumentTerms(t *testing.T) {
	fake := &fakeReader{
		docTerms: &store.DocumentTermsResult{
			Corpus:     "melville",
			DocumentID: "doc-1",
			Terms: []termstats.TermStats{
				{Document: "doc-1", Term: "whale", Count: 4, TF: 0.4, IDF: 0.69, TFIDF: 0.27},
				{Document: "doc-1", Term: "sea", Count: 2, TF: 0.2, IDF: 0.69, TFIDF: 0.13},
			},
		},
	}
	srv := newTestServer(t, fake)

	resp, err := http.Get(srv.URL + "/api/v1/corpora/melville/documents/doc-1/terms")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if fake.gotCorpus != "melville" || fake.gotDoc != "doc-1" {
		t.Errorf("store called with (%q, %q), want (melville, doc-1)", fake.gotCorpus, fake.gotDoc)
	}
	if fake.gotLimit != 20 {
		t.Errorf("limit = %d, want default 20", fake.gotLimit)
	}
	var out store.DocumentTermsResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(out.Terms) != 2 {
		t.Errorf("len(Terms) = %d, want 2", len(out.Terms))
	}
	if out.Terms[0].Term != "whale" {
		t.Errorf("Terms[0] = %q, want whale (highest tf-idf first)", out.Terms[0].Term)
	}
}

func TestDocumentTermsLimitClamped(t *testing.T) {
	fake := &fakeReader{docTerms: &store.DocumentTermsResult{Terms: []termstats.TermStats{}}}
	srv := newTestServer(t, fake)

	resp, err := http.Get(srv.URL + "/api/v1/corpora/melville/documents/doc-1/terms?limit=1000")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	if fake.gotLimit != 200 {
		t.Errorf("limit = %d, want clamped to 200", fake.gotLimit)
	}
}

func TestDocumentTermsRejectsBadLimit(t *testing.T) {
	fake := &fakeReader{}
	srv := newTestServer(t, fake)

	for _, limit := range []string{"zero", "-5", "0"} {
		resp, err := http.Get(srv.URL + "/api/v1/corpora/melville/documents/doc-1/terms?limit=" + limit)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", limit, resp.StatusCode)
		}
	}
	if fake.calls != 0 {
		t.Errorf("store called %d times despite invalid limits", fake.calls)
	}
}

func TestDocumentTermsNotFound(t *testing.T) {
	fake := &fakeReader{
		err: apperrors.Newf(apperrors.ErrDocumentNotFound, 404, "document \"nope\" not found in corpus \"melville\""),
	}
	srv := newTestServer(t, fake)

	resp, err := http.Get(srv.URL + "/api/v1/corpora/melville/documents/nope/terms")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var out struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if out.Error == "" {
		t.Error("error message missing from 404 body")
	}
}

func TestTermStatsZeroResult(t *testing.T) {
	fake := &fakeReader{
		termStats: &store.TermStatsResult{
			Corpus:    "melville",
			Term:      "kraken",
			DocFreq:   0,
			Documents: []termstats.TermStats{},
		},
	}
	srv := newTestServer(t, fake)

	resp, err := http.Get(srv.URL + "/api/v1/corpora/melville/terms/kraken")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 for an unknown term", resp.StatusCode)
	}
	var out store.TermStatsResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if out.DocFreq != 0 || len(out.Documents) != 0 {
		t.Errorf("DocFreq = %d, docs = %d, want empty result", out.DocFreq, len(out.Documents))
	}
}

func TestTermStatsNormalizesTerm(t *testing.T) {
	fake := &fakeReader{termStats: &store.TermStatsResult{Documents: []termstats.TermStats{}}}
	srv := newTestServer(t, fake)

	resp, err := http.Get(srv.URL + "/api/v1/corpora/melville/terms/WHALE")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	if fake.gotTerm != "whale" {
		t.Errorf("term passed to store = %q, want lowercased whale", fake.gotTerm)
	}
}

func TestSummaryLiveDegradesGracefully(t *testing.T) {
	fake := &fakeReader{
		summary: &store.CorpusSummary{
			Corpus:          "melville",
			DocumentCount:   3,
			VocabularySize:  120,
			TermOccurrences: 456,
		},
	}
	srv := newTestServer(t, fake)

	resp, err := http.Get(srv.URL + "/api/v1/corpora/melville/stats?live=1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 even when live state is unavailable", resp.StatusCode)
	}
	var out SummaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if out.DocumentCount != 3 {
		t.Errorf("DocumentCount = %d, want 3", out.DocumentCount)
	}
	if out.Live != nil {
		t.Error("Live should be omitted when no analyzer client is configured")
	}
	if out.LiveError == "" {
		t.Error("LiveError should explain the missing live state")
	}
}

func TestListCorpora(t *testing.T) {
	fake := &fakeReader{
		corpora: []store.CorpusSummary{
			{Corpus: "austen", DocumentCount: 2},
			{Corpus: "melville", DocumentCount: 3},
		},
	}
	srv := newTestServer(t, fake)

	resp, err := http.Get(srv.URL + "/api/v1/corpora")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out CorporaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(out.Corpora) != 2 {
		t.Errorf("len(Corpora) = %d, want 2", len(out.Corpora))
	}
}

func TestRankingsPerDocClamped(t *testing.T) {
	fake := &fakeReader{rankings: &store.RankingsResult{Rankings: []termstats.TermStats{}}}
	srv := newTestServer(t, fake)

	resp, err := http.Get(srv.URL + "/api/v1/corpora/melville/rankings?per_doc=500")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	if fake.gotPerDoc != 50 {
		t.Errorf("per_doc = %d, want clamped to 50", fake.gotPerDoc)
	}
}

func TestStoreFailureReturns500(t *testing.T) {
	fake := &fakeReader{err: errors.New("connection refused")}
	srv := newTestServer(t, fake)

	resp, err := http.Get(srv.URL + "/api/v1/corpora/melville/documents/doc-1/terms")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	var out struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if out.Error != "statistics query failed" {
		t.Errorf("error = %q, internal detail should not leak", out.Error)
	}
}

func TestCacheEndpointsWithoutCache(t *testing.T) {
	srv := newTestServer(t, &fakeReader{})

	resp, err := http.Get(srv.URL + "/api/v1/cache/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if out["status"] != "disabled" {
		t.Errorf("status = %q, want disabled", out["status"])
	}

	inv, err := http.Post(srv.URL+"/api/v1/cache/invalidate", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	inv.Body.Close()
	if inv.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("invalidate status = %d, want 503", inv.StatusCode)
	}
}
