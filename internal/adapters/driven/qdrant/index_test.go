package qdrant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

type recorded struct {
	Method string
	Path   string
	Query  string
	APIKey string
	Body   map[string]any
}

// fakeQdrant records requests and answers with canned responses keyed by "METHOD path"
type fakeQdrant struct {
	mu        sync.Mutex
	requests  []recorded
	responses map[string]string
	statuses  map[string]int
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{
		responses: make(map[string]string),
		statuses:  make(map[string]int),
	}
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(data, &body)

	f.mu.Lock()
	f.requests = append(f.requests, recorded{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		APIKey: r.Header.Get("api-key"),
		Body:   body,
	})
	key := r.Method + " " + r.URL.Path
	status, hasStatus := f.statuses[key]
	resp, hasResp := f.responses[key]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if hasStatus {
		w.WriteHeader(status)
	}
	if hasResp {
		_, _ = io.WriteString(w, resp)
		return
	}
	_, _ = io.WriteString(w, `{"result": true, "status": "ok"}`)
}

func (f *fakeQdrant) find(method, path string) []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recorded
	for _, r := range f.requests {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func newTestIndex(t *testing.T, fake *fakeQdrant) *Index {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	cfg := DefaultConfig(server.URL)
	cfg.DenseSize = 3
	cfg.APIKey = "secret"
	idx, err := NewIndex(cfg, nil)
	require.NoError(t, err)
	return idx
}

func TestNewIndex_ValidatesURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:6333", "file:///etc/passwd", "ftp://example.com", "http://"} {
		_, err := NewIndex(Config{URL: raw, Collection: "c", DenseSize: 3}, nil)
		assert.Error(t, err, raw)
	}

	idx, err := NewIndex(Config{URL: "http://localhost:6333/", Collection: "c", DenseSize: 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:6333", idx.baseURL)

	_, err = NewIndex(Config{URL: "http://localhost:6333", Collection: "c"}, nil)
	assert.Error(t, err)
}

func TestEnsureSchema_CreatesCollectionInBulkMode(t *testing.T) {
	fake := newFakeQdrant()
	fake.statuses["GET /collections/chunks"] = http.StatusNotFound
	fake.responses["GET /collections/chunks"] = `{"status": {"error": "Not found: Collection chunks doesn't exist"}}`
	idx := newTestIndex(t, fake)

	require.NoError(t, idx.EnsureSchema(context.Background()))

	creates := fake.find(http.MethodPut, "/collections/chunks")
	require.Len(t, creates, 1)
	body := creates[0].Body
	assert.Equal(t, "secret", creates[0].APIKey)

	vectors := body["vectors"].(map[string]any)["dense-vector"].(map[string]any)
	assert.Equal(t, float64(3), vectors["size"])
	assert.Equal(t, "Cosine", vectors["distance"])
	sparse := body["sparse_vectors"].(map[string]any)["sparse-vector"].(map[string]any)
	assert.Equal(t, "idf", sparse["modifier"])
	assert.Equal(t, float64(0), body["hnsw_config"].(map[string]any)["m"])

	indexes := fake.find(http.MethodPut, "/collections/chunks/index")
	require.Len(t, indexes, 3)
	schemas := map[string]string{}
	for _, r := range indexes {
		assert.Equal(t, "wait=true", r.Query)
		schemas[r.Body["field_name"].(string)] = r.Body["field_schema"].(string)
	}
	assert.Equal(t, map[string]string{
		"tenant_id":     "keyword",
		"src_file":      "keyword",
		"accessed_role": "integer",
	}, schemas)
}

func TestEnsureSchema_ExistingCollectionIsKept(t *testing.T) {
	fake := newFakeQdrant()
	fake.responses["GET /collections/chunks"] = `{"result": {"status": "green"}}`
	idx := newTestIndex(t, fake)

	require.NoError(t, idx.EnsureSchema(context.Background()))
	require.NoError(t, idx.EnsureSchema(context.Background()))

	assert.Empty(t, fake.find(http.MethodPut, "/collections/chunks"))
	assert.Len(t, fake.find(http.MethodPut, "/collections/chunks/index"), 6)
}

func TestUpsert(t *testing.T) {
	fake := newFakeQdrant()
	idx := newTestIndex(t, fake)
	chunk := domain.ChunkRecord{
		Ordinal: 2, TenantID: "acme", SourceFile: "handbook.md",
		AccessedRoles: []int{1, 2}, Content: "leave policy", TokenCount: 2, SplitMethod: domain.SplitHeader,
	}
	p := domain.NewPoint(chunk, domain.Vectors{
		Dense:  []float32{0.1, 0.2, 0.3},
		Sparse: domain.SparseVector{Indices: []uint32{7, 9}, Values: []float32{1, 2}},
	})

	require.NoError(t, idx.Upsert(context.Background(), []domain.Point{p}))

	reqs := fake.find(http.MethodPut, "/collections/chunks/points")
	require.Len(t, reqs, 1)
	assert.Equal(t, "wait=true", reqs[0].Query)
	points := reqs[0].Body["points"].([]any)
	require.Len(t, points, 1)
	got := points[0].(map[string]any)
	assert.Equal(t, domain.PointID("acme", "handbook.md", 2), got["id"])
	vector := got["vector"].(map[string]any)
	assert.Len(t, vector["dense-vector"], 3)
	assert.Equal(t, []any{float64(7), float64(9)}, vector["sparse-vector"].(map[string]any)["indices"])
	payload := got["payload"].(map[string]any)
	assert.Equal(t, "acme", payload["tenant_id"])
	assert.Equal(t, "handbook.md", payload["src_file"])
	assert.Equal(t, []any{float64(1), float64(2)}, payload["accessed_role"])
	assert.Equal(t, float64(2), payload["chunk_index"])
}

func TestUpsert_RejectsBadPoints(t *testing.T) {
	fake := newFakeQdrant()
	idx := newTestIndex(t, fake)

	err := idx.Upsert(context.Background(), []domain.Point{{ID: "x", Vectors: domain.Vectors{Dense: []float32{1, 2, 3}}}})
	assert.ErrorIs(t, err, domain.ErrScopeViolation)

	err = idx.Upsert(context.Background(), []domain.Point{{
		ID: "x", Vectors: domain.Vectors{Dense: []float32{1}}, Payload: domain.ChunkRecord{TenantID: "acme"},
	}})
	assert.Error(t, err)
	assert.Empty(t, fake.find(http.MethodPut, "/collections/chunks/points"))
}

func TestUpsert_ServerErrorFailsBatch(t *testing.T) {
	fake := newFakeQdrant()
	fake.statuses["PUT /collections/chunks/points"] = http.StatusInternalServerError
	fake.responses["PUT /collections/chunks/points"] = `{"status": {"error": "disk full"}}`
	idx := newTestIndex(t, fake)

	err := idx.Upsert(context.Background(), []domain.Point{{
		ID: "x", Vectors: domain.Vectors{Dense: []float32{1, 2, 3}}, Payload: domain.ChunkRecord{TenantID: "acme"},
	}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestDeleteFrom(t *testing.T) {
	fake := newFakeQdrant()
	idx := newTestIndex(t, fake)

	require.NoError(t, idx.DeleteFrom(context.Background(), "acme", "handbook.md", 4))
	require.NoError(t, idx.Delete(context.Background(), "acme", "handbook.md"))

	reqs := fake.find(http.MethodPost, "/collections/chunks/points/delete")
	require.Len(t, reqs, 2)

	must := reqs[0].Body["filter"].(map[string]any)["must"].([]any)
	require.Len(t, must, 3)
	assert.Equal(t, "tenant_id", must[0].(map[string]any)["key"])
	assert.Equal(t, "acme", must[0].(map[string]any)["match"].(map[string]any)["value"])
	assert.Equal(t, "src_file", must[1].(map[string]any)["key"])
	assert.Equal(t, float64(4), must[2].(map[string]any)["range"].(map[string]any)["gte"])

	must = reqs[1].Body["filter"].(map[string]any)["must"].([]any)
	assert.Len(t, must, 2)

	assert.ErrorIs(t, idx.Delete(context.Background(), "", "handbook.md"), domain.ErrScopeViolation)
}

func TestHybridSearch(t *testing.T) {
	fake := newFakeQdrant()
	fake.responses["POST /collections/chunks/points/query"] = `{"result": {"points": [
		{"id": "p1", "score": 0.5, "payload": {"tenant_id": "acme", "src_file": "a.md", "chunk_index": 0, "content": "leave", "accessed_role": [1]}},
		{"id": "p2", "score": 0.25, "payload": {"tenant_id": "acme", "src_file": "b.md", "chunk_index": 3, "content": "travel", "accessed_role": [1, 2]}}
	]}}`
	idx := newTestIndex(t, fake)

	query := domain.Vectors{
		Dense:  []float32{1, 0, 0},
		Sparse: domain.SparseVector{Indices: []uint32{3}, Values: []float32{1}},
	}
	got, err := idx.HybridSearch(context.Background(), query, domain.Scope{TenantID: "acme", Role: 1}, domain.DefaultSearchOptions())

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].ID)
	assert.Equal(t, "a.md", got[0].Chunk.SourceFile)
	assert.Equal(t, 3, got[1].Chunk.Ordinal)
	assert.Equal(t, domain.RankFused, got[1].Source)

	reqs := fake.find(http.MethodPost, "/collections/chunks/points/query")
	require.Len(t, reqs, 1)
	body := reqs[0].Body
	assert.Equal(t, float64(20), body["limit"])
	assert.Equal(t, map[string]any{"fusion": "rrf"}, body["query"])

	prefetches := body["prefetch"].([]any)
	require.Len(t, prefetches, 2)
	usings := []string{}
	for _, raw := range prefetches {
		pf := raw.(map[string]any)
		usings = append(usings, pf["using"].(string))
		assert.Equal(t, float64(40), pf["limit"])
		must := pf["filter"].(map[string]any)["must"].([]any)
		require.Len(t, must, 2)
		assert.Equal(t, "acme", must[0].(map[string]any)["match"].(map[string]any)["value"])
		assert.Equal(t, "accessed_role", must[1].(map[string]any)["key"])
		assert.Equal(t, float64(1), must[1].(map[string]any)["match"].(map[string]any)["value"])
	}
	assert.Equal(t, []string{"dense-vector", "sparse-vector"}, usings)
}

func TestHybridSearch_EmptySparseKeepsBothPrefetchesAndCustomRRF(t *testing.T) {
	fake := newFakeQdrant()
	fake.responses["POST /collections/chunks/points/query"] = `{"result": {"points": []}}`
	idx := newTestIndex(t, fake)

	opts := domain.SearchOptions{Limit: 5, PrefetchMultiplier: 3, RRFConstant: 10}
	got, err := idx.HybridSearch(context.Background(), domain.Vectors{Dense: []float32{1, 0, 0}}, domain.Scope{TenantID: "acme", Role: 1}, opts)

	require.NoError(t, err)
	assert.Empty(t, got)
	body := fake.find(http.MethodPost, "/collections/chunks/points/query")[0].Body
	prefetches := body["prefetch"].([]any)
	require.Len(t, prefetches, 2)
	for _, p := range prefetches {
		assert.Equal(t, float64(15), p.(map[string]any)["limit"])
	}
	sparse := prefetches[1].(map[string]any)
	assert.Equal(t, "sparse-vector", sparse["using"])
	assert.Equal(t, map[string]any{"indices": []any{}, "values": []any{}}, sparse["query"])
	assert.Equal(t, map[string]any{"rrf": map[string]any{"k": float64(10)}}, body["query"])
}

func TestHybridSearch_RequiresScope(t *testing.T) {
	fake := newFakeQdrant()
	idx := newTestIndex(t, fake)

	_, err := idx.HybridSearch(context.Background(), domain.Vectors{Dense: []float32{1, 0, 0}}, domain.Scope{TenantID: "acme"}, domain.DefaultSearchOptions())

	assert.ErrorIs(t, err, domain.ErrScopeViolation)
	assert.Empty(t, fake.find(http.MethodPost, "/collections/chunks/points/query"))
}

func TestOptimizeCountHealth(t *testing.T) {
	fake := newFakeQdrant()
	fake.responses["POST /collections/chunks/points/count"] = `{"result": {"count": 42}}`
	idx := newTestIndex(t, fake)
	ctx := context.Background()

	require.NoError(t, idx.Optimize(ctx))
	patches := fake.find(http.MethodPatch, "/collections/chunks")
	require.Len(t, patches, 1)
	hnsw := patches[0].Body["hnsw_config"].(map[string]any)
	assert.Equal(t, float64(16), hnsw["m"])
	assert.Equal(t, float64(100), hnsw["ef_construct"])

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	require.NoError(t, idx.HealthCheck(ctx))
	fake.mu.Lock()
	fake.statuses["GET /healthz"] = http.StatusServiceUnavailable
	fake.mu.Unlock()
	assert.Error(t, idx.HealthCheck(ctx))
}
