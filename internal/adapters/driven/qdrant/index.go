package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.VectorIndex = (*Index)(nil)

const (
	denseField  = "dense-vector"
	sparseField = "sparse-vector"

	qdrantDefaultRRF = 60
)

// HNSW settings for bulk writes and for reads
var (
	bulkHNSW = hnswConfig{M: intPtr(0)}
	readHNSW = hnswConfig{M: intPtr(16), EfConstruct: intPtr(100)}
)

// Config holds Qdrant connection configuration
type Config struct {
	// URL is the Qdrant REST endpoint (e.g., http://localhost:6333)
	URL string

	// Collection holds every tenant's points
	Collection string

	// APIKey is sent as the api-key header when set
	APIKey string

	// DenseSize is the dimension of the dense vector field
	DenseSize int

	// Timeout for HTTP requests
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig(baseURL string) Config {
	return Config{
		URL:        baseURL,
		Collection: "chunks",
		DenseSize:  1024,
		Timeout:    30 * time.Second,
	}
}

// Index implements driven.VectorIndex over the Qdrant REST API.
// Scope filters are sent with every query so isolation is enforced by Qdrant.
type Index struct {
	baseURL    string
	collection string
	apiKey     string
	denseSize  int
	httpClient *http.Client
	logger     *zap.Logger
}

// NewIndex creates a Qdrant-backed index
func NewIndex(cfg Config, logger *zap.Logger) (*Index, error) {
	base, err := validateBaseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Collection == "" {
		return nil, errors.New("qdrant collection name is required")
	}
	if cfg.DenseSize <= 0 {
		return nil, fmt.Errorf("qdrant dense size must be positive, got %d", cfg.DenseSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		baseURL:    base,
		collection: cfg.Collection,
		apiKey:     cfg.APIKey,
		denseSize:  cfg.DenseSize,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(zap.String("collection", cfg.Collection)),
	}, nil
}

func validateBaseURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("qdrant URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid qdrant URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("qdrant URL must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("qdrant URL has no host")
	}
	return strings.TrimSuffix(raw, "/"), nil
}

func intPtr(v int) *int {
	return &v
}

// Request and response shapes of the Qdrant REST API

type hnswConfig struct {
	M           *int `json:"m,omitempty"`
	EfConstruct *int `json:"ef_construct,omitempty"`
}

type denseParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type sparseParams struct {
	Modifier string `json:"modifier,omitempty"`
}

type createCollection struct {
	Vectors       map[string]denseParams  `json:"vectors"`
	SparseVectors map[string]sparseParams `json:"sparse_vectors"`
	HNSWConfig    hnswConfig              `json:"hnsw_config"`
}

type payloadIndex struct {
	FieldName   string `json:"field_name"`
	FieldSchema string `json:"field_schema"`
}

type sparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

type point struct {
	ID      string             `json:"id"`
	Vector  map[string]any     `json:"vector"`
	Payload domain.ChunkRecord `json:"payload"`
}

type upsertRequest struct {
	Points []point `json:"points"`
}

type match struct {
	Value any `json:"value"`
}

type rangeCond struct {
	Gte *int `json:"gte,omitempty"`
}

type condition struct {
	Key   string     `json:"key"`
	Match *match     `json:"match,omitempty"`
	Range *rangeCond `json:"range,omitempty"`
}

type filter struct {
	Must []condition `json:"must"`
}

type prefetch struct {
	Query  any     `json:"query"`
	Using  string  `json:"using"`
	Limit  int     `json:"limit"`
	Filter *filter `json:"filter,omitempty"`
}

type queryRequest struct {
	Prefetch    []prefetch `json:"prefetch"`
	Query       any        `json:"query"`
	Filter      *filter    `json:"filter,omitempty"`
	Limit       int        `json:"limit"`
	WithPayload bool       `json:"with_payload"`
}

type scoredPoint struct {
	ID      any                `json:"id"`
	Score   float64            `json:"score"`
	Payload domain.ChunkRecord `json:"payload"`
}

type queryResponse struct {
	Result struct {
		Points []scoredPoint `json:"points"`
	} `json:"result"`
}

type countResponse struct {
	Result struct {
		Count int64 `json:"count"`
	} `json:"result"`
}

type errorResponse struct {
	Status struct {
		Error string `json:"error"`
	} `json:"status"`
}

// EnsureSchema creates the collection in bulk-write mode and its payload indexes.
// An existing collection is left as is; payload index creation is idempotent.
func (x *Index) EnsureSchema(ctx context.Context) error {
	exists, err := x.collectionExists(ctx)
	if err != nil {
		return err
	}

	if !exists {
		body := createCollection{
			Vectors: map[string]denseParams{
				denseField: {Size: x.denseSize, Distance: "Cosine"},
			},
			SparseVectors: map[string]sparseParams{
				sparseField: {Modifier: "idf"},
			},
			HNSWConfig: bulkHNSW,
		}
		if err := x.do(ctx, http.MethodPut, x.collectionPath(""), body, nil); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
		x.logger.Info("qdrant collection created", zap.Int("dense_size", x.denseSize))
	}

	indexes := []payloadIndex{
		{FieldName: "tenant_id", FieldSchema: "keyword"},
		{FieldName: "src_file", FieldSchema: "keyword"},
		{FieldName: "accessed_role", FieldSchema: "integer"},
	}
	for _, idx := range indexes {
		if err := x.do(ctx, http.MethodPut, x.collectionPath("/index?wait=true"), idx, nil); err != nil {
			return fmt.Errorf("create payload index %s: %w", idx.FieldName, err)
		}
	}
	return nil
}

func (x *Index) collectionExists(ctx context.Context) (bool, error) {
	err := x.do(ctx, http.MethodGet, x.collectionPath(""), nil, nil)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("get collection: %w", err)
}

// Upsert writes one batch of points and waits for it to be applied
func (x *Index) Upsert(ctx context.Context, points []domain.Point) error {
	if len(points) == 0 {
		return nil
	}
	req := upsertRequest{Points: make([]point, len(points))}
	for i, p := range points {
		if p.Payload.TenantID == "" {
			return domain.NewScopeViolation("upsert", "point without tenant_id")
		}
		if len(p.Vectors.Dense) != x.denseSize {
			return fmt.Errorf("point %s has %d dense dimensions, collection expects %d", p.ID, len(p.Vectors.Dense), x.denseSize)
		}
		req.Points[i] = point{
			ID: p.ID,
			Vector: map[string]any{
				denseField: p.Vectors.Dense,
				sparseField: sparseVector{
					Indices: nonNil(p.Vectors.Sparse.Indices),
					Values:  nonNil(p.Vectors.Sparse.Values),
				},
			},
			Payload: p.Payload,
		}
	}
	if err := x.do(ctx, http.MethodPut, x.collectionPath("/points?wait=true"), req, nil); err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Delete removes every point of a (tenant, file) pair
func (x *Index) Delete(ctx context.Context, tenantID, sourceFile string) error {
	return x.DeleteFrom(ctx, tenantID, sourceFile, 0)
}

// DeleteFrom removes the points of a (tenant, file) pair from fromOrdinal onwards
func (x *Index) DeleteFrom(ctx context.Context, tenantID, sourceFile string, fromOrdinal int) error {
	if tenantID == "" {
		return domain.NewScopeViolation("delete", "tenant_id is required")
	}
	f := filter{Must: []condition{
		{Key: "tenant_id", Match: &match{Value: tenantID}},
		{Key: "src_file", Match: &match{Value: sourceFile}},
	}}
	if fromOrdinal > 0 {
		f.Must = append(f.Must, condition{Key: "chunk_index", Range: &rangeCond{Gte: intPtr(fromOrdinal)}})
	}
	body := struct {
		Filter filter `json:"filter"`
	}{Filter: f}
	if err := x.do(ctx, http.MethodPost, x.collectionPath("/points/delete?wait=true"), body, nil); err != nil {
		return fmt.Errorf("delete points: %w", err)
	}
	return nil
}

func scopeFilter(scope domain.Scope) *filter {
	return &filter{Must: []condition{
		{Key: "tenant_id", Match: &match{Value: scope.TenantID}},
		{Key: "accessed_role", Match: &match{Value: scope.Role}},
	}}
}

// HybridSearch prefetches dense and sparse candidates under the scope filter
// and lets Qdrant fuse them with reciprocal rank fusion.
func (x *Index) HybridSearch(ctx context.Context, query domain.Vectors, scope domain.Scope, opts domain.SearchOptions) ([]domain.Candidate, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		opts.Limit = domain.DefaultSearchOptions().Limit
	}

	f := scopeFilter(scope)
	prefetchLimit := opts.PrefetchLimit()
	// an empty sparse prefetch matches nothing; fusion then follows the dense list
	sparse := sparseVector{Indices: query.Sparse.Indices, Values: query.Sparse.Values}
	if sparse.Indices == nil {
		sparse = sparseVector{Indices: []uint32{}, Values: []float32{}}
	}
	req := queryRequest{
		Prefetch: []prefetch{
			{Query: query.Dense, Using: denseField, Limit: prefetchLimit, Filter: f},
			{Query: sparse, Using: sparseField, Limit: prefetchLimit, Filter: f},
		},
		Query:       fusionQuery(opts.RRFConstant),
		Filter:      f,
		Limit:       opts.Limit,
		WithPayload: true,
	}

	var resp queryResponse
	if err := x.do(ctx, http.MethodPost, x.collectionPath("/points/query"), req, &resp); err != nil {
		return nil, fmt.Errorf("hybrid query: %w", err)
	}

	candidates := make([]domain.Candidate, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		candidates = append(candidates, domain.Candidate{
			ID:     fmt.Sprint(p.ID),
			Chunk:  p.Payload,
			Score:  p.Score,
			Source: domain.RankFused,
		})
	}
	return candidates, nil
}

// fusionQuery uses Qdrant's default RRF unless a different constant is asked for
func fusionQuery(constant int) any {
	if constant <= 0 || constant == qdrantDefaultRRF {
		return map[string]string{"fusion": "rrf"}
	}
	return map[string]any{"rrf": map[string]int{"k": constant}}
}

// Optimize switches the collection to read mode by building the HNSW graph
func (x *Index) Optimize(ctx context.Context) error {
	body := struct {
		HNSWConfig hnswConfig `json:"hnsw_config"`
	}{HNSWConfig: readHNSW}
	if err := x.do(ctx, http.MethodPatch, x.collectionPath(""), body, nil); err != nil {
		return fmt.Errorf("optimize collection: %w", err)
	}
	x.logger.Info("qdrant collection switched to read mode")
	return nil
}

// Count returns the exact number of points in the collection
func (x *Index) Count(ctx context.Context) (int64, error) {
	var resp countResponse
	body := map[string]bool{"exact": true}
	if err := x.do(ctx, http.MethodPost, x.collectionPath("/points/count"), body, &resp); err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return resp.Result.Count, nil
}

// HealthCheck verifies Qdrant is reachable
func (x *Index) HealthCheck(ctx context.Context) error {
	if err := x.do(ctx, http.MethodGet, "/healthz", nil, nil); err != nil {
		return fmt.Errorf("qdrant health check failed: %w", err)
	}
	return nil
}

func (x *Index) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(x.collection) + suffix
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
// A 404 maps to domain.ErrNotFound.
func (x *Index) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, x.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if x.apiKey != "" {
		req.Header.Set("api-key", x.apiKey)
	}

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e errorResponse
		if json.Unmarshal(respBody, &e) == nil && e.Status.Error != "" {
			return fmt.Errorf("qdrant %s %s failed: %s - %s", method, path, resp.Status, e.Status.Error)
		}
		return fmt.Errorf("qdrant %s %s failed: %s - %s", method, path, resp.Status, string(respBody))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
