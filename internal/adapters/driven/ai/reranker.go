package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

var (
	_ driven.RelevanceScorer = (*HTTPScorer)(nil)
	_ driven.RelevanceScorer = (*LexicalScorer)(nil)
)

// HTTPScorer calls a cross-encoder rerank server (TEI or Jina style)
type HTTPScorer struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

// NewHTTPScorer creates a scorer for the server at settings.BaseURL
func NewHTTPScorer(settings *domain.RerankSettings) (*HTTPScorer, error) {
	if settings == nil || !settings.IsRemote() {
		return nil, fmt.Errorf("rerank base URL is required")
	}
	return &HTTPScorer{
		baseURL: strings.TrimRight(settings.BaseURL, "/"),
		model:   settings.Model,
		apiKey:  settings.APIKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	Documents []string `json:"documents,omitempty"`
	Model     string   `json:"model,omitempty"`
	RawScores bool     `json:"raw_scores"`
}

type rerankResult struct {
	Index          int      `json:"index"`
	Score          *float64 `json:"score"`
	RelevanceScore *float64 `json:"relevance_score"`
}

// Score returns one score per text in input order
func (s *HTTPScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return []float64{}, nil
	}

	reqBody := rerankRequest{Query: query, Texts: texts, Model: s.model}
	if s.model != "" {
		// Jina-compatible servers read documents instead of texts
		reqBody.Documents = texts
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rerank response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank API error (status %d): %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	results, err := decodeRerank(respBody)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(texts))
	seen := make([]bool, len(texts))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(texts) {
			return nil, fmt.Errorf("rerank index %d out of range", r.Index)
		}
		switch {
		case r.Score != nil:
			scores[r.Index] = *r.Score
		case r.RelevanceScore != nil:
			scores[r.Index] = *r.RelevanceScore
		default:
			return nil, fmt.Errorf("rerank result %d has no score", r.Index)
		}
		seen[r.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			scores[i] = math.Inf(-1)
		}
	}
	return scores, nil
}

// decodeRerank accepts a bare array (TEI) or {"results": [...]} (Jina, Cohere).
func decodeRerank(body []byte) ([]rerankResult, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var results []rerankResult
		if err := json.Unmarshal(trimmed, &results); err != nil {
			return nil, fmt.Errorf("decode rerank response: %w", err)
		}
		return results, nil
	}
	var wrapped struct {
		Results []rerankResult `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	return wrapped.Results, nil
}

// HealthCheck scores a single pair
func (s *HTTPScorer) HealthCheck(ctx context.Context) error {
	_, err := s.Score(ctx, "health", []string{"check"})
	return err
}

// Close releases resources
func (s *HTTPScorer) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// LexicalScorer scores by query term coverage with a saturating frequency bonus.
// Used when no cross-encoder server is configured.
type LexicalScorer struct{}

// NewLexicalScorer creates a local scorer
func NewLexicalScorer() *LexicalScorer {
	return &LexicalScorer{}
}

// Score returns coverage of distinct query terms in each text, in [0, 2)
func (s *LexicalScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queryTerms := make(map[string]struct{})
	for _, t := range terms(query) {
		queryTerms[t] = struct{}{}
	}

	scores := make([]float64, len(texts))
	if len(queryTerms) == 0 {
		return scores, nil
	}
	for i, text := range texts {
		tf := make(map[string]int)
		for _, t := range terms(text) {
			if _, ok := queryTerms[t]; ok {
				tf[t]++
			}
		}
		var freq float64
		for _, n := range tf {
			freq += float64(n) / float64(n+1)
		}
		n := float64(len(queryTerms))
		scores[i] = float64(len(tf))/n + freq/n
	}
	return scores, nil
}

// HealthCheck always succeeds
func (s *LexicalScorer) HealthCheck(context.Context) error {
	return nil
}

// Close releases resources
func (s *LexicalScorer) Close() error {
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
