package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

var (
	_ driven.LLM             = (*MockLLM)(nil)
	_ driven.RelevanceScorer = (*MockScorer)(nil)
)

var sourcePattern = regexp.MustCompile(`\(Source: ([^)]+)\)`)

// MockLLM is a scripted Generator and QueryRewriter for testing.
//
// Generate pops Replies in order. When none are left it answers with a JSON
// object citing every source named in the request's context block.
// RewriteQuery looks the query up in Rewrites and reports rewrite=false when absent.
type MockLLM struct {
	mu       sync.Mutex
	Replies  []string
	Rewrites map[string]string

	GenerateFn func(ctx context.Context, req domain.GenerationRequest) (string, error)
	RewriteFn  func(ctx context.Context, query string, history []domain.Turn) (string, error)
	PingErr    error

	requests     []domain.GenerationRequest
	rewriteCalls int
}

// NewMockLLM creates a new MockLLM
func NewMockLLM(replies ...string) *MockLLM {
	return &MockLLM{
		Replies:  replies,
		Rewrites: make(map[string]string),
	}
}

func (m *MockLLM) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	fn := m.GenerateFn
	var reply string
	scripted := len(m.Replies) > 0
	if scripted {
		reply = m.Replies[0]
		m.Replies = m.Replies[1:]
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if scripted {
		return reply, nil
	}

	question := ""
	if n := len(req.Messages); n > 0 {
		question = req.Messages[n-1].Content
	}
	var sources []string
	seen := make(map[string]bool)
	for _, match := range sourcePattern.FindAllStringSubmatch(req.System, -1) {
		if !seen[match[1]] {
			seen[match[1]] = true
			sources = append(sources, match[1])
		}
	}
	out, _ := json.Marshal(domain.Answer{
		Question: question,
		Answer:   fmt.Sprintf("Answer grounded in %d documents.", len(sources)),
		Citation: strings.Join(sources, ", "),
	})
	return string(out), nil
}

func (m *MockLLM) RewriteQuery(ctx context.Context, query string, history []domain.Turn) (string, error) {
	m.mu.Lock()
	m.rewriteCalls++
	fn := m.RewriteFn
	rewritten, ok := m.Rewrites[query]
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, query, history)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !ok {
		rewritten = query
	}
	out, _ := json.Marshal(struct {
		Rewrite bool   `json:"rewrite"`
		Query   string `json:"query"`
	}{Rewrite: ok, Query: rewritten})
	return string(out), nil
}

func (m *MockLLM) Model() string {
	return "mock-llm"
}

func (m *MockLLM) Ping(ctx context.Context) error {
	return m.PingErr
}

func (m *MockLLM) Close() error {
	return nil
}

// Requests returns every generation request received
func (m *MockLLM) Requests() []domain.GenerationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.GenerationRequest(nil), m.requests...)
}

// RewriteCalls returns the number of RewriteQuery calls
func (m *MockLLM) RewriteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rewriteCalls
}

// MockScorer scores texts by the number of query words they contain
type MockScorer struct {
	ScoreFn func(ctx context.Context, query string, texts []string) ([]float64, error)
	calls   int
}

// NewMockScorer creates a new MockScorer
func NewMockScorer() *MockScorer {
	return &MockScorer{}
}

func (m *MockScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	m.calls++
	if m.ScoreFn != nil {
		return m.ScoreFn(ctx, query, texts)
	}
	words := strings.Fields(strings.ToLower(query))
	scores := make([]float64, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		for _, w := range words {
			if strings.Contains(lower, strings.Trim(w, ".,;:!?")) {
				scores[i]++
			}
		}
	}
	return scores, nil
}

func (m *MockScorer) HealthCheck(ctx context.Context) error {
	return nil
}

func (m *MockScorer) Close() error {
	return nil
}

// Calls returns the number of Score calls
func (m *MockScorer) Calls() int {
	return m.calls
}
