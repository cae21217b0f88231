package chunking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// para returns n WordTokenizer tokens as sentences of nine words and a period.
func para(n int, word string) string {
	var b strings.Builder
	for i := 0; i < n/10; i++ {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(strings.TrimSpace(strings.Repeat(word+" ", 9)))
		b.WriteString(".")
	}
	return b.String()
}

// topicEmbedder maps a window to counts of two topic words.
type topicEmbedder struct {
	calls int
}

func (t *topicEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	t.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{
			float32(strings.Count(text, "apple")) + 0.01,
			float32(strings.Count(text, "banana")) + 0.01,
		}
	}
	return out, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model offline")
}

func newTestEngine(t *testing.T, embedder Embedder) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultConfig(), WordTokenizer{}, embedder, nil)
	require.NoError(t, err)
	return e
}

func assertBudgets(t *testing.T, cfg Config, chunks []domain.ChunkRecord) {
	t.Helper()
	tok := WordTokenizer{}
	for _, c := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(c.Content))
		assert.Equal(t, tok.Count(c.Content), c.TokenCount, "token count must match content")
		assert.LessOrEqual(t, c.TokenCount, cfg.HardCap)
		if c.SplitMethod != domain.SplitFixed {
			assert.LessOrEqual(t, c.TokenCount, cfg.MaxTokens, "method %s", c.SplitMethod)
		}
	}
}

func TestSplitMergesSmallSectionIntoHeaderOne(t *testing.T) {
	e := newTestEngine(t, nil)
	doc := "# Handbook\n\n" + para(400, "intro") +
		"\n\n## Leave\n\n" + para(150, "leave") +
		"\n\n## Benefits\n\n" + para(600, "benefit")

	chunks, err := e.Split(context.Background(), doc, "acme", "handbook.md", []int{1, 2})
	require.NoError(t, err)

	require.Len(t, chunks, 2, "three headers should produce fewer chunks")
	assert.Contains(t, chunks[0].Content, "## Leave")
	assert.Contains(t, chunks[0].Content, "leave leave")
	assert.Equal(t, domain.SplitMerged, chunks[0].SplitMethod)
	assert.Equal(t, []string{"Handbook"}, chunks[0].HeaderPath)
	assert.NotContains(t, chunks[1].Content, "leave leave")
	assertBudgets(t, e.Config(), chunks)
}

func TestSplitStampsRecords(t *testing.T) {
	e := newTestEngine(t, nil)
	chunks, err := e.Split(context.Background(), "# A\n\n"+para(300, "alpha")+"\n\n# B\n\n"+para(300, "beta"), "acme", "doc.md", []int{3})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
		assert.Equal(t, domain.PointID("acme", "doc.md", i), c.ChunkID)
		assert.Equal(t, "acme", c.TenantID)
		assert.Equal(t, "doc.md", c.SourceFile)
		assert.Equal(t, []int{3}, c.AccessedRoles)
	}
}

func TestSplitNeverMergesAcrossTopLevelHeaders(t *testing.T) {
	e := newTestEngine(t, nil)
	doc := "# Alpha\n\n" + para(50, "alpha") + "\n\n# Beta\n\n" + para(50, "beta") + "\n\n# Gamma\n\n" + para(50, "gamma")

	chunks, err := e.Split(context.Background(), doc, "acme", "doc.md", []int{1})
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		tops := 0
		for _, h := range []string{"# Alpha", "# Beta", "# Gamma"} {
			if strings.Contains(c.Content, h) {
				tops++
			}
		}
		assert.Equal(t, 1, tops, "chunk mixes top-level headers: %q", c.HeaderPath)
	}
}

func TestSplitTokenBudgets(t *testing.T) {
	e := newTestEngine(t, nil)

	var b strings.Builder
	b.WriteString("# Manual\n\n")
	for i := 0; i < 8; i++ {
		b.WriteString(fmt.Sprintf("## Part %d\n\n%s\n\n", i, para(100+i*300, fmt.Sprintf("w%d", i))))
	}

	chunks, err := e.Split(context.Background(), b.String(), "acme", "manual.md", []int{1})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assertBudgets(t, e.Config(), chunks)
}

func TestSplitSemanticBreakpoints(t *testing.T) {
	emb := &topicEmbedder{}
	e := newTestEngine(t, emb)

	// A small section followed by a large one under the same H1 merges above MaxTokens.
	doc := "# Fruit\n\n" + para(150, "apple") + "\n\n## More\n\n" + para(550, "apple") + " " + para(550, "banana")

	chunks, err := e.Split(context.Background(), doc, "acme", "fruit.md", []int{1})
	require.NoError(t, err)
	assert.Equal(t, 1, emb.calls)

	var semantic int
	for _, c := range chunks {
		if c.SplitMethod == domain.SplitSemantic {
			semantic++
		}
		hasApple := strings.Contains(c.Content, "apple")
		hasBanana := strings.Contains(c.Content, "banana")
		assert.False(t, hasApple && hasBanana, "semantic split should separate topics")
	}
	assert.GreaterOrEqual(t, semantic, 2)
	assertBudgets(t, e.Config(), chunks)
}

func TestSplitFallsBackWhenEmbedderFails(t *testing.T) {
	e := newTestEngine(t, failingEmbedder{})
	doc := "# Fruit\n\n" + para(150, "apple") + "\n\n## More\n\n" + para(1100, "banana")

	chunks, err := e.Split(context.Background(), doc, "acme", "fruit.md", []int{1})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	var fixed int
	for _, c := range chunks {
		if c.SplitMethod == domain.SplitFixed {
			fixed++
		}
	}
	assert.Greater(t, fixed, 1)
	assertBudgets(t, e.Config(), chunks)
}

func TestSplitDeterministic(t *testing.T) {
	e := newTestEngine(t, &topicEmbedder{})
	doc := "# Fruit\n\n" + para(150, "apple") + "\n\n## More\n\n" + para(600, "apple") + " " + para(600, "banana")

	first, err := e.Split(context.Background(), doc, "acme", "fruit.md", []int{1})
	require.NoError(t, err)
	second, err := e.Split(context.Background(), doc, "acme", "fruit.md", []int{1})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSplitInjectsHeaderContext(t *testing.T) {
	e := newTestEngine(t, nil)
	doc := "# Handbook\n\n" + para(600, "intro") + "\n\n## Leave\n\n" + para(600, "leave")

	chunks, err := e.Split(context.Background(), doc, "acme", "handbook.md", []int{1})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.False(t, strings.HasPrefix(chunks[0].Content, "Context:"), "H1 path already leads the content")
	assert.True(t, strings.HasPrefix(chunks[1].Content, "Context: Handbook > Leave\n\n"))
	assert.Equal(t, []string{"Handbook", "Leave"}, chunks[1].HeaderPath)
}

func TestSplitEdgeCases(t *testing.T) {
	e := newTestEngine(t, nil)

	chunks, err := e.Split(context.Background(), "  \n\n ", "acme", "empty.md", []int{1})
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, err = e.Split(context.Background(), "bad \xff bytes", "acme", "bad.md", []int{1})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	chunks, err = e.Split(context.Background(), "Just a short note without headers.", "acme", "note.md", []int{1})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].HeaderPath)
	assert.Equal(t, domain.SplitHeader, chunks[0].SplitMethod)
}

func TestNewEngineRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdealTokens = cfg.MaxTokens + 1
	_, err := NewEngine(cfg, WordTokenizer{}, nil, nil)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"min above ideal", func(c *Config) { c.MinTokens = 800 }},
		{"max above hard cap", func(c *Config) { c.MaxTokens = 2000 }},
		{"zero min", func(c *Config) { c.MinTokens = 0 }},
		{"huge overlap", func(c *Config) { c.Overlap = 900 }},
		{"bad percentile", func(c *Config) { c.BreakpointPercentile = 100 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
