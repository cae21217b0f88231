package chunking

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// Engine splits document text into chunk records.
// Output depends only on the input text, the config, the tokenizer and the embedder.
type Engine struct {
	cfg       Config
	tokenizer Tokenizer
	embedder  Embedder
	logger    *zap.Logger
}

// NewEngine validates cfg and builds an engine. A nil embedder disables the
// semantic stage and oversize sections go straight to the fixed splitter.
func NewEngine(cfg Config, tokenizer Tokenizer, embedder Embedder, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunking config: %w", err)
	}
	if tokenizer == nil {
		tokenizer = WordTokenizer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		tokenizer: tokenizer,
		embedder:  embedder,
		logger:    logger,
	}, nil
}

// Config returns the engine's budgets.
func (e *Engine) Config() Config {
	return e.cfg
}

// Tokenizer returns the tokenizer used for all budgets.
func (e *Engine) Tokenizer() Tokenizer {
	return e.tokenizer
}

// Split turns text into stamped chunk records. Only text that is not valid
// UTF-8 is rejected; every splitter failure degrades to a coarser fallback.
func (e *Engine) Split(ctx context.Context, text, tenantID, sourceFile string, roles []int) ([]domain.ChunkRecord, error) {
	if !utf8.ValidString(text) {
		return nil, domain.NewValidationError("chunk", "source text is not valid UTF-8")
	}

	text = isolateTables(normalize(text))
	if text == "" {
		return nil, nil
	}

	sections := splitByHeaders(text)
	sections = e.guardSize(sections)
	sections = e.smartMerge(sections)

	var resolved []section
	for _, s := range sections {
		if s.tokens > e.cfg.MaxTokens {
			resolved = append(resolved, e.resolveOversize(ctx, s)...)
			continue
		}
		resolved = append(resolved, s)
	}

	var final []section
	for _, s := range resolved {
		final = append(final, e.injectContext(s)...)
	}

	chunks := make([]domain.ChunkRecord, 0, len(final))
	for _, s := range final {
		content := strings.TrimSpace(s.content)
		if content == "" {
			continue
		}
		ordinal := len(chunks)
		chunks = append(chunks, domain.ChunkRecord{
			ChunkID:       domain.PointID(tenantID, sourceFile, ordinal),
			Ordinal:       ordinal,
			TenantID:      tenantID,
			SourceFile:    sourceFile,
			AccessedRoles: append([]int(nil), roles...),
			Content:       content,
			HeaderPath:    append([]string(nil), s.path...),
			TokenCount:    e.tokenizer.Count(content),
			SplitMethod:   s.method,
		})
	}

	e.logger.Debug("document split",
		zap.String("tenant_id", tenantID),
		zap.String("source_file", sourceFile),
		zap.Int("sections", len(sections)),
		zap.Int("chunks", len(chunks)),
	)
	return chunks, nil
}

// guardSize cuts sections over MaxTokens on structural boundaries.
func (e *Engine) guardSize(sections []section) []section {
	out := make([]section, 0, len(sections))
	for _, s := range sections {
		s.tokens = e.tokenizer.Count(s.content)
		if s.tokens <= e.cfg.MaxTokens {
			out = append(out, s)
			continue
		}
		for _, piece := range recursiveSplit(s.content, e.cfg.MaxTokens, e.tokenizer) {
			out = append(out, section{
				content: piece,
				path:    s.path,
				h1:      s.h1,
				method:  domain.SplitRecursive,
				tokens:  e.tokenizer.Count(piece),
			})
		}
	}
	return out
}

// smartMerge makes one left-to-right pass in which the left section absorbs its
// right neighbour when both share an H1 and either the left is below MinTokens or
// the combined size stays below IdealTokens. No merge exceeds HardCap.
func (e *Engine) smartMerge(sections []section) []section {
	out := make([]section, 0, len(sections))
	for _, s := range sections {
		if len(out) > 0 {
			left := &out[len(out)-1]
			if left.h1 == s.h1 {
				combined := left.content + "\n\n" + s.content
				n := e.tokenizer.Count(combined)
				if n <= e.cfg.HardCap && (left.tokens < e.cfg.MinTokens || n < e.cfg.IdealTokens) {
					left.content = combined
					left.tokens = n
					left.method = domain.SplitMerged
					continue
				}
			}
		}
		out = append(out, s)
	}
	return out
}

// resolveOversize runs the fallback chain for a section still over MaxTokens.
// Each stage reports a tagged outcome; the chain moves to the next stage on
// anything other than success and ends at the fixed splitter, which cannot fail.
func (e *Engine) resolveOversize(ctx context.Context, s section) []section {
	out := semanticSplit(ctx, s.content, e.embedder, e.cfg.BreakpointPercentile)

	for {
		switch out.kind {
		case outcomeSemantic:
			var result []section
			for _, piece := range out.pieces {
				n := e.tokenizer.Count(piece)
				if n > e.cfg.MaxTokens {
					result = append(result, e.fixedSections(s, piece, e.cfg.MaxTokens)...)
					continue
				}
				result = append(result, section{
					content: piece,
					path:    s.path,
					h1:      s.h1,
					method:  domain.SplitSemantic,
					tokens:  n,
				})
			}
			return result

		case outcomeFixed:
			return e.fixedSections(s, s.content, e.cfg.MaxTokens)

		default:
			fields := []zap.Field{zap.Stringer("outcome", out.kind), zap.Int("tokens", s.tokens)}
			if out.err != nil {
				fields = append(fields, zap.Error(out.err))
			}
			e.logger.Debug("semantic split unavailable, falling back to fixed splitter", fields...)
			out = splitOutcome{kind: outcomeFixed}
		}
	}
}

func (e *Engine) fixedSections(parent section, text string, size int) []section {
	var result []section
	for _, piece := range fixedSplit(text, size, e.cfg.Overlap, e.tokenizer) {
		result = append(result, section{
			content: piece,
			path:    parent.path,
			h1:      parent.h1,
			method:  domain.SplitFixed,
			tokens:  e.tokenizer.Count(piece),
		})
	}
	return result
}

// contextSlack covers token count drift when the prefix is joined to content.
const contextSlack = 4

func contextLine(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return "Context: " + strings.Join(path, " > ")
}

// injectContext prefixes the header path unless it already appears near the start.
// A section whose prefixed form breaks its budget is re-cut so every piece fits.
func (e *Engine) injectContext(s section) []section {
	line := contextLine(s.path)
	if line == "" || hasPathNearStart(s.content, strings.Join(s.path, " > ")) {
		return []section{s}
	}

	limit := e.cfg.MaxTokens
	if s.method == domain.SplitFixed {
		limit = e.cfg.HardCap
	}

	prefixed := line + "\n\n" + s.content
	if e.tokenizer.Count(prefixed) <= limit {
		s.content = prefixed
		return []section{s}
	}

	room := limit - e.tokenizer.Count(line) - contextSlack
	if room < e.cfg.MinTokens/4 {
		return []section{s}
	}

	var out []section
	for _, piece := range fixedSplit(s.content, room, e.cfg.Overlap, e.tokenizer) {
		content := line + "\n\n" + piece
		if e.tokenizer.Count(content) > limit {
			content = piece
		}
		out = append(out, section{
			content: content,
			path:    s.path,
			h1:      s.h1,
			method:  domain.SplitFixed,
		})
	}
	return out
}

func hasPathNearStart(content, path string) bool {
	window := len(path) + 64
	if window > len(content) {
		window = len(content)
	}
	for window < len(content) && !utf8.RuneStart(content[window]) {
		window++
	}
	return strings.Contains(content[:window], path)
}
