package chunking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Embedder produces dense vectors for sentence windows.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// outcomeKind tags the result of one stage of the oversize fallback chain.
type outcomeKind int

const (
	outcomeSemantic outcomeKind = iota
	outcomeFixed
	outcomeFailed
	outcomeSkipped
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeSemantic:
		return "semantic"
	case outcomeFixed:
		return "fixed"
	case outcomeFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// splitOutcome is the tagged result of a splitter in the fallback chain.
type splitOutcome struct {
	kind   outcomeKind
	pieces []string
	err    error
}

var errTooFewSentences = errors.New("too few sentences for semantic split")

// splitSentences cuts text after sentence punctuation and line breaks.
// Concatenating the result reproduces the input.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		end := -1
		switch text[i] {
		case '\n':
			end = i + 1
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' || text[i+1] == '\n' {
				end = i + 1
			}
		}
		if end < 0 {
			continue
		}
		for end < len(text) && text[end] == ' ' {
			end++
		}
		seg := text[start:end]
		if strings.TrimSpace(seg) == "" && len(out) > 0 {
			out[len(out)-1] += seg
		} else {
			out = append(out, seg)
		}
		start = end
		i = end - 1
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// semanticSplit cuts text where the embedding distance between neighbouring
// sentence windows exceeds the configured percentile of all distances.
func semanticSplit(ctx context.Context, text string, embedder Embedder, percentile float64) splitOutcome {
	if embedder == nil {
		return splitOutcome{kind: outcomeSkipped}
	}
	sentences := splitSentences(text)
	if len(sentences) < 3 {
		return splitOutcome{kind: outcomeFailed, err: errTooFewSentences}
	}

	// Each sentence is embedded together with its neighbours to smooth noise.
	windows := make([]string, len(sentences))
	for i := range sentences {
		lo, hi := i-1, i+2
		if lo < 0 {
			lo = 0
		}
		if hi > len(sentences) {
			hi = len(sentences)
		}
		windows[i] = strings.Join(sentences[lo:hi], "")
	}

	vectors, err := embedder.Embed(ctx, windows)
	if err != nil {
		return splitOutcome{kind: outcomeFailed, err: fmt.Errorf("failed to embed sentences: %w", err)}
	}
	if len(vectors) != len(windows) {
		return splitOutcome{kind: outcomeFailed, err: fmt.Errorf("embedder returned %d vectors for %d sentences", len(vectors), len(windows))}
	}

	distances := make([]float64, len(vectors)-1)
	for i := range distances {
		distances[i] = 1 - cosine(vectors[i], vectors[i+1])
	}
	threshold := percentileOf(distances, percentile)

	var (
		pieces  []string
		current strings.Builder
	)
	for i, s := range sentences {
		current.WriteString(s)
		if i < len(distances) && distances[i] > threshold {
			if p := strings.TrimSpace(current.String()); p != "" {
				pieces = append(pieces, p)
			}
			current.Reset()
		}
	}
	if p := strings.TrimSpace(current.String()); p != "" {
		pieces = append(pieces, p)
	}
	return splitOutcome{kind: outcomeSemantic, pieces: pieces}
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// percentileOf returns the p-th percentile of values using linear interpolation.
func percentileOf(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}
