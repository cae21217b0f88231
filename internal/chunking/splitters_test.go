package chunking

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// byteTokenizer counts one token per four bytes so long words have large counts.
type byteTokenizer struct{}

func (byteTokenizer) Count(text string) int {
	return (len(text) + 3) / 4
}

func TestIsolateTables(t *testing.T) {
	in := "Intro line\n| a | b |\n|---|---|\n| 1 | 2 |\nAfter table"
	want := "Intro line\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\nAfter table"
	assert.Equal(t, want, isolateTables(in))

	fenced := "```\n| not | a table |\n```"
	assert.Equal(t, fenced, isolateTables(fenced))
}

func TestSplitByHeaders(t *testing.T) {
	text := "Preamble.\n\n# Guide\n\nIntro.\n\n```\n# not a header\n```\n\n## Setup\n\nSteps.\n\n### Detail\n\nStill setup.\n\n# Other\n\nEnd."
	sections := splitByHeaders(text)
	require.Len(t, sections, 4)

	assert.Empty(t, sections[0].path)
	assert.Equal(t, "Preamble.", sections[0].content)

	assert.Equal(t, []string{"Guide"}, sections[1].path)
	assert.Contains(t, sections[1].content, "# not a header")

	assert.Equal(t, []string{"Guide", "Setup"}, sections[2].path)
	assert.Contains(t, sections[2].content, "### Detail")
	assert.Equal(t, "Guide", sections[2].h1)

	assert.Equal(t, []string{"Other"}, sections[3].path)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a\n\nb", normalize("a  \r\n\r\n\r\n\r\nb\t"))
}

func TestRecursiveSplitPrefersParagraphs(t *testing.T) {
	tok := WordTokenizer{}
	text := para(30, "one") + "\n\n" + para(30, "two") + "\n\n" + para(30, "three")

	pieces := recursiveSplit(text, 40, tok)
	require.Len(t, pieces, 3)
	assert.True(t, strings.HasPrefix(pieces[1], "two"))
	for _, p := range pieces {
		assert.LessOrEqual(t, tok.Count(p), 40)
	}
}

func TestRecursiveSplitKeepsTableRowsWhole(t *testing.T) {
	tok := WordTokenizer{}
	var rows []string
	for i := 0; i < 40; i++ {
		rows = append(rows, "| cell | value | note |")
	}
	pieces := recursiveSplit(strings.Join(rows, "\n"), 50, tok)
	require.Greater(t, len(pieces), 1)
	for _, p := range pieces {
		for _, line := range strings.Split(p, "\n") {
			assert.Equal(t, "| cell | value | note |", line)
		}
	}
}

func TestFixedSplitOverlapAndBounds(t *testing.T) {
	tok := WordTokenizer{}
	var words []string
	for i := 0; i < 1000; i++ {
		w := fmt.Sprintf("t%d", i)
		if i%10 == 9 {
			w += "."
		}
		words = append(words, w)
	}

	pieces := fixedSplit(strings.Join(words, " "), 120, 20, tok)
	require.Greater(t, len(pieces), 8)
	for _, p := range pieces {
		assert.LessOrEqual(t, tok.Count(p), 120)
	}

	// The second piece starts inside the first one.
	fields0 := strings.Fields(pieces[0])
	first1 := strings.Fields(pieces[1])[0]
	assert.Contains(t, fields0, first1)
	assert.NotEqual(t, fields0[0], first1)
}

func TestFixedSplitCutsOversizedWords(t *testing.T) {
	tok := byteTokenizer{}
	word := strings.Repeat("x", 400)

	pieces := fixedSplit(word+" tail", 25, 0, tok)
	require.NotEmpty(t, pieces)
	assert.Equal(t, word+"tail", strings.Join(pieces, ""))
	for _, p := range pieces {
		assert.LessOrEqual(t, tok.Count(p), 25)
	}
}

func TestFixedSplitEmpty(t *testing.T) {
	assert.Nil(t, fixedSplit("   ", 10, 2, WordTokenizer{}))
}

func TestSplitSentencesIsLossless(t *testing.T) {
	text := "First one. Second?\nThird line\n\nFourth! 3.5 stays"
	sentences := splitSentences(text)
	assert.Equal(t, text, strings.Join(sentences, ""))
	assert.Equal(t, "First one. ", sentences[0])
}

func TestSemanticSplitOutcomes(t *testing.T) {
	out := semanticSplit(context.Background(), "one. two.", &topicEmbedder{}, 55)
	assert.Equal(t, outcomeFailed, out.kind)
	assert.ErrorIs(t, out.err, errTooFewSentences)

	out = semanticSplit(context.Background(), para(50, "apple"), nil, 55)
	assert.Equal(t, outcomeSkipped, out.kind)

	out = semanticSplit(context.Background(), para(50, "apple"), failingEmbedder{}, 55)
	assert.Equal(t, outcomeFailed, out.kind)
	assert.Error(t, out.err)
}

func TestPercentile(t *testing.T) {
	values := []float64{4, 1, 3, 2}
	assert.InDelta(t, 1.0, percentileOf(values, 0), 1e-9)
	assert.InDelta(t, 2.5, percentileOf(values, 50), 1e-9)
	assert.InDelta(t, 4.0, percentileOf(values, 100), 1e-9)
	assert.Equal(t, 0.0, percentileOf(nil, 50))
}

func TestWordTokenizer(t *testing.T) {
	assert.Equal(t, 5, WordTokenizer{}.Count("Context: Handbook > Leave"))
	assert.Equal(t, 0, WordTokenizer{}.Count(""))
}
