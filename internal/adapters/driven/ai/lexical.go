package ai

import (
	"hash/fnv"
	"regexp"
	"strings"
)

var termPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// terms lowercases text and returns its letter and number runs, minus stopwords.
func terms(text string) []string {
	raw := termPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func hashTerm(term string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(term))
	return h.Sum32()
}

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "and", "are", "as", "at", "be", "but", "by", "for", "from",
		"has", "have", "he", "her", "his", "i", "if", "in", "into", "is", "it",
		"its", "me", "my", "of", "on", "or", "our", "she", "so", "than", "that",
		"the", "their", "them", "then", "there", "these", "they", "this", "those",
		"to", "us", "was", "we", "were", "what", "when", "where", "which", "who",
		"will", "with", "you", "your",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
