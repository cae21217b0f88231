package chunking

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// structuralSeparators are tried in order; earlier ones keep larger units together.
var structuralSeparators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ", ", " "}

// recursiveSplit cuts text into pieces of at most limit tokens, preferring
// paragraph, line (list item, table row) and sentence boundaries over word cuts.
func recursiveSplit(text string, limit int, tok Tokenizer) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if tok.Count(text) <= limit {
		return []string{text}
	}
	return splitWithSeparators(text, structuralSeparators, limit, tok)
}

func splitWithSeparators(text string, seps []string, limit int, tok Tokenizer) []string {
	sep := ""
	rest := seps
	for i, s := range seps {
		if strings.Contains(text, s) {
			sep = s
			rest = seps[i+1:]
			break
		}
	}
	if sep == "" {
		return fixedSplit(text, limit, 0, tok)
	}

	var (
		pieces  []string
		current strings.Builder
	)
	emit := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			pieces = append(pieces, s)
		}
		current.Reset()
	}

	for _, part := range strings.SplitAfter(text, sep) {
		if part == "" {
			continue
		}
		if tok.Count(part) > limit {
			emit()
			if len(rest) == 0 {
				pieces = append(pieces, fixedSplit(part, limit, 0, tok)...)
			} else {
				pieces = append(pieces, splitWithSeparators(part, rest, limit, tok)...)
			}
			continue
		}
		if current.Len() > 0 && tok.Count(current.String()+part) > limit {
			emit()
		}
		current.WriteString(part)
	}
	emit()
	return pieces
}

var atomPattern = regexp.MustCompile(`\S+\s*`)

// fixedSplit is the terminal fallback. It packs whitespace-delimited words into
// windows of at most size tokens with overlap tokens carried between windows.
// It never fails: words longer than a window are cut on rune boundaries.
func fixedSplit(text string, size, overlap int, tok Tokenizer) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size < 1 {
		size = 1
	}
	if overlap >= size/2 {
		overlap = size / 4
	}

	var atoms []string
	for _, a := range atomPattern.FindAllString(text, -1) {
		if tok.Count(a) > size {
			atoms = append(atoms, cutRunes(a, size, tok)...)
			continue
		}
		atoms = append(atoms, a)
	}

	counts := make([]int, len(atoms))
	for i, a := range atoms {
		counts[i] = tok.Count(a)
	}

	var pieces []string
	start := 0
	for start < len(atoms) {
		end, sum := start, 0
		for end < len(atoms) && sum+counts[end] <= size {
			sum += counts[end]
			end++
		}
		if end == start {
			end = start + 1
		}

		// Prefer a sentence or line end in the last quarter of the window.
		if end < len(atoms) {
			floor := start + (end-start)*3/4
			for b := end; b > floor && b > start+1; b-- {
				if endsSentence(atoms[b-1]) {
					end = b
					break
				}
			}
		}

		// Token counts are not strictly additive across word joins; shrink until it fits.
		piece := strings.TrimSpace(strings.Join(atoms[start:end], ""))
		for end > start+1 && tok.Count(piece) > size {
			end--
			piece = strings.TrimSpace(strings.Join(atoms[start:end], ""))
		}
		if piece != "" {
			pieces = append(pieces, piece)
		}
		if end >= len(atoms) {
			break
		}

		next, carried := end, 0
		for next > start+1 && carried+counts[next-1] <= overlap {
			carried += counts[next-1]
			next--
		}
		start = next
	}
	return pieces
}

func endsSentence(atom string) bool {
	trimmed := strings.TrimRight(atom, " \t")
	if strings.HasSuffix(atom, "\n") {
		return true
	}
	return strings.HasSuffix(trimmed, ".") || strings.HasSuffix(trimmed, "?") || strings.HasSuffix(trimmed, "!")
}

// cutRunes splits a single oversized word into rune runs of at most size tokens.
func cutRunes(word string, size int, tok Tokenizer) []string {
	var (
		out  []string
		from int
	)
	for from < len(word) {
		to := from
		for to < len(word) {
			_, w := utf8.DecodeRuneInString(word[to:])
			if to > from && tok.Count(word[from:to+w]) > size {
				break
			}
			to += w
		}
		out = append(out, word[from:to])
		from = to
	}
	return out
}
