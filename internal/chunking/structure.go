package chunking

import (
	"regexp"
	"strings"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// section is a contiguous run of document text sharing one header path.
type section struct {
	content string
	path    []string
	h1      string
	method  domain.SplitMethod
	tokens  int
}

var (
	headerPattern = regexp.MustCompile(`^(#{1,2})[ \t]+(.+?)[ \t]*#*[ \t]*$`)
	fencePattern  = regexp.MustCompile("^[ \t]*(```|~~~)")
)

// normalize unifies line endings, strips trailing spaces and collapses runs of blank lines.
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Join(lines, "\n")

	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}

func isTableLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "|")
}

// isolateTables fences every contiguous block of pipe-delimited lines with blank lines
// so that paragraph-level splitters see the table as one unit.
func isolateTables(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines)+4)
	inFence := false

	for i, line := range lines {
		if fencePattern.MatchString(line) {
			inFence = !inFence
		}
		table := !inFence && isTableLine(line)

		if table && (i == 0 || !isTableLine(lines[i-1])) {
			if len(out) > 0 && strings.TrimSpace(out[len(out)-1]) != "" {
				out = append(out, "")
			}
		}
		out = append(out, line)
		if table && i+1 < len(lines) && !isTableLine(lines[i+1]) && strings.TrimSpace(lines[i+1]) != "" {
			out = append(out, "")
		}
	}
	return strings.Join(out, "\n")
}

// splitByHeaders cuts text on level 1 and level 2 markdown headers outside code fences.
// The header line stays in its section's content.
func splitByHeaders(text string) []section {
	var (
		sections []section
		buf      []string
		h1, h2   string
		inFence  bool
	)

	flush := func() {
		content := strings.TrimSpace(strings.Join(buf, "\n"))
		buf = buf[:0]
		if content == "" {
			return
		}
		var path []string
		if h1 != "" {
			path = append(path, h1)
		}
		if h2 != "" {
			path = append(path, h2)
		}
		sections = append(sections, section{
			content: content,
			path:    path,
			h1:      h1,
			method:  domain.SplitHeader,
		})
	}

	for _, line := range strings.Split(text, "\n") {
		if fencePattern.MatchString(line) {
			inFence = !inFence
		}
		if !inFence {
			if m := headerPattern.FindStringSubmatch(line); m != nil {
				flush()
				if len(m[1]) == 1 {
					h1, h2 = m[2], ""
				} else {
					h2 = m[2]
				}
			}
		}
		buf = append(buf, line)
	}
	flush()
	return sections
}
