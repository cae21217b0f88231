package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

const promptIntro = `You are a senior internal knowledge assistant.
TASK: answer the user's question using only the company documents in the CONTEXT section.
TONE: professional and objective. Reply in the language of the question.`

const promptRules = `MANDATORY RULES:

1. GROUNDING
   - Use only information from the CONTEXT section.
   - Never use outside knowledge. Never guess numbers, names or document titles that are not stated.

2. DETAIL AND SYNTHESIS
   - Give complete answers, including every step of a procedure when one exists.
   - When the information is spread across several documents, combine it into one coherent answer without repetition.
   - When documents contradict each other, state the contradiction and name both sources.

3. CONVERSATION
   - Use the CONVERSATION HISTORY only to understand intent and resolve references such as "it" or "that process".
   - The CONTEXT section is the only source of facts.
   - Keep answers consistent with earlier answers unless the context says otherwise.
   - For greetings, thanks or small talk, reply naturally and leave the citation empty.

4. CITATIONS
   - Cite the src_file of every document you used, copied character for character from the "(Source: ...)" line.
   - Never invent a source name, article or clause number.

5. MISSING INFORMATION
   - If the CONTEXT does not contain the answer, reply exactly: "%s"

6. SECURITY
   - Never disclose information from outside the CONTEXT.
   - Only use information belonging to tenant %q.

7. FORMATTING
   - Write clear, ordered prose. Use Markdown tables or lists only when they help.`

const normalInstructions = `OUTPUT FORMAT:
Answer directly. Return only a valid JSON object, with no text before or after it:
{
  "question": "the user's question",
  "answer": "your answer",
  "citation": "comma-separated src_file names used, or an empty string for small talk or missing information"
}`

const reasoningInstructions = `OUTPUT FORMAT (REASONING MODE):
Work through these steps before answering:
STEP 1. ANALYSE: identify the key terms of the question and list the documents that contain relevant information.
STEP 2. SYNTHESISE: order the information logically and resolve contradictions between documents.
STEP 3. ANSWER: write the complete answer based on the analysis.
STEP 4. SOURCES: list the src_file names you used.

Return only a valid JSON object whose "answer" field contains all four steps:
{
  "question": "the user's question",
  "answer": "steps 1 to 4",
  "citation": "comma-separated src_file names used, or an empty string"
}`

// BuildRequest assembles the grounded generation request for query.
// Candidates are rendered in order as numbered documents; history renders one
// "role: content" line per turn.
func BuildRequest(query string, scope domain.Scope, candidates []domain.Candidate, history []domain.Turn, mode domain.PromptMode) domain.GenerationRequest {
	instructions := normalInstructions
	if mode == domain.PromptModeReasoning {
		instructions = reasoningInstructions
	}

	var b strings.Builder
	b.WriteString(promptIntro)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, promptRules, domain.NoInformationAnswer, scope.TenantID)
	b.WriteString("\n\n=== CONVERSATION HISTORY ===\n")
	b.WriteString(formatHistory(history))
	b.WriteString("=== END OF HISTORY ===\n\n=== CONTEXT ===\n")
	b.WriteString(formatContext(candidates))
	b.WriteString("=== END OF CONTEXT ===\n\n")
	b.WriteString(instructions)

	return domain.GenerationRequest{
		System: b.String(),
		Messages: []domain.GenerationMessage{
			{Role: string(domain.TurnUser), Content: query},
		},
		JSON: true,
	}
}

func formatContext(candidates []domain.Candidate) string {
	if len(candidates) == 0 {
		return "No context available.\n"
	}
	parts := make([]string, len(candidates))
	for i, c := range candidates {
		parts[i] = fmt.Sprintf("--- DOCUMENT [%d] ---\n(Source: %s)\nContent:\n%s\n",
			i+1, c.Chunk.SourceFile, strings.TrimSpace(c.Chunk.Content))
	}
	return strings.Join(parts, "\n")
}

func formatHistory(history []domain.Turn) string {
	if len(history) == 0 {
		return "No previous conversation.\n"
	}
	var b strings.Builder
	for _, t := range history {
		role := domain.TurnUser
		if t.Role == domain.TurnAssistant {
			role = domain.TurnAssistant
		}
		b.WriteString(string(role))
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	return b.String()
}

var errNoJSONObject = errors.New("no JSON object in response")

type rawAnswer struct {
	Question string          `json:"question"`
	Answer   json.RawMessage `json:"answer"`
	Citation json.RawMessage `json:"citation"`
}

// ParseResponse extracts the three-field answer from raw generation output.
// Code fences and prose around the object are tolerated.
//
// On malformed output it returns an answer holding the raw text with an empty
// citation and Degraded set, together with a MalformedResponse error. Callers
// treat that error as non-fatal.
func ParseResponse(raw string) (domain.Answer, error) {
	answer, err := parseAnswer(raw)
	if err != nil {
		return domain.Answer{
			Answer:   strings.TrimSpace(raw),
			Degraded: true,
		}, domain.NewMalformedResponse("generate", err)
	}
	return answer, nil
}

func parseAnswer(raw string) (domain.Answer, error) {
	object, err := extractJSONObject(raw)
	if err != nil {
		return domain.Answer{}, err
	}

	var r rawAnswer
	if err := json.Unmarshal([]byte(object), &r); err != nil {
		return domain.Answer{}, err
	}

	text, err := flattenField(r.Answer)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("answer field: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return domain.Answer{}, errors.New("answer field is empty")
	}
	citation, err := flattenField(r.Citation)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("citation field: %w", err)
	}

	return domain.Answer{
		Question: r.Question,
		Answer:   strings.TrimSpace(text),
		Citation: strings.TrimSpace(citation),
	}, nil
}

// flattenField accepts a string, a list of strings or null
func flattenField(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, ", "), nil
	}
	return "", fmt.Errorf("unexpected JSON type %s", truncateText(string(raw), 20))
}

// extractJSONObject strips code fences and returns the outermost {...} span
func extractJSONObject(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 && !strings.HasPrefix(s, "{") {
		body := s[i+3:]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		}
		if j := strings.Index(body, "```"); j >= 0 {
			body = body[:j]
		}
		s = body
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", errNoJSONObject
	}
	return s[start : end+1], nil
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
