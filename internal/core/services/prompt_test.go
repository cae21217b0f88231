package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

func TestBuildRequest_RendersContextAndHistory(t *testing.T) {
	candidates := []domain.Candidate{
		candidate("leave", "Employees get 12 days of annual leave.", 0.9),
		candidate("travel", "Travel must be approved by a manager.", 0.5),
	}
	history := []domain.Turn{
		{Role: domain.TurnUser, Content: "What is the leave policy?"},
		{Role: domain.TurnAssistant, Content: "Employees get 12 days."},
	}

	req := BuildRequest("And travel?", domain.Scope{TenantID: "acme", Role: 1}, candidates, history, domain.PromptModeNormal)

	assert.True(t, req.JSON)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Equal(t, "And travel?", req.Messages[0].Content)

	sys := req.System
	assert.Contains(t, sys, "--- DOCUMENT [1] ---\n(Source: leave.md)\nContent:\nEmployees get 12 days of annual leave.")
	assert.Contains(t, sys, "--- DOCUMENT [2] ---\n(Source: travel.md)")
	assert.Less(t, strings.Index(sys, "DOCUMENT [1]"), strings.Index(sys, "DOCUMENT [2]"))
	assert.Contains(t, sys, "user: What is the leave policy?\nassistant: Employees get 12 days.\n")
	assert.Contains(t, sys, domain.NoInformationAnswer)
	assert.Contains(t, sys, `tenant "acme"`)
	assert.Contains(t, sys, "OUTPUT FORMAT:")
	assert.NotContains(t, sys, "REASONING MODE")

	// history precedes context, instructions come last
	assert.Less(t, strings.Index(sys, "CONVERSATION HISTORY"), strings.Index(sys, "=== CONTEXT ==="))
	assert.Less(t, strings.Index(sys, "=== END OF CONTEXT ==="), strings.Index(sys, "OUTPUT FORMAT"))
}

func TestBuildRequest_ReasoningMode(t *testing.T) {
	req := BuildRequest("q?", domain.Scope{TenantID: "acme", Role: 1}, nil, nil, domain.PromptModeReasoning)

	assert.Contains(t, req.System, "REASONING MODE")
	assert.Contains(t, req.System, "STEP 4")
	assert.Contains(t, req.System, "No context available.")
	assert.Contains(t, req.System, "No previous conversation.")
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		answer   string
		citation string
	}{
		{
			name:     "plain object",
			raw:      `{"question":"q","answer":"12 days","citation":"leave.md"}`,
			answer:   "12 days",
			citation: "leave.md",
		},
		{
			name:     "fenced",
			raw:      "```json\n{\"question\":\"q\",\"answer\":\"12 days\",\"citation\":\"leave.md\"}\n```",
			answer:   "12 days",
			citation: "leave.md",
		},
		{
			name:     "surrounding prose",
			raw:      "Here is the answer:\n{\"answer\":\"12 days\",\"citation\":\"\"}\nHope that helps.",
			answer:   "12 days",
			citation: "",
		},
		{
			name:     "citation list",
			raw:      `{"answer":"see both","citation":["a.md","b.md"]}`,
			answer:   "see both",
			citation: "a.md, b.md",
		},
		{
			name:     "null citation",
			raw:      `{"answer":"hello!","citation":null}`,
			answer:   "hello!",
			citation: "",
		},
		{
			name:     "fence inside answer",
			raw:      "{\"answer\":\"run ```make``` first\",\"citation\":\"ops.md\"}",
			answer:   "run ```make``` first",
			citation: "ops.md",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answer, err := ParseResponse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.answer, answer.Answer)
			assert.Equal(t, tt.citation, answer.Citation)
			assert.False(t, answer.Degraded)
		})
	}
}

func TestParseResponse_Malformed(t *testing.T) {
	for _, raw := range []string{
		"The leave policy grants 12 days.",
		`{"answer": 12}`,
		`{"answer":"","citation":"a.md"}`,
		`{"answer": "unterminated`,
	} {
		answer, err := ParseResponse(raw)
		require.Error(t, err, raw)
		assert.ErrorIs(t, err, domain.ErrUpstreamMalformedResponse)
		assert.False(t, domain.IsRetryable(err))
		assert.True(t, answer.Degraded)
		assert.Equal(t, strings.TrimSpace(raw), answer.Answer)
		assert.Empty(t, answer.Citation)
	}
}
