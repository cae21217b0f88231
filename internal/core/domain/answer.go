package domain

import (
	"strings"
)

// NoInformationAnswer is returned when nothing in scope supports an answer
const NoInformationAnswer = "Based on the provided documents, there is no information about this matter."

// PromptMode selects the output format requested from generation
type PromptMode string

const (
	PromptModeNormal    PromptMode = "normal"
	PromptModeReasoning PromptMode = "reasoning"
)

// GenerationMessage is one message of a generation request
type GenerationMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationRequest is the structured request sent to the generation capability
type GenerationRequest struct {
	System   string              `json:"system"`
	Messages []GenerationMessage `json:"messages"`
	// JSON asks the capability for a JSON object response
	JSON bool `json:"json"`
}

// Answer is the fixed three-field structure returned by generation
type Answer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Citation string `json:"citation"`

	// Degraded is set when the generation output could not be parsed
	Degraded bool `json:"-"`
}

// AskRequest is the upstream chat contract
type AskRequest struct {
	Query      string
	TenantID   string
	Role       int
	UserID     string
	Mode       PromptMode
	MaxSources int
}

// Scope returns the search scope of the request
func (r AskRequest) Scope() Scope {
	return Scope{TenantID: r.TenantID, Role: r.Role}
}

// Validate rejects malformed requests before any external call
func (r AskRequest) Validate() error {
	if err := r.Scope().Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.UserID) == "" {
		return NewValidationError("ask", "user_id is required")
	}
	if len([]rune(strings.TrimSpace(r.Query))) < 3 {
		return NewValidationError("ask", "query must be at least 3 characters")
	}
	if r.MaxSources < 0 || r.MaxSources > 10 {
		return NewValidationError("ask", "max_sources must be between 1 and 10")
	}
	if r.Mode != "" && r.Mode != PromptModeNormal && r.Mode != PromptModeReasoning {
		return NewValidationError("ask", "unknown mode %q", r.Mode)
	}
	return nil
}

// SourceRef identifies a chunk that grounded an answer
type SourceRef struct {
	SourceFile string  `json:"src_file"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// AskResult is the upstream chat response
type AskResult struct {
	Question         string      `json:"question"`
	Answer           string      `json:"answer"`
	Citation         string      `json:"citation"`
	ProcessingTimeMs int64       `json:"processing_time_ms"`
	Sources          []SourceRef `json:"sources,omitempty"`

	// Degraded is set when the answer was built from unparseable generation
	// output or from candidates the scorer could not rank
	Degraded bool `json:"degraded,omitempty"`
}
