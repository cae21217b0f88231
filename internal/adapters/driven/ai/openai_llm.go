package ai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
	"github.com/custodia-labs/sercha-rag/internal/core/ports/driven"
)

// Ensure OpenAILLM implements LLM
var _ driven.LLM = (*OpenAILLM)(nil)

const defaultLLMModel = "gpt-4o-mini"

// rewriteSystemPrompt constrains the rewriter to resolving references only.
const rewriteSystemPrompt = `You rewrite follow-up questions for a document search engine.

Given a conversation history and the latest user message, decide whether the
message depends on the history to be understood.

Rules:
- Only resolve references (pronouns, "it", "that policy", omitted subjects) using entities named in the history.
- Never add facts, names or constraints that are not in the history or the message.
- Never answer the question.
- Keep the language of the latest message.
- If the message is already standalone, or is a greeting or small talk, do not rewrite it.

Respond with a JSON object only:
{"rewrite": true or false, "query": "the standalone question, or the original message when rewrite is false"}`

// OpenAILLM implements Generator and QueryRewriter against an
// OpenAI-compatible chat completions endpoint.
type OpenAILLM struct {
	client      *openai.Client
	model       string
	baseURL     string
	temperature float32
}

// NewOpenAILLM creates an LLM client from settings.
// An API key is required only when talking to api.openai.com.
func NewOpenAILLM(settings *domain.LLMSettings) (*OpenAILLM, error) {
	if settings == nil {
		return nil, fmt.Errorf("llm settings are required")
	}

	model := strings.TrimSpace(settings.Model)
	if model == "" {
		model = defaultLLMModel
	}

	baseURL := strings.TrimRight(settings.BaseURL, "/")
	if baseURL == "" {
		if settings.Provider == domain.AIProviderOllama {
			baseURL = defaultOllamaBaseURL
		} else {
			baseURL = defaultOpenAIBaseURL
		}
	}
	if baseURL == defaultOpenAIBaseURL && settings.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	cfg := openai.DefaultConfig(settings.APIKey)
	cfg.BaseURL = baseURL

	return &OpenAILLM{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		baseURL:     baseURL,
		temperature: settings.Temperature,
	}, nil
}

// Generate sends the grounded request and returns the raw model output
func (l *OpenAILLM) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    chatRole(m.Role),
			Content: m.Content,
		})
	}

	return l.complete(ctx, messages, req.JSON)
}

// RewriteQuery asks the model for a standalone form of query given history
func (l *OpenAILLM) RewriteQuery(ctx context.Context, query string, history []domain.Turn) (string, error) {
	var b strings.Builder
	b.WriteString("Conversation history:\n")
	for _, turn := range history {
		b.WriteString(string(turn.Role))
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	b.WriteString("\nLatest message: ")
	b.WriteString(query)

	return l.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: rewriteSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: b.String()},
	}, true)
}

func (l *OpenAILLM) complete(ctx context.Context, messages []openai.ChatCompletionMessage, jsonMode bool) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       l.model,
		Messages:    messages,
		Temperature: l.temperature,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := l.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Model returns the model name
func (l *OpenAILLM) Model() string {
	return l.model
}

// Ping verifies the service is reachable by listing models
func (l *OpenAILLM) Ping(ctx context.Context) error {
	if _, err := l.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models failed: %w", err)
	}
	return nil
}

// Close releases resources
func (l *OpenAILLM) Close() error {
	return nil
}

func chatRole(role string) string {
	switch role {
	case openai.ChatMessageRoleSystem:
		return openai.ChatMessageRoleSystem
	case openai.ChatMessageRoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}
