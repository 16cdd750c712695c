package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Message is a minimal chat message exchanged with the generation service.
// Role must be one of: "system", "user", or "assistant".
type Message struct {
	Role    string
	Content string
}

// Request is a single generation request: the system instructions for this
// call site followed by the prior conversation turns.
type Request struct {
	SystemInstructions []string
	PriorTurns         []Message
	// Summary selects the summary model instead of the chat model.
	Summary bool
	// JSON asks the service to answer with a single JSON object.
	JSON        bool
	Temperature float32
}

// Client is the text-generation collaborator.  Implementations return the
// raw text produced by the service; interpreting it is the caller's job.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ErrEmptyResponse is returned when the service answers without choices.
var ErrEmptyResponse = errors.New("llm: empty response")

// Options configures an OpenAIClient.
type Options struct {
	APIKey       string
	BaseURL      string
	ChatModel    string
	SummaryModel string
}

// OpenAIClient calls the OpenAI chat completion API.
type OpenAIClient struct {
	client       *openai.Client
	chatModel    string
	summaryModel string
}

// NewOpenAIClient constructs an OpenAI-backed client.  Empty model names fall
// back to sensible defaults and the summary model defaults to the chat model.
func NewOpenAIClient(opts Options) *OpenAIClient {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	chatModel := opts.ChatModel
	if chatModel == "" {
		// default to a modern small model; can be overridden via env
		chatModel = "gpt-4o-mini"
	}
	summaryModel := opts.SummaryModel
	if summaryModel == "" {
		summaryModel = chatModel
	}

	return &OpenAIClient{
		client:       openai.NewClientWithConfig(cfg),
		chatModel:    chatModel,
		summaryModel: summaryModel,
	}
}

// Generate sends the system instructions and prior turns to the chat
// completion API and returns the assistant's raw text.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	if c.client == nil {
		return "", errors.New("openai client not initialized")
	}

	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(req.SystemInstructions)+len(req.PriorTurns))
	for _, s := range req.SystemInstructions {
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: s})
	}
	for _, m := range req.PriorTurns {
		role := m.Role
		if role != openai.ChatMessageRoleSystem && role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			// coerce anything unknown to user
			role = openai.ChatMessageRoleUser
		}
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	model := c.chatModel
	if req.Summary {
		model = c.summaryModel
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = 0.7
	}

	creq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    oaMsgs,
		Temperature: temperature,
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// Model returns the chat model name.
func (c *OpenAIClient) Model() string { return c.chatModel }
