package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/barekit/ragchat/pkg/llm"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type Provider struct {
	client      *openai.Client
	model       string
	maxTokens   int64
	temperature float64
}

func New(opts ...option.RequestOption) *Provider {
	client := openai.NewClient(opts...)
	return &Provider{
		client:      &client,
		model:       openai.ChatModelGPT4oMini,
		maxTokens:   1000,
		temperature: 0.7,
	}
}

// SetModel sets the model to use.
func (p *Provider) SetModel(model string) {
	p.model = model
}

// SetMaxTokens caps the length of the generated reply. Zero leaves it to the API default.
func (p *Provider) SetMaxTokens(n int64) {
	p.maxTokens = n
}

// SetTemperature sets the sampling temperature.
func (p *Provider) SetTemperature(t float64) {
	p.temperature = t
}

// Model returns the configured chat model.
func (p *Provider) Model() string {
	return p.model
}

func (p *Provider) Chat(ctx context.Context, messages []llm.Message) (*llm.Message, error) {
	openaiMessages, err := buildMessages(messages)
	if err != nil {
		return nil, &llm.CompletionError{Category: llm.CategoryInvalidRequest, Err: err}
	}

	params := openai.ChatCompletionNewParams{
		Messages:    openaiMessages,
		Model:       p.model,
		Temperature: openai.Float(p.temperature),
	}
	if p.maxTokens > 0 {
		params.MaxTokens = openai.Int(p.maxTokens)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, Classify(err)
	}

	if len(completion.Choices) == 0 {
		return nil, &llm.CompletionError{Category: llm.CategoryServer, Err: errors.New("response contained no choices")}
	}

	return &llm.Message{
		Role:    llm.RoleAssistant,
		Content: completion.Choices[0].Message.Content,
	}, nil
}

func buildMessages(messages []llm.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	openaiMessages := make([]openai.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			openaiMessages[i] = openai.SystemMessage(msg.Content)
		case llm.RoleUser:
			openaiMessages[i] = openai.UserMessage(msg.Content)
		case llm.RoleAssistant:
			openaiMessages[i] = openai.AssistantMessage(msg.Content)
		default:
			return nil, fmt.Errorf("unknown role: %s", msg.Role)
		}
	}
	return openaiMessages, nil
}

// Classify converts an openai-go error into an *llm.CompletionError. It is
// shared with the embeddings adapter, which reports the same categories.
func Classify(err error) *llm.CompletionError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return llm.Classify(err, apiErr.StatusCode)
	}
	return llm.Classify(err, 0)
}
