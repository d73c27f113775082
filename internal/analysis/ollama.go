package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ChatService is the part of the OpenAI client used here.
type ChatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Completer turns a prompt into model output.
type Completer interface {
	Complete(ctx context.Context, settings Settings, prompt string) (string, error)
}

// OllamaClient talks to Ollama's OpenAI-compatible endpoint. The base URL
// comes from the settings of each call since admins can change it at runtime.
type OllamaClient struct {
	newService func(baseURL string) ChatService
}

func NewOllamaClient() *OllamaClient {
	return &OllamaClient{newService: func(baseURL string) ChatService {
		client := openai.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey("ollama"),
			option.WithMaxRetries(0),
		)
		return client.Chat.Completions
	}}
}

func chatBaseURL(ollamaURL string) string {
	return strings.TrimRight(strings.TrimSpace(ollamaURL), "/") + "/v1/"
}

func (o *OllamaClient) Complete(ctx context.Context, settings Settings, prompt string) (string, error) {
	service := o.newService(chatBaseURL(settings.OllamaURL))

	system := settings.SystemPrompt
	if strings.TrimSpace(system) == "" {
		system = defaultSystemPrompt
	}
	resp, err := service.New(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		}),
		Model:       openai.F(openai.ChatModel(settings.Model)),
		Temperature: openai.F(settings.Temperature),
		MaxTokens:   openai.F(int64(settings.MaxTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion failed: no choices returned")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("chat completion failed: empty content")
	}
	return content, nil
}
