package ai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"
)

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// LLMService is the LLM service interface.
type LLMService interface {
	// Chat performs synchronous chat.
	Chat(ctx context.Context, model string, messages []Message) (string, error)

	// ChatStream performs streaming chat. The content channel closes at
	// end of stream; the error channel carries at most one error.
	ChatStream(ctx context.Context, model string, messages []Message) (<-chan string, <-chan error)
}

type llmService struct {
	client      *openai.Client
	maxTokens   int
	temperature float32
}

// NewLLMService creates a new LLMService backed by an OpenAI-compatible
// endpoint.
func NewLLMService(cfg *LLMConfig) (LLMService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm config is nil")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &llmService{
		client:      openai.NewClientWithConfig(clientConfig),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (s *llmService) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    convertMessages(messages),
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty chat response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (s *llmService) ChatStream(ctx context.Context, model string, messages []Message) (<-chan string, <-chan error) {
	contentChan := make(chan string)
	errChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errChan)

		stream, err := s.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:       model,
			Messages:    convertMessages(messages),
			MaxTokens:   s.maxTokens,
			Temperature: s.temperature,
			Stream:      true,
		})
		if err != nil {
			errChan <- err
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if err != nil {
				// io.EOF is the normal end of stream.
				if !errors.Is(err, io.EOF) {
					errChan <- err
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case contentChan <- delta:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}
	}()

	return contentChan, errChan
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	llmMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		llmMessages[i] = openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
	}
	return llmMessages
}
