package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	llmerrors "github.com/ahrav/go-canvas/internal/llm/errors"
)

// OpenAIConfig configures an OpenAI-compatible provider. BaseURL may point at
// any server speaking the chat completions API.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// OpenAIClient implements Client with go-openai.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAI returns a provider for cfg.
func NewOpenAI(cfg OpenAIConfig) *OpenAIClient {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		c.HTTPClient = cfg.HTTPClient
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(c)}
}

func messages(system, prompt string) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
}

// Stream opens a chat completion stream.
func (c *OpenAIClient) Stream(ctx context.Context, req StreamRequest) (TokenStream, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages(req.SystemPrompt, req.Prompt),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("open stream %s: %w", req.Model, err)
	}
	return &openAIStream{stream: stream}, nil
}

// Complete runs a single chat completion and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, req CompleteRequest) (string, error) {
	temperature := req.Temperature
	if temperature == 0 {
		// go-openai drops a zero temperature from the payload.
		temperature = math.SmallestNonzeroFloat32
	}
	ccr := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages(req.SystemPrompt, req.Prompt),
		Temperature: temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		ccr.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	resp, err := c.client.CreateChatCompletion(ctx, ccr)
	if err != nil {
		return "", fmt.Errorf("complete %s: %w", req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("complete %s: no choices: %w", req.Model, llmerrors.ErrInvalidResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

// Recv skips role-only and empty deltas so callers only see text.
func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if text := resp.Choices[0].Delta.Content; text != "" {
			return text, nil
		}
	}
}

func (s *openAIStream) Close() error {
	if err := s.stream.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
