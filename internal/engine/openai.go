package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIEngine generates replies through an OpenAI-compatible chat API.
type OpenAIEngine struct {
	client *openai.Client
	model  string
	prompt string
}

// Ensure OpenAIEngine implements Engine.
var _ Engine = (*OpenAIEngine)(nil)

// NewOpenAIEngine creates an engine for model. baseURL may be empty for the
// public API. prompt may reference {{history}} and {{userInput}}.
func NewOpenAIEngine(apiKey, baseURL, model, prompt string) (*OpenAIEngine, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	slog.Info("Initializing OpenAI engine", "model", model)
	return &OpenAIEngine{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		prompt: prompt,
	}, nil
}

// Complete sends one chat completion request.
func (o *OpenAIEngine) Complete(ctx context.Context, history, userInput string) (*Result, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.request(history, userInput, false))
	if err != nil {
		return nil, fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return &Result{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}

// Stream sends a streaming chat completion request and forwards each non-empty fragment.
func (o *OpenAIEngine) Stream(ctx context.Context, history, userInput string, fn FragmentFunc) (*Result, error) {
	stream, err := o.client.CreateChatCompletionStream(ctx, o.request(history, userInput, true))
	if err != nil {
		return nil, fmt.Errorf("openai chat completion stream failed: %w", err)
	}
	defer stream.Close()

	var (
		content strings.Builder
		result  Result
	)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("openai stream receive failed: %w", err)
		}
		if result.Model == "" {
			result.Model = resp.Model
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			result.FinishReason = string(choice.FinishReason)
		}
		if choice.Delta.Content == "" {
			continue
		}
		content.WriteString(choice.Delta.Content)
		if err := fn(choice.Delta.Content); err != nil {
			return nil, err
		}
	}
	result.Content = content.String()
	return &result, nil
}

func (o *OpenAIEngine) request(history, userInput string, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: RenderPrompt(o.prompt, history, userInput)},
		},
		Stream: stream,
	}
}

// RenderPrompt substitutes {{history}} and {{userInput}} in prompt.
func RenderPrompt(prompt, history, userInput string) string {
	return strings.NewReplacer("{{history}}", history, "{{userInput}}", userInput).Replace(prompt)
}
