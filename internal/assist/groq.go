package assist

import (
	"context"
	"fmt"

	"github.com/conneroisu/groq-go"
)

// GroqLLM completes prompts with the Groq chat API.
type GroqLLM struct {
	client *groq.Client
	model  groq.ChatModel
}

// NewGroqLLM creates a client. baseURL overrides the API endpoint when set.
func NewGroqLLM(apiKey, model, baseURL string) (*GroqLLM, error) {
	var (
		client *groq.Client
		err    error
	)
	if baseURL != "" {
		client, err = groq.NewClient(apiKey, groq.WithBaseURL(baseURL))
	} else {
		client, err = groq.NewClient(apiKey)
	}
	if err != nil {
		return nil, fmt.Errorf("create groq client: %w", err)
	}
	return &GroqLLM{client: client, model: groq.ChatModel(model)}, nil
}

func (g *GroqLLM) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := g.client.ChatCompletion(ctx, groq.ChatCompletionRequest{
		Model: g.model,
		Messages: []groq.ChatCompletionMessage{
			{Role: groq.RoleSystem, Content: system},
			{Role: groq.RoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response")
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("empty response")
	}
	return content, nil
}
