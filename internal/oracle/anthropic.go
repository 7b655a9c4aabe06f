package oracle

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dvloznov/transaction-classifier/internal/classify"
)

// DefaultAnthropicModel is the Claude model used when none is configured.
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

const anthropicMaxTokens = 1024

// AnthropicClient scores candidate labels with a Claude model.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

// NewAnthropicClient creates a Claude-backed oracle.
func NewAnthropicClient(apiKey, model string, opts ...option.RequestOption) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if model == "" {
		model = DefaultAnthropicModel
	}

	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

// Classify implements classify.Oracle.
func (c *AnthropicClient) Classify(ctx context.Context, text string, candidates []string, template string) (classify.Prediction, error) {
	if len(candidates) == 0 {
		return classify.Prediction{}, ErrNoCandidates
	}

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   anthropicMaxTokens,
		Temperature: anthropic.Float(0),
		System: []anthropic.TextBlockParam{
			{Text: llmSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildLLMPrompt(text, candidates, template))),
		},
	})
	if err != nil {
		return classify.Prediction{}, fmt.Errorf("AnthropicClient.Classify: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			return parseLLMScores(block.Text, candidates)
		}
	}
	return classify.Prediction{}, fmt.Errorf("AnthropicClient.Classify: no text content in response")
}
