package oracle

import (
	"context"
	"fmt"

	"github.com/dvloznov/transaction-classifier/internal/classify"
	"google.golang.org/genai"
)

// DefaultGeminiModel is the Gemini model used when none is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiClient scores candidate labels with a Gemini model.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini-backed oracle. With an empty apiKey the
// client falls back to the environment (GOOGLE_API_KEY or Vertex AI settings).
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if apiKey != "" {
		cfg = &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		}
	}
	return newGeminiClient(ctx, cfg, model)
}

func newGeminiClient(ctx context.Context, cfg *genai.ClientConfig, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("NewGeminiClient: create genai client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Classify implements classify.Oracle.
func (c *GeminiClient) Classify(ctx context.Context, text string, candidates []string, template string) (classify.Prediction, error) {
	if len(candidates) == 0 {
		return classify.Prediction{}, ErrNoCandidates
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: buildLLMPrompt(text, candidates, template)},
			},
		},
	}

	var temperature float32
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: llmSystemPrompt}}},
		Temperature:       &temperature,
	})
	if err != nil {
		return classify.Prediction{}, fmt.Errorf("GeminiClient.Classify: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return classify.Prediction{}, fmt.Errorf("GeminiClient.Classify: empty response from model")
	}

	return parseLLMScores(rawText, candidates)
}
