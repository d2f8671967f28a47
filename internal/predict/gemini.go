package predict

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"fintrack/internal/core"
)

const DefaultGeminiModel = "gemini-2.0-flash"

// Gemini generates predictions with the Gemini API using a response schema.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini generator. baseURL is only set in tests.
func NewGemini(ctx context.Context, apiKey, model, baseURL string) (*Gemini, error) {
	if model == "" {
		model = DefaultGeminiModel
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), generateConfig())
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	// Blocked or empty candidates yield "", which the caller reports as no output.
	return resp.Text(), nil
}

func generateConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.2),
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema(),
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
		},
	}
}

func responseSchema() *genai.Schema {
	cats := core.ExpenseCategories()
	enum := make([]string, len(cats))
	for i, c := range cats {
		enum[i] = string(c)
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"predictedExpenses": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"category":        {Type: genai.TypeString, Enum: enum},
						"predictedAmount": {Type: genai.TypeNumber},
						"period":          {Type: genai.TypeString},
					},
					Required: []string{"category", "predictedAmount", "period"},
				},
			},
			"summary": {Type: genai.TypeString},
		},
		Required: []string{"predictedExpenses", "summary"},
	}
}
