package backend

import (
	"context"
	"fmt"

	"fintrack/internal/config"
	"fintrack/internal/predict"
)

// NewGenerator returns the model adapter for the configured provider, or nil
// when predictions are disabled.
func NewGenerator(ctx context.Context, cfg *config.Config) (predict.Generator, error) {
	switch cfg.AIProvider {
	case config.ProviderGemini:
		gen, err := predict.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, "")
		if err != nil {
			return nil, err
		}
		return gen, nil
	case config.ProviderOpenAI:
		return predict.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel), nil
	case config.ProviderNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", cfg.AIProvider)
	}
}
