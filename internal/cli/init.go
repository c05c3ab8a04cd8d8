package cli

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/fpang/highlight-generator/internal/auth"
	"github.com/fpang/highlight-generator/internal/scorer"
)

// InitGeminiKey resolves the API key and checks it against model before
// any video work starts. It exits on failure.
func InitGeminiKey(ctx context.Context, model string) string {
	apiKey, err := auth.GetAPIKey()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to retrieve API key")
	}

	client, err := scorer.NewGeminiClient(ctx, apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}

	if err := auth.ValidateAPIKey(ctx, client, model); err != nil {
		HandleValidationError(err)
	}
	return apiKey
}
