package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/fpang/highlight-generator/internal/auth"
	"github.com/fpang/highlight-generator/internal/video"
)

// ValidateVideoPath checks that path is an existing .mov or .mp4 file and
// returns its absolute form.
func ValidateVideoPath(path string) (string, error) {
	if !video.IsSupported(path) {
		return "", fmt.Errorf("%s: unsupported video type (want .mov or .mp4)", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: video not found", path)
		}
		return "", fmt.Errorf("access %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s: is a directory", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

// HandleValidationError logs an API key validation failure with advice
// matching its kind and exits.
func HandleValidationError(err error) {
	var validationErr *auth.ValidationError
	if !errors.As(err, &validationErr) {
		log.Fatal().Err(err).Msg("Unexpected error during API key validation")
	}
	switch validationErr.Type {
	case auth.ErrTypeInvalidKey:
		log.Fatal().Err(err).Msg("Invalid API key. Please check your API key and try again")
	case auth.ErrTypeNetworkError:
		log.Fatal().Err(err).Msg("Network error. Please check your internet connection")
	case auth.ErrTypeQuotaExceeded:
		log.Fatal().Err(err).Msg("API quota exceeded. Please try again later or check your usage limits")
	default:
		log.Fatal().Err(err).Msg("API key validation failed")
	}
}
