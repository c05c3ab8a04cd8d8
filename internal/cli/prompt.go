package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"
)

// ErrCanceled is returned when the user dismisses the video picker.
var ErrCanceled = errors.New("video selection canceled")

// PickVideo asks for a video with the native file dialog, falling back to
// a terminal prompt when no dialog can be shown.
func PickVideo() (string, error) {
	selected, err := zenity.SelectFile(
		zenity.Title("Select a video"),
		zenity.FileFilters{
			{Name: "Videos", Patterns: []string{"*.mp4", "*.mov", "*.MP4", "*.MOV"}, CaseFold: true},
		},
	)
	if err == nil {
		return selected, nil
	}
	if errors.Is(err, zenity.ErrCanceled) {
		return "", ErrCanceled
	}

	log.Debug().Err(err).Msg("File dialog unavailable, prompting on the terminal")
	return PromptForVideo(os.Stdin, os.Stdout)
}

// PromptForVideo reads a video path from in. An empty answer cancels.
func PromptForVideo(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Video file (.mp4 or .mov): ")

	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read video path: %w", err)
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrCanceled
	}
	return input, nil
}
