package scorer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// imageScore is one entry of the model's JSON answer.
type imageScore struct {
	Image int     `json:"image"`
	Score float64 `json:"score"`
}

// parseScores reads a JSON array of {"image": N, "score": S} entries, where
// N is the 1-based position in the batch, tolerating markdown fences and
// surrounding prose. Every image in the batch must be rated exactly once.
func parseScores(raw string, n int) ([]float64, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		if nl := strings.Index(text, "\n"); nl >= 0 {
			text = text[nl+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	start, end := strings.Index(text, "["), strings.LastIndex(text, "]")
	if start == -1 || end < start {
		return nil, fmt.Errorf("no JSON array in response (raw length: %d)", len(raw))
	}

	var entries []imageScore
	if err := json.Unmarshal([]byte(text[start:end+1]), &entries); err != nil {
		preview := text[start : end+1]
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		return nil, fmt.Errorf("invalid JSON: %w (text: %s)", err, preview)
	}

	scores := make([]float64, n)
	seen := make([]bool, n)
	for _, e := range entries {
		if e.Image < 1 || e.Image > n {
			return nil, fmt.Errorf("score for unknown image %d (batch of %d)", e.Image, n)
		}
		if seen[e.Image-1] {
			return nil, fmt.Errorf("image %d scored twice", e.Image)
		}
		seen[e.Image-1] = true
		scores[e.Image-1] = clampScore(e.Score)
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("image %d missing from response", i+1)
		}
	}
	return scores, nil
}
