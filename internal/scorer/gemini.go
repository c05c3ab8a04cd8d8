package scorer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/highlight-generator/internal/frames"
	"github.com/fpang/highlight-generator/internal/metrics"
)

// GeminiCapacity bounds how many stills go into one request. Thumbnails are
// small, but the model rates long lists less consistently.
const GeminiCapacity = 20

// DefaultModelName is the Gemini model used when GEMINI_MODEL is unset.
const DefaultModelName = "gemini-3-flash-preview"

// ModelName resolves the Gemini model from GEMINI_MODEL or the default.
func ModelName() string {
	if env := os.Getenv("GEMINI_MODEL"); env != "" {
		return env
	}
	return DefaultModelName
}

var rubrics = map[Variant]string{
	Technical: `You are a photo quality inspector rating still frames pulled from a video.
Judge only technical quality: sharpness and focus, motion blur, exposure (no crushed
shadows or blown highlights), noise and compression artifacts, and contrast.
Ignore what the picture shows.`,
	Aesthetic: `You are a photo editor choosing highlight stills from a video.
Judge aesthetic appeal: composition, subject interest, colour harmony, light and mood,
and whether the moment would work as a standalone photo. Assume technical quality is
already acceptable.`,
}

const scoreInstruction = `Rate every image on a scale from 1 (worst) to 10 (best); decimals are allowed.
Answer with a JSON array only, one entry per image, in the form
[{"image": 1, "score": 6.5}, {"image": 2, "score": 4.0}]
where "image" is the number given before each image.`

// NewGeminiClient creates a Gemini API client for apiKey.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrUnavailable)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create Gemini client: %v", ErrUnavailable, err)
	}
	return client, nil
}

// Gemini rates stills by sending them to a Gemini model as inline images.
type Gemini struct {
	client   *genai.Client
	model    string
	variant  Variant
	capacity int
	rec      *metrics.Recorder
}

// NewGemini returns a Gemini-backed scorer. capacity <= 0 uses
// GeminiCapacity.
func NewGemini(client *genai.Client, model string, variant Variant, capacity int) *Gemini {
	if capacity <= 0 || capacity > GeminiCapacity {
		capacity = GeminiCapacity
	}
	if model == "" {
		model = ModelName()
	}
	return &Gemini{client: client, model: model, variant: variant, capacity: capacity}
}

// WithMetrics makes the scorer add API call metrics to rec.
func (g *Gemini) WithMetrics(rec *metrics.Recorder) *Gemini {
	g.rec = rec
	return g
}

func (g *Gemini) Capacity() int    { return g.capacity }
func (g *Gemini) Variant() Variant { return g.variant }

func (g *Gemini) Score(ctx context.Context, images []frames.Candidate) ([]frames.Scored, error) {
	if err := checkBatch(g, images); err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, nil
	}

	parts := make([]*genai.Part, 0, 2*len(images)+1)
	for i, c := range images {
		data, err := os.ReadFile(c.Path)
		if err != nil {
			return nil, fmt.Errorf("read still %d: %w", c.TimestampMs, err)
		}
		format, _ := frames.NormalizeFormat(filepath.Ext(c.Path))
		parts = append(parts,
			&genai.Part{Text: fmt.Sprintf("Image %d:", i+1)},
			&genai.Part{InlineData: &genai.Blob{MIMEType: frames.ContentType(format), Data: data}},
		)
	}
	parts = append(parts, &genai.Part{Text: scoreInstruction})

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: rubrics[g.variant]}},
		},
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	}

	log.Debug().
		Str("model", g.model).
		Str("variant", string(g.variant)).
		Int("images", len(images)).
		Msg("Sending stills to Gemini for scoring")

	contents := []*genai.Content{{Role: "user", Parts: parts}}
	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	elapsed := time.Since(start)

	g.record(elapsed, resp, err)

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Error().Err(err).Str("variant", string(g.variant)).Msg("Gemini scoring call failed")
		return nil, fmt.Errorf("%w: generate content: %v", ErrUnavailable, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response from Gemini", ErrUnavailable)
	}

	scores, err := parseScores(resp.Text(), len(images))
	if err != nil {
		return nil, fmt.Errorf("parse %s scores: %w", g.variant, err)
	}

	out := make([]frames.Scored, len(images))
	for i, c := range images {
		out[i] = frames.Scored{Candidate: c, Score: scores[i]}
	}
	log.Debug().Dur("elapsed", elapsed).Int("images", len(images)).Msg("Gemini batch scored")
	return out, nil
}

// record adds one API call to the request recorder. The recorder is shared
// by every call of a request, so latency is kept as a running total next
// to the slowest single call.
func (g *Gemini) record(elapsed time.Duration, resp *genai.GenerateContentResponse, err error) {
	if g.rec == nil {
		return
	}
	ms := float64(elapsed.Milliseconds())
	g.rec.Add("GeminiApiLatencyTotalMs", ms, metrics.UnitMilliseconds).
		Max("GeminiApiLatencyMaxMs", ms, metrics.UnitMilliseconds).
		Count("GeminiApiCalls")
	if err != nil {
		g.rec.Count("GeminiApiErrors")
	}
	if resp != nil && resp.UsageMetadata != nil {
		g.rec.Add("GeminiInputTokens", float64(resp.UsageMetadata.PromptTokenCount), metrics.UnitCount)
		g.rec.Add("GeminiOutputTokens", float64(resp.UsageMetadata.CandidatesTokenCount), metrics.UnitCount)
	}
}
