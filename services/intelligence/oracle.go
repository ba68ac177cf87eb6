package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tably/models"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiOracle asks a Gemini model for a demand multiplier. The pricing
// engine owns timeout and confidence fallback; this adapter only translates.
type GeminiOracle struct {
	model *genai.GenerativeModel
}

// NewGeminiOracle builds the oracle client.
func NewGeminiOracle(apiKey string) (*GeminiOracle, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := client.GenerativeModel("models/gemini-1.5-flash")
	return &GeminiOracle{model: model}, nil
}

type oracleAnswer struct {
	Multiplier float64 `json:"multiplier"`
	Confidence float64 `json:"confidence"`
}

// SuggestMultiplier implements pricing.MultiplierOracle.
func (g *GeminiOracle) SuggestMultiplier(ctx context.Context, pctx models.PricingContext) (float64, float64, error) {
	prompt := fmt.Sprintf(
		`You price hospitality bookings. Venue type: %s. Booking time: %s. Party size: %d. Guest tier: %q. Demand level: %q. `+
			`Respond with JSON only: {"multiplier": <0.5-3.0>, "confidence": <0-1>}`,
		pctx.VenueType, pctx.BookingTime.Format("Mon 15:04"), pctx.PartySize, pctx.GuestTier, pctx.DemandLevel)

	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return 0, 0, fmt.Errorf("gemini generate error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return 0, 0, fmt.Errorf("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if textPart, ok := part.(genai.Text); ok {
			sb.WriteString(string(textPart))
		}
	}

	text := strings.TrimSpace(sb.String())
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var answer oracleAnswer
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &answer); err != nil {
		return 0, 0, fmt.Errorf("gemini answer not parseable: %w", err)
	}
	return answer.Multiplier, answer.Confidence, nil
}
