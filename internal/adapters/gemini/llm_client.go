package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/mailpilot/triage-engine/internal/core"
	"github.com/mailpilot/triage-engine/internal/utils"
)

// GeminiClient is an implementation of the SemanticClassifier interface using Google Gemini
type GeminiClient struct {
	client        *genai.Client
	model         *genai.GenerativeModel
	modelName     string
	maxBodySize   int
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
	promptFormat  string
}

// classificationResponse represents the structured response from the LLM
type classificationResponse struct {
	Category            string  `json:"category"`
	PriorityScore       float64 `json:"priority_score"`
	Sentiment           string  `json:"sentiment"`
	RequiresHumanReview bool    `json:"requires_human_review"`
	Confidence          float64 `json:"confidence"`
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	textProcessor *utils.TextProcessor,
	logger *zap.Logger,
) (*GeminiClient, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetMaxOutputTokens(int32(maxTokens))
	model.SetTemperature(temperature)
	model.SetTopP(topP)

	return &GeminiClient{
		client:        client,
		model:         model,
		modelName:     modelName,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
		promptFormat: `You are a customer support triage system. Classify the following email conversation.
Respond with a JSON object containing:
- category: one of refund_cancellation, order_issue, delivery_deadline, product_question, technical_help, faq_shipping, faq_returns, general_enquiry
- priority_score: number between 0 and 100 (higher means more urgent)
- sentiment: one of positive, neutral, negative
- requires_human_review: boolean (true if a human should look at this)
- confidence: number between 0 and 1 (how confident you are)

A rule-based pre-classifier scored this conversation %.0f/100 and guessed category %q.

Subject: %s
Recent messages:
%s

Respond only with the JSON object and nothing else.`,
	}, nil
}

// Classify asks the model for a triage verdict on an ambiguous conversation
func (c *GeminiClient) Classify(ctx context.Context, req *core.SemanticRequest) (*core.SemanticResult, error) {
	previews := formatPreviews(req.Previews, c.textProcessor, c.maxBodySize)
	prompt := fmt.Sprintf(c.promptFormat, req.RuleScore, string(req.RuleCategory), req.Subject, previews)

	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content with Gemini: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("empty response from Gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	var parsed classificationResponse
	if err := parseModelJSON(responseText.String(), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse Gemini response: %w", err)
	}

	result := toSemanticResult(&parsed)
	result.ModelUsed = c.modelName
	return result, nil
}

// Close releases the underlying API client.
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

func formatPreviews(previews []core.MessagePreview, tp *utils.TextProcessor, maxBodySize int) string {
	if len(previews) == 0 {
		return "(no message previews available)"
	}
	var b strings.Builder
	for _, p := range previews {
		fmt.Fprintf(&b, "- from %s at %s: %s\n",
			p.From, p.SentAt.Format("2006-01-02 15:04"),
			tp.ProcessText(p.Preview, maxBodySize))
	}
	return b.String()
}

func parseModelJSON(text string, out *classificationResponse) error {
	text = stripCodeFence(text)
	if err := json.Unmarshal([]byte(text), out); err == nil {
		return nil
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in model response")
	}
	return json.Unmarshal([]byte(text[start:end+1]), out)
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func toSemanticResult(parsed *classificationResponse) *core.SemanticResult {
	result := &core.SemanticResult{
		Category:            normalizeCategory(parsed.Category),
		PriorityScore:       core.ClipScore(parsed.PriorityScore),
		Sentiment:           normalizeSentiment(parsed.Sentiment),
		RequiresHumanReview: parsed.RequiresHumanReview,
		Confidence:          parsed.Confidence,
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return result
}

func normalizeCategory(s string) core.IntentCategory {
	category := core.IntentCategory(strings.ToLower(strings.TrimSpace(s)))
	switch category {
	case core.IntentRefundCancellation, core.IntentOrderIssue,
		core.IntentDeliveryDeadline, core.IntentProductQuestion,
		core.IntentTechnicalHelp, core.IntentFAQShipping,
		core.IntentFAQReturns, core.IntentGeneralEnquiry:
		return category
	default:
		return core.IntentGeneralEnquiry
	}
}

func normalizeSentiment(s string) core.SemanticSentiment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive":
		return core.SemanticPositive
	case "negative":
		return core.SemanticNegative
	default:
		return core.SemanticNeutral
	}
}
