package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mailpilot/triage-engine/internal/core"
	"github.com/mailpilot/triage-engine/internal/utils"
)

// OpenAIClient is an implementation of the SemanticClassifier interface using OpenAI
type OpenAIClient struct {
	client        *openai.Client
	modelName     string
	maxTokens     int
	temperature   float32
	topP          float32
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

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(
	apiKey string,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	textProcessor *utils.TextProcessor,
	logger *zap.Logger,
) *OpenAIClient {
	client := openai.NewClient(apiKey)

	return &OpenAIClient{
		client:        client,
		modelName:     modelName,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
		maxBodySize:   maxBodySize,
		logger:        logger,
		textProcessor: textProcessor,
		promptFormat:  promptFormat,
	}
}

const promptFormat = `You are a customer support triage system. Classify the following email conversation.
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

Respond only with the JSON object and nothing else.`

// Classify asks the model for a triage verdict on an ambiguous conversation
func (c *OpenAIClient) Classify(ctx context.Context, req *core.SemanticRequest) (*core.SemanticResult, error) {
	prompt := fmt.Sprintf(c.promptFormat,
		req.RuleScore, string(req.RuleCategory), req.Subject,
		formatPreviews(req.Previews, c.textProcessor, c.maxBodySize))

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a customer support triage system. Respond only with JSON.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: "json",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from OpenAI")
	}

	var parsed classificationResponse
	if err := parseModelJSON(resp.Choices[0].Message.Content, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse OpenAI response: %w", err)
	}

	result := toSemanticResult(&parsed)
	result.ModelUsed = c.modelName
	return result, nil
}

// formatPreviews renders the recent messages block of the prompt, truncating
// each preview to the configured body limit.
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

// parseModelJSON strips any markdown code fence and salvages the outermost
// JSON object from the model's text.
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

// toSemanticResult normalizes the raw response: unknown categories fall back
// to general enquiry, scores and confidence are clamped to their ranges.
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
