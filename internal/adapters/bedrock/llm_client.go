package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

	"github.com/mailpilot/triage-engine/internal/core"
	"github.com/mailpilot/triage-engine/internal/utils"
)

// BedrockClient is an implementation of the SemanticClassifier interface using Amazon Bedrock
type BedrockClient struct {
	client        *bedrockruntime.Client
	modelID       string
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

// NewBedrockClient creates a new Bedrock client
func NewBedrockClient(
	client *bedrockruntime.Client,
	modelID string,
	maxTokens int,
	temperature float32,
	topP float32,
	maxBodySize int,
	textProcessor *utils.TextProcessor,
	logger *zap.Logger,
) *BedrockClient {
	return &BedrockClient{
		client:        client,
		modelID:       modelID,
		maxTokens:     maxTokens,
		temperature:   temperature,
		topP:          topP,
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
	}
}

// isAnthropicModel checks if the model is an Anthropic Claude model
func (c *BedrockClient) isAnthropicModel() bool {
	return strings.Contains(c.modelID, "anthropic")
}

// isAmazonTitanModel checks if the model is an Amazon Titan model
func (c *BedrockClient) isAmazonTitanModel() bool {
	return strings.Contains(c.modelID, "titan")
}

// Classify asks the model for a triage verdict on an ambiguous conversation
func (c *BedrockClient) Classify(ctx context.Context, req *core.SemanticRequest) (*core.SemanticResult, error) {
	previews := formatPreviews(req.Previews, c.textProcessor, c.maxBodySize)
	prompt := fmt.Sprintf(c.promptFormat, req.RuleScore, string(req.RuleCategory), req.Subject, previews)

	// Build the request body for the model family in use
	var payload []byte
	var err error

	if c.isAnthropicModel() {
		payload, err = json.Marshal(map[string]interface{}{
			"prompt":               prompt,
			"max_tokens_to_sample": c.maxTokens,
			"temperature":          c.temperature,
			"top_p":                c.topP,
		})
	} else if c.isAmazonTitanModel() {
		payload, err = json.Marshal(map[string]interface{}{
			"inputText": prompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": c.maxTokens,
				"temperature":   c.temperature,
				"topP":          c.topP,
			},
		})
	} else {
		payload, err = json.Marshal(map[string]interface{}{
			"prompt":      prompt,
			"max_tokens":  c.maxTokens,
			"temperature": c.temperature,
			"top_p":       c.topP,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	resp, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &c.modelID,
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invoke Bedrock model: %w", err)
	}

	responseText, err := c.extractResponseText(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed classificationResponse
	if err := parseModelJSON(responseText, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse Bedrock response: %w", err)
	}

	result := toSemanticResult(&parsed)
	result.ModelUsed = c.modelID
	return result, nil
}

// extractResponseText pulls the generated text out of the family-specific
// response envelope.
func (c *BedrockClient) extractResponseText(body []byte) (string, error) {
	if c.isAnthropicModel() {
		var claudeResp struct {
			Completion string `json:"completion"`
		}
		if err := json.Unmarshal(body, &claudeResp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Claude response: %w", err)
		}
		return claudeResp.Completion, nil
	}

	if c.isAmazonTitanModel() {
		var titanResp struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &titanResp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Titan response: %w", err)
		}
		if len(titanResp.Results) == 0 {
			return "", fmt.Errorf("empty response from Titan model")
		}
		return titanResp.Results[0].OutputText, nil
	}

	var genericResp struct {
		Output   string `json:"output"`
		Text     string `json:"text"`
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &genericResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal generic response: %w", err)
	}
	switch {
	case genericResp.Output != "":
		return genericResp.Output, nil
	case genericResp.Text != "":
		return genericResp.Text, nil
	case genericResp.Response != "":
		return genericResp.Response, nil
	default:
		return string(body), nil
	}
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
